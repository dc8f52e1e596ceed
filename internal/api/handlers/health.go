package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/frostdev-ops/pma-rules/pkg/version"
	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// Health returns the health status of the service. The engine not running
// makes the service unhealthy; a disconnected transport only degrades it.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.engine.Statistics()
	build := version.Get()

	status := "healthy"
	code := http.StatusOK
	if !stats.Running {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	health := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   build.Service,
		"version":   build.Version,
		"build":     build,
		"uptime":    time.Since(startedAt).Round(time.Second).String(),
		"engine":    stats,
		"rules": gin.H{
			"version":     h.store.Version(),
			"scenes":      len(h.store.Snapshot().Scenes),
			"automations": len(h.store.Snapshot().Automations),
		},
	}

	if h.transport != nil {
		transport := h.transport.Status()
		health["transport"] = transport
		if connected, ok := transport["connected"].(bool); ok && !connected && status == "healthy" {
			health["status"] = "degraded"
		}
	} else {
		health["transport"] = gin.H{"mode": "dry_run"}
	}

	if h.wsHub != nil {
		health["websocket"] = h.wsHub.GetStats()
	}

	utils.SendSuccessWithStatus(c, code, health)
}
