package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-rules/internal/websocket"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler handles WebSocket connections
func (h *Handlers) WebSocketHandler(allowedOrigins []string) gin.HandlerFunc {
	return websocket.HandleWebSocketGin(h.wsHub, websocket.AllowOrigins(allowedOrigins))
}

// GetWebSocketStats returns WebSocket statistics
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	if h.wsHub == nil {
		utils.SendError(c, http.StatusServiceUnavailable, "WebSocket hub is disabled")
		return
	}
	utils.SendSuccess(c, h.wsHub.GetStats())
}

// Metrics serves the Prometheus registry
func (h *Handlers) Metrics() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler())
}
