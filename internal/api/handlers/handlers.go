package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	"github.com/frostdev-ops/pma-rules/internal/core/entities"
	"github.com/frostdev-ops/pma-rules/internal/core/metrics"
	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/internal/websocket"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatusReporter reports the health of an optional subsystem
type StatusReporter interface {
	Status() map[string]interface{}
}

// Dependencies are the services the handlers operate on
type Dependencies struct {
	Store    *rules.Store
	Engine   *automation.Engine
	Entities *entities.Service
	Hub      *websocket.Hub
	Metrics  *metrics.Collector
	// Transport reports the device transport status; nil in dry-run mode
	Transport StatusReporter
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	store     *rules.Store
	engine    *automation.Engine
	entities  *entities.Service
	wsHub     *websocket.Hub
	metrics   *metrics.Collector
	transport StatusReporter
	log       *logrus.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies, logger *logrus.Logger) *Handlers {
	return &Handlers{
		store:     deps.Store,
		engine:    deps.Engine,
		entities:  deps.Entities,
		wsHub:     deps.Hub,
		metrics:   deps.Metrics,
		transport: deps.Transport,
		log:       logger,
	}
}

// respond sends data after a rule mutation. A persistence failure still
// means the change was applied, so it is reported as a warning.
func (h *Handlers) respond(c *gin.Context, status int, data interface{}, err error) {
	if err == nil {
		utils.SendSuccessWithStatus(c, status, data)
		return
	}
	if rules.IsPersistenceWarning(err) {
		h.log.WithError(err).WithField("path", c.FullPath()).Warn("Responding with persistence warning")
		utils.SendSuccessWithWarnings(c, status, data, []string{err.Error()})
		return
	}
	_ = c.Error(err)
}

func (h *Handlers) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.log.WithError(err).Debug("Failed to parse request body")
		if rules.IsValidation(err) {
			_ = c.Error(err)
		} else {
			utils.SendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
		return false
	}
	return true
}
