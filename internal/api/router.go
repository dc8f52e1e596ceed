package api

import (
	"github.com/frostdev-ops/pma-rules/internal/api/handlers"
	"github.com/frostdev-ops/pma-rules/internal/api/middleware"
	"github.com/frostdev-ops/pma-rules/internal/config"
	"github.com/frostdev-ops/pma-rules/pkg/logger"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, deps handlers.Dependencies, log *logger.BatchLogger) *gin.Engine {
	// Set gin mode based on config
	switch cfg.Server.Mode {
	case "debug", "development":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ErrorHandlingMiddleware(log.Logger))
	router.Use(middleware.LoggingMiddleware(log))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security))
	}
	if deps.Metrics != nil {
		router.Use(middleware.MetricsMiddleware(deps.Metrics))
	}
	// innermost, so logging and metrics see the status it writes
	router.Use(middleware.ErrorResponseMiddleware(log.Logger))

	h := handlers.NewHandlers(deps, log.Logger)

	// Public routes
	router.GET("/health", h.Health)
	if cfg.Monitoring.Enabled && deps.Metrics != nil {
		path := cfg.Monitoring.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, h.Metrics())
	}
	if cfg.WebSocket.Enabled && deps.Hub != nil {
		router.GET("/ws", h.WebSocketHandler(cfg.Security.AllowedOrigins))
	}

	// API v1 routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.Health)

		scenes := api.Group("/scenes")
		{
			scenes.GET("", h.GetScenes)
			scenes.POST("", h.CreateScene)
			scenes.GET("/:id", h.GetScene)
			scenes.PATCH("/:id", h.UpdateScene)
			scenes.PUT("/:id/actions", h.ReplaceSceneActions)
			scenes.DELETE("/:id", h.DeleteScene)
			scenes.POST("/:id/activate", h.ActivateScene)
			scenes.POST("/:id/deactivate", h.DeactivateScene)
		}

		automations := api.Group("/automations")
		{
			automations.GET("", h.GetAutomations)
			automations.POST("", h.CreateAutomation)
			automations.GET("/:id", h.GetAutomation)
			automations.PATCH("/:id", h.UpdateAutomation)
			automations.DELETE("/:id", h.DeleteAutomation)
			automations.POST("/:id/toggle", h.ToggleAutomation)
			automations.POST("/:id/run", h.RunAutomation)
		}

		entities := api.Group("/entities")
		{
			entities.GET("", h.GetEntities)
			entities.GET("/:id", h.GetEntity)
			entities.PUT("/:id/state", h.UpdateEntityState)
		}

		api.GET("/presence", h.GetPresence)
		api.PUT("/presence", h.SetPresence)

		events := api.Group("/events")
		{
			events.POST("/clock", h.PostClockEvent)
			events.POST("/solar", h.PostSolarEvent)
		}

		api.GET("/rules/export", h.ExportRules)
		api.GET("/websocket/stats", h.GetWebSocketStats)
	}

	return router
}
