// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/noahflow/agent/internal/intake"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Queue   *intake.Queue
	Runs    RunStore
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Queue   QueueHandler
	Preview PreviewHandler
	Runs    RunsHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version),
		Queue:   NewQueueHandler(deps.Queue),
		Preview: NewPreviewHandler(),
		Runs:    NewRunsHandler(deps.Runs),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)
	e.GET("/api/health", handlers.Health.HandleHealth)

	queueGroup := e.Group("/api/queue")
	queueGroup.GET("", handlers.Queue.HandleGetQueue)
	queueGroup.GET("/msgpack", handlers.Queue.HandleGetQueueMsgpack)
	queueGroup.POST("/clear-history", handlers.Queue.HandleClearHistory)

	e.POST("/api/preview", handlers.Preview.HandlePreview)
	e.GET("/api/runs", handlers.Runs.HandleGetRuns)
	e.GET("/api/runs/:id", handlers.Runs.HandleGetRun)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
	e.HideBanner = true
}
