// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/noahflow/agent/internal/models"
)

// HealthHandler reports agent liveness
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// QueueHandler exposes the intake queue to the operator UI
type QueueHandler interface {
	HandleGetQueue(c echo.Context) error
	HandleGetQueueMsgpack(c echo.Context) error
	HandleClearHistory(c echo.Context) error
}

// PreviewHandler parses an uploaded export without submitting it
type PreviewHandler interface {
	HandlePreview(c echo.Context) error
}

// RunsHandler exposes the audit trail of finished runs
type RunsHandler interface {
	HandleGetRuns(c echo.Context) error
	HandleGetRun(c echo.Context) error
}

// RunStore is the audit-trail read surface the API needs.
type RunStore interface {
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)
	Get(ctx context.Context, id string) (*models.RunRecord, error)
}
