package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/noahflow/agent/internal/models"
)

type runsHandler struct {
	store RunStore
}

// NewRunsHandler creates the runs handler.
func NewRunsHandler(store RunStore) RunsHandler {
	return &runsHandler{store: store}
}

// HandleGetRuns returns recent automation runs, newest first. The limit
// query parameter caps the result (default 50).
func (h *runsHandler) HandleGetRuns(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return NewBadRequestError("limit must be a positive integer", err)
		}
		limit = parsed
	}

	records, err := h.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to load run history", err)
	}
	if records == nil {
		records = []models.RunRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"runs":  records,
		"count": len(records),
	})
}

// HandleGetRun returns a single run by its ID.
func (h *runsHandler) HandleGetRun(c echo.Context) error {
	id := c.Param("id")
	rec, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return NewInternalError("failed to load run", err)
	}
	if rec == nil {
		return NewNotFoundError("run", id)
	}
	return c.JSON(http.StatusOK, rec)
}
