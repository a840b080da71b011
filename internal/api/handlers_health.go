package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type healthHandler struct {
	version string
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(version string) HealthHandler {
	return &healthHandler{version: version}
}

// HandleHealth returns agent health status.
func (h *healthHandler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
