package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noahflow/agent/internal/models"
	"github.com/noahflow/agent/internal/noah"
)

type previewHandler struct{}

// NewPreviewHandler creates the preview handler.
func NewPreviewHandler() PreviewHandler {
	return &previewHandler{}
}

type previewResponse struct {
	Overview *models.SessionOverview `json:"overview"`
	Sessions []*models.Session       `json:"sessions"`
}

// HandlePreview parses an uploaded export and returns the extracted
// sessions without submitting anything. The operator UI uses this to
// show what a file contains before it is queued.
func (h *previewHandler) HandlePreview(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("missing file upload", err)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return NewBadRequestError("failed to open upload", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return NewInternalError("failed to read upload", err)
	}

	sessions, err := noah.ExtractSessions(raw)
	if err != nil {
		var parseErr *noah.ParseError
		if errors.As(err, &parseErr) {
			return NewUnprocessableError("export contains no usable audiology data", err)
		}
		return NewInternalError("failed to parse export", err)
	}

	overview, err := noah.Overview(raw)
	if err != nil {
		return NewInternalError("failed to summarize export", err)
	}
	return c.JSON(http.StatusOK, previewResponse{Overview: overview, Sessions: sessions})
}
