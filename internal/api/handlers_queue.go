package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/noahflow/agent/internal/intake"
	"github.com/noahflow/agent/internal/models"
)

type queueHandler struct {
	queue *intake.Queue
}

// NewQueueHandler creates the queue handler.
func NewQueueHandler(queue *intake.Queue) QueueHandler {
	return &queueHandler{queue: queue}
}

type queueResponse struct {
	Entries []models.QueueEntry `json:"entries" msgpack:"entries"`
	Count   int                 `json:"count" msgpack:"count"`
}

// HandleGetQueue returns the current queue entries in detection order.
func (h *queueHandler) HandleGetQueue(c echo.Context) error {
	entries := h.queue.Snapshot()
	return c.JSON(http.StatusOK, queueResponse{Entries: entries, Count: len(entries)})
}

// HandleGetQueueMsgpack returns the same snapshot msgpack-encoded for the
// operator UI's polling loop.
func (h *queueHandler) HandleGetQueueMsgpack(c echo.Context) error {
	entries := h.queue.Snapshot()
	data, err := msgpack.Marshal(queueResponse{Entries: entries, Count: len(entries)})
	if err != nil {
		return NewInternalError("failed to encode queue", err)
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}

// HandleClearHistory forgets completed runs for a path or file name so
// the file can be submitted again.
func (h *queueHandler) HandleClearHistory(c echo.Context) error {
	var req struct {
		Target string `json:"target"`
	}
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Target == "" {
		return NewBadRequestError("target is required", nil)
	}

	cleared := h.queue.ClearHistory(req.Target)
	return c.JSON(http.StatusOK, map[string]int{"cleared": cleared})
}
