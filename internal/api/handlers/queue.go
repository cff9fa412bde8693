package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vgrab/vgrab/internal/models"
)

// SnapshotSource is the queue's read-only aggregate view.
type SnapshotSource interface {
	Snapshot() models.QueueSnapshot
}

type QueueHandler struct {
	queue SnapshotSource
}

func NewQueueHandler(queue SnapshotSource) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Status exposes queue depth, in-flight count and terminal counters for
// operators. Chat ids appear only as opaque numbers.
func (h *QueueHandler) Status(c *gin.Context) {
	snap := h.queue.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().Format(time.RFC3339),
		"queue":     snap,
	})
}
