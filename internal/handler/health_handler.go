package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/netwatch"
)

// HealthHandler reports liveness and backend reachability
type HealthHandler struct {
	monitor *netwatch.Monitor
	handles *handle.Registry
	kafka   bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(monitor *netwatch.Monitor, handles *handle.Registry, kafka bool) *HealthHandler {
	return &HealthHandler{monitor: monitor, handles: handles, kafka: kafka}
}

// Health always answers 200; a CMS that cannot be reached degrades the status
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := "healthy"
	online := h.monitor.Online()
	if !online {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"cms_online":   online,
		"live_handles": h.handles.Len(),
		"handle_bytes": h.handles.Bytes(),
		"kafka":        h.kafka,
	})
}
