package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/autosave"
	"github.com/yourorg/portfolio-cms/internal/model"
	"github.com/yourorg/portfolio-cms/internal/netwatch"
)

// AutoSaveHandler exposes the auto-save manager to the editor
type AutoSaveHandler struct {
	manager *autosave.Manager
	monitor *netwatch.Monitor
	logger  *zap.Logger
}

// NewAutoSaveHandler creates a new auto-save handler
func NewAutoSaveHandler(manager *autosave.Manager, monitor *netwatch.Monitor, logger *zap.Logger) *AutoSaveHandler {
	return &AutoSaveHandler{manager: manager, monitor: monitor, logger: logger}
}

// Save records new editor content
// POST /api/v1/autosave
func (h *AutoSaveHandler) Save(c *gin.Context) {
	var req model.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	h.manager.Save(req.Content, req.ProjectID, autosave.SaveOptions{
		Immediate:    req.Immediate,
		SkipDebounce: req.SkipDebounce,
		RetryOnError: req.RetryOnError,
	})

	c.JSON(http.StatusAccepted, h.manager.Status())
}

// Force persists the latest content now
// POST /api/v1/autosave/force
func (h *AutoSaveHandler) Force(c *gin.Context) {
	if err := h.manager.ForceSave(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, autosave.ErrOffline):
			status = http.StatusServiceUnavailable
		case errors.Is(err, autosave.ErrNoSaveCallback), errors.Is(err, autosave.ErrStopped):
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error(), "status": h.manager.Status()})
		return
	}

	c.JSON(http.StatusOK, h.manager.Status())
}

// Status returns the current save status
// GET /api/v1/autosave/status
func (h *AutoSaveHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

// Backup returns the shadow copy of a project
// GET /api/v1/autosave/backup?project_id=
func (h *AutoSaveHandler) Backup(c *gin.Context) {
	data := h.manager.LoadFromLocalStorage(c.Query("project_id"))
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No backup"})
		return
	}
	c.JSON(http.StatusOK, data)
}

// ClearBackup empties the shadow copy of a project
// DELETE /api/v1/autosave/backup?project_id=
func (h *AutoSaveHandler) ClearBackup(c *gin.Context) {
	h.manager.ClearLocalStorage(c.Query("project_id"))
	c.Status(http.StatusNoContent)
}

// Network lets the editor report its connectivity
// POST /api/v1/autosave/network
func (h *AutoSaveHandler) Network(c *gin.Context) {
	var req model.NetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "online is required"})
		return
	}

	h.monitor.Set(*req.Online)
	c.JSON(http.StatusOK, h.manager.Status())
}

// Unload tells the editor whether leaving would lose changes
// GET /api/v1/autosave/unload
func (h *AutoSaveHandler) Unload(c *gin.Context) {
	message, block := h.manager.BeforeUnload()
	c.JSON(http.StatusOK, gin.H{"block": block, "message": message})
}
