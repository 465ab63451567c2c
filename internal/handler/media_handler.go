package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/media"
	"github.com/yourorg/portfolio-cms/internal/model"
	"github.com/yourorg/portfolio-cms/internal/validator"
)

// MediaHandler handles media-related HTTP requests
type MediaHandler struct {
	manager *media.Manager
	logger  *zap.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(manager *media.Manager, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		manager: manager,
		logger:  logger,
	}
}

// Upload handles single and batch uploads
// POST /api/v1/media/upload
func (h *MediaHandler) Upload(c *gin.Context) {
	files, err := formFiles(c)
	if err != nil {
		h.logger.Warn("Failed to read uploaded files", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req model.UploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("Failed to bind request parameters", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	opts := model.UploadOptions{
		Compress:  req.Compress,
		Quality:   req.Quality,
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
		ProjectID: req.ProjectID,
	}

	ctx := requestContext(c)

	if len(files) == 1 {
		mf, err := h.manager.UploadFile(ctx, files[0], opts, nil)
		if err != nil {
			h.logger.Error("Failed to upload file", zap.String("file", files[0].Name), zap.Error(err))
			c.JSON(uploadStatus(err), gin.H{"error": fmt.Sprintf("Failed to upload file: %v", err)})
			return
		}

		c.JSON(http.StatusOK, model.UploadResponse{
			Success: true,
			Message: "File uploaded successfully",
			Media:   []model.MediaFile{*mf},
		})
		return
	}

	uploaded, failures := h.manager.UploadFiles(ctx, files, opts, nil)

	resp := model.UploadResponse{
		Success: len(uploaded) > 0,
		Message: fmt.Sprintf("%d of %d files uploaded", len(uploaded), len(files)),
		Media:   make([]model.MediaFile, 0, len(uploaded)),
	}
	for _, mf := range uploaded {
		resp.Media = append(resp.Media, *mf)
	}
	for _, f := range failures {
		resp.Failed = append(resp.Failed, model.FailedUpload{Index: f.Index, FileName: f.Name, Error: f.Err.Error()})
	}

	status := http.StatusOK
	if len(uploaded) == 0 {
		status = uploadStatus(failures[0].Err)
	}
	c.JSON(status, resp)
}

// uploadStatus maps an upload error to an HTTP status
func uploadStatus(err error) int {
	var verr *validator.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, media.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validate checks files against the upload limits without uploading them
// POST /api/v1/media/validate
func (h *MediaHandler) Validate(c *gin.Context) {
	files, err := formFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]gin.H, 0, len(files))
	for _, f := range files {
		res := h.manager.ValidateFile(f)
		results = append(results, gin.H{
			"file_name": f.Name,
			"isValid":   res.IsValid,
			"error":     res.Error,
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Get returns a cached media record
// GET /api/v1/media/:id
func (h *MediaHandler) Get(c *gin.Context) {
	mf, ok := h.manager.GetFromCache(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.JSON(http.StatusOK, mf)
}

// Delete drops a cached media record and revokes its URL. With remote=true
// the stored asset is deleted too.
// DELETE /api/v1/media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if c.Query("remote") == "true" {
		if err := h.manager.DeleteMedia(requestContext(c), id); err != nil {
			if errors.Is(err, media.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
				return
			}
			h.logger.Error("Failed to delete file", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Failed to delete file: %v", err)})
			return
		}
	} else if !h.manager.RemoveFromCache(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "File deleted successfully",
	})
}

// Stats returns the media cache statistics
// GET /api/v1/media/stats
func (h *MediaHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetCacheStats())
}

// ProjectFiles lists the cached records of a project, oldest first
// GET /api/v1/media/projects/:projectId
func (h *MediaHandler) ProjectFiles(c *gin.Context) {
	files := h.manager.GetProjectFiles(c.Param("projectId"))

	records := make([]model.MediaFile, 0, len(files))
	for _, mf := range files {
		records = append(records, *mf)
	}

	c.JSON(http.StatusOK, gin.H{"media": records})
}

// ClearCache drops the cached records of one project, or all of them
// DELETE /api/v1/media/cache?project_id=
func (h *MediaHandler) ClearCache(c *gin.Context) {
	removed := h.manager.ClearCache(c.Query("project_id"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
