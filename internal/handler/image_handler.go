package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/imaging"
	"github.com/yourorg/portfolio-cms/internal/model"
)

// ImageHandler exposes the image optimization cache
type ImageHandler struct {
	cache  *imaging.Cache
	logger *zap.Logger
}

// NewImageHandler creates a new image handler
func NewImageHandler(cache *imaging.Cache, logger *zap.Logger) *ImageHandler {
	return &ImageHandler{cache: cache, logger: logger}
}

type thumbnailRequest struct {
	MaxWidth  int `form:"max_width" binding:"omitempty,gt=0,lte=1920"`
	MaxHeight int `form:"max_height" binding:"omitempty,gt=0,lte=1920"`
}

type preloadRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// Optimize returns a handle to an optimized copy of the uploaded image
// POST /api/v1/images/optimize
func (h *ImageHandler) Optimize(c *gin.Context) {
	files, err := formFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts model.OptimizeOptions
	if err := c.ShouldBind(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid optimization options"})
		return
	}

	url := h.cache.OptimizeImage(c.Request.Context(), files[0], imaging.Options{
		MaxWidth:  opts.MaxWidth,
		MaxHeight: opts.MaxHeight,
		Quality:   opts.Quality,
		Format:    opts.Format,
	})

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Thumbnail returns a handle to a small JPEG preview of an image or a video
// POST /api/v1/images/thumbnail
func (h *ImageHandler) Thumbnail(c *gin.Context) {
	files, err := formFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req thumbnailRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid thumbnail size"})
		return
	}

	url, err := h.cache.GenerateThumbnail(c.Request.Context(), files[0], req.MaxWidth, req.MaxHeight)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedThumbnail) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Échec de la génération de la miniature"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Release revokes a handle returned by Optimize
// DELETE /api/v1/images/handles/:id
func (h *ImageHandler) Release(c *gin.Context) {
	if !h.cache.Release(handle.Prefix + c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Handle not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Preload fetches a remote image into the cache
// POST /api/v1/images/preload
func (h *ImageHandler) Preload(c *gin.Context) {
	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid url is required"})
		return
	}

	if err := h.cache.PreloadImage(c.Request.Context(), req.URL); err != nil {
		h.logger.Warn("Failed to preload image", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Stats returns the image cache statistics
// GET /api/v1/images/stats
func (h *ImageHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// ClearCache empties the image cache and revokes its handles
// DELETE /api/v1/images/cache
func (h *ImageHandler) ClearCache(c *gin.Context) {
	h.cache.ClearCache()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// BlobHandler serves the data behind live handles
type BlobHandler struct {
	handles *handle.Registry
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(handles *handle.Registry) *BlobHandler {
	return &BlobHandler{handles: handles}
}

// Get streams a live handle; revoked handles are gone for good
// GET /blob/:id
func (h *BlobHandler) Get(c *gin.Context) {
	data, contentType, err := h.handles.Resolve(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "Handle revoked"})
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, data)
}
