package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/autosave"
	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/events"
	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/imaging"
	"github.com/yourorg/portfolio-cms/internal/media"
	"github.com/yourorg/portfolio-cms/internal/model"
	"github.com/yourorg/portfolio-cms/internal/netwatch"
	"github.com/yourorg/portfolio-cms/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type part struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, fields map[string][]string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		fw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	for k, values := range fields {
		for _, v := range values {
			require.NoError(t, w.WriteField(k, v))
		}
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func do(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Upload = config.UploadConfig{
		ImageTypes:   []string{"image/jpeg", "image/png"},
		VideoTypes:   []string{"video/mp4"},
		MaxImageSize: 1 << 20,
		MaxVideoSize: 1024,
	}
	cfg.Compression = config.CompressionConfig{
		MaxWidth:         1920,
		MaxHeight:        1080,
		Quality:          0.8,
		Format:           "jpeg",
		MaxPixels:        4_000_000,
		ThumbnailWidth:   200,
		ThumbnailHeight:  200,
		ThumbnailQuality: 0.7,
	}
	cfg.Cache = config.CacheConfig{MaxSizeBytes: 1 << 20, MaxAge: time.Hour, HighWaterRatio: 0.8, MaxEntries: 16}
	return cfg
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mediaRouter(t *testing.T) (*gin.Engine, *handle.Registry) {
	t.Helper()
	cfg := testConfig()
	handles := handle.NewRegistry()
	manager := media.NewManager(cfg,
		imaging.NewImageCompressor(cfg.Compression),
		storage.NewSimulatedUploader(2, 0),
		handles,
		events.NopPublisher{},
		zap.NewNop())
	t.Cleanup(manager.Close)

	h := NewMediaHandler(manager, zap.NewNop())
	r := gin.New()
	api := r.Group("/api/v1/media")
	api.POST("/upload", h.Upload)
	api.POST("/validate", h.Validate)
	api.GET("/stats", h.Stats)
	api.GET("/projects/:projectId", h.ProjectFiles)
	api.DELETE("/cache", h.ClearCache)
	api.GET("/:id", h.Get)
	api.DELETE("/:id", h.Delete)
	r.GET("/blob/:id", NewBlobHandler(handles).Get)
	return r, handles
}

func TestMediaHandler_UploadLifecycle(t *testing.T) {
	r, _ := mediaRouter(t)

	body, ct := multipartBody(t,
		map[string][]string{"project_id": {"p1"}, "last_modified": {"1700000000000"}},
		part{"file", "clip.mp4", "video/mp4", make([]byte, 512)})
	w := do(r, http.MethodPost, "/api/v1/media/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.UploadResponse
	decode(t, w, &resp)
	require.Len(t, resp.Media, 1)
	mf := resp.Media[0]
	assert.Equal(t, "p1", mf.ProjectID)
	assert.Equal(t, model.MediaTypeVideo, mf.Type)
	assert.Contains(t, mf.URL, handle.Prefix)

	w = do(r, http.MethodGet, "/blob/"+handle.ID(mf.URL), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Body.Bytes(), 512)

	w = do(r, http.MethodGet, "/api/v1/media/"+mf.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/media/projects/p1", nil, "")
	var listed struct {
		Media []model.MediaFile `json:"media"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Media, 1)

	w = do(r, http.MethodGet, "/api/v1/media/stats", nil, "")
	var stats model.MediaCacheStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.VideoCount)

	w = do(r, http.MethodDelete, "/api/v1/media/"+mf.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, "/api/v1/media/"+mf.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/blob/"+handle.ID(mf.URL), nil, "")
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestMediaHandler_UploadRejectsInvalidFile(t *testing.T) {
	r, _ := mediaRouter(t)

	body, ct := multipartBody(t, nil, part{"file", "big.mp4", "video/mp4", make([]byte, 2048)})
	w := do(r, http.MethodPost, "/api/v1/media/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/media/upload", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMediaHandler_BatchPartialSuccess(t *testing.T) {
	r, _ := mediaRouter(t)

	body, ct := multipartBody(t, nil,
		part{"files", "a.mp4", "video/mp4", make([]byte, 100)},
		part{"files", "doc.pdf", "application/pdf", make([]byte, 100)},
		part{"files", "b.mp4", "video/mp4", make([]byte, 200)})
	w := do(r, http.MethodPost, "/api/v1/media/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.UploadResponse
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Media, 2)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, 1, resp.Failed[0].Index)
	assert.Equal(t, "doc.pdf", resp.Failed[0].FileName)

	body, ct = multipartBody(t, nil,
		part{"files", "x.pdf", "application/pdf", []byte("x")},
		part{"files", "y.pdf", "application/pdf", []byte("y")})
	w = do(r, http.MethodPost, "/api/v1/media/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/api/v1/media/cache", nil, "")
	var cleared struct {
		Removed int `json:"removed"`
	}
	decode(t, w, &cleared)
	assert.Equal(t, 2, cleared.Removed)
}

func TestMediaHandler_Validate(t *testing.T) {
	r, _ := mediaRouter(t)

	body, ct := multipartBody(t, nil,
		part{"files", "ok.mp4", "video/mp4", make([]byte, 1024)},
		part{"files", "big.mp4", "video/mp4", make([]byte, 1025)})
	w := do(r, http.MethodPost, "/api/v1/media/validate", body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []struct {
			IsValid bool   `json:"isValid"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].IsValid)
	assert.False(t, resp.Results[1].IsValid)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestImageHandler(t *testing.T) {
	cfg := testConfig()
	handles := handle.NewRegistry()
	cache, err := imaging.NewCache(cfg.Cache, cfg.Compression, imaging.NewImageCompressor(cfg.Compression), handles, zap.NewNop())
	require.NoError(t, err)

	h := NewImageHandler(cache, zap.NewNop())
	r := gin.New()
	r.POST("/optimize", h.Optimize)
	r.DELETE("/handles/:id", h.Release)
	r.GET("/stats", h.Stats)
	r.DELETE("/cache", h.ClearCache)
	r.POST("/preload", h.Preload)

	body, ct := multipartBody(t, map[string][]string{"max_width": {"32"}},
		part{"file", "pic.png", "image/png", pngBytes(t, 64, 32)})
	w := do(r, http.MethodPost, "/optimize", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		URL string `json:"url"`
	}
	decode(t, w, &resp)
	require.Contains(t, resp.URL, handle.Prefix)
	assert.True(t, handles.Live(resp.URL))

	w = do(r, http.MethodGet, "/stats", nil, "")
	var stats model.ImageCacheStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.EntryCount)

	w = do(r, http.MethodDelete, "/handles/"+handle.ID(resp.URL), nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodDelete, "/handles/"+handle.ID(resp.URL), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, ct = multipartBody(t, map[string][]string{"quality": {"2"}},
		part{"file", "pic.png", "image/png", pngBytes(t, 8, 8)})
	w = do(r, http.MethodPost, "/optimize", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/preload", bytes.NewBufferString(`{"url":"nope"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/cache", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, cache.Stats().EntryCount)
}

func TestImageHandler_Thumbnail(t *testing.T) {
	cfg := testConfig()
	handles := handle.NewRegistry()
	cache, err := imaging.NewCache(cfg.Cache, cfg.Compression, imaging.NewImageCompressor(cfg.Compression), handles, zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.POST("/thumbnail", NewImageHandler(cache, zap.NewNop()).Thumbnail)

	body, ct := multipartBody(t, map[string][]string{"max_width": {"16"}, "max_height": {"16"}},
		part{"file", "pic.png", "image/png", pngBytes(t, 64, 32)})
	w := do(r, http.MethodPost, "/thumbnail", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		URL string `json:"url"`
	}
	decode(t, w, &resp)
	data, contentType, err := handles.Resolve(resp.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)
	thumb, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, thumb.Width)
	assert.Equal(t, 8, thumb.Height)

	body, ct = multipartBody(t, nil, part{"file", "clip.mp4", "video/mp4", []byte("not really an mp4")})
	w = do(r, http.MethodPost, "/thumbnail", body, ct)
	assert.Equal(t, http.StatusOK, w.Code, "videos without cover art get a placeholder poster")

	body, ct = multipartBody(t, nil, part{"file", "notes.txt", "text/plain", []byte("hello")})
	w = do(r, http.MethodPost, "/thumbnail", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	body, ct = multipartBody(t, nil, part{"file", "broken.png", "image/png", []byte("not a png")})
	w = do(r, http.MethodPost, "/thumbnail", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func autosaveRouter(t *testing.T, saveErr error) (*gin.Engine, *autosave.Manager, *atomic.Int32) {
	t.Helper()
	store, err := autosave.NewFileBackupStore(t.TempDir(), 0)
	require.NoError(t, err)

	manager := autosave.New(config.AutoSaveConfig{
		DebounceDelay:     time.Hour,
		MaxRetries:        0,
		RetryBaseDelay:    time.Millisecond,
		SavedResetDelay:   time.Hour,
		EnableLocalBackup: true,
	}, store, nil, zap.NewNop())
	t.Cleanup(manager.Stop)

	calls := &atomic.Int32{}
	manager.SetSaveCallback(func(context.Context, model.SaveData) error {
		calls.Add(1)
		return saveErr
	})

	monitor := netwatch.NewMonitor(nil, 0, 0, zap.NewNop())
	manager.Start(monitor)

	h := NewAutoSaveHandler(manager, monitor, zap.NewNop())
	r := gin.New()
	api := r.Group("/api/v1/autosave")
	api.POST("", h.Save)
	api.POST("/force", h.Force)
	api.GET("/status", h.Status)
	api.GET("/backup", h.Backup)
	api.DELETE("/backup", h.ClearBackup)
	api.POST("/network", h.Network)
	api.GET("/unload", h.Unload)
	r.GET("/health", NewHealthHandler(monitor, handle.NewRegistry(), false).Health)
	return r, manager, calls
}

func TestAutoSaveHandler_SaveAndForce(t *testing.T) {
	r, _, calls := autosaveRouter(t, nil)

	w := do(r, http.MethodPost, "/api/v1/autosave", bytes.NewBufferString(`{"content":"hello","project_id":"p1"}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)

	var status model.SaveStatus
	decode(t, w, &status)
	assert.True(t, status.PendingChanges)

	w = do(r, http.MethodGet, "/api/v1/autosave/unload", nil, "")
	var unload struct {
		Block   bool   `json:"block"`
		Message string `json:"message"`
	}
	decode(t, w, &unload)
	assert.True(t, unload.Block)
	assert.Equal(t, autosave.MessageUnsaved, unload.Message)

	w = do(r, http.MethodPost, "/api/v1/autosave/force", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &status)
	assert.Equal(t, model.SaveStateSaved, status.Status)
	assert.Equal(t, int32(1), calls.Load())

	w = do(r, http.MethodGet, "/api/v1/autosave/backup?project_id=p1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var backup model.SaveData
	decode(t, w, &backup)
	assert.Equal(t, "hello", backup.Content)

	w = do(r, http.MethodDelete, "/api/v1/autosave/backup?project_id=p1", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodGet, "/api/v1/autosave/backup?project_id=p1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutoSaveHandler_Offline(t *testing.T) {
	r, manager, calls := autosaveRouter(t, nil)

	w := do(r, http.MethodPost, "/api/v1/autosave/network", bytes.NewBufferString(`{"online":false}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.SaveStateOffline, manager.Status().Status)

	w = do(r, http.MethodGet, "/health", nil, "")
	var health struct {
		Status string `json:"status"`
	}
	decode(t, w, &health)
	assert.Equal(t, "degraded", health.Status)

	do(r, http.MethodPost, "/api/v1/autosave", bytes.NewBufferString(`{"content":"draft","project_id":"p1"}`), "application/json")
	w = do(r, http.MethodPost, "/api/v1/autosave/force", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, int32(0), calls.Load())

	w = do(r, http.MethodPost, "/api/v1/autosave/network", bytes.NewBufferString(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(r, http.MethodPost, "/api/v1/autosave/network", bytes.NewBufferString(`{"online":true}`), "application/json")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAutoSaveHandler_ForceFailure(t *testing.T) {
	r, _, _ := autosaveRouter(t, assert.AnError)

	do(r, http.MethodPost, "/api/v1/autosave", bytes.NewBufferString(`{"content":"x"}`), "application/json")
	w := do(r, http.MethodPost, "/api/v1/autosave/force", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = do(r, http.MethodGet, "/api/v1/autosave/status", nil, "")
	var status model.SaveStatus
	decode(t, w, &status)
	assert.Equal(t, model.SaveStateError, status.Status)
	assert.True(t, status.PendingChanges)
}
