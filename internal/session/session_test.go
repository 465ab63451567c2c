package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

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
	"github.com/yourorg/portfolio-cms/internal/storage"
)

func newMediaManager(t *testing.T) *media.Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Upload = config.UploadConfig{
		ImageTypes:   []string{"image/jpeg", "image/png"},
		VideoTypes:   []string{"video/mp4"},
		MaxImageSize: 1024,
		MaxVideoSize: 1024,
	}
	cfg.Compression = config.CompressionConfig{MaxWidth: 1920, MaxHeight: 1080, Quality: 0.8, Format: "jpeg"}

	m := media.NewManager(cfg,
		imaging.NewImageCompressor(cfg.Compression),
		storage.NewSimulatedUploader(4, 0),
		handle.NewRegistry(),
		events.NopPublisher{},
		zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func clip(name string, size int) model.File {
	return model.NewFile(name, "video/mp4", time.UnixMilli(1700000000000), make([]byte, size))
}

func TestBatchPercentage(t *testing.T) {
	tests := []struct {
		index, n, p float64
		want        float64
	}{
		{0, 2, 0, 0},
		{0, 2, 100, 50},
		{1, 2, 50, 75},
		{3, 4, 100, 100},
		{0, 0, 50, 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, BatchPercentage(tt.index, tt.n, tt.p), 1e-9)
	}
}

func TestMediaSession_UploadFile(t *testing.T) {
	s := NewMediaSession(newMediaManager(t), "p1")

	mf, err := s.UploadFile(context.Background(), clip("a.mp4", 100), model.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "p1", mf.ProjectID)

	state := s.State()
	assert.False(t, state.IsUploading)
	assert.Nil(t, state.UploadProgress)
	assert.Empty(t, state.UploadError)

	cached, ok := s.GetFromCache(mf.ID)
	require.True(t, ok)
	assert.Equal(t, mf.ID, cached.ID)
	assert.Equal(t, 1, s.GetCacheStats().VideoCount)

	assert.True(t, s.RemoveFromCache(mf.ID))
	assert.False(t, s.RemoveFromCache(mf.ID))
}

func TestMediaSession_UploadErrorAndClear(t *testing.T) {
	s := NewMediaSession(newMediaManager(t), "p1")

	_, err := s.UploadFile(context.Background(), clip("big.mp4", 2048), model.UploadOptions{})
	require.Error(t, err)

	state := s.State()
	assert.False(t, state.IsUploading)
	assert.Equal(t, err.Error(), state.UploadError)

	s.ClearError()
	assert.Empty(t, s.State().UploadError)
}

func TestMediaSession_UploadFiles(t *testing.T) {
	s := NewMediaSession(newMediaManager(t), "p1")

	uploaded, failures := s.UploadFiles(context.Background(), []model.File{
		clip("a.mp4", 100),
		clip("big.mp4", 2048),
		clip("b.mp4", 200),
	}, model.UploadOptions{})

	assert.Len(t, uploaded, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Index)
	assert.Empty(t, s.State().UploadError, "partial success is not an error")

	_, failures = s.UploadFiles(context.Background(), []model.File{clip("huge.mp4", 4096)}, model.UploadOptions{})
	require.Len(t, failures, 1)
	assert.NotEmpty(t, s.State().UploadError)
}

func TestAutoSaveSession(t *testing.T) {
	store, err := autosave.NewFileBackupStore(t.TempDir(), 0)
	require.NoError(t, err)

	m := autosave.New(config.AutoSaveConfig{
		DebounceDelay:   time.Hour,
		MaxRetries:      0,
		RetryBaseDelay:  time.Millisecond,
		SavedResetDelay: time.Hour,
	}, store, nil, zap.NewNop())
	t.Cleanup(m.Stop)

	var saved atomic.Value
	s := NewAutoSaveSession(m, AutoSaveOptions{
		ProjectID: "p1",
		OnSave: func(_ context.Context, data model.SaveData) error {
			saved.Store(data)
			return nil
		},
		EnableLocalBackup: true,
	})
	defer s.Close()

	assert.Equal(t, model.SaveStateIdle, s.Status().Status)

	s.Save("hello", autosave.SaveOptions{})
	assert.True(t, s.HasPendingChanges())

	require.NoError(t, s.ForceSave(context.Background()))
	assert.False(t, s.HasPendingChanges())
	assert.Equal(t, model.SaveStateSaved, s.Status().Status)

	data := saved.Load().(model.SaveData)
	assert.Equal(t, "hello", data.Content)
	assert.Equal(t, "p1", data.ProjectID)

	backup := s.LoadFromBackup()
	require.NotNil(t, backup)
	assert.Equal(t, "hello", backup.Content)

	s.ClearBackup()
	assert.Nil(t, s.LoadFromBackup())
}

func TestAutoSaveSession_CloseStopsFollowing(t *testing.T) {
	m := autosave.New(config.AutoSaveConfig{
		DebounceDelay:   time.Hour,
		RetryBaseDelay:  time.Millisecond,
		SavedResetDelay: time.Hour,
	}, nil, nil, zap.NewNop())
	t.Cleanup(m.Stop)

	s := NewAutoSaveSession(m, AutoSaveOptions{
		ProjectID: "p1",
		OnSave:    func(context.Context, model.SaveData) error { return errors.New("down") },
	})
	s.Close()
	s.Close()

	s.Save("x", autosave.SaveOptions{})
	assert.Error(t, s.ForceSave(context.Background()))

	assert.Equal(t, model.SaveStateIdle, s.Status().Status)
	assert.False(t, s.HasPendingChanges())
	assert.Equal(t, model.SaveStateError, m.Status().Status)
}
