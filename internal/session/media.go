// Package session binds the media and auto-save managers to one editor
// project and keeps the per-editor state the UI renders.
package session

import (
	"context"
	"sync"

	"github.com/yourorg/portfolio-cms/internal/media"
	"github.com/yourorg/portfolio-cms/internal/model"
)

const defaultUploadError = "Erreur d'upload"

// MediaState is what an upload widget renders
type MediaState struct {
	IsUploading    bool                  `json:"is_uploading"`
	UploadProgress *model.UploadProgress `json:"upload_progress,omitempty"`
	UploadError    string                `json:"upload_error,omitempty"`
}

// MediaSession uploads into one project and tracks the latest upload state
type MediaSession struct {
	manager   *media.Manager
	projectID string

	mu    sync.Mutex
	state MediaState
}

// NewMediaSession creates a session for projectID
func NewMediaSession(manager *media.Manager, projectID string) *MediaSession {
	return &MediaSession{manager: manager, projectID: projectID}
}

// State returns a snapshot of the upload state
func (s *MediaSession) State() MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if st.UploadProgress != nil {
		p := *st.UploadProgress
		st.UploadProgress = &p
	}
	return st
}

// ClearError resets the last upload error
func (s *MediaSession) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UploadError = ""
}

// UploadFile uploads one file into the session's project
func (s *MediaSession) UploadFile(ctx context.Context, file model.File, opts model.UploadOptions) (*model.MediaFile, error) {
	s.begin()
	defer s.end()

	opts.ProjectID = s.projectID
	mf, err := s.manager.UploadFile(ctx, file, opts, s.setProgress)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	return mf, nil
}

// UploadFiles uploads a batch. Progress covers the whole batch: file i of n at
// p percent reports (i/n)*100 + p/n. The error is set only when nothing
// could be uploaded.
func (s *MediaSession) UploadFiles(ctx context.Context, files []model.File, opts model.UploadOptions) ([]*model.MediaFile, []media.UploadFailure) {
	s.begin()
	defer s.end()

	n := float64(len(files))
	opts.ProjectID = s.projectID
	uploaded, failures := s.manager.UploadFiles(ctx, files, opts, func(i int, p model.UploadProgress) {
		p.Percentage = BatchPercentage(float64(i), n, p.Percentage)
		s.setProgress(p)
	})

	if len(uploaded) == 0 && len(failures) > 0 {
		s.fail(media.BatchError(failures))
	}
	return uploaded, failures
}

// BatchPercentage is the overall progress of file index of n at percentage
func BatchPercentage(index, n, percentage float64) float64 {
	if n == 0 {
		return 0
	}
	return (index/n)*100 + percentage/n
}

// GetFromCache returns a copy of a cached record
func (s *MediaSession) GetFromCache(id string) (*model.MediaFile, bool) {
	return s.manager.GetFromCache(id)
}

// RemoveFromCache drops a cached record
func (s *MediaSession) RemoveFromCache(id string) bool {
	return s.manager.RemoveFromCache(id)
}

// GetCacheStats returns the media cache statistics
func (s *MediaSession) GetCacheStats() model.MediaCacheStats {
	return s.manager.GetCacheStats()
}

func (s *MediaSession) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = MediaState{IsUploading: true}
}

func (s *MediaSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsUploading = false
	s.state.UploadProgress = nil
}

func (s *MediaSession) setProgress(p model.UploadProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UploadProgress = &p
}

func (s *MediaSession) fail(err error) {
	message := err.Error()
	if message == "" {
		message = defaultUploadError
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UploadError = message
}
