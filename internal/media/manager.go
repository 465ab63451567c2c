// Package media turns user-selected files into validated, optionally
// compressed and deduplicated MediaFile records.
package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/events"
	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/imaging"
	"github.com/yourorg/portfolio-cms/internal/metrics"
	"github.com/yourorg/portfolio-cms/internal/model"
	"github.com/yourorg/portfolio-cms/internal/storage"
	"github.com/yourorg/portfolio-cms/internal/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown media ids
	ErrNotFound = errors.New("media not found")
	// ErrClosed is returned for uploads still queued when the manager closes
	ErrClosed = errors.New("media manager closed")
)

const publishTimeout = 5 * time.Second

// flight is one queued upload shared by every caller waiting on the same
// dedup key. Its context is cancelled once no caller is waiting any more.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int // guarded by Manager.mu
	done    chan struct{}

	// set before done is closed
	file *model.MediaFile
	err  error
}

type job struct {
	flight     *flight
	key        string
	file       model.File
	opts       model.UploadOptions
	onProgress storage.ProgressFunc
}

// Manager validates, compresses, transfers and caches uploads. Queued items are
// processed one at a time in submission order.
type Manager struct {
	limits     validator.Limits
	compressor imaging.Compressor
	uploader   storage.Uploader
	handles    *handle.Registry
	publisher  events.Publisher
	logger     *zap.Logger

	mu         sync.Mutex
	files      map[string]*model.MediaFile // dedup key -> record
	ids        map[string]string           // id -> dedup key
	flights    map[string]*flight          // dedup key -> upload in queue or in progress
	queue      []*job
	processing bool
	closed     bool
	worker     sync.WaitGroup
	publishing sync.WaitGroup

	now func() time.Time

	// onStart observes the order in which queued items begin processing
	onStart func(model.File)
}

// NewManager creates a media manager
func NewManager(cfg *config.Config, compressor imaging.Compressor, uploader storage.Uploader, handles *handle.Registry, publisher events.Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Manager{
		limits:     validator.LimitsFromConfig(cfg.Upload),
		compressor: compressor,
		uploader:   uploader,
		handles:    handles,
		publisher:  publisher,
		logger:     logger,
		files:      make(map[string]*model.MediaFile),
		ids:        make(map[string]string),
		flights:    make(map[string]*flight),
		now:        time.Now,
	}
}

// ValidateFile checks type and size against the configured limits
func (m *Manager) ValidateFile(file model.File) validator.Result {
	return validator.ValidateFile(file, m.limits)
}

// UploadFile validates file, then returns the cached record for the same
// (name, size, lastModified) or queues the file and waits for its turn.
// Callers uploading the same file while it is queued share one upload.
// Cancelling ctx stops the caller's wait; an item that has not started yet is
// dropped once every caller waiting on it has gone.
func (m *Manager) UploadFile(ctx context.Context, file model.File, opts model.UploadOptions, onProgress storage.ProgressFunc) (*model.MediaFile, error) {
	if res := m.ValidateFile(file); !res.IsValid {
		metrics.UploadsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, res.Err()
	}

	key := file.DedupKey()
	if cached, ok := m.cached(key); ok {
		metrics.UploadsTotal.WithLabelValues(metrics.OutcomeDeduplicated).Inc()
		m.logger.Debug("Upload served from cache", zap.String("file", file.Name), zap.String("id", cached.ID))
		return cached, nil
	}

	f, err := m.join(ctx, key, file, opts, onProgress)
	if err != nil {
		return nil, err
	}

	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		mf := *f.file
		return &mf, nil
	case <-ctx.Done():
		m.leave(f)
		return nil, ctx.Err()
	}
}

// UploadFiles uploads files one after another. A failing file is logged and
// skipped; the successes are returned alongside the failures.
func (m *Manager) UploadFiles(ctx context.Context, files []model.File, opts model.UploadOptions, onProgress func(index int, p model.UploadProgress)) ([]*model.MediaFile, []UploadFailure) {
	uploaded := make([]*model.MediaFile, 0, len(files))
	var failures []UploadFailure

	for i, file := range files {
		var progress storage.ProgressFunc
		if onProgress != nil {
			index := i
			progress = func(p model.UploadProgress) { onProgress(index, p) }
		}

		mf, err := m.UploadFile(ctx, file, opts, progress)
		if err != nil {
			m.logger.Warn("Skipping file in batch upload",
				zap.Int("index", i),
				zap.String("file", file.Name),
				zap.Error(err))
			failures = append(failures, UploadFailure{Index: i, Name: file.Name, Err: err})
			continue
		}
		uploaded = append(uploaded, mf)
	}

	return uploaded, failures
}

// GetFromCache returns a copy of the record with the given id
func (m *Manager) GetFromCache(id string) (*model.MediaFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.ids[id]
	if !ok {
		return nil, false
	}
	mf := *m.files[key]
	return &mf, true
}

// RemoveFromCache drops the record and revokes its handle
func (m *Manager) RemoveFromCache(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.ids[id]
	if !ok {
		return false
	}
	m.removeLocked(key)
	return true
}

// DeleteMedia removes the remote asset when the transport supports it, then
// drops the record.
func (m *Manager) DeleteMedia(ctx context.Context, id string) error {
	if _, ok := m.GetFromCache(id); !ok {
		return ErrNotFound
	}

	if remover, ok := m.uploader.(storage.Remover); ok {
		if err := remover.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to delete remote media: %w", err)
		}
	}

	m.RemoveFromCache(id)
	return nil
}

// GetProjectFiles returns the records of a project, oldest first
func (m *Manager) GetProjectFiles(projectID string) []*model.MediaFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make([]*model.MediaFile, 0)
	for _, mf := range m.files {
		if mf.ProjectID == projectID {
			cp := *mf
			files = append(files, &cp)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files
}

// ClearCache drops the records of one project, or every record when projectID is empty
func (m *Manager) ClearCache(projectID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, mf := range m.files {
		if projectID == "" || mf.ProjectID == projectID {
			m.removeLocked(key)
			removed++
		}
	}
	return removed
}

// GetCacheStats summarises the cached records
func (m *Manager) GetCacheStats() model.MediaCacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats model.MediaCacheStats
	for _, mf := range m.files {
		stats.TotalFiles++
		stats.TotalSize += mf.Size
		switch mf.Type {
		case model.MediaTypeImage:
			stats.ImageCount++
		case model.MediaTypeVideo:
			stats.VideoCount++
		}
		if mf.Compressed {
			stats.CompressedCount++
		}
	}
	return stats
}

// Close rejects queued items with ErrClosed and waits for the item in progress
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pending := m.queue
	m.queue = nil
	metrics.UploadQueueDepth.Set(0)
	m.mu.Unlock()

	for _, j := range pending {
		m.finish(j, nil, ErrClosed)
	}

	m.worker.Wait()
	m.publishing.Wait()
}

func (m *Manager) cached(key string) (*model.MediaFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mf, ok := m.files[key]
	if !ok {
		return nil, false
	}
	cp := *mf
	return &cp, true
}

// removeLocked revokes the handle before the record leaves the maps
func (m *Manager) removeLocked(key string) {
	mf, ok := m.files[key]
	if !ok {
		return
	}
	m.handles.Revoke(mf.URL)
	delete(m.files, key)
	delete(m.ids, mf.ID)
}

// join attaches the caller to the upload already queued for key, or queues a
// new one. The upload keeps the values of the context that queued it but not
// its cancellation.
func (m *Manager) join(ctx context.Context, key string, file model.File, opts model.UploadOptions, onProgress storage.ProgressFunc) (*flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if mf, ok := m.files[key]; ok {
		cp := *mf
		f := &flight{done: make(chan struct{}), file: &cp}
		close(f.done)
		return f, nil
	}

	// a flight nobody waits on any more is about to be dropped
	if f, ok := m.flights[key]; ok && f.ctx.Err() == nil {
		f.waiters++
		return f, nil
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{ctx: fctx, cancel: cancel, waiters: 1, done: make(chan struct{})}
	m.flights[key] = f

	m.enqueueLocked(&job{
		flight:     f,
		key:        key,
		file:       file,
		opts:       opts,
		onProgress: onProgress,
	})
	return f, nil
}

// leave detaches a caller; the last one to leave cancels the upload
func (m *Manager) leave(f *flight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.waiters--
	if f.waiters <= 0 {
		f.cancel()
	}
}

// finish resolves every caller waiting on the job
func (m *Manager) finish(j *job, mf *model.MediaFile, err error) {
	m.mu.Lock()
	if m.flights[j.key] == j.flight {
		delete(m.flights, j.key)
	}
	m.mu.Unlock()

	f := j.flight
	f.file, f.err = mf, err
	close(f.done)
	f.cancel()
}

func (m *Manager) enqueueLocked(j *job) {
	m.queue = append(m.queue, j)
	metrics.UploadQueueDepth.Set(float64(len(m.queue)))

	if !m.processing {
		m.processing = true
		m.worker.Add(1)
		go m.drain()
	}
}

func (m *Manager) drain() {
	defer m.worker.Done()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.processing = false
			m.mu.Unlock()
			return
		}
		j := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		metrics.UploadQueueDepth.Set(float64(len(m.queue)))
		m.mu.Unlock()

		if err := j.flight.ctx.Err(); err != nil {
			m.logger.Debug("Dropping cancelled upload", zap.String("file", j.file.Name))
			m.finish(j, nil, err)
			continue
		}

		mf, err := m.process(j)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			m.logger.Error("Upload failed", zap.String("file", j.file.Name), zap.Error(err))
		} else {
			metrics.UploadsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		}
		m.finish(j, mf, err)
	}
}

// process runs one item to completion; cancellation is only honoured before start
func (m *Manager) process(j *job) (*model.MediaFile, error) {
	if m.onStart != nil {
		m.onStart(j.file)
	}

	ctx := context.WithoutCancel(j.flight.ctx)
	category, _ := validator.Category(j.file.ContentType)

	out := j.file
	compressed := false
	if category == model.MediaTypeImage && j.opts.ShouldCompress() {
		out, compressed = m.compress(ctx, j.file, j.opts)
	}

	asset, err := m.uploader.Transfer(ctx, out, j.opts.ProjectID, j.onProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to transfer %s: %w", j.file.Name, err)
	}

	meta, err := imaging.Probe(out.Data, out.ContentType)
	if err != nil {
		m.logger.Debug("Metadata probe failed, keeping format only",
			zap.String("file", j.file.Name),
			zap.Error(err))
	}

	id := asset.ID
	if id == "" {
		id = uuid.New().String()
	}

	mf := &model.MediaFile{
		ID:          id,
		FileName:    j.file.Name,
		ContentType: out.ContentType,
		Type:        category,
		Size:        out.Size,
		Compressed:  compressed,
		Metadata:    meta,
		URL:         m.handles.Create(out.Data, out.ContentType),
		RemoteURL:   asset.URL,
		UploadedAt:  m.now(),
		ProjectID:   j.opts.ProjectID,
	}
	if compressed {
		mf.OriginalSize = j.file.Size
	}

	m.mu.Lock()
	m.files[j.key] = mf
	m.ids[mf.ID] = j.key
	cp := *mf
	m.mu.Unlock()

	event := cp
	m.publishing.Add(1)
	go func() {
		defer m.publishing.Done()
		m.publishUploaded(ctx, &event)
	}()

	return &cp, nil
}

// compress returns the re-encoded file when it is smaller, the original
// otherwise. The source format is kept so transparency and the file name's
// extension stay valid.
func (m *Manager) compress(ctx context.Context, file model.File, opts model.UploadOptions) (model.File, bool) {
	res, err := m.compressor.Compress(ctx, file, imaging.Options{
		MaxWidth:  opts.MaxWidth,
		MaxHeight: opts.MaxHeight,
		Quality:   opts.Quality,
	})
	if err != nil {
		metrics.CompressionFallbacksTotal.Inc()
		m.logger.Warn("Compression failed, uploading original",
			zap.String("file", file.Name),
			zap.Error(err))
		return file, false
	}

	if int64(len(res.Data)) >= file.Size {
		metrics.CompressionFallbacksTotal.Inc()
		m.logger.Debug("Compressed image is not smaller, keeping original",
			zap.String("file", file.Name),
			zap.Int64("original", file.Size),
			zap.Int("compressed", len(res.Data)))
		return file, false
	}

	return model.NewFile(file.Name, res.ContentType, file.LastModified, res.Data), true
}

func (m *Manager) publishUploaded(ctx context.Context, mf *model.MediaFile) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := m.publisher.Publish(ctx, events.TopicMediaUploaded, mf.ID, events.MediaUploaded{
		ID:          mf.ID,
		FileName:    mf.FileName,
		ContentType: mf.ContentType,
		Size:        mf.Size,
		Compressed:  mf.Compressed,
		ProjectID:   mf.ProjectID,
		RemoteURL:   mf.RemoteURL,
		UploadedAt:  mf.UploadedAt,
	})
	if err != nil {
		m.logger.Warn("Failed to publish upload event", zap.String("id", mf.ID), zap.Error(err))
	}
}
