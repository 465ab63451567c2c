package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/yourorg/portfolio-cms/internal/client"
	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"

	"go.uber.org/zap"
)

// ProgressFunc receives transfer progress; calls are sequential per transfer
type ProgressFunc func(model.UploadProgress)

// RemoteAsset is what a transport knows about a transferred file
type RemoteAsset struct {
	ID  string
	URL string // Empty when the transport keeps no remote copy
}

// Uploader moves one processed file to its destination
type Uploader interface {
	Transfer(ctx context.Context, file model.File, projectID string, onProgress ProgressFunc) (*RemoteAsset, error)
}

// Remover is implemented by transports that can delete what they stored
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// NewUploader creates the transport selected by storage.type
func NewUploader(cfg *config.Config, cms *client.CMSClient, logger *zap.Logger) (Uploader, error) {
	switch cfg.Storage.Type {
	case "local":
		return NewLocalUploader(&cfg.Storage.Local)
	case "s3":
		return NewS3Uploader(&cfg.Storage.S3, logger)
	case "cms":
		if cms == nil {
			return nil, fmt.Errorf("cms storage requires a CMS client")
		}
		return NewCMSUploader(cms), nil
	default:
		return NewSimulatedUploader(cfg.Upload.SimulatedSteps, cfg.Upload.StepDelay), nil
	}
}

// Progress builds an UploadProgress; an empty transfer is complete
func Progress(loaded, total int64) model.UploadProgress {
	p := model.UploadProgress{Loaded: loaded, Total: total, Percentage: 100}
	if total > 0 {
		p.Percentage = float64(loaded) / float64(total) * 100
	}
	return p
}

// progressReader reports bytes as they are read by the transport
type progressReader struct {
	mu     sync.Mutex
	r      io.Reader
	loaded int64
	total  int64
	fn     ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.mu.Lock()
		p.loaded += int64(n)
		p.fn(Progress(p.loaded, p.total))
		p.mu.Unlock()
	}
	return n, err
}

func emit(fn ProgressFunc, loaded, total int64) {
	if fn != nil {
		fn(Progress(loaded, total))
	}
}

// ErrInvalidProjectID is returned for project ids that cannot name a directory
var ErrInvalidProjectID = errors.New("invalid project id")

// projectDir maps a project id to a single path segment. Separators are
// escaped so the segment never leaves the storage root.
func projectDir(projectID string) (string, error) {
	if projectID == "" {
		return "default", nil
	}
	dir := url.PathEscape(projectID)
	if dir == "." || dir == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	return dir, nil
}
