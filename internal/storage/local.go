package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"

	"github.com/google/uuid"
)

// LocalUploader writes uploads below a base directory served at baseURL
type LocalUploader struct {
	basePath    string
	baseURL     string
	permissions os.FileMode
}

// NewLocalUploader creates a new LocalUploader
func NewLocalUploader(cfg *config.LocalStorageConfig) (*LocalUploader, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	perms, err := strconv.ParseUint(cfg.Permissions, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid permissions format: %w", err)
	}

	return &LocalUploader{
		basePath:    cfg.BasePath,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		permissions: os.FileMode(perms),
	}, nil
}

// Transfer copies the file to basePath/<project>/<id><ext>
func (s *LocalUploader) Transfer(ctx context.Context, file model.File, projectID string, onProgress ProgressFunc) (*RemoteAsset, error) {
	dir, err := projectDir(projectID)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()

	dirPath := filepath.Join(s.basePath, dir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ext := filepath.Ext(file.Name)
	if ext == "" {
		ext = ".bin"
	}

	filename := id + ext
	filePath := filepath.Join(dirPath, filename)

	dst, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination file: %w", err)
	}

	total := int64(len(file.Data))
	emit(onProgress, 0, total)

	src := newProgressReader(bytes.NewReader(file.Data), total, onProgress)
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Chmod(filePath, s.permissions); err != nil {
		return nil, fmt.Errorf("failed to set file permissions: %w", err)
	}

	relPath := url.PathEscape(dir) + "/" + filename

	return &RemoteAsset{
		ID:  id,
		URL: fmt.Sprintf("%s/%s", s.baseURL, relPath),
	}, nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
