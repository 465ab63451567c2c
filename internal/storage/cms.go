package storage

import (
	"bytes"
	"context"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/client"
	"github.com/yourorg/portfolio-cms/internal/model"
)

// CMSUploader sends uploads to the CMS media library
type CMSUploader struct {
	cms *client.CMSClient
}

// NewCMSUploader creates a new CMSUploader
func NewCMSUploader(cms *client.CMSClient) *CMSUploader {
	return &CMSUploader{cms: cms}
}

// Transfer posts the file as multipart form data. Progress follows the bytes
// copied into the request body.
func (s *CMSUploader) Transfer(ctx context.Context, file model.File, _ string, onProgress ProgressFunc) (*RemoteAsset, error) {
	total := int64(len(file.Data))
	emit(onProgress, 0, total)

	body := newProgressReader(bytes.NewReader(file.Data), total, onProgress)
	media, err := s.cms.UploadMedia(ctx, body, file.Name, file.ContentType, file.Name)
	if err != nil {
		return nil, err
	}

	url := media.URL
	if strings.HasPrefix(url, "/") {
		url = s.cms.BaseURL() + url
	}

	return &RemoteAsset{ID: media.ID, URL: url}, nil
}

// Remove deletes the media record from the CMS library
func (s *CMSUploader) Remove(ctx context.Context, id string) error {
	return s.cms.DeleteMedia(ctx, id)
}
