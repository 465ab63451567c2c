package model

import (
	"time"
)

// MediaType is the broad category of a media asset
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// MediaFile represents one processed media asset held by the media manager
type MediaFile struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	ContentType  string    `json:"content_type"`
	Type         MediaType `json:"type"`
	Size         int64     `json:"size"`
	OriginalSize int64     `json:"original_size,omitempty"` // Set only when compression shrank the file
	Compressed   bool      `json:"compressed"`
	Metadata     Metadata  `json:"metadata"`
	URL          string    `json:"url"` // Revocable handle, valid while the entry is cached
	RemoteURL    string    `json:"remote_url,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
	ProjectID    string    `json:"project_id,omitempty"`
}

// Metadata holds format-specific dimensions probed from the decoded asset
type Metadata struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"` // Seconds, videos only
	Format   string  `json:"format"`
}

// UploadProgress reports transfer progress for one file
type UploadProgress struct {
	Loaded     int64   `json:"loaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// UploadOptions tunes processing of one upload
type UploadOptions struct {
	Compress  *bool   `json:"compress,omitempty"` // nil means compress
	Quality   float64 `json:"quality,omitempty"`  // 0-1, images only
	MaxWidth  int     `json:"max_width,omitempty"`
	MaxHeight int     `json:"max_height,omitempty"`
	ProjectID string  `json:"project_id,omitempty"`
}

// ShouldCompress reports whether images should go through the compressor
func (o UploadOptions) ShouldCompress() bool {
	return o.Compress == nil || *o.Compress
}

// MediaCacheStats summarises the media manager's cache
type MediaCacheStats struct {
	TotalFiles      int   `json:"total_files"`
	TotalSize       int64 `json:"total_size"`
	ImageCount      int   `json:"image_count"`
	VideoCount      int   `json:"video_count"`
	CompressedCount int   `json:"compressed_count"`
}

// ImageCacheStats summarises the image optimization cache
type ImageCacheStats struct {
	EntryCount  int       `json:"entry_count"`
	TotalSize   int64     `json:"total_size"`
	OldestEntry time.Time `json:"oldest_entry"`
	NewestEntry time.Time `json:"newest_entry"`
}

// OptimizeOptions are the image re-encode options; zero values take defaults
type OptimizeOptions struct {
	MaxWidth  int     `json:"max_width,omitempty" form:"max_width" binding:"omitempty,gt=0"`
	MaxHeight int     `json:"max_height,omitempty" form:"max_height" binding:"omitempty,gt=0"`
	Quality   float64 `json:"quality,omitempty" form:"quality" binding:"omitempty,gt=0,lte=1"`
	Format    string  `json:"format,omitempty" form:"format" binding:"omitempty,oneof=jpeg png gif webp"`
}

// UploadRequest represents the form fields sent along with an upload
type UploadRequest struct {
	ProjectID string  `form:"project_id"`
	Compress  *bool   `form:"compress"`
	Quality   float64 `form:"quality" binding:"omitempty,gt=0,lte=1"`
	MaxWidth  int     `form:"max_width" binding:"omitempty,gt=0"`
	MaxHeight int     `form:"max_height" binding:"omitempty,gt=0"`
}

// UploadResponse represents the response after an upload
type UploadResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Media   []MediaFile    `json:"media"`
	Failed  []FailedUpload `json:"failed,omitempty"`
}

// FailedUpload describes one file of a batch that was skipped
type FailedUpload struct {
	Index    int    `json:"index"`
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}
