package validator

import (
	"fmt"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"
)

// Error codes, stable across message wording changes
const (
	CodeUnsupportedType        = "unsupported_type"
	CodeUnsupportedImageFormat = "unsupported_image_format"
	CodeUnsupportedVideoFormat = "unsupported_video_format"
	CodeImageTooLarge          = "image_too_large"
	CodeVideoTooLarge          = "video_too_large"
)

// Limits are the static per-category constraints checked before upload
type Limits struct {
	ImageTypes   []string
	VideoTypes   []string
	MaxImageSize int64
	MaxVideoSize int64
}

// LimitsFromConfig builds Limits from the upload configuration
func LimitsFromConfig(cfg config.UploadConfig) Limits {
	return Limits{
		ImageTypes:   cfg.ImageTypes,
		VideoTypes:   cfg.VideoTypes,
		MaxImageSize: cfg.MaxImageSize,
		MaxVideoSize: cfg.MaxVideoSize,
	}
}

// ValidationError identifies the violated constraint
type ValidationError struct {
	Code    string
	Message string
	Limit   int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Result is the outcome of ValidateFile
type Result struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
	err     *ValidationError
}

// Err returns the validation error, or nil for a valid file
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Category derives the media type from a MIME type
func Category(contentType string) (model.MediaType, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.MediaTypeImage, true
	case strings.HasPrefix(contentType, "video/"):
		return model.MediaTypeVideo, true
	}
	return "", false
}

// ValidateFile checks the file's MIME type against its category allow-list and
// its size against the category ceiling. A size equal to the ceiling is valid.
func ValidateFile(file model.File, limits Limits) Result {
	category, ok := Category(file.ContentType)
	if !ok {
		return invalid(CodeUnsupportedType, "Format de fichier non supporté", 0)
	}

	switch category {
	case model.MediaTypeImage:
		if !contains(limits.ImageTypes, file.ContentType) {
			return invalid(CodeUnsupportedImageFormat,
				fmt.Sprintf("Format d'image non supporté (%s uniquement)", formatList(limits.ImageTypes)), 0)
		}
		if file.Size > limits.MaxImageSize {
			return invalid(CodeImageTooLarge,
				fmt.Sprintf("Image trop volumineuse : taille %s (maximum %s)", formatSize(file.Size), formatSize(limits.MaxImageSize)),
				limits.MaxImageSize)
		}
	case model.MediaTypeVideo:
		if !contains(limits.VideoTypes, file.ContentType) {
			return invalid(CodeUnsupportedVideoFormat,
				fmt.Sprintf("Format de vidéo non supporté (%s uniquement)", formatList(limits.VideoTypes)), 0)
		}
		if file.Size > limits.MaxVideoSize {
			return invalid(CodeVideoTooLarge,
				fmt.Sprintf("Vidéo trop volumineuse : taille %s (maximum %s)", formatSize(file.Size), formatSize(limits.MaxVideoSize)),
				limits.MaxVideoSize)
		}
	}

	return Result{IsValid: true}
}

func invalid(code, message string, limit int64) Result {
	return Result{
		IsValid: false,
		Error:   message,
		err:     &ValidationError{Code: code, Message: message, Limit: limit},
	}
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// formatList renders "image/jpeg, video/mp4" as "JPEG, MP4"
func formatList(types []string) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		if i := strings.IndexByte(t, '/'); i >= 0 {
			t = t[i+1:]
		}
		names = append(names, strings.ToUpper(t))
	}
	return strings.Join(names, ", ")
}

// formatSize renders whole megabytes as "100MB" and everything else with one decimal
func formatSize(size int64) string {
	const mb = 1024 * 1024
	if size%mb == 0 {
		return fmt.Sprintf("%dMB", size/mb)
	}
	return fmt.Sprintf("%.1fMB", float64(size)/mb)
}
