package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"

	"golang.org/x/image/draw"

	// Extra decoders for formats the editor accepts
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrTooManyPixels is returned for images whose declared dimensions exceed the
// configured pixel ceiling. Nothing is decoded in that case.
var ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")

// Options controls one re-encode. Zero values fall back to the compressor defaults.
type Options struct {
	MaxWidth  int     `json:"maxWidth,omitempty"`
	MaxHeight int     `json:"maxHeight,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
	Format    string  `json:"format,omitempty"` // jpeg, png, gif, webp; empty keeps the source format
}

// Result is a compressed image
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Compressor turns a raw image into a bounded-size, bounded-dimension blob
type Compressor interface {
	Compress(ctx context.Context, file model.File, opts Options) (*Result, error)
}

// ImageCompressor decodes, scales with x/image/draw and re-encodes images
type ImageCompressor struct {
	defaults  Options
	maxPixels int64
}

// NewImageCompressor creates a compressor using cfg as defaults
func NewImageCompressor(cfg config.CompressionConfig) *ImageCompressor {
	return &ImageCompressor{
		defaults: Options{
			MaxWidth:  cfg.MaxWidth,
			MaxHeight: cfg.MaxHeight,
			Quality:   cfg.Quality,
		},
		maxPixels: cfg.MaxPixels,
	}
}

// Compress decodes file, shrinks it to fit the bounds and encodes it again
func (c *ImageCompressor) Compress(ctx context.Context, file model.File, opts Options) (*Result, error) {
	opts = c.withDefaults(opts)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, srcFormat, err := decodeBounded(file.Data, c.maxPixels)
	if err != nil {
		return nil, err
	}

	dst := resize(img, opts.MaxWidth, opts.MaxHeight)
	width, height := dst.Bounds().Dx(), dst.Bounds().Dy()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := opts.Format
	if format == "" {
		format = srcFormat
	}

	var buf bytes.Buffer
	contentType, err := encode(&buf, dst, format, opts.Quality)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Width:       width,
		Height:      height,
	}, nil
}

// decodeBounded reads the header first so a small file declaring a huge raster
// is rejected before any pixel buffer is allocated. maxPixels <= 0 disables the check.
func decodeBounded(data []byte, maxPixels int64) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func (c *ImageCompressor) withDefaults(opts Options) Options {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = c.defaults.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = c.defaults.MaxHeight
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = c.defaults.Quality
	}
	return opts
}

// encode writes img in the requested format. webp has no Go encoder, so it is
// written as JPEG like every other lossy target.
func encode(buf *bytes.Buffer, img image.Image, format string, quality float64) (string, error) {
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(buf, img); err != nil {
			return "", fmt.Errorf("failed to encode PNG: %w", err)
		}
		return "image/png", nil
	case "gif":
		if err := gif.Encode(buf, img, &gif.Options{NumColors: 256}); err != nil {
			return "", fmt.Errorf("failed to encode GIF: %w", err)
		}
		return "image/gif", nil
	default:
		q := int(quality * 100)
		if q < 1 {
			q = 1
		} else if q > 100 {
			q = 100
		}
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: q}); err != nil {
			return "", fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return "image/jpeg", nil
	}
}

// resize scales img down to fit maxWidth x maxHeight, keeping the aspect ratio
func resize(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)
	if width == bounds.Dx() && height == bounds.Dy() {
		return img
	}

	scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
	return scaled
}

// FitWithin returns the dimensions scaled by min(maxW/w, maxH/h) when either
// dimension exceeds its bound. Images are never upscaled.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	ratio := float64(maxWidth) / float64(width)
	if r := float64(maxHeight) / float64(height); r < ratio {
		ratio = r
	}

	w := int(float64(width) * ratio)
	h := int(float64(height) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
