package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// ErrUnsupportedThumbnail is returned for files that are neither images nor videos
var ErrUnsupportedThumbnail = errors.New("format non supporté pour la génération de miniature")

var (
	posterBackground = color.NRGBA{R: 0x1f, G: 0x1f, B: 0x23, A: 0xff}
	posterMarker     = color.NRGBA{R: 0xe6, G: 0xe6, B: 0xe6, A: 0xff}
)

const (
	// used when a video's dimensions cannot be probed
	defaultPosterWidth  = 1280
	defaultPosterHeight = 720
	// longest side of a placeholder poster
	posterMaxSide = 1280
)

// VideoPoster returns a still image standing for a video. MP4 files carrying
// cover art (moov/udta/meta/ilst/covr) yield that picture; any other video
// yields a neutral frame with the video's aspect ratio and a play marker.
func VideoPoster(data []byte, contentType string, maxPixels int64) image.Image {
	if contentType == "video/mp4" || contentType == "video/quicktime" {
		if art, ok := coverArt(data); ok {
			if img, _, err := decodeBounded(art, maxPixels); err == nil {
				return img
			}
		}
	}

	width, height := defaultPosterWidth, defaultPosterHeight
	if meta, err := Probe(data, contentType); err == nil && meta.Width > 0 && meta.Height > 0 {
		width, height = FitWithin(meta.Width, meta.Height, posterMaxSide, posterMaxSide)
	}
	return placeholderPoster(width, height)
}

// coverArt digs the first covr data atom out of the iTunes metadata list
func coverArt(data []byte) ([]byte, bool) {
	moov, ok := findBox(data, "moov")
	if !ok {
		return nil, false
	}
	udta, ok := findBox(moov, "udta")
	if !ok {
		return nil, false
	}
	meta, ok := findBox(udta, "meta")
	if !ok {
		return nil, false
	}

	// ISO meta is a full box with 4 bytes of version and flags, QuickTime's is not
	ilst, ok := findBox(meta, "ilst")
	if !ok && len(meta) > 4 {
		ilst, ok = findBox(meta[4:], "ilst")
	}
	if !ok {
		return nil, false
	}

	covr, ok := findBox(ilst, "covr")
	if !ok {
		return nil, false
	}
	payload, ok := findBox(covr, "data")
	// type indicator and locale precede the picture
	if !ok || len(payload) <= 8 {
		return nil, false
	}
	return payload[8:], true
}

func placeholderPoster(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(posterBackground), image.Point{}, draw.Src)

	// centered play triangle, a quarter of the shorter side
	side := width
	if height < side {
		side = height
	}
	size := side / 4
	cx, cy := width/2, height/2
	for y := -size / 2; y <= size/2; y++ {
		span := size/2 - abs(y)
		for x := -size / 3; x <= -size/3+span; x++ {
			img.SetNRGBA(cx+x, cy+y, posterMarker)
		}
	}
	return img
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// encodeThumbnail scales img into the bounds and writes it as JPEG
func encodeThumbnail(img image.Image, maxWidth, maxHeight int, quality float64) (*Result, error) {
	dst := resize(img, maxWidth, maxHeight)

	var buf bytes.Buffer
	contentType, err := encode(&buf, dst, "jpeg", quality)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Width:       dst.Bounds().Dx(),
		Height:      dst.Bounds().Dy(),
	}, nil
}

func thumbnailCategory(contentType string) (isImage, isVideo bool) {
	return strings.HasPrefix(contentType, "image/"), strings.HasPrefix(contentType, "video/")
}
