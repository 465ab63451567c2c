package imaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"
)

func testCompressionConfig() config.CompressionConfig {
	return config.CompressionConfig{
		MaxWidth:         1920,
		MaxHeight:        1080,
		Quality:          0.8,
		Format:           "jpeg",
		MaxPixels:        4_000_000,
		ThumbnailWidth:   200,
		ThumbnailHeight:  200,
		ThumbnailQuality: 0.7,
	}
}

// noisyPNG encodes a w×h image with enough detail that JPEG beats PNG
func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8((x * y) % 251), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
	}{
		{"within bounds is untouched", 800, 600, 1920, 1080, 800, 600},
		{"exactly at bounds is untouched", 1920, 1080, 1920, 1080, 1920, 1080},
		{"never upscales", 10, 10, 1000, 1000, 10, 10},
		{"width bound wins", 3840, 1000, 1920, 1080, 1920, 500},
		{"height bound wins", 1000, 4000, 1920, 1000, 250, 1000},
		{"floors fractional sizes", 1000, 3, 500, 500, 500, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestImageCompressor_ResizesAndKeepsSourceFormat(t *testing.T) {
	c := NewImageCompressor(testCompressionConfig())
	file := model.NewFile("big.png", "image/png", time.Now(), noisyPNG(t, 400, 200))

	res, err := c.Compress(context.Background(), file, Options{MaxWidth: 100, MaxHeight: 100})
	require.NoError(t, err)

	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestImageCompressor_TargetFormats(t *testing.T) {
	c := NewImageCompressor(testCompressionConfig())
	file := model.NewFile("a.png", "image/png", time.Now(), noisyPNG(t, 64, 64))

	for format, want := range map[string]string{
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
		"webp": "image/jpeg",
	} {
		res, err := c.Compress(context.Background(), file, Options{Format: format})
		require.NoError(t, err, format)
		assert.Equal(t, want, res.ContentType, format)
		assert.NotEmpty(t, res.Data, format)
	}
}

// declaredPNG is a tiny PNG whose header claims width x height pixels
func declaredPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()
	data := noisyPNG(t, 1, 1)
	// signature (8) + IHDR length (4) + "IHDR" (4), then width and height
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestImageCompressor_RejectsOversizedRaster(t *testing.T) {
	c := NewImageCompressor(testCompressionConfig())
	file := model.NewFile("bomb.png", "image/png", time.Now(), declaredPNG(t, 30000, 30000))

	_, err := c.Compress(context.Background(), file, Options{})
	assert.ErrorIs(t, err, ErrTooManyPixels)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(file.Data))
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Width, "header is well formed, only the size is refused")
}

func TestImageCompressor_KeepsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 300, 100))
	for x := 0; x < 150; x++ {
		for y := 0; y < 100; y++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	c := NewImageCompressor(testCompressionConfig())
	res, err := c.Compress(context.Background(), model.NewFile("logo.png", "image/png", time.Now(), buf.Bytes()), Options{MaxWidth: 150})
	require.NoError(t, err)
	require.Equal(t, "image/png", res.ContentType)

	out, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	_, _, _, a := out.At(res.Width-1, 0).RGBA()
	assert.Zero(t, a, "transparent pixels stay transparent")
}

func TestImageCompressor_DecodeFailure(t *testing.T) {
	c := NewImageCompressor(testCompressionConfig())
	file := model.NewFile("broken.jpg", "image/jpeg", time.Now(), []byte("not an image"))

	_, err := c.Compress(context.Background(), file, Options{})
	assert.Error(t, err)
}

func TestImageCompressor_CancelledContext(t *testing.T) {
	c := NewImageCompressor(testCompressionConfig())
	file := model.NewFile("a.png", "image/png", time.Now(), noisyPNG(t, 8, 8))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compress(ctx, file, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe_Image(t *testing.T) {
	meta, err := Probe(noisyPNG(t, 31, 17), "image/png")
	require.NoError(t, err)
	assert.Equal(t, model.Metadata{Width: 31, Height: 17, Format: "image/png"}, meta)
}

func TestProbe_DegradesToFormatOnly(t *testing.T) {
	meta, err := Probe([]byte("garbage"), "image/jpeg")
	assert.Error(t, err)
	assert.Equal(t, model.Metadata{Format: "image/jpeg"}, meta)

	meta, err = Probe([]byte("garbage"), "video/webm")
	assert.Error(t, err)
	assert.Equal(t, model.Metadata{Format: "video/webm"}, meta)

	meta, err = Probe([]byte("garbage"), "video/mp4")
	assert.Error(t, err)
	assert.Equal(t, model.Metadata{Format: "video/mp4"}, meta)
}

func box(typ string, payload ...[]byte) []byte {
	var body []byte
	for _, p := range payload {
		body = append(body, p...)
	}
	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], typ)
	return append(out, body...)
}

func mvhdV0(timescale, duration uint32) []byte {
	p := make([]byte, 100)
	binary.BigEndian.PutUint32(p[12:16], timescale)
	binary.BigEndian.PutUint32(p[16:20], duration)
	return box("mvhd", p)
}

func tkhdV0(width, height uint32) []byte {
	p := make([]byte, 84)
	binary.BigEndian.PutUint32(p[76:80], width<<16)
	binary.BigEndian.PutUint32(p[80:84], height<<16)
	return box("tkhd", p)
}

func TestProbe_MP4(t *testing.T) {
	data := append(box("ftyp", []byte("isom0000")),
		box("moov",
			mvhdV0(1000, 12500),
			box("trak", tkhdV0(0, 0)), // audio track has no size
			box("trak", tkhdV0(1280, 720)),
		)...)

	meta, err := Probe(data, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, 1280, meta.Width)
	assert.Equal(t, 720, meta.Height)
	assert.InDelta(t, 12.5, meta.Duration, 1e-9)
	assert.Equal(t, "video/mp4", meta.Format)
}

func TestVideoPoster_CoverArt(t *testing.T) {
	art := noisyPNG(t, 40, 30)
	dataAtom := box("data", []byte{0, 0, 0, 14, 0, 0, 0, 0}, art)
	meta := box("meta", []byte{0, 0, 0, 0}, box("hdlr", make([]byte, 24)), box("ilst", box("covr", dataAtom)))
	data := append(box("ftyp", []byte("isom0000")),
		box("moov", mvhdV0(1000, 5000), box("trak", tkhdV0(1920, 1080)), box("udta", meta))...)

	poster := VideoPoster(data, "video/mp4", 0)
	assert.Equal(t, 40, poster.Bounds().Dx())
	assert.Equal(t, 30, poster.Bounds().Dy())
}

func TestVideoPoster_Placeholder(t *testing.T) {
	data := append(box("ftyp", []byte("isom0000")),
		box("moov", mvhdV0(1000, 5000), box("trak", tkhdV0(720, 1280)))...)

	poster := VideoPoster(data, "video/mp4", 0)
	assert.Equal(t, 720, poster.Bounds().Dx(), "keeps the video's aspect ratio")
	assert.Equal(t, 1280, poster.Bounds().Dy())

	poster = VideoPoster([]byte("webm bytes"), "video/webm", 0)
	assert.Equal(t, 1280, poster.Bounds().Dx())
	assert.Equal(t, 720, poster.Bounds().Dy())
}
