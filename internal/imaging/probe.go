package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/model"
)

var errNoMovieHeader = errors.New("no moov/mvhd box")

// Probe reads intrinsic dimensions (and duration for videos) from data.
// Any decode failure degrades the result to the format alone.
func Probe(data []byte, contentType string) (model.Metadata, error) {
	meta := model.Metadata{Format: contentType}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return meta, fmt.Errorf("failed to decode image config: %w", err)
		}
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	case contentType == "video/mp4" || contentType == "video/quicktime":
		info, err := probeMP4(data)
		if err != nil {
			return meta, err
		}
		meta.Width = info.width
		meta.Height = info.height
		meta.Duration = info.duration
	default:
		return meta, fmt.Errorf("no probe for %q", contentType)
	}

	return meta, nil
}

type movieInfo struct {
	width, height int
	duration      float64
}

// probeMP4 walks the ISO-BMFF box tree: moov/mvhd for the duration and the
// first trak/tkhd with a non-zero size for the dimensions.
func probeMP4(data []byte) (movieInfo, error) {
	var info movieInfo

	moov, ok := findBox(data, "moov")
	if !ok {
		return info, errNoMovieHeader
	}

	mvhd, ok := findBox(moov, "mvhd")
	if !ok || len(mvhd) < 4 {
		return info, errNoMovieHeader
	}
	var timescale uint32
	var duration uint64
	if mvhd[0] == 1 {
		if len(mvhd) < 32 {
			return info, errNoMovieHeader
		}
		timescale = binary.BigEndian.Uint32(mvhd[20:24])
		duration = binary.BigEndian.Uint64(mvhd[24:32])
	} else {
		if len(mvhd) < 20 {
			return info, errNoMovieHeader
		}
		timescale = binary.BigEndian.Uint32(mvhd[12:16])
		duration = uint64(binary.BigEndian.Uint32(mvhd[16:20]))
	}
	if timescale > 0 {
		info.duration = float64(duration) / float64(timescale)
	}

	walkBoxes(moov, func(typ string, payload []byte) bool {
		if typ != "trak" {
			return true
		}
		tkhd, ok := findBox(payload, "tkhd")
		if !ok || len(tkhd) < 4 {
			return true
		}
		off := 76
		if tkhd[0] == 1 {
			off = 88
		}
		if len(tkhd) < off+8 {
			return true
		}
		w := int(binary.BigEndian.Uint32(tkhd[off:off+4]) >> 16)
		h := int(binary.BigEndian.Uint32(tkhd[off+4:off+8]) >> 16)
		if w > 0 && h > 0 {
			info.width, info.height = w, h
			return false
		}
		return true
	})

	return info, nil
}

func findBox(data []byte, want string) ([]byte, bool) {
	var found []byte
	walkBoxes(data, func(typ string, payload []byte) bool {
		if typ == want {
			found = payload
			return false
		}
		return true
	})
	return found, found != nil
}

// walkBoxes calls fn for each sibling box in data until fn returns false
func walkBoxes(data []byte, fn func(typ string, payload []byte) bool) {
	for len(data) >= 8 {
		size := uint64(binary.BigEndian.Uint32(data[0:4]))
		typ := string(data[4:8])
		header := uint64(8)

		switch size {
		case 0:
			size = uint64(len(data))
		case 1:
			if len(data) < 16 {
				return
			}
			size = binary.BigEndian.Uint64(data[8:16])
			header = 16
		}
		if size < header || size > uint64(len(data)) {
			return
		}
		if !fn(typ, data[header:size]) {
			return
		}
		data = data[size:]
	}
}
