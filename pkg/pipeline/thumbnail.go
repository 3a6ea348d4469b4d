package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// thumbnailSize is the bounding box for generated thumbnails.
const thumbnailSize = 256

// MakeThumbnail scales an image down to fit 256x256, preserving aspect
// ratio, and re-encodes it as PNG. Images already inside the box are
// re-encoded unscaled.
func MakeThumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("thumbnail decode failed: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("thumbnail source has empty bounds")
	}

	tw, th := w, h
	if w > thumbnailSize || h > thumbnailSize {
		if w >= h {
			tw = thumbnailSize
			th = h * thumbnailSize / w
		} else {
			th = thumbnailSize
			tw = w * thumbnailSize / h
		}
		if tw < 1 {
			tw = 1
		}
		if th < 1 {
			th = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("thumbnail encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
