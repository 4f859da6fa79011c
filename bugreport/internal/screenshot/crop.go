package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

// decodeWidth reads just the PNG header to learn the bitmap width.
func decodeWidth(data []byte) (int, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode png config: %w", err)
	}
	return cfg.Width, nil
}

// crop decodes a PNG, cuts the (x, y, w, h) rectangle clamped to the
// image bounds, and re-encodes. The output is exactly w x h; areas the
// source does not cover stay transparent rather than failing the crop.
func crop(data []byte, x, y, w, h int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}

	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("crop: empty target rectangle %dx%d", w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	srcRect := image.Rect(x, y, x+w, y+h).Intersect(src.Bounds())
	if !srcRect.Empty() {
		draw.Draw(dst, image.Rect(srcRect.Min.X-x, srcRect.Min.Y-y, srcRect.Max.X-x, srcRect.Max.Y-y), src, srcRect.Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
