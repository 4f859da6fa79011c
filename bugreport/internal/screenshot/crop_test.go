package screenshot

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

// encodeTestPNG builds a w x h image where each pixel encodes its own
// coordinates, so crops can be verified pixel-exactly.
func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeTestPNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestDecodeWidth(t *testing.T) {
	data := encodeTestPNG(t, 37, 11)
	w, err := decodeWidth(data)
	if err != nil {
		t.Fatal(err)
	}
	if w != 37 {
		t.Fatalf("width = %d, want 37", w)
	}

	if _, err := decodeWidth([]byte("not a png")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCrop(t *testing.T) {
	data := encodeTestPNG(t, 100, 80)
	out, err := crop(data, 10, 20, 30, 40)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeTestPNG(t, out)
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 40 {
		t.Fatalf("crop size = %dx%d, want 30x40", img.Bounds().Dx(), img.Bounds().Dy())
	}
	// Top-left pixel of the crop came from (10, 20) in the source.
	r, g, _, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != 10 || uint8(g>>8) != 20 {
		t.Fatalf("pixel (0,0) encodes (%d, %d), want (10, 20)", r>>8, g>>8)
	}
}

func TestCropClampsToBounds(t *testing.T) {
	data := encodeTestPNG(t, 50, 50)

	// Rectangle extends past the right and bottom edges; out-of-source
	// area stays transparent instead of failing.
	out, err := crop(data, 40, 40, 20, 20)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeTestPNG(t, out)
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 20 {
		t.Fatalf("crop size = %dx%d, want 20x20", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if _, _, _, a := img.At(15, 15).RGBA(); a != 0 {
		t.Fatal("uncovered area is not transparent")
	}
	if _, _, _, a := img.At(5, 5).RGBA(); a == 0 {
		t.Fatal("covered area is transparent")
	}
}

func TestCropEmptyRect(t *testing.T) {
	data := encodeTestPNG(t, 10, 10)
	if _, err := crop(data, 0, 0, 0, 10); err == nil {
		t.Fatal("zero-width crop must fail")
	}
	if _, err := crop(data, 0, 0, 10, -1); err == nil {
		t.Fatal("negative-height crop must fail")
	}
}

func TestCropToViewport(t *testing.T) {
	// Bitmap rendered at 2x: content is 100 CSS px wide, bitmap 200.
	data := encodeTestPNG(t, 200, 300)
	st := &pageState{
		ScrollX:       10,
		ScrollY:       25,
		ViewportW:     50,
		ViewportH:     60,
		ContentWidth:  100,
		ContentHeight: 150,
	}

	out, err := cropToViewport(data, st)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeTestPNG(t, out)
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 120 {
		t.Fatalf("viewport crop = %dx%d, want 100x120", img.Bounds().Dx(), img.Bounds().Dy())
	}
	// Origin of the crop is the scroll offset scaled 2x: (20, 50).
	r, g, _, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != 20 || uint8(g>>8) != 50 {
		t.Fatalf("pixel (0,0) encodes (%d, %d), want (20, 50)", r>>8, g>>8)
	}
}

func TestCropRegionScalesByBitmapWidth(t *testing.T) {
	// Viewport 100 CSS px wide rendered into a 200 px bitmap (DPR 2).
	data := encodeTestPNG(t, 200, 160)
	region := report.Region{X: 10, Y: 20, Width: 30, Height: 40}

	out, err := cropRegion(data, region, 100)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeTestPNG(t, out)
	if img.Bounds().Dx() != 60 || img.Bounds().Dy() != 80 {
		t.Fatalf("region crop = %dx%d, want 60x80", img.Bounds().Dx(), img.Bounds().Dy())
	}
	r, g, _, _ := img.At(0, 0).RGBA()
	if uint8(r>>8) != 20 || uint8(g>>8) != 40 {
		t.Fatalf("pixel (0,0) encodes (%d, %d), want (20, 40)", r>>8, g>>8)
	}
}

func TestCropRegionMinimumSize(t *testing.T) {
	data := encodeTestPNG(t, 100, 100)
	// A sub-pixel region never collapses to an empty crop.
	region := report.Region{X: 0, Y: 0, Width: 1, Height: 1}
	out, err := cropRegion(data, region, 400)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeTestPNG(t, out)
	if img.Bounds().Dx() < 1 || img.Bounds().Dy() < 1 {
		t.Fatal("region crop collapsed to empty")
	}
}

func TestCaptureWithoutPage(t *testing.T) {
	c := New(Config{})
	if _, err := c.Capture(context.Background()); err == nil {
		t.Fatal("Capture without a page must fail")
	}
}
