package capture

import (
	"bytes"
	"image/png"
	"testing"
)

func TestCaptureExactModeHonorsRequestedDimensions(t *testing.T) {
	c := New()
	data, w, h, err := c.Capture(640, 480, ModeExact)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if w != 640 || h != 480 {
		t.Fatalf("dims = (%d,%d), want (640,480)", w, h)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 640 || bounds.Dy() != 480 {
		t.Fatalf("decoded png dims = (%d,%d), want (640,480)", bounds.Dx(), bounds.Dy())
	}
}

func TestCaptureDefaultsWhenDimensionsOmitted(t *testing.T) {
	c := New()
	_, w, h, err := c.Capture(0, 0, ModeAspectFit)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if w != defaultWidth {
		t.Fatalf("width = %d, want default %d", w, defaultWidth)
	}
	_ = h
}

func TestCaptureAspectFitPreservesRatio(t *testing.T) {
	c := New()
	_, w, h, err := c.Capture(1024, 1024, ModeAspectFit)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	// Native is 1920x1080 (16:9); fitting into a 1024x1024 box should be
	// width-constrained, leaving height shorter than the box.
	if h >= w {
		t.Fatalf("aspect_fit into a square box should be wider than tall for a 16:9 source, got (%d,%d)", w, h)
	}
}

func TestDimensionsReturnsNativeResolution(t *testing.T) {
	c := New()
	w, h := c.Dimensions()
	if w <= 0 || h <= 0 {
		t.Fatalf("Dimensions() = (%d,%d), want positive", w, h)
	}
}
