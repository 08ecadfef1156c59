// Package capture is the capability collaborator behind
// /computer/display/*. A real screen-capture backend is necessarily
// OS-specific (DXGI/X11/cgo) and is left unimplemented here; this package
// instead renders a synthetic frame with the stdlib image packages so the
// HTTP contract (pick dimensions, encode, report size) has a working
// reference implementation on every platform.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Mode controls how the requested width/height are reconciled with the
// capturer's native resolution.
type Mode string

const (
	ModeExact      Mode = "exact"
	ModeAspectFit  Mode = "aspect_fit"
	ModeAspectFill Mode = "aspect_fill"
)

const (
	defaultWidth  = 1024
	defaultHeight = 768
	nativeWidth   = 1920
	nativeHeight  = 1080
)

// Capturer produces a rendering of the current "display" on demand.
type Capturer interface {
	Dimensions() (width, height int)
	Capture(width, height int, mode Mode) (png []byte, outW, outH int, err error)
}

// synthetic is a stdlib-only stand-in for a real screen capturer: it renders
// a flat-shaded PNG frame of the requested size. Swapping this for a real
// capturer (DXGI, X11, CoreGraphics) does not change Capturer's contract.
type synthetic struct{}

// New returns the default Capturer.
func New() Capturer {
	return synthetic{}
}

func (synthetic) Dimensions() (int, int) {
	return nativeWidth, nativeHeight
}

func (s synthetic) Capture(width, height int, mode Mode) ([]byte, int, int, error) {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	outW, outH := resolveDimensions(width, height, mode)

	img := image.NewRGBA(image.Rect(0, 0, outW, outH))
	fill := color.RGBA{R: 0x20, G: 0x20, B: 0x28, A: 0xff}
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("capture: encode png: %w", err)
	}
	return buf.Bytes(), outW, outH, nil
}

func resolveDimensions(reqW, reqH int, mode Mode) (int, int) {
	switch mode {
	case ModeExact:
		return reqW, reqH
	case ModeAspectFill:
		return fitAspect(reqW, reqH, nativeWidth, nativeHeight, true)
	case ModeAspectFit, "":
		return fitAspect(reqW, reqH, nativeWidth, nativeHeight, false)
	default:
		return reqW, reqH
	}
}

// fitAspect scales (nativeW, nativeH) to fit within (or fill) (boxW, boxH)
// while preserving aspect ratio.
func fitAspect(boxW, boxH, nativeW, nativeH int, fill bool) (int, int) {
	boxRatio := float64(boxW) / float64(boxH)
	nativeRatio := float64(nativeW) / float64(nativeH)

	fitsByWidth := boxRatio < nativeRatio
	if fill {
		fitsByWidth = !fitsByWidth
	}

	if fitsByWidth {
		return boxW, int(float64(boxW) / nativeRatio)
	}
	return int(float64(boxH) * nativeRatio), boxH
}
