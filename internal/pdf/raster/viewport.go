package raster

import (
	"fmt"
	"math"
)

const (
	// DefaultPrintScale is the fixed scale used when re-rendering for print.
	// Chosen empirically for output sharpness; kept configurable.
	DefaultPrintScale = 2.0

	// MaxBufferDimension bounds either side of a raster buffer.
	MaxBufferDimension = 8192
)

// Viewport is the derived mapping between user-space points and buffer
// pixels. It is never stored; callers recompute it from page geometry and
// the target container.
type Viewport struct {
	PageWidthPts   float64 `json:"page_width_pts"`
	PageHeightPts  float64 `json:"page_height_pts"`
	Scale          float64 `json:"scale"`
	BufferWidthPx  int     `json:"buffer_width_px"`
	BufferHeightPx int     `json:"buffer_height_px"`
}

// FitViewport computes the fit-to-container viewport:
// scale = min(containerW/pageW, containerH/pageH).
func FitViewport(pageW, pageH, containerW, containerH float64) (Viewport, error) {
	if pageW <= 0 || pageH <= 0 {
		return Viewport{}, fmt.Errorf("invalid page size %gx%g", pageW, pageH)
	}
	if containerW <= 0 || containerH <= 0 {
		return Viewport{}, fmt.Errorf("invalid container size %gx%g", containerW, containerH)
	}

	scale := math.Min(containerW/pageW, containerH/pageH)
	return FixedViewport(pageW, pageH, scale)
}

// FixedViewport computes a viewport for an explicit scale, used for print
// and export where the container is irrelevant.
func FixedViewport(pageW, pageH, scale float64) (Viewport, error) {
	if pageW <= 0 || pageH <= 0 {
		return Viewport{}, fmt.Errorf("invalid page size %gx%g", pageW, pageH)
	}
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return Viewport{}, fmt.Errorf("invalid scale %g", scale)
	}

	vp := Viewport{
		PageWidthPts:   pageW,
		PageHeightPts:  pageH,
		Scale:          scale,
		BufferWidthPx:  int(math.Round(pageW * scale)),
		BufferHeightPx: int(math.Round(pageH * scale)),
	}

	if vp.BufferWidthPx < 1 || vp.BufferHeightPx < 1 {
		return Viewport{}, fmt.Errorf("viewport collapses to %dx%d pixels", vp.BufferWidthPx, vp.BufferHeightPx)
	}
	if vp.BufferWidthPx > MaxBufferDimension || vp.BufferHeightPx > MaxBufferDimension {
		return Viewport{}, fmt.Errorf("viewport %dx%d exceeds maximum buffer dimension %d",
			vp.BufferWidthPx, vp.BufferHeightPx, MaxBufferDimension)
	}

	return vp, nil
}

// String returns a compact description of the viewport
func (v Viewport) String() string {
	return fmt.Sprintf("%gx%gpt @%.4g -> %dx%dpx",
		v.PageWidthPts, v.PageHeightPts, v.Scale, v.BufferWidthPx, v.BufferHeightPx)
}
