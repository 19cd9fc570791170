package render

import (
	"image/color"
	"math"
)

// textState holds the parameters set by text operators.
type textState struct {
	fontSize    float64
	charSpace   float64
	wordSpace   float64
	hScale      float64
	leading     float64
	rise        float64
	renderMode  int
	composite   bool
	matrix      Matrix
	lineMatrix  Matrix
	inTextBlock bool
}

// graphicsState is the subset of the PDF graphics state the painter honors.
type graphicsState struct {
	ctm         Matrix
	fill        color.RGBA
	stroke      color.RGBA
	fillComps   int
	strokeComps int
	lineWidth   float64
	fillAlpha   float64
	strokeAlpha float64
	text        textState
}

func newGraphicsState(ctm Matrix) graphicsState {
	return graphicsState{
		ctm:         ctm,
		fill:        color.RGBA{A: 0xff},
		stroke:      color.RGBA{A: 0xff},
		fillComps:   1,
		strokeComps: 1,
		lineWidth:   1,
		fillAlpha:   1,
		strokeAlpha: 1,
		text: textState{
			hScale: 1,
			matrix: Identity, lineMatrix: Identity,
		},
	}
}

// fillColor returns the fill color with the current constant alpha applied.
func (gs *graphicsState) fillColor() color.RGBA {
	return withAlpha(gs.fill, gs.fillAlpha)
}

// strokeColor returns the stroke color with the current constant alpha applied.
func (gs *graphicsState) strokeColor() color.RGBA {
	return withAlpha(gs.stroke, gs.strokeAlpha)
}

func withAlpha(c color.RGBA, alpha float64) color.RGBA {
	if alpha >= 1 {
		return c
	}
	a := clamp01(alpha)
	// color.RGBA is alpha-premultiplied.
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: uint8(float64(c.A) * a),
	}
}

// colorFromComponents interprets operands by count: 1 gray, 3 RGB, 4 CMYK.
func colorFromComponents(v []float64) (color.RGBA, bool) {
	switch len(v) {
	case 1:
		g := unit(v[0])
		return color.RGBA{g, g, g, 0xff}, true
	case 3:
		return color.RGBA{unit(v[0]), unit(v[1]), unit(v[2]), 0xff}, true
	case 4:
		r, g, b := cmykToRGB(v[0], v[1], v[2], v[3])
		return color.RGBA{r, g, b, 0xff}, true
	}
	return color.RGBA{}, false
}

func cmykToRGB(c, m, y, k float64) (uint8, uint8, uint8) {
	k = clamp01(k)
	return unit((1 - clamp01(c)) * (1 - k)),
		unit((1 - clamp01(m)) * (1 - k)),
		unit((1 - clamp01(y)) * (1 - k))
}

func unit(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// componentsFor returns the number of color operands a named color space
// takes. Unknown spaces (Pattern, Separation, ...) return 0 and are painted
// black.
func componentsFor(space string) int {
	switch space {
	case "DeviceGray", "CalGray", "G":
		return 1
	case "DeviceRGB", "CalRGB", "RGB", "Lab":
		return 3
	case "DeviceCMYK", "CMYK":
		return 4
	}
	return 0
}
