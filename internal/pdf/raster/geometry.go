// Package raster holds the pixel side of the viewer: coordinate mapping,
// viewports, the base/annotation canvas pair, the immediate-mode annotation
// surface and the compositor.
package raster

import "math"

// Point is a position in either display space or buffer space. Which one is
// implied by the function producing it.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the on-screen bounding rectangle of a raster in display space.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MapToBuffer converts a pointer position in display space into the buffer
// space of a raster whose backing store is bufW x bufH pixels and which is
// currently shown inside display.
//
// The mapping must be recomputed for every event: the display rectangle can
// change between a resize and the next input event. A raster that is absent
// (zero buffer) or collapsed (zero display size) maps everything to the zero
// point.
func MapToBuffer(client Point, display Rect, bufW, bufH int) Point {
	if bufW <= 0 || bufH <= 0 || display.Width <= 0 || display.Height <= 0 {
		return Point{}
	}

	scaleX := float64(bufW) / display.Width
	scaleY := float64(bufH) / display.Height

	return Point{
		X: (client.X - display.Left) * scaleX,
		Y: (client.Y - display.Top) * scaleY,
	}
}

// dist returns the euclidean distance between two points.
func dist(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
