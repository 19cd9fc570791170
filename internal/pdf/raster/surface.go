package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
)

const (
	// DefaultStrokeWidth matches the initial width of the drawing controls.
	DefaultStrokeWidth = 2.0

	// MinStrokeWidth and MaxStrokeWidth bound the width slider.
	MinStrokeWidth = 1.0
	MaxStrokeWidth = 10.0
)

var (
	// ErrNotEditable is returned when input arrives while the surface is read-only.
	ErrNotEditable = errors.New("annotation surface is read-only")

	// ErrNotSynced is returned when input arrives before the base raster has
	// finished rendering at the current dimensions.
	ErrNotSynced = errors.New("annotation surface is not synchronized with the page raster")

	// ErrNoStroke is returned by ExtendStroke without a preceding BeginStroke.
	ErrNoStroke = errors.New("no stroke in progress")
)

// Surface paints strokes straight into the annotation raster of a
// CanvasPair. There is no stroke log: once a segment is painted only Clear
// can remove it.
type Surface struct {
	pair     *CanvasPair
	color    color.Color
	width    float64
	editable bool
	drawing  bool
	last     Point
	segments int
}

// NewSurface creates a surface bound to pair.
func NewSurface(pair *CanvasPair, editable bool) *Surface {
	return &Surface{
		pair:     pair,
		color:    color.Black,
		width:    DefaultStrokeWidth,
		editable: editable,
	}
}

// Attach binds the surface to a different canvas pair and drops any stroke
// in progress.
func (s *Surface) Attach(pair *CanvasPair) {
	s.pair = pair
	s.drawing = false
}

// SetEditable toggles read-only presentation mode.
func (s *Surface) SetEditable(editable bool) {
	s.editable = editable
	if !editable {
		s.drawing = false
	}
}

// Editable reports whether input is accepted.
func (s *Surface) Editable() bool {
	return s.editable
}

// SetColor changes the color of subsequent segments.
func (s *Surface) SetColor(c color.Color) {
	if c != nil {
		s.color = c
	}
}

// Color returns the current stroke color.
func (s *Surface) Color() color.Color {
	return s.color
}

// SetWidth changes the width of subsequent segments, clamped to the slider range.
func (s *Surface) SetWidth(w float64) {
	switch {
	case w < MinStrokeWidth:
		w = MinStrokeWidth
	case w > MaxStrokeWidth:
		w = MaxStrokeWidth
	}
	s.width = w
}

// Width returns the current stroke width in buffer pixels.
func (s *Surface) Width() float64 {
	return s.width
}

// Drawing reports whether a stroke is in progress.
func (s *Surface) Drawing() bool {
	return s.drawing
}

// Segments returns the number of segments painted since the last Clear.
func (s *Surface) Segments() int {
	return s.segments
}

func (s *Surface) accepting() error {
	if !s.editable {
		return ErrNotEditable
	}
	if !s.pair.Synced() {
		return ErrNotSynced
	}
	return nil
}

// BeginStroke records the starting buffer position of a stroke. Nothing is
// painted until the stroke is extended.
func (s *Surface) BeginStroke(pos Point) error {
	if err := s.accepting(); err != nil {
		return err
	}
	s.last = pos
	s.drawing = true
	return nil
}

// ExtendStroke paints a round-capped segment from the previous position to
// pos using the color and width in effect right now.
func (s *Surface) ExtendStroke(pos Point) error {
	if err := s.accepting(); err != nil {
		s.drawing = false
		return err
	}
	if !s.drawing {
		return ErrNoStroke
	}

	Segment(s.pair.annotation, s.last, pos, s.width, s.color)
	s.last = pos
	s.segments++
	return nil
}

// EndStroke finishes the current stroke. Calling it with no stroke in
// progress is harmless.
func (s *Surface) EndStroke() {
	s.drawing = false
}

// Clear wipes the annotation raster to fully transparent. Repeated calls
// leave the raster in the same state.
func (s *Surface) Clear() {
	s.drawing = false
	s.segments = 0
	if s.pair == nil || s.pair.annotation == nil {
		return
	}
	draw.Draw(s.pair.annotation, s.pair.annotation.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// ParseHexColor parses "#rgb" or "#rrggbb" into an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
