package raster

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapToBuffer(t *testing.T) {
	tests := []struct {
		name   string
		client Point
		rect   Rect
		bufW   int
		bufH   int
		want   Point
	}{
		{
			name:   "one to one",
			client: Point{153, 198},
			rect:   Rect{Width: 306, Height: 396},
			bufW:   306, bufH: 396,
			want: Point{153, 198},
		},
		{
			name:   "css shrunk to half",
			client: Point{110, 70},
			rect:   Rect{Left: 10, Top: 20, Width: 306, Height: 396},
			bufW:   612, bufH: 792,
			want: Point{200, 100},
		},
		{
			name:   "absent raster",
			client: Point{5, 5},
			rect:   Rect{Width: 306, Height: 396},
			want:   Point{},
		},
		{
			name:   "collapsed display",
			client: Point{5, 5},
			bufW:   10, bufH: 10,
			want: Point{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapToBuffer(tt.client, tt.rect, tt.bufW, tt.bufH)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MapToBuffer mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapToBuffer_RecomputedAfterResize(t *testing.T) {
	before := MapToBuffer(Point{100, 100}, Rect{Width: 200, Height: 200}, 400, 400)
	after := MapToBuffer(Point{100, 100}, Rect{Width: 400, Height: 400}, 400, 400)

	assert.Equal(t, Point{200, 200}, before)
	assert.Equal(t, Point{100, 100}, after)
}

func TestFitViewport_LetterInHalfContainer(t *testing.T) {
	vp, err := FitViewport(612, 792, 306, 396)
	require.NoError(t, err)

	want := Viewport{
		PageWidthPts:   612,
		PageHeightPts:  792,
		Scale:          0.5,
		BufferWidthPx:  306,
		BufferHeightPx: 396,
	}
	if diff := cmp.Diff(want, vp); diff != "" {
		t.Errorf("viewport mismatch (-want +got):\n%s", diff)
	}
}

func TestFitViewport_PreservesAspectRatio(t *testing.T) {
	pages := [][2]float64{{612, 792}, {792, 612}, {595.28, 841.89}, {200, 50}}
	for _, page := range pages {
		for cw := 50.0; cw <= 1600; cw += 137 {
			for ch := 50.0; ch <= 1600; ch += 151 {
				vp, err := FitViewport(page[0], page[1], cw, ch)
				if err != nil {
					continue
				}
				// Expected height derived from the buffer width must be
				// within one pixel of the actual height.
				expectH := float64(vp.BufferWidthPx) * page[1] / page[0]
				assert.LessOrEqualf(t, math.Abs(expectH-float64(vp.BufferHeightPx)), 1.0+page[1]/page[0],
					"page %v container %gx%g -> %s", page, cw, ch, vp)
				assert.LessOrEqual(t, float64(vp.BufferWidthPx), math.Round(cw)+1)
				assert.LessOrEqual(t, float64(vp.BufferHeightPx), math.Round(ch)+1)
			}
		}
	}
}

func TestFixedViewport(t *testing.T) {
	vp, err := FixedViewport(612, 792, DefaultPrintScale)
	require.NoError(t, err)
	assert.Equal(t, 1224, vp.BufferWidthPx)
	assert.Equal(t, 1584, vp.BufferHeightPx)

	_, err = FixedViewport(612, 792, 0)
	assert.Error(t, err)

	_, err = FixedViewport(612, 792, 100)
	assert.Error(t, err, "buffer beyond maximum dimension must be rejected")

	_, err = FitViewport(0, 792, 100, 100)
	assert.Error(t, err)
}

func newSyncedPair(t *testing.T, w, h int) *CanvasPair {
	t.Helper()
	cp := NewCanvasPair(w, h)
	require.True(t, cp.Replace(NewBaseRaster(w, h, color.White)))
	require.True(t, cp.Synced())
	return cp
}

func TestCanvasPair_ResizeDropsSync(t *testing.T) {
	cp := newSyncedPair(t, 20, 10)
	cp.Resize(40, 30)

	assert.False(t, cp.Synced())
	w, h := cp.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
	assert.Equal(t, cp.Base().Bounds(), cp.Annotation().Bounds())

	cp.MarkSynced()
	assert.True(t, cp.Synced())
}

func TestSurface_ClearIsIdempotent(t *testing.T) {
	cp := newSyncedPair(t, 64, 64)
	s := NewSurface(cp, true)

	require.NoError(t, s.BeginStroke(Point{5, 5}))
	require.NoError(t, s.ExtendStroke(Point{50, 50}))
	s.EndStroke()
	require.False(t, IsBlank(cp.Annotation()))

	s.Clear()
	once := bytes.Clone(cp.Annotation().Pix)
	s.Clear()
	twice := cp.Annotation().Pix

	assert.True(t, bytes.Equal(once, twice))
	assert.True(t, IsBlank(cp.Annotation()))
	assert.Zero(t, s.Segments())
}

func TestSurface_RejectsInput(t *testing.T) {
	t.Run("read only", func(t *testing.T) {
		s := NewSurface(newSyncedPair(t, 10, 10), false)
		assert.ErrorIs(t, s.BeginStroke(Point{1, 1}), ErrNotEditable)
	})

	t.Run("not synced", func(t *testing.T) {
		s := NewSurface(NewCanvasPair(10, 10), true)
		assert.ErrorIs(t, s.BeginStroke(Point{1, 1}), ErrNotSynced)
	})

	t.Run("extend without begin", func(t *testing.T) {
		s := NewSurface(newSyncedPair(t, 10, 10), true)
		assert.ErrorIs(t, s.ExtendStroke(Point{1, 1}), ErrNoStroke)
	})

	t.Run("resize mid stroke", func(t *testing.T) {
		cp := newSyncedPair(t, 10, 10)
		s := NewSurface(cp, true)
		require.NoError(t, s.BeginStroke(Point{1, 1}))
		cp.Resize(20, 20)
		assert.ErrorIs(t, s.ExtendStroke(Point{5, 5}), ErrNotSynced)
		assert.False(t, s.Drawing())
	})
}

func TestSurface_ColorChangeAffectsOnlyLaterSegments(t *testing.T) {
	cp := newSyncedPair(t, 100, 20)
	s := NewSurface(cp, true)
	s.SetWidth(6)

	require.NoError(t, s.BeginStroke(Point{10, 10}))
	require.NoError(t, s.ExtendStroke(Point{40, 10}))
	s.SetColor(color.RGBA{R: 0xff, A: 0xff})
	require.NoError(t, s.ExtendStroke(Point{90, 10}))
	s.EndStroke()

	first := cp.Annotation().RGBAAt(25, 10)
	second := cp.Annotation().RGBAAt(70, 10)

	assert.Equal(t, color.RGBA{A: 0xff}, first)
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, second)
	assert.Equal(t, 2, s.Segments())
}

func TestSurface_WidthIsClamped(t *testing.T) {
	s := NewSurface(nil, true)
	s.SetWidth(0)
	assert.Equal(t, MinStrokeWidth, s.Width())
	s.SetWidth(99)
	assert.Equal(t, MaxStrokeWidth, s.Width())
}

func TestCompose_OrderMatters(t *testing.T) {
	cp := newSyncedPair(t, 40, 40)
	s := NewSurface(cp, true)
	s.SetWidth(8)
	require.NoError(t, s.BeginStroke(Point{5, 20}))
	require.NoError(t, s.ExtendStroke(Point{35, 20}))

	preview := Compose(cp.Base(), cp.Annotation())
	reversed := Compose(cp.Annotation(), cp.Base())

	assert.False(t, bytes.Equal(preview.Pix, reversed.Pix))
	assert.Equal(t, color.RGBA{A: 0xff}, preview.RGBAAt(20, 20))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, preview.RGBAAt(20, 2))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, reversed.RGBAAt(20, 20))
}

func TestCompose_EdgePixelsBlend(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 2, 1))
	base.SetRGBA(0, 0, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	base.SetRGBA(1, 0, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})

	top := image.NewRGBA(image.Rect(0, 0, 2, 1))
	top.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	// Half-covered black edge pixel, premultiplied.
	top.SetRGBA(1, 0, color.RGBA{A: 0x80})

	out := Compose(base, top)
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, out.RGBAAt(0, 0))

	edge := out.RGBAAt(1, 0)
	assert.Equal(t, uint8(0xff), edge.A)
	assert.InDelta(t, 0x7f, int(edge.R), 1)
	assert.Equal(t, edge.R, edge.G)
	assert.Equal(t, edge.R, edge.B)
}

func TestCompose_EmptyAnnotationIsIdentity(t *testing.T) {
	cp := newSyncedPair(t, 16, 16)
	out, err := ComposePair(cp)
	require.NoError(t, err)
	assert.Equal(t, cp.Base().Pix, out.Pix)
}

func TestEncodePNG_Deterministic(t *testing.T) {
	cp := newSyncedPair(t, 32, 32)
	s := NewSurface(cp, true)
	require.NoError(t, s.BeginStroke(Point{2, 2}))
	require.NoError(t, s.ExtendStroke(Point{30, 28}))

	a, err := EncodePNG(Compose(cp.Base(), cp.Annotation()))
	require.NoError(t, err)
	b, err := EncodePNG(Compose(cp.Base(), cp.Annotation()))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	img, err := DecodePNG(a)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x80, A: 0xff}, c)

	c, err = ParseHexColor("0f0")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, c)

	_, err = ParseHexColor("#12")
	assert.Error(t, err)
}

func TestSegment_DotForZeroLength(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	Segment(img, Point{5, 5}, Point{5, 5}, 4, color.Black)
	assert.Equal(t, uint8(0xff), img.RGBAAt(5, 5).A)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).A)
}

func TestCanvasPair_Restore(t *testing.T) {
	pair := newSyncedPair(t, 8, 8)
	s := NewSurface(pair, true)
	require.NoError(t, s.BeginStroke(Point{1, 1}))
	require.NoError(t, s.ExtendStroke(Point{6, 6}))
	snapshot := pair.Clone()

	require.True(t, pair.Replace(NewBaseRaster(16, 16, color.White)))
	assert.True(t, IsBlank(pair.Annotation()))

	assert.True(t, pair.Restore(NewBaseRaster(8, 8, color.White), snapshot))
	assert.Equal(t, snapshot.Annotation().Pix, pair.Annotation().Pix)
	assert.True(t, pair.Synced())

	assert.False(t, pair.Restore(NewBaseRaster(4, 4, color.White), snapshot), "size change drops the annotation")
	assert.True(t, IsBlank(pair.Annotation()))
}

func TestScaleTo(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	out := ScaleTo(src, 8, 8)
	assert.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, out.RGBAAt(7, 7))

	assert.True(t, IsBlank(ScaleTo(nil, 2, 2)))
}
