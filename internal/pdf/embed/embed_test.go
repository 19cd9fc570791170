package embed

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pdftest"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/render"
)

var (
	white = color.RGBA{0xff, 0xff, 0xff, 0xff}
	red   = color.RGBA{0xff, 0, 0, 0xff}
	green = color.RGBA{0, 0xff, 0, 0xff}
	blue  = color.RGBA{0, 0, 0xff, 0xff}
)

func renderPage(t *testing.T, data []byte, pageNr int, scale float64) *image.RGBA {
	t.Helper()
	doc, err := render.Open(context.Background(), data)
	require.NoError(t, err)
	defer doc.Close()

	w, h, err := doc.PageSize(pageNr)
	require.NoError(t, err)
	vp, err := raster.FixedViewport(w, h, scale)
	require.NoError(t, err)
	img, err := doc.Render(context.Background(), pageNr, vp)
	require.NoError(t, err)
	return img
}

func annotationWithRect(w, h int, r image.Rectangle, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func TestEmbed_RoundTripOverlaysAnnotation(t *testing.T) {
	source := pdftest.SinglePage(612, 792, "0 0 1 rg 0 0 306 396 re f", "")
	annotation := annotationWithRect(306, 396, image.Rect(200, 50, 250, 100), red)

	res, err := New(nil).Embed(context.Background(), source, annotation, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, DefaultResourceName, res.ResourceName)
	assert.Equal(t, render.Box{LLX: 0, LLY: 0, URX: 612, URY: 792}, res.MediaBox)

	out := renderPage(t, res.Data, 1, 0.5)
	assert.Equal(t, red, out.RGBAAt(225, 75), "overlay pixel")
	assert.Equal(t, blue, out.RGBAAt(50, 300), "original content shows through transparent overlay")
	assert.Equal(t, white, out.RGBAAt(150, 50), "background untouched")
}

func TestEmbed_OverlayCoversFullPage(t *testing.T) {
	source := pdftest.SinglePage(200, 100, "", "")
	annotation := annotationWithRect(50, 25, image.Rect(0, 0, 50, 25), green)

	res, err := New(nil).Embed(context.Background(), source, annotation, 1)
	require.NoError(t, err)

	out := renderPage(t, res.Data, 1, 1)
	for _, pt := range []image.Point{{0, 0}, {199, 0}, {0, 99}, {199, 99}, {100, 50}} {
		assert.Equal(t, green, out.RGBAAt(pt.X, pt.Y), "pixel %v", pt)
	}
}

func TestEmbed_OffsetMediaBox(t *testing.T) {
	var b pdftest.Builder
	catalog := b.Reserve()
	pages := b.Reserve()
	content := b.AddStream("", []byte("0 0 1 rg 100 100 50 50 re f"))
	page := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [100 100 300 200] /Contents %d 0 R >>", pages, content))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page))
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages))

	annotation := annotationWithRect(200, 100, image.Rect(150, 0, 200, 50), red)
	res, err := New(nil).Embed(context.Background(), b.Bytes(catalog), annotation, 1)
	require.NoError(t, err)

	out := renderPage(t, res.Data, 1, 1)
	assert.Equal(t, red, out.RGBAAt(175, 25))
	assert.Equal(t, blue, out.RGBAAt(25, 75))
}

func TestEmbed_OtherPagesUnchanged(t *testing.T) {
	source := pdftest.MultiPage(200, 100, "1 0 0 rg 0 0 200 100 re f", "0 0 1 rg 0 0 100 100 re f")
	annotation := annotationWithRect(200, 100, image.Rect(0, 0, 200, 100), green)

	before := renderPage(t, source, 2, 1)

	res, err := New(nil).Embed(context.Background(), source, annotation, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)

	after := renderPage(t, res.Data, 2, 1)
	assert.Equal(t, before.Pix, after.Pix)

	first := renderPage(t, res.Data, 1, 1)
	assert.Equal(t, green, first.RGBAAt(100, 50))
}

func TestEmbed_PicksFreeResourceName(t *testing.T) {
	source := pdftest.SinglePage(100, 100, "", "")
	annotation := annotationWithRect(10, 10, image.Rect(0, 0, 5, 5), red)
	e := New(nil)

	first, err := e.Embed(context.Background(), source, annotation, 1)
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), first.Data, annotation, 1)
	require.NoError(t, err)

	assert.Equal(t, DefaultResourceName, first.ResourceName)
	assert.Equal(t, DefaultResourceName+"1", second.ResourceName)
}

func TestEmbed_Errors(t *testing.T) {
	source := pdftest.SinglePage(100, 100, "", "")
	annotation := annotationWithRect(10, 10, image.Rect(0, 0, 5, 5), red)
	e := New(nil)

	tests := []struct {
		name       string
		source     []byte
		annotation image.Image
		page       int
	}{
		{"empty annotation", source, image.NewRGBA(image.Rectangle{}), 1},
		{"nil annotation", source, nil, 1},
		{"page out of range", source, annotation, 2},
		{"undecodable source", []byte("%PDF-1.7 garbage"), annotation, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Embed(context.Background(), tt.source, tt.annotation, tt.page)
			assert.Error(t, err)
			assert.Nil(t, res)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, source, annotation, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
