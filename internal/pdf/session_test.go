package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/ctr"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pdftest"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
)

var quietLogger = log.New(io.Discard, "", 0)

// letterDoc is a US letter page with a blue lower-left quadrant.
func letterDoc() []byte {
	return pdftest.SinglePage(612, 792, "0 0 1 rg 0 0 306 396 re f", "")
}

var halfContainer = Container{Width: 306, Height: 396}

func openSession(t *testing.T, editable bool) *Session {
	t.Helper()
	s := NewSession("test", SessionOptions{
		Editable:  editable,
		Container: halfContainer,
		Logger:    quietLogger,
	})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Load(context.Background(), letterDoc(), nil))
	_, err := s.Render(context.Background(), nil)
	require.NoError(t, err)
	return s
}

func drawDiagonal(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.SetDrawingMode(true))
	res, err := s.Stroke(StrokeRequest{Points: []raster.Point{{X: 20, Y: 20}, {X: 100, Y: 100}}, Width: 4})
	require.NoError(t, err)
	require.Equal(t, 1, res.Segments)
}

type recordingPrinter struct {
	jobs    []PrintJob
	err     error
	panicky bool
}

func (p *recordingPrinter) Print(_ context.Context, job PrintJob) (string, error) {
	if p.panicky {
		panic("printer on fire")
	}
	p.jobs = append(p.jobs, job)
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("job-%d", len(p.jobs)), nil
}

func TestSession_RenderFitsContainer(t *testing.T) {
	s := openSession(t, true)

	want := raster.Viewport{PageWidthPts: 612, PageHeightPts: 792, Scale: 0.5, BufferWidthPx: 306, BufferHeightPx: 396}
	if diff := cmp.Diff(want, s.State().Viewport); diff != "" {
		t.Errorf("viewport mismatch (-want +got):\n%s", diff)
	}

	w, h := s.pair.Size()
	assert.Equal(t, 306, w)
	assert.Equal(t, 396, h)
	assert.True(t, s.pair.Synced())

	// Blue quadrant at the bottom left, white elsewhere.
	assert.Equal(t, uint8(0xff), s.pair.Base().RGBAAt(10, 390).B)
	assert.Equal(t, uint8(0), s.pair.Base().RGBAAt(10, 390).R)
	assert.Equal(t, uint8(0xff), s.pair.Base().RGBAAt(300, 10).R)
}

func TestSession_RenderClearsAnnotation(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)
	require.False(t, raster.IsBlank(s.pair.Annotation()))

	vp, err := s.Render(context.Background(), &Container{Width: 612, Height: 792})
	require.NoError(t, err)
	assert.Equal(t, 1.0, vp.Scale)
	assert.True(t, raster.IsBlank(s.pair.Annotation()))
}

func TestSession_RenderFailureKeepsRasters(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)
	base, annotation := s.pair.Base(), s.pair.Annotation()

	_, err := s.Render(context.Background(), &Container{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeRenderFailed, errors.TypeOf(err))

	assert.Same(t, base, s.pair.Base())
	assert.Same(t, annotation, s.pair.Annotation())
	assert.Equal(t, 0.5, s.State().Viewport.Scale)
}

func TestSession_StrokeIgnoredWithoutDrawingMode(t *testing.T) {
	s := openSession(t, true)

	res, err := s.Stroke(StrokeRequest{Points: []raster.Point{{X: 1, Y: 1}, {X: 50, Y: 50}}})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Zero(t, res.Segments)
	assert.True(t, raster.IsBlank(s.pair.Annotation()))
}

func TestSession_StrokeMapsDisplayCoordinates(t *testing.T) {
	s := openSession(t, true)
	require.NoError(t, s.SetDrawingMode(true))

	// Displayed at twice the buffer size, offset by (10, 20).
	display := &raster.Rect{Left: 10, Top: 20, Width: 612, Height: 792}
	res, err := s.Stroke(StrokeRequest{
		Points:  []raster.Point{{X: 316, Y: 416}},
		Display: display,
		Color:   "#ff0000",
		Width:   4,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Segments, "a tap paints a dot")

	got := s.pair.Annotation().RGBAAt(153, 198)
	assert.Equal(t, uint8(0xff), got.R)
	assert.Equal(t, uint8(0xff), got.A)
	assert.Zero(t, s.pair.Annotation().RGBAAt(10, 10).A)
}

func TestSession_StrokeErrors(t *testing.T) {
	s := openSession(t, true)
	require.NoError(t, s.SetDrawingMode(true))

	_, err := s.Stroke(StrokeRequest{})
	assert.Equal(t, errors.ErrorTypeInvalidInput, errors.TypeOf(err))

	_, err = s.Stroke(StrokeRequest{Points: []raster.Point{{X: 1, Y: 1}}, Color: "blue"})
	assert.Equal(t, errors.ErrorTypeInvalidInput, errors.TypeOf(err))

	readOnly := openSession(t, false)
	require.NoError(t, readOnly.SetDrawingMode(true))
	_, err = readOnly.Stroke(StrokeRequest{Points: []raster.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}})
	assert.Equal(t, errors.ErrorTypeInvalidInput, errors.TypeOf(err))
	assert.ErrorIs(t, err, raster.ErrNotEditable)
}

func TestSession_ClearIsIdempotent(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)

	require.NoError(t, s.Clear())
	assert.True(t, raster.IsBlank(s.pair.Annotation()))
	require.NoError(t, s.Clear())
	assert.True(t, raster.IsBlank(s.pair.Annotation()))
}

func TestSession_BusyRefusesInput(t *testing.T) {
	s := openSession(t, true)
	require.NoError(t, s.SetDrawingMode(true))
	require.NoError(t, s.begin("render"))

	_, err := s.Stroke(StrokeRequest{Points: []raster.Point{{X: 1, Y: 1}}})
	assert.Equal(t, errors.ErrorTypeBusy, errors.TypeOf(err))
	assert.Equal(t, errors.ErrorTypeBusy, errors.TypeOf(s.Clear()))

	_, err = s.Render(context.Background(), nil)
	assert.Equal(t, errors.ErrorTypeBusy, errors.TypeOf(err))

	s.end()
	_, err = s.Stroke(StrokeRequest{Points: []raster.Point{{X: 1, Y: 1}}})
	assert.NoError(t, err)
}

func TestSession_CloseWhileBusy(t *testing.T) {
	s := openSession(t, true)
	require.NoError(t, s.begin("save"))

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.NotNil(t, s.doc, "document stays alive until the running operation ends")

	s.end()
	assert.Nil(t, s.doc)

	_, err := s.Render(context.Background(), nil)
	assert.Equal(t, errors.ErrorTypeSessionClosed, errors.TypeOf(err))
	assert.Equal(t, errors.ErrorTypeSessionClosed, errors.TypeOf(s.Load(context.Background(), letterDoc(), nil)))
	assert.NoError(t, s.Close())
}

func TestSession_LoadFailures(t *testing.T) {
	s := NewSession("bad", SessionOptions{Logger: quietLogger})
	defer s.Close()

	err := s.Load(context.Background(), []byte("not a pdf"), nil)
	assert.Equal(t, errors.ErrorTypeFetchFailed, errors.TypeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Load(ctx, letterDoc(), nil)
	assert.Equal(t, errors.ErrorTypeFetchFailed, errors.TypeOf(err))

	_, err = s.Render(context.Background(), &halfContainer)
	assert.Equal(t, errors.ErrorTypeRenderFailed, errors.TypeOf(err))
}

func TestSession_LoadReplacesDocument(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)
	_, err := s.Save(context.Background())
	require.NoError(t, err)
	first := s.doc

	require.NoError(t, s.Load(context.Background(), letterDoc(), nil))
	assert.True(t, first.Closed())
	assert.False(t, s.State().Signed)
}

func TestSession_LoadRequiresRender(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)

	wide := pdftest.SinglePage(200, 100, "0 0 1 rg 0 0 100 50 re f", "")
	require.NoError(t, s.Load(context.Background(), wide, nil))
	assert.False(t, s.pair.Synced())
	assert.Equal(t, raster.Viewport{}, s.State().Viewport)

	_, err := s.Stroke(StrokeRequest{Points: []raster.Point{{X: 10, Y: 10}, {X: 50, Y: 50}}})
	assert.Equal(t, errors.ErrorTypeInvalidInput, errors.TypeOf(err))
	_, err = s.Save(context.Background())
	assert.Equal(t, errors.ErrorTypeInvalidInput, errors.TypeOf(err))

	vp, err := s.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 200.0, vp.PageWidthPts)
	assert.True(t, raster.IsBlank(s.pair.Annotation()))
	res, err := s.Stroke(StrokeRequest{Points: []raster.Point{{X: 10, Y: 10}, {X: 50, Y: 50}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Segments)
}

func TestSession_Save(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)

	res, err := s.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF-")))
	assert.Equal(t, len(res.PDF), res.Size)
	assert.Equal(t, ctr.FallbackFilename, res.Filename)

	preview, err := raster.DecodePNG(res.PreviewPNG)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 306, 396), preview.Bounds())

	info, err := NewValidator(1 << 20).ValidateBytes(res.PDF)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Pages)

	data, _, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, res.PDF, data)
	assert.True(t, s.State().Signed)
}

func TestSession_SaveFailureKeepsSignedCopy(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)
	first, err := s.Save(context.Background())
	require.NoError(t, err)

	s.source = []byte("%PDF-1.7 truncated")
	_, err = s.Save(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeEmbedFailed, errors.TypeOf(err))

	data, _, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, first.PDF, data)
}

func TestSession_PermissionsGateSaveAndPrint(t *testing.T) {
	s := openSession(t, true)
	s.info = &DocumentInfo{Permissions: security.NewPermissions(0)}

	_, err := s.Save(context.Background())
	assert.Equal(t, errors.ErrorTypeSecurityRestriction, errors.TypeOf(err))

	_, err = s.Print(context.Background(), &recordingPrinter{})
	assert.Equal(t, errors.ErrorTypeSecurityRestriction, errors.TypeOf(err))
}

func TestSession_Print(t *testing.T) {
	s := openSession(t, true)
	drawDiagonal(t, s)
	screen := s.State().Viewport
	before := s.pair.Clone()

	printer := &recordingPrinter{}
	res, err := s.Print(context.Background(), printer)
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.Job)
	assert.Equal(t, 2.0, res.Viewport.Scale)

	require.Len(t, printer.jobs, 1)
	job := printer.jobs[0]
	assert.Equal(t, image.Rect(0, 0, 1224, 1584), job.Image.Bounds())
	assert.Equal(t, "signed_document.png", job.Name)
	// The stroke is carried over at print resolution.
	_, _, _, a := job.Image.At(120, 120).RGBA()
	assert.NotZero(t, a)
	r, g, b, _ := job.Image.At(120, 120).RGBA()
	assert.Zero(t, r|g|b, "stroke is black")

	assert.Equal(t, screen, s.State().Viewport)
	assert.Equal(t, before.Annotation().Pix, s.pair.Annotation().Pix)
	assert.True(t, s.pair.Synced())
}

func TestSession_PrintFailureRestoresView(t *testing.T) {
	for name, printer := range map[string]*recordingPrinter{
		"error": {err: fmt.Errorf("no paper")},
		"panic": {panicky: true},
	} {
		t.Run(name, func(t *testing.T) {
			s := openSession(t, true)
			drawDiagonal(t, s)
			screen := s.State().Viewport
			before := s.pair.Clone()

			_, err := s.Print(context.Background(), printer)
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypePrintFailed, errors.TypeOf(err))

			assert.Equal(t, screen, s.State().Viewport)
			assert.Equal(t, before.Annotation().Pix, s.pair.Annotation().Pix)
			assert.Equal(t, before.Base().Pix, s.pair.Base().Pix)

			// The session is usable again.
			_, err = s.Stroke(StrokeRequest{Points: []raster.Point{{X: 5, Y: 5}}})
			assert.NoError(t, err)
		})
	}
}

func TestSession_PageCache(t *testing.T) {
	cache := pagecache.New(4, 0)
	newSession := func() *Session {
		s := NewSession("cached", SessionOptions{
			Editable:  true,
			Container: halfContainer,
			Cache:     cache,
			Logger:    quietLogger,
		})
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.Load(context.Background(), letterDoc(), nil))
		_, err := s.Render(context.Background(), nil)
		require.NoError(t, err)
		return s
	}

	s := newSession()
	assert.Equal(t, pagecache.Stats{Misses: 1, Size: 1, Capacity: 4, Bytes: 306 * 396 * 4}, cache.Stats())

	// Print renders at print scale, then restoring the screen view hits.
	drawDiagonal(t, s)
	_, err := s.Print(context.Background(), &recordingPrinter{})
	require.NoError(t, err)
	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.True(t, s.pair.Synced())
	assert.False(t, raster.IsBlank(s.pair.Annotation()))

	// A second session over the same bytes reuses the screen raster.
	other := newSession()
	assert.Equal(t, int64(2), cache.Stats().Hits)
	assert.Same(t, s.pair.Base(), other.pair.Base())
}

func TestSession_Filename(t *testing.T) {
	s := NewSession("x", SessionOptions{
		Crew:   &ctr.CrewInfo{CrewNumber: "C69", FireName: "Big Fire"},
		Date:   "2025-07-01",
		Logger: quietLogger,
	})
	defer s.Close()

	assert.Equal(t, "CTR_2025-07-01_C69_Big-Fire.pdf", s.filename(ctr.KindPDF))
	assert.Equal(t, "CTR_2025-07-01_C69_Big-Fire.png", s.filename(ctr.KindPNG))
}
