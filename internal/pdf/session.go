package pdf

import (
	"context"
	"image"
	"image/color"
	"log"
	"strings"
	"sync"

	"github.com/a3tai/mcp-pdf-annotator/internal/ctr"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/embed"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/render"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
)

// viewPage is the only page a session displays and annotates.
const viewPage = 1

// SessionOptions configure a new Session.
type SessionOptions struct {
	Editable    bool
	PrintScale  float64
	StrokeColor color.Color
	StrokeWidth float64
	Container   Container
	Crew        *ctr.CrewInfo
	Date        string
	Embedder    *embed.Embedder
	Cache       *pagecache.Cache
	Logger      *log.Logger
}

// Session is one viewing session over a single document: the decoded
// document, the canvas pair it is rendered into and the annotation surface
// drawing into that pair.
//
// Operations that suspend (load, render, save, print) mark the session busy
// for their whole duration; a second such operation, or pointer input,
// arriving meanwhile is refused with a Busy error. Close may happen at any
// time. Work that completes after Close is discarded and its resources are
// released.
type Session struct {
	id         string
	logger     *log.Logger
	embedder   *embed.Embedder
	cache      *pagecache.Cache
	printScale float64
	done       chan struct{}

	mu        sync.Mutex
	closed    bool
	busy      string
	doc       *render.Document
	docHash   uint64
	info      *DocumentInfo
	source    []byte
	signed    []byte
	pair      *raster.CanvasPair
	surface   *raster.Surface
	viewport  raster.Viewport
	container Container
	drawing   bool
	crew      *ctr.CrewInfo
	date      string
}

// NewSession creates an empty session. Nothing can be drawn until a
// document has been loaded and rendered.
func NewSession(id string, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Embedder == nil {
		opts.Embedder = embed.New(opts.Logger)
	}
	if opts.PrintScale <= 0 {
		opts.PrintScale = raster.DefaultPrintScale
	}

	pair := raster.NewCanvasPair(0, 0)
	surface := raster.NewSurface(pair, opts.Editable)
	if opts.StrokeColor != nil {
		surface.SetColor(opts.StrokeColor)
	}
	if opts.StrokeWidth > 0 {
		surface.SetWidth(opts.StrokeWidth)
	}

	return &Session{
		id:         id,
		logger:     opts.Logger,
		embedder:   opts.Embedder,
		cache:      opts.Cache,
		printScale: opts.PrintScale,
		done:       make(chan struct{}),
		pair:       pair,
		surface:    surface,
		container:  opts.Container,
		crew:       opts.Crew,
		date:       opts.Date,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) closedErr() error {
	return errors.New(errors.ErrorTypeSessionClosed, "session is closed").WithSession(s.id)
}

// begin marks the session busy with op. It fails when the session is closed
// or another operation is running.
func (s *Session) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	if s.busy != "" {
		return errors.Newf(errors.ErrorTypeBusy, "%s in progress", s.busy).WithSession(s.id)
	}
	s.busy = op
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = ""
	if s.closed {
		s.release()
	}
}

// release drops the document and rasters. Callers hold mu and make sure no
// operation is running.
func (s *Session) release() {
	if s.doc != nil {
		_ = s.doc.Close()
		s.doc = nil
	}
	s.source = nil
	s.signed = nil
	s.pair.Resize(0, 0)
}

// Close ends the session. An operation still running finishes in the
// background and its result is thrown away. Closing twice is harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.busy == "" {
		s.release()
	}
	s.logger.Printf("[INFO] session %s closed", s.id)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type decodeResult struct {
	doc *render.Document
	err error
}

// Load decodes data and makes it the session's document, releasing the
// previous one. The signed copy and the rasters of the previous document
// are discarded; nothing can be drawn or saved until Render.
func (s *Session) Load(ctx context.Context, data []byte, info *DocumentInfo) error {
	if err := s.begin("load"); err != nil {
		return err
	}
	defer s.end()

	doc, err := s.decode(ctx, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = doc.Close()
		return s.closedErr()
	}
	prev := s.doc
	s.doc = doc
	s.docHash = pagecache.Fingerprint(data)
	s.info = info
	s.source = data
	s.signed = nil
	// Input and saves wait for the first render of the new document.
	s.surface.EndStroke()
	s.pair.Resize(0, 0)
	s.viewport = raster.Viewport{}
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	s.logger.Printf("[INFO] session %s: loaded document (%d pages, %d bytes)", s.id, doc.PageCount(), len(data))
	return nil
}

// decode runs the decoder in a goroutine so that cancellation and Close
// are observed while it works. A decode finishing after the caller gave up
// is closed as soon as it arrives.
func (s *Session) decode(ctx context.Context, data []byte) (*render.Document, error) {
	resultChan := make(chan decodeResult, 1)
	go func() {
		doc, err := render.Open(ctx, data)
		resultChan <- decodeResult{doc: doc, err: err}
	}()

	select {
	case r := <-resultChan:
		if r.err != nil {
			return nil, errors.Wrap(errors.ErrorTypeFetchFailed, r.err, "failed to decode document").WithSession(s.id)
		}
		return r.doc, nil
	case <-ctx.Done():
		go releaseLate(resultChan)
		return nil, errors.Wrap(errors.ErrorTypeFetchFailed, ctx.Err(), "document load cancelled").WithSession(s.id)
	case <-s.done:
		go releaseLate(resultChan)
		return nil, s.closedErr()
	}
}

func releaseLate(resultChan <-chan decodeResult) {
	if r := <-resultChan; r.doc != nil {
		_ = r.doc.Close()
	}
}

type fitFunc func(pageW, pageH float64) (raster.Viewport, error)

func fitContainer(c Container) fitFunc {
	return func(pageW, pageH float64) (raster.Viewport, error) {
		return raster.FitViewport(pageW, pageH, c.Width, c.Height)
	}
}

func fixedScale(scale float64) fitFunc {
	return func(pageW, pageH float64) (raster.Viewport, error) {
		return raster.FixedViewport(pageW, pageH, scale)
	}
}

// rasterize paints the view page, or takes it from the page cache when the
// same document was already rendered at the same viewport. Nothing in the
// session is touched.
func (s *Session) rasterize(ctx context.Context, doc *render.Document, docHash uint64, fit fitFunc) (raster.Viewport, *image.RGBA, error) {
	if doc == nil {
		return raster.Viewport{}, nil, errors.New(errors.ErrorTypeRenderFailed, "no document loaded").WithSession(s.id)
	}
	w, h, err := doc.PageSize(viewPage)
	if err != nil {
		return raster.Viewport{}, nil, errors.Wrap(errors.ErrorTypeRenderFailed, err, "failed to read page size").
			WithSession(s.id).WithPage(viewPage)
	}
	vp, err := fit(w, h)
	if err != nil {
		return raster.Viewport{}, nil, errors.Wrap(errors.ErrorTypeRenderFailed, err, "invalid viewport").
			WithSession(s.id).WithPage(viewPage)
	}
	key := pagecache.Key(docHash, viewPage, vp)
	if img, ok := s.cache.Get(key); ok {
		return vp, img, nil
	}
	img, err := doc.Render(ctx, viewPage, vp)
	if err != nil {
		return raster.Viewport{}, nil, errors.Wrap(errors.ErrorTypeRenderFailed, err, "failed to render page").
			WithSession(s.id).WithPage(viewPage)
	}
	s.cache.Put(key, img)
	return vp, img, nil
}

// Render fits the view page into container, or into the last container
// when nil. Both rasters are replaced together and the annotation starts
// empty. On failure the previous rasters stay as they were.
func (s *Session) Render(ctx context.Context, container *Container) (raster.Viewport, error) {
	if err := s.begin("render"); err != nil {
		return raster.Viewport{}, err
	}
	defer s.end()

	s.mu.Lock()
	doc, docHash := s.doc, s.docHash
	c := s.container
	s.mu.Unlock()
	if container != nil {
		c = *container
	}

	vp, img, err := s.rasterize(ctx, doc, docHash, fitContainer(c))
	if err != nil {
		return raster.Viewport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return raster.Viewport{}, s.closedErr()
	}
	s.pair.Replace(img)
	s.surface.EndStroke()
	s.viewport = vp
	s.container = c
	s.logger.Printf("[DEBUG] session %s rendered %s", s.id, vp)
	return vp, nil
}

// SetDrawingMode turns pointer input on or off. Turning it off ends any
// stroke in progress.
func (s *Session) SetDrawingMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	s.drawing = enabled
	if !enabled {
		s.surface.EndStroke()
	}
	return nil
}

// Stroke paints one stroke through the annotation surface. Input is
// ignored, not rejected, while drawing mode is off.
func (s *Session) Stroke(req StrokeRequest) (*StrokeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.closedErr()
	}
	if s.busy != "" {
		return nil, errors.Newf(errors.ErrorTypeBusy, "%s in progress, input refused", s.busy).WithSession(s.id)
	}

	result := &StrokeResult{SessionID: s.id}
	if !s.drawing {
		result.Ignored = true
		return result, nil
	}
	if len(req.Points) == 0 {
		return nil, errors.New(errors.ErrorTypeInvalidInput, "stroke has no points").WithSession(s.id)
	}

	if req.Color != "" {
		c, err := raster.ParseHexColor(req.Color)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypeInvalidInput, err, "invalid stroke color").WithSession(s.id)
		}
		s.surface.SetColor(c)
	}
	if req.Width > 0 {
		s.surface.SetWidth(req.Width)
	}

	// Buffer size is read per stroke; the display rect comes with the
	// request, so a resize between strokes is always picked up.
	bufW, bufH := s.pair.Size()
	toBuffer := func(p raster.Point) raster.Point {
		if req.Display == nil {
			return p
		}
		return raster.MapToBuffer(p, *req.Display, bufW, bufH)
	}

	before := s.surface.Segments()
	if err := s.surface.BeginStroke(toBuffer(req.Points[0])); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeInvalidInput, err, "stroke rejected").WithSession(s.id)
	}
	defer s.surface.EndStroke()

	points := req.Points[1:]
	if len(points) == 0 {
		// A tap paints a dot.
		points = req.Points[:1]
	}
	for _, p := range points {
		if err := s.surface.ExtendStroke(toBuffer(p)); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeInvalidInput, err, "stroke rejected").WithSession(s.id)
		}
	}
	result.Segments = s.surface.Segments() - before
	return result, nil
}

// Clear wipes every stroke. Clearing an empty surface is a no-op.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closedErr()
	}
	if s.busy != "" {
		return errors.Newf(errors.ErrorTypeBusy, "%s in progress, input refused", s.busy).WithSession(s.id)
	}
	s.surface.Clear()
	return nil
}

// Save composes the preview and burns the annotation into the original
// document. The signed copy is replaced only when embedding succeeds.
func (s *Session) Save(ctx context.Context) (*SaveResult, error) {
	if err := s.begin("save"); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	if !s.pair.Synced() || s.source == nil {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeInvalidInput, "nothing has been rendered yet").WithSession(s.id)
	}
	if err := s.permissions().Check(security.OperationAnnotate); err != nil {
		s.mu.Unlock()
		return nil, errors.Wrap(errors.ErrorTypeSecurityRestriction, err, "document cannot be annotated").WithSession(s.id)
	}
	source := s.source
	snapshot := s.pair.Clone()
	filename := s.filename(ctr.KindPDF)
	s.mu.Unlock()

	composite, err := raster.ComposePair(snapshot)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeEmbedFailed, err, "failed to compose preview").WithSession(s.id)
	}
	preview, err := raster.EncodePNG(composite)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeEmbedFailed, err, "failed to encode preview").WithSession(s.id)
	}

	res, err := s.embedder.Embed(ctx, source, snapshot.Annotation(), viewPage)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeEmbedFailed, err, "failed to embed annotation").
			WithSession(s.id).WithPage(viewPage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.closedErr()
	}
	s.signed = res.Data
	s.logger.Printf("[INFO] session %s saved: %d bytes, overlay /%s", s.id, len(res.Data), res.ResourceName)

	return &SaveResult{
		SessionID:  s.id,
		Filename:   filename,
		Size:       len(res.Data),
		PDF:        res.Data,
		PreviewPNG: preview,
	}, nil
}

// Print re-renders the view page at the print scale, hands the composite
// to printer and then restores the on-screen rasters, annotation included.
// The restore runs however printing ends; a print error or panic is
// reported only after it.
func (s *Session) Print(ctx context.Context, printer Printer) (result *PrintResult, err error) {
	if err := s.begin("print"); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	if !s.pair.Synced() {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeInvalidInput, "nothing has been rendered yet").WithSession(s.id)
	}
	if err := s.permissions().Check(security.OperationPrint); err != nil {
		s.mu.Unlock()
		return nil, errors.Wrap(errors.ErrorTypeSecurityRestriction, err, "document cannot be printed").WithSession(s.id)
	}
	doc, docHash := s.doc, s.docHash
	snapshot := s.pair.Clone()
	screen := s.viewport
	name := s.filename(ctr.KindPNG)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf(errors.ErrorTypePrintFailed, "print panicked: %v", r).WithSession(s.id)
		}
		s.restore(doc, docHash, snapshot, screen)
	}()

	vp, img, err := s.rasterize(ctx, doc, docHash, fixedScale(s.printScale))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePrintFailed, err, "failed to render for print").WithSession(s.id)
	}

	composite := img
	if !raster.IsBlank(snapshot.Annotation()) {
		composite = raster.Compose(img, raster.ScaleTo(snapshot.Annotation(), vp.BufferWidthPx, vp.BufferHeightPx))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.closedErr()
	}
	s.pair.Replace(img)
	s.viewport = vp
	s.mu.Unlock()

	job, err := printer.Print(ctx, PrintJob{Name: name, Image: composite, Viewport: vp})
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePrintFailed, err, "print failed").WithSession(s.id)
	}
	s.logger.Printf("[INFO] session %s printed %s as %s", s.id, vp, job)
	return &PrintResult{SessionID: s.id, Job: job, Viewport: vp}, nil
}

// restore re-renders at the on-screen scale and puts the snapshot's
// annotation back. If that render fails the snapshot itself is reinstated.
func (s *Session) restore(doc *render.Document, docHash uint64, snapshot *raster.CanvasPair, screen raster.Viewport) {
	fit := fixedScale(screen.Scale)
	vp, img, err := s.rasterize(context.Background(), doc, docHash, fit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil || vp.BufferWidthPx != screen.BufferWidthPx || vp.BufferHeightPx != screen.BufferHeightPx {
		s.logger.Printf("[WARN] session %s: restore render failed, reinstating snapshot: %v", s.id, err)
		img = snapshot.Base()
	}
	s.pair.Restore(img, snapshot)
	s.viewport = screen
}

func (s *Session) permissions() security.Permissions {
	if s.info == nil {
		return security.NewFullPermissions()
	}
	return s.info.Permissions
}

func (s *Session) filename(kind ctr.FileKind) string {
	name := ctr.DownloadFilename(s.crew, s.date)
	if kind == ctr.KindPNG {
		name = strings.TrimSuffix(name, ".pdf") + ".png"
	}
	return name
}

// Document returns the signed document when one has been saved, otherwise
// the document as loaded.
func (s *Session) Document() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", s.closedErr()
	}
	if s.signed != nil {
		return s.signed, s.filename(ctr.KindPDF), nil
	}
	if s.source == nil {
		return nil, "", errors.New(errors.ErrorTypeInvalidInput, "no document loaded").WithSession(s.id)
	}
	return s.source, s.filename(ctr.KindPDF), nil
}

// Preview composes the current rasters into PNG bytes.
func (s *Session) Preview() ([]byte, error) {
	s.mu.Lock()
	composite, err := raster.ComposePair(s.pair)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeRenderFailed, err, "nothing to preview").WithSession(s.id)
	}
	return raster.EncodePNG(composite)
}

// State reports the session's current state.
func (s *Session) State() *SessionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &SessionResult{
		SessionID:   s.id,
		Viewport:    s.viewport,
		Editable:    s.surface.Editable(),
		DrawingMode: s.drawing,
		Signed:      s.signed != nil,
		Permissions: s.permissions(),
	}
	if s.doc != nil {
		res.Pages = s.doc.PageCount()
	}
	return res
}

// Labels returns the crew information and date used for export names.
func (s *Session) Labels() (*ctr.CrewInfo, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crew, s.date
}
