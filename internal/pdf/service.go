package pdf

import (
	"context"
	stderrors "errors"
	"fmt"
	"image/color"
	"log"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-pdf-annotator/internal/ctr"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/embed"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

// Store metadata kinds.
const (
	KindSource = "source"
	KindSigned = "signed"
	KindFilled = "filled"
)

// Options configure a Service.
type Options struct {
	DocumentDir  string
	TemplatePath string
	DownloadDir  string
	SpoolDir     string
	MaxFileSize  int64
	PrintScale   float64
	MaxAttempts  int
	Container    Container
	StrokeColor  string
	StrokeWidth  float64
	StoreBackend string
	RenderCache  int
	Logger       *log.Logger
}

// Service owns the viewing sessions and orchestrates the PDF components
type Service struct {
	opts        Options
	logger      *log.Logger
	documents   *security.Confiner
	validator   *Validator
	embedder    *embed.Embedder
	filler      *forms.Filler
	downloader  *Downloader
	printer     Printer
	store       store.BlobStore
	pages       *pagecache.Cache
	strokeColor color.Color
	serverInfo  *PDFServerInfo

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a new PDF service with all components. A nil printer
// selects a SpoolPrinter on opts.SpoolDir.
func NewService(opts Options, blobs store.BlobStore, printer Printer) (*Service, error) {
	if blobs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.PrintScale <= 0 {
		opts.PrintScale = raster.DefaultPrintScale
	}

	documents, err := security.NewConfiner(opts.DocumentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create document confiner: %w", err)
	}

	downloader, err := NewDownloader(opts.DownloadDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	if printer == nil {
		printer, err = NewSpoolPrinter(opts.SpoolDir, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	var strokeColor color.Color = color.Black
	if opts.StrokeColor != "" {
		c, err := raster.ParseHexColor(opts.StrokeColor)
		if err != nil {
			return nil, fmt.Errorf("invalid stroke color: %w", err)
		}
		strokeColor = c
	}

	s := &Service{
		opts:        opts,
		logger:      opts.Logger,
		documents:   documents,
		validator:   NewValidator(opts.MaxFileSize),
		embedder:    embed.New(opts.Logger),
		filler:      forms.NewFiller(opts.MaxAttempts, opts.Logger),
		downloader:  downloader,
		printer:     printer,
		store:       blobs,
		strokeColor: strokeColor,
		pages:       newPageCache(opts.RenderCache),
		sessions:    make(map[string]*Session),
	}
	s.serverInfo = NewPDFServerInfo(s)
	return s, nil
}

// newPageCache sizes the raster cache. A negative size disables caching.
func newPageCache(size int) *pagecache.Cache {
	if size < 0 {
		return nil
	}
	return pagecache.New(size, maxCachedPixelBytes)
}

// maxCachedPixelBytes bounds the memory held by cached page rasters.
const maxCachedPixelBytes = 256 << 20

// RenderCacheStats reports page raster cache usage.
func (s *Service) RenderCacheStats() pagecache.Stats {
	return s.pages.Stats()
}

// GetMaxFileSize returns the maximum file size limit
func (s *Service) GetMaxFileSize() int64 {
	return s.opts.MaxFileSize
}

// loadDocument reads a document from the document directory or the store
// and validates it.
func (s *Service) loadDocument(ctx context.Context, path, documentID string) ([]byte, *DocumentInfo, error) {
	var data []byte
	switch {
	case path != "" && documentID != "":
		return nil, nil, errors.New(errors.ErrorTypeInvalidInput, "give either path or document_id, not both")
	case path != "":
		resolved, err := s.documents.Resolve(path)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrorTypeSecurityRestriction, err, "security validation failed")
		}
		data, err = s.validator.ReadFile(resolved)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "failed to read document")
		}
	case documentID != "":
		var err error
		data, _, err = s.store.Get(ctx, documentID)
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil, errors.Wrap(errors.ErrorTypeNotFound, err, "document not found")
		}
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "failed to fetch document")
		}
	default:
		return nil, nil, errors.New(errors.ErrorTypeInvalidInput, "path or document_id is required")
	}

	info, err := s.validator.ValidateBytes(data)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "document validation failed")
	}
	return data, info, nil
}

// OpenSession loads a document, renders page 1 and registers a new session.
func (s *Service) OpenSession(ctx context.Context, req SessionOpenRequest) (*SessionResult, error) {
	data, info, err := s.loadDocument(ctx, req.Path, req.DocumentID)
	if err != nil {
		return nil, err
	}

	editable := true
	if req.Editable != nil {
		editable = *req.Editable
	}
	container := req.Container
	if container.Width <= 0 || container.Height <= 0 {
		container = s.opts.Container
	}
	if req.Crew != nil {
		for _, problem := range req.Crew.Validate("") {
			s.logger.Printf("[WARN] crew info: %s", problem)
		}
	}

	sess := NewSession(uuid.NewString(), SessionOptions{
		Editable:    editable,
		PrintScale:  s.opts.PrintScale,
		StrokeColor: s.strokeColor,
		StrokeWidth: s.opts.StrokeWidth,
		Container:   container,
		Crew:        req.Crew,
		Date:        req.Date,
		Embedder:    s.embedder,
		Cache:       s.pages,
		Logger:      s.logger,
	})

	if err := sess.Load(ctx, data, info); err != nil {
		_ = sess.Close()
		return nil, err
	}
	if _, err := sess.Render(ctx, nil); err != nil {
		_ = sess.Close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	s.logger.Printf("[INFO] session %s opened (%d bytes, %s)", sess.ID(), info.Size, info.Permissions)

	return s.stateWithPreview(sess)
}

// Session returns an open session.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown session %q", id)
	}
	return sess, nil
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseSession closes and forgets a session.
func (s *Service) CloseSession(req SessionRequest) error {
	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "unknown session %q", req.SessionID)
	}
	return sess.Close()
}

// Close closes every session.
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.Close()
	}
	return nil
}

func (s *Service) stateWithPreview(sess *Session) (*SessionResult, error) {
	res := sess.State()
	preview, err := sess.Preview()
	if err != nil {
		return nil, err
	}
	res.PreviewPNG = preview
	return res, nil
}

// Render re-renders a session, optionally into a new container.
func (s *Service) Render(ctx context.Context, req RenderRequest) (*SessionResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Render(ctx, req.Container); err != nil {
		return nil, err
	}
	return s.stateWithPreview(sess)
}

// SetDrawMode toggles drawing mode of a session.
func (s *Service) SetDrawMode(req DrawModeRequest) (*SessionResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetDrawingMode(req.Enabled); err != nil {
		return nil, err
	}
	return sess.State(), nil
}

// Stroke paints a stroke into a session.
func (s *Service) Stroke(req StrokeRequest) (*StrokeResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	return sess.Stroke(req)
}

// Clear wipes the strokes of a session.
func (s *Service) Clear(req SessionRequest) (*SessionResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Clear(); err != nil {
		return nil, err
	}
	return s.stateWithPreview(sess)
}

// Save embeds the annotation of a session and stores the signed document.
func (s *Service) Save(ctx context.Context, req SessionRequest) (*SaveResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	res, err := sess.Save(ctx)
	if err != nil {
		return nil, err
	}

	crew, date := sess.Labels()
	id, err := s.store.Store(ctx, res.PDF, storeMeta(res.Filename, KindSigned, date, crew))
	if err != nil {
		// The session keeps the signed copy; it can still be downloaded.
		return nil, errors.Wrap(errors.ErrorTypeEmbedFailed, err, "failed to store signed document").WithSession(sess.ID())
	}
	res.DocumentID = id
	return res, nil
}

// Print prints a session.
func (s *Service) Print(ctx context.Context, req SessionRequest) (*PrintResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	return sess.Print(ctx, s.printer)
}

// Download exports the current document of a session.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	sess, err := s.Session(req.SessionID)
	if err != nil {
		return nil, err
	}
	data, filename, err := sess.Document()
	if err != nil {
		return nil, err
	}
	if req.Filename != "" {
		filename = req.Filename
	}
	res, err := s.downloader.Download(ctx, data, filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeInvalidInput, err, "download failed").WithSession(sess.ID())
	}
	s.exported(res.Path)
	return res, nil
}

// FillForm fills the CTR form from rows and stores the result.
func (s *Service) FillForm(ctx context.Context, req FillFormRequest) (*FillFormResult, error) {
	path := req.Path
	if path == "" && req.DocumentID == "" {
		if s.opts.TemplatePath == "" {
			return nil, errors.New(errors.ErrorTypeInvalidInput, "no template configured; give path or document_id")
		}
		path = s.opts.TemplatePath
	}
	data, info, err := s.loadDocument(ctx, path, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := info.Permissions.Check(security.OperationFillForms); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeSecurityRestriction, err, "form cannot be filled")
	}

	warnings := req.Crew.Validate("")
	filled, err := s.filler.FillDocument(ctx, data, ctr.MapToFields(req.Rows, req.Crew), ctr.Classifications(req.Rows))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "failed to fill form")
	}

	date := ctr.FirstDate(req.Rows)
	filename := ctr.Filename(ctr.FilenameParams{
		Date:       date,
		CrewNumber: req.Crew.CrewNumber,
		FireName:   req.Crew.FireName,
		FireNumber: req.Crew.FireNumber,
		Kind:       ctr.KindPDF,
	})

	id, err := s.store.Store(ctx, filled.Data, storeMeta(filename, KindFilled, date, &req.Crew))
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "failed to store filled document")
	}

	result := &FillFormResult{
		DocumentID:   id,
		Filename:     filename,
		Summary:      filled.Outcome.Describe(),
		Fields:       filled.Outcome.Results,
		Verification: filled.Verification,
		Warnings:     warnings,
	}
	for _, problem := range filled.Outcome.Problems.Warnings {
		result.Warnings = append(result.Warnings, problem.Error())
	}

	if req.DownloadImmediately {
		dl, err := s.downloader.Download(ctx, filled.Data, filename)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypeInvalidInput, err, "download failed")
		}
		s.exported(dl.Path)
		result.Download = dl
	}
	return result, nil
}

// StorePut copies a document from the document directory into the store.
func (s *Service) StorePut(ctx context.Context, req StorePutRequest) (*StorePutResult, error) {
	data, info, err := s.loadDocument(ctx, req.Path, "")
	if err != nil {
		return nil, err
	}
	id, err := s.store.Store(ctx, data, store.Meta{Filename: filepath.Base(req.Path), Kind: KindSource})
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeFetchFailed, err, "failed to store document")
	}
	return &StorePutResult{DocumentID: id, Info: info}, nil
}

// ServerInfo returns server information and usage guidance
func (s *Service) ServerInfo(ctx context.Context, serverName, version string) (*ServerInfoResult, error) {
	return s.serverInfo.GetServerInfo(ctx, serverName, version)
}

// exported refreshes the document listing when an export lands in the
// document directory.
func (s *Service) exported(path string) {
	if s.documents.Within(path) {
		s.serverInfo.InvalidateListing()
	}
}

func storeMeta(filename, kind, date string, crew *ctr.CrewInfo) store.Meta {
	meta := store.Meta{Filename: filename, Kind: kind, Date: date}
	if crew != nil {
		meta.CrewNumber = crew.CrewNumber
		meta.FireName = crew.FireName
		meta.FireNumber = crew.FireNumber
	}
	return meta
}
