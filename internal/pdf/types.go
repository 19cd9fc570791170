package pdf

import (
	"github.com/a3tai/mcp-pdf-annotator/internal/ctr"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
)

// FileInfo represents information about a PDF file
type FileInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// Container is the on-screen box a page is fitted into, in display pixels.
type Container struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Request Types

// SessionOpenRequest opens a viewing session over a document loaded either
// from a file in the document directory or from the document store.
type SessionOpenRequest struct {
	Path       string        `json:"path,omitempty"`
	DocumentID string        `json:"document_id,omitempty"`
	Container  Container     `json:"container"`
	Editable   *bool         `json:"editable,omitempty"`
	Crew       *ctr.CrewInfo `json:"crew,omitempty"`
	Date       string        `json:"date,omitempty"`
}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// RenderRequest re-renders page 1 of a session, optionally into a new
// container.
type RenderRequest struct {
	SessionID string     `json:"session_id"`
	Container *Container `json:"container,omitempty"`
}

// DrawModeRequest toggles drawing mode.
type DrawModeRequest struct {
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

// StrokeRequest paints one freehand stroke. Points are in buffer pixels
// unless Display is set, in which case they are client coordinates relative
// to the displayed raster and mapped per point.
type StrokeRequest struct {
	SessionID string         `json:"session_id"`
	Points    []raster.Point `json:"points"`
	Display   *raster.Rect   `json:"display,omitempty"`
	Color     string         `json:"color,omitempty"`
	Width     float64        `json:"width,omitempty"`
}

// DownloadRequest exports the current document of a session.
type DownloadRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename,omitempty"`
}

// FillFormRequest fills the CTR form. The template comes from Path, from
// DocumentID, or from the configured template when both are empty.
type FillFormRequest struct {
	Path                string       `json:"path,omitempty"`
	DocumentID          string       `json:"document_id,omitempty"`
	Rows                []ctr.Row    `json:"rows"`
	Crew                ctr.CrewInfo `json:"crew"`
	DownloadImmediately bool         `json:"download_immediately,omitempty"`
}

// StorePutRequest copies a file from the document directory into the
// document store.
type StorePutRequest struct {
	Path string `json:"path"`
}

// ServerInfoRequest represents a request for server information
type ServerInfoRequest struct{}

// Response Types

// SessionResult describes the state of a session after an operation.
type SessionResult struct {
	SessionID   string               `json:"session_id"`
	Pages       int                  `json:"pages"`
	Viewport    raster.Viewport      `json:"viewport"`
	Editable    bool                 `json:"editable"`
	DrawingMode bool                 `json:"drawing_mode"`
	Signed      bool                 `json:"signed"`
	Permissions security.Permissions `json:"permissions"`
	PreviewPNG  []byte               `json:"-"`
}

// StrokeResult reports how many segments a stroke painted.
type StrokeResult struct {
	SessionID string `json:"session_id"`
	Segments  int    `json:"segments"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// SaveResult holds the signed document and its preview.
type SaveResult struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Size       int    `json:"size"`
	PDF        []byte `json:"-"`
	PreviewPNG []byte `json:"-"`
}

// PrintResult identifies the print job.
type PrintResult struct {
	SessionID string          `json:"session_id"`
	Job       string          `json:"job"`
	Viewport  raster.Viewport `json:"viewport"`
}

// DownloadResult is the exported file.
type DownloadResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// FillFormResult summarizes a fill pass.
type FillFormResult struct {
	DocumentID   string              `json:"document_id"`
	Filename     string              `json:"filename"`
	Summary      string              `json:"summary"`
	Fields       []forms.FieldResult `json:"fields"`
	Verification *forms.Report       `json:"verification,omitempty"`
	Download     *DownloadResult     `json:"download,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// StorePutResult is the identifier of a stored document.
type StorePutResult struct {
	DocumentID string        `json:"document_id"`
	Info       *DocumentInfo `json:"info"`
}

// ServerInfoResult represents comprehensive server information
type ServerInfoResult struct {
	ServerName        string          `json:"server_name"`
	Version           string          `json:"version"`
	DocumentDirectory string          `json:"document_directory"`
	MaxFileSize       int64           `json:"max_file_size"`
	StoreBackend      string          `json:"store_backend"`
	PrintScale        float64         `json:"print_scale"`
	MaxAttempts       int             `json:"max_attempts"`
	OpenSessions      int             `json:"open_sessions"`
	RenderCache       pagecache.Stats `json:"render_cache"`
	AvailableTools    []ToolInfo      `json:"available_tools"`
	DirectoryContents []FileInfo      `json:"directory_contents"`
	UsageGuidance     string          `json:"usage_guidance"`
}

// ToolInfo represents information about an available tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
	Parameters  string `json:"parameters"`
}
