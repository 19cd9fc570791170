package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/descriptions"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/errors"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config     *config.Config
	pdfService *pdf.Service
	mcpServer  *server.MCPServer
	logger     *log.Logger
}

// NewServer creates a new MCP server instance. A nil logger falls back to
// log.Default().
func NewServer(cfg *config.Config, pdfService *pdf.Service, logger *log.Logger) (*Server, error) {
	if pdfService == nil {
		return nil, fmt.Errorf("pdfService cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // We don't support dynamic tool capabilities
		server.WithRecovery(),
	)

	s := &Server{
		config:     cfg,
		pdfService: pdfService,
		mcpServer:  mcpServer,
		logger:     logger,
	}

	s.registerTools()

	return s, nil
}

// MCPServer exposes the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func sessionIDParam() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session identifier returned by pdf_session_open"),
	)
}

func containerParam(desc string) mcp.ToolOption {
	return mcp.WithObject("container",
		mcp.Description(desc),
		mcp.Properties(map[string]any{
			"width":  map[string]any{"type": "number", "description": "Container width in display pixels"},
			"height": map[string]any{"type": "number", "description": "Container height in display pixels"},
		}),
	)
}

var crewProperties = map[string]any{
	"crewName":   map[string]any{"type": "string"},
	"crewNumber": map[string]any{"type": "string"},
	"fireName":   map[string]any{"type": "string"},
	"fireNumber": map[string]any{"type": "string"},
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("pdf_session_open",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_session_open")),
		mcp.WithString("path", mcp.Description("PDF path inside the document directory")),
		mcp.WithString("document_id", mcp.Description("Identifier of a document in the document store")),
		containerParam("Display container the page is fitted into (defaults to the configured size)"),
		mcp.WithBoolean("editable", mcp.Description("Whether drawing is allowed (default true)")),
		mcp.WithObject("crew",
			mcp.Description("Crew labels used to name exported files"),
			mcp.Properties(crewProperties),
		),
		mcp.WithString("date", mcp.Description("Report date (YYYY-MM-DD) used to name exported files")),
	), s.handleSessionOpen)

	s.mcpServer.AddTool(mcp.NewTool("pdf_session_close",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_session_close")),
		sessionIDParam(),
	), s.handleSessionClose)

	s.mcpServer.AddTool(mcp.NewTool("pdf_render",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_render")),
		sessionIDParam(),
		containerParam("New display container; omit to keep the current one"),
	), s.handleRender)

	s.mcpServer.AddTool(mcp.NewTool("pdf_draw_mode",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_draw_mode")),
		sessionIDParam(),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Turn drawing mode on or off")),
	), s.handleDrawMode)

	s.mcpServer.AddTool(mcp.NewTool("pdf_stroke",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_stroke")),
		sessionIDParam(),
		mcp.WithArray("points",
			mcp.Required(),
			mcp.Description("Stroke points in order; a single point paints a dot"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": map[string]any{"type": "number"},
					"y": map[string]any{"type": "number"},
				},
				"required": []string{"x", "y"},
			}),
		),
		mcp.WithObject("display",
			mcp.Description("On-screen rectangle of the raster; when set, points are client coordinates"),
			mcp.Properties(map[string]any{
				"left":   map[string]any{"type": "number"},
				"top":    map[string]any{"type": "number"},
				"width":  map[string]any{"type": "number"},
				"height": map[string]any{"type": "number"},
			}),
		),
		mcp.WithString("color", mcp.Description("Stroke color as #rrggbb")),
		mcp.WithNumber("width", mcp.Description("Stroke width in buffer pixels (1-10)")),
	), s.handleStroke)

	s.mcpServer.AddTool(mcp.NewTool("pdf_clear",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_clear")),
		sessionIDParam(),
	), s.handleClear)

	s.mcpServer.AddTool(mcp.NewTool("pdf_save",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_save")),
		sessionIDParam(),
	), s.handleSave)

	s.mcpServer.AddTool(mcp.NewTool("pdf_print",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_print")),
		sessionIDParam(),
	), s.handlePrint)

	s.mcpServer.AddTool(mcp.NewTool("pdf_download",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_download")),
		sessionIDParam(),
		mcp.WithString("filename", mcp.Description("Override for the exported file name")),
	), s.handleDownload)

	s.mcpServer.AddTool(mcp.NewTool("pdf_fill_form",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_fill_form")),
		mcp.WithString("path", mcp.Description("Form PDF inside the document directory (defaults to the configured template)")),
		mcp.WithString("document_id", mcp.Description("Form PDF in the document store")),
		mcp.WithArray("rows",
			mcp.Required(),
			mcp.Description("Crew member rows in form order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":           map[string]any{"type": "string"},
					"classification": map[string]any{"type": "string"},
					"days": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"date": map[string]any{"type": "string"},
								"on":   map[string]any{"type": "string"},
								"off":  map[string]any{"type": "string"},
							},
						},
					},
				},
			}),
		),
		mcp.WithObject("crew",
			mcp.Description("Crew and fire identification"),
			mcp.Properties(crewProperties),
		),
		mcp.WithBoolean("download_immediately", mcp.Description("Also export the filled form to the download directory")),
	), s.handleFillForm)

	s.mcpServer.AddTool(mcp.NewTool("pdf_store_put",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_store_put")),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("PDF path inside the document directory"),
		),
	), s.handleStorePut)

	s.mcpServer.AddTool(mcp.NewTool("pdf_server_info",
		mcp.WithDescription(descriptions.GetToolDescription("pdf_server_info")),
	), s.handleServerInfo)
}

// decodeArguments copies the tool arguments into a request struct through
// its JSON tags.
func decodeArguments(request mcp.CallToolRequest, target any) error {
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return errors.Wrap(errors.ErrorTypeInvalidInput, err, "cannot read arguments")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrap(errors.ErrorTypeInvalidInput, err, "malformed arguments")
	}
	return nil
}

// toolError reports a failed operation to the client. The user-facing
// message leads, followed by the detail.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Printf("[WARN] %s failed (%s): %v", tool, errors.TypeOf(err), err)
	return mcp.NewToolResultError(fmt.Sprintf("%s\n%v", errors.UserMessageOf(err), err))
}

// sessionResult renders a session state with its preview image when present.
func sessionResult(headline string, result *pdf.SessionResult) *mcp.CallToolResult {
	text := headline + "\n" + formatSession(result)
	if len(result.PreviewPNG) == 0 {
		return mcp.NewToolResultText(text)
	}
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(result.PreviewPNG), "image/png")
}

// Handler functions
func (s *Server) handleSessionOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req pdf.SessionOpenRequest
	if err := decodeArguments(request, &req); err != nil {
		return s.toolError("pdf_session_open", err), nil
	}

	result, err := s.pdfService.OpenSession(ctx, req)
	if err != nil {
		return s.toolError("pdf_session_open", err), nil
	}
	return sessionResult("Session opened", result), nil
}

func (s *Server) handleSessionClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.pdfService.CloseSession(pdf.SessionRequest{SessionID: id}); err != nil {
		return s.toolError("pdf_session_close", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s closed", id)), nil
}

func (s *Server) handleRender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req pdf.RenderRequest
	if err := decodeArguments(request, &req); err != nil {
		return s.toolError("pdf_render", err), nil
	}

	result, err := s.pdfService.Render(ctx, req)
	if err != nil {
		return s.toolError("pdf_render", err), nil
	}
	return sessionResult("Page rendered; annotations cleared", result), nil
}

func (s *Server) handleDrawMode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	enabled, err := request.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.SetDrawMode(pdf.DrawModeRequest{SessionID: id, Enabled: enabled})
	if err != nil {
		return s.toolError("pdf_draw_mode", err), nil
	}
	state := "off"
	if result.DrawingMode {
		state = "on"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Drawing mode %s\n%s", state, formatSession(result))), nil
}

func (s *Server) handleStroke(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req pdf.StrokeRequest
	if err := decodeArguments(request, &req); err != nil {
		return s.toolError("pdf_stroke", err), nil
	}

	result, err := s.pdfService.Stroke(req)
	if err != nil {
		return s.toolError("pdf_stroke", err), nil
	}
	if result.Ignored {
		return mcp.NewToolResultText("Stroke ignored: drawing mode is off. Call pdf_draw_mode with enabled=true first."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stroke painted (%d segment(s))", result.Segments)), nil
}

func (s *Server) handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.Clear(pdf.SessionRequest{SessionID: id})
	if err != nil {
		return s.toolError("pdf_clear", err), nil
	}
	return mcp.NewToolResultText("Annotations cleared\n" + formatSession(result)), nil
}

func (s *Server) handleSave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.Save(ctx, pdf.SessionRequest{SessionID: id})
	if err != nil {
		return s.toolError("pdf_save", err), nil
	}

	text := "Signature embedded into page 1\n"
	text += fmt.Sprintf("Document ID: %s\n", result.DocumentID)
	text += fmt.Sprintf("Filename: %s\n", result.Filename)
	text += fmt.Sprintf("Size: %d bytes\n", result.Size)
	text += "Use pdf_download to export it or pdf_session_open with the document ID to reopen it."

	if len(result.PreviewPNG) == 0 {
		return mcp.NewToolResultText(text), nil
	}
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(result.PreviewPNG), "image/png"), nil
}

func (s *Server) handlePrint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.Print(ctx, pdf.SessionRequest{SessionID: id})
	if err != nil {
		return s.toolError("pdf_print", err), nil
	}

	text := "Print job submitted\n"
	text += fmt.Sprintf("Job: %s\n", result.Job)
	text += fmt.Sprintf("Print raster: %dx%d pixels at scale %g\n",
		result.Viewport.BufferWidthPx, result.Viewport.BufferHeightPx, result.Viewport.Scale)
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleDownload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req pdf.DownloadRequest
	if err := decodeArguments(request, &req); err != nil {
		return s.toolError("pdf_download", err), nil
	}

	result, err := s.pdfService.Download(ctx, req)
	if err != nil {
		return s.toolError("pdf_download", err), nil
	}
	return mcp.NewToolResultText(formatDownload(result)), nil
}

func (s *Server) handleFillForm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req pdf.FillFormRequest
	if err := decodeArguments(request, &req); err != nil {
		return s.toolError("pdf_fill_form", err), nil
	}

	result, err := s.pdfService.FillForm(ctx, req)
	if err != nil {
		return s.toolError("pdf_fill_form", err), nil
	}
	return mcp.NewToolResultText(formatFillForm(result)), nil
}

func (s *Server) handleStorePut(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.pdfService.StorePut(ctx, pdf.StorePutRequest{Path: path})
	if err != nil {
		return s.toolError("pdf_store_put", err), nil
	}

	text := fmt.Sprintf("Stored %s\nDocument ID: %s\n", path, result.DocumentID)
	if result.Info != nil {
		text += fmt.Sprintf("Pages: %d, PDF %s, %d bytes\n", result.Info.Pages, result.Info.Version, result.Info.Size)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.pdfService.ServerInfo(ctx, s.config.ServerName, s.config.Version)
	if err != nil {
		return s.toolError("pdf_server_info", err), nil
	}
	return mcp.NewToolResultText(formatServerInfo(result)), nil
}

// Formatting methods
func formatSession(result *pdf.SessionResult) string {
	vp := result.Viewport
	text := fmt.Sprintf("Session: %s\n", result.SessionID)
	text += fmt.Sprintf("Pages: %d (showing page 1)\n", result.Pages)
	text += fmt.Sprintf("Page size: %.0fx%.0f pt, scale %.3f, raster %dx%d px\n",
		vp.PageWidthPts, vp.PageHeightPts, vp.Scale, vp.BufferWidthPx, vp.BufferHeightPx)
	text += fmt.Sprintf("Editable: %t, Drawing mode: %t, Signed: %t\n", result.Editable, result.DrawingMode, result.Signed)
	text += fmt.Sprintf("Permissions: %s\n", result.Permissions)
	return text
}

func formatDownload(result *pdf.DownloadResult) string {
	return fmt.Sprintf("Exported %s (%d bytes)\nPath: %s\n", result.Filename, result.Size, result.Path)
}

func formatFillForm(result *pdf.FillFormResult) string {
	text := fmt.Sprintf("Form filled: %s\n", result.Summary)
	text += fmt.Sprintf("Document ID: %s\n", result.DocumentID)
	text += fmt.Sprintf("Filename: %s\n", result.Filename)

	if result.Verification != nil {
		if result.Verification.Passed {
			text += "Classification verification: passed\n"
		} else {
			text += "Classification verification: FAILED\n"
			for _, rec := range result.Verification.Failures() {
				text += fmt.Sprintf("   • %s: expected %q, read back %q (attempt %d)\n",
					rec.FieldName, rec.Expected, rec.Observed, rec.Attempt)
			}
		}
	}

	if len(result.Fields) > 0 {
		text += "\nFields:\n"
		for _, field := range result.Fields {
			name := field.ResolvedName
			if name == "" {
				name = field.Assignment.FieldName
			}
			text += fmt.Sprintf("   %s: %s (%d attempt(s))\n", name, field.State, field.Attempts)
		}
	}

	if len(result.Warnings) > 0 {
		text += "\nWarnings:\n"
		for _, w := range result.Warnings {
			text += fmt.Sprintf("   ⚠️  %s\n", w)
		}
	}

	if result.Download != nil {
		text += "\n" + formatDownload(result.Download)
	}
	return text
}

func formatServerInfo(result *pdf.ServerInfoResult) string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", result.ServerName, result.Version)
	text += fmt.Sprintf("📁 Document Directory: %s\n", result.DocumentDirectory)
	text += fmt.Sprintf("📏 Max File Size: %d MB\n", result.MaxFileSize/(1024*1024))
	text += fmt.Sprintf("🗄️  Document Store: %s\n", result.StoreBackend)
	text += fmt.Sprintf("🖨️  Print Scale: %g, Field Attempts: %d, Open Sessions: %d\n",
		result.PrintScale, result.MaxAttempts, result.OpenSessions)
	text += fmt.Sprintf("🧠 Render Cache: %d/%d pages, %.1f%% hits\n\n",
		result.RenderCache.Size, result.RenderCache.Capacity, result.RenderCache.HitRate)

	// Directory contents
	if len(result.DirectoryContents) > 0 {
		text += fmt.Sprintf("📂 Directory Contents (%d PDF files found):\n", len(result.DirectoryContents))
		for i, file := range result.DirectoryContents {
			if i >= 10 { // Limit to first 10 files for readability
				text += fmt.Sprintf("   ... and %d more files\n", len(result.DirectoryContents)-10)
				break
			}
			text += fmt.Sprintf("   %d. %s (%d bytes)\n", i+1, file.Name, file.Size)
		}
		text += "\n"
	} else {
		text += "📂 Directory Contents: No PDF files found in document directory\n\n"
	}

	text += "🛠️  Available Tools:\n"
	for _, tool := range result.AvailableTools {
		text += fmt.Sprintf("\n• %s\n", tool.Name)
		text += fmt.Sprintf("  Description: %s\n", tool.Description)
		text += fmt.Sprintf("  Usage: %s\n", tool.Usage)
		text += fmt.Sprintf("  Parameters: %s\n", tool.Parameters)
	}

	text += "\n" + result.UsageGuidance
	return strings.TrimRight(text, "\n") + "\n"
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(ctx context.Context) error {
	if s.config.IsDebug() {
		s.logger.Printf("[DEBUG] Starting PDF MCP server in stdio mode")
		s.logger.Printf("[DEBUG] PDF directory: %s", s.config.PDFDirectory)
	}

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(s.logger)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves the streamable HTTP transport until ctx is done.
func (s *Server) runServerMode(ctx context.Context) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("[INFO] Serving MCP over HTTP on %s", s.config.Address())
		errCh <- httpServer.Start(s.config.Address())
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	}
}
