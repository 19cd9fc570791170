package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/a3tai/mcp-pdf-annotator/internal/descriptions"
)

// DirectoryCache provides TTL-based caching for directory contents
type DirectoryCache struct {
	entries map[string]*CacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

// CacheEntry represents a cached directory scan result
type CacheEntry struct {
	files      []FileInfo
	lastUpdate time.Time
	scanning   bool
}

// LazyDirectoryScanner performs directory scanning with limits
type LazyDirectoryScanner struct {
	maxDepth   int
	fileLimit  int
	timeLimit  time.Duration
	skipHidden bool
}

// ScanResult represents the result of a directory scan
type ScanResult struct {
	Files        []FileInfo
	FromCache    bool
	FilesScanned int
	Truncated    bool
}

// PDFServerInfo assembles server info, caching the document listing
type PDFServerInfo struct {
	cache   *DirectoryCache
	scanner *LazyDirectoryScanner
	service *Service
}

// NewDirectoryCache creates a new directory cache with specified TTL
func NewDirectoryCache(ttl time.Duration) *DirectoryCache {
	return &DirectoryCache{
		entries: make(map[string]*CacheEntry),
		ttl:     ttl,
	}
}

// Get retrieves cached directory contents if valid
func (c *DirectoryCache) Get(path string) *CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[path]
	if !exists || time.Since(entry.lastUpdate) > c.ttl {
		return nil
	}
	return entry
}

// Set stores directory contents in cache
func (c *DirectoryCache) Set(path string, files []FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = &CacheEntry{files: files, lastUpdate: time.Now()}
}

// TryStartScan marks a directory as being scanned. It returns false when a
// scan is already running.
func (c *DirectoryCache) TryStartScan(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[path]
	if !exists {
		c.entries[path] = &CacheEntry{scanning: true}
		return true
	}
	if entry.scanning {
		return false
	}
	entry.scanning = true
	return true
}

// FinishScan clears the scanning mark.
func (c *DirectoryCache) FinishScan(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.entries[path]; exists {
		entry.scanning = false
	}
}

// Invalidate drops the cached listing of path.
func (c *DirectoryCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.entries[path]; exists && !entry.scanning {
		delete(c.entries, path)
	}
}

// NewLazyDirectoryScanner creates a new lazy directory scanner
func NewLazyDirectoryScanner(maxDepth, fileLimit int, timeLimit time.Duration) *LazyDirectoryScanner {
	return &LazyDirectoryScanner{
		maxDepth:   maxDepth,
		fileLimit:  fileLimit,
		timeLimit:  timeLimit,
		skipHidden: true,
	}
}

// ScanDirectory lists PDF files below root. Symlinks are never followed so
// the listing stays inside root.
func (s *LazyDirectoryScanner) ScanDirectory(ctx context.Context, root string) (*ScanResult, error) {
	result := &ScanResult{Files: []FileInfo{}}
	deadline := time.Now().Add(s.timeLimit)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}

		result.FilesScanned++
		if s.timeLimit > 0 && time.Now().After(deadline) {
			result.Truncated = true
			return filepath.SkipAll
		}

		name := d.Name()
		if s.skipHidden && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			if s.maxDepth > 0 && strings.Count(rel, string(filepath.Separator))+1 >= s.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		result.Files = append(result.Files, FileInfo{
			Name:         name,
			Path:         path,
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format("2006-01-02 15:04:05"),
		})
		if s.fileLimit > 0 && len(result.Files) >= s.fileLimit {
			result.Truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	return result, err
}

// NewPDFServerInfo creates a new server info handler
func NewPDFServerInfo(service *Service) *PDFServerInfo {
	return &PDFServerInfo{
		cache:   NewDirectoryCache(5 * time.Minute),             // 5-minute cache TTL
		scanner: NewLazyDirectoryScanner(5, 100, 3*time.Second), // max 5 levels, 100 files, 3 second limit
		service: service,
	}
}

// GetServerInfo returns server information with the (cached) listing of the
// document directory
func (p *PDFServerInfo) GetServerInfo(ctx context.Context, serverName, version string) (*ServerInfoResult, error) {
	dir := p.service.documents.Root()

	files := []FileInfo{}
	if cached := p.cache.Get(dir); cached != nil {
		files = cached.files
	} else if p.cache.TryStartScan(dir) {
		// A scan already in progress yields an empty listing instead of blocking.
		scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		scanResult, err := p.scanner.ScanDirectory(scanCtx, dir)
		cancel()
		p.cache.FinishScan(dir)
		if err == nil {
			files = scanResult.Files
			p.cache.Set(dir, files)
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return &ServerInfoResult{
		ServerName:        serverName,
		Version:           version,
		DocumentDirectory: dir,
		MaxFileSize:       p.service.opts.MaxFileSize,
		StoreBackend:      p.service.opts.StoreBackend,
		PrintScale:        p.service.opts.PrintScale,
		MaxAttempts:       p.service.filler.MaxAttempts(),
		OpenSessions:      p.service.SessionCount(),
		RenderCache:       p.service.RenderCacheStats(),
		AvailableTools:    p.getAvailableTools(),
		DirectoryContents: files,
		UsageGuidance:     p.getUsageGuidance(),
	}, nil
}

// InvalidateListing forces the next call to rescan the document directory.
func (p *PDFServerInfo) InvalidateListing() {
	p.cache.Invalidate(p.service.documents.Root())
}

// getAvailableTools returns the list of available tools
func (p *PDFServerInfo) getAvailableTools() []ToolInfo {
	tools := []struct {
		name, usage, params string
	}{
		{"pdf_session_open", "Open a document and render page 1.",
			"path or document_id (one required), container {width,height}, editable, crew, date"},
		{"pdf_session_close", "End a session.", "session_id (required)"},
		{"pdf_render", "Re-render page 1, clearing strokes.", "session_id (required), container (optional)"},
		{"pdf_draw_mode", "Enable or disable pointer input.", "session_id (required), enabled (required)"},
		{"pdf_stroke", "Paint one stroke.", "session_id, points (required), display, color, width (optional)"},
		{"pdf_clear", "Remove all strokes.", "session_id (required)"},
		{"pdf_save", "Embed strokes into the PDF and store it.", "session_id (required)"},
		{"pdf_print", "Print page 1 with strokes.", "session_id (required)"},
		{"pdf_download", "Export the current document as a file.", "session_id (required), filename (optional)"},
		{"pdf_fill_form", "Fill the CTR form from rows.",
			"rows (required), crew, path or document_id (optional, defaults to the template), download_immediately"},
		{"pdf_store_put", "Copy a file into the document store.", "path (required)"},
		{"pdf_server_info", "Server configuration and available documents.", "No parameters required"},
	}

	out := make([]ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = ToolInfo{
			Name:        t.name,
			Description: descriptions.GetToolDescription(t.name),
			Usage:       t.usage,
			Parameters:  t.params,
		}
	}
	return out
}

// getUsageGuidance returns usage guidance
func (p *PDFServerInfo) getUsageGuidance() string {
	maxFileSizeMB := p.service.opts.MaxFileSize / (1024 * 1024)

	return fmt.Sprintf(`PDF Annotator MCP Server Usage Guide:

1. SIGN OR MARK UP A DOCUMENT:
   - 'pdf_session_open' with a path from directory_contents (or a document_id)
   - 'pdf_draw_mode' enabled=true, then one 'pdf_stroke' per pen stroke
   - 'pdf_save' to embed the strokes; the signed copy gets a new document_id
   - 'pdf_download' to export it, 'pdf_session_close' when done

2. PRINT:
   - 'pdf_print' renders at %.1fx scale and restores the view afterwards

3. FILL A CREW TIME REPORT:
   - 'pdf_fill_form' with rows [{name, classification, days:[{date,on,off}]}] and crew info
   - Each field is written and read back up to %d times
   - Check 'fields' and 'verification' in the result for fields that did not take

IMPORTANT NOTES:
- Paths are relative to the document directory; files outside it are refused
- The server can handle files up to %dMB
- Rendering (including pdf_render) clears all strokes
- Only one long operation runs per session at a time; others report busy`,
		p.service.opts.PrintScale, p.service.filler.MaxAttempts(), maxFileSizeMB)
}
