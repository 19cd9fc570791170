package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
)

// headerWindow is how far into the data the %PDF- marker may appear.
const headerWindow = 1024

// DocumentInfo describes bytes that passed validation.
type DocumentInfo struct {
	Size        int64                `json:"size"`
	Pages       int                  `json:"pages"`
	Version     string               `json:"version"`
	Permissions security.Permissions `json:"permissions"`
}

// Validator handles PDF validation before a session or a fill pass accepts
// a document
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new PDF validator with the specified constraints
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// ReadFile checks filePath and returns its contents.
func (v *Validator) ReadFile(filePath string) ([]byte, error) {
	if filePath == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	// Check if file exists and get basic info
	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	if err := v.ValidateFileInfo(filePath, fileInfo); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}
	return data, nil
}

// ValidateFileInfo performs basic validation on file info without opening the PDF
func (v *Validator) ValidateFileInfo(filePath string, fileInfo os.FileInfo) error {
	if fileInfo.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return fmt.Errorf("file is not a PDF: %s", filePath)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("file is empty: %s", filePath)
	}

	if fileInfo.Size() > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)",
			fileInfo.Size(), v.maxFileSize)
	}

	return nil
}

// ValidateBytes checks the size limit and the header, then opens data to
// count pages and read the permission flags of an encrypted document.
func (v *Validator) ValidateBytes(data []byte) (info *DocumentInfo, err error) {
	size := int64(len(data))
	if size == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	if v.maxFileSize > 0 && size > v.maxFileSize {
		return nil, fmt.Errorf("document too large: %d bytes (max: %d bytes)", size, v.maxFileSize)
	}

	version, err := headerVersion(data)
	if err != nil {
		return nil, err
	}

	// The reader panics on some malformed cross-reference sections.
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = fmt.Errorf("invalid PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), size)
	if err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}

	pages := r.NumPage()
	if pages < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	perms := security.NewFullPermissions()
	if enc := r.Trailer().Key("Encrypt"); enc.Kind() == pdf.Dict {
		perms = security.NewPermissions(int32(enc.Key("P").Int64()))
	}

	return &DocumentInfo{
		Size:        size,
		Pages:       pages,
		Version:     version,
		Permissions: perms,
	}, nil
}

func headerVersion(data []byte) (string, error) {
	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	i := bytes.Index(window, []byte("%PDF-"))
	if i < 0 {
		return "", fmt.Errorf("missing %%PDF- header")
	}
	rest := window[i+5:]
	end := bytes.IndexAny(rest, "\r\n \t%")
	if end < 0 {
		end = len(rest)
	}
	if end == 0 || end > 8 {
		return "", fmt.Errorf("malformed PDF header")
	}
	return string(rest[:end]), nil
}
