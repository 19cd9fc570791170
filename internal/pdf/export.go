package pdf

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/security"
)

// PrintJob is one page handed to a Printer.
type PrintJob struct {
	Name     string
	Image    image.Image
	Viewport raster.Viewport
}

// Printer is the platform print facility. Print returns a reference to the
// submitted job.
type Printer interface {
	Print(ctx context.Context, job PrintJob) (string, error)
}

// SpoolPrinter submits jobs by writing them as PNG files into a spool
// directory watched by the host's print system.
type SpoolPrinter struct {
	confiner *security.Confiner
	logger   *log.Logger
}

// NewSpoolPrinter creates a SpoolPrinter, creating dir if needed.
func NewSpoolPrinter(dir string, logger *log.Logger) (*SpoolPrinter, error) {
	confiner, err := exportDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up print spool: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SpoolPrinter{confiner: confiner, logger: logger}, nil
}

// Print writes job into the spool and returns the spooled file path.
func (p *SpoolPrinter) Print(ctx context.Context, job PrintJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if job.Image == nil {
		return "", fmt.Errorf("print job %q has no image", job.Name)
	}
	data, err := raster.EncodePNG(job.Image)
	if err != nil {
		return "", err
	}

	// Jobs with the same name must not overwrite each other in the spool.
	name := uuid.NewString()[:8] + "_" + job.Name
	path, err := writeExport(p.confiner, name, data)
	if err != nil {
		return "", err
	}
	p.logger.Printf("[INFO] spooled print job %s (%d bytes)", path, len(data))
	return path, nil
}

// Downloader exports documents into the download directory.
type Downloader struct {
	confiner *security.Confiner
	logger   *log.Logger
}

// NewDownloader creates a Downloader, creating dir if needed.
func NewDownloader(dir string, logger *log.Logger) (*Downloader, error) {
	confiner, err := exportDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up download directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{confiner: confiner, logger: logger}, nil
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.confiner.Root()
}

// Download writes data as filename in the download directory, replacing
// any previous file of that name.
func (d *Downloader) Download(ctx context.Context, data []byte, filename string) (*DownloadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nothing to download")
	}
	path, err := writeExport(d.confiner, filename, data)
	if err != nil {
		return nil, err
	}
	d.logger.Printf("[INFO] downloaded %s (%d bytes)", path, len(data))
	return &DownloadResult{Path: path, Filename: filepath.Base(path), Size: int64(len(data))}, nil
}

func exportDir(dir string) (*security.Confiner, error) {
	confiner, err := security.NewConfiner(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(confiner.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", confiner.Root(), err)
	}
	return confiner, nil
}

// writeExport stages data in a temporary file next to its destination and
// renames it into place. The temporary file is removed on every path.
func writeExport(confiner *security.Confiner, name string, data []byte) (string, error) {
	final, err := confiner.FileName(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(confiner.Root(), ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return final, nil
}
