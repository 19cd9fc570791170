package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/mcp"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

var levelTags = [][]byte{[]byte("[DEBUG]"), []byte("[INFO]"), []byte("[WARN]"), []byte("[ERROR]")}

// levelWriter drops log lines tagged below the configured level. Untagged
// lines always pass.
type levelWriter struct {
	out io.Writer
	min int
}

func (w *levelWriter) Write(p []byte) (int, error) {
	for rank, tag := range levelTags {
		if bytes.Contains(p, tag) {
			if rank < w.min {
				return len(p), nil
			}
			break
		}
	}
	return w.out.Write(p)
}

// setupLogging configures logging based on the server mode and log level
func setupLogging(cfg *config.Config) *log.Logger {
	// stdout carries the MCP protocol in stdio mode, so logs always go to stderr
	log.SetOutput(&levelWriter{out: os.Stderr, min: levelRank[cfg.LogLevel]})
	if cfg.IsServerMode() {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
	return log.Default()
}

// runServerMode handles server mode execution with signal handling
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) error {
	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case sig := <-signalCh:
		log.Printf("[INFO] Received signal: %s", sig)
		log.Println("[INFO] Initiating graceful shutdown...")
		cancel()

		if err := <-serverErrCh; err != nil {
			return fmt.Errorf("server shutdown with error: %w", err)
		}

	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Println("[INFO] Server stopped successfully")
	return nil
}

// runStdioMode handles stdio mode execution. The parent process controls our
// lifecycle; SIGINT and SIGTERM still cancel in-flight work.
func runStdioMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// run wires the store, the PDF service and the MCP server and blocks until
// the server stops.
func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *log.Logger) error {
	blobs, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.Printf("[WARN] closing document store: %v", err)
		}
	}()

	opts := cfg.ServiceOptions()
	opts.Logger = logger
	pdfService, err := pdf.NewService(opts, blobs, nil)
	if err != nil {
		return fmt.Errorf("failed to create PDF service: %w", err)
	}
	defer pdfService.Close()

	server, err := mcp.NewServer(cfg, pdfService, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if cfg.IsServerMode() {
		return runServerMode(ctx, cancel, server)
	}
	return runStdioMode(ctx, cancel, server)
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogging(cfg)

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	logger.Printf("[DEBUG] Starting with configuration: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("MCP PDF Annotator\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
