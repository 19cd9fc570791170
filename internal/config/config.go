package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Store backends
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"

	// Default values
	DefaultPort            = 8080
	DefaultHost            = "127.0.0.1"
	DefaultLogLevel        = "info"
	DefaultMaxFileSize     = 100 * 1024 * 1024 // 100MB
	DefaultTemplate        = "ctr_template.pdf"
	DefaultRedisAddr       = "localhost:6379"
	DefaultContainerWidth  = 612
	DefaultContainerHeight = 792
	DefaultStrokeColor     = "#000000"

	// MaxAttemptsLimit bounds the configurable write/read-back retries.
	MaxAttemptsLimit = 10

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the PDF annotator MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Document locations
	PDFDirectory string
	TemplatePath string // CTR template, relative to PDFDirectory unless absolute
	DownloadDir  string
	SpoolDir     string

	// Document store
	StoreBackend  string
	StoreDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StoreTTL      time.Duration

	// Session behaviour
	PrintScale      float64
	MaxAttempts     int
	ContainerWidth  float64
	ContainerHeight float64
	StrokeColor     string
	StrokeWidth     float64
	RenderCache     int // Cached page rasters; negative disables the cache

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum PDF file size in bytes
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:            ModeStdio, // Default to stdio mode for MCP compatibility
		Host:            DefaultHost,
		Port:            DefaultPort,
		PDFDirectory:    currentDir,
		TemplatePath:    DefaultTemplate,
		StoreBackend:    StoreFile,
		RedisAddr:       DefaultRedisAddr,
		PrintScale:      raster.DefaultPrintScale,
		MaxAttempts:     forms.DefaultMaxAttempts,
		ContainerWidth:  DefaultContainerWidth,
		ContainerHeight: DefaultContainerHeight,
		StrokeColor:     DefaultStrokeColor,
		StrokeWidth:     raster.DefaultStrokeWidth,
		RenderCache:     pagecache.DefaultCapacity,
		Version:         "1.0.0",
		ServerName:      "mcp-pdf-annotator",
		LogLevel:        DefaultLogLevel,
		MaxFileSize:     DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// flagKeys are the viper keys backed by a command line flag.
var flagKeys = []string{
	"mode", "host", "port", "dir", "loglevel", "maxfilesize",
	"template", "downloaddir", "spooldir",
	"store", "storedir", "redisaddr", "redispassword", "redisdb", "storettl",
	"printscale", "maxattempts", "containerwidth", "containerheight", "strokecolor", "strokewidth",
	"rendercache",
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix("MCP_PDF")
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.PDFDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("template", cfg.TemplatePath)
	viper.SetDefault("downloaddir", cfg.DownloadDir)
	viper.SetDefault("spooldir", cfg.SpoolDir)
	viper.SetDefault("store", cfg.StoreBackend)
	viper.SetDefault("storedir", cfg.StoreDir)
	viper.SetDefault("redisaddr", cfg.RedisAddr)
	viper.SetDefault("redispassword", cfg.RedisPassword)
	viper.SetDefault("redisdb", cfg.RedisDB)
	viper.SetDefault("storettl", cfg.StoreTTL)
	viper.SetDefault("printscale", cfg.PrintScale)
	viper.SetDefault("maxattempts", cfg.MaxAttempts)
	viper.SetDefault("containerwidth", cfg.ContainerWidth)
	viper.SetDefault("containerheight", cfg.ContainerHeight)
	viper.SetDefault("strokecolor", cfg.StrokeColor)
	viper.SetDefault("strokewidth", cfg.StrokeWidth)
	viper.SetDefault("rendercache", cfg.RenderCache)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.PDFDirectory, "Directory containing PDF files")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")

	pflag.String("template", cfg.TemplatePath, "CTR form template used by pdf_fill_form (relative to --dir)")
	pflag.String("downloaddir", cfg.DownloadDir, "Directory for exported documents (default <dir>/downloads)")
	pflag.String("spooldir", cfg.SpoolDir, "Print spool directory (default <tmp>/mcp-pdf-spool)")

	pflag.String("store", cfg.StoreBackend, "Document store backend: file, redis or memory")
	pflag.String("storedir", cfg.StoreDir, "Directory of the file store (default <dir>/.store)")
	pflag.String("redisaddr", cfg.RedisAddr, "Redis address (redis store only)")
	pflag.String("redispassword", cfg.RedisPassword, "Redis password (redis store only)")
	pflag.Int("redisdb", cfg.RedisDB, "Redis database number (redis store only)")
	pflag.Duration("storettl", cfg.StoreTTL, "Expiry of stored documents, 0 keeps them (redis store only)")

	pflag.Float64("printscale", cfg.PrintScale, "Render scale used for printing")
	pflag.Int("maxattempts", cfg.MaxAttempts, "Write/read-back attempts per form field")
	pflag.Float64("containerwidth", cfg.ContainerWidth, "Default display container width in pixels")
	pflag.Float64("containerheight", cfg.ContainerHeight, "Default display container height in pixels")
	pflag.String("strokecolor", cfg.StrokeColor, "Initial stroke color (#rrggbb)")
	pflag.Float64("strokewidth", cfg.StrokeWidth, "Initial stroke width in buffer pixels")
	pflag.Int("rendercache", cfg.RenderCache, "Number of rendered pages kept in memory, -1 disables")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, key := range flagKeys {
		_ = viper.BindPFlag(key, pflag.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Annotator - A Model Context Protocol server for signing, printing and filling PDF forms\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                         "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/pdfs                     "+
			"# stdio mode with custom directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --dir=/path/to/pdfs       # server mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --store=redis --redisaddr=redis:6379    # documents kept in redis\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every option is also read from MCP_PDF_<OPTION>, e.g.\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_MODE        Server mode\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DIR         PDF directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_STORE       Document store backend\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_PRINTSCALE  Print render scale\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_MAXATTEMPTS Form field attempts\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.PDFDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.TemplatePath = viper.GetString("template")
	cfg.DownloadDir = viper.GetString("downloaddir")
	cfg.SpoolDir = viper.GetString("spooldir")
	cfg.StoreBackend = viper.GetString("store")
	cfg.StoreDir = viper.GetString("storedir")
	cfg.RedisAddr = viper.GetString("redisaddr")
	cfg.RedisPassword = viper.GetString("redispassword")
	cfg.RedisDB = viper.GetInt("redisdb")
	cfg.StoreTTL = viper.GetDuration("storettl")
	cfg.PrintScale = viper.GetFloat64("printscale")
	cfg.MaxAttempts = viper.GetInt("maxattempts")
	cfg.ContainerWidth = viper.GetFloat64("containerwidth")
	cfg.ContainerHeight = viper.GetFloat64("containerheight")
	cfg.StrokeColor = viper.GetString("strokecolor")
	cfg.StrokeWidth = viper.GetFloat64("strokewidth")
	cfg.RenderCache = viper.GetInt("rendercache")
}

// ResolvePaths makes PDFDirectory absolute and fills the directories that
// default to locations derived from it.
func (c *Config) ResolvePaths() {
	if c.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(c.PDFDirectory); err == nil {
			c.PDFDirectory = expandedPath
		}
	}
	if c.DownloadDir == "" && c.PDFDirectory != "" {
		c.DownloadDir = filepath.Join(c.PDFDirectory, "downloads")
	}
	if c.StoreDir == "" && c.PDFDirectory != "" {
		c.StoreDir = filepath.Join(c.PDFDirectory, ".store")
	}
	if c.SpoolDir == "" {
		c.SpoolDir = filepath.Join(os.TempDir(), "mcp-pdf-spool")
	}
}

// Validate resolves derived paths and checks if the configuration is valid.
// Missing directories are created.
func (c *Config) Validate() error {
	c.ResolvePaths()

	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate PDF directory
	if c.PDFDirectory == "" {
		return errors.New("PDF directory cannot be empty")
	}
	if err := ensureDir("PDF", c.PDFDirectory); err != nil {
		return err
	}
	if c.DownloadDir != "" {
		if err := ensureDir("download", c.DownloadDir); err != nil {
			return err
		}
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreFile:
		if c.StoreDir == "" {
			return errors.New("file store needs a store directory")
		}
		if err := ensureDir("store", c.StoreDir); err != nil {
			return err
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis store needs a redis address")
		}
		if c.RedisDB < 0 {
			return errors.New("redis database number cannot be negative")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store backend: %s (must be one of: file, redis, memory)", c.StoreBackend)
	}
	if c.StoreTTL < 0 {
		return errors.New("store ttl cannot be negative")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.PrintScale <= 0 || c.PrintScale > 8 {
		return fmt.Errorf("print scale must be in (0, 8], got %g", c.PrintScale)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("max attempts must be between 1 and %d, got %d", MaxAttemptsLimit, c.MaxAttempts)
	}
	if c.ContainerWidth <= 0 || c.ContainerHeight <= 0 {
		return errors.New("container dimensions must be positive")
	}
	if c.StrokeWidth < raster.MinStrokeWidth || c.StrokeWidth > raster.MaxStrokeWidth {
		return fmt.Errorf("stroke width must be between %g and %g", raster.MinStrokeWidth, raster.MaxStrokeWidth)
	}
	if _, err := raster.ParseHexColor(c.StrokeColor); err != nil {
		return err
	}
	return nil
}

func ensureDir(what, dir string) error {
	// Check if the directory exists, create if it doesn't
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create %s directory %s: %w", what, dir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access %s directory %s: %w", what, dir, err)
	}
	return nil
}

// ServiceOptions converts the configuration into PDF service options.
func (c *Config) ServiceOptions() pdf.Options {
	return pdf.Options{
		DocumentDir:  c.PDFDirectory,
		TemplatePath: c.TemplatePath,
		DownloadDir:  c.DownloadDir,
		SpoolDir:     c.SpoolDir,
		MaxFileSize:  c.MaxFileSize,
		PrintScale:   c.PrintScale,
		MaxAttempts:  c.MaxAttempts,
		Container:    pdf.Container{Width: c.ContainerWidth, Height: c.ContainerHeight},
		StrokeColor:  c.StrokeColor,
		StrokeWidth:  c.StrokeWidth,
		StoreBackend: c.StoreBackend,
		RenderCache:  c.RenderCache,
	}
}

// StoreOptions converts the configuration into document store options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.StoreBackend,
		Dir:           c.StoreDir,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		TTL:           c.StoreTTL,
	}
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, PDFDirectory: %s, Store: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.PDFDirectory, c.StoreBackend, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
