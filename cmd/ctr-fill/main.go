// Command ctr-fill fills a Crew Time Report form from a JSON crew file and
// reports, field by field, what was written and verified.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/a3tai/mcp-pdf-annotator/internal/ctr"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
)

// options are the parsed command line flags.
type options struct {
	template    string
	rowsPath    string
	outDir      string
	format      string
	attempts    int
	listFields  bool
	verbose     bool
	maxFileSize int64
	crew        ctr.CrewInfo
}

// crewFile is the object form of the input; a bare array of rows is also
// accepted.
type crewFile struct {
	Crew ctr.CrewInfo `json:"crew"`
	Rows []ctr.Row    `json:"rows"`
}

// FillReport is the result of one run.
type FillReport struct {
	Template     string              `json:"template"`
	Output       string              `json:"output,omitempty"`
	Filename     string              `json:"filename"`
	Summary      string              `json:"summary"`
	Fields       []forms.FieldResult `json:"fields"`
	Verification *forms.Report       `json:"verification,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := pflag.NewFlagSet("ctr-fill", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVarP(&opts.template, "template", "t", "", "CTR form PDF to fill (required)")
	fs.StringVarP(&opts.rowsPath, "rows", "r", "", "JSON crew file, or - for stdin")
	fs.StringVarP(&opts.outDir, "out", "o", ".", "Directory the filled form is written to")
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.IntVar(&opts.attempts, "attempts", forms.DefaultMaxAttempts, "Write/read-back attempts per field")
	fs.BoolVar(&opts.listFields, "fields", false, "List the form's fields and exit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log fill progress to stderr")
	fs.Int64Var(&opts.maxFileSize, "maxfilesize", 100*1024*1024, "Maximum template size in bytes")
	fs.StringVar(&opts.crew.CrewName, "crew-name", "", "Crew name (overrides the crew file)")
	fs.StringVar(&opts.crew.CrewNumber, "crew-number", "", "Crew number (overrides the crew file)")
	fs.StringVar(&opts.crew.FireName, "fire-name", "", "Fire name (overrides the crew file)")
	fs.StringVar(&opts.crew.FireNumber, "fire-number", "", "Fire number (overrides the crew file)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "ctr-fill - fill a Crew Time Report form\n\n")
		fmt.Fprintf(stderr, "USAGE:\n  ctr-fill --template ctr.pdf --rows crew.json [--out dir]\n  ctr-fill --template ctr.pdf --fields\n\nOPTIONS:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe crew file is either an array of rows or an object:\n")
		fmt.Fprintf(stderr, `  {"crew": {"crewNumber": "C69"}, "rows": [{"name": "...", "classification": "FFT1", "days": [{"date": "2025-07-01", "on": "0600", "off": "1800"}]}]}`+"\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.template == "" && fs.NArg() > 0 {
		opts.template = fs.Arg(0)
	}
	if opts.template == "" {
		fs.Usage()
		return nil, fmt.Errorf("template is required")
	}
	if !opts.listFields && opts.rowsPath == "" {
		return nil, fmt.Errorf("rows file is required")
	}
	if opts.format != "text" && opts.format != "json" {
		return nil, fmt.Errorf("unsupported output format: %s", opts.format)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := log.New(io.Discard, "", 0)
	if opts.verbose {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	data, err := pdf.NewValidator(opts.maxFileSize).ReadFile(opts.template)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.listFields {
		if err := listFields(ctx, data, stdout); err != nil {
			fmt.Fprintf(stderr, "Error reading form: %v\n", err)
			return 1
		}
		return 0
	}

	crew, rows, err := readCrewFile(opts.rowsPath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	mergeCrew(&crew, opts.crew)

	report, filled, err := fill(ctx, opts, data, crew, rows, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error filling form: %v\n", err)
		return 1
	}

	downloader, err := pdf.NewDownloader(opts.outDir, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	written, err := downloader.Download(ctx, filled, report.Filename)
	if err != nil {
		fmt.Fprintf(stderr, "Error writing %s: %v\n", report.Filename, err)
		return 1
	}
	report.Output = written.Path

	if err := outputReport(report, opts.format, stdout); err != nil {
		fmt.Fprintf(stderr, "Error outputting results: %v\n", err)
		return 1
	}
	if report.Verification != nil && !report.Verification.Passed {
		return 3
	}
	return 0
}

func readCrewFile(path string, stdin io.Reader) (ctr.CrewInfo, []ctr.Row, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return ctr.CrewInfo{}, nil, fmt.Errorf("failed to read crew file: %w", err)
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		rows, err := ctr.ParseCrewMembers(string(raw))
		return ctr.CrewInfo{}, rows, err
	}
	var file crewFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return ctr.CrewInfo{}, nil, fmt.Errorf("invalid crew data: %w", err)
	}
	return file.Crew, file.Rows, nil
}

// mergeCrew overlays the non-empty flag values on the crew file header.
func mergeCrew(dst *ctr.CrewInfo, flags ctr.CrewInfo) {
	if flags.CrewName != "" {
		dst.CrewName = flags.CrewName
	}
	if flags.CrewNumber != "" {
		dst.CrewNumber = flags.CrewNumber
	}
	if flags.FireName != "" {
		dst.FireName = flags.FireName
	}
	if flags.FireNumber != "" {
		dst.FireNumber = flags.FireNumber
	}
}

func fill(ctx context.Context, opts *options, data []byte, crew ctr.CrewInfo, rows []ctr.Row, logger *log.Logger) (*FillReport, []byte, error) {
	filler := forms.NewFiller(opts.attempts, logger)
	result, err := filler.FillDocument(ctx, data, ctr.MapToFields(rows, crew), ctr.Classifications(rows))
	if err != nil {
		return nil, nil, err
	}

	report := &FillReport{
		Template: filepath.Base(opts.template),
		Filename: ctr.Filename(ctr.FilenameParams{
			Date:       ctr.FirstDate(rows),
			CrewNumber: crew.CrewNumber,
			FireName:   crew.FireName,
			FireNumber: crew.FireNumber,
			Kind:       ctr.KindPDF,
		}),
		Summary:      result.Outcome.Describe(),
		Fields:       result.Outcome.Results,
		Verification: result.Verification,
		Warnings:     crew.Validate(""),
	}
	for _, problem := range result.Outcome.Problems.Warnings {
		report.Warnings = append(report.Warnings, problem.Error())
	}
	return report, result.Data, nil
}

func listFields(ctx context.Context, data []byte, stdout io.Writer) error {
	form, err := forms.Open(ctx, data)
	if err != nil {
		return err
	}
	fields := form.Fields()
	fmt.Fprintf(stdout, "%d form fields\n", len(fields))
	for i, field := range fields {
		fmt.Fprintf(stdout, "[%d] %s\n    Type: %s\n", i+1, field.Name(), field.Kind())
		if field.MaxLen() > 0 {
			fmt.Fprintf(stdout, "    Max Length: %d\n", field.MaxLen())
		}
		if forms.IsClassification(field.Name()) {
			fmt.Fprintf(stdout, "    Classification field\n")
		}
	}
	return nil
}

func outputReport(report *FillReport, format string, stdout io.Writer) error {
	if format == "json" {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Fprintf(stdout, "✅ %s\n", report.Summary)
	fmt.Fprintf(stdout, "Output: %s\n\n", report.Output)

	for i, field := range report.Fields {
		name := field.ResolvedName
		if name == "" {
			name = field.Assignment.FieldName
		}
		fmt.Fprintf(stdout, "[%d] %s = %q\n", i+1, name, field.Assignment.Value)
		fmt.Fprintf(stdout, "    State: %s after %d attempt(s)\n", field.State, field.Attempts)
	}

	if report.Verification != nil {
		fmt.Fprintln(stdout)
		if report.Verification.Passed {
			fmt.Fprintln(stdout, "Classification verification passed")
		} else {
			fmt.Fprintln(stdout, "❌ Classification verification failed:")
			for _, rec := range report.Verification.Failures() {
				fmt.Fprintf(stdout, "  %s: expected %q, read back %q\n", rec.FieldName, rec.Expected, rec.Observed)
			}
		}
	}

	if len(report.Warnings) > 0 {
		fmt.Fprintln(stdout, "\nWarnings:")
		for _, w := range report.Warnings {
			fmt.Fprintf(stdout, "  ⚠️  %s\n", w)
		}
	}
	return nil
}
