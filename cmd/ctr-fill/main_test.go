package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pdftest"
)

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ctr.pdf")
	require.NoError(t, os.WriteFile(path, pdftest.Form(
		pdftest.TextField{Name: "CREW NUMBER"},
		pdftest.TextField{Name: "NameRow1"},
		pdftest.TextField{Name: "CtASSIF CATIONRow1", MaxLen: 8},
	), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_FillsForm(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	crewPath := filepath.Join(dir, "crew.json")
	require.NoError(t, os.WriteFile(crewPath, []byte(`{
		"crew": {"crewNumber": "C69", "fireName": "RMA Preposition"},
		"rows": [{"name": "Sawyer McCall", "classification": "FFT1",
		          "days": [{"date": "2025-07-01", "on": "0600", "off": "1800"}]}]
	}`), 0o644))
	out := filepath.Join(dir, "out")

	code, stdout, stderr := execute(t, "", "--template", template, "--rows", crewPath, "--out", out)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "Classification verification passed")
	assert.Contains(t, stdout, `NameRow1 = "Sawyer McCall"`)
	assert.FileExists(t, filepath.Join(out, "CTR_2025-07-01_C69_RMA-Preposition.pdf"))

	data, err := os.ReadFile(filepath.Join(out, "CTR_2025-07-01_C69_RMA-Preposition.pdf"))
	require.NoError(t, err)
	form, err := forms.Open(context.Background(), data)
	require.NoError(t, err)
	field, ok := form.Field("NameRow1")
	require.True(t, ok)
	value, err := field.Text()
	require.NoError(t, err)
	assert.Equal(t, "Sawyer McCall", value)
}

func TestRun_JSONFromStdin(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir)

	code, stdout, stderr := execute(t,
		`[{"name": "Jason Weber", "classification": "CRWB"}]`,
		"--template", template, "--rows", "-", "--out", dir, "--format", "json",
		"--crew-number", "C12", "--fire-number", "CO/RMC",
	)
	require.Equal(t, 0, code, stderr)

	var report FillReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "ctr.pdf", report.Template)
	assert.Equal(t, "CTR_C12_CO-RMC.pdf", report.Filename)
	assert.Equal(t, filepath.Join(dir, "CTR_C12_CO-RMC.pdf"), report.Output)
	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.Passed)
	// FIRE NUMBER has no field on this form and the fire number fails the
	// header format check.
	assert.NotEmpty(t, report.Warnings)
}

func TestRun_ListFields(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir)

	code, stdout, stderr := execute(t, "", "--fields", template)
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "3 form fields")
	assert.Contains(t, stdout, "CREW NUMBER")
	assert.Contains(t, stdout, "Max Length: 8")
	assert.Contains(t, stdout, "Classification field")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{"), 0o644))

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{"no template", []string{"--rows", "x.json"}, 2, "template is required"},
		{"no rows", []string{"--template", template}, 2, "rows file is required"},
		{"bad format", []string{"--template", template, "--rows", badJSON, "--format", "xml"}, 2, "unsupported output format"},
		{"missing template", []string{"--template", filepath.Join(dir, "none.pdf"), "--rows", badJSON}, 1, "does not exist"},
		{"bad crew file", []string{"--template", template, "--rows", badJSON}, 1, "invalid crew data"},
		{"missing crew file", []string{"--template", template, "--rows", filepath.Join(dir, "none.json")}, 1, "failed to read crew file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, "", tt.args...)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestRun_Help(t *testing.T) {
	code, _, stderr := execute(t, "", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "ctr-fill - fill a Crew Time Report form")
}
