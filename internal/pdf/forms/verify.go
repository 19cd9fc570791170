package forms

import (
	"context"
	"fmt"
	"log"
)

// Report is the result of a verification sweep.
type Report struct {
	Records []VerificationRecord `json:"records"`
	Passed  bool                 `json:"passed"`
}

// Failures returns the records whose observation differs from the
// expected value.
func (r *Report) Failures() []VerificationRecord {
	var out []VerificationRecord
	for _, rec := range r.Records {
		if !rec.Matched() {
			out = append(out, rec)
		}
	}
	return out
}

// Verify reads every classification field of form and compares it with
// the expected value of its row; classifications[n-1] belongs to row n.
// Rows without an expected value are logged but not judged. Verify never
// writes to the form.
func Verify(form Form, classifications []string, logger *log.Logger) *Report {
	if logger == nil {
		logger = log.Default()
	}

	report := &Report{Passed: true}
	for _, field := range form.Fields() {
		if !IsClassification(field.Name()) {
			continue
		}

		observed, err := field.Text()
		if err != nil {
			logger.Printf("[DEBUG] verification could not read %q: %v", field.Name(), err)
		}
		logger.Printf("[DEBUG] verification: %s = %q (length: %d)", field.Name(), observed, len([]rune(observed)))

		row, ok := RowIndex(field.Name())
		if !ok || row > len(classifications) || classifications[row-1] == "" {
			continue
		}

		rec := VerificationRecord{
			FieldName: field.Name(),
			Expected:  classifications[row-1],
			Observed:  observed,
		}
		report.Records = append(report.Records, rec)
		if !rec.Matched() {
			report.Passed = false
			logger.Printf("[WARN] verification failed: %s expected %q but got %q", rec.FieldName, rec.Expected, rec.Observed)
		}
	}

	if report.Passed {
		logger.Printf("[INFO] verification passed (%d classification fields)", len(report.Records))
	} else {
		logger.Printf("[WARN] verification failed for %d of %d classification fields", len(report.Failures()), len(report.Records))
	}
	return report
}

// VerifyBytes reloads serialized form bytes and runs Verify on them.
func VerifyBytes(ctx context.Context, data []byte, classifications []string, logger *log.Logger) (*Report, error) {
	form, err := Open(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to reload filled form: %w", err)
	}
	return Verify(form, classifications, logger), nil
}
