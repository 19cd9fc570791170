package forms

import (
	"context"
	"fmt"
	"strings"
)

// Result is a filled and serialized form document.
type Result struct {
	Data         []byte   `json:"-"`
	Outcome      *Outcome `json:"outcome"`
	Verification *Report  `json:"verification,omitempty"`
}

// FillDocument opens source, fills it, serializes it and verifies the
// classification fields of the serialized bytes. Only decode, encode and
// cancellation errors are returned; a failed verification is reported in
// the Result.
func (f *Filler) FillDocument(ctx context.Context, source []byte, assignments []Assignment, classifications []string) (*Result, error) {
	form, err := Open(ctx, source)
	if err != nil {
		return nil, err
	}
	f.logFields(form)

	outcome, err := f.Fill(ctx, form, assignments)
	if err != nil {
		return nil, err
	}

	data, err := form.Save()
	if err != nil {
		return nil, err
	}
	f.logger.Printf("[INFO] filled form: %d verified, %d failed, %d unresolved, %d bytes",
		outcome.Count(StateVerified), outcome.Count(StateFailed), outcome.Count(StateUnresolved), len(data))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Data: data, Outcome: outcome}
	report, err := VerifyBytes(ctx, data, classifications, f.logger)
	if err != nil {
		f.logger.Printf("[WARN] verification sweep skipped: %v", err)
		return result, nil
	}
	result.Verification = report
	return result, nil
}

func (f *Filler) logFields(form Form) {
	fields := form.Fields()
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.Name())
		if IsClassification(field.Name()) {
			f.logger.Printf("[DEBUG] classification field %q: kind=%s maxlen=%d", field.Name(), field.Kind(), field.MaxLen())
		}
	}
	f.logger.Printf("[DEBUG] available form fields (%d): %s", len(names), strings.Join(names, ", "))
}

// Names returns the fully qualified names of all fields of form.
func Names(form Form) []string {
	fields := form.Fields()
	out := make([]string, len(fields))
	for i, field := range fields {
		out[i] = field.Name()
	}
	return out
}

// Describe formats a one-line summary of an outcome.
func (o *Outcome) Describe() string {
	return fmt.Sprintf("%d fields: %d verified, %d failed, %d unresolved",
		len(o.Results), o.Count(StateVerified), o.Count(StateFailed), o.Count(StateUnresolved))
}
