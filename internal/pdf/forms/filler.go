package forms

import (
	"context"
	"log"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/errors"
)

// DefaultMaxAttempts is the number of writes made before a field that keeps
// reading back a different value is given up on.
const DefaultMaxAttempts = 3

// State is the fill state of one assignment.
type State int

const (
	StateUnset State = iota
	StateAttempting
	StateVerified
	StateFailed
	StateUnresolved
)

// String returns a string representation of the State
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unset"
	}
}

// VerificationRecord is one read-back observation.
type VerificationRecord struct {
	FieldName string `json:"field_name"`
	Expected  string `json:"expected"`
	Observed  string `json:"observed"`
	Attempt   int    `json:"attempt"`
}

// Matched reports whether the observation equals the expected value.
func (r VerificationRecord) Matched() bool {
	return r.Observed == r.Expected
}

// FieldResult is the terminal state of one assignment.
type FieldResult struct {
	Assignment   Assignment           `json:"assignment"`
	ResolvedName string               `json:"resolved_name,omitempty"`
	Kind         FieldKind            `json:"kind"`
	State        State                `json:"state"`
	Attempts     int                  `json:"attempts"`
	Records      []VerificationRecord `json:"records,omitempty"`
}

// Outcome is the result of a fill pass. A pass always completes; problems
// with individual fields are collected rather than returned.
type Outcome struct {
	Results  []FieldResult           `json:"results"`
	Problems *errors.ErrorCollection `json:"problems"`
}

// Count returns the number of assignments that ended in state.
func (o *Outcome) Count(state State) int {
	n := 0
	for _, r := range o.Results {
		if r.State == state {
			n++
		}
	}
	return n
}

// Filled maps each resolved field name to the value intended for it.
// Unresolved assignments are excluded.
func (o *Outcome) Filled() map[string]string {
	out := make(map[string]string, len(o.Results))
	for _, r := range o.Results {
		if r.State == StateUnresolved || r.ResolvedName == "" {
			continue
		}
		out[r.ResolvedName] = r.Assignment.Value
	}
	return out
}

// Filler writes assignments into a form with a write, read-back and retry
// protocol.
type Filler struct {
	maxAttempts int
	logger      *log.Logger
}

// NewFiller creates a Filler. maxAttempts below 1 selects
// DefaultMaxAttempts; a nil logger falls back to log.Default().
func NewFiller(maxAttempts int, logger *log.Logger) *Filler {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Filler{maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the retry ceiling.
func (f *Filler) MaxAttempts() int {
	return f.maxAttempts
}

// Fill writes every assignment into form in order. Missing fields and
// values that never read back correctly are recorded in the Outcome and do
// not stop the pass; only cancellation of ctx does.
func (f *Filler) Fill(ctx context.Context, form Form, assignments []Assignment) (*Outcome, error) {
	outcome := &Outcome{
		Results:  make([]FieldResult, 0, len(assignments)),
		Problems: errors.NewErrorCollection(),
	}

	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome.Results = append(outcome.Results, f.fillOne(form, a, outcome.Problems))
	}

	return outcome, nil
}

func (f *Filler) fillOne(form Form, a Assignment, problems *errors.ErrorCollection) FieldResult {
	result := FieldResult{Assignment: a, State: StateUnset}

	field, ok := f.resolve(form, a)
	if !ok {
		result.State = StateUnresolved
		f.logger.Printf("[WARN] field %q not found in form, skipping", a.FieldName)
		problems.Add(errors.Newf(errors.ErrorTypeFieldNotFound, "field %q not found", a.FieldName).
			WithField(a.FieldName))
		return result
	}

	result.ResolvedName = field.Name()
	result.Kind = field.Kind()
	result.State = StateAttempting

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := field.SetText(a.Value); err != nil {
			f.logger.Printf("[DEBUG] write %d to %q failed: %v", attempt, field.Name(), err)
		}
		observed, err := field.Text()
		if err != nil {
			f.logger.Printf("[DEBUG] read-back %d of %q failed: %v", attempt, field.Name(), err)
		}

		record := VerificationRecord{
			FieldName: field.Name(),
			Expected:  a.Value,
			Observed:  observed,
			Attempt:   attempt,
		}
		result.Records = append(result.Records, record)

		if record.Matched() {
			result.State = StateVerified
			return result
		}
		if attempt < f.maxAttempts {
			f.logger.Printf("[DEBUG] attempt %d: field %q read back %q, retrying", attempt, field.Name(), observed)
		}
	}

	last := result.Records[len(result.Records)-1]
	result.State = StateFailed
	f.logger.Printf("[WARN] field %q: wrote %q but read back %q after %d attempts",
		field.Name(), a.Value, last.Observed, f.maxAttempts)
	problems.Add(errors.Newf(errors.ErrorTypeFieldMismatch, "field %q kept %q instead of %q",
		field.Name(), last.Observed, a.Value).WithField(field.Name()))
	return result
}

// resolve finds the text field for an assignment, trying the alternative
// names of its family when the exact name is absent.
func (f *Filler) resolve(form Form, a Assignment) (Field, bool) {
	if field, ok := textField(form, a.FieldName); ok {
		return field, true
	}

	for _, name := range Candidates(a.FieldName, a.RowIndex) {
		if field, ok := textField(form, name); ok {
			f.logger.Printf("[INFO] field %q resolved as %q", a.FieldName, name)
			return field, true
		}
	}
	return nil, false
}

func textField(form Form, name string) (Field, bool) {
	field, ok := form.Field(name)
	if !ok || field.Kind() != FieldKindText {
		return nil, false
	}
	return field, true
}
