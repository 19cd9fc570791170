// Package forms fills named text fields of an AcroForm document and
// verifies that the written values survive serialization.
package forms

// FieldKind is the declared kind of a form field.
type FieldKind int

const (
	FieldKindUnknown FieldKind = iota
	FieldKindText
	FieldKindCheckbox
	FieldKindRadio
	FieldKindChoice
	FieldKindSignature
	FieldKindButton
)

// String returns a string representation of the FieldKind
func (k FieldKind) String() string {
	switch k {
	case FieldKindText:
		return "text"
	case FieldKindCheckbox:
		return "checkbox"
	case FieldKindRadio:
		return "radio"
	case FieldKindChoice:
		return "choice"
	case FieldKindSignature:
		return "signature"
	case FieldKindButton:
		return "button"
	default:
		return "unknown"
	}
}

// Field is a single named field of a form.
type Field interface {
	// Name returns the fully qualified field name.
	Name() string
	Kind() FieldKind
	// MaxLen returns the maximum text length, or 0 when unlimited.
	MaxLen() int
	// Text reads the current value.
	Text() (string, error)
	// SetText writes a value. Implementations may store less than they
	// were given; callers read back to find out.
	SetText(value string) error
}

// Form is a field set that can be serialized.
type Form interface {
	Fields() []Field
	// Field looks a field up by its fully qualified name.
	Field(name string) (Field, bool)
	Save() ([]byte, error)
}

// Assignment is one value destined for a named text field. RowIndex is the
// 1-based table row the value came from, or 0 for header fields.
type Assignment struct {
	FieldName string `json:"field_name"`
	Value     string `json:"value"`
	RowIndex  int    `json:"row_index,omitempty"`
}
