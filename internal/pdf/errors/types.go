package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// PDFError is a categorized error raised by the annotation and form-fill
// pipeline. None of its categories is process-fatal.
type PDFError struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Context     string    `json:"context,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id,omitempty"`
	FieldName   string    `json:"field_name,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	Cause       error     `json:"-"`
}

// ErrorType represents the error categories of the pipeline
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeFetchFailed
	ErrorTypeRenderFailed
	ErrorTypeEmbedFailed
	ErrorTypeFieldNotFound
	ErrorTypeFieldMismatch
	ErrorTypePrintFailed
	ErrorTypeSessionClosed
	ErrorTypeBusy
	ErrorTypeInvalidInput
	ErrorTypeNotFound
	ErrorTypeSecurityRestriction
)

// ErrorSeverity indicates how an error is reported
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
)

// Error implements the error interface
func (e *PDFError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type.String(), e.Message, e.Context)
	}
	return fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)
}

// Unwrap returns the underlying cause
func (e *PDFError) Unwrap() error {
	return e.Cause
}

// Is matches another PDFError of the same type, so that sentinel values
// built with New can be used with errors.Is.
func (e *PDFError) Is(target error) bool {
	var t *PDFError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeFetchFailed:
		return "FETCH_FAILED"
	case ErrorTypeRenderFailed:
		return "RENDER_FAILED"
	case ErrorTypeEmbedFailed:
		return "EMBED_FAILED"
	case ErrorTypeFieldNotFound:
		return "FIELD_NOT_FOUND"
	case ErrorTypeFieldMismatch:
		return "FIELD_MISMATCH"
	case ErrorTypePrintFailed:
		return "PRINT_FAILED"
	case ErrorTypeSessionClosed:
		return "SESSION_CLOSED"
	case ErrorTypeBusy:
		return "BUSY"
	case ErrorTypeInvalidInput:
		return "INVALID_INPUT"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeSecurityRestriction:
		return "SECURITY_RESTRICTION"
	default:
		return "UNKNOWN"
	}
}

// GetSeverity returns the severity level for a given error type
func (et ErrorType) GetSeverity() ErrorSeverity {
	switch et {
	case ErrorTypeFieldNotFound, ErrorTypeFieldMismatch:
		return SeverityWarning
	case ErrorTypeBusy:
		return SeverityInfo
	default:
		return SeverityError
	}
}

// IsRecoverable reports whether the caller may retry the operation
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeSessionClosed, ErrorTypeSecurityRestriction, ErrorTypeInvalidInput:
		return false
	default:
		return true
	}
}

// userMessages are the single human-readable messages shown at the tool
// boundary.
var userMessages = map[ErrorType]string{
	ErrorTypeFetchFailed:         "The document could not be loaded. Check the source and try again.",
	ErrorTypeRenderFailed:        "The page could not be rendered. The previous view was kept; try again.",
	ErrorTypeEmbedFailed:         "The annotation could not be saved into the document. The last saved copy is unchanged.",
	ErrorTypeFieldNotFound:       "A form field could not be found and was skipped.",
	ErrorTypeFieldMismatch:       "A form field did not keep the value written to it.",
	ErrorTypePrintFailed:         "Printing failed. The on-screen view has been restored.",
	ErrorTypeSessionClosed:       "The viewing session has ended.",
	ErrorTypeBusy:                "Another operation is still running for this session. Try again when it completes.",
	ErrorTypeInvalidInput:        "The request was not valid.",
	ErrorTypeNotFound:            "The requested item does not exist.",
	ErrorTypeSecurityRestriction: "Access to that location is not allowed.",
}

// UserMessage returns the message shown to the user for this error
func (e *PDFError) UserMessage() string {
	if msg, ok := userMessages[e.Type]; ok {
		return msg
	}
	return "An unexpected error occurred."
}

// New creates a new PDFError
func New(errorType ErrorType, message string) *PDFError {
	return &PDFError{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
	}
}

// Newf creates a new PDFError with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *PDFError {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap wraps err as a PDFError of the given type. Wrapping a nil error
// returns nil.
func Wrap(errorType ErrorType, err error, message string) *PDFError {
	if err == nil {
		return nil
	}
	e := New(errorType, message)
	e.Context = err.Error()
	e.Cause = err
	return e
}

// Sentinel returns a comparison target for errors.Is matching any error of
// the given type.
func Sentinel(errorType ErrorType) *PDFError {
	return &PDFError{Type: errorType}
}

// TypeOf returns the type of the first PDFError in err's chain, or
// ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var pdfErr *PDFError
	if stderrors.As(err, &pdfErr) {
		return pdfErr.Type
	}
	return ErrorTypeUnknown
}

// UserMessageOf returns the user-facing message for any error.
func UserMessageOf(err error) string {
	var pdfErr *PDFError
	if stderrors.As(err, &pdfErr) {
		return pdfErr.UserMessage()
	}
	return "An unexpected error occurred."
}

// WithContext adds context to an existing PDFError
func (e *PDFError) WithContext(context string) *PDFError {
	e.Context = context
	return e
}

// WithSession adds the session identifier
func (e *PDFError) WithSession(id string) *PDFError {
	e.SessionID = id
	return e
}

// WithField adds the form field name
func (e *PDFError) WithField(name string) *PDFError {
	e.FieldName = name
	return e
}

// WithPage adds page number information to an existing PDFError
func (e *PDFError) WithPage(pageNumber int) *PDFError {
	e.PageNumber = pageNumber
	return e
}

// GetSeverity returns the severity of this specific error
func (e *PDFError) GetSeverity() ErrorSeverity {
	return e.Type.GetSeverity()
}

// ErrorCollection gathers the non-fatal problems of one pass
type ErrorCollection struct {
	Errors   []*PDFError `json:"errors"`
	Warnings []*PDFError `json:"warnings"`
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors:   make([]*PDFError, 0),
		Warnings: make([]*PDFError, 0),
	}
}

// Add adds an error to the appropriate collection based on severity
func (ec *ErrorCollection) Add(err *PDFError) {
	if err == nil {
		return
	}
	severity := err.GetSeverity()
	if severity == SeverityWarning || severity == SeverityInfo {
		ec.Warnings = append(ec.Warnings, err)
	} else {
		ec.Errors = append(ec.Errors, err)
	}
}

// Count returns the total number of errors and warnings
func (ec *ErrorCollection) Count() (errors, warnings int) {
	return len(ec.Errors), len(ec.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (ec *ErrorCollection) Summary() string {
	errorCount, warningCount := ec.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}
	return fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)
}
