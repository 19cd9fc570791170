package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType_Classification(t *testing.T) {
	tests := []struct {
		errorType   ErrorType
		name        string
		severity    ErrorSeverity
		recoverable bool
	}{
		{ErrorTypeFetchFailed, "FETCH_FAILED", SeverityError, true},
		{ErrorTypeRenderFailed, "RENDER_FAILED", SeverityError, true},
		{ErrorTypeEmbedFailed, "EMBED_FAILED", SeverityError, true},
		{ErrorTypeFieldNotFound, "FIELD_NOT_FOUND", SeverityWarning, true},
		{ErrorTypeFieldMismatch, "FIELD_MISMATCH", SeverityWarning, true},
		{ErrorTypePrintFailed, "PRINT_FAILED", SeverityError, true},
		{ErrorTypeSessionClosed, "SESSION_CLOSED", SeverityError, false},
		{ErrorTypeBusy, "BUSY", SeverityInfo, true},
		{ErrorTypeUnknown, "UNKNOWN", SeverityError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.errorType.String())
			assert.Equal(t, tt.severity, tt.errorType.GetSeverity())
			assert.Equal(t, tt.recoverable, tt.errorType.IsRecoverable())
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("inflate: corrupt input")
	err := Wrap(ErrorTypeRenderFailed, cause, "failed to paint page 1").WithPage(1)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, Sentinel(ErrorTypeRenderFailed))
	assert.NotErrorIs(t, err, Sentinel(ErrorTypeEmbedFailed))
	assert.Equal(t, "[RENDER_FAILED] failed to paint page 1: inflate: corrupt input", err.Error())
	assert.Equal(t, 1, err.PageNumber)
	assert.True(t, err.Recoverable)

	assert.Nil(t, Wrap(ErrorTypeRenderFailed, nil, "nothing"))
}

func TestUserMessageOf(t *testing.T) {
	wrapped := fmt.Errorf("save: %w", New(ErrorTypeEmbedFailed, "write failed"))

	assert.Equal(t, ErrorTypeEmbedFailed, TypeOf(wrapped))
	assert.Contains(t, UserMessageOf(wrapped), "last saved copy is unchanged")
	assert.Equal(t, "An unexpected error occurred.", UserMessageOf(stderrors.New("boom")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("boom")))
}

func TestErrorCollection(t *testing.T) {
	ec := NewErrorCollection()
	assert.Equal(t, "No errors or warnings", ec.Summary())

	ec.Add(New(ErrorTypeFieldNotFound, "missing").WithField("CLASSRow4"))
	ec.Add(New(ErrorTypeFieldMismatch, "mismatch"))
	ec.Add(New(ErrorTypeEmbedFailed, "boom"))
	ec.Add(nil)

	errs, warns := ec.Count()
	require.Equal(t, 1, errs)
	require.Equal(t, 2, warns)
	assert.Equal(t, "CLASSRow4", ec.Warnings[0].FieldName)
	assert.Equal(t, "Found 1 error(s) and 2 warning(s)", ec.Summary())
}
