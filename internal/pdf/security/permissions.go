package security

import (
	"fmt"
	"strings"
)

// Operation is a document operation gated by the permission flags of an
// encrypted document.
type Operation string

const (
	OperationPrint     Operation = "print"
	OperationAnnotate  Operation = "annotate"
	OperationFillForms Operation = "fill_forms"
	OperationModify    Operation = "modify"
)

// Permissions are the user access permissions of a document (PDF 32000-1,
// table 22). Unencrypted documents grant everything.
type Permissions struct {
	Encrypted bool
	Print     bool // bit 3
	Modify    bool // bit 4
	Annotate  bool // bit 6, also covers form filling
	FillForms bool // bit 9
}

// NewPermissions decodes the P entry of an encryption dictionary.
func NewPermissions(p int32) Permissions {
	return Permissions{
		Encrypted: true,
		Print:     p&0x04 != 0,
		Modify:    p&0x08 != 0,
		Annotate:  p&0x20 != 0,
		FillForms: p&0x200 != 0 || p&0x20 != 0,
	}
}

// NewFullPermissions returns the permissions of an unencrypted document.
func NewFullPermissions() Permissions {
	return Permissions{Print: true, Modify: true, Annotate: true, FillForms: true}
}

// Allows reports whether op is permitted. Embedding an annotation overlay
// changes page content, so it needs Modify as well as Annotate.
func (p Permissions) Allows(op Operation) bool {
	switch op {
	case OperationPrint:
		return p.Print
	case OperationAnnotate:
		return p.Annotate && p.Modify
	case OperationFillForms:
		return p.FillForms
	case OperationModify:
		return p.Modify
	default:
		return false
	}
}

// Check returns an error naming op when it is not permitted.
func (p Permissions) Check(op Operation) error {
	if p.Allows(op) {
		return nil
	}
	return fmt.Errorf("document permissions do not allow %s", op)
}

// String returns a human-readable representation of the permissions
func (p Permissions) String() string {
	if !p.Encrypted {
		return "unrestricted"
	}
	var parts []string
	for _, op := range []Operation{OperationPrint, OperationModify, OperationAnnotate, OperationFillForms} {
		if p.Allows(op) {
			parts = append(parts, string(op))
		}
	}
	if len(parts) == 0 {
		return "encrypted, no permissions granted"
	}
	return fmt.Sprintf("encrypted, allowed: %s", strings.Join(parts, ", "))
}
