package forms

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// maxFieldDepth bounds Kids recursion in malformed field trees.
const maxFieldDepth = 32

// Field flag bits (PDF 32000-1, tables 226 and 228).
const (
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`(`, `\(`,
	`)`, `\)`,
	"\r", `\r`,
	"\n", `\n`,
)

// AcroForm is a Form backed by a pdfcpu context.
type AcroForm struct {
	pdfCtx   *model.Context
	acroDict types.Dict
	fields   []*acroField
	byName   map[string]*acroField
	dirty    bool
}

// inheritable field attributes
type fieldAttrs struct {
	ft     string
	ff     int
	maxLen int
}

type acroField struct {
	form    *AcroForm
	name    string
	kind    FieldKind
	maxLen  int
	dict    types.Dict
	widgets []types.Dict
}

// Open decodes data and collects its interactive form fields. A document
// without an AcroForm yields an empty form.
func Open(ctx context.Context, data []byte) (*AcroForm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	af := &AcroForm{
		pdfCtx: pdfCtx,
		byName: make(map[string]*acroField),
	}

	rootDict, err := pdfCtx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		return af, nil
	}
	acroDict, err := pdfCtx.DereferenceDict(acroFormObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference AcroForm: %w", err)
	}
	if acroDict == nil {
		return af, nil
	}
	af.acroDict = acroDict

	fieldsObj, found := acroDict.Find("Fields")
	if !found {
		return af, nil
	}
	fieldsArray, err := pdfCtx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference Fields array: %w", err)
	}

	for _, obj := range fieldsArray {
		af.walk(obj, "", fieldAttrs{}, 0)
	}

	return af, nil
}

// walk visits a field dictionary and its descendants. Kids without a T
// entry are widget annotations of their parent, not fields of their own.
func (af *AcroForm) walk(obj types.Object, parentName string, attrs fieldAttrs, depth int) {
	if depth >= maxFieldDepth {
		return
	}
	dict, err := af.pdfCtx.DereferenceDict(obj)
	if err != nil || dict == nil {
		return
	}

	name := parentName
	if partial := af.text(dict, "T"); partial != "" {
		if name != "" {
			name += "."
		}
		name += partial
	}

	if ft, err := af.pdfCtx.DereferenceName(dictEntry(dict, "FT"), model.V10, nil); err == nil && ft != "" {
		attrs.ft = string(ft)
	}
	if ff := af.integer(dict, "Ff"); ff >= 0 {
		attrs.ff = ff
	}
	if maxLen := af.integer(dict, "MaxLen"); maxLen >= 0 {
		attrs.maxLen = maxLen
	}

	var kidFields []types.Object
	var widgets []types.Dict
	if kidsObj, found := dict.Find("Kids"); found {
		kids, err := af.pdfCtx.DereferenceArray(kidsObj)
		if err == nil {
			for _, kid := range kids {
				kidDict, err := af.pdfCtx.DereferenceDict(kid)
				if err != nil || kidDict == nil {
					continue
				}
				if _, hasName := kidDict.Find("T"); hasName {
					kidFields = append(kidFields, kid)
				} else {
					widgets = append(widgets, kidDict)
				}
			}
		}
	}

	if len(kidFields) > 0 {
		for _, kid := range kidFields {
			af.walk(kid, name, attrs, depth+1)
		}
		return
	}

	if name == "" {
		return
	}
	field := &acroField{
		form:    af,
		name:    name,
		kind:    kindOf(attrs),
		maxLen:  attrs.maxLen,
		dict:    dict,
		widgets: widgets,
	}
	af.fields = append(af.fields, field)
	if _, taken := af.byName[name]; !taken {
		af.byName[name] = field
	}
}

func kindOf(attrs fieldAttrs) FieldKind {
	switch attrs.ft {
	case "Tx":
		return FieldKindText
	case "Ch":
		return FieldKindChoice
	case "Sig":
		return FieldKindSignature
	case "Btn":
		switch {
		case attrs.ff&flagRadio != 0:
			return FieldKindRadio
		case attrs.ff&flagPushbutton != 0:
			return FieldKindButton
		default:
			return FieldKindCheckbox
		}
	default:
		return FieldKindUnknown
	}
}

// Fields returns the terminal fields in document order.
func (af *AcroForm) Fields() []Field {
	out := make([]Field, len(af.fields))
	for i, f := range af.fields {
		out[i] = f
	}
	return out
}

// Field looks a field up by its fully qualified name.
func (af *AcroForm) Field(name string) (Field, bool) {
	f, ok := af.byName[name]
	if !ok {
		return nil, false
	}
	return f, true
}

// Save serializes the document. Once any value has been written the form
// asks viewers to regenerate field appearances.
func (af *AcroForm) Save() ([]byte, error) {
	if af.dirty && af.acroDict != nil {
		af.acroDict.Update("NeedAppearances", types.Boolean(true))
	}
	var buf bytes.Buffer
	if err := api.WriteContext(af.pdfCtx, &buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (af *AcroForm) text(dict types.Dict, key string) string {
	obj, found := dict.Find(key)
	if !found || obj == nil {
		return ""
	}
	s, err := af.decodeText(obj)
	if err != nil {
		return ""
	}
	return s
}

// integer returns -1 when key is absent or not an integer.
func (af *AcroForm) integer(dict types.Dict, key string) int {
	obj, found := dict.Find(key)
	if !found || obj == nil {
		return -1
	}
	i, err := af.pdfCtx.DereferenceInteger(obj)
	if err != nil || i == nil {
		return -1
	}
	return int(*i)
}

func (af *AcroForm) decodeText(obj types.Object) (string, error) {
	resolved, err := af.pdfCtx.Dereference(obj)
	if err != nil {
		return "", err
	}
	switch v := resolved.(type) {
	case nil:
		return "", nil
	case types.StringLiteral:
		b, err := types.Unescape(string(v))
		if err != nil {
			return "", err
		}
		return decodeTextString(b)
	case types.HexLiteral:
		b, err := v.Bytes()
		if err != nil {
			return "", err
		}
		return decodeTextString(b)
	case types.Name:
		return string(v), nil
	default:
		return "", fmt.Errorf("unexpected text object %T", resolved)
	}
}

// decodeTextString decodes a PDF text string. Strings without a byte order
// mark are read as Latin-1, which agrees with PDFDocEncoding for the
// printable range.
func decodeTextString(b []byte) (string, error) {
	switch {
	case bytes.HasPrefix(b, []byte{0xfe, 0xff}):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		return string(out), err
	case bytes.HasPrefix(b, []byte{0xef, 0xbb, 0xbf}):
		return string(b[3:]), nil
	default:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		return string(out), err
	}
}

// encodeTextString returns a literal string for plain ASCII and a UTF-16BE
// hex string for everything else.
func encodeTextString(s string) (types.Object, error) {
	if isPlainASCII(s) {
		return types.StringLiteral(literalEscaper.Replace(s)), nil
	}
	b, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return types.HexLiteral(strings.ToUpper(hex.EncodeToString(b))), nil
}

func isPlainASCII(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func dictEntry(dict types.Dict, key string) types.Object {
	obj, _ := dict.Find(key)
	return obj
}

func (f *acroField) Name() string    { return f.name }
func (f *acroField) Kind() FieldKind { return f.kind }
func (f *acroField) MaxLen() int     { return f.maxLen }

func (f *acroField) Text() (string, error) {
	obj, found := f.dict.Find("V")
	if !found || obj == nil {
		return "", nil
	}
	return f.form.decodeText(obj)
}

// SetText stores value as the field value, cut to MaxLen characters, and
// drops stale appearance streams.
func (f *acroField) SetText(value string) error {
	if f.kind != FieldKindText && f.kind != FieldKindChoice {
		return fmt.Errorf("field %q is a %s field", f.name, f.kind)
	}
	if f.maxLen > 0 {
		if r := []rune(value); len(r) > f.maxLen {
			value = string(r[:f.maxLen])
		}
	}

	obj, err := encodeTextString(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", f.name, err)
	}
	f.dict.Update("V", obj)
	f.dict.Delete("AP")
	for _, w := range f.widgets {
		w.Delete("AP")
	}
	f.form.dirty = true
	return nil
}
