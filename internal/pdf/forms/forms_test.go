package forms

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/pdftest"
)

// scriptedField stores what it is given but reads back scripted values
// first, one per read, before reporting the stored value.
type scriptedField struct {
	name      string
	kind      FieldKind
	value     string
	readbacks []string
	writes    int
}

func (f *scriptedField) Name() string    { return f.name }
func (f *scriptedField) Kind() FieldKind { return f.kind }
func (f *scriptedField) MaxLen() int     { return 0 }

func (f *scriptedField) Text() (string, error) {
	if len(f.readbacks) > 0 {
		v := f.readbacks[0]
		f.readbacks = f.readbacks[1:]
		return v, nil
	}
	return f.value, nil
}

func (f *scriptedField) SetText(value string) error {
	f.writes++
	f.value = value
	return nil
}

type fakeForm struct {
	fields []*scriptedField
}

func newFakeForm(fields ...*scriptedField) *fakeForm {
	return &fakeForm{fields: fields}
}

func (f *fakeForm) Fields() []Field {
	out := make([]Field, len(f.fields))
	for i, field := range f.fields {
		out[i] = field
	}
	return out
}

func (f *fakeForm) Field(name string) (Field, bool) {
	for _, field := range f.fields {
		if field.name == name {
			return field, true
		}
	}
	return nil, false
}

func (f *fakeForm) Save() ([]byte, error) { return nil, nil }

func text(name string, readbacks ...string) *scriptedField {
	return &scriptedField{name: name, kind: FieldKindText, readbacks: readbacks}
}

func newTestFiller(t *testing.T) (*Filler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewFiller(0, log.New(&buf, "", 0)), &buf
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		name     string
		baseName string
		rowIndex int
		want     []string
	}{
		{
			name:     "row taken from name",
			baseName: "ClassificationRow2",
			want:     []string{"CtASSIF CATIONRow2", "CLASSIFICATIONRow2", "CLASSRow2", "CATIONRow2"},
		},
		{
			name:     "explicit row index wins",
			baseName: "ClassificationRow3",
			rowIndex: 5,
			want:     []string{"CtASSIF CATIONRow5", "CLASSIFICATIONRow5", "CLASSRow5", "CATIONRow5"},
		},
		{
			name:     "base name not repeated",
			baseName: "CLASSIFICATIONRow1",
			want:     []string{"CtASSIF CATIONRow1", "CLASSRow1", "CATIONRow1"},
		},
		{
			name:     "other family",
			baseName: "NameRow1",
			rowIndex: 1,
		},
		{
			name:     "no row",
			baseName: "Classification",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.baseName, tt.rowIndex)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Candidates(%q, %d) mismatch (-want +got):\n%s", tt.baseName, tt.rowIndex, diff)
			}
		})
	}
}

func TestRowIndex(t *testing.T) {
	n, ok := RowIndex("ClassificationRow12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = RowIndex("Classification")
	assert.False(t, ok)

	_, ok = RowIndex("ClassificationRow0")
	assert.False(t, ok)
}

func TestFill_VerifiedOnFirstAttempt(t *testing.T) {
	filler, _ := newTestFiller(t)
	form := newFakeForm(text("ClassificationRow1"))

	out, err := filler.Fill(context.Background(), form, []Assignment{
		{FieldName: "ClassificationRow1", Value: "FFT2", RowIndex: 1},
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)

	r := out.Results[0]
	assert.Equal(t, StateVerified, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, "ClassificationRow1", r.ResolvedName)
	assert.Equal(t, FieldKindText, r.Kind)
}

func TestFill_VerifiedOnThirdAttempt(t *testing.T) {
	filler, _ := newTestFiller(t)
	field := text("ClassificationRow2", "", "")
	form := newFakeForm(field)

	out, err := filler.Fill(context.Background(), form, []Assignment{
		{FieldName: "ClassificationRow2", Value: "FFT1", RowIndex: 2},
	})
	require.NoError(t, err)

	r := out.Results[0]
	assert.Equal(t, StateVerified, r.State)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 3, field.writes)

	want := []VerificationRecord{
		{FieldName: "ClassificationRow2", Expected: "FFT1", Observed: "", Attempt: 1},
		{FieldName: "ClassificationRow2", Expected: "FFT1", Observed: "", Attempt: 2},
		{FieldName: "ClassificationRow2", Expected: "FFT1", Observed: "FFT1", Attempt: 3},
	}
	if diff := cmp.Diff(want, r.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestFill_FailedAfterMaxAttempts(t *testing.T) {
	filler, logs := newTestFiller(t)
	field := text("ClassificationRow3", "FF", "FF", "FF", "FF")
	form := newFakeForm(field, text("NameRow3"))

	out, err := filler.Fill(context.Background(), form, []Assignment{
		{FieldName: "ClassificationRow3", Value: "FFT1", RowIndex: 3},
		{FieldName: "NameRow3", Value: "Lee", RowIndex: 3},
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	assert.Equal(t, StateFailed, out.Results[0].State)
	assert.Equal(t, DefaultMaxAttempts, out.Results[0].Attempts)
	assert.Equal(t, DefaultMaxAttempts, field.writes)
	assert.Equal(t, "FFT1", field.value, "field keeps its last written value")
	assert.Equal(t, StateVerified, out.Results[1].State, "pass continues after a failed field")

	errs, warnings := out.Problems.Count()
	assert.Zero(t, errs)
	assert.Equal(t, 1, warnings)
	assert.Contains(t, logs.String(), "[WARN]")
}

func TestFill_ConfiguredCeiling(t *testing.T) {
	filler := NewFiller(5, log.New(&bytes.Buffer{}, "", 0))
	assert.Equal(t, 5, filler.MaxAttempts())

	field := text("ClassificationRow1", "", "", "", "")
	out, err := filler.Fill(context.Background(), newFakeForm(field), []Assignment{
		{FieldName: "ClassificationRow1", Value: "FFT2", RowIndex: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, StateVerified, out.Results[0].State)
	assert.Equal(t, 5, out.Results[0].Attempts)
}

func TestFill_NameFallbackAndPartialFunction(t *testing.T) {
	filler, logs := newTestFiller(t)
	form := newFakeForm(
		text("CLASSRow4"),
		text("NameRow4"),
		&scriptedField{name: "Approved", kind: FieldKindCheckbox},
	)

	assignments := []Assignment{
		{FieldName: "ClassificationRow4", Value: "SUP", RowIndex: 4},
		{FieldName: "Missing", Value: "x"},
		{FieldName: "ClassificationRow9", Value: "FFT1", RowIndex: 9},
		{FieldName: "Approved", Value: "Yes"},
		{FieldName: "NameRow4", Value: "Ortiz", RowIndex: 4},
	}
	out, err := filler.Fill(context.Background(), form, assignments)
	require.NoError(t, err)
	require.Len(t, out.Results, len(assignments))

	states := make([]State, len(out.Results))
	for i, r := range out.Results {
		states[i] = r.State
	}
	assert.Equal(t, []State{StateVerified, StateUnresolved, StateUnresolved, StateUnresolved, StateVerified}, states)
	assert.Equal(t, "CLASSRow4", out.Results[0].ResolvedName)

	want := map[string]string{"CLASSRow4": "SUP", "NameRow4": "Ortiz"}
	if diff := cmp.Diff(want, out.Filled()); diff != "" {
		t.Errorf("filled mismatch (-want +got):\n%s", diff)
	}

	_, warnings := out.Problems.Count()
	assert.Equal(t, 3, warnings)
	assert.Contains(t, logs.String(), `"ClassificationRow4" resolved as "CLASSRow4"`)
	assert.Equal(t, 3, out.Count(StateUnresolved))
	assert.Equal(t, "5 fields: 2 verified, 0 failed, 3 unresolved", out.Describe())
}

func TestFill_Cancelled(t *testing.T) {
	filler, _ := newTestFiller(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := filler.Fill(ctx, newFakeForm(text("A")), []Assignment{{FieldName: "A", Value: "1"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	form := newFakeForm(
		&scriptedField{name: "ClassificationRow1", kind: FieldKindText, value: "FFT2"},
		&scriptedField{name: "ClassificationRow2", kind: FieldKindText, value: ""},
		&scriptedField{name: "ClassificationRow3", kind: FieldKindText, value: "SUP"},
		&scriptedField{name: "NameRow1", kind: FieldKindText, value: "wrong"},
	)

	report := Verify(form, []string{"FFT2", "FFT1"}, log.New(&bytes.Buffer{}, "", 0))

	assert.False(t, report.Passed)
	want := []VerificationRecord{
		{FieldName: "ClassificationRow1", Expected: "FFT2", Observed: "FFT2"},
		{FieldName: "ClassificationRow2", Expected: "FFT1", Observed: ""},
	}
	if diff := cmp.Diff(want, report.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, report.Failures(), 1)

	for _, f := range form.fields {
		assert.Zero(t, f.writes, "verification never writes")
	}
}

func TestAcroForm_OpenAndRead(t *testing.T) {
	data := pdftest.Form(
		pdftest.TextField{Name: "NameRow1", Value: "old"},
		pdftest.TextField{Name: "ClassificationRow1", MaxLen: 4},
	)

	form, err := Open(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, []string{"NameRow1", "ClassificationRow1"}, Names(form))

	f, ok := form.Field("NameRow1")
	require.True(t, ok)
	assert.Equal(t, FieldKindText, f.Kind())
	v, err := f.Text()
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	f, ok = form.Field("ClassificationRow1")
	require.True(t, ok)
	assert.Equal(t, 4, f.MaxLen())
	v, err = f.Text()
	require.NoError(t, err)
	assert.Empty(t, v)

	_, ok = form.Field("Nope")
	assert.False(t, ok)
}

func TestAcroForm_HierarchyAndKinds(t *testing.T) {
	var b pdftest.Builder
	catalog := b.Reserve()
	pages := b.Reserve()
	page := b.Reserve()
	crew := b.Reserve()
	name := b.Add(fmt.Sprintf("<< /T (Name) /Parent %d 0 R /Rect [0 0 10 10] /Subtype /Widget >>", crew))
	widgetOnly := b.Add("<< /Subtype /Widget /Rect [0 0 10 10] >>")
	b.Set(crew, fmt.Sprintf("<< /T (Crew) /FT /Tx /Kids [%d 0 R] >>", name))
	check := b.Add(fmt.Sprintf("<< /T (Approved) /FT /Btn /Kids [%d 0 R] >>", widgetOnly))
	radio := b.Add("<< /T (Shift) /FT /Btn /Ff 32768 >>")
	push := b.Add("<< /T (Reset) /FT /Btn /Ff 65536 >>")
	choice := b.Add("<< /T (Unit) /FT /Ch >>")
	sig := b.Add("<< /T (Signature) /FT /Sig >>")
	acro := b.Add(fmt.Sprintf("<< /Fields [%d 0 R %d 0 R %d 0 R %d 0 R %d 0 R %d 0 R] >>", crew, check, radio, push, choice, sig))
	b.Set(page, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 100 100] >>", pages))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page))
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R /AcroForm %d 0 R >>", pages, acro))

	form, err := Open(context.Background(), b.Bytes(catalog))
	require.NoError(t, err)

	got := map[string]FieldKind{}
	for _, f := range form.Fields() {
		got[f.Name()] = f.Kind()
	}
	want := map[string]FieldKind{
		"Crew.Name": FieldKindText,
		"Approved":  FieldKindCheckbox,
		"Shift":     FieldKindRadio,
		"Reset":     FieldKindButton,
		"Unit":      FieldKindChoice,
		"Signature": FieldKindSignature,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}

	f, ok := form.Field("Approved")
	require.True(t, ok)
	assert.Error(t, f.SetText("Yes"))
}

func TestAcroForm_NoForm(t *testing.T) {
	form, err := Open(context.Background(), pdftest.SinglePage(100, 100, "", ""))
	require.NoError(t, err)
	assert.Empty(t, form.Fields())

	_, err = Open(context.Background(), nil)
	assert.Error(t, err)
}

func TestFillDocument_RoundTrip(t *testing.T) {
	data := pdftest.Form(
		pdftest.TextField{Name: "NameRow1"},
		pdftest.TextField{Name: "CtASSIF CATIONRow1"},
		pdftest.TextField{Name: "ClassificationRow2", MaxLen: 3},
		pdftest.TextField{Name: "Remarks"},
	)
	filler, logs := newTestFiller(t)

	res, err := filler.FillDocument(context.Background(), data, []Assignment{
		{FieldName: "NameRow1", Value: "Smith (lead)", RowIndex: 1},
		{FieldName: "ClassificationRow1", Value: "FFT2", RowIndex: 1},
		{FieldName: "ClassificationRow2", Value: "FFT1", RowIndex: 2},
		{FieldName: "Remarks", Value: "Zoë – night shift"},
		{FieldName: "Missing", Value: "x"},
	}, []string{"FFT2", "FFT1"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Data)

	states := map[string]State{}
	for _, r := range res.Outcome.Results {
		states[r.Assignment.FieldName] = r.State
	}
	assert.Equal(t, map[string]State{
		"NameRow1":           StateVerified,
		"ClassificationRow1": StateVerified,
		"ClassificationRow2": StateFailed,
		"Remarks":            StateVerified,
		"Missing":            StateUnresolved,
	}, states)

	reloaded, err := Open(context.Background(), res.Data)
	require.NoError(t, err)
	for name, want := range map[string]string{
		"NameRow1":           "Smith (lead)",
		"CtASSIF CATIONRow1": "FFT2",
		"ClassificationRow2": "FFT",
		"Remarks":            "Zoë – night shift",
	} {
		f, ok := reloaded.Field(name)
		require.True(t, ok, name)
		got, err := f.Text()
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	need, found := reloaded.acroDict.Find("NeedAppearances")
	require.True(t, found)
	assert.Equal(t, types.Boolean(true), need)

	require.NotNil(t, res.Verification)
	assert.False(t, res.Verification.Passed)
	want := []VerificationRecord{
		{FieldName: "CtASSIF CATIONRow1", Expected: "FFT2", Observed: "FFT2"},
		{FieldName: "ClassificationRow2", Expected: "FFT1", Observed: "FFT"},
	}
	if diff := cmp.Diff(want, res.Verification.Records); diff != "" {
		t.Errorf("verification mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, logs.String(), "available form fields (4)")
}

func TestTextStringCodec(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"latin1", []byte{'Z', 'o', 0xeb}, "Zoë"},
		{"utf16be", []byte{0xfe, 0xff, 0, 'Z', 0, 'o', 0, 0xeb}, "Zoë"},
		{"utf8 bom", []byte{0xef, 0xbb, 0xbf, 'Z', 'o', 0xc3, 0xab}, "Zoë"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTextString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	obj, err := encodeTextString(`a(b)\c`)
	require.NoError(t, err)
	assert.Equal(t, types.StringLiteral(`a\(b\)\\c`), obj)

	obj, err = encodeTextString("é")
	require.NoError(t, err)
	assert.Equal(t, types.HexLiteral("FEFF00E9"), obj)
}
