// Package pdftest assembles small, well-formed PDF documents in memory for
// tests. Objects are written in order and the cross-reference table is
// computed from the actual byte offsets.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Builder accumulates numbered objects.
type Builder struct {
	objects []string
}

// Add appends an object body (everything between "obj" and "endobj") and
// returns its object number.
func (b *Builder) Add(body string) int {
	b.objects = append(b.objects, body)
	return len(b.objects)
}

// AddStream appends a stream object. dict holds extra entries without the
// surrounding << >>; Length is filled in.
func (b *Builder) AddStream(dict string, data []byte) int {
	var body bytes.Buffer
	fmt.Fprintf(&body, "<< %s /Length %d >>\nstream\n", dict, len(data))
	body.Write(data)
	body.WriteString("\nendstream")
	return b.Add(body.String())
}

// Reserve allocates an object number whose body is set later with Set.
func (b *Builder) Reserve() int {
	return b.Add("null")
}

// Set replaces the body of a previously added object.
func (b *Builder) Set(num int, body string) {
	b.objects[num-1] = body
}

// Bytes serializes the document with the given catalog object.
func (b *Builder) Bytes(root int) []byte {
	var out bytes.Buffer
	out.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(b.objects))
	for i, body := range b.objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(b.objects)+1)
	out.WriteString("0000000000 65535 f\r\n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(b.objects)+1, root, xref)

	return out.Bytes()
}

// SinglePage returns a one-page document of the given size whose page
// content is content. resources is a raw resource dictionary body, possibly
// empty.
func SinglePage(width, height float64, content, resources string) []byte {
	var b Builder
	catalog := b.Reserve()
	pages := b.Reserve()
	stream := b.AddStream("", []byte(content))
	page := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Contents %d 0 R /Resources << %s >> >>",
		pages, num(width), num(height), stream, resources))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page))
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages))
	return b.Bytes(catalog)
}

// MultiPage returns a document with one page per content string, all the
// same size.
func MultiPage(width, height float64, contents ...string) []byte {
	var b Builder
	catalog := b.Reserve()
	pages := b.Reserve()

	kids := make([]string, 0, len(contents))
	for _, c := range contents {
		stream := b.AddStream("", []byte(c))
		page := b.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Contents %d 0 R /Resources << >> >>", pages, stream))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}

	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %s %s] >>",
		strings.Join(kids, " "), len(contents), num(width), num(height)))
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pages))
	return b.Bytes(catalog)
}

// TextField describes a text form field for Form.
type TextField struct {
	Name   string
	Value  string
	MaxLen int
}

// Form returns a one-page letter-size document with an AcroForm holding
// the given text fields stacked down the page.
func Form(fields ...TextField) []byte {
	var b Builder
	catalog := b.Reserve()
	pages := b.Reserve()
	page := b.Reserve()
	font := b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	stream := b.AddStream("", []byte("0 0 0 RG 1 w 36 36 540 720 re S"))

	refs := make([]string, 0, len(fields))
	for i, f := range fields {
		y := 740 - float64(i)*20
		entries := fmt.Sprintf("/Type /Annot /Subtype /Widget /FT /Tx /T (%s) /Rect [36 %s 300 %s] /P %d 0 R /F 4",
			f.Name, num(y), num(y+16), page)
		if f.Value != "" {
			entries += fmt.Sprintf(" /V (%s)", f.Value)
		}
		if f.MaxLen > 0 {
			entries += fmt.Sprintf(" /MaxLen %d", f.MaxLen)
		}
		refs = append(refs, fmt.Sprintf("%d 0 R", b.Add("<< "+entries+" >>")))
	}

	acro := b.Add(fmt.Sprintf("<< /Fields [%s] /DA (/Helv 0 Tf 0 g) /DR << /Font << /Helv %d 0 R >> >> >>",
		strings.Join(refs, " "), font))

	b.Set(page, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /Helv %d 0 R >> >> /Annots [%s] >>",
		pages, stream, font, strings.Join(refs, " ")))
	b.Set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%d 0 R] /Count 1 >>", page))
	b.Set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R /AcroForm %d 0 R >>", pages, acro))
	return b.Bytes(catalog)
}

func num(f float64) string {
	return fmt.Sprintf("%g", f)
}
