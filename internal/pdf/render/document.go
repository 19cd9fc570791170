package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrClosed is returned when a Document is used after Close.
var ErrClosed = errors.New("document handle is closed")

// maxInheritDepth bounds Parent chain walks in malformed page trees.
const maxInheritDepth = 32

// Box is a rectangle in user-space points.
type Box struct {
	LLX, LLY, URX, URY float64
}

// Width returns the box width.
func (b Box) Width() float64 { return b.URX - b.LLX }

// Height returns the box height.
func (b Box) Height() float64 { return b.URY - b.LLY }

// Page is a decoded page ready for painting.
type Page struct {
	Number    int
	MediaBox  Box
	Resources types.Dict
	Content   []byte
}

// Document is an opened, decoded PDF. It is exclusively owned by one
// viewing session and must be closed when that session ends or a new
// document replaces it.
type Document struct {
	ctx  *model.Context
	size int
}

// Open decodes data into a Document.
func Open(ctx context.Context, data []byte) (*Document, error) {
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

	if pdfCtx.PageCount < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	return &Document{ctx: pdfCtx, size: len(data)}, nil
}

// Close drops every reference to the decoded object graph. Calling Close
// more than once is harmless.
func (d *Document) Close() error {
	if d == nil {
		return nil
	}
	d.ctx = nil
	return nil
}

// Closed reports whether Close has been called.
func (d *Document) Closed() bool {
	return d == nil || d.ctx == nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	if d.Closed() {
		return 0
	}
	return d.ctx.PageCount
}

// Size returns the length of the bytes the document was decoded from.
func (d *Document) Size() int {
	return d.size
}

// PageSize returns the media box dimensions of a 1-based page in points.
func (d *Document) PageSize(pageNr int) (float64, float64, error) {
	if d.Closed() {
		return 0, 0, ErrClosed
	}
	pageDict, err := d.pageDict(pageNr)
	if err != nil {
		return 0, 0, err
	}
	box, err := d.mediaBox(pageDict)
	if err != nil {
		return 0, 0, err
	}
	return box.Width(), box.Height(), nil
}

// Page loads the geometry, resources and concatenated content of a
// 1-based page.
func (d *Document) Page(pageNr int) (*Page, error) {
	if d.Closed() {
		return nil, ErrClosed
	}

	pageDict, err := d.pageDict(pageNr)
	if err != nil {
		return nil, err
	}

	box, err := d.mediaBox(pageDict)
	if err != nil {
		return nil, err
	}

	var resources types.Dict
	if obj := d.inherited(pageDict, "Resources"); obj != nil {
		resources, err = d.ctx.DereferenceDict(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to dereference page resources: %w", err)
		}
	}

	var content []byte
	if obj, found := pageDict.Find("Contents"); found {
		content, err = d.contentBytes(obj)
		if err != nil {
			return nil, err
		}
	}

	return &Page{
		Number:    pageNr,
		MediaBox:  box,
		Resources: resources,
		Content:   content,
	}, nil
}

func (d *Document) pageDict(pageNr int) (types.Dict, error) {
	if pageNr < 1 || pageNr > d.ctx.PageCount {
		return nil, fmt.Errorf("page %d out of range (1-%d)", pageNr, d.ctx.PageCount)
	}
	pageDict, _, _, err := d.ctx.PageDict(pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d: %w", pageNr, err)
	}
	if pageDict == nil {
		return nil, fmt.Errorf("page %d not found", pageNr)
	}
	return pageDict, nil
}

// inherited looks key up on the page and then on its ancestors.
func (d *Document) inherited(dict types.Dict, key string) types.Object {
	return Inherited(d.ctx, dict, key)
}

func (d *Document) mediaBox(pageDict types.Dict) (Box, error) {
	return MediaBox(d.ctx, pageDict)
}

// Inherited looks key up on a page dictionary and then on its ancestors in
// the page tree.
func Inherited(pdfCtx *model.Context, dict types.Dict, key string) types.Object {
	for depth := 0; dict != nil && depth < maxInheritDepth; depth++ {
		if obj, found := dict.Find(key); found && obj != nil {
			return obj
		}
		parent, found := dict.Find("Parent")
		if !found {
			return nil
		}
		next, err := pdfCtx.DereferenceDict(parent)
		if err != nil {
			return nil
		}
		dict = next
	}
	return nil
}

// MediaBox resolves the effective, normalized media box of a page.
func MediaBox(pdfCtx *model.Context, pageDict types.Dict) (Box, error) {
	obj := Inherited(pdfCtx, pageDict, "MediaBox")
	if obj == nil {
		// US Letter is the conventional default for a missing media box.
		return Box{0, 0, 612, 792}, nil
	}
	arr, err := pdfCtx.DereferenceArray(obj)
	if err != nil || len(arr) != 4 {
		return Box{}, fmt.Errorf("invalid media box")
	}
	var v [4]float64
	for i, o := range arr {
		n, ok := number(pdfCtx, o)
		if !ok {
			return Box{}, fmt.Errorf("invalid media box entry %d", i)
		}
		v[i] = n
	}
	box := Box{
		LLX: min(v[0], v[2]), LLY: min(v[1], v[3]),
		URX: max(v[0], v[2]), URY: max(v[1], v[3]),
	}
	if box.Width() <= 0 || box.Height() <= 0 {
		return Box{}, fmt.Errorf("degenerate media box %v", v)
	}
	return box, nil
}

// contentBytes decodes a Contents entry, which may be a single stream or
// an array of streams joined with whitespace.
func (d *Document) contentBytes(obj types.Object) ([]byte, error) {
	resolved, err := d.ctx.Dereference(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to dereference page contents: %w", err)
	}

	switch v := resolved.(type) {
	case nil:
		return nil, nil
	case types.Array:
		var buf bytes.Buffer
		for i, item := range v {
			part, err := d.contentBytes(item)
			if err != nil {
				return nil, fmt.Errorf("content stream %d: %w", i, err)
			}
			buf.Write(part)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	default:
		sd, ok := d.streamDict(resolved)
		if !ok {
			return nil, fmt.Errorf("unexpected page contents type %T", resolved)
		}
		return decodeStream(sd)
	}
}

// streamDict resolves obj to a stream dictionary.
func (d *Document) streamDict(obj types.Object) (*types.StreamDict, bool) {
	resolved, err := d.ctx.Dereference(obj)
	if err != nil {
		return nil, false
	}
	switch sd := resolved.(type) {
	case types.StreamDict:
		return &sd, true
	case *types.StreamDict:
		return sd, sd != nil
	}
	return nil, false
}

func (d *Document) number(obj types.Object) (float64, bool) {
	return number(d.ctx, obj)
}

func number(pdfCtx *model.Context, obj types.Object) (float64, bool) {
	resolved, err := pdfCtx.Dereference(obj)
	if err != nil {
		return 0, false
	}
	switch n := resolved.(type) {
	case types.Integer:
		return float64(n), true
	case types.Float:
		return float64(n), true
	}
	return 0, false
}

func (d *Document) dict(obj types.Object) types.Dict {
	if obj == nil {
		return nil
	}
	dict, err := d.ctx.DereferenceDict(obj)
	if err != nil {
		return nil
	}
	return dict
}

func (d *Document) name(obj types.Object) string {
	resolved, err := d.ctx.Dereference(obj)
	if err != nil {
		return ""
	}
	if n, ok := resolved.(types.Name); ok {
		return string(n)
	}
	return ""
}

func decodeStream(sd *types.StreamDict) ([]byte, error) {
	if err := sd.Decode(); err != nil {
		return nil, fmt.Errorf("failed to decode stream: %w", err)
	}
	return sd.Content, nil
}
