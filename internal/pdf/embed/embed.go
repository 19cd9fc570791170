// Package embed burns an annotation raster into a PDF page as an image
// XObject overlay.
package embed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"log"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/render"
)

// DefaultResourceName is the XObject name used for the overlay when it is
// not already taken on the page.
const DefaultResourceName = "AnnotOverlay"

// Embedder embeds annotation rasters into documents.
type Embedder struct {
	logger *log.Logger
}

// New creates an Embedder. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Embedder {
	if logger == nil {
		logger = log.Default()
	}
	return &Embedder{logger: logger}
}

// Result describes a completed embed.
type Result struct {
	Data         []byte
	PageCount    int
	ResourceName string
	MediaBox     render.Box
}

// Embed decodes source, places annotation over the full media box of the
// 1-based page pageNr and re-serializes the document. The source bytes are
// never modified; on error no output is produced.
func (e *Embedder) Embed(ctx context.Context, source []byte, annotation image.Image, pageNr int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if annotation == nil || annotation.Bounds().Empty() {
		return nil, fmt.Errorf("annotation raster is empty")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(source), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	if pageNr < 1 || pageNr > pdfCtx.PageCount {
		return nil, fmt.Errorf("page %d out of range (1-%d)", pageNr, pdfCtx.PageCount)
	}

	pageDict, _, _, err := pdfCtx.PageDict(pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d: %w", pageNr, err)
	}
	if pageDict == nil {
		return nil, fmt.Errorf("page %d not found", pageNr)
	}

	box, err := render.MediaBox(pdfCtx, pageDict)
	if err != nil {
		return nil, err
	}

	imgRef, err := addImage(pdfCtx, annotation)
	if err != nil {
		return nil, err
	}

	name, err := addXObjectResource(pdfCtx, pageDict, *imgRef)
	if err != nil {
		return nil, err
	}

	if err := wrapContents(pdfCtx, pageDict, name, box); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pdfCtx, &buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}

	e.logger.Printf("[DEBUG] embedded %dx%d overlay as /%s on page %d (%gx%g pt)",
		annotation.Bounds().Dx(), annotation.Bounds().Dy(), name, pageNr, box.Width(), box.Height())

	return &Result{
		Data:         buf.Bytes(),
		PageCount:    pdfCtx.PageCount,
		ResourceName: name,
		MediaBox:     box,
	}, nil
}

// addImage stores img as a Flate-compressed DeviceRGB image XObject with a
// DeviceGray soft mask carrying its alpha channel.
func addImage(pdfCtx *model.Context, img image.Image) (*types.IndirectRef, error) {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			rgb = append(rgb, px[0], px[1], px[2])
			alpha = append(alpha, px[3])
		}
	}

	maskRef, err := addFlateImage(pdfCtx, alpha, w, h, "DeviceGray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode soft mask: %w", err)
	}

	ref, err := addFlateImage(pdfCtx, rgb, w, h, "DeviceRGB", maskRef)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overlay image: %w", err)
	}
	return ref, nil
}

func addFlateImage(pdfCtx *model.Context, samples []byte, w, h int, colorSpace string, smask *types.IndirectRef) (*types.IndirectRef, error) {
	d := types.NewDict()
	d.Insert("Type", types.Name("XObject"))
	d.Insert("Subtype", types.Name("Image"))
	d.Insert("Width", types.Integer(w))
	d.Insert("Height", types.Integer(h))
	d.Insert("ColorSpace", types.Name(colorSpace))
	d.Insert("BitsPerComponent", types.Integer(8))
	d.Insert("Filter", types.Name(filter.Flate))
	if smask != nil {
		d.Insert("SMask", *smask)
	}

	sd := types.StreamDict{
		Dict:           d,
		Content:        samples,
		FilterPipeline: []types.PDFFilter{{Name: filter.Flate}},
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return pdfCtx.IndRefForNewObject(sd)
}

func addContentStream(pdfCtx *model.Context, content string) (*types.IndirectRef, error) {
	d := types.NewDict()
	d.Insert("Filter", types.Name(filter.Flate))
	sd := types.StreamDict{
		Dict:           d,
		Content:        []byte(content),
		FilterPipeline: []types.PDFFilter{{Name: filter.Flate}},
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("failed to encode content stream: %w", err)
	}
	return pdfCtx.IndRefForNewObject(sd)
}

// addXObjectResource gives the page its own copy of its effective resource
// dictionary, so shared or inherited resources of other pages stay
// untouched, and registers ref under a free name.
func addXObjectResource(pdfCtx *model.Context, pageDict types.Dict, ref types.IndirectRef) (string, error) {
	resources := types.NewDict()
	if obj := render.Inherited(pdfCtx, pageDict, "Resources"); obj != nil {
		inherited, err := pdfCtx.DereferenceDict(obj)
		if err != nil {
			return "", fmt.Errorf("failed to dereference page resources: %w", err)
		}
		if inherited != nil {
			resources = inherited.Clone().(types.Dict)
		}
	}

	xobjects := types.NewDict()
	if obj, found := resources.Find("XObject"); found {
		existing, err := pdfCtx.DereferenceDict(obj)
		if err != nil {
			return "", fmt.Errorf("failed to dereference XObject resources: %w", err)
		}
		if existing != nil {
			xobjects = existing.Clone().(types.Dict)
		}
	}

	name := DefaultResourceName
	for i := 1; ; i++ {
		if _, taken := xobjects.Find(name); !taken {
			break
		}
		name = fmt.Sprintf("%s%d", DefaultResourceName, i)
	}

	xobjects.Insert(name, ref)
	resources.Update("XObject", xobjects)
	pageDict.Update("Resources", resources)
	return name, nil
}

// wrapContents brackets the existing page content in q/Q so that the
// overlay is drawn in default user space, then appends the overlay stream.
func wrapContents(pdfCtx *model.Context, pageDict types.Dict, name string, box render.Box) error {
	var original types.Array
	if obj, found := pageDict.Find("Contents"); found && obj != nil {
		switch v := obj.(type) {
		case types.IndirectRef:
			resolved, err := pdfCtx.Dereference(v)
			if err != nil {
				return fmt.Errorf("failed to dereference page contents: %w", err)
			}
			if arr, ok := resolved.(types.Array); ok {
				original = append(original, arr...)
			} else {
				original = append(original, v)
			}
		case types.Array:
			original = append(original, v...)
		default:
			ref, err := pdfCtx.IndRefForNewObject(v)
			if err != nil {
				return err
			}
			original = append(original, *ref)
		}
	}

	overlay := fmt.Sprintf("Q\nq %s 0 0 %s %s %s cm /%s Do Q\n",
		pdfNumber(box.Width()), pdfNumber(box.Height()),
		pdfNumber(box.LLX), pdfNumber(box.LLY), name)

	contents := types.Array{}
	if len(original) > 0 {
		prefix, err := addContentStream(pdfCtx, "q\n")
		if err != nil {
			return err
		}
		contents = append(contents, *prefix)
		contents = append(contents, original...)
	} else {
		overlay = overlay[2:]
	}

	suffix, err := addContentStream(pdfCtx, overlay)
	if err != nil {
		return err
	}
	contents = append(contents, *suffix)

	pageDict.Update("Contents", contents)
	return nil
}

func pdfNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
