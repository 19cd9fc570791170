package render

import (
	"image"
	"image/color"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Text is painted with a fixed bitmap face scaled to the font size.
// Embedded font programs are not interpreted.
var textFace = basicfont.Face7x13

const (
	faceEm     = 13.0
	faceAscent = 11
	// faceAdvance is the advance of every glyph as a fraction of the em.
	faceAdvance = 7.0 / faceEm
)

// setFont records whether the selected font uses two-byte codes. Glyph ids
// of composite fonts cannot be mapped to the bitmap face, so their text is
// advanced but not painted.
func (p *painter) setFont(resources types.Dict, name string) {
	p.gs.text.composite = false
	fonts := p.doc.dict(resources["Font"])
	if fonts == nil {
		return
	}
	obj, found := fonts.Find(name)
	if !found {
		return
	}
	if f := p.doc.dict(obj); f != nil {
		p.gs.text.composite = p.doc.name(f["Subtype"]) == "Type0"
	}
}

func (p *painter) moveText(tx, ty float64) {
	t := &p.gs.text
	t.lineMatrix = Translate(tx, ty).Mul(t.lineMatrix)
	t.matrix = t.lineMatrix
}

// adjustText applies a TJ displacement in thousandths of a text space unit.
func (p *painter) adjustText(n float64) {
	t := &p.gs.text
	tx := -n / 1000 * t.fontSize * t.hScale
	t.matrix = Translate(tx, 0).Mul(t.matrix)
}

func (p *painter) showText(s string) {
	t := &p.gs.text
	if t.fontSize == 0 || len(s) == 0 {
		return
	}

	codes := []rune{}
	if t.composite {
		for i := 0; i+1 < len(s); i += 2 {
			codes = append(codes, rune(s[i])<<8|rune(s[i+1]))
		}
	} else {
		for i := 0; i < len(s); i++ {
			codes = append(codes, rune(s[i]))
		}
	}

	// Glyph origins along the baseline, in text space units.
	origins := make([]float64, len(codes))
	pos := 0.0
	for i, code := range codes {
		origins[i] = pos
		pos += faceAdvance*t.fontSize + t.charSpace
		if !t.composite && code == ' ' {
			pos += t.wordSpace
		}
	}

	visible := !t.composite && t.renderMode != 3 && t.renderMode != 7
	if visible {
		c := p.gs.fillColor()
		if t.renderMode == 1 || t.renderMode == 5 {
			c = p.gs.strokeColor()
		}
		p.paintGlyphs(codes, origins, pos, c)
	}

	t.matrix = Translate(pos*t.hScale, 0).Mul(t.matrix)
}

// paintGlyphs draws a run of glyphs into a face-sized mask and maps that
// mask through the text rendering matrix onto the page.
func (p *painter) paintGlyphs(codes []rune, origins []float64, advance float64, c color.RGBA) {
	t := &p.gs.text
	k := t.fontSize / faceEm
	if k <= 0 {
		return
	}

	width := int(math.Ceil(advance/k)) + int(faceEm)
	if width <= 0 || width > 1<<14 {
		return
	}
	mask := image.NewAlpha(image.Rect(0, 0, width, int(faceEm)))

	d := font.Drawer{Dst: mask, Src: image.Opaque, Face: textFace}
	for i, code := range codes {
		x := int(math.Round(origins[i] / k))
		d.Dot = fixed.P(x, faceAscent)
		d.DrawString(string(code))
	}

	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	glyphs := image.NewNRGBA(mask.Bounds())
	for i, a := range mask.Pix {
		if a == 0 {
			continue
		}
		glyphs.Pix[i*4+0] = nc.R
		glyphs.Pix[i*4+1] = nc.G
		glyphs.Pix[i*4+2] = nc.B
		glyphs.Pix[i*4+3] = uint8(uint16(a) * uint16(nc.A) / 0xff)
	}

	// Mask pixel (mx, my) sits at text space (mx·k, (ascent-my)·k).
	pixelToText := Matrix{k, 0, 0, -k, 0, faceAscent * k}
	textToUser := Matrix{t.hScale, 0, 0, 1, 0, t.rise}.Mul(t.matrix)
	m := pixelToText.Mul(textToUser).Mul(p.gs.ctm)
	if m.Det() == 0 {
		return
	}
	draw.BiLinear.Transform(p.dst, m.aff(), glyphs, glyphs.Bounds(), draw.Over, nil)
}
