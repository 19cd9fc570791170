package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"

	"github.com/a3tai/mcp-pdf-annotator/internal/pdf/raster"
)

const (
	// maxFormDepth bounds nested form XObject recursion.
	maxFormDepth = 8

	// cancelCheckInterval is the number of operators executed between
	// context checks.
	cancelCheckInterval = 1024

	// minDeviceLineWidth keeps hairlines visible.
	minDeviceLineWidth = 1.0
)

type operandKind int

const (
	operandNumber operandKind = iota
	operandName
	operandString
	operandArray
	operandDict
)

type operand struct {
	kind operandKind
	num  float64
	str  string
	arr  []operand
}

// Render paints a 1-based page into a new opaque raster sized by vp.
// The white background is painted first, then the page content.
func (d *Document) Render(ctx context.Context, pageNr int, vp raster.Viewport) (*image.RGBA, error) {
	if d.Closed() {
		return nil, ErrClosed
	}
	if vp.BufferWidthPx < 1 || vp.BufferHeightPx < 1 {
		return nil, fmt.Errorf("invalid viewport %s", vp)
	}

	page, err := d.Page(pageNr)
	if err != nil {
		return nil, err
	}

	dst := raster.NewBaseRaster(vp.BufferWidthPx, vp.BufferHeightPx, color.White)
	p := &painter{
		ctx: ctx,
		doc: d,
		dst: dst,
		gs:  newGraphicsState(DeviceMatrix(page.MediaBox, vp.Scale, vp.BufferHeightPx)),
	}

	if err := p.run(page.Content, page.Resources); err != nil {
		return nil, fmt.Errorf("failed to paint page %d: %w", pageNr, err)
	}
	return dst, nil
}

type painter struct {
	ctx     context.Context
	doc     *Document
	dst     *image.RGBA
	gs      graphicsState
	stack   []graphicsState
	path    raster.Path
	current raster.Point
	depth   int
	ops     int
}

// run interprets one content stream against resources.
func (p *painter) run(content []byte, resources types.Dict) error {
	lex := NewLexer(bytes.NewReader(content))
	var operands []operand

	for {
		tok, err := lex.Next()
		if err != nil {
			return err
		}

		switch tok.Type {
		case TokenEOF:
			return nil
		case TokenOperator:
			if tok.Value == "BI" {
				if err := skipInlineImage(lex); err != nil {
					return err
				}
				operands = operands[:0]
				continue
			}
			if err := p.exec(tok.Value, operands, resources); err != nil {
				return err
			}
			operands = operands[:0]

			p.ops++
			if p.ops%cancelCheckInterval == 0 {
				if err := p.ctx.Err(); err != nil {
					return err
				}
			}
		default:
			op, err := readOperand(lex, tok)
			if err != nil {
				return err
			}
			operands = append(operands, op)
		}
	}
}

func readOperand(lex *Lexer, tok Token) (operand, error) {
	switch tok.Type {
	case TokenNumber:
		v, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			// Malformed numbers such as "--5" read as zero.
			v = 0
		}
		return operand{kind: operandNumber, num: v}, nil
	case TokenName:
		return operand{kind: operandName, str: tok.Value}, nil
	case TokenString, TokenHexString:
		return operand{kind: operandString, str: tok.Value}, nil
	case TokenArrayStart:
		var items []operand
		for {
			next, err := lex.Next()
			if err != nil {
				return operand{}, err
			}
			switch next.Type {
			case TokenArrayEnd:
				return operand{kind: operandArray, arr: items}, nil
			case TokenEOF:
				return operand{}, &ParseError{Message: "unterminated array", Pos: tok.Pos}
			case TokenOperator:
				// Keywords such as true/false/null inside arrays.
				items = append(items, operand{kind: operandName, str: next.Value})
			default:
				item, err := readOperand(lex, next)
				if err != nil {
					return operand{}, err
				}
				items = append(items, item)
			}
		}
	case TokenDictStart:
		depth := 1
		for depth > 0 {
			next, err := lex.Next()
			if err != nil {
				return operand{}, err
			}
			switch next.Type {
			case TokenDictStart:
				depth++
			case TokenDictEnd:
				depth--
			case TokenEOF:
				return operand{}, &ParseError{Message: "unterminated dictionary", Pos: tok.Pos}
			}
		}
		return operand{kind: operandDict}, nil
	}
	return operand{}, &ParseError{Message: fmt.Sprintf("unexpected %s token", tok.Type), Pos: tok.Pos}
}

// skipInlineImage consumes an inline image dictionary and its data.
func skipInlineImage(lex *Lexer) error {
	for {
		tok, err := lex.Next()
		if err != nil {
			return err
		}
		switch {
		case tok.Type == TokenEOF:
			return &ParseError{Message: "inline image without ID", Pos: tok.Pos}
		case tok.Type == TokenOperator && tok.Value == "ID":
			return lex.SkipInlineImageData()
		}
	}
}

func numbers(ops []operand) ([]float64, bool) {
	out := make([]float64, len(ops))
	for i, op := range ops {
		if op.kind != operandNumber {
			return nil, false
		}
		out[i] = op.num
	}
	return out, true
}

func (p *painter) exec(op string, args []operand, resources types.Dict) error {
	switch op {
	// Graphics state
	case "q":
		p.stack = append(p.stack, p.gs)
	case "Q":
		if n := len(p.stack); n > 0 {
			p.gs = p.stack[n-1]
			p.stack = p.stack[:n-1]
		}
	case "cm":
		if v, ok := numbers(args); ok && len(v) == 6 {
			m := Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			p.gs.ctm = m.Mul(p.gs.ctm)
		}
	case "w":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.lineWidth = v[0]
		}
	case "gs":
		if len(args) == 1 && args[0].kind == operandName {
			p.applyExtGState(resources, args[0].str)
		}
	case "J", "j", "M", "d", "ri", "i":
		// Caps, joins, miter limit, dashes, intent and flatness are not
		// modeled: every stroke is solid with round caps and joins.

	// Path construction
	case "m":
		if v, ok := numbers(args); ok && len(v) == 2 {
			p.current = p.device(v[0], v[1])
			p.path.MoveTo(p.current)
		}
	case "l":
		if v, ok := numbers(args); ok && len(v) == 2 {
			p.current = p.device(v[0], v[1])
			p.path.LineTo(p.current)
		}
	case "c":
		if v, ok := numbers(args); ok && len(v) == 6 {
			end := p.device(v[4], v[5])
			p.path.CubeTo(p.device(v[0], v[1]), p.device(v[2], v[3]), end)
			p.current = end
		}
	case "v":
		if v, ok := numbers(args); ok && len(v) == 4 {
			end := p.device(v[2], v[3])
			p.path.CubeTo(p.current, p.device(v[0], v[1]), end)
			p.current = end
		}
	case "y":
		if v, ok := numbers(args); ok && len(v) == 4 {
			end := p.device(v[2], v[3])
			p.path.CubeTo(p.device(v[0], v[1]), end, end)
			p.current = end
		}
	case "h":
		p.path.Close()
	case "re":
		if v, ok := numbers(args); ok && len(v) == 4 {
			x, y, w, h := v[0], v[1], v[2], v[3]
			p.current = p.device(x, y)
			p.path.MoveTo(p.current)
			p.path.LineTo(p.device(x+w, y))
			p.path.LineTo(p.device(x+w, y+h))
			p.path.LineTo(p.device(x, y+h))
			p.path.Close()
		}

	// Path painting. The even-odd variants are painted with the nonzero
	// rule, which is the only rule the rasterizer implements.
	case "f", "F", "f*":
		p.fill()
		p.path.Reset()
	case "S":
		p.stroke()
		p.path.Reset()
	case "s":
		p.path.Close()
		p.stroke()
		p.path.Reset()
	case "B", "B*":
		p.fill()
		p.stroke()
		p.path.Reset()
	case "b", "b*":
		p.path.Close()
		p.fill()
		p.stroke()
		p.path.Reset()
	case "n":
		p.path.Reset()
	case "W", "W*":
		// Clipping is not modeled.

	// Color
	case "g", "rg", "k":
		if v, ok := numbers(args); ok {
			if c, ok := colorFromComponents(v); ok {
				p.gs.fill = c
				p.gs.fillComps = len(v)
			}
		}
	case "G", "RG", "K":
		if v, ok := numbers(args); ok {
			if c, ok := colorFromComponents(v); ok {
				p.gs.stroke = c
				p.gs.strokeComps = len(v)
			}
		}
	case "cs":
		if len(args) == 1 && args[0].kind == operandName {
			p.gs.fillComps = p.spaceComponents(resources, args[0].str)
			p.gs.fill = color.RGBA{A: 0xff}
		}
	case "CS":
		if len(args) == 1 && args[0].kind == operandName {
			p.gs.strokeComps = p.spaceComponents(resources, args[0].str)
			p.gs.stroke = color.RGBA{A: 0xff}
		}
	case "sc", "scn":
		if c, ok := p.setColor(args, p.gs.fillComps); ok {
			p.gs.fill = c
		}
	case "SC", "SCN":
		if c, ok := p.setColor(args, p.gs.strokeComps); ok {
			p.gs.stroke = c
		}

	// Text
	case "BT":
		p.gs.text.matrix = Identity
		p.gs.text.lineMatrix = Identity
		p.gs.text.inTextBlock = true
	case "ET":
		p.gs.text.inTextBlock = false
	case "Tf":
		if len(args) == 2 && args[1].kind == operandNumber {
			p.gs.text.fontSize = args[1].num
			if args[0].kind == operandName {
				p.setFont(resources, args[0].str)
			}
		}
	case "Tc":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.charSpace = v[0]
		}
	case "Tw":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.wordSpace = v[0]
		}
	case "Tz":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.hScale = v[0] / 100
		}
	case "TL":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.leading = v[0]
		}
	case "Ts":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.rise = v[0]
		}
	case "Tr":
		if v, ok := numbers(args); ok && len(v) == 1 {
			p.gs.text.renderMode = int(v[0])
		}
	case "Td":
		if v, ok := numbers(args); ok && len(v) == 2 {
			p.moveText(v[0], v[1])
		}
	case "TD":
		if v, ok := numbers(args); ok && len(v) == 2 {
			p.gs.text.leading = -v[1]
			p.moveText(v[0], v[1])
		}
	case "Tm":
		if v, ok := numbers(args); ok && len(v) == 6 {
			m := Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			p.gs.text.matrix = m
			p.gs.text.lineMatrix = m
		}
	case "T*":
		p.moveText(0, -p.gs.text.leading)
	case "Tj":
		if len(args) == 1 && args[0].kind == operandString {
			p.showText(args[0].str)
		}
	case "'":
		if len(args) == 1 && args[0].kind == operandString {
			p.moveText(0, -p.gs.text.leading)
			p.showText(args[0].str)
		}
	case "\"":
		if len(args) == 3 && args[2].kind == operandString {
			p.gs.text.wordSpace = args[0].num
			p.gs.text.charSpace = args[1].num
			p.moveText(0, -p.gs.text.leading)
			p.showText(args[2].str)
		}
	case "TJ":
		if len(args) == 1 && args[0].kind == operandArray {
			for _, item := range args[0].arr {
				switch item.kind {
				case operandString:
					p.showText(item.str)
				case operandNumber:
					p.adjustText(item.num)
				}
			}
		}

	// XObjects
	case "Do":
		if len(args) == 1 && args[0].kind == operandName {
			return p.doXObject(resources, args[0].str)
		}
	}

	return nil
}

// device maps a user-space point through the CTM into buffer pixels.
func (p *painter) device(x, y float64) raster.Point {
	dx, dy := p.gs.ctm.Apply(x, y)
	return raster.Point{X: dx, Y: dy}
}

func (p *painter) fill() {
	if p.path.Empty() {
		return
	}
	raster.Fill(p.dst, &p.path, p.gs.fillColor())
}

func (p *painter) stroke() {
	if p.path.Empty() {
		return
	}
	w := p.gs.lineWidth * p.gs.ctm.ScaleFactor()
	if w < minDeviceLineWidth {
		w = minDeviceLineWidth
	}
	raster.Stroke(p.dst, &p.path, w, p.gs.strokeColor())
}

func (p *painter) setColor(args []operand, comps int) (color.RGBA, bool) {
	// A trailing name selects a pattern, which is painted as black.
	if n := len(args); n > 0 && args[n-1].kind == operandName {
		return color.RGBA{A: 0xff}, true
	}
	v, ok := numbers(args)
	if !ok {
		return color.RGBA{}, false
	}
	if comps > 0 && len(v) != comps {
		return color.RGBA{}, false
	}
	return colorFromComponents(v)
}

// spaceComponents resolves a color space operand, which is either a
// device space name or a key into the ColorSpace resources.
func (p *painter) spaceComponents(resources types.Dict, name string) int {
	if n := componentsFor(name); n > 0 {
		return n
	}
	spaces := p.doc.dict(resources["ColorSpace"])
	if spaces == nil {
		return 0
	}
	obj, found := spaces.Find(name)
	if !found {
		return 0
	}
	cs, err := p.doc.colorSpace(obj)
	if err != nil || cs.palette != nil {
		return 0
	}
	return cs.components
}

func (p *painter) applyExtGState(resources types.Dict, name string) {
	states := p.doc.dict(resources["ExtGState"])
	if states == nil {
		return
	}
	obj, found := states.Find(name)
	if !found {
		return
	}
	gs := p.doc.dict(obj)
	if gs == nil {
		return
	}
	if v, ok := p.doc.number(gs["LW"]); ok {
		p.gs.lineWidth = v
	}
	if v, ok := p.doc.number(gs["CA"]); ok {
		p.gs.strokeAlpha = clamp01(v)
	}
	if v, ok := p.doc.number(gs["ca"]); ok {
		p.gs.fillAlpha = clamp01(v)
	}
}

func (p *painter) doXObject(resources types.Dict, name string) error {
	xobjects := p.doc.dict(resources["XObject"])
	if xobjects == nil {
		return nil
	}
	obj, found := xobjects.Find(name)
	if !found {
		return nil
	}
	sd, ok := p.doc.streamDict(obj)
	if !ok {
		return nil
	}

	switch p.doc.name(sd.Dict["Subtype"]) {
	case "Image":
		img, err := p.doc.decodeImage(sd, p.gs.fill)
		if err != nil {
			// An undecodable image leaves a hole rather than failing the page.
			return nil
		}
		p.drawImage(img)
	case "Form":
		return p.runForm(sd, resources)
	}
	return nil
}

// drawImage paints img into the unit square of the current CTM. Image row
// zero is the top edge of the square.
func (p *painter) drawImage(img *image.NRGBA) {
	b := img.Bounds()
	if b.Empty() || p.gs.ctm.Det() == 0 {
		return
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	place := Matrix{1 / w, 0, 0, -1 / h, 0, 1}.Mul(p.gs.ctm)
	draw.BiLinear.Transform(p.dst, place.aff(), img, b, draw.Over, nil)
}

func (p *painter) runForm(sd *types.StreamDict, parent types.Dict) error {
	if p.depth >= maxFormDepth {
		return nil
	}

	content, err := decodeStream(sd)
	if err != nil {
		return nil
	}

	resources := parent
	if own := p.doc.dict(sd.Dict["Resources"]); own != nil {
		resources = own
	}

	saved := p.gs
	savedStack := len(p.stack)
	savedPath := p.path
	p.path = raster.Path{}

	if arr, err := p.doc.ctx.DereferenceArray(sd.Dict["Matrix"]); err == nil && len(arr) == 6 {
		var m Matrix
		for i := range m {
			m[i], _ = p.doc.number(arr[i])
		}
		p.gs.ctm = m.Mul(p.gs.ctm)
	}

	p.depth++
	err = p.run(content, resources)
	p.depth--

	p.gs = saved
	p.stack = p.stack[:savedStack]
	p.path = savedPath
	return err
}
