package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// kappa is the control point distance for approximating a quarter circle
// with a cubic Bézier curve.
const kappa = 0.5522847498

// curveSteps is the number of line segments a cubic is flattened into when
// it has to be stroked.
const curveSteps = 16

type segKind int

const (
	segMove segKind = iota
	segLine
	segCube
	segClose
)

type pathSeg struct {
	kind segKind
	pts  [3]Point
}

// Path is a device-space path under construction. Coordinates are buffer
// pixels with the origin at the top left.
type Path struct {
	segs    []pathSeg
	current Point
	start   Point
	open    bool
}

// MoveTo starts a new subpath.
func (p *Path) MoveTo(pt Point) {
	p.segs = append(p.segs, pathSeg{kind: segMove, pts: [3]Point{pt}})
	p.current, p.start, p.open = pt, pt, true
}

// LineTo adds a straight segment. Without a current point it behaves like MoveTo.
func (p *Path) LineTo(pt Point) {
	if !p.open {
		p.MoveTo(pt)
		return
	}
	p.segs = append(p.segs, pathSeg{kind: segLine, pts: [3]Point{pt}})
	p.current = pt
}

// CubeTo adds a cubic Bézier segment.
func (p *Path) CubeTo(c1, c2, pt Point) {
	if !p.open {
		p.MoveTo(c1)
	}
	p.segs = append(p.segs, pathSeg{kind: segCube, pts: [3]Point{c1, c2, pt}})
	p.current = pt
}

// Close closes the current subpath.
func (p *Path) Close() {
	if !p.open {
		return
	}
	p.segs = append(p.segs, pathSeg{kind: segClose})
	p.current = p.start
}

// Rect adds a closed rectangle subpath.
func (p *Path) Rect(x, y, w, h float64) {
	p.MoveTo(Point{x, y})
	p.LineTo(Point{x + w, y})
	p.LineTo(Point{x + w, y + h})
	p.LineTo(Point{x, y + h})
	p.Close()
}

// Empty reports whether the path has no segments.
func (p *Path) Empty() bool {
	return len(p.segs) == 0
}

// Reset discards all segments.
func (p *Path) Reset() {
	p.segs = p.segs[:0]
	p.open = false
}

// bounds returns the integer bounding box of every point in the path,
// control points included, grown by pad.
func (p *Path) bounds(pad float64) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	visit := func(pt Point) {
		minX, minY = math.Min(minX, pt.X), math.Min(minY, pt.Y)
		maxX, maxY = math.Max(maxX, pt.X), math.Max(maxY, pt.Y)
	}
	for _, s := range p.segs {
		switch s.kind {
		case segMove, segLine:
			visit(s.pts[0])
		case segCube:
			visit(s.pts[0])
			visit(s.pts[1])
			visit(s.pts[2])
		}
	}
	if math.IsInf(minX, 1) {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
}

// Fill paints the interior of p onto dst with the nonzero winding rule.
func Fill(dst draw.Image, p *Path, c color.Color) {
	r := p.bounds(1).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	z.DrawOp = draw.Over
	ox, oy := float64(r.Min.X), float64(r.Min.Y)
	pt := func(q Point) (float32, float32) {
		return float32(q.X - ox), float32(q.Y - oy)
	}

	open := false
	for _, s := range p.segs {
		switch s.kind {
		case segMove:
			if open {
				z.ClosePath()
			}
			z.MoveTo(pt(s.pts[0]))
			open = true
		case segLine:
			z.LineTo(pt(s.pts[0]))
		case segCube:
			x1, y1 := pt(s.pts[0])
			x2, y2 := pt(s.pts[1])
			x3, y3 := pt(s.pts[2])
			z.CubeTo(x1, y1, x2, y2, x3, y3)
		case segClose:
			z.ClosePath()
			open = false
		}
	}
	if open {
		z.ClosePath()
	}

	z.Draw(dst, r, image.NewUniform(c), image.Point{})
}

// Stroke paints the outline of p with round caps and round joins. Curves are
// flattened first; every resulting segment becomes a capsule.
func Stroke(dst draw.Image, p *Path, width float64, c color.Color) {
	var last, start Point
	have := false
	for _, s := range p.segs {
		switch s.kind {
		case segMove:
			last, start, have = s.pts[0], s.pts[0], true
		case segLine:
			if have {
				Segment(dst, last, s.pts[0], width, c)
			}
			last, have = s.pts[0], true
		case segCube:
			from := last
			for i := 1; i <= curveSteps; i++ {
				t := float64(i) / curveSteps
				to := cubicAt(from, s.pts[0], s.pts[1], s.pts[2], t)
				Segment(dst, last, to, width, c)
				last = to
			}
			have = true
		case segClose:
			if have {
				Segment(dst, last, start, width, c)
			}
			last = start
		}
	}
}

// Segment paints a single round-capped line from a to b. A zero-length
// segment paints a dot of the given width.
func Segment(dst draw.Image, a, b Point, width float64, c color.Color) {
	if width <= 0 {
		return
	}
	r := width / 2

	var p Path
	if dist(a, b) < 1e-9 {
		circle(&p, a, r)
		Fill(dst, &p, c)
		return
	}

	l := dist(a, b)
	dx, dy := (b.X-a.X)/l, (b.Y-a.Y)/l
	nx, ny := -dy*r, dx*r
	tx, ty := dx*r, dy*r

	// Side one, cap around b, side two, cap around a.
	p.MoveTo(Point{a.X + nx, a.Y + ny})
	p.LineTo(Point{b.X + nx, b.Y + ny})
	p.CubeTo(
		Point{b.X + nx + kappa*tx, b.Y + ny + kappa*ty},
		Point{b.X + tx + kappa*nx, b.Y + ty + kappa*ny},
		Point{b.X + tx, b.Y + ty},
	)
	p.CubeTo(
		Point{b.X + tx - kappa*nx, b.Y + ty - kappa*ny},
		Point{b.X - nx + kappa*tx, b.Y - ny + kappa*ty},
		Point{b.X - nx, b.Y - ny},
	)
	p.LineTo(Point{a.X - nx, a.Y - ny})
	p.CubeTo(
		Point{a.X - nx - kappa*tx, a.Y - ny - kappa*ty},
		Point{a.X - tx - kappa*nx, a.Y - ty - kappa*ny},
		Point{a.X - tx, a.Y - ty},
	)
	p.CubeTo(
		Point{a.X - tx + kappa*nx, a.Y - ty + kappa*ny},
		Point{a.X + nx - kappa*tx, a.Y + ny - kappa*ty},
		Point{a.X + nx, a.Y + ny},
	)
	p.Close()

	Fill(dst, &p, c)
}

func circle(p *Path, c Point, r float64) {
	k := kappa * r
	p.MoveTo(Point{c.X + r, c.Y})
	p.CubeTo(Point{c.X + r, c.Y + k}, Point{c.X + k, c.Y + r}, Point{c.X, c.Y + r})
	p.CubeTo(Point{c.X - k, c.Y + r}, Point{c.X - r, c.Y + k}, Point{c.X - r, c.Y})
	p.CubeTo(Point{c.X - r, c.Y - k}, Point{c.X - k, c.Y - r}, Point{c.X, c.Y - r})
	p.CubeTo(Point{c.X + k, c.Y - r}, Point{c.X + r, c.Y - k}, Point{c.X + r, c.Y})
	p.Close()
}

func cubicAt(p0, p1, p2, p3 Point, t float64) Point {
	mt := 1 - t
	a := mt * mt * mt
	b := 3 * mt * mt * t
	c := 3 * mt * t * t
	d := t * t * t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}
