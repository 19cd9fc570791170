package render

import (
	"math"

	"golang.org/x/image/math/f64"
)

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

// Identity is the identity transform.
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Translate returns a translation matrix.
func Translate(tx, ty float64) Matrix {
	return Matrix{1, 0, 0, 1, tx, ty}
}

// Mul returns m followed by n, i.e. the PDF product m × n.
func (m Matrix) Mul(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// Apply transforms the point (x, y).
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Det returns the determinant of the linear part.
func (m Matrix) Det() float64 {
	return m[0]*m[3] - m[1]*m[2]
}

// ScaleFactor returns the mean linear scale of the transform, used to map
// line widths and font sizes into device pixels.
func (m Matrix) ScaleFactor() float64 {
	return math.Sqrt(math.Abs(m.Det()))
}

// aff converts the matrix into the row-major form used by x/image/draw.
func (m Matrix) aff() f64.Aff3 {
	return f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
}

// DeviceMatrix maps user space of a page with the given media box to
// buffer pixels at scale: x' = (x-llx)·s, y' = H - (y-lly)·s.
func DeviceMatrix(box Box, scale float64, bufferHeight int) Matrix {
	return Matrix{scale, 0, 0, -scale, -scale * box.LLX, float64(bufferHeight) + scale*box.LLY}
}
