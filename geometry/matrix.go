package geometry

import (
	iface "TrackAlarm/interface"
	"errors"
	"math"
)

var (
	ErrDegenerate    = errors.New("degenerate transform dimensions")
	ErrNotInvertible = errors.New("matrix is not invertible")
)

const detEpsilon = 1e-12

// Matrix is a 2D affine transform:
//
//	x' = A*x + B*y + Tx
//	y' = C*x + D*y + Ty
type Matrix struct {
	A, B, Tx float64
	C, D, Ty float64
}

func Identity() Matrix {
	return Matrix{A: 1, D: 1}
}

// concat returns n∘m, i.e. m is applied first.
func concat(n, m Matrix) Matrix {
	return Matrix{
		A:  n.A*m.A + n.B*m.C,
		B:  n.A*m.B + n.B*m.D,
		Tx: n.A*m.Tx + n.B*m.Ty + n.Tx,
		C:  n.C*m.A + n.D*m.C,
		D:  n.C*m.B + n.D*m.D,
		Ty: n.C*m.Tx + n.D*m.Ty + n.Ty,
	}
}

func (m Matrix) PostTranslate(tx, ty float64) Matrix {
	return concat(Matrix{A: 1, D: 1, Tx: tx, Ty: ty}, m)
}

func (m Matrix) PostScale(sx, sy float64) Matrix {
	return concat(Matrix{A: sx, D: sy}, m)
}

// PostRotate rotates clockwise in a y-down coordinate system.
func (m Matrix) PostRotate(degrees float64) Matrix {
	sin, cos := sinCos(degrees)
	return concat(Matrix{A: cos, B: -sin, C: sin, D: cos}, m)
}

// sinCos is exact for multiples of 90 degrees.
func sinCos(degrees float64) (float64, float64) {
	if math.Mod(degrees, 90) == 0 {
		switch ((int(degrees)/90)%4 + 4) % 4 {
		case 0:
			return 0, 1
		case 1:
			return 1, 0
		case 2:
			return 0, -1
		default:
			return -1, 0
		}
	}
	rad := degrees * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

func (m Matrix) Determinant() float64 {
	return m.A*m.D - m.B*m.C
}

func (m Matrix) IsFinite() bool {
	for _, v := range [6]float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Invert returns the exact inverse of m.
func (m Matrix) Invert() (Matrix, error) {
	if !m.IsFinite() {
		return Matrix{}, ErrNotInvertible
	}
	det := m.Determinant()
	if math.Abs(det) < detEpsilon {
		return Matrix{}, ErrNotInvertible
	}
	inv := Matrix{
		A: m.D / det,
		B: -m.B / det,
		C: -m.C / det,
		D: m.A / det,
	}
	inv.Tx = -(inv.A*m.Tx + inv.B*m.Ty)
	inv.Ty = -(inv.C*m.Tx + inv.D*m.Ty)
	if !inv.IsFinite() {
		return Matrix{}, ErrNotInvertible
	}
	return inv, nil
}

func (m Matrix) MapPoint(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.Tx, m.C*x + m.D*y + m.Ty
}

// MapRect maps the four corners and returns their bounding box.
func (m Matrix) MapRect(r iface.Rect) iface.Rect {
	xs := [4]float64{float64(r.Left), float64(r.Right), float64(r.Right), float64(r.Left)}
	ys := [4]float64{float64(r.Top), float64(r.Top), float64(r.Bottom), float64(r.Bottom)}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range xs {
		x, y := m.MapPoint(xs[i], ys[i])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}
	return iface.Rect{
		Left:   float32(minX),
		Top:    float32(minY),
		Right:  float32(maxX),
		Bottom: float32(maxY),
	}
}

// Affine returns the matrix as the row-major 2x3 slice OpenCV expects.
func (m Matrix) Affine() [6]float64 {
	return [6]float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
}

func (m Matrix) ApproxEqual(o Matrix, tol float64) bool {
	a, b := m.Affine(), o.Affine()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
