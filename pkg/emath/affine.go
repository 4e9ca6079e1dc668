package emath

// Affine and projective transformations, used in stereo alignment.

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point, hopefully make this file redundant
	"gonum.org/v1/gonum/mat"
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

// Cut-n-pasted from image@0.7.0/draw/scale:matMul
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

// Remember they compose back to front - the translation happens before m1
func (m1 Aff3) Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Mat3 promotes the affine to a full homogeneous matrix, with [0 0 1] as the last row.
func (m Aff3) Mat3() Mat3 {
	return Mat3{m[0], m[1], m[2], m[3], m[4], m[5], 0, 0, 1}
}

func (m Aff3) String() string {
	return fmt.Sprintf("[%10f, %10f, %10f; %10f, %10f, %10f]", m[0], m[1], m[2], m[3], m[4], m[5])
}

// A Mat3 is a 3x3 row-major matrix acting on homogeneous pixel
// coordinates [x, y, 1]. Alignment matrices map a source image pixel
// into the aligned output frame.
type Vec3 f64.Vec3
type Mat3 f64.Mat3

func Identity3() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Translation3 is the matrix that shifts a pixel by (tx, ty).
func Translation3(tx, ty float64) Mat3 {
	return Identity().Translate(tx, ty).Mat3()
}

func (a Mat3) Mult(b Mat3) Mat3 {
	return Mat3{
		a[3*0+0]*b[3*0+0] + a[3*0+1]*b[3*1+0] + a[3*0+2]*b[3*2+0],
		a[3*0+0]*b[3*0+1] + a[3*0+1]*b[3*1+1] + a[3*0+2]*b[3*2+1],
		a[3*0+0]*b[3*0+2] + a[3*0+1]*b[3*1+2] + a[3*0+2]*b[3*2+2],

		a[3*1+0]*b[3*0+0] + a[3*1+1]*b[3*1+0] + a[3*1+2]*b[3*2+0],
		a[3*1+0]*b[3*0+1] + a[3*1+1]*b[3*1+1] + a[3*1+2]*b[3*2+1],
		a[3*1+0]*b[3*0+2] + a[3*1+1]*b[3*1+2] + a[3*1+2]*b[3*2+2],

		a[3*2+0]*b[3*0+0] + a[3*2+1]*b[3*1+0] + a[3*2+2]*b[3*2+0],
		a[3*2+0]*b[3*0+1] + a[3*2+1]*b[3*1+1] + a[3*2+2]*b[3*2+1],
		a[3*2+0]*b[3*0+2] + a[3*2+1]*b[3*1+2] + a[3*2+2]*b[3*2+2],
	}
}

func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		(m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2]),
		(m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2]),
		(m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2]),
	}
}

// Project maps the pixel (x,y) and divides out the homogeneous
// coordinate. A point mapped to infinity comes back as NaNs.
func (m Mat3) Project(x, y float64) (float64, float64) {
	v := m.Apply(Vec3{x, y, 1})
	if v[2] == 0 {
		return math.NaN(), math.NaN()
	}
	return v[0] / v[2], v[1] / v[2]
}

func (m Mat3) IsIdentity() bool {
	return m == Identity3()
}

// IsAffine is true when the last row is [0 0 1] (up to scale).
func (m Mat3) IsAffine() bool {
	return m[6] == 0 && m[7] == 0 && m[8] != 0
}

// Normalized rescales so that the bottom right element is 1, when that is possible.
func (m Mat3) Normalized() Mat3 {
	if m[8] == 0 || m[8] == 1 {
		return m
	}
	for i := range m {
		m[i] /= m[8]
	}
	return m
}

// Dense copies the matrix into a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), m[:]...))
}

// Mat3FromDense reads the top-left 3x3 block of a gonum matrix.
func Mat3FromDense(d mat.Matrix) Mat3 {
	var m Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[3*i+j] = d.At(i, j)
		}
	}
	return m
}

func (m Mat3) Inverse() (Mat3, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return Mat3{}, fmt.Errorf("matrix not invertible: %v", err)
	}
	return Mat3FromDense(&inv).Normalized(), nil
}

func (m Mat3) Det() float64 {
	return mat.Det(m.Dense())
}

// Affine returns the top two rows; only meaningful when IsAffine.
func (m Mat3) Affine() Aff3 {
	n := m.Normalized()
	return Aff3{n[0], n[1], n[2], n[3], n[4], n[5]}
}

func (m Mat3) String() string {
	str := fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*0+0], m[3*0+1], m[3*0+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*1+0], m[3*1+1], m[3*1+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*2+0], m[3*2+1], m[3*2+2])
	return str
}

