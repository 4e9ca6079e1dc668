package stereo

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// solveAffineEpipolar rectifies a pair of images under an affine camera
// assumption. The affine fundamental matrix says that matching points
// satisfy a*xr + b*yr + c*xl + d*yl + e = 0, i.e. epipolar lines are
// parallel in each image. We rotate each image so its epipolar lines
// run horizontally, then fix up the right image's y scale and offset
// so that matching points land on the same row, and finally share out
// an x shear between the two to keep disparities small.
func solveAffineEpipolar(leftSize, rightSize image.Point, pairs []InterestPointPair) (Alignment, error) {
	a, b, c, d, err := affineFundamental(pairs)
	if err != nil {
		return Alignment{}, err
	}

	hl, hr := math.Hypot(c, d), math.Hypot(a, b)
	if hl < 1e-12 || hr < 1e-12 {
		return Alignment{}, fmt.Errorf("%w: no epipolar direction in one of the images", ErrInsufficientCorrespondences)
	}
	left := epipolarRotation(-d, c, hl)
	right := epipolarRotation(-b, a, hr)

	// The y scale and offset that put the right points on the left's rows
	ys, err := leastSquares(pairs, 2, func(p InterestPointPair, row []float64) float64 {
		_, ry := right.Apply(p.Right.X, p.Right.Y)
		_, ly := left.Apply(p.Left.X, p.Left.Y)
		row[0], row[1] = ry, 1
		return ly
	})
	if err != nil {
		return Alignment{}, err
	}
	for i := 0; i < 6; i++ {
		right[i] *= ys[0]
	}
	right[5] = ys[1]

	// The x shear, scale and offset taking right onto left
	xs, err := leastSquares(pairs, 3, func(p InterestPointPair, row []float64) float64 {
		rx, ry := right.Apply(p.Right.X, p.Right.Y)
		lx, _ := left.Apply(p.Left.X, p.Left.Y)
		row[0], row[1], row[2] = rx, ry, 1
		return lx
	})
	if err != nil {
		return Alignment{}, err
	}
	left = emath.Aff3{1, -xs[1] / 2, 0, 0, 1, 0}.Mult(left)
	right = emath.Aff3{xs[0], xs[1] / 2, xs[2], 0, 1, 0}.Mult(right)

	// The output is where both images overlap, unless they don't.
	fl, fr := footprint(left.Mat3(), leftSize), footprint(right.Mat3(), rightSize)
	out := fl.Intersect(fr)
	if out.Empty() {
		out = fl.Union(fr)
	}
	if err := checkOutputSize(out, leftSize); err != nil {
		return Alignment{}, err
	}
	r := out.Rect()
	t := emath.Translation3(-float64(r.Min.X), -float64(r.Min.Y))

	return Alignment{Left: t.Mult(left.Mat3()), Right: t.Mult(right.Mat3()), Size: r.Size(), Inliers: len(pairs)}, nil
}

// affineFundamental fits the affine epipolar constraint: the coefficients
// are the direction of least variance of the centred [xr yr xl yl] rows.
func affineFundamental(pairs []InterestPointPair) (a, b, c, d float64, err error) {
	n := len(pairs)
	var mean [4]float64
	for _, p := range pairs {
		mean[0] += p.Right.X / float64(n)
		mean[1] += p.Right.Y / float64(n)
		mean[2] += p.Left.X / float64(n)
		mean[3] += p.Left.Y / float64(n)
	}

	m := mat.NewDense(n, 4, nil)
	for i, p := range pairs {
		m.SetRow(i, []float64{p.Right.X - mean[0], p.Right.Y - mean[1], p.Left.X - mean[2], p.Left.Y - mean[3]})
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return 0, 0, 0, 0, fmt.Errorf("%w: fundamental matrix SVD failed", ErrInsufficientCorrespondences)
	}
	if s := svd.Values(nil); len(s) == 0 || s[0] == 0 {
		return 0, 0, 0, 0, fmt.Errorf("%w: all pairs are the same point", ErrInsufficientCorrespondences)
	}

	var v mat.Dense
	svd.VTo(&v)
	return v.At(0, 3), v.At(1, 3), v.At(2, 3), v.At(3, 3), nil
}

// epipolarRotation rotates the direction (ex,ey) onto the +x axis; h is
// its length.
func epipolarRotation(ex, ey, h float64) emath.Aff3 {
	if ex < 0 {
		ex, ey = -ex, -ey
	}
	return emath.Aff3{ex / h, ey / h, 0, -ey / h, ex / h, 0}
}

// leastSquares solves the overdetermined system with one row per pair;
// fill sets up the row and returns its right hand side.
func leastSquares(pairs []InterestPointPair, nCols int, fill func(p InterestPointPair, row []float64) float64) ([]float64, error) {
	a := mat.NewDense(len(pairs), nCols, nil)
	b := mat.NewVecDense(len(pairs), nil)
	row := make([]float64, nCols)
	for i, p := range pairs {
		b.SetVec(i, fill(p, row))
		a.SetRow(i, row)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%w: least squares: %v", ErrInsufficientCorrespondences, err)
	}
	return x.RawVector().Data, nil
}
