package stereo

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// solveHomography finds the homography taking right pixels onto left
// pixels, robustly, and sizes the output to hold both images.
func solveHomography(leftSize, rightSize image.Point, pairs []InterestPointPair, opts SolverOptions) (Alignment, error) {
	h, inliers, err := ransacHomography(pairs, opts)
	if err != nil {
		return Alignment{}, err
	}

	union := boxOf(image.Rectangle{Max: leftSize}).Union(footprint(h, rightSize))
	if err := checkOutputSize(union, leftSize); err != nil {
		return Alignment{}, err
	}
	r := union.Rect()

	if opts.AdjustLeftImageSize {
		// Shift everything so that none of the right image falls off the
		// top or left of the output.
		t := emath.Translation3(-float64(r.Min.X), -float64(r.Min.Y))
		return Alignment{Left: t, Right: t.Mult(h), Size: r.Size(), Inliers: len(inliers)}, nil
	}

	// Left stays put, so anything at negative coords is lost.
	return Alignment{Left: emath.Identity3(), Right: h, Size: r.Max, Inliers: len(inliers)}, nil
}

func splitPairs(pairs []InterestPointPair, idx []int) (right, left []r2.Point) {
	if idx == nil {
		idx = make([]int, len(pairs))
		for i := range idx {
			idx[i] = i
		}
	}
	for _, i := range idx {
		right = append(right, pairs[i].Right)
		left = append(left, pairs[i].Left)
	}
	return right, left
}

// ransacHomography fits homographies to random sets of four pairs, keeps
// the one most pairs agree with, and refits it to all of those pairs.
// The random source is seeded, so runs are repeatable.
func ransacHomography(pairs []InterestPointPair, opts SolverOptions) (emath.Mat3, []int, error) {
	n := len(pairs)
	thresh := opts.InlierThreshold

	var best []int
	if n == 4 {
		best = []int{0, 1, 2, 3}
	} else {
		rng := rand.New(rand.NewSource(opts.Seed))
		for it := 0; it < opts.RansacIterations; it++ {
			from, to := splitPairs(pairs, rng.Perm(n)[:4])
			h, err := fitHomography(from, to)
			if err != nil {
				continue
			}
			if in := homographyInliers(h, pairs, thresh); len(in) > len(best) {
				best = in
			}
		}
	}

	if 2*len(best) < n {
		return emath.Mat3{}, nil, fmt.Errorf("%w: only %d of %d pairs fit a homography", ErrInsufficientCorrespondences, len(best), n)
	}

	from, to := splitPairs(pairs, best)
	h, err := fitHomography(from, to)
	if err != nil {
		return emath.Mat3{}, nil, err
	}

	return h, homographyInliers(h, pairs, thresh), nil
}

func homographyInliers(h emath.Mat3, pairs []InterestPointPair, thresh float64) []int {
	in := []int{}
	for i, p := range pairs {
		x, y := h.Project(p.Right.X, p.Right.Y)
		if d := math.Hypot(x-p.Left.X, y-p.Left.Y); d <= thresh {
			in = append(in, i)
		}
	}
	return in
}

// normalizer is Hartley's conditioning transform: it moves the points'
// centroid to the origin and scales them to a mean distance of sqrt(2).
func normalizer(pts []r2.Point) (emath.Mat3, error) {
	c := r2.Point{}
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	d := 0.0
	for _, p := range pts {
		d += p.Sub(c).Norm()
	}
	d /= float64(len(pts))
	if d < 1e-12 {
		return emath.Mat3{}, fmt.Errorf("%w: all points coincide", ErrInsufficientCorrespondences)
	}

	s := math.Sqrt2 / d
	return emath.Mat3{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}, nil
}

// fitHomography is the normalized direct linear transform: the
// homography taking from[i] to to[i] (in a least squares sense, if
// there are more than four) is the null vector of a 2n x 9 system.
func fitHomography(from, to []r2.Point) (emath.Mat3, error) {
	tFrom, err := normalizer(from)
	if err != nil {
		return emath.Mat3{}, err
	}
	tTo, err := normalizer(to)
	if err != nil {
		return emath.Mat3{}, err
	}

	a := mat.NewDense(2*len(from), 9, nil)
	for i := range from {
		x, y := tFrom.Project(from[i].X, from[i].Y)
		u, v := tTo.Project(to[i].X, to[i].Y)
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return emath.Mat3{}, fmt.Errorf("%w: homography SVD failed", ErrInsufficientCorrespondences)
	}
	s := svd.Values(nil)
	if len(s) < 8 || s[0] == 0 || s[7]/s[0] < 1e-10 {
		return emath.Mat3{}, fmt.Errorf("%w: points are degenerate (collinear?)", ErrInsufficientCorrespondences)
	}

	var v mat.Dense
	svd.VTo(&v)
	var hn emath.Mat3
	for k := 0; k < 9; k++ {
		hn[k] = v.At(k, 8)
	}

	tToInv, err := tTo.Inverse()
	if err != nil {
		return emath.Mat3{}, fmt.Errorf("%w: %v", ErrInsufficientCorrespondences, err)
	}
	h := tToInv.Mult(hn).Mult(tFrom)
	if math.Abs(h[8]) < 1e-15 {
		return emath.Mat3{}, fmt.Errorf("%w: homography sends the origin to infinity", ErrInsufficientCorrespondences)
	}
	h = h.Normalized()
	if math.Abs(h.Det()) < 1e-12 {
		return emath.Mat3{}, fmt.Errorf("%w: homography is singular", ErrInsufficientCorrespondences)
	}
	return h, nil
}
