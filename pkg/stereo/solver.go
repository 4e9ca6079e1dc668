package stereo

import (
	"fmt"
	"image"
	"math"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// An Alignment maps each image into a common output frame of the given
// size. Left and Right act on homogeneous pixel coordinates of their
// respective (possibly cropped) inputs.
type Alignment struct {
	Left, Right emath.Mat3
	Size        image.Point
	Inliers     int // how many interest point pairs the fit agrees with
}

func IdentityAlignment(size image.Point) Alignment {
	return Alignment{Left: emath.Identity3(), Right: emath.Identity3(), Size: size}
}

func (a Alignment) String() string {
	return fmt.Sprintf("Align[%dx%d, %d inliers]\nL=%s\nR=%s", a.Size.X, a.Size.Y, a.Inliers, matString(a.Left), matString(a.Right))
}

// Affine matrices print as their top two rows.
func matString(m emath.Mat3) string {
	if m.IsAffine() {
		return m.Affine().String()
	}
	return "\n" + m.String()
}

type SolverOptions struct {
	AdjustLeftImageSize bool
	RansacIterations    int
	InlierThreshold     float64 // pixels; 0 picks 1% of the left image diagonal
	Seed                int64
}

// Supported says whether we know how to solve for an alignment method.
func Supported(method AlignmentMethod) error {
	switch method {
	case AlignNone, AlignHomography, AlignAffineEpipolar:
		return nil
	case AlignEpipolar:
		return fmt.Errorf("%w: alignment-method '%s'", ErrNotImplemented, method)
	default:
		return fmt.Errorf("%w: alignment-method %d", ErrUnsupportedPolicy, int(method))
	}
}

// Solve works out the alignment matrices for a pair of images of the
// given sizes, from the interest point pairs.
func Solve(method AlignmentMethod, leftSize, rightSize image.Point, pairs []InterestPointPair, opts SolverOptions) (Alignment, error) {
	if err := Supported(method); err != nil {
		return Alignment{}, err
	}
	if method == AlignNone {
		return IdentityAlignment(leftSize), nil
	}

	if n, min := len(pairs), method.MinCorrespondences(); n < min {
		return Alignment{}, fmt.Errorf("%w: %s needs %d pairs, got %d", ErrInsufficientCorrespondences, method, min, n)
	}

	if opts.RansacIterations <= 0 {
		opts.RansacIterations = DefaultRansacIterations
	}
	if opts.InlierThreshold <= 0 {
		opts.InlierThreshold = math.Hypot(float64(leftSize.X), float64(leftSize.Y)) / 100
	}

	switch method {
	case AlignHomography:
		return solveHomography(leftSize, rightSize, pairs, opts)
	default:
		return solveAffineEpipolar(leftSize, rightSize, pairs)
	}
}

// checkOutputSize rejects alignments that would blow the images up
// absurdly; it's the usual symptom of junk interest points.
func checkOutputSize(b box, leftSize image.Point) error {
	if !b.IsFinite() || b.Empty() {
		return fmt.Errorf("%w: degenerate output box %v", ErrInsufficientCorrespondences, b)
	}
	maxW, maxH := 10*float64(leftSize.X), 10*float64(leftSize.Y)
	if b.MaxX-b.MinX > maxW || b.MaxY-b.MinY > maxH {
		return fmt.Errorf("%w: output box %v is far bigger than the left image %v", ErrInsufficientCorrespondences, b, leftSize)
	}
	return nil
}
