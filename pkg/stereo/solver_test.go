package stereo

import (
	"errors"
	"image"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

var testHomography = emath.Mat3{1.02, 0.01, 15, -0.01, 0.99, -8, 1e-5, 2e-5, 1}

// homographyPairs makes n pairs whose left points are h applied to the
// right points.
func homographyPairs(h emath.Mat3, n int, seed int64) []InterestPointPair {
	rng := rand.New(rand.NewSource(seed))
	pairs := make([]InterestPointPair, n)
	for i := range pairs {
		rx, ry := 100+800*rng.Float64(), 100+800*rng.Float64()
		lx, ly := h.Project(rx, ry)
		pairs[i] = InterestPointPair{Left: r2.Point{X: lx, Y: ly}, Right: r2.Point{X: rx, Y: ry}}
	}
	return pairs
}

func assertMapsTogether(t *testing.T, a Alignment, pairs []InterestPointPair, tol float64) {
	t.Helper()
	for i, p := range pairs {
		lx, ly := a.Left.Project(p.Left.X, p.Left.Y)
		rx, ry := a.Right.Project(p.Right.X, p.Right.Y)
		assert.InDelta(t, lx, rx, tol, "pair %d x", i)
		assert.InDelta(t, ly, ry, tol, "pair %d y", i)
	}
}

func TestSolveNone(t *testing.T) {
	size := image.Pt(640, 480)
	a, err := Solve(AlignNone, size, image.Pt(10, 10), nil, SolverOptions{})
	require.NoError(t, err)
	assert.True(t, a.Left.IsIdentity())
	assert.True(t, a.Right.IsIdentity())
	assert.Equal(t, size, a.Size)
}

func TestSolveHomographyMinimumPairs(t *testing.T) {
	size := image.Pt(1000, 1000)
	pairs := homographyPairs(testHomography, 4, 1)

	_, err := Solve(AlignHomography, size, size, pairs[:3], SolverOptions{})
	assert.True(t, errors.Is(err, ErrInsufficientCorrespondences), "got %v", err)

	a, err := Solve(AlignHomography, size, size, pairs, SolverOptions{})
	require.NoError(t, err)
	assert.True(t, a.Left.IsIdentity())
	assert.False(t, a.Right.IsIdentity())
	assertMapsTogether(t, a, pairs, 1e-6)
}

func TestSolveHomographyRejectsCollinearPoints(t *testing.T) {
	pairs := []InterestPointPair{}
	for i := 0; i < 4; i++ {
		x := 100 + 200*float64(i)
		pairs = append(pairs, InterestPointPair{Left: r2.Point{X: x + 3, Y: 2*x + 1}, Right: r2.Point{X: x, Y: 2 * x}})
	}
	_, err := Solve(AlignHomography, image.Pt(1000, 1000), image.Pt(1000, 1000), pairs, SolverOptions{})
	assert.True(t, errors.Is(err, ErrInsufficientCorrespondences), "got %v", err)
}

func TestSolveHomographyIgnoresOutliers(t *testing.T) {
	size := image.Pt(1000, 1000)
	pairs := homographyPairs(testHomography, 12, 2)
	good := append([]InterestPointPair(nil), pairs[:11]...)
	pairs[11].Left = r2.Point{X: 13, Y: 977}

	a, err := Solve(AlignHomography, size, size, pairs, SolverOptions{Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 11, a.Inliers)
	assertMapsTogether(t, a, good, 1e-6)
}

func TestSolveHomographyAdjustsLeftImage(t *testing.T) {
	size := image.Pt(1000, 1000)
	h := emath.Translation3(-40.5, -25.5)
	pairs := homographyPairs(h, 8, 3)

	a, err := Solve(AlignHomography, size, size, pairs, SolverOptions{AdjustLeftImageSize: true})
	require.NoError(t, err)
	assertMapsTogether(t, a, pairs, 1e-6)

	// The right image hangs 40.5 off the left, and 25.5 off the top;
	// the output box is in whole pixels.
	x, y := a.Left.Project(0, 0)
	assert.InDelta(t, 41, x, 1e-6)
	assert.InDelta(t, 26, y, 1e-6)
	assert.Equal(t, image.Pt(1041, 1026), a.Size)

	a, err = Solve(AlignHomography, size, size, pairs, SolverOptions{})
	require.NoError(t, err)
	assert.True(t, a.Left.IsIdentity())
	assert.Equal(t, size, a.Size)
}

func TestSolveAffineEpipolarAlignsRows(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pairs := []InterestPointPair{}
	for i := 0; i < 20; i++ {
		xl, yl := 100+800*rng.Float64(), 100+800*rng.Float64()
		z := 20 * rng.Float64() // terrain height, turns into x disparity
		xr := 1.01*xl + 5*z + 20
		yr := 0.98*yl + 0.05*xl + 5
		pairs = append(pairs, InterestPointPair{Left: r2.Point{X: xl, Y: yl}, Right: r2.Point{X: xr, Y: yr}})
	}

	size := image.Pt(1000, 1000)
	_, err := Solve(AlignAffineEpipolar, size, size, pairs[:2], SolverOptions{})
	assert.True(t, errors.Is(err, ErrInsufficientCorrespondences), "got %v", err)

	a, err := Solve(AlignAffineEpipolar, size, size, pairs, SolverOptions{})
	require.NoError(t, err)
	assert.True(t, a.Left.IsAffine())
	assert.True(t, a.Right.IsAffine())
	assert.True(t, a.Size.X > 0 && a.Size.Y > 0)

	for i, p := range pairs {
		_, ly := a.Left.Project(p.Left.X, p.Left.Y)
		_, ry := a.Right.Project(p.Right.X, p.Right.Y)
		assert.InDelta(t, ly, ry, 1e-6, "pair %d", i)
	}
}

func TestSolveEpipolarIsNotImplemented(t *testing.T) {
	_, err := Solve(AlignEpipolar, image.Pt(10, 10), image.Pt(10, 10), homographyPairs(testHomography, 10, 5), SolverOptions{})
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.True(t, errors.Is(err, ErrUnsupportedPolicy))
}

func rampView(w, h int, nodata float64) *MaskedView {
	g := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, float64(x)+100*float64(y))
		}
	}
	return Mask(raster.NewMemory(g), nodata)
}

func TestWarpIdentityIsPassThrough(t *testing.T) {
	v := rampView(8, 6, -1)
	w, err := Warp(v, emath.Identity3(), image.Pt(8, 6))
	require.NoError(t, err)
	assert.Same(t, v, w)

	w, err = Warp(v, emath.Identity3(), image.Pt(10, 6))
	require.NoError(t, err)
	assert.NotSame(t, v, w)
}

func TestWarpInterpolates(t *testing.T) {
	v := rampView(16, 8, -1)

	w, err := Warp(v, emath.Translation3(2, 0), image.Pt(16, 8))
	require.NoError(t, err)
	mg, err := w.MaskedBlock(image.Rect(0, 0, 16, 8))
	require.NoError(t, err)
	assert.InDelta(t, 3+100*3, mg.Get(5, 3), 1e-9)
	assert.InDelta(t, 0+100*3, mg.Get(1, 3), 1e-9, "off the edge is clamped")
	assert.Equal(t, 16*8, mg.CountValid())

	w, err = Warp(v, emath.Translation3(0.5, 0), image.Pt(16, 8))
	require.NoError(t, err)
	mg, err = w.MaskedBlock(image.Rect(2, 1, 6, 4))
	require.NoError(t, err)
	assert.InDelta(t, 3.5+100*2, mg.Get(2, 1), 1e-9) // (4,2)
}

func TestWarpPropagatesMask(t *testing.T) {
	g := emath.NewFloatGrid(16, 8)
	for i := range g.Values() {
		g.Values()[i] = 1
	}
	g.Set(4, 4, -5)
	v := Mask(raster.NewMemory(g), -5)

	w, err := Warp(v, emath.Translation3(0.5, 0), image.Pt(16, 8))
	require.NoError(t, err)
	mg, err := w.MaskedBlock(w.Bounds())
	require.NoError(t, err)

	// Output x reads from x-0.5, so both x=4 and x=5 touch the bad pixel.
	assert.False(t, mg.Valid(4, 4))
	assert.False(t, mg.Valid(5, 4))
	assert.True(t, mg.Valid(3, 4))
	assert.True(t, mg.Valid(6, 4))
	assert.True(t, mg.Valid(4, 3))
	assert.Equal(t, 16*8-2, mg.CountValid())

	w, err = Warp(v, emath.Identity3(), image.Pt(20, 10))
	require.NoError(t, err)
	mg, err = w.MaskedBlock(w.Bounds())
	require.NoError(t, err)
	assert.False(t, mg.Valid(4, 4))
	assert.Equal(t, 20*10-1, mg.CountValid())
}
