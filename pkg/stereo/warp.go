package stereo

import (
	"image"
	"math"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// WarpedView resamples a masked image through an alignment matrix. It is
// computed a block at a time, as blocks are asked for.
type WarpedView struct {
	src  MaskedImage
	inv  emath.Mat3 // output pixel -> source pixel
	size image.Point
}

// Warp maps view through m into an output of the given size. Each
// output pixel is bilinearly interpolated from the source pixel that m
// sends onto it; source coords off the edge of the image are clamped to
// it. An output pixel is only valid if every source pixel that
// contributes to it is valid. If m is the identity and the size is
// unchanged, the view itself comes back untouched.
func Warp(view MaskedImage, m emath.Mat3, size image.Point) (MaskedImage, error) {
	if m.IsIdentity() && view.Bounds() == (image.Rectangle{Max: size}) {
		return view, nil
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}
	return &WarpedView{src: view, inv: inv, size: size}, nil
}

func (wv *WarpedView) Bounds() image.Rectangle { return image.Rectangle{Max: wv.size} }

// sampleAt is where one output pixel reads from: the four source
// pixels, and their weights.
type sampleAt struct {
	x0, y0, x1, y1 int
	fx, fy         float64
}

func (wv *WarpedView) MaskedBlock(r image.Rectangle) (*emath.MaskedGrid, error) {
	if r.Empty() {
		return emath.NewMaskedGrid(r.Dx(), r.Dy()), nil
	}
	sb := wv.src.Bounds()
	maxX, maxY := float64(sb.Max.X-1), float64(sb.Max.Y-1)

	// Work out all the source coords first, so we know exactly which
	// region of the source this block needs.
	samples := make([]sampleAt, r.Dx()*r.Dy())
	need := image.Rectangle{}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sx, sy := wv.inv.Project(float64(x), float64(y))
			if math.IsNaN(sx) || math.IsNaN(sy) {
				sx, sy = 0, 0
			}
			sx = clampF(sx, float64(sb.Min.X), maxX)
			sy = clampF(sy, float64(sb.Min.Y), maxY)

			s := sampleAt{x0: int(math.Floor(sx)), y0: int(math.Floor(sy))}
			s.fx, s.fy = sx-float64(s.x0), sy-float64(s.y0)
			s.x1, s.y1 = s.x0, s.y0
			if s.fx > 0 {
				s.x1++
			}
			if s.fy > 0 {
				s.y1++
			}
			samples[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)] = s

			need = need.Union(image.Rect(s.x0, s.y0, s.x1+1, s.y1+1))
		}
	}

	src, err := wv.src.MaskedBlock(need)
	if err != nil {
		return nil, err
	}

	out := emath.NewMaskedGrid(r.Dx(), r.Dy())
	for i, s := range samples {
		x0, y0 := s.x0-need.Min.X, s.y0-need.Min.Y
		x1, y1 := s.x1-need.Min.X, s.y1-need.Min.Y

		valid := src.Valid(x0, y0) && src.Valid(x1, y0) && src.Valid(x0, y1) && src.Valid(x1, y1)
		if !valid {
			continue
		}
		v := (1-s.fx)*(1-s.fy)*src.Get(x0, y0) +
			s.fx*(1-s.fy)*src.Get(x1, y0) +
			(1-s.fx)*s.fy*src.Get(x0, y1) +
			s.fx*s.fy*src.Get(x1, y1)
		out.SetMasked(i%r.Dx(), i/r.Dx(), v, true)
	}

	return out, nil
}
