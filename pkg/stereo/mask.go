package stereo

import (
	"image"
	"math"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

type MaskedSample struct {
	Value float64
	Valid bool
}

// IsValid is the no-data predicate. The sentinel is a lower bound, not
// an exact token: anything at or below it is invalid. NaNs and
// infinities are never valid.
func IsValid(v, nodata float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > nodata
}

// A MaskedImage hands out blocks of samples along with their validity.
type MaskedImage interface {
	Bounds() image.Rectangle
	MaskedBlock(r image.Rectangle) (*emath.MaskedGrid, error)
}

// MaskedView puts a no-data predicate over a raster. Nothing is copied
// or modified; validity is worked out as blocks are read.
type MaskedView struct {
	Source raster.Source
	NoData float64
}

func Mask(src raster.Source, nodata float64) *MaskedView {
	return &MaskedView{Source: src, NoData: nodata}
}

func (mv *MaskedView) Bounds() image.Rectangle { return mv.Source.Bounds() }

func (mv *MaskedView) At(x, y int) (MaskedSample, error) {
	g, err := mv.Source.ReadBlock(image.Rect(x, y, x+1, y+1))
	if err != nil {
		return MaskedSample{}, err
	}
	v := g.Get(0, 0)
	return MaskedSample{Value: v, Valid: IsValid(v, mv.NoData)}, nil
}

func (mv *MaskedView) MaskedBlock(r image.Rectangle) (*emath.MaskedGrid, error) {
	g, err := mv.Source.ReadBlock(r)
	if err != nil {
		return nil, err
	}
	mg := emath.NewMaskedGrid(g.Dx(), g.Dy())
	for y := 0; y < g.Dy(); y++ {
		row := g.Row(y)
		for x, v := range row {
			mg.SetMasked(x, y, v, IsValid(v, mv.NoData))
		}
	}
	return mg, nil
}

// Filled turns a MaskedImage back into a plain raster, writing NoData
// wherever a sample is invalid. It is what gets written to disk.
type Filled struct {
	Image  MaskedImage
	NoData float64
}

func (f Filled) Bounds() image.Rectangle { return f.Image.Bounds() }

func (f Filled) ReadBlock(r image.Rectangle) (*emath.FloatGrid, error) {
	mg, err := f.Image.MaskedBlock(r)
	if err != nil {
		return nil, err
	}
	return mg.Fill(f.NoData), nil
}
