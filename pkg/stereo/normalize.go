package stereo

import (
	"fmt"
	"image"
	"math"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

type NormalizeOptions struct {
	Policy NormalizePolicy
	Range  RangeMode
}

// NormalizedView linearly maps [Lo,Hi] onto [0,1], clamping anything
// outside it. Invalid pixels stay invalid.
type NormalizedView struct {
	Image  MaskedImage
	Lo, Hi float64
}

func (nv *NormalizedView) Bounds() image.Rectangle { return nv.Image.Bounds() }

func (nv *NormalizedView) String() string { return fmt.Sprintf("normalize[%g,%g]", nv.Lo, nv.Hi) }

func (nv *NormalizedView) MaskedBlock(r image.Rectangle) (*emath.MaskedGrid, error) {
	mg, err := nv.Image.MaskedBlock(r)
	if err != nil {
		return nil, err
	}

	span := nv.Hi - nv.Lo
	degenerate := !(span > 0) || math.IsInf(span, 0)

	vals := mg.Values()
	for y := 0; y < mg.Dy(); y++ {
		for x, ok := range mg.ValidRow(y) {
			if !ok {
				continue
			}
			i := y*mg.Dx() + x
			if degenerate {
				vals[i] = 0
			} else {
				vals[i] = emath.Clamp((vals[i]-nv.Lo)/span, 0, 1)
			}
		}
	}
	return mg, nil
}

// Normalize rescales both images into [0,1]. With the global-range
// policy both share one range, covering both images' ranges, so their
// relative brightness survives; with per-image each is stretched by its
// own statistics. The stats should be those of the unwarped images.
func Normalize(left, right MaskedImage, ls, rs Statistics, opts NormalizeOptions) (*NormalizedView, *NormalizedView) {
	llo, lhi := ls.Range(opts.Range)
	rlo, rhi := rs.Range(opts.Range)

	if opts.Policy == NormalizeGlobalRange {
		switch {
		case ls.Count == 0:
			llo, lhi = rlo, rhi
		case rs.Count == 0:
			rlo, rhi = llo, lhi
		default:
			llo, lhi = math.Min(llo, rlo), math.Max(lhi, rhi)
			rlo, rhi = llo, lhi
		}
	}

	return &NormalizedView{Image: left, Lo: llo, Hi: lhi}, &NormalizedView{Image: right, Lo: rlo, Hi: rhi}
}
