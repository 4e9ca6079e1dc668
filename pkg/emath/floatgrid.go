package emath

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
	"github.com/lucasb-eyer/go-colorful"
)

// A FloatGrid is a grid of floats, with some operations. It is the unit
// of data that flows between raster blocks.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) *FloatGrid {
	if w <= 0 || h <= 0 {
		return &FloatGrid{}
	}
	return &FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFrom wraps existing row-major values; len(values) must be a multiple of w.
func NewFloatGridFrom(w int, values []float64) *FloatGrid {
	return &FloatGrid{stride: w, values: values}
}

func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Row(y int) []float64     { return fg.values[fg.stride*y : fg.stride*(y+1)] }
func (fg *FloatGrid) Values() []float64       { return fg.values }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (fg *FloatGrid) Bounds() image.Rectangle {
	return image.Rect(0, 0, fg.Dx(), fg.Dy())
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// SubGrid copies out the pixels inside r, which is in this grid's coordinates.
func (fg *FloatGrid) SubGrid(r image.Rectangle) *FloatGrid {
	sub := NewFloatGrid(r.Dx(), r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(sub.Row(y-r.Min.Y), fg.values[fg.stride*y+r.Min.X:fg.stride*y+r.Max.X])
	}
	return sub
}

// A MaskedGrid is a FloatGrid where each value also carries a valid
// flag. Invalid values are never looked at.
type MaskedGrid struct {
	*FloatGrid
	valid []bool
}

func NewMaskedGrid(w, h int) *MaskedGrid {
	g := NewFloatGrid(w, h)
	return &MaskedGrid{FloatGrid: g, valid: make([]bool, len(g.values))}
}

func (mg *MaskedGrid) Valid(x, y int) bool   { return mg.valid[mg.stride*y+x] }
func (mg *MaskedGrid) ValidRow(y int) []bool { return mg.valid[mg.stride*y : mg.stride*(y+1)] }
func (mg *MaskedGrid) SetMasked(x, y int, v float64, ok bool) {
	mg.values[mg.stride*y+x] = v
	mg.valid[mg.stride*y+x] = ok
}

func (mg *MaskedGrid) CountValid() int {
	n := 0
	for _, ok := range mg.valid {
		if ok {
			n++
		}
	}
	return n
}

// Fill returns a plain FloatGrid with invalid pixels replaced by nodata.
func (mg *MaskedGrid) Fill(nodata float64) *FloatGrid {
	g := mg.FloatGrid.Copy()
	for i, ok := range mg.valid {
		if !ok {
			g.values[i] = nodata
		}
	}
	return g
}

// DownSample returns a grid that is 1/4 of the size, averaging the
// valid values from the original. An output pixel is valid if any of
// its four inputs were.
func (g1 *MaskedGrid) DownSample() *MaskedGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewMaskedGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p, n := 0.0, 0
			for _, pt := range [4][2]int{{2 * x, 2 * y}, {2*x + 1, 2 * y}, {2 * x, 2*y + 1}, {2*x + 1, 2*y + 1}} {
				if g1.Valid(pt[0], pt[1]) {
					p += g1.Get(pt[0], pt[1])
					n++
				}
			}
			if n > 0 {
				g2.SetMasked(x, y, p/float64(n), true)
			}
		}
	}

	return g2
}

// ToImg saves a simple grayscale, based on the range of valid values in
// the grid, and gamma scaling the gray to look normal for human
// vision. Invalid pixels are painted in a highlight color.
func (mg *MaskedGrid) ToImg(title, filename string) error {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for i := 0; i < len(mg.values); i++ {
		if !mg.valid[i] {
			continue
		}
		if mg.values[i] > max {
			max = mg.values[i]
		}
		if mg.values[i] < min {
			min = mg.values[i]
		}
	}
	if max <= min {
		max = min + 1
	}

	highlight := colorful.Hsv(300, 0.8, 0.9)
	img := image.NewRGBA64(image.Rectangle{Max: image.Point{mg.Dx(), mg.Dy()}})
	for x := 0; x < mg.Dx(); x++ {
		for y := 0; y < mg.Dy(); y++ {
			if !mg.Valid(x, y) {
				img.Set(x, y, highlight)
				continue
			}
			gray := GammaExpand_F64((mg.Get(x, y) - min) / (max - min))
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 1, 0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
