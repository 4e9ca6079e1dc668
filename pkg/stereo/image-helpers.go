package stereo

// A few helper routines for golang's image libraries

import (
	"image"
	"math"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// A box is a bounding box in continuous pixel coordinates.
type box struct {
	MinX, MinY, MaxX, MaxY float64
}

func emptyBox() box {
	return box{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
}

func boxOf(r image.Rectangle) box {
	return box{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

func (b box) Empty() bool { return !(b.MinX < b.MaxX && b.MinY < b.MaxY) }

// Grow extends the box to contain the point.
func (b box) Grow(x, y float64) box {
	b.MinX, b.MaxX = math.Min(b.MinX, x), math.Max(b.MaxX, x)
	b.MinY, b.MaxY = math.Min(b.MinY, y), math.Max(b.MaxY, y)
	return b
}

func (b box) Union(o box) box {
	return b.Grow(o.MinX, o.MinY).Grow(o.MaxX, o.MaxY)
}

func (b box) Intersect(o box) box {
	return box{math.Max(b.MinX, o.MinX), math.Max(b.MinY, o.MinY), math.Min(b.MaxX, o.MaxX), math.Min(b.MaxY, o.MaxY)}
}

// Rect is the smallest integer rectangle that covers the box.
func (b box) Rect() image.Rectangle {
	return image.Rect(int(math.Floor(b.MinX)), int(math.Floor(b.MinY)), int(math.Ceil(b.MaxX)), int(math.Ceil(b.MaxY)))
}

func (b box) IsFinite() bool {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// footprint is the bounding box of an image of the given size, once its
// corners have been mapped through m.
func footprint(m emath.Mat3, size image.Point) box {
	b := emptyBox()
	w, h := float64(size.X), float64(size.Y)
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := m.Project(c[0], c[1])
		b = b.Grow(x, y)
	}
	return b
}

func clampF(v, lo, hi float64) float64 {
	return emath.Clamp(v, lo, hi)
}
