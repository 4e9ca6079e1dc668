package raster

import (
	"fmt"
	"image"
)

// GeoTIFF tags that we carry through untouched (other than crops).
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737
)

// A GeoReference is the geolocation metadata attached to a raster. The
// pipeline never interprets it; it only needs to keep it consistent
// with the pixel grid when cropping.
type GeoReference struct {
	PixelScale     []float64 // ModelPixelScale: sx, sy, sz
	Tiepoints      []float64 // ModelTiepoint: groups of (I, J, K, X, Y, Z)
	Transformation []float64 // ModelTransformation: 4x4, row major
	GeoKeys        []uint16
	GeoDoubles     []float64
	GeoASCII       string
}

func (g *GeoReference) empty() bool {
	return g == nil || (len(g.PixelScale) == 0 && len(g.Tiepoints) == 0 && len(g.Transformation) == 0 && len(g.GeoKeys) == 0)
}

func (g *GeoReference) Copy() *GeoReference {
	if g == nil {
		return nil
	}
	c := *g
	c.PixelScale = append([]float64(nil), g.PixelScale...)
	c.Tiepoints = append([]float64(nil), g.Tiepoints...)
	c.Transformation = append([]float64(nil), g.Transformation...)
	c.GeoKeys = append([]uint16(nil), g.GeoKeys...)
	c.GeoDoubles = append([]float64(nil), g.GeoDoubles...)
	return &c
}

// Crop returns the georeference for the sub-image starting at r.Min, so
// that every pixel keeps pointing at the same place on the ground.
func (g *GeoReference) Crop(r image.Rectangle) *GeoReference {
	if g == nil {
		return nil
	}
	c := g.Copy()
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)

	for i := 0; i+5 < len(c.Tiepoints); i += 6 {
		c.Tiepoints[i+0] -= x0
		c.Tiepoints[i+1] -= y0
	}

	if len(c.Transformation) == 16 {
		m := c.Transformation
		m[3] += m[0]*x0 + m[1]*y0
		m[7] += m[4]*x0 + m[5]*y0
		m[11] += m[8]*x0 + m[9]*y0
	}

	return c
}

func (g *GeoReference) String() string {
	if g == nil {
		return "georef[none]"
	}
	return fmt.Sprintf("georef[scale:%v tie:%v keys:%d]", g.PixelScale, g.Tiepoints, len(g.GeoKeys))
}
