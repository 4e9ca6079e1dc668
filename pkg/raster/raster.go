// Package raster reads and writes the single-band rasters that flow
// through the stereo preprocessing pipeline. Files are TIFFs laid out in
// strips; pixel data is always handed around as emath.FloatGrid blocks,
// so callers never need the whole image in memory.
package raster

import (
	"fmt"
	"image"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// A Source is anything that can hand out rectangular blocks of samples.
type Source interface {
	Bounds() image.Rectangle
	ReadBlock(r image.Rectangle) (*emath.FloatGrid, error)
}

type Compression int

const (
	CompressNone    Compression = 1
	CompressDeflate Compression = 8
	// Old-style deflate code, some writers still emit it
	compressDeflateOld Compression = 32946
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressDeflate, compressDeflateOld:
		return "deflate"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// Info is the metadata of a raster; it can be read without touching any
// pixel strips.
type Info struct {
	Width, Height int

	HasNoData bool
	NoData    float64

	Georef *GeoReference

	BitsPerSample int
	SampleFormat  int
	Compression   Compression
}

func (i Info) Bounds() image.Rectangle { return image.Rect(0, 0, i.Width, i.Height) }

func (i Info) String() string {
	str := fmt.Sprintf("%dx%d, %d-bit", i.Width, i.Height, i.BitsPerSample)
	if i.SampleFormat == SampleFormatFloat {
		str += " float"
	}
	str += ", " + i.Compression.String()
	if i.HasNoData {
		str += fmt.Sprintf(", nodata=%g", i.NoData)
	}
	if i.Georef != nil {
		str += ", georef"
	}
	return str
}

// Memory is a Source backed by a grid in memory.
type Memory struct {
	Grid *emath.FloatGrid
}

func NewMemory(g *emath.FloatGrid) Memory { return Memory{Grid: g} }

func (m Memory) Bounds() image.Rectangle { return m.Grid.Bounds() }

func (m Memory) ReadBlock(r image.Rectangle) (*emath.FloatGrid, error) {
	if !r.In(m.Bounds()) {
		return nil, fmt.Errorf("block %v outside %v", r, m.Bounds())
	}
	return m.Grid.SubGrid(r), nil
}
