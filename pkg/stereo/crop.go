package stereo

import (
	"fmt"
	"image"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// window is a Source that is a sub-rectangle of another, re-based so
// that its top left is (0,0).
type window struct {
	src raster.Source
	r   image.Rectangle
}

func (w window) Bounds() image.Rectangle { return image.Rect(0, 0, w.r.Dx(), w.r.Dy()) }

func (w window) ReadBlock(r image.Rectangle) (*emath.FloatGrid, error) {
	return w.src.ReadBlock(r.Add(w.r.Min))
}

// ClampWindow intersects a crop window with the image bounds. Windows
// that hang off the edge are trimmed; one that misses the image
// entirely is a configuration error.
func ClampWindow(win, bounds image.Rectangle) (image.Rectangle, error) {
	r := win.Intersect(bounds)
	if r.Empty() {
		return r, fmt.Errorf("%w: crop window %v doesn't overlap image %v", ErrConfiguration, win, bounds)
	}
	return r, nil
}

// Crop writes the part of src inside win to outPath, and returns the
// newly written raster. The georeference is cropped to match, and the
// no-data tag is kept. An empty window means no cropping: src itself
// comes back.
func Crop(src *raster.File, win image.Rectangle, outPath string, opts raster.WriteOptions) (*raster.File, error) {
	if win.Empty() {
		return src, nil
	}

	r, err := ClampWindow(win, src.Bounds())
	if err != nil {
		return nil, err
	}

	opts.HasNoData = src.HasNoData
	opts.NoData = src.NoData
	opts.Georef = src.Georef.Crop(r)

	if _, err := raster.WriteFile(outPath, window{src, r}, opts); err != nil {
		return nil, ioErr(err)
	}

	cropped, err := raster.Open(outPath)
	if err != nil {
		return nil, ioErr(err)
	}
	return cropped, nil
}
