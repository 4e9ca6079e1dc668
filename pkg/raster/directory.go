package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/tiff"
)

// Baseline TIFF tags that we care about
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagSampleFormat              = 339
	tagGDALNoData                = 42113
)

// directory is the first IFD of a TIFF file, with the handful of fields
// we need pulled out of it.
type directory struct {
	order binary.ByteOrder
	tags  map[uint16]*tiff.Tag

	width, height   int
	bitsPerSample   int
	samplesPerPixel int
	sampleFormat    int
	compression     Compression
	predictor       int
	planar          int
	rowsPerStrip    int
	tiled           bool
	stripOffsets    []int64
	stripCounts     []int64
}

// readDirectory parses the TIFF header and the first IFD. It only ever
// reads the header, the IFD and any out-of-line tag values; pixel strips
// are not touched.
func readDirectory(r io.ReaderAt, size int64) (*directory, error) {
	hdr := make([]byte, 8)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("tiff header: %v", err)
	}

	d := directory{tags: map[uint16]*tiff.Tag{}}
	switch string(hdr[0:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("tiff header: bad byte order %q", hdr[0:2])
	}

	if magic := d.order.Uint16(hdr[2:4]); magic != 42 {
		return nil, fmt.Errorf("tiff header: unsupported magic %d", magic)
	}

	ifdOffset := int64(d.order.Uint32(hdr[4:8]))
	if ifdOffset < 8 || ifdOffset+2 > size {
		return nil, fmt.Errorf("tiff header: IFD offset %d outside file of %d bytes", ifdOffset, size)
	}

	sr := io.NewSectionReader(r, 0, size)
	if _, err := sr.Seek(ifdOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tiff IFD: %v", err)
	}
	dir, _, err := tiff.DecodeDir(sr, d.order)
	if err != nil {
		return nil, fmt.Errorf("tiff IFD: %v", err)
	}
	for _, t := range dir.Tags {
		d.tags[t.Id] = t
	}

	return &d, d.parse()
}

func (d *directory) parse() (err error) {
	if d.width, err = d.int(tagImageWidth, -1); err != nil {
		return err
	}
	if d.height, err = d.int(tagImageLength, -1); err != nil {
		return err
	}
	if d.width <= 0 || d.height <= 0 {
		return fmt.Errorf("tiff: bad dimensions %dx%d", d.width, d.height)
	}

	if d.bitsPerSample, err = d.int(tagBitsPerSample, 1); err != nil {
		return err
	}
	if d.samplesPerPixel, err = d.int(tagSamplesPerPixel, 1); err != nil {
		return err
	}
	if d.sampleFormat, err = d.int(tagSampleFormat, SampleFormatUint); err != nil {
		return err
	}
	if d.predictor, err = d.int(tagPredictor, 1); err != nil {
		return err
	}
	if d.planar, err = d.int(tagPlanarConfiguration, 1); err != nil {
		return err
	}
	comp, err := d.int(tagCompression, int(CompressNone))
	if err != nil {
		return err
	}
	d.compression = Compression(comp)

	d.rowsPerStrip, err = d.int(tagRowsPerStrip, d.height)
	if err != nil {
		return err
	}
	if d.rowsPerStrip <= 0 || d.rowsPerStrip > d.height {
		d.rowsPerStrip = d.height // 2**32-1 is common, meaning "one strip"
	}

	_, d.tiled = d.tags[tagTileWidth]
	if !d.tiled {
		if d.stripOffsets, err = d.ints(tagStripOffsets); err != nil {
			return err
		}
		if d.stripCounts, err = d.ints(tagStripByteCounts); err != nil {
			return err
		}
	}

	return nil
}

// nStrips is how many strips a well formed file of this shape has.
func (d *directory) nStrips() int {
	return (d.height + d.rowsPerStrip - 1) / d.rowsPerStrip
}

// stripRows is the number of image rows held in strip i; the last one may be short.
func (d *directory) stripRows(i int) int {
	rows := d.rowsPerStrip
	if rem := d.height - i*d.rowsPerStrip; rem < rows {
		rows = rem
	}
	return rows
}

// stripBytes is the decompressed size of strip i.
func (d *directory) stripBytes(i int) int {
	return d.stripRows(i) * d.width * d.samplesPerPixel * d.bitsPerSample / 8
}

func (d *directory) int(id uint16, def int) (int, error) {
	t, exists := d.tags[id]
	if !exists {
		if def < 0 {
			return 0, fmt.Errorf("tiff: required tag %d missing", id)
		}
		return def, nil
	}
	v, err := t.Int(0)
	if err != nil {
		return 0, fmt.Errorf("tiff tag %d: %v", id, err)
	}
	return v, nil
}

func (d *directory) ints(id uint16) ([]int64, error) {
	t, exists := d.tags[id]
	if !exists {
		return nil, fmt.Errorf("tiff: required tag %d missing", id)
	}
	vals := make([]int64, int(t.Count))
	for i := range vals {
		v, err := t.Int64(i)
		if err != nil {
			return nil, fmt.Errorf("tiff tag %d: %v", id, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func (d *directory) floats(id uint16) []float64 {
	t, exists := d.tags[id]
	if !exists {
		return nil
	}
	vals := make([]float64, 0, int(t.Count))
	for i := 0; i < int(t.Count); i++ {
		v, err := t.Float(i)
		if err != nil {
			return nil
		}
		vals = append(vals, v)
	}
	return vals
}

func (d *directory) str(id uint16) string {
	if t, exists := d.tags[id]; exists {
		if s, err := t.StringVal(); err == nil {
			return s
		}
	}
	return ""
}

// noData reads the GDAL_NODATA tag, which holds the sentinel as ASCII.
func (d *directory) noData() (float64, bool) {
	s := strings.TrimSpace(d.str(tagGDALNoData))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (d *directory) georef() *GeoReference {
	g := GeoReference{
		PixelScale:     d.floats(tagModelPixelScale),
		Tiepoints:      d.floats(tagModelTiepoint),
		Transformation: d.floats(tagModelTransformation),
		GeoDoubles:     d.floats(tagGeoDoubleParams),
		GeoASCII:       d.str(tagGeoAsciiParams),
	}
	if t, exists := d.tags[tagGeoKeyDirectory]; exists {
		for i := 0; i < int(t.Count); i++ {
			if v, err := t.Int(i); err == nil && v >= 0 && v <= math.MaxUint16 {
				g.GeoKeys = append(g.GeoKeys, uint16(v))
			}
		}
	}
	if g.empty() {
		return nil
	}
	return &g
}

func (d *directory) info() Info {
	i := Info{
		Width:         d.width,
		Height:        d.height,
		BitsPerSample: d.bitsPerSample,
		SampleFormat:  d.sampleFormat,
		Compression:   d.compression,
		Georef:        d.georef(),
	}
	i.NoData, i.HasNoData = d.noData()
	return i
}
