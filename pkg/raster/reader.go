package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"sync"

	"golang.org/x/image/tiff"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// Decoded strips are kept around, up to this many bytes per file, since
// warping reads the same source rows for neighbouring blocks.
var MaxStripCacheBytes = 256 << 20

// A File is an open, read-only raster on disk. It is safe for concurrent
// use by the block workers.
type File struct {
	Path string
	Info

	f    *os.File
	dir  *directory
	strs bool // true if we read the strips ourselves

	mu         sync.Mutex
	cache      map[int][]float64
	cacheOrder []int
	cacheBytes int
	decoded    *emath.FloatGrid // whole image, when we had to fall back to x/image/tiff
	decodeErr  error
}

// Open parses the TIFF directory of a file. No pixel data is read.
func Open(filename string) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open+r '%s': %v", filename, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat '%s': %v", filename, err)
	}

	dir, err := readDirectory(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tiff parsing '%s': %v", filename, err)
	}

	rf := &File{
		Path:  filename,
		Info:  dir.info(),
		f:     f,
		dir:   dir,
		strs:  canReadStrips(dir),
		cache: map[int][]float64{},
	}

	if !rf.strs && dir.sampleFormat == SampleFormatFloat {
		f.Close()
		return nil, fmt.Errorf("tiff '%s': unsupported float layout (%d samples, compression %d, predictor %d, tiled %v)",
			filename, dir.samplesPerPixel, dir.compression, dir.predictor, dir.tiled)
	}

	return rf, nil
}

// ReadInfo returns the metadata of a raster without reading any pixels.
func ReadInfo(filename string) (Info, error) {
	rf, err := Open(filename)
	if err != nil {
		return Info{}, err
	}
	defer rf.Close()
	return rf.Info, nil
}

func canReadStrips(d *directory) bool {
	if d.tiled || d.samplesPerPixel != 1 {
		return false
	}
	switch d.compression {
	case CompressNone, CompressDeflate, compressDeflateOld:
	default:
		return false
	}
	switch {
	case d.predictor == 1:
	case d.predictor == 2 && d.sampleFormat != SampleFormatFloat:
	default:
		return false
	}
	switch d.bitsPerSample {
	case 8, 16, 32:
	case 64:
		if d.sampleFormat != SampleFormatFloat {
			return false
		}
	default:
		return false
	}
	if d.bitsPerSample < 32 && d.sampleFormat == SampleFormatFloat {
		return false
	}
	n := d.nStrips()
	return len(d.stripOffsets) == n && len(d.stripCounts) == n
}

func (rf *File) Close() error { return rf.f.Close() }

func (rf *File) Bounds() image.Rectangle { return rf.Info.Bounds() }

func (rf *File) String() string { return fmt.Sprintf("%s[%s]", rf.Path, rf.Info) }

// ReadBlock returns the samples inside r, as float64s.
func (rf *File) ReadBlock(r image.Rectangle) (*emath.FloatGrid, error) {
	if r.Empty() || !r.In(rf.Bounds()) {
		return nil, fmt.Errorf("read '%s': block %v outside %v", rf.Path, r, rf.Bounds())
	}

	if !rf.strs {
		g, err := rf.decodeWhole()
		if err != nil {
			return nil, err
		}
		return g.SubGrid(r), nil
	}

	out := emath.NewFloatGrid(r.Dx(), r.Dy())
	rps := rf.dir.rowsPerStrip
	for s := r.Min.Y / rps; s <= (r.Max.Y-1)/rps; s++ {
		vals, err := rf.strip(s)
		if err != nil {
			return nil, err
		}
		for y := imax(r.Min.Y, s*rps); y < imin(r.Max.Y, (s+1)*rps); y++ {
			row := vals[(y-s*rps)*rf.Width:]
			copy(out.Row(y-r.Min.Y), row[r.Min.X:r.Max.X])
		}
	}
	return out, nil
}

func (rf *File) strip(i int) ([]float64, error) {
	rf.mu.Lock()
	if vals, exists := rf.cache[i]; exists {
		rf.mu.Unlock()
		return vals, nil
	}
	rf.mu.Unlock()

	// Two workers may decode the same strip; that is harmless.
	vals, err := rf.decodeStrip(i)
	if err != nil {
		return nil, err
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()
	if _, exists := rf.cache[i]; !exists {
		rf.cache[i] = vals
		rf.cacheOrder = append(rf.cacheOrder, i)
		rf.cacheBytes += 8 * len(vals)
	}
	for rf.cacheBytes > MaxStripCacheBytes && len(rf.cacheOrder) > 1 {
		old := rf.cacheOrder[0]
		rf.cacheOrder = rf.cacheOrder[1:]
		rf.cacheBytes -= 8 * len(rf.cache[old])
		delete(rf.cache, old)
	}
	return vals, nil
}

func (rf *File) decodeStrip(i int) ([]float64, error) {
	d := rf.dir
	raw := make([]byte, d.stripCounts[i])
	if n, err := rf.f.ReadAt(raw, d.stripOffsets[i]); err != nil && !(err == io.EOF && n == len(raw)) {
		return nil, fmt.Errorf("read '%s' strip %d: %v", rf.Path, i, err)
	}

	want := d.stripBytes(i)
	data := raw
	switch d.compression {
	case CompressDeflate, compressDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("inflate '%s' strip %d: %v", rf.Path, i, err)
		}
		data = make([]byte, want)
		if _, err := io.ReadFull(zr, data); err != nil {
			return nil, fmt.Errorf("inflate '%s' strip %d: %v", rf.Path, i, err)
		}
	}
	if len(data) < want {
		return nil, fmt.Errorf("read '%s' strip %d: short strip, %d<%d bytes", rf.Path, i, len(data), want)
	}

	rowBytes := d.width * d.bitsPerSample / 8
	if d.predictor == 2 {
		undoHorizontalDifferencing(data[:want], rowBytes, d.bitsPerSample/8, d.order)
	}

	return decodeSamples(data[:want], d.bitsPerSample, d.sampleFormat, d.order), nil
}

// undoHorizontalDifferencing reverses TIFF predictor 2, in place. Integer
// overflow wraps, as the encoder expects.
func undoHorizontalDifferencing(data []byte, rowBytes, sampleBytes int, order binary.ByteOrder) {
	for row := 0; row+rowBytes <= len(data); row += rowBytes {
		b := data[row : row+rowBytes]
		for j := sampleBytes; j < len(b); j += sampleBytes {
			switch sampleBytes {
			case 1:
				b[j] += b[j-1]
			case 2:
				order.PutUint16(b[j:], order.Uint16(b[j:])+order.Uint16(b[j-2:]))
			case 4:
				order.PutUint32(b[j:], order.Uint32(b[j:])+order.Uint32(b[j-4:]))
			}
		}
	}
}

func decodeSamples(data []byte, bps, sf int, order binary.ByteOrder) []float64 {
	n := len(data) / (bps / 8)
	vals := make([]float64, n)

	switch bps {
	case 8:
		for k := 0; k < n; k++ {
			if sf == SampleFormatInt {
				vals[k] = float64(int8(data[k]))
			} else {
				vals[k] = float64(data[k])
			}
		}
	case 16:
		for k := 0; k < n; k++ {
			u := order.Uint16(data[2*k:])
			if sf == SampleFormatInt {
				vals[k] = float64(int16(u))
			} else {
				vals[k] = float64(u)
			}
		}
	case 32:
		for k := 0; k < n; k++ {
			u := order.Uint32(data[4*k:])
			switch sf {
			case SampleFormatFloat:
				vals[k] = float64(math.Float32frombits(u))
			case SampleFormatInt:
				vals[k] = float64(int32(u))
			default:
				vals[k] = float64(u)
			}
		}
	case 64:
		for k := 0; k < n; k++ {
			vals[k] = math.Float64frombits(order.Uint64(data[8*k:]))
		}
	}
	return vals
}

// decodeWhole is the slow path for layouts we don't stream (tiles, LZW,
// multi-sample); x/image/tiff decodes the lot, and we keep the gray
// levels.
func (rf *File) decodeWhole() (*emath.FloatGrid, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.decoded != nil || rf.decodeErr != nil {
		return rf.decoded, rf.decodeErr
	}

	img, err := tiff.Decode(io.NewSectionReader(rf.f, 0, math.MaxInt64))
	if err != nil {
		rf.decodeErr = fmt.Errorf("tiff loading '%s': %v", rf.Path, err)
		return nil, rf.decodeErr
	}

	b := img.Bounds()
	g := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v float64
			switch im := img.(type) {
			case *image.Gray:
				v = float64(im.GrayAt(x, y).Y)
			case *image.Gray16:
				v = float64(im.Gray16At(x, y).Y)
			default:
				v = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
			g.Set(x-b.Min.X, y-b.Min.Y, v)
		}
	}
	rf.decoded = g
	return g, nil
}
