package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

type WriteOptions struct {
	HasNoData bool
	NoData    float64

	Compression      Compression
	CompressionLevel int // zlib level, 1-9; 0 means zlib's default

	Georef *GeoReference

	BitsPerSample int // 32 (the default) or 64; samples are always floats

	Workers   int // blocks encoded in parallel
	BlockRows int // rows per strip; 0 picks from the machine's memory
}

// Pending is a fully written raster that isn't yet visible under its
// final name.
type Pending struct {
	Path     string
	TempPath string
	Bytes    int64
}

// Commit moves the file into place.
func (p *Pending) Commit() error {
	if err := os.Rename(p.TempPath, p.Path); err != nil {
		return fmt.Errorf("rename '%s': %v", p.Path, err)
	}
	return nil
}

// Abort discards the file.
func (p *Pending) Abort() {
	os.Remove(p.TempPath)
}

// WriteFile streams src into a float TIFF at filename. The file only
// appears under that name once it is complete.
func WriteFile(filename string, src Source, opts WriteOptions) (int64, error) {
	p, err := WritePending(filename, src, opts)
	if err != nil {
		return 0, err
	}
	if err := p.Commit(); err != nil {
		p.Abort()
		return 0, err
	}
	return p.Bytes, nil
}

// WritePending writes src to a temporary file next to filename, and
// leaves it to the caller to Commit.
func WritePending(filename string, src Source, opts WriteOptions) (*Pending, error) {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return nil, fmt.Errorf("open+w '%s': %v", filename, err)
	}
	p := &Pending{Path: filename, TempPath: tmp.Name()}

	n, err := writeTIFF(tmp, src, opts)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err != nil {
		p.Abort()
		return nil, fmt.Errorf("write '%s': %v", filename, err)
	}

	p.Bytes = n
	return p, nil
}

type fileWriter interface {
	io.Writer
	io.WriterAt
}

func writeTIFF(w fileWriter, src Source, opts WriteOptions) (int64, error) {
	b := src.Bounds()
	if b.Empty() {
		return 0, fmt.Errorf("empty raster %v", b)
	}

	bps := opts.BitsPerSample
	if bps == 0 {
		bps = 32
	} else if bps != 32 && bps != 64 {
		return 0, fmt.Errorf("unsupported bits per sample %d", bps)
	}
	comp := opts.Compression
	if comp == 0 {
		comp = CompressNone
	} else if comp != CompressNone && comp != CompressDeflate {
		return 0, fmt.Errorf("unsupported compression %s", comp)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers()
	}
	rows := opts.BlockRows
	if rows <= 0 {
		rows = BlockRows(b.Dx(), workers)
	}
	if rows > b.Dy() {
		rows = b.Dy()
	}

	order := binary.LittleEndian
	hdr := []byte{'I', 'I', 0, 0, 0, 0, 0, 0}
	order.PutUint16(hdr[2:], 42)
	if _, err := w.Write(hdr); err != nil {
		return 0, err
	}
	off := int64(len(hdr))

	// Encode one round of blocks in parallel, then write them out in order.
	bands := Bands(b, rows)
	offsets := make([]uint32, 0, len(bands))
	counts := make([]uint32, 0, len(bands))
	for start := 0; start < len(bands); start += workers {
		round := bands[start:imin(start+workers, len(bands))]
		encoded := make([][]byte, len(round))

		err := ForEachBlock(len(round), workers, func(i int) error {
			g, err := src.ReadBlock(round[i])
			if err != nil {
				return err
			}
			encoded[i], err = encodeStrip(g.Values(), bps, comp, opts.CompressionLevel)
			return err
		})
		if err != nil {
			return 0, err
		}

		for _, strip := range encoded {
			if off+int64(len(strip)) > math.MaxUint32 {
				return 0, fmt.Errorf("file would exceed 4GB, too big for TIFF")
			}
			if _, err := w.Write(strip); err != nil {
				return 0, err
			}
			offsets = append(offsets, uint32(off))
			counts = append(counts, uint32(len(strip)))
			off += int64(len(strip))
		}
	}

	sf := uint16(SampleFormatFloat)
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(b.Dx())),
		longEntry(tagImageLength, uint32(b.Dy())),
		shortEntry(tagBitsPerSample, uint16(bps)),
		shortEntry(tagCompression, uint16(comp)),
		shortEntry(tagPhotometricInterpretation, 1), // BlackIsZero
		longEntry(tagStripOffsets, offsets...),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(rows)),
		longEntry(tagStripByteCounts, counts...),
		shortEntry(tagPlanarConfiguration, 1),
		shortEntry(tagPredictor, 1),
		shortEntry(tagSampleFormat, sf),
	}
	if opts.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(opts.NoData, 'g', -1, 64)))
	}
	entries = append(entries, georefEntries(opts.Georef)...)

	n, err := writeIFD(w, off, entries, order)
	if err != nil {
		return 0, err
	}
	return off + n, nil
}

func encodeStrip(vals []float64, bps int, comp Compression, level int) ([]byte, error) {
	raw := make([]byte, len(vals)*bps/8)
	for k, v := range vals {
		if bps == 64 {
			binary.LittleEndian.PutUint64(raw[8*k:], math.Float64bits(v))
		} else {
			binary.LittleEndian.PutUint32(raw[4*k:], math.Float32bits(float32(v)))
		}
	}
	if comp != CompressDeflate {
		return raw, nil
	}

	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TIFF field types
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	e := ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: make([]byte, 2*len(vals))}
	for i, v := range vals {
		binary.LittleEndian.PutUint16(e.data[2*i:], v)
	}
	return e
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	e := ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: make([]byte, 4*len(vals))}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(e.data[4*i:], v)
	}
	return e
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	e := ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: make([]byte, 8*len(vals))}
	for i, v := range vals {
		binary.LittleEndian.PutUint64(e.data[8*i:], math.Float64bits(v))
	}
	return e
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

func georefEntries(g *GeoReference) []ifdEntry {
	if g.empty() {
		return nil
	}
	entries := []ifdEntry{}
	if len(g.PixelScale) > 0 {
		entries = append(entries, doubleEntry(tagModelPixelScale, g.PixelScale...))
	}
	if len(g.Tiepoints) > 0 {
		entries = append(entries, doubleEntry(tagModelTiepoint, g.Tiepoints...))
	}
	if len(g.Transformation) > 0 {
		entries = append(entries, doubleEntry(tagModelTransformation, g.Transformation...))
	}
	if len(g.GeoKeys) > 0 {
		entries = append(entries, shortEntry(tagGeoKeyDirectory, g.GeoKeys...))
	}
	if len(g.GeoDoubles) > 0 {
		entries = append(entries, doubleEntry(tagGeoDoubleParams, g.GeoDoubles...))
	}
	if g.GeoASCII != "" {
		entries = append(entries, asciiEntry(tagGeoAsciiParams, g.GeoASCII))
	}
	return entries
}

// writeIFD appends the directory (and any values too big to live inside
// it) at offset off, then points the header at it. It returns the
// number of bytes appended.
func writeIFD(w fileWriter, off int64, entries []ifdEntry, order binary.ByteOrder) (int64, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	var buf bytes.Buffer
	if off%2 == 1 {
		buf.WriteByte(0) // IFDs start on a word boundary
	}
	ifdOff := off + int64(buf.Len())
	extOff := ifdOff + 2 + 12*int64(len(entries)) + 4

	var ext bytes.Buffer
	binary.Write(&buf, order, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, order, e.tag)
		binary.Write(&buf, order, e.typ)
		binary.Write(&buf, order, e.count)
		if len(e.data) <= 4 {
			val := make([]byte, 4)
			copy(val, e.data)
			buf.Write(val)
			continue
		}
		binary.Write(&buf, order, uint32(extOff+int64(ext.Len())))
		ext.Write(e.data)
		if ext.Len()%2 == 1 {
			ext.WriteByte(0)
		}
	}
	binary.Write(&buf, order, uint32(0)) // no next IFD
	buf.Write(ext.Bytes())

	if ifdOff+int64(buf.Len()) > math.MaxUint32 {
		return 0, fmt.Errorf("file would exceed 4GB, too big for TIFF")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return 0, err
	}

	ptr := make([]byte, 4)
	order.PutUint32(ptr, uint32(ifdOff))
	if _, err := w.WriteAt(ptr, 4); err != nil {
		return 0, err
	}

	return int64(buf.Len()), nil
}
