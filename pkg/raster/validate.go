package raster

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

type Status int

const (
	Missing Status = iota
	Corrupt
	Ok
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Corrupt:
		return "corrupt"
	case Ok:
		return "ok"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Validate decides whether filename holds a complete float raster, as
// written by WriteFile. The error, if any, says what was wrong with it;
// it is informational, the Status is the answer.
func Validate(filename string) (Status, error) {
	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return Missing, nil
	} else if err != nil {
		return Corrupt, fmt.Errorf("open+r '%s': %v", filename, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Corrupt, fmt.Errorf("stat '%s': %v", filename, err)
	}

	d, err := readDirectory(f, st.Size())
	if err != nil {
		return Corrupt, fmt.Errorf("'%s': %v", filename, err)
	}

	if d.sampleFormat != SampleFormatFloat || (d.bitsPerSample != 32 && d.bitsPerSample != 64) {
		return Corrupt, fmt.Errorf("'%s': not a float raster (format %d, %d bits)", filename, d.sampleFormat, d.bitsPerSample)
	}
	if !canReadStrips(d) {
		return Corrupt, fmt.Errorf("'%s': unexpected layout", filename)
	}

	for i := range d.stripOffsets {
		if d.stripOffsets[i] < 8 || d.stripCounts[i] <= 0 || d.stripOffsets[i]+d.stripCounts[i] > st.Size() {
			return Corrupt, fmt.Errorf("'%s': strip %d [%d+%d] outside file of %d bytes", filename, i, d.stripOffsets[i], d.stripCounts[i], st.Size())
		}
		if d.compression == CompressNone && d.stripCounts[i] < int64(d.stripBytes(i)) {
			return Corrupt, fmt.Errorf("'%s': strip %d short", filename, i)
		}
	}

	// Every strip has to inflate to exactly its own size, and pass its
	// checksum; parsing the directory alone says nothing about the data.
	if d.compression != CompressNone {
		var raw []byte
		for i := range d.stripOffsets {
			n := int(d.stripCounts[i])
			if cap(raw) < n {
				raw = make([]byte, n)
			}
			raw = raw[:n]
			if _, err := f.ReadAt(raw, d.stripOffsets[i]); err != nil && err != io.EOF {
				return Corrupt, fmt.Errorf("'%s': %v", filename, err)
			}
			if err := checkInflates(raw, d.stripBytes(i)); err != nil {
				return Corrupt, fmt.Errorf("'%s': strip %d: %v", filename, i, err)
			}
		}
	}

	return Ok, nil
}

func checkInflates(raw []byte, want int) error {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer zr.Close()

	if n, err := io.CopyN(io.Discard, zr, int64(want)); err != nil {
		return fmt.Errorf("inflated %d of %d bytes: %v", n, want, err)
	}
	// Reading on to the end is what verifies the checksum.
	if _, err := io.ReadFull(zr, make([]byte, 1)); err != io.EOF {
		if err == nil {
			return fmt.Errorf("longer than %d bytes", want)
		}
		return err
	}
	return nil
}
