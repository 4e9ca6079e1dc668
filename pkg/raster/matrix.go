package raster

import (
	"fmt"

	"github.com/abworrall/stereo-pprc/pkg/emath"
)

// WriteMatrix stores a 3x3 matrix as a tiny 3x3 raster of float64s, so
// that it can be read back by anything that reads rasters.
func WriteMatrix(filename string, m emath.Mat3) (int64, error) {
	g := emath.NewFloatGridFrom(3, append([]float64(nil), m[:]...))
	return WriteFile(filename, NewMemory(g), WriteOptions{
		BitsPerSample: 64,
		Compression:   CompressNone,
		Workers:       1,
		BlockRows:     3,
	})
}

func ReadMatrix(filename string) (emath.Mat3, error) {
	rf, err := Open(filename)
	if err != nil {
		return emath.Mat3{}, err
	}
	defer rf.Close()

	if rf.Width != 3 || rf.Height != 3 {
		return emath.Mat3{}, fmt.Errorf("matrix '%s': expected 3x3, got %dx%d", filename, rf.Width, rf.Height)
	}
	g, err := rf.ReadBlock(rf.Bounds())
	if err != nil {
		return emath.Mat3{}, err
	}

	var m emath.Mat3
	copy(m[:], g.Values())
	return m, nil
}
