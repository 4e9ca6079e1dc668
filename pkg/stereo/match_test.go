package stereo

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// writeInput writes a float raster made by fn, backdated an hour so
// that anything a test writes afterwards is clearly newer.
func writeInput(t *testing.T, filename string, w, h int, fn func(x, y int) float64, opts raster.WriteOptions) string {
	t.Helper()
	g := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, fn(x, y))
		}
	}
	_, err := raster.WriteFile(filename, raster.NewMemory(g), opts)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filename, old, old))
	return filename
}

func TestMatchFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pairs := []InterestPointPair{
		{Left: r2.Point{X: 512.25, Y: 130.5}, Right: r2.Point{X: 498.75, Y: 131}},
		{Left: r2.Point{X: 1020, Y: 877.5}, Right: r2.Point{X: 1003.5, Y: 880.25}},
	}

	filename := MatchFilename(filepath.Join(dir, "run"), "/data/left.tif", "/data/right.tif")
	assert.Equal(t, filepath.Join(dir, "run-left__right.match"), filename)

	require.NoError(t, WriteMatchFile(filename, NewMatchFile("left.tif", "right.tif", pairs)))
	mf, err := ReadMatchFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "left.tif", mf.LeftImage)
	assert.Equal(t, pairs, mf.InterestPointPairs())

	got, err := MatchFileMatcher{Path: filename}.Match(context.Background(), MatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, pairs, got)

	_, err = MatchFileMatcher{Path: filepath.Join(dir, "missing.match")}.Match(context.Background(), MatchRequest{})
	assert.Error(t, err)
}

func TestWriteMatchFileConcurrently(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "run-left__right.match")
	pairs := []InterestPointPair{{Left: r2.Point{X: 1, Y: 2}, Right: r2.Point{X: 3, Y: 4}}}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = WriteMatchFile(filename, NewMatchFile("left.tif", "right.tif", pairs))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	mf, err := ReadMatchFile(filename)
	require.NoError(t, err)
	assert.Equal(t, pairs, mf.InterestPointPairs())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files left behind")
	st, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), st.Mode().Perm())
}

func TestIsFresh(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, filepath.Join(dir, "in.tif"), 2, 2, func(x, y int) float64 { return 1 }, raster.WriteOptions{})
	match := filepath.Join(dir, "x.match")

	assert.False(t, isFresh(match, in))
	require.NoError(t, WriteMatchFile(match, MatchFile{}))
	assert.True(t, isFresh(match, in))
	assert.False(t, isFresh(match, in, filepath.Join(dir, "missing.tif")))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(in, later, later))
	assert.False(t, isFresh(match, in))
}

func TestEstimateNoData(t *testing.T) {
	dir := t.TempDir()
	one := func(x, y int) float64 { return 1 }
	tagged := writeInput(t, filepath.Join(dir, "tagged.tif"), 4, 4, one, raster.WriteOptions{HasNoData: true, NoData: -9999})
	plain := writeInput(t, filepath.Join(dir, "plain.tif"), 4, 4, one, raster.WriteOptions{})

	l, r, err := EstimateNoData(tagged, plain, nil)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, l)
	assert.Equal(t, DefaultNoData, r)

	override := -5.0
	l, r, err = EstimateNoData(tagged, plain, &override)
	require.NoError(t, err)
	assert.Equal(t, -5.0, l)
	assert.Equal(t, -5.0, r)

	_, _, err = EstimateNoData(tagged, filepath.Join(dir, "missing.tif"), nil)
	assert.True(t, errors.Is(err, ErrIO), "got %v", err)
}

func TestCrop(t *testing.T) {
	dir := t.TempDir()
	filename := writeInput(t, filepath.Join(dir, "in.tif"), 40, 30, func(x, y int) float64 { return float64(x + 100*y) },
		raster.WriteOptions{
			HasNoData: true,
			NoData:    -1,
			Georef: &raster.GeoReference{
				PixelScale: []float64{2, 2, 0},
				Tiepoints:  []float64{0, 0, 0, 1000, 5000, 0},
			},
		})
	src, err := raster.Open(filename)
	require.NoError(t, err)
	defer src.Close()

	same, err := Crop(src, image.Rectangle{}, filepath.Join(dir, "never.tif"), raster.WriteOptions{})
	require.NoError(t, err)
	assert.Same(t, src, same)
	assert.NoFileExists(t, filepath.Join(dir, "never.tif"))

	// Hangs off the right and bottom; gets clamped.
	out := filepath.Join(dir, "out-L-cropped.tif")
	cropped, err := Crop(src, image.Rect(30, 25, 60, 60), out, raster.WriteOptions{Workers: 2})
	require.NoError(t, err)
	defer cropped.Close()

	assert.Equal(t, image.Rect(0, 0, 10, 5), cropped.Bounds())
	assert.True(t, cropped.HasNoData)
	assert.Equal(t, -1.0, cropped.NoData)
	require.NotNil(t, cropped.Georef)
	assert.Equal(t, []float64{-30, -25, 0, 1000, 5000, 0}, cropped.Georef.Tiepoints)

	g, err := cropped.ReadBlock(cropped.Bounds())
	require.NoError(t, err)
	assert.Equal(t, float64(30+100*25), g.Get(0, 0))
	assert.Equal(t, float64(39+100*29), g.Get(9, 4))

	_, err = Crop(src, image.Rect(100, 100, 120, 120), filepath.Join(dir, "x.tif"), raster.WriteOptions{})
	assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
}

func TestIsCached(t *testing.T) {
	dir := t.TempDir()
	one := func(x, y int) float64 { return 1 }
	l := writeInput(t, filepath.Join(dir, "out-L.tif"), 8, 8, one, raster.WriteOptions{})
	r := filepath.Join(dir, "out-R.tif")

	assert.False(t, IsCached(l, r, false), "right is missing")

	writeInput(t, r, 8, 8, one, raster.WriteOptions{Compression: raster.CompressDeflate})
	assert.True(t, IsCached(l, r, false))
	assert.False(t, IsCached(l, r, true), "cropping always recomputes")

	contents, err := os.ReadFile(r)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r, contents[:len(contents)/2], 0644))
	assert.False(t, IsCached(l, r, false), "truncated output")
}
