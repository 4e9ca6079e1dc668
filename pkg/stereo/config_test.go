package stereo

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/stereo-pprc/pkg/raster"
)

func TestConfigDefaults(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Finalize())

	assert.Equal(t, AlignAffineEpipolar, c.Alignment)
	assert.Equal(t, NormalizeGlobalRange, c.Normalization)
	assert.Equal(t, RangeEntire, c.Range)
	assert.Equal(t, raster.CompressDeflate, c.Codec)
	assert.Equal(t, DefaultOutputNoData, c.OutNoData)
	assert.Equal(t, DefaultRansacIterations, c.RansacIterations)
	assert.True(t, c.Workers > 0)
	assert.False(t, c.CroppingRequested())
	assert.True(t, c.ReuseMatchFile)
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "pprc.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(`
alignment-method: homography
left-image-crop-win: [1000, 2000, 4096, 4096]
right-image-crop-win: [1100, 1900, 4096, 4096]
individually-normalize: true
normalize-range: stddev
output-nodata: -9999
compression: none
adjust-left-image-size: true
`), 0644))

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, AlignHomography, c.Alignment)
	assert.Equal(t, NormalizePerImage, c.Normalization)
	assert.Equal(t, RangeStdDev, c.Range)
	assert.Equal(t, image.Rect(1000, 2000, 5096, 6096), c.LeftCrop)
	assert.Equal(t, image.Rect(1100, 1900, 5196, 5996), c.RightCrop)
	assert.True(t, c.CroppingRequested())
	assert.Equal(t, -9999.0, c.OutNoData)
	assert.Equal(t, raster.CompressNone, c.Codec)
	assert.True(t, c.AdjustLeftImageSize)

	assert.Contains(t, c.AsYaml(), "alignment-method: homography")
}

func TestLoadConfigBadYaml(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "pprc.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("alignment-method: [oops\n"), 0644))
	_, err := LoadConfig(filename)
	assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigFinalizeRejects(t *testing.T) {
	positive := 1.0
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"unknown method", func(c *Config) { c.AlignmentMethod = "magic" }},
		{"unknown range", func(c *Config) { c.NormalizeRange = "vibes" }},
		{"one crop window", func(c *Config) { c.LeftImageCropWin = []int{0, 0, 10, 10} }},
		{"short crop window", func(c *Config) {
			c.LeftImageCropWin = []int{0, 0, 10}
			c.RightImageCropWin = []int{0, 0, 10, 10}
		}},
		{"negative crop size", func(c *Config) {
			c.LeftImageCropWin = []int{0, 0, -10, 10}
			c.RightImageCropWin = []int{0, 0, 10, 10}
		}},
		{"output nodata in range", func(c *Config) { c.OutputNoData = &positive }},
		{"unknown compression", func(c *Config) { c.Compression = "lzw" }},
		{"compression level", func(c *Config) { c.CompressionLevel = 12 }},
		{"negative threshold", func(c *Config) { c.RansacInlierThreshold = -1 }},
		{"negative block rows", func(c *Config) { c.BlockRows = -1 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := NewConfig()
			test.edit(&c)
			err := c.Finalize()
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestZeroCropWindowsMeanNoCropping(t *testing.T) {
	c := NewConfig()
	c.LeftImageCropWin = []int{0, 0, 0, 0}
	c.RightImageCropWin = []int{0, 0, 0, 0}
	require.NoError(t, c.Finalize())
	assert.False(t, c.CroppingRequested())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "CHECK_CACHE", StateCheckCache.String())
	assert.Equal(t, "ESTIMATE_NODATA", StateEstimateNoData.String())
	assert.Equal(t, "DONE", StateDone.String())

	err := stageErr(StateAlign, ErrInsufficientCorrespondences)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateAlign, se.Stage)
	assert.True(t, errors.Is(err, ErrInsufficientCorrespondences))
	assert.Equal(t, "ALIGN: insufficient correspondences", err.Error())
}
