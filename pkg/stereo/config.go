package stereo

import (
	"fmt"
	"image"
	"io/ioutil"
	"math"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/stereo-pprc/pkg/raster"
)

/* Example config file ...

alignment-method: homography
left-image-crop-win: [1000, 2000, 4096, 4096]
right-image-crop-win: [1100, 1900, 4096, 4096]
individually-normalize: false
normalize-range: stddev
output-nodata: -32768
compression: deflate
adjust-left-image-size: true
verbosity: 1

*/

type AlignmentMethod int

const (
	AlignNone AlignmentMethod = iota
	AlignHomography
	AlignAffineEpipolar
	AlignEpipolar // recognized, but not something we can do
)

func (a AlignmentMethod) String() string {
	switch a {
	case AlignNone:
		return "none"
	case AlignHomography:
		return "homography"
	case AlignAffineEpipolar:
		return "affineepipolar"
	case AlignEpipolar:
		return "epipolar"
	default:
		return fmt.Sprintf("AlignmentMethod(%d)", int(a))
	}
}

// MinCorrespondences is how many interest point pairs the method needs.
func (a AlignmentMethod) MinCorrespondences() int {
	switch a {
	case AlignHomography:
		return 4
	case AlignAffineEpipolar:
		return 3
	default:
		return 0
	}
}

type NormalizePolicy int

const (
	NormalizeGlobalRange NormalizePolicy = iota
	NormalizePerImage
)

func (n NormalizePolicy) String() string {
	if n == NormalizePerImage {
		return "per-image"
	}
	return "global-range"
}

// RangeMode is how the (lo,hi) range that maps onto [0,1] is picked
// from an image's statistics.
type RangeMode int

const (
	RangeEntire     RangeMode = iota // min to max
	RangeStdDev                      // mean +/- 2 stddev, inside min/max
	RangePercentile                  // 2nd to 98th percentile
)

func (r RangeMode) String() string {
	switch r {
	case RangeStdDev:
		return "stddev"
	case RangePercentile:
		return "percentile"
	default:
		return "entire"
	}
}

const (
	DefaultOutputNoData     = -32768.0
	DefaultRansacIterations = 100
)

type Config struct {
	AlignmentMethod       string   `yaml:"alignment-method"`
	LeftImageCropWin      []int    `yaml:"left-image-crop-win,flow"`
	RightImageCropWin     []int    `yaml:"right-image-crop-win,flow"`
	IndividuallyNormalize bool     `yaml:"individually-normalize"`
	NormalizeRange        string   `yaml:"normalize-range"`
	NoDataValue           *float64 `yaml:"nodata-value,omitempty"` // overrides whatever the input files say
	OutputNoData          *float64 `yaml:"output-nodata,omitempty"`
	Compression           string   `yaml:"compression"`
	CompressionLevel      int      `yaml:"compression-level"`
	AdjustLeftImageSize   bool     `yaml:"adjust-left-image-size"`
	RansacIterations      int      `yaml:"ransac-iterations"`
	RansacInlierThreshold float64  `yaml:"ransac-inlier-threshold"` // pixels; 0 means 1% of the left image diagonal
	Workers               int      `yaml:"workers"`
	BlockRows             int      `yaml:"block-rows"`
	Verbosity             int      `yaml:"verbosity"`
	ReuseMatchFile        bool     `yaml:"reuse-match-file"`

	// Values we figure out in Finalize, for the rest of the app
	Alignment     AlignmentMethod    `yaml:"-"`
	Normalization NormalizePolicy    `yaml:"-"`
	Range         RangeMode          `yaml:"-"`
	LeftCrop      image.Rectangle    `yaml:"-"`
	RightCrop     image.Rectangle    `yaml:"-"`
	Codec         raster.Compression `yaml:"-"`
	OutNoData     float64            `yaml:"-"`
	finalized     bool
}

func NewConfig() Config {
	return Config{
		AlignmentMethod:  "affineepipolar",
		NormalizeRange:   "entire",
		Compression:      "deflate",
		RansacIterations: DefaultRansacIterations,
		ReuseMatchFile:   true,
	}
}

func LoadConfig(filename string) (Config, error) {
	c := NewConfig()

	if contents, err := ioutil.ReadFile(filename); err != nil {
		return c, fmt.Errorf("read '%s': %v", filename, err)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("%w: parse '%s': %v", ErrConfiguration, filename, err)
	}

	return c, c.Finalize()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Finalize fills in defaults, turns names into values, and rejects
// configurations that make no sense.
func (c *Config) Finalize() error {
	switch c.AlignmentMethod {
	case "none":
		c.Alignment = AlignNone
	case "homography":
		c.Alignment = AlignHomography
	case "affineepipolar", "":
		c.Alignment = AlignAffineEpipolar
	case "epipolar":
		c.Alignment = AlignEpipolar
	default:
		return fmt.Errorf("%w: no alignment-method named '%s'", ErrConfiguration, c.AlignmentMethod)
	}

	c.Normalization = NormalizeGlobalRange
	if c.IndividuallyNormalize {
		c.Normalization = NormalizePerImage
	}

	switch c.NormalizeRange {
	case "entire", "":
		c.Range = RangeEntire
	case "stddev":
		c.Range = RangeStdDev
	case "percentile":
		c.Range = RangePercentile
	default:
		return fmt.Errorf("%w: no normalize-range named '%s'", ErrConfiguration, c.NormalizeRange)
	}

	var err error
	if c.LeftCrop, err = parseCropWin("left-image-crop-win", c.LeftImageCropWin); err != nil {
		return err
	}
	if c.RightCrop, err = parseCropWin("right-image-crop-win", c.RightImageCropWin); err != nil {
		return err
	}
	if c.LeftCrop.Empty() != c.RightCrop.Empty() {
		return fmt.Errorf("%w: crop windows must be given for both images, or neither", ErrConfiguration)
	}

	c.OutNoData = DefaultOutputNoData
	if c.OutputNoData != nil {
		c.OutNoData = *c.OutputNoData
	}
	if !(c.OutNoData < 0) {
		return fmt.Errorf("%w: output-nodata %g must be negative, outside [0,1]", ErrConfiguration, c.OutNoData)
	}
	if c.NoDataValue != nil && math.IsInf(*c.NoDataValue, 1) {
		return fmt.Errorf("%w: nodata-value +Inf would mask everything", ErrConfiguration)
	}

	switch c.Compression {
	case "none":
		c.Codec = raster.CompressNone
	case "deflate", "":
		c.Codec = raster.CompressDeflate
	default:
		return fmt.Errorf("%w: no compression named '%s'", ErrConfiguration, c.Compression)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression-level %d not in [0,9]", ErrConfiguration, c.CompressionLevel)
	}

	if c.RansacIterations <= 0 {
		c.RansacIterations = DefaultRansacIterations
	}
	if c.RansacInlierThreshold < 0 {
		return fmt.Errorf("%w: ransac-inlier-threshold %g is negative", ErrConfiguration, c.RansacInlierThreshold)
	}
	if c.Workers <= 0 {
		c.Workers = raster.DefaultWorkers()
	}
	if c.BlockRows < 0 {
		return fmt.Errorf("%w: block-rows %d is negative", ErrConfiguration, c.BlockRows)
	}

	c.finalized = true
	return nil
}

// parseCropWin turns [x, y, width, height] into a rectangle. No window,
// or one with zero area, is the empty rectangle: no cropping.
func parseCropWin(name string, win []int) (image.Rectangle, error) {
	if len(win) == 0 {
		return image.Rectangle{}, nil
	}
	if len(win) != 4 {
		return image.Rectangle{}, fmt.Errorf("%w: %s wants [x, y, width, height], got %v", ErrConfiguration, name, win)
	}
	if win[2] < 0 || win[3] < 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %s has negative size %v", ErrConfiguration, name, win)
	}
	if win[2] == 0 || win[3] == 0 {
		return image.Rectangle{}, nil
	}
	return image.Rect(win[0], win[1], win[0]+win[2], win[1]+win[3]), nil
}

func (c Config) CroppingRequested() bool {
	return !c.LeftCrop.Empty() && !c.RightCrop.Empty()
}

// outputOptions are the write options for the final L and R rasters.
func (c Config) outputOptions(georef *raster.GeoReference) raster.WriteOptions {
	return raster.WriteOptions{
		HasNoData:        true,
		NoData:           c.OutNoData,
		Compression:      c.Codec,
		CompressionLevel: c.CompressionLevel,
		Georef:           georef,
		Workers:          c.Workers,
		BlockRows:        c.BlockRows,
	}
}
