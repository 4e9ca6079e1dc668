package stereo

import (
	"math"

	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// DefaultNoData is the sentinel used for inputs that don't declare one.
// Since the predicate is "<=", it only masks out the most negative
// float32 (and -Inf).
const DefaultNoData = -math.MaxFloat32

// EstimateNoData works out the no-data sentinel of each input, from the
// file metadata alone. A non-nil override wins for both images.
func EstimateNoData(leftPath, rightPath string, override *float64) (left, right float64, err error) {
	if left, err = estimateOne(leftPath, override); err != nil {
		return 0, 0, err
	}
	if right, err = estimateOne(rightPath, override); err != nil {
		return 0, 0, err
	}
	return left, right, nil
}

func estimateOne(filename string, override *float64) (float64, error) {
	info, err := raster.ReadInfo(filename)
	if err != nil {
		return 0, ioErr(err)
	}
	if override != nil {
		return *override, nil
	}
	if info.HasNoData {
		return info.NoData, nil
	}
	return DefaultNoData, nil
}
