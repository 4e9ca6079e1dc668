package stereo

import (
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// IsCached says whether a previous run's outputs can be used as they
// are. Both need to be readable and complete, and any cropping means
// they were made for different inputs.
func IsCached(leftOutput, rightOutput string, croppingRequested bool) bool {
	if croppingRequested {
		return false
	}
	for _, filename := range []string{leftOutput, rightOutput} {
		if st, _ := raster.Validate(filename); st != raster.Ok {
			return false
		}
	}
	return true
}
