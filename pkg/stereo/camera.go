package stereo

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// A Camera is an opaque camera model. The alignment code never looks
// inside; it only passes cameras on to the interest point matcher,
// which may use them to constrain its search.
type Camera interface {
	// Project maps a ground point to a pixel.
	Project(ground r3.Vector) (r2.Point, error)

	// PixelToRay returns the ray, in ground coordinates, that images onto
	// the pixel.
	PixelToRay(pixel r2.Point) (origin, dir r3.Vector, err error)
}

// An InterestPointPair is a pixel in the left image and the pixel in the
// right image that is believed to see the same feature. Both are in the
// frames of the (possibly cropped) images handed to the matcher.
type InterestPointPair struct {
	Left, Right r2.Point
}

type MatchRequest struct {
	LeftImage, RightImage   string
	LeftNoData, RightNoData float64
	LeftCamera, RightCamera Camera // may be nil
}

// An InterestPointMatcher finds correspondences between two images.
type InterestPointMatcher interface {
	Match(ctx context.Context, req MatchRequest) ([]InterestPointPair, error)
}
