// Package detect turns images into keypoint sets.
package detect

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"kpmatch/internal/keypoint"
)

// ErrDetectorUnavailable is returned when the binary was built without an
// OpenCV backend.
var ErrDetectorUnavailable = errors.New("keypoint detector not available in this build (rebuild with -tags gocv)")

// Detector finds keypoints and computes their descriptors.
//
// threshold drops weak responses: a keypoint is kept when its Value is at
// least threshold. upright disables orientation, every Angle is then 0.
type Detector interface {
	Detect(ctx context.Context, img image.Image, threshold int, upright bool) (*keypoint.Set, error)
}

// Options configures a detector.
type Options struct {
	// ID is assigned to the produced set.
	ID int
	// MaxFeatures bounds the number of keypoints, 0 for the backend default.
	MaxFeatures int
}

// DefaultOptions returns the detector defaults.
func DefaultOptions() Options {
	return Options{MaxFeatures: 500}
}

// responseScale converts floating point detector responses to Keypoint.Value.
const responseScale = 1e6

// newSet prepares an empty set sized for img with the centre of the picture
// as reference point.
func newSet(id int, img image.Image, capacity int) *keypoint.Set {
	b := img.Bounds()
	s := keypoint.NewSet(id, capacity)
	s.Width, s.Height = b.Dx(), b.Dy()
	s.CX, s.CY = float64(b.Dx())/2, float64(b.Dy())/2
	return s
}

var _ Detector = (*ORBDetector)(nil)
