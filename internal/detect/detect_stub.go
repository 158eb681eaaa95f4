//go:build !gocv
// +build !gocv

package detect

import (
	"context"
	"image"

	"github.com/edaniels/golog"

	"kpmatch/internal/keypoint"
)

// ORBDetector is unavailable without the gocv build tag.
type ORBDetector struct {
	opts   Options
	logger golog.Logger
}

// NewORBDetector returns a detector that always fails with
// ErrDetectorUnavailable.
func NewORBDetector(opts Options, logger golog.Logger) *ORBDetector {
	if logger == nil {
		logger = golog.NewLogger("detect")
	}
	return &ORBDetector{opts: opts, logger: logger}
}

// Detect returns ErrDetectorUnavailable.
func (d *ORBDetector) Detect(ctx context.Context, img image.Image, threshold int, upright bool) (*keypoint.Set, error) {
	d.logger.Debugw("detector requested without opencv support", "threshold", threshold, "upright", upright)
	return nil, ErrDetectorUnavailable
}
