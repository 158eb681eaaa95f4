//go:build gocv
// +build gocv

package detect

import (
	"context"
	"image"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"kpmatch/internal/keypoint"
)

// ORBDetector wraps OpenCV's ORB. Descriptors are 32 bytes, one int per
// byte, so MetricHamming compares them bit by bit.
type ORBDetector struct {
	opts   Options
	logger golog.Logger
}

// NewORBDetector creates an ORB detector.
func NewORBDetector(opts Options, logger golog.Logger) *ORBDetector {
	if logger == nil {
		logger = golog.NewLogger("detect")
	}
	return &ORBDetector{opts: opts, logger: logger}
}

// Detect runs ORB on a grayscale copy of img.
func (d *ORBDetector) Detect(ctx context.Context, img image.Image, threshold int, upright bool) (*keypoint.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "converting image")
	}
	defer rgb.Close()
	if rgb.Empty() {
		return nil, errors.New("empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)

	orb := gocv.NewORB()
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := orb.DetectAndCompute(gray, mask)
	defer desc.Close()

	// Strongest first so MaxFeatures keeps the best ones; ties keep
	// detection order.
	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return kps[order[a]].Response > kps[order[b]].Response })

	set := newSet(d.opts.ID, img, len(kps))
	for _, i := range order {
		if d.opts.MaxFeatures > 0 && set.Len() >= d.opts.MaxFeatures {
			break
		}
		kp := kps[i]
		value := int(kp.Response * responseScale)
		if value < threshold || i >= desc.Rows() {
			continue
		}
		descriptor := make(keypoint.Descriptor, desc.Cols())
		for c := range descriptor {
			descriptor[c] = int(desc.GetUCharAt(i, c))
		}
		angle := 0
		if !upright && kp.Angle >= 0 {
			angle = int(kp.Angle + 0.5)
		}
		if _, err := set.Append(keypoint.Keypoint{
			X:          kp.X,
			Y:          kp.Y,
			Scale:      int(kp.Size/2 + 0.5),
			Angle:      angle,
			Value:      value,
			Descriptor: descriptor,
		}); err != nil {
			return nil, err
		}
	}
	d.logger.Debugw("orb detection", "raw", len(kps), "kept", set.Len(), "threshold", threshold)
	return set, nil
}
