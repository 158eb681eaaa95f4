package keypoint

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/steakknife/hamming"
)

// ErrUnknownMetric is returned by ParseMetric.
var ErrUnknownMetric = errors.New("unknown descriptor metric")

// Metric selects how two descriptors are compared.
type Metric int

const (
	// MetricSAD is the sum of absolute differences.
	MetricSAD Metric = iota
	// MetricSquaredEuclidean is the sum of squared differences.
	MetricSquaredEuclidean
	// MetricHamming counts differing bits, for binary descriptors packed
	// into integers.
	MetricHamming
)

var metricNames = map[Metric]string{
	MetricSAD:              "sad",
	MetricSquaredEuclidean: "euclidean",
	MetricHamming:          "hamming",
}

// String returns the configuration name of the metric.
func (m Metric) String() string {
	if s, ok := metricNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMetric parses a configuration name.
func ParseMetric(s string) (Metric, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range metricNames {
		if name == s {
			return m, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownMetric, "%q", s)
}

// Distance compares two descriptors of equal length.
func (m Metric) Distance(a, b Descriptor) int {
	var d int
	switch m {
	case MetricSquaredEuclidean:
		for i := range a {
			x := a[i] - b[i]
			d += x * x
		}
	case MetricHamming:
		for i := range a {
			d += hamming.CountBitsInt(a[i] ^ b[i])
		}
	default:
		for i := range a {
			d += absInt(a[i] - b[i])
		}
	}
	return d
}

// Separable reports whether the distance is a sum of per-component terms
// that grow with the absolute component difference. Only separable metrics
// can bound a k-d tree cell.
func (m Metric) Separable() bool {
	return m == MetricSAD || m == MetricSquaredEuclidean
}

// Term is the contribution of one component difference to the distance.
// Only meaningful for separable metrics.
func (m Metric) Term(diff int) int {
	if m == MetricSquaredEuclidean {
		return diff * diff
	}
	return absInt(diff)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
