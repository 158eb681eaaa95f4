// Package keypoint holds detected interest points and their descriptors.
//
// A Set is append-only: keypoints keep the position they were appended at
// for the whole life of the set, so callers may refer to them by index.
package keypoint

import (
	"iter"

	"github.com/pkg/errors"

	"kpmatch/pkg/geometry"
)

var (
	// ErrDimensionMismatch is returned when descriptors of different lengths meet.
	ErrDimensionMismatch = errors.New("descriptor length mismatch")
	// ErrEmptyDescriptor is returned when a keypoint carries no descriptor.
	ErrEmptyDescriptor = errors.New("empty descriptor")
)

// Descriptor is a fixed-length feature vector describing the appearance
// around a keypoint.
type Descriptor []int

// Clone returns an independent copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Keypoint is a single interest point.
type Keypoint struct {
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Scale      int        `json:"scale"`
	Angle      int        `json:"angle"` // degrees, 0 when upright
	Value      int        `json:"value"` // detector response
	Descriptor Descriptor `json:"descriptor"`
}

// Point returns the keypoint position.
func (k Keypoint) Point() geometry.Point2D {
	return geometry.Point2D{X: k.X, Y: k.Y}
}

// Ref locates a keypoint inside an ordered collection of sets.
type Ref struct {
	Set   int `json:"set"`
	Index int `json:"index"`
}

// Less orders refs by set then index.
func (r Ref) Less(o Ref) bool {
	if r.Set != o.Set {
		return r.Set < o.Set
	}
	return r.Index < o.Index
}

// Set is an ordered collection of keypoints detected on one image.
type Set struct {
	// ID groups sets that describe the same model; several views of one
	// object share an ID.
	ID     int
	Width  int
	Height int
	// CX, CY is the reference centre of the object, used for box overlays.
	CX, CY float64

	points []Keypoint
	dim    int
}

// NewSet creates an empty set. capacity is a hint, appending past it grows
// the set.
func NewSet(id, capacity int) *Set {
	if capacity < 0 {
		capacity = 0
	}
	return &Set{ID: id, points: make([]Keypoint, 0, capacity)}
}

// Append adds a keypoint and returns its index. The descriptor is copied.
func (s *Set) Append(k Keypoint) (int, error) {
	if len(k.Descriptor) == 0 {
		return -1, ErrEmptyDescriptor
	}
	if len(s.points) == 0 {
		s.dim = len(k.Descriptor)
	} else if len(k.Descriptor) != s.dim {
		return -1, errors.Wrapf(ErrDimensionMismatch, "set %d: got %d, want %d", s.ID, len(k.Descriptor), s.dim)
	}
	k.Descriptor = k.Descriptor.Clone()
	s.points = append(s.points, k)
	return len(s.points) - 1, nil
}

// MustAppend is Append for callers that construct descriptors themselves.
func (s *Set) MustAppend(k Keypoint) int {
	i, err := s.Append(k)
	if err != nil {
		panic(err)
	}
	return i
}

// Len returns the number of keypoints. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// Cap returns the current capacity.
func (s *Set) Cap() int {
	return cap(s.points)
}

// DescriptorLen returns the descriptor length shared by every keypoint,
// or 0 for an empty set.
func (s *Set) DescriptorLen() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// At returns the keypoint at index i. The returned descriptor must not be
// modified.
func (s *Set) At(i int) Keypoint {
	return s.points[i]
}

// All iterates over keypoints in detection order.
func (s *Set) All() iter.Seq2[int, Keypoint] {
	return func(yield func(int, Keypoint) bool) {
		for i, k := range s.points {
			if !yield(i, k) {
				return
			}
		}
	}
}

// Points returns the positions of all keypoints in detection order.
func (s *Set) Points() []geometry.Point2D {
	out := make([]geometry.Point2D, len(s.points))
	for i, k := range s.points {
		out[i] = k.Point()
	}
	return out
}

// Center returns the reference centre.
func (s *Set) Center() geometry.Point2D {
	return geometry.Point2D{X: s.CX, Y: s.CY}
}

// Box returns the model outline: Width x Height centred on the reference
// centre.
func (s *Set) Box() geometry.Rect {
	return geometry.CenteredRect(s.Center(), float64(s.Width), float64(s.Height))
}
