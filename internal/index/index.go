// Package index provides nearest-neighbour search over keypoint descriptors.
//
// Two strategies implement NearestNeighborIndex: BruteForce scans every
// indexed descriptor, KdTree runs a best-bin-first search bounded by a
// leaf-visit budget. Both order results by (distance, set, index), so an
// unbounded k-d tree search returns exactly what the brute-force scan does.
// Indexes are immutable once built and safe for concurrent queries.
package index

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"kpmatch/internal/keypoint"
)

var (
	// ErrIndexEmpty is returned by Nearest when the index holds no points.
	ErrIndexEmpty = errors.New("index is empty")
	// ErrUnsupportedMetric is returned when a k-d tree is asked to use a
	// metric it cannot bound.
	ErrUnsupportedMetric = errors.New("metric not supported by k-d tree")
	// ErrUnknownKind is returned by ParseKind.
	ErrUnknownKind = errors.New("unknown index kind")
)

// Kind names an index strategy.
type Kind string

const (
	KindBruteForce Kind = "brute"
	KindKdTree     Kind = "kdtree"
)

// ParseKind parses a configuration name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBruteForce, KindKdTree:
		return k, nil
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Neighbor is one query result.
type Neighbor struct {
	Ref      keypoint.Ref
	Distance int
}

func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Ref.Less(b.Ref)
}

// NearestNeighborIndex answers k-nearest-neighbour queries over the
// descriptors of one or more keypoint sets.
type NearestNeighborIndex interface {
	// Query returns up to k neighbours ordered by increasing distance.
	// An empty result means no match.
	Query(d keypoint.Descriptor, k int) []Neighbor
	// Len returns the number of indexed keypoints.
	Len() int
	// Dim returns the descriptor length, 0 when empty.
	Dim() int
	Metric() keypoint.Metric
	// Sets returns the indexed sets; Ref.Set indexes into this slice.
	Sets() []*keypoint.Set
	// Keypoint resolves a reference returned by Query.
	Keypoint(r keypoint.Ref) keypoint.Keypoint
}

// New builds an index of the given kind. checkLimit only applies to k-d
// trees; 0 means unbounded.
func New(kind Kind, metric keypoint.Metric, checkLimit int, sets ...*keypoint.Set) (NearestNeighborIndex, error) {
	switch kind {
	case KindBruteForce, "":
		return NewBruteForce(metric, sets...)
	case KindKdTree:
		return NewKdTree(metric, checkLimit, sets...)
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
}

// Nearest returns the single closest keypoint, or ErrIndexEmpty.
func Nearest(idx NearestNeighborIndex, d keypoint.Descriptor) (Neighbor, error) {
	res := idx.Query(d, 1)
	if len(res) == 0 {
		return Neighbor{}, ErrIndexEmpty
	}
	return res[0], nil
}

// pool flattens the indexed sets into one list of references.
type pool struct {
	metric keypoint.Metric
	sets   []*keypoint.Set
	refs   []keypoint.Ref
	dim    int
}

func newPool(metric keypoint.Metric, sets []*keypoint.Set) (pool, error) {
	p := pool{metric: metric, sets: sets}
	for si, s := range sets {
		if s == nil || s.Len() == 0 {
			continue
		}
		if p.dim == 0 {
			p.dim = s.DescriptorLen()
		} else if s.DescriptorLen() != p.dim {
			return pool{}, errors.Wrapf(keypoint.ErrDimensionMismatch,
				"set %d has descriptors of length %d, want %d", si, s.DescriptorLen(), p.dim)
		}
		for i := 0; i < s.Len(); i++ {
			p.refs = append(p.refs, keypoint.Ref{Set: si, Index: i})
		}
	}
	return p, nil
}

func (p *pool) descriptor(r keypoint.Ref) keypoint.Descriptor {
	return p.sets[r.Set].At(r.Index).Descriptor
}

func (p *pool) Len() int                                  { return len(p.refs) }
func (p *pool) Dim() int                                  { return p.dim }
func (p *pool) Metric() keypoint.Metric                   { return p.metric }
func (p *pool) Sets() []*keypoint.Set                     { return p.sets }
func (p *pool) Keypoint(r keypoint.Ref) keypoint.Keypoint { return p.sets[r.Set].At(r.Index) }

// kBest keeps the k closest neighbours seen so far, sorted.
type kBest struct {
	k     int
	items []Neighbor
}

func newKBest(k int) *kBest {
	return &kBest{k: k, items: make([]Neighbor, 0, k)}
}

func (b *kBest) full() bool {
	return len(b.items) == b.k
}

// worst returns the k-th distance; only valid when full.
func (b *kBest) worst() int {
	return b.items[len(b.items)-1].Distance
}

func (b *kBest) offer(n Neighbor) {
	if b.full() {
		if !closer(n, b.items[len(b.items)-1]) {
			return
		}
		b.items = b.items[:len(b.items)-1]
	}
	pos := sort.Search(len(b.items), func(i int) bool { return closer(n, b.items[i]) })
	b.items = append(b.items, Neighbor{})
	copy(b.items[pos+1:], b.items[pos:])
	b.items[pos] = n
}
