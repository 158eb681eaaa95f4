package index

import (
	"kpmatch/internal/keypoint"
)

// BruteForce compares the query against every indexed descriptor.
type BruteForce struct {
	pool
}

// NewBruteForce indexes the given sets. Empty or nil sets are skipped.
func NewBruteForce(metric keypoint.Metric, sets ...*keypoint.Set) (*BruteForce, error) {
	p, err := newPool(metric, sets)
	if err != nil {
		return nil, err
	}
	return &BruteForce{pool: p}, nil
}

// Query implements NearestNeighborIndex.
func (b *BruteForce) Query(d keypoint.Descriptor, k int) []Neighbor {
	if k <= 0 || len(b.refs) == 0 || len(d) != b.dim {
		return nil
	}
	best := newKBest(k)
	for _, r := range b.refs {
		best.offer(Neighbor{Ref: r, Distance: b.metric.Distance(d, b.descriptor(r))})
	}
	return best.items
}
