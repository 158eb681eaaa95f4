package index

import (
	"container/heap"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"kpmatch/internal/keypoint"
)

const leafAxis = -1

// kdNode is one node of the tree arena. Leaves hold exactly one keypoint.
type kdNode struct {
	axis        int // leafAxis for leaves
	split       int
	left, right int32
	ref         int32 // index into pool.refs, leaves only
}

// KdTree is a k-d tree over descriptors. The split axis of each node is the
// component with the greatest variance among the node's points, the split
// value the median of that component.
type KdTree struct {
	pool
	nodes      []kdNode
	checkLimit int
}

// QueryStats reports the work done by one k-d tree query.
type QueryStats struct {
	LeavesVisited int
	// Truncated is set when the check limit stopped the search before the
	// result was proven exact.
	Truncated bool
}

// NewKdTree builds a tree over the given sets. checkLimit bounds the number
// of leaves a query may visit; 0 means unbounded (exact search).
func NewKdTree(metric keypoint.Metric, checkLimit int, sets ...*keypoint.Set) (*KdTree, error) {
	if !metric.Separable() {
		return nil, errors.Wrapf(ErrUnsupportedMetric, "%s", metric)
	}
	p, err := newPool(metric, sets)
	if err != nil {
		return nil, err
	}
	if checkLimit < 0 {
		checkLimit = 0
	}
	t := &KdTree{pool: p, checkLimit: checkLimit}
	if len(p.refs) == 0 {
		return t, nil
	}

	t.nodes = make([]kdNode, 0, 2*len(p.refs)-1)
	items := make([]int32, len(p.refs))
	for i := range items {
		items[i] = int32(i)
	}
	b := &kdBuilder{tree: t, column: make([]float64, len(items)), variances: make([]float64, p.dim)}
	b.build(items)
	return t, nil
}

// CheckLimit returns the leaf-visit budget, 0 when unbounded.
func (t *KdTree) CheckLimit() int {
	return t.checkLimit
}

// WithCheckLimit returns a view of the same tree with another budget.
func (t *KdTree) WithCheckLimit(limit int) *KdTree {
	if limit < 0 {
		limit = 0
	}
	c := *t
	c.checkLimit = limit
	return &c
}

type kdBuilder struct {
	tree      *KdTree
	column    []float64
	variances []float64
}

func (b *kdBuilder) value(item int32, axis int) int {
	return b.tree.descriptor(b.tree.refs[item])[axis]
}

// build appends the subtree for items in preorder and returns its root.
func (b *kdBuilder) build(items []int32) int32 {
	t := b.tree
	id := int32(len(t.nodes))
	if len(items) == 1 {
		t.nodes = append(t.nodes, kdNode{axis: leafAxis, ref: items[0]})
		return id
	}
	t.nodes = append(t.nodes, kdNode{})

	axis := b.widestAxis(items)
	sort.SliceStable(items, func(i, j int) bool {
		vi, vj := b.value(items[i], axis), b.value(items[j], axis)
		if vi != vj {
			return vi < vj
		}
		return items[i] < items[j]
	})
	half := len(items) / 2
	// Floor of the mean of the two middle values: every left value is <=
	// split and every right value is >= split.
	split := (b.value(items[half-1], axis) + b.value(items[half], axis)) >> 1

	left := b.build(items[:half])
	right := b.build(items[half:])
	t.nodes[id] = kdNode{axis: axis, split: split, left: left, right: right}
	return id
}

func (b *kdBuilder) widestAxis(items []int32) int {
	col := b.column[:len(items)]
	for axis := range b.variances {
		for i, it := range items {
			col[i] = float64(b.value(it, axis))
		}
		b.variances[axis] = stat.Variance(col, nil)
	}
	return floats.MaxIdx(b.variances)
}

// Query implements NearestNeighborIndex.
func (t *KdTree) Query(d keypoint.Descriptor, k int) []Neighbor {
	res, _ := t.QueryStats(d, k)
	return res
}

// QueryStats is Query that also reports how much of the tree was explored.
func (t *KdTree) QueryStats(d keypoint.Descriptor, k int) ([]Neighbor, QueryStats) {
	var stats QueryStats
	if k <= 0 || len(t.nodes) == 0 || len(d) != t.dim {
		return nil, stats
	}

	best := newKBest(k)
	queue := &branchQueue{}
	heap.Push(queue, branch{node: 0})

	for queue.Len() > 0 {
		br := heap.Pop(queue).(branch)
		if best.full() && br.bound > best.worst() {
			// Every remaining branch is at least this far away.
			break
		}
		if t.checkLimit > 0 && stats.LeavesVisited >= t.checkLimit {
			stats.Truncated = true
			break
		}

		// Descend to the closest leaf, queueing the far side of each split.
		n := br.node
		for t.nodes[n].axis != leafAxis {
			nd := &t.nodes[n]
			q := d[nd.axis]
			near, far := nd.left, nd.right
			gap := nd.split - q
			if q >= nd.split {
				near, far = nd.right, nd.left
				gap = q - nd.split
			}
			old := br.clips.lookup(nd.axis)
			term := t.metric.Term(gap)
			if term > old {
				farBound := br.bound - old + term
				if !best.full() || farBound <= best.worst() {
					queue.seq++
					heap.Push(queue, branch{
						node:  far,
						bound: farBound,
						clips: &clip{axis: nd.axis, term: term, prev: br.clips},
						seq:   queue.seq,
					})
				}
			} else {
				queue.seq++
				heap.Push(queue, branch{node: far, bound: br.bound, clips: br.clips, seq: queue.seq})
			}
			n = near
		}

		r := t.refs[t.nodes[n].ref]
		best.offer(Neighbor{Ref: r, Distance: t.metric.Distance(d, t.descriptor(r))})
		stats.LeavesVisited++
	}
	return best.items, stats
}

// clip records the distance term of one axis along a branch path. Deeper
// entries shadow shallower ones for the same axis.
type clip struct {
	axis, term int
	prev       *clip
}

func (c *clip) lookup(axis int) int {
	for ; c != nil; c = c.prev {
		if c.axis == axis {
			return c.term
		}
	}
	return 0
}

// branch is an unexplored subtree with a lower bound on the distance from
// the query to any point inside it.
type branch struct {
	node  int32
	bound int
	clips *clip
	seq   int
}

// branchQueue is a min-heap of branches ordered by bound, FIFO on ties.
type branchQueue struct {
	items []branch
	seq   int
}

func (q *branchQueue) Len() int { return len(q.items) }

func (q *branchQueue) Less(i, j int) bool {
	if q.items[i].bound != q.items[j].bound {
		return q.items[i].bound < q.items[j].bound
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *branchQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *branchQueue) Push(x any) { q.items = append(q.items, x.(branch)) }

func (q *branchQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}
