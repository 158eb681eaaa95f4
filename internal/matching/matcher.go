package matching

import (
	"context"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"kpmatch/internal/index"
	"kpmatch/internal/keypoint"
)

// NoModel is returned as the best model ID when nothing matched.
const NoModel = -1

// ErrNoModels is returned when matching against an empty model list.
var ErrNoModels = errors.New("no model sets given")

// Params configures the matcher.
type Params struct {
	// Ratio is the maximum accepted nearest/second-nearest distance ratio.
	Ratio  float64
	Metric keypoint.Metric
	// MaxMatches caps the correspondences kept per call, 0 for no cap.
	MaxMatches int
	// Workers bounds the goroutines used for queries, 0 for GOMAXPROCS.
	Workers int
}

// DefaultParams returns the matcher defaults.
func DefaultParams() Params {
	return Params{
		Ratio:      0.8,
		Metric:     keypoint.MetricSAD,
		MaxMatches: 2048,
	}
}

// Matcher pairs query keypoints with model keypoints.
type Matcher struct {
	params Params
	logger golog.Logger
}

// New creates a matcher. A nil logger selects a default one.
func New(params Params, logger golog.Logger) *Matcher {
	if logger == nil {
		logger = golog.NewLogger("matching")
	}
	if params.Workers <= 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	return &Matcher{params: params, logger: logger}
}

// Params returns the effective parameters.
func (m *Matcher) Params() Params {
	return m.params
}

// Match pools every model point and matches the query against them. The
// model ID collecting the most correspondences wins; ties go to the lowest
// cumulative distance, then to the lowest ID. Only the winner's
// correspondences are returned. When nothing matches the ID is NoModel.
func (m *Matcher) Match(ctx context.Context, query *keypoint.Set, models ...*keypoint.Set) (int, []Match, error) {
	if len(models) == 0 {
		return NoModel, nil, ErrNoModels
	}
	idx, err := index.NewBruteForce(m.params.Metric, models...)
	if err != nil {
		return NoModel, nil, errors.Wrap(err, "indexing models")
	}
	return m.MatchIndex(ctx, query, idx)
}

// MatchSingle matches the query against exactly one model and returns every
// accepted correspondence.
func (m *Matcher) MatchSingle(ctx context.Context, query, model *keypoint.Set) ([]Match, error) {
	if model == nil {
		return nil, ErrNoModels
	}
	idx, err := index.NewBruteForce(m.params.Metric, model)
	if err != nil {
		return nil, errors.Wrap(err, "indexing model")
	}
	return m.collect(ctx, query, idx)
}

// MatchIndex is Match against a prebuilt index, typically a k-d tree
// compiled once over a model database.
func (m *Matcher) MatchIndex(ctx context.Context, query *keypoint.Set, idx index.NearestNeighborIndex) (int, []Match, error) {
	matches, err := m.collect(ctx, query, idx)
	if err != nil {
		return NoModel, nil, err
	}
	best, votes := vote(matches)
	if len(votes) == 0 {
		m.logger.Debugw("no correspondence accepted", "query_points", query.Len())
		return NoModel, nil, nil
	}

	kept := matches[:0]
	for _, mt := range matches {
		if mt.ModelID == best {
			kept = append(kept, mt)
		}
	}
	m.logger.Debugw("matching done",
		"query_points", query.Len(), "accepted", len(matches),
		"best_model", best, "votes", votes[best].count, "models_voted", len(votes))
	return best, kept, nil
}

type tally struct {
	count int
	cum   int
}

func vote(matches []Match) (int, map[int]tally) {
	votes := make(map[int]tally)
	for _, mt := range matches {
		t := votes[mt.ModelID]
		t.count++
		t.cum += mt.Distance
		votes[mt.ModelID] = t
	}
	best := NoModel
	var bt tally
	found := false
	for id, t := range votes {
		switch {
		case !found,
			t.count > bt.count,
			t.count == bt.count && t.cum < bt.cum,
			t.count == bt.count && t.cum == bt.cum && id < best:
			best, bt, found = id, t, true
		}
	}
	return best, votes
}

// collect runs the ratio test for every query point, in query order.
func (m *Matcher) collect(ctx context.Context, query *keypoint.Set, idx index.NearestNeighborIndex) ([]Match, error) {
	if query == nil || query.Len() == 0 || idx.Len() == 0 {
		return nil, nil
	}
	if query.DescriptorLen() != idx.Dim() {
		return nil, errors.Wrapf(keypoint.ErrDimensionMismatch,
			"query descriptors have length %d, index %d", query.DescriptorLen(), idx.Dim())
	}

	n := query.Len()
	found := make([][]index.Neighbor, n)
	workers := min(m.params.Workers, n)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < n; i += workers {
				if i%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				found[i] = idx.Query(query.At(i).Descriptor, 2)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "querying index")
	}

	sets := idx.Sets()
	var matches []Match
	for i, res := range found {
		if !m.accept(res) {
			continue
		}
		nb := res[0]
		q := query.At(i)
		mk := idx.Keypoint(nb.Ref)
		matches = append(matches, Match{
			QueryIndex: i,
			Query:      q.Point(),
			ModelID:    sets[nb.Ref.Set].ID,
			ModelSet:   nb.Ref.Set,
			ModelIndex: nb.Ref.Index,
			Model:      mk.Point(),
			Distance:   nb.Distance,
		})
		if m.params.MaxMatches > 0 && len(matches) == m.params.MaxMatches {
			m.logger.Debugw("match cap reached", "cap", m.params.MaxMatches, "query_index", i)
			break
		}
	}
	return matches, nil
}

// accept applies the ratio test. A lone candidate is accepted; two
// candidates at distance zero are ambiguous.
func (m *Matcher) accept(res []index.Neighbor) bool {
	switch len(res) {
	case 0:
		return false
	case 1:
		return true
	}
	d1, d2 := res[0].Distance, res[1].Distance
	if d2 == 0 {
		return false
	}
	return float64(d1) <= m.params.Ratio*float64(d2)
}
