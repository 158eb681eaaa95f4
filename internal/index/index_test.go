package index_test

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"kpmatch/internal/index"
	"kpmatch/internal/keypoint"
	"kpmatch/internal/synth"
)

func database(seed int64, sets, points, dim int) []*keypoint.Set {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*keypoint.Set, sets)
	for i := range out {
		out[i] = synth.RandomSet(rng, i, points, dim, 255, 320, 240)
	}
	return out
}

func queries(seed int64, n, dim int) []keypoint.Descriptor {
	rng := rand.New(rand.NewSource(seed))
	out := make([]keypoint.Descriptor, n)
	for i := range out {
		out[i] = synth.RandomDescriptor(rng, dim, 255)
	}
	return out
}

func TestKdTree_UnboundedMatchesBruteForce(t *testing.T) {
	for _, metric := range []keypoint.Metric{keypoint.MetricSAD, keypoint.MetricSquaredEuclidean} {
		t.Run(metric.String(), func(t *testing.T) {
			sets := database(1, 3, 150, 8)
			brute, err := index.NewBruteForce(metric, sets...)
			require.NoError(t, err)
			tree, err := index.NewKdTree(metric, 0, sets...)
			require.NoError(t, err)
			require.Equal(t, brute.Len(), tree.Len())

			for _, q := range queries(2, 200, 8) {
				require.Equal(t, brute.Query(q, 2), tree.Query(q, 2))
			}
			qs := queries(3, 200, 8)
			require.GreaterOrEqual(t, index.Agreement(brute, tree, qs), 0.95)
			require.Equal(t, 1.0, index.Agreement(brute, tree, qs))
		})
	}
}

func TestKdTree_CheckLimitTradesAccuracy(t *testing.T) {
	sets := database(4, 4, 500, 32)
	qs := queries(5, 300, 32)

	brute, err := index.NewBruteForce(keypoint.MetricSAD, sets...)
	require.NoError(t, err)
	tree, err := index.NewKdTree(keypoint.MetricSAD, 0, sets...)
	require.NoError(t, err)

	exact := index.Agreement(brute, tree, qs)
	constrained := index.Agreement(brute, tree.WithCheckLimit(1), qs)
	require.Equal(t, 1.0, exact)
	require.Less(t, constrained, 0.95)
	require.Equal(t, 0, tree.CheckLimit())

	limited := tree.WithCheckLimit(10)
	for _, q := range qs[:20] {
		res, stats := limited.QueryStats(q, 2)
		require.Len(t, res, 2)
		require.LessOrEqual(t, stats.LeavesVisited, 10)
		require.LessOrEqual(t, res[0].Distance, res[1].Distance)
	}
}

func TestKdTree_UnboundedStatsNotTruncated(t *testing.T) {
	sets := database(6, 1, 64, 4)
	tree, err := index.NewKdTree(keypoint.MetricSAD, 0, sets...)
	require.NoError(t, err)

	// A stored descriptor is found at distance zero.
	d := sets[0].At(10).Descriptor
	res, stats := tree.QueryStats(d, 1)
	require.Len(t, res, 1)
	require.Equal(t, 0, res[0].Distance)
	require.False(t, stats.Truncated)
	require.GreaterOrEqual(t, stats.LeavesVisited, 1)
}

func TestIndex_Empty(t *testing.T) {
	for _, kind := range []index.Kind{index.KindBruteForce, index.KindKdTree} {
		idx, err := index.New(kind, keypoint.MetricSAD, 10, nil, keypoint.NewSet(0, 4))
		require.NoError(t, err)
		require.Equal(t, 0, idx.Len())
		require.Equal(t, 0, idx.Dim())
		require.Empty(t, idx.Query(keypoint.Descriptor{1, 2}, 2))

		_, err = index.Nearest(idx, keypoint.Descriptor{1, 2})
		require.True(t, errors.Is(err, index.ErrIndexEmpty))
	}
}

func TestIndex_TiesBreakOnRef(t *testing.T) {
	a := keypoint.NewSet(1, 2)
	a.MustAppend(keypoint.Keypoint{Descriptor: keypoint.Descriptor{5, 5}})
	a.MustAppend(keypoint.Keypoint{Descriptor: keypoint.Descriptor{9, 9}})
	b := keypoint.NewSet(2, 2)
	b.MustAppend(keypoint.Keypoint{Descriptor: keypoint.Descriptor{5, 5}})
	b.MustAppend(keypoint.Keypoint{Descriptor: keypoint.Descriptor{4, 6}})

	q := keypoint.Descriptor{5, 5}
	want := []index.Neighbor{
		{Ref: keypoint.Ref{Set: 0, Index: 0}, Distance: 0},
		{Ref: keypoint.Ref{Set: 1, Index: 0}, Distance: 0},
		{Ref: keypoint.Ref{Set: 1, Index: 1}, Distance: 2},
	}
	for _, kind := range []index.Kind{index.KindBruteForce, index.KindKdTree} {
		idx, err := index.New(kind, keypoint.MetricSAD, 0, a, b)
		require.NoError(t, err)
		require.Equal(t, want, idx.Query(q, 3))
		require.Equal(t, keypoint.Descriptor{4, 6}, idx.Keypoint(keypoint.Ref{Set: 1, Index: 1}).Descriptor)
		require.Equal(t, 2, idx.Sets()[1].ID)
	}
}

func TestIndex_Errors(t *testing.T) {
	sets := database(7, 1, 10, 4)

	_, err := index.NewKdTree(keypoint.MetricHamming, 0, sets...)
	require.True(t, errors.Is(err, index.ErrUnsupportedMetric))

	// Brute force handles Hamming.
	brute, err := index.NewBruteForce(keypoint.MetricHamming, sets...)
	require.NoError(t, err)
	n, err := index.Nearest(brute, sets[0].At(3).Descriptor)
	require.NoError(t, err)
	require.Equal(t, 0, n.Distance)

	other := keypoint.NewSet(9, 1)
	other.MustAppend(keypoint.Keypoint{Descriptor: keypoint.Descriptor{1, 2}})
	_, err = index.NewBruteForce(keypoint.MetricSAD, sets[0], other)
	require.True(t, errors.Is(err, keypoint.ErrDimensionMismatch))

	_, err = index.ParseKind("ball-tree")
	require.True(t, errors.Is(err, index.ErrUnknownKind))
	k, err := index.ParseKind("KdTree")
	require.NoError(t, err)
	require.Equal(t, index.KindKdTree, k)

	// Wrong query length is no match.
	require.Empty(t, brute.Query(keypoint.Descriptor{1}, 1))
	require.Empty(t, brute.Query(sets[0].At(0).Descriptor, 0))
}
