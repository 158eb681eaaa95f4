package alignment

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"kpmatch/internal/matching"
	"kpmatch/internal/synth"
	"kpmatch/pkg/geometry"
)

func newTestEstimator(t *testing.T) *Estimator {
	return NewEstimator(DefaultParams(), golog.NewTestLogger(t))
}

func requireTransform(t *testing.T, want, got geometry.AffineTransform, delta float64) {
	t.Helper()
	w, g := want.Coefficients(), got.Coefficients()
	for i := range w {
		require.InDelta(t, w[i], g[i], delta, "coefficient %d", i)
	}
}

func sceneParams(points, outliers int) synth.Params {
	p := synth.DefaultParams()
	p.Points = points
	p.Outliers = outliers
	return p
}

var skewed = geometry.AffineTransform{A: 1.1, B: -0.2, TX: 15, C: 0.15, D: 0.9, TY: -8}

func TestEstimate_SelfMatchIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := synth.RandomSet(rng, 0, 150, 16, 255, 640, 480)

	m := matching.New(matching.DefaultParams(), golog.NewTestLogger(t))
	_, matches, err := m.Match(context.Background(), a, a)
	require.NoError(t, err)
	require.Len(t, matches, a.Len())

	est, err := newTestEstimator(t).Estimate(matches)
	require.NoError(t, err)
	require.Empty(t, est.Outliers)
	require.Len(t, est.Inliers, a.Len())
	requireTransform(t, geometry.Identity(), est.Model.Transform, 1e-9)
	require.InDelta(t, 0, est.Model.RMS, 1e-9)
}

func TestEstimate_MarksExactlyTheInjectedOutliers(t *testing.T) {
	for _, k := range []int{0, 10, 25, 40} {
		scene := synth.NewScene(int64(100+k), sceneParams(100, k), skewed)
		matches := scene.Correspondences()

		est, err := newTestEstimator(t).Estimate(matches)
		require.NoError(t, err, "k=%d", k)
		require.Equal(t, len(scene.Outliers), len(est.Outliers), "k=%d", k)
		if k > 0 {
			require.Equal(t, scene.Outliers, est.Outliers, "k=%d", k)
		}
		require.Len(t, est.Inliers, 100-k)
		requireTransform(t, skewed, est.Model.Transform, 1e-6)

		marked := est.Marked(matches)
		inliers, outliers := matching.CountMarks(marked)
		require.Equal(t, 100-k, inliers)
		require.Equal(t, k, outliers)
		for _, i := range scene.Outliers {
			require.Equal(t, matching.Outlier, marked[i].Mark)
			require.Greater(t, est.Residuals[i], DefaultParams().Tolerance)
		}
		// Input is left alone.
		require.Equal(t, matching.Unmarked, matches[0].Mark)
	}
}

func TestEstimate_SameSeedIsBitIdentical(t *testing.T) {
	scene := synth.NewScene(7, sceneParams(80, 30), skewed)
	matches := scene.Correspondences()

	// Jitter the inliers so the refit is not exact.
	rng := rand.New(rand.NewSource(8))
	for i := range matches {
		matches[i].Query = matches[i].Query.Add(geometry.Point2D{X: rng.NormFloat64() * 0.5, Y: rng.NormFloat64() * 0.5})
	}

	first, err := newTestEstimator(t).Estimate(matches)
	require.NoError(t, err)
	e := newTestEstimator(t)
	for i := 0; i < 3; i++ {
		again, err := e.Estimate(matches)
		require.NoError(t, err)
		require.Equal(t, first.Model.Transform.Coefficients(), again.Model.Transform.Coefficients())
		require.Equal(t, first.Marks, again.Marks)
		require.Equal(t, first.Iterations, again.Iterations)
	}
}

func TestEstimate_MinimalCase(t *testing.T) {
	scene := synth.NewScene(9, sceneParams(3, 0), skewed)

	est, err := newTestEstimator(t).Estimate(scene.Correspondences())
	require.NoError(t, err)
	require.Len(t, est.Inliers, 3)
	require.Empty(t, est.Outliers)
	require.Equal(t, 1, est.Iterations)
	requireTransform(t, skewed, est.Model.Transform, 1e-6)
}

func collinearMatches(n int) []matching.Match {
	out := make([]matching.Match, n)
	for i := range out {
		p := geometry.Point2D{X: float64(i) * 10, Y: float64(i) * 5}
		out[i] = matching.Match{QueryIndex: i, ModelIndex: i, Model: p, Query: p.Add(geometry.Point2D{X: 3})}
	}
	return out
}

func TestEstimate_Degenerate(t *testing.T) {
	for _, n := range []int{3, 6} {
		e := NewEstimator(Params{Tolerance: 3, MaxIterations: 50, Seed: 1}, golog.NewTestLogger(t))
		est, err := e.Estimate(collinearMatches(n))
		require.Nil(t, est)
		require.True(t, errors.Is(err, ErrInsufficientData), "n=%d", n)
		require.True(t, errors.Is(err, ErrDegenerateSample), "n=%d", n)
	}
}

func TestEstimate_TooFewCorrespondences(t *testing.T) {
	scene := synth.NewScene(10, sceneParams(5, 0), skewed)
	matches := scene.Correspondences()

	_, err := newTestEstimator(t).Estimate(matches[:2])
	require.True(t, errors.Is(err, ErrInsufficientData))
	require.False(t, errors.Is(err, ErrDegenerateSample))

	// Pre-marked outliers do not count.
	matches[0].Mark = matching.Outlier
	matches[1].Mark = matching.Outlier
	matches[2].Mark = matching.Outlier
	_, err = newTestEstimator(t).Estimate(matches)
	require.True(t, errors.Is(err, ErrInsufficientData))

	_, err = newTestEstimator(t).Fit(matches[:1])
	require.True(t, errors.Is(err, ErrInsufficientData))
}

func TestEstimate_KeepsPremarkedOutliers(t *testing.T) {
	scene := synth.NewScene(11, sceneParams(30, 0), skewed)
	matches := scene.Correspondences()
	matches[4].Mark = matching.Outlier

	est, err := newTestEstimator(t).Estimate(matches)
	require.NoError(t, err)
	require.Equal(t, []int{4}, est.Outliers)
	require.Equal(t, matching.Outlier, est.Marks[4])
	require.InDelta(t, 0, est.Residuals[4], 1e-6)
}

func TestEstimate_TwoRotatedSquares(t *testing.T) {
	scene := synth.TwoSquares(1, 15)
	require.Equal(t, 10, scene.Query.Len())

	m := matching.New(matching.DefaultParams(), golog.NewTestLogger(t))
	matches, err := m.MatchSingle(context.Background(), scene.Query, scene.Model)
	require.NoError(t, err)
	require.Len(t, matches, 10)

	est, err := newTestEstimator(t).Estimate(matches)
	require.NoError(t, err)
	require.Empty(t, est.Outliers)

	// The model is the query pattern turned by 15 degrees, so mapping model
	// to query turns back by 15.
	require.InDelta(t, -15, est.Model.Transform.RotationDegrees(), 1)
	inv, ok := est.Model.Transform.Inverse()
	require.True(t, ok)
	require.InDelta(t, 15, inv.RotationDegrees(), 1)
	require.InDelta(t, 1, est.Model.Transform.ScaleFactor(), 1e-6)
}

func TestFit(t *testing.T) {
	scene := synth.NewScene(12, sceneParams(40, 0), skewed)
	matches := scene.Correspondences()
	matches[7].Mark = matching.Outlier

	est, err := newTestEstimator(t).Fit(matches)
	require.NoError(t, err)
	requireTransform(t, skewed, est.Model.Transform, 1e-6)
	require.Equal(t, []int{7}, est.Outliers)
	require.Len(t, est.Inliers, 39)
}

func TestEstimateTrimmed(t *testing.T) {
	clean := synth.NewScene(13, sceneParams(60, 0), skewed)
	est, err := newTestEstimator(t).EstimateTrimmed(clean.Correspondences())
	require.NoError(t, err)
	require.Empty(t, est.Outliers)
	require.Equal(t, trimRounds+1, est.Iterations)
	requireTransform(t, skewed, est.Model.Transform, 1e-6)

	p := sceneParams(100, 5)
	p.Displacement = 60
	noisy := synth.NewScene(14, p, skewed)
	matches := noisy.Correspondences()
	est, err = newTestEstimator(t).EstimateTrimmed(matches)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(est.Inliers), 3)
	require.NotEmpty(t, est.Outliers)

	var src, dst []geometry.Point2D
	for i, m := range matches {
		if !noisy.IsOutlier(i) {
			src = append(src, m.Model)
			dst = append(dst, m.Query)
		}
	}
	require.Less(t, MeanResidual(src, dst, est.Model.Transform), DefaultParams().Tolerance)
}

func TestConsensus_ToleranceIsInclusive(t *testing.T) {
	e := newTestEstimator(t)
	matches := []matching.Match{
		{Model: geometry.Point2D{X: 10, Y: 10}, Query: geometry.Point2D{X: 13, Y: 10}},
		{Model: geometry.Point2D{X: 10, Y: 10}, Query: geometry.Point2D{X: 13.5, Y: 10}},
	}
	inliers, total := e.consensus(matches, []int{0, 1}, geometry.Identity())
	require.Equal(t, []int{0}, inliers)
	require.Equal(t, 3.0, total)
}

func TestSample3(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 3; n < 8; n++ {
		for i := 0; i < 200; i++ {
			a, b, c := sample3(rng, n)
			require.True(t, a != b && b != c && a != c)
			for _, v := range []int{a, b, c} {
				require.GreaterOrEqual(t, v, 0)
				require.Less(t, v, n)
			}
		}
	}
}

func TestComputeAffine(t *testing.T) {
	src := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 50}, {X: 70, Y: 90}}
	dst := make([]geometry.Point2D, len(src))
	for i, p := range src {
		dst[i] = skewed.Apply(p)
	}

	exact, err := computeAffineFromPoints(src[:3], dst[:3])
	require.NoError(t, err)
	requireTransform(t, skewed, exact, 1e-9)

	ls, err := computeAffineLeastSquares(src, dst)
	require.NoError(t, err)
	requireTransform(t, skewed, ls, 1e-9)
	require.InDelta(t, 0, MeanResidual(src, dst, ls), 1e-9)
	require.True(t, math.IsInf(MeanResidual(src, dst[:2], ls), 1))

	_, err = computeAffineLeastSquares(src[:2], dst[:2])
	require.Error(t, err)
}
