// Package alignment estimates the 2D affine transform that maps model
// keypoints onto query keypoints and separates consistent correspondences
// (inliers) from the rest (outliers).
package alignment

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"kpmatch/internal/matching"
	"kpmatch/pkg/geometry"
)

var (
	// ErrInsufficientData is returned when fewer than 3 usable
	// correspondences are available, or when no non-degenerate sample exists.
	ErrInsufficientData = errors.New("insufficient correspondences")
	// ErrDegenerateSample marks a collinear or near-singular sample.
	ErrDegenerateSample = errors.New("degenerate sample")
	// ErrNonFinite is returned instead of a transform with NaN or Inf
	// coefficients.
	ErrNonFinite = errors.New("non-finite transform coefficients")
)

// exhaustedError is returned when every sample drawn was degenerate. It
// matches both ErrInsufficientData and ErrDegenerateSample.
type exhaustedError struct {
	samples int
}

func (e exhaustedError) Error() string {
	return fmt.Sprintf("%v: all %d samples were degenerate: %v", ErrInsufficientData, e.samples, ErrDegenerateSample)
}

func (e exhaustedError) Is(target error) bool {
	return target == ErrInsufficientData || target == ErrDegenerateSample
}

// Params configures the estimator.
type Params struct {
	// Tolerance is the residual, in pixels, up to which a correspondence is
	// an inlier.
	Tolerance float64
	// MaxIterations is the number of minimal samples drawn.
	MaxIterations int
	// Seed makes sampling reproducible.
	Seed int64
	// DegenerateEpsilon rejects samples whose triangle area is below
	// eps * longest side squared.
	DegenerateEpsilon float64
}

// DefaultParams returns the estimator defaults.
func DefaultParams() Params {
	return Params{
		Tolerance:         3.0,
		MaxIterations:     500,
		Seed:              1,
		DegenerateEpsilon: 1e-6,
	}
}

// Model is a fitted affine transform mapping model space to query space.
type Model struct {
	Transform geometry.AffineTransform
	// Error is the sum of squared residuals over inliers.
	Error float64
	// RMS is the root mean square inlier residual.
	RMS float64
}

// Estimate is the outcome of one estimation pass. Marks, Residuals are
// indexed like the input correspondences.
type Estimate struct {
	Model      Model
	Marks      []matching.Mark
	Residuals  []float64
	Inliers    []int
	Outliers   []int
	Iterations int
	// Degenerate counts samples rejected as collinear or singular.
	Degenerate int
}

// Marked returns a copy of matches with the estimate's marks applied.
func (e *Estimate) Marked(matches []matching.Match) []matching.Match {
	out := make([]matching.Match, len(matches))
	copy(out, matches)
	for i := range out {
		if i < len(e.Marks) {
			out[i].Mark = e.Marks[i]
		}
	}
	return out
}

// Estimator fits affine models to correspondences.
type Estimator struct {
	params Params
	logger golog.Logger
}

// NewEstimator creates an estimator. A nil logger selects a default one.
func NewEstimator(params Params, logger golog.Logger) *Estimator {
	if logger == nil {
		logger = golog.NewLogger("alignment")
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = DefaultParams().MaxIterations
	}
	if params.DegenerateEpsilon <= 0 {
		params.DegenerateEpsilon = DefaultParams().DegenerateEpsilon
	}
	return &Estimator{params: params, logger: logger}
}

// Params returns the effective parameters.
func (e *Estimator) Params() Params {
	return e.params
}

// usable returns the indices of correspondences not already marked outlier.
func usable(matches []matching.Match) []int {
	idx := make([]int, 0, len(matches))
	for i, m := range matches {
		if m.Mark != matching.Outlier {
			idx = append(idx, i)
		}
	}
	return idx
}

type candidate struct {
	transform geometry.AffineTransform
	inliers   []int
	total     float64
}

// Estimate runs RANSAC over minimal 3-point samples, refits the winning
// consensus set by least squares and marks every correspondence outside the
// tolerance of the refined model as an outlier. Correspondences already
// marked outlier are ignored and stay outliers. The input is not modified.
func (e *Estimator) Estimate(matches []matching.Match) (*Estimate, error) {
	pool := usable(matches)
	n := len(pool)
	if n < 3 {
		return nil, errors.Wrapf(ErrInsufficientData, "%d usable of %d", n, len(matches))
	}

	rng := rand.New(rand.NewSource(e.params.Seed))
	src := make([]geometry.Point2D, 3)
	dst := make([]geometry.Point2D, 3)
	var best candidate
	found := false
	est := &Estimate{}

	for iter := 0; iter < e.params.MaxIterations; iter++ {
		est.Iterations++
		i0, i1, i2 := sample3(rng, n)
		for k, pi := range [3]int{i0, i1, i2} {
			src[k] = matches[pool[pi]].Model
			dst[k] = matches[pool[pi]].Query
		}
		t, err := e.solveSample(src, dst)
		if err != nil {
			est.Degenerate++
			if n == 3 {
				break
			}
			continue
		}

		inliers, total := e.consensus(matches, pool, t)
		if !found || len(inliers) > len(best.inliers) ||
			(len(inliers) == len(best.inliers) && total < best.total) {
			best = candidate{transform: t, inliers: inliers, total: total}
			found = true
		}
		// Every pool member agrees, or the only possible sample was drawn.
		if len(best.inliers) == n || n == 3 {
			break
		}
	}

	if !found {
		return nil, exhaustedError{samples: est.Iterations}
	}
	e.logger.Debugw("ransac consensus",
		"iterations", est.Iterations, "degenerate", est.Degenerate,
		"inliers", len(best.inliers), "pool", n)

	final := best.transform
	if refined, err := e.refit(matches, best.inliers); err == nil {
		if in, _ := e.consensus(matches, pool, refined); len(in) >= 3 {
			final = refined
		}
	} else {
		e.logger.Debugw("least squares refit rejected, keeping sample model", "error", err)
	}

	if err := e.mark(est, matches, final); err != nil {
		return nil, err
	}
	return est, nil
}

// solveSample solves the exact affine system of a minimal sample, rejecting
// collinear model points before they reach the solver.
func (e *Estimator) solveSample(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if geometry.Collinear(src[0], src[1], src[2], e.params.DegenerateEpsilon) {
		return geometry.AffineTransform{}, ErrDegenerateSample
	}
	t, err := computeAffineFromPoints(src, dst)
	if err != nil {
		return geometry.AffineTransform{}, errors.Wrap(ErrDegenerateSample, err.Error())
	}
	if !t.IsFinite() {
		return geometry.AffineTransform{}, ErrNonFinite
	}
	return t, nil
}

// consensus returns the pool members within tolerance of t and the sum of
// their residuals.
func (e *Estimator) consensus(matches []matching.Match, pool []int, t geometry.AffineTransform) ([]int, float64) {
	var inliers []int
	var total float64
	for _, i := range pool {
		r := t.Apply(matches[i].Model).Distance(matches[i].Query)
		if r <= e.params.Tolerance {
			inliers = append(inliers, i)
			total += r
		}
	}
	return inliers, total
}

func (e *Estimator) refit(matches []matching.Match, members []int) (geometry.AffineTransform, error) {
	subset := make([]matching.Match, len(members))
	for k, i := range members {
		subset[k] = matches[i]
	}
	src, dst := matching.Split(subset)
	t, err := computeAffineLeastSquares(src, dst)
	if err != nil {
		return geometry.AffineTransform{}, errors.Wrap(ErrDegenerateSample, err.Error())
	}
	if !t.IsFinite() {
		return geometry.AffineTransform{}, ErrNonFinite
	}
	return t, nil
}

// mark fills marks, residuals and the model error for transform t.
func (e *Estimator) mark(est *Estimate, matches []matching.Match, t geometry.AffineTransform) error {
	if !t.IsFinite() {
		return ErrNonFinite
	}
	est.Marks = make([]matching.Mark, len(matches))
	est.Residuals = make([]float64, len(matches))
	est.Inliers = est.Inliers[:0]
	est.Outliers = est.Outliers[:0]

	var sq float64
	for i, m := range matches {
		r := t.Apply(m.Model).Distance(m.Query)
		est.Residuals[i] = r
		if m.Mark != matching.Outlier && r <= e.params.Tolerance {
			est.Marks[i] = matching.Inlier
			est.Inliers = append(est.Inliers, i)
			sq += r * r
		} else {
			est.Marks[i] = matching.Outlier
			est.Outliers = append(est.Outliers, i)
		}
	}
	est.Model = Model{Transform: t, Error: sq}
	if len(est.Inliers) > 0 {
		est.Model.RMS = math.Sqrt(sq / float64(len(est.Inliers)))
	}
	return nil
}

// Fit is a plain least-squares fit over every correspondence not already
// marked outlier. Those correspondences are marked inlier whatever their
// residual.
func (e *Estimator) Fit(matches []matching.Match) (*Estimate, error) {
	pool := usable(matches)
	if len(pool) < 3 {
		return nil, errors.Wrapf(ErrInsufficientData, "%d usable of %d", len(pool), len(matches))
	}
	t, err := e.refit(matches, pool)
	if err != nil {
		return nil, errors.Wrap(ErrInsufficientData, err.Error())
	}

	est := &Estimate{
		Marks:     make([]matching.Mark, len(matches)),
		Residuals: make([]float64, len(matches)),
	}
	var sq float64
	for i, m := range matches {
		r := t.Apply(m.Model).Distance(m.Query)
		est.Residuals[i] = r
		if m.Mark == matching.Outlier {
			est.Marks[i] = matching.Outlier
			est.Outliers = append(est.Outliers, i)
			continue
		}
		est.Marks[i] = matching.Inlier
		est.Inliers = append(est.Inliers, i)
		sq += r * r
	}
	est.Model = Model{Transform: t, Error: sq, RMS: math.Sqrt(sq / float64(len(est.Inliers)))}
	return est, nil
}

// trimRounds is the number of fit-and-trim rounds of EstimateTrimmed.
const trimRounds = 2

// EstimateTrimmed alternates least-squares fits with trimming: each round
// marks the largest residuals as outliers until the remaining squared error
// falls below a third of the round's total, then the model is fitted once
// more on what is left.
func (e *Estimator) EstimateTrimmed(matches []matching.Match) (*Estimate, error) {
	work := make([]matching.Match, len(matches))
	copy(work, matches)

	for round := 0; round < trimRounds; round++ {
		fit, err := e.Fit(work)
		if err != nil {
			return nil, err
		}
		e.trim(work, fit)
	}

	est, err := e.Fit(work)
	if err != nil {
		return nil, err
	}
	est.Iterations = trimRounds + 1
	return est, nil
}

func (e *Estimator) trim(work []matching.Match, fit *Estimate) {
	live := make([]int, 0, len(fit.Inliers))
	var total float64
	for _, i := range fit.Inliers {
		live = append(live, i)
		total += fit.Residuals[i] * fit.Residuals[i]
	}
	// Nothing worth trimming on an (almost) exact fit.
	if total <= e.params.Tolerance*e.params.Tolerance*1e-6 {
		return
	}
	sort.SliceStable(live, func(a, b int) bool {
		return fit.Residuals[live[a]] > fit.Residuals[live[b]]
	})

	remaining := total
	left := len(live)
	for _, i := range live {
		if remaining < total/3 || left <= 3 {
			break
		}
		work[i].Mark = matching.Outlier
		remaining -= fit.Residuals[i] * fit.Residuals[i]
		left--
	}
	e.logger.Debugw("trimmed correspondences", "removed", len(live)-left, "kept", left)
}

// sample3 draws three distinct indices in [0, n).
func sample3(rng *rand.Rand, n int) (int, int, int) {
	a := rng.Intn(n)
	b := rng.Intn(n - 1)
	if b >= a {
		b++
	}
	c := rng.Intn(n - 2)
	lo, hi := min(a, b), max(a, b)
	if c >= lo {
		c++
	}
	if c >= hi {
		c++
	}
	return a, b, c
}
