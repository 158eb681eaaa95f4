// Command kpmatch matches a query keypoint file against model keypoint files,
// estimates the affine transform of the winning model and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/edaniels/golog"

	"kpmatch/internal/alignment"
	"kpmatch/internal/config"
	"kpmatch/internal/keypoint"
	"kpmatch/internal/kpio"
	"kpmatch/internal/matching"
	"kpmatch/internal/render"
	"kpmatch/internal/version"
	"kpmatch/pkg/geometry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to JSON config (default: user config dir)")
	queryPath := flag.String("q", "", "Query keypoint file")
	queryImage := flag.String("qimg", "", "Query image, for the overlay")
	modelImage := flag.String("mimg", "", "Image of the winning model, for the overlay")
	out := flag.String("o", "", "Write an overlay image to this path")
	method := flag.String("method", "ransac", "Estimation method: ransac, fit or trimmed")
	indexKind := flag.String("index", "", "Override the index kind (brute or kdtree)")
	list := flag.Bool("list", false, "Print every correspondence")
	verbose := flag.Bool("v", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("kpmatch"))
		return
	}
	if *queryPath == "" || flag.NArg() == 0 {
		fmt.Println("Usage: kpmatch -q <query.json> [-o overlay.png] <model.json>...")
		os.Exit(1)
	}

	logger := golog.NewLogger("kpmatch")
	if *verbose {
		logger = golog.NewDevelopmentLogger("kpmatch")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *indexKind != "" {
		cfg.Index = *indexKind
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid index: %v\n", err)
			os.Exit(1)
		}
	}

	query, err := kpio.Load(*queryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load query: %v\n", err)
		os.Exit(1)
	}
	models, err := kpio.LoadAll(flag.Args()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load models: %v\n", err)
		os.Exit(1)
	}
	logger.Infow("loaded keypoints", "query", query.Len(), "models", len(models), "index", cfg.Index)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	idx, err := cfg.BuildIndex(models...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build index: %v\n", err)
		os.Exit(1)
	}
	matcher := matching.New(cfg.MatchParams(), logger.Named("matching"))
	best, matches, err := matcher.MatchIndex(ctx, query, idx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matching failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Matching ===\n")
	if best == matching.NoModel {
		fmt.Println("No model matched.")
		return
	}
	fmt.Printf("Best model: %d (%d correspondences)\n", best, len(matches))

	estimator := alignment.NewEstimator(cfg.EstimatorParams(), logger.Named("alignment"))
	var est *alignment.Estimate
	switch *method {
	case "ransac":
		est, err = estimator.Estimate(matches)
	case "fit":
		est, err = estimator.Fit(matches)
	case "trimmed":
		est, err = estimator.EstimateTrimmed(matches)
	default:
		fmt.Fprintf(os.Stderr, "Unknown method %q\n", *method)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Estimation failed: %v\n", err)
		os.Exit(1)
	}

	t := est.Model.Transform
	marked := est.Marked(matches)
	fmt.Printf("\n=== Affine model (%s) ===\n", *method)
	for _, row := range t.ToMatrix() {
		fmt.Printf("  [%9.4f %9.4f %9.2f]\n", row[0], row[1], row[2])
	}
	fmt.Printf("Rotation: %.2f deg, scale: %.4f\n", t.RotationDegrees(), t.ScaleFactor())
	inliers, outliers := matching.CountMarks(marked)
	fmt.Printf("Inliers: %d, outliers: %d, RMS: %.3f px\n", inliers, outliers, est.Model.RMS)
	if est.Degenerate > 0 {
		fmt.Printf("Degenerate samples: %d of %d\n", est.Degenerate, est.Iterations)
	}
	printCoverage(marked, t)

	if *list {
		fmt.Printf("\n%6s %6s %8s %9s  %s\n", "query", "model", "distance", "residual", "mark")
		for i, m := range marked {
			fmt.Printf("%6d %6d %8d %9.2f  %s\n", m.QueryIndex, m.ModelIndex, m.Distance, est.Residuals[i], m.Mark)
		}
	}

	if *out == "" {
		return
	}
	modelSet := winningSet(idx.Sets(), matches)
	scene := render.Scene{
		QuerySet:  query,
		ModelSet:  modelSet,
		Matches:   marked,
		Transform: &t,
	}
	if *queryImage != "" {
		if scene.Query, err = render.Load(*queryImage); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load query image: %v\n", err)
			os.Exit(1)
		}
	}
	if *modelImage != "" {
		if scene.Model, err = render.Load(*modelImage); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load model image: %v\n", err)
			os.Exit(1)
		}
	}

	opts := render.DefaultOptions()
	opts.InlierColor = render.Palette(modelIDs(models))[best]
	opts.DrawHull = true
	if err := render.Save(render.Overlay(scene, opts), *out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save overlay: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Overlay written to %s\n", *out)
}

// printCoverage reports where the inliers sit in the query picture.
func printCoverage(marked []matching.Match, t geometry.AffineTransform) {
	var in []matching.Match
	for _, m := range marked {
		if m.Mark == matching.Inlier {
			in = append(in, m)
		}
	}
	if len(in) == 0 {
		return
	}
	model, query := matching.Split(in)
	c := geometry.Centroid(query)
	fmt.Printf("Inlier centroid: (%.1f, %.1f), hull area: %.0f px^2, mean residual: %.3f px\n",
		c.X, c.Y, geometry.PolygonArea(geometry.ConvexHull(query)), alignment.MeanResidual(model, query, t))
}

// winningSet returns the set most of the matches point into.
func winningSet(sets []*keypoint.Set, matches []matching.Match) *keypoint.Set {
	counts := make(map[int]int)
	best := matches[0].ModelSet
	for _, m := range matches {
		counts[m.ModelSet]++
		if counts[m.ModelSet] > counts[best] {
			best = m.ModelSet
		}
	}
	return sets[best]
}

func modelIDs(models []*keypoint.Set) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, m := range models {
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	sort.Ints(ids)
	return ids
}
