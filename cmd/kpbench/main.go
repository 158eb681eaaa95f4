// Command kpbench compares brute-force and k-d tree nearest-neighbour search
// on a synthetic keypoint database.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edaniels/golog"

	"kpmatch/internal/index"
	"kpmatch/internal/keypoint"
	"kpmatch/internal/synth"
	"kpmatch/internal/version"
)

func main() {
	models := flag.Int("models", 16, "Number of model sets")
	points := flag.Int("points", 500, "Keypoints per model set")
	dim := flag.Int("dim", 32, "Descriptor length")
	queries := flag.Int("queries", 1000, "Number of random query descriptors")
	limits := flag.String("limits", "0,500,100,50,10", "Comma separated check limits (0 = unbounded)")
	metricName := flag.String("metric", "sad", "Descriptor metric (sad or euclidean)")
	seed := flag.Int64("seed", 1, "Random seed")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("kpbench"))
		return
	}

	logger := golog.NewDevelopmentLogger("kpbench")

	metric, err := keypoint.ParseMetric(*metricName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	checkLimits, err := parseLimits(*limits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad -limits: %v\n", err)
		os.Exit(1)
	}

	if *models <= 0 || *points <= 0 || *queries <= 0 {
		fmt.Fprintln(os.Stderr, "-models, -points and -queries must be positive")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	sets := make([]*keypoint.Set, *models)
	for i := range sets {
		sets[i] = synth.RandomSet(rng, i, *points, *dim, 255, 640, 480)
	}
	qs := make([]keypoint.Descriptor, *queries)
	for i := range qs {
		qs[i] = synth.RandomDescriptor(rng, *dim, 255)
	}

	brute, err := index.NewBruteForce(metric, sets...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build brute-force index: %v\n", err)
		os.Exit(1)
	}
	start := time.Now()
	tree, err := index.NewKdTree(metric, 0, sets...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build k-d tree: %v\n", err)
		os.Exit(1)
	}
	logger.Infow("indexes built", "points", tree.Len(), "dim", tree.Dim(), "kdtree_build", time.Since(start))

	fmt.Printf("=== %d points, %d queries, metric %s ===\n", brute.Len(), len(qs), metric)
	bruteTime := timeQueries(brute, qs)
	fmt.Printf("%-12s %10s %10s %12s\n", "index", "agreement", "leaves", "per query")
	fmt.Printf("%-12s %9.1f%% %10d %12s\n", "brute", 100.0, brute.Len(), bruteTime)

	for _, limit := range checkLimits {
		t := tree.WithCheckLimit(limit)
		var leaves int
		for _, q := range qs {
			_, stats := t.QueryStats(q, 2)
			leaves += stats.LeavesVisited
		}
		name := "kdtree/" + strconv.Itoa(limit)
		if limit == 0 {
			name = "kdtree/exact"
		}
		fmt.Printf("%-12s %9.1f%% %10d %12s\n", name,
			100*index.Agreement(brute, t, qs), leaves/len(qs), timeQueries(t, qs))
	}
}

func timeQueries(idx index.NearestNeighborIndex, qs []keypoint.Descriptor) time.Duration {
	start := time.Now()
	for _, q := range qs {
		idx.Query(q, 2)
	}
	return time.Since(start) / time.Duration(len(qs))
}

func parseLimits(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
