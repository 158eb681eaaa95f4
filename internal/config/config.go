// Package config loads matcher and estimator settings.
//
// Settings come from, in increasing priority: built-in defaults, a JSON
// file, a .env file in the working directory and KPMATCH_* environment
// variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"kpmatch/internal/alignment"
	"kpmatch/internal/index"
	"kpmatch/internal/keypoint"
	"kpmatch/internal/matching"
)

const configFile = "config.json"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every tunable value.
type Config struct {
	RatioThreshold    float64 `json:"ratio_threshold"`
	InlierTolerancePx float64 `json:"inlier_tolerance_px"`
	MaxIterations     int     `json:"max_iterations"`
	KdTreeCheckLimit  int     `json:"kdtree_check_limit"`

	Metric            string  `json:"metric"`
	Index             string  `json:"index"`
	Seed              int64   `json:"seed"`
	DegenerateEpsilon float64 `json:"degenerate_epsilon"`
	Workers           int     `json:"workers"`
	MaxMatches        int     `json:"max_matches"`
}

// Default returns the built-in configuration.
func Default() Config {
	mp := matching.DefaultParams()
	ap := alignment.DefaultParams()
	return Config{
		RatioThreshold:    mp.Ratio,
		InlierTolerancePx: ap.Tolerance,
		MaxIterations:     ap.MaxIterations,
		KdTreeCheckLimit:  100,
		Metric:            mp.Metric.String(),
		Index:             string(index.KindBruteForce),
		Seed:              ap.Seed,
		DegenerateEpsilon: ap.DegenerateEpsilon,
		MaxMatches:        mp.MaxMatches,
	}
}

// DefaultPath returns ~/.config/kpmatch/config.json.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "kpmatch", configFile)
}

// Load builds a configuration. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing %s", path)
		}
	case explicit || !os.IsNotExist(err):
		return Config{}, errors.Wrapf(err, "reading %s", path)
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Save writes the configuration as indented JSON.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() error {
	floats := map[string]*float64{
		"KPMATCH_RATIO":     &c.RatioThreshold,
		"KPMATCH_TOLERANCE": &c.InlierTolerancePx,
	}
	for key, dst := range floats {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return errors.Wrapf(err, "%s", key)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"KPMATCH_ITERATIONS":  &c.MaxIterations,
		"KPMATCH_CHECK_LIMIT": &c.KdTreeCheckLimit,
		"KPMATCH_WORKERS":     &c.Workers,
		"KPMATCH_MAX_MATCHES": &c.MaxMatches,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s", key)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("KPMATCH_SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "KPMATCH_SEED")
		}
		c.Seed = n
	}
	if v, ok := os.LookupEnv("KPMATCH_METRIC"); ok {
		c.Metric = v
	}
	if v, ok := os.LookupEnv("KPMATCH_INDEX"); ok {
		c.Index = v
	}
	return nil
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	switch {
	case c.RatioThreshold <= 0 || c.RatioThreshold > 1:
		return errors.Wrapf(ErrInvalid, "ratio_threshold %v not in (0, 1]", c.RatioThreshold)
	case c.InlierTolerancePx <= 0:
		return errors.Wrapf(ErrInvalid, "inlier_tolerance_px %v must be positive", c.InlierTolerancePx)
	case c.MaxIterations <= 0:
		return errors.Wrapf(ErrInvalid, "max_iterations %d must be positive", c.MaxIterations)
	case c.KdTreeCheckLimit < 0:
		return errors.Wrapf(ErrInvalid, "kdtree_check_limit %d is negative", c.KdTreeCheckLimit)
	case c.Workers < 0:
		return errors.Wrapf(ErrInvalid, "workers %d is negative", c.Workers)
	case c.MaxMatches < 0:
		return errors.Wrapf(ErrInvalid, "max_matches %d is negative", c.MaxMatches)
	}
	if _, err := keypoint.ParseMetric(c.Metric); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	kind, err := index.ParseKind(c.Index)
	if err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if m, _ := keypoint.ParseMetric(c.Metric); kind == index.KindKdTree && !m.Separable() {
		return errors.Wrapf(ErrInvalid, "metric %s cannot be used with a k-d tree", m)
	}
	return nil
}

// MatchParams converts the configuration for the matcher.
func (c Config) MatchParams() matching.Params {
	m, err := keypoint.ParseMetric(c.Metric)
	if err != nil {
		m = keypoint.MetricSAD
	}
	return matching.Params{
		Ratio:      c.RatioThreshold,
		Metric:     m,
		MaxMatches: c.MaxMatches,
		Workers:    c.Workers,
	}
}

// EstimatorParams converts the configuration for the affine estimator.
func (c Config) EstimatorParams() alignment.Params {
	return alignment.Params{
		Tolerance:         c.InlierTolerancePx,
		MaxIterations:     c.MaxIterations,
		Seed:              c.Seed,
		DegenerateEpsilon: c.DegenerateEpsilon,
	}
}

// IndexKind returns the configured index strategy.
func (c Config) IndexKind() index.Kind {
	k, err := index.ParseKind(c.Index)
	if err != nil {
		return index.KindBruteForce
	}
	return k
}

// BuildIndex builds the configured index over the given model sets.
func (c Config) BuildIndex(sets ...*keypoint.Set) (index.NearestNeighborIndex, error) {
	return index.New(c.IndexKind(), c.MatchParams().Metric, c.KdTreeCheckLimit, sets...)
}
