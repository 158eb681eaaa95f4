// Package synth generates reproducible keypoint scenes with a known
// geometric relation between a model set and a query set.
package synth

import (
	"math"
	"math/rand"
	"sort"

	"kpmatch/internal/keypoint"
	"kpmatch/internal/matching"
	"kpmatch/pkg/geometry"
)

// Params describes a random scene.
type Params struct {
	Points   int
	Dim      int
	MaxValue int // descriptor components are drawn from [0, MaxValue]
	Width    int
	Height   int

	// Outliers is the number of query points moved away from where the
	// transform puts them.
	Outliers int
	// Displacement is the minimum distance an outlier is moved by.
	Displacement float64
	// Noise perturbs query descriptor components by up to +/- Noise.
	Noise int
}

// DefaultParams returns a 200 point scene with 32-component descriptors.
func DefaultParams() Params {
	return Params{
		Points:       200,
		Dim:          32,
		MaxValue:     255,
		Width:        640,
		Height:       480,
		Displacement: 40,
	}
}

// Scene is a model set and a query set whose i-th keypoints correspond.
type Scene struct {
	Model *keypoint.Set
	Query *keypoint.Set
	// Transform maps model positions to query positions for every
	// non-outlier.
	Transform geometry.AffineTransform
	// Outliers lists the displaced indices, ascending.
	Outliers []int
}

// IsOutlier reports whether index i was displaced.
func (s *Scene) IsOutlier(i int) bool {
	for _, o := range s.Outliers {
		if o == i {
			return true
		}
	}
	return false
}

// Correspondences returns the ground truth pairs, unmarked.
func (s *Scene) Correspondences() []matching.Match {
	out := make([]matching.Match, s.Query.Len())
	for i := range out {
		q, m := s.Query.At(i), s.Model.At(i)
		out[i] = matching.Match{
			QueryIndex: i,
			Query:      q.Point(),
			ModelID:    s.Model.ID,
			ModelIndex: i,
			Model:      m.Point(),
		}
	}
	return out
}

// RandomDescriptor draws dim components uniformly from [0, maxValue].
func RandomDescriptor(rng *rand.Rand, dim, maxValue int) keypoint.Descriptor {
	d := make(keypoint.Descriptor, dim)
	for i := range d {
		d[i] = rng.Intn(maxValue + 1)
	}
	return d
}

// RandomSet places n keypoints uniformly on a w x h picture with random
// descriptors.
func RandomSet(rng *rand.Rand, id, n, dim, maxValue, w, h int) *keypoint.Set {
	s := keypoint.NewSet(id, n)
	s.Width, s.Height = w, h
	s.CX, s.CY = float64(w)/2, float64(h)/2
	for i := 0; i < n; i++ {
		s.MustAppend(keypoint.Keypoint{
			X:          rng.Float64() * float64(w),
			Y:          rng.Float64() * float64(h),
			Scale:      2 + rng.Intn(6),
			Angle:      rng.Intn(360),
			Value:      1 + rng.Intn(1000),
			Descriptor: RandomDescriptor(rng, dim, maxValue),
		})
	}
	return s
}

// NewScene builds a random model set and a query set obtained by applying
// t to it. The same seed always yields the same scene.
func NewScene(seed int64, p Params, t geometry.AffineTransform) *Scene {
	rng := rand.New(rand.NewSource(seed))
	model := RandomSet(rng, 0, p.Points, p.Dim, p.MaxValue, p.Width, p.Height)

	outliers := rng.Perm(p.Points)[:min(p.Outliers, p.Points)]
	sort.Ints(outliers)
	displaced := make(map[int]bool, len(outliers))
	for _, i := range outliers {
		displaced[i] = true
	}

	query := keypoint.NewSet(1, p.Points)
	query.Width, query.Height = p.Width, p.Height
	c := t.Apply(model.Center())
	query.CX, query.CY = c.X, c.Y

	for i, k := range model.All() {
		pos := t.Apply(k.Point())
		if displaced[i] {
			theta := rng.Float64() * 2 * math.Pi
			r := p.Displacement * (1 + rng.Float64())
			pos = pos.Add(geometry.Point2D{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
		}
		d := k.Descriptor.Clone()
		if p.Noise > 0 {
			for j := range d {
				d[j] = clamp(d[j]+rng.Intn(2*p.Noise+1)-p.Noise, 0, p.MaxValue)
			}
		}
		query.MustAppend(keypoint.Keypoint{
			X:          pos.X,
			Y:          pos.Y,
			Scale:      k.Scale,
			Angle:      k.Angle,
			Value:      k.Value,
			Descriptor: d,
		})
	}
	return &Scene{Model: model, Query: query, Transform: t, Outliers: outliers}
}

// Square layout of the two-squares scene: half side, square angles and
// centres.
const squareHalfSide = 15

var (
	squareAngles  = [2]float64{20, 30}
	squareCenters = [2]geometry.Point2D{{X: 192, Y: 192}, {X: 50, Y: 192}}
)

// SquaresPoints returns the ten points of the two-squares pattern: the four
// corners of each square followed by its centre.
func SquaresPoints() []geometry.Point2D {
	corners := [4]geometry.Point2D{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}
	pts := make([]geometry.Point2D, 0, 10)
	for j, c := range squareCenters {
		rot := geometry.Rotation(squareAngles[j] * math.Pi / 180)
		for _, p := range corners {
			pts = append(pts, rot.Apply(p.Scale(squareHalfSide)).Add(c))
		}
		pts = append(pts, c)
	}
	return pts
}

// TwoSquares builds the two-squares scene: the query holds the pattern as
// drawn, the model holds the same pattern rotated by extraDegrees about the
// midpoint of the two centres. Transform therefore rotates by -extraDegrees.
func TwoSquares(seed int64, extraDegrees float64) *Scene {
	rng := rand.New(rand.NewSource(seed))
	mid := squareCenters[0].Add(squareCenters[1]).Scale(0.5)
	toModel := geometry.RotationAbout(mid, extraDegrees)

	pts := SquaresPoints()
	model := keypoint.NewSet(0, len(pts))
	query := keypoint.NewSet(1, len(pts))
	for _, s := range []*keypoint.Set{model, query} {
		s.Width, s.Height = 256, 256
		s.CX, s.CY = mid.X, mid.Y
	}
	for i, p := range pts {
		d := RandomDescriptor(rng, 32, 255)
		angle := int(squareAngles[i/5])
		query.MustAppend(keypoint.Keypoint{X: p.X, Y: p.Y, Scale: 3, Angle: angle, Descriptor: d})
		mp := toModel.Apply(p)
		model.MustAppend(keypoint.Keypoint{
			X: mp.X, Y: mp.Y, Scale: 3, Angle: (angle + int(extraDegrees)) % 360, Descriptor: d,
		})
	}
	back, _ := toModel.Inverse()
	return &Scene{Model: model, Query: query, Transform: back}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
