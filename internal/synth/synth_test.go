package synth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kpmatch/pkg/geometry"
)

func TestNewScene_Deterministic(t *testing.T) {
	p := DefaultParams()
	p.Outliers = 20
	a := NewScene(3, p, geometry.Translation(4, 5))
	b := NewScene(3, p, geometry.Translation(4, 5))

	require.Equal(t, a.Outliers, b.Outliers)
	require.Len(t, a.Outliers, 20)
	for i, k := range a.Query.All() {
		require.Equal(t, k, b.Query.At(i))
	}
}

func TestNewScene_Geometry(t *testing.T) {
	p := DefaultParams()
	p.Points = 50
	p.Outliers = 10
	tr := geometry.RotationAbout(geometry.Point2D{X: 320, Y: 240}, 25)
	s := NewScene(1, p, tr)

	require.Equal(t, 50, s.Model.Len())
	require.Equal(t, 50, s.Query.Len())
	for i := 0; i < s.Model.Len(); i++ {
		want := tr.Apply(s.Model.At(i).Point())
		d := want.Distance(s.Query.At(i).Point())
		if s.IsOutlier(i) {
			require.GreaterOrEqual(t, d, p.Displacement-1e-9)
		} else {
			require.InDelta(t, 0, d, 1e-9)
			require.Equal(t, s.Model.At(i).Descriptor, s.Query.At(i).Descriptor)
		}
	}

	matches := s.Correspondences()
	require.Len(t, matches, 50)
	require.Equal(t, s.Model.At(7).Point(), matches[7].Model)
}

func TestNewScene_NoiseStaysInRange(t *testing.T) {
	p := DefaultParams()
	p.Points = 40
	p.Noise = 10
	s := NewScene(2, p, geometry.Identity())
	for _, k := range s.Query.All() {
		for _, v := range k.Descriptor {
			require.GreaterOrEqual(t, v, 0)
			require.LessOrEqual(t, v, p.MaxValue)
		}
	}
}

func TestTwoSquares(t *testing.T) {
	pts := SquaresPoints()
	require.Len(t, pts, 10)
	require.Equal(t, geometry.Point2D{X: 192, Y: 192}, pts[4])
	require.Equal(t, geometry.Point2D{X: 50, Y: 192}, pts[9])
	require.InDelta(t, 15*1.4142135, pts[0].Distance(pts[4]), 1e-5)

	s := TwoSquares(1, 15)
	for i := 0; i < 10; i++ {
		back := s.Transform.Apply(s.Model.At(i).Point())
		require.InDelta(t, 0, back.Distance(s.Query.At(i).Point()), 1e-9)
	}
	require.InDelta(t, -15, s.Transform.RotationDegrees(), 1e-9)
	require.Equal(t, 35, s.Model.At(0).Angle)
	require.Equal(t, 45, s.Model.At(9).Angle)
}
