package keypoint

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func kp(x, y float64, d ...int) Keypoint {
	return Keypoint{X: x, Y: y, Scale: 2, Descriptor: d}
}

func TestSet_AppendGrowsPastCapacity(t *testing.T) {
	s := NewSet(7, 2)
	for i := 0; i < 5; i++ {
		idx, err := s.Append(kp(float64(i), 0, i, i))
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
	require.Equal(t, 5, s.Len())
	require.GreaterOrEqual(t, s.Cap(), 5)
	require.Equal(t, 2, s.DescriptorLen())
	require.Equal(t, 3.0, s.At(3).X)
}

func TestSet_AppendCopiesDescriptor(t *testing.T) {
	s := NewSet(0, 1)
	d := Descriptor{1, 2, 3}
	s.MustAppend(Keypoint{Descriptor: d})
	d[0] = 99
	require.Equal(t, Descriptor{1, 2, 3}, s.At(0).Descriptor)
}

func TestSet_AppendRejectsBadDescriptors(t *testing.T) {
	s := NewSet(3, 0)
	_, err := s.Append(kp(0, 0))
	require.True(t, errors.Is(err, ErrEmptyDescriptor))

	s.MustAppend(kp(0, 0, 1, 2, 3))
	_, err = s.Append(kp(1, 1, 1, 2))
	require.True(t, errors.Is(err, ErrDimensionMismatch))
	require.Equal(t, 1, s.Len())

	require.Panics(t, func() { s.MustAppend(kp(1, 1, 1)) })
}

func TestSet_AllKeepsOrder(t *testing.T) {
	s := NewSet(0, 0)
	for i := 0; i < 4; i++ {
		s.MustAppend(kp(float64(i), float64(-i), i))
	}

	var seen []int
	for i, k := range s.All() {
		require.Equal(t, float64(i), k.X)
		seen = append(seen, i)
		if i == 2 {
			break
		}
	}
	require.Equal(t, []int{0, 1, 2}, seen)

	pts := s.Points()
	require.Len(t, pts, 4)
	require.Equal(t, -3.0, pts[3].Y)
}

func TestSet_Nil(t *testing.T) {
	var s *Set
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.DescriptorLen())
}

func TestSet_Box(t *testing.T) {
	s := NewSet(0, 0)
	s.Width, s.Height = 40, 20
	s.CX, s.CY = 100, 50
	b := s.Box()
	require.Equal(t, 80.0, b.X)
	require.Equal(t, 40.0, b.Y)
	require.Equal(t, s.Center(), b.Center())
}

func TestRef_Less(t *testing.T) {
	require.True(t, Ref{Set: 0, Index: 9}.Less(Ref{Set: 1, Index: 0}))
	require.True(t, Ref{Set: 1, Index: 2}.Less(Ref{Set: 1, Index: 3}))
	require.False(t, Ref{Set: 1, Index: 3}.Less(Ref{Set: 1, Index: 3}))
}
