package kpio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"kpmatch/internal/keypoint"
)

func sampleSet() *keypoint.Set {
	s := keypoint.NewSet(3, 2)
	s.Width, s.Height = 320, 240
	s.CX, s.CY = 160, 120
	s.MustAppend(keypoint.Keypoint{X: 10.5, Y: 20, Scale: 4, Angle: 30, Value: 900, Descriptor: keypoint.Descriptor{1, 2, 3}})
	s.MustAppend(keypoint.Keypoint{X: 200, Y: 7.25, Scale: 2, Value: 120, Descriptor: keypoint.Descriptor{9, 8, 7}})
	return s
}

func requireSameSet(t *testing.T, want, got *keypoint.Set) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Width, got.Width)
	require.Equal(t, want.Height, got.Height)
	require.Equal(t, want.Center(), got.Center())
	require.Equal(t, want.Len(), got.Len())
	for i, k := range want.All() {
		require.Equal(t, k, got.At(i))
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sets", "model.json")
	want := sampleSet()
	require.NoError(t, Save(path, want, "model.png"))

	got, err := Load(path)
	require.NoError(t, err)
	requireSameSet(t, want, got)

	all, err := LoadAll(path, path)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = LoadAll(path, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleSet(), ""))
	require.Contains(t, buf.String(), `"keypoints"`)
	require.NotContains(t, buf.String(), `"source"`)

	got, err := Decode(&buf)
	require.NoError(t, err)
	requireSameSet(t, sampleSet(), got)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 99, "keypoints": []}`))
	require.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = Decode(strings.NewReader(`{"version": 1, "keypoints": [
		{"x": 1, "y": 1, "descriptor": [1, 2]},
		{"x": 2, "y": 2, "descriptor": [1, 2, 3]}
	]}`))
	require.True(t, errors.Is(err, keypoint.ErrDimensionMismatch))

	_, err = Decode(strings.NewReader(`not json`))
	require.Error(t, err)
}

func TestLoad_ReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, path)
}
