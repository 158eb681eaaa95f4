// Package kpio reads and writes keypoint sets as JSON documents.
package kpio

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"kpmatch/internal/keypoint"
)

// FormatVersion is written into every document.
const FormatVersion = 1

// ErrUnsupportedVersion is returned for documents from a newer writer.
var ErrUnsupportedVersion = errors.New("unsupported keypoint file version")

// File is the on-disk form of one keypoint set.
type File struct {
	Version int       `json:"version"`
	ID      int       `json:"id"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	CX      float64   `json:"cx"`
	CY      float64   `json:"cy"`
	Source  string    `json:"source,omitempty"` // image the set was detected on
	Created time.Time `json:"created"`

	Keypoints []keypoint.Keypoint `json:"keypoints"`
}

// FromSet captures a set for saving.
func FromSet(s *keypoint.Set) *File {
	f := &File{
		Version:   FormatVersion,
		ID:        s.ID,
		Width:     s.Width,
		Height:    s.Height,
		CX:        s.CX,
		CY:        s.CY,
		Created:   time.Now().UTC(),
		Keypoints: make([]keypoint.Keypoint, 0, s.Len()),
	}
	for _, k := range s.All() {
		f.Keypoints = append(f.Keypoints, k)
	}
	return f
}

// Set rebuilds the keypoint set. Descriptor lengths are checked as the
// points are appended.
func (f *File) Set() (*keypoint.Set, error) {
	if f.Version > FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", f.Version)
	}
	s := keypoint.NewSet(f.ID, len(f.Keypoints))
	s.Width, s.Height = f.Width, f.Height
	s.CX, s.CY = f.CX, f.CY
	for i, k := range f.Keypoints {
		if _, err := s.Append(k); err != nil {
			return nil, errors.Wrapf(err, "keypoint %d", i)
		}
	}
	return s, nil
}

// Decode reads one set from r.
func Decode(r io.Reader) (*keypoint.Set, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decoding keypoints")
	}
	return f.Set()
}

// Encode writes s to w as indented JSON.
func Encode(w io.Writer, s *keypoint.Set, source string) error {
	f := FromSet(s)
	f.Source = source
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Load reads a set from a file.
func Load(path string) (*keypoint.Set, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	s, err := Decode(fh)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return s, nil
}

// LoadAll loads several sets, in argument order.
func LoadAll(paths ...string) ([]*keypoint.Set, error) {
	sets := make([]*keypoint.Set, 0, len(paths))
	for _, p := range paths {
		s, err := Load(p)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return sets, nil
}

// Save writes a set to a file, creating parent directories.
func Save(path string, s *keypoint.Set, source string) error {
	f := FromSet(s)
	f.Source = source
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
