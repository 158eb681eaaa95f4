// Package matching pairs keypoints of a query set with keypoints of one or
// more model sets using the nearest/second-nearest distance ratio test.
package matching

import (
	"kpmatch/pkg/geometry"
)

// Mark is the inlier/outlier state of a correspondence.
type Mark int

const (
	Unmarked Mark = 0
	Inlier   Mark = 1
	Outlier  Mark = -1
)

// String returns a short label for reports.
func (m Mark) String() string {
	switch m {
	case Inlier:
		return "inlier"
	case Outlier:
		return "outlier"
	}
	return "unmarked"
}

// Match is one correspondence between a query keypoint and a model keypoint.
type Match struct {
	QueryIndex int              `json:"query_index"`
	Query      geometry.Point2D `json:"query"`

	// ModelID is the Set.ID of the model; ModelSet is the position of that
	// set in the matcher input (or index), ModelIndex the keypoint inside it.
	ModelID    int              `json:"model_id"`
	ModelSet   int              `json:"model_set"`
	ModelIndex int              `json:"model_index"`
	Model      geometry.Point2D `json:"model"`

	// Distance is the descriptor distance of the pair.
	Distance int  `json:"distance"`
	Mark     Mark `json:"mark"`
}

// Split separates model and query positions for transform fitting.
func Split(matches []Match) (model, query []geometry.Point2D) {
	model = make([]geometry.Point2D, len(matches))
	query = make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		model[i] = m.Model
		query[i] = m.Query
	}
	return model, query
}

// CountMarks returns the number of inliers and outliers.
func CountMarks(matches []Match) (inliers, outliers int) {
	for _, m := range matches {
		switch m.Mark {
		case Inlier:
			inliers++
		case Outlier:
			outliers++
		}
	}
	return inliers, outliers
}
