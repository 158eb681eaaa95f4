package index

import "kpmatch/internal/keypoint"

// Agreement returns the fraction of queries for which both indexes return
// the same nearest neighbour. Queries neither index answers count as
// agreeing.
func Agreement(a, b NearestNeighborIndex, queries []keypoint.Descriptor) float64 {
	if len(queries) == 0 {
		return 1
	}
	same := 0
	for _, q := range queries {
		ra, rb := a.Query(q, 1), b.Query(q, 1)
		switch {
		case len(ra) == 0 && len(rb) == 0:
			same++
		case len(ra) == 0 || len(rb) == 0:
		case ra[0].Ref == rb[0].Ref:
			same++
		}
	}
	return float64(same) / float64(len(queries))
}
