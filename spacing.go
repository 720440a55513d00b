package isomesh

import (
	"errors"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Spacing returns the median distance from a point of the cloud to its
// nearest neighbour. It is a scale for choosing iso levels: a surface at
// an iso level below half the spacing breaks into one bubble per point.
func (pc PointCloud) Spacing() (float64, error) {
	if len(pc.pts) < 2 {
		return 0, errors.New("point spacing needs at least two points")
	}
	// kdtree.New reorders its input, the field's points must stay untouched.
	kdpts := make(kdtree.Points, len(pc.pts))
	for i, p := range pc.pts {
		kdpts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	tree := kdtree.New(kdpts, false)
	dists := make([]float64, len(kdpts))
	for i, p := range kdpts {
		// The two nearest are the point itself and its neighbour.
		keep := kdtree.NewNKeeper(2)
		tree.NearestSet(keep, p)
		dists[i] = math.Sqrt(keep.Heap[0].Dist)
	}
	return stats.Median(dists)
}

// IsoLevelFor returns an iso level of factor times the point spacing of pc.
func IsoLevelFor(pc PointCloud, factor float64) (float64, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return 0, errors.New("iso factor must be positive and finite")
	}
	s, err := pc.Spacing()
	if err != nil {
		return 0, err
	}
	return factor * s, nil
}
