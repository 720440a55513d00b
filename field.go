// Package isomesh reconstructs triangulated isosurfaces of point cloud
// distance fields. The root package holds the field and grid definitions
// shared by the render and pointio packages.
package isomesh

import (
	"math"

	"github.com/soypat/isomesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxDistance is the value of an empty field at any position.
// It is larger than any iso level so every block of an empty field is pruned.
const MaxDistance = math.MaxFloat64

// Field is a scalar field sampled by the octree renderer.
type Field interface {
	// Evaluate returns the value of the field at p.
	Evaluate(p r3.Vec) float64
	// Bounds returns a box that contains the features of the field.
	Bounds() r3.Box
}

var _ Field = PointCloud{}

// PointCloud is a scalar field whose value at any position is the minimum
// Euclidean distance to a point of the cloud.
//
// A PointCloud does not own its points: the slice passed to NewPointCloud
// is shared by all concurrent evaluations and must not be modified while
// the field is in use.
type PointCloud struct {
	pts []r3.Vec
}

// NewPointCloud returns a field over pts. The slice is not copied.
func NewPointCloud(pts []r3.Vec) PointCloud {
	return PointCloud{pts: pts}
}

// Points returns a read-only view of the cloud's points.
func (pc PointCloud) Points() []r3.Vec { return pc.pts }

// Len returns the number of points in the cloud.
func (pc PointCloud) Len() int { return len(pc.pts) }

// Evaluate returns the distance from p to the closest point of the cloud
// by exhaustive search. If the cloud is empty MaxDistance is returned.
func (pc PointCloud) Evaluate(p r3.Vec) float64 {
	pts := pc.pts
	if len(pts) == 0 {
		return MaxDistance
	}
	min2 := math.MaxFloat64
	for i := range pts {
		dx := p.X - pts[i].X
		dy := p.Y - pts[i].Y
		dz := p.Z - pts[i].Z
		// Compare squared distances, take the root once.
		d2 := dx*dx + dy*dy + dz*dz
		if d2 < min2 {
			min2 = d2
		}
	}
	return math.Sqrt(min2)
}

// Bounds returns the axis aligned bounding box of the cloud.
// An empty cloud has a zero sized box at the origin.
func (pc PointCloud) Bounds() r3.Box {
	if len(pc.pts) == 0 {
		return r3.Box{}
	}
	return r3.Box(d3.BoundsOf(pc.pts))
}
