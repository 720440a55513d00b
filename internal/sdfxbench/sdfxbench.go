// Package sdfxbench adapts point cloud fields to the sdfx renderer so both
// octree implementations can be benchmarked on the same surface.
package sdfxbench

import (
	"github.com/deadsy/sdfx/sdf"
	"github.com/soypat/isomesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// SDF3 is a point cloud field shifted so its iso surface is at level zero,
// which is the surface sdfx renders.
type SDF3 struct {
	field isomesh.Field
	iso   float64
}

var _ sdf.SDF3 = SDF3{}

// NewSDF3 returns f as an sdfx signed distance function of the iso surface.
func NewSDF3(f isomesh.Field, isoLevel float64) SDF3 {
	return SDF3{field: f, iso: isoLevel}
}

// Evaluate implements sdf.SDF3.
func (s SDF3) Evaluate(p sdf.V3) float64 {
	return s.field.Evaluate(r3.Vec{X: p.X, Y: p.Y, Z: p.Z}) - s.iso
}

// BoundingBox implements sdf.SDF3. The field bounds are grown by the iso
// level so the surface is contained.
func (s SDF3) BoundingBox() sdf.Box3 {
	b := s.field.Bounds()
	return sdf.Box3{
		Min: sdf.V3{X: b.Min.X - s.iso, Y: b.Min.Y - s.iso, Z: b.Min.Z - s.iso},
		Max: sdf.V3{X: b.Max.X + s.iso, Y: b.Max.Y + s.iso, Z: b.Max.Z + s.iso},
	}
}
