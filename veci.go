package isomesh

import "gonum.org/v1/gonum/spatial/r3"

// V3i is a 3D integer vector. It indexes grid cells.
type V3i [3]int

// Add adds two vectors. Return v = a + b.
func (a V3i) Add(b V3i) V3i {
	return V3i{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Scale multiplies each component of the vector by f.
func (a V3i) Scale(f int) V3i {
	return V3i{a[0] * f, a[1] * f, a[2] * f}
}

// ToV3 converts V3i (integer) to r3.Vec (float).
func (a V3i) ToV3() r3.Vec {
	return r3.Vec{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}
