package render

import (
	"github.com/soypat/isomesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Renderer streams triangles of a rendered model.
type Renderer interface {
	// ReadTriangles writes triangles into dst and returns the number written.
	// It returns io.EOF once all triangles have been read.
	ReadTriangles(dst []Triangle3) (int, error)
}

// Triangle3 is a 3D triangle.
type Triangle3 struct {
	V [3]r3.Vec
}

// Normal returns the unit normal of the triangle. Vertices are
// ordered counter-clockwise when looking against the normal.
func (t Triangle3) Normal() r3.Vec {
	e1 := r3.Sub(t.V[1], t.V[0])
	e2 := r3.Sub(t.V[2], t.V[0])
	return r3.Unit(r3.Cross(e1, e2))
}

// Degenerate returns true if two vertices of the triangle are within tol of each other.
func (t Triangle3) Degenerate(tol float64) bool {
	return d3.EqualWithin(t.V[0], t.V[1], tol) ||
		d3.EqualWithin(t.V[1], t.V[2], tol) ||
		d3.EqualWithin(t.V[2], t.V[0], tol)
}

// degenerate32 returns true if two vertices coincide once rounded to float32,
// the precision triangles are stored with in STL files.
func (t Triangle3) degenerate32() bool {
	a, b, c := vecTo3F32(t.V[0]), vecTo3F32(t.V[1]), vecTo3F32(t.V[2])
	return a == b || b == c || c == a
}
