package render

import (
	"github.com/soypat/isomesh"
	"github.com/soypat/isomesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// marchingCubesMaxTriangles is the maximum number of triangles a single
// cube configuration can produce.
const marchingCubesMaxTriangles = 12

// CubeBuilder triangulates a single unit cube of the grid.
type CubeBuilder interface {
	// BuildCube emits the triangles of the unit cube whose minimum vertex is
	// at grid offset cube and returns how many triangles were emitted.
	BuildCube(dst TriangleSink, cube isomesh.V3i) int
}

var _ CubeBuilder = (*MarchingCubes)(nil)

// MarchingCubes is the default CubeBuilder. It samples the field at the 8
// cube corners and emits the triangles found in a lookup table indexed by
// which corners are below the iso level.
type MarchingCubes struct {
	field isomesh.Field
	grid  isomesh.Grid
}

// NewMarchingCubes returns a cube builder for f sampled on g.
func NewMarchingCubes(f isomesh.Field, g isomesh.Grid) *MarchingCubes {
	if f == nil {
		panic("nil field")
	}
	return &MarchingCubes{field: f, grid: g}
}

// BuildCube implements CubeBuilder.
func (mc *MarchingCubes) BuildCube(dst TriangleSink, cube isomesh.V3i) int {
	var (
		p [8]r3.Vec
		v [8]float64
	)
	for i := range mcCorners {
		p[i] = mc.grid.Vertex(cube.Add(mcCorners[i]))
		v[i] = mc.field.Evaluate(p[i])
	}
	var buf [marchingCubesMaxTriangles]Triangle3
	n := mcToTriangles(buf[:], p, v, mc.grid.IsoLevel)
	for i := 0; i < n; i++ {
		dst.Emit(buf[i])
	}
	return n
}

// mcToTriangles writes the triangles of a cube with corner positions p and
// field values v into dst. dst must have room for marchingCubesMaxTriangles.
// Triangles whose vertices coincide at float32 precision or that have no
// area are discarded, so every emitted triangle survives STL encoding.
func mcToTriangles(dst []Triangle3, p [8]r3.Vec, v [8]float64, iso float64) int {
	index := 0
	for i := 0; i < 8; i++ {
		if v[i] < iso {
			index |= 1 << i
		}
	}
	n := 0
	for _, tri := range mcTriangleTable[index] {
		var t Triangle3
		for j, e := range tri {
			a, b := e[0], e[1]
			// a is below iso and b is not, so the denominator is positive.
			t.V[j] = d3.Lerp(p[a], p[b], (iso-v[a])/(v[b]-v[a]))
		}
		if t.degenerate32() || r3.Cross(r3.Sub(t.V[1], t.V[0]), r3.Sub(t.V[2], t.V[0])) == (r3.Vec{}) {
			continue
		}
		dst[n] = t
		n++
	}
	return n
}

// mcEdge is a cube edge given by two corner indices. The first corner is below
// the iso level, the second is not.
type mcEdge [2]uint8

// mcTriangle is a triangle whose vertices lie on three edges.
type mcTriangle [3]mcEdge

// mcCorners are the unit cube corner offsets. Bit i of a cube configuration
// corresponds to corner i.
var mcCorners = [8]isomesh.V3i{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// mcTetrahedra splits the cube into six tetrahedra sharing the 0-6 diagonal.
// Adjacent cubes split shared faces along the same diagonal so the surface is closed.
var mcTetrahedra = [6][4]uint8{
	{0, 1, 2, 6},
	{0, 1, 5, 6},
	{0, 3, 2, 6},
	{0, 3, 7, 6},
	{0, 4, 5, 6},
	{0, 4, 7, 6},
}

// mcTriangleTable maps a cube configuration to its triangles.
var mcTriangleTable [256][]mcTriangle

func init() {
	for cfg := range mcTriangleTable {
		mcTriangleTable[cfg] = mcConfigTriangles(uint8(cfg))
	}
}

func mcConfigTriangles(cfg uint8) (tris []mcTriangle) {
	for _, tet := range mcTetrahedra {
		var in, out []uint8
		for _, c := range tet {
			if cfg&(1<<c) != 0 {
				in = append(in, c)
			} else {
				out = append(out, c)
			}
		}
		switch len(in) {
		case 1:
			a := in[0]
			tris = append(tris, mcOrient(mcTriangle{{a, out[0]}, {a, out[1]}, {a, out[2]}}))
		case 2:
			a, b, c, d := in[0], in[1], out[0], out[1]
			// Quad ac-ad-bd-bc split in two.
			tris = append(tris,
				mcOrient(mcTriangle{{a, c}, {a, d}, {b, d}}),
				mcOrient(mcTriangle{{a, c}, {b, d}, {b, c}}),
			)
		case 3:
			d := out[0]
			tris = append(tris, mcOrient(mcTriangle{{in[0], d}, {in[1], d}, {in[2], d}}))
		}
	}
	return tris
}

// mcOrient orders the triangle so its normal points from the corners below
// the iso level towards the corners above it.
func mcOrient(t mcTriangle) mcTriangle {
	var p [3]r3.Vec
	for i, e := range t {
		p[i] = r3.Scale(0.5, r3.Add(mcCorners[e[0]].ToV3(), mcCorners[e[1]].ToV3()))
	}
	n := r3.Cross(r3.Sub(p[1], p[0]), r3.Sub(p[2], p[0]))
	outward := r3.Sub(mcCorners[t[0][1]].ToV3(), mcCorners[t[0][0]].ToV3())
	if r3.Dot(n, outward) < 0 {
		t[1], t[2] = t[2], t[1]
	}
	return t
}
