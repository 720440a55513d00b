package render

import (
	"bytes"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/soypat/isomesh"
	"github.com/soypat/isomesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestMarchingCubes(t *testing.T) {
	max := 0
	for _, tri := range mcTriangleTable {
		if len(tri) > max {
			max = len(tri)
		}
	}
	if max != marchingCubesMaxTriangles {
		t.Errorf("mismatch marching cubes max triangles. got %d. want %d", max, marchingCubesMaxTriangles)
	}
	if len(mcTriangleTable[0]) != 0 || len(mcTriangleTable[255]) != 0 {
		t.Error("cubes fully inside or outside must not produce triangles")
	}
	for cfg, tris := range mcTriangleTable {
		if len(tris) != len(mcTriangleTable[255-cfg]) {
			t.Errorf("config %08b and its complement produce different triangle counts", cfg)
		}
		for _, tri := range tris {
			for _, e := range tri {
				if cfg&(1<<e[0]) == 0 || cfg&(1<<e[1]) != 0 {
					t.Fatalf("config %08b edge %v does not cross from inside to outside", cfg, e)
				}
			}
		}
	}
}

func TestMCToTrianglesInterpolation(t *testing.T) {
	var p [8]r3.Vec
	var v [8]float64
	for i, c := range mcCorners {
		p[i] = c.ToV3()
		// Plane field z - 0.25, iso surface at z = 0.25.
		v[i] = p[i].Z - 0.25
	}
	var dst [marchingCubesMaxTriangles]Triangle3
	n := mcToTriangles(dst[:], p, v, 0)
	if n == 0 {
		t.Fatal("expected triangles for plane crossing cube")
	}
	area := 0.0
	for _, tri := range dst[:n] {
		for _, vert := range tri.V {
			if math.Abs(vert.Z-0.25) > 1e-12 {
				t.Errorf("vertex %v not on plane z=0.25", vert)
			}
		}
		if nz := tri.Normal().Z; nz < 1-1e-9 {
			t.Errorf("normal %v should point towards increasing field", tri.Normal())
		}
		area += 0.5 * r3.Norm(r3.Cross(r3.Sub(tri.V[1], tri.V[0]), r3.Sub(tri.V[2], tri.V[0])))
	}
	if math.Abs(area-1) > 1e-9 {
		t.Errorf("plane section area got %g, want 1", area)
	}
}

func TestMCToTrianglesFloat32Sliver(t *testing.T) {
	var p [8]r3.Vec
	var v [8]float64
	const iso = 0.5
	for i, c := range mcCorners {
		p[i] = r3.Add(c.ToV3(), r3.Vec{X: 2, Y: 2, Z: 2})
		v[i] = iso + 1
	}
	var dst [marchingCubesMaxTriangles]Triangle3
	// Corner 0 just below iso: all vertices round to it in float32.
	v[0] = iso - 1e-12
	if n := mcToTriangles(dst[:], p, v, iso); n != 0 {
		t.Errorf("got %d sliver triangles at corner, want 0", n)
	}
	v[0] = iso - 0.5
	n := mcToTriangles(dst[:], p, v, iso)
	if n == 0 {
		t.Fatal("expected triangles cutting off corner")
	}
	for _, tri := range dst[:n] {
		if tri.degenerate32() {
			t.Errorf("triangle %v degenerate at float32 precision", tri)
		}
	}
}

type recordingBuilder struct {
	mu    sync.Mutex
	cubes []isomesh.V3i
}

func (b *recordingBuilder) BuildCube(dst TriangleSink, cube isomesh.V3i) int {
	b.mu.Lock()
	b.cubes = append(b.cubes, cube)
	b.mu.Unlock()
	return 0
}

func newTestOctree(t *testing.T, f isomesh.Field, g isomesh.Grid, opts ...Option) *Octree {
	t.Helper()
	oc, err := NewOctreeRenderer(f, g, opts...)
	if err != nil {
		t.Fatal(err)
	}
	oc.reset()
	return oc
}

func TestOctreeLeafEnumeration(t *testing.T) {
	field := isomesh.NewPointCloud([]r3.Vec{{}})
	grid := isomesh.Grid{EdgeSize: 8, Resolution: 1, IsoLevel: 1}
	for _, edge := range []int{1, 2} {
		for _, off := range []isomesh.V3i{{0, 0, 0}, {2, 4, 6}, {5, 1, 3}} {
			rec := &recordingBuilder{}
			oc := newTestOctree(t, field, grid, WithBuilder(rec))
			oc.leaf(edge, off)
			want := map[isomesh.V3i]bool{}
			for x := off[0]; x < off[0]+edge; x++ {
				for y := off[1]; y < off[1]+edge; y++ {
					for z := off[2]; z < off[2]+edge; z++ {
						want[isomesh.V3i{x, y, z}] = true
					}
				}
			}
			if len(rec.cubes) != len(want) {
				t.Errorf("edge %d offset %v: got %d cubes, want %d", edge, off, len(rec.cubes), len(want))
			}
			seen := map[isomesh.V3i]bool{}
			for _, c := range rec.cubes {
				if seen[c] {
					t.Errorf("edge %d offset %v: duplicate cube %v", edge, off, c)
				}
				seen[c] = true
				if !want[c] {
					t.Errorf("edge %d offset %v: cube %v outside block", edge, off, c)
				}
			}
			if got := oc.stats.cubes.Load(); got != int64(len(want)) {
				t.Errorf("cube stat got %d, want %d", got, len(want))
			}
		}
	}
}

func TestOctreePrunesFarBlock(t *testing.T) {
	const edge = 4
	grid := isomesh.Grid{EdgeSize: 16, Resolution: 1, IsoLevel: 0.5}
	// Block at origin of edge 4 has center (2,2,2) and circumradius 2*sqrt(3).
	center := grid.BlockCenter(edge, isomesh.V3i{})
	far := r3.Add(center, r3.Vec{X: grid.IsoLevel + grid.BlockRadius(edge) + 0.01})
	rec := &recordingBuilder{}
	oc := newTestOctree(t, isomesh.NewPointCloud([]r3.Vec{far}), grid, WithBuilder(rec), WithWorkers(4))

	if n := oc.traverse(edge, isomesh.V3i{}); n != 0 {
		t.Errorf("pruned block returned %d triangles", n)
	}
	if len(rec.cubes) != 0 {
		t.Errorf("pruned block delegated %d cubes", len(rec.cubes))
	}
	s := oc.stats.snapshot()
	if s.Blocks != 1 || s.Pruned != 1 || s.Goroutines != 0 {
		t.Errorf("pruned block should not descend, got stats %+v", s)
	}

	// A point just within reach must not be pruned.
	near := r3.Add(center, r3.Vec{X: grid.IsoLevel + grid.BlockRadius(edge) - 0.01})
	oc = newTestOctree(t, isomesh.NewPointCloud([]r3.Vec{near}), grid, WithBuilder(rec), WithWorkers(4))
	oc.traverse(edge, isomesh.V3i{})
	if oc.stats.pruned.Load() == oc.stats.blocks.Load() {
		t.Error("block within reach of the surface was pruned")
	}
}

func TestOctreeScenarioSinglePoint(t *testing.T) {
	grid := isomesh.Grid{EdgeSize: 8, Resolution: 1, IsoLevel: 0.5}
	field := isomesh.NewPointCloud([]r3.Vec{{X: 2, Y: 2, Z: 2}})
	rec := &countingBuilder{CubeBuilder: NewMarchingCubes(field, grid)}
	oc, err := NewOctreeRenderer(field, grid, WithBuilder(rec), WithWorkers(4))
	if err != nil {
		t.Fatal(err)
	}
	res := oc.Run()
	if res.Count == 0 {
		t.Fatal("expected triangles around field point")
	}
	if res.Count != len(res.Triangles) {
		t.Errorf("count %d does not match buffer length %d", res.Count, len(res.Triangles))
	}
	// Octant anchored at (4,4,4) has center (6,6,6), far from the point.
	for _, c := range rec.cubes {
		if c[0] >= 4 && c[1] >= 4 && c[2] >= 4 {
			t.Errorf("cube %v of far octant delegated", c)
		}
	}
	if res.Stats.Pruned == 0 {
		t.Error("expected pruned blocks")
	}
	if res.Stats.Cubes >= 8*8*8 {
		t.Errorf("no cubes pruned: %d delegated", res.Stats.Cubes)
	}
	for _, tri := range res.Triangles {
		for _, v := range tri.V {
			d := r3.Norm(r3.Sub(v, r3.Vec{X: 2, Y: 2, Z: 2}))
			if d > grid.IsoLevel+1e-9 {
				t.Errorf("vertex %v off iso surface: distance %g", v, d)
			}
		}
	}
}

func TestOctreeScenarioEdge4(t *testing.T) {
	grid := isomesh.Grid{EdgeSize: 4, Resolution: 1, IsoLevel: 0.5}
	field := isomesh.NewPointCloud([]r3.Vec{{X: 2, Y: 2, Z: 2}})
	res, err := Render(field, grid, WithWorkers(2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Count == 0 {
		t.Fatal("expected triangles around field point")
	}
	// Every edge 2 octant has center at distance sqrt(3) from the point,
	// within reach of 0.5+sqrt(3), so all 8 descend to leaf cubes.
	want := Stats{Blocks: 9, Pruned: 0, Cubes: 64}
	got := res.Stats
	got.Goroutines = 0
	if got != want {
		t.Errorf("got stats %+v, want %+v", got, want)
	}
}

type countingBuilder struct {
	CubeBuilder
	mu    sync.Mutex
	cubes []isomesh.V3i
}

func (b *countingBuilder) BuildCube(dst TriangleSink, cube isomesh.V3i) int {
	b.mu.Lock()
	b.cubes = append(b.cubes, cube)
	b.mu.Unlock()
	return b.CubeBuilder.BuildCube(dst, cube)
}

func TestOctreeClosedSurface(t *testing.T) {
	center := r3.Vec{X: 4.1, Y: 3.9, Z: 4.2}
	field := isomesh.NewPointCloud([]r3.Vec{center})
	grid := isomesh.Grid{EdgeSize: 8, Resolution: 1, IsoLevel: 2.3}
	res, err := Render(field, grid, WithWorkers(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Count == 0 {
		t.Fatal("no triangles")
	}
	directed := make(map[[2]r3.Vec]int)
	outward := 0
	for _, tri := range res.Triangles {
		for i := range tri.V {
			directed[[2]r3.Vec{tri.V[i], tri.V[(i+1)%3]}]++
		}
		centroid := r3.Scale(1./3, r3.Add(tri.V[0], r3.Add(tri.V[1], tri.V[2])))
		if r3.Dot(tri.Normal(), r3.Sub(centroid, center)) > 0 {
			outward++
		}
	}
	for e, n := range directed {
		if n != 1 {
			t.Fatalf("directed edge %v used %d times", e, n)
		}
		if directed[[2]r3.Vec{e[1], e[0]}] != 1 {
			t.Fatalf("edge %v has no opposite half edge, surface not closed", e)
		}
	}
	if outward < res.Count*9/10 {
		t.Errorf("only %d of %d triangle normals point away from the point", outward, res.Count)
	}
}

func TestSTLWriteReadback(t *testing.T) {
	const tol = 1e-5
	field := isomesh.NewPointCloud([]r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 2.5, Y: 1.5, Z: 1}})
	grid := isomesh.Grid{EdgeSize: 16, Resolution: 0.25, IsoLevel: 0.7}
	res, err := Render(field, grid)
	if err != nil {
		t.Fatal(err)
	}
	input := res.Triangles
	var b bytes.Buffer
	err = WriteSTL(&b, input)
	if err != nil {
		t.Fatal(err)
	}
	output, err := ReadSTL(&b)
	if err != nil && !IsNormalMismatch(err) {
		t.Fatal(err)
	}
	if len(output) != len(input) {
		t.Fatal("length of triangles written/read not equal")
	}
	mismatches := 0
	for iface, expect := range input {
		got := output[iface]
		for i := range expect.V {
			if !d3.EqualWithin(got.V[i], expect.V[i], tol) {
				mismatches++
				t.Errorf("%dth triangle equality out of tolerance. got vertex %0.5g, want %0.5g", iface, got.V[i], expect.V[i])
			}
		}
		if mismatches > 10 {
			t.Fatal("too many mismatches")
		}
	}
}

func TestTriangleBufferConcurrentWrites(t *testing.T) {
	buf := NewTriangleBuffer(0)
	var wg sync.WaitGroup
	const goroutines, perG = 8, 500
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var batch triangleBatch
			for i := 0; i < perG; i++ {
				tri := Triangle3{V: [3]r3.Vec{{X: float64(g)}, {Y: float64(i)}, {Z: 1}}}
				if i%2 == 0 {
					buf.Emit(tri)
				} else {
					batch.Emit(tri)
				}
			}
			buf.Write(batch)
		}()
	}
	wg.Wait()
	if buf.Len() != goroutines*perG {
		t.Fatalf("got %d triangles, want %d", buf.Len(), goroutines*perG)
	}
	keys := make([]float64, 0, buf.Len())
	for _, tri := range buf.Triangles() {
		keys = append(keys, tri.V[0].X*perG+tri.V[1].Y)
	}
	sort.Float64s(keys)
	for i, k := range keys {
		if k != float64(i) {
			t.Fatalf("triangle %g lost or duplicated", float64(i))
		}
	}
}
