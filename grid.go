package isomesh

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/soypat/isomesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// halfSqrt3 is the circumradius of a unit cube.
const halfSqrt3 = 0.8660254037844386

// Grid is the immutable configuration of one octree traversal.
// Cell (i,j,k) of the grid spans world coordinates
// Origin + (i,j,k)*Resolution to Origin + (i+1,j+1,k+1)*Resolution.
type Grid struct {
	// EdgeSize is the number of cells along each side of the grid.
	// It must be a power of two so that octree halving tiles exactly.
	EdgeSize int
	// Resolution is the world size of a single grid cell.
	Resolution float64
	// IsoLevel is the field value of the reconstructed surface.
	IsoLevel float64
	// Origin is the world position of grid vertex (0,0,0).
	Origin r3.Vec
}

// Validate returns a non-nil error if the grid can not be traversed.
func (g Grid) Validate() error {
	switch {
	case g.EdgeSize <= 0:
		return fmt.Errorf("grid edge size must be positive, got %d", g.EdgeSize)
	case !IsPow2(g.EdgeSize):
		return fmt.Errorf("grid edge size %d is not a power of two", g.EdgeSize)
	case g.Resolution <= 0 || math.IsNaN(g.Resolution) || math.IsInf(g.Resolution, 0):
		return fmt.Errorf("invalid grid resolution %g", g.Resolution)
	case math.IsNaN(g.IsoLevel) || math.IsInf(g.IsoLevel, 0):
		return errors.New("iso level must be finite")
	case d3.NaNOrInf(g.Origin):
		return errors.New("grid origin must be finite")
	}
	return nil
}

// Vertex returns the world position of grid vertex v.
func (g Grid) Vertex(v V3i) r3.Vec {
	return r3.Add(g.Origin, r3.Scale(g.Resolution, v.ToV3()))
}

// BlockCenter returns the world position of the center of the cubic block
// of edge cells anchored at grid offset off.
func (g Grid) BlockCenter(edge int, off V3i) r3.Vec {
	half := float64(edge) / 2
	return r3.Add(g.Origin, r3.Scale(g.Resolution, r3.Add(off.ToV3(), d3.Elem(half))))
}

// BlockRadius returns the radius of the sphere circumscribing a block of edge cells.
func (g Grid) BlockRadius(edge int) float64 {
	return halfSqrt3 * float64(edge) * g.Resolution
}

// Bounds returns the world box covered by the grid.
func (g Grid) Bounds() r3.Box {
	return r3.Box{
		Min: g.Origin,
		Max: g.Vertex(V3i{g.EdgeSize, g.EdgeSize, g.EdgeSize}),
	}
}

// FitGrid returns a grid of cell size resolution that covers the bounds of f
// padded so that the iso surface around the boundary features is not clipped.
// The grid edge is rounded up to a power of two.
func FitGrid(f Field, resolution, isoLevel float64) (Grid, error) {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return Grid{}, fmt.Errorf("invalid grid resolution %g", resolution)
	}
	bb := d3.Box(f.Bounds())
	pad := math.Abs(isoLevel) + resolution
	bb = bb.Grow(pad)
	// Tolerate rounding error so an exact fit does not double the edge.
	cells := int(math.Ceil(d3.Max(bb.Size())/resolution - 1e-9))
	if cells < 1 {
		cells = 1
	}
	if cells > 1<<20 {
		return Grid{}, fmt.Errorf("grid too fine: %d cells along longest axis", cells)
	}
	g := Grid{
		EdgeSize:   NextPow2(cells),
		Resolution: resolution,
		IsoLevel:   isoLevel,
		Origin:     bb.Min,
	}
	return g, g.Validate()
}

// FitGridCells is like FitGrid but chooses the resolution so that the
// longest axis of the padded bounds spans approximately cells grid cells.
func FitGridCells(f Field, cells int, isoLevel float64) (Grid, error) {
	if cells < 1 {
		return Grid{}, fmt.Errorf("cells must be positive, got %d", cells)
	}
	size := d3.Max(d3.Box(f.Bounds()).Size())
	// Padding is a function of resolution, solve for the resolution that fits.
	// size + 2*(|iso| + res) = cells*res
	if cells <= 2 {
		return Grid{}, errors.New("need at least 3 cells to fit grid padding")
	}
	res := (size + 2*math.Abs(isoLevel)) / float64(cells-2)
	if res == 0 {
		res = 1
	}
	return FitGrid(f, res, isoLevel)
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPow2 returns the smallest power of two greater or equal to n.
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
