package render

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/soypat/isomesh"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// leafEdge is the block edge below which blocks are decomposed into unit cubes.
const leafEdge = 3

// Octree renders the iso surface of a field using marching cubes on an
// octree of grid blocks. Blocks that can not contain the surface are pruned
// and the eight children of every other block are traversed concurrently.
//
// Run may be called from several goroutines, runs are serialized.
// ReadTriangles is not safe for concurrent use.
type Octree struct {
	grid    isomesh.Grid
	field   isomesh.Field
	builder CubeBuilder
	log     *zap.Logger
	workers int

	// runMu serializes runs, which share the fields below.
	runMu sync.Mutex
	// sem bounds the number of goroutines traversing at once. A goroutine
	// holds one slot while it works and gives it up while joining children.
	sem   *semaphore.Weighted
	sink  *TriangleBuffer
	stats octreeStats

	// unwritten holds triangles of a finished run not yet consumed by ReadTriangles.
	unwritten triangle3Buffer
	done      bool
}

// Option configures an Octree.
type Option func(*Octree)

// WithWorkers sets the maximum number of goroutines traversing the octree
// at once, the calling goroutine included. n < 1 selects runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(oc *Octree) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		oc.workers = n
	}
}

// WithBuilder replaces the default marching cubes CubeBuilder.
func WithBuilder(b CubeBuilder) Option {
	return func(oc *Octree) { oc.builder = b }
}

// WithLogger sets the logger used to report traversal statistics.
func WithLogger(l *zap.Logger) Option {
	return func(oc *Octree) {
		if l != nil {
			oc.log = l
		}
	}
}

// NewOctreeRenderer returns an octree renderer of f over the grid g.
func NewOctreeRenderer(f isomesh.Field, g isomesh.Grid, opts ...Option) (*Octree, error) {
	if f == nil {
		return nil, errors.New("nil field")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	oc := &Octree{
		grid:    g,
		field:   f,
		log:     zap.NewNop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(oc)
	}
	if oc.builder == nil {
		oc.builder = NewMarchingCubes(f, g)
	}
	return oc, nil
}

// Result is the outcome of a complete octree traversal.
type Result struct {
	// Count is the number of triangles reported by the cube builder.
	// It is always equal to len(Triangles).
	Count int
	// Triangles of the surface in no particular order. Read only.
	Triangles []Triangle3
	Stats     Stats
}

// Stats counts the work done during a traversal.
type Stats struct {
	// Blocks is the number of blocks whose center was evaluated.
	Blocks int64
	// Pruned is the number of blocks discarded without descending into them.
	Pruned int64
	// Cubes is the number of unit cubes handed to the cube builder.
	Cubes int64
	// Goroutines is the number of goroutines spawned for child blocks.
	Goroutines int64
}

type octreeStats struct {
	blocks     atomic.Int64
	pruned     atomic.Int64
	cubes      atomic.Int64
	goroutines atomic.Int64
}

func (s *octreeStats) snapshot() Stats {
	return Stats{
		Blocks:     s.blocks.Load(),
		Pruned:     s.pruned.Load(),
		Cubes:      s.cubes.Load(),
		Goroutines: s.goroutines.Load(),
	}
}

// reset prepares the octree for a new traversal.
func (oc *Octree) reset() {
	oc.stats.reset()
	oc.sink = NewTriangleBuffer(1024)
	oc.sem = semaphore.NewWeighted(int64(oc.workers))
	// The calling goroutine is the first worker.
	oc.sem.TryAcquire(1)
}

func (s *octreeStats) reset() {
	s.blocks.Store(0)
	s.pruned.Store(0)
	s.cubes.Store(0)
	s.goroutines.Store(0)
}

// Run traverses the whole grid and returns the triangles of the surface.
// The octree may be run more than once, each run starts with an empty buffer.
func (oc *Octree) Run() Result {
	oc.runMu.Lock()
	defer oc.runMu.Unlock()
	start := time.Now()
	oc.reset()
	count := oc.traverse(oc.grid.EdgeSize, isomesh.V3i{})
	oc.sem.Release(1)

	res := Result{
		Count:     count,
		Triangles: oc.sink.Triangles(),
		Stats:     oc.stats.snapshot(),
	}
	oc.log.Debug("octree traversal done",
		zap.Int("triangles", res.Count),
		zap.Int("edge", oc.grid.EdgeSize),
		zap.Int("workers", oc.workers),
		zap.Int64("blocks", res.Stats.Blocks),
		zap.Int64("pruned", res.Stats.Pruned),
		zap.Int64("cubes", res.Stats.Cubes),
		zap.Int64("goroutines", res.Stats.Goroutines),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

// ReadTriangles writes rendered triangles into dst. The first call runs the
// traversal. It returns io.EOF once all triangles have been read.
func (oc *Octree) ReadTriangles(dst []Triangle3) (n int, err error) {
	if len(dst) == 0 {
		return 0, io.ErrShortBuffer
	}
	if !oc.done {
		res := oc.Run()
		oc.unwritten = triangle3Buffer{buf: res.Triangles}
		oc.done = true
	}
	n = oc.unwritten.Read(dst)
	if oc.unwritten.Len() == 0 {
		err = io.EOF
	}
	return n, err
}

// traverse returns the number of triangles in the block of edge cells at
// grid offset off. Triangles are written to the octree's sink.
func (oc *Octree) traverse(edge int, off isomesh.V3i) int {
	oc.stats.blocks.Inc()
	center := oc.grid.BlockCenter(edge, off)
	// The distance field changes no faster than the distance travelled, so no
	// point in the block is closer to the surface than this bound allows.
	if oc.field.Evaluate(center) > oc.grid.IsoLevel+oc.grid.BlockRadius(edge) {
		oc.stats.pruned.Inc()
		return 0
	}
	if edge < leafEdge {
		return oc.leaf(edge, off)
	}

	half := edge / 2
	var (
		counts  [8]int
		wg      sync.WaitGroup
		spawned bool
	)
	for i := 0; i < 8; i++ {
		child := off.Add(isomesh.V3i{i & 1, (i >> 1) & 1, (i >> 2) & 1}.Scale(half))
		if !oc.sem.TryAcquire(1) {
			// No free worker, process child in this goroutine.
			counts[i] = oc.traverse(half, child)
			continue
		}
		oc.stats.goroutines.Inc()
		spawned = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer oc.sem.Release(1)
			counts[i] = oc.traverse(half, child)
		}()
	}
	if spawned {
		// Waiting goroutines do no work, their slot goes to another block.
		oc.sem.Release(1)
		wg.Wait()
		// Acquire does not fail with a background context.
		_ = oc.sem.Acquire(context.Background(), 1)
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

// leaf delegates every unit cube of the block to the cube builder.
// Triangles are collected locally and written to the sink once.
func (oc *Octree) leaf(edge int, off isomesh.V3i) int {
	var (
		batch triangleBatch
		total int
	)
	n := edge * edge * edge
	for i := 0; i < n; i++ {
		cube := off.Add(isomesh.V3i{i % edge, (i / edge) % edge, i / (edge * edge)})
		total += oc.builder.BuildCube(&batch, cube)
	}
	oc.stats.cubes.Add(int64(n))
	if len(batch) > 0 {
		oc.sink.Write(batch)
	}
	return total
}

// Render runs a complete octree traversal of f over g.
func Render(f isomesh.Field, g isomesh.Grid, opts ...Option) (Result, error) {
	oc, err := NewOctreeRenderer(f, g, opts...)
	if err != nil {
		return Result{}, err
	}
	return oc.Run(), nil
}
