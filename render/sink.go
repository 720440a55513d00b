package render

import "sync"

// TriangleSink receives triangles produced by a CubeBuilder.
type TriangleSink interface {
	Emit(t Triangle3)
}

var (
	_ TriangleSink = (*TriangleBuffer)(nil)
	_ TriangleSink = (*triangleBatch)(nil)
)

// TriangleBuffer is a growable triangle collection safe for concurrent use.
// The order of triangles written from different goroutines is unspecified.
type TriangleBuffer struct {
	mu  sync.Mutex
	buf []Triangle3
}

// NewTriangleBuffer returns an empty buffer with room for capacity triangles.
func NewTriangleBuffer(capacity int) *TriangleBuffer {
	return &TriangleBuffer{buf: make([]Triangle3, 0, capacity)}
}

// Emit appends a single triangle to the buffer.
func (b *TriangleBuffer) Emit(t Triangle3) {
	b.mu.Lock()
	b.buf = append(b.buf, t)
	b.mu.Unlock()
}

// Write appends triangles to the buffer under a single lock acquisition.
func (b *TriangleBuffer) Write(t []Triangle3) int {
	b.mu.Lock()
	b.buf = append(b.buf, t...)
	b.mu.Unlock()
	return len(t)
}

// Len returns the number of triangles in the buffer.
func (b *TriangleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Triangles returns the buffer contents. The returned slice must not be
// modified and is only stable once all writers are done.
func (b *TriangleBuffer) Triangles() []Triangle3 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf[:len(b.buf):len(b.buf)]
}

// triangleBatch collects the triangles of a single goroutine before they
// are merged into a shared TriangleBuffer.
type triangleBatch []Triangle3

func (b *triangleBatch) Emit(t Triangle3) { *b = append(*b, t) }
