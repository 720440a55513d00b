package render

import (
	"errors"
	"io"
)

// RenderAll reads the full contents of a Renderer and returns the slice read.
// It does not return error on io.EOF.
func RenderAll(r Renderer) ([]Triangle3, error) {
	result := make([]Triangle3, 0, 1<<12)
	buf := make([]Triangle3, 1024)
	for {
		nt, err := r.ReadTriangles(buf)
		result = append(result, buf[:nt]...)
		if errors.Is(err, io.EOF) {
			return result, nil
		} else if err != nil {
			return result, err
		}
	}
}

// NewMeshReader returns a Renderer that reads back triangles.
func NewMeshReader(triangles []Triangle3) Renderer {
	return &triangle3Buffer{buf: triangles}
}

type triangle3Buffer struct {
	buf []Triangle3
}

// Read reads from this buffer.
func (b *triangle3Buffer) Read(t []Triangle3) int {
	n := copy(t, b.buf)
	b.buf = b.buf[n:]
	return n
}

// ReadTriangles implements Renderer.
func (b *triangle3Buffer) ReadTriangles(dst []Triangle3) (int, error) {
	if len(dst) == 0 {
		return 0, io.ErrShortBuffer
	}
	n := b.Read(dst)
	if b.Len() == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (b *triangle3Buffer) Len() int { return len(b.buf) }
