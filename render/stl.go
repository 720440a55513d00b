package render

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/chewxy/math32"
	pkgerrors "github.com/pkg/errors"
	"github.com/soypat/isomesh/internal/d3"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	stlHeaderSize   = 84
	stlTriangleSize = 50
	// stlNormalTol is the largest component difference between a stored
	// normal and the one calculated from the stored vertices.
	stlNormalTol = 5e-2
)

var (
	errCalculatedNormalMismatch = errors.New("STL triangle normal not approximately equal to normal calculated from vertices")
	errDegenerateTriangle       = errors.New("STL triangle has coincident vertices")
)

// CreateSTL writes all triangles read from r to a binary STL file at path.
func CreateSTL(path string, r Renderer) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "creating STL %q", path)
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	// Header is written last, once the triangle count is known.
	if _, err = file.Seek(stlHeaderSize, io.SeekStart); err != nil {
		return err
	}
	n, err := io.Copy(file, &stlStream{r: r})
	if err != nil {
		return pkgerrors.Wrapf(err, "writing STL %q", path)
	}
	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := stlHeader{Count: uint32(n / stlTriangleSize)}
	return binary.Write(file, binary.LittleEndian, &header)
}

// WriteSTL writes model triangles to a writer in STL file format.
func WriteSTL(w io.Writer, model []Triangle3) error {
	if len(model) == 0 {
		return errors.New("empty triangle slice")
	}
	header := stlHeader{Count: uint32(len(model))}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return err
	}
	var b [stlTriangleSize]byte
	for _, t := range model {
		stlFromTriangle3(t).put(b[:])
		if _, err := bw.Write(b[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSTL reads a binary STL. Triangles whose stored normal does not match
// the normal calculated from its vertices are returned along with an error
// that can be ignored with IsNormalMismatch.
func ReadSTL(r io.Reader) ([]Triangle3, error) {
	var header stlHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, pkgerrors.Wrap(err, "reading STL header")
	}
	if header.Count == 0 {
		return nil, errors.New("STL header indicates 0 triangles present")
	}
	var (
		buf        [stlTriangleSize]byte
		d          stlTriangle
		mismatches int
	)
	// Count is not trusted for preallocation beyond a sane size.
	output := make([]Triangle3, 0, min(int(header.Count), 1<<16))
	for i := 0; i < int(header.Count); i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, pkgerrors.Wrapf(err, "%d/%d STL triangles read", i, header.Count)
		}
		d.get(buf[:])
		err := d.validate()
		switch {
		case errors.Is(err, errCalculatedNormalMismatch):
			mismatches++
		case err != nil:
			return nil, pkgerrors.Wrapf(err, "STL triangle %d", i)
		}
		output = append(output, d.toTriangle3())
	}
	if mismatches > 0 {
		return output, fmt.Errorf("%d/%d triangles: %w", mismatches, header.Count, errCalculatedNormalMismatch)
	}
	return output, nil
}

// IsNormalMismatch returns true if err signals only a normal mismatch in ReadSTL.
func IsNormalMismatch(err error) bool {
	return errors.Is(err, errCalculatedNormalMismatch)
}

// stlHeader defines the STL file header.
type stlHeader struct {
	_     [80]uint8 // Header
	Count uint32    // Number of triangles
}

// stlTriangle is an STL triangle record: the normal followed by three vertices.
// The trailing attribute byte count is always zero.
type stlTriangle [4][3]float32

func stlFromTriangle3(t Triangle3) (d stlTriangle) {
	d[0] = vecTo3F32(t.Normal())
	for i, v := range t.V {
		d[i+1] = vecTo3F32(v)
	}
	return d
}

func (d stlTriangle) toTriangle3() Triangle3 {
	return Triangle3{V: [3]r3.Vec{
		vecFrom3F32(d[1]),
		vecFrom3F32(d[2]),
		vecFrom3F32(d[3]),
	}}
}

func (d stlTriangle) put(b []byte) {
	_ = b[stlTriangleSize-1] // early bounds check
	for i, v := range d {
		for j, f := range v {
			binary.LittleEndian.PutUint32(b[12*i+4*j:], math.Float32bits(f))
		}
	}
	binary.LittleEndian.PutUint16(b[48:], 0)
}

func (d *stlTriangle) get(b []byte) {
	_ = b[stlTriangleSize-1] // early bounds check
	for i := range d {
		for j := range d[i] {
			d[i][j] = math.Float32frombits(binary.LittleEndian.Uint32(b[12*i+4*j:]))
		}
	}
}

// validate checks a triangle read from an STL. It uses the same float32
// degeneracy rule as the mesher so every triangle it writes reads back.
func (d stlTriangle) validate() error {
	for _, v := range d {
		if !finite3F32(v) {
			return errors.New("inf/NaN STL triangle value")
		}
	}
	t := d.toTriangle3()
	if t.degenerate32() {
		return errDegenerateTriangle
	}
	n := t.Normal()
	stored := vecFrom3F32(d[0])
	if !d3.EqualWithin(n, stored, stlNormalTol) && !d3.EqualWithin(r3.Scale(-1, n), stored, stlNormalTol) {
		return errCalculatedNormalMismatch
	}
	return nil
}

func finite3F32(f [3]float32) bool {
	for _, v := range f {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func vecTo3F32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

func vecFrom3F32(f [3]float32) r3.Vec {
	return r3.Vec{X: float64(f[0]), Y: float64(f[1]), Z: float64(f[2])}
}

const trianglesInBuffer = 1 << 10

// stlStream encodes the triangles of a Renderer as STL triangle records.
type stlStream struct {
	r   Renderer
	buf [trianglesInBuffer]Triangle3
	eof bool
}

func (s *stlStream) Read(b []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	nt := min(len(b)/stlTriangleSize, len(s.buf))
	if nt == 0 {
		return 0, io.ErrShortBuffer
	}
	n, err := s.r.ReadTriangles(s.buf[:nt])
	for i, t := range s.buf[:n] {
		stlFromTriangle3(t).put(b[i*stlTriangleSize:])
	}
	if errors.Is(err, io.EOF) {
		s.eof = true
		if n == 0 {
			return 0, io.EOF
		}
		err = nil
	}
	return n * stlTriangleSize, err
}
