package pointio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"gonum.org/v1/gonum/spatial/r3"
)

type pcdData int

const (
	pcdASCII pcdData = iota
	pcdBinary
	pcdBinaryCompressed
)

type pcdHeader struct {
	fields []string
	size   []int
	typ    []string
	count  []int
	width  int
	height int
	points int
	data   pcdData
	// Index of x, y and z in fields.
	xyz [3]int
}

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// ReadPCD reads the x, y and z fields of an ascii, binary or
// binary_compressed point cloud data file. Other fields are skipped.
func ReadPCD(r io.Reader) ([]r3.Vec, error) {
	in := bufio.NewReader(r)
	var header pcdHeader
	for i := 0; i < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "reading pcd header line %d", i)
		}
		line, _, _ = strings.Cut(line, commentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := header.parseLine(line, pcdHeaderFields[i]); err != nil {
			return nil, err
		}
		i++
	}
	if err := header.locateXYZ(); err != nil {
		return nil, err
	}
	switch header.data {
	case pcdASCII:
		return readPCDASCII(in, &header)
	case pcdBinary:
		return readPCDBinary(in, &header)
	default:
		return readPCDCompressed(in, &header)
	}
}

func (h *pcdHeader) parseLine(line, name string) (err error) {
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return fmt.Errorf("pcd header line should start with %s, got %q", name, line)
	}
	tokens := strings.Fields(value)
	ints := func() ([]int, error) {
		if len(tokens) != len(h.fields) {
			return nil, fmt.Errorf("pcd %s has %d entries, want %d", name, len(tokens), len(h.fields))
		}
		v := make([]int, len(tokens))
		for i, tok := range tokens {
			v[i], err = strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("invalid pcd %s entry %q", name, tok)
			}
		}
		return v, nil
	}
	switch name {
	case "VERSION":
		// All versions share the layout read here.
	case "FIELDS":
		h.fields = tokens
	case "SIZE":
		h.size, err = ints()
	case "TYPE":
		if len(tokens) != len(h.fields) {
			return fmt.Errorf("pcd TYPE has %d entries, want %d", len(tokens), len(h.fields))
		}
		h.typ = tokens
	case "COUNT":
		h.count, err = ints()
	case "WIDTH":
		h.width, err = strconv.Atoi(value)
	case "HEIGHT":
		h.height, err = strconv.Atoi(value)
	case "VIEWPOINT":
		// Points are read in sensor frame.
	case "POINTS":
		h.points, err = strconv.Atoi(value)
		if err == nil && h.points != h.width*h.height {
			err = fmt.Errorf("pcd POINTS %d does not match WIDTH*HEIGHT %d", h.points, h.width*h.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			h.data = pcdASCII
		case "binary":
			h.data = pcdBinary
		case "binary_compressed":
			h.data = pcdBinaryCompressed
		default:
			err = fmt.Errorf("unknown pcd DATA %q", value)
		}
	}
	return err
}

func (h *pcdHeader) locateXYZ() error {
	h.xyz = [3]int{-1, -1, -1}
	for i, f := range h.fields {
		switch f {
		case "x":
			h.xyz[0] = i
		case "y":
			h.xyz[1] = i
		case "z":
			h.xyz[2] = i
		}
	}
	for i, idx := range h.xyz {
		if idx < 0 {
			return fmt.Errorf("pcd missing field %q", "xyz"[i:i+1])
		}
		if h.count[idx] != 1 {
			return fmt.Errorf("pcd field %q must have COUNT 1", h.fields[idx])
		}
	}
	return nil
}

func readPCDASCII(in *bufio.Reader, h *pcdHeader) ([]r3.Vec, error) {
	columns := 0
	for _, c := range h.count {
		columns += c
	}
	// Column of each field's first value.
	col := make([]int, len(h.fields))
	for i := 1; i < len(h.fields); i++ {
		col[i] = col[i-1] + h.count[i-1]
	}
	pts := make([]r3.Vec, 0, h.points)
	sc := bufio.NewScanner(in)
	for len(pts) < h.points && sc.Scan() {
		tokens := strings.Fields(sc.Text())
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) != columns {
			return nil, fmt.Errorf("pcd point %d has %d values, want %d", len(pts), len(tokens), columns)
		}
		var xyz [3]float64
		for i, idx := range h.xyz {
			v, err := strconv.ParseFloat(tokens[col[idx]], 64)
			if err != nil {
				return nil, fmt.Errorf("pcd point %d: %w", len(pts), err)
			}
			xyz[i] = v
		}
		pts = append(pts, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(pts) != h.points {
		return nil, fmt.Errorf("pcd declares %d points, read %d", h.points, len(pts))
	}
	return pts, nil
}

func (h *pcdHeader) checkFloatXYZ() error {
	for _, idx := range h.xyz {
		if h.typ[idx] != "F" || (h.size[idx] != 4 && h.size[idx] != 8) {
			return fmt.Errorf("pcd field %q must be F4 or F8", h.fields[idx])
		}
	}
	return nil
}

func decodePCDFloat(b []byte, size int) float64 {
	if size == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func readPCDBinary(in *bufio.Reader, h *pcdHeader) ([]r3.Vec, error) {
	if err := h.checkFloatXYZ(); err != nil {
		return nil, err
	}
	// Byte offset of each field within a point record.
	off := make([]int, len(h.fields))
	stride := 0
	for i := range h.fields {
		off[i] = stride
		stride += h.size[i] * h.count[i]
	}
	record := make([]byte, stride)
	pts := make([]r3.Vec, h.points)
	for i := range pts {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, errors.Wrapf(err, "pcd point %d", i)
		}
		var xyz [3]float64
		for j, idx := range h.xyz {
			xyz[j] = decodePCDFloat(record[off[idx]:], h.size[idx])
		}
		pts[i] = r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}
	return pts, nil
}

// readPCDCompressed reads LZF compressed data. Uncompressed data is stored
// field by field: all values of the first field, then all of the second.
func readPCDCompressed(in *bufio.Reader, h *pcdHeader) ([]r3.Vec, error) {
	if err := h.checkFloatXYZ(); err != nil {
		return nil, err
	}
	var sizes [2]uint32
	if err := binary.Read(in, binary.LittleEndian, &sizes); err != nil {
		return nil, errors.Wrap(err, "pcd compressed sizes")
	}
	compressedSize, size := int(sizes[0]), int(sizes[1])
	// Start of each field's column.
	off := make([]int, len(h.fields))
	want := 0
	for i := range h.fields {
		off[i] = want
		want += h.points * h.size[i] * h.count[i]
	}
	if size != want {
		return nil, fmt.Errorf("pcd uncompressed size %d, want %d", size, want)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "pcd compressed data")
	}
	data := make([]byte, size)
	if size > 0 {
		n, err := lzf.Decompress(compressed, data)
		if err != nil {
			return nil, errors.Wrap(err, "pcd decompress")
		}
		if n != size {
			return nil, fmt.Errorf("pcd decompressed %d bytes, want %d", n, size)
		}
	}
	pts := make([]r3.Vec, h.points)
	for i := range pts {
		var xyz [3]float64
		for j, idx := range h.xyz {
			sz := h.size[idx]
			xyz[j] = decodePCDFloat(data[off[idx]+i*sz:], sz)
		}
		pts[i] = r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}
	return pts, nil
}

// WritePCDCompressed writes pts as an LZF compressed point cloud data
// file with float64 x, y and z fields.
func WritePCDCompressed(w io.Writer, pts []r3.Vec) error {
	n := len(pts)
	data := make([]byte, 3*8*n)
	for i, p := range pts {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(data[8*(n+i):], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(data[8*(2*n+i):], math.Float64bits(p.Z))
	}
	var compressed []byte
	if len(data) > 0 {
		// Incompressible input grows by at most one byte every 32.
		compressed = make([]byte, len(data)+len(data)/16+64)
		c, err := lzf.Compress(data, compressed)
		if err != nil {
			return errors.Wrap(err, "pcd compress")
		}
		compressed = compressed[:c]
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "VERSION .7\nFIELDS x y z\nSIZE 8 8 8\nTYPE F F F\nCOUNT 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA binary_compressed\n", n, n)
	sizes := [2]uint32{uint32(len(compressed)), uint32(len(data))}
	if err := binary.Write(bw, binary.LittleEndian, sizes); err != nil {
		return err
	}
	if _, err := bw.Write(compressed); err != nil {
		return err
	}
	return bw.Flush()
}

// WritePCD writes pts as an ascii point cloud data file with x, y and z fields.
func WritePCD(w io.Writer, pts []r3.Vec) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "VERSION .7\nFIELDS x y z\nSIZE 8 8 8\nTYPE F F F\nCOUNT 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", len(pts), len(pts))
	if err := WriteXYZ(bw, pts); err != nil {
		return err
	}
	return bw.Flush()
}
