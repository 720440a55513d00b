// Package pointio reads and writes point clouds used as isomesh fields.
package pointio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

const commentChar = "#"

// ReadFile returns the points stored in the file at path. The format is
// chosen by file extension: .xyz and .txt for whitespace separated
// coordinates, .pcd for point cloud data and .las for LAS lidar files.
func ReadFile(path string) ([]r3.Vec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".las" {
		return ReadLAS(path)
	}
	var read func(io.Reader) ([]r3.Vec, error)
	switch ext {
	case ".xyz", ".txt":
		read = ReadXYZ
	case ".pcd":
		read = ReadPCD
	default:
		return nil, errors.Errorf("do not know how to read file %q", path)
	}
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	pts, err := read(bufio.NewReader(fp))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return pts, nil
}

// WriteFile writes pts to path in the format selected by its extension, see ReadFile.
func WriteFile(path string, pts []r3.Vec) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".las" {
		return WriteLAS(path, pts)
	}
	var write func(io.Writer, []r3.Vec) error
	switch ext {
	case ".xyz", ".txt":
		write = WriteXYZ
	case ".pcd":
		write = WritePCD
	default:
		return errors.Errorf("do not know how to write file %q", path)
	}
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, fp.Close())
	}()
	return write(fp, pts)
}

// ReadXYZ reads one point per line as three whitespace separated numbers.
// Blank lines and text following a # are ignored. Extra columns are ignored.
func ReadXYZ(r io.Reader) ([]r3.Vec, error) {
	var pts []r3.Vec
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text, _, _ := strings.Cut(sc.Text(), commentChar)
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 coordinates, got %d", line, len(fields))
		}
		var xyz [3]float64
		for i := range xyz {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid coordinate %q: %w", line, fields[i], err)
			}
			xyz[i] = v
		}
		pts = append(pts, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return pts, sc.Err()
}

// WriteXYZ writes one point per line.
func WriteXYZ(w io.Writer, pts []r3.Vec) error {
	bw := bufio.NewWriter(w)
	for _, p := range pts {
		_, err := fmt.Fprintf(bw, "%s %s %s\n", formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
