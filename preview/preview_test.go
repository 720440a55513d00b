package preview_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/soypat/isomesh"
	"github.com/soypat/isomesh/preview"
	"github.com/soypat/isomesh/render"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/cmpimg"
)

const imgDelta = 0.0

func TestSTLToPNGParallelMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	field := isomesh.NewPointCloud([]r3.Vec{
		{X: 2, Y: 2, Z: 2},
		{X: 3.5, Y: 2.5, Z: 2},
		{X: 2.5, Y: 4, Z: 3},
	})
	grid, err := isomesh.FitGrid(field, 0.25, 1)
	if err != nil {
		t.Fatal(err)
	}
	view := preview.DefaultView
	view.Width, view.Height = 192, 108

	var pngs []string
	for _, workers := range []int{1, 4} {
		res, err := render.Render(field, grid, render.WithWorkers(workers))
		if err != nil {
			t.Fatal(err)
		}
		tris := append([]render.Triangle3(nil), res.Triangles...)
		sortTriangles(tris)
		name := filepath.Join(dir, "mesh"+string(rune('0'+workers)))
		if err := render.CreateSTL(name+".stl", render.NewMeshReader(tris)); err != nil {
			t.Fatal(err)
		}
		if err := preview.STLToPNG(name+".stl", name+".png", view); err != nil {
			t.Fatal(err)
		}
		pngs = append(pngs, name+".png")
	}
	if !equalImages(t, pngs[0], pngs[1]) {
		t.Error("parallel and sequential meshes render differently")
	}
}

func TestSTLToPNGErrors(t *testing.T) {
	dir := t.TempDir()
	if err := preview.STLToPNG(filepath.Join(dir, "missing.stl"), filepath.Join(dir, "out.png"), preview.DefaultView); err == nil {
		t.Error("expected error for missing STL")
	}
	view := preview.DefaultView
	view.Width = 0
	if err := preview.STLToPNG(filepath.Join(dir, "missing.stl"), filepath.Join(dir, "out.png"), view); err == nil {
		t.Error("expected error for empty image size")
	}
}

func sortTriangles(tris []render.Triangle3) {
	cmpVec := func(a, b r3.Vec) int {
		switch {
		case a.X != b.X:
			return cmpFloat(a.X, b.X)
		case a.Y != b.Y:
			return cmpFloat(a.Y, b.Y)
		}
		return cmpFloat(a.Z, b.Z)
	}
	sort.Slice(tris, func(i, j int) bool {
		for k := range tris[i].V {
			if c := cmpVec(tris[i].V[k], tris[j].V[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equalImages(t *testing.T, png1, png2 string) bool {
	b1, err := os.ReadFile(png1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(png2)
	if err != nil {
		t.Fatal(err)
	}
	equal, err := cmpimg.EqualApprox("png", b1, b2, imgDelta)
	if err != nil {
		t.Fatal(err)
	}
	return equal
}
