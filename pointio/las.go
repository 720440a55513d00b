package pointio

import (
	"github.com/edaniels/lidario"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReadLAS reads the point positions of a LAS lidar file.
func ReadLAS(path string) ([]r3.Vec, error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, errors.Wrapf(err, "opening LAS %q", path)
	}
	defer lf.Close()
	pts := make([]r3.Vec, lf.Header.NumberPoints)
	for i := range pts {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, errors.Wrapf(err, "LAS point %d", i)
		}
		data := p.PointData()
		pts[i] = r3.Vec{X: data.X, Y: data.Y, Z: data.Z}
	}
	return pts, nil
}

// WriteLAS writes pts to a LAS file with point format 0.
func WriteLAS(path string, pts []r3.Vec) (err error) {
	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return errors.Wrapf(err, "creating LAS %q", path)
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()
	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}
	for i, p := range pts {
		pr := &lidario.PointRecord0{
			X: p.X,
			Y: p.Y,
			Z: p.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}
		if err = lf.AddLasPoint(pr); err != nil {
			return errors.Wrapf(err, "LAS point %d", i)
		}
	}
	return nil
}
