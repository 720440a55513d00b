// Command isomesh reconstructs the iso surface of a point cloud distance
// field and writes it as a binary STL file.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/soypat/isomesh"
	"github.com/soypat/isomesh/pointio"
	"github.com/soypat/isomesh/preview"
	"github.com/soypat/isomesh/render"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	flagOutput     = "output"
	flagCells      = "cells"
	flagResolution = "resolution"
	flagIso        = "iso"
	flagIsoFactor  = "iso-factor"
	flagWorkers    = "workers"
	flagPreview    = "preview"
	flagDebug      = "debug"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "isomesh:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var logger *zap.Logger
	return &cli.App{
		Name:      "isomesh",
		Usage:     "mesh the iso surface around a point cloud",
		ArgsUsage: "INPUT(.xyz|.txt|.pcd|.las)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Value:   "out.stl",
				Usage:   "write STL mesh to `FILE`",
				EnvVars: []string{"ISOMESH_OUTPUT"},
			},
			&cli.IntFlag{
				Name:    flagCells,
				Value:   64,
				Usage:   "grid cells along the longest axis, ignored if resolution is set",
				EnvVars: []string{"ISOMESH_CELLS"},
			},
			&cli.Float64Flag{
				Name:    flagResolution,
				Usage:   "world size of a grid cell",
				EnvVars: []string{"ISOMESH_RESOLUTION"},
			},
			&cli.Float64Flag{
				Name:    flagIso,
				Usage:   "distance from the points at which the surface is built, estimated from point spacing if unset",
				EnvVars: []string{"ISOMESH_ISO"},
			},
			&cli.Float64Flag{
				Name:    flagIsoFactor,
				Value:   1.5,
				Usage:   "iso level in multiples of the median point spacing when iso is unset",
				EnvVars: []string{"ISOMESH_ISO_FACTOR"},
			},
			&cli.IntFlag{
				Name:    flagWorkers,
				Usage:   "maximum goroutines traversing the octree, 0 uses all CPUs",
				EnvVars: []string{"ISOMESH_WORKERS"},
			},
			&cli.StringFlag{
				Name:  flagPreview,
				Usage: "also render a PNG preview of the mesh to `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) (err error) {
			logger, err = newLogger(c.Bool(flagDebug))
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func run(c *cli.Context, logger *zap.Logger) error {
	if c.NArg() != 1 {
		return errors.New("expected a single input file")
	}
	input := c.Args().First()
	start := time.Now()
	pts, err := pointio.ReadFile(input)
	if err != nil {
		return err
	}
	logger.Info("loaded points", zap.String("file", input), zap.Int("points", len(pts)), zap.Duration("elapsed", time.Since(start)))

	field := isomesh.NewPointCloud(pts)
	iso := c.Float64(flagIso)
	if !c.IsSet(flagIso) {
		iso, err = isomesh.IsoLevelFor(field, c.Float64(flagIsoFactor))
		if err != nil {
			return errors.Wrap(err, "estimating iso level")
		}
		logger.Info("estimated iso level", zap.Float64("iso", iso))
	}
	var grid isomesh.Grid
	if res := c.Float64(flagResolution); res > 0 {
		grid, err = isomesh.FitGrid(field, res, iso)
	} else {
		grid, err = isomesh.FitGridCells(field, c.Int(flagCells), iso)
	}
	if err != nil {
		return errors.Wrap(err, "fitting grid")
	}
	logger.Debug("grid", zap.Int("edge", grid.EdgeSize), zap.Float64("resolution", grid.Resolution),
		zap.Float64("iso", grid.IsoLevel), zap.Any("origin", grid.Origin))

	start = time.Now()
	oc, err := render.NewOctreeRenderer(field, grid,
		render.WithWorkers(c.Int(flagWorkers)),
		render.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	res := oc.Run()
	logger.Info("rendered", zap.Int("triangles", res.Count), zap.Int64("pruned", res.Stats.Pruned), zap.Duration("elapsed", time.Since(start)))

	if res.Count == 0 {
		return errors.Errorf("no surface found at iso level %g", iso)
	}
	output := c.String(flagOutput)
	if err := render.CreateSTL(output, render.NewMeshReader(res.Triangles)); err != nil {
		return err
	}
	logger.Info("wrote mesh", zap.String("file", output))

	if png := c.String(flagPreview); png != "" {
		if err := preview.STLToPNG(output, png, preview.DefaultView); err != nil {
			return errors.Wrap(err, "rendering preview")
		}
		logger.Info("wrote preview", zap.String("file", png))
	}
	return nil
}
