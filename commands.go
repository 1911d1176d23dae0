package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/config"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
	"github.com/chazu/meshcmp/pkg/register"
)

// cli holds flag values and the App built from them.
type cli struct {
	configPath string
	flags      config.Flags
	app        *App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:               "meshcmp",
		Short:             "Decode, align and compare triangle meshes",
		Long:              "meshcmp reads STL, OBJ and (through an external converter) STEP/IGES files, registers one mesh onto another with ICP and reports vertex distances and matches as JSON.",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "JSON config file")
	pf.StringVar(&c.flags.WorkDir, "work-dir", "", "directory for uploads and CAD conversion temp files")
	pf.IntVar(&c.flags.Workers, "workers", 0, "worker goroutines (default: number of CPUs)")
	pf.StringVar(&c.flags.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.Float64Var(&c.flags.MatchThreshold, "match-threshold", 0, "vertex match distance")
	pf.Float64Var(&c.flags.ICPThreshold, "icp-threshold", 0, "ICP correspondence distance")
	pf.IntVar(&c.flags.MaxIterations, "max-iterations", 0, "ICP iteration cap")
	pf.StringVar(&c.flags.Sampling, "sampling", "", "ICP sampling: stride or surface")
	pf.StringVar(&c.flags.Kernel, "kernel", "", "geometry kernel: sdfx or manifold")
	pf.StringVar(&c.flags.Converter, "converter", "", `CAD converter command, e.g. "freecadcmd step2stl.py {in} {out}"`)

	root.AddCommand(
		c.inspectCmd(),
		c.distanceCmd(),
		c.matchCmd(),
		c.alignCmd(),
		c.runCmd(),
		c.primitiveCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return err
		}
	}
	cfg.Resolve(c.flags)

	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)})
	logging.SetLogger(slog.New(h))

	c.app = NewApp(cmd.Context(), cfg)
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadPair decodes two files given on the command line.
func (c *cli) loadPair(a, b string) (*mesh.Mesh, *mesh.Mesh, error) {
	ra, err := c.app.LoadFile(a)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", a, err)
	}
	rb, err := c.app.LoadFile(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", b, err)
	}
	return ra.Mesh, rb.Mesh, nil
}

type inspectOutput struct {
	File      string      `json:"file"`
	Format    string      `json:"format"`
	Vertices  int         `json:"vertices"`
	Triangles int         `json:"triangles"`
	Area      float64     `json:"area"`
	Min       [3]float64  `json:"min"`
	Max       [3]float64  `json:"max"`
	Canon     canon.Stats `json:"canonicalization"`
	Check     mesh.Report `json:"check"`
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Decode a mesh file and report its size, bounds and check findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.LoadFile(args[0])
			if err != nil {
				return err
			}
			m := res.Mesh
			lo, hi := m.Bounds()
			return writeJSON(cmd, inspectOutput{
				File:      args[0],
				Format:    res.Format.String(),
				Vertices:  m.VertexCount(),
				Triangles: m.TriangleCount(),
				Area:      m.Area(),
				Min:       [3]float64{lo.X, lo.Y, lo.Z},
				Max:       [3]float64{hi.X, hi.Y, hi.Z},
				Canon:     res.Stats,
				Check:     mesh.Check(m),
			})
		},
	}
}

func (c *cli) distanceCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "distance [a] [b]",
		Short: "Nearest-vertex distance statistics from mesh a to mesh b",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := c.loadPair(args[0], args[1])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cap") {
				limit = c.app.cfg.DistanceCap
			}
			st, err := compare.MeshDistance(a, b, limit, c.app.cfg.Workers)
			if err != nil {
				return err
			}
			return writeJSON(cmd, st)
		},
	}
	cmd.Flags().IntVar(&limit, "cap", 0, "distances to list (-1 for all; default from config)")
	return cmd
}

func (c *cli) matchCmd() *cobra.Command {
	var threshold float64
	var flags bool
	cmd := &cobra.Command{
		Use:   "match [a] [b]",
		Short: "Flag vertices of each mesh within a threshold of the other",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := c.loadPair(args[0], args[1])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = c.app.cfg.MatchThreshold
			}
			res, err := compare.MatchVertices(a, b, threshold, c.app.cfg.Workers)
			if err != nil {
				return err
			}
			if !flags {
				return writeJSON(cmd, res.Stats)
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "match distance (default from config)")
	cmd.Flags().BoolVar(&flags, "flags", false, "include per-vertex match flags")
	return cmd
}

func (c *cli) alignCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "align [fixed] [moving]",
		Short: "Register moving onto fixed with ICP and print the transform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixed, moving, err := c.loadPair(args[0], args[1])
			if err != nil {
				return err
			}
			res, aligned, err := register.Register(fixed, moving, c.app.icp)
			if err != nil {
				return err
			}
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := stl.EncodeMesh(f, aligned); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the aligned moving mesh as binary STL")
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [script]",
		Short: "Evaluate a comparison session; load-mesh paths are relative to the script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			res := c.app.runScript(c.app.newEngine(filepath.Dir(abs)), string(src))
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%s: %s", args[0], res.Errors[0].Message)
			}
			return nil
		},
	}
}

func (c *cli) primitiveCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "primitive box|cylinder|sphere [dimensions...] --out file.stl",
		Short: "Tessellate a centered primitive to binary STL",
		Long:  "box takes x y z, cylinder takes height radius, sphere takes radius.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dims := make([]float64, len(args)-1)
			for i, s := range args[1:] {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return fmt.Errorf("dimension %d: %w", i+1, err)
				}
				dims[i] = v
			}
			s, err := primitive(c.app.kernel, args[0], dims)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := kernel.WriteSTL(f, c.app.kernel, s); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			lo, hi := s.BoundingBox()
			return writeJSON(cmd, map[string]any{"out": out, "min": lo, "max": hi})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output STL path")
	cmd.MarkFlagRequired("out")
	return cmd
}

func primitive(k kernel.Kernel, kind string, dims []float64) (kernel.Solid, error) {
	want := map[string]int{"box": 3, "cylinder": 2, "sphere": 1}
	n, ok := want[kind]
	if !ok {
		return nil, fmt.Errorf("unknown primitive %q (want box, cylinder or sphere)", kind)
	}
	if len(dims) != n {
		return nil, fmt.Errorf("%s takes %d dimensions, got %d", kind, n, len(dims))
	}
	switch kind {
	case "box":
		return k.Box(dims[0], dims[1], dims[2])
	case "cylinder":
		return k.Cylinder(dims[0], dims[1])
	default:
		return k.Sphere(dims[0])
	}
}
