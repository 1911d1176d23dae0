package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	zygo "github.com/glycerine/zygomys/zygo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio"
	"github.com/chazu/meshcmp/pkg/register"
)

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpMesh wraps a mesh returned by load-mesh, tessellate or aligned.
type sexpMesh struct {
	m *mesh.Mesh
}

func (s *sexpMesh) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(mesh %q %dv %dt)", s.m.Name, s.m.VertexCount(), s.m.TriangleCount())
}
func (s *sexpMesh) Type() *zygo.RegisteredType { return nil }

// sexpSolid wraps a kernel solid.
type sexpSolid struct {
	s kernel.Solid
}

func (s *sexpSolid) SexpString(ps *zygo.PrintState) string {
	lo, hi := s.s.BoundingBox()
	return fmt.Sprintf("(solid %.1fx%.1fx%.1f)", hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2])
}
func (s *sexpSolid) Type() *zygo.RegisteredType { return nil }

type sexpDistance struct {
	stats compare.DistanceStats
}

func (d *sexpDistance) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(distance :mean %g :max %g)", d.stats.Mean, d.stats.Max)
}
func (d *sexpDistance) Type() *zygo.RegisteredType { return nil }

type sexpMatch struct {
	res compare.MatchResult
}

func (m *sexpMatch) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(match :a %.1f%% :b %.1f%%)", m.res.Stats.PercentMatchingA, m.res.Stats.PercentMatchingB)
}
func (m *sexpMatch) Type() *zygo.RegisteredType { return nil }

// sexpAlignment carries an ICP result and the moving mesh it produced.
type sexpAlignment struct {
	res     register.Result
	aligned *mesh.Mesh
}

func (a *sexpAlignment) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(alignment :fitness %g :rmse %g)", a.res.Fitness, a.res.InlierRMSE)
}
func (a *sexpAlignment) Type() *zygo.RegisteredType { return nil }

func toMesh(s zygo.Sexp) (*mesh.Mesh, error) {
	switch v := s.(type) {
	case *sexpMesh:
		return v.m, nil
	case *sexpAlignment:
		return v.aligned, nil
	}
	return nil, fmt.Errorf("expected mesh, got %T (%s)", s, s.SexpString(nil))
}

func toSolid(s zygo.Sexp) (kernel.Solid, error) {
	if v, ok := s.(*sexpSolid); ok {
		return v.s, nil
	}
	return nil, fmt.Errorf("expected solid, got %T (%s)", s, s.SexpString(nil))
}

// toTransform reads a list or array of 16 numbers, row-major.
func toTransform(s zygo.Sexp) (mesh.Transform, error) {
	var t mesh.Transform
	items, err := sexpListToSlice(s)
	if err != nil {
		return t, err
	}
	if len(items) != 16 {
		return t, fmt.Errorf("expected 16 numbers, got %d", len(items))
	}
	for i, it := range items {
		if t[i], err = toFloat64(it); err != nil {
			return t, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// runner is the state shared by the builtins of one evaluation.
type runner struct {
	ctx     context.Context
	opts    Options
	session *Session
}

// maxCheckWarnings bounds the mesh.Check warnings copied per loaded mesh.
const maxCheckWarnings = 5

// resolve maps a script path onto the mesh root. Absolute paths and paths
// climbing out of the root are refused.
func (r *runner) resolve(p string) (string, error) {
	if r.opts.Root == "" {
		return "", fmt.Errorf("no mesh root configured")
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("path %q is outside the mesh root", p)
	}
	return filepath.Join(r.opts.Root, p), nil
}

func (r *runner) canonicalize(m *mesh.Mesh) (*mesh.Mesh, error) {
	opts := r.opts.Canon
	if opts.Workers == 0 {
		opts.Workers = r.opts.Workers
	}
	out, _, err := canon.Canonicalize(m, opts)
	return out, err
}

func (r *runner) record(name string, v zygo.Sexp) error {
	rep := Report{Name: name}
	switch x := v.(type) {
	case *zygo.SexpInt, *zygo.SexpFloat:
		f, _ := toFloat64(x)
		rep.Kind, rep.Scalar = KindScalar, &f
	case *sexpMesh:
		rep.Kind, rep.Mesh = KindMesh, summarize(x.m)
	case *sexpDistance:
		st := x.stats
		rep.Kind, rep.Distance = KindDistance, &st
	case *sexpMatch:
		st := x.res.Stats
		rep.Kind, rep.Match = KindMatch, &st
	case *sexpAlignment:
		res := x.res
		rep.Kind, rep.Alignment = KindAlignment, &res
	default:
		return fmt.Errorf("cannot report %T (%s)", v, v.SexpString(nil))
	}
	r.session.Reports = append(r.session.Reports, rep)
	return nil
}

func float(f float64) zygo.Sexp { return &zygo.SexpFloat{Val: f} }
func integer(n int) zygo.Sexp   { return &zygo.SexpInt{Val: int64(n)} }

// stat reads one named field of a session value.
func stat(v zygo.Sexp, key string) (zygo.Sexp, error) {
	switch x := v.(type) {
	case *sexpMesh:
		switch key {
		case "vertices":
			return integer(x.m.VertexCount()), nil
		case "triangles":
			return integer(x.m.TriangleCount()), nil
		case "area":
			return float(x.m.Area()), nil
		}
	case *sexpDistance:
		switch key {
		case "min":
			return float(x.stats.Min), nil
		case "max":
			return float(x.stats.Max), nil
		case "mean":
			return float(x.stats.Mean), nil
		case "std":
			return float(x.stats.Std), nil
		}
	case *sexpMatch:
		st := x.res.Stats
		switch key {
		case "percent-a":
			return float(st.PercentMatchingA), nil
		case "percent-b":
			return float(st.PercentMatchingB), nil
		case "matching-a":
			return integer(st.NumMatchingA), nil
		case "matching-b":
			return integer(st.NumMatchingB), nil
		}
	case *sexpAlignment:
		switch key {
		case "fitness":
			return float(x.res.Fitness), nil
		case "rmse":
			return float(x.res.InlierRMSE), nil
		case "iterations":
			return integer(x.res.Iterations), nil
		case "correspondences":
			return integer(x.res.Correspondences), nil
		case "converged":
			return &zygo.SexpBool{Val: x.res.Converged}, nil
		}
	default:
		return zygo.SexpNull, fmt.Errorf("no statistics for %T (%s)", v, v.SexpString(nil))
	}
	return zygo.SexpNull, fmt.Errorf("unknown statistic %q for %s", key, v.SexpString(nil))
}

// eulerDegrees composes rotations about X, then Y, then Z.
func eulerDegrees(v [3]float64) mesh.Transform {
	rad := math.Pi / 180
	rx := mesh.RotationAxisAngle(r3.Vec{X: 1}, v[0]*rad)
	ry := mesh.RotationAxisAngle(r3.Vec{Y: 1}, v[1]*rad)
	rz := mesh.RotationAxisAngle(r3.Vec{Z: 1}, v[2]*rad)
	return mesh.Mul(rz, mesh.Mul(ry, rx))
}

// registerBuiltins installs the comparison-session builtins. Source must go
// through preprocessSource first, so kebab-case names arrive as snake_case
// and :keywords as marked strings.
func registerBuiltins(env *zygo.Zlisp, r *runner) {
	k := r.opts.Kernel

	// -----------------------------------------------------------------------
	// (load-mesh "parts/a.stl") / (load-mesh "scan.bin" :format :stl)
	// -----------------------------------------------------------------------
	env.AddFunction("load_mesh", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("load-mesh requires a path")
		}
		rel, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load-mesh: path: %w", err)
		}
		path, err := r.resolve(rel)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("load-mesh: %w", err)
		}

		var res *meshio.Result
		if v, ok := pa.kw["format"]; ok {
			hint, err := toKeywordString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("load-mesh: format: %w", err)
			}
			f, err := meshio.ParseFormat(hint)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("load-mesh: %w", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("load-mesh: %w", err)
			}
			res, err = r.opts.Decoder.Decode(r.ctx, data, f)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("load-mesh: %s: %w", rel, err)
			}
		} else {
			res, err = r.opts.Decoder.DecodeFile(r.ctx, path)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("load-mesh: %s: %w", rel, err)
			}
		}

		m := res.Mesh
		m.Name = filepath.Base(rel)
		report := mesh.Check(m)
		if err := report.Err(); err != nil {
			return zygo.SexpNull, fmt.Errorf("load-mesh: %s: %w", rel, err)
		}
		for i, w := range report.Warnings {
			if i == maxCheckWarnings {
				r.session.warn("%s: %d more warnings", m.Name, len(report.Warnings)-i)
				break
			}
			r.session.warn("%s: %s", m.Name, w.Error())
		}
		return &sexpMesh{m: m}, nil
	})

	// -----------------------------------------------------------------------
	// (canonicalize m :merge-tolerance 1e-4)
	// -----------------------------------------------------------------------
	env.AddFunction("canonicalize", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("canonicalize requires a mesh")
		}
		m, err := toMesh(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("canonicalize: %w", err)
		}
		opts := r.opts.Canon
		if opts.Workers == 0 {
			opts.Workers = r.opts.Workers
		}
		if err := pa.number("merge-tolerance", &opts.MergeTolerance); err != nil {
			return zygo.SexpNull, fmt.Errorf("canonicalize: %w", err)
		}
		out, _, err := canon.Canonicalize(m, opts)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("canonicalize: %w", err)
		}
		return &sexpMesh{m: out}, nil
	})

	// -----------------------------------------------------------------------
	// (box 10 20 30) (cylinder 40 5) (sphere 10)
	// -----------------------------------------------------------------------
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		v, err := toVec3(args)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: %w", err)
		}
		s, err := k.Box(v[0], v[1], v[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: %w", err)
		}
		return &sexpSolid{s: s}, nil
	})

	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("cylinder requires height and radius")
		}
		h, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: height: %w", err)
		}
		rad, err := toFloat64(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: radius: %w", err)
		}
		s, err := k.Cylinder(h, rad)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		return &sexpSolid{s: s}, nil
	})

	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("sphere requires a radius")
		}
		rad, err := toFloat64(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: radius: %w", err)
		}
		s, err := k.Sphere(rad)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: %w", err)
		}
		return &sexpSolid{s: s}, nil
	})

	// -----------------------------------------------------------------------
	// (translate x 1 2 3) (rotate x 0 0 90), on solids and meshes alike
	// -----------------------------------------------------------------------
	move := func(op string, args []zygo.Sexp, solid func(kernel.Solid, [3]float64) kernel.Solid, tf func([3]float64) mesh.Transform) (zygo.Sexp, error) {
		if len(args) != 4 {
			return zygo.SexpNull, fmt.Errorf("%s requires a solid or mesh and 3 numbers", op)
		}
		v, err := toVec3(args[1:])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
		}
		switch x := args[0].(type) {
		case *sexpSolid:
			return &sexpSolid{s: solid(x.s, v)}, nil
		case *sexpMesh:
			return &sexpMesh{m: tf(v).Apply(x.m)}, nil
		}
		return zygo.SexpNull, fmt.Errorf("%s: expected solid or mesh, got %T", op, args[0])
	}

	env.AddFunction("translate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return move("translate", args,
			func(s kernel.Solid, v [3]float64) kernel.Solid { return k.Translate(s, v[0], v[1], v[2]) },
			func(v [3]float64) mesh.Transform { return mesh.Translation(r3.Vec{X: v[0], Y: v[1], Z: v[2]}) })
	})

	env.AddFunction("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return move("rotate", args,
			func(s kernel.Solid, v [3]float64) kernel.Solid { return k.Rotate(s, v[0], v[1], v[2]) },
			eulerDegrees)
	})

	// -----------------------------------------------------------------------
	// (union a b) (difference a b) (intersection a b)
	// -----------------------------------------------------------------------
	boolean := func(op string, fn func(a, b kernel.Solid) kernel.Solid) {
		env.AddFunction(op, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires two solids", op)
			}
			a, err := toSolid(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			b, err := toSolid(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			return &sexpSolid{s: fn(a, b)}, nil
		})
	}
	boolean("union", k.Union)
	boolean("difference", k.Difference)
	boolean("intersection", k.Intersection)

	// -----------------------------------------------------------------------
	// (tessellate solid "name")
	// -----------------------------------------------------------------------
	env.AddFunction("tessellate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 || len(args) > 2 {
			return zygo.SexpNull, fmt.Errorf("tessellate requires a solid and an optional name")
		}
		s, err := toSolid(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("tessellate: %w", err)
		}
		soup, err := k.ToMesh(s)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("tessellate: %w", err)
		}
		m, err := r.canonicalize(soup)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("tessellate: %w", err)
		}
		if len(args) == 2 {
			if m.Name, err = toString(args[1]); err != nil {
				return zygo.SexpNull, fmt.Errorf("tessellate: name: %w", err)
			}
		}
		return &sexpMesh{m: m}, nil
	})

	// -----------------------------------------------------------------------
	// (align fixed moving :threshold 0.5 :max-iterations 50 :sample-cap 2000
	//        :sampling :surface :initial (list ...16 numbers))
	// -----------------------------------------------------------------------
	env.AddFunction("align", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("align requires a fixed and a moving mesh")
		}
		fixed, err := toMesh(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("align: fixed: %w", err)
		}
		moving, err := toMesh(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("align: moving: %w", err)
		}

		opts := r.opts.ICP
		if opts.Workers == 0 {
			opts.Workers = r.opts.Workers
		}
		if err := pa.number("threshold", &opts.Threshold); err != nil {
			return zygo.SexpNull, fmt.Errorf("align: %w", err)
		}
		if err := pa.integer("max-iterations", &opts.MaxIterations); err != nil {
			return zygo.SexpNull, fmt.Errorf("align: %w", err)
		}
		if err := pa.integer("sample-cap", &opts.SampleCap); err != nil {
			return zygo.SexpNull, fmt.Errorf("align: %w", err)
		}
		if v, ok := pa.kw["sampling"]; ok {
			s, err := toKeywordString(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("align: sampling: %w", err)
			}
			if opts.Sampling, err = register.ParseSampling(s); err != nil {
				return zygo.SexpNull, fmt.Errorf("align: %w", err)
			}
		}
		if v, ok := pa.kw["initial"]; ok {
			t, err := toTransform(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("align: initial: %w", err)
			}
			opts.Initial = &t
		}

		res, aligned, err := register.Register(fixed, moving, opts)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("align: %w", err)
		}
		return &sexpAlignment{res: res, aligned: aligned}, nil
	})

	// -----------------------------------------------------------------------
	// (aligned a) returns the moving mesh of an alignment.
	// -----------------------------------------------------------------------
	env.AddFunction("aligned", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("aligned requires an alignment")
		}
		a, ok := args[0].(*sexpAlignment)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("aligned: expected alignment, got %T (%s)", args[0], args[0].SexpString(nil))
		}
		return &sexpMesh{m: a.aligned}, nil
	})

	// -----------------------------------------------------------------------
	// (distance a b) (match a b :threshold 0.1)
	// -----------------------------------------------------------------------
	env.AddFunction("distance", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("distance requires two meshes")
		}
		a, err := toMesh(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		b, err := toMesh(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		limit := r.opts.DistanceCap
		if err := pa.integer("cap", &limit); err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		st, err := compare.MeshDistance(a, b, limit, r.opts.Workers)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("distance: %w", err)
		}
		return &sexpDistance{stats: st}, nil
	})

	env.AddFunction("match", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("match requires two meshes")
		}
		a, err := toMesh(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("match: %w", err)
		}
		b, err := toMesh(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("match: %w", err)
		}
		threshold := r.opts.MatchThreshold
		if err := pa.number("threshold", &threshold); err != nil {
			return zygo.SexpNull, fmt.Errorf("match: %w", err)
		}
		res, err := compare.MatchVertices(a, b, threshold, r.opts.Workers)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("match: %w", err)
		}
		return &sexpMatch{res: res}, nil
	})

	// -----------------------------------------------------------------------
	// (stat x :mean)
	// -----------------------------------------------------------------------
	env.AddFunction("stat", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("stat requires a value and a key")
		}
		key, err := toKeywordString(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("stat: key: %w", err)
		}
		v, err := stat(args[0], key)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("stat: %w", err)
		}
		return v, nil
	})

	// -----------------------------------------------------------------------
	// (report "name" value) records value and returns it.
	// -----------------------------------------------------------------------
	env.AddFunction("report", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("report requires a name and a value")
		}
		label, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("report: name: %w", err)
		}
		if err := r.record(label, args[1]); err != nil {
			return zygo.SexpNull, fmt.Errorf("report: %s: %w", label, err)
		}
		return args[1], nil
	})
}
