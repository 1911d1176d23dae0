package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/config"
	"github.com/chazu/meshcmp/pkg/engine"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/kernel/manifold"
	"github.com/chazu/meshcmp/pkg/kernel/sdfx"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio"
	"github.com/chazu/meshcmp/pkg/register"
)

// App is the backend a rendering front end talks to. Every exported method
// returns a JSON-shaped struct; failures are reported in its Error field,
// never as a Go error or a panic.
type App struct {
	ctx     context.Context
	cfg     config.Config
	decoder *meshio.Decoder
	kernel  kernel.Kernel
	engine  *engine.Engine
	icp     register.Options
}

// MeshData is the wire form of a mesh: three flat arrays.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	Name     string    `json:"name,omitempty"`
	Format   string    `json:"format,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// UploadResult reports where an uploaded file was stored.
type UploadResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AlignResult is the moving mesh after registration plus the transform
// that produced it.
type AlignResult struct {
	Vertices       []float32   `json:"vertices"`
	Normals        []float32   `json:"normals"`
	Indices        []uint32    `json:"indices"`
	Transformation [][]float64 `json:"transformation"`
	Fitness        float64     `json:"fitness"`
	InlierRMSE     float64     `json:"inlier_rmse"`
	Iterations     int         `json:"iterations"`
	Converged      bool        `json:"converged"`
	Error          string      `json:"error,omitempty"`
}

// DistanceResult is compare.DistanceStats with an error slot.
type DistanceResult struct {
	compare.DistanceStats
	Error string `json:"error,omitempty"`
}

// MatchResult is compare.MatchResult with an error slot.
type MatchResult struct {
	compare.MatchResult
	Error string `json:"error,omitempty"`
}

// EvalErrorData is a JSON-serializable eval error for the frontend.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// ScriptResult is the full result of a comparison session.
type ScriptResult struct {
	Reports  []engine.Report      `json:"reports"`
	Warnings []engine.EvalWarning `json:"warnings"`
	Errors   []EvalErrorData      `json:"errors"`
}

// NewApp wires the decoder, kernel and engine from a resolved config.
func NewApp(ctx context.Context, cfg config.Config) *App {
	var conv kernel.Converter
	if len(cfg.CADConverter) > 0 {
		conv = kernel.CommandConverter{Argv: cfg.CADConverter}
	}
	canonOpts := canon.Options{MergeTolerance: cfg.MergeTolerance, Workers: cfg.Workers}
	decoder := &meshio.Decoder{
		WorkDir:   cfg.WorkDir,
		Converter: conv,
		Canon:     canonOpts,
		Workers:   cfg.Workers,
	}

	sampling, err := register.ParseSampling(cfg.ICP.Sampling)
	if err != nil {
		logging.Logger().Warn("app: falling back to stride sampling", "err", err)
		sampling = register.SampleStride
	}
	icp := register.Options{
		Threshold:     cfg.ICP.Threshold,
		MaxIterations: cfg.ICP.MaxIterations,
		SampleCap:     cfg.ICP.SampleCap,
		Sampling:      sampling,
		Seed:          cfg.ICP.Seed,
		Workers:       cfg.Workers,
	}

	a := &App{
		ctx:     ctx,
		cfg:     cfg,
		decoder: decoder,
		kernel:  newKernel(cfg),
		icp:     icp,
	}
	a.engine = a.newEngine(cfg.WorkDir)
	return a
}

// newKernel returns the configured geometry backend. Manifold falls back
// to sdfx in builds without the manifold tag.
func newKernel(cfg config.Config) kernel.Kernel {
	if cfg.Kernel == "manifold" {
		k, err := manifold.New(manifold.DefaultSegments)
		if err == nil {
			return k
		}
		logging.Logger().Warn("app: falling back to sdfx kernel", "err", err)
	} else if cfg.Kernel != "sdfx" {
		logging.Logger().Warn("app: unknown kernel, using sdfx", "kernel", cfg.Kernel)
	}
	return sdfx.NewWithCells(cfg.KernelCells)
}

// newEngine returns a session engine whose load-mesh reads from root.
func (a *App) newEngine(root string) *engine.Engine {
	return engine.NewEngine(engine.Options{
		Kernel:         a.kernel,
		Decoder:        a.decoder,
		Root:           root,
		Timeout:        a.cfg.ScriptTimeoutDuration(),
		ICP:            a.icp,
		Canon:          a.decoder.Canon,
		MatchThreshold: a.cfg.MatchThreshold,
		DistanceCap:    a.cfg.DistanceCap,
		Workers:        a.cfg.Workers,
	})
}

func meshData(m *mesh.Mesh) MeshData {
	d := MeshData{Vertices: m.Vertices, Normals: m.Normals, Indices: m.Indices, Name: m.Name}
	if d.Vertices == nil {
		d.Vertices = []float32{}
	}
	if d.Normals == nil {
		d.Normals = []float32{}
	}
	if d.Indices == nil {
		d.Indices = []uint32{}
	}
	return d
}

func emptyMeshData(err error) MeshData {
	return MeshData{Vertices: []float32{}, Normals: []float32{}, Indices: []uint32{}, Error: err.Error()}
}

// toMesh validates wire data from the front end. Missing normals are
// computed.
func (a *App) toMesh(d MeshData) (*mesh.Mesh, error) {
	m := &mesh.Mesh{Vertices: d.Vertices, Normals: d.Normals, Indices: d.Indices, Name: d.Name}
	computeNormals := len(m.Normals) != len(m.Vertices)
	if computeNormals {
		m.Normals = make([]float32, len(m.Vertices))
	}
	if err := mesh.Check(m).Err(); err != nil {
		return nil, err
	}
	if computeNormals {
		m = canon.ComputeNormals(m, a.cfg.Workers)
	}
	return m, nil
}

// LoadFile decodes a file on disk into a canonical mesh.
func (a *App) LoadFile(path string) (*meshio.Result, error) {
	return a.decoder.DecodeFile(a.ctx, path)
}

// ProcessFile decodes path for display. Files inside the work directory are
// uploads and are removed afterwards.
func (a *App) ProcessFile(path string) MeshData {
	res, err := a.LoadFile(path)
	if abs, aerr := filepath.Abs(path); aerr == nil && filepath.Dir(abs) == a.cfg.WorkDir {
		if rerr := os.Remove(abs); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			logging.Logger().Warn("app: remove upload", "path", abs, "err", rerr)
		}
	}
	if err != nil {
		logging.Logger().Error("ProcessFile", "path", path, "err", err)
		return emptyMeshData(fmt.Errorf("processing error: %w", err))
	}
	d := meshData(res.Mesh)
	d.Name = filepath.Base(path)
	d.Format = res.Format.String()
	return d
}

// SaveUploadedFile stores base64 content under the work directory and
// returns its path for ProcessFile.
func (a *App) SaveUploadedFile(content, filename string) UploadResult {
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return UploadResult{Error: fmt.Sprintf("file save error: %v", err)}
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return UploadResult{Error: "file save error: empty file name"}
	}
	if err := os.MkdirAll(a.cfg.WorkDir, 0o755); err != nil {
		return UploadResult{Error: fmt.Sprintf("file save error: %v", err)}
	}
	path := filepath.Join(a.cfg.WorkDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return UploadResult{Error: fmt.Sprintf("file save error: %v", err)}
	}
	return UploadResult{Success: true, Path: path}
}

// AlignMeshes registers moving onto fixed and returns the moved mesh.
func (a *App) AlignMeshes(fixed, moving MeshData) AlignResult {
	fail := func(err error) AlignResult {
		logging.Logger().Error("AlignMeshes", "err", err)
		return AlignResult{
			Vertices:       []float32{},
			Normals:        []float32{},
			Indices:        []uint32{},
			Transformation: [][]float64{},
			Error:          fmt.Sprintf("alignment error: %v", err),
		}
	}
	f, err := a.toMesh(fixed)
	if err != nil {
		return fail(fmt.Errorf("fixed mesh: %w", err))
	}
	m, err := a.toMesh(moving)
	if err != nil {
		return fail(fmt.Errorf("moving mesh: %w", err))
	}
	res, aligned, err := register.Register(f, m, a.icp)
	if err != nil {
		return fail(err)
	}
	d := meshData(aligned)
	return AlignResult{
		Vertices:       d.Vertices,
		Normals:        d.Normals,
		Indices:        d.Indices,
		Transformation: res.Transform.Rows(),
		Fitness:        res.Fitness,
		InlierRMSE:     res.InlierRMSE,
		Iterations:     res.Iterations,
		Converged:      res.Converged,
	}
}

// MeshDistance reports nearest-vertex distances from a to b.
func (a *App) MeshDistance(ma, mb MeshData) DistanceResult {
	fail := func(err error) DistanceResult {
		logging.Logger().Error("MeshDistance", "err", err)
		return DistanceResult{
			DistanceStats: compare.DistanceStats{Distances: []float64{}},
			Error:         fmt.Sprintf("distance calculation error: %v", err),
		}
	}
	x, err := a.toMesh(ma)
	if err != nil {
		return fail(err)
	}
	y, err := a.toMesh(mb)
	if err != nil {
		return fail(err)
	}
	st, err := compare.MeshDistance(x, y, a.cfg.DistanceCap, a.cfg.Workers)
	if err != nil {
		return fail(err)
	}
	return DistanceResult{DistanceStats: st}
}

// FindMatchingVertices flags vertices of each mesh lying within threshold
// of the other.
func (a *App) FindMatchingVertices(ma, mb MeshData, threshold float64) MatchResult {
	fail := func(err error) MatchResult {
		logging.Logger().Error("FindMatchingVertices", "err", err)
		return MatchResult{
			MatchResult: compare.MatchResult{MatchingA: []bool{}, MatchingB: []bool{}},
			Error:       fmt.Sprintf("matching calculation error: %v", err),
		}
	}
	x, err := a.toMesh(ma)
	if err != nil {
		return fail(err)
	}
	y, err := a.toMesh(mb)
	if err != nil {
		return fail(err)
	}
	res, err := compare.MatchVertices(x, y, threshold, a.cfg.Workers)
	if err != nil {
		return fail(err)
	}
	return MatchResult{MatchResult: res}
}

// RunScript evaluates a comparison session whose load-mesh paths are
// relative to the work directory.
func (a *App) RunScript(source string) ScriptResult {
	return a.runScript(a.engine, source)
}

func (a *App) runScript(eng *engine.Engine, source string) ScriptResult {
	result := ScriptResult{
		Reports:  []engine.Report{},
		Warnings: []engine.EvalWarning{},
		Errors:   []EvalErrorData{},
	}

	s, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		logging.Logger().Error("RunScript", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	for _, e := range evalErrs {
		result.Errors = append(result.Errors, EvalErrorData{
			Line:    e.Line,
			Col:     e.Col,
			Message: e.Message,
		})
	}
	if s != nil {
		result.Reports = s.Reports
		result.Warnings = s.Warnings
	}
	return result
}
