package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/meshcmp/pkg/config"
	"github.com/chazu/meshcmp/pkg/kernel/sdfx"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Config{WorkDir: t.TempDir(), KernelCells: 30}
	cfg.Resolve(config.Flags{})
	return NewApp(context.Background(), cfg)
}

func unitTriangleSTL(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tri := stl.Triangle{
		Normal:   [3]float32{0, 0, 1},
		Vertices: [3][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
	}
	if err := stl.Encode(&buf, "", []stl.Triangle{tri}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// wavyGrid is an n by n height field with enough relief for ICP to lock
// onto, offset by dx along x. Normals are left empty.
func wavyGrid(n int, dx float32) MeshData {
	var d MeshData
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			x, y := float64(i)*0.1, float64(j)*0.1
			z := 0.3 * math.Sin(2*x) * math.Cos(3*y)
			d.Vertices = append(d.Vertices, float32(x)+dx, float32(y), float32(z))
		}
	}
	for j := 0; j < n-1; j++ {
		for i := 0; i < n-1; i++ {
			a := uint32(j*n + i)
			b, c, e := a+1, a+uint32(n), a+uint32(n)+1
			d.Indices = append(d.Indices, a, b, e, a, e, c)
		}
	}
	return d
}

func TestProcessFileSTL(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "tri.stl")
	if err := os.WriteFile(path, unitTriangleSTL(t), 0o644); err != nil {
		t.Fatal(err)
	}

	d := app.ProcessFile(path)
	if d.Error != "" {
		t.Fatalf("ProcessFile error: %s", d.Error)
	}
	if len(d.Vertices) != 9 || len(d.Normals) != 9 || len(d.Indices) != 3 {
		t.Errorf("got %d/%d/%d floats/normals/indices, want 9/9/3",
			len(d.Vertices), len(d.Normals), len(d.Indices))
	}
	if d.Format != "stl" || d.Name != "tri.stl" {
		t.Errorf("format/name = %q/%q", d.Format, d.Name)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file outside the work dir should be kept: %v", err)
	}
}

func TestProcessFileRemovesUploads(t *testing.T) {
	app := newTestApp(t)
	up := app.SaveUploadedFile(base64.StdEncoding.EncodeToString(unitTriangleSTL(t)), "../../part.stl")
	if !up.Success {
		t.Fatalf("SaveUploadedFile: %s", up.Error)
	}
	if filepath.Dir(up.Path) != app.cfg.WorkDir {
		t.Fatalf("upload stored at %s, want inside %s", up.Path, app.cfg.WorkDir)
	}

	d := app.ProcessFile(up.Path)
	if d.Error != "" {
		t.Fatalf("ProcessFile error: %s", d.Error)
	}
	if _, err := os.Stat(up.Path); !os.IsNotExist(err) {
		t.Errorf("upload should be removed after processing, stat err = %v", err)
	}
}

func TestSaveUploadedFileBadBase64(t *testing.T) {
	app := newTestApp(t)
	up := app.SaveUploadedFile("not base64!!", "x.stl")
	if up.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(up.Error, "file save error:") {
		t.Errorf("error = %q", up.Error)
	}
}

func TestProcessFileErrors(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	for _, name := range []string{"part.dxf", "part.step", "missing.stl"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if name != "missing.stl" {
				if err := os.WriteFile(path, []byte("ISO-10303-21;"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			d := app.ProcessFile(path)
			if !strings.HasPrefix(d.Error, "processing error:") {
				t.Errorf("error = %q, want processing error", d.Error)
			}
			if d.Vertices == nil || d.Normals == nil || d.Indices == nil {
				t.Error("failed result should carry empty, non-nil arrays")
			}
		})
	}
}

func TestMeshDistanceSelf(t *testing.T) {
	app := newTestApp(t)
	g := wavyGrid(10, 0)

	res := app.MeshDistance(g, g)
	if res.Error != "" {
		t.Fatalf("MeshDistance error: %s", res.Error)
	}
	if res.Max != 0 || res.Mean != 0 {
		t.Errorf("self distance max/mean = %v/%v, want 0", res.Max, res.Mean)
	}
	if len(res.Distances) != 100 {
		t.Errorf("got %d distances, want 100", len(res.Distances))
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"min"`, `"max"`, `"mean"`, `"std"`, `"distances"`} {
		if !bytes.Contains(raw, []byte(key)) {
			t.Errorf("JSON %s missing key %s", raw, key)
		}
	}
	if bytes.Contains(raw, []byte(`"error"`)) {
		t.Errorf("successful result should omit error: %s", raw)
	}
}

func TestFindMatchingVertices(t *testing.T) {
	app := newTestApp(t)
	a := wavyGrid(10, 0)
	b := wavyGrid(10, 0.05)

	res := app.FindMatchingVertices(a, b, 0.1)
	if res.Error != "" {
		t.Fatalf("FindMatchingVertices error: %s", res.Error)
	}
	if res.Stats.PercentMatchingA != 100 || res.Stats.PercentMatchingB != 100 {
		t.Errorf("percent = %v/%v, want 100/100", res.Stats.PercentMatchingA, res.Stats.PercentMatchingB)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"matching_vertices_a"`, `"matching_vertices_b"`, `"percent_matching_a"`, `"total_vertices_b"`} {
		if !bytes.Contains(raw, []byte(key)) {
			t.Errorf("JSON missing key %s", key)
		}
	}

	bad := app.FindMatchingVertices(a, b, -1)
	if !strings.HasPrefix(bad.Error, "matching calculation error:") {
		t.Errorf("negative threshold error = %q", bad.Error)
	}
}

func TestAlignMeshesRecoversShift(t *testing.T) {
	app := newTestApp(t)
	fixed := wavyGrid(20, 0)
	moving := wavyGrid(20, 0.01)

	res := app.AlignMeshes(fixed, moving)
	if res.Error != "" {
		t.Fatalf("AlignMeshes error: %s", res.Error)
	}
	if len(res.Transformation) != 4 {
		t.Fatalf("transformation has %d rows, want 4", len(res.Transformation))
	}
	for i, row := range res.Transformation {
		if len(row) != 4 {
			t.Fatalf("row %d has %d columns", i, len(row))
		}
	}
	if tx := res.Transformation[0][3]; math.Abs(tx+0.01) > 5e-3 {
		t.Errorf("tx = %v, want about -0.01", tx)
	}
	if res.Fitness < 0.9 {
		t.Errorf("fitness = %v", res.Fitness)
	}
	if len(res.Vertices) != len(moving.Vertices) || len(res.Normals) != len(res.Vertices) {
		t.Errorf("aligned mesh has %d vertices and %d normals", len(res.Vertices), len(res.Normals))
	}
}

func TestAlignMeshesInvalidInput(t *testing.T) {
	app := newTestApp(t)
	bad := MeshData{Vertices: []float32{0, 0, 0}, Indices: []uint32{0, 1, 2}}

	res := app.AlignMeshes(wavyGrid(5, 0), bad)
	if !strings.HasPrefix(res.Error, "alignment error:") {
		t.Fatalf("error = %q", res.Error)
	}
	if res.Vertices == nil || res.Transformation == nil {
		t.Error("failed result should carry empty, non-nil arrays")
	}
}

func TestRunScript(t *testing.T) {
	app := newTestApp(t)

	res := app.RunScript(`(report "answer" (* 6 7))`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Reports) != 1 || res.Reports[0].Name != "answer" {
		t.Fatalf("reports = %+v", res.Reports)
	}

	res = app.RunScript(`(report "x" 1`)
	if len(res.Errors) == 0 {
		t.Fatal("expected a syntax error")
	}
	if res.Reports == nil || res.Warnings == nil {
		t.Error("failed result should carry empty, non-nil slices")
	}
}

func TestRunScriptLoadsFromWorkDir(t *testing.T) {
	app := newTestApp(t)
	if err := os.WriteFile(filepath.Join(app.cfg.WorkDir, "tri.stl"), unitTriangleSTL(t), 0o644); err != nil {
		t.Fatal(err)
	}

	res := app.RunScript(`(def m (load-mesh "tri.stl")) (report "tri" m)`)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Reports) != 1 || res.Reports[0].Mesh == nil || res.Reports[0].Mesh.Triangles != 1 {
		t.Fatalf("reports = %+v", res.Reports)
	}
}

func TestNewKernelFallsBackToSdfx(t *testing.T) {
	for _, name := range []string{"sdfx", "bogus"} {
		cfg := config.Config{Kernel: name}
		cfg.Resolve(config.Flags{})
		if _, ok := newKernel(cfg).(*sdfx.SdfxKernel); !ok {
			t.Errorf("kernel %q: got %T, want *sdfx.SdfxKernel", name, newKernel(cfg))
		}
	}
}
