package kernel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
)

// --- Compile-time interface check with a stub kernel ---

// stubSolid is a minimal Solid implementation for testing.
type stubSolid struct {
	minBB, maxBB [3]float64
}

func (s *stubSolid) BoundingBox() (min, max [3]float64) {
	return s.minBB, s.maxBB
}

// stubKernel is a minimal Kernel implementation that proves the interface
// is satisfiable. ToMesh returns one triangle spanning the bounding box.
type stubKernel struct{}

func (k *stubKernel) Box(x, y, z float64) (Solid, error) {
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, errors.New("non-positive size")
	}
	return &stubSolid{
		minBB: [3]float64{-x / 2, -y / 2, -z / 2},
		maxBB: [3]float64{x / 2, y / 2, z / 2},
	}, nil
}

func (k *stubKernel) Cylinder(height, radius float64) (Solid, error) {
	return &stubSolid{
		minBB: [3]float64{-radius, -radius, -height / 2},
		maxBB: [3]float64{radius, radius, height / 2},
	}, nil
}

func (k *stubKernel) Sphere(radius float64) (Solid, error) {
	return &stubSolid{
		minBB: [3]float64{-radius, -radius, -radius},
		maxBB: [3]float64{radius, radius, radius},
	}, nil
}

func (k *stubKernel) Union(a, _ Solid) Solid        { return a }
func (k *stubKernel) Difference(a, _ Solid) Solid   { return a }
func (k *stubKernel) Intersection(a, _ Solid) Solid { return a }

func (k *stubKernel) Translate(s Solid, _, _, _ float64) Solid { return s }
func (k *stubKernel) Rotate(s Solid, _, _, _ float64) Solid    { return s }

func (k *stubKernel) ToMesh(s Solid) (*mesh.Mesh, error) {
	lo, hi := s.BoundingBox()
	return &mesh.Mesh{
		Vertices: []float32{
			float32(lo[0]), float32(lo[1]), float32(lo[2]),
			float32(hi[0]), float32(lo[1]), float32(lo[2]),
			float32(lo[0]), float32(hi[1]), float32(lo[2]),
		},
		Normals: make([]float32, 9),
		Indices: []uint32{0, 1, 2},
	}, nil
}

// Compile-time checks that the stubs implement the interfaces.
var _ Solid = (*stubSolid)(nil)
var _ Kernel = (*stubKernel)(nil)
var _ Converter = CommandConverter{}

func TestStubKernelBoxBoundingBox(t *testing.T) {
	var k Kernel = &stubKernel{}
	s, err := k.Box(10, 20, 30)
	if err != nil {
		t.Fatalf("Box() error = %v", err)
	}
	min, max := s.BoundingBox()
	if min != [3]float64{-5, -10, -15} {
		t.Errorf("Box min = %v, want [-5 -10 -15]", min)
	}
	if max != [3]float64{5, 10, 15} {
		t.Errorf("Box max = %v, want [5 10 15]", max)
	}
}

func TestWriteSTL(t *testing.T) {
	var k Kernel = &stubKernel{}
	s, err := k.Box(2, 2, 2)
	if err != nil {
		t.Fatalf("Box() error = %v", err)
	}
	var buf bytes.Buffer
	if err := WriteSTL(&buf, k, s); err != nil {
		t.Fatalf("WriteSTL() error = %v", err)
	}
	m, err := stl.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.TriangleCount() != 1 || m.VertexCount() != 3 {
		t.Errorf("got %d triangles %d vertices, want 1 and 3", m.TriangleCount(), m.VertexCount())
	}
}

func TestCommandConverterEmpty(t *testing.T) {
	err := CommandConverter{}.ConvertToSTL(context.Background(), "a.step", "a.stl")
	if !errors.Is(err, ErrNoConverter) {
		t.Errorf("ConvertToSTL() error = %v, want ErrNoConverter", err)
	}
}

func TestCommandConverterRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses cp")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "part.step")
	out := filepath.Join(dir, "part.stl")
	if err := os.WriteFile(in, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := CommandConverter{Argv: []string{"cp", "{in}", "{out}"}}
	if err := c.ConvertToSTL(context.Background(), in, out); err != nil {
		t.Fatalf("ConvertToSTL() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil || string(got) != "payload" {
		t.Errorf("output = %q, %v; want payload", got, err)
	}
}

func TestCommandConverterFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses false")
	}
	c := CommandConverter{Argv: []string{"false"}}
	if err := c.ConvertToSTL(context.Background(), "in", "out"); err == nil {
		t.Error("expected error from failing command")
	}
}
