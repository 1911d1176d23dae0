package register_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/register"
)

// jitteredGrid returns an n×n×n lattice with spacing 2, each point nudged
// by up to ±0.2 so the set has no symmetry.
func jitteredGrid(n int, seed uint64) []r3.Vec {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	j := func() float64 { return rng.Float64()*0.4 - 0.2 }
	off := float64(n-1) / 2 * 2
	var pts []r3.Vec
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				pts = append(pts, r3.Vec{
					X: float64(x)*2 - off + j(),
					Y: float64(y)*2 - off + j(),
					Z: float64(z)*2 - off + j(),
				})
			}
		}
	}
	return pts
}

func smallMotion() mesh.Transform {
	rot := mesh.RotationAxisAngle(r3.Vec{X: 1, Y: 2, Z: 3}, 2*math.Pi/180)
	return mesh.Mul(mesh.Translation(r3.Vec{X: 0.05, Y: -0.03, Z: 0.02}), rot)
}

func TestICPRecoversKnownMotion(t *testing.T) {
	fixed := jitteredGrid(8, 7)
	k := smallMotion()
	moving := k.ApplyPoints(fixed)

	res, err := register.ICP(fixed, moving, register.Options{Threshold: 1})
	if err != nil {
		t.Fatalf("ICP failed: %v", err)
	}
	if !res.Converged {
		t.Errorf("Converged = false after %d iterations", res.Iterations)
	}
	if res.Fitness != 1 {
		t.Errorf("Fitness = %v, want 1", res.Fitness)
	}
	if res.InlierRMSE > 1e-6 {
		t.Errorf("InlierRMSE = %v, want ~0", res.InlierRMSE)
	}
	if composed := mesh.Mul(res.Transform, k); !composed.IsIdentity(1e-6) {
		t.Errorf("T·K = %v, want identity", composed)
	}
}

func TestICPUsesInitialTransform(t *testing.T) {
	fixed := jitteredGrid(6, 11)
	k := mesh.Translation(r3.Vec{X: 30})
	moving := k.ApplyPoints(fixed)

	// Without a hint the sets are too far apart.
	_, err := register.ICP(fixed, moving, register.Options{Threshold: 1})
	if !errors.Is(err, register.ErrNoCorrespondences) {
		t.Fatalf("ICP without hint error = %v, want ErrNoCorrespondences", err)
	}

	hint := mesh.Translation(r3.Vec{X: -29.9})
	res, err := register.ICP(fixed, moving, register.Options{Threshold: 1, Initial: &hint})
	if err != nil {
		t.Fatalf("ICP with hint failed: %v", err)
	}
	if composed := mesh.Mul(res.Transform, k); !composed.IsIdentity(1e-6) {
		t.Errorf("T·K = %v, want identity", composed)
	}
}

func TestICPNoCorrespondences(t *testing.T) {
	fixed := []r3.Vec{{X: 0}, {X: 1}, {Y: 1}}
	moving := []r3.Vec{{X: 100}, {X: 101}, {X: 100, Y: 1}}
	_, err := register.ICP(fixed, moving, register.Options{Threshold: 0.5})

	var rf *register.RegistrationFailure
	if !errors.As(err, &rf) {
		t.Fatalf("ICP() error = %v, want *RegistrationFailure", err)
	}
	if !errors.Is(err, register.ErrNoCorrespondences) {
		t.Errorf("error %v does not wrap ErrNoCorrespondences", err)
	}
	if rf.Threshold != 0.5 {
		t.Errorf("Threshold = %v, want 0.5", rf.Threshold)
	}
}

func TestICPFewCorrespondencesTranslatesOnly(t *testing.T) {
	fixed := []r3.Vec{{X: 0}, {X: 10}}
	moving := []r3.Vec{{X: 0.1}, {X: 10.1}}
	res, err := register.ICP(fixed, moving, register.Options{Threshold: 1})
	if err != nil {
		t.Fatalf("ICP failed: %v", err)
	}
	want := mesh.Translation(r3.Vec{X: -0.1})
	if d := res.Transform.MaxDiff(want); d > 1e-9 {
		t.Errorf("Transform = %v, want %v", res.Transform, want)
	}
}

func TestICPIterationCap(t *testing.T) {
	fixed := jitteredGrid(6, 3)
	moving := smallMotion().ApplyPoints(fixed)
	res, err := register.ICP(fixed, moving, register.Options{Threshold: 1, MaxIterations: 1})
	if err != nil {
		t.Fatalf("ICP failed: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
}

func TestICPRejectsNegativeThreshold(t *testing.T) {
	pts := []r3.Vec{{X: 1}}
	if _, err := register.ICP(pts, pts, register.Options{Threshold: -1}); err == nil {
		t.Fatal("expected error for negative threshold")
	}
}

func TestRegisterAppliesToFullMesh(t *testing.T) {
	pts := jitteredGrid(5, 5)
	fixed := mesh.FromPoints(pts)
	k := smallMotion()
	moving := k.Apply(fixed)
	before := moving.Clone()

	res, aligned, err := register.Register(fixed, moving, register.Options{Threshold: 1, SampleCap: 50})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if aligned.VertexCount() != moving.VertexCount() {
		t.Fatalf("aligned has %d vertices, want %d", aligned.VertexCount(), moving.VertexCount())
	}
	for i := range moving.Vertices {
		if moving.Vertices[i] != before.Vertices[i] {
			t.Fatal("moving mesh was modified")
		}
	}
	for i := 0; i < fixed.VertexCount(); i++ {
		if d := r3.Norm(r3.Sub(aligned.Vertex(i), fixed.Vertex(i))); d > 1e-4 {
			t.Fatalf("vertex %d is %v from its fixed partner", i, d)
		}
	}
	if res.Correspondences != 50 {
		t.Errorf("Correspondences = %d, want 50", res.Correspondences)
	}
}

func TestStride(t *testing.T) {
	pts := make([]r3.Vec, 10)
	for i := range pts {
		pts[i].X = float64(i)
	}
	got := register.Stride(pts, 4)
	want := []float64{0, 2, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].X != w {
			t.Errorf("Stride[%d] = %v, want %v", i, got[i].X, w)
		}
	}
	if all := register.Stride(pts, 0); len(all) != 10 {
		t.Errorf("Stride with no cap returned %d points, want 10", len(all))
	}
}

func TestSurfaceSampling(t *testing.T) {
	m := &mesh.Mesh{
		Vertices: []float32{0, 0, 0, 4, 0, 0, 0, 4, 0, 4, 4, 0},
		Indices:  []uint32{0, 1, 2, 1, 3, 2},
	}
	a := register.Surface(m, 500, 42)
	b := register.Surface(m, 500, 42)
	if len(a) != 500 {
		t.Fatalf("len = %d, want 500", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed produced different samples")
		}
		p := a[i]
		const eps = 1e-9
		if p.Z != 0 || p.X < -eps || p.X > 4+eps || p.Y < -eps || p.Y > 4+eps {
			t.Fatalf("sample %d = %v lies off the square", i, p)
		}
	}
}

func TestParseSampling(t *testing.T) {
	tests := []struct {
		in      string
		want    register.Sampling
		wantErr bool
	}{
		{"", register.SampleStride, false},
		{"stride", register.SampleStride, false},
		{"surface", register.SampleSurface, false},
		{"poisson", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := register.ParseSampling(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSampling(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSampling(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
