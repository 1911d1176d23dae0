package sdfx

import (
	"bytes"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
)

// testCells keeps tessellation fast in tests.
const testCells = 40

func mustSolid(t *testing.T) func(kernel.Solid, error) kernel.Solid {
	return func(s kernel.Solid, err error) kernel.Solid {
		t.Helper()
		if err != nil {
			t.Fatalf("primitive failed: %v", err)
		}
		return s
	}
}

func TestBox(t *testing.T) {
	k := NewWithCells(testCells)
	box := mustSolid(t)(k.Box(100, 50, 25))
	mesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() {
		t.Fatal("mesh is empty")
	}
	triCount := mesh.TriangleCount()
	if triCount == 0 {
		t.Fatal("expected non-zero triangle count")
	}
	// Triangle soup: three vertices per triangle.
	if mesh.VertexCount() != triCount*3 {
		t.Fatalf("vertex count %d != 3 * triangles %d", mesh.VertexCount(), triCount)
	}
	if len(mesh.Vertices) != len(mesh.Normals) {
		t.Fatalf("vertices length %d != normals length %d", len(mesh.Vertices), len(mesh.Normals))
	}
}

func TestBoxInvalid(t *testing.T) {
	k := New()
	if _, err := k.Box(-1, 1, 1); err == nil {
		t.Error("expected error for negative box size")
	}
	if _, err := k.Sphere(0); err == nil {
		t.Error("expected error for zero sphere radius")
	}
}

func TestBoundingBox(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(100, 50, 25))
	min, max := box.BoundingBox()

	const tol = 0.01
	expectMin := [3]float64{-50, -25, -12.5}
	expectMax := [3]float64{50, 25, 12.5}

	for i := 0; i < 3; i++ {
		if math.Abs(min[i]-expectMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected %f", i, min[i], expectMin[i])
		}
		if math.Abs(max[i]-expectMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected %f", i, max[i], expectMax[i])
		}
	}
}

func TestTranslate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(10, 10, 10))
	translated := k.Translate(box, 100, 200, 300)

	min, max := translated.BoundingBox()

	// Box(10,10,10) moved by (100,200,300) is centered at (100,200,300).
	const tol = 0.5
	expectMin := [3]float64{95, 195, 295}
	expectMax := [3]float64{105, 205, 305}

	for i := 0; i < 3; i++ {
		if math.Abs(min[i]-expectMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected ~%f", i, min[i], expectMin[i])
		}
		if math.Abs(max[i]-expectMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected ~%f", i, max[i], expectMax[i])
		}
	}
}

func TestDifference(t *testing.T) {
	k := NewWithCells(testCells)

	box := mustSolid(t)(k.Box(100, 100, 100))
	boxMesh, err := k.ToMesh(box)
	if err != nil {
		t.Fatalf("ToMesh(box) failed: %v", err)
	}

	cyl := mustSolid(t)(k.Cylinder(120, 20))
	diff := k.Difference(box, cyl)
	diffMesh, err := k.ToMesh(diff)
	if err != nil {
		t.Fatalf("ToMesh(diff) failed: %v", err)
	}
	// A box with a hole has a larger surface than a plain box.
	if diffMesh.Area() <= boxMesh.Area() {
		t.Fatalf("difference area %v should exceed box area %v", diffMesh.Area(), boxMesh.Area())
	}
}

func TestUnionAndIntersection(t *testing.T) {
	k := NewWithCells(testCells)
	box1 := mustSolid(t)(k.Box(50, 50, 50))
	box2 := k.Translate(mustSolid(t)(k.Box(50, 50, 50)), 30, 0, 0)

	u, err := k.ToMesh(k.Union(box1, box2))
	if err != nil {
		t.Fatalf("ToMesh(union) failed: %v", err)
	}
	i, err := k.ToMesh(k.Intersection(box1, box2))
	if err != nil {
		t.Fatalf("ToMesh(intersection) failed: %v", err)
	}
	umin, umax := u.Bounds()
	imin, imax := i.Bounds()
	if umax.X-umin.X <= imax.X-imin.X {
		t.Errorf("union width %v should exceed intersection width %v", umax.X-umin.X, imax.X-imin.X)
	}
}

func TestRotate(t *testing.T) {
	k := New()
	box := mustSolid(t)(k.Box(100, 10, 10))
	rotated := k.Rotate(box, 0, 0, 90)
	min, max := rotated.BoundingBox()
	if w, h := max[0]-min[0], max[1]-min[1]; w > h {
		t.Errorf("after 90° about Z, width %v should be smaller than height %v", w, h)
	}
}

func TestSphereThroughSTL(t *testing.T) {
	k := NewWithCells(testCells)
	sphere := mustSolid(t)(k.Sphere(10))

	var buf bytes.Buffer
	if err := kernel.WriteSTL(&buf, k, sphere); err != nil {
		t.Fatalf("WriteSTL failed: %v", err)
	}
	soup, err := stl.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	m, _, err := canon.Canonicalize(soup, canon.Options{})
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if m.VertexCount() >= 3*soup.TriangleCount() {
		t.Errorf("canonical vertex count %d should be below corner count %d", m.VertexCount(), 3*soup.TriangleCount())
	}
	for i := 0; i < m.VertexCount(); i++ {
		if r := r3.Norm(m.Vertex(i)); math.Abs(r-10) > 1 {
			t.Fatalf("vertex %d at radius %v, want ~10", i, r)
		}
	}
}
