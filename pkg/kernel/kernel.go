// Package kernel defines the CAD collaborators meshcmp relies on: a solid
// modeling kernel that can tessellate reference parts, and a converter that
// turns CAD exchange files (STEP, IGES) into STL.
//
// Both are interfaces so the rest of the system never depends on a
// particular backend.
package kernel

import (
	"fmt"
	"io"

	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
)

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel builds solids and tessellates them. Primitives are centered on the
// origin.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) (Solid, error)
	Cylinder(height, radius float64) (Solid, error)
	Sphere(radius float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// ToMesh tessellates s into a triangle soup: every triangle has its own
	// three vertices, as an STL file would.
	ToMesh(s Solid) (*mesh.Mesh, error)
}

// WriteSTL tessellates s with k and writes it as binary STL.
func WriteSTL(w io.Writer, k Kernel, s Solid) error {
	m, err := k.ToMesh(s)
	if err != nil {
		return fmt.Errorf("kernel: tessellate: %w", err)
	}
	return stl.EncodeMesh(w, m)
}
