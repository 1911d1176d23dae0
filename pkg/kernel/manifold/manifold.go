//go:build manifold

// Package manifold provides a CGo-based geometry kernel binding to the
// Manifold library (https://github.com/elalish/manifold). Manifold produces
// exact polyhedral reference parts, where the sdfx backend approximates
// them with marching cubes.
//
// This package requires the Manifold C library (manifoldc) to be installed.
// Build with: go build -tags=manifold
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
)

// Compile-time interface checks.
var _ kernel.Kernel = (*ManifoldKernel)(nil)
var _ kernel.Solid = (*manifoldSolid)(nil)

// manifoldSolid wraps a C ManifoldManifold pointer and implements kernel.Solid.
type manifoldSolid struct {
	ptr *C.ManifoldManifold
}

// BoundingBox returns the axis-aligned bounding box of the solid.
func (s *manifoldSolid) BoundingBox() (min, max [3]float64) {
	alloc := C.manifold_alloc_box()
	bbox := C.manifold_bounding_box(alloc, s.ptr)
	defer C.manifold_delete_box(bbox)

	min[0] = float64(C.manifold_box_min_x(bbox))
	min[1] = float64(C.manifold_box_min_y(bbox))
	min[2] = float64(C.manifold_box_min_z(bbox))
	max[0] = float64(C.manifold_box_max_x(bbox))
	max[1] = float64(C.manifold_box_max_y(bbox))
	max[2] = float64(C.manifold_box_max_z(bbox))
	return min, max
}

// newSolid wraps ptr and frees it when the Go value is collected.
func newSolid(ptr *C.ManifoldManifold) *manifoldSolid {
	s := &manifoldSolid{ptr: ptr}
	runtime.SetFinalizer(s, func(s *manifoldSolid) {
		if s.ptr != nil {
			C.manifold_delete_manifold(s.ptr)
			s.ptr = nil
		}
	})
	return s
}

func unwrap(s kernel.Solid) *C.ManifoldManifold {
	return s.(*manifoldSolid).ptr
}

// ManifoldKernel implements kernel.Kernel using the Manifold C library.
type ManifoldKernel struct {
	segments int
}

// New creates a ManifoldKernel approximating round primitives with
// DefaultSegments facets. segments <= 0 selects the default.
func New(segments int) (kernel.Kernel, error) {
	if segments <= 0 {
		segments = DefaultSegments
	}
	return &ManifoldKernel{segments: segments}, nil
}

func positive(op string, dims ...float64) error {
	for _, d := range dims {
		if !(d > 0) {
			return fmt.Errorf("manifold: %s: dimensions must be positive, got %v", op, dims)
		}
	}
	return nil
}

// Box creates an axis-aligned box centered on the origin.
func (k *ManifoldKernel) Box(x, y, z float64) (kernel.Solid, error) {
	if err := positive("box", x, y, z); err != nil {
		return nil, err
	}
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_cube(alloc,
		C.double(x), C.double(y), C.double(z),
		C.int(1), // center
	)
	return newSolid(ptr), nil
}

// Cylinder creates a cylinder along Z centered on the origin.
func (k *ManifoldKernel) Cylinder(height, radius float64) (kernel.Solid, error) {
	if err := positive("cylinder", height, radius); err != nil {
		return nil, err
	}
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_cylinder(alloc,
		C.double(height),
		C.double(radius), // radius_low
		C.double(radius), // radius_high
		C.int(k.segments),
		C.int(1), // center
	)
	return newSolid(ptr), nil
}

// Sphere creates a sphere centered on the origin.
func (k *ManifoldKernel) Sphere(radius float64) (kernel.Solid, error) {
	if err := positive("sphere", radius); err != nil {
		return nil, err
	}
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_sphere(alloc, C.double(radius), C.int(k.segments))
	return newSolid(ptr), nil
}

// Union returns the boolean union of two solids.
func (k *ManifoldKernel) Union(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_union(alloc, unwrap(a), unwrap(b)))
}

// Difference returns the boolean difference (a minus b).
func (k *ManifoldKernel) Difference(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_difference(alloc, unwrap(a), unwrap(b)))
}

// Intersection returns the boolean intersection of two solids.
func (k *ManifoldKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_intersection(alloc, unwrap(a), unwrap(b)))
}

// Translate moves the solid by (x, y, z).
func (k *ManifoldKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_translate(alloc, unwrap(s),
		C.double(x), C.double(y), C.double(z),
	))
}

// Rotate rotates the solid by Euler angles (in degrees) around X, Y, Z.
func (k *ManifoldKernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_rotate(alloc, unwrap(s),
		C.double(x), C.double(y), C.double(z),
	))
}

// ToMesh extracts Manifold's indexed MeshGL and expands it into a triangle
// soup with face normals, the same shape the sdfx backend returns.
func (k *ManifoldKernel) ToMesh(s kernel.Solid) (*mesh.Mesh, error) {
	meshAlloc := C.manifold_alloc_meshgl()
	meshGL := C.manifold_get_meshgl(meshAlloc, unwrap(s))
	defer C.manifold_delete_meshgl(meshGL)

	numVert := int(C.manifold_meshgl_num_vert(meshGL))
	numTri := int(C.manifold_meshgl_num_tri(meshGL))
	if numVert == 0 || numTri == 0 {
		return nil, errors.New("manifold: solid has no triangles")
	}

	// The first three properties of every vertex are its position.
	numProp := int(C.manifold_meshgl_num_prop(meshGL))
	props := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties((*C.float)(unsafe.Pointer(&props[0])), meshGL)

	tris := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts((*C.uint32_t)(unsafe.Pointer(&tris[0])), meshGL)

	out := &mesh.Mesh{
		Vertices: make([]float32, 0, len(tris)*3),
		Normals:  make([]float32, 0, len(tris)*3),
		Indices:  make([]uint32, len(tris)),
	}
	for i, v := range tris {
		if int(v) >= numVert {
			return nil, fmt.Errorf("manifold: triangle %d references vertex %d of %d", i/3, v, numVert)
		}
		base := int(v) * numProp
		out.Vertices = append(out.Vertices, props[base], props[base+1], props[base+2])
		out.Indices[i] = uint32(i)
	}
	for t := 0; t < numTri; t++ {
		n := out.FaceNormal(t)
		if r3.Norm(n) > 0 {
			n = r3.Unit(n)
		}
		for j := 0; j < 3; j++ {
			out.Normals = append(out.Normals, float32(n.X), float32(n.Y), float32(n.Z))
		}
	}

	logging.Logger().Debug("manifold: tessellated", "segments", k.segments, "triangles", numTri)
	return out, nil
}
