// Package mesh defines the canonical triangle mesh shared by every codec
// and algorithm in meshcmp, along with the rigid transform type produced by
// registration.
package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle mesh.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
// This flattening is the wire format consumed by the renderer.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	Name     string    `json:"name,omitempty"`
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// HasNormals reports whether the normal buffer matches the vertex buffer
// and holds at least one non-zero component.
func (m *Mesh) HasNormals() bool {
	if len(m.Normals) != len(m.Vertices) {
		return false
	}
	for _, c := range m.Normals {
		if c != 0 {
			return true
		}
	}
	return false
}

// Vertex returns vertex i in float64 precision.
func (m *Mesh) Vertex(i int) r3.Vec {
	return r3.Vec{
		X: float64(m.Vertices[i*3]),
		Y: float64(m.Vertices[i*3+1]),
		Z: float64(m.Vertices[i*3+2]),
	}
}

// Normal returns the normal of vertex i, or the zero vector when the
// normal buffer is short.
func (m *Mesh) Normal(i int) r3.Vec {
	if i*3+2 >= len(m.Normals) {
		return r3.Vec{}
	}
	return r3.Vec{
		X: float64(m.Normals[i*3]),
		Y: float64(m.Normals[i*3+1]),
		Z: float64(m.Normals[i*3+2]),
	}
}

// Triangle returns the three vertex indices of triangle t.
func (m *Mesh) Triangle(t int) [3]uint32 {
	return [3]uint32{m.Indices[t*3], m.Indices[t*3+1], m.Indices[t*3+2]}
}

// Points returns the vertex positions as a point set. The slice is freshly
// allocated and does not alias the mesh.
func (m *Mesh) Points() []r3.Vec {
	pts := make([]r3.Vec, m.VertexCount())
	for i := range pts {
		pts[i] = m.Vertex(i)
	}
	return pts
}

// Clone returns a deep copy of m.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices: append([]float32(nil), m.Vertices...),
		Normals:  append([]float32(nil), m.Normals...),
		Indices:  append([]uint32(nil), m.Indices...),
		Name:     m.Name,
	}
}

// Bounds returns the axis-aligned bounding box. An empty mesh yields
// min=+Inf and max=-Inf.
func (m *Mesh) Bounds() (min, max r3.Vec) {
	inf := math.Inf(1)
	min = r3.Vec{X: inf, Y: inf, Z: inf}
	max = r3.Vec{X: -inf, Y: -inf, Z: -inf}
	for i := 0; i < m.VertexCount(); i++ {
		v := m.Vertex(i)
		min = r3.Vec{X: math.Min(min.X, v.X), Y: math.Min(min.Y, v.Y), Z: math.Min(min.Z, v.Z)}
		max = r3.Vec{X: math.Max(max.X, v.X), Y: math.Max(max.Y, v.Y), Z: math.Max(max.Z, v.Z)}
	}
	return min, max
}

// FaceNormal returns the unnormalized normal of triangle t (edge cross
// product, length = twice the area).
func (m *Mesh) FaceNormal(t int) r3.Vec {
	tri := m.Triangle(t)
	a := m.Vertex(int(tri[0]))
	b := m.Vertex(int(tri[1]))
	c := m.Vertex(int(tri[2]))
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
}

// Area returns the total surface area.
func (m *Mesh) Area() float64 {
	var sum float64
	for t := 0; t < m.TriangleCount(); t++ {
		sum += r3.Norm(m.FaceNormal(t)) / 2
	}
	return sum
}

// FromPoints builds a mesh with no triangles from a point set.
func FromPoints(pts []r3.Vec) *Mesh {
	m := &Mesh{
		Vertices: make([]float32, 0, len(pts)*3),
		Normals:  make([]float32, len(pts)*3),
		Indices:  []uint32{},
	}
	for _, p := range pts {
		m.Vertices = append(m.Vertices, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return m
}
