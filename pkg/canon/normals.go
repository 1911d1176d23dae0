package canon

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/parallel"
)

// VertexNormals returns area-weighted vertex normals for the given
// positions and triangles: each vertex sums the unnormalized cross products
// of its incident triangles, then the sum is normalized. Vertices with no
// incident triangle, or whose sum cancels out, get the zero vector.
// Out-of-range indices are skipped.
func VertexNormals(vertices []float32, indices []uint32, workers int) []float32 {
	src := &mesh.Mesh{Vertices: vertices, Indices: indices}
	nv := src.VertexCount()
	nt := src.TriangleCount()

	faces := make([]r3.Vec, nt)
	parallel.For(nt, workers, func(start, end int) {
		for t := start; t < end; t++ {
			tri := src.Triangle(t)
			if int(tri[0]) >= nv || int(tri[1]) >= nv || int(tri[2]) >= nv {
				continue
			}
			faces[t] = src.FaceNormal(t)
		}
	})

	acc := make([]r3.Vec, nv)
	for t, fn := range faces {
		tri := src.Triangle(t)
		for _, vi := range tri {
			if int(vi) < nv {
				acc[vi] = r3.Add(acc[vi], fn)
			}
		}
	}

	out := make([]float32, nv*3)
	for i, n := range acc {
		l := r3.Norm(n)
		if l == 0 {
			continue
		}
		n = r3.Scale(1/l, n)
		out[i*3] = float32(n.X)
		out[i*3+1] = float32(n.Y)
		out[i*3+2] = float32(n.Z)
	}
	return out
}

// ComputeNormals returns a copy of m whose normals are recomputed from its
// triangles.
func ComputeNormals(m *mesh.Mesh, workers int) *mesh.Mesh {
	out := m.Clone()
	out.Normals = VertexNormals(out.Vertices, out.Indices, workers)
	return out
}
