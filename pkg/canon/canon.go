// Package canon cleans freshly decoded meshes into canonical form: no
// duplicate, degenerate or unreferenced elements, a normal per vertex, and
// consistent triangle winding within each connected component.
//
// Every pass works on a private copy; the caller's mesh is never modified.
package canon

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/parallel"
)

// DegenerateTolerance is the smallest accepted ratio of a triangle's
// height to its longest edge. Thinner triangles count as collinear.
const DegenerateTolerance = 1e-7

// Options controls canonicalization.
type Options struct {
	// MergeTolerance is the grid size used to merge nearby vertices.
	// Zero merges only bit-identical positions.
	MergeTolerance float64
	// Workers bounds the goroutines used by per-triangle passes.
	// Zero means runtime.NumCPU().
	Workers int
}

// Stats counts what each pass changed.
type Stats struct {
	DuplicateVertices    int  `json:"duplicate_vertices"`
	DuplicateTriangles   int  `json:"duplicate_triangles"`
	DegenerateTriangles  int  `json:"degenerate_triangles"`
	UnreferencedVertices int  `json:"unreferenced_vertices"`
	FlippedTriangles     int  `json:"flipped_triangles"`
	NormalsComputed      bool `json:"normals_computed"`
}

// work is the mutable state threaded through the passes.
type work struct {
	verts   []float32
	normals []float32 // nil when the input had none
	tris    [][3]uint32
}

// Canonicalize returns the canonical form of m. Running it on its own
// output returns an identical mesh.
func Canonicalize(m *mesh.Mesh, opts Options) (*mesh.Mesh, Stats, error) {
	var st Stats
	if err := validate(m); err != nil {
		return nil, st, err
	}

	w := &work{verts: append([]float32(nil), m.Vertices...)}
	if len(m.Normals) == len(m.Vertices) {
		w.normals = append([]float32(nil), m.Normals...)
	}
	w.tris = make([][3]uint32, m.TriangleCount())
	for t := range w.tris {
		w.tris[t] = m.Triangle(t)
	}

	st.DuplicateVertices = w.mergeDuplicateVertices(opts.MergeTolerance)
	st.DuplicateTriangles = w.removeDuplicateTriangles()
	st.DegenerateTriangles = w.removeDegenerateTriangles(opts.Workers)
	st.UnreferencedVertices = w.removeUnreferencedVertices()

	out := &mesh.Mesh{
		Vertices: w.verts,
		Normals:  w.normals,
		Name:     m.Name,
	}
	if !out.HasNormals() {
		out.Normals = VertexNormals(w.verts, flatten(w.tris), opts.Workers)
		st.NormalsComputed = true
	}

	st.FlippedTriangles = orient(w.tris)
	out.Indices = flatten(w.tris)
	if st.NormalsComputed && st.FlippedTriangles > 0 {
		// Normals derived in this call follow the final winding.
		out.Normals = VertexNormals(out.Vertices, out.Indices, opts.Workers)
	}

	logging.Logger().Debug("canon: canonicalized",
		"vertices", out.VertexCount(),
		"triangles", out.TriangleCount(),
		"duplicate_vertices", st.DuplicateVertices,
		"duplicate_triangles", st.DuplicateTriangles,
		"degenerate_triangles", st.DegenerateTriangles,
		"unreferenced_vertices", st.UnreferencedVertices,
		"flipped", st.FlippedTriangles,
		"normals_computed", st.NormalsComputed)
	return out, st, nil
}

func validate(m *mesh.Mesh) error {
	if len(m.Vertices)%3 != 0 {
		return fmt.Errorf("canon: vertex buffer length %d is not a multiple of 3", len(m.Vertices))
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("canon: index buffer length %d is not a multiple of 3", len(m.Indices))
	}
	n := uint32(m.VertexCount())
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("canon: triangle %d: index %d out of range [0, %d)", i/3, idx, n)
		}
	}
	return nil
}

func flatten(tris [][3]uint32) []uint32 {
	out := make([]uint32, 0, len(tris)*3)
	for _, t := range tris {
		out = append(out, t[0], t[1], t[2])
	}
	return out
}

// positionKey identifies a vertex for merging: raw bits when the tolerance
// is zero, otherwise the grid cell.
type positionKey [3]int64

func (w *work) keyOf(i int, tol float64) positionKey {
	x, y, z := w.verts[i*3], w.verts[i*3+1], w.verts[i*3+2]
	if tol <= 0 {
		return positionKey{
			int64(math.Float32bits(x)),
			int64(math.Float32bits(y)),
			int64(math.Float32bits(z)),
		}
	}
	return positionKey{
		int64(math.Round(float64(x) / tol)),
		int64(math.Round(float64(y) / tol)),
		int64(math.Round(float64(z) / tol)),
	}
}

// mergeDuplicateVertices keeps the first vertex of each key, in order, and
// remaps triangles onto it.
func (w *work) mergeDuplicateVertices(tol float64) int {
	n := len(w.verts) / 3
	first := make(map[positionKey]uint32, n)
	remap := make([]uint32, n)
	verts := w.verts[:0:0]
	var normals []float32
	if w.normals != nil {
		normals = make([]float32, 0, len(w.normals))
	}
	for i := 0; i < n; i++ {
		k := w.keyOf(i, tol)
		if idx, ok := first[k]; ok {
			remap[i] = idx
			continue
		}
		idx := uint32(len(verts) / 3)
		first[k] = idx
		remap[i] = idx
		verts = append(verts, w.verts[i*3:i*3+3]...)
		if w.normals != nil {
			normals = append(normals, w.normals[i*3:i*3+3]...)
		}
	}
	for t := range w.tris {
		for j := range w.tris[t] {
			w.tris[t][j] = remap[w.tris[t][j]]
		}
	}
	removed := n - len(verts)/3
	w.verts, w.normals = verts, normals
	return removed
}

// removeDuplicateTriangles drops triangles whose unordered index set was
// already seen.
func (w *work) removeDuplicateTriangles() int {
	seen := make(map[[3]uint32]struct{}, len(w.tris))
	kept := w.tris[:0]
	for _, t := range w.tris {
		k := sorted(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, t)
	}
	removed := len(w.tris) - len(kept)
	w.tris = kept
	return removed
}

func sorted(t [3]uint32) [3]uint32 {
	if t[0] > t[1] {
		t[0], t[1] = t[1], t[0]
	}
	if t[1] > t[2] {
		t[1], t[2] = t[2], t[1]
	}
	if t[0] > t[1] {
		t[0], t[1] = t[1], t[0]
	}
	return t
}

// removeDegenerateTriangles drops triangles with a repeated index or with
// (near) collinear corners.
func (w *work) removeDegenerateTriangles(workers int) int {
	bad := make([]bool, len(w.tris))
	parallel.For(len(w.tris), workers, func(start, end int) {
		for t := start; t < end; t++ {
			bad[t] = w.degenerate(w.tris[t])
		}
	})
	kept := w.tris[:0]
	for t, tri := range w.tris {
		if !bad[t] {
			kept = append(kept, tri)
		}
	}
	removed := len(w.tris) - len(kept)
	w.tris = kept
	return removed
}

func (w *work) vertex(i uint32) r3.Vec {
	return r3.Vec{
		X: float64(w.verts[i*3]),
		Y: float64(w.verts[i*3+1]),
		Z: float64(w.verts[i*3+2]),
	}
}

func (w *work) degenerate(t [3]uint32) bool {
	if t[0] == t[1] || t[1] == t[2] || t[0] == t[2] {
		return true
	}
	a, b, c := w.vertex(t[0]), w.vertex(t[1]), w.vertex(t[2])
	ab, ac, bc := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(c, b)
	longest := math.Max(r3.Norm2(ab), math.Max(r3.Norm2(ac), r3.Norm2(bc)))
	if longest == 0 {
		return true
	}
	// |ab × ac| / longest² is twice the height over the longest edge.
	return r3.Norm(r3.Cross(ab, ac)) <= 2*DegenerateTolerance*longest
}

// removeUnreferencedVertices compacts the vertex buffer to vertices used by
// at least one triangle, preserving their relative order.
func (w *work) removeUnreferencedVertices() int {
	n := len(w.verts) / 3
	used := make([]bool, n)
	for _, t := range w.tris {
		used[t[0]], used[t[1]], used[t[2]] = true, true, true
	}
	remap := make([]uint32, n)
	verts := make([]float32, 0, len(w.verts))
	var normals []float32
	if w.normals != nil {
		normals = make([]float32, 0, len(w.normals))
	}
	for i := 0; i < n; i++ {
		if !used[i] {
			continue
		}
		remap[i] = uint32(len(verts) / 3)
		verts = append(verts, w.verts[i*3:i*3+3]...)
		if w.normals != nil {
			normals = append(normals, w.normals[i*3:i*3+3]...)
		}
	}
	for t := range w.tris {
		for j := range w.tris[t] {
			w.tris[t][j] = remap[w.tris[t][j]]
		}
	}
	removed := n - len(verts)/3
	w.verts, w.normals = verts, normals
	return removed
}
