package register

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/meshcmp/pkg/mesh"
)

// Sampling selects how meshes are reduced to point sets before ICP.
type Sampling string

const (
	// SampleStride takes evenly spaced vertices.
	SampleStride Sampling = "stride"
	// SampleSurface draws area-weighted random points on the triangles.
	SampleSurface Sampling = "surface"
)

// ParseSampling validates a sampling name. The empty string selects
// SampleStride.
func ParseSampling(s string) (Sampling, error) {
	switch Sampling(s) {
	case "", SampleStride:
		return SampleStride, nil
	case SampleSurface:
		return SampleSurface, nil
	default:
		return "", fmt.Errorf("register: unknown sampling %q (want %q or %q)", s, SampleStride, SampleSurface)
	}
}

// Stride returns at most limit points taken at even spacing from pts. The
// result is a copy. A non-positive limit keeps every point.
func Stride(pts []r3.Vec, limit int) []r3.Vec {
	if limit <= 0 || len(pts) <= limit {
		return append([]r3.Vec(nil), pts...)
	}
	out := make([]r3.Vec, limit)
	for i := range out {
		out[i] = pts[i*len(pts)/limit]
	}
	return out
}

// Surface draws n points uniformly over the surface of m: triangles are
// picked in proportion to their area, then a uniform barycentric point is
// taken inside. The same seed yields the same points. A mesh without area
// falls back to Stride over its vertices.
func Surface(m *mesh.Mesh, n int, seed uint64) []r3.Vec {
	nt := m.TriangleCount()
	cum := make([]float64, nt)
	total := 0.0
	for t := 0; t < nt; t++ {
		total += r3.Norm(m.FaceNormal(t)) / 2
		cum[t] = total
	}
	if n <= 0 || total == 0 {
		return Stride(m.Points(), n)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]r3.Vec, n)
	for i := range out {
		t := sort.SearchFloat64s(cum, rng.Float64()*total)
		if t >= nt {
			t = nt - 1
		}
		tri := m.Triangle(t)
		a, b, c := m.Vertex(int(tri[0])), m.Vertex(int(tri[1])), m.Vertex(int(tri[2]))
		// Square-root warp keeps the density uniform over the triangle.
		s := math.Sqrt(rng.Float64())
		u := rng.Float64()
		out[i] = r3.Add(r3.Add(r3.Scale(1-s, a), r3.Scale(s*(1-u), b)), r3.Scale(s*u, c))
	}
	return out
}

// samplePoints reduces m according to opts.
func samplePoints(m *mesh.Mesh, opts Options) []r3.Vec {
	if opts.Sampling == SampleSurface {
		return Surface(m, opts.SampleCap, opts.Seed)
	}
	return Stride(m.Points(), opts.SampleCap)
}
