package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Severity indicates whether a check finding makes the mesh unusable or is
// merely informational.
type Severity int

const (
	SeverityError   Severity = iota // mesh violates a buffer invariant
	SeverityWarning                 // advisory
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Finding describes a single check result. Triangle and Vertex are -1 when
// the finding is not tied to one element.
type Finding struct {
	Severity Severity `json:"-"`
	Triangle int      `json:"triangle"`
	Vertex   int      `json:"vertex"`
	Message  string   `json:"message"`
}

func (f Finding) Error() string {
	switch {
	case f.Triangle >= 0:
		return fmt.Sprintf("[%s] triangle %d: %s", f.Severity, f.Triangle, f.Message)
	case f.Vertex >= 0:
		return fmt.Sprintf("[%s] vertex %d: %s", f.Severity, f.Vertex, f.Message)
	default:
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
}

// Report bundles blocking errors and advisory warnings.
type Report struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// OK reports whether the mesh passed every structural check.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// Err returns the first structural error, or nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// maxFindings caps each tier so a badly broken mesh does not produce a
// report as large as the mesh itself.
const maxFindings = 100

// normalTolerance is the allowed deviation of a normal's length from 1.
const normalTolerance = 1e-3

// Check runs structural checks (buffer shapes, index range) and, when
// those pass, advisory geometric checks (degenerate triangles, non-unit
// normals). It never modifies m.
func Check(m *Mesh) Report {
	r := Report{Errors: []Finding{}, Warnings: []Finding{}}
	r.Errors = append(r.Errors, checkBuffers(m)...)
	if len(r.Errors) == 0 {
		r.Errors = append(r.Errors, checkIndexRange(m)...)
	}
	if len(r.Errors) > 0 {
		return r
	}
	r.Warnings = append(r.Warnings, checkDegenerate(m)...)
	r.Warnings = append(r.Warnings, checkNormals(m)...)
	return r
}

func checkBuffers(m *Mesh) []Finding {
	var out []Finding
	if len(m.Vertices)%3 != 0 {
		out = append(out, Finding{SeverityError, -1, -1,
			fmt.Sprintf("vertex buffer length %d is not a multiple of 3", len(m.Vertices))})
	}
	if len(m.Indices)%3 != 0 {
		out = append(out, Finding{SeverityError, -1, -1,
			fmt.Sprintf("index buffer length %d is not a multiple of 3", len(m.Indices))})
	}
	if len(m.Normals) != len(m.Vertices) {
		out = append(out, Finding{SeverityError, -1, -1,
			fmt.Sprintf("normal buffer length %d does not match vertex buffer length %d", len(m.Normals), len(m.Vertices))})
	}
	return out
}

func checkIndexRange(m *Mesh) []Finding {
	var out []Finding
	n := uint32(m.VertexCount())
	for t := 0; t < m.TriangleCount() && len(out) < maxFindings; t++ {
		for _, idx := range m.Triangle(t) {
			if idx >= n {
				out = append(out, Finding{SeverityError, t, -1,
					fmt.Sprintf("index %d out of range [0, %d)", idx, n)})
				break
			}
		}
	}
	return out
}

func checkDegenerate(m *Mesh) []Finding {
	var out []Finding
	for t := 0; t < m.TriangleCount() && len(out) < maxFindings; t++ {
		tri := m.Triangle(t)
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			out = append(out, Finding{SeverityWarning, t, -1, "repeated vertex index"})
			continue
		}
		if r3.Norm(m.FaceNormal(t)) == 0 {
			out = append(out, Finding{SeverityWarning, t, -1, "zero area"})
		}
	}
	return out
}

func checkNormals(m *Mesh) []Finding {
	var out []Finding
	for i := 0; i < m.VertexCount() && len(out) < maxFindings; i++ {
		l := r3.Norm(m.Normal(i))
		if math.Abs(l-1) > normalTolerance {
			out = append(out, Finding{SeverityWarning, -1, i,
				fmt.Sprintf("normal length %.4f", l)})
		}
	}
	return out
}
