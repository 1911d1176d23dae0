package engine

import (
	"fmt"

	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/register"
)

// MeshSummary describes a mesh without its buffers.
type MeshSummary struct {
	Name      string     `json:"name,omitempty"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	Area      float64    `json:"area"`
	Min       [3]float64 `json:"min"`
	Max       [3]float64 `json:"max"`
}

func summarize(m *mesh.Mesh) *MeshSummary {
	lo, hi := m.Bounds()
	return &MeshSummary{
		Name:      m.Name,
		Vertices:  m.VertexCount(),
		Triangles: m.TriangleCount(),
		Area:      m.Area(),
		Min:       [3]float64{lo.X, lo.Y, lo.Z},
		Max:       [3]float64{hi.X, hi.Y, hi.Z},
	}
}

// Report is one named result recorded by (report name value). Exactly one
// of the value fields is set, matching Kind.
type Report struct {
	Name      string                 `json:"name"`
	Kind      string                 `json:"kind"`
	Scalar    *float64               `json:"scalar,omitempty"`
	Mesh      *MeshSummary           `json:"mesh,omitempty"`
	Distance  *compare.DistanceStats `json:"distance,omitempty"`
	Match     *compare.MatchStats    `json:"match,omitempty"`
	Alignment *register.Result       `json:"alignment,omitempty"`
}

// Report kinds.
const (
	KindScalar    = "scalar"
	KindMesh      = "mesh"
	KindDistance  = "distance"
	KindMatch     = "match"
	KindAlignment = "alignment"
)

// Session is the output of one successful evaluation.
type Session struct {
	Reports  []Report      `json:"reports"`
	Warnings []EvalWarning `json:"warnings"`
}

func newSession() *Session {
	return &Session{Reports: []Report{}, Warnings: []EvalWarning{}}
}

// Lookup returns the first report with the given name.
func (s *Session) Lookup(name string) (Report, bool) {
	for _, r := range s.Reports {
		if r.Name == name {
			return r, true
		}
	}
	return Report{}, false
}

func (s *Session) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, EvalWarning{Message: fmt.Sprintf(format, args...)})
}
