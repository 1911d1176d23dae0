package mesh

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a 4×4 homogeneous matrix stored row-major and applied to
// column vectors: p' = M · [p;1]. Element (r,c) lives at index r*4+c.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromRotationTranslation builds a rigid transform from a row-major 3×3
// rotation and a translation.
func FromRotationTranslation(r [9]float64, t r3.Vec) Transform {
	return Transform{
		r[0], r[1], r[2], t.X,
		r[3], r[4], r[5], t.Y,
		r[6], r[7], r[8], t.Z,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation.
func Translation(t r3.Vec) Transform {
	return FromRotationTranslation([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, t)
}

// RotationAxisAngle returns a rotation of angle radians about axis
// (Rodrigues). A zero axis yields the identity.
func RotationAxisAngle(axis r3.Vec, angle float64) Transform {
	n := r3.Norm(axis)
	if n == 0 {
		return Identity()
	}
	u := r3.Scale(1/n, axis)
	c, s := math.Cos(angle), math.Sin(angle)
	k := 1 - c
	return FromRotationTranslation([9]float64{
		c + u.X*u.X*k, u.X*u.Y*k - u.Z*s, u.X*u.Z*k + u.Y*s,
		u.Y*u.X*k + u.Z*s, c + u.Y*u.Y*k, u.Y*u.Z*k - u.X*s,
		u.Z*u.X*k - u.Y*s, u.Z*u.Y*k + u.X*s, c + u.Z*u.Z*k,
	}, r3.Vec{})
}

// Mul returns a × b, the transform that applies b first and then a.
func Mul(a, b Transform) Transform {
	var m Transform
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r*4+c] = a[r*4+0]*b[0*4+c] + a[r*4+1]*b[1*4+c] +
				a[r*4+2]*b[2*4+c] + a[r*4+3]*b[3*4+c]
		}
	}
	return m
}

// ApplyPoint transforms a point (w=1).
func (m Transform) ApplyPoint(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z + m[3],
		Y: m[4]*v.X + m[5]*v.Y + m[6]*v.Z + m[7],
		Z: m[8]*v.X + m[9]*v.Y + m[10]*v.Z + m[11],
	}
}

// ApplyVector transforms a direction (w=0): rotation only, no translation.
func (m Transform) ApplyVector(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[4]*v.X + m[5]*v.Y + m[6]*v.Z,
		Z: m[8]*v.X + m[9]*v.Y + m[10]*v.Z,
	}
}

// ApplyPoints returns a new slice with every point transformed.
func (m Transform) ApplyPoints(pts []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(pts))
	for i, p := range pts {
		out[i] = m.ApplyPoint(p)
	}
	return out
}

// InverseRigid inverts a rigid transform (orthonormal rotation block).
// The result is meaningless for transforms with scale or shear.
func (m Transform) InverseRigid() Transform {
	// R^T and -R^T t
	rt := [9]float64{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	}
	t := r3.Vec{X: m[3], Y: m[7], Z: m[11]}
	return FromRotationTranslation(rt, r3.Vec{
		X: -(rt[0]*t.X + rt[1]*t.Y + rt[2]*t.Z),
		Y: -(rt[3]*t.X + rt[4]*t.Y + rt[5]*t.Z),
		Z: -(rt[6]*t.X + rt[7]*t.Y + rt[8]*t.Z),
	})
}

// MaxDiff returns the largest absolute element difference between m and o.
func (m Transform) MaxDiff(o Transform) float64 {
	var d float64
	for i := range m {
		d = math.Max(d, math.Abs(m[i]-o[i]))
	}
	return d
}

// IsIdentity checks if the matrix is within eps of identity.
func (m Transform) IsIdentity(eps float64) bool {
	return m.MaxDiff(Identity()) <= eps
}

// Rows returns the matrix as four rows, the shape used on the wire.
func (m Transform) Rows() [][]float64 {
	rows := make([][]float64, 4)
	for r := range rows {
		rows[r] = append([]float64(nil), m[r*4:r*4+4]...)
	}
	return rows
}

// MarshalJSON encodes the transform as four rows of four numbers.
func (m Transform) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Rows())
}

// UnmarshalJSON decodes four rows of four numbers.
func (m *Transform) UnmarshalJSON(data []byte) error {
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) != 4 {
		return fmt.Errorf("transform: want 4 rows, got %d", len(rows))
	}
	for r, row := range rows {
		if len(row) != 4 {
			return fmt.Errorf("transform: row %d has %d columns, want 4", r, len(row))
		}
		copy(m[r*4:r*4+4], row)
	}
	return nil
}

// Apply returns a new mesh with vertices transformed as points and normals
// rotated (and renormalized). Indices are copied unchanged; src is not
// modified.
func (m Transform) Apply(src *Mesh) *Mesh {
	out := &Mesh{
		Vertices: make([]float32, len(src.Vertices)),
		Normals:  make([]float32, len(src.Normals)),
		Indices:  append([]uint32(nil), src.Indices...),
		Name:     src.Name,
	}
	for i := 0; i < src.VertexCount(); i++ {
		p := m.ApplyPoint(src.Vertex(i))
		out.Vertices[i*3] = float32(p.X)
		out.Vertices[i*3+1] = float32(p.Y)
		out.Vertices[i*3+2] = float32(p.Z)
	}
	for i := 0; i+2 < len(src.Normals); i += 3 {
		n := m.ApplyVector(r3.Vec{
			X: float64(src.Normals[i]),
			Y: float64(src.Normals[i+1]),
			Z: float64(src.Normals[i+2]),
		})
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		out.Normals[i] = float32(n.X)
		out.Normals[i+1] = float32(n.Y)
		out.Normals[i+2] = float32(n.Z)
	}
	return out
}
