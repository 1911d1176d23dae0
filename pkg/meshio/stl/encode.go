package stl

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/chazu/meshcmp/pkg/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// Encode writes triangles as binary STL with a zeroed header apart from
// an optional name.
func Encode(w io.Writer, name string, tris []Triangle) error {
	bw := bufio.NewWriter(w)

	var header [headerSize]byte
	copy(header[:], name)
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("stl: write header: %w", err)
	}
	var buf [recordSize]byte
	le.PutUint32(buf[:4], uint32(len(tris)))
	if _, err := bw.Write(buf[:4]); err != nil {
		return fmt.Errorf("stl: write count: %w", err)
	}

	for i, t := range tris {
		putVec(buf[0:12], t.Normal)
		for j := 0; j < 3; j++ {
			putVec(buf[12+j*12:24+j*12], t.Vertices[j])
		}
		buf[48], buf[49] = 0, 0
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("stl: write triangle %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func putVec(b []byte, v [3]float32) {
	le.PutUint32(b[0:], math.Float32bits(v[0]))
	le.PutUint32(b[4:], math.Float32bits(v[1]))
	le.PutUint32(b[8:], math.Float32bits(v[2]))
}

// Triangles expands an indexed mesh back into facets. Each facet normal is
// the unit face normal computed from its winding.
func Triangles(m *mesh.Mesh) []Triangle {
	tris := make([]Triangle, m.TriangleCount())
	for t := range tris {
		idx := m.Triangle(t)
		n := m.FaceNormal(t)
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		tris[t].Normal = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
		for j, vi := range idx {
			base := int(vi) * 3
			tris[t].Vertices[j] = [3]float32{m.Vertices[base], m.Vertices[base+1], m.Vertices[base+2]}
		}
	}
	return tris
}

// EncodeMesh writes m as binary STL.
func EncodeMesh(w io.Writer, m *mesh.Mesh) error {
	return Encode(w, m.Name, Triangles(m))
}
