// Package obj decodes Wavefront OBJ text into indexed triangle meshes.
//
// Only geometry is read: "v" positions, "vn" normals and "f" faces. Faces
// with more than three corners are triangulated assuming convexity: a quad
// becomes (0,1,2),(0,2,3) and larger polygons are fanned from corner 0.
// Texture coordinates, groups and materials are skipped.
//
// Normals are stored per vertex position. When faces give one vertex
// different normals, the last face read wins.
package obj

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
)

// FormatName labels errors produced by this package.
const FormatName = "obj"

// maxLine bounds a single OBJ line.
const maxLine = 1 << 20

// Options controls decoding.
type Options struct {
	// Workers bounds the goroutines used to compute fallback normals.
	Workers int
}

// normalRef records that a face corner assigned normal n to vertex v.
type normalRef struct {
	v, n int
}

// parsed is the raw output of one parsing strategy.
type parsed struct {
	vertices []float32
	normals  [][3]float32
	indices  []uint32
	refs     []normalRef
}

type strategy struct {
	name  string
	parse func(data []byte) (*parsed, error)
}

var strategies = []strategy{
	{"strict", parseStrict},
	{"lenient", parseLenient},
}

// Decode parses OBJ bytes. If strict parsing fails, a lenient pass that
// skips malformed lines is tried. When both fail the returned
// *mesh.FormatError wraps both causes.
func Decode(data []byte) (*mesh.Mesh, error) {
	return DecodeWithOptions(data, Options{})
}

// DecodeReader reads r to EOF and decodes it.
func DecodeReader(r io.Reader) (*mesh.Mesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("obj: read: %w", err)
	}
	return Decode(data)
}

// DecodeWithOptions is Decode with explicit options.
func DecodeWithOptions(data []byte, opts Options) (*mesh.Mesh, error) {
	var errs []error
	for i, s := range strategies {
		p, err := s.parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if i > 0 {
			logging.Logger().Warn("obj: strict parse failed, using fallback",
				"strategy", s.name, "error", errs[0])
		}
		return p.build(opts), nil
	}
	return nil, &mesh.FormatError{
		Format:  FormatName,
		Offset:  -1,
		Message: "no parsing strategy succeeded",
		Err:     errors.Join(errs...),
	}
}

// build turns parsed tables into a mesh whose normal buffer always matches
// the vertex buffer.
func (p *parsed) build(opts Options) *mesh.Mesh {
	m := &mesh.Mesh{Vertices: p.vertices, Indices: p.indices}
	if m.Vertices == nil {
		m.Vertices = []float32{}
	}
	if m.Indices == nil {
		m.Indices = []uint32{}
	}
	if len(p.refs) == 0 {
		m.Normals = canon.VertexNormals(m.Vertices, m.Indices, opts.Workers)
		logging.Logger().Debug("obj: decoded, normals computed",
			"vertices", m.VertexCount(), "triangles", m.TriangleCount())
		return m
	}
	m.Normals = make([]float32, len(m.Vertices))
	for _, r := range p.refs {
		n := p.normals[r.n]
		copy(m.Normals[r.v*3:r.v*3+3], n[:])
	}
	logging.Logger().Debug("obj: decoded",
		"vertices", m.VertexCount(), "triangles", m.TriangleCount(), "normals", len(p.normals))
	return m
}

// corner is one resolved face corner. n is -1 when no normal is given.
type corner struct {
	v, n int
}

// lineError is a strict-mode failure at a given line.
func lineError(line int, format string, args ...any) error {
	return &mesh.FormatError{Format: FormatName, Offset: -1, Line: line, Message: fmt.Sprintf(format, args...)}
}

func newScanner(data []byte) *bufio.Scanner {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return sc
}

// parseStrict rejects any malformed v, vn or f line.
func parseStrict(data []byte) (*parsed, error) {
	p := &parsed{}
	sc := newScanner(data)
	line := 0
	// Vertex range is checked once all positions are known.
	type faceAt struct {
		line    int
		corners []corner
	}
	var faces []faceAt

	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, lineError(line, "vertex needs 3 coordinates, got %d", len(fields)-1)
			}
			v, err := parseTriple(fields[1:4])
			if err != nil {
				return nil, lineError(line, "%v", err)
			}
			p.vertices = append(p.vertices, v[0], v[1], v[2])
		case "vn":
			if len(fields) != 4 {
				return nil, lineError(line, "normal needs 3 components, got %d", len(fields)-1)
			}
			n, err := parseTriple(fields[1:4])
			if err != nil {
				return nil, lineError(line, "%v", err)
			}
			p.normals = append(p.normals, n)
		case "f":
			if len(fields) < 4 {
				return nil, lineError(line, "face needs at least 3 corners, got %d", len(fields)-1)
			}
			cs := make([]corner, 0, len(fields)-1)
			for _, f := range fields[1:] {
				c, err := parseCorner(f, len(p.vertices)/3, len(p.normals))
				if err != nil {
					return nil, lineError(line, "corner %q: %v", f, err)
				}
				cs = append(cs, c)
			}
			faces = append(faces, faceAt{line, cs})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &mesh.FormatError{Format: FormatName, Offset: -1, Line: line + 1, Message: "scan", Err: err}
	}

	nv := len(p.vertices) / 3
	for _, f := range faces {
		for _, c := range f.corners {
			if c.v < 0 || c.v >= nv {
				return nil, lineError(f.line, "vertex index %d out of range [1, %d]", c.v+1, nv)
			}
		}
		p.addFace(f.corners)
	}
	return p, nil
}

// parseLenient keeps whatever parses: malformed lines and faces with bad
// references are skipped. It fails only when nothing usable remains.
func parseLenient(data []byte) (*parsed, error) {
	p := &parsed{}
	sc := newScanner(data)
	var faces [][]corner
	skipped := 0

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				skipped++
				continue
			}
			v, err := parseTriple(fields[1:4])
			if err != nil {
				skipped++
				continue
			}
			p.vertices = append(p.vertices, v[0], v[1], v[2])
		case "vn":
			if len(fields) < 4 {
				skipped++
				continue
			}
			n, err := parseTriple(fields[1:4])
			if err != nil {
				skipped++
				continue
			}
			p.normals = append(p.normals, n)
		case "f":
			cs := make([]corner, 0, len(fields)-1)
			for _, f := range fields[1:] {
				c, err := parseCorner(f, len(p.vertices)/3, len(p.normals))
				if err != nil {
					// Keep the position, drop the bad normal.
					c.n = -1
					if c.v < 0 {
						continue
					}
				}
				cs = append(cs, c)
			}
			if len(cs) < 3 {
				skipped++
				continue
			}
			faces = append(faces, cs)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	nv := len(p.vertices) / 3
	for _, cs := range faces {
		kept := cs[:0]
		for _, c := range cs {
			if c.v >= 0 && c.v < nv {
				kept = append(kept, c)
			}
		}
		if len(kept) < 3 {
			skipped++
			continue
		}
		p.addFace(kept)
	}
	if nv == 0 && len(bytes.TrimSpace(data)) > 0 {
		return nil, errors.New("no vertices found")
	}
	if skipped > 0 {
		logging.Logger().Debug("obj: lenient parse skipped lines", "skipped", skipped)
	}
	return p, nil
}

// addFace triangulates a polygon and records its normal references.
func (p *parsed) addFace(cs []corner) {
	for _, c := range cs {
		if c.n >= 0 {
			p.refs = append(p.refs, normalRef{v: c.v, n: c.n})
		}
	}
	switch len(cs) {
	case 3:
		p.indices = append(p.indices, uint32(cs[0].v), uint32(cs[1].v), uint32(cs[2].v))
	case 4:
		p.indices = append(p.indices,
			uint32(cs[0].v), uint32(cs[1].v), uint32(cs[2].v),
			uint32(cs[0].v), uint32(cs[2].v), uint32(cs[3].v))
	default:
		for i := 1; i+1 < len(cs); i++ {
			p.indices = append(p.indices, uint32(cs[0].v), uint32(cs[i].v), uint32(cs[i+1].v))
		}
	}
}

func parseTriple(fields []string) ([3]float32, error) {
	var v [3]float32
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return v, fmt.Errorf("invalid number %q", f)
		}
		v[i] = float32(x)
	}
	return v, nil
}

// parseCorner resolves "v", "v/t", "v//n" or "v/t/n" into 0-based indices.
// Negative indices count back from the current table end. Positive vertex
// indices are range-checked by the caller since faces may precede their
// vertices.
func parseCorner(s string, nv, nn int) (corner, error) {
	c := corner{v: -1, n: -1}
	parts := strings.Split(s, "/")
	if len(parts) > 3 {
		return c, errors.New("too many '/' separators")
	}
	v, err := resolveIndex(parts[0], nv)
	if err != nil {
		return c, fmt.Errorf("vertex: %w", err)
	}
	c.v = v
	if len(parts) == 3 && parts[2] != "" {
		n, err := resolveIndex(parts[2], nn)
		if err != nil {
			return c, fmt.Errorf("normal: %w", err)
		}
		if n < 0 || n >= nn {
			return c, fmt.Errorf("normal index %s out of range [1, %d]", parts[2], nn)
		}
		c.n = n
	}
	return c, nil
}

func resolveIndex(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("invalid index %q", s)
	}
	switch {
	case i > 0:
		return i - 1, nil
	case i < 0:
		if count+i < 0 {
			return -1, fmt.Errorf("relative index %d before start", i)
		}
		return count + i, nil
	default:
		return -1, errors.New("index 0 is not valid")
	}
}
