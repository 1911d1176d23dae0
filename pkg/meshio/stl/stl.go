// Package stl decodes and encodes STL triangle soups.
//
// Binary layout: an 80-byte header (ignored), a little-endian uint32
// triangle count N, then N 50-byte records of {normal, 3 vertices, uint16
// attribute}, every vector being three little-endian float32s.
//
// STL restates every corner of every triangle, so Decode joins corners by
// exact float bit pattern to build an indexed mesh. No tolerance is applied.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
)

const (
	headerSize = 80
	countSize  = 4
	recordSize = 50 // 12 normal + 36 vertices + 2 attribute

	// FormatName labels errors produced by this package.
	FormatName = "stl"
)

// short name, for convenience
var le = binary.LittleEndian

// Triangle is one STL facet.
type Triangle struct {
	Normal   [3]float32
	Vertices [3][3]float32
}

// vertexKey identifies a corner by its exact bit pattern.
type vertexKey [3]uint32

func keyOf(v [3]float32) vertexKey {
	return vertexKey{math.Float32bits(v[0]), math.Float32bits(v[1]), math.Float32bits(v[2])}
}

// builder accumulates deduplicated vertices. The first occurrence of a
// position fixes its slot and its normal.
type builder struct {
	m    *mesh.Mesh
	seen map[vertexKey]uint32
}

func newBuilder(triangles int) *builder {
	return &builder{
		m: &mesh.Mesh{
			Vertices: make([]float32, 0, triangles*3),
			Normals:  make([]float32, 0, triangles*3),
			Indices:  make([]uint32, 0, triangles*3),
		},
		seen: make(map[vertexKey]uint32, triangles),
	}
}

func (b *builder) add(t Triangle) {
	for _, v := range t.Vertices {
		k := keyOf(v)
		idx, ok := b.seen[k]
		if !ok {
			idx = uint32(len(b.m.Vertices) / 3)
			b.seen[k] = idx
			b.m.Vertices = append(b.m.Vertices, v[0], v[1], v[2])
			b.m.Normals = append(b.m.Normals, t.Normal[0], t.Normal[1], t.Normal[2])
		}
		b.m.Indices = append(b.m.Indices, idx)
	}
}

// Decode parses binary or ASCII STL. Input that starts with "solid" and
// whose length does not fit the binary layout is treated as ASCII.
func Decode(data []byte) (*mesh.Mesh, error) {
	if isASCII(data) {
		return decodeASCII(data)
	}
	return DecodeBinary(data)
}

// DecodeReader reads r to EOF and decodes it.
func DecodeReader(r io.Reader) (*mesh.Mesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("stl: read: %w", err)
	}
	return Decode(data)
}

// DecodeBinary parses exactly the declared number of binary records.
// Bytes after the last record are ignored.
func DecodeBinary(data []byte) (*mesh.Mesh, error) {
	if len(data) < headerSize+countSize {
		return nil, &mesh.FormatError{
			Format:  FormatName,
			Offset:  int64(len(data)),
			Message: fmt.Sprintf("file is %d bytes, shorter than the %d-byte header", len(data), headerSize+countSize),
		}
	}
	n := int64(le.Uint32(data[headerSize:]))
	body := int64(len(data) - headerSize - countSize)
	if body < n*recordSize {
		complete := body / recordSize
		return nil, &mesh.FormatError{
			Format: FormatName,
			Offset: headerSize + countSize + complete*recordSize,
			Message: fmt.Sprintf("declared %d triangles but only %d complete records present (%d bytes remain)",
				n, complete, body),
		}
	}

	b := newBuilder(int(n))
	off := headerSize + countSize
	for i := int64(0); i < n; i++ {
		b.add(readRecord(data[off : off+recordSize]))
		off += recordSize
	}
	logging.Logger().Debug("stl: decoded binary",
		"triangles", n, "vertices", b.m.VertexCount())
	return b.m, nil
}

func readRecord(rec []byte) Triangle {
	var t Triangle
	t.Normal = readVec(rec[0:12])
	for j := 0; j < 3; j++ {
		t.Vertices[j] = readVec(rec[12+j*12 : 24+j*12])
	}
	return t
}

func readVec(b []byte) [3]float32 {
	return [3]float32{
		math.Float32frombits(le.Uint32(b[0:])),
		math.Float32frombits(le.Uint32(b[4:])),
		math.Float32frombits(le.Uint32(b[8:])),
	}
}

// isASCII reports whether data looks like ASCII STL. A binary file whose
// header happens to start with "solid" is still binary when its size
// matches the declared triangle count.
func isASCII(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("solid")) {
		return false
	}
	if len(data) >= headerSize+countSize {
		n := int64(le.Uint32(data[headerSize:]))
		if int64(len(data)) >= headerSize+countSize+n*recordSize && n > 0 {
			return false
		}
	}
	return bytes.Contains(data, []byte("facet")) || bytes.Contains(data, []byte("endsolid"))
}

// decodeASCII parses "facet normal / outer loop / vertex ×3 / endloop /
// endfacet" blocks.
func decodeASCII(data []byte) (*mesh.Mesh, error) {
	b := newBuilder(0)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		cur     Triangle
		corners int
		inFacet bool
		line    int
	)
	fail := func(msg string) error {
		return &mesh.FormatError{Format: FormatName, Offset: -1, Line: line, Message: msg}
	}

	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "solid", "endsolid", "outer", "endloop":
		case "facet":
			if inFacet {
				return nil, fail("facet opened before previous endfacet")
			}
			if len(fields) != 5 || fields[1] != "normal" {
				return nil, fail("malformed facet normal")
			}
			n, err := parseVec(fields[2:5])
			if err != nil {
				return nil, fail(err.Error())
			}
			cur = Triangle{Normal: n}
			corners = 0
			inFacet = true
		case "vertex":
			if !inFacet {
				return nil, fail("vertex outside facet")
			}
			if corners == 3 {
				return nil, fail("facet has more than 3 vertices")
			}
			if len(fields) != 4 {
				return nil, fail("malformed vertex")
			}
			v, err := parseVec(fields[1:4])
			if err != nil {
				return nil, fail(err.Error())
			}
			cur.Vertices[corners] = v
			corners++
		case "endfacet":
			if !inFacet || corners != 3 {
				return nil, fail(fmt.Sprintf("facet closed with %d vertices", corners))
			}
			b.add(cur)
			inFacet = false
		default:
			return nil, fail(fmt.Sprintf("unexpected keyword %q", fields[0]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &mesh.FormatError{Format: FormatName, Offset: -1, Line: line, Message: "scan", Err: err}
	}
	if inFacet {
		return nil, fail("unterminated facet")
	}
	logging.Logger().Debug("stl: decoded ascii",
		"triangles", b.m.TriangleCount(), "vertices", b.m.VertexCount())
	return b.m, nil
}

func parseVec(fields []string) ([3]float32, error) {
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
