// Package meshio is the single entry point for turning bytes or files into
// canonical meshes. It picks a codec from a format hint, a file extension or
// the content itself, and routes CAD exchange formats through an external
// converter.
package meshio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies an input file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatSTL
	FormatOBJ
	FormatSTEP
	FormatIGES
)

func (f Format) String() string {
	switch f {
	case FormatSTL:
		return "stl"
	case FormatOBJ:
		return "obj"
	case FormatSTEP:
		return "step"
	case FormatIGES:
		return "iges"
	default:
		return "unknown"
	}
}

// NeedsConversion reports whether f is a CAD exchange format that must be
// converted to STL before decoding.
func (f Format) NeedsConversion() bool {
	return f == FormatSTEP || f == FormatIGES
}

// UnsupportedFormatError is returned for inputs no codec or converter can
// handle.
type UnsupportedFormatError struct {
	Name   string // extension, hint or "content"
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("meshio: unsupported format %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("meshio: unsupported format %q", e.Name)
}

// ParseFormat maps a hint such as "stl", ".STP" or "iges" to a Format.
func ParseFormat(hint string) (Format, error) {
	h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hint), "."))
	switch h {
	case "stl":
		return FormatSTL, nil
	case "obj":
		return FormatOBJ, nil
	case "step", "stp":
		return FormatSTEP, nil
	case "iges", "igs":
		return FormatIGES, nil
	}
	return FormatUnknown, &UnsupportedFormatError{Name: hint}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return FormatUnknown, &UnsupportedFormatError{Name: path, Reason: "no file extension"}
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return FormatUnknown, &UnsupportedFormatError{Name: strings.ToLower(ext)}
	}
	return f, nil
}

// Sniff guesses the format from content. It returns FormatUnknown when
// nothing matches.
func Sniff(data []byte) Format {
	if len(data) >= 84 {
		n := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == 84+uint64(n)*50 {
			return FormatSTL
		}
	}
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("ISO-10303-21")):
		return FormatSTEP
	case bytes.HasPrefix(trimmed, []byte("solid")):
		return FormatSTL
	case isIGES(head):
		return FormatIGES
	case looksOBJ(head):
		return FormatOBJ
	}
	return FormatUnknown
}

// isIGES checks the fixed-column start section marker: 80-column records
// with 'S' in column 73.
func isIGES(head []byte) bool {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	line = bytes.TrimRight(line, "\r")
	return len(line) == 80 && line[72] == 'S'
}

// looksOBJ reports whether the first statement line is an OBJ keyword.
func looksOBJ(head []byte) bool {
	for _, line := range bytes.Split(head, []byte("\n")) {
		fields := strings.Fields(string(line))
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v", "vn", "vt", "f", "o", "g", "mtllib", "usemtl", "s":
			return true
		}
		return false
	}
	return false
}
