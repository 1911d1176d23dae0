package meshio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/mesh"
	"github.com/chazu/meshcmp/pkg/meshio/obj"
	"github.com/chazu/meshcmp/pkg/meshio/stl"
)

// Result is a decoded mesh with the format it was read as. Stats is zero
// for OBJ input, which is not canonicalized.
type Result struct {
	Mesh   *mesh.Mesh
	Format Format
	Stats  canon.Stats
}

// Decoder turns raw input into meshes. The zero value decodes STL and OBJ;
// STEP and IGES need a Converter.
type Decoder struct {
	// WorkDir holds temporary files for CAD conversion. Empty means
	// os.TempDir().
	WorkDir   string
	Converter kernel.Converter
	Canon     canon.Options
	Workers   int
}

// Decode decodes data as format f. FormatUnknown sniffs the content.
func (d *Decoder) Decode(ctx context.Context, data []byte, f Format) (*Result, error) {
	if f == FormatUnknown {
		f = Sniff(data)
		if f == FormatUnknown {
			return nil, &UnsupportedFormatError{Name: "content", Reason: "not recognized as stl, obj, step or iges"}
		}
	}
	switch f {
	case FormatSTL:
		return d.decodeSTL(data)
	case FormatOBJ:
		m, err := obj.DecodeWithOptions(data, obj.Options{Workers: d.Workers})
		if err != nil {
			return nil, err
		}
		return &Result{Mesh: m, Format: FormatOBJ}, nil
	case FormatSTEP, FormatIGES:
		return d.convertBytes(ctx, data, f)
	}
	return nil, &UnsupportedFormatError{Name: f.String()}
}

// DecodeFile reads path and decodes it according to its extension. CAD
// files are handed to the converter in place.
func (d *Decoder) DecodeFile(ctx context.Context, path string) (*Result, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if f.NeedsConversion() {
		return d.convertFile(ctx, path, f)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meshio: read: %w", err)
	}
	return d.Decode(ctx, data, f)
}

func (d *Decoder) decodeSTL(data []byte) (*Result, error) {
	soup, err := stl.Decode(data)
	if err != nil {
		return nil, err
	}
	opts := d.Canon
	if opts.Workers == 0 {
		opts.Workers = d.Workers
	}
	m, stats, err := canon.Canonicalize(soup, opts)
	if err != nil {
		return nil, fmt.Errorf("meshio: canonicalize: %w", err)
	}
	return &Result{Mesh: m, Format: FormatSTL, Stats: stats}, nil
}

func (d *Decoder) workDir() (string, error) {
	dir := d.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("meshio: work dir: %w", err)
	}
	return dir, nil
}

// convertBytes stages data in the work directory before converting it.
func (d *Decoder) convertBytes(ctx context.Context, data []byte, f Format) (*Result, error) {
	if d.Converter == nil {
		return nil, &UnsupportedFormatError{Name: f.String(), Reason: "no CAD converter configured"}
	}
	dir, err := d.workDir()
	if err != nil {
		return nil, err
	}
	in, err := os.CreateTemp(dir, "meshcmp-*."+f.String())
	if err != nil {
		return nil, fmt.Errorf("meshio: stage input: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, fmt.Errorf("meshio: stage input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("meshio: stage input: %w", err)
	}
	return d.convertFile(ctx, in.Name(), f)
}

func (d *Decoder) convertFile(ctx context.Context, path string, f Format) (*Result, error) {
	if d.Converter == nil {
		return nil, &UnsupportedFormatError{Name: f.String(), Reason: "no CAD converter configured"}
	}
	dir, err := d.workDir()
	if err != nil {
		return nil, err
	}
	out, err := os.CreateTemp(dir, "meshcmp-*.stl")
	if err != nil {
		return nil, fmt.Errorf("meshio: stage output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	logging.Logger().Debug("meshio: converting", "format", f.String(), "in", filepath.Base(path))
	if err := d.Converter.ConvertToSTL(ctx, path, outPath); err != nil {
		return nil, fmt.Errorf("meshio: %s: %w", f, err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("meshio: read converted: %w", err)
	}
	res, err := d.decodeSTL(data)
	if err != nil {
		return nil, err
	}
	res.Format = f
	return res, nil
}
