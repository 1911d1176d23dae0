package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chazu/meshcmp/pkg/logging"
)

// Converter turns a CAD exchange file into binary or ASCII STL.
type Converter interface {
	ConvertToSTL(ctx context.Context, in, out string) error
}

// ErrNoConverter is returned by a CommandConverter with an empty command.
var ErrNoConverter = errors.New("kernel: no CAD converter configured")

// CommandConverter runs an external program. Argv is a template in which
// "{in}" and "{out}" are replaced by the input and output paths, e.g.
// []string{"freecadcmd", "step2stl.py", "{in}", "{out}"}.
type CommandConverter struct {
	Argv []string
}

// ConvertToSTL runs the command and checks that it produced out.
func (c CommandConverter) ConvertToSTL(ctx context.Context, in, out string) error {
	if len(c.Argv) == 0 {
		return ErrNoConverter
	}
	args := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		a = strings.ReplaceAll(a, "{in}", in)
		args[i] = strings.ReplaceAll(a, "{out}", out)
	}

	logging.Logger().Debug("kernel: converting", "cmd", args[0], "in", in, "out", out)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("kernel: convert %s: %w: %s", in, err, msg)
		}
		return fmt.Errorf("kernel: convert %s: %w", in, err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("kernel: convert %s: no output: %w", in, err)
	}
	return nil
}
