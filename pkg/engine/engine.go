// Package engine runs comparison sessions: small scripts in a sandboxed
// zygomys Lisp dialect that load or generate meshes, align and compare
// them, and record named reports.
//
//	(def nominal (tessellate (difference (box 40 40 10) (cylinder 20 5)) "nominal"))
//	(def scan (load-mesh "scan.stl"))
//	(def fit (align nominal scan :threshold 0.5))
//	(report "fit" fit)
//	(report "deviation" (distance (aligned fit) nominal))
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/meshcmp/pkg/canon"
	"github.com/chazu/meshcmp/pkg/compare"
	"github.com/chazu/meshcmp/pkg/kernel"
	"github.com/chazu/meshcmp/pkg/kernel/sdfx"
	"github.com/chazu/meshcmp/pkg/logging"
	"github.com/chazu/meshcmp/pkg/meshio"
	"github.com/chazu/meshcmp/pkg/register"
)

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error or a failing builtin.
type EvalError struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning is a non-fatal note produced by a builtin, such as an
// advisory mesh check on a loaded file.
type EvalWarning struct {
	Message string `json:"message"`
}

// Options configures an Engine. Zero fields get defaults.
type Options struct {
	// Kernel builds solids for box, cylinder and friends. Default: sdfx.
	Kernel kernel.Kernel
	// Decoder reads files for load-mesh.
	Decoder *meshio.Decoder
	// Root is the directory load-mesh paths are relative to. Empty
	// disables load-mesh.
	Root string
	// Timeout bounds one evaluation. Default: DefaultEvalTimeout.
	Timeout time.Duration

	ICP            register.Options
	Canon          canon.Options
	MatchThreshold float64
	DistanceCap    int
	Workers        int
}

func (o Options) withDefaults() Options {
	if o.Kernel == nil {
		o.Kernel = sdfx.New()
	}
	if o.Decoder == nil {
		o.Decoder = &meshio.Decoder{Canon: o.Canon, Workers: o.Workers}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultEvalTimeout
	}
	if o.MatchThreshold == 0 {
		o.MatchThreshold = compare.DefaultMatchThreshold
	}
	if o.DistanceCap == 0 {
		o.DistanceCap = compare.DefaultDistanceCap
	}
	return o
}

// Engine wraps the zygomys interpreter. It is safe for concurrent use; each
// call to Evaluate creates a fresh sandboxed environment for determinism.
type Engine struct {
	opts Options

	mu         sync.Mutex
	generation uint64
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Evaluate runs a session script.
//
// Return semantics:
//   - On success: returns session + nil errors + nil error
//   - On parse/eval failure: returns nil session + eval errors + nil error
//   - On fatal failure (timeout, panic, superseded): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*Session, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	// Cancelled once we stop waiting; kills converters of a timed-out run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		s, evalErrs, err := e.evaluate(ctx, source)
		ch <- evalResult{session: s, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation, e.opts.Timeout)
}

// evaluate performs the actual zygomys evaluation in a fresh sandbox.
func (e *Engine) evaluate(ctx context.Context, source string) (*Session, []EvalError, error) {
	s := newSession()
	if strings.TrimSpace(source) == "" {
		return s, nil, nil
	}

	// Sandbox mode keeps scripts away from the filesystem and syscalls;
	// load-mesh is the only way in, and it is confined to Root.
	env := zygo.NewZlispSandbox()
	defer env.Stop()

	registerBuiltins(env, &runner{ctx: ctx, opts: e.opts, session: s})

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	logging.Logger().Debug("engine: session done", "reports", len(s.Reports), "warnings", len(s.Warnings))
	return s, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into EvalErrors, pulling out
// a line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{
				Line:    line,
				Message: strings.TrimSpace(m[2]),
			}}
		}
	}

	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
