// Package compiler lowers sealed graphs to QBE-flavoured IR and drives the
// external toolchain that turns that IR into a loadable shared object.
//
// The pipeline has four stages:
//
//   - optimize: prune nodes no output or assertion depends on, and reject
//     nodes that would fail on every call;
//   - lower: emit the run function, static lookup tables and helper
//     routines as IR text, collecting the table of failure statuses;
//   - build: pipe the IR through qbe, the assembler and the linker;
//   - load: dlopen the shared object and wrap it as a runtime.Function.
//
// The intermediate files live in a temporary directory that is removed as
// soon as the object is mapped, so a compiled function has no filesystem
// footprint.
package compiler

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jyafn/jyafn/graph"
	"github.com/jyafn/jyafn/runtime"
)

// ErrNotSealed is returned when compiling or rendering a graph still under
// construction.
var ErrNotSealed = errors.New("graph must be sealed first")

// ErrUninitialized is returned when compiling or rendering a graph loaded
// without initialization: its mapping tables and resources are empty shells
// and the compiled code would bake them in.
var ErrUninitialized = errors.New("graph was loaded without initialization")

// Options configures one compilation.
type Options struct {
	// Toolchain builds IR into a shared object. Nil means discovering the
	// system toolchain.
	Toolchain Toolchain
	// Logger receives progress events. Nil means no logging.
	Logger *zap.Logger
	// KeepTemp leaves the build directory behind, for debugging.
	KeepTemp bool
}

// DefaultOptions compiles with the system toolchain and no logging.
func DefaultOptions() Options { return Options{} }

// Render returns the IR text a sealed graph compiles to, for inspection.
func Render(g *graph.Graph) (string, error) {
	if !g.Sealed() {
		return "", ErrNotSealed
	}
	if !g.Initialized() {
		return "", ErrUninitialized
	}
	p, err := optimize(g)
	if err != nil {
		return "", err
	}
	text, _, err := lower(g, p)
	return text, err
}

// Compile builds a sealed graph into a callable function. Graphs holding
// resources must have been loaded with initialization.
func Compile(g *graph.Graph, opts Options) (*runtime.Function, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !g.Sealed() {
		return nil, ErrNotSealed
	}
	if !g.Initialized() {
		return nil, ErrUninitialized
	}

	p, err := optimize(g)
	if err != nil {
		return nil, err
	}
	text, statuses, err := lower(g, p)
	if err != nil {
		return nil, err
	}

	tc := opts.Toolchain
	if tc == nil {
		if tc, err = FindSystemToolchain(logger); err != nil {
			return nil, err
		}
	}

	dir, err := os.MkdirTemp("", "jyafn-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating build directory")
	}
	if opts.KeepTemp {
		logger.Info("keeping build directory", zap.String("dir", dir))
	} else {
		defer os.RemoveAll(dir)
	}

	start := time.Now()
	so, err := tc.Build(text, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "building %q", g.Name())
	}
	logger.Info("compiled graph",
		zap.String("graph", g.Name()),
		zap.Int("nodes", len(p.nodes)),
		zap.String("ir", humanize.Bytes(uint64(len(text)))),
		zap.Duration("took", time.Since(start)))

	fn, err := runtime.Load(so, g, statuses)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", g.Name())
	}
	return fn, nil
}

// CompileArtifact loads a serialized graph with initialization and compiles
// it in one step.
func CompileArtifact(data []byte, opts Options) (*runtime.Function, error) {
	g, err := graph.Load(data, true)
	if err != nil {
		return nil, err
	}
	return Compile(g, opts)
}
