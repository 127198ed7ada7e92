// Package runtime loads compiled shared objects and exposes them as
// callable functions over layout-encoded slot buffers.
//
// A Function owns the dynamic-loader handle of one compiled graph. Calls go
// through three layers, each usable on its own:
//
//   - EvalRaw works over raw slot buffers, no allocation, no encoding;
//   - Eval encodes Go values through the graph's layouts;
//   - EvalJSON does the same over JSON documents.
//
// Eval and EvalJSON are safe for concurrent use; calls serialize on an
// internal lock only when the graph holds a plugin resource that declared
// itself thread-unsafe.
package runtime

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/ffi"
	"github.com/jyafn/jyafn/graph"
	"github.com/jyafn/jyafn/layout"
)

// manifestSymbol is the exported data symbol of a compiled object: a pointer
// table whose first entry is the run function.
const manifestSymbol = "jyafn_manifest"

// ErrClosed is returned when calling a released function.
var ErrClosed = errors.New("function has been closed")

// Error is one failed call: the status raised by the compiled code.
type Error struct {
	Status  int64
	Message string
}

func (e *Error) Error() string { return e.Message }

// Function is a loaded, callable compiled graph.
type Function struct {
	g        *graph.Graph
	handle   *ffi.Handle
	fn       unsafe.Pointer
	statuses []string

	inSlots  int
	outSlots int

	bufs      sync.Pool
	mu        sync.Mutex
	serialize bool
	closed    bool
}

type scratch struct {
	in  *layout.Buffer
	out *layout.Buffer
}

// Load maps a compiled shared object and binds it to the graph it was
// compiled from. statuses is the failure table collected during lowering.
func Load(path string, g *graph.Graph, statuses []string) (*Function, error) {
	handle, err := ffi.Open(path)
	if err != nil {
		return nil, err
	}
	manifest, err := handle.Sym(manifestSymbol)
	if err != nil {
		handle.Close()
		return nil, errors.Wrap(err, "object is not a compiled function")
	}

	serialize := false
	for _, r := range g.Resources() {
		if r.Handle() != nil && !r.Handle().ThreadSafe() {
			serialize = true
		}
	}

	f := &Function{
		g:        g,
		handle:   handle,
		fn:       *(*unsafe.Pointer)(manifest),
		statuses: statuses,
		inSlots:  g.InputLayout().Size(),
		outSlots: g.OutputLayout().Size(),

		serialize: serialize,
	}
	f.bufs.New = func() any {
		return &scratch{
			in:  layout.NewBuffer(f.inSlots),
			out: layout.NewBuffer(f.outSlots),
		}
	}
	return f, nil
}

// Graph returns the graph the function was compiled from.
func (f *Function) Graph() *graph.Graph { return f.g }

// Statuses returns the failure table, indexed by status minus one.
func (f *Function) Statuses() []string { return f.statuses }

// ThreadSafe reports whether calls may run concurrently. It is false only
// when the graph holds a plugin resource that declared itself thread-unsafe,
// in which case EvalRaw serializes internally.
func (f *Function) ThreadSafe() bool { return !f.serialize }

// InputLayout returns the graph's input layout.
func (f *Function) InputLayout() *layout.Layout { return f.g.InputLayout() }

// OutputLayout returns the graph's output layout.
func (f *Function) OutputLayout() *layout.Layout { return f.g.OutputLayout() }

// Metadata returns the graph's metadata map.
func (f *Function) Metadata() map[string]string { return f.g.Metadata() }

// InputSize returns the input buffer size in slots.
func (f *Function) InputSize() int { return f.inSlots }

// OutputSize returns the output buffer size in slots.
func (f *Function) OutputSize() int { return f.outSlots }

func (f *Function) statusError(status int64) error {
	if status >= 1 && int(status) <= len(f.statuses) {
		return &Error{Status: status, Message: f.statuses[status-1]}
	}
	return &Error{Status: status, Message: fmt.Sprintf("unknown status %d", status)}
}

// EvalRaw calls the compiled code over raw slot buffers. The buffers must be
// exactly the layouts' sizes.
func (f *Function) EvalRaw(in, out []byte) error {
	if len(in) != f.inSlots*layout.SlotSize {
		return errors.Errorf("input buffer is %d bytes, want %d", len(in), f.inSlots*layout.SlotSize)
	}
	if len(out) != f.outSlots*layout.SlotSize {
		return errors.Errorf("output buffer is %d bytes, want %d", len(out), f.outSlots*layout.SlotSize)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	fn := f.fn
	if !f.serialize {
		f.mu.Unlock()
	} else {
		defer f.mu.Unlock()
	}

	if status := ffi.CallRun(fn, in, out); status != 0 {
		return f.statusError(status)
	}
	return nil
}

// Eval encodes value through the input layout, calls the compiled code and
// decodes the result through the output layout. Symbols first seen in value
// resolve through a per-call view, so concurrent calls never race on the
// graph's table.
func (f *Function) Eval(value any) (any, error) {
	s := f.bufs.Get().(*scratch)
	defer f.bufs.Put(s)
	s.in.Reset()

	view := f.g.Symbols().View()
	if err := layout.Encode(f.g.InputLayout(), value, view, s.in); err != nil {
		return nil, errors.Wrap(err, "encoding input")
	}
	if err := f.EvalRaw(s.in.Bytes(), s.out.Bytes()); err != nil {
		return nil, err
	}
	s.out.Reset()
	result, err := layout.Decode(f.g.OutputLayout(), view, s.out)
	if err != nil {
		return nil, errors.Wrap(err, "decoding output")
	}
	return result, nil
}

// EvalJSON is Eval over JSON documents.
func (f *Function) EvalJSON(input []byte) ([]byte, error) {
	s := f.bufs.Get().(*scratch)
	defer f.bufs.Put(s)
	s.in.Reset()

	view := f.g.Symbols().View()
	if err := layout.EncodeJSON(f.g.InputLayout(), input, view, s.in); err != nil {
		return nil, errors.Wrap(err, "encoding input")
	}
	if err := f.EvalRaw(s.in.Bytes(), s.out.Bytes()); err != nil {
		return nil, err
	}
	s.out.Reset()
	result, err := layout.DecodeJSON(f.g.OutputLayout(), view, s.out)
	if err != nil {
		return nil, errors.Wrap(err, "decoding output")
	}
	return result, nil
}

// Close unmaps the shared object. In-flight raw calls must have finished;
// later calls fail with ErrClosed. Close is idempotent and does not touch
// the graph or its resources.
func (f *Function) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.handle.Close()
}
