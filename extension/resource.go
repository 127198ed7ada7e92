package extension

import (
	"encoding/json"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/jyafn/jyafn/ffi"
	"github.com/jyafn/jyafn/layout"
)

// MethodDef is a resource method's declared signature plus its native entry
// point. The function pointer stays valid while the owning resource's
// extension is mapped.
type MethodDef struct {
	Input  *layout.Layout
	Output *layout.Layout
	FnPtr  uintptr
}

// methodDefJSON mirrors the JSON returned by fn_get_method_def.
type methodDefJSON struct {
	FnPtr        uint64          `json:"fn_ptr"`
	InputLayout  json.RawMessage `json:"input_layout"`
	OutputLayout json.RawMessage `json:"output_layout"`
}

// Resource is a live, plugin-owned object. The raw handle never leaves this
// type except as an opaque pointer embedded into compiled code.
type Resource struct {
	ext      *Extension
	typeName string
	syms     resourceSymbols
	handle   unsafe.Pointer

	mu      sync.Mutex
	methods map[string]*MethodDef
	closed  bool
}

// NewResource re-hydrates a resource of the given type from its serialized
// bytes.
func (e *Extension) NewResource(typeName string, blob []byte) (*Resource, error) {
	syms, ok := e.resources[typeName]
	if !ok {
		return nil, errors.Errorf("extension %q has no resource type %q", e.name, typeName)
	}
	handle, err := e.outcomeResult(ffi.CallFromBytes(syms.fromBytes, blob))
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s/%s from bytes", e.name, typeName)
	}

	mu.Lock()
	e.refs++
	mu.Unlock()
	return &Resource{
		ext:      e,
		typeName: typeName,
		syms:     syms,
		handle:   handle,
		methods:  make(map[string]*MethodDef),
	}, nil
}

// Extension returns the owning extension.
func (r *Resource) Extension() *Extension { return r.ext }

// TypeName returns the resource's declared type name.
func (r *Resource) TypeName() string { return r.typeName }

// ThreadSafe reports whether the extension declares this resource type safe
// for concurrent method calls.
func (r *Resource) ThreadSafe() bool { return r.syms.threadSafe }

// HandlePtr exposes the raw plugin handle for embedding into compiled code.
func (r *Resource) HandlePtr() uintptr { return uintptr(r.handle) }

// Method resolves a method definition by name, caching the parsed result.
func (r *Resource) Method(name string) (*MethodDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Errorf("resource %s/%s is closed", r.ext.name, r.typeName)
	}
	if def, ok := r.methods[name]; ok {
		return def, nil
	}

	raw := ffi.CallGetMethodDef(r.syms.getMethodDef, r.handle, name)
	if raw == nil {
		return nil, errors.Errorf("resource %s/%s has no method %q", r.ext.name, r.typeName, name)
	}
	text := ffi.GoStringAt(raw)
	ffi.CallDropStr(r.syms.dropMethodDef, raw)

	var parsed methodDefJSON
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, errors.Wrapf(ErrManifestInvalid, "method %q of %s/%s: %v", name, r.ext.name, r.typeName, err)
	}
	def := &MethodDef{FnPtr: uintptr(parsed.FnPtr)}
	def.Input = new(layout.Layout)
	if err := json.Unmarshal(parsed.InputLayout, def.Input); err != nil {
		return nil, errors.Wrapf(ErrManifestInvalid, "method %q input layout: %v", name, err)
	}
	def.Output = new(layout.Layout)
	if err := json.Unmarshal(parsed.OutputLayout, def.Output); err != nil {
		return nil, errors.Wrapf(ErrManifestInvalid, "method %q output layout: %v", name, err)
	}
	if def.FnPtr == 0 {
		return nil, errors.Wrapf(ErrManifestInvalid, "method %q of %s/%s has a null fn_ptr", name, r.ext.name, r.typeName)
	}
	r.methods[name] = def
	return def, nil
}

// Call invokes a method over raw slot buffers, outside of compiled code.
// Nonzero plugin statuses surface as errors.
func (r *Resource) Call(def *MethodDef, in, out []byte) error {
	status := ffi.CallMethod(unsafe.Pointer(def.FnPtr), r.handle,
		in, def.Input.Size(), out, def.Output.Size())
	if status != 0 {
		return errors.Errorf("resource %s/%s method failed with status %d", r.ext.name, r.typeName, status)
	}
	return nil
}

// Dump serializes the resource back to bytes through the plugin.
func (r *Resource) Dump() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.Errorf("resource %s/%s is closed", r.ext.name, r.typeName)
	}
	out, err := r.ext.outcomeResult(ffi.CallDump(r.syms.dump, r.handle))
	if err != nil {
		return nil, errors.Wrapf(err, "dumping %s/%s", r.ext.name, r.typeName)
	}
	return r.ext.dumpedBytes(out)
}

// Size reports the plugin's estimate of the resource's heap footprint.
func (r *Resource) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	return ffi.CallSize(r.syms.size, r.handle)
}

// Close drops the plugin handle and releases the extension reference. Safe
// to call more than once.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	ffi.CallDrop(r.syms.drop, r.handle)
	mu.Lock()
	r.ext.refs--
	mu.Unlock()
	return nil
}
