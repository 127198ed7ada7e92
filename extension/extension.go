// Package extension loads native jyafn plugins and drives their resources.
//
// An extension is a shared object found on the extension search path that
// exports an `extension_init` entry point returning a JSON manifest. The
// manifest names the symbols used to talk to the plugin: outcome accessors
// for fallible operations, dump accessors for binary blobs, and a set of
// per-resource constructors, destructors and method tables.
//
// Extensions are loaded once per process and reference-counted by the
// resources created from them; unloading happens only when the last resource
// is gone and Unload is called explicitly.
package extension

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jyafn/jyafn/ffi"
)

// initSymbol is the entry point every extension must export.
const initSymbol = "extension_init"

// Plugin load failures.
var (
	ErrLoadFailed      = errors.New("extension load failed")
	ErrManifestInvalid = errors.New("extension manifest invalid")
)

var (
	mu     sync.Mutex
	loaded = map[string]*Extension{}
	logger = zap.NewNop()
)

// SetLogger installs a logger for the loader. The default discards
// everything.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// manifest mirrors the JSON returned by extension_init.
type manifest struct {
	Outcome struct {
		FnGetErr string `json:"fn_get_err"`
		FnGetOk  string `json:"fn_get_ok"`
		FnDrop   string `json:"fn_drop"`
	} `json:"outcome"`
	Dumped struct {
		FnGetPtr string `json:"fn_get_ptr"`
		FnGetLen string `json:"fn_get_len"`
		FnDrop   string `json:"fn_drop"`
	} `json:"dumped"`
	Resources map[string]resourceManifest `json:"resources"`
}

type resourceManifest struct {
	FnFromBytes     string `json:"fn_from_bytes"`
	FnDump          string `json:"fn_dump"`
	FnSize          string `json:"fn_size"`
	FnGetMethodDef  string `json:"fn_get_method_def"`
	FnDropMethodDef string `json:"fn_drop_method_def"`
	FnDrop          string `json:"fn_drop"`
	// Resources are treated as non-reentrant unless the extension
	// advertises otherwise.
	ThreadSafe bool `json:"thread_safe"`
}

// outcomeSymbols are the resolved accessors for fallible plugin operations.
type outcomeSymbols struct {
	getErr unsafe.Pointer
	getOk  unsafe.Pointer
	drop   unsafe.Pointer
}

// dumpedSymbols are the resolved accessors for plugin binary dumps.
type dumpedSymbols struct {
	getPtr unsafe.Pointer
	getLen unsafe.Pointer
	drop   unsafe.Pointer
}

// resourceSymbols are the resolved per-resource-type functions.
type resourceSymbols struct {
	fromBytes     unsafe.Pointer
	dump          unsafe.Pointer
	size          unsafe.Pointer
	getMethodDef  unsafe.Pointer
	dropMethodDef unsafe.Pointer
	drop          unsafe.Pointer
	threadSafe    bool
}

// Extension is a loaded plugin. It stays mapped while any resource created
// from it is alive.
type Extension struct {
	name      string
	path      string
	handle    *ffi.Handle
	outcome   outcomeSymbols
	dumped    dumpedSymbols
	resources map[string]resourceSymbols
	refs      int
}

// Name returns the extension's name.
func (e *Extension) Name() string { return e.name }

// Path returns the shared object the extension was loaded from.
func (e *Extension) Path() string { return e.path }

// HasResource reports whether the extension declares the resource type.
func (e *Extension) HasResource(typeName string) bool {
	_, ok := e.resources[typeName]
	return ok
}

// soSuffix is the platform shared-object suffix.
func soSuffix() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// SearchPaths returns the extension search directories: the entries of
// JYAFN_PATH when set, otherwise ~/.jyafn/extensions.
func SearchPaths() []string {
	if env := os.Getenv("JYAFN_PATH"); env != "" {
		return filepath.SplitList(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".jyafn", "extensions")}
}

func validName(name string) bool {
	if name == "" || !(name[0] >= 'a' && name[0] <= 'z') {
		return false
	}
	for _, ch := range name {
		ok := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_'
		if !ok {
			return false
		}
	}
	return true
}

func resolve(name string) (string, error) {
	var tried []string
	for _, dir := range SearchPaths() {
		candidate := filepath.Join(dir, name+soSuffix())
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		tried = append(tried, candidate)
	}
	return "", errors.Wrapf(ErrLoadFailed, "extension %q not found (tried %v)", name, tried)
}

// Load finds and loads the named extension, or returns the already-loaded
// instance.
func Load(name string) (*Extension, error) {
	if !validName(name) {
		return nil, errors.Wrapf(ErrLoadFailed, "invalid extension name %q", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if e, ok := loaded[name]; ok {
		return e, nil
	}

	path, err := resolve(name)
	if err != nil {
		return nil, err
	}
	e, err := load(name, path)
	if err != nil {
		return nil, err
	}
	loaded[name] = e
	logger.Debug("loaded extension",
		zap.String("name", name),
		zap.String("path", path),
		zap.Int("resources", len(e.resources)))
	return e, nil
}

func load(name, path string) (*Extension, error) {
	handle, err := ffi.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrLoadFailed, "%s: %v", path, err)
	}
	initPtr, err := handle.Sym(initSymbol)
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(ErrLoadFailed, "%s: %v", path, err)
	}
	raw, err := ffi.CallInit(initPtr)
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(ErrLoadFailed, "%s: %v", path, err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		handle.Close()
		return nil, errors.Wrapf(ErrManifestInvalid, "%s: %v", path, err)
	}

	e := &Extension{
		name:      name,
		path:      path,
		handle:    handle,
		resources: make(map[string]resourceSymbols, len(m.Resources)),
	}
	sym := func(symName string) unsafe.Pointer {
		if err != nil {
			return nil
		}
		var ptr unsafe.Pointer
		ptr, err = handle.Sym(symName)
		return ptr
	}
	e.outcome = outcomeSymbols{
		getErr: sym(m.Outcome.FnGetErr),
		getOk:  sym(m.Outcome.FnGetOk),
		drop:   sym(m.Outcome.FnDrop),
	}
	e.dumped = dumpedSymbols{
		getPtr: sym(m.Dumped.FnGetPtr),
		getLen: sym(m.Dumped.FnGetLen),
		drop:   sym(m.Dumped.FnDrop),
	}
	for typeName, rm := range m.Resources {
		e.resources[typeName] = resourceSymbols{
			fromBytes:     sym(rm.FnFromBytes),
			dump:          sym(rm.FnDump),
			size:          sym(rm.FnSize),
			getMethodDef:  sym(rm.FnGetMethodDef),
			dropMethodDef: sym(rm.FnDropMethodDef),
			drop:          sym(rm.FnDrop),
			threadSafe:    rm.ThreadSafe,
		}
	}
	if err != nil {
		handle.Close()
		return nil, errors.Wrapf(ErrManifestInvalid, "%s: %v", path, err)
	}
	return e, nil
}

// Unload unmaps the named extension if no resource still references it.
func Unload(name string) error {
	mu.Lock()
	defer mu.Unlock()
	e, ok := loaded[name]
	if !ok {
		return nil
	}
	if e.refs > 0 {
		return errors.Errorf("extension %q still has %d live resources", name, e.refs)
	}
	delete(loaded, name)
	return e.handle.Close()
}

// outcome turns a plugin outcome pointer into a Go result, releasing the
// outcome either way.
func (e *Extension) outcomeResult(out unsafe.Pointer) (unsafe.Pointer, error) {
	if out == nil {
		return nil, errors.New("plugin returned a null outcome")
	}
	defer ffi.CallDrop(e.outcome.drop, out)
	if msg := ffi.CallGetErr(e.outcome.getErr, out); msg != "" {
		return nil, errors.New(msg)
	}
	return ffi.CallGetOk(e.outcome.getOk, out), nil
}

// dumpedBytes copies a plugin dump into Go memory and releases it.
func (e *Extension) dumpedBytes(dumped unsafe.Pointer) ([]byte, error) {
	if dumped == nil {
		return nil, errors.New("plugin returned a null dump")
	}
	defer ffi.CallDrop(e.dumped.drop, dumped)
	return ffi.CallDumpedBytes(e.dumped.getPtr, e.dumped.getLen, dumped)
}
