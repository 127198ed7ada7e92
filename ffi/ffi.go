// Package ffi wraps the platform dynamic loader and the C-ABI calls the rest
// of the engine needs: loading compiled shared objects, calling their run
// function, and driving extension plugins through raw function pointers.
//
// Everything here is a thin, typed shim over dlopen/dlsym and indirect C
// calls. No other package touches cgo.
package ffi

/*
#cgo LDFLAGS: -ldl

#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int64_t (*run_fn)(const uint8_t*, uint8_t*);

static int64_t call_run(void* fn, const uint8_t* in, uint8_t* out) {
	return ((run_fn)fn)(in, out);
}

typedef const char* (*init_fn)(void);

static const char* call_init(void* fn) {
	return ((init_fn)fn)();
}

typedef const char* (*get_err_fn)(void*);
typedef void* (*get_ok_fn)(void*);
typedef void (*drop_fn)(void*);
typedef const uint8_t* (*get_ptr_fn)(void*);
typedef size_t (*get_len_fn)(void*);
typedef void* (*from_bytes_fn)(const uint8_t*, size_t);
typedef void* (*dump_fn)(void*);
typedef size_t (*size_fn)(void*);
typedef char* (*get_method_def_fn)(void*, const char*);
typedef void (*drop_str_fn)(char*);
typedef int64_t (*method_fn)(void*, const uint8_t*, size_t, uint8_t*, size_t);

static const char* call_get_err(void* fn, void* outcome) {
	return ((get_err_fn)fn)(outcome);
}

static void* call_get_ok(void* fn, void* outcome) {
	return ((get_ok_fn)fn)(outcome);
}

static void call_drop(void* fn, void* target) {
	((drop_fn)fn)(target);
}

static const uint8_t* call_get_ptr(void* fn, void* dumped) {
	return ((get_ptr_fn)fn)(dumped);
}

static size_t call_get_len(void* fn, void* dumped) {
	return ((get_len_fn)fn)(dumped);
}

static void* call_from_bytes(void* fn, const uint8_t* data, size_t len) {
	return ((from_bytes_fn)fn)(data, len);
}

static void* call_dump(void* fn, void* resource) {
	return ((dump_fn)fn)(resource);
}

static size_t call_size(void* fn, void* resource) {
	return ((size_fn)fn)(resource);
}

static char* call_get_method_def(void* fn, void* resource, const char* name) {
	return ((get_method_def_fn)fn)(resource, name);
}

static void call_drop_str(void* fn, char* s) {
	((drop_str_fn)fn)(s);
}

static int64_t call_method(void* fn, void* resource,
		const uint8_t* in, size_t in_slots, uint8_t* out, size_t out_slots) {
	return ((method_fn)fn)(resource, in, in_slots, out, out_slots);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Handle is an opened shared object.
type Handle struct {
	ptr unsafe.Pointer
}

// Open maps a shared object into the process.
func Open(path string) (*Handle, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	ptr := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if ptr == nil {
		return nil, errors.Errorf("dlopen %s: %s", path, dlerror())
	}
	return &Handle{ptr: ptr}, nil
}

// Sym resolves a symbol in the shared object.
func (h *Handle) Sym(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.dlerror() // clear any stale error
	ptr := C.dlsym(h.ptr, cname)
	if ptr == nil {
		return nil, errors.Errorf("dlsym %s: %s", name, dlerror())
	}
	return ptr, nil
}

// Close unmaps the shared object. The handle must not be used afterwards.
func (h *Handle) Close() error {
	if h.ptr == nil {
		return nil
	}
	if C.dlclose(h.ptr) != 0 {
		return errors.Errorf("dlclose: %s", dlerror())
	}
	h.ptr = nil
	return nil
}

func dlerror() string {
	if msg := C.dlerror(); msg != nil {
		return C.GoString(msg)
	}
	return "unknown dynamic loader error"
}

// CallRun invokes a compiled run function over raw buffers and returns its
// status code. Zero-length buffers pass null pointers.
func CallRun(fn unsafe.Pointer, in, out []byte) int64 {
	var inPtr, outPtr *C.uint8_t
	if len(in) > 0 {
		inPtr = (*C.uint8_t)(unsafe.Pointer(&in[0]))
	}
	if len(out) > 0 {
		outPtr = (*C.uint8_t)(unsafe.Pointer(&out[0]))
	}
	return int64(C.call_run(fn, inPtr, outPtr))
}

// CallInit invokes an extension's init entry point and returns its manifest
// JSON, or an error if the plugin signalled failure with a null return.
func CallInit(fn unsafe.Pointer) ([]byte, error) {
	manifest := C.call_init(fn)
	if manifest == nil {
		return nil, errors.New("extension init returned null")
	}
	return []byte(C.GoString(manifest)), nil
}

// CallGetErr reads the error string of an outcome, or "" when it is a
// success.
func CallGetErr(fn, outcome unsafe.Pointer) string {
	msg := C.call_get_err(fn, outcome)
	if msg == nil {
		return ""
	}
	return C.GoString(msg)
}

// CallGetOk extracts the success payload of an outcome.
func CallGetOk(fn, outcome unsafe.Pointer) unsafe.Pointer {
	return C.call_get_ok(fn, outcome)
}

// CallDrop releases plugin-owned memory through the given destructor.
func CallDrop(fn, target unsafe.Pointer) {
	C.call_drop(fn, target)
}

// CallDumpedBytes copies a plugin dump's bytes into Go memory. The dump is
// not released.
func CallDumpedBytes(getPtr, getLen, dumped unsafe.Pointer) ([]byte, error) {
	ptr := C.call_get_ptr(getPtr, dumped)
	if ptr == nil {
		return nil, errors.New("dump location was null")
	}
	n := int(C.call_get_len(getLen, dumped))
	return C.GoBytes(unsafe.Pointer(ptr), C.int(n)), nil
}

// CallFromBytes re-hydrates a resource from its serialized form, returning
// the plugin's outcome pointer.
func CallFromBytes(fn unsafe.Pointer, data []byte) unsafe.Pointer {
	var ptr *C.uint8_t
	if len(data) > 0 {
		ptr = (*C.uint8_t)(unsafe.Pointer(&data[0]))
	}
	return C.call_from_bytes(fn, ptr, C.size_t(len(data)))
}

// CallDump asks a resource to serialize itself, returning the plugin's
// outcome pointer.
func CallDump(fn, resource unsafe.Pointer) unsafe.Pointer {
	return C.call_dump(fn, resource)
}

// CallSize reports a resource's heap footprint in bytes.
func CallSize(fn, resource unsafe.Pointer) int {
	return int(C.call_size(fn, resource))
}

// CallGetMethodDef fetches a method definition JSON from a resource. The
// returned release closure must be called once with the raw string.
func CallGetMethodDef(fn, resource unsafe.Pointer, name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return unsafe.Pointer(C.call_get_method_def(fn, resource, cname))
}

// CallDropStr releases a plugin-owned C string.
func CallDropStr(fn, s unsafe.Pointer) {
	C.call_drop_str(fn, (*C.char)(s))
}

// GoStringAt copies a plugin-owned C string into Go memory.
func GoStringAt(s unsafe.Pointer) string {
	return C.GoString((*C.char)(s))
}

// CallMethod invokes a resource method over raw slot buffers and returns its
// status code.
func CallMethod(fn, resource unsafe.Pointer, in []byte, inSlots int, out []byte, outSlots int) int64 {
	var inPtr, outPtr *C.uint8_t
	if len(in) > 0 {
		inPtr = (*C.uint8_t)(unsafe.Pointer(&in[0]))
	}
	if len(out) > 0 {
		outPtr = (*C.uint8_t)(unsafe.Pointer(&out[0]))
	}
	return int64(C.call_method(fn, resource, inPtr, C.size_t(inSlots), outPtr, C.size_t(outSlots)))
}
