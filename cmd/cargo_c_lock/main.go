// Command cargo_c_lock builds the C shared library that exposes Cargo.lock
// parsing to foreign callers:
//
//	go build -buildmode=c-shared -o libcargo_c_lock.so ./cmd/cargo_c_lock
//
// CargoLockJSON returns a NUL-terminated JSON array that the caller owns and
// must hand back to CargoLockFree exactly once. On failure it returns NULL and
// the calling thread's error is available from CargoLockLastError and
// CargoLockLastErrorKind until that thread's next CargoLockJSON call.
//
// Errors are keyed by pthread_self, and thread ids are reused after a thread
// exits. A thread that saw a failure should call CargoLockClearError before
// it exits, otherwise the entry stays behind and a later thread with the
// same id can read it.
package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"bytes"
	"log/slog"
	"strings"
	"unsafe"

	"go.trai.ch/zerr"

	"github.com/git-pkgs/cargolock/internal/boundary"
	"github.com/git-pkgs/cargolock/internal/core"
)

var (
	adapter *boundary.Adapter

	// Never freed; CargoLockVersion hands out the same pointer every time.
	version = C.CString(boundary.Version)
)

func init() {
	a, err := boundary.FromEnv()
	if err != nil {
		slog.Warn("cargo_c_lock: ignoring invalid configuration", "error", err)
	}
	adapter = a
}

//export CargoLockJSON
func CargoLockJSON(path *C.char) (out *C.char) {
	thread := threadID()
	defer zerr.Defer(func(err error) {
		adapter.Record(thread, &core.Error{Kind: core.KindInternal, Err: err})
		out = nil
	})

	data, err := adapter.Produce(thread, pathBytes(path))
	if err != nil {
		return nil
	}
	return newBuffer(data)
}

//export CargoLockFree
func CargoLockFree(json *C.char) {
	releaseBuffer(json)
}

//export CargoLockLastError
func CargoLockLastError() *C.char {
	err := adapter.LastFailure(threadID())
	if err == nil {
		return nil
	}
	return newBuffer([]byte(strings.ReplaceAll(err.Error(), "\x00", `\0`)))
}

//export CargoLockClearError
func CargoLockClearError() {
	adapter.Clear(threadID())
}

//export CargoLockLastErrorKind
func CargoLockLastErrorKind() C.int {
	return C.int(core.KindOf(adapter.LastFailure(threadID())))
}

//export CargoLockLiveBuffers
func CargoLockLiveBuffers() C.longlong {
	return C.longlong(adapter.Live())
}

//export CargoLockVersion
func CargoLockVersion() *C.char {
	return version
}

// pathBytes copies a caller's NUL-terminated string into Go memory.
// NULL yields nil so the adapter can tell it apart from "".
func pathBytes(p *C.char) []byte {
	if p == nil {
		return nil
	}
	n := C.strlen(p)
	if n == 0 {
		return []byte{}
	}
	// C.GoBytes takes a C.int length, which would truncate paths past 2 GiB.
	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

// newBuffer copies data into a malloc'd NUL-terminated buffer owned by the caller.
func newBuffer(data []byte) *C.char {
	buf := C.malloc(C.size_t(len(data) + 1))
	dst := unsafe.Slice((*byte)(buf), len(data)+1)
	copy(dst, data)
	dst[len(data)] = 0
	adapter.Acquired()
	return (*C.char)(buf)
}

func releaseBuffer(p *C.char) {
	if p == nil {
		return
	}
	C.free(unsafe.Pointer(p))
	adapter.Released()
}

func main() {}
