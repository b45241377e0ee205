package main

/*
#include <stdlib.h>
#include <stdint.h>
#include <pthread.h>

static uint64_t cargolock_thread_id(void) {
	return (uint64_t)(uintptr_t)pthread_self();
}
*/
import "C"

import "unsafe"

// threadID identifies the OS thread the foreign caller entered on. Calls from
// C keep their thread for the duration of the export.
func threadID() uint64 {
	return uint64(C.cargolock_thread_id())
}

// Test files cannot use cgo, so they build and read C strings through these.

func cString(s string) *C.char {
	return C.CString(s)
}

func freeCString(p *C.char) {
	C.free(unsafe.Pointer(p))
}

func goString(p *C.char) string {
	return C.GoString(p)
}
