package cabi

/*
#include <stdlib.h>
#include "vmlauncher.h"
*/
import "C"

import "unsafe"

// Alloc builds C values for Go callers of this package and frees them
// together. It is not safe for concurrent use.
type Alloc struct {
	ptrs []unsafe.Pointer
}

func (a *Alloc) keep(p unsafe.Pointer) unsafe.Pointer {
	a.ptrs = append(a.ptrs, p)
	return p
}

// CString returns a NUL-terminated copy of s, or NULL for a nil s.
func (a *Alloc) CString(s *string) unsafe.Pointer {
	if s == nil {
		return nil
	}
	return a.keep(unsafe.Pointer(C.CString(*s)))
}

// Bytes returns a copy of b without a terminating NUL.
func (a *Alloc) Bytes(b []byte) unsafe.Pointer {
	return a.keep(C.CBytes(b))
}

// Config returns an AgentVMConfig. Text arguments are pointers returned by
// CString or Bytes, or nil for NULL.
func (a *Alloc) Config(id, rootfs unsafe.Pointer, cpus, memoryMiB uint32, mode unsafe.Pointer) unsafe.Pointer {
	cfg := (*C.AgentVMConfig)(a.keep(C.calloc(1, C.sizeof_AgentVMConfig)))
	cfg.id = (*C.char)(id)
	cfg.rootfs_image = (*C.char)(rootfs)
	cfg.cpu_count = C.uint32_t(cpus)
	cfg.memory_mib = C.uint32_t(memoryMiB)
	cfg.network_mode = (*C.char)(mode)
	return unsafe.Pointer(cfg)
}

// Free releases everything allocated through a.
func (a *Alloc) Free() {
	for _, p := range a.ptrs {
		C.free(p)
	}
	a.ptrs = nil
}
