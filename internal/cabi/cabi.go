// Package cabi converts the C structures declared in include/vmlauncher.h
// into lifecycle requests and maps the results onto the header's status codes.
package cabi

/*
#cgo CFLAGS: -I${SRCDIR}/../../include
#include <stdlib.h>
#include <string.h>
#include "vmlauncher.h"
*/
import "C"

import (
	"unsafe"

	"github.com/aledbf/vmlauncher/internal/boundary"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

// text copies a borrowed C string into Go memory. At most one byte past the
// length limit is read, so over-long values are still detected without
// scanning unbounded caller memory.
func text(p *C.char) *string {
	if p == nil {
		return nil
	}
	n := C.strnlen(p, C.size_t(lifecycle.MaxTextLen+1))
	s := C.GoStringN(p, C.int(n))
	return &s
}

func code(s lifecycle.Status) int32 {
	switch s {
	case lifecycle.StatusOK:
		return C.VMLAUNCHER_OK
	case lifecycle.StatusInvalidArgument:
		return C.VMLAUNCHER_INVALID_ARGUMENT
	case lifecycle.StatusNotFound:
		return C.VMLAUNCHER_NOT_FOUND
	case lifecycle.StatusInvalidState:
		return C.VMLAUNCHER_INVALID_STATE
	case lifecycle.StatusAlreadyExists:
		return C.VMLAUNCHER_ALREADY_EXISTS
	default:
		return C.VMLAUNCHER_BACKEND_FAILURE
	}
}

// Launch handles agent_launch_vm. cfg points to an AgentVMConfig or is NULL.
func Launch(cfg unsafe.Pointer) int32 {
	if cfg == nil {
		return code(boundary.Launch(nil))
	}
	c := (*C.AgentVMConfig)(cfg)
	return code(boundary.Launch(&lifecycle.RawConfig{
		ID:          text(c.id),
		RootFSImage: text(c.rootfs_image),
		CPUCount:    uint32(c.cpu_count),
		MemoryMiB:   uint32(c.memory_mib),
		NetworkMode: text(c.network_mode),
	}))
}

// Stop handles agent_stop_vm. id is a C string or NULL.
func Stop(id unsafe.Pointer) int32 {
	return code(boundary.Stop(text((*C.char)(id))))
}

// Cleanup handles agent_cleanup_vm. id is a C string or NULL.
func Cleanup(id unsafe.Pointer) int32 {
	return code(boundary.Cleanup(text((*C.char)(id))))
}
