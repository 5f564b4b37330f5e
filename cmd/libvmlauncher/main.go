// Command libvmlauncher is built with -buildmode=c-shared and exports the
// VM lifecycle entry points declared in include/vmlauncher.h.
package main

import "C"

import (
	"unsafe"

	"github.com/aledbf/vmlauncher/internal/cabi"
)

//export agent_launch_vm
func agent_launch_vm(cfg unsafe.Pointer) C.int {
	return C.int(cabi.Launch(cfg))
}

//export agent_stop_vm
func agent_stop_vm(id unsafe.Pointer) C.int {
	return C.int(cabi.Stop(id))
}

//export agent_cleanup_vm
func agent_cleanup_vm(id unsafe.Pointer) C.int {
	return C.int(cabi.Cleanup(id))
}

func main() {}
