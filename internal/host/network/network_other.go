//go:build !linux

package network

import (
	"fmt"

	"github.com/containerd/errdefs"
)

func checkBridge(name string) error {
	return fmt.Errorf("bridge %q: %w", name, errdefs.ErrNotImplemented)
}
