//go:build !linux

package boundary

import (
	"fmt"
	"runtime"

	"github.com/containerd/errdefs"

	"github.com/aledbf/vmlauncher/internal/config"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

func newBackend(*config.Config) (lifecycle.Backend, error) {
	return nil, fmt.Errorf("qemu backend on %s: %w", runtime.GOOS, errdefs.ErrNotImplemented)
}
