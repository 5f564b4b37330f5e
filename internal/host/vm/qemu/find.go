package qemu

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/containerd/errdefs"

	"github.com/aledbf/vmlauncher/internal/paths"
)

// EnvQEMUPath overrides QEMU binary discovery.
const EnvQEMUPath = "VMLAUNCHER_QEMU_PATH"

func binaryName() string {
	switch runtime.GOARCH {
	case "arm64":
		return "qemu-system-aarch64"
	case "riscv64":
		return "qemu-system-riscv64"
	default:
		return "qemu-system-x86_64"
	}
}

// findQemu locates the QEMU system emulator. An explicit path from the
// config wins over the environment, then PATH, then common locations.
func findQemu(configured string) (string, error) {
	for _, src := range []struct{ name, path string }{
		{"qemu_path", configured},
		{EnvQEMUPath, os.Getenv(EnvQEMUPath)},
	} {
		if src.path == "" {
			continue
		}
		if _, err := os.Stat(src.path); err != nil {
			return "", fmt.Errorf("%s set to %q but file not found: %w", src.name, src.path, errdefs.ErrNotFound)
		}
		return src.path, nil
	}

	name := binaryName()
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	if path, err := paths.FindFile(name, paths.QEMUSearchPaths()); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found in PATH or common locations; install QEMU or set %s: %w", name, EnvQEMUPath, errdefs.ErrNotFound)
}
