package qemu

import (
	"time"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

// Instance is the persisted record of one QEMU process started by the
// Backend. External supervisors use it to reconcile after a crash.
type Instance struct {
	Handle      string                `json:"handle"`
	ID          string                `json:"id"`
	PID         int                   `json:"pid"`
	StateDir    string                `json:"state_dir"`
	Cgroup      string                `json:"cgroup,omitempty"`
	RootFS      string                `json:"rootfs"`
	CPUs        uint32                `json:"cpus"`
	MemoryMiB   uint32                `json:"memory_mib"`
	NetworkMode lifecycle.NetworkMode `json:"network_mode"`
	CreatedAt   time.Time             `json:"created_at"`
}

// BootConfig selects a direct kernel boot. An empty Kernel boots from the
// root filesystem image.
type BootConfig struct {
	Kernel  string
	Initrd  string
	Cmdline string

	ReadonlyRootFS bool
}

// DiskConfig represents a virtio-blk device configuration.
type DiskConfig struct {
	Path     string
	Format   string
	Readonly bool
}
