//go:build linux

// Package cgroup places VM processes in per-VM cgroup v2 groups.
package cgroup

import (
	"context"
	"fmt"
	"path"

	"github.com/containerd/cgroups/v3"
	cgroupsv2 "github.com/containerd/cgroups/v3/cgroup2"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/sys/userns"
)

const (
	cpuPeriod uint64 = 100000

	// MemoryOverheadMiB is added to the guest memory for the VMM itself.
	MemoryOverheadMiB = 256
)

// Limits are the resources granted to one VM.
type Limits struct {
	CPUs      uint32
	MemoryMiB uint32
}

// Resources translates l into cgroup v2 controller settings.
func Resources(l Limits) *cgroupsv2.Resources {
	period := cpuPeriod
	quota := int64(l.CPUs) * int64(cpuPeriod)
	memMax := (int64(l.MemoryMiB) + MemoryOverheadMiB) * 1024 * 1024
	return &cgroupsv2.Resources{
		CPU: &cgroupsv2.CPU{
			Max: cgroupsv2.NewCPUMax(&quota, &period),
		},
		Memory: &cgroupsv2.Memory{
			Max: &memMax,
		},
	}
}

// GroupPath returns the group of VM name below parent.
func GroupPath(parent, name string) string {
	return path.Join("/", parent, name)
}

// Manager creates and removes VM groups below one parent group.
type Manager struct {
	mountpoint string
	parent     string
}

// NewManager returns a Manager for groups below parent. Only the unified
// hierarchy is supported.
func NewManager(mountpoint, parent string) (*Manager, error) {
	if cgroups.Mode() != cgroups.Unified {
		return nil, fmt.Errorf("cgroup v2 unified hierarchy is required: %w", errdefs.ErrNotImplemented)
	}
	if err := cgroupsv2.VerifyGroupPath(parent); err != nil {
		return nil, fmt.Errorf("cgroup parent %q: %w", parent, errdefs.ErrInvalidArgument)
	}
	return &Manager{mountpoint: mountpoint, parent: parent}, nil
}

// Place creates the group for name with limits l and moves pid into it.
// It returns the group path to pass to Remove. Inside a user namespace
// controller delegation is often missing; failures there are logged and the
// VM runs unconfined, reported by an empty group path.
func (m *Manager) Place(ctx context.Context, name string, pid int, l Limits) (string, error) {
	group := GroupPath(m.parent, name)
	logger := log.G(ctx).WithFields(log.Fields{"cgroup": group, "pid": pid})

	mgr, err := cgroupsv2.NewManager(m.mountpoint, group, Resources(l))
	if err == nil {
		err = mgr.AddProc(uint64(pid))
		if err != nil {
			_ = mgr.Delete()
		}
	}
	if err != nil {
		if userns.RunningInUserNS() {
			logger.WithError(err).Debug("cgroup placement unavailable in user namespace")
			return "", nil
		}
		logger.WithError(err).Error("failed to place vm in cgroup")
		return "", fmt.Errorf("place pid %d in cgroup %s: %w", pid, group, err)
	}

	logger.WithFields(log.Fields{"cpus": l.CPUs, "memory_mib": l.MemoryMiB}).Debug("vm placed in cgroup")
	return group, nil
}

// Remove deletes a group created by Place. An empty group is a no-op.
func (m *Manager) Remove(ctx context.Context, group string) error {
	if group == "" {
		return nil
	}
	mgr, err := cgroupsv2.Load(group, cgroupsv2.WithMountpoint(m.mountpoint))
	if err != nil {
		return fmt.Errorf("load cgroup %s: %w", group, err)
	}
	if err := mgr.Delete(); err != nil {
		return fmt.Errorf("delete cgroup %s: %w", group, err)
	}
	log.G(ctx).WithField("cgroup", group).Debug("cgroup removed")
	return nil
}
