//go:build linux

// Package qemu runs lifecycle VMs as daemonized QEMU processes.
package qemu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/aledbf/vmlauncher/internal/config"
	"github.com/aledbf/vmlauncher/internal/host/cgroup"
	"github.com/aledbf/vmlauncher/internal/host/network"
	"github.com/aledbf/vmlauncher/internal/host/store"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
	"github.com/aledbf/vmlauncher/internal/paths"
)

// Options configures a Backend.
type Options struct {
	// Binary is an explicit QEMU path; empty means discover it.
	Binary          string
	StateDir        string
	Network         network.Config
	Boot            BootConfig
	ShutdownTimeout time.Duration

	// Cgroups places each VM in its own group when set.
	Cgroups *cgroup.Manager
}

// Backend implements lifecycle.Backend on top of QEMU.
type Backend struct {
	binary string
	opts   Options
	store  *store.BoltStore[Instance]
	kvm    bool

	pidWait time.Duration
}

var _ lifecycle.Backend = (*Backend)(nil)

// New locates QEMU and prepares the state directory.
func New(opts Options) (*Backend, error) {
	binary, err := findQemu(opts.Binary)
	if err != nil {
		return nil, err
	}
	if opts.StateDir == "" {
		opts.StateDir = paths.GetStateDir()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if err := paths.EnsureDir(opts.StateDir); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s, err := openStore(opts.StateDir)
	if err != nil {
		return nil, err
	}
	return &Backend{
		binary:  binary,
		opts:    opts,
		store:   s,
		kvm:     kvmAvailable(),
		pidWait: pidFileWait,
	}, nil
}

// NewFromConfig builds a Backend from the process configuration.
func NewFromConfig(cfg *config.Config) (*Backend, error) {
	opts := Options{
		Binary:          cfg.QEMUPath,
		StateDir:        cfg.StateDir,
		Network:         network.Config{Bridge: cfg.Network.Bridge},
		ShutdownTimeout: cfg.Shutdown(),
		Boot: BootConfig{
			Kernel:  cfg.Boot.Kernel,
			Initrd:  cfg.Boot.Initrd,
			Cmdline: cfg.Boot.Cmdline,

			ReadonlyRootFS: cfg.Boot.ReadonlyRootFS,
		},
	}
	if cfg.Cgroup.Parent != "" {
		m, err := cgroup.NewManager(config.CgroupMountpoint, cfg.Cgroup.Parent)
		if err != nil {
			return nil, err
		}
		opts.Cgroups = m
	}
	return New(opts)
}

// Binary returns the QEMU binary in use.
func (b *Backend) Binary() string {
	return b.binary
}

// Instances returns the records of every VM this backend has started and
// not yet destroyed.
func (b *Backend) Instances() ([]Instance, error) {
	return b.store.List()
}

// Create starts QEMU for cfg and returns the handle of the new instance.
func (b *Backend) Create(ctx context.Context, cfg lifecycle.Config) (_ lifecycle.Handle, retErr error) {
	handle := uuid.NewString()
	logger := log.G(ctx).WithField("handle", handle)

	rootfs, err := filepath.Abs(cfg.RootFSImage)
	if err != nil {
		return "", fmt.Errorf("rootfs image %q: %w", cfg.RootFSImage, err)
	}
	info, err := os.Stat(rootfs)
	if err != nil {
		return "", fmt.Errorf("rootfs image %q: %w", rootfs, errdefs.ErrNotFound)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("rootfs image %q is not a regular file: %w", rootfs, errdefs.ErrInvalidArgument)
	}

	netArgs, err := b.opts.Network.Prepare(ctx, cfg.NetworkMode, cfg.ID)
	if err != nil {
		return "", err
	}

	dir := paths.InstanceDir(b.opts.StateDir, handle)
	if err := paths.EnsureDir(dir); err != nil {
		return "", err
	}
	defer func() {
		if retErr != nil {
			if err := os.RemoveAll(dir); err != nil {
				logger.WithError(err).Warn("failed to remove instance directory")
			}
		}
	}()

	name := "vmlauncher-" + handle
	args := buildArgs(launchSpec{
		name:      name,
		stateDir:  dir,
		cpus:      cfg.CPUCount,
		memoryMiB: cfg.MemoryMiB,
		disk:      DiskConfig{Path: rootfs, Format: diskFormat(rootfs), Readonly: b.opts.Boot.ReadonlyRootFS},
		boot:      b.opts.Boot,
		netArgs:   netArgs,
		kvm:       b.kvm,
	})
	logger.WithField("args", strings.Join(args, " ")).Debug("starting qemu")

	if err := b.run(ctx, args); err != nil {
		return "", err
	}
	pid, err := waitPidFile(ctx, filepath.Join(dir, pidFileName), b.pidWait)
	if err != nil {
		// QEMU daemonized but its pid is unknown; find it by its unique name.
		if kerr := b.killByName(ctx, name); kerr != nil {
			logger.WithError(kerr).Error("qemu may still be running without a record")
			return "", errors.Join(err, kerr)
		}
		return "", err
	}

	rec := Instance{
		Handle:      handle,
		ID:          cfg.ID,
		PID:         pid,
		StateDir:    dir,
		RootFS:      rootfs,
		CPUs:        cfg.CPUCount,
		MemoryMiB:   cfg.MemoryMiB,
		NetworkMode: cfg.NetworkMode,
		CreatedAt:   time.Now().UTC(),
	}

	if b.opts.Cgroups != nil {
		group, err := b.opts.Cgroups.Place(ctx, handle, pid, cgroup.Limits{CPUs: cfg.CPUCount, MemoryMiB: cfg.MemoryMiB})
		if err != nil {
			return "", errors.Join(err, b.kill(ctx, pid))
		}
		rec.Cgroup = group
	}

	if err := b.store.Put(handle, rec); err != nil {
		errs := []error{fmt.Errorf("record instance: %w", err), b.kill(ctx, pid)}
		if b.opts.Cgroups != nil {
			errs = append(errs, b.opts.Cgroups.Remove(ctx, rec.Cgroup))
		}
		return "", errors.Join(errs...)
	}

	logger.WithField("pid", pid).Info("qemu started")
	return lifecycle.Handle(handle), nil
}

// Stop shuts QEMU down in stages: an ACPI powerdown over QMP (SIGTERM when
// QMP is unreachable) bounded by the shutdown timeout, then a QMP quit, then
// SIGKILL. A process that already exited is not an error.
func (b *Backend) Stop(ctx context.Context, h lifecycle.Handle) error {
	rec, err := b.store.Get(string(h))
	if err != nil {
		return err
	}
	logger := log.G(ctx).WithFields(log.Fields{"handle": h, "pid": rec.PID})

	if !alive(rec.PID) {
		logger.Debug("qemu already exited")
		return nil
	}

	socket := filepath.Join(rec.StateDir, qmpSocketName)
	if err := qmpExecute(ctx, socket, "system_powerdown"); err != nil {
		logger.WithError(err).Debug("qmp powerdown failed, sending SIGTERM")
		if err := signal(rec.PID, unix.SIGTERM); err != nil {
			return err
		}
	}
	if waitExit(ctx, rec.PID, b.opts.ShutdownTimeout) {
		logger.Info("qemu stopped")
		return nil
	}

	logger.WithField("timeout", b.opts.ShutdownTimeout).Warn("guest did not power off, quitting qemu")
	if err := qmpExecute(ctx, socket, "quit"); err == nil && waitExit(ctx, rec.PID, shutdownQuitWait) {
		logger.Info("qemu stopped")
		return nil
	}

	logger.Warn("qemu still running, killing")
	return b.kill(ctx, rec.PID)
}

// Destroy releases everything Create allocated. The record is kept when
// teardown fails so that a retry can finish it.
func (b *Backend) Destroy(ctx context.Context, h lifecycle.Handle) error {
	rec, err := b.store.Get(string(h))
	if errdefs.IsNotFound(err) {
		return os.RemoveAll(paths.InstanceDir(b.opts.StateDir, string(h)))
	}
	if err != nil {
		return err
	}

	if alive(rec.PID) {
		if err := b.kill(ctx, rec.PID); err != nil {
			return err
		}
	}

	var errs []error
	if b.opts.Cgroups != nil {
		errs = append(errs, b.opts.Cgroups.Remove(ctx, rec.Cgroup))
	}
	errs = append(errs, os.RemoveAll(rec.StateDir))
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := b.store.Delete(string(h)); err != nil {
		return fmt.Errorf("delete instance record: %w", err)
	}
	log.G(ctx).WithField("handle", h).Debug("qemu instance destroyed")
	return nil
}

func (b *Backend) run(ctx context.Context, args []string) error {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, b.binary, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("qemu failed: %w: %s", err, msg)
		}
		return fmt.Errorf("qemu failed: %w", err)
	}
	return nil
}

func (b *Backend) kill(ctx context.Context, pid int) error {
	if err := signal(pid, unix.SIGKILL); err != nil {
		return err
	}
	if !waitExit(context.WithoutCancel(ctx), pid, shutdownKillWait) {
		return fmt.Errorf("pid %d still running after SIGKILL", pid)
	}
	return nil
}

// killByName kills every process started with -name name.
func (b *Backend) killByName(ctx context.Context, name string) error {
	pids, err := findByName(name)
	if err != nil {
		return err
	}
	var errs []error
	for _, pid := range pids {
		log.G(ctx).WithFields(log.Fields{"pid": pid, "name": name}).Warn("killing unrecorded qemu")
		errs = append(errs, b.kill(ctx, pid))
	}
	return errors.Join(errs...)
}

func waitPidFile(ctx context.Context, path string, wait time.Duration) (int, error) {
	deadline := time.Now().Add(wait)
	for {
		pid, err := readPidFile(path)
		if err == nil {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("qemu did not write %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
