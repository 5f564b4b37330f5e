package main

import (
	"context"
	"fmt"
	"math"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/docker/go-events"
	"github.com/urfave/cli/v2"

	"github.com/aledbf/vmlauncher/internal/boundary"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

var vmFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "id",
		Usage:    "VM identifier",
		Required: true,
	},
	&cli.StringFlag{
		Name:     "rootfs",
		Usage:    "root filesystem image",
		Required: true,
	},
	&cli.Uint64Flag{
		Name:  "cpus",
		Usage: "number of vCPUs",
		Value: 1,
	},
	&cli.Uint64Flag{
		Name:  "memory",
		Usage: "guest memory in MiB",
		Value: 512,
	},
	&cli.StringFlag{
		Name:  "network",
		Usage: "network mode (none, allow_all, bridge)",
		Value: string(lifecycle.NetworkNone),
	},
}

// flagUint32 reads a uint64 flag that must fit the 32-bit wire field.
func flagUint32(c *cli.Context, name string) (uint32, error) {
	v := c.Uint64(name)
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%s %d exceeds %d: %w", name, v, uint64(math.MaxUint32), errdefs.ErrInvalidArgument)
	}
	return uint32(v), nil
}

func rawConfig(c *cli.Context) (*lifecycle.RawConfig, error) {
	cpus, err := flagUint32(c, "cpus")
	if err != nil {
		return nil, err
	}
	memory, err := flagUint32(c, "memory")
	if err != nil {
		return nil, err
	}
	id, rootfs, mode := c.String("id"), c.String("rootfs"), c.String("network")
	return &lifecycle.RawConfig{
		ID:          &id,
		RootFSImage: &rootfs,
		CPUCount:    cpus,
		MemoryMiB:   memory,
		NetworkMode: &mode,
	}, nil
}

// reportError prints err with its status and returns the matching exit error.
func reportError(c *cli.Context, op string, err error) error {
	status := lifecycle.StatusOf(err)
	fmt.Fprintf(c.App.Writer, "%s (%d): %v\n", status, status, err)
	return statusError(op, status)
}

// statusError turns a non-OK status into a cli exit error. The process
// exits with the negated status.
func statusError(op string, s lifecycle.Status) error {
	if s == lifecycle.StatusOK {
		return nil
	}
	return cli.Exit(fmt.Sprintf("%s: %s (%d)", op, s, s), int(-s))
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "launch a VM, wait for a signal, then stop and clean it up",
	Flags: vmFlags,
	Action: func(c *cli.Context) error {
		ctx := c.Context
		raw, err := rawConfig(c)
		if err != nil {
			return reportError(c, "launch", err)
		}

		queue := events.NewQueue(&logSink{ctx: ctx})
		defer queue.Close()

		restore := boundary.SetTracker(boundary.NewTracker(appConfig(c), lifecycle.WithEventSink(queue)))
		defer restore()

		status := boundary.Launch(raw)
		fmt.Fprintf(c.App.Writer, "launch %s: %s\n", *raw.ID, status)
		if err := statusError("launch", status); err != nil {
			return err
		}

		<-ctx.Done()
		log.G(ctx).WithField("vm", *raw.ID).Info("signal received, shutting down")

		status = boundary.Stop(raw.ID)
		fmt.Fprintf(c.App.Writer, "stop %s: %s\n", *raw.ID, status)
		if err := statusError("stop", status); err != nil {
			return err
		}
		status = boundary.Cleanup(raw.ID)
		fmt.Fprintf(c.App.Writer, "cleanup %s: %s\n", *raw.ID, status)

		m := boundary.Tracker().Metrics().Snapshot()
		log.G(ctx).WithFields(log.Fields{
			"launch_ms":  m.Launch.AvgBackendTimeMs,
			"stop_ms":    m.Stop.AvgBackendTimeMs,
			"cleanup_ms": m.Cleanup.AvgBackendTimeMs,
		}).Debug("backend timings")
		return statusError("cleanup", status)
	},
}

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "validate a VM configuration without launching it",
	Flags: vmFlags,
	Action: func(c *cli.Context) error {
		raw, err := rawConfig(c)
		if err == nil {
			_, err = appConfig(c).Validator().Config(raw)
		}
		if err != nil {
			return reportError(c, "check", err)
		}
		fmt.Fprintf(c.App.Writer, "%s (%d)\n", lifecycle.StatusOK, lifecycle.StatusOK)
		return nil
	},
}

// logSink logs lifecycle events. It sits behind an events.Queue so a slow
// logger never holds a VM lock.
type logSink struct {
	ctx context.Context
}

func (s *logSink) Write(ev events.Event) error {
	e, ok := ev.(lifecycle.Event)
	if !ok {
		return nil
	}
	log.G(s.ctx).WithFields(log.Fields{
		"topic": e.Topic,
		"vm":    e.ID,
		"state": e.State,
	}).Info("lifecycle event")
	return nil
}

func (s *logSink) Close() error {
	return nil
}
