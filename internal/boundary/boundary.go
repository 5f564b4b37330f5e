// Package boundary holds the process-wide lifecycle tracker behind the
// exported C symbols and converts every outcome into a lifecycle.Status.
package boundary

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/containerd/log"

	"github.com/aledbf/vmlauncher/internal/config"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

var current atomic.Pointer[lifecycle.Tracker]

func init() {
	current.Store(newDefaultTracker())
}

func newDefaultTracker() *lifecycle.Tracker {
	cfg, err := config.Get()
	if err != nil {
		log.L.WithError(err).Error("failed to load configuration, launches will fail")
		return lifecycle.NewTracker(newLazyBackend(func() (lifecycle.Backend, error) {
			return nil, fmt.Errorf("load configuration: %w", err)
		}))
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.L.WithError(err).Warn("failed to apply logging configuration")
	}
	return NewTracker(cfg)
}

// NewTracker returns a tracker validating against cfg whose QEMU backend is
// built on the first request that reaches it.
func NewTracker(cfg *config.Config, opts ...lifecycle.Option) *lifecycle.Tracker {
	opts = append([]lifecycle.Option{lifecycle.WithValidator(cfg.Validator())}, opts...)
	return lifecycle.NewTracker(
		newLazyBackend(func() (lifecycle.Backend, error) { return newBackend(cfg) }),
		opts...,
	)
}

// Tracker returns the process-wide tracker.
func Tracker() *lifecycle.Tracker {
	return current.Load()
}

// SetTracker replaces the process-wide tracker and returns a function that
// restores the previous one.
func SetTracker(t *lifecycle.Tracker) (restore func()) {
	prev := current.Swap(t)
	return func() {
		current.Store(prev)
	}
}

// Launch starts the VM described by raw. A nil raw is an absent config.
func Launch(raw *lifecycle.RawConfig) lifecycle.Status {
	return guard("launch", func(ctx context.Context) error {
		return Tracker().Launch(ctx, raw)
	})
}

// Stop stops the running VM named by id.
func Stop(id *string) lifecycle.Status {
	return guard("stop", func(ctx context.Context) error {
		return Tracker().Stop(ctx, id)
	})
}

// Cleanup destroys the stopped VM named by id.
func Cleanup(id *string) lifecycle.Status {
	return guard("cleanup", func(ctx context.Context) error {
		return Tracker().Cleanup(ctx, id)
	})
}

// guard runs fn and maps its result to a Status. Panics never cross the
// boundary; they are reported as backend failures.
func guard(op string, fn func(ctx context.Context) error) (status lifecycle.Status) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			log.G(ctx).WithFields(log.Fields{
				"op":    op,
				"panic": r,
			}).Error("recovered panic in lifecycle operation")
			status = lifecycle.StatusBackendFailure
		}
	}()
	return lifecycle.StatusOf(fn(ctx))
}
