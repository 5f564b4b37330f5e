package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/docker/go-events"
	"github.com/moby/locker"
)

// Handle identifies a VM resource inside the backend.
type Handle string

// Backend is the virtualization subsystem the Tracker delegates to after a
// request passed validation and the state checks. Calls are synchronous.
type Backend interface {
	Create(ctx context.Context, cfg Config) (Handle, error)
	Stop(ctx context.Context, h Handle) error
	Destroy(ctx context.Context, h Handle) error
}

type entry struct {
	state  State
	handle Handle
	config Config
}

// Tracker owns the lifecycle state table. It is the only writer of the
// table and exposes it only through Launch, Stop and Cleanup.
//
// Each operation holds a per-identifier lock from the state check until
// the table update, so concurrent requests for one identifier never reach
// the backend twice. Requests for different identifiers run in parallel.
type Tracker struct {
	backend   Backend
	validator *Validator
	sink      events.Sink
	metrics   *Metrics

	locks *locker.Locker

	mu  sync.Mutex
	vms map[string]entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithValidator replaces the default validator (all known network modes,
// no resource caps).
func WithValidator(v *Validator) Option {
	return func(t *Tracker) {
		t.validator = v
	}
}

// WithEventSink publishes an Event to s after every committed transition.
// Write is called synchronously while the identifier is still locked.
func WithEventSink(s events.Sink) Option {
	return func(t *Tracker) {
		t.sink = s
	}
}

// NewTracker returns a Tracker with an empty state table.
func NewTracker(b Backend, opts ...Option) *Tracker {
	t := &Tracker{
		backend:   b,
		validator: NewValidator(nil, Limits{}),
		metrics:   &Metrics{},
		locks:     locker.New(),
		vms:       make(map[string]entry),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Metrics returns the operation counters of t.
func (t *Tracker) Metrics() *Metrics {
	return t.metrics
}

// Launch validates raw, creates the VM in the backend and records it as
// running. A nil raw is an absent configuration.
func (t *Tracker) Launch(ctx context.Context, raw *RawConfig) (err error) {
	defer t.metrics.Launch.observe(&err)

	cfg, err := t.validator.Config(raw)
	if err != nil {
		return t.reject(ctx, "launch", err)
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("vm", cfg.ID))
	unlock := t.lock(cfg.ID)
	defer unlock()

	if e, ok := t.get(cfg.ID); ok {
		return t.reject(ctx, "launch", fmt.Errorf("vm %q is already %s: %w", cfg.ID, e.state, errdefs.ErrAlreadyExists))
	}

	start := time.Now()
	h, err := t.backend.Create(ctx, cfg)
	t.metrics.Launch.recordBackend(time.Since(start))
	if err != nil {
		return t.backendFailure(ctx, "launch", fmt.Errorf("%w: create vm %q: %w", ErrBackend, cfg.ID, err))
	}

	t.put(cfg.ID, entry{state: StateRunning, handle: h, config: cfg})
	log.G(ctx).WithFields(log.Fields{
		"handle":  h,
		"cpus":    cfg.CPUCount,
		"memory":  cfg.MemoryMiB,
		"network": cfg.NetworkMode,
	}).Info("vm launched")
	t.publish(ctx, TopicLaunch, cfg.ID, StateRunning)
	return nil
}

// Stop stops a running VM. Stopping an unknown identifier is NotFound,
// stopping an already stopped one is FailedPrecondition.
func (t *Tracker) Stop(ctx context.Context, rawID *string) (err error) {
	defer t.metrics.Stop.observe(&err)

	id, err := ParseID(rawID)
	if err != nil {
		return t.reject(ctx, "stop", err)
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("vm", id))
	unlock := t.lock(id)
	defer unlock()

	e, ok := t.get(id)
	if !ok {
		return t.reject(ctx, "stop", fmt.Errorf("vm %q: %w", id, errdefs.ErrNotFound))
	}
	if e.state != StateRunning {
		return t.reject(ctx, "stop", fmt.Errorf("vm %q is already %s: %w", id, e.state, errdefs.ErrFailedPrecondition))
	}

	start := time.Now()
	err = t.backend.Stop(ctx, e.handle)
	t.metrics.Stop.recordBackend(time.Since(start))
	if err != nil {
		return t.backendFailure(ctx, "stop", fmt.Errorf("%w: stop vm %q: %w", ErrBackend, id, err))
	}

	e.state = StateStopped
	t.put(id, e)
	log.G(ctx).WithField("handle", e.handle).Info("vm stopped")
	t.publish(ctx, TopicStop, id, StateStopped)
	return nil
}

// Cleanup tears down a stopped VM and forgets its identifier, which may
// then be launched again. Only stopped VMs can be cleaned up.
func (t *Tracker) Cleanup(ctx context.Context, rawID *string) (err error) {
	defer t.metrics.Cleanup.observe(&err)

	id, err := ParseID(rawID)
	if err != nil {
		return t.reject(ctx, "cleanup", err)
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("vm", id))
	unlock := t.lock(id)
	defer unlock()

	e, ok := t.get(id)
	if !ok {
		return t.reject(ctx, "cleanup", fmt.Errorf("vm %q is not stopped: %w", id, errdefs.ErrFailedPrecondition))
	}
	if e.state != StateStopped {
		return t.reject(ctx, "cleanup", fmt.Errorf("vm %q is %s, stop it first: %w", id, e.state, errdefs.ErrFailedPrecondition))
	}

	start := time.Now()
	err = t.backend.Destroy(ctx, e.handle)
	t.metrics.Cleanup.recordBackend(time.Since(start))
	if err != nil {
		return t.backendFailure(ctx, "cleanup", fmt.Errorf("%w: destroy vm %q: %w", ErrBackend, id, err))
	}

	t.remove(id)
	log.G(ctx).WithField("handle", e.handle).Info("vm cleaned up")
	t.publish(ctx, TopicCleanup, id, StateUnregistered)
	return nil
}

func (t *Tracker) lock(id string) func() {
	t.locks.Lock(id)
	return func() {
		// Unlock only fails for names that were never locked.
		_ = t.locks.Unlock(id)
	}
}

func (t *Tracker) get(id string) (entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.vms[id]
	return e, ok
}

func (t *Tracker) put(id string, e entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vms[id] = e
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.vms, id)
}

func (t *Tracker) reject(ctx context.Context, op string, err error) error {
	log.G(ctx).WithError(err).WithFields(log.Fields{
		"op":     op,
		"status": StatusOf(err),
	}).Debug("lifecycle request rejected")
	return err
}

func (t *Tracker) backendFailure(ctx context.Context, op string, err error) error {
	log.G(ctx).WithError(err).WithField("op", op).Warn("backend operation failed")
	return err
}
