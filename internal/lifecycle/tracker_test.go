package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	creates  int
	stops    int
	destroys int
	next     int

	createErr  error
	stopErr    error
	destroyErr error
	delay      time.Duration
}

// state reports the current state of id.
func (t *Tracker) state(id string) State {
	e, ok := t.get(id)
	if !ok {
		return StateUnregistered
	}
	return e.state
}

type panickingBackend struct {
	fakeBackend
}

func (b *panickingBackend) Create(context.Context, Config) (Handle, error) {
	panic("create exploded")
}

func (b *panickingBackend) Stop(context.Context, Handle) error {
	panic("stop exploded")
}

func (b *fakeBackend) Create(ctx context.Context, cfg Config) (Handle, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return "", b.createErr
	}
	b.next++
	return Handle(fmt.Sprintf("h-%d", b.next)), nil
}

func (b *fakeBackend) Stop(ctx context.Context, h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return b.stopErr
}

func (b *fakeBackend) Destroy(ctx context.Context, h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroys++
	return b.destroyErr
}

func (b *fakeBackend) calls() (int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates, b.stops, b.destroys
}

func rawFor(id string) *RawConfig {
	r := validRaw()
	r.ID = strPtr(id)
	return r
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(&fakeBackend{})

	assert.Equal(t, StatusOK, StatusOf(tr.Launch(ctx, validRaw())))
	assert.Equal(t, StateRunning, tr.state("a"))

	assert.Equal(t, StatusOK, StatusOf(tr.Stop(ctx, strPtr("a"))))
	assert.Equal(t, StateStopped, tr.state("a"))

	assert.Equal(t, StatusInvalidState, StatusOf(tr.Stop(ctx, strPtr("a"))), "already stopped")

	assert.Equal(t, StatusOK, StatusOf(tr.Cleanup(ctx, strPtr("a"))))
	assert.Equal(t, StateUnregistered, tr.state("a"))

	assert.Equal(t, StatusNotFound, StatusOf(tr.Stop(ctx, strPtr("a"))))
}

func TestLaunchNilConfig(t *testing.T) {
	b := &fakeBackend{}
	tr := NewTracker(b)

	err := tr.Launch(context.Background(), nil)
	assert.Equal(t, StatusInvalidArgument, StatusOf(err))
	assert.Empty(t, tr.vms)

	creates, _, _ := b.calls()
	assert.Zero(t, creates)
}

func TestInvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	ids := map[string]*string{
		"absent":       nil,
		"empty":        strPtr(""),
		"invalid utf8": strPtr("\xc3\x28"),
	}

	for name, id := range ids {
		t.Run(name, func(t *testing.T) {
			b := &fakeBackend{}
			tr := NewTracker(b)

			raw := validRaw()
			raw.ID = id
			assert.Equal(t, StatusInvalidArgument, StatusOf(tr.Launch(ctx, raw)))
			assert.Equal(t, StatusInvalidArgument, StatusOf(tr.Stop(ctx, id)))
			assert.Equal(t, StatusInvalidArgument, StatusOf(tr.Cleanup(ctx, id)))

			creates, stops, destroys := b.calls()
			assert.Zero(t, creates+stops+destroys)
		})
	}
}

func TestDoubleLaunch(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	tr := NewTracker(b)

	require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))

	err := tr.Launch(ctx, rawFor("vm-1"))
	assert.True(t, errdefs.IsAlreadyExists(err))
	assert.Equal(t, StatusAlreadyExists, StatusOf(err))

	require.NoError(t, tr.Stop(ctx, strPtr("vm-1")))
	assert.Equal(t, StatusAlreadyExists, StatusOf(tr.Launch(ctx, rawFor("vm-1"))), "stopped ids are still tracked")

	creates, _, _ := b.calls()
	assert.Equal(t, 1, creates)
}

func TestCleanupRequiresStop(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	tr := NewTracker(b)

	assert.Equal(t, StatusInvalidState, StatusOf(tr.Cleanup(ctx, strPtr("ghost"))))

	require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))
	err := tr.Cleanup(ctx, strPtr("vm-1"))
	assert.True(t, errdefs.IsFailedPrecondition(err))
	assert.Equal(t, StateRunning, tr.state("vm-1"))

	_, _, destroys := b.calls()
	assert.Zero(t, destroys)
}

func TestIdentifierReuse(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	tr := NewTracker(b)

	id := strPtr("vm-x")
	require.NoError(t, tr.Launch(ctx, rawFor("vm-x")))
	require.NoError(t, tr.Stop(ctx, id))
	require.NoError(t, tr.Cleanup(ctx, id))

	_, tracked := tr.vms["vm-x"]
	assert.False(t, tracked)

	require.NoError(t, tr.Launch(ctx, rawFor("vm-x")))
	assert.Equal(t, StateRunning, tr.state("vm-x"))
	assert.Equal(t, Handle("h-2"), tr.vms["vm-x"].handle)
}

func TestBackendFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("create", func(t *testing.T) {
		tr := NewTracker(&fakeBackend{createErr: boom})
		err := tr.Launch(ctx, rawFor("vm-1"))
		assert.Equal(t, StatusBackendFailure, StatusOf(err))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateUnregistered, tr.state("vm-1"))
	})

	t.Run("stop", func(t *testing.T) {
		b := &fakeBackend{}
		tr := NewTracker(b)
		require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))

		b.stopErr = boom
		assert.Equal(t, StatusBackendFailure, StatusOf(tr.Stop(ctx, strPtr("vm-1"))))
		assert.Equal(t, StateRunning, tr.state("vm-1"))

		b.stopErr = nil
		assert.NoError(t, tr.Stop(ctx, strPtr("vm-1")))
	})

	t.Run("destroy", func(t *testing.T) {
		b := &fakeBackend{}
		tr := NewTracker(b)
		require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))
		require.NoError(t, tr.Stop(ctx, strPtr("vm-1")))

		b.destroyErr = boom
		assert.Equal(t, StatusBackendFailure, StatusOf(tr.Cleanup(ctx, strPtr("vm-1"))))
		assert.Equal(t, StateStopped, tr.state("vm-1"))
	})

	t.Run("backend error carrying an errdefs kind", func(t *testing.T) {
		tr := NewTracker(&fakeBackend{createErr: fmt.Errorf("qemu binary: %w", errdefs.ErrNotFound)})
		assert.Equal(t, StatusBackendFailure, StatusOf(tr.Launch(ctx, rawFor("vm-1"))))
	})
}

func TestConcurrentLaunchSameID(t *testing.T) {
	const n = 32
	b := &fakeBackend{delay: 5 * time.Millisecond}
	tr := NewTracker(b)

	var wg sync.WaitGroup
	results := make(chan Status, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- StatusOf(tr.Launch(context.Background(), rawFor("same")))
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Status]int{}
	for s := range results {
		counts[s]++
	}
	assert.Equal(t, 1, counts[StatusOK])
	assert.Equal(t, n-1, counts[StatusAlreadyExists])

	creates, _, _ := b.calls()
	assert.Equal(t, 1, creates)
	assert.Len(t, tr.vms, 1)
}

func TestConcurrentDistinctIDs(t *testing.T) {
	const n = 16
	b := &fakeBackend{}
	tr := NewTracker(b)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("vm-%d", i)
			ctx := context.Background()
			assert.NoError(t, tr.Launch(ctx, rawFor(id)))
			assert.NoError(t, tr.Stop(ctx, &id))
			assert.NoError(t, tr.Cleanup(ctx, &id))
		}()
	}
	wg.Wait()

	creates, stops, destroys := b.calls()
	assert.Equal(t, n, creates)
	assert.Equal(t, n, stops)
	assert.Equal(t, n, destroys)
	assert.Empty(t, tr.vms)
}

func TestEventsOnCommittedTransitions(t *testing.T) {
	ctx := context.Background()
	ch := events.NewChannel(8)
	defer ch.Close()

	b := &fakeBackend{}
	tr := NewTracker(b, WithEventSink(ch))

	require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))
	assert.Error(t, tr.Launch(ctx, rawFor("vm-1")))
	b.stopErr = errors.New("boom")
	assert.Error(t, tr.Stop(ctx, strPtr("vm-1")))
	b.stopErr = nil
	require.NoError(t, tr.Stop(ctx, strPtr("vm-1")))
	require.NoError(t, tr.Cleanup(ctx, strPtr("vm-1")))

	var got []Event
	for range 3 {
		select {
		case ev := <-ch.C:
			got = append(got, ev.(Event))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	select {
	case ev := <-ch.C:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	assert.Equal(t, TopicLaunch, got[0].Topic)
	assert.Equal(t, StateRunning, got[0].State)
	assert.Equal(t, TopicStop, got[1].Topic)
	assert.Equal(t, StateStopped, got[1].State)
	assert.Equal(t, TopicCleanup, got[2].Topic)
	assert.Equal(t, StateUnregistered, got[2].State)
	for _, ev := range got {
		assert.Equal(t, "vm-1", ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestTrackerMetrics(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	tr := NewTracker(b)

	require.NoError(t, tr.Launch(ctx, rawFor("vm-1")))
	assert.Error(t, tr.Launch(ctx, nil))
	b.createErr = errors.New("boom")
	assert.Error(t, tr.Launch(ctx, rawFor("vm-2")))
	assert.Error(t, tr.Stop(ctx, strPtr("missing")))

	snap := tr.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.Launch.Attempts)
	assert.Equal(t, int64(1), snap.Launch.Successes)
	assert.Equal(t, int64(1), snap.Launch.Rejections)
	assert.Equal(t, int64(1), snap.Launch.BackendFailures)
	assert.Equal(t, int64(2), snap.Launch.BackendCalls)
	assert.Equal(t, int64(1), snap.Stop.Attempts)
	assert.Equal(t, int64(1), snap.Stop.Rejections)
	assert.Zero(t, snap.Stop.BackendCalls)
	assert.Zero(t, snap.Cleanup.Attempts)
}

func TestTrackerMetricsBackendPanic(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(&panickingBackend{})

	assert.PanicsWithValue(t, "create exploded", func() {
		_ = tr.Launch(ctx, rawFor("vm-1"))
	})
	assert.Equal(t, StateUnregistered, tr.state("vm-1"))

	// The identifier lock was released by the panic.
	assert.PanicsWithValue(t, "create exploded", func() {
		_ = tr.Launch(ctx, rawFor("vm-1"))
	})

	tr.put("vm-2", entry{state: StateRunning, handle: "h-2"})
	assert.PanicsWithValue(t, "stop exploded", func() {
		_ = tr.Stop(ctx, strPtr("vm-2"))
	})
	assert.Equal(t, StateRunning, tr.state("vm-2"))

	snap := tr.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Launch.Attempts)
	assert.Zero(t, snap.Launch.Successes)
	assert.Equal(t, int64(2), snap.Launch.BackendFailures)
	assert.Equal(t, int64(1), snap.Stop.BackendFailures)
	assert.Zero(t, snap.Stop.Successes)
}
