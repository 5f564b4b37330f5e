package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/containerd/log"
	"github.com/docker/go-events"
)

// Topics of the events published after committed transitions.
const (
	TopicLaunch  = "/vm/launch"
	TopicStop    = "/vm/stop"
	TopicCleanup = "/vm/cleanup"
)

// Event describes a committed lifecycle transition.
type Event struct {
	Topic     string
	ID        string
	State     State
	Timestamp time.Time
}

// publish writes ev to the configured sink. Sink failures are logged and
// never change the outcome of the operation that produced the event.
func (t *Tracker) publish(ctx context.Context, topic, id string, state State) {
	if t.sink == nil {
		return
	}
	ev := Event{
		Topic:     topic,
		ID:        id,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
	if err := t.sink.Write(ev); err != nil && !errors.Is(err, events.ErrSinkClosed) {
		log.G(ctx).WithError(err).WithField("topic", topic).Warn("failed to publish lifecycle event")
	}
}
