package lifecycle

import (
	"sync/atomic"
	"time"
)

// OpMetrics tracks the outcomes of one lifecycle operation.
// All fields are safe for concurrent access.
type OpMetrics struct {
	Attempts        atomic.Int64
	Successes       atomic.Int64
	Rejections      atomic.Int64 // refused before reaching the backend
	BackendFailures atomic.Int64

	// Time spent inside the backend (nanoseconds)
	TotalBackendTimeNs atomic.Int64
	BackendCalls       atomic.Int64
}

// Metrics tracks launch, stop and cleanup statistics for a Tracker.
type Metrics struct {
	Launch  OpMetrics
	Stop    OpMetrics
	Cleanup OpMetrics
}

func (m *OpMetrics) record(status Status) {
	m.Attempts.Add(1)
	switch status {
	case StatusOK:
		m.Successes.Add(1)
	case StatusBackendFailure:
		m.BackendFailures.Add(1)
	default:
		m.Rejections.Add(1)
	}
}

// observe records the outcome held in *err when deferred by an operation.
// A panic is counted as a backend failure and re-raised.
func (m *OpMetrics) observe(err *error) {
	if r := recover(); r != nil {
		m.record(StatusBackendFailure)
		panic(r)
	}
	m.record(StatusOf(*err))
}

func (m *OpMetrics) recordBackend(d time.Duration) {
	m.BackendCalls.Add(1)
	m.TotalBackendTimeNs.Add(int64(d))
}

// OpSnapshot is a point-in-time copy of OpMetrics.
type OpSnapshot struct {
	Attempts         int64
	Successes        int64
	Rejections       int64
	BackendFailures  int64
	BackendCalls     int64
	AvgBackendTimeMs float64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Launch  OpSnapshot
	Stop    OpSnapshot
	Cleanup OpSnapshot
}

func (m *OpMetrics) snapshot() OpSnapshot {
	calls := m.BackendCalls.Load()
	snap := OpSnapshot{
		Attempts:        m.Attempts.Load(),
		Successes:       m.Successes.Load(),
		Rejections:      m.Rejections.Load(),
		BackendFailures: m.BackendFailures.Load(),
		BackendCalls:    calls,
	}
	if calls > 0 {
		snap.AvgBackendTimeMs = float64(m.TotalBackendTimeNs.Load()) / float64(calls) / 1e6
	}
	return snap
}

// Snapshot returns a point-in-time copy of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Launch:  m.Launch.snapshot(),
		Stop:    m.Stop.snapshot(),
		Cleanup: m.Cleanup.snapshot(),
	}
}
