package swarm

import "sync/atomic"

// Metrics tracks a worker's event traffic. Fields are atomics so other
// goroutines (tests, monitoring) can read them while the worker runs;
// the worker itself is the only writer.
type Metrics struct {
	EventsSent      atomic.Uint64 // events enqueued into a peer inbox
	EventsSentTry   atomic.Uint64 // enqueue attempts, including retries on a full ring
	BucketsSent     atomic.Uint64 // cache lines enqueued
	EventsReceived  atomic.Uint64 // events routed
	BucketsReceived atomic.Uint64 // cache lines routed
	IdleParks       atomic.Uint64 // times the worker parked on its inbox
}

// MetricsSnapshot is a point-in-time copy of a worker's counters.
type MetricsSnapshot struct {
	EventsSent      uint64
	EventsSentTry   uint64
	BucketsSent     uint64
	EventsReceived  uint64
	BucketsReceived uint64
	IdleParks       uint64
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsSent:      m.EventsSent.Load(),
		EventsSentTry:   m.EventsSentTry.Load(),
		BucketsSent:     m.BucketsSent.Load(),
		EventsReceived:  m.EventsReceived.Load(),
		BucketsReceived: m.BucketsReceived.Load(),
		IdleParks:       m.IdleParks.Load(),
	}
}
