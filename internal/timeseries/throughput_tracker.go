// Package timeseries tracks sliding-window delivery throughput for the
// player fleet. Fragment bytes land on a lock-free counter as segments
// finish downloading; the stats aggregator records a sample on each
// snapshot and reads rates over short windows, so a stalling CDN shows
// up within seconds instead of being smoothed away by the run-long
// average.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxSamples bounds the ring. The aggregator snapshots at most a
	// few times per second, so this comfortably covers the 60s window.
	maxSamples = 240

	window10s = 10 * time.Second
	window30s = 30 * time.Second
	window60s = 60 * time.Second
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a cumulative byte count captured at a point in time.
// Windowed rates come from the delta between two samples.
type sample struct {
	at    time.Time
	total int64
}

// ThroughputTracker accumulates delivered bytes and derives rates over
// sliding windows from periodically recorded samples.
//
// AddBytes is lock-free and safe from every player goroutine; sampling
// and reads take the ring lock.
type ThroughputTracker struct {
	total atomic.Int64

	mu    sync.RWMutex
	ring  []sample
	next  int // overwrite position once the ring is full
	start time.Time
	clock Clock
}

// ThroughputStats is a point-in-time rate snapshot, bytes per second.
type ThroughputStats struct {
	TotalBytes int64

	Avg10s float64
	Avg30s float64
	Avg60s float64

	// AvgOverall is the run-long average since tracking started.
	AvgOverall float64
}

// NewThroughputTracker creates a tracker on the wall clock.
func NewThroughputTracker() *ThroughputTracker {
	return NewThroughputTrackerWithClock(realClock{})
}

// NewThroughputTrackerWithClock creates a tracker with an injected
// clock.
func NewThroughputTrackerWithClock(clock Clock) *ThroughputTracker {
	now := clock.Now()
	t := &ThroughputTracker{
		ring:  make([]sample, 0, maxSamples),
		start: now,
		clock: clock,
	}
	// Seed a zero sample so early windows have an anchor.
	t.ring = append(t.ring, sample{at: now})
	return t
}

// AddBytes credits delivered bytes to the running total. Called per
// completed fragment fetch.
func (t *ThroughputTracker) AddBytes(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// RecordSample captures the current total against the clock. The
// aggregator calls this once per snapshot.
func (t *ThroughputTracker) RecordSample() {
	s := sample{at: t.clock.Now(), total: t.total.Load()}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ring) < maxSamples {
		t.ring = append(t.ring, s)
		return
	}
	t.ring[t.next] = s
	t.next = (t.next + 1) % maxSamples
}

// Stats computes the current windowed and overall rates. Windows with
// less history than their span fall back to the oldest retained
// sample, so early readings are real rates over a shorter span rather
// than zeros.
func (t *ThroughputTracker) Stats() ThroughputStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := ThroughputStats{TotalBytes: current}

	if elapsed := now.Sub(t.start).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(current) / elapsed
	}

	stats.Avg10s = t.windowRate(now, current, window10s)
	stats.Avg30s = t.windowRate(now, current, window30s)
	stats.Avg60s = t.windowRate(now, current, window60s)

	return stats
}

// windowRate derives bytes/sec from the newest sample at or before the
// window start. Walks newest to oldest and stops at the first sample
// outside the window; samples are recorded in time order, so that is
// the tightest anchor. Caller holds mu.
func (t *ThroughputTracker) windowRate(now time.Time, current int64, window time.Duration) float64 {
	n := len(t.ring)
	if n == 0 {
		return 0
	}

	cutoff := now.Add(-window)
	anchor := t.nthNewest(n - 1) // oldest retained
	for k := 0; k < n; k++ {
		if s := t.nthNewest(k); !s.at.After(cutoff) {
			anchor = s
			break
		}
	}

	elapsed := now.Sub(anchor.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-anchor.total) / elapsed
}

// nthNewest returns the sample k steps back from the most recent one.
// Caller holds mu and guarantees k < len(t.ring).
func (t *ThroughputTracker) nthNewest(k int) sample {
	n := len(t.ring)
	if n < maxSamples {
		return t.ring[n-1-k]
	}
	return t.ring[((t.next-1-k)%n+n)%n]
}

// Reset clears the total and the sample history.
func (t *ThroughputTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.ring = t.ring[:0]
	t.ring = append(t.ring, sample{at: now})
	t.next = 0
	t.start = now
}

// SampleCount returns the number of retained samples.
func (t *ThroughputTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ring)
}
