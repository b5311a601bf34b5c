// This file implements Aggregator which combines metrics across all
// players and folds in completed session payloads:
// - Fragment counts, bytes, and throughput
// - Fragment fetch latency percentiles (T-Digest merged)
// - Startup and first-frame latency percentiles from finished sessions
// - Delivery source and device class distributions
// - Error rates
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
	"github.com/randomizedcoder/go-hls-playback/internal/timeseries"
)

// AggregatedStats holds metrics across all players.
//
// This is a snapshot - values are computed at the time of Aggregate()
// call.
type AggregatedStats struct {
	// Timestamp when this snapshot was taken
	Timestamp time.Time

	// Player counts
	TotalPlayers    int
	BufferingEvents int64
	LevelSwitches   int64

	// Request totals
	TotalFragments int64
	TotalManifests int64
	TotalBytes     int64

	// Rates (per second). FragmentRate is the overall average since
	// start; ThroughputBytesPerSec prefers a 30s sliding window and
	// falls back to the overall average early in the run.
	FragmentRate          float64
	ThroughputBytesPerSec float64

	// Errors
	TotalErrors int64
	ErrorRate   float64 // errors / total requests

	// Fragment fetch latency across live players
	FragmentLatencyP50 time.Duration
	FragmentLatencyP95 time.Duration
	FragmentLatencyP99 time.Duration

	// Completed sessions
	SessionsCompleted int
	StartupLatencyP50 time.Duration
	StartupLatencyP95 time.Duration
	StartupLatencyP99 time.Duration

	// Distribution of completed sessions by delivery source and
	// device class (keys are the wire names)
	DeliverySources map[string]int64
	DeviceClasses   map[string]int64
	Reasons         map[string]int64

	// Per-player summaries (optional, for the detailed TUI view)
	PerPlayerSummaries []Summary
}

// Aggregator aggregates stats from multiple players and completed
// telemetry payloads.
//
// Thread-safe: all methods can be called concurrently.
type Aggregator struct {
	mu        sync.RWMutex
	players   map[int]*PlayerStats
	startTime time.Time

	// Fragment fetch latency across all players. Per-player digests
	// cannot be merged after the fact, so fragments are recorded here
	// as well as on the player.
	fragmentDigest  *tdigest.TDigest
	fragmentSamples int64

	// Sliding-window throughput. Bytes are added on every fragment
	// and a sample is taken on each Aggregate() call.
	throughput *timeseries.ThroughputTracker

	// Completed session accumulators
	sessionsCompleted int
	startupDigest     *tdigest.TDigest
	deliverySources   map[string]int64
	deviceClasses     map[string]int64
	reasons           map[string]int64
}

// NewAggregator creates a new aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		players:         make(map[int]*PlayerStats),
		startTime:       time.Now(),
		fragmentDigest:  tdigest.NewWithCompression(100),
		throughput:      timeseries.NewThroughputTracker(),
		startupDigest:   tdigest.NewWithCompression(100),
		deliverySources: make(map[string]int64),
		deviceClasses:   make(map[string]int64),
		reasons:         make(map[string]int64),
	}
}

// RecordFragment counts one fragment download against both the player
// and the aggregate latency distribution.
func (a *Aggregator) RecordFragment(playerID int, bytes int64, fetchTime time.Duration) {
	a.mu.Lock()
	p := a.players[playerID]
	if fetchTime > 0 {
		a.fragmentDigest.Add(float64(fetchTime.Nanoseconds()), 1)
		a.fragmentSamples++
	}
	a.mu.Unlock()

	a.throughput.AddBytes(bytes)
	if p != nil {
		p.RecordFragment(bytes, fetchTime)
	}
}

// AddPlayer registers a player for aggregation.
func (a *Aggregator) AddPlayer(p *PlayerStats) {
	a.mu.Lock()
	a.players[p.PlayerID] = p
	a.mu.Unlock()
}

// RemovePlayer unregisters a player. Its contribution to completed
// session statistics is retained.
func (a *Aggregator) RemovePlayer(playerID int) {
	a.mu.Lock()
	delete(a.players, playerID)
	a.mu.Unlock()
}

// GetPlayer returns the PlayerStats for a specific player.
func (a *Aggregator) GetPlayer(playerID int) *PlayerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.players[playerID]
}

// PlayerCount returns the number of registered players.
func (a *Aggregator) PlayerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.players)
}

// RecordPayload folds one completed session payload into the
// aggregate distributions.
func (a *Aggregator) RecordPayload(p telemetry.Payload) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessionsCompleted++
	if p.StartupLatency > 0 {
		a.startupDigest.Add(float64(p.StartupLatency), 1)
	}
	if p.DeliverySource != "" {
		a.deliverySources[p.DeliverySource]++
	}
	if p.DeviceClass != "" {
		a.deviceClasses[p.DeviceClass]++
	}
	if p.Reason != "" {
		a.reasons[p.Reason]++
	}
}

// Aggregate computes aggregated statistics across all players.
//
// This creates a snapshot of current metrics. The returned struct is
// safe to use after the call returns.
func (a *Aggregator) Aggregate() *AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now()
	elapsed := now.Sub(a.startTime).Seconds()

	result := &AggregatedStats{
		Timestamp:       now,
		TotalPlayers:    len(a.players),
		DeliverySources: make(map[string]int64, len(a.deliverySources)),
		DeviceClasses:   make(map[string]int64, len(a.deviceClasses)),
		Reasons:         make(map[string]int64, len(a.reasons)),
	}

	// Sum live player counters.
	for _, p := range a.players {
		summary := p.GetSummary()
		result.TotalFragments += summary.Fragments
		result.TotalManifests += summary.Manifests
		result.TotalBytes += summary.Bytes
		result.BufferingEvents += summary.BufferingEvents
		result.LevelSwitches += summary.LevelSwitches
		result.TotalErrors += summary.Errors
		result.PerPlayerSummaries = append(result.PerPlayerSummaries, summary)
	}

	if a.fragmentSamples > 0 {
		result.FragmentLatencyP50 = time.Duration(a.fragmentDigest.Quantile(0.50))
		result.FragmentLatencyP95 = time.Duration(a.fragmentDigest.Quantile(0.95))
		result.FragmentLatencyP99 = time.Duration(a.fragmentDigest.Quantile(0.99))
	}

	if elapsed > 0 {
		result.FragmentRate = float64(result.TotalFragments) / elapsed
	}
	a.throughput.RecordSample()
	if tp := a.throughput.Stats(); tp.Avg30s > 0 {
		result.ThroughputBytesPerSec = tp.Avg30s
	} else if elapsed > 0 {
		result.ThroughputBytesPerSec = float64(result.TotalBytes) / elapsed
	}

	totalReqs := result.TotalFragments + result.TotalManifests
	if totalReqs > 0 {
		result.ErrorRate = float64(result.TotalErrors) / float64(totalReqs)
	}

	// Completed sessions.
	result.SessionsCompleted = a.sessionsCompleted
	if a.sessionsCompleted > 0 {
		result.StartupLatencyP50 = time.Duration(a.startupDigest.Quantile(0.50)) * time.Millisecond
		result.StartupLatencyP95 = time.Duration(a.startupDigest.Quantile(0.95)) * time.Millisecond
		result.StartupLatencyP99 = time.Duration(a.startupDigest.Quantile(0.99)) * time.Millisecond
	}
	for k, v := range a.deliverySources {
		result.DeliverySources[k] = v
	}
	for k, v := range a.deviceClasses {
		result.DeviceClasses[k] = v
	}
	for k, v := range a.reasons {
		result.Reasons[k] = v
	}

	return result
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time {
	return a.startTime
}

// Elapsed returns the duration since the aggregator was created.
func (a *Aggregator) Elapsed() time.Duration {
	return time.Since(a.startTime)
}

// Reset clears all players and completed session state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.players = make(map[int]*PlayerStats)
	a.startTime = time.Now()
	a.fragmentDigest = tdigest.NewWithCompression(100)
	a.fragmentSamples = 0
	a.throughput.Reset()
	a.sessionsCompleted = 0
	a.startupDigest = tdigest.NewWithCompression(100)
	a.deliverySources = make(map[string]int64)
	a.deviceClasses = make(map[string]int64)
	a.reasons = make(map[string]int64)
}

// ForEachPlayer calls the provided function for each player. The
// function is called while holding the read lock.
func (a *Aggregator) ForEachPlayer(fn func(playerID int, p *PlayerStats)) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for id, p := range a.players {
		fn(id, p)
	}
}

// GetAllSummaries returns summaries for all players.
func (a *Aggregator) GetAllSummaries() []Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	summaries := make([]Summary, 0, len(a.players))
	for _, p := range a.players {
		summaries = append(summaries, p.GetSummary())
	}
	return summaries
}
