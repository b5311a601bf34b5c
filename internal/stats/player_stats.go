// Package stats provides per-player and aggregated statistics for HLS
// playback sessions.
//
// This file implements PlayerStats, the live counters for one running
// player:
// - Fragment counts and bytes downloaded
// - Fragment fetch latency (T-Digest percentiles)
// - Buffering transitions and level switches
// - Error counts
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

// PlayerStats holds live metrics for one player.
//
// Thread-safe: counter fields use atomics, the latency digest is
// guarded by its own mutex.
type PlayerStats struct {
	PlayerID  int
	SourceURL string

	startTime time.Time

	// Request counters
	FragmentCount atomic.Int64
	ManifestCount atomic.Int64
	BytesTotal    atomic.Int64

	// Playback health
	BufferingEvents atomic.Int64
	LevelSwitches   atomic.Int64
	Errors          atomic.Int64

	// Fragment fetch latency percentiles
	latencyDigest   *tdigest.TDigest
	latencyDigestMu sync.Mutex // TDigest is not thread-safe
	latencySum      atomic.Int64
	latencyMax      atomic.Int64

	// Last runtime bandwidth estimate, bits per second
	bandwidthBps atomic.Int64

	// Currently displayed level index, -1 before the first switch
	currentLevel atomic.Int64
}

// NewPlayerStats creates stats for one player.
func NewPlayerStats(playerID int, sourceURL string) *PlayerStats {
	p := &PlayerStats{
		PlayerID:      playerID,
		SourceURL:     sourceURL,
		startTime:     time.Now(),
		latencyDigest: tdigest.NewWithCompression(100),
	}
	p.currentLevel.Store(-1)
	return p
}

// RecordFragment counts one fragment download.
func (p *PlayerStats) RecordFragment(bytes int64, fetchTime time.Duration) {
	p.FragmentCount.Add(1)
	p.BytesTotal.Add(bytes)

	ns := fetchTime.Nanoseconds()
	if ns <= 0 {
		return
	}
	p.latencySum.Add(ns)
	for {
		old := p.latencyMax.Load()
		if ns <= old || p.latencyMax.CompareAndSwap(old, ns) {
			break
		}
	}

	p.latencyDigestMu.Lock()
	p.latencyDigest.Add(float64(ns), 1)
	p.latencyDigestMu.Unlock()
}

// RecordManifest counts one manifest fetch.
func (p *PlayerStats) RecordManifest() {
	p.ManifestCount.Add(1)
}

// RecordBuffering counts one transition into the buffering state.
func (p *PlayerStats) RecordBuffering() {
	p.BufferingEvents.Add(1)
}

// RecordLevelSwitch notes the new level feeding the buffer.
func (p *PlayerStats) RecordLevelSwitch(level int) {
	p.LevelSwitches.Add(1)
	p.currentLevel.Store(int64(level))
}

// RecordError counts one playback error.
func (p *PlayerStats) RecordError() {
	p.Errors.Add(1)
}

// SetBandwidth stores the latest bandwidth estimate.
func (p *PlayerStats) SetBandwidth(bps int64) {
	p.bandwidthBps.Store(bps)
}

// Bandwidth returns the latest bandwidth estimate.
func (p *PlayerStats) Bandwidth() int64 {
	return p.bandwidthBps.Load()
}

// CurrentLevel returns the displayed level index, -1 before the first
// switch.
func (p *PlayerStats) CurrentLevel() int {
	return int(p.currentLevel.Load())
}

// Uptime returns how long this player has been running.
func (p *PlayerStats) Uptime() time.Duration {
	return time.Since(p.startTime)
}

// LatencyQuantile returns the fragment fetch latency at quantile q, or
// zero before any sample.
func (p *PlayerStats) LatencyQuantile(q float64) time.Duration {
	p.latencyDigestMu.Lock()
	defer p.latencyDigestMu.Unlock()
	if p.FragmentCount.Load() == 0 {
		return 0
	}
	return time.Duration(p.latencyDigest.Quantile(q))
}

// Summary is a point-in-time snapshot of one player.
type Summary struct {
	PlayerID  int
	SourceURL string
	Uptime    time.Duration

	Fragments int64
	Manifests int64
	Bytes     int64

	BufferingEvents int64
	LevelSwitches   int64
	Errors          int64
	CurrentLevel    int
	BandwidthBps    int64

	LatencyAvg time.Duration
	LatencyMax time.Duration
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
}

// GetSummary snapshots the player.
func (p *PlayerStats) GetSummary() Summary {
	s := Summary{
		PlayerID:        p.PlayerID,
		SourceURL:       p.SourceURL,
		Uptime:          p.Uptime(),
		Fragments:       p.FragmentCount.Load(),
		Manifests:       p.ManifestCount.Load(),
		Bytes:           p.BytesTotal.Load(),
		BufferingEvents: p.BufferingEvents.Load(),
		LevelSwitches:   p.LevelSwitches.Load(),
		Errors:          p.Errors.Load(),
		CurrentLevel:    p.CurrentLevel(),
		BandwidthBps:    p.bandwidthBps.Load(),
		LatencyMax:      time.Duration(p.latencyMax.Load()),
	}
	if s.Fragments > 0 {
		s.LatencyAvg = time.Duration(p.latencySum.Load() / s.Fragments)
		s.LatencyP50 = p.LatencyQuantile(0.50)
		s.LatencyP95 = p.LatencyQuantile(0.95)
		s.LatencyP99 = p.LatencyQuantile(0.99)
	}
	return s
}
