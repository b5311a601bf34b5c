// Package metrics provides Prometheus metrics for go-hls-playback.
//
// The collector maps aggregated player statistics onto a fixed metric
// set: request counters, throughput, latency percentiles, playback
// health, and completed-session distributions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-hls-playback/internal/stats"
)

// --- Panel 1: Overview ---
var (
	playbackInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_playback_info",
			Help: "Information about the playback harness (value always 1)",
		},
		[]string{"version", "source_url"},
	)

	playbackActivePlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_active_players",
			Help: "Currently running players",
		},
	)

	playbackElapsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_elapsed_seconds",
			Help: "Seconds since the harness started",
		},
	)
)

// --- Panel 2: Requests & Throughput ---
var (
	playbackManifestRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_manifest_requests_total",
			Help: "Total manifest (.m3u8) requests",
		},
	)

	playbackFragmentRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_fragment_requests_total",
			Help: "Total fragment requests",
		},
	)

	playbackBytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_bytes_downloaded_total",
			Help: "Total bytes downloaded",
		},
	)

	playbackFragmentsPerSec = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_fragments_per_second",
			Help: "Current fragment request rate",
		},
	)

	playbackThroughputBytesPerSec = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_throughput_bytes_per_second",
			Help: "Current download throughput",
		},
	)
)

// --- Panel 3: Latency ---
var (
	playbackFragmentLatencyP50 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_fragment_latency_p50_seconds",
			Help: "Fragment fetch latency 50th percentile",
		},
	)

	playbackFragmentLatencyP95 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_fragment_latency_p95_seconds",
			Help: "Fragment fetch latency 95th percentile",
		},
	)

	playbackFragmentLatencyP99 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_fragment_latency_p99_seconds",
			Help: "Fragment fetch latency 99th percentile",
		},
	)

	playbackStartupLatencyP50 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_startup_latency_p50_seconds",
			Help: "Session startup latency 50th percentile",
		},
	)

	playbackStartupLatencyP95 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_playback_startup_latency_p95_seconds",
			Help: "Session startup latency 95th percentile",
		},
	)
)

// --- Panel 4: Playback Health ---
var (
	playbackBufferingEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_buffering_events_total",
			Help: "Total transitions into the buffering state",
		},
	)

	playbackLevelSwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_level_switches_total",
			Help: "Total quality level switches",
		},
	)

	playbackErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_playback_errors_total",
			Help: "Total playback errors",
		},
	)
)

// --- Panel 5: Completed Sessions ---
var (
	playbackSessionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hls_playback_sessions_completed_total",
			Help: "Completed sessions by dispatch reason",
		},
		[]string{"reason"},
	)

	playbackDeliverySourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hls_playback_delivery_source_total",
			Help: "Completed sessions by classified delivery path",
		},
		[]string{"source"},
	)

	playbackDeviceClassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hls_playback_device_class_total",
			Help: "Completed sessions by device class",
		},
		[]string{"device"},
	)
)

// Collector maps aggregated snapshots onto the Prometheus metric set.
type Collector struct {
	sourceURL string
	version   string
	startTime time.Time

	// Internal tracking for delta calculations: Prometheus counters
	// only go up, snapshots carry absolute totals.
	mu                sync.Mutex
	prevManifests     int64
	prevFragments     int64
	prevBytes         int64
	prevBuffering     int64
	prevLevelSwitches int64
	prevErrors        int64
	prevReasons       map[string]int64
	prevSources       map[string]int64
	prevDevices       map[string]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	SourceURL string
	Version   string
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		sourceURL:   cfg.SourceURL,
		version:     cfg.Version,
		startTime:   time.Now(),
		prevReasons: make(map[string]int64),
		prevSources: make(map[string]int64),
		prevDevices: make(map[string]int64),
	}

	registry.MustRegister(
		playbackInfo,
		playbackActivePlayers,
		playbackElapsedSeconds,

		playbackManifestRequestsTotal,
		playbackFragmentRequestsTotal,
		playbackBytesDownloadedTotal,
		playbackFragmentsPerSec,
		playbackThroughputBytesPerSec,

		playbackFragmentLatencyP50,
		playbackFragmentLatencyP95,
		playbackFragmentLatencyP99,
		playbackStartupLatencyP50,
		playbackStartupLatencyP95,

		playbackBufferingEventsTotal,
		playbackLevelSwitchesTotal,
		playbackErrorsTotal,

		playbackSessionsCompletedTotal,
		playbackDeliverySourceTotal,
		playbackDeviceClassTotal,
	)

	playbackInfo.WithLabelValues(cfg.Version, cfg.SourceURL).Set(1)
	return c
}

// Update publishes one aggregated snapshot.
func (c *Collector) Update(agg *stats.AggregatedStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	playbackActivePlayers.Set(float64(agg.TotalPlayers))
	playbackElapsedSeconds.Set(time.Since(c.startTime).Seconds())

	playbackManifestRequestsTotal.Add(counterDelta(&c.prevManifests, agg.TotalManifests))
	playbackFragmentRequestsTotal.Add(counterDelta(&c.prevFragments, agg.TotalFragments))
	playbackBytesDownloadedTotal.Add(counterDelta(&c.prevBytes, agg.TotalBytes))
	playbackBufferingEventsTotal.Add(counterDelta(&c.prevBuffering, agg.BufferingEvents))
	playbackLevelSwitchesTotal.Add(counterDelta(&c.prevLevelSwitches, agg.LevelSwitches))
	playbackErrorsTotal.Add(counterDelta(&c.prevErrors, agg.TotalErrors))

	playbackFragmentsPerSec.Set(agg.FragmentRate)
	playbackThroughputBytesPerSec.Set(agg.ThroughputBytesPerSec)

	playbackFragmentLatencyP50.Set(agg.FragmentLatencyP50.Seconds())
	playbackFragmentLatencyP95.Set(agg.FragmentLatencyP95.Seconds())
	playbackFragmentLatencyP99.Set(agg.FragmentLatencyP99.Seconds())
	playbackStartupLatencyP50.Set(agg.StartupLatencyP50.Seconds())
	playbackStartupLatencyP95.Set(agg.StartupLatencyP95.Seconds())

	updateVec(playbackSessionsCompletedTotal, c.prevReasons, agg.Reasons)
	updateVec(playbackDeliverySourceTotal, c.prevSources, agg.DeliverySources)
	updateVec(playbackDeviceClassTotal, c.prevDevices, agg.DeviceClasses)
}

// counterDelta returns how much a monotonic total grew since the last
// snapshot and advances the tracker. Shrinking totals (aggregator
// reset) contribute zero rather than a negative add.
func counterDelta(prev *int64, current int64) float64 {
	delta := current - *prev
	*prev = current
	if delta < 0 {
		return 0
	}
	return float64(delta)
}

// updateVec applies per-label counter deltas.
func updateVec(vec *prometheus.CounterVec, prev map[string]int64, current map[string]int64) {
	for label, total := range current {
		p := prev[label]
		prev[label] = total
		if delta := total - p; delta > 0 {
			vec.WithLabelValues(label).Add(float64(delta))
		}
	}
}
