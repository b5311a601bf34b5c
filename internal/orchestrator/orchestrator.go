package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/config"
	"github.com/randomizedcoder/go-hls-playback/internal/metrics"
	"github.com/randomizedcoder/go-hls-playback/internal/player"
	"github.com/randomizedcoder/go-hls-playback/internal/preflight"
	"github.com/randomizedcoder/go-hls-playback/internal/stats"
	"github.com/randomizedcoder/go-hls-playback/internal/supervisor"
	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
)

// metricsPublishInterval is how often aggregated stats are pushed to
// the Prometheus collector.
const metricsPublishInterval = 2 * time.Second

// Orchestrator coordinates all components of a playback run: the
// player fleet, ramp-up, stats aggregation, telemetry, and metrics.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	client        *http.Client
	submitter     telemetry.Submitter
	aggregator    *stats.Aggregator
	playerManager *PlayerManager
	rampScheduler *RampScheduler
	collector     *metrics.Collector
	metricsServer *metrics.Server

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, version string) *Orchestrator {
	// One shared HTTP client: players reuse its connection pool.
	client := &http.Client{Timeout: cfg.Timeout}

	aggregator := stats.NewAggregator()

	// Session payloads always land in the local aggregator; the remote
	// collector only sees them when an endpoint is configured.
	var remote telemetry.Submitter
	if cfg.TelemetryURL != "" {
		remote = telemetry.NewHTTPSubmitter(cfg.TelemetryURL, cfg.TelemetryToken, client, logger)
	}
	submitter := &teeSubmitter{aggregator: aggregator, next: remote}

	rampScheduler := NewRampScheduler(cfg.RampRate, cfg.RampJitter)

	collector := metrics.NewCollector(metrics.CollectorConfig{
		SourceURL: cfg.StreamURL,
		Version:   version,
	})
	metricsServer := metrics.NewServer(cfg.MetricsAddr, logger)

	orch := &Orchestrator{
		config:        cfg,
		logger:        logger,
		version:       version,
		client:        client,
		submitter:     submitter,
		aggregator:    aggregator,
		rampScheduler: rampScheduler,
		collector:     collector,
		metricsServer: metricsServer,
	}

	// Create player manager with callbacks
	managerCfg := ManagerConfig{
		NewRunner: orch.newRunner,
		Logger:    logger,
		BackoffConfig: supervisor.BackoffConfig{
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
			Multiplier: cfg.BackoffMultiply,
			JitterPct:  0.4,
		},
		MaxRestarts:  cfg.MaxRestarts,
		RestartOnEnd: cfg.Loop,
		Callbacks: ManagerCallbacks{
			OnPlayerStateChange: orch.onStateChange,
			OnPlayerExit:        orch.onExit,
			OnPlayerRestart:     orch.onRestart,
		},
		StatsEnabled: true,
		SourceURL:    cfg.StreamURL,
		Aggregator:   aggregator,
	}
	orch.playerManager = NewPlayerManager(managerCfg)

	return orch
}

// newRunner builds the session runner for one player.
func (o *Orchestrator) newRunner(playerID int, ps *stats.PlayerStats) supervisor.SessionRunner {
	return player.New(playerID, player.Config{
		StreamURL:   o.config.StreamURL,
		ContentID:   o.config.ContentID,
		UserAgent:   o.config.UserAgent,
		Quality:     o.config.Quality,
		BufferAhead: o.config.BufferAhead,
		Timeout:     o.config.Timeout,
		ClockRate:   o.config.ClockRate,
		Client:      o.client,
		Submitter:   o.submitter,
		Stats:       ps,
		Aggregator:  o.aggregator,
		Logger:      o.logger,
	})
}

// Run executes the playback run. It blocks until the stream ends on
// every player, the configured duration elapses, or a signal arrives.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(ctx, o.config.Players, o.config.StreamURL, o.client)
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	// Start metrics server
	if err := o.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Setup signal handling. Cancelling with ErrShutdown makes the
	// players dispatch their sessions as an unload rather than an
	// unmount.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	// Start ramp-up
	o.logger.Info("ramp_starting",
		"players", o.config.Players,
		"rate", o.config.RampRate,
		"estimated_duration", o.rampScheduler.EstimatedRampDuration(o.config.Players).String(),
	)

	rampDone := make(chan struct{})
	go func() {
		defer close(rampDone)
		o.rampUp(ctx)
	}()

	// Publish aggregated stats to Prometheus on a fixed cadence
	publishDone := make(chan struct{})
	go func() {
		defer close(publishDone)
		o.publishMetrics(ctx)
	}()

	// Setup duration timer if configured
	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		durationTimer = time.After(o.config.Duration)
	}

	// Without looping, the run is over once every player's stream has
	// ended and its supervisor returned.
	var allComplete chan struct{}
	if !o.config.Loop {
		allComplete = make(chan struct{})
		go func() {
			<-rampDone
			o.playerManager.Wait()
			close(allComplete)
		}()
	}

	// Wait for completion signal
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-allComplete:
		o.logger.Info("all_sessions_completed", "players", o.config.Players)
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	// Cancel context to stop all players
	cancel(player.ErrShutdown)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := o.playerManager.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}

	if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}

	// Final snapshot so the scrape endpoint and summary agree
	o.collector.Update(o.aggregator.Aggregate())

	// Print exit summary
	o.printExitSummary()

	return nil
}

// rampUp starts players at the configured rate.
func (o *Orchestrator) rampUp(ctx context.Context) {
	for i := 0; i < o.config.Players; i++ {
		// Check for cancellation
		select {
		case <-ctx.Done():
			o.logger.Info("ramp_cancelled", "started", i, "target", o.config.Players)
			return
		default:
		}

		// Wait according to ramp schedule
		if i > 0 { // Don't wait for first player
			if err := o.rampScheduler.Schedule(ctx, i); err != nil {
				return
			}
		}

		// Start player
		o.playerManager.StartPlayer(ctx, i)

		// Log progress periodically
		if (i+1)%10 == 0 || i == o.config.Players-1 {
			o.logger.Info("ramp_progress",
				"started", i+1,
				"target", o.config.Players,
				"active", o.playerManager.ActiveCount(),
			)
		}
	}

	o.logger.Info("ramp_complete",
		"players", o.config.Players,
		"active", o.playerManager.ActiveCount(),
	)
}

// publishMetrics pushes aggregated snapshots to the collector until
// the context is cancelled.
func (o *Orchestrator) publishMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.collector.Update(o.aggregator.Aggregate())
		}
	}
}

// Callback handlers

func (o *Orchestrator) onStateChange(playerID int, oldState, newState supervisor.State) {
	if o.config.Verbose {
		o.logger.Debug("player_state_changed",
			"player_id", playerID,
			"old", oldState.String(),
			"new", newState.String(),
		)
	}
}

func (o *Orchestrator) onExit(playerID int, err error, uptime time.Duration) {
	if o.config.Verbose {
		o.logger.Debug("player_session_exit",
			"player_id", playerID,
			"error", err,
			"uptime", uptime.String(),
		)
	}
}

func (o *Orchestrator) onRestart(playerID int, attempt int, delay time.Duration) {
	if o.config.Verbose {
		o.logger.Debug("player_restart_scheduled",
			"player_id", playerID,
			"attempt", attempt,
			"delay", delay.String(),
		)
	}
}

// printExitSummary prints a summary of the playback run.
func (o *Orchestrator) printExitSummary() {
	agg := o.aggregator.Aggregate()

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Println("                       go-hls-playback Exit Summary")
	fmt.Println("═══════════════════════════════════════════════════════════════════")
	fmt.Printf("Run Duration:           %s\n", formatDuration(time.Since(o.startTime)))
	fmt.Printf("Target Players:         %d\n", o.config.Players)
	fmt.Printf("Players Started:        %d\n", o.playerManager.StartedCount())
	fmt.Printf("Sessions Completed:     %d\n", o.playerManager.CompletedCount())
	fmt.Printf("Restarts:               %d\n", o.playerManager.RestartCount())
	fmt.Println()

	fmt.Println("Transfer:")
	fmt.Printf("  Fragments:            %d\n", agg.TotalFragments)
	fmt.Printf("  Manifests:            %d\n", agg.TotalManifests)
	fmt.Printf("  Bytes:                %s\n", formatBytes(agg.TotalBytes))
	fmt.Println()

	if agg.FragmentLatencyP50 > 0 || agg.StartupLatencyP50 > 0 {
		fmt.Println("Latency:")
		fmt.Printf("  Fragment P50:         %s\n", agg.FragmentLatencyP50.Round(time.Millisecond))
		fmt.Printf("  Fragment P95:         %s\n", agg.FragmentLatencyP95.Round(time.Millisecond))
		fmt.Printf("  Fragment P99:         %s\n", agg.FragmentLatencyP99.Round(time.Millisecond))
		fmt.Printf("  Startup P50:          %s\n", agg.StartupLatencyP50.Round(time.Millisecond))
		fmt.Printf("  Startup P95:          %s\n", agg.StartupLatencyP95.Round(time.Millisecond))
		fmt.Println()
	}

	fmt.Println("Playback Health:")
	fmt.Printf("  Buffering Events:     %d\n", agg.BufferingEvents)
	fmt.Printf("  Level Switches:       %d\n", agg.LevelSwitches)
	fmt.Printf("  Errors:               %d\n", agg.TotalErrors)
	fmt.Println()

	if len(agg.Reasons) > 0 {
		fmt.Println("Session End Reasons:")
		reasons := make([]string, 0, len(agg.Reasons))
		for reason := range agg.Reasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("  %-20s  %d\n", reason, agg.Reasons[reason])
		}
		fmt.Println()
	}

	fmt.Printf("Metrics endpoint was: http://%s/metrics\n", o.config.MetricsAddr)
	fmt.Println("═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatBytes renders a byte count with a binary-ish unit.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// teeSubmitter records every payload in the local aggregator and
// forwards it to the remote collector when one is configured.
type teeSubmitter struct {
	aggregator *stats.Aggregator
	next       telemetry.Submitter
}

func (t *teeSubmitter) Submit(ctx context.Context, p telemetry.Payload) error {
	t.aggregator.RecordPayload(p)
	if t.next != nil {
		return t.next.Submit(ctx, p)
	}
	return nil
}

func (t *teeSubmitter) SubmitBeacon(p telemetry.Payload) {
	t.aggregator.RecordPayload(p)
	if t.next != nil {
		t.next.SubmitBeacon(p)
	}
}

// PlayerManager returns the player manager for external access.
func (o *Orchestrator) PlayerManager() *PlayerManager {
	return o.playerManager
}

// Aggregator returns the stats aggregator for external access (TUI).
func (o *Orchestrator) Aggregator() *stats.Aggregator {
	return o.aggregator
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.collector
}
