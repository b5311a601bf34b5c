package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/stats"
	"github.com/randomizedcoder/go-hls-playback/internal/supervisor"
)

// RunnerFactory builds the session runner for one player. The returned
// runner is supervised for the lifetime of the run and re-run after
// failed sessions (or all sessions, when looping).
type RunnerFactory func(playerID int, playerStats *stats.PlayerStats) supervisor.SessionRunner

// PlayerManager coordinates multiple player supervisors.
// It handles starting players, tracking their state, and coordinating shutdown.
type PlayerManager struct {
	newRunner  RunnerFactory
	logger     *slog.Logger
	configSeed int64

	// Backoff configuration
	backoffConfig supervisor.BackoffConfig

	// Maximum restarts per player (0 = unlimited)
	maxRestarts int

	// Restart sessions that completed cleanly (looped playback)
	restartOnEnd bool

	// Stats collection
	statsEnabled bool
	sourceURL    string
	aggregator   *stats.Aggregator

	// Per-player stats indexed by player ID
	playerStats   map[int]*stats.PlayerStats
	playerStatsMu sync.RWMutex

	// Supervisors indexed by player ID
	supervisors map[int]*supervisor.Supervisor
	mu          sync.RWMutex

	// WaitGroup for all supervisor goroutines
	wg sync.WaitGroup

	// Callbacks for external metrics/logging
	callbacks ManagerCallbacks

	// Counters
	activeCount    atomic.Int64
	startedCount   atomic.Int64
	restartCount   atomic.Int64
	completedCount atomic.Int64
}

// ManagerCallbacks contains optional callbacks for manager events.
type ManagerCallbacks struct {
	// OnPlayerStateChange is called when any player changes state.
	OnPlayerStateChange func(playerID int, oldState, newState supervisor.State)

	// OnPlayerStart is called when a playback session starts.
	OnPlayerStart func(playerID int)

	// OnPlayerExit is called when a playback session ends.
	OnPlayerExit func(playerID int, err error, uptime time.Duration)

	// OnPlayerRestart is called when a player is about to restart.
	OnPlayerRestart func(playerID int, attempt int, delay time.Duration)
}

// ManagerConfig holds configuration for the PlayerManager.
type ManagerConfig struct {
	NewRunner     RunnerFactory
	Logger        *slog.Logger
	BackoffConfig supervisor.BackoffConfig
	MaxRestarts   int
	RestartOnEnd  bool
	Callbacks     ManagerCallbacks

	// Stats collection
	StatsEnabled bool
	SourceURL    string
	Aggregator   *stats.Aggregator
}

// NewPlayerManager creates a new PlayerManager.
func NewPlayerManager(cfg ManagerConfig) *PlayerManager {
	aggregator := cfg.Aggregator
	if aggregator == nil {
		aggregator = stats.NewAggregator()
	}

	return &PlayerManager{
		newRunner:     cfg.NewRunner,
		logger:        cfg.Logger,
		backoffConfig: cfg.BackoffConfig,
		maxRestarts:   cfg.MaxRestarts,
		restartOnEnd:  cfg.RestartOnEnd,
		statsEnabled:  cfg.StatsEnabled,
		sourceURL:     cfg.SourceURL,
		aggregator:    aggregator,
		callbacks:     cfg.Callbacks,
		supervisors:   make(map[int]*supervisor.Supervisor),
		playerStats:   make(map[int]*stats.PlayerStats),
		configSeed:    time.Now().UnixNano(),
	}
}

// StartPlayer creates and starts a new supervised player.
// The supervisor runs in a goroutine and re-runs sessions until the
// context is cancelled or the restart budget is exhausted.
func (m *PlayerManager) StartPlayer(ctx context.Context, playerID int) {
	// Create backoff calculator for this player
	backoff := supervisor.NewBackoff(playerID, m.configSeed, m.backoffConfig)

	// Create PlayerStats for this player
	var ps *stats.PlayerStats
	if m.statsEnabled {
		ps = stats.NewPlayerStats(playerID, m.sourceURL)

		// Register with aggregator
		m.aggregator.AddPlayer(ps)

		// Store reference for direct access
		m.playerStatsMu.Lock()
		m.playerStats[playerID] = ps
		m.playerStatsMu.Unlock()
	}

	// Create supervisor with callbacks
	sup := supervisor.New(supervisor.Config{
		PlayerID:     playerID,
		Runner:       m.newRunner(playerID, ps),
		Backoff:      backoff,
		Logger:       m.logger,
		MaxRestarts:  m.maxRestarts,
		RestartOnEnd: m.restartOnEnd,
		Callbacks: supervisor.Callbacks{
			OnStateChange: m.handleStateChange,
			OnStart:       m.handleStart,
			OnExit:        m.handleExit,
			OnRestart:     m.handleRestart,
		},
	})

	// Register supervisor
	m.mu.Lock()
	m.supervisors[playerID] = sup
	m.mu.Unlock()

	// Track started count
	m.startedCount.Add(1)

	// Start supervisor in goroutine
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := sup.Run(ctx); err != nil {
			// Context cancelled or max restarts reached
			m.logger.Debug("supervisor_ended",
				"player_id", playerID,
				"error", err,
			)
		}
	}()
}

// handleStateChange processes state changes from supervisors.
func (m *PlayerManager) handleStateChange(playerID int, oldState, newState supervisor.State) {
	// Update active count
	wasActive := oldState == supervisor.StateRunning
	isActive := newState == supervisor.StateRunning

	if !wasActive && isActive {
		m.activeCount.Add(1)
	} else if wasActive && !isActive {
		m.activeCount.Add(-1)
	}

	// Forward to external callback
	if m.callbacks.OnPlayerStateChange != nil {
		m.callbacks.OnPlayerStateChange(playerID, oldState, newState)
	}
}

// handleStart processes session start events.
func (m *PlayerManager) handleStart(playerID int) {
	if m.callbacks.OnPlayerStart != nil {
		m.callbacks.OnPlayerStart(playerID)
	}
}

// handleExit processes session end events.
func (m *PlayerManager) handleExit(playerID int, err error, uptime time.Duration) {
	if err == nil {
		m.completedCount.Add(1)
	}

	if m.callbacks.OnPlayerExit != nil {
		m.callbacks.OnPlayerExit(playerID, err, uptime)
	}
}

// handleRestart processes restart events.
func (m *PlayerManager) handleRestart(playerID int, attempt int, delay time.Duration) {
	m.restartCount.Add(1)

	if m.callbacks.OnPlayerRestart != nil {
		m.callbacks.OnPlayerRestart(playerID, attempt, delay)
	}
}

// Wait blocks until every supervisor goroutine has returned.
func (m *PlayerManager) Wait() {
	m.wg.Wait()
}

// Shutdown gracefully stops all players.
// It waits for all supervisors to stop, with a timeout.
func (m *PlayerManager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutdown_initiated", "active_players", m.ActiveCount())

	// Wait for all supervisors to finish
	// They should stop because the context passed to StartPlayer is cancelled
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all_players_stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown_timeout")
		return ctx.Err()
	}
}

// ActiveCount returns the number of currently running players.
func (m *PlayerManager) ActiveCount() int {
	return int(m.activeCount.Load())
}

// StartedCount returns the total number of players that have been started.
func (m *PlayerManager) StartedCount() int {
	return int(m.startedCount.Load())
}

// RestartCount returns the total number of restart events.
func (m *PlayerManager) RestartCount() int {
	return int(m.restartCount.Load())
}

// CompletedCount returns the number of sessions that ended cleanly.
func (m *PlayerManager) CompletedCount() int {
	return int(m.completedCount.Load())
}

// PlayerCount returns the number of registered supervisors.
func (m *PlayerManager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.supervisors)
}

// GetSupervisor returns the supervisor for a specific player ID.
func (m *PlayerManager) GetSupervisor(playerID int) *supervisor.Supervisor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supervisors[playerID]
}

// States returns a map of player IDs to their current states.
func (m *PlayerManager) States() map[int]supervisor.State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int]supervisor.State, len(m.supervisors))
	for id, sup := range m.supervisors {
		states[id] = sup.State()
	}
	return states
}

// GetPlayerStats returns the PlayerStats for a specific player.
// Returns nil if stats are not enabled or the player doesn't exist.
func (m *PlayerManager) GetPlayerStats(playerID int) *stats.PlayerStats {
	m.playerStatsMu.RLock()
	defer m.playerStatsMu.RUnlock()
	return m.playerStats[playerID]
}

// GetAggregatedStats returns aggregated statistics across all players.
func (m *PlayerManager) GetAggregatedStats() *stats.AggregatedStats {
	return m.aggregator.Aggregate()
}

// GetAggregator returns the stats aggregator for direct access.
func (m *PlayerManager) GetAggregator() *stats.Aggregator {
	return m.aggregator
}
