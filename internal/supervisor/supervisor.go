package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SessionRunner runs one playback session for a player. RunSession
// blocks until the session ends: a clean VOD completion returns nil,
// a fatal playback failure returns the error, and context cancellation
// returns the context error.
type SessionRunner interface {
	RunSession(ctx context.Context, playerID int) error

	// Name returns a human-readable name for this session type.
	Name() string
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the player state changes.
	OnStateChange func(playerID int, oldState, newState State)

	// OnStart is called when a playback session starts.
	OnStart func(playerID int)

	// OnExit is called when a playback session ends. err is nil for a
	// clean completion.
	OnExit func(playerID int, err error, uptime time.Duration)

	// OnRestart is called before a restart attempt.
	OnRestart func(playerID int, attempt int, delay time.Duration)
}

// Supervisor manages the lifecycle of a single player's sessions.
// It runs sessions back to back, restarting after each exit with
// exponential backoff.
type Supervisor struct {
	playerID  int
	runner    SessionRunner
	backoff   *Backoff
	logger    *slog.Logger
	callbacks Callbacks

	// State management
	state     State
	stateMu   sync.RWMutex
	startTime time.Time

	// Configuration
	maxRestarts  int // 0 = unlimited
	restartOnEnd bool
	restarts     int
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	PlayerID    int
	Runner      SessionRunner
	Backoff     *Backoff
	Logger      *slog.Logger
	Callbacks   Callbacks
	MaxRestarts int // 0 = unlimited

	// RestartOnEnd restarts the session after a clean completion as
	// well as after failures. When false, a clean end stops the
	// supervisor.
	RestartOnEnd bool
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		playerID:     cfg.PlayerID,
		runner:       cfg.Runner,
		backoff:      cfg.Backoff,
		logger:       cfg.Logger,
		callbacks:    cfg.Callbacks,
		state:        StateCreated,
		maxRestarts:  cfg.MaxRestarts,
		restartOnEnd: cfg.RestartOnEnd,
	}
}

// Run starts the supervision loop. It blocks until the context is
// cancelled, MaxRestarts is reached (if configured), or a session
// completes cleanly without RestartOnEnd set. Failed sessions are
// restarted after a backoff delay.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Debug("supervisor_starting", "player_id", s.playerID)

	for {
		// Check if we should stop
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.logger.Debug("supervisor_stopped", "player_id", s.playerID, "reason", "context_cancelled")
			return ctx.Err()
		default:
		}

		// Check max restarts
		if s.maxRestarts > 0 && s.restarts >= s.maxRestarts {
			s.setState(StateStopped)
			s.logger.Warn("max_restarts_reached",
				"player_id", s.playerID,
				"restarts", s.restarts,
				"max", s.maxRestarts,
			)
			return errors.New("max restarts reached")
		}

		// Run one session
		sessionErr, uptime := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return ctx.Err()
		}

		// A clean completion stops the supervisor unless restarts
		// after clean ends are requested (looped playback).
		if sessionErr == nil && !s.restartOnEnd {
			s.setState(StateCompleted)
			s.logger.Debug("supervisor_completed", "player_id", s.playerID)
			return nil
		}

		// Session ended, determine if we should reset backoff
		if ShouldReset(uptime, sessionErr) {
			s.backoff.Reset()
		}

		// Calculate backoff delay
		delay := s.backoff.Next()
		s.restarts++

		// Notify callback
		if s.callbacks.OnRestart != nil {
			s.callbacks.OnRestart(s.playerID, s.restarts, delay)
		}

		s.logger.Info("player_restart_scheduled",
			"player_id", s.playerID,
			"attempt", s.restarts,
			"delay", delay.String(),
		)

		// Wait with backoff
		s.setState(StateBackoff)
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return ctx.Err()
		case <-time.After(delay):
			// Continue to restart
		}
	}
}

// runOnce runs a single session and waits for it to end.
// Returns the session error (nil for clean completion) and uptime.
func (s *Supervisor) runOnce(ctx context.Context) (err error, uptime time.Duration) {
	s.setState(StateStarting)

	s.startTime = time.Now()
	s.setState(StateRunning)

	s.logger.Info("player_session_started",
		"player_id", s.playerID,
		"session", s.runner.Name(),
	)

	// Notify callback
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(s.playerID)
	}

	// Block until the session ends
	err = s.runner.RunSession(ctx, s.playerID)
	uptime = time.Since(s.startTime)

	s.logger.Info("player_session_ended",
		"player_id", s.playerID,
		"error", err,
		"uptime", uptime.String(),
	)

	// Notify callback
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(s.playerID, err, uptime)
	}

	return err, uptime
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(s.playerID, oldState, newState)
	}
}

// PlayerID returns the player ID for this supervisor.
func (s *Supervisor) PlayerID() int {
	return s.playerID
}

// Restarts returns the number of restarts that have occurred.
func (s *Supervisor) Restarts() int {
	return s.restarts
}

// Uptime returns the current session uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	if s.State() != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}
