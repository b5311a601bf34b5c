// Package orchestrator coordinates the player fleet for go-hls-playback.
package orchestrator

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/supervisor"
)

// RampScheduler spaces player starts out over time. Starting the whole
// fleet at once would hit the origin with simultaneous manifest fetches
// and synchronize every player's segment cadence, so starts are spread
// at a fixed rate with a deterministic per-player offset on top.
type RampScheduler struct {
	rate      int           // players per second
	interval  time.Duration // spacing between consecutive starts
	maxJitter time.Duration
	seed      int64
}

// NewRampScheduler creates a scheduler with a run-unique jitter seed.
func NewRampScheduler(rate int, maxJitter time.Duration) *RampScheduler {
	return NewRampSchedulerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewRampSchedulerWithSeed creates a scheduler with a fixed seed so
// ramp timing is reproducible.
func NewRampSchedulerWithSeed(rate int, maxJitter time.Duration, seed int64) *RampScheduler {
	rs := &RampScheduler{
		rate:      rate,
		maxJitter: maxJitter,
		seed:      seed,
	}
	if rate > 0 {
		rs.interval = time.Second / time.Duration(rate)
	}
	return rs
}

// Schedule blocks for player N's slot in the ramp: the rate-derived
// spacing plus that player's deterministic start offset. Returns the
// context error if cancelled while waiting.
func (r *RampScheduler) Schedule(ctx context.Context, playerID int) error {
	delay := r.interval + supervisor.StartJitter(playerID, r.seed, r.maxJitter)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedRampDuration returns roughly how long starting the whole
// fleet will take: the rate-derived spacing for every player plus the
// average start offset.
func (r *RampScheduler) EstimatedRampDuration(totalPlayers int) time.Duration {
	if r.rate <= 0 {
		return 0
	}
	return time.Duration(totalPlayers)*r.interval + r.maxJitter/2
}

// Rate returns the configured rate (players per second).
func (r *RampScheduler) Rate() int {
	return r.rate
}

// MaxJitter returns the configured maximum start offset.
func (r *RampScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
