// Package player runs simulated playback sessions against an HLS
// origin. Each Player owns one simulated media surface and drives the
// playback engine through a full session: bind the source, play to the
// end of the VOD timeline, and tear down.
package player

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
	"github.com/randomizedcoder/go-hls-playback/internal/engine"
	"github.com/randomizedcoder/go-hls-playback/internal/media"
	"github.com/randomizedcoder/go-hls-playback/internal/playback"
	"github.com/randomizedcoder/go-hls-playback/internal/runtime"
	"github.com/randomizedcoder/go-hls-playback/internal/stats"
	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
)

// DefaultClockTick is how often the simulated playback clock advances.
const DefaultClockTick = 100 * time.Millisecond

// ErrShutdown, used as a context cancellation cause, marks a
// harness-initiated teardown. Sessions cancelled with it dispatch
// telemetry as a page unload rather than a component unmount.
var ErrShutdown = errors.New("player: harness shutting down")

// Config holds configuration for a Player.
type Config struct {
	StreamURL   string
	ContentID   string
	UserAgent   string
	Quality     string  // Initial quality label, empty or "auto" for adaptive
	BufferAhead float64 // Seconds of media buffered ahead of the playhead
	Timeout     time.Duration

	// ClockRate is the simulated playback speed relative to wall time.
	// 1.0 plays in real time; 0 defaults to 1.0.
	ClockRate float64

	// ClockTick is how often the playhead advances. 0 = DefaultClockTick.
	ClockTick time.Duration

	Client     *http.Client        // nil = client built from Timeout
	Submitter  telemetry.Submitter // nil = telemetry disabled
	Stats      *stats.PlayerStats  // nil = no local stats
	Aggregator *stats.Aggregator   // nil = fragments recorded on Stats only
	Logger     *slog.Logger
}

// Player runs playback sessions for one simulated viewer.
type Player struct {
	id     int
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Player.
func New(id int, cfg Config) *Player {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Player{
		id:     id,
		cfg:    cfg,
		client: client,
		logger: logger.With("player_id", id),
	}
}

// Name implements supervisor.SessionRunner.
func (p *Player) Name() string {
	return "hls-playback"
}

// RunSession runs one full playback session. It blocks until the VOD
// timeline is exhausted (nil), a fatal playback error occurs (error),
// or the context is cancelled.
func (p *Player) RunSession(ctx context.Context, playerID int) error {
	surface := media.NewSimSurface()
	timings := delivery.NewTimingStore()

	var recorder *telemetry.Recorder
	if p.cfg.Submitter != nil {
		recorder = telemetry.NewRecorder(p.cfg.Submitter, p.cfg.UserAgent, p.logger)
	}

	// result receives the session outcome exactly once: nil on media
	// ended, the failure for a fatal error.
	result := make(chan error, 1)
	finish := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	observed := &observedSurface{
		SimSurface: surface,
		observer: func(ev media.Event) {
			if ev.Kind == media.EventEnded {
				finish(nil)
			}
		},
	}

	factory := func(url string) runtime.Runtime {
		rt := runtime.NewHLSRuntime(runtime.HLSConfig{
			URL:         url,
			Client:      p.client,
			Timings:     timings,
			Appender:    surface,
			Logger:      p.logger,
			UserAgent:   p.cfg.UserAgent,
			BufferAhead: p.cfg.BufferAhead,
		})
		if p.cfg.Stats == nil && p.cfg.Aggregator == nil {
			return rt
		}
		return &observedRuntime{Runtime: rt, player: p}
	}

	eng, err := engine.New(engine.Config{
		Surface:    observed,
		NewRuntime: factory,
		Recorder:   recorder,
		Timings:    timings,
		Logger:     p.logger,
		TransitionHook: func(from, to playback.State) {
			switch to {
			case playback.StateBuffering:
				if p.cfg.Stats != nil {
					p.cfg.Stats.RecordBuffering()
				}
			case playback.StateError:
				if p.cfg.Stats != nil {
					p.cfg.Stats.RecordError()
				}
				finish(errors.New("fatal playback error"))
			}
		},
	})
	if err != nil {
		return err
	}

	if err := eng.Load(p.cfg.StreamURL, p.cfg.ContentID); err != nil {
		eng.Close(telemetry.ReasonError)
		return err
	}

	if p.cfg.Quality != "" && p.cfg.Quality != "auto" {
		eng.SetQuality(p.cfg.Quality)
	}
	eng.Play()

	// Drive the simulated clock until the session resolves.
	tick := p.cfg.ClockTick
	if tick <= 0 {
		tick = DefaultClockTick
	}
	rate := p.cfg.ClockRate
	if rate <= 0 {
		rate = 1.0
	}
	step := tick.Seconds() * rate

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrShutdown) {
				eng.Close(telemetry.ReasonBeforeUnload)
			} else {
				eng.Close(telemetry.ReasonUnmount)
			}
			return ctx.Err()
		case err := <-result:
			if err != nil {
				eng.Close(telemetry.ReasonError)
			} else {
				eng.Close(telemetry.ReasonEnded)
			}
			return err
		case <-ticker.C:
			surface.Advance(step)
		}
	}
}

// recordRuntimeEvent folds one runtime event into the player's stats.
func (p *Player) recordRuntimeEvent(ev runtime.Event) {
	switch ev.Kind {
	case runtime.EventManifestParsed:
		if p.cfg.Stats != nil {
			p.cfg.Stats.RecordManifest()
		}
	case runtime.EventLevelSwitched:
		if p.cfg.Stats != nil {
			p.cfg.Stats.RecordLevelSwitch(ev.Level)
		}
	case runtime.EventFragmentBuffered:
		if p.cfg.Aggregator != nil {
			// Feeds both the aggregate distribution and this player's
			// registered stats.
			p.cfg.Aggregator.RecordFragment(p.id, ev.Bytes, ev.FetchTime)
		} else if p.cfg.Stats != nil {
			p.cfg.Stats.RecordFragment(ev.Bytes, ev.FetchTime)
		}
	case runtime.EventBandwidth:
		if p.cfg.Stats != nil {
			p.cfg.Stats.SetBandwidth(ev.BandwidthBps)
		}
	}
}

// observedSurface tees every media event to a session-local observer
// after the engine's callback ran. The engine replaces the surface
// callback on every bind; wrapping SetCallback keeps the observer
// attached across rebinds.
type observedSurface struct {
	*media.SimSurface
	observer media.EventCallback
}

func (o *observedSurface) SetCallback(cb media.EventCallback) {
	o.SimSurface.SetCallback(func(ev media.Event) {
		if cb != nil {
			cb(ev)
		}
		o.observer(ev)
	})
}

// observedRuntime tees runtime events into per-player stats before
// handing them to the engine's callback.
type observedRuntime struct {
	runtime.Runtime
	player *Player
}

func (o *observedRuntime) SetCallback(cb runtime.EventCallback) {
	o.Runtime.SetCallback(func(ev runtime.Event) {
		o.player.recordRuntimeEvent(ev)
		if cb != nil {
			cb(ev)
		}
	})
}
