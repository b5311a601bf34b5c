// Package playback owns the playback state machine and the viewer-facing
// playback status derived from media surface events.
//
// This file implements the Machine: media surface events in, state
// transitions and a Status snapshot out. The machine never talks to the
// platform; it only observes the surface through the Observer interface
// and reports transitions through the TransitionHook.
package playback

import (
	"math"
	"sync"

	"github.com/randomizedcoder/go-hls-playback/internal/media"
)

// Status is the viewer-facing playback state. All fields derive from
// media surface events; nothing here is written speculatively by the
// bitrate controller.
type Status struct {
	IsPlaying   bool
	IsLoading   bool
	IsBuffering bool
	Muted       bool
	Volume      float64
	CurrentTime float64 // Seconds
	Duration    float64 // Seconds

	// BufferedFraction is how much of the timeline is buffered, 0.0-1.0,
	// clamped even when the surface reports a buffered end past the
	// duration.
	BufferedFraction float64

	// Error carries the human-readable message while in StateError.
	Error string
}

// Observer is the read-only view of the media surface the machine needs:
// the readiness guard for stall signals and the buffered range for the
// buffered-fraction computation.
type Observer interface {
	ReadyState() media.ReadyState
	BufferedEnd() float64
	Duration() float64
	Muted() bool
	Volume() float64
}

// TransitionHook is called after every state transition, outside the
// machine's lock. A stall signal that arrives while already buffering
// re-fires the hook with from == StateBuffering; consumers counting
// buffering entries see each confirmed stall signal, which preserves the
// coarse buffering-event counting of the shipped player.
type TransitionHook func(from, to State)

// Machine is the playback state machine.
//
// Thread-safe. HandleEvent is expected to be called from the engine's
// event routing; observations can come from anywhere.
type Machine struct {
	mu       sync.Mutex
	state    State
	status   Status
	observer Observer
	hook     TransitionHook
}

// NewMachine creates an idle machine observing the given surface.
func NewMachine(observer Observer) *Machine {
	return &Machine{
		state: StateIdle,
		status: Status{
			Volume: 1.0,
		},
		observer: observer,
	}
}

// SetTransitionHook registers the transition callback. Must be set
// before events flow; not guarded for mid-stream replacement.
func (m *Machine) SetTransitionHook(hook TransitionHook) {
	m.hook = hook
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the viewer-facing status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetCurrentTime sets the position optimistically, before the surface
// confirms the seek. The next timeupdate overwrites it either way.
func (m *Machine) SetCurrentTime(seconds float64) {
	m.mu.Lock()
	m.status.CurrentTime = seconds
	m.mu.Unlock()
}

// HandleEvent feeds one media surface event through the machine.
//
// Unrecognized event kinds are dropped. Nothing here panics; a fatal
// error event degrades to StateError instead of propagating.
func (m *Machine) HandleEvent(ev media.Event) {
	m.mu.Lock()

	// Error is terminal until a new source binds (loadstart).
	if m.state == StateError && ev.Kind != media.EventLoadStart {
		m.mu.Unlock()
		return
	}

	from := m.state
	to := from
	fire := false

	switch ev.Kind {
	case media.EventLoadStart:
		to = StateLoading
		fire = true
		// New source: reset everything transient, keep viewer prefs.
		volume, muted := m.status.Volume, m.status.Muted
		m.status = Status{
			IsLoading: true,
			Volume:    volume,
			Muted:     muted,
		}

	case media.EventLoadedMetadata:
		if from == StateLoading {
			to = StatePaused
			fire = true
		}
		m.status.IsLoading = false
		m.status.Duration = ev.Duration
		m.recomputeBufferedLocked()

	case media.EventPlaying:
		if from == StatePaused || from == StateBuffering || from == StateLoading {
			to = StatePlaying
			fire = true
		}
		m.status.IsPlaying = true
		m.status.IsBuffering = false
		m.status.IsLoading = false

	case media.EventPause:
		if from == StatePlaying || from == StateBuffering {
			to = StatePaused
			fire = true
		}
		m.status.IsPlaying = false
		m.status.IsBuffering = false

	case media.EventWaiting:
		// Guard: spurious stall signals while the surface still has
		// future data must not re-enter buffering.
		if from == StatePlaying || from == StateBuffering {
			if m.observer == nil || m.observer.ReadyState() < media.HaveFutureData {
				to = StateBuffering
				fire = true
				m.status.IsBuffering = true
				m.status.IsPlaying = false
			}
		}

	case media.EventTimeUpdate:
		m.status.CurrentTime = ev.CurrentTime
		m.recomputeBufferedLocked()

	case media.EventProgress:
		m.recomputeBufferedLocked()

	case media.EventSeeked:
		m.status.CurrentTime = ev.CurrentTime
		m.recomputeBufferedLocked()

	case media.EventVolumeChange:
		if m.observer != nil {
			m.status.Muted = m.observer.Muted()
			m.status.Volume = m.observer.Volume()
		}

	case media.EventEnded:
		if from.Active() {
			to = StatePaused
			fire = true
		}
		m.status.IsPlaying = false
		m.status.IsBuffering = false

	case media.EventError:
		to = StateError
		fire = true
		m.status.IsPlaying = false
		m.status.IsLoading = false
		m.status.IsBuffering = false
		m.status.Error = ev.Message
		if m.status.Error == "" {
			m.status.Error = "playback failed"
		}

	default:
		// Unknown event shape: drop rather than assume.
	}

	m.state = to
	hook := m.hook
	m.mu.Unlock()

	if fire && hook != nil {
		hook(from, to)
	}
}

// Fail forces the machine into the terminal error state. Used for
// failures that do not arrive as surface events (unsupported format,
// fatal runtime errors).
func (m *Machine) Fail(message string) {
	m.HandleEvent(media.Event{Kind: media.EventError, Message: message})
}

// recomputeBufferedLocked refreshes BufferedFraction from the observed
// buffered end clamped to [0, duration]. Non-finite or non-positive
// durations report zero. Caller holds mu.
func (m *Machine) recomputeBufferedLocked() {
	if m.observer == nil {
		return
	}
	duration := m.status.Duration
	if duration <= 0 || math.IsInf(duration, 0) || math.IsNaN(duration) {
		m.status.BufferedFraction = 0
		return
	}
	end := m.observer.BufferedEnd()
	if end < 0 {
		end = 0
	}
	if end > duration {
		end = duration
	}
	m.status.BufferedFraction = end / duration
}
