// Package playback owns the playback state machine and the viewer-facing
// playback status derived from media surface events.
package playback

// State represents the current playback state.
type State int

const (
	// StateIdle is the initial state before any source is bound.
	StateIdle State = iota

	// StateLoading indicates a source is bound and loading.
	StateLoading

	// StatePlaying indicates frames are actively rendering.
	StatePlaying

	// StatePaused indicates playback is halted by the viewer (or has not
	// started yet after metadata arrived).
	StatePaused

	// StateBuffering indicates playback stalled waiting for data while
	// the viewer expects it to be playing.
	StateBuffering

	// StateError is terminal until a new source is bound.
	StateError
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if no further transitions happen without a new
// source binding.
func (s State) IsTerminal() bool {
	return s == StateError
}

// Active returns true if media is loaded and not failed.
func (s State) Active() bool {
	return s == StateLoading || s == StatePlaying || s == StatePaused || s == StateBuffering
}
