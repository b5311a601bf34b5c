// Package supervisor manages the lifecycle of individual playback sessions.
package supervisor

// State is the lifecycle position of a supervised player. Two states
// are terminal: Completed for a player whose VOD session finished
// cleanly, Stopped for one torn down by cancellation or the restart
// limit.
type State int

const (
	// StateCreated is the initial state before the player has started.
	StateCreated State = iota

	// StateStarting indicates the playback session is being set up.
	StateStarting

	// StateRunning indicates the playback session is actively running.
	StateRunning

	// StateBackoff indicates the player is waiting before restart.
	StateBackoff

	// StateCompleted indicates the player finished its session cleanly
	// and will not restart.
	StateCompleted

	// StateStopped indicates the player was shut down or hit its
	// restart limit.
	StateStopped
)

// String returns the wire name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive reports whether the player is running or working toward
// running.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateBackoff
}

// IsTerminal reports whether the player will never run again.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped
}
