// Package media abstracts the media surface the engine plays into.
//
// The playback engine never mutates a platform player directly; it issues
// commands through the Surface interface and reacts to the typed Event
// stream the surface emits. This keeps the state machine and the bitrate
// controller free of platform calls and makes both testable against the
// simulated surface in sim.go.
package media

// EventKind identifies a media surface lifecycle event.
type EventKind int

const (
	EventUnknown        EventKind = iota // Unrecognized event (dropped at the boundary)
	EventLoadStart                       // Source bound, loading began
	EventLoadedMetadata                  // Duration and dimensions known
	EventPlay                            // Play was requested
	EventPlaying                         // Playback actually resumed (first frame rendered)
	EventPause                           // Playback paused
	EventWaiting                         // Buffer exhausted, playback stalled
	EventTimeUpdate                      // Playback position advanced
	EventProgress                        // Buffered ranges grew
	EventSeeked                          // A seek completed
	EventVolumeChange                    // Volume or muted state changed
	EventEnded                           // Natural end of media
	EventError                           // Fatal element-level error
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventLoadStart:
		return "loadstart"
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventPlay:
		return "play"
	case EventPlaying:
		return "playing"
	case EventPause:
		return "pause"
	case EventWaiting:
		return "waiting"
	case EventTimeUpdate:
		return "timeupdate"
	case EventProgress:
		return "progress"
	case EventSeeked:
		return "seeked"
	case EventVolumeChange:
		return "volumechange"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one media surface lifecycle event. Kind tags which payload
// fields are meaningful: Duration for EventLoadedMetadata, CurrentTime
// for EventTimeUpdate/EventSeeked, Message for EventError.
type Event struct {
	Kind        EventKind
	CurrentTime float64 // Seconds
	Duration    float64 // Seconds
	Message     string
}

// ReadyState mirrors the media element readiness ladder. The stall guard
// in the state machine only honors a waiting signal while readiness is
// below HaveFutureData.
type ReadyState int

const (
	HaveNothing     ReadyState = iota // No information about the media
	HaveMetadata                      // Duration known
	HaveCurrentData                   // Data for the current position only
	HaveFutureData                    // Enough to advance at least one frame
	HaveEnoughData                    // Enough to play through
)

// String returns a human-readable name for the ready state.
func (r ReadyState) String() string {
	switch r {
	case HaveNothing:
		return "have_nothing"
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	case HaveFutureData:
		return "have_future_data"
	case HaveEnoughData:
		return "have_enough_data"
	default:
		return "unknown"
	}
}

// EventCallback receives surface events. Callbacks run synchronously on
// the caller of the surface mutation; they must not block.
type EventCallback func(Event)

// Surface is the command-and-observation interface the engine uses in
// place of a platform media element.
type Surface interface {
	// Commands.
	Play()
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)
	SetMuted(muted bool)

	// Source binding. Binding a direct (non-manifest) URL is the
	// surface's own concern; adaptive sources are fed by the streaming
	// runtime appending to the buffer instead.
	SetSource(url string)

	// Observations.
	CurrentTime() float64
	Duration() float64
	BufferedEnd() float64
	ReadyState() ReadyState
	Paused() bool
	Muted() bool
	Volume() float64

	// CanPlayNative reports whether the surface can consume the given
	// manifest MIME type directly without the adaptive runtime
	// (e.g. Safari's built-in HLS support).
	CanPlayNative(mimeType string) bool

	// SetCallback registers the single event sink. Passing nil detaches
	// the previous sink; no events are delivered afterwards.
	SetCallback(cb EventCallback)
}
