// Package runtime defines the boundary to the adaptive streaming
// runtime: the typed event stream it emits and the level-control
// interface the engine and the bitrate controller drive it through.
//
// Events are a tagged union: Kind selects which payload fields are
// meaningful. Consumers validate the kind at the boundary and drop
// unrecognized shapes rather than assuming structure.
package runtime

import (
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
)

// EventKind identifies a streaming runtime event.
type EventKind int

const (
	EventUnknown         EventKind = iota // Unrecognized event (dropped at the boundary)
	EventManifestLoading                  // Master manifest fetch started
	EventManifestParsed                   // Manifest parsed, level inventory available
	EventLevelSwitching                   // Runtime decided to move to a new level
	EventLevelSwitched                    // New level is now the loading level
	EventFragmentBuffered                 // One fragment appended to the media buffer
	EventBandwidth                        // Bandwidth estimate updated
	EventEnded                            // VOD playlist exhausted, all fragments appended
	EventError                            // Runtime error (Fatal marks it unrecoverable)
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventManifestLoading:
		return "manifest_loading"
	case EventManifestParsed:
		return "manifest_parsed"
	case EventLevelSwitching:
		return "level_switching"
	case EventLevelSwitched:
		return "level_switched"
	case EventFragmentBuffered:
		return "fragment_buffered"
	case EventBandwidth:
		return "bandwidth"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Level is one bitrate/resolution rendition offered by the manifest.
type Level struct {
	Index   int
	Height  int    // Pixels, 0 when the manifest carries no resolution
	Bitrate int64  // Bits per second, from the manifest BANDWIDTH attribute
	URI     string // Media playlist URL, resolved against the master
}

// Event is one streaming runtime event. Kind tags which fields carry
// payload:
//
//	EventManifestLoading:  URL
//	EventManifestParsed:   URL, Levels, Delivery
//	EventLevelSwitching:   Level
//	EventLevelSwitched:    Level
//	EventFragmentBuffered: Level, URL, Bytes, Duration, FetchTime, Delivery
//	EventBandwidth:        BandwidthBps
//	EventError:            Message, Fatal
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	URL          string
	Levels       []Level
	Level        int
	Bytes        int64
	Duration     float64       // Fragment duration in seconds
	FetchTime    time.Duration // Wall time spent fetching the fragment
	BandwidthBps int64
	Delivery     delivery.Source
	Message      string
	Fatal        bool
}

// EventCallback receives runtime events. The real runtime delivers from
// its fetch goroutine; callbacks must be safe for that and must not
// block.
type EventCallback func(Event)

// AutoLevel is the level index meaning "runtime picks".
const AutoLevel = -1

// Runtime is the control interface to the adaptive streaming runtime.
//
// Level setters follow the usual adaptive-runtime split: current level
// switches immediately (visible buffer discontinuity), next level takes
// effect at the next fragment boundary, load level selects what the
// fetcher downloads. AutoLevel restores runtime-driven selection.
type Runtime interface {
	// SetCallback registers the single event sink. Must be called
	// before StartLoad.
	SetCallback(cb EventCallback)

	// StartLoad begins manifest and fragment loading.
	StartLoad()

	// StopLoad halts fragment loading without destroying the instance.
	StopLoad()

	// Levels returns the level inventory from the parsed manifest,
	// empty before EventManifestParsed.
	Levels() []Level

	// CurrentLevel returns the index of the level currently feeding the
	// buffer, or AutoLevel before the first fragment.
	CurrentLevel() int

	SetCurrentLevel(index int)
	SetNextLevel(index int)
	SetLoadLevel(index int)

	// BandwidthEstimate returns the current estimate in bits per
	// second, 0 when unknown.
	BandwidthEstimate() int64

	// Destroy releases all resources. Idempotent; no events are
	// delivered after it returns.
	Destroy()
}
