// Package telemetry records per-source playback sessions and submits
// at most one metrics payload per session.
//
// A session captures its lifecycle timestamps first-write-wins: replays
// of a signal never move an anchor that is already set. The payload is
// only ever constructed when a first frame actually rendered, so
// abandoned loads contribute nothing to startup-latency statistics.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
)

// Reason identifies what ended a session and triggered dispatch.
type Reason int

const (
	ReasonUnknown      Reason = iota
	ReasonSourceChange        // Superseded by a new source bind
	ReasonEnded               // Natural end of media
	ReasonError               // Fatal playback error
	ReasonBeforeUnload        // Page navigation or close
	ReasonUnmount             // Component torn down with none of the above
)

// String returns the wire name for the reason code.
func (r Reason) String() string {
	switch r {
	case ReasonSourceChange:
		return "source_change"
	case ReasonEnded:
		return "ended"
	case ReasonError:
		return "error"
	case ReasonBeforeUnload:
		return "beforeunload"
	case ReasonUnmount:
		return "unmount"
	default:
		return "unknown"
	}
}

// Session holds the telemetry state for one bound source.
//
// Timestamp setters are first-write-wins. The zero time means the
// triggering event never fired.
type Session struct {
	mu sync.Mutex

	id        string
	sourceURL string
	contentID string
	userAgent string
	mountedAt time.Time

	manifestRequestedAt time.Time
	manifestLoadedAt    time.Time
	playbackRequestedAt time.Time
	firstFrameAt        time.Time

	bufferingEvents int
	deliverySource  delivery.Source
	manifestTiming  delivery.Observation
	hasTiming       bool
	bandwidthBps    int64

	metricsSent bool

	now func() time.Time
}

// NewSession starts a session for one source. mountedAt is captured
// immediately and anchors the first-frame latency.
func NewSession(sourceURL, contentID, userAgent string) *Session {
	return newSessionAt(sourceURL, contentID, userAgent, time.Now)
}

func newSessionAt(sourceURL, contentID, userAgent string, now func() time.Time) *Session {
	return &Session{
		id:        uuid.NewString(),
		sourceURL: sourceURL,
		contentID: contentID,
		userAgent: userAgent,
		mountedAt: now(),
		now:       now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// MarkManifestRequested records the manifest fetch start. First write
// wins.
func (s *Session) MarkManifestRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifestRequestedAt.IsZero() {
		s.manifestRequestedAt = s.now()
	}
}

// MarkManifestLoaded records manifest load completion along with the
// resource-timing observation for the manifest fetch, if one was found.
func (s *Session) MarkManifestLoaded(obs delivery.Observation, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.manifestLoadedAt.IsZero() {
		return
	}
	s.manifestLoadedAt = s.now()
	if found {
		s.manifestTiming = obs
		s.hasTiming = true
	}
}

// MarkPlaybackRequested records the first play command.
func (s *Session) MarkPlaybackRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playbackRequestedAt.IsZero() {
		s.playbackRequestedAt = s.now()
	}
}

// MarkFirstFrame records the first playing transition. This is the key
// latency anchor: the frame rendered, not the play command.
func (s *Session) MarkFirstFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstFrameAt.IsZero() {
		s.firstFrameAt = s.now()
	}
}

// IncrementBuffering counts one transition into the buffering state.
func (s *Session) IncrementBuffering() {
	s.mu.Lock()
	s.bufferingEvents++
	s.mu.Unlock()
}

// SetDeliverySource records the classified delivery path. The first
// classification other than SourceUnknown wins; later signals from
// manifest or segment fetches cannot flip an already-classified
// session, and an unknown signal never clobbers a real one.
func (s *Session) SetDeliverySource(src delivery.Source) {
	s.mu.Lock()
	if s.deliverySource == delivery.SourceUnknown {
		s.deliverySource = src
	}
	s.mu.Unlock()
}

// SetBandwidth records the latest runtime bandwidth estimate.
func (s *Session) SetBandwidth(bps int64) {
	s.mu.Lock()
	s.bandwidthBps = bps
	s.mu.Unlock()
}

// BufferingEvents returns the buffering transition count so far.
func (s *Session) BufferingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferingEvents
}

// payload builds the metrics payload under s.mu, or reports that none
// should be sent: either no frame ever rendered or the payload for this
// session already went out.
func (s *Session) payload(reason Reason) (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metricsSent || s.firstFrameAt.IsZero() {
		return Payload{}, false
	}
	s.metricsSent = true

	p := Payload{
		SessionID:         s.id,
		SourceURL:         s.sourceURL,
		ContentID:         s.contentID,
		Reason:            reason.String(),
		BufferingEvents:   s.bufferingEvents,
		DeliverySource:    s.deliverySource.String(),
		BandwidthBps:      s.bandwidthBps,
		DeviceClass:       ClassifyDevice(s.userAgent).String(),
		UserAgent:         s.userAgent,
		FirstFrameLatency: s.firstFrameAt.Sub(s.mountedAt).Milliseconds(),
	}

	// Startup latency anchors on the explicit play request, falling
	// back to mount time for autoplay-style sessions.
	start := s.playbackRequestedAt
	if start.IsZero() {
		start = s.mountedAt
	}
	p.StartupLatency = s.firstFrameAt.Sub(start).Milliseconds()

	if !s.manifestRequestedAt.IsZero() && !s.manifestLoadedAt.IsZero() {
		ms := s.manifestLoadedAt.Sub(s.manifestRequestedAt).Milliseconds()
		p.ManifestLatency = &ms
	}

	if s.hasTiming {
		p.TransferSize = s.manifestTiming.TransferSize
		p.EncodedBodySize = s.manifestTiming.EncodedBodySize
		p.DecodedBodySize = s.manifestTiming.DecodedBodySize
		p.Protocol = s.manifestTiming.NextHopProtocol
	}
	return p, true
}

// Sent reports whether this session's payload already went out.
func (s *Session) Sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsSent
}
