// Package media abstracts the media surface the engine plays into.
//
// This file implements SimSurface, a deterministic, clock-driven media
// surface. The harness and the tests drive it with Advance() instead of
// wall time, so stall, resume, seek and end-of-media behavior is exactly
// reproducible.
package media

import "sync"

// SimSurface is a simulated media surface.
//
// Time only moves when Advance is called. Buffered media only exists
// when AppendBuffer is called (normally by the streaming runtime's
// fragment loop). Events are emitted synchronously after each mutation,
// outside the internal lock, so callbacks may issue commands and read
// observations freely.
type SimSurface struct {
	mu sync.Mutex
	cb EventCallback

	src         string
	currentTime float64
	duration    float64
	bufferedEnd float64
	ready       ReadyState
	paused      bool
	stalled     bool
	ended       bool
	muted       bool
	volume      float64

	// nativeTypes lists MIME types this surface claims native support
	// for. Empty for the common case (adaptive runtime required).
	nativeTypes map[string]bool
}

// NewSimSurface creates a paused, empty surface.
func NewSimSurface() *SimSurface {
	return &SimSurface{
		paused: true,
		volume: 1.0,
	}
}

// WithNativeSupport marks a MIME type as natively playable. Returns the
// surface for chaining during setup.
func (s *SimSurface) WithNativeSupport(mimeType string) *SimSurface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nativeTypes == nil {
		s.nativeTypes = make(map[string]bool)
	}
	s.nativeTypes[mimeType] = true
	return s
}

// SetCallback registers the event sink.
func (s *SimSurface) SetCallback(cb EventCallback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// emit delivers events outside the lock. Must be called without mu held.
func (s *SimSurface) emit(events ...Event) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	for _, ev := range events {
		cb(ev)
	}
}

// --- Source binding ---

// SetSource binds a new source and resets the timeline.
func (s *SimSurface) SetSource(url string) {
	s.mu.Lock()
	s.src = url
	s.currentTime = 0
	s.duration = 0
	s.bufferedEnd = 0
	s.ready = HaveNothing
	s.paused = true
	s.stalled = false
	s.ended = false
	s.mu.Unlock()

	s.emit(Event{Kind: EventLoadStart})
}

// Source returns the currently bound source URL.
func (s *SimSurface) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// SetMetadata reports the media duration, normally once the manifest or
// container metadata is parsed.
func (s *SimSurface) SetMetadata(duration float64) {
	s.mu.Lock()
	s.duration = duration
	if s.ready < HaveMetadata {
		s.ready = HaveMetadata
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventLoadedMetadata, Duration: duration})
}

// AppendBuffer extends the buffered range by seconds of media. Resumes
// playback when a stall was waiting on exactly this data.
func (s *SimSurface) AppendBuffer(seconds float64) {
	s.mu.Lock()
	s.bufferedEnd += seconds
	if s.duration > 0 && s.bufferedEnd > s.duration {
		s.bufferedEnd = s.duration
	}
	if s.ready < HaveEnoughData {
		s.ready = HaveEnoughData
	}
	resumed := false
	if s.stalled && s.bufferedEnd > s.currentTime && !s.paused {
		s.stalled = false
		resumed = true
	}
	s.mu.Unlock()

	events := []Event{{Kind: EventProgress}}
	if resumed {
		events = append(events, Event{Kind: EventPlaying})
	}
	s.emit(events...)
}

// FailFatal reports an unrecoverable element-level error.
func (s *SimSurface) FailFatal(message string) {
	s.mu.Lock()
	s.paused = true
	s.stalled = false
	s.mu.Unlock()

	s.emit(Event{Kind: EventError, Message: message})
}

// --- Commands ---

// Play requests playback. EventPlaying follows immediately when enough
// data is buffered, otherwise once AppendBuffer supplies it.
func (s *SimSurface) Play() {
	s.mu.Lock()
	if s.ended {
		// Replay from the start, matching element behavior.
		s.currentTime = 0
		s.ended = false
	}
	s.paused = false
	canRender := s.ready >= HaveFutureData && s.bufferedEnd > s.currentTime
	if canRender {
		s.stalled = false
	} else {
		s.stalled = true
	}
	s.mu.Unlock()

	events := []Event{{Kind: EventPlay}}
	if canRender {
		events = append(events, Event{Kind: EventPlaying})
	} else {
		events = append(events, Event{Kind: EventWaiting})
	}
	s.emit(events...)
}

// Pause halts playback.
func (s *SimSurface) Pause() {
	s.mu.Lock()
	already := s.paused
	s.paused = true
	s.mu.Unlock()

	if !already {
		s.emit(Event{Kind: EventPause})
	}
}

// Seek moves the playback position, clamped to the media timeline.
func (s *SimSurface) Seek(seconds float64) {
	s.mu.Lock()
	if seconds < 0 {
		seconds = 0
	}
	if s.duration > 0 && seconds > s.duration {
		seconds = s.duration
	}
	s.currentTime = seconds
	stalledNow := s.bufferedEnd <= s.currentTime && s.currentTime < s.duration
	wasPaused := s.paused
	s.stalled = stalledNow && !wasPaused
	current := s.currentTime
	s.mu.Unlock()

	events := []Event{
		{Kind: EventSeeked, CurrentTime: current},
		{Kind: EventTimeUpdate, CurrentTime: current},
	}
	if stalledNow && !wasPaused {
		events = append(events, Event{Kind: EventWaiting})
	}
	s.emit(events...)
}

// SetVolume sets the volume, clamped to [0, 1].
func (s *SimSurface) SetVolume(v float64) {
	s.mu.Lock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volume = v
	s.mu.Unlock()

	s.emit(Event{Kind: EventVolumeChange})
}

// SetMuted sets the muted flag.
func (s *SimSurface) SetMuted(muted bool) {
	s.mu.Lock()
	changed := s.muted != muted
	s.muted = muted
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: EventVolumeChange})
	}
}

// --- Clock ---

// Advance moves the simulated clock forward by seconds. While playing,
// the position advances until the buffer runs dry (EventWaiting) or the
// media ends (EventEnded). Paused or stalled surfaces don't move.
func (s *SimSurface) Advance(seconds float64) {
	s.mu.Lock()
	if s.paused || s.stalled || s.ended {
		s.mu.Unlock()
		return
	}

	target := s.currentTime + seconds
	var events []Event

	if s.duration > 0 && target >= s.duration {
		s.currentTime = s.duration
		s.ended = true
		s.paused = true
		events = append(events,
			Event{Kind: EventTimeUpdate, CurrentTime: s.currentTime},
			Event{Kind: EventEnded},
		)
	} else if target >= s.bufferedEnd {
		s.currentTime = s.bufferedEnd
		s.stalled = true
		s.ready = HaveCurrentData
		events = append(events,
			Event{Kind: EventTimeUpdate, CurrentTime: s.currentTime},
			Event{Kind: EventWaiting},
		)
	} else {
		s.currentTime = target
		events = append(events, Event{Kind: EventTimeUpdate, CurrentTime: s.currentTime})
	}
	s.mu.Unlock()

	s.emit(events...)
}

// --- Observations ---

func (s *SimSurface) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

func (s *SimSurface) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *SimSurface) BufferedEnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedEnd
}

func (s *SimSurface) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *SimSurface) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *SimSurface) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *SimSurface) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *SimSurface) CanPlayNative(mimeType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeTypes[mimeType]
}
