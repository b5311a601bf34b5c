// Package engine orchestrates one playback session end to end.
//
// The engine binds one streaming runtime instance to one media surface
// per active source. It owns format detection, the bind/rebind/teardown
// lifecycle, and the routing of surface and runtime events into the
// state machine, the bitrate controller, and the telemetry recorder.
//
// Every exit path, which is source change, teardown, and fatal error,
// destroys the bound runtime before anything else attaches. Two live
// runtime instances never overlap on the same surface.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/randomizedcoder/go-hls-playback/internal/abr"
	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
	"github.com/randomizedcoder/go-hls-playback/internal/media"
	"github.com/randomizedcoder/go-hls-playback/internal/playback"
	"github.com/randomizedcoder/go-hls-playback/internal/runtime"
	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
)

// hlsMIMEType is what the surface is asked about for native manifest
// support.
const hlsMIMEType = "application/vnd.apple.mpegurl"

// SubtitleTrack is one selectable subtitle rendition.
type SubtitleTrack struct {
	Label    string
	Src      string
	Language string
}

// SubtitlesOff is the selection meaning no subtitle track.
const SubtitlesOff = "off"

// RuntimeFactory constructs a streaming runtime for one manifest URL.
// The engine destroys the returned instance on every exit path.
type RuntimeFactory func(url string) runtime.Runtime

// Config wires an Engine.
type Config struct {
	Surface    media.Surface
	NewRuntime RuntimeFactory
	Recorder   *telemetry.Recorder
	Timings    *delivery.TimingStore
	Logger     *slog.Logger

	// TransitionHook, when set, observes every state machine
	// transition after the engine's own bookkeeping ran.
	TransitionHook playback.TransitionHook
}

// binding is everything tied to one bound source. Rebinding swaps the
// whole struct so late events from a torn-down source find nothing to
// touch.
type binding struct {
	sourceURL string
	machine   *playback.Machine
	abr       *abr.Controller
	session   *telemetry.Session
	rt        runtime.Runtime // nil for direct (non-adaptive) sources
	native    bool
}

// Engine drives one media surface through successive sources.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	current   *binding
	subtitles []SubtitleTrack
	subtitle  string // Selected language, SubtitlesOff when none
	closed    bool

	controls *controlsTimer
}

// New creates an engine around one media surface.
func New(cfg Config) (*Engine, error) {
	if cfg.Surface == nil {
		return nil, fmt.Errorf("engine: Surface is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		subtitle: SubtitlesOff,
	}
	e.controls = newControlsTimer(e.isPaused)
	return e, nil
}

// Load binds a new source, tearing the previous one down first.
// contentID is an optional stable identifier correlating telemetry with
// a content entity.
func (e *Engine) Load(url, contentID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine: closed")
	}
	prior := e.current
	e.mu.Unlock()

	e.teardown(prior)
	if prior != nil && e.cfg.Timings != nil {
		// Observations from the superseded source must not match the
		// new source's resources.
		e.cfg.Timings.Clear()
	}

	var session *telemetry.Session
	if e.cfg.Recorder != nil {
		// Begin dispatches the superseded session with the
		// source-change reason before the new one starts.
		session = e.cfg.Recorder.Begin(url, contentID)
	}

	b := &binding{sourceURL: url, session: session}
	b.machine = playback.NewMachine(e.cfg.Surface)
	b.machine.SetTransitionHook(e.transitionHook(b))

	isManifest := runtime.IsManifestURL(url)
	b.native = isManifest && e.cfg.Surface.CanPlayNative(hlsMIMEType)

	switch {
	case isManifest && !b.native:
		if e.cfg.NewRuntime == nil {
			b.machine.Fail("unsupported format")
			e.install(b)
			return fmt.Errorf("engine: manifest source %q needs an adaptive runtime", url)
		}
		b.rt = e.cfg.NewRuntime(url)
		b.abr = abr.NewController(b.rt, e.cfg.Surface, e.logger)
		b.rt.SetCallback(e.runtimeCallback(b))

	default:
		// Native manifest support or a direct progressive URL: the
		// surface consumes it without the adaptive runtime.
	}

	e.install(b)
	e.cfg.Surface.SetCallback(e.mediaCallback(b))
	e.cfg.Surface.SetSource(url)

	if b.rt != nil {
		b.rt.StartLoad()
	}

	e.logger.Info("source_bound",
		"url", url,
		"adaptive", b.rt != nil,
		"native", b.native)
	return nil
}

// install swaps the active binding under lock.
func (e *Engine) install(b *binding) {
	e.mu.Lock()
	e.current = b
	e.mu.Unlock()
}

// active returns the binding if it is still the live one.
func (e *Engine) active(b *binding) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == b
}

// teardown releases one binding's runtime. Safe on nil.
func (e *Engine) teardown(b *binding) {
	if b == nil {
		return
	}
	if b.rt != nil {
		b.rt.Destroy()
	}
}

// Close tears the engine down. reason tags the final telemetry
// dispatch; the recorder's own guard makes this silent when a natural
// trigger already fired.
func (e *Engine) Close(reason telemetry.Reason) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	b := e.current
	e.current = nil
	e.mu.Unlock()

	e.controls.stop()
	e.cfg.Surface.SetCallback(nil)
	e.teardown(b)
	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Close(reason)
	}
	e.logger.Info("engine_closed", "reason", reason.String())
}

// --- Event routing ---

// mediaCallback routes surface events for one binding. Late events
// from a superseded binding are dropped.
func (e *Engine) mediaCallback(b *binding) media.EventCallback {
	return func(ev media.Event) {
		if !e.active(b) {
			return
		}
		e.handleMediaEvent(b, ev)
	}
}

func (e *Engine) handleMediaEvent(b *binding, ev media.Event) {
	if b.session != nil {
		switch ev.Kind {
		case media.EventLoadStart:
			b.session.MarkManifestRequested()
		case media.EventLoadedMetadata:
			obs, found := e.lookupTiming(b.sourceURL)
			b.session.MarkManifestLoaded(obs, found)
		case media.EventPlay:
			b.session.MarkPlaybackRequested()
		case media.EventPlaying:
			b.session.MarkFirstFrame()
		}
	}

	b.machine.HandleEvent(ev)

	switch ev.Kind {
	case media.EventEnded:
		if e.cfg.Recorder != nil {
			e.cfg.Recorder.Dispatch(telemetry.ReasonEnded)
		}
	case media.EventError:
		if e.cfg.Recorder != nil {
			e.cfg.Recorder.Dispatch(telemetry.ReasonError)
		}
		e.teardown(b)
	}
}

// runtimeCallback routes streaming runtime events for one binding.
func (e *Engine) runtimeCallback(b *binding) runtime.EventCallback {
	return func(ev runtime.Event) {
		if !e.active(b) {
			return
		}
		e.handleRuntimeEvent(b, ev)
	}
}

func (e *Engine) handleRuntimeEvent(b *binding, ev runtime.Event) {
	if b.abr != nil {
		b.abr.HandleEvent(ev)
	}

	if b.session != nil {
		switch ev.Kind {
		case runtime.EventManifestLoading:
			b.session.MarkManifestRequested()
		case runtime.EventManifestParsed:
			b.session.SetDeliverySource(ev.Delivery)
		case runtime.EventFragmentBuffered:
			// Segment fetches can classify a session the manifest
			// could not; the session keeps the first real signal.
			b.session.SetDeliverySource(ev.Delivery)
		case runtime.EventBandwidth:
			b.session.SetBandwidth(ev.BandwidthBps)
		}
	}

	if ev.Kind == runtime.EventError && ev.Fatal {
		e.logger.Warn("runtime_fatal_error", "url", b.sourceURL, "error", ev.Message)
		b.machine.Fail(ev.Message)
		if e.cfg.Recorder != nil {
			e.cfg.Recorder.Dispatch(telemetry.ReasonError)
		}
		e.teardown(b)
	}
}

// transitionHook wraps the configured hook with the engine's own
// bookkeeping: buffering entries are counted per confirmed transition
// and the first playing transition anchors first-frame latency.
func (e *Engine) transitionHook(b *binding) playback.TransitionHook {
	return func(from, to playback.State) {
		if b.session != nil {
			if to == playback.StateBuffering {
				b.session.IncrementBuffering()
			}
			if to == playback.StatePlaying {
				b.session.MarkFirstFrame()
			}
		}
		if e.cfg.TransitionHook != nil {
			e.cfg.TransitionHook(from, to)
		}
	}
}

// lookupTiming resolves the manifest resource-timing observation.
func (e *Engine) lookupTiming(url string) (delivery.Observation, bool) {
	if e.cfg.Timings == nil {
		return delivery.Observation{}, false
	}
	return e.cfg.Timings.Lookup(url)
}

// --- Command surface ---

// Play starts or resumes playback and counts as a user interaction for
// the controls timer.
func (e *Engine) Play() {
	e.Interact()
	e.cfg.Surface.Play()
}

// Pause pauses playback. Controls stay visible while paused.
func (e *Engine) Pause() {
	e.Interact()
	e.cfg.Surface.Pause()
}

// TogglePlay flips between play and pause.
func (e *Engine) TogglePlay() {
	if e.cfg.Surface.Paused() {
		e.Play()
		return
	}
	e.Pause()
}

// Seek moves the playback position.
func (e *Engine) Seek(seconds float64) {
	e.Interact()
	b := e.binding()
	if b != nil {
		b.machine.SetCurrentTime(seconds)
	}
	e.cfg.Surface.Seek(seconds)
}

// SetVolume sets the surface volume.
func (e *Engine) SetVolume(v float64) {
	e.Interact()
	e.cfg.Surface.SetVolume(v)
}

// ToggleMute flips the muted state.
func (e *Engine) ToggleMute() {
	e.Interact()
	e.cfg.Surface.SetMuted(!e.cfg.Surface.Muted())
}

// SetQuality applies a quality selection. A no-op for direct sources
// and for labels the manifest does not offer.
func (e *Engine) SetQuality(label string) {
	e.Interact()
	b := e.binding()
	if b != nil && b.abr != nil {
		b.abr.SetQuality(label)
	}
}

// AvailableQualities returns the selectable quality labels, or just the
// auto entry for direct sources.
func (e *Engine) AvailableQualities() []string {
	b := e.binding()
	if b != nil && b.abr != nil {
		return b.abr.AvailableQualities()
	}
	return []string{abr.AutoLabel}
}

// CurrentQualityLabel returns the user's quality selection.
func (e *Engine) CurrentQualityLabel() string {
	b := e.binding()
	if b != nil && b.abr != nil {
		return b.abr.CurrentQualityLabel()
	}
	return abr.AutoLabel
}

// Status returns the state machine's snapshot, zero before any bind.
func (e *Engine) Status() playback.Status {
	b := e.binding()
	if b == nil {
		return playback.Status{}
	}
	return b.machine.Status()
}

// State returns the playback state, idle before any bind.
func (e *Engine) State() playback.State {
	b := e.binding()
	if b == nil {
		return playback.StateIdle
	}
	return b.machine.State()
}

func (e *Engine) binding() *binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) isPaused() bool {
	return e.cfg.Surface.Paused()
}

// --- Subtitles ---

// SetSubtitles replaces the subtitle track list and resets the
// selection to off.
func (e *Engine) SetSubtitles(tracks []SubtitleTrack) {
	e.mu.Lock()
	e.subtitles = append([]SubtitleTrack(nil), tracks...)
	e.subtitle = SubtitlesOff
	e.mu.Unlock()
}

// Subtitles returns the available subtitle tracks.
func (e *Engine) Subtitles() []SubtitleTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SubtitleTrack(nil), e.subtitles...)
}

// SelectSubtitle picks a track by language, or SubtitlesOff. Unknown
// languages are a silent no-op.
func (e *Engine) SelectSubtitle(language string) {
	e.Interact()
	e.mu.Lock()
	defer e.mu.Unlock()
	if language == SubtitlesOff {
		e.subtitle = SubtitlesOff
		return
	}
	for _, track := range e.subtitles {
		if track.Language == language {
			e.subtitle = language
			return
		}
	}
}

// SelectedSubtitle returns the selected language, SubtitlesOff when
// none.
func (e *Engine) SelectedSubtitle() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subtitle
}

// --- Controls ---

// Interact marks a user interaction: controls become visible and the
// auto-hide timer restarts, unless playback is paused, in which case
// controls stay up.
func (e *Engine) Interact() {
	e.controls.interact()
}

// ControlsVisible reports whether the controls overlay is showing.
func (e *Engine) ControlsVisible() bool {
	return e.controls.visible()
}
