package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
	"github.com/randomizedcoder/go-hls-playback/internal/media"
	"github.com/randomizedcoder/go-hls-playback/internal/playback"
	"github.com/randomizedcoder/go-hls-playback/internal/runtime"
	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
)

// stubRuntime is a controllable runtime for engine tests. The test
// drives it by emitting events through its callback.
type stubRuntime struct {
	mu        sync.Mutex
	cb        runtime.EventCallback
	started   bool
	destroyed int
	levels    []runtime.Level
}

func (s *stubRuntime) SetCallback(cb runtime.EventCallback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *stubRuntime) StartLoad() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *stubRuntime) StopLoad() {}

func (s *stubRuntime) Levels() []runtime.Level { return s.levels }
func (s *stubRuntime) CurrentLevel() int       { return runtime.AutoLevel }
func (s *stubRuntime) SetCurrentLevel(int)     {}
func (s *stubRuntime) SetNextLevel(int)        {}
func (s *stubRuntime) SetLoadLevel(int)        {}
func (s *stubRuntime) BandwidthEstimate() int64 {
	return 0
}

func (s *stubRuntime) Destroy() {
	s.mu.Lock()
	s.destroyed++
	s.cb = nil
	s.mu.Unlock()
}

func (s *stubRuntime) emit(ev runtime.Event) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// capturingSubmitter records payloads synchronously.
type capturingSubmitter struct {
	mu       sync.Mutex
	payloads []telemetry.Payload
}

func (c *capturingSubmitter) Submit(_ context.Context, p telemetry.Payload) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.mu.Unlock()
	return nil
}

func (c *capturingSubmitter) SubmitBeacon(p telemetry.Payload) {
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.mu.Unlock()
}

func (c *capturingSubmitter) all() []telemetry.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Payload(nil), c.payloads...)
}

type harness struct {
	engine    *Engine
	surface   *media.SimSurface
	runtimes  []*stubRuntime
	submitter *capturingSubmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		surface:   media.NewSimSurface(),
		submitter: &capturingSubmitter{},
	}
	recorder := telemetry.NewRecorder(h.submitter, "test-agent", nil)
	engine, err := New(Config{
		Surface:  h.surface,
		Recorder: recorder,
		NewRuntime: func(url string) runtime.Runtime {
			rt := &stubRuntime{}
			h.runtimes = append(h.runtimes, rt)
			return rt
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) lastRuntime(t *testing.T) *stubRuntime {
	t.Helper()
	if len(h.runtimes) == 0 {
		t.Fatal("no runtime was constructed")
	}
	return h.runtimes[len(h.runtimes)-1]
}

// playToFirstFrame walks the surface through load, metadata, buffer,
// and play so the session has a rendered frame.
func (h *harness) playToFirstFrame() {
	h.surface.SetMetadata(60)
	h.surface.AppendBuffer(30)
	h.engine.Play()
}

func TestEngine_ManifestSourceGoesThroughRuntime(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Load("https://cdn.example/master.m3u8", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	rt := h.lastRuntime(t)
	rt.mu.Lock()
	started := rt.started
	rt.mu.Unlock()
	if !started {
		t.Error("runtime was not started for a manifest source")
	}
	if h.engine.State() != playback.StateLoading {
		t.Errorf("state = %v, want loading", h.engine.State())
	}
}

func TestEngine_DirectSourceSkipsRuntime(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.Load("https://cdn.example/clip.webm", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(h.runtimes) != 0 {
		t.Error("a runtime was constructed for a direct source")
	}
	if got := h.surface.Source(); got != "https://cdn.example/clip.webm" {
		t.Errorf("surface source = %q, want the direct URL", got)
	}
}

func TestEngine_NativeManifestSupportSkipsRuntime(t *testing.T) {
	surface := media.NewSimSurface().WithNativeSupport(hlsMIMEType)
	engine, err := New(Config{
		Surface: surface,
		NewRuntime: func(string) runtime.Runtime {
			t.Fatal("runtime constructed despite native support")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := engine.Load("https://cdn.example/master.m3u8", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := surface.Source(); got != "https://cdn.example/master.m3u8" {
		t.Errorf("surface source = %q, want the manifest URL", got)
	}
}

func TestEngine_ManifestWithoutRuntimeIsTerminalError(t *testing.T) {
	surface := media.NewSimSurface()
	engine, err := New(Config{Surface: surface})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := engine.Load("https://cdn.example/master.m3u8", ""); err == nil {
		t.Fatal("Load() = nil error for an unsupported format")
	}
	if engine.State() != playback.StateError {
		t.Errorf("state = %v, want error", engine.State())
	}
}

func TestEngine_RebindDestroysPriorRuntime(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.engine.Load("https://cdn.example/b.m3u8", "")

	if len(h.runtimes) != 2 {
		t.Fatalf("runtimes constructed = %d, want 2", len(h.runtimes))
	}
	first := h.runtimes[0]
	first.mu.Lock()
	destroyed := first.destroyed
	first.mu.Unlock()
	if destroyed != 1 {
		t.Errorf("first runtime destroyed %d times, want 1", destroyed)
	}
}

func TestEngine_RebindClearsTimingStore(t *testing.T) {
	surface := media.NewSimSurface()
	timings := delivery.NewTimingStore()
	eng, err := New(Config{
		Surface: surface,
		Timings: timings,
		NewRuntime: func(url string) runtime.Runtime {
			return &stubRuntime{}
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := eng.Load("https://cdn.example/a.m3u8", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	timings.Record(delivery.Observation{URL: "https://cdn.example/a.m3u8", TransferSize: 512})

	if err := eng.Load("https://cdn.example/b.m3u8", ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := timings.Len(); got != 0 {
		t.Errorf("timing store Len() = %d after rebind, want 0", got)
	}
	if _, ok := timings.Lookup("https://cdn.example/a.m3u8"); ok {
		t.Error("observation from the superseded source still matches")
	}
}

func TestEngine_RebindDispatchesSourceChangeTelemetry(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "content-a")
	h.playToFirstFrame()
	h.engine.Load("https://cdn.example/b.m3u8", "content-b")

	payloads := h.submitter.all()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].Reason != "source_change" {
		t.Errorf("reason = %q, want source_change", payloads[0].Reason)
	}
	if payloads[0].ContentID != "content-a" {
		t.Errorf("content id = %q, want content-a", payloads[0].ContentID)
	}
}

func TestEngine_EndedDispatchesOnce(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.surface.SetMetadata(10)
	h.surface.AppendBuffer(10)
	h.engine.Play()
	h.surface.Advance(10) // Reaches duration, surface emits ended.

	h.engine.Close(telemetry.ReasonUnmount)

	payloads := h.submitter.all()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].Reason != "ended" {
		t.Errorf("reason = %q, want ended (unmount must not double-send)", payloads[0].Reason)
	}
}

func TestEngine_FatalRuntimeErrorFailsPlaybackAndTearsDown(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.playToFirstFrame()

	rt := h.lastRuntime(t)
	rt.emit(runtime.Event{Kind: runtime.EventError, Message: "manifest fetch failed", Fatal: true})

	if h.engine.State() != playback.StateError {
		t.Errorf("state = %v, want error", h.engine.State())
	}
	rt.mu.Lock()
	destroyed := rt.destroyed
	rt.mu.Unlock()
	if destroyed == 0 {
		t.Error("runtime not destroyed after a fatal error")
	}

	payloads := h.submitter.all()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].Reason != "error" {
		t.Errorf("reason = %q, want error", payloads[0].Reason)
	}
}

func TestEngine_SegmentFetchClassifiesDeliverySource(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.playToFirstFrame()

	rt := h.lastRuntime(t)
	// The manifest fetch carried no classification signal; the first
	// classified segment fetch fills the slot and later segments
	// cannot flip it.
	rt.emit(runtime.Event{Kind: runtime.EventManifestParsed, Delivery: delivery.SourceUnknown})
	rt.emit(runtime.Event{Kind: runtime.EventFragmentBuffered, Delivery: delivery.SourceEdgeCache})
	rt.emit(runtime.Event{Kind: runtime.EventFragmentBuffered, Delivery: delivery.SourceOrigin})

	h.engine.Close(telemetry.ReasonUnmount)

	payloads := h.submitter.all()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].DeliverySource != "edge_cache" {
		t.Errorf("DeliverySource = %q, want edge_cache from the first classified segment", payloads[0].DeliverySource)
	}
}

func TestEngine_BufferingTransitionsCountIntoTelemetry(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.surface.SetMetadata(60)
	h.surface.AppendBuffer(5)
	h.engine.Play()

	h.surface.Advance(5) // Buffer exhausted, surface stalls.

	session := h.engine.cfg.Recorder.Session()
	if got := session.BufferingEvents(); got != 1 {
		t.Errorf("buffering events = %d, want 1", got)
	}

	h.surface.AppendBuffer(10) // Resumes playing.
	h.surface.Advance(10)      // Stalls again.
	if got := session.BufferingEvents(); got != 2 {
		t.Errorf("buffering events = %d, want 2", got)
	}
}

func TestEngine_QualityPassthrough(t *testing.T) {
	h := newHarness(t)
	h.engine.Load("https://cdn.example/a.m3u8", "")

	rt := h.lastRuntime(t)
	rt.emit(runtime.Event{Kind: runtime.EventManifestParsed, Levels: []runtime.Level{
		{Index: 0, Height: 1080},
		{Index: 1, Height: 720},
	}})

	want := []string{"auto", "1080p", "720p"}
	if got := h.engine.AvailableQualities(); !reflect.DeepEqual(got, want) {
		t.Errorf("AvailableQualities() = %v, want %v", got, want)
	}
	if got := h.engine.CurrentQualityLabel(); got != "auto" {
		t.Errorf("CurrentQualityLabel() = %q, want auto", got)
	}

	h.engine.SetQuality("720p")
	if got := h.engine.CurrentQualityLabel(); got != "720p" {
		t.Errorf("CurrentQualityLabel() = %q, want 720p", got)
	}
}

func TestEngine_QualityDefaultsForDirectSource(t *testing.T) {
	h := newHarness(t)
	h.engine.Load("https://cdn.example/clip.webm", "")

	if got := h.engine.AvailableQualities(); !reflect.DeepEqual(got, []string{"auto"}) {
		t.Errorf("AvailableQualities() = %v, want [auto]", got)
	}
	h.engine.SetQuality("1080p") // Silent no-op.
}

func TestEngine_LateEventsFromSupersededBindingDropped(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	first := h.lastRuntime(t)
	firstCB := func() runtime.EventCallback {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.cb
	}()

	h.engine.Load("https://cdn.example/b.m3u8", "")

	// A straggler event through the old callback must not reach the new
	// binding's state.
	if firstCB != nil {
		firstCB(runtime.Event{Kind: runtime.EventManifestParsed, Levels: []runtime.Level{
			{Index: 0, Height: 360},
		}})
	}
	if got := h.engine.AvailableQualities(); !reflect.DeepEqual(got, []string{"auto"}) {
		t.Errorf("AvailableQualities() = %v, stale binding leaked state", got)
	}
}

func TestEngine_Subtitles(t *testing.T) {
	h := newHarness(t)
	tracks := []SubtitleTrack{
		{Label: "English", Src: "https://cdn.example/en.vtt", Language: "en"},
		{Label: "Deutsch", Src: "https://cdn.example/de.vtt", Language: "de"},
	}
	h.engine.SetSubtitles(tracks)

	if got := h.engine.SelectedSubtitle(); got != SubtitlesOff {
		t.Errorf("initial selection = %q, want off", got)
	}

	h.engine.SelectSubtitle("de")
	if got := h.engine.SelectedSubtitle(); got != "de" {
		t.Errorf("selection = %q, want de", got)
	}

	h.engine.SelectSubtitle("fr") // Unknown, silent no-op.
	if got := h.engine.SelectedSubtitle(); got != "de" {
		t.Errorf("selection = %q after unknown language, want de", got)
	}

	h.engine.SelectSubtitle(SubtitlesOff)
	if got := h.engine.SelectedSubtitle(); got != SubtitlesOff {
		t.Errorf("selection = %q, want off", got)
	}

	h.engine.SetSubtitles(tracks[:1])
	if got := len(h.engine.Subtitles()); got != 1 {
		t.Errorf("tracks = %d, want 1", got)
	}
}

func TestEngine_CloseIsIdempotentAndDispatchesUnmount(t *testing.T) {
	h := newHarness(t)

	h.engine.Load("https://cdn.example/a.m3u8", "")
	h.playToFirstFrame()

	h.engine.Close(telemetry.ReasonUnmount)
	h.engine.Close(telemetry.ReasonUnmount)

	payloads := h.submitter.all()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].Reason != "unmount" {
		t.Errorf("reason = %q, want unmount", payloads[0].Reason)
	}

	if err := h.engine.Load("https://cdn.example/b.m3u8", ""); err == nil {
		t.Error("Load() after Close() should fail")
	}
}

func TestEngine_ControlsAutoHideSuppressedWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.engine.Load("https://cdn.example/a.m3u8", "")

	// Paused: interaction shows controls and never schedules a hide.
	h.engine.Interact()
	if !h.engine.ControlsVisible() {
		t.Error("controls hidden right after interaction")
	}
	h.engine.controls.hide() // Simulate the timer firing anyway.
	if !h.engine.ControlsVisible() {
		t.Error("controls hid while paused")
	}

	// Playing: the hide callback takes effect.
	h.playToFirstFrame()
	h.engine.Interact()
	h.engine.controls.hide()
	if h.engine.ControlsVisible() {
		t.Error("controls still visible after hide while playing")
	}

	// The next interaction brings them back.
	h.engine.Interact()
	if !h.engine.ControlsVisible() {
		t.Error("controls not restored by interaction")
	}
}
