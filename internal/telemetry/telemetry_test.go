package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
)

// testClock hands out strictly increasing times, one second apart.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClockedSession(clock *testClock) *Session {
	return newSessionAt("https://cdn.example/master.m3u8", "content-1", "test-agent", clock.now)
}

// fakeSubmitter records payloads by delivery path.
type fakeSubmitter struct {
	mu      sync.Mutex
	submits []Payload
	beacons []Payload
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, p Payload) error {
	f.mu.Lock()
	f.submits = append(f.submits, p)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSubmitter) SubmitBeacon(p Payload) {
	f.mu.Lock()
	f.beacons = append(f.beacons, p)
	f.mu.Unlock()
}

func (f *fakeSubmitter) counts() (submits, beacons int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits), len(f.beacons)
}

func TestSession_TimestampsAreFirstWriteWins(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock)

	s.MarkManifestRequested()
	first := s.manifestRequestedAt
	s.MarkManifestRequested()
	if !s.manifestRequestedAt.Equal(first) {
		t.Error("manifestRequestedAt moved on a second mark")
	}

	s.MarkFirstFrame()
	firstFrame := s.firstFrameAt
	s.MarkFirstFrame()
	if !s.firstFrameAt.Equal(firstFrame) {
		t.Error("firstFrameAt moved on a second mark")
	}
}

func TestSession_TimestampOrdering(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock)

	// loadstart -> loadedmetadata -> play -> playing
	s.MarkManifestRequested()
	s.MarkManifestLoaded(delivery.Observation{}, false)
	s.MarkPlaybackRequested()
	s.MarkFirstFrame()

	if s.manifestRequestedAt.After(s.manifestLoadedAt) {
		t.Error("manifestRequestedAt > manifestLoadedAt")
	}
	if s.manifestLoadedAt.After(s.playbackRequestedAt) {
		t.Error("manifestLoadedAt > playbackRequestedAt")
	}
	if s.playbackRequestedAt.After(s.firstFrameAt) {
		t.Error("playbackRequestedAt > firstFrameAt")
	}
}

func TestSession_NoPayloadWithoutFirstFrame(t *testing.T) {
	s := newClockedSession(newTestClock())
	s.MarkManifestRequested()
	s.MarkManifestLoaded(delivery.Observation{}, false)
	s.MarkPlaybackRequested()
	// No first frame rendered.

	if _, ok := s.payload(ReasonEnded); ok {
		t.Error("payload constructed without a first frame")
	}
	if s.Sent() {
		t.Error("metricsSent flipped without a payload")
	}
}

func TestSession_PayloadAtMostOnce(t *testing.T) {
	s := newClockedSession(newTestClock())
	s.MarkFirstFrame()

	if _, ok := s.payload(ReasonEnded); !ok {
		t.Fatal("first payload refused")
	}
	if _, ok := s.payload(ReasonUnmount); ok {
		t.Error("second payload constructed for the same session")
	}
	if !s.Sent() {
		t.Error("Sent() = false after dispatch")
	}
}

func TestSession_PayloadLatencies(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock) // mountedAt = t+1s

	s.MarkManifestRequested()                      // t+2s
	s.MarkManifestLoaded(delivery.Observation{     // t+3s
		TransferSize:    1200,
		EncodedBodySize: 1100,
		DecodedBodySize: 4000,
		NextHopProtocol: "h2",
	}, true)
	s.MarkPlaybackRequested() // t+4s
	s.MarkFirstFrame()        // t+5s
	s.IncrementBuffering()
	s.IncrementBuffering()
	s.SetDeliverySource(delivery.SourceEdgeCache)
	s.SetBandwidth(8_000_000)

	p, ok := s.payload(ReasonEnded)
	if !ok {
		t.Fatal("payload refused")
	}

	if p.StartupLatency != 1000 {
		t.Errorf("StartupLatency = %d, want 1000", p.StartupLatency)
	}
	if p.FirstFrameLatency != 4000 {
		t.Errorf("FirstFrameLatency = %d, want 4000", p.FirstFrameLatency)
	}
	if p.ManifestLatency == nil || *p.ManifestLatency != 1000 {
		t.Errorf("ManifestLatency = %v, want 1000", p.ManifestLatency)
	}
	if p.BufferingEvents != 2 {
		t.Errorf("BufferingEvents = %d, want 2", p.BufferingEvents)
	}
	if p.DeliverySource != "edge_cache" {
		t.Errorf("DeliverySource = %q, want edge_cache", p.DeliverySource)
	}
	if p.BandwidthBps != 8_000_000 {
		t.Errorf("BandwidthBps = %d, want 8000000", p.BandwidthBps)
	}
	if p.TransferSize != 1200 || p.Protocol != "h2" {
		t.Errorf("timing fields = %d/%q, want 1200/h2", p.TransferSize, p.Protocol)
	}
	if p.Reason != "ended" {
		t.Errorf("Reason = %q, want ended", p.Reason)
	}
	if p.SessionID == "" {
		t.Error("SessionID is empty")
	}
}

func TestSession_DeliverySourceFirstClassificationWins(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock)
	s.MarkFirstFrame()

	s.SetDeliverySource(delivery.SourceEdgeCache)
	s.SetDeliverySource(delivery.SourceOrigin)

	p, ok := s.payload(ReasonEnded)
	if !ok {
		t.Fatal("payload refused")
	}
	if p.DeliverySource != "edge_cache" {
		t.Errorf("DeliverySource = %q, want edge_cache (first classification)", p.DeliverySource)
	}
}

func TestSession_DeliverySourceUnknownDoesNotBlock(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock)
	s.MarkFirstFrame()

	// An unclassified manifest fetch must leave the slot open for a
	// later segment-fetch classification.
	s.SetDeliverySource(delivery.SourceUnknown)
	s.SetDeliverySource(delivery.SourceEdgeCache)

	p, ok := s.payload(ReasonEnded)
	if !ok {
		t.Fatal("payload refused")
	}
	if p.DeliverySource != "edge_cache" {
		t.Errorf("DeliverySource = %q, want edge_cache", p.DeliverySource)
	}
}

func TestSession_StartupLatencyFallsBackToMount(t *testing.T) {
	clock := newTestClock()
	s := newClockedSession(clock) // mountedAt = t+1s
	s.MarkFirstFrame()            // t+2s, no explicit play request

	p, ok := s.payload(ReasonEnded)
	if !ok {
		t.Fatal("payload refused")
	}
	if p.StartupLatency != 1000 {
		t.Errorf("StartupLatency = %d, want 1000 (mount fallback)", p.StartupLatency)
	}
	if p.ManifestLatency != nil {
		t.Errorf("ManifestLatency = %v, want nil without both anchors", p.ManifestLatency)
	}
}

func TestRecorder_BeginDispatchesPriorSession(t *testing.T) {
	sub := &fakeSubmitter{}
	r := NewRecorder(sub, "test-agent", nil)

	first := r.Begin("https://cdn.example/a.m3u8", "a")
	first.MarkFirstFrame()

	r.Begin("https://cdn.example/b.m3u8", "b")

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(sub.submits))
	}
	if sub.submits[0].Reason != "source_change" {
		t.Errorf("reason = %q, want source_change", sub.submits[0].Reason)
	}
	if sub.submits[0].SourceURL != "https://cdn.example/a.m3u8" {
		t.Errorf("source = %q, want the superseded source", sub.submits[0].SourceURL)
	}
}

func TestRecorder_CloseAfterNaturalDispatchIsSilent(t *testing.T) {
	sub := &fakeSubmitter{}
	r := NewRecorder(sub, "test-agent", nil)

	session := r.Begin("https://cdn.example/a.m3u8", "")
	session.MarkFirstFrame()

	r.Dispatch(ReasonEnded)
	r.Close(ReasonUnmount)

	submits, beacons := sub.counts()
	if submits != 1 || beacons != 0 {
		t.Errorf("submits=%d beacons=%d, want exactly one submit", submits, beacons)
	}
}

func TestRecorder_BeforeUnloadUsesBeacon(t *testing.T) {
	sub := &fakeSubmitter{}
	r := NewRecorder(sub, "test-agent", nil)

	session := r.Begin("https://cdn.example/a.m3u8", "")
	session.MarkFirstFrame()

	r.Close(ReasonBeforeUnload)

	submits, beacons := sub.counts()
	if submits != 0 || beacons != 1 {
		t.Errorf("submits=%d beacons=%d, want exactly one beacon", submits, beacons)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.beacons[0].Reason != "beforeunload" {
		t.Errorf("reason = %q, want beforeunload", sub.beacons[0].Reason)
	}
}

func TestRecorder_AbandonedSessionSendsNothing(t *testing.T) {
	sub := &fakeSubmitter{}
	r := NewRecorder(sub, "test-agent", nil)

	r.Begin("https://cdn.example/a.m3u8", "")
	// No frame rendered on any path.
	r.Dispatch(ReasonError)
	r.Close(ReasonUnmount)
	r.Begin("https://cdn.example/b.m3u8", "")

	submits, beacons := sub.counts()
	if submits != 0 || beacons != 0 {
		t.Errorf("submits=%d beacons=%d, want nothing for an abandoned session", submits, beacons)
	}
}

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      DeviceClass
	}{
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0", DeviceDesktop},
		{"desktop empty", "", DeviceDesktop},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari", DeviceMobile},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", DeviceMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", DeviceMobile},
		{"samsung tv", "Mozilla/5.0 (SMART-TV; Linux; Tizen 7.0)", DeviceTV},
		{"lg webos", "Mozilla/5.0 (Web0S; Linux/SmartTV) webOS.TV-2023", DeviceTV},
		{"roku", "Roku4640X/DVP-7.70", DeviceTV},
		{"tv beats mobile tokens", "Mozilla/5.0 (Linux; Android 9; SMART-TV) Mobile", DeviceTV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDevice(tt.userAgent); got != tt.want {
				t.Errorf("ClassifyDevice(%q) = %v, want %v", tt.userAgent, got, tt.want)
			}
		})
	}
}

func TestReason_String(t *testing.T) {
	tests := []struct {
		reason Reason
		want   string
	}{
		{ReasonSourceChange, "source_change"},
		{ReasonEnded, "ended"},
		{ReasonError, "error"},
		{ReasonBeforeUnload, "beforeunload"},
		{ReasonUnmount, "unmount"},
		{ReasonUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("Reason(%d).String() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestHTTPSubmitter_Submit(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotAuth  string
		gotBody  Payload
		gotCType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sub := NewHTTPSubmitter(server.URL+"/v1/metrics", "secret-token", server.Client(), nil)
	err := sub.Submit(context.Background(), Payload{
		SessionID: "s-1",
		Reason:    "ended",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/v1/metrics" {
		t.Errorf("path = %q, want /v1/metrics", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
	if gotCType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotCType)
	}
	if gotBody.SessionID != "s-1" || gotBody.Reason != "ended" {
		t.Errorf("body = %+v, want session s-1 reason ended", gotBody)
	}
}

func TestHTTPSubmitter_SetTokenRotatesCredential(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sub := NewHTTPSubmitter(server.URL, "initial", server.Client(), nil)
	if err := sub.Submit(context.Background(), Payload{SessionID: "s-1"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	sub.SetToken("rotated")
	if err := sub.Submit(context.Background(), Payload{SessionID: "s-2"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	sub.SetToken("")
	if err := sub.Submit(context.Background(), Payload{SessionID: "s-3"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Bearer initial", "Bearer rotated", ""}
	if len(auths) != len(want) {
		t.Fatalf("submits = %d, want %d", len(auths), len(want))
	}
	for i := range want {
		if auths[i] != want[i] {
			t.Errorf("submit %d authorization = %q, want %q", i, auths[i], want[i])
		}
	}
}

func TestHTTPSubmitter_NonSuccessIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	sub := NewHTTPSubmitter(server.URL, "", server.Client(), nil)
	if err := sub.Submit(context.Background(), Payload{}); err == nil {
		t.Error("Submit() = nil error for a 403 response")
	}
}
