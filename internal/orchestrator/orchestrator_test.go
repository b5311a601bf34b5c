package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-hls-playback/internal/config"
	"github.com/randomizedcoder/go-hls-playback/internal/stats"
	"github.com/randomizedcoder/go-hls-playback/internal/telemetry"
)

// capturingSubmitter records forwarded payloads.
type capturingSubmitter struct {
	mu       sync.Mutex
	payloads []telemetry.Payload
}

func (c *capturingSubmitter) Submit(ctx context.Context, p telemetry.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

func (c *capturingSubmitter) SubmitBeacon(p telemetry.Payload) {
	c.Submit(context.Background(), p)
}

func (c *capturingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestTeeSubmitter_RecordsLocally(t *testing.T) {
	agg := stats.NewAggregator()
	tee := &teeSubmitter{aggregator: agg}

	payload := telemetry.Payload{
		SessionID:      "s-1",
		Reason:         "ended",
		DeliverySource: "edge_cache",
		DeviceClass:    "desktop",
		StartupLatency: 420,
	}

	if err := tee.Submit(context.Background(), payload); err != nil {
		t.Fatalf("Submit() = %v, want nil", err)
	}

	snapshot := agg.Aggregate()
	if snapshot.SessionsCompleted != 1 {
		t.Errorf("SessionsCompleted = %d, want 1", snapshot.SessionsCompleted)
	}
	if snapshot.Reasons["ended"] != 1 {
		t.Errorf("Reasons[ended] = %d, want 1", snapshot.Reasons["ended"])
	}
	if snapshot.DeliverySources["edge_cache"] != 1 {
		t.Errorf("DeliverySources[edge_cache] = %d, want 1", snapshot.DeliverySources["edge_cache"])
	}
}

func TestTeeSubmitter_ForwardsToRemote(t *testing.T) {
	agg := stats.NewAggregator()
	remote := &capturingSubmitter{}
	tee := &teeSubmitter{aggregator: agg, next: remote}

	tee.Submit(context.Background(), telemetry.Payload{Reason: "ended"})
	tee.SubmitBeacon(telemetry.Payload{Reason: "beforeunload"})

	if remote.count() != 2 {
		t.Errorf("remote payloads = %d, want 2", remote.count())
	}
	if got := agg.Aggregate().SessionsCompleted; got != 2 {
		t.Errorf("SessionsCompleted = %d, want 2", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "03:04:05"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		b    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.b); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.b, got, tt.want)
		}
	}
}

const orchMasterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=5000000,RESOLUTION=1920x1080
1080.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1400000,RESOLUTION=854x480
480.m3u8
`

func orchMediaPlaylist(prefix string) string {
	return fmt.Sprintf(`#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXTINF:4.000,
%s_seg0.ts
#EXTINF:4.000,
%s_seg1.ts
#EXT-X-ENDLIST
`, prefix, prefix)
}

func newOrchOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, orchMasterPlaylist)
	})
	for _, prefix := range []string{"1080", "480"} {
		prefix := prefix
		mux.HandleFunc("/"+prefix+".m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, orchMediaPlaylist(prefix))
		})
		for i := 0; i < 2; i++ {
			mux.HandleFunc(fmt.Sprintf("/%s_seg%d.ts", prefix, i), func(w http.ResponseWriter, r *http.Request) {
				w.Write(make([]byte, 1024))
			})
		}
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestOrchestrator_Run drives a full run against a local origin: two
// players play an 8-second VOD at high clock rate and the run ends on
// its own once every session completes.
//
// The Prometheus collector registers on the default registry, so only
// this test may construct an Orchestrator in this package.
func TestOrchestrator_Run(t *testing.T) {
	origin := newOrchOrigin(t)

	cfg := config.DefaultConfig()
	cfg.StreamURL = origin.URL + "/master.m3u8"
	cfg.Players = 2
	cfg.RampRate = 100
	cfg.RampJitter = 0
	cfg.ClockRate = 400 // 8s of media in ~20ms
	cfg.SkipPreflight = true
	cfg.MetricsAddr = "127.0.0.1:0"

	orch := New(cfg, testLogger(), "test")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	manager := orch.PlayerManager()
	if manager.StartedCount() != 2 {
		t.Errorf("StartedCount() = %d, want 2", manager.StartedCount())
	}
	if manager.CompletedCount() != 2 {
		t.Errorf("CompletedCount() = %d, want 2", manager.CompletedCount())
	}

	agg := orch.Aggregator().Aggregate()
	if agg.TotalFragments != 4 {
		t.Errorf("TotalFragments = %d, want 4", agg.TotalFragments)
	}
	if agg.SessionsCompleted != 2 {
		t.Errorf("SessionsCompleted = %d, want 2", agg.SessionsCompleted)
	}
	if agg.Reasons["ended"] != 2 {
		t.Errorf("Reasons[ended] = %d, want 2", agg.Reasons["ended"])
	}
}
