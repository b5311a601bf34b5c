// Package runtime defines the boundary to the adaptive streaming
// runtime.
//
// This file implements HLSRuntime, the headless HLS client behind the
// Runtime interface: it fetches the master playlist, builds the level
// inventory, then polls the selected media playlist and downloads
// fragments, feeding the media buffer and emitting typed events.
//
// Manifest parsing is delegated to github.com/grafov/m3u8. Each fetch
// records a delivery.Observation so the telemetry recorder can look up
// transfer sizes later, and carries a delivery classification derived
// from the response headers.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/randomizedcoder/go-hls-playback/internal/delivery"
)

const (
	// DefaultBufferAhead is how many seconds of media the fragment loop
	// keeps buffered ahead of the playback position.
	DefaultBufferAhead = 30.0

	// DefaultPollInterval is how often the loop re-checks buffer
	// occupancy while ahead of target.
	DefaultPollInterval = 200 * time.Millisecond

	// segmentRetries is how many times a failing fragment fetch is
	// retried before the error is fatal.
	segmentRetries = 3

	// bandwidthWindow is the number of fragment downloads averaged into
	// the bandwidth estimate.
	bandwidthWindow = 8
)

// Appender is the slice of the media surface the runtime feeds:
// metadata once known, buffered seconds per fragment, and the playback
// position for buffer-ahead pacing.
type Appender interface {
	SetMetadata(duration float64)
	AppendBuffer(seconds float64)
	CurrentTime() float64
	BufferedEnd() float64
}

// HLSConfig configures an HLSRuntime.
type HLSConfig struct {
	URL          string
	Client       *http.Client // nil = http.DefaultClient
	Timings      *delivery.TimingStore
	Appender     Appender
	Logger       *slog.Logger
	UserAgent    string
	BufferAhead  float64       // 0 = DefaultBufferAhead
	PollInterval time.Duration // 0 = DefaultPollInterval
}

// HLSRuntime is the real, network-backed Runtime implementation.
//
// One instance serves one source URL; rebinds construct a fresh
// instance. Destroy cancels the fetch goroutine and is idempotent.
type HLSRuntime struct {
	cfg    HLSConfig
	client *http.Client
	logger *slog.Logger

	mu           sync.Mutex
	cb           EventCallback
	levels       []Level
	currentLevel int
	nextLevel    int // Takes effect at the next fragment boundary
	loadLevel    int
	immediate    int // Pending SetCurrentLevel request
	destroyed    bool

	bw bandwidthEstimator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHLSRuntime creates a runtime for one source URL. Call SetCallback
// then StartLoad.
func NewHLSRuntime(cfg HLSConfig) *HLSRuntime {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferAhead <= 0 {
		cfg.BufferAhead = DefaultBufferAhead
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HLSRuntime{
		cfg:          cfg,
		client:       client,
		logger:       logger,
		currentLevel: AutoLevel,
		nextLevel:    AutoLevel,
		loadLevel:    AutoLevel,
		immediate:    AutoLevel,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetCallback registers the event sink.
func (r *HLSRuntime) SetCallback(cb EventCallback) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

// StartLoad begins the fetch loop.
func (r *HLSRuntime) StartLoad() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
}

// StopLoad halts fragment loading. The current implementation treats
// stop as destroy-without-teardown semantics: the loop exits and a new
// runtime is constructed on rebind, which is how the engine uses it.
func (r *HLSRuntime) StopLoad() {
	r.cancel()
}

// Destroy cancels the fetch loop and waits for it to exit. Idempotent.
// No events are delivered after Destroy returns.
func (r *HLSRuntime) Destroy() {
	r.once.Do(func() {
		r.mu.Lock()
		r.destroyed = true
		r.cb = nil
		r.mu.Unlock()
		r.cancel()
		r.wg.Wait()
	})
}

// Levels returns the parsed level inventory.
func (r *HLSRuntime) Levels() []Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Level, len(r.levels))
	copy(out, r.levels)
	return out
}

// CurrentLevel returns the level currently feeding the buffer.
func (r *HLSRuntime) CurrentLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLevel
}

// SetCurrentLevel requests an immediate switch: the next fragment fetch
// uses the new level without waiting for a natural boundary.
func (r *HLSRuntime) SetCurrentLevel(index int) {
	r.mu.Lock()
	r.immediate = index
	r.mu.Unlock()
}

// SetNextLevel schedules a switch at the next fragment boundary.
func (r *HLSRuntime) SetNextLevel(index int) {
	r.mu.Lock()
	r.nextLevel = index
	r.mu.Unlock()
}

// SetLoadLevel constrains which level the fetcher downloads.
// AutoLevel restores bandwidth-driven selection.
func (r *HLSRuntime) SetLoadLevel(index int) {
	r.mu.Lock()
	r.loadLevel = index
	r.mu.Unlock()
}

// BandwidthEstimate returns the sliding-window estimate in bits/sec.
func (r *HLSRuntime) BandwidthEstimate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bw.estimate()
}

// emit delivers one event to the callback, if still attached.
func (r *HLSRuntime) emit(ev Event) {
	ev.Timestamp = time.Now()
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// run is the fetch loop. All fatal errors funnel into a single
// EventError emission; nothing panics across the event boundary.
func (r *HLSRuntime) run() {
	if err := r.playSession(); err != nil {
		if r.ctx.Err() != nil {
			return // Destroyed mid-flight, swallow.
		}
		r.logger.Warn("hls_runtime_failed", "url", r.cfg.URL, "error", err)
		r.emit(Event{Kind: EventError, Message: err.Error(), Fatal: true})
	}
}

func (r *HLSRuntime) playSession() error {
	r.emit(Event{Kind: EventManifestLoading, URL: r.cfg.URL})

	levels, src, err := r.loadMaster()
	if err != nil {
		return fmt.Errorf("loading master playlist: %w", err)
	}

	r.mu.Lock()
	r.levels = levels
	r.mu.Unlock()

	r.emit(Event{Kind: EventManifestParsed, URL: r.cfg.URL, Levels: levels, Delivery: src})

	level := r.pickLevel(AutoLevel)
	segments, duration, err := r.loadMediaPlaylist(levels[level])
	if err != nil {
		return fmt.Errorf("loading media playlist: %w", err)
	}
	if r.cfg.Appender != nil {
		r.cfg.Appender.SetMetadata(duration)
	}

	r.setCurrent(level)
	r.emit(Event{Kind: EventLevelSwitched, Level: level})

	for i := 0; i < len(segments); i++ {
		if err := r.waitForBufferRoom(); err != nil {
			return nil // Destroyed while pacing.
		}

		// Re-evaluate the level at each fragment boundary. An immediate
		// (current-level) request also lands here; pacing makes the
		// window small.
		if next := r.pickLevel(level); next != level {
			r.emit(Event{Kind: EventLevelSwitching, Level: next})
			newSegments, _, err := r.loadMediaPlaylist(levels[next])
			if err != nil {
				return fmt.Errorf("switching to level %d: %w", next, err)
			}
			// Renditions are assumed time-aligned: continue at the same
			// segment index in the new playlist.
			if i < len(newSegments) {
				segments = newSegments
			}
			level = next
			r.setCurrent(level)
			r.emit(Event{Kind: EventLevelSwitched, Level: level})
		}

		seg := segments[i]
		bytes, src, elapsed, err := r.fetchSegment(seg.url)
		if err != nil {
			return fmt.Errorf("fetching segment %q: %w", seg.url, err)
		}

		if r.cfg.Appender != nil {
			r.cfg.Appender.AppendBuffer(seg.duration)
		}
		r.emit(Event{
			Kind:      EventFragmentBuffered,
			Level:     level,
			URL:       seg.url,
			Bytes:     bytes,
			Duration:  seg.duration,
			FetchTime: elapsed,
			Delivery:  src,
		})

		if est := r.recordBandwidth(bytes, elapsed); est > 0 {
			r.emit(Event{Kind: EventBandwidth, BandwidthBps: est})
		}
	}

	r.emit(Event{Kind: EventEnded})
	return nil
}

// setCurrent updates the current level under lock.
func (r *HLSRuntime) setCurrent(level int) {
	r.mu.Lock()
	r.currentLevel = level
	r.mu.Unlock()
}

// pickLevel resolves the level for the next fragment: a pending
// immediate request wins, then the next-fragment override, then the
// load-level constraint, then bandwidth-driven auto selection.
func (r *HLSRuntime) pickLevel(current int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.immediate != AutoLevel {
		level := r.immediate
		r.immediate = AutoLevel
		return r.clampLevel(level)
	}
	if r.nextLevel != AutoLevel {
		level := r.nextLevel
		r.nextLevel = AutoLevel
		return r.clampLevel(level)
	}
	if r.loadLevel != AutoLevel {
		return r.clampLevel(r.loadLevel)
	}
	return r.autoLevelLocked(current)
}

// autoLevelLocked picks the highest-bitrate level sustainable at ~80%
// of the estimated bandwidth. With no estimate yet it keeps the current
// level, or the first one before any fragment has been fetched.
func (r *HLSRuntime) autoLevelLocked(current int) int {
	if len(r.levels) == 0 {
		return 0
	}
	est := r.bw.estimate()
	if est <= 0 {
		if current >= 0 && current < len(r.levels) {
			return current
		}
		return 0
	}

	budget := int64(float64(est) * 0.8)
	best := 0
	var bestBitrate int64 = -1
	lowest := 0
	var lowestBitrate int64 = -1
	for i, level := range r.levels {
		if lowestBitrate < 0 || level.Bitrate < lowestBitrate {
			lowest = i
			lowestBitrate = level.Bitrate
		}
		if level.Bitrate <= budget && level.Bitrate > bestBitrate {
			best = i
			bestBitrate = level.Bitrate
		}
	}
	if bestBitrate < 0 {
		return lowest // Nothing fits, take the cheapest rendition.
	}
	return best
}

func (r *HLSRuntime) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= len(r.levels) {
		return len(r.levels) - 1
	}
	return level
}

// recordBandwidth folds one fragment download into the estimator.
func (r *HLSRuntime) recordBandwidth(bytes int64, elapsed time.Duration) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bw.add(bytes, elapsed)
	return r.bw.estimate()
}

// waitForBufferRoom blocks until the buffer is below the ahead target
// or the runtime is destroyed.
func (r *HLSRuntime) waitForBufferRoom() error {
	if r.cfg.Appender == nil {
		return r.ctx.Err()
	}
	for {
		ahead := r.cfg.Appender.BufferedEnd() - r.cfg.Appender.CurrentTime()
		if ahead < r.cfg.BufferAhead {
			return r.ctx.Err()
		}
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// --- Playlist loading ---

type segment struct {
	url      string
	duration float64
}

// loadMaster fetches and parses the master playlist. A media playlist
// at the top level is treated as a single-level inventory.
func (r *HLSRuntime) loadMaster() ([]Level, delivery.Source, error) {
	body, meta, err := r.fetch(r.cfg.URL)
	if err != nil {
		return nil, delivery.SourceUnknown, err
	}
	src := delivery.Classify(meta)

	playlist, kind, err := m3u8.DecodeFrom(strings.NewReader(string(body)), false)
	if err != nil {
		return nil, src, fmt.Errorf("parsing playlist: %w", err)
	}

	switch kind {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return nil, src, fmt.Errorf("master playlist has no variants")
		}
		levels := make([]Level, 0, len(master.Variants))
		for i, variant := range master.Variants {
			if variant == nil {
				continue
			}
			levels = append(levels, Level{
				Index:   i,
				Height:  resolutionHeight(variant.Resolution),
				Bitrate: int64(variant.Bandwidth),
				URI:     resolveURL(r.cfg.URL, variant.URI),
			})
		}
		return levels, src, nil

	case m3u8.MEDIA:
		// Single-rendition stream: synthesize one level pointing at the
		// source itself.
		return []Level{{Index: 0, URI: r.cfg.URL}}, src, nil

	default:
		return nil, src, fmt.Errorf("unrecognized playlist type")
	}
}

// loadMediaPlaylist fetches one rendition's playlist and returns its
// segments and total duration.
func (r *HLSRuntime) loadMediaPlaylist(level Level) ([]segment, float64, error) {
	body, _, err := r.fetch(level.URI)
	if err != nil {
		return nil, 0, err
	}

	playlist, kind, err := m3u8.DecodeFrom(strings.NewReader(string(body)), false)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing media playlist: %w", err)
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || kind != m3u8.MEDIA {
		return nil, 0, fmt.Errorf("expected media playlist at %q", level.URI)
	}

	segments := make([]segment, 0, media.Count())
	var total float64
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segments = append(segments, segment{
			url:      resolveURL(level.URI, seg.URI),
			duration: seg.Duration,
		})
		total += seg.Duration
	}
	if len(segments) == 0 {
		return nil, 0, fmt.Errorf("media playlist %q has no segments", level.URI)
	}
	return segments, total, nil
}

// fetchSegment downloads one fragment with retries, returning the byte
// count, the delivery classification, and the wall time of the
// successful attempt (for the bandwidth estimator).
func (r *HLSRuntime) fetchSegment(url string) (int64, delivery.Source, time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < segmentRetries; attempt++ {
		if r.ctx.Err() != nil {
			return 0, delivery.SourceUnknown, 0, r.ctx.Err()
		}
		start := time.Now()
		body, meta, err := r.fetch(url)
		if err != nil {
			lastErr = err
			continue
		}
		return int64(len(body)), delivery.Classify(meta), time.Since(start), nil
	}
	return 0, delivery.SourceUnknown, 0, lastErr
}

// fetch GETs one URL, records the observation into the timing store,
// and returns the body plus response metadata for classification.
func (r *HLSRuntime) fetch(rawURL string) ([]byte, delivery.ResponseMeta, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, delivery.ResponseMeta{}, err
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, delivery.ResponseMeta{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, delivery.ResponseMeta{}, fmt.Errorf("server returned %d for %q", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, delivery.ResponseMeta{}, err
	}

	encoded := resp.ContentLength
	if encoded < 0 {
		encoded = int64(len(body))
	}
	meta := delivery.ResponseMeta{
		Header:          resp.Header,
		TransferSize:    transferSize(resp, int64(len(body))),
		EncodedBodySize: encoded,
		DecodedBodySize: int64(len(body)),
		NextHopProtocol: strings.ToLower(resp.Proto),
	}

	if r.cfg.Timings != nil {
		r.cfg.Timings.Record(delivery.Observation{
			URL:             rawURL,
			TransferSize:    meta.TransferSize,
			EncodedBodySize: meta.EncodedBodySize,
			DecodedBodySize: meta.DecodedBodySize,
			NextHopProtocol: meta.NextHopProtocol,
		})
	}
	return body, meta, nil
}

// transferSize approximates bytes moved over the network: body plus a
// rough serialization of the response headers.
func transferSize(resp *http.Response, body int64) int64 {
	var headerBytes int64
	for name, values := range resp.Header {
		for _, v := range values {
			headerBytes += int64(len(name) + len(v) + 4) // "Name: value\r\n"
		}
	}
	return body + headerBytes
}

// resolveURL resolves a possibly-relative reference against its
// playlist URL.
func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// resolutionHeight extracts the vertical resolution from a manifest
// RESOLUTION attribute ("1920x1080" -> 1080). Unknown shapes report 0.
func resolutionHeight(resolution string) int {
	parts := strings.SplitN(strings.ToLower(resolution), "x", 2)
	if len(parts) != 2 {
		return 0
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || height < 0 {
		return 0
	}
	return height
}

// --- Bandwidth estimation ---

// bandwidthEstimator keeps a sliding window of per-fragment throughput
// samples. Guarded by the runtime's mutex.
type bandwidthEstimator struct {
	samples []float64 // Bits per second
}

func (b *bandwidthEstimator) add(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}
	bps := float64(bytes*8) / elapsed.Seconds()
	b.samples = append(b.samples, bps)
	if len(b.samples) > bandwidthWindow {
		b.samples = b.samples[1:]
	}
}

func (b *bandwidthEstimator) estimate() int64 {
	if len(b.samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range b.samples {
		total += s
	}
	return int64(total / float64(len(b.samples)))
}
