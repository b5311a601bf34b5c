// Package delivery classifies how a fetched resource was delivered.
//
// This file implements the TimingStore, the Go analogue of the browser's
// resource-timing buffer: every completed fetch records an Observation,
// and callers can look up the transfer/encoding sizes and protocol for a
// specific resource after the fact (e.g. the primary manifest once the
// runtime reports it loaded).
package delivery

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// MaxObservations caps the number of retained fetch observations.
// Matches the spirit of the browser's resource-timing buffer: old entries
// are evicted, lookups prefer the most recent.
const MaxObservations = 256

// Observation is the record of one completed fetch.
type Observation struct {
	URL             string
	TransferSize    int64
	EncodedBodySize int64
	DecodedBodySize int64
	NextHopProtocol string
	CompletedAt     time.Time
}

// TimingStore retains recent fetch observations for lookup.
//
// Thread-safe: the runtime's fetch loop records while the telemetry
// recorder looks up.
type TimingStore struct {
	mu      sync.Mutex
	entries []Observation
}

// NewTimingStore creates an empty store.
func NewTimingStore() *TimingStore {
	return &TimingStore{
		entries: make([]Observation, 0, MaxObservations),
	}
}

// Record adds an observation, evicting the oldest entry when full.
// A zero CompletedAt is filled with the current time.
func (s *TimingStore) Record(obs Observation) {
	if obs.CompletedAt.IsZero() {
		obs.CompletedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= MaxObservations {
		copy(s.entries, s.entries[1:])
		s.entries[len(s.entries)-1] = obs
		return
	}
	s.entries = append(s.entries, obs)
}

// Lookup finds the observation for target, matching by URL path with the
// query string ignored (CDN tokens and cache-busting parameters change
// between requests for the same resource). When several entries match,
// the most recently completed one wins.
func (s *TimingStore) Lookup(target string) (Observation, bool) {
	targetPath := pathOf(target)
	if targetPath == "" {
		return Observation{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best Observation
	var found bool
	for _, obs := range s.entries {
		if pathOf(obs.URL) != targetPath {
			continue
		}
		if !found || obs.CompletedAt.After(best.CompletedAt) {
			best = obs
			found = true
		}
	}
	return best, found
}

// Len returns the number of retained observations.
func (s *TimingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops all observations. Called when a new source binds so stale
// entries from the previous source cannot match.
func (s *TimingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

// pathOf extracts the path component of a URL, ignoring the query
// string. Falls back to manual stripping for non-URL strings so relative
// segment names still match.
func pathOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	if idx := strings.Index(raw, "?"); idx > 0 {
		return raw[:idx]
	}
	return raw
}
