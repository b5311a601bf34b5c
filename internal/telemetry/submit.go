package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// beaconTimeout bounds the fire-and-forget delivery attempt.
const beaconTimeout = 5 * time.Second

// HTTPSubmitter posts payloads as JSON to a metrics collector endpoint.
// The bearer credential lives on the submitter and can be rotated with
// SetToken while beacons are in flight.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPSubmitter creates a submitter for one collector endpoint.
// token is optional; when set it is sent as a bearer credential.
func NewHTTPSubmitter(endpoint, token string, client *http.Client, logger *slog.Logger) *HTTPSubmitter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSubmitter{
		endpoint: endpoint,
		token:    token,
		client:   client,
		logger:   logger,
	}
}

// SetToken replaces the bearer credential used on subsequent submits.
// An empty token disables the Authorization header.
func (s *HTTPSubmitter) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *HTTPSubmitter) bearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Submit posts one payload and waits for the response status.
func (s *HTTPSubmitter) Submit(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := s.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}

// SubmitBeacon fires the payload without waiting for the caller. The
// response is discarded and failures are only logged: this path runs
// while the host is tearing down and must never block it.
func (s *HTTPSubmitter) SubmitBeacon(p Payload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		if err := s.Submit(ctx, p); err != nil {
			s.logger.Debug("telemetry_beacon_failed", "error", err)
		}
	}()
}
