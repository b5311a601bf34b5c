package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// submitTimeout bounds the ordinary submission path. Telemetry is
// best-effort: a slow collector must never hold up a source switch.
const submitTimeout = 10 * time.Second

// Submitter delivers payloads to the metrics collector.
//
// Submit is the ordinary asynchronous path. SubmitBeacon is the
// fire-and-forget path used during page-unload style teardown: it must
// not block and its response, if any, is ignored.
type Submitter interface {
	Submit(ctx context.Context, p Payload) error
	SubmitBeacon(p Payload)
}

// Recorder owns exactly one Session per bound source and enforces
// at-most-once payload dispatch.
//
// Submission failures are logged and swallowed. Losing a telemetry
// sample is acceptable; disrupting playback to retry is not.
type Recorder struct {
	submitter Submitter
	logger    *slog.Logger
	userAgent string

	mu      sync.Mutex
	session *Session
}

// NewRecorder creates a recorder. submitter may be nil, in which case
// sessions are tracked but nothing is delivered.
func NewRecorder(submitter Submitter, userAgent string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		submitter: submitter,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Begin starts a session for a newly bound source. Any prior session is
// dispatched first with the source-change reason, so rebinding never
// drops a rendered session on the floor.
func (r *Recorder) Begin(sourceURL, contentID string) *Session {
	r.mu.Lock()
	prior := r.session
	session := NewSession(sourceURL, contentID, r.userAgent)
	r.session = session
	r.mu.Unlock()

	if prior != nil {
		r.dispatch(prior, ReasonSourceChange)
	}
	r.logger.Debug("telemetry_session_started",
		"session_id", session.ID(),
		"source", sourceURL)
	return session
}

// Session returns the active session, nil before the first Begin.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Dispatch submits the active session's payload for a natural trigger
// (ended, error). At most one payload leaves per session regardless of
// how many triggers fire.
func (r *Recorder) Dispatch(reason Reason) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session != nil {
		r.dispatch(session, reason)
	}
}

// Close dispatches the active session on teardown. The guard inside the
// session makes this safe after a natural ended/error trigger already
// fired. Beforeunload-style teardown goes through the beacon path.
func (r *Recorder) Close(reason Reason) {
	r.Dispatch(reason)
}

func (r *Recorder) dispatch(session *Session, reason Reason) {
	payload, ok := session.payload(reason)
	if !ok {
		return
	}
	if r.submitter == nil {
		return
	}

	if reason == ReasonBeforeUnload {
		// The page is tearing down: the standard request path may be
		// cancelled mid-flight, so use the non-blocking beacon.
		r.submitter.SubmitBeacon(payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if err := r.submitter.Submit(ctx, payload); err != nil {
		r.logger.Warn("telemetry_submit_failed",
			"session_id", payload.SessionID,
			"reason", payload.Reason,
			"error", err)
	}
}
