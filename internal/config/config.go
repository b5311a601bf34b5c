// Package config provides configuration management for go-hls-playback.
package config

import "time"

// Config holds all configuration options for the playback harness.
type Config struct {
	// Playback
	StreamURL string        `json:"stream_url"`
	Players   int           `json:"players"`
	Duration  time.Duration `json:"duration"` // 0 = until the stream ends
	Quality   string        `json:"quality"`  // "auto" or "<height>p"
	ContentID string        `json:"content_id"`

	// Network
	UserAgent   string        `json:"user_agent"`
	Timeout     time.Duration `json:"timeout"`
	BufferAhead float64       `json:"buffer_ahead"` // Seconds of media kept buffered ahead

	// Harness
	Loop            bool          `json:"loop"`       // Replay the stream after it ends
	ClockRate       float64       `json:"clock_rate"` // Simulated playback speed relative to wall time
	RampRate        int           `json:"ramp_rate"`
	RampJitter      time.Duration `json:"ramp_jitter"`
	BackoffInitial  time.Duration `json:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply"`
	MaxRestarts     int           `json:"max_restarts"` // 0 = unlimited
	SkipPreflight   bool          `json:"skip_preflight"`

	// Telemetry
	TelemetryURL   string `json:"telemetry_url"`
	TelemetryToken string `json:"telemetry_token"`

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	TUIEnabled  bool   `json:"tui"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Playback
		Players:  1,
		Duration: 0, // Until the stream ends
		Quality:  "auto",

		// Network
		UserAgent:   "go-hls-playback/1.0",
		Timeout:     15 * time.Second,
		BufferAhead: 30,

		// Harness
		Loop:            false,
		ClockRate:       1.0,
		RampRate:        5,
		RampJitter:      500 * time.Millisecond,
		BackoffInitial:  1 * time.Second,
		BackoffMax:      30 * time.Second,
		BackoffMultiply: 2.0,
		MaxRestarts:     0,

		// Observability
		MetricsAddr: "0.0.0.0:17091",
		TUIEnabled:  false,
		Verbose:     false,
		LogFormat:   "json",
	}
}
