package config

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m", "duration"},
		{"duration hours", "1h", "duration"},
		{"empty", "", "string"},
		{"zero", "0", "int"},
		{"negative int", "-1", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{
				Name:     "test",
				DefValue: tc.defValue,
			}
			result := flagType(f)
			if result != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, result, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Verify critical defaults
	if cfg.Players != 1 {
		t.Errorf("Players = %d, want 1", cfg.Players)
	}
	if cfg.Quality != "auto" {
		t.Errorf("Quality = %q, want auto", cfg.Quality)
	}
	if cfg.Duration != 0 {
		t.Errorf("Duration = %v, want 0 (until the stream ends)", cfg.Duration)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.BufferAhead != 30 {
		t.Errorf("BufferAhead = %v, want 30", cfg.BufferAhead)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.TelemetryURL != "" {
		t.Errorf("TelemetryURL = %q, want empty (disabled)", cfg.TelemetryURL)
	}
	if cfg.ClockRate != 1.0 {
		t.Errorf("ClockRate = %v, want 1.0 (real time)", cfg.ClockRate)
	}
	if cfg.RampRate != 5 {
		t.Errorf("RampRate = %d, want 5", cfg.RampRate)
	}
	if cfg.BackoffInitial != time.Second {
		t.Errorf("BackoffInitial = %v, want 1s", cfg.BackoffInitial)
	}
	if cfg.MaxRestarts != 0 {
		t.Errorf("MaxRestarts = %d, want 0 (unlimited)", cfg.MaxRestarts)
	}
	if cfg.Loop {
		t.Error("Loop = true, want false")
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.StreamURL = "https://cdn.example.com/vod/master.m3u8"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_MissingStreamURL(t *testing.T) {
	cfg := DefaultConfig()

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want error for missing stream URL")
	}
	if !strings.Contains(err.Error(), "stream_url") {
		t.Errorf("error %q does not mention stream_url", err)
	}
}

func TestValidate_InvalidStreamURL(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{"bad scheme", "ftp://example.com/master.m3u8"},
		{"no host", "https:///master.m3u8"},
		{"not a url", "://nonsense"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StreamURL = tc.url
			if err := Validate(cfg); err == nil {
				t.Errorf("Validate() = nil for URL %q, want error", tc.url)
			}
		})
	}
}

func TestValidate_InvalidPlayers(t *testing.T) {
	for _, players := range []int{0, -1} {
		cfg := validConfig()
		cfg.Players = players
		if err := Validate(cfg); err == nil {
			t.Errorf("Validate() = nil with Players = %d, want error", players)
		}
	}
}

func TestValidate_QualityLabels(t *testing.T) {
	valid := []string{"auto", "1080p", "720p", "480p", "2160p"}
	for _, q := range valid {
		cfg := validConfig()
		cfg.Quality = q
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate() = %v with Quality = %q, want nil", err, q)
		}
	}

	invalid := []string{"", "best", "1080", "p", "0p", "-720p", "720P "}
	for _, q := range invalid {
		cfg := validConfig()
		cfg.Quality = q
		if err := Validate(cfg); err == nil {
			t.Errorf("Validate() = nil with Quality = %q, want error", q)
		}
	}
}

func TestValidate_InvalidBufferAhead(t *testing.T) {
	cfg := validConfig()
	cfg.BufferAhead = 0
	if err := Validate(cfg); err == nil {
		t.Error("Validate() = nil with zero buffer-ahead, want error")
	}
}

func TestValidate_InvalidTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = 0
	if err := Validate(cfg); err == nil {
		t.Error("Validate() = nil with zero timeout, want error")
	}
}

func TestValidate_InvalidTelemetryURL(t *testing.T) {
	cfg := validConfig()
	cfg.TelemetryURL = "not a url"
	if err := Validate(cfg); err == nil {
		t.Error("Validate() = nil with bad telemetry URL, want error")
	}
}

func TestValidate_InvalidHarnessSettings(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero clock rate", func(c *Config) { c.ClockRate = 0 }},
		{"negative clock rate", func(c *Config) { c.ClockRate = -1 }},
		{"zero ramp rate", func(c *Config) { c.RampRate = 0 }},
		{"backoff multiply below 1", func(c *Config) { c.BackoffMultiply = 0.5 }},
		{"zero backoff initial", func(c *Config) { c.BackoffInitial = 0 }},
		{"backoff max below initial", func(c *Config) {
			c.BackoffInitial = 10 * time.Second
			c.BackoffMax = time.Second
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = "yaml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil with bad log format, want error")
	}
	if !strings.Contains(err.Error(), "log_format") {
		t.Errorf("error %q does not mention log_format", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Players = 0
	cfg.Quality = "best"
	cfg.LogFormat = "yaml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want combined errors")
	}
	for _, field := range []string{"stream_url", "players", "quality", "log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("combined error %q does not mention %s", err, field)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "players", Message: "must be at least 1"}
	want := "players: must be at least 1"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
