package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// ParseFlags parses command-line flags and returns a Config.
// Returns an error if required arguments are missing or invalid.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-hls-playback - headless HLS playback with startup-latency telemetry

Usage:
  go-hls-playback [flags] <HLS_URL>

Playback Flags:
`)
		printFlagCategory([]string{"players", "duration", "quality", "content-id"})

		fmt.Fprintf(os.Stderr, "\nNetwork:\n")
		printFlagCategory([]string{"user-agent", "timeout", "buffer-ahead"})

		fmt.Fprintf(os.Stderr, "\nHarness:\n")
		printFlagCategory([]string{"loop", "clock-rate", "ramp-rate", "ramp-jitter", "backoff-initial", "backoff-max", "max-restarts", "skip-preflight"})

		fmt.Fprintf(os.Stderr, "\nTelemetry:\n")
		printFlagCategory([]string{"telemetry-url", "telemetry-token"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "tui", "v", "log-format"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Play one stream to completion
  go-hls-playback https://test-streams.mux.dev/x36xhzz/x36xhzz.m3u8

  # Ten concurrent players pinned to 720p with the dashboard
  go-hls-playback -players 10 -quality 720p -tui https://cdn.example.com/vod/master.m3u8

  # Report session metrics to a collector
  go-hls-playback -telemetry-url https://metrics.example.com/v1/playback https://cdn.example.com/vod/master.m3u8

`)
	}

	// Playback flags
	flag.IntVar(&cfg.Players, "players", cfg.Players, "Number of concurrent players")
	flag.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = until the stream ends)")
	flag.StringVar(&cfg.Quality, "quality", cfg.Quality, `Initial quality: "auto" or a resolution like "720p"`)
	flag.StringVar(&cfg.ContentID, "content-id", cfg.ContentID, "Stable identifier correlating telemetry with a content entity")

	// Network
	flag.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent header")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Network request timeout")
	flag.Float64Var(&cfg.BufferAhead, "buffer-ahead", cfg.BufferAhead, "Seconds of media to keep buffered ahead of playback")

	// Harness
	flag.BoolVar(&cfg.Loop, "loop", cfg.Loop, "Replay the stream after it ends instead of exiting")
	flag.Float64Var(&cfg.ClockRate, "clock-rate", cfg.ClockRate, "Simulated playback speed relative to wall time")
	flag.IntVar(&cfg.RampRate, "ramp-rate", cfg.RampRate, "Players started per second during ramp-up")
	flag.DurationVar(&cfg.RampJitter, "ramp-jitter", cfg.RampJitter, "Maximum per-player jitter added to ramp delays")
	flag.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial restart backoff after a failed session")
	flag.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum restart backoff")
	flag.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Backoff multiplier between attempts")
	flag.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Maximum restarts per player (0 = unlimited)")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Telemetry
	flag.StringVar(&cfg.TelemetryURL, "telemetry-url", cfg.TelemetryURL, "Metrics collector endpoint (empty = disabled)")
	flag.StringVar(&cfg.TelemetryToken, "telemetry-token", cfg.TelemetryToken, "Bearer token for the metrics collector")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Parse
	flag.Parse()

	// Positional argument: stream URL
	args := flag.Args()
	if len(args) >= 1 {
		cfg.StreamURL = args[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
