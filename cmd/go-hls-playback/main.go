// Package main provides the go-hls-playback CLI entry point.
//
// go-hls-playback drives a fleet of headless HLS players against an
// origin, measuring startup latency, fragment fetch latency, and
// playback health the way a browser-based player would report them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-hls-playback/internal/config"
	"github.com/randomizedcoder/go-hls-playback/internal/logging"
	"github.com/randomizedcoder/go-hls-playback/internal/orchestrator"
	"github.com/randomizedcoder/go-hls-playback/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-hls-playback
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-hls-playback %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		// Use a null logger that discards all output
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"players", cfg.Players,
		"ramp_rate", cfg.RampRate,
		"stream_url", cfg.StreamURL,
		"quality", cfg.Quality,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, logger, version)

	if cfg.TUIEnabled {
		return runWithTUI(cfg, orch)
	}

	// Print startup banner
	printBanner(cfg)

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}

	return 0
}

// runWithTUI runs the orchestrator behind the live dashboard. The
// orchestrator owns the run lifecycle; the TUI quits when it returns
// or when the user quits the TUI, which cancels the run.
func runWithTUI(cfg *config.Config, orch *orchestrator.Orchestrator) int {
	model := tui.New(tui.Config{
		TargetPlayers: cfg.Players,
		StreamURL:     cfg.StreamURL,
		MetricsAddr:   cfg.MetricsAddr,
		StatsSource:   orch.Aggregator(),
	})

	program := tea.NewProgram(model, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
		tui.SendQuit(program)
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}

	// User quit the TUI: stop the run and wait for the summary.
	cancel()
	if err := <-runErr; err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        go-hls-playback                            ║")
	fmt.Println("║       Headless HLS Playback with Session Telemetry                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Players:     %d at %d/sec\n", cfg.Players, cfg.RampRate)
	fmt.Printf("  Stream:      %s\n", cfg.StreamURL)
	fmt.Printf("  Quality:     %s\n", cfg.Quality)
	fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	if cfg.TelemetryURL != "" {
		fmt.Printf("  Telemetry:   %s\n", cfg.TelemetryURL)
	}
	if cfg.Loop {
		fmt.Println("  Loop:        replaying streams after they end")
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
