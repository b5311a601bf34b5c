// Package preflight provides startup validation checks.
package preflight

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/grafov/m3u8"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, targetPlayers int, streamURL string, client *http.Client) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3),
		Passed: true,
	}

	// File descriptor check
	fdCheck := checkFileDescriptors(targetPlayers)
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	// Origin probe
	probeCheck := probeStream(ctx, streamURL, client)
	result.Checks = append(result.Checks, probeCheck)
	if !probeCheck.Passed {
		result.Passed = false
	}

	// Ephemeral port check (warning only)
	portCheck := checkEphemeralPorts(targetPlayers)
	result.Checks = append(result.Checks, portCheck)
	// Don't fail on port warning

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(players int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Each player keeps a handful of sockets open (manifest poll plus
	// fragment fetches), plus orchestrator overhead (metrics server,
	// logging).
	required := players*8 + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d players)", actual, required, players),
	}
}

// probeStream fetches the stream URL and verifies it parses as an HLS
// playlist, reporting the variant count for master playlists.
func probeStream(ctx context.Context, streamURL string, client *http.Client) Check {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return Check{
			Name:    "stream_probe",
			Passed:  false,
			Message: fmt.Sprintf("invalid URL: %v", err),
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Check{
			Name:    "stream_probe",
			Passed:  false,
			Message: fmt.Sprintf("fetch failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Check{
			Name:    "stream_probe",
			Passed:  false,
			Message: fmt.Sprintf("origin returned HTTP %d", resp.StatusCode),
		}
	}

	playlist, kind, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return Check{
			Name:    "stream_probe",
			Passed:  false,
			Message: fmt.Sprintf("playlist parse failed: %v", err),
		}
	}

	switch kind {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		return Check{
			Name:    "stream_probe",
			Passed:  true,
			Message: fmt.Sprintf("master playlist with %d variants", len(master.Variants)),
		}
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		return Check{
			Name:    "stream_probe",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("media playlist with %d segments (no variants to adapt between)", media.Count()),
		}
	default:
		return Check{
			Name:    "stream_probe",
			Passed:  false,
			Message: "unrecognized playlist type",
		}
	}
}

// checkEphemeralPorts checks if enough ephemeral ports are available.
func checkEphemeralPorts(players int) Check {
	// Read ephemeral port range
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range")
	if err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: "unable to read port range (non-Linux?)",
		}
	}

	var low, high int
	fmt.Sscanf(string(data), "%d %d", &low, &high)
	available := high - low

	// Each player may use 1-4 connections, need headroom for TIME_WAIT
	recommended := players * 4

	return Check{
		Name:     "ephemeral_ports",
		Required: recommended,
		Actual:   available,
		Passed:   true, // Don't fail on this
		Warning:  available < recommended,
		Message:  fmt.Sprintf("%d-%d (%d available, recommend %d)", low, high, available, recommended),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "stream_probe":
		return "verify the URL serves an HLS playlist (curl it and check for #EXTM3U)"
	default:
		return "see documentation"
	}
}
