package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main summary dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Progress section
	sections = append(sections, m.renderProgress())

	// Stats sections (only if we have stats)
	if m.stats != nil {
		sections = append(sections, m.renderTransferStats())
		sections = append(sections, m.renderLatencyStats())
		sections = append(sections, m.renderHealthStats())

		// Session breakdowns (only once sessions have completed)
		if m.stats.SessionsCompleted > 0 {
			sections = append(sections, m.renderSessionStats())
		}
	}

	// Footer
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders per-player details.
func (m Model) renderDetailedView() string {
	var sections []string

	// Header
	sections = append(sections, m.renderHeader())

	// Per-player table
	sections = append(sections, m.renderPlayerTable())

	// Footer
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	// Playback health indicator
	var health string
	if m.stats != nil {
		health = GetBufferingLabel(m.stats.BufferingEvents, m.stats.TotalPlayers)
	} else {
		health = GetBufferingLabel(0, 0)
	}

	// Build header line
	header := fmt.Sprintf(
		" go-hls-playback │ %s │ Players: %d/%d │ Elapsed: %s ",
		health,
		m.ActivePlayers(),
		m.targetPlayers,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	progress := m.RampProgress()

	// Progress bar
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(progress, barWidth)

	// Status text
	var status string
	if progress >= 1.0 {
		status = statusOK.Render("✓ All players running")
	} else {
		status = statusInfo.Render(fmt.Sprintf("Starting players... %d/%d", m.ActivePlayers(), m.targetPlayers))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Player Ramp"),
		progressBar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Transfer Statistics
// =============================================================================

func (m Model) renderTransferStats() string {
	if m.stats == nil {
		return ""
	}

	s := m.stats

	// Build rows
	rows := []string{
		renderStatRow("Fragments", formatNumber(s.TotalFragments), formatRate(s.FragmentRate)),
		renderStatRow("Manifests", formatNumber(s.TotalManifests), ""),
		renderStatRow("Total Bytes", formatBytes(s.TotalBytes), formatBytes(int64(s.ThroughputBytesPerSec))+"/s"),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Transfer Statistics")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderStatRow(label, value, rate string) string {
	if rate == "" {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render(label+":"),
			valueStyle.Width(12).Render(value),
		)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelWideStyle.Render(label+":"),
		valueStyle.Width(12).Render(value),
		mutedStyle.Render(" ("),
		valueStyle.Render(rate),
		mutedStyle.Render(")"),
	)
}

// =============================================================================
// Latency Statistics
// =============================================================================

func (m Model) renderLatencyStats() string {
	if m.stats == nil {
		return ""
	}

	s := m.stats

	left := []string{
		subtitleStyle.Render("Fragment Fetch"),
		renderLatencyRow("P50 (median)", s.FragmentLatencyP50),
		renderLatencyRow("P95", s.FragmentLatencyP95),
		renderLatencyRow("P99", s.FragmentLatencyP99),
	}

	right := []string{
		subtitleStyle.Render("Startup"),
		renderLatencyRow("P50 (median)", s.StartupLatencyP50),
		renderLatencyRow("P95", s.StartupLatencyP95),
		renderLatencyRow("P99", s.StartupLatencyP99),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Latency"),
		renderTwoColumns(left, right, m.width-2),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderLatencyRow(label string, d time.Duration) string {
	style := GetLatencyStyle(d)
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		style.Render(formatMsFromDuration(d)),
	)
}

// =============================================================================
// Health Statistics
// =============================================================================

func (m Model) renderHealthStats() string {
	if m.stats == nil {
		return ""
	}

	s := m.stats

	// Buffering events with color
	bufferingStyle := valueStyle
	if s.BufferingEvents > 0 {
		bufferingStyle = valueWarnStyle
	}

	// Errors with color
	errorStyle := valueStyle
	if s.TotalErrors > 0 {
		errorStyle = valueBadStyle
	}

	errorRateStyle := GetErrorRateStyle(s.ErrorRate)

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Buffering Events:"),
			bufferingStyle.Render(fmt.Sprintf("%d", s.BufferingEvents)),
		),
		RenderKeyValue("Level Switches", fmt.Sprintf("%d", s.LevelSwitches)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Errors:"),
			errorStyle.Render(fmt.Sprintf("%d", s.TotalErrors)),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Error Rate:"),
			errorRateStyle.Render(formatPercent(s.ErrorRate)),
		),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Playback Health")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Completed Sessions
// =============================================================================

func (m Model) renderSessionStats() string {
	if m.stats == nil {
		return ""
	}

	s := m.stats

	left := []string{
		subtitleStyle.Render("Delivery Sources"),
	}
	left = append(left, renderBreakdown(s.DeliverySources)...)

	right := []string{
		subtitleStyle.Render("End Reasons"),
	}
	right = append(right, renderBreakdown(s.Reasons)...)

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render(fmt.Sprintf("Completed Sessions (%d)", s.SessionsCompleted)),
		renderTwoColumns(left, right, m.width-2),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// renderBreakdown renders a map of counts as sorted label rows.
func renderBreakdown(counts map[string]int64) []string {
	if len(counts) == 0 {
		return []string{dimStyle.Render("(none)")}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(k+":"),
			valueStyle.Render(fmt.Sprintf("%d", counts[k])),
		))
	}
	return rows
}

// =============================================================================
// Player Table (Detailed View)
// =============================================================================

func (m Model) renderPlayerTable() string {
	if m.stats == nil || len(m.stats.PerPlayerSummaries) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No per-player data available. Press 'd' to toggle."),
		)
	}

	// Table header
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-6s %-10s %-10s %-6s %-12s %-8s %-8s",
			"ID", "Fragments", "Bytes", "Level", "Bandwidth", "Buffer", "Errors"),
	)

	// Table rows (limit to fit screen)
	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, player := range m.stats.PerPlayerSummaries {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more players", len(m.stats.PerPlayerSummaries)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		row := fmt.Sprintf("%-6d %-10s %-10s %-6d %-12s %-8d %-8d",
			player.PlayerID,
			formatNumber(player.Fragments),
			formatBytes(player.Bytes),
			player.CurrentLevel,
			formatBandwidth(player.BandwidthBps),
			player.BufferingEvents,
			player.Errors,
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Per-Player Statistics"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	// Keyboard shortcuts
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	// Stream URL (truncated if needed)
	url := m.streamURL
	maxURLLen := m.width - 60
	if len(url) > maxURLLen && maxURLLen > 10 {
		url = url[:maxURLLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render("Stream: " + url)

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Helper for time.Duration formatting
// =============================================================================

func formatMsFromDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// =============================================================================
// Two-Column Layout Helper
// =============================================================================

// renderTwoColumns renders two columns side-by-side with a separator.
func renderTwoColumns(left, right []string, totalWidth int) string {
	// Calculate column widths (account for separator and padding)
	separatorWidth := 3 // " │ "
	padding := 2        // Box padding
	availableWidth := totalWidth - separatorWidth - padding*2

	// Split width roughly in half, but ensure minimum width for each column
	leftWidth := availableWidth / 2
	rightWidth := availableWidth - leftWidth

	// Ensure minimum column width
	if leftWidth < 20 {
		leftWidth = 20
	}
	if rightWidth < 20 {
		rightWidth = 20
	}

	// Render left column
	leftContent := lipgloss.NewStyle().Width(leftWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, left...))

	// Render right column
	rightContent := lipgloss.NewStyle().Width(rightWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, right...))

	// Join with separator
	separator := mutedStyle.Render(" │ ")
	return lipgloss.JoinHorizontal(lipgloss.Top, leftContent, separator, rightContent)
}
