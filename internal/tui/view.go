package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderWorkers(),
	}

	if m.snap != nil && m.snap.Summary != nil {
		sections = append(sections,
			m.renderStarts(),
			m.renderLatency(),
		)
		if len(m.snap.Summary.ExitCodes) > 0 || m.snap.Summary.Stopped > 0 {
			sections = append(sections, m.renderExits())
		}
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the per-worker table.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderWorkerTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" room-agent-supervisor │ %s │ Workers: %d │ Uptime: %s ",
		GetHealthLabel(m.FailureRate()),
		m.ActiveWorkers(),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Workers
// =============================================================================

func (m Model) renderWorkers() string {
	active := m.ActiveWorkers()
	ready := m.ReadyWorkers()

	ratio := 0.0
	if active > 0 {
		ratio = float64(ready) / float64(active)
	}

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	var status string
	switch {
	case active == 0:
		status = dimStyle.Render("No workers registered")
	case ready == active:
		status = statusOK.Render(fmt.Sprintf("✓ %d ready", ready))
	default:
		status = statusInfo.Render(fmt.Sprintf("Connecting... %d/%d ready", ready, active))
	}

	rows := []string{
		sectionHeaderStyle.Render("Workers"),
		RenderRatioBar(ratio, barWidth),
		status,
	}
	if m.snap != nil && m.snap.Summary != nil {
		rows = append(rows, RenderKeyValue("Peak", fmt.Sprintf("%d", m.snap.Summary.PeakActiveWorkers)))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Start Requests
// =============================================================================

func (m Model) renderStarts() string {
	s := m.snap.Summary
	rate := m.snap.StartRate

	failStyle := valueGoodStyle
	if s.StartsFailed > 0 {
		failStyle = valueBadStyle
	}

	rows := []string{
		sectionHeaderStyle.Render("Start Requests"),
		renderStatRow("Ready", formatNumber(s.StartsReady), ""),
		renderStatRow("Still connecting", formatNumber(s.StartsTimedOut), ""),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render("Failed:"),
			failStyle.Width(12).Render(formatNumber(s.StartsFailed)),
			mutedStyle.Render(formatPercent(m.FailureRate())),
		),
		renderStatRow("Rate (1m / 5m / 15m)", formatPerMinute(rate.PerMin1m),
			formatPerMinute(rate.PerMin5m)+" / "+formatPerMinute(rate.PerMin15m)),
	}

	for _, kind := range sortedKeys(s.FailuresByKind) {
		rows = append(rows, renderStatRow("  "+kind, formatNumber(s.FailuresByKind[kind]), ""))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderStatRow(label, value, extra string) string {
	parts := []string{
		labelWideStyle.Render(label + ":"),
		valueStyle.Width(12).Render(value),
	}
	if extra != "" {
		parts = append(parts, mutedStyle.Render(" ("), valueStyle.Render(extra), mutedStyle.Render(")"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

// =============================================================================
// Readiness Latency
// =============================================================================

func (m Model) renderLatency() string {
	s := m.snap.Summary
	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Time to Ready"),
		RenderKeyValue("P50", formatLatency(s.ReadyP50)),
		RenderKeyValue("P95", formatLatency(s.ReadyP95)),
		RenderKeyValue("P99", formatLatency(s.ReadyP99)),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Exits and Stops
// =============================================================================

func (m Model) renderExits() string {
	s := m.snap.Summary

	rows := []string{
		sectionHeaderStyle.Render("Worker Exits"),
		renderStatRow("Stopped on request", formatNumber(s.Stopped), formatNumber(s.StopNoops)+" no-op"),
		renderStatRow("Exit rate (1m)", formatPerMinute(m.snap.ExitRate.PerMin1m), ""),
		RenderKeyValue("Uptime P50 / P95", formatLatency(s.UptimeP50)+" / "+formatLatency(s.UptimeP95)),
	}
	for _, code := range s.SortedExitCodes() {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render(fmt.Sprintf("  exit %d:", code)),
			GetExitCodeStyle(code).Render(formatNumber(s.ExitCodes[code])),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Worker Table
// =============================================================================

func (m Model) renderWorkerTable() string {
	if m.snap == nil || len(m.snap.Workers) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No workers registered. Press 'd' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-24s %-8s %-10s %-10s", "SESSION", "PID", "STATE", "UPTIME"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, w := range m.snap.Workers {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more workers", len(m.snap.Workers)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		session := w.SessionID
		if len(session) > 24 {
			session = session[:21] + "..."
		}

		row := fmt.Sprintf("%-24s %-8d %s %-10s",
			session,
			w.PID,
			GetWorkerStateStyle(w.State).Width(10).Render(w.State),
			formatDuration(w.Uptime),
		)
		rows = append(rows, rowStyle.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Workers"), header}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle workers",
		"r: refresh",
	}

	info := fmt.Sprintf("API: %s", m.listenAddr)
	if m.runner != "" {
		info = fmt.Sprintf("Runner: %s │ %s", m.runner, info)
	}
	if m.metricsAddr != "" {
		info += fmt.Sprintf(" │ Metrics: %s", m.metricsAddr)
	}
	if m.workerPort > 0 {
		info += fmt.Sprintf(" │ Port: %d", m.workerPort)
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(info)

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

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
