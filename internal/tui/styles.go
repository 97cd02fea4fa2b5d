// Package tui provides a live terminal dashboard for the supervisor.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It shows registered workers, start outcomes, readiness latency and
// worker exits.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)

	labelWideStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(25)
)

// =============================================================================
// Bar and Table Styles
// =============================================================================

var (
	barFilledStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	barEmptyStyle = lipgloss.NewStyle().
			Foreground(colorBorder)

	barPercentStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	tableRowEvenStyle = lipgloss.NewStyle().
				Foreground(colorText)

	tableRowOddStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)
)

// =============================================================================
// Health Indicator
// =============================================================================

// HealthStatus summarizes how start requests are faring.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthDegraded
	HealthFailing
)

// GetHealthStatus returns the status for a start failure ratio.
func GetHealthStatus(failureRate float64) HealthStatus {
	switch {
	case failureRate > 0.10:
		return HealthFailing
	case failureRate > 0.0:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// GetHealthLabel returns a styled label for a start failure ratio.
func GetHealthLabel(failureRate float64) string {
	switch GetHealthStatus(failureRate) {
	case HealthFailing:
		return statusError.Render("● Failing")
	case HealthDegraded:
		return statusWarning.Render("● Degraded")
	default:
		return statusOK.Render("● Healthy")
	}
}

// GetWorkerStateStyle colors a worker state name.
func GetWorkerStateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return valueGoodStyle
	case "starting":
		return valueWarnStyle
	case "exited", "killed":
		return valueBadStyle
	default:
		return valueStyle
	}
}

// GetExitCodeStyle colors an exit code: 0 good, signals warn, else bad.
func GetExitCodeStyle(code int) lipgloss.Style {
	switch {
	case code == 0:
		return valueGoodStyle
	case code > 128:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderRatioBar renders a filled bar with a percentage, for ratios in [0, 1].
func RenderRatioBar(ratio float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(ratio * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := barFilledStyle.Render(repeatChar('█', filled)) +
		barEmptyStyle.Render(repeatChar('░', width-filled))

	return bar + barPercentStyle.Render(fmt.Sprintf(" %3.0f%%", ratio*100))
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
