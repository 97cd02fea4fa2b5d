package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries a pushed snapshot.
type SnapshotMsg struct {
	Snapshot Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Snapshot is everything the dashboard shows, taken at one instant.
type Snapshot struct {
	Workers   []registry.Entry
	Summary   *metrics.Summary
	StartRate timeseries.RateStats
	ExitRate  timeseries.RateStats
}

// Source provides snapshots on every tick.
type Source interface {
	Snapshot() Snapshot
}

// Config holds TUI configuration.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	Runner      string
	WorkerPort  int
	Source      Source
}

// Model represents the TUI state.
type Model struct {
	listenAddr  string
	metricsAddr string
	runner      string
	workerPort  int

	snap         *Snapshot
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	width  int
	height int

	source Source

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		listenAddr:  cfg.ListenAddr,
		metricsAddr: cfg.MetricsAddr,
		runner:      cfg.Runner,
		workerPort:  cfg.WorkerPort,
		source:      cfg.Source,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init starts the tick loop. The program is created with tea.WithAltScreen.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case SnapshotMsg:
		snap := msg.Snapshot
		m.snap = &snap
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	snap := m.source.Snapshot()
	m.snap = &snap
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// ActiveWorkers returns the registered worker count.
func (m Model) ActiveWorkers() int {
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Workers)
}

// ReadyWorkers returns how many registered workers have reported readiness.
func (m Model) ReadyWorkers() int {
	if m.snap == nil {
		return 0
	}
	n := 0
	for _, w := range m.snap.Workers {
		if w.State == "ready" {
			n++
		}
	}
	return n
}

// FailureRate returns failed starts over all resolved starts.
func (m Model) FailureRate() float64 {
	if m.snap == nil || m.snap.Summary == nil {
		return 0
	}
	total := m.snap.Summary.TotalStarts()
	if total == 0 {
		return 0
	}
	return float64(m.snap.Summary.StartsFailed) / float64(total)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot pushes a snapshot to a running program.
func SendSnapshot(p *tea.Program, snap Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg{Snapshot: snap})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatLatency formats a readiness latency; zero means no observations.
func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2f s", d.Seconds())
}

// formatPerMinute formats an events-per-minute rate.
func formatPerMinute(rate float64) string {
	if rate >= 10 {
		return fmt.Sprintf("%.0f/min", rate)
	}
	return fmt.Sprintf("%.1f/min", rate)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
