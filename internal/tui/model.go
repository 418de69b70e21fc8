package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-doom-server-harness/internal/stats"
)

const (
	// tickInterval is how often the TUI refreshes stats.
	tickInterval = 500 * time.Millisecond

	// recentLineCap bounds the log tail kept for the detailed view.
	recentLineCap = 50
)

// LineSeverity classifies a server log line for display.
type LineSeverity int

const (
	LineSeverityInfo LineSeverity = iota
	LineSeverityWarning
	LineSeverityError
)

// LogLine is one server log line tagged with its source instance.
type LogLine struct {
	InstanceID int
	Text       string
	Severity   LineSeverity
	At         time.Time
}

// TickMsg is sent on each refresh tick.
type TickMsg time.Time

// StatsMsg carries updated aggregated statistics.
type StatsMsg struct {
	Stats *stats.AggregatedStats
}

// LogLinesMsg carries new server log lines for the tail view.
type LogLinesMsg struct {
	Lines []LogLine
}

// QuitMsg signals the TUI to quit.
type QuitMsg struct{}

// Model is the Bubble Tea model for the harness dashboard.
type Model struct {
	// Configuration
	targetInstances int
	serverBinary    string
	metricsAddr     string

	// State
	stats        *stats.AggregatedStats
	recentLines  []LogLine
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool
	quitting     bool

	// Window size
	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel(targetInstances int, serverBinary, metricsAddr string) Model {
	return Model{
		targetInstances: targetInstances,
		serverBinary:    serverBinary,
		metricsAddr:     metricsAddr,
		startTime:       time.Now(),
		width:           80,
		height:          24,
	}
}

// Init initializes the model.
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
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.lastUpdate = time.Time(msg)
		return m, tickCmd()

	case StatsMsg:
		m.stats = msg.Stats
		return m, nil

	case LogLinesMsg:
		m.recentLines = append(m.recentLines, msg.Lines...)
		if len(m.recentLines) > recentLineCap {
			m.recentLines = m.recentLines[len(m.recentLines)-recentLineCap:]
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// SendStats sends a stats update to the program.
func SendStats(p *tea.Program, s *stats.AggregatedStats) {
	p.Send(StatsMsg{Stats: s})
}

// SendLogLines sends server log lines to the program's tail view.
func SendLogLines(p *tea.Program, lines []LogLine) {
	p.Send(LogLinesMsg{Lines: lines})
}

// SendQuit signals the program to quit.
func SendQuit(p *tea.Program) {
	p.Send(QuitMsg{})
}

// ClassifySeverity maps a log line to a display severity. The matching
// mirrors the stream statistics error/warning classification so the tail
// view agrees with the counters.
func ClassifySeverity(line string) LineSeverity {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fatal"):
		return LineSeverityError
	case strings.Contains(lower, "warning"):
		return LineSeverityWarning
	default:
		return LineSeverityInfo
	}
}

// Elapsed returns time since the model was created.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	min := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, min, s)
}

// formatNumber formats large numbers with K/M suffixes.
func formatNumber(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// formatBytes formats byte counts.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatMs formats a duration in milliseconds.
func formatMs(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}

// formatRate formats a per-second rate.
func formatRate(r float64) string {
	switch {
	case r >= 1_000_000:
		return fmt.Sprintf("%.1fM/s", r/1_000_000)
	case r >= 1_000:
		return fmt.Sprintf("%.1fK/s", r/1_000)
	default:
		return fmt.Sprintf("%.1f/s", r)
	}
}
