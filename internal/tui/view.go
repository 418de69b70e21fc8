package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

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

func (m Model) renderSummaryView() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	b.WriteString(m.renderProgress())
	b.WriteString("\n")

	b.WriteString(m.renderStreamStats())
	b.WriteString("\n")

	b.WriteString(m.renderGaps())
	b.WriteString("\n")

	b.WriteString(m.renderLogTail())
	b.WriteString("\n")

	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("DOOM SERVER HARNESS")

	elapsed := formatDuration(m.Elapsed())

	active := 0
	if m.stats != nil {
		active = m.stats.TotalInstances
	}

	var pipeline string
	if m.stats != nil {
		pipeline = GetPipelineLabel(m.stats.PeakDropRate)
	} else {
		pipeline = dimStyle.Render("● Pipeline (waiting)")
	}

	info := mutedStyle.Render(fmt.Sprintf(
		"%s | instances: %d/%d | elapsed: %s | ",
		m.serverBinary, active, m.targetInstances, elapsed,
	)) + pipeline

	return lipgloss.JoinVertical(lipgloss.Left, title, info)
}

func (m Model) renderProgress() string {
	active := 0
	if m.stats != nil {
		active = m.stats.TotalInstances
	}

	progress := 0.0
	if m.targetInstances > 0 {
		progress = float64(active) / float64(m.targetInstances)
	}

	barWidth := m.width - 20
	if barWidth > 60 {
		barWidth = 60
	}

	section := sectionHeaderStyle.Render("Ramp-Up Progress")
	bar := RenderProgressBar(progress, barWidth)
	label := mutedStyle.Render(fmt.Sprintf("%d of %d instances running", active, m.targetInstances))

	return lipgloss.JoinVertical(lipgloss.Left, section, bar, label)
}

func (m Model) renderStreamStats() string {
	section := sectionHeaderStyle.Render("Log Stream")

	if m.stats == nil {
		return lipgloss.JoinVertical(lipgloss.Left, section,
			dimStyle.Render("Waiting for data..."))
	}

	s := m.stats

	rows := []string{
		RenderKeyValue("Lines", fmt.Sprintf("%s (%s avg, %s now)",
			formatNumber(s.TotalLines),
			formatRate(s.LineRate),
			formatRate(s.InstantLineRate))),
		RenderKeyValue("Bytes", fmt.Sprintf("%s (%s avg)",
			formatBytes(s.TotalBytes),
			formatRate(s.ThroughputBytesPerSec))),
	}

	errVal := formatNumber(s.TotalErrors)
	if s.TotalErrors > 0 {
		errVal = valueBadStyle.Render(errVal)
	}
	warnVal := formatNumber(s.TotalWarnings)
	if s.TotalWarnings > 0 {
		warnVal = valueWarnStyle.Render(warnVal)
	}
	rows = append(rows,
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Errors / Warnings:"),
			errVal, mutedStyle.Render(" / "), warnVal))

	if s.TotalLinesDropped > 0 {
		rows = append(rows,
			RenderKeyValue("Dropped", fmt.Sprintf("%s lines (%d instances, peak %.2f%%)",
				formatNumber(s.TotalLinesDropped),
				s.InstancesWithDrops,
				s.PeakDropRate*100)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		append([]string{section}, rows...)...)
}

func (m Model) renderGaps() string {
	section := sectionHeaderStyle.Render("Inter-Line Gaps (worst instance)")

	if m.stats == nil {
		return lipgloss.JoinVertical(lipgloss.Left, section,
			dimStyle.Render("Waiting for data..."))
	}

	s := m.stats

	rows := []string{
		RenderKeyValue("P50 / P95 / P99", fmt.Sprintf("%s / %s / %s",
			formatMs(s.WorstGapP50), formatMs(s.WorstGapP95), formatMs(s.WorstGapP99))),
		RenderKeyValue("Max Gap", formatMs(s.MaxGap)),
	}

	if s.QuietInstances > 0 {
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Quiet:"),
				statusWarning.Render(fmt.Sprintf("⚠ %d instance(s) silent > 10s", s.QuietInstances))))
	} else {
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Quiet:"),
				statusOK.Render("none")))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		append([]string{section}, rows...)...)
}

// renderLogTail shows the most recent server log lines, colored by
// severity.
func (m Model) renderLogTail() string {
	section := sectionHeaderStyle.Render("Recent Server Output")

	if len(m.recentLines) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, section,
			dimStyle.Render("No output yet"))
	}

	maxRows := m.height - 22
	if maxRows < 3 {
		maxRows = 3
	}
	if maxRows > 10 {
		maxRows = 10
	}

	lines := m.recentLines
	if len(lines) > maxRows {
		lines = lines[len(lines)-maxRows:]
	}

	rendered := make([]string, 0, len(lines)+1)
	rendered = append(rendered, section)

	maxWidth := m.width - 12
	if maxWidth < 20 {
		maxWidth = 20
	}

	for _, line := range lines {
		text := line.Text
		if len(text) > maxWidth {
			text = text[:maxWidth-1] + "…"
		}
		prefix := dimStyle.Render(fmt.Sprintf("[%d] ", line.InstanceID))
		rendered = append(rendered, prefix+GetLineStyle(line.Severity).Render(text))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rendered...)
}

func (m Model) renderDetailedView() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	section := sectionHeaderStyle.Render("Per-Instance Statistics")
	b.WriteString(section)
	b.WriteString("\n")

	if m.stats == nil || len(m.stats.PerInstanceSummaries) == 0 {
		b.WriteString(dimStyle.Render("Waiting for data..."))
		b.WriteString("\n")
		b.WriteString(m.renderFooter())
		return b.String()
	}

	header := tableHeaderStyle.Render(fmt.Sprintf(
		"%-6s %-10s %-10s %-8s %-8s %-10s %-10s %-6s",
		"ID", "Uptime", "Lines", "Errors", "Warns", "Bytes", "Gap P99", "Quiet"))
	b.WriteString(header)
	b.WriteString("\n")

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	summaries := m.stats.PerInstanceSummaries
	shown := len(summaries)
	if shown > maxRows {
		shown = maxRows
	}

	for i := 0; i < shown; i++ {
		s := summaries[i]

		quiet := "-"
		if s.Quiet {
			quiet = "⚠"
		}

		row := fmt.Sprintf(
			"%-6d %-10s %-10s %-8s %-8s %-10s %-10s %-6s",
			s.InstanceID,
			formatDuration(s.Uptime),
			formatNumber(s.LinesTotal),
			formatNumber(s.ErrorLines),
			formatNumber(s.WarningLines),
			formatBytes(s.BytesStreamed),
			formatMs(s.GapP99),
			quiet,
		)

		if i%2 == 0 {
			b.WriteString(tableRowEvenStyle.Render(row))
		} else {
			b.WriteString(tableRowOddStyle.Render(row))
		}
		b.WriteString("\n")
	}

	if len(summaries) > shown {
		b.WriteString(dimStyle.Render(fmt.Sprintf("... and %d more", len(summaries)-shown)))
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderFooter() string {
	keys := "q: quit | d: toggle detail"
	if m.metricsAddr != "" {
		keys += " | metrics: http://" + m.metricsAddr + "/metrics"
	}
	return footerStyle.Render(keys)
}
