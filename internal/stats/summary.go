// Package stats provides per-instance and aggregated statistics for
// supervised server runs.
//
// This file implements the exit summary formatter which displays
// comprehensive statistics at program exit.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// TargetInstances is the number of server instances that were requested
	TargetInstances int

	// Duration is the total run duration
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ShowPerInstanceStats enables detailed per-instance statistics
	ShowPerInstanceStats bool

	// ExitCodes is a map of child exit codes to counts
	ExitCodes map[int]int

	// ForcedTerminations is the number of instances killed by the harness
	ForcedTerminations int

	// CleanupFailures is the number of workspaces that could not be removed
	CleanupFailures int
}

// FormatExitSummary formats aggregated stats for display at program exit.
//
// The summary includes:
// - Metrics degradation warning (if applicable)
// - Run information
// - Log stream statistics with rates
// - Inter-line gap percentiles
// - Child exit codes
// - Cleanup health
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	if stats == nil {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")
	b.WriteString("                      go-doom-server-harness Exit Summary\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n\n")

	// Metrics degradation warning (lossy-by-design feature)
	if stats.MetricsDegraded {
		b.WriteString("⚠️  METRICS DEGRADED: Line parsing could not keep up with server output\n")
		fmt.Fprintf(&b, "    Lines dropped: %s across %d instances\n",
			FormatNumber(stats.TotalLinesDropped),
			stats.InstancesWithDrops,
		)
		b.WriteString("    Consider: -pipeline-buffer 2000 or fewer instances for accurate metrics\n\n")
	}

	// Run info
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Target Instances:       %d\n", cfg.TargetInstances)
	fmt.Fprintf(&b, "Peak Active Instances:  %d\n\n", stats.TotalInstances)

	// Log stream statistics
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
	b.WriteString("                            Log Stream Statistics\n")
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

	perInstance := int64(1)
	if stats.TotalInstances > 0 {
		perInstance = int64(stats.TotalInstances)
	}

	fmt.Fprintf(&b, "  %-20s %12s %12s %12s\n", "", "Total", "Rate (/sec)", "Per Instance")
	b.WriteString("  " + strings.Repeat("─", 58) + "\n")
	fmt.Fprintf(&b, "  %-20s %12s %12.1f %12d\n",
		"Log lines",
		FormatNumber(stats.TotalLines),
		stats.LineRate,
		stats.TotalLines/perInstance,
	)
	if stats.TotalErrors > 0 {
		fmt.Fprintf(&b, "  %-20s %12s %12s %12d\n",
			"Error lines",
			FormatNumber(stats.TotalErrors),
			"-",
			stats.TotalErrors/perInstance,
		)
	}
	if stats.TotalWarnings > 0 {
		fmt.Fprintf(&b, "  %-20s %12s %12s %12d\n",
			"Warning lines",
			FormatNumber(stats.TotalWarnings),
			"-",
			stats.TotalWarnings/perInstance,
		)
	}
	fmt.Fprintf(&b, "\n  Total Bytes:          %s  (%s/s)\n\n",
		FormatBytes(stats.TotalBytes),
		FormatBytes(int64(stats.ThroughputBytesPerSec)),
	)

	// Inter-line gaps (worst instance)
	if stats.WorstGapP99 > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                     Inter-Line Gaps (worst instance)\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(stats.WorstGapP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(stats.WorstGapP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(stats.WorstGapP99))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatMs(stats.MaxGap))
		if stats.QuietInstances > 0 {
			fmt.Fprintf(&b, "  Quiet Instances:      %d (silent >%s)\n",
				stats.QuietInstances, QuietThreshold)
		}
		b.WriteString("\n")
	}

	// Exit codes
	if len(cfg.ExitCodes) > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                                Exit Codes\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		// Sort exit codes for consistent output
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			count := cfg.ExitCodes[code]
			label := exitCodeLabel(code)
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, label, count)
		}
		b.WriteString("\n")
	}

	// Cleanup health
	if cfg.ForcedTerminations > 0 || cfg.CleanupFailures > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                                 Cleanup\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		if cfg.ForcedTerminations > 0 {
			fmt.Fprintf(&b, "  Forced Terminations:  %d\n", cfg.ForcedTerminations)
		}
		if cfg.CleanupFailures > 0 {
			fmt.Fprintf(&b, "  Cleanup Failures:     %d (workspaces left on disk)\n", cfg.CleanupFailures)
		}
		b.WriteString("\n")
	}

	// Per-instance breakdown
	if cfg.ShowPerInstanceStats && len(stats.PerInstanceSummaries) > 0 {
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
		b.WriteString("                              Per Instance\n")
		b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")

		summaries := append([]Summary(nil), stats.PerInstanceSummaries...)
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].InstanceID < summaries[j].InstanceID
		})
		fmt.Fprintf(&b, "  %-4s %10s %10s %8s %8s %10s\n",
			"ID", "Uptime", "Lines", "Errors", "Warns", "Bytes")
		for _, s := range summaries {
			fmt.Fprintf(&b, "  %-4d %10s %10s %8d %8d %10s\n",
				s.InstanceID,
				FormatDuration(s.Uptime),
				FormatNumber(s.LinesTotal),
				s.ErrorLines,
				s.WarningLines,
				FormatBytes(s.BytesStreamed),
			)
		}
		b.WriteString("\n")
	}

	// Footnotes (diagnostic information)
	footnotes := renderFootnotes(stats)
	if footnotes != "" {
		b.WriteString(footnotes)
	}

	// Metrics endpoint
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")

	return b.String()
}

// formatBasicSummary formats a basic summary when stats are not available.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")
	b.WriteString("                      go-doom-server-harness Exit Summary\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Target Instances:       %d\n\n", cfg.TargetInstances)

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")

	return b.String()
}

// renderFootnotes adds diagnostic info that doesn't belong in main metrics.
func renderFootnotes(stats *AggregatedStats) string {
	var footnotes []string

	if stats.PeakDropRate > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Peak metrics drop rate: %.1f%%",
			stats.PeakDropRate*100))
	}

	if stats.QuietInstances > 0 {
		footnotes = append(footnotes,
			"[2] Quiet instances may be hung or waiting for players to connect")
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n")
	b.WriteString("                                 Footnotes\n")
	b.WriteString("───────────────────────────────────────────────────────────────────────────────\n\n")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
