// Package metrics provides Prometheus metrics for go-doom-server-harness.
//
// All metrics are aggregate: with per-instance swarms the instance count
// stays small enough that aggregates plus the exit summary cover the
// debugging workflow without label-cardinality risk.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// --- Panel 1: Run Overview ---
var (
	harnessInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doom_harness_info",
			Help: "Information about the harness run (value always 1)",
		},
		[]string{"version", "server_binary"},
	)

	harnessTargetInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_target_instances",
			Help: "Target number of server instances",
		},
	)

	harnessMaxRuntimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_max_runtime_seconds",
			Help: "Configured max runtime (0 = unlimited)",
		},
	)

	harnessActiveInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_active_instances",
			Help: "Currently supervised server instances",
		},
	)

	harnessRampProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_ramp_progress",
			Help: "Instance ramp-up progress (0.0 to 1.0)",
		},
	)

	harnessElapsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_elapsed_seconds",
			Help: "Seconds since the run started",
		},
	)

	harnessRemainingSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_remaining_seconds",
			Help: "Seconds until max runtime (-1 = unlimited)",
		},
	)

	harnessInstancesInState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doom_harness_instances_in_state",
			Help: "Instances currently in each supervisor state",
		},
		[]string{"state"},
	)
)

// --- Panel 2: Log Stream ---
var (
	harnessLogLinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_log_lines_total",
			Help: "Total server log lines streamed",
		},
	)

	harnessLogErrorLinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_log_error_lines_total",
			Help: "Total server log lines classified as errors",
		},
	)

	harnessLogWarningLinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_log_warning_lines_total",
			Help: "Total server log lines classified as warnings",
		},
	)

	harnessLogBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_log_bytes_total",
			Help: "Total bytes streamed from server log files",
		},
	)

	harnessLogLinesPerSec = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_log_lines_per_second",
			Help: "Current log line rate",
		},
	)

	harnessLogThroughputAvg1s = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_log_throughput_1s_bytes_per_second",
			Help: "Log throughput averaged over last 1 second",
		},
	)

	harnessLogThroughputAvg30s = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_log_throughput_30s_bytes_per_second",
			Help: "Log throughput averaged over last 30 seconds",
		},
	)

	harnessLogThroughputAvg60s = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_log_throughput_60s_bytes_per_second",
			Help: "Log throughput averaged over last 60 seconds",
		},
	)

	harnessLogThroughputAvg300s = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_log_throughput_300s_bytes_per_second",
			Help: "Log throughput averaged over last 5 minutes",
		},
	)
)

// --- Panel 3: Inter-Line Gaps ---
var (
	harnessGapP50Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_line_gap_p50_seconds",
			Help: "Inter-line gap 50th percentile (worst instance)",
		},
	)

	harnessGapP95Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_line_gap_p95_seconds",
			Help: "Inter-line gap 95th percentile (worst instance)",
		},
	)

	harnessGapP99Seconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_line_gap_p99_seconds",
			Help: "Inter-line gap 99th percentile (worst instance)",
		},
	)

	harnessGapMaxSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_line_gap_max_seconds",
			Help: "Maximum inter-line gap observed",
		},
	)

	harnessQuietInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_quiet_instances",
			Help: "Instances silent for longer than the quiet threshold",
		},
	)
)

// --- Panel 4: Lifecycle & Cleanup ---
var (
	harnessInstanceStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_instance_starts_total",
			Help: "Total server process starts",
		},
	)

	harnessInstanceExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doom_harness_instance_exits_total",
			Help: "Server exits by category",
		},
		[]string{"category"}, // "success", "error", "signal"
	)

	harnessForcedTerminationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_forced_terminations_total",
			Help: "Servers killed by the harness (cancellation or stream failure)",
		},
	)

	harnessStreamErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_stream_errors_total",
			Help: "Follow-read or mirror failures",
		},
	)

	harnessWorkspacesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_workspaces_created_total",
			Help: "Scratch workspaces created",
		},
	)

	harnessWorkspacesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_workspaces_removed_total",
			Help: "Scratch workspaces removed",
		},
	)

	harnessCleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_cleanup_failures_total",
			Help: "Workspace removals that failed (left on disk)",
		},
	)

	harnessInstanceUptimeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doom_harness_instance_uptime_seconds",
			Help:    "Server uptime before exit",
			Buckets: []float64{1, 5, 30, 60, 300, 600, 1800, 3600, 7200},
		},
	)
)

// --- Panel 5: Pipeline Health (Metrics System) ---
var (
	harnessLinesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_pipeline_lines_dropped_total",
			Help: "Server log lines dropped (sink backpressure)",
		},
	)

	harnessLinesParsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doom_harness_pipeline_lines_parsed_total",
			Help: "Server log lines successfully delivered to sinks",
		},
	)

	harnessInstancesDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_pipeline_instances_degraded",
			Help: "Instances with >1% dropped lines",
		},
	)

	harnessDropRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_pipeline_drop_rate",
			Help: "Overall line drop rate (0.0-1.0)",
		},
	)

	harnessPeakDropRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doom_harness_pipeline_peak_drop_rate",
			Help: "Peak line drop rate observed",
		},
	)
)

// Collector manages all Prometheus metrics for the harness.
type Collector struct {
	targetInstances int
	maxRuntime      time.Duration

	startTime time.Time

	// Internal tracking for delta calculations
	mu               sync.Mutex
	prevLines        int64
	prevErrorLines   int64
	prevWarningLines int64
	prevBytes        int64
	prevDropped      int64
	prevParsed       int64

	// For summary generation
	peakActive  int
	totalStarts int64
	exitCodes   map[int]int64
	uptimes     []time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version         string
	ServerBinary    string
	TargetInstances int
	MaxRuntime      time.Duration
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		targetInstances: cfg.TargetInstances,
		maxRuntime:      cfg.MaxRuntime,
		startTime:       time.Now(),
		exitCodes:       make(map[int]int64),
		uptimes:         make([]time.Duration, 0, cfg.TargetInstances),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		harnessInfo,
		harnessTargetInstances,
		harnessMaxRuntimeSeconds,
		harnessActiveInstances,
		harnessRampProgress,
		harnessElapsedSeconds,
		harnessRemainingSeconds,
		harnessInstancesInState,

		// Panel 2: Log Stream
		harnessLogLinesTotal,
		harnessLogErrorLinesTotal,
		harnessLogWarningLinesTotal,
		harnessLogBytesTotal,
		harnessLogLinesPerSec,
		harnessLogThroughputAvg1s,
		harnessLogThroughputAvg30s,
		harnessLogThroughputAvg60s,
		harnessLogThroughputAvg300s,

		// Panel 3: Gaps
		harnessGapP50Seconds,
		harnessGapP95Seconds,
		harnessGapP99Seconds,
		harnessGapMaxSeconds,
		harnessQuietInstances,

		// Panel 4: Lifecycle
		harnessInstanceStartsTotal,
		harnessInstanceExitsTotal,
		harnessForcedTerminationsTotal,
		harnessStreamErrorsTotal,
		harnessWorkspacesCreatedTotal,
		harnessWorkspacesRemovedTotal,
		harnessCleanupFailuresTotal,
		harnessInstanceUptimeSeconds,

		// Panel 5: Pipeline Health
		harnessLinesDroppedTotal,
		harnessLinesParsedTotal,
		harnessInstancesDegraded,
		harnessDropRate,
		harnessPeakDropRate,
	)

	// Set initial values
	harnessInfo.WithLabelValues(cfg.Version, cfg.ServerBinary).Set(1)
	harnessTargetInstances.Set(float64(cfg.TargetInstances))
	harnessMaxRuntimeSeconds.Set(cfg.MaxRuntime.Seconds())
	harnessRemainingSeconds.Set(-1) // -1 = unlimited

	return c
}

// StatsUpdate holds aggregated stats for updating metrics.
// This is a subset of stats.AggregatedStats to avoid circular imports.
type StatsUpdate struct {
	ActiveInstances int
	QuietInstances  int

	TotalLines    int64
	TotalErrors   int64
	TotalWarnings int64
	TotalBytes    int64

	LineRate          float64
	ThroughputAvg1s   float64
	ThroughputAvg30s  float64
	ThroughputAvg60s  float64
	ThroughputAvg300s float64

	WorstGapP50 time.Duration
	WorstGapP95 time.Duration
	WorstGapP99 time.Duration
	MaxGap      time.Duration

	TotalLinesRead     int64
	TotalLinesDropped  int64
	InstancesWithDrops int
	PeakDropRate       float64
}

// RecordStats updates all metrics from aggregated stats.
func (c *Collector) RecordStats(stats *StatsUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// --- Panel 1: Run Overview ---
	harnessActiveInstances.Set(float64(stats.ActiveInstances))
	if stats.ActiveInstances > c.peakActive {
		c.peakActive = stats.ActiveInstances
	}

	rampProgress := float64(0)
	if c.targetInstances > 0 {
		rampProgress = float64(stats.ActiveInstances) / float64(c.targetInstances)
		if rampProgress > 1.0 {
			rampProgress = 1.0
		}
	}
	harnessRampProgress.Set(rampProgress)

	elapsed := time.Since(c.startTime)
	harnessElapsedSeconds.Set(elapsed.Seconds())

	if c.maxRuntime > 0 {
		remaining := c.maxRuntime - elapsed
		if remaining < 0 {
			remaining = 0
		}
		harnessRemainingSeconds.Set(remaining.Seconds())
	}

	// --- Panel 2: Log Stream ---
	// Calculate deltas and add to counters
	linesDelta := stats.TotalLines - c.prevLines
	errorsDelta := stats.TotalErrors - c.prevErrorLines
	warningsDelta := stats.TotalWarnings - c.prevWarningLines
	bytesDelta := stats.TotalBytes - c.prevBytes

	if linesDelta > 0 {
		harnessLogLinesTotal.Add(float64(linesDelta))
	}
	if errorsDelta > 0 {
		harnessLogErrorLinesTotal.Add(float64(errorsDelta))
	}
	if warningsDelta > 0 {
		harnessLogWarningLinesTotal.Add(float64(warningsDelta))
	}
	if bytesDelta > 0 {
		harnessLogBytesTotal.Add(float64(bytesDelta))
	}

	c.prevLines = stats.TotalLines
	c.prevErrorLines = stats.TotalErrors
	c.prevWarningLines = stats.TotalWarnings
	c.prevBytes = stats.TotalBytes

	harnessLogLinesPerSec.Set(stats.LineRate)
	harnessLogThroughputAvg1s.Set(stats.ThroughputAvg1s)
	harnessLogThroughputAvg30s.Set(stats.ThroughputAvg30s)
	harnessLogThroughputAvg60s.Set(stats.ThroughputAvg60s)
	harnessLogThroughputAvg300s.Set(stats.ThroughputAvg300s)

	// --- Panel 3: Gaps ---
	harnessGapP50Seconds.Set(stats.WorstGapP50.Seconds())
	harnessGapP95Seconds.Set(stats.WorstGapP95.Seconds())
	harnessGapP99Seconds.Set(stats.WorstGapP99.Seconds())
	harnessGapMaxSeconds.Set(stats.MaxGap.Seconds())
	harnessQuietInstances.Set(float64(stats.QuietInstances))

	// --- Panel 5: Pipeline Health ---
	droppedDelta := stats.TotalLinesDropped - c.prevDropped
	parsedDelta := (stats.TotalLinesRead - stats.TotalLinesDropped) - c.prevParsed
	if droppedDelta > 0 {
		harnessLinesDroppedTotal.Add(float64(droppedDelta))
	}
	if parsedDelta > 0 {
		harnessLinesParsedTotal.Add(float64(parsedDelta))
	}
	c.prevDropped = stats.TotalLinesDropped
	c.prevParsed = stats.TotalLinesRead - stats.TotalLinesDropped

	harnessInstancesDegraded.Set(float64(stats.InstancesWithDrops))

	dropRate := float64(0)
	if stats.TotalLinesRead > 0 {
		dropRate = float64(stats.TotalLinesDropped) / float64(stats.TotalLinesRead)
	}
	harnessDropRate.Set(dropRate)
	harnessPeakDropRate.Set(stats.PeakDropRate)
}

// SetInstanceStates publishes the count of instances in each state.
func (c *Collector) SetInstanceStates(counts map[string]int) {
	harnessInstancesInState.Reset()
	for state, n := range counts {
		harnessInstancesInState.WithLabelValues(state).Set(float64(n))
	}
}

// InstanceStarted records a server process start.
func (c *Collector) InstanceStarted() {
	harnessInstanceStartsTotal.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.mu.Unlock()
}

// RecordExit records a server exit event.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	category := "error"
	if exitCode == 0 {
		category = "success"
	} else if exitCode > 128 {
		category = "signal"
	}
	harnessInstanceExitsTotal.WithLabelValues(category).Inc()
	harnessInstanceUptimeSeconds.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// RecordForcedTermination records a server killed by the harness.
func (c *Collector) RecordForcedTermination() {
	harnessForcedTerminationsTotal.Inc()
}

// RecordStreamError records a follow-read or mirror failure.
func (c *Collector) RecordStreamError() {
	harnessStreamErrorsTotal.Inc()
}

// WorkspaceCreated records a scratch workspace creation.
func (c *Collector) WorkspaceCreated() {
	harnessWorkspacesCreatedTotal.Inc()
}

// WorkspaceRemoved records a successful workspace removal.
func (c *Collector) WorkspaceRemoved() {
	harnessWorkspacesRemovedTotal.Inc()
}

// RecordCleanupFailure records a workspace that could not be removed.
func (c *Collector) RecordCleanupFailure() {
	harnessCleanupFailuresTotal.Inc()
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration        time.Duration
	TargetInstances int
	PeakActive      int
	TotalStarts     int64
	ExitCodes       map[int]int64
	UptimeP50       time.Duration
	UptimeP95       time.Duration
	UptimeP99       time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:        time.Since(c.startTime),
		TargetInstances: c.targetInstances,
		PeakActive:      c.peakActive,
		TotalStarts:     c.totalStarts,
		ExitCodes:       make(map[int]int64),
	}

	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if len(c.uptimes) > 0 {
		sorted := make([]time.Duration, len(c.uptimes))
		copy(sorted, c.uptimes)
		sortDurations(sorted)

		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeP95 = percentile(sorted, 0.95)
		s.UptimeP99 = percentile(sorted, 0.99)
	}

	return s
}

// PeakActive returns the peak active instance count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// ExitCodeCounts returns a copy of the exit code distribution.
func (c *Collector) ExitCodeCounts() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]int, len(c.exitCodes))
	for code, count := range c.exitCodes {
		out[code] = int(count)
	}
	return out
}

// sortDurations sorts a slice of durations in place.
func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j] < d[j-1]; j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
