package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestCollector creates a collector with an isolated registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

func TestNewCollector(t *testing.T) {
	tests := []struct {
		name string
		cfg  CollectorConfig
	}{
		{
			name: "basic config",
			cfg: CollectorConfig{
				Version:         "1.0",
				ServerBinary:    "chocolate-server",
				TargetInstances: 10,
				MaxRuntime:      time.Hour,
			},
		},
		{
			name: "zero runtime (unlimited)",
			cfg: CollectorConfig{
				Version:         "1.0",
				ServerBinary:    "chocolate-server",
				TargetInstances: 1,
				MaxRuntime:      0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCollector(tt.cfg)

			if c == nil {
				t.Fatal("NewCollector returned nil")
			}
			if c.targetInstances != tt.cfg.TargetInstances {
				t.Errorf("targetInstances = %d, want %d", c.targetInstances, tt.cfg.TargetInstances)
			}
		})
	}
}

func TestCollector_RecordStats(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{
		Version:         "1.0",
		ServerBinary:    "chocolate-server",
		TargetInstances: 4,
	})

	c.RecordStats(&StatsUpdate{
		ActiveInstances:   2,
		TotalLines:        1000,
		TotalBytes:        65536,
		LineRate:          50,
		TotalLinesRead:    1000,
		TotalLinesDropped: 10,
	})

	if c.PeakActive() != 2 {
		t.Errorf("PeakActive = %d, want 2", c.PeakActive())
	}

	// A second update with lower values must not move the peak
	c.RecordStats(&StatsUpdate{ActiveInstances: 1})
	if c.PeakActive() != 2 {
		t.Errorf("PeakActive after decrease = %d, want 2", c.PeakActive())
	}

	// Delta tracking must have advanced
	c.mu.Lock()
	prevLines := c.prevLines
	c.mu.Unlock()
	if prevLines != 1000 {
		t.Errorf("prevLines = %d, want 1000", prevLines)
	}
}

func TestCollector_RecordExit(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{TargetInstances: 3})

	c.RecordExit(0, 10*time.Second)
	c.RecordExit(0, 20*time.Second)
	c.RecordExit(137, 5*time.Second)

	codes := c.ExitCodeCounts()
	if codes[0] != 2 {
		t.Errorf("exit code 0 count = %d, want 2", codes[0])
	}
	if codes[137] != 1 {
		t.Errorf("exit code 137 count = %d, want 1", codes[137])
	}
}

func TestCollector_GenerateSummary(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{TargetInstances: 5})

	c.InstanceStarted()
	c.InstanceStarted()
	c.RecordExit(0, 10*time.Second)
	c.RecordExit(0, 30*time.Second)
	c.RecordExit(3, 20*time.Second)

	s := c.GenerateSummary()

	if s.TargetInstances != 5 {
		t.Errorf("TargetInstances = %d", s.TargetInstances)
	}
	if s.TotalStarts != 2 {
		t.Errorf("TotalStarts = %d, want 2", s.TotalStarts)
	}
	if s.ExitCodes[0] != 2 || s.ExitCodes[3] != 1 {
		t.Errorf("ExitCodes = %v", s.ExitCodes)
	}
	// Median of 10s, 20s, 30s
	if s.UptimeP50 != 20*time.Second {
		t.Errorf("UptimeP50 = %v, want 20s", s.UptimeP50)
	}
	if s.UptimeP99 != 30*time.Second {
		t.Errorf("UptimeP99 = %v, want 30s", s.UptimeP99)
	}
}

func TestCollector_MetricsExposed(t *testing.T) {
	_, registry := newTestCollector(CollectorConfig{
		Version:         "1.0",
		ServerBinary:    "chocolate-server",
		TargetInstances: 2,
	})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"doom_harness_info",
		"doom_harness_target_instances",
		"doom_harness_active_instances",
		"doom_harness_log_lines_total",
		"doom_harness_line_gap_p99_seconds",
		"doom_harness_forced_terminations_total",
		"doom_harness_cleanup_failures_total",
		"doom_harness_pipeline_drop_rate",
	} {
		if !names[want] {
			t.Errorf("metric %s not exposed", want)
		}
	}
}

func TestDumpSnapshot(t *testing.T) {
	_, registry := newTestCollector(CollectorConfig{
		Version:         "1.0",
		ServerBinary:    "chocolate-server",
		TargetInstances: 1,
	})

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := dumpSnapshot(path, registry); err != nil {
		t.Fatalf("dumpSnapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "# HELP doom_harness_info") {
		t.Error("snapshot missing HELP line")
	}
	if !strings.Contains(content, `doom_harness_info{server_binary="chocolate-server",version="1.0"} 1`) {
		t.Errorf("snapshot missing info metric:\n%s", content)
	}
}

func TestDumpSnapshot_BadPath(t *testing.T) {
	registry := prometheus.NewRegistry()
	err := dumpSnapshot("/nonexistent-dir/metrics.prom", registry)
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestPercentile(t *testing.T) {
	durations := []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second,
		4 * time.Second, 5 * time.Second,
	}

	tests := []struct {
		p        float64
		expected time.Duration
	}{
		{0.0, 1 * time.Second},
		{0.5, 3 * time.Second},
		{1.0, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := percentile(durations, tt.p); got != tt.expected {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.expected)
		}
	}

	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("percentile(empty) = %v, want 0", got)
	}
}

func TestSortDurations(t *testing.T) {
	d := []time.Duration{3, 1, 2}
	sortDurations(d)
	if d[0] != 1 || d[1] != 2 || d[2] != 3 {
		t.Errorf("sortDurations = %v", d)
	}
}
