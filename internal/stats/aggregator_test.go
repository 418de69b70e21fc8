package stats

import (
	"strings"
	"testing"
	"time"
)

func TestAggregator_AddRemove(t *testing.T) {
	agg := NewAggregator(0.01)

	if agg.InstanceCount() != 0 {
		t.Errorf("empty aggregator count = %d", agg.InstanceCount())
	}

	s1 := NewStreamStats(0)
	s2 := NewStreamStats(1)
	agg.AddInstance(s1)
	agg.AddInstance(s2)

	if agg.InstanceCount() != 2 {
		t.Errorf("count = %d, want 2", agg.InstanceCount())
	}
	if agg.GetInstance(0) != s1 {
		t.Error("GetInstance(0) returned wrong stats")
	}

	agg.RemoveInstance(0)
	if agg.InstanceCount() != 1 {
		t.Errorf("count after remove = %d, want 1", agg.InstanceCount())
	}
	if agg.GetInstance(0) != nil {
		t.Error("removed instance should be nil")
	}
}

func TestAggregator_Totals(t *testing.T) {
	agg := NewAggregator(0.01)

	s1 := NewStreamStats(0)
	s2 := NewStreamStats(1)
	agg.AddInstance(s1)
	agg.AddInstance(s2)

	for i := 0; i < 10; i++ {
		s1.HandleLine("client connected")
	}
	s1.HandleLine("error: desync detected")
	s2.HandleLine("warning: node 1 timed out")
	s1.RecordBytes(1000)
	s2.RecordBytes(500)

	result := agg.Aggregate()

	if result.TotalInstances != 2 {
		t.Errorf("TotalInstances = %d", result.TotalInstances)
	}
	if result.TotalLines != 12 {
		t.Errorf("TotalLines = %d, want 12", result.TotalLines)
	}
	if result.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", result.TotalErrors)
	}
	if result.TotalWarnings != 1 {
		t.Errorf("TotalWarnings = %d, want 1", result.TotalWarnings)
	}
	if result.TotalBytes != 1500 {
		t.Errorf("TotalBytes = %d, want 1500", result.TotalBytes)
	}
	if result.LineRate <= 0 {
		t.Errorf("LineRate = %v, want > 0", result.LineRate)
	}
}

func TestAggregator_PipelineHealth(t *testing.T) {
	agg := NewAggregator(0.01)

	s1 := NewStreamStats(0)
	s2 := NewStreamStats(1)
	agg.AddInstance(s1)
	agg.AddInstance(s2)

	s1.RecordPipeline(1000, 50) // 5% drops
	s2.RecordPipeline(1000, 0)

	result := agg.Aggregate()

	if result.TotalLinesRead != 2000 {
		t.Errorf("TotalLinesRead = %d", result.TotalLinesRead)
	}
	if result.TotalLinesDropped != 50 {
		t.Errorf("TotalLinesDropped = %d", result.TotalLinesDropped)
	}
	if result.InstancesWithDrops != 1 {
		t.Errorf("InstancesWithDrops = %d, want 1", result.InstancesWithDrops)
	}
	// 50/2000 = 2.5% > 1% threshold
	if !result.MetricsDegraded {
		t.Error("should be degraded at 2.5% drop rate")
	}
	if result.PeakDropRate != 0.05 {
		t.Errorf("PeakDropRate = %v, want 0.05", result.PeakDropRate)
	}
	if agg.GetPeakDropRate() != 0.05 {
		t.Errorf("aggregator peak = %v", agg.GetPeakDropRate())
	}
}

func TestAggregator_WorstGaps(t *testing.T) {
	agg := NewAggregator(0.01)

	fast := NewStreamStats(0)
	slow := NewStreamStats(1)
	agg.AddInstance(fast)
	agg.AddInstance(slow)

	base := time.Now()
	for i := 0; i < 20; i++ {
		fast.RecordLineAt("line", base.Add(time.Duration(i)*time.Millisecond))
		slow.RecordLineAt("line", base.Add(time.Duration(i)*100*time.Millisecond))
	}

	result := agg.Aggregate()

	// The slow instance's gaps must win
	if result.WorstGapP99 < 90*time.Millisecond {
		t.Errorf("WorstGapP99 = %v, want ~100ms", result.WorstGapP99)
	}
	if result.MaxGap != 100*time.Millisecond {
		t.Errorf("MaxGap = %v", result.MaxGap)
	}
}

func TestAggregator_InstantRates(t *testing.T) {
	agg := NewAggregator(0.01)
	s := NewStreamStats(0)
	agg.AddInstance(s)

	// First aggregate establishes the snapshot
	agg.Aggregate()

	for i := 0; i < 100; i++ {
		s.HandleLine("line")
	}
	s.RecordBytes(10000)
	time.Sleep(20 * time.Millisecond)

	result := agg.Aggregate()
	if result.InstantLineRate <= 0 {
		t.Errorf("InstantLineRate = %v, want > 0", result.InstantLineRate)
	}
	if result.InstantThroughputRate <= 0 {
		t.Errorf("InstantThroughputRate = %v, want > 0", result.InstantThroughputRate)
	}
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator(0.01)
	s := NewStreamStats(0)
	agg.AddInstance(s)
	s.RecordPipeline(100, 50)
	agg.Aggregate()

	agg.Reset()

	if agg.InstanceCount() != 0 {
		t.Errorf("count after reset = %d", agg.InstanceCount())
	}
	if agg.GetPeakDropRate() != 0 {
		t.Errorf("peak after reset = %v", agg.GetPeakDropRate())
	}
}

func TestAggregator_GetAllSummaries(t *testing.T) {
	agg := NewAggregator(0.01)
	for i := 0; i < 3; i++ {
		agg.AddInstance(NewStreamStats(i))
	}

	summaries := agg.GetAllSummaries()
	if len(summaries) != 3 {
		t.Errorf("got %d summaries, want 3", len(summaries))
	}
	seen := make(map[int]bool)
	for _, s := range summaries {
		seen[s.InstanceID] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Errorf("missing summary for instance %d", i)
		}
	}
}

func TestFormatExitSummary(t *testing.T) {
	agg := NewAggregator(0.01)
	s := NewStreamStats(0)
	agg.AddInstance(s)
	for i := 0; i < 100; i++ {
		s.HandleLine("client connected")
	}
	s.HandleLine("error: desync")
	s.RecordBytes(4096)

	result := agg.Aggregate()
	out := FormatExitSummary(result, SummaryConfig{
		TargetInstances: 1,
		Duration:        90 * time.Second,
		MetricsAddr:     "0.0.0.0:17092",
		ExitCodes:       map[int]int{0: 1},
	})

	for _, want := range []string{
		"Exit Summary",
		"00:01:30",
		"Target Instances:       1",
		"Log lines",
		"Error lines",
		"(clean)",
		"http://0.0.0.0:17092/metrics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestFormatExitSummary_NilStats(t *testing.T) {
	out := FormatExitSummary(nil, SummaryConfig{
		TargetInstances: 4,
		Duration:        time.Minute,
	})
	if !strings.Contains(out, "Target Instances:       4") {
		t.Errorf("basic summary missing instance count:\n%s", out)
	}
}

func TestFormatExitSummary_DegradedWarning(t *testing.T) {
	agg := NewAggregator(0.01)
	s := NewStreamStats(0)
	agg.AddInstance(s)
	s.RecordPipeline(1000, 100)

	out := FormatExitSummary(agg.Aggregate(), SummaryConfig{TargetInstances: 1})
	if !strings.Contains(out, "METRICS DEGRADED") {
		t.Error("degraded warning missing")
	}
}

func TestFormatHelpers(t *testing.T) {
	testCases := []struct {
		got      string
		expected string
	}{
		{FormatDuration(90 * time.Second), "00:01:30"},
		{FormatDuration(3*time.Hour + 5*time.Minute), "03:05:00"},
		{FormatNumber(500), "500"},
		{FormatNumber(1500), "1.5K"},
		{FormatNumber(2_500_000), "2.5M"},
		{FormatBytes(512), "512 B"},
		{FormatBytes(2048), "2.05 KB"},
		{FormatBytes(3_000_000), "3.00 MB"},
		{FormatBytes(4_000_000_000), "4.00 GB"},
		{FormatMs(250 * time.Millisecond), "250 ms"},
		{FormatMs(500 * time.Microsecond), "500 µs"},
		{FormatRate(2500), "2.5K/s"},
		{FormatRate(5.5), "5.5/s"},
		{FormatRate(0.25), "0.25/s"},
	}

	for _, tc := range testCases {
		if tc.got != tc.expected {
			t.Errorf("got %q, want %q", tc.got, tc.expected)
		}
	}
}
