package stats

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStreamStats_LineClassification(t *testing.T) {
	s := NewStreamStats(1)

	lines := []string{
		"client 1 connected",
		"Error: could not bind to port 2342",
		"warning: node 2 timed out",
		"FATAL: segmentation fault",
		"game started",
	}
	for _, line := range lines {
		s.HandleLine(line)
	}

	if got := s.LinesTotal.Load(); got != 5 {
		t.Errorf("LinesTotal = %d, want 5", got)
	}
	if got := s.ErrorLines.Load(); got != 2 {
		t.Errorf("ErrorLines = %d, want 2", got)
	}
	if got := s.WarningLines.Load(); got != 1 {
		t.Errorf("WarningLines = %d, want 1", got)
	}
}

func TestStreamStats_GapPercentiles(t *testing.T) {
	s := NewStreamStats(1)

	// Feed lines at controlled 10ms intervals
	base := time.Now()
	for i := 0; i < 101; i++ {
		s.RecordLineAt("line", base.Add(time.Duration(i)*10*time.Millisecond))
	}

	p50, p95, p99 := s.GapPercentiles()

	// All gaps are exactly 10ms
	for _, tc := range []struct {
		name string
		got  time.Duration
	}{
		{"p50", p50},
		{"p95", p95},
		{"p99", p99},
	} {
		if tc.got < 9*time.Millisecond || tc.got > 11*time.Millisecond {
			t.Errorf("%s = %v, want ~10ms", tc.name, tc.got)
		}
	}

	if got := s.MaxGap(); got != 10*time.Millisecond {
		t.Errorf("MaxGap = %v, want 10ms", got)
	}
}

func TestStreamStats_GapPercentiles_NoLines(t *testing.T) {
	s := NewStreamStats(1)

	p50, p95, p99 := s.GapPercentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("percentiles with no lines = %v/%v/%v, want zeros", p50, p95, p99)
	}

	// One line establishes a reference point but no gap
	s.RecordLineAt("first", time.Now())
	p50, _, _ = s.GapPercentiles()
	if p50 != 0 {
		t.Errorf("p50 after one line = %v, want 0", p50)
	}
}

func TestStreamStats_QuietDetection(t *testing.T) {
	s := NewStreamStats(1)

	// No lines yet: not quiet (server may still be starting)
	if s.isQuietAt(time.Now()) {
		t.Error("should not be quiet before first line")
	}

	now := time.Now()
	s.RecordLineAt("line", now)

	if s.isQuietAt(now.Add(time.Second)) {
		t.Error("should not be quiet 1s after a line")
	}
	if !s.isQuietAt(now.Add(QuietThreshold + time.Second)) {
		t.Error("should be quiet after threshold")
	}
}

func TestStreamStats_DropRate(t *testing.T) {
	s := NewStreamStats(1)

	if got := s.CurrentDropRate(); got != 0 {
		t.Errorf("initial drop rate = %v, want 0", got)
	}

	s.RecordPipeline(100, 5)
	if got := s.CurrentDropRate(); got != 0.05 {
		t.Errorf("drop rate = %v, want 0.05", got)
	}
	if !s.MetricsDegraded(0.01) {
		t.Error("5% drops should exceed 1% threshold")
	}
	if s.MetricsDegraded(0.10) {
		t.Error("5% drops should not exceed 10% threshold")
	}

	// Peak must survive a later improvement
	s.RecordPipeline(1000, 5)
	if got := s.GetPeakDropRate(); got != 0.05 {
		t.Errorf("peak drop rate = %v, want 0.05", got)
	}
}

func TestStreamStats_RecordBytesCumulative(t *testing.T) {
	s := NewStreamStats(1)

	// Each call carries the follower's running total, not a delta.
	s.RecordBytes(70)
	s.RecordBytes(70)
	s.RecordBytes(120)

	if got := s.BytesStreamed.Load(); got != 120 {
		t.Errorf("BytesStreamed = %d, want 120", got)
	}
}

func TestStreamStats_UptimeFrozenAfterEnd(t *testing.T) {
	s := NewStreamStats(1)
	s.StartTime = time.Now().Add(-10 * time.Second)

	s.markEndedAt(s.StartTime.Add(3 * time.Second))
	if got := s.Uptime(); got != 3*time.Second {
		t.Errorf("Uptime = %v, want 3s", got)
	}

	// A second mark must not move the recorded end
	s.markEndedAt(s.StartTime.Add(9 * time.Second))
	if got := s.Uptime(); got != 3*time.Second {
		t.Errorf("Uptime after second mark = %v, want 3s", got)
	}
}

func TestStreamStats_ConcurrentAccess(t *testing.T) {
	s := NewStreamStats(1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.HandleLine(fmt.Sprintf("goroutine %d line %d", g, i))
				s.RecordPipeline(int64(i), int64(i/100))
			}
		}(g)
	}
	// Byte totals come from a single publisher in production; run it
	// alongside the line writers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			s.RecordBytes(int64(i * 10))
		}
	}()
	wg.Wait()

	if got := s.LinesTotal.Load(); got != 800 {
		t.Errorf("LinesTotal = %d, want 800", got)
	}
	if got := s.BytesStreamed.Load(); got != 1000 {
		t.Errorf("BytesStreamed = %d, want 1000", got)
	}
	// Percentile read must not race with writers
	s.GapPercentiles()
}

func TestStreamStats_GetSummary(t *testing.T) {
	s := NewStreamStats(7)
	s.HandleLine("error: bad wad")
	s.RecordBytes(512)
	s.RecordPipeline(10, 1)

	sum := s.GetSummary()
	if sum.InstanceID != 7 {
		t.Errorf("InstanceID = %d", sum.InstanceID)
	}
	if sum.LinesTotal != 1 || sum.ErrorLines != 1 {
		t.Errorf("lines = %d errors = %d", sum.LinesTotal, sum.ErrorLines)
	}
	if sum.BytesStreamed != 512 {
		t.Errorf("BytesStreamed = %d", sum.BytesStreamed)
	}
	if sum.DropRate != 0.1 {
		t.Errorf("DropRate = %v", sum.DropRate)
	}
	if sum.Uptime <= 0 {
		t.Error("Uptime should be positive")
	}
}
