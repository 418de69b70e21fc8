// Package stats provides per-instance and aggregated statistics for
// supervised server runs.
//
// This file implements StreamStats which tracks metrics for a single
// server instance's log stream:
// - Line counts by severity (error, warning, other)
// - Bytes streamed through the follow-reader
// - Inter-line gap percentiles (T-Digest, constant memory)
// - Quiet detection (no output for too long)
// - Pipeline health (dropped lines)
package stats

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

const (
	// QuietThreshold is how long the log can be silent before the
	// instance is flagged as quiet (possibly hung).
	QuietThreshold = 10 * time.Second

	// gapDigestCompression keeps the digest around ~100 centroids (~10KB).
	gapDigestCompression = 100
)

// StreamStats holds per-instance log stream statistics.
//
// Thread-safe: fields are protected by atomics or the digest mutex.
type StreamStats struct {
	InstanceID int
	StartTime  time.Time

	// Line counts by severity (atomic, lock-free)
	LinesTotal   atomic.Int64
	ErrorLines   atomic.Int64
	WarningLines atomic.Int64

	// Bytes streamed through the follower
	BytesStreamed atomic.Int64

	// Inter-line gap tracking
	lastLineAt atomic.Int64 // unix nanoseconds, 0 = no line yet

	// TDigest is not thread-safe
	gapDigestMu sync.Mutex
	gapDigest   *tdigest.TDigest
	gapMax      int64 // nanoseconds, under gapDigestMu
	gapCount    atomic.Int64

	// Pipeline health (lossy-by-design metrics, atomic, lock-free)
	LinesRead    atomic.Int64
	LinesDropped atomic.Int64
	// peakDropRate uses atomic.Uint64 with bit manipulation for lock-free max
	peakDropRate atomic.Uint64 // math.Float64bits(peakDropRate)

	// endedAt freezes Uptime once the instance exits (unix ns, 0 = still running)
	endedAt atomic.Int64
}

// NewStreamStats creates stats for a server instance.
func NewStreamStats(instanceID int) *StreamStats {
	return &StreamStats{
		InstanceID: instanceID,
		StartTime:  time.Now(),
		gapDigest:  tdigest.NewWithCompression(gapDigestCompression),
	}
}

// HandleLine records one log line. Implements the line sink interface so
// StreamStats can be wired directly into the follow-read pipeline.
func (s *StreamStats) HandleLine(line string) {
	s.RecordLineAt(line, time.Now())
}

// RecordLineAt records one log line observed at the given time.
// Split out from HandleLine so tests can control the clock.
func (s *StreamStats) RecordLineAt(line string, now time.Time) {
	s.LinesTotal.Add(1)

	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fatal"):
		s.ErrorLines.Add(1)
	case strings.Contains(lower, "warning"):
		s.WarningLines.Add(1)
	}

	prev := s.lastLineAt.Swap(now.UnixNano())
	if prev == 0 {
		// First line, no gap yet
		return
	}
	gap := now.UnixNano() - prev
	if gap < 0 {
		return
	}

	s.gapDigestMu.Lock()
	s.gapDigest.Add(float64(gap), 1)
	if gap > s.gapMax {
		s.gapMax = gap
	}
	s.gapDigestMu.Unlock()
	s.gapCount.Add(1)
}

// RecordBytes records the cumulative streamed byte count as reported by
// the follow-reader. Like RecordPipeline, callers pass running totals.
func (s *StreamStats) RecordBytes(total int64) {
	s.BytesStreamed.Store(total)
}

// --- Inter-line gap percentiles ---

// GapPercentiles returns the P50/P95/P99 inter-line gaps.
// Returns zeros if fewer than two lines have been observed.
func (s *StreamStats) GapPercentiles() (p50, p95, p99 time.Duration) {
	if s.gapCount.Load() == 0 {
		return 0, 0, 0
	}
	s.gapDigestMu.Lock()
	defer s.gapDigestMu.Unlock()
	p50 = time.Duration(s.gapDigest.Quantile(0.50))
	p95 = time.Duration(s.gapDigest.Quantile(0.95))
	p99 = time.Duration(s.gapDigest.Quantile(0.99))
	return p50, p95, p99
}

// MaxGap returns the largest inter-line gap observed.
func (s *StreamStats) MaxGap() time.Duration {
	s.gapDigestMu.Lock()
	defer s.gapDigestMu.Unlock()
	return time.Duration(s.gapMax)
}

// --- Quiet detection ---

// IsQuiet returns true if the instance has produced at least one line and
// then gone silent for longer than QuietThreshold.
func (s *StreamStats) IsQuiet() bool {
	return s.isQuietAt(time.Now())
}

func (s *StreamStats) isQuietAt(now time.Time) bool {
	last := s.lastLineAt.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) > QuietThreshold
}

// --- Pipeline health ---

// RecordPipeline records lines read and dropped by the parsing pipeline.
// Also tracks the peak drop rate for correlation with load spikes.
func (s *StreamStats) RecordPipeline(read, dropped int64) {
	s.LinesRead.Store(read)
	s.LinesDropped.Store(dropped)

	// Track peak drop rate using CAS loop for lock-free max operation
	currentRate := s.CurrentDropRate()
	for {
		oldBits := s.peakDropRate.Load()
		oldRate := math.Float64frombits(oldBits)
		if currentRate <= oldRate {
			break
		}
		newBits := math.Float64bits(currentRate)
		if s.peakDropRate.CompareAndSwap(oldBits, newBits) {
			break
		}
		// Retry on CAS failure (another goroutine updated it)
	}
}

// CurrentDropRate returns the current drop rate (0.0 to 1.0).
func (s *StreamStats) CurrentDropRate() float64 {
	read := s.LinesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(s.LinesDropped.Load()) / float64(read)
}

// MetricsDegraded returns true if drop rate exceeds threshold.
// threshold is typically 0.01 (1%) but can be configured.
func (s *StreamStats) MetricsDegraded(threshold float64) bool {
	return s.CurrentDropRate() > threshold
}

// GetPeakDropRate returns the highest drop rate observed.
func (s *StreamStats) GetPeakDropRate() float64 {
	return math.Float64frombits(s.peakDropRate.Load())
}

// --- Uptime ---

// MarkEnded freezes the uptime clock. Called when the instance exits;
// only the first call takes effect.
func (s *StreamStats) MarkEnded() {
	s.markEndedAt(time.Now())
}

func (s *StreamStats) markEndedAt(now time.Time) {
	s.endedAt.CompareAndSwap(0, now.UnixNano())
}

// Uptime returns how long this instance has been running, or its final
// lifetime once MarkEnded has been called.
func (s *StreamStats) Uptime() time.Duration {
	if end := s.endedAt.Load(); end != 0 {
		return time.Unix(0, end).Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// --- Summary ---

// Summary is a snapshot of one instance's key metrics.
type Summary struct {
	InstanceID    int
	Uptime        time.Duration
	LinesTotal    int64
	ErrorLines    int64
	WarningLines  int64
	BytesStreamed int64
	GapP50        time.Duration
	GapP95        time.Duration
	GapP99        time.Duration
	MaxGap        time.Duration
	Quiet         bool
	DropRate      float64
	PeakDropRate  float64
}

// GetSummary returns a snapshot of all key metrics.
func (s *StreamStats) GetSummary() Summary {
	p50, p95, p99 := s.GapPercentiles()

	return Summary{
		InstanceID:    s.InstanceID,
		Uptime:        s.Uptime(),
		LinesTotal:    s.LinesTotal.Load(),
		ErrorLines:    s.ErrorLines.Load(),
		WarningLines:  s.WarningLines.Load(),
		BytesStreamed: s.BytesStreamed.Load(),
		GapP50:        p50,
		GapP95:        p95,
		GapP99:        p99,
		MaxGap:        s.MaxGap(),
		Quiet:         s.IsQuiet(),
		DropRate:      s.CurrentDropRate(),
		PeakDropRate:  s.GetPeakDropRate(),
	}
}
