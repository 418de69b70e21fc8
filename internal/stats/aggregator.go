// Package stats provides per-instance and aggregated statistics for
// supervised server runs.
//
// This file implements Aggregator which aggregates metrics across all
// server instances:
// - Line and byte totals and rates
// - Error/warning counts
// - Inter-line gap percentiles (worst instance)
// - Pipeline health (dropped lines)
package stats

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// AggregatedStats holds metrics across all instances.
//
// This is a snapshot - values are computed at the time of Aggregate() call.
type AggregatedStats struct {
	// Timestamp when this snapshot was taken
	Timestamp time.Time

	// Instance counts
	TotalInstances int
	QuietInstances int

	// Line totals
	TotalLines    int64
	TotalErrors   int64
	TotalWarnings int64
	TotalBytes    int64

	// Rates (per second) - calculated from start time
	LineRate              float64
	ThroughputBytesPerSec float64

	// Instantaneous rates (per second) - calculated from last snapshot
	InstantLineRate       float64
	InstantThroughputRate float64

	// Inter-line gaps: worst instance's percentiles. A single sick
	// instance should not be averaged away by healthy ones.
	WorstGapP50 time.Duration
	WorstGapP95 time.Duration
	WorstGapP99 time.Duration
	MaxGap      time.Duration

	// Pipeline health (lossy-by-design)
	TotalLinesDropped  int64
	TotalLinesRead     int64
	InstancesWithDrops int
	MetricsDegraded    bool    // Drop rate > threshold (default 1%)
	PeakDropRate       float64 // Highest observed drop rate

	// Uptime distribution
	MinUptime time.Duration
	MaxUptime time.Duration
	AvgUptime time.Duration

	// Per-instance summaries (optional, for detailed TUI view)
	PerInstanceSummaries []Summary
}

// Aggregator aggregates stats from multiple server instances.
//
// Thread-safe: all methods can be called concurrently.
type Aggregator struct {
	mu        sync.RWMutex
	instances map[int]*StreamStats
	startTime time.Time

	// For rate calculations (using atomic.Value for lock-free access)
	prevSnapshot atomic.Value // *rateSnapshot

	dropThreshold float64
	// peakDropRate uses atomic.Uint64 with bit manipulation for lock-free max
	peakDropRate atomic.Uint64 // math.Float64bits(peakDropRate)
}

// rateSnapshot holds values for calculating instantaneous rates
type rateSnapshot struct {
	timestamp time.Time
	lines     int64
	bytes     int64
}

// NewAggregator creates a new aggregator.
func NewAggregator(dropThreshold float64) *Aggregator {
	if dropThreshold <= 0 {
		dropThreshold = 0.01 // Default 1%
	}

	agg := &Aggregator{
		instances:     make(map[int]*StreamStats),
		startTime:     time.Now(),
		dropThreshold: dropThreshold,
	}
	agg.prevSnapshot.Store(&rateSnapshot{
		timestamp: time.Now(),
	})
	return agg
}

// AddInstance registers an instance for aggregation.
func (a *Aggregator) AddInstance(stats *StreamStats) {
	a.mu.Lock()
	a.instances[stats.InstanceID] = stats
	a.mu.Unlock()
}

// RemoveInstance unregisters an instance.
func (a *Aggregator) RemoveInstance(instanceID int) {
	a.mu.Lock()
	delete(a.instances, instanceID)
	a.mu.Unlock()
}

// GetInstance returns the StreamStats for a specific instance.
func (a *Aggregator) GetInstance(instanceID int) *StreamStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.instances[instanceID]
}

// InstanceCount returns the number of registered instances.
func (a *Aggregator) InstanceCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.instances)
}

// Aggregate computes aggregated statistics across all instances.
//
// This creates a snapshot of current metrics. The returned struct is
// safe to use after the call returns.
func (a *Aggregator) Aggregate() *AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := time.Now()
	elapsed := now.Sub(a.startTime).Seconds()

	prevSnapshotPtr := a.prevSnapshot.Load()
	var prevSnapshot *rateSnapshot
	if prevSnapshotPtr != nil {
		prevSnapshot = prevSnapshotPtr.(*rateSnapshot)
	}

	result := &AggregatedStats{
		Timestamp:      now,
		TotalInstances: len(a.instances),
	}

	var totalUptime time.Duration

	for _, s := range a.instances {
		result.TotalLines += s.LinesTotal.Load()
		result.TotalErrors += s.ErrorLines.Load()
		result.TotalWarnings += s.WarningLines.Load()
		result.TotalBytes += s.BytesStreamed.Load()

		if s.IsQuiet() {
			result.QuietInstances++
		}

		// Gaps: keep the worst instance's percentiles
		p50, p95, p99 := s.GapPercentiles()
		if p99 > result.WorstGapP99 {
			result.WorstGapP50 = p50
			result.WorstGapP95 = p95
			result.WorstGapP99 = p99
		}
		if maxGap := s.MaxGap(); maxGap > result.MaxGap {
			result.MaxGap = maxGap
		}

		// Pipeline health
		read := s.LinesRead.Load()
		dropped := s.LinesDropped.Load()
		result.TotalLinesRead += read
		result.TotalLinesDropped += dropped
		if dropped > 0 {
			result.InstancesWithDrops++
		}
		if peak := s.GetPeakDropRate(); peak > result.PeakDropRate {
			result.PeakDropRate = peak
		}

		// Uptime
		uptime := s.Uptime()
		totalUptime += uptime
		if result.MinUptime == 0 || uptime < result.MinUptime {
			result.MinUptime = uptime
		}
		if uptime > result.MaxUptime {
			result.MaxUptime = uptime
		}
	}

	// Rates from start time
	if elapsed > 0 {
		result.LineRate = float64(result.TotalLines) / elapsed
		result.ThroughputBytesPerSec = float64(result.TotalBytes) / elapsed
	}

	// Instantaneous rates from previous snapshot
	if prevSnapshot != nil {
		snapElapsed := now.Sub(prevSnapshot.timestamp).Seconds()
		if snapElapsed > 0 {
			result.InstantLineRate = float64(result.TotalLines-prevSnapshot.lines) / snapElapsed
			result.InstantThroughputRate = float64(result.TotalBytes-prevSnapshot.bytes) / snapElapsed
		}
	}

	// Average uptime
	if result.TotalInstances > 0 {
		result.AvgUptime = totalUptime / time.Duration(result.TotalInstances)
	}

	// Pipeline health check
	if result.TotalLinesRead > 0 {
		dropRate := float64(result.TotalLinesDropped) / float64(result.TotalLinesRead)
		result.MetricsDegraded = dropRate > a.dropThreshold
	}

	// Update peak drop rate using CAS loop for lock-free max operation
	currentRate := result.PeakDropRate
	for {
		oldBits := a.peakDropRate.Load()
		oldRate := math.Float64frombits(oldBits)
		if currentRate <= oldRate {
			break
		}
		newBits := math.Float64bits(currentRate)
		if a.peakDropRate.CompareAndSwap(oldBits, newBits) {
			break
		}
		// Retry on CAS failure (another goroutine updated it)
	}

	// Update previous snapshot for next rate calculation (lock-free)
	a.prevSnapshot.Store(&rateSnapshot{
		timestamp: now,
		lines:     result.TotalLines,
		bytes:     result.TotalBytes,
	})

	return result
}

// GetPeakDropRate returns the highest drop rate observed across all aggregations.
func (a *Aggregator) GetPeakDropRate() float64 {
	return math.Float64frombits(a.peakDropRate.Load())
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time {
	return a.startTime
}

// Elapsed returns the duration since the aggregator was created.
func (a *Aggregator) Elapsed() time.Duration {
	return time.Since(a.startTime)
}

// Reset clears all instances and resets the start time.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.instances = make(map[int]*StreamStats)
	a.startTime = time.Now()
	a.prevSnapshot.Store(&rateSnapshot{
		timestamp: time.Now(),
	})

	a.peakDropRate.Store(math.Float64bits(0))
}

// ForEachInstance calls the provided function for each instance.
// The function is called while holding the read lock.
func (a *Aggregator) ForEachInstance(fn func(instanceID int, stats *StreamStats)) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for id, stats := range a.instances {
		fn(id, stats)
	}
}

// GetAllSummaries returns summaries for all instances.
func (a *Aggregator) GetAllSummaries() []Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	summaries := make([]Summary, 0, len(a.instances))
	for _, stats := range a.instances {
		summaries = append(summaries, stats.GetSummary())
	}
	return summaries
}
