package harness

import (
	"context"
	"math/rand"
	"time"
)

// RampScheduler controls the rate at which swarm instances are started.
// It ensures instances don't all start at once (thundering herd) and adds
// deterministic per-instance jitter to prevent synchronization.
type RampScheduler struct {
	rate      int           // instances per second
	maxJitter time.Duration // maximum jitter per instance
	seed      int64
}

// NewRampScheduler creates a scheduler with the given rate and jitter,
// seeded from the current time.
func NewRampScheduler(rate int, maxJitter time.Duration) *RampScheduler {
	return NewRampSchedulerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewRampSchedulerWithSeed creates a scheduler with a specific seed for
// reproducibility.
func NewRampSchedulerWithSeed(rate int, maxJitter time.Duration, seed int64) *RampScheduler {
	return &RampScheduler{
		rate:      rate,
		maxJitter: maxJitter,
		seed:      seed,
	}
}

// instanceJitter returns a jitter duration in [0, maxJitter) for a specific
// instance. The same instance ID always produces the same jitter for a
// given seed, so relative timing offsets are stable across a run.
func (r *RampScheduler) instanceJitter(instanceID int) time.Duration {
	if r.maxJitter <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(instanceID) ^ r.seed))
	return time.Duration(rng.Int63n(int64(r.maxJitter)))
}

// Schedule waits the appropriate amount of time before starting instance N.
// Returns nil on success, or the context error if cancelled.
func (r *RampScheduler) Schedule(ctx context.Context, instanceID int) error {
	// rate=5 means one instance per 200ms
	var baseDelay time.Duration
	if r.rate > 0 {
		baseDelay = time.Second / time.Duration(r.rate)
	}

	totalDelay := baseDelay + r.instanceJitter(instanceID)
	if totalDelay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(totalDelay):
		return nil
	}
}

// EstimatedRampDuration returns the estimated time to start all instances.
func (r *RampScheduler) EstimatedRampDuration(totalInstances int) time.Duration {
	if r.rate <= 0 {
		return 0
	}
	baseTime := time.Duration(totalInstances) * time.Second / time.Duration(r.rate)
	avgJitter := r.maxJitter / 2
	return baseTime + avgJitter
}

// Rate returns the configured rate (instances per second).
func (r *RampScheduler) Rate() int {
	return r.rate
}

// MaxJitter returns the configured maximum jitter.
func (r *RampScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
