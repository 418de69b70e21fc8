package harness

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ManagerCallbacks contains optional callbacks for swarm-level events.
type ManagerCallbacks struct {
	// OnInstanceStateChange is called when any instance changes state.
	OnInstanceStateChange func(instanceID int, oldState, newState State)

	// OnInstanceStart is called when an instance's server process starts.
	OnInstanceStart func(instanceID int, pid int)

	// OnInstanceExit is called when an instance's run ends.
	OnInstanceExit func(instanceID int, result Result)
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	// Instances is the number of independent harness instances to run.
	Instances int

	// Ramp paces instance starts. Nil means start all at once.
	Ramp *RampScheduler

	// NewInstance returns the harness Config for one instance. The manager
	// chains its own tracking onto the returned Callbacks, so per-instance
	// callbacks set here still fire.
	NewInstance func(instanceID int) Config

	Logger    *slog.Logger
	Callbacks ManagerCallbacks
}

// InstanceResult pairs an instance ID with its run outcome.
type InstanceResult struct {
	InstanceID int
	Result     Result
	Err        error
}

// Manager runs N independent harness instances concurrently. Each instance
// owns its own workspace and server process; instances share nothing.
//
// The manager only paces starts and tracks outcomes. The per-run guarantees
// (kill on every exit path, workspace removal, at-most-once cleanup) are the
// individual Harness's job and hold for each instance independently.
type Manager struct {
	instances   int
	ramp        *RampScheduler
	newInstance func(instanceID int) Config
	logger      *slog.Logger
	callbacks   ManagerCallbacks

	mu        sync.RWMutex
	harnesses map[int]*Harness
	results   map[int]InstanceResult

	wg sync.WaitGroup

	activeCount  atomic.Int64
	startedCount atomic.Int64
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		instances:   cfg.Instances,
		ramp:        cfg.Ramp,
		newInstance: cfg.NewInstance,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		harnesses:   make(map[int]*Harness),
		results:     make(map[int]InstanceResult),
	}
}

// Run ramps up all instances, then blocks until every instance's run has
// finished. Cancelling ctx stops the ramp and forces every live instance
// down its cleanup path.
//
// The returned error joins per-instance run errors. A non-zero child exit
// is not an error here; it is reported through the instance's Result.
func (m *Manager) Run(ctx context.Context) error {
	if m.ramp != nil {
		m.logger.Info("ramp_starting",
			"instances", m.instances,
			"rate", m.ramp.Rate(),
			"estimated_duration", m.ramp.EstimatedRampDuration(m.instances).String(),
		)
	}

	started := 0
rampLoop:
	for i := 0; i < m.instances; i++ {
		select {
		case <-ctx.Done():
			m.logger.Info("ramp_cancelled", "started", started, "target", m.instances)
			break rampLoop
		default:
		}

		if i > 0 && m.ramp != nil {
			if err := m.ramp.Schedule(ctx, i); err != nil {
				m.logger.Info("ramp_cancelled", "started", started, "target", m.instances)
				break rampLoop
			}
		}

		m.startInstance(ctx, i)
		started++

		if started%10 == 0 || started == m.instances {
			m.logger.Info("ramp_progress",
				"started", started,
				"target", m.instances,
				"active", m.ActiveCount(),
			)
		}
	}

	m.wg.Wait()

	m.logger.Info("swarm_finished", "started", started)

	return m.joinedErrors()
}

// startInstance builds one harness and runs it in its own goroutine.
func (m *Manager) startInstance(ctx context.Context, instanceID int) {
	cfg := m.newInstance(instanceID)
	inner := cfg.Callbacks

	cfg.Callbacks = Callbacks{
		OnStateChange: func(oldState, newState State) {
			m.trackState(oldState, newState)
			if m.callbacks.OnInstanceStateChange != nil {
				m.callbacks.OnInstanceStateChange(instanceID, oldState, newState)
			}
			if inner.OnStateChange != nil {
				inner.OnStateChange(oldState, newState)
			}
		},
		OnStart: func(pid int) {
			if m.callbacks.OnInstanceStart != nil {
				m.callbacks.OnInstanceStart(instanceID, pid)
			}
			if inner.OnStart != nil {
				inner.OnStart(pid)
			}
		},
		OnExit: func(result Result) {
			if m.callbacks.OnInstanceExit != nil {
				m.callbacks.OnInstanceExit(instanceID, result)
			}
			if inner.OnExit != nil {
				inner.OnExit(result)
			}
		},
	}

	h := New(cfg)

	m.mu.Lock()
	m.harnesses[instanceID] = h
	m.mu.Unlock()

	m.startedCount.Add(1)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		result, err := h.Run(ctx)
		if err != nil {
			m.logger.Warn("instance_run_error", "instance_id", instanceID, "error", err)
		}

		m.mu.Lock()
		m.results[instanceID] = InstanceResult{
			InstanceID: instanceID,
			Result:     result,
			Err:        err,
		}
		m.mu.Unlock()
	}()
}

// trackState keeps the live-instance count in sync with state transitions.
// An instance counts as live from process spawn until it stops holding a
// running server (exit, stream failure, or cleanup).
func (m *Manager) trackState(oldState, newState State) {
	wasLive := oldState == StateRunning || oldState == StateStreaming
	isLive := newState == StateRunning || newState == StateStreaming

	if !wasLive && isLive {
		m.activeCount.Add(1)
	} else if wasLive && !isLive {
		m.activeCount.Add(-1)
	}
}

// joinedErrors collects the per-instance run errors.
func (m *Manager) joinedErrors() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, r := range m.results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// ActiveCount returns the number of instances with a live server process.
func (m *Manager) ActiveCount() int {
	return int(m.activeCount.Load())
}

// StartedCount returns the total number of instances started.
func (m *Manager) StartedCount() int {
	return int(m.startedCount.Load())
}

// States returns a map of instance IDs to their current states.
func (m *Manager) States() map[int]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int]State, len(m.harnesses))
	for id, h := range m.harnesses {
		states[id] = h.State()
	}
	return states
}

// ForEachHarness calls fn for every started instance's harness.
// fn must not block; it runs with the manager's lock held.
func (m *Manager) ForEachHarness(fn func(instanceID int, h *Harness)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, h := range m.harnesses {
		fn(id, h)
	}
}

// StateCounts returns how many instances are in each state, keyed by the
// state's string name.
func (m *Manager) StateCounts() map[string]int {
	counts := make(map[string]int)
	for _, s := range m.States() {
		counts[s.String()]++
	}
	return counts
}

// Results returns the finished instances' outcomes, ordered by instance ID.
// Instances still running are not included.
func (m *Manager) Results() []InstanceResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]InstanceResult, 0, len(m.results))
	for _, r := range m.results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].InstanceID < results[j].InstanceID
	})
	return results
}

// ExitCodes returns a histogram of child exit codes across finished
// instances.
func (m *Manager) ExitCodes() map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	codes := make(map[int]int)
	for _, r := range m.results {
		codes[r.Result.ExitCode]++
	}
	return codes
}

// ForcedCount returns how many finished instances were force-terminated.
func (m *Manager) ForcedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.results {
		if r.Result.Forced() {
			n++
		}
	}
	return n
}

// CleanupFailures returns how many finished instances reported a cleanup
// warning.
func (m *Manager) CleanupFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.results {
		if r.Result.CleanupWarning != nil {
			n++
		}
	}
	return n
}
