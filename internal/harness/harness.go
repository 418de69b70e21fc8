package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-doom-server-harness/internal/tail"
	"github.com/randomizedcoder/go-doom-server-harness/internal/workspace"
)

// Builder creates executable commands for the dedicated server.
// This interface keeps the harness decoupled from server specifics.
type Builder interface {
	// Resolve verifies the executable can be found on the host.
	// Called before any workspace or process exists.
	Resolve() (string, error)

	// BuildCommand returns a ready-to-start command. dir is the scratch
	// workspace the server runs in; configPath is the config file inside it.
	BuildCommand(ctx context.Context, dir, configPath string) (*exec.Cmd, error)

	// ConfigSettings returns the key/value payload to materialize as the
	// server's config file. logPath is the log file the server appends to.
	ConfigSettings(logPath string) map[string]string

	// Name returns a human-readable name for this process type.
	Name() string
}

// Callbacks contains optional callback functions for harness events.
type Callbacks struct {
	// OnStateChange is called when the run state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when the server process starts.
	OnStart func(pid int)

	// OnExit is called when the run ends, organically or not.
	OnExit func(result Result)
}

// Config holds configuration for creating a new Harness.
type Config struct {
	Builder   Builder
	Logger    *slog.Logger
	Callbacks Callbacks

	// WorkspaceParent is where scratch workspaces are created.
	// Empty means the system temp directory.
	WorkspaceParent string

	// Mirror receives the raw log stream live. Defaults to os.Stdout.
	Mirror io.Writer

	// LineSinks receive complete log lines via the lossy pipeline.
	LineSinks []tail.LineSink

	// PollInterval is the follow-read park duration at end-of-file.
	PollInterval time.Duration

	// PipelineBuffer and PipelineDropThreshold tune the line pipeline.
	PipelineBuffer        int
	PipelineDropThreshold float64
}

// Harness supervises the lifecycle of one server process and one scratch
// workspace. The zero value is not usable; use New.
//
// A Harness is single-use: one call to Run per instance. Concurrent runs
// take separate Harness instances and share nothing.
type Harness struct {
	builder   Builder
	logger    *slog.Logger
	callbacks Callbacks

	workspaceParent string
	mirror          io.Writer
	sinks           []tail.LineSink
	pollInterval    time.Duration
	pipelineBuffer  int
	pipelineDropPct float64

	// State management
	state   State
	stateMu sync.RWMutex

	// Live resources, owned exclusively by this run
	ws       *workspace.Workspace
	cmd      *exec.Cmd
	cmdMu    sync.Mutex
	exited   chan struct{}
	follower *tail.Follower
	pipeline *tail.Pipeline

	waitErr     error // valid after exited is closed
	startTime   time.Time
	cleanupOnce sync.Once
	cleanupWarn error
}

// New creates a Harness with the given configuration.
func New(cfg Config) *Harness {
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Harness{
		builder:         cfg.Builder,
		logger:          logger,
		callbacks:       cfg.Callbacks,
		workspaceParent: cfg.WorkspaceParent,
		mirror:          mirror,
		sinks:           cfg.LineSinks,
		pollInterval:    cfg.PollInterval,
		pipelineBuffer:  cfg.PipelineBuffer,
		pipelineDropPct: cfg.PipelineDropThreshold,
		state:           StateIdle,
	}
}

// Run executes one supervised server run. It blocks until the server exits,
// the log stream fails, or the context is cancelled (the signal path).
//
// Guarantees, on every exit path after setup completes: the server process
// does not outlive the call, the workspace does not persist past the call,
// and cleanup executes exactly once.
func (h *Harness) Run(ctx context.Context) (Result, error) {
	// Resolve the binary first: a missing executable must fail before any
	// workspace exists, leaving nothing to clean up.
	binPath, err := h.builder.Resolve()
	if err != nil {
		return Result{ExitCode: -1}, &LaunchError{Binary: h.builder.Name(), Err: err}
	}

	ws, err := workspace.Create(h.workspaceParent)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	h.ws = ws

	// From here on, every return path runs the guaranteed cleanup.
	defer h.setState(StateTerminated)
	defer h.cleanup()
	h.setState(StateWorkspaceReady)

	h.logger.Debug("workspace_created", "dir", ws.Dir())

	if err := ws.WriteConfig(h.builder.ConfigSettings(ws.LogPath())); err != nil {
		return Result{ExitCode: -1}, err
	}
	if err := ws.CreateLogFile(); err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd, err := h.builder.BuildCommand(ctx, ws.Dir(), ws.ConfigPath())
	if err != nil {
		return Result{ExitCode: -1}, &LaunchError{Binary: binPath, Err: err}
	}

	// The server is configured to write its own log via the config file,
	// and its stdout/stderr are appended to the same file so servers that
	// only chatter on stdout are covered too.
	logOut, err := os.OpenFile(ws.LogPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{ExitCode: -1}, &StreamError{Err: err}
	}
	cmd.Stdout = logOut
	cmd.Stderr = logOut

	// Own process group, so the kill reaches any children the server forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	h.cmdMu.Lock()
	h.cmd = cmd
	h.exited = make(chan struct{})
	h.cmdMu.Unlock()

	h.startTime = time.Now()
	if err := cmd.Start(); err != nil {
		logOut.Close()
		return Result{ExitCode: -1}, &LaunchError{Binary: binPath, Err: err}
	}
	// Parent's copy of the log handle is no longer needed after fork.
	logOut.Close()

	pid := cmd.Process.Pid
	h.setState(StateRunning)
	h.logger.Info("server_started",
		"name", h.builder.Name(),
		"pid", pid,
		"workspace", ws.Dir(),
	)
	if h.callbacks.OnStart != nil {
		h.callbacks.OnStart(pid)
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()

	// Follow loop: foreground, blocking. The pipeline fans lines out to the
	// registered sinks; the mirror path stays synchronous and lossless.
	pipeline := tail.NewPipeline("server_log", h.pipelineBuffer, h.pipelineDropPct)
	follower := tail.NewFollower(ws.LogPath(), h.mirror, pipeline, h.pollInterval)

	h.cmdMu.Lock()
	h.follower = follower
	h.pipeline = pipeline
	h.cmdMu.Unlock()

	var sinkWg sync.WaitGroup
	if len(h.sinks) > 0 {
		sinkWg.Add(1)
		go func() {
			defer sinkWg.Done()
			pipeline.RunSink(tail.MultiSink(h.sinks))
		}()
	}

	h.setState(StateStreaming)
	streamErr := follower.Run(ctx, h.exited)

	result := Result{}
	var runErr error

	switch {
	case streamErr == nil:
		// Organic child exit; the follower drained the log before returning.
		h.setState(StateExited)
		result.Outcome = OutcomeChildExit
		result.ExitCode = extractExitCode(h.waitErr)

	case errors.Is(streamErr, context.Canceled), errors.Is(streamErr, context.DeadlineExceeded):
		// External signal or max-runtime deadline: supervisor-initiated
		// termination, not an error.
		result.Outcome = OutcomeForced

	default:
		// The follow-read itself failed while the server may still be
		// running. Treated with the same severity as a cancellation signal:
		// force-terminate right away, then proceed to cleanup.
		h.setState(StateStreamFailed)
		h.killProcessGroup()
		result.Outcome = OutcomeForced
		runErr = &StreamError{Err: streamErr}
	}

	h.drainSinks(&sinkWg)

	// Cleanup is sequenced strictly after the follow loop: the log file is
	// never deleted while still being read.
	h.cleanup()

	result.Uptime = time.Since(h.startTime)
	result.BytesStreamed, result.LinesStreamed, _ = follower.Stats()
	_, result.LinesDropped, _ = pipeline.Stats()
	result.CleanupWarning = h.cleanupWarn
	if result.Outcome == OutcomeForced {
		// The child has been reaped by cleanup; record how it died.
		result.ExitCode = h.reapedExitCode()
	}

	h.logger.Info("run_finished",
		"outcome", result.Outcome.String(),
		"exit_code", result.ExitCode,
		"uptime", result.Uptime.String(),
		"bytes_streamed", result.BytesStreamed,
		"lines_streamed", result.LinesStreamed,
	)
	if h.callbacks.OnExit != nil {
		h.callbacks.OnExit(result)
	}

	return result, runErr
}

// cleanup is the single guaranteed cleanup action: force-terminate the
// server if it is still running, then remove the workspace. Runs at most
// once; every exit path funnels through it.
func (h *Harness) cleanup() {
	h.cleanupOnce.Do(func() {
		h.setState(StateCleanup)
		h.killProcessGroup()
		if h.ws != nil {
			if err := h.ws.Remove(); err != nil {
				// Best effort: report, never mask the run's outcome.
				h.logger.Warn("workspace_remove_failed", "error", err)
				h.cleanupWarn = err
			}
		}
	})
}

// killProcessGroup sends SIGKILL to the server's process group and waits
// briefly for the reap, so workspace removal happens after the server has
// stopped writing.
//
// SIGKILL rather than SIGTERM: the contract is prompt termination even for
// unresponsive children.
func (h *Harness) killProcessGroup() {
	h.cmdMu.Lock()
	cmd := h.cmd
	exited := h.exited
	h.cmdMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exited:
		return // already gone
	default:
	}

	pid := cmd.Process.Pid
	h.logger.Debug("killing_server", "pid", pid)
	if pgid, err := syscall.Getpgid(pid); err == nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		cmd.Process.Kill()
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		h.logger.Warn("server_reap_timeout", "pid", pid)
	}
}

// drainSinks waits for the sink goroutine to finish consuming buffered
// lines, with a timeout so a stuck sink cannot wedge the run.
func (h *Harness) drainSinks(sinkWg *sync.WaitGroup) {
	const drainTimeout = 5 * time.Second

	done := make(chan struct{})
	go func() {
		sinkWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		h.logger.Warn("sink_drain_timeout", "timeout", drainTimeout.String())
	}
}

// reapedExitCode returns the child's exit code if it has been reaped,
// or -1 if it is still running or never ran.
func (h *Harness) reapedExitCode() int {
	h.cmdMu.Lock()
	exited := h.exited
	h.cmdMu.Unlock()

	if exited == nil {
		return -1
	}
	select {
	case <-exited:
		return extractExitCode(h.waitErr)
	default:
		return -1
	}
}

// StreamCounters returns the live follow-read and pipeline counters for
// this run: cumulative bytes and lines through the follower, and lines
// read and dropped by the sink pipeline. All zeros before streaming starts.
func (h *Harness) StreamCounters() (bytesStreamed, linesStreamed, linesRead, linesDropped int64) {
	h.cmdMu.Lock()
	follower := h.follower
	pipeline := h.pipeline
	h.cmdMu.Unlock()

	if follower != nil {
		bytesStreamed, linesStreamed, _ = follower.Stats()
	}
	if pipeline != nil {
		linesRead, linesDropped, _ = pipeline.Stats()
	}
	return bytesStreamed, linesStreamed, linesRead, linesDropped
}

// State returns the current state of the run.
func (h *Harness) State() State {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// Uptime returns the elapsed runtime while the server is live, or 0 before start.
func (h *Harness) Uptime() time.Duration {
	if h.startTime.IsZero() {
		return 0
	}
	return time.Since(h.startTime)
}

// setState updates the state and calls the callback if registered.
func (h *Harness) setState(newState State) {
	h.stateMu.Lock()
	oldState := h.state
	// Terminated is terminal; never regress out of it.
	if oldState == StateTerminated {
		h.stateMu.Unlock()
		return
	}
	h.state = newState
	h.stateMu.Unlock()

	if h.callbacks.OnStateChange != nil && oldState != newState {
		h.callbacks.OnStateChange(oldState, newState)
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
