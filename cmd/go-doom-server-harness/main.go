// Package main provides the go-doom-server-harness CLI entry point.
//
// go-doom-server-harness supervises dedicated game-server processes: it
// creates a scratch workspace per server, materializes its config,
// follow-reads its log live, and guarantees that the process is killed and
// the workspace removed on every exit path.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-doom-server-harness/internal/config"
	"github.com/randomizedcoder/go-doom-server-harness/internal/harness"
	"github.com/randomizedcoder/go-doom-server-harness/internal/logging"
	"github.com/randomizedcoder/go-doom-server-harness/internal/metrics"
	"github.com/randomizedcoder/go-doom-server-harness/internal/preflight"
	"github.com/randomizedcoder/go-doom-server-harness/internal/process"
	"github.com/randomizedcoder/go-doom-server-harness/internal/stats"
	"github.com/randomizedcoder/go-doom-server-harness/internal/tail"
	"github.com/randomizedcoder/go-doom-server-harness/internal/timeseries"
	"github.com/randomizedcoder/go-doom-server-harness/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-doom-server-harness
var version = "dev"

// exitInterrupted is reported when the run was ended by a signal or the
// max-runtime deadline rather than by the child.
const exitInterrupted = 130

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-doom-server-harness %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When the TUI is enabled, suppress logs so they don't fight the
	// dashboard for the terminal.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled",
			"instances", cfg.Instances,
			"max_runtime", cfg.MaxRuntime.String(),
		)
	}

	if cfg.PrintCmd {
		printServerCommand(cfg)
		return 0
	}

	if !cfg.SkipPreflight {
		result := preflight.RunAll(cfg.Instances, cfg.ServerPath, cfg.WorkspaceParent)
		if !cfg.TUIEnabled {
			preflight.PrintResults(result)
		}
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "preflight checks failed (use -skip-preflight to override)")
			return 1
		}
	}

	logger.Info("starting",
		"version", version,
		"server", cfg.ServerPath,
		"port", cfg.Port,
		"instances", cfg.Instances,
		"ramp_rate", cfg.RampRate,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	app := newApp(cfg, logger)
	return app.run()
}

// app wires the manager, stats, metrics, and TUI together for one run.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	aggregator *stats.Aggregator
	collector  *metrics.Collector
	metricsSrv *metrics.Server

	bytesTracker *timeseries.RateTracker
	linesTracker *timeseries.RateTracker

	manager *harness.Manager
	program *tea.Program // nil unless the TUI is enabled

	// Per-instance server log handlers, populated as instances start.
	// Only used for non-TUI runs.
	logHandlersMu sync.Mutex
	logHandlers   map[int]*logging.ServerLogHandler

	// Previous aggregate totals, for the per-tick rate tracker deltas.
	prevBytes int64
	prevLines int64

	startTime time.Time
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	a := &app{
		cfg:          cfg,
		logger:       logger,
		aggregator:   stats.NewAggregator(cfg.PipelineDropThreshold),
		bytesTracker: timeseries.NewRateTracker(),
		linesTracker: timeseries.NewRateTracker(),
		logHandlers:  make(map[int]*logging.ServerLogHandler),
		startTime:    time.Now(),
	}

	a.collector = metrics.NewCollector(metrics.CollectorConfig{
		Version:         version,
		ServerBinary:    cfg.ServerPath,
		TargetInstances: cfg.Instances,
		MaxRuntime:      cfg.MaxRuntime,
	})
	a.metricsSrv = metrics.NewServer(cfg.MetricsAddr, logger)

	a.manager = harness.NewManager(harness.ManagerConfig{
		Instances:   cfg.Instances,
		Ramp:        harness.NewRampScheduler(cfg.RampRate, 100*time.Millisecond),
		NewInstance: a.newInstance,
		Logger:      logger,
		Callbacks: harness.ManagerCallbacks{
			OnInstanceStateChange: a.onStateChange,
			OnInstanceStart:       a.onStart,
			OnInstanceExit:        a.onExit,
		},
	})

	return a
}

// newInstance builds the harness configuration for one swarm instance.
// Each instance gets its own port, workspace, and stream stats.
func (a *app) newInstance(instanceID int) harness.Config {
	runner := process.NewServerRunner(&process.ServerConfig{
		BinaryPath:   a.cfg.ServerPath,
		Port:         a.cfg.Port + instanceID,
		Nodes:        a.cfg.Nodes,
		LogVerbosity: a.cfg.LogVerbosity,
		Settings:     parseSettings(a.cfg.Settings),
		ExtraArgs:    a.cfg.ServerArgs,
	})

	streamStats := stats.NewStreamStats(instanceID)
	a.aggregator.AddInstance(streamStats)

	sinks := []tail.LineSink{streamStats}
	if a.program != nil {
		sinks = append(sinks, &tuiSink{program: a.program, instanceID: instanceID})
	} else {
		// Surface server warnings and errors through the harness log, and
		// keep recent lines around for the exit summary.
		handler := logging.NewServerLogHandler(a.logger.With("instance_id", instanceID), a.cfg.Verbose)
		a.logHandlersMu.Lock()
		a.logHandlers[instanceID] = handler
		a.logHandlersMu.Unlock()
		sinks = append(sinks, handler)
	}

	// Only a lone instance mirrors to the terminal: interleaving N raw
	// server logs on stdout is noise, and the TUI owns the terminal anyway.
	var mirror io.Writer = io.Discard
	if a.cfg.Instances == 1 && !a.cfg.TUIEnabled {
		mirror = os.Stdout
	}

	return harness.Config{
		Builder:               runner,
		Logger:                a.logger.With("instance_id", instanceID),
		WorkspaceParent:       a.cfg.WorkspaceParent,
		Mirror:                mirror,
		LineSinks:             sinks,
		PollInterval:          a.cfg.PollInterval,
		PipelineBuffer:        a.cfg.PipelineBuffer,
		PipelineDropThreshold: a.cfg.PipelineDropThreshold,
	}
}

func (a *app) run() int {
	// Signal handling: SIGINT/SIGTERM cancels the run context, which sends
	// every instance down its guaranteed cleanup path.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cancel context.CancelFunc = func() {}
	if a.cfg.MaxRuntime > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.cfg.MaxRuntime)
	}
	defer cancel()

	a.metricsSrv.Start()

	if a.cfg.TUIEnabled {
		model := tui.NewModel(a.cfg.Instances, a.cfg.ServerPath, a.cfg.MetricsAddr)
		a.program = tea.NewProgram(model, tea.WithAltScreen())
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- a.manager.Run(ctx)
	}()

	statsDone := make(chan struct{})
	go a.statsLoop(statsDone)

	// The TUI runs in the foreground; quitting it cancels the run.
	if a.program != nil {
		tuiDone := make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := a.program.Run(); err != nil {
				a.logger.Error("tui_failed", "error", err)
			}
			stop() // TUI quit behaves like an interrupt
		}()
		defer func() {
			tui.SendQuit(a.program)
			<-tuiDone
		}()
	}

	runErr := <-runDone
	close(statsDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("metrics_server_shutdown_error", "error", err)
	}

	a.recordStreamErrors()

	if a.cfg.MetricsDump != "" {
		if err := metrics.DumpSnapshot(a.cfg.MetricsDump); err != nil {
			a.logger.Warn("metrics_dump_failed", "path", a.cfg.MetricsDump, "error", err)
		} else {
			a.logger.Info("metrics_dumped", "path", a.cfg.MetricsDump)
		}
	}

	a.logRunSummary()
	a.printExitSummary()

	if runErr != nil {
		a.logger.Error("run_failed", "error", runErr)
		return 1
	}
	return a.exitCode(ctx)
}

// exitCode maps the run outcome to the process exit status. A lone
// instance propagates its child's status; interruption reports 130.
func (a *app) exitCode(ctx context.Context) int {
	results := a.manager.Results()

	if a.cfg.Instances == 1 && len(results) == 1 {
		r := results[0].Result
		if r.Forced() {
			return exitInterrupted
		}
		if r.ExitCode < 0 {
			return 1
		}
		return r.ExitCode
	}

	// Swarm mode: interruption is the expected way to end an open-ended
	// run, so forced outcomes alone are not a failure.
	if ctx.Err() != nil {
		for _, r := range results {
			if r.Result.Outcome == harness.OutcomeChildExit && r.Result.ExitCode != 0 {
				return 1
			}
		}
		return 0
	}

	for _, r := range results {
		if !r.Result.Success() && !r.Result.Forced() {
			return 1
		}
	}
	return 0
}

// statsLoop publishes stats once a second until done closes.
func (a *app) statsLoop(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		// The ticker keeps firing after ctx cancellation on purpose:
		// instances are still draining and cleaning up until done closes.
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		a.publishStats()
	}
}

// publishStats bridges the live follow-read counters into the per-instance
// stream stats, aggregates them, and pushes the result to the metrics
// collector and the TUI.
func (a *app) publishStats() {
	// Lines reach StreamStats through the sink path, but byte and pipeline
	// totals only exist on the harness side; copy them over before
	// aggregating.
	a.manager.ForEachHarness(func(instanceID int, h *harness.Harness) {
		ss := a.aggregator.GetInstance(instanceID)
		if ss == nil {
			return
		}
		bytesStreamed, _, linesRead, linesDropped := h.StreamCounters()
		ss.RecordBytes(bytesStreamed)
		ss.RecordPipeline(linesRead, linesDropped)
	})

	agg := a.aggregator.Aggregate()

	a.bytesTracker.Add(agg.TotalBytes - a.prevBytes)
	a.linesTracker.Add(agg.TotalLines - a.prevLines)
	a.prevBytes = agg.TotalBytes
	a.prevLines = agg.TotalLines
	a.bytesTracker.RecordSample()
	a.linesTracker.RecordSample()

	byteRates := a.bytesTracker.GetStats()
	lineRates := a.linesTracker.GetStats()

	a.collector.RecordStats(&metrics.StatsUpdate{
		ActiveInstances:    a.manager.ActiveCount(),
		QuietInstances:     agg.QuietInstances,
		TotalLines:         agg.TotalLines,
		TotalErrors:        agg.TotalErrors,
		TotalWarnings:      agg.TotalWarnings,
		TotalBytes:         agg.TotalBytes,
		LineRate:           lineRates.Avg1s,
		ThroughputAvg1s:    byteRates.Avg1s,
		ThroughputAvg30s:   byteRates.Avg30s,
		ThroughputAvg60s:   byteRates.Avg60s,
		ThroughputAvg300s:  byteRates.Avg300s,
		WorstGapP50:        agg.WorstGapP50,
		WorstGapP95:        agg.WorstGapP95,
		WorstGapP99:        agg.WorstGapP99,
		MaxGap:             agg.MaxGap,
		TotalLinesRead:     agg.TotalLinesRead,
		TotalLinesDropped:  agg.TotalLinesDropped,
		InstancesWithDrops: agg.InstancesWithDrops,
		PeakDropRate:       agg.PeakDropRate,
	})
	a.collector.SetInstanceStates(a.manager.StateCounts())

	if a.program != nil {
		agg.PerInstanceSummaries = a.aggregator.GetAllSummaries()
		tui.SendStats(a.program, agg)
	}
}

// Manager callbacks

func (a *app) onStateChange(instanceID int, oldState, newState harness.State) {
	switch newState {
	case harness.StateWorkspaceReady:
		a.collector.WorkspaceCreated()
	case harness.StateTerminated:
		// Workspace removal is part of cleanup; failures surface through
		// the result's CleanupWarning in onExit.
	}

	if a.cfg.Verbose {
		a.logger.Debug("instance_state_changed",
			"instance_id", instanceID,
			"old", oldState.String(),
			"new", newState.String(),
		)
	}
}

func (a *app) onStart(instanceID, pid int) {
	a.collector.InstanceStarted()
	if a.cfg.Verbose {
		a.logger.Debug("instance_process_started", "instance_id", instanceID, "pid", pid)
	}
}

func (a *app) onExit(instanceID int, result harness.Result) {
	if ss := a.aggregator.GetInstance(instanceID); ss != nil {
		ss.MarkEnded()
	}
	a.collector.RecordExit(result.ExitCode, result.Uptime)
	if result.Forced() {
		a.collector.RecordForcedTermination()
	}
	if result.CleanupWarning != nil {
		a.collector.RecordCleanupFailure()
	} else {
		a.collector.WorkspaceRemoved()
	}
}

// recordStreamErrors counts instances whose run ended with a stream error.
func (a *app) recordStreamErrors() {
	for _, r := range a.manager.Results() {
		var streamErr *harness.StreamError
		if errors.As(r.Err, &streamErr) {
			a.collector.RecordStreamError()
		}
	}
}

// logRunSummary logs the collector's end-of-run rollup.
func (a *app) logRunSummary() {
	sum := a.collector.GenerateSummary()
	a.logger.Info("run_summary",
		"duration", sum.Duration.String(),
		"target_instances", sum.TargetInstances,
		"peak_active", a.collector.PeakActive(),
		"total_starts", sum.TotalStarts,
		"uptime_p50", sum.UptimeP50.String(),
		"uptime_p95", sum.UptimeP95.String(),
		"uptime_p99", sum.UptimeP99.String(),
	)
}

// printExitSummary prints the end-of-run statistics block, plus any
// failure patterns spotted in the server logs.
func (a *app) printExitSummary() {
	// One last counter sync so the summary carries final totals even if
	// the stats loop never ticked (short runs).
	a.publishStats()

	agg := a.aggregator.Aggregate()
	agg.PerInstanceSummaries = a.aggregator.GetAllSummaries()

	fmt.Println(stats.FormatExitSummary(agg, stats.SummaryConfig{
		TargetInstances:      a.cfg.Instances,
		Duration:             time.Since(a.startTime),
		MetricsAddr:          a.cfg.MetricsAddr,
		ShowPerInstanceStats: a.cfg.Verbose && a.cfg.Instances > 1,
		ExitCodes:            a.collector.ExitCodeCounts(),
		ForcedTerminations:   a.manager.ForcedCount(),
		CleanupFailures:      a.manager.CleanupFailures(),
	}))

	if issues := a.serverLogIssues(); len(issues) > 0 {
		patterns := make([]string, 0, len(issues))
		for p := range issues {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)

		fmt.Println("Failure patterns seen in server logs:")
		for _, p := range patterns {
			fmt.Printf("  %-20s %d\n", p, issues[p])
		}
		fmt.Println()
	}

	a.printFailedServerTail()
}

// serverLogIssues merges failure-pattern counts across all instances'
// server log handlers.
func (a *app) serverLogIssues() map[string]int {
	a.logHandlersMu.Lock()
	defer a.logHandlersMu.Unlock()

	merged := make(map[string]int)
	for _, h := range a.logHandlers {
		for pattern, n := range h.CountErrors() {
			merged[pattern] += n
		}
	}
	return merged
}

// printFailedServerTail shows the last server log lines when a lone
// instance exited with a failure, so the cause is visible without the
// workspace (which is already gone).
func (a *app) printFailedServerTail() {
	if a.cfg.Instances != 1 {
		return
	}
	results := a.manager.Results()
	if len(results) != 1 {
		return
	}
	r := results[0].Result
	if r.Forced() || r.ExitCode == 0 {
		return
	}

	a.logHandlersMu.Lock()
	handler := a.logHandlers[results[0].InstanceID]
	a.logHandlersMu.Unlock()
	if handler == nil {
		return
	}

	lines := handler.RecentLines(10)
	if len(lines) == 0 {
		return
	}
	fmt.Printf("Last %d server log lines:\n", len(lines))
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
	fmt.Println()
}

// tuiSink forwards pipeline lines to the TUI's log tail.
type tuiSink struct {
	program    *tea.Program
	instanceID int
}

func (s *tuiSink) HandleLine(line string) {
	tui.SendLogLines(s.program, []tui.LogLine{{
		InstanceID: s.instanceID,
		Text:       line,
		Severity:   tui.ClassifySeverity(line),
		At:         time.Now(),
	}})
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     go-doom-server-harness                        ║")
	fmt.Println("║     Dedicated Server Supervision with Guaranteed Cleanup          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	if cfg.Instances > 1 {
		fmt.Printf("  Target:      %d instances at %d/sec (ports %d-%d)\n",
			cfg.Instances, cfg.RampRate, cfg.Port, cfg.Port+cfg.Instances-1)
	} else {
		fmt.Printf("  Server:      %s on port %d\n", cfg.ServerPath, cfg.Port)
	}
	fmt.Printf("  Nodes:       %d\n", cfg.Nodes)
	if cfg.MaxRuntime > 0 {
		fmt.Printf("  Max runtime: %s\n", cfg.MaxRuntime)
	}
	fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop. The server and its workspace are always cleaned up.")
	fmt.Println()
}

// printServerCommand prints the server command that would be generated.
func printServerCommand(cfg *config.Config) {
	runner := process.NewServerRunner(&process.ServerConfig{
		BinaryPath:   cfg.ServerPath,
		Port:         cfg.Port,
		Nodes:        cfg.Nodes,
		LogVerbosity: cfg.LogVerbosity,
		Settings:     parseSettings(cfg.Settings),
		ExtraArgs:    cfg.ServerArgs,
	})

	fmt.Println("# Server command that would be run (config path filled in at launch):")
	fmt.Println()
	fmt.Println(runner.CommandString("<workspace>/server.cfg"))
}

// parseSettings converts validated key=value pairs into a map.
func parseSettings(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	settings := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, _ := strings.Cut(pair, "=")
		settings[k] = v
	}
	return settings
}
