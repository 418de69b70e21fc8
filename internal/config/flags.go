package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// kvList is a custom flag type for repeatable -set key=value flags.
type kvList []string

func (l *kvList) String() string {
	return strings.Join(*l, ", ")
}

func (l *kvList) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	*l = append(*l, value)
	return nil
}

// argList is a custom flag type for repeatable passthrough args.
type argList []string

func (l *argList) String() string {
	return strings.Join(*l, " ")
}

func (l *argList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()
	var settings kvList
	var serverArgs argList

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-doom-server-harness - supervised dedicated server for bot-client testing

Usage:
  go-doom-server-harness [flags] [server-binary]

Server Flags:
`)
		printFlagCategory([]string{"server", "port", "nodes", "log-verbosity", "set", "server-arg"})

		fmt.Fprintf(os.Stderr, "\nHarness:\n")
		printFlagCategory([]string{"workspace-parent", "poll-interval", "max-runtime"})

		fmt.Fprintf(os.Stderr, "\nSwarm:\n")
		printFlagCategory([]string{"instances", "ramp-rate"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "metrics-dump", "v", "log-format", "tui"})

		fmt.Fprintf(os.Stderr, "\nSafety & Diagnostics:\n")
		printFlagCategory([]string{"print-cmd", "check", "skip-preflight"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Run a server for one bot on the default port, logs mirrored to the terminal
  go-doom-server-harness -nodes 1

  # Four-player deathmatch server, killed after five minutes
  go-doom-server-harness -nodes 4 -max-runtime 5m -server-arg -deathmatch

  # Ten independent instances on ports 2342..2351 with the live dashboard
  go-doom-server-harness -instances 10 -tui

`)
	}

	// Server flags
	flag.StringVar(&cfg.ServerPath, "server", cfg.ServerPath, "Path to the dedicated-server binary")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "UDP port the server listens on")
	flag.IntVar(&cfg.Nodes, "nodes", cfg.Nodes, "Number of player nodes the server waits for")
	flag.IntVar(&cfg.LogVerbosity, "log-verbosity", cfg.LogVerbosity, "Server log verbosity level (0-3)")
	flag.Var(&settings, "set", "Extra config entry as key=value (can repeat)")
	flag.Var(&serverArgs, "server-arg", "Extra server command-line argument (can repeat)")

	// Harness
	flag.StringVar(&cfg.WorkspaceParent, "workspace-parent", cfg.WorkspaceParent, "Parent directory for scratch workspaces (default: system temp)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Follow-read poll interval")
	flag.DurationVar(&cfg.MaxRuntime, "max-runtime", cfg.MaxRuntime, "Kill the server after this duration (0 = no limit)")
	// Hidden tuning knobs
	flag.IntVar(&cfg.PipelineBuffer, "pipeline-buffer", cfg.PipelineBuffer, "")
	flag.Float64Var(&cfg.PipelineDropThreshold, "pipeline-drop-threshold", cfg.PipelineDropThreshold, "")

	// Swarm
	flag.IntVar(&cfg.Instances, "instances", cfg.Instances, "Number of independent server instances (ports ascend from -port)")
	flag.IntVar(&cfg.RampRate, "ramp-rate", cfg.RampRate, "Instances to start per second")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	flag.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write a final metrics snapshot to this file on exit")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard (suppresses the raw log mirror)")

	// Safety & Diagnostics (double-dash convention)
	flag.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the server command and exit")
	flag.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run 1 instance for 10 seconds")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	flag.Parse()

	cfg.Settings = settings
	cfg.ServerArgs = serverArgs

	// Positional argument: server binary path
	args := flag.Args()
	if len(args) >= 1 {
		cfg.ServerPath = args[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
