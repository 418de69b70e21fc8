// Package config provides configuration management for go-doom-server-harness.
package config

import "time"

// Config holds all configuration options for the harness.
type Config struct {
	// Server
	ServerPath   string   `json:"server_path"`
	Port         int      `json:"port"`
	Nodes        int      `json:"nodes"`
	LogVerbosity int      `json:"log_verbosity"`
	Settings     []string `json:"settings"`    // extra key=value config entries
	ServerArgs   []string `json:"server_args"` // extra command-line args

	// Harness
	WorkspaceParent       string        `json:"workspace_parent"` // "" = system temp
	PollInterval          time.Duration `json:"poll_interval"`
	MaxRuntime            time.Duration `json:"max_runtime"` // 0 = no limit
	PipelineBuffer        int           `json:"pipeline_buffer"`
	PipelineDropThreshold float64       `json:"pipeline_drop_threshold"`

	// Swarm (multiple independent instances)
	Instances int `json:"instances"`
	RampRate  int `json:"ramp_rate"` // instances started per second

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	MetricsDump string `json:"metrics_dump"` // "" = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Server
		ServerPath:   "chocolate-server",
		Port:         2342,
		Nodes:        1,
		LogVerbosity: 1,

		// Harness
		PollInterval:          100 * time.Millisecond,
		MaxRuntime:            0, // No limit
		PipelineBuffer:        1000,
		PipelineDropThreshold: 0.01,

		// Swarm
		Instances: 1,
		RampRate:  2,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		Verbose:     false,
		LogFormat:   "json",
		TUIEnabled:  false,
	}
}
