// Package process provides command construction for the dedicated game
// server and the bot client.
//
// The server binary is treated as an opaque child process: it must accept a
// working directory, write its log to the file named in its config, and die
// on SIGKILL. Nothing here parses game traffic.
package process

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// ServerConfig holds configuration for the dedicated-server process.
type ServerConfig struct {
	// BinaryPath is the path or name of the dedicated-server binary.
	BinaryPath string

	// Port is the UDP port the server listens on.
	Port int

	// Nodes is the number of player nodes the server waits for.
	Nodes int

	// LogVerbosity is the server-side log verbosity level (0-3).
	LogVerbosity int

	// Settings are extra opaque key/value pairs written into the config file.
	Settings map[string]string

	// ExtraArgs are appended verbatim to the command line.
	ExtraArgs []string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		BinaryPath:   "chocolate-server",
		Port:         2342,
		Nodes:        1,
		LogVerbosity: 1,
	}
}

// ServerRunner builds dedicated-server commands.
// Implements the harness Builder interface.
type ServerRunner struct {
	config *ServerConfig
}

// NewServerRunner creates a runner with the given configuration.
func NewServerRunner(cfg *ServerConfig) *ServerRunner {
	return &ServerRunner{config: cfg}
}

// Name returns "server".
func (r *ServerRunner) Name() string {
	return "server"
}

// Resolve looks up the server binary on the host PATH. Called before any
// workspace or process exists, so a missing binary costs nothing to clean up.
func (r *ServerRunner) Resolve() (string, error) {
	return exec.LookPath(r.config.BinaryPath)
}

// BuildCommand creates an exec.Cmd for the server.
//
// dir is the scratch workspace the server will run in; configPath is the
// config file inside it. The command is not started.
func (r *ServerRunner) BuildCommand(ctx context.Context, dir, configPath string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, r.buildArgs(configPath)...)
	cmd.Dir = dir
	return cmd, nil
}

// buildArgs constructs the server command-line arguments.
func (r *ServerRunner) buildArgs(configPath string) []string {
	args := []string{
		"-port", strconv.Itoa(r.config.Port),
		"-nodes", strconv.Itoa(r.config.Nodes),
	}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	args = append(args, r.config.ExtraArgs...)
	return args
}

// ConfigSettings returns the key/value settings to materialize as the
// server's config file. logPath is the log file the server must append to.
func (r *ServerRunner) ConfigSettings(logPath string) map[string]string {
	settings := map[string]string{
		"log_file":      logPath,
		"log_verbosity": strconv.Itoa(r.config.LogVerbosity),
	}
	for k, v := range r.config.Settings {
		settings[k] = v
	}
	return settings
}

// Config returns the server configuration.
func (r *ServerRunner) Config() *ServerConfig {
	return r.config
}

// CommandString returns the command that would be executed (for -print-cmd).
func (r *ServerRunner) CommandString(configPath string) string {
	return r.config.BinaryPath + " " + strings.Join(r.buildArgs(configPath), " ")
}
