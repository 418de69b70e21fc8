package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// ClientConfig holds the fixed launch settings for the bot client.
//
// The client-launch path is deliberately dumb: it replaces the current
// process with the client executable. No workspace, no log follow, no
// cleanup. All lifecycle responsibility stays with whoever started us.
type ClientConfig struct {
	// BinaryPath is the path or name of the client executable.
	BinaryPath string

	// IWAD is the path to the IWAD file the client loads.
	IWAD string

	// ConnectAddr is the server address to connect to (host:port).
	ConnectAddr string

	// Window is the window geometry (e.g. "800x600").
	Window string

	// Audio enables sound; when false the client is launched silent.
	Audio bool

	// ExtraArgs are appended verbatim to the command line.
	ExtraArgs []string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BinaryPath: "chocolate-doom",
		IWAD:       "doom1.wad",
		Window:     "800x600",
		Audio:      false,
	}
}

// Args constructs the client command-line arguments.
func (c *ClientConfig) Args() []string {
	args := []string{}
	if c.IWAD != "" {
		args = append(args, "-iwad", c.IWAD)
	}
	if c.Window != "" {
		args = append(args, "-window", "-geometry", c.Window)
	}
	if !c.Audio {
		args = append(args, "-nosound")
	}
	if c.ConnectAddr != "" {
		args = append(args, "-connect", c.ConnectAddr)
	}
	args = append(args, c.ExtraArgs...)
	return args
}

// CommandString returns the command that would be executed (for -print-cmd).
func (c *ClientConfig) CommandString() string {
	return c.BinaryPath + " " + strings.Join(c.Args(), " ")
}

// Exec replaces the current process with the client.
// Only returns on failure; on success the harness process is gone.
func (c *ClientConfig) Exec() error {
	path, err := exec.LookPath(c.BinaryPath)
	if err != nil {
		return fmt.Errorf("client binary: %w", err)
	}

	argv := append([]string{path}, c.Args()...)
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec client: %w", err)
	}
	return nil
}
