// Package workspace manages the scratch directory owned by a single harness run.
//
// A Workspace is created fresh for every run, holds the server config file and
// log file, and is removed in full when the run ends. It is never shared
// between runs.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ConfigFileName is the config file the server reads from its working directory.
	ConfigFileName = "server.cfg"

	// LogFileName is the log file the server appends to inside the workspace.
	LogFileName = "server.log"

	// dirPattern is the MkdirTemp pattern for workspace directories.
	dirPattern = "doom-harness-*"
)

// Error wraps a workspace create/remove failure.
type Error struct {
	Op   string // "create", "config", "logfile", "remove"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Workspace is a disposable working directory for one supervised run.
type Workspace struct {
	dir     string
	removed bool
}

// Create makes a fresh, uniquely-named workspace directory.
// parent may be empty to use the system temp directory.
func Create(parent string) (*Workspace, error) {
	dir, err := os.MkdirTemp(parent, dirPattern)
	if err != nil {
		return nil, &Error{Op: "create", Path: parent, Err: err}
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// ConfigPath returns the path of the server config file.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.dir, ConfigFileName)
}

// LogPath returns the path of the server log file.
func (w *Workspace) LogPath() string {
	return filepath.Join(w.dir, LogFileName)
}

// WriteConfig materializes settings as the server config file.
//
// The format is opaque key/value text in the style dedicated servers read:
// one `key "value"` pair per line, sorted by key for deterministic output.
// The harness itself never interprets the contents.
func (w *Workspace) WriteConfig(settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %q\n", k, settings[k])
	}

	if err := os.WriteFile(w.ConfigPath(), []byte(b.String()), 0o644); err != nil {
		return &Error{Op: "config", Path: w.ConfigPath(), Err: err}
	}
	return nil
}

// CreateLogFile creates the empty log file the server will append to.
func (w *Workspace) CreateLogFile() error {
	f, err := os.OpenFile(w.LogPath(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &Error{Op: "logfile", Path: w.LogPath(), Err: err}
	}
	return f.Close()
}

// Remove deletes the workspace directory recursively.
// Safe to call multiple times; subsequent calls are no-ops.
func (w *Workspace) Remove() error {
	if w.removed {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return &Error{Op: "remove", Path: w.dir, Err: err}
	}
	w.removed = true
	return nil
}

// Exists reports whether the workspace directory is still present.
func (w *Workspace) Exists() bool {
	_, err := os.Stat(w.dir)
	return err == nil
}
