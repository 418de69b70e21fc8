// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
//
// workspaceParent may be empty, meaning the system temp directory.
func RunAll(instances int, serverPath, workspaceParent string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3),
		Passed: true,
	}

	serverCheck := checkServerBinary(serverPath)
	result.Checks = append(result.Checks, serverCheck)
	if !serverCheck.Passed {
		result.Passed = false
	}

	wsCheck := checkWorkspaceParent(workspaceParent)
	result.Checks = append(result.Checks, wsCheck)
	if !wsCheck.Passed {
		result.Passed = false
	}

	fdCheck := checkFileDescriptors(instances)
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	return result
}

// checkServerBinary verifies the server binary resolves on PATH and is
// executable. The binary is not run: dedicated servers bind their port
// immediately on startup and there is no safe "-version" probe.
func checkServerBinary(path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "server_binary",
			Passed:  false,
			Message: fmt.Sprintf("%s not found: %v", path, err),
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Check{
			Name:    "server_binary",
			Passed:  false,
			Message: fmt.Sprintf("cannot stat %s: %v", resolved, err),
		}
	}
	if info.Mode()&0111 == 0 {
		return Check{
			Name:    "server_binary",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable", resolved),
		}
	}

	return Check{
		Name:    "server_binary",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

// checkWorkspaceParent verifies scratch workspaces can be created and
// removed under the parent directory.
func checkWorkspaceParent(parent string) Check {
	if parent == "" {
		parent = os.TempDir()
	}

	probe, err := os.MkdirTemp(parent, "doom-harness-preflight-*")
	if err != nil {
		return Check{
			Name:    "workspace_parent",
			Passed:  false,
			Message: fmt.Sprintf("cannot create directories under %s: %v", parent, err),
		}
	}

	// A workspace must also hold files
	f := filepath.Join(probe, "probe")
	if err := os.WriteFile(f, []byte("ok\n"), 0o644); err != nil {
		os.RemoveAll(probe)
		return Check{
			Name:    "workspace_parent",
			Passed:  false,
			Message: fmt.Sprintf("cannot write files under %s: %v", parent, err),
		}
	}

	if err := os.RemoveAll(probe); err != nil {
		return Check{
			Name:    "workspace_parent",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("created but could not remove probe dir: %v", err),
		}
	}

	return Check{
		Name:    "workspace_parent",
		Passed:  true,
		Message: fmt.Sprintf("writable (%s)", parent),
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(instances int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Each instance needs the child's sockets plus the harness's log file,
	// follow-reader handle, and pipeline overhead
	required := instances*10 + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d instances)", actual, required, instances),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "server_binary":
		return "install the dedicated server or pass -server /path/to/binary"
	case "workspace_parent":
		return "pass -workspace-parent pointing at a writable directory"
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
