package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckServerBinary_Found(t *testing.T) {
	// sh exists on every platform we run tests on
	check := checkServerBinary("sh")
	if !check.Passed {
		t.Errorf("sh should resolve: %s", check.Message)
	}
	if !strings.Contains(check.Message, "found at") {
		t.Errorf("message = %q", check.Message)
	}
}

func TestCheckServerBinary_Missing(t *testing.T) {
	check := checkServerBinary("definitely-not-a-real-binary-xyz")
	if check.Passed {
		t.Error("missing binary should fail")
	}
	if !strings.Contains(check.Message, "not found") {
		t.Errorf("message = %q", check.Message)
	}
}

func TestCheckServerBinary_NotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notexec")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	check := checkServerBinary(path)
	if check.Passed {
		t.Error("non-executable file should fail")
	}
}

func TestCheckWorkspaceParent_Writable(t *testing.T) {
	check := checkWorkspaceParent(t.TempDir())
	if !check.Passed {
		t.Errorf("temp dir should be writable: %s", check.Message)
	}

	// Empty parent means the system temp dir
	check = checkWorkspaceParent("")
	if !check.Passed {
		t.Errorf("system temp should be writable: %s", check.Message)
	}
}

func TestCheckWorkspaceParent_Unwritable(t *testing.T) {
	check := checkWorkspaceParent("/proc/definitely/not/writable")
	if check.Passed {
		t.Error("unwritable parent should fail")
	}
}

func TestCheckFileDescriptors(t *testing.T) {
	// 1 instance needs 110 FDs, any sane system has more
	check := checkFileDescriptors(1)
	if !check.Passed {
		t.Errorf("1 instance should pass: %s", check.Message)
	}
	if check.Required != 110 {
		t.Errorf("Required = %d, want 110", check.Required)
	}

	// Absurd instance count should fail
	check = checkFileDescriptors(100_000_000)
	if check.Passed {
		t.Error("100M instances should exceed any fd limit")
	}
}

func TestRunAll(t *testing.T) {
	result := RunAll(1, "sh", t.TempDir())
	if !result.Passed {
		for _, c := range result.Checks {
			t.Logf("check: %s", c.String())
		}
		t.Error("all checks should pass with sh and a temp dir")
	}
	if len(result.Checks) != 3 {
		t.Errorf("got %d checks, want 3", len(result.Checks))
	}
}

func TestRunAll_MissingBinary(t *testing.T) {
	result := RunAll(1, "definitely-not-a-real-binary-xyz", t.TempDir())
	if result.Passed {
		t.Error("missing binary should fail the run")
	}
}

func TestCheckString(t *testing.T) {
	passed := Check{Name: "test", Passed: true, Message: "ok"}
	if !strings.Contains(passed.String(), "✓") {
		t.Errorf("passed check string = %q", passed.String())
	}

	failed := Check{Name: "test", Passed: false, Message: "bad"}
	if !strings.Contains(failed.String(), "✗") {
		t.Errorf("failed check string = %q", failed.String())
	}

	warn := Check{Name: "test", Passed: true, Warning: true, Message: "meh"}
	if !strings.Contains(warn.String(), "⚠") {
		t.Errorf("warning check string = %q", warn.String())
	}

	withCounts := Check{Name: "fds", Passed: true, Required: 100, Actual: 1024}
	s := withCounts.String()
	if !strings.Contains(s, "1024") || !strings.Contains(s, "100") {
		t.Errorf("counted check string = %q", s)
	}
}
