package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ServerPath == "" {
		errs = append(errs, ValidationError{
			Field:   "server",
			Message: "server binary path is required",
		})
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be 1-65535 (got %d)", cfg.Port),
		})
	}

	if cfg.Nodes < 1 {
		errs = append(errs, ValidationError{
			Field:   "nodes",
			Message: "must be at least 1",
		})
	}

	if cfg.LogVerbosity < 0 || cfg.LogVerbosity > 3 {
		errs = append(errs, ValidationError{
			Field:   "log_verbosity",
			Message: fmt.Sprintf("must be 0-3 (got %d)", cfg.LogVerbosity),
		})
	}

	// Each -set entry must look like key=value
	for _, s := range cfg.Settings {
		if !strings.Contains(s, "=") {
			errs = append(errs, ValidationError{
				Field:   "set",
				Message: fmt.Sprintf("expected key=value, got %q", s),
			})
		}
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}

	if cfg.MaxRuntime < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_runtime",
			Message: "must not be negative",
		})
	}

	if cfg.PipelineBuffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline_buffer",
			Message: "must be at least 1",
		})
	}

	if cfg.PipelineDropThreshold < 0 || cfg.PipelineDropThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline_drop_threshold",
			Message: fmt.Sprintf("must be between 0 and 1 (got %g)", cfg.PipelineDropThreshold),
		})
	}

	if cfg.Instances < 1 {
		errs = append(errs, ValidationError{
			Field:   "instances",
			Message: "must be at least 1",
		})
	}

	// Ascending port assignment must stay inside the valid range
	if cfg.Instances > 1 && cfg.Port+cfg.Instances-1 > 65535 {
		errs = append(errs, ValidationError{
			Field:   "instances",
			Message: fmt.Sprintf("port range %d-%d exceeds 65535", cfg.Port, cfg.Port+cfg.Instances-1),
		})
	}

	if cfg.RampRate < 1 {
		errs = append(errs, ValidationError{
			Field:   "ramp_rate",
			Message: "must be at least 1",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ApplyCheckMode modifies config for --check mode.
func ApplyCheckMode(cfg *Config) {
	cfg.Instances = 1
	cfg.MaxRuntime = 10 * time.Second
	cfg.Verbose = true
}
