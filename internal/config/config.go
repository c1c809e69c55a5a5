// Package config defines taskscope's configuration surface: the CLI flags
// of spec.md §6, validated with the same ValidationError/MultiValidationError
// shape the teacher's internal/config package uses, scoped down from its
// layered multi-source system to what a single-binary profiler needs.
package config

import (
	"time"
)

// Config holds every flag spec.md §6 names plus the domain-stack additions
// SPEC_FULL.md's DOMAIN STACK section wires in (Threshold, SampleHz).
type Config struct {
	// PID is the target process to attach to.
	PID int
	// Target is the path to the target binary, used for symbolization and
	// PIE address normalization.
	Target string
	// Duration bounds the run; zero means unlimited (spec.md §6).
	Duration time.Duration
	// Export, if non-empty, is where the trace exporter writes its
	// document on exit.
	Export string
	// Headless disables the dashboard data-bus consumer.
	Headless bool
	// Replay, if non-empty, short-circuits live profiling and instead
	// reads a previously exported trace file to drive the dashboard.
	Replay string
	// WorkerPrefix overrides name-based worker discovery's prefix.
	WorkerPrefix string
	// Threshold is the off-CPU duration past which the scheduler
	// tracepoint promotes a span to SCHED_DETECTED (spec.md §4.1, default
	// 5ms).
	Threshold time.Duration
	// SampleHz is the CPU sampler's fixed frequency (spec.md §4.1, fixed
	// at 99Hz per the spec but left configurable for testing).
	SampleHz int
}

// DefaultThreshold is the off-CPU duration threshold spec.md §4.1 names.
const DefaultThreshold = 5 * time.Millisecond

// DefaultSampleHz is the CPU sampler frequency spec.md §4.1 names.
const DefaultSampleHz = 99

// Default returns a Config with every field at its spec.md-named default,
// PID/Target/Duration/Export/Replay left zero for the caller (usually CLI
// flag binding) to fill in.
func Default() Config {
	return Config{
		Threshold: DefaultThreshold,
		SampleHz:  DefaultSampleHz,
	}
}

// Validate checks the config for internal consistency, following the
// teacher's ValidationError/MultiValidationError shape
// (internal/config/validator.go in the teacher). Replay mode does not
// require PID/Target since it never attaches; live mode does.
func (c Config) Validate() error {
	var errs []ValidationError

	if c.Replay != "" {
		if c.Export != "" {
			errs = append(errs, ValidationError{
				Field:   "export",
				Message: "--export is not meaningful together with --replay",
			})
		}
		if len(errs) > 0 {
			return &MultiValidationError{Errors: errs}
		}
		return nil
	}

	if c.PID <= 0 {
		errs = append(errs, ValidationError{
			Field:   "pid",
			Message: "--pid is required and must be positive",
		})
	}
	if c.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "duration must be non-negative (0 means unlimited)",
		})
	}
	if c.Threshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "threshold",
			Message: "threshold must be positive",
		})
	}
	if c.SampleHz <= 0 || c.SampleHz > 1000 {
		errs = append(errs, ValidationError{
			Field:   "sample_hz",
			Message: "sample_hz must be between 1 and 1000",
		})
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
