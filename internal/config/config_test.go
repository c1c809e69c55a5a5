package config

import (
	"testing"
	"time"
)

func TestDefaultValidateRequiresPID(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for missing pid")
	}
	multi, ok := err.(*MultiValidationError)
	if !ok {
		t.Fatalf("expected *MultiValidationError, got %T", err)
	}
	if len(multi.Errors) != 1 {
		t.Fatalf("expected 1 error (pid), got %d: %v", len(multi.Errors), multi.Errors)
	}
}

func TestValidateAcceptsEmptyTarget(t *testing.T) {
	// Target is resolved from /proc/<pid>/exe at session setup when left
	// empty, so Validate must not require it.
	cfg := Default()
	cfg.PID = 1234
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAcceptsLiveConfig(t *testing.T) {
	cfg := Default()
	cfg.PID = 1234
	cfg.Target = "/usr/bin/my-app"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReplaySkipsPIDTarget(t *testing.T) {
	cfg := Config{Replay: "trace.json", Threshold: DefaultThreshold, SampleHz: DefaultSampleHz}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error for replay-only config: %v", err)
	}
}

func TestValidateRejectsExportWithReplay(t *testing.T) {
	cfg := Config{Replay: "trace.json", Export: "out.json", Threshold: DefaultThreshold, SampleHz: DefaultSampleHz}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error combining --replay and --export")
	}
}

func TestValidateRejectsBadSampleHz(t *testing.T) {
	cfg := Default()
	cfg.PID = 1
	cfg.Target = "/bin/x"
	cfg.SampleHz = 5000
	cfg.Duration = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range sample_hz")
	}
}
