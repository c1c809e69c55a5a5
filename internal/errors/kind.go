package errors

import (
	"errors"
	"fmt"
)

// Kind taxonomizes the fatal and per-anomaly error conditions this
// profiler can hit, per spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindProbeLoadFailed
	KindProcessNotFound
	KindNoWorkersFound
	KindProbeAttachFailed
	KindMemoryMapParseFailed
	KindNoMemoryRangeFound
	KindSymbolizationFailed
	KindInvalidStackID
	KindRingBufferOutputFailed
	KindExportSerializeFailed
)

func (k Kind) String() string {
	switch k {
	case KindProbeLoadFailed:
		return "probe-load-failed"
	case KindProcessNotFound:
		return "process-not-found"
	case KindNoWorkersFound:
		return "no-workers-found"
	case KindProbeAttachFailed:
		return "probe-attach-failed"
	case KindMemoryMapParseFailed:
		return "memory-map-parse-failed"
	case KindNoMemoryRangeFound:
		return "no-memory-range-found"
	case KindSymbolizationFailed:
		return "symbolization-failed"
	case KindInvalidStackID:
		return "invalid-stack-id"
	case KindRingBufferOutputFailed:
		return "ring-buffer-output-failed"
	case KindExportSerializeFailed:
		return "export-serialize-failed"
	default:
		return "unknown"
	}
}

// ProfileError carries structured context for a taxonomized failure: what
// kind it is, the underlying cause, and an actionable recovery hint, per
// spec.md §7 ("error messages carry actionable recovery hints wherever a
// human can act on them").
type ProfileError struct {
	Kind  Kind
	Cause error
	Hint  string
}

// New constructs a ProfileError.
func New(kind Kind, cause error, hint string) *ProfileError {
	return &ProfileError{Kind: kind, Cause: cause, Hint: hint}
}

func (e *ProfileError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Kind, e.Cause, e.Hint)
}

func (e *ProfileError) Unwrap() error { return e.Cause }

// As reports whether err is (or wraps) a *ProfileError and, if so, returns
// it.
func As(err error) (*ProfileError, bool) {
	var pe *ProfileError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *ProfileError, or
// KindUnknown otherwise.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return KindUnknown
}
