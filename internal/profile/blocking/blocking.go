// Package blocking implements the per-thread blocking-span state machine
// (C9): pairing of BLOCK_START/BLOCK_END markers, and independent
// scheduler-detected off-CPU spans. Ported from
// original_source/hud/src/profiling/event_processor.rs's
// handle_blocking_start/handle_blocking_end/handle_scheduler_detected.
package blocking

import (
	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// Method distinguishes how a span was detected.
type Method int

const (
	MethodMarker Method = iota
	MethodScheduler
)

// Span is a single completed blocking interval.
type Span struct {
	TID        uint32
	DurationNS uint64
	StackID    int64
	Method     Method
}

type pendingStart struct {
	startTS uint64
	stackID int64
}

// Stats counts diagnostics, mirroring event_processor.rs's DetectionStats.
type Stats struct {
	MarkerDetected    uint64
	SchedulerDetected uint64
	OrphanEnds        uint64
}

// Machine tracks one pending marker-start per thread. The hot path never
// returns an error: anomalies (orphan ends) are counted, per spec.md §7.
type Machine struct {
	pending map[uint32]pendingStart
	Stats   Stats
	logger  zerolog.Logger
}

// New returns an empty state machine.
func New(logger zerolog.Logger) *Machine {
	return &Machine{
		pending: make(map[uint32]pendingStart),
		logger:  logger.With().Str("component", "blocking").Logger(),
	}
}

// BlockStart unconditionally overwrites any prior unmatched start for
// this thread: the core does not support nested markers, so the newest
// BLOCK_START always wins (spec.md §4.7's tie-break, §9's non-nesting
// formalization).
func (m *Machine) BlockStart(evt schema.Event) {
	m.pending[evt.TID] = pendingStart{startTS: evt.TimestampNS, stackID: evt.StackID}
}

// BlockEnd pairs evt against the pending start for its thread, if any,
// and returns the completed span. If there is no pending start, the END
// is an orphan: it is counted and (span, false) is returned.
func (m *Machine) BlockEnd(evt schema.Event) (Span, bool) {
	start, ok := m.pending[evt.TID]
	if !ok {
		m.Stats.OrphanEnds++
		m.logger.Warn().Uint32("tid", evt.TID).Msg("BLOCK_END with no matching BLOCK_START")
		return Span{}, false
	}
	delete(m.pending, evt.TID)
	m.Stats.MarkerDetected++

	duration := uint64(0)
	if evt.TimestampNS > start.startTS {
		duration = evt.TimestampNS - start.startTS
	}
	return Span{
		TID:        evt.TID,
		DurationNS: duration,
		StackID:    start.stackID,
		Method:     MethodMarker,
	}, true
}

// SchedulerDetected emits an independent span from a kernel-side
// scheduler-tracepoint detection; it never touches marker state, so a
// worker may have overlapping marker and scheduler spans, both reported.
func (m *Machine) SchedulerDetected(evt schema.Event) Span {
	m.Stats.SchedulerDetected++
	return Span{
		TID:        evt.TID,
		DurationNS: evt.DurationNS,
		StackID:    evt.StackID,
		Method:     MethodScheduler,
	}
}

// Reset discards any pending unmatched starts, per spec.md §5's
// cancellation behavior ("the state machine's unclosed spans are
// discarded").
func (m *Machine) Reset() {
	m.pending = make(map[uint32]pendingStart)
}
