package blocking

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

func TestMarkerPairing(t *testing.T) {
	// spec.md §8 S3
	m := New(zerolog.Nop())

	m.BlockStart(schema.Event{TID: 42, TimestampNS: 1_000_000_000, StackID: 7})
	span, ok := m.BlockEnd(schema.Event{TID: 42, TimestampNS: 1_120_000_000, StackID: 9})
	if !ok {
		t.Fatalf("expected span emitted")
	}
	if span.TID != 42 || span.DurationNS != 120_000_000 || span.StackID != 7 || span.Method != MethodMarker {
		t.Fatalf("unexpected span: %+v", span)
	}

	// A second immediate BLOCK_END with no new start is an orphan.
	_, ok = m.BlockEnd(schema.Event{TID: 42, TimestampNS: 1_130_000_000})
	if ok {
		t.Fatalf("expected orphan end, got a span")
	}
	if m.Stats.OrphanEnds != 1 {
		t.Fatalf("expected orphan count 1, got %d", m.Stats.OrphanEnds)
	}
}

func TestNonNestingNewerStartWins(t *testing.T) {
	m := New(zerolog.Nop())

	m.BlockStart(schema.Event{TID: 1, TimestampNS: 100, StackID: 11})
	m.BlockStart(schema.Event{TID: 1, TimestampNS: 200, StackID: 22}) // overwrites outer start

	span, ok := m.BlockEnd(schema.Event{TID: 1, TimestampNS: 300})
	if !ok {
		t.Fatalf("expected span emitted")
	}
	if span.StackID != 22 || span.DurationNS != 100 {
		t.Fatalf("expected pairing against the newer start, got %+v", span)
	}
}

func TestSchedulerDetectedIndependentOfMarkerState(t *testing.T) {
	m := New(zerolog.Nop())
	m.BlockStart(schema.Event{TID: 1, TimestampNS: 100, StackID: 5})

	span := m.SchedulerDetected(schema.Event{TID: 1, DurationNS: 20_000_000, StackID: 8})
	if span.Method != MethodScheduler || span.DurationNS != 20_000_000 || span.StackID != 8 {
		t.Fatalf("unexpected scheduler span: %+v", span)
	}

	// Marker state must be untouched.
	endSpan, ok := m.BlockEnd(schema.Event{TID: 1, TimestampNS: 500})
	if !ok || endSpan.StackID != 5 {
		t.Fatalf("expected marker state to survive a scheduler-detected event, got %+v ok=%v", endSpan, ok)
	}
}

func TestResetDiscardsPending(t *testing.T) {
	m := New(zerolog.Nop())
	m.BlockStart(schema.Event{TID: 9, TimestampNS: 1, StackID: 1})
	m.Reset()

	_, ok := m.BlockEnd(schema.Event{TID: 9, TimestampNS: 2})
	if ok {
		t.Fatalf("expected no pending start after Reset")
	}
}
