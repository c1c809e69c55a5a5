package livebus

import "testing"

func TestOfferDropsSilentlyWhenFull(t *testing.T) {
	b := &Bus{ch: make(chan TraceEvent, 1)}

	if !b.Offer(TraceEvent{WorkerID: 0}) {
		t.Fatalf("expected first offer to succeed")
	}
	if b.Offer(TraceEvent{WorkerID: 1}) {
		t.Fatalf("expected second offer to be dropped (channel full)")
	}
}

func TestAccumulatorSnapshot(t *testing.T) {
	a := NewAccumulator()
	a.Add(TraceEvent{WorkerID: 0, TimestampSec: 1.0})
	a.Add(TraceEvent{WorkerID: 1, TimestampSec: 2.5})

	snap := a.Snapshot()
	if snap.EventCount != 2 {
		t.Fatalf("expected 2 events, got %d", snap.EventCount)
	}
	if len(snap.Workers) != 2 {
		t.Fatalf("expected 2 distinct workers, got %d", len(snap.Workers))
	}
	if snap.FirstTS != 1.0 || snap.LastTS != 2.5 {
		t.Fatalf("unexpected ts extent: first=%v last=%v", snap.FirstTS, snap.LastTS)
	}
}
