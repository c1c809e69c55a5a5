// Package livebus implements the bounded channel from the drainer to a
// dashboard collaborator (C11) and the growing snapshot it builds from
// received events.
package livebus

import (
	"sync"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// Capacity is the channel's buffer size, per spec.md §5's "Channel to
// dashboard: bounded" ("capacity small, e.g. 1024").
const Capacity = 1024

// TraceEvent is the shape delivered over the bus — the resolved,
// enriched view of an EXEC_START sample, mirroring
// original_source/hud/src/profiling/event_processor.rs's
// convert_to_trace_event.
type TraceEvent struct {
	Name            string
	WorkerID        uint32
	TID             uint32
	TimestampSec    float64
	CPUID           uint32
	DetectionMethod schema.DetectionMethod
	File            string
	Line            uint32
}

// Bus is a bounded, single-producer channel. Offer never blocks: a full
// channel silently drops the event, per spec.md §4.3's backpressure rule
// ("the drainer must never block on a downstream consumer").
type Bus struct {
	ch chan TraceEvent
}

// New returns a Bus with the standard Capacity.
func New() *Bus {
	return &Bus{ch: make(chan TraceEvent, Capacity)}
}

// Offer attempts a non-blocking send, reporting whether it was
// delivered (false means the channel was full and the event was
// dropped).
func (b *Bus) Offer(evt TraceEvent) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Events exposes the receive side for a dashboard consumer.
func (b *Bus) Events() <-chan TraceEvent {
	return b.ch
}

// Snapshot is an immutable view of everything observed so far, cheaply
// derived from the current accumulator state (spec.md §5: "the render
// pass observes an immutable handle derived cheaply from the current
// state").
type Snapshot struct {
	EventCount int
	Workers    []uint32
	FirstTS    float64
	LastTS     float64
}

// Accumulator is the dashboard-side consumer: a grow-only buffer of
// received events plus incrementally maintained summary fields.
type Accumulator struct {
	mu         sync.RWMutex
	events     []TraceEvent
	workersSet map[uint32]struct{}
	firstTS    float64
	lastTS     float64
	haveFirst  bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{workersSet: make(map[uint32]struct{})}
}

// Add appends one received event and updates the incremental summary.
func (a *Accumulator) Add(evt TraceEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, evt)
	a.workersSet[evt.WorkerID] = struct{}{}
	if !a.haveFirst {
		a.firstTS = evt.TimestampSec
		a.haveFirst = true
	}
	a.lastTS = evt.TimestampSec
}

// Snapshot returns an immutable view for one render pass.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	workers := make([]uint32, 0, len(a.workersSet))
	for w := range a.workersSet {
		workers = append(workers, w)
	}
	return Snapshot{
		EventCount: len(a.events),
		Workers:    workers,
		FirstTS:    a.firstTS,
		LastTS:     a.lastTS,
	}
}
