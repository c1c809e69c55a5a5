// Package schema defines the fixed-layout event record shared between the
// kernel probes and the userspace drainer, plus the value types threaded
// through the rest of the profiling pipeline.
//
// Event is kept byte-identical to the C struct emitted by the BPF programs
// in internal/profile/bpf/bpfsrc; EventSize must match sizeof(struct event)
// on the kernel side.
package schema

import "fmt"

// EventType identifies what kind of record an Event carries.
type EventType uint32

const (
	EventUnknown EventType = iota
	EventBlockStart
	EventBlockEnd
	EventSchedDetected
	EventExecStart
	EventExecEnd
)

func (t EventType) String() string {
	switch t {
	case EventBlockStart:
		return "BLOCK_START"
	case EventBlockEnd:
		return "BLOCK_END"
	case EventSchedDetected:
		return "SCHED_DETECTED"
	case EventExecStart:
		return "EXEC_START"
	case EventExecEnd:
		return "EXEC_END"
	default:
		return "UNKNOWN"
	}
}

// DetectionMethod records how an event was produced.
type DetectionMethod uint32

const (
	DetectionNone DetectionMethod = iota
	DetectionMarker
	DetectionSchedulerTracepoint
	DetectionCPUSample
)

// WorkerIDUnset is the sentinel worker_id for a tid that is not a
// registered runtime worker.
const WorkerIDUnset uint32 = 0xFFFFFFFF

// MaxStackDepth bounds the number of instruction pointers captured per
// stack-trace-map entry.
const MaxStackDepth = 127

// EventSize is the packed, little-endian wire size of Event in bytes:
// pid(4) tid(4) timestamp_ns(8) event_type(4) stack_id(8) task_id(8)
// duration_ns(8) thread_state(4) detection_method(4) cpu_id(4) worker_id(4).
const EventSize = 4 + 4 + 8 + 4 + 8 + 8 + 8 + 4 + 4 + 4 + 4

// Event is the userspace mirror of the kernel-side event record (spec.md
// §3). It is decoded field-by-field from a ring-buffer sample rather than
// reinterpreted in place, since Go gives no portable guarantee about
// struct layout matching a packed C struct.
type Event struct {
	PID             uint32
	TID             uint32
	TimestampNS     uint64
	EventType       EventType
	StackID         int64
	TaskID          uint64
	DurationNS      uint64
	ThreadState     uint32
	DetectionMethod DetectionMethod
	CPUID           uint32
	WorkerID        uint32
}

// StackIDValid reports whether the event carries a stack capture. A
// negative stack-id means capture failed in-kernel.
func (e Event) StackIDValid() bool {
	return e.StackID >= 0
}

// Location is an optional source position attached to a resolved frame.
type Location struct {
	File   string
	Line   uint32
	Column uint32
}

// Frame is a single entry of a resolved, possibly-inlined call chain for
// one instruction pointer. Inline expansion is represented as multiple
// Frames sharing the same Address, outermost frame first.
type Frame struct {
	Address  uint64
	Function string
	Loc      *Location
}

func (f Frame) String() string {
	if f.Loc != nil {
		return fmt.Sprintf("%s (%s:%d)", f.Function, f.Loc.File, f.Loc.Line)
	}
	return f.Function
}

// UnknownFunction is substituted when no debug info covers an address.
const UnknownFunction = "<unknown>"

// UnknownFile is substituted for the hotspot file-grouped view (C10) when
// neither an exemplar stack nor the hotspot's own frame carries a file.
const UnknownFile = "<unknown>"

// Origin classifies where a resolved frame's code lives (C10 user-code
// classification, spec.md §4.8). Defined here rather than in the hotspot
// package so FunctionHotspot can carry it without an import cycle.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginUserCode
	OriginStdLib
	OriginRuntimeLib
	OriginThirdParty
)

// IsUserCode reports whether o classifies a frame as application code
// rather than a library, runtime, or unresolved frame.
func (o Origin) IsUserCode() bool { return o == OriginUserCode }

// WorkerInfo mirrors the kernel-side worker registry entry for one thread.
type WorkerInfo struct {
	WorkerID uint32
	PID      uint32
	TID      uint32
	Comm     string // bounded to 16 bytes by the kernel, per /proc/.../comm
	Active   bool
}

// FunctionHotspot is a single aggregated entry from the hotspot aggregator
// (C10) snapshot.
type FunctionHotspot struct {
	Name          string
	SampleCount   int
	Percentage    float64
	PerWorker     map[uint32]int
	File          string
	Line          uint32
	ExemplarStack []int64
	Origin        Origin
}

// FileHotspot is one entry of the hotspot aggregator's file-grouped view
// (C10), grouping FunctionHotspot entries by the topmost user-code file
// found in any of their exemplar stacks.
type FileHotspot struct {
	File        string
	SampleCount int
	Percentage  float64
	Functions   []string
}
