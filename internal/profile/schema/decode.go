package schema

import "encoding/binary"

// Decode parses a ring-buffer record's raw bytes into an Event, following
// the fixed little-endian layout of internal/profile/bpf/bpfsrc's
// "struct event" (spec.md §3). It returns ok=false if raw is shorter than
// EventSize, the "malformed record" case the drainer counts and drops
// per spec.md §4.3, rather than reinterpreting the bytes in place — Go
// gives no portable guarantee about struct layout matching a packed C
// struct, the same reasoning internal/agent/debug/uprobe.go's manual
// field-by-field binary.LittleEndian parsing follows.
func Decode(raw []byte) (Event, bool) {
	if len(raw) < EventSize {
		return Event{}, false
	}

	var e Event
	off := 0

	e.PID = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	e.TID = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	e.TimestampNS = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	e.EventType = EventType(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	// A bit-reinterpreting cast, not a range-checked one: the kernel side
	// writes -1 (all bits set) to mark "no stack captured", and
	// StackIDValid depends on that surviving as int64(-1) rather than
	// being clamped to the positive end of the int64 range.
	e.StackID = int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	e.TaskID = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	e.DurationNS = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	e.ThreadState = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	e.DetectionMethod = DetectionMethod(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	e.CPUID = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	e.WorkerID = binary.LittleEndian.Uint32(raw[off:])

	return e, true
}
