package schema

import (
	"encoding/binary"
	"testing"
)

func encodeEvent(e Event) []byte {
	buf := make([]byte, EventSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], e.PID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], e.TID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], e.TimestampNS)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.EventType))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.StackID))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], e.TaskID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], e.DurationNS)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], e.ThreadState)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(e.DetectionMethod))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], e.CPUID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], e.WorkerID)
	return buf
}

func TestDecodeRoundTrips(t *testing.T) {
	want := Event{
		PID:             100,
		TID:             101,
		TimestampNS:     123456789,
		EventType:       EventExecStart,
		StackID:         42,
		TaskID:          0xdeadbeef,
		DurationNS:      5000,
		ThreadState:     2,
		DetectionMethod: DetectionCPUSample,
		CPUID:           3,
		WorkerID:        7,
	}

	got, ok := Decode(encodeEvent(want))
	if !ok {
		t.Fatalf("expected ok=true for a full-size record")
	}
	if got != want {
		t.Fatalf("decoded event mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeNegativeStackID(t *testing.T) {
	want := Event{EventType: EventSchedDetected, StackID: -1}
	got, ok := Decode(encodeEvent(want))
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if got.StackIDValid() {
		t.Fatalf("expected a negative stack-id to be invalid")
	}
}

func TestDecodeRejectsShortRecord(t *testing.T) {
	_, ok := Decode(make([]byte, EventSize-1))
	if ok {
		t.Fatalf("expected ok=false for a record shorter than EventSize")
	}
}

func TestDecodeRejectsEmptyRecord(t *testing.T) {
	_, ok := Decode(nil)
	if ok {
		t.Fatalf("expected ok=false for a nil record")
	}
}
