// Package stackresolve turns a captured stack-id into resolved frames
// (C7), using the address normalizer (C6) and symbolizer (C5).
package stackresolve

import (
	"github.com/taskscope/taskscope/internal/profile/memrange"
	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/profile/symbolize"
)

// NoStackCaptured is returned when the stack-id itself signals a failed
// in-kernel capture (stack_id < 0).
const NoStackCaptured = "<no stack captured>"

// LookupFailed is returned when the stack-id was never inserted into the
// stack-trace map (evicted, or a bug upstream).
const LookupFailed = "<lookup failed>"

// SharedLibrary tags a frame whose address falls outside the target
// binary's mapped range: the normalizer says it is not in_executable, so
// it is reported but not symbolized.
const SharedLibrary = "<shared library>"

// StackTraces is the minimal read surface this package needs from the
// kernel stack-trace map: given a stack-id, the raw instruction pointers
// captured for it. A zero IP terminates the sequence early, per spec.md
// §4.6 step 3.
type StackTraces interface {
	Lookup(stackID int64) ([]uint64, bool)
}

// Resolver resolves stack-ids to frame sequences.
type Resolver struct {
	Stacks     StackTraces
	Symbolizer symbolize.Symbolizer
	Range      *memrange.Range
}

// Resolve implements spec.md §4.6: a negative stack-id or a missing map
// entry yields a sentinel string instead of frames. Otherwise every raw
// IP (stopping at the first null address) is adjusted via the normalizer
// and, if in_executable, symbolized; addresses outside the binary's
// range are tagged SharedLibrary rather than resolved.
func (r *Resolver) Resolve(stackID int64) ([]schema.Frame, string) {
	if stackID < 0 {
		return nil, NoStackCaptured
	}

	ips, ok := r.Stacks.Lookup(stackID)
	if !ok {
		return nil, LookupFailed
	}

	var frames []schema.Frame
	for _, ip := range ips {
		if ip == 0 {
			break
		}
		offset, inExecutable := memrange.Adjust(r.Range, ip)
		if !inExecutable {
			frames = append(frames, schema.Frame{Address: ip, Function: SharedLibrary})
			continue
		}
		frames = append(frames, r.Symbolizer.Resolve(offset)...)
	}
	return frames, ""
}

// TopFrameAddr returns the first non-null instruction pointer for a
// stack-id, used by the exporter to label synthetic spans with their
// topmost function. It returns ok=false for an invalid or missing
// stack-id, or a stack with no captured frames.
func (r *Resolver) TopFrameAddr(stackID int64) (addr uint64, ok bool) {
	if stackID < 0 {
		return 0, false
	}
	ips, found := r.Stacks.Lookup(stackID)
	if !found {
		return 0, false
	}
	for _, ip := range ips {
		if ip != 0 {
			return ip, true
		}
	}
	return 0, false
}
