// Package trace implements the Chrome Trace Event Format exporter (C12),
// ported field-for-field from
// original_source/runtime-scope/src/export/chrome_trace.rs (the newer
// tree, which governs per spec.md §9).
package trace

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// Event is one Chrome Trace Event Format record.
type Event struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat"`
	Ph   string         `json:"ph"`
	TS   float64        `json:"ts"`
	PID  uint32         `json:"pid"`
	TID  uint32         `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

// Document is the top-level Chrome trace file shape.
type Document struct {
	TraceEvents     []Event `json:"traceEvents"`
	DisplayTimeUnit string  `json:"displayTimeUnit"`
}

// symbolResolution is the cached result of resolving one stack-id's
// topmost frame, keyed distinctly from the symbolizer's own per-address
// cache (this one is per stack-id, since a stack-id may repeat across
// many events).
type symbolResolution struct {
	function string
	file     string
	line     uint32
}

// Exporter accumulates converted events and renders the final document.
type Exporter struct {
	events      []Event
	symbolCache map[int64]symbolResolution
	startTSNS   uint64
	haveStartTS bool
}

// New returns an empty exporter.
func New() *Exporter {
	return &Exporter{symbolCache: make(map[int64]symbolResolution)}
}

// EventCount returns how many events have been accumulated.
func (e *Exporter) EventCount() int { return len(e.events) }

// resolveSymbol resolves (and caches) the display triple for a stack-id
// given its already-resolved top frame (nil if resolution failed or the
// address fell outside the executable).
func (e *Exporter) resolveSymbol(stackID int64, topFrame *schema.Frame, sharedLibraryAddr uint64, inExecutable bool) symbolResolution {
	if cached, ok := e.symbolCache[stackID]; ok {
		return cached
	}

	var result symbolResolution
	switch {
	case !inExecutable:
		result = symbolResolution{function: fmt.Sprintf("<shared:0x%x>", sharedLibraryAddr)}
	case topFrame != nil:
		result.function = topFrame.Function
		if topFrame.Loc != nil {
			result.file = topFrame.Loc.File
			result.line = topFrame.Loc.Line
		}
	default:
		result.function = fmt.Sprintf("0x%x", sharedLibraryAddr)
	}

	e.symbolCache[stackID] = result
	return result
}

// AddExecStart converts an EXEC_START event into a "B" (begin) record.
// topFrame/inExecutable/addr describe the already-resolved top frame of
// evt.StackID (nil topFrame with inExecutable=true means "resolution
// produced no frame"). When evt.StackID < 0 — no capturable user stack —
// AddExecStart ignores topFrame/addr/inExecutable and uses the generic
// "execution" name.
func (e *Exporter) AddExecStart(evt schema.Event, topFrame *schema.Frame, addr uint64, inExecutable bool) {
	ts := e.relativeTS(evt.TimestampNS)

	var name, file string
	var line uint32
	if evt.StackID < 0 {
		name = "execution"
	} else {
		sym := e.resolveSymbol(evt.StackID, topFrame, addr, inExecutable)
		name, file, line = sym.function, sym.file, sym.line
	}

	args := map[string]any{
		"worker_id": evt.WorkerID,
		"cpu_id":    evt.CPUID,
	}
	if evt.TaskID != 0 {
		args["task_id"] = evt.TaskID
	}
	if evt.DetectionMethod != schema.DetectionNone {
		args["detection_method"] = evt.DetectionMethod
	}
	if file != "" {
		args["file"] = file
	}
	if line != 0 {
		args["line"] = line
	}

	e.events = append(e.events, Event{
		Name: name,
		Cat:  "execution",
		Ph:   "B",
		TS:   ts,
		PID:  evt.PID,
		TID:  evt.TID,
		Args: args,
	})
}

// AddExecEnd converts an EXEC_END event into an "E" (end) record with the
// generic "execution" name (the Chrome viewer matches it to the nearest
// open Begin on the same tid).
func (e *Exporter) AddExecEnd(evt schema.Event) {
	ts := e.relativeTS(evt.TimestampNS)

	args := map[string]any{
		"worker_id": evt.WorkerID,
		"cpu_id":    evt.CPUID,
	}
	if evt.DetectionMethod != schema.DetectionNone {
		args["detection_method"] = evt.DetectionMethod
	}

	e.events = append(e.events, Event{
		Name: "execution",
		Cat:  "execution",
		Ph:   "E",
		TS:   ts,
		PID:  evt.PID,
		TID:  evt.TID,
		Args: args,
	})
}

func (e *Exporter) relativeTS(timestampNS uint64) float64 {
	if !e.haveStartTS {
		e.startTSNS = timestampNS
		e.haveStartTS = true
	}
	if timestampNS < e.startTSNS {
		return 0.0
	}
	return float64(timestampNS-e.startTSNS) / 1000.0
}

// Export renders the full document, appending one thread-name metadata
// record per unique (pid, tid) observed with a worker_id arg, and writes
// it as pretty-printed JSON.
func (e *Exporter) Export(w io.Writer) error {
	all := make([]Event, len(e.events))
	copy(all, e.events)

	type key struct {
		pid, tid uint32
	}
	threads := make(map[key]uint32)
	for _, evt := range e.events {
		if wid, ok := evt.Args["worker_id"]; ok {
			if w32, ok := wid.(uint32); ok {
				threads[key{evt.PID, evt.TID}] = w32
			}
		}
	}

	for k, workerID := range threads {
		all = append(all, Event{
			Name: "thread_name",
			Cat:  "",
			Ph:   "M",
			TS:   0.0,
			PID:  k.pid,
			TID:  k.tid,
			Args: map[string]any{"name": fmt.Sprintf("Worker %d", workerID)},
		})
	}

	doc := Document{TraceEvents: all, DisplayTimeUnit: "ms"}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("trace: encode document: %w", err)
	}
	return nil
}
