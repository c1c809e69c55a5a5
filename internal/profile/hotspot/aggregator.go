package hotspot

import (
	"sort"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// entry is the mutable per-function accumulator. File/line are captured
// from the first occurrence only, matching
// original_source/runtime-scope/src/tui/hotspot.rs's aggregation.
type entry struct {
	count         int
	perWorker     map[uint32]int
	file          string
	line          uint32
	origin        Origin
	exemplarStack []int64
}

// maxExemplars bounds the exemplar-stack set kept per hotspot (spec.md
// §5's "Exemplar stacks per hotspot: small constant").
const maxExemplars = 4

// Coverage tracks how many resolved frames carried debug info, replacing
// the source's process-wide diagnostics singleton with a field on the
// aggregator itself, per spec.md §9's explicit redesign instruction.
type Coverage struct {
	WithDebugInfo    uint64
	WithoutDebugInfo uint64
}

// Aggregator implements C10: O(1)-amortized streaming aggregation keyed
// by top resolved function name.
type Aggregator struct {
	byFunction   map[string]*entry
	totalSamples int
	unresolved   int
	coverage     Coverage
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{byFunction: make(map[string]*entry)}
}

// Record ingests one execution sample. topFrame is the resolved top
// frame of the sample's stack (or the zero Frame if resolution failed,
// in which case the sample is counted in the unresolved bucket, per
// spec.md §8 property 3/4's conservation requirement). inExecutable
// reports whether topFrame's address fell within the target binary's
// mapped range, feeding the §4.8 user-code classification's final
// fallback step. workerID is the worker_id of the observed thread.
func (a *Aggregator) Record(topFrame schema.Frame, hadDebugInfo, inExecutable bool, workerID uint32) {
	a.totalSamples++

	name := topFrame.Function
	if name == "" {
		name = schema.UnknownFunction
	}
	if name == schema.UnknownFunction {
		a.unresolved++
	}

	if hadDebugInfo {
		a.coverage.WithDebugInfo++
	} else {
		a.coverage.WithoutDebugInfo++
	}

	e, ok := a.byFunction[name]
	if !ok {
		e = &entry{perWorker: make(map[uint32]int)}
		if topFrame.Loc != nil {
			e.file = topFrame.Loc.File
			e.line = topFrame.Loc.Line
		}
		e.origin = ClassifyFrame(name, e.file, inExecutable)
		a.byFunction[name] = e
	}
	e.count++
	e.perWorker[workerID]++
}

// RecordStack records exemplar stack-ids on top of Record, bounded to
// maxExemplars per function.
func (a *Aggregator) RecordStack(topFrame schema.Frame, hadDebugInfo, inExecutable bool, workerID uint32, stackID int64) {
	a.Record(topFrame, hadDebugInfo, inExecutable, workerID)
	name := topFrame.Function
	if name == "" {
		name = schema.UnknownFunction
	}
	e := a.byFunction[name]
	if len(e.exemplarStack) < maxExemplars {
		e.exemplarStack = append(e.exemplarStack, stackID)
	}
}

// Coverage returns a snapshot of debug-info coverage counters.
func (a *Aggregator) Coverage() Coverage {
	return a.coverage
}

// TotalSamples returns the number of samples ingested so far — used by
// spec.md §8 property 3 (hotspot conservation).
func (a *Aggregator) TotalSamples() int {
	return a.totalSamples
}

// Snapshot materializes a sorted-by-count-descending sequence of
// FunctionHotspot records with percentages of total samples.
func (a *Aggregator) Snapshot() []schema.FunctionHotspot {
	hotspots := make([]schema.FunctionHotspot, 0, len(a.byFunction))
	for name, e := range a.byFunction {
		pct := 0.0
		if a.totalSamples > 0 {
			pct = float64(e.count) / float64(a.totalSamples) * 100.0
		}
		hotspots = append(hotspots, schema.FunctionHotspot{
			Name:          name,
			SampleCount:   e.count,
			Percentage:    pct,
			PerWorker:     e.perWorker,
			File:          e.file,
			Line:          e.line,
			ExemplarStack: e.exemplarStack,
			Origin:        e.origin,
		})
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].SampleCount != hotspots[j].SampleCount {
			return hotspots[i].SampleCount > hotspots[j].SampleCount
		}
		return hotspots[i].Name < hotspots[j].Name
	})
	return hotspots
}

// StackResolver resolves a captured stack-id into its full frame sequence,
// matching stackresolve.Resolver.Resolve's signature exactly so FileSnapshot
// can take one as a plain function value without this package importing
// stackresolve.
type StackResolver func(stackID int64) ([]schema.Frame, string)

// FileSnapshot materializes the §4.8 file-grouped view: every function
// hotspot is assigned to the topmost user-code file found by walking its
// exemplar stacks from the top frame (frames[0]) down, falling back to the hotspot's
// own file and then to schema.UnknownFile when no exemplar stack yields a
// user-code frame. resolve is called at most once per exemplar stack-id.
func (a *Aggregator) FileSnapshot(resolve StackResolver) []schema.FileHotspot {
	type bucket struct {
		count     int
		functions []string
	}
	byFile := make(map[string]*bucket)

	for name, e := range a.byFunction {
		file := a.groupFile(e, resolve)
		b, ok := byFile[file]
		if !ok {
			b = &bucket{}
			byFile[file] = b
		}
		b.count += e.count
		b.functions = append(b.functions, name)
	}

	files := make([]schema.FileHotspot, 0, len(byFile))
	for file, b := range byFile {
		sort.Strings(b.functions)
		pct := 0.0
		if a.totalSamples > 0 {
			pct = float64(b.count) / float64(a.totalSamples) * 100.0
		}
		files = append(files, schema.FileHotspot{
			File:        file,
			SampleCount: b.count,
			Percentage:  pct,
			Functions:   b.functions,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].SampleCount != files[j].SampleCount {
			return files[i].SampleCount > files[j].SampleCount
		}
		return files[i].File < files[j].File
	})
	return files
}

// groupFile finds the topmost user-code file across e's exemplar stacks,
// falling back to e's own recorded file and then schema.UnknownFile.
func (a *Aggregator) groupFile(e *entry, resolve StackResolver) string {
	for _, stackID := range e.exemplarStack {
		frames, sentinel := resolve(stackID)
		if sentinel != "" {
			continue
		}
		for _, f := range frames {
			file := ""
			if f.Loc != nil {
				file = f.Loc.File
			}
			// A resolved frame's address was, by construction, inside the
			// target binary's mapped range (stackresolve never symbolizes
			// out-of-range addresses), so the classification fallback step
			// always sees inExecutable=true here.
			if ClassifyFrame(f.Function, file, true).IsUserCode() && file != "" {
				return file
			}
		}
	}
	if e.file != "" {
		return e.file
	}
	return schema.UnknownFile
}
