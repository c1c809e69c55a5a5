package discovery

import (
	"sort"
	"strings"

	"github.com/taskscope/taskscope/internal/procfs"
	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/safe"
)

// ThreadClass is the classification a sampled stack implies for its
// owning thread.
type ThreadClass int

const (
	ClassUnknown ThreadClass = iota
	ClassBlockingPool
	ClassWorker
)

// workerSignature and blockingPoolSignature are the frame-name fragments
// that identify the target runtime's worker loop and blocking-pool entry
// point, ported from original_source/hud/src/profiling/worker_sampling.rs.
const (
	workerSignature       = "scheduler::multi_thread::worker"
	blockingPoolSignature = "tokio::runtime::blocking::pool::Inner::run"
)

// ClassifyStack inspects a resolved frame sequence and returns the
// strongest class it implies: Worker wins outright; BlockingPool only if
// no worker frame is present; otherwise Unknown. Matches spec.md §4.2.2.
func ClassifyStack(frames []schema.Frame) ThreadClass {
	hasBlockingPool := false
	for _, f := range frames {
		if strings.Contains(f.Function, workerSignature) {
			return ClassWorker
		}
		if strings.HasPrefix(f.Function, blockingPoolSignature) {
			hasBlockingPool = true
		}
	}
	if hasBlockingPool {
		return ClassBlockingPool
	}
	return ClassUnknown
}

// Classifier accumulates per-tid classifications across a sampling
// window and assigns worker ids once the window closes.
type Classifier struct {
	// stackCache avoids re-walking identical resolved stacks; the kernel
	// already deduplicates by stack-id so this keys on that id.
	stackCache map[int64]ThreadClass
	tidClass   map[int]ThreadClass
}

// NewClassifier returns an empty accumulator.
func NewClassifier() *Classifier {
	return &Classifier{
		stackCache: make(map[int64]ThreadClass),
		tidClass:   make(map[int]ThreadClass),
	}
}

// Observe records one EXEC_START sample: tid owns stackID, whose frames
// (already resolved by the caller) classify to some ThreadClass. Per-tid
// classification only ever upgrades (Unknown -> BlockingPool -> Worker),
// never downgrades, matching worker_sampling.rs's entry/and_modify logic.
func (c *Classifier) Observe(tid int, stackID int64, frames []schema.Frame) {
	class, cached := c.stackCache[stackID]
	if !cached {
		class = ClassifyStack(frames)
		c.stackCache[stackID] = class
	}

	current, ok := c.tidClass[tid]
	if !ok || class > current {
		c.tidClass[tid] = class
	}
}

// Workers finalizes the window: only tids classified Worker are
// admitted, thread names are read from procfs, and worker ids are
// assigned in ascending-tid order.
func (c *Classifier) Workers(pid int) ([]schema.WorkerInfo, error) {
	var tids []int
	for tid, class := range c.tidClass {
		if class == ClassWorker {
			tids = append(tids, tid)
		}
	}
	sort.Ints(tids)

	threads, err := procfs.ListThreads(pid)
	if err != nil {
		return nil, err
	}
	comms := make(map[int]string, len(threads))
	for _, th := range threads {
		comms[th.TID] = th.Comm
	}

	workers := make([]schema.WorkerInfo, 0, len(tids))
	for i, tid := range tids {
		comm, ok := comms[tid]
		if !ok {
			// Thread exited during the sampling window; skip it rather
			// than fabricate a comm, mirroring the source's filter_map.
			continue
		}
		workerID, _ := safe.IntToUint32(i)
		threadID, _ := safe.IntToUint32(tid)
		workers = append(workers, schema.WorkerInfo{
			WorkerID: workerID,
			TID:      threadID,
			Comm:     comm,
			Active:   true,
		})
	}
	return workers, nil
}
