// Package registry implements C3: the worker registry. The kernel-side
// map (internal/profile/bpf) is written once at setup from C8's
// discovery output and never touched again until teardown; this package
// owns that write plus the userspace mirror used for display/export
// (trace thread-name metadata, dashboard worker listings).
package registry

import (
	"fmt"
	"sort"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// Writer is the narrow write surface this package needs from the
// kernel-side worker-registry map (internal/profile/bpf.Probes wraps
// bpf.NewWorkerInfo + Probes.WriteWorker behind this signature so this
// package never imports the generated BPF struct directly).
type Writer interface {
	Write(tid uint32, workerID, pid uint32, comm string, active bool) error
}

// Registry is the userspace mirror: once installed, it answers
// worker_id/active/comm lookups for display and export without touching
// the kernel map again (spec.md §5: "written by exactly one side per
// map: worker registry ... from userspace at setup only").
type Registry struct {
	byTID map[uint32]schema.WorkerInfo
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byTID: make(map[uint32]schema.WorkerInfo)}
}

// Install writes every worker in workers into the kernel map via w, and
// records them in the userspace mirror. It stops at the first kernel
// write failure, per spec.md §7's no-workers-found/probe-attach-failed
// fatal-at-setup policy — a partially-installed registry is not a safe
// state to continue from.
func (r *Registry) Install(w Writer, workers []schema.WorkerInfo) error {
	if len(workers) == 0 {
		return fmt.Errorf("registry: no workers to install")
	}
	for _, wk := range workers {
		if err := w.Write(wk.TID, wk.WorkerID, wk.PID, wk.Comm, wk.Active); err != nil {
			return fmt.Errorf("registry: write worker tid=%d worker_id=%d: %w", wk.TID, wk.WorkerID, err)
		}
		r.byTID[wk.TID] = wk
	}
	return nil
}

// Lookup returns the WorkerInfo registered for tid, if any.
func (r *Registry) Lookup(tid uint32) (schema.WorkerInfo, bool) {
	info, ok := r.byTID[tid]
	return info, ok
}

// Workers returns every registered worker, in ascending worker-id order
// (the order Install received them in, since C8 already assigns ids
// ascending by tid).
func (r *Registry) Workers() []schema.WorkerInfo {
	out := make([]schema.WorkerInfo, 0, len(r.byTID))
	for _, wk := range r.byTID {
		out = append(out, wk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Size returns the number of registered workers.
func (r *Registry) Size() int {
	return len(r.byTID)
}
