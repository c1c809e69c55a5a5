//go:build !linux

package bpf

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	taskscopeconfig "github.com/taskscope/taskscope/internal/config"
	"github.com/taskscope/taskscope/internal/profile/drain"
)

// WorkerInfo mirrors the Linux build's kernel-map value type closely
// enough for callers to construct one; on this platform it is never
// actually written anywhere.
type WorkerInfo struct {
	WorkerId uint32
	Pid      uint32
	Comm     [16]int8
	Active   uint8
}

// NewWorkerInfo builds a WorkerInfo; see the Linux build for the real
// kernel-facing encoding this mirrors.
func NewWorkerInfo(workerID, pid uint32, comm string, active bool) WorkerInfo {
	var info WorkerInfo
	info.WorkerId = workerID
	info.Pid = pid
	for i := 0; i < len(info.Comm) && i < len(comm); i++ {
		info.Comm[i] = int8(comm[i])
	}
	if active {
		info.Active = 1
	}
	return info
}

// MarkerSpec names the exported marker function to uprobe (see the Linux
// build for its use).
type MarkerSpec struct {
	Symbol string
	Offset uint64
}

// Probes stubs the Linux build's kernel-probe handle.
type Probes struct{}

// Load returns an error on non-Linux platforms: eBPF probe attachment is
// a Linux kernel facility this profiler has no portable equivalent for.
func Load(cfg taskscopeconfig.Config, marker MarkerSpec, logger zerolog.Logger) (*Probes, error) {
	return nil, fmt.Errorf("bpf: kernel probe attachment is only supported on Linux")
}

func (p *Probes) WriteWorker(tid uint32, info WorkerInfo) error {
	return fmt.Errorf("bpf: not supported on this platform")
}

func (p *Probes) Write(tid, workerID, pid uint32, comm string, active bool) error {
	return fmt.Errorf("bpf: not supported on this platform")
}

// StackTraceMap stubs the Linux build's stack-trace map adapter.
type StackTraceMap struct{}

func (s *StackTraceMap) Lookup(stackID int64) ([]uint64, bool) { return nil, false }

func (p *Probes) StackTraces() *StackTraceMap { return &StackTraceMap{} }

func (p *Probes) DrainReader() drain.Reader { return nil }

func (p *Probes) Close() error { return nil }

const warmupDelay = 10 * time.Millisecond
