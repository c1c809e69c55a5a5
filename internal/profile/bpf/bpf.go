//go:build linux

// Package bpf loads and attaches the two kernel probes of C2 (spec.md
// §4.1): the scheduler tracepoint and the 99Hz-per-CPU sampler, plus the
// marker uprobe/uretprobe pair, all sharing one ring buffer and one
// stack-trace map. The loader/attacher style is ported from
// internal/agent/debug/uprobe.go (bpf2go object loading, entry/exit
// uprobe attach) and internal/agent/debug/cpu_profiler.go (manual
// perf_event_open + ioctl attach loop for the per-CPU sampler).
package bpf

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	taskscopeconfig "github.com/taskscope/taskscope/internal/config"
	tserrors "github.com/taskscope/taskscope/internal/errors"
	"github.com/taskscope/taskscope/internal/procfs"
	"github.com/taskscope/taskscope/internal/sys/sysfs"
)

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -tags linux taskscope bpfsrc/taskscope.bpf.c -- -I bpfsrc/headers

const (
	configThresholdNS uint32 = 0
	configTargetPID   uint32 = 1
)

// WorkerInfo is the Go mirror of the generated taskscopeWorkerInfo map
// value type (bpf2go's name for C's "struct worker_info"), aliased here
// so internal/profile/registry can construct one without importing the
// generated bpf2go package directly.
type WorkerInfo = taskscopeWorkerInfo

// NewWorkerInfo builds a WorkerInfo from the schema-level fields C8's
// discovery produces, truncating comm to the kernel's 16-byte
// TASK_COMM_LEN. Comm is declared `char comm[16]` in the BPF struct,
// which bpf2go generates as a [16]int8 Go array.
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

// Probes owns every kernel-side resource C2 attaches: the tracepoint
// link, the per-CPU perf-event links (and their BPF program attachments),
// the optional marker uprobe/uretprobe pair, and the shared maps that C3
// (registry) and C4 (drainer) read from. Teardown order mirrors
// acquisition order in reverse, per spec.md §5's cancellation contract.
type Probes struct {
	objs taskscopeObjects

	schedLink link.Link

	perfEventFDs []int

	markerEntryLink link.Link
	markerExitLink  link.Link

	Reader *ringbuf.Reader

	logger zerolog.Logger
}

// MarkerSpec names the exported marker function to uprobe, identified
// either by symbol name or a precomputed file offset (offset wins if
// both are set, matching uprobe.go's offset-based attach).
type MarkerSpec struct {
	Symbol string
	Offset uint64
}

// Load loads the BPF objects, writes the threshold/target-pid config map
// (spec.md §4.1), attaches the scheduler tracepoint and the per-CPU
// sampler, and optionally the marker uprobe pair. cfg.Target is the
// binary the marker uprobe attaches into; pass a zero MarkerSpec to skip
// marker instrumentation entirely (blocking spans then come only from the
// scheduler tracepoint).
func Load(cfg taskscopeconfig.Config, marker MarkerSpec, logger zerolog.Logger) (*Probes, error) {
	if !sysfs.CheckBTFAvailable() {
		logger.Warn().Msg("BTF not available at /sys/kernel/btf/vmlinux; CO-RE relocations may fail to load")
	}

	p := &Probes{logger: logger.With().Str("component", "bpf").Logger()}

	if err := loadTaskscopeObjects(&p.objs, nil); err != nil {
		return nil, tserrors.New(tserrors.KindProbeLoadFailed, err, "ensure you are running as root and the kernel is >= 5.8")
	}

	if err := p.writeConfig(cfg); err != nil {
		p.objs.Close() // nolint:errcheck
		return nil, tserrors.New(tserrors.KindProbeLoadFailed, err, "failed to write threshold/target_pid config map")
	}

	schedLink, err := link.Tracepoint("sched", "sched_switch", p.objs.HandleSchedSwitch, nil)
	if err != nil {
		p.objs.Close() // nolint:errcheck
		return nil, tserrors.New(tserrors.KindProbeAttachFailed, err, "attaching sched_switch tracepoint requires CAP_PERFMON or root")
	}
	p.schedLink = schedLink

	fds, err := attachCPUSampler(p.objs.HandleCpuSample.FD(), cfg.SampleHz)
	if err != nil {
		p.schedLink.Close() // nolint:errcheck
		p.objs.Close()      // nolint:errcheck
		return nil, tserrors.New(tserrors.KindProbeAttachFailed, err, "ensure perf_event_open is permitted (perf_event_paranoid)")
	}
	p.perfEventFDs = fds

	if marker.Symbol != "" || marker.Offset != 0 {
		if err := p.attachMarker(cfg.Target, marker); err != nil {
			// Soft-fail per spec.md §7: the marker attach is the one
			// probe-attach-failed case that degrades gracefully —
			// continuing without markers means blocking spans come
			// only from the scheduler tracepoint.
			p.logger.Warn().Err(err).Msg("marker uprobe attach failed; continuing with scheduler-only blocking detection")
		}
	}

	reader, err := ringbuf.NewReader(p.objs.Events)
	if err != nil {
		p.Close() // nolint:errcheck
		return nil, tserrors.New(tserrors.KindProbeLoadFailed, err, "failed to open ring buffer reader")
	}
	p.Reader = reader

	return p, nil
}

func (p *Probes) writeConfig(cfg taskscopeconfig.Config) error {
	thresholdNS := uint64(cfg.Threshold.Nanoseconds())
	targetPID := uint64(cfg.PID)
	if err := p.objs.Config.Put(configThresholdNS, thresholdNS); err != nil {
		return fmt.Errorf("write threshold_ns config: %w", err)
	}
	if err := p.objs.Config.Put(configTargetPID, targetPID); err != nil {
		return fmt.Errorf("write target_pid config: %w", err)
	}
	return nil
}

// attachCPUSampler opens one PERF_COUNT_SW_CPU_CLOCK perf event per
// online CPU at the configured frequency and attaches progFD to each,
// per spec.md §4.1 ("fires at a fixed 99Hz on every CPU"). Ported from
// cpu_profiler.go's per-thread loop, generalized to per-CPU per the
// spec's model (PID filtering happens inside the BPF program instead).
func attachCPUSampler(progFD int, sampleHz int) ([]int, error) {
	cpus, err := procfs.OnlineCPUs()
	if err != nil {
		return nil, fmt.Errorf("list online cpus: %w", err)
	}

	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_CPU_CLOCK,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: uint64(sampleHz),
		Bits:   unix.PerfBitFreq,
	}

	var fds []int
	for _, cpu := range cpus {
		fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			closeAll(fds)
			return nil, fmt.Errorf("perf_event_open cpu %d: %w", cpu, err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, progFD); err != nil {
			unix.Close(fd) // nolint:errcheck
			closeAll(fds)
			return nil, fmt.Errorf("attach bpf to perf event cpu %d: %w", cpu, err)
		}
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			unix.Close(fd) // nolint:errcheck
			closeAll(fds)
			return nil, fmt.Errorf("enable perf event cpu %d: %w", cpu, err)
		}
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return nil, fmt.Errorf("no online cpus accepted the sampler")
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
		_ = unix.Close(fd)
	}
}

func (p *Probes) attachMarker(binaryPath string, marker MarkerSpec) error {
	exe, err := link.OpenExecutable(binaryPath)
	if err != nil {
		return fmt.Errorf("open executable %s: %w", binaryPath, err)
	}

	opts := &link.UprobeOptions{Offset: marker.Offset}
	entry, err := exe.Uprobe(marker.Symbol, p.objs.MarkerEntry, opts)
	if err != nil {
		return fmt.Errorf("attach marker uprobe entry: %w", err)
	}
	exit, err := exe.Uretprobe(marker.Symbol, p.objs.MarkerExit, opts)
	if err != nil {
		entry.Close() // nolint:errcheck
		return fmt.Errorf("attach marker uretprobe exit: %w", err)
	}

	p.markerEntryLink = entry
	p.markerExitLink = exit
	return nil
}

// WriteWorker installs one worker registration into the kernel-side
// registry map (C3), written once at setup per spec.md §5 ("worker
// registry ... from userspace at setup only").
func (p *Probes) WriteWorker(tid uint32, info WorkerInfo) error {
	return p.objs.WorkerRegistry.Put(tid, info)
}

// Write implements internal/profile/registry.Writer, translating the
// registry package's schema-level fields into a WorkerInfo without that
// package needing to import the generated BPF struct.
func (p *Probes) Write(tid, workerID, pid uint32, comm string, active bool) error {
	return p.WriteWorker(tid, NewWorkerInfo(workerID, pid, comm, active))
}

// StackTraceMap adapts the kernel stack-trace map to the narrow read
// surface internal/profile/stackresolve needs (stackresolve.StackTraces):
// given a stack-id, the raw instruction pointers captured for it.
type StackTraceMap struct {
	m *ebpf.Map
}

// Lookup implements stackresolve.StackTraces.
func (s *StackTraceMap) Lookup(stackID int64) ([]uint64, bool) {
	if stackID < 0 {
		return nil, false
	}
	key := uint32(stackID)
	var raw [maxStackDepth]uint64
	if err := s.m.Lookup(&key, &raw); err != nil {
		return nil, false
	}
	ips := make([]uint64, 0, maxStackDepth)
	for _, ip := range raw {
		if ip == 0 {
			break
		}
		ips = append(ips, ip)
	}
	return ips, true
}

// maxStackDepth mirrors schema.MaxStackDepth; kept as a local constant to
// avoid an import cycle (schema does not depend on bpf).
const maxStackDepth = 127

// StackTraces returns the stack-trace map adapter for C7.
func (p *Probes) StackTraces() *StackTraceMap {
	return &StackTraceMap{m: p.objs.StackTraces}
}

// Close tears down every acquired resource in reverse acquisition order,
// per spec.md §5's cancellation contract.
func (p *Probes) Close() error {
	var errs []error

	if p.Reader != nil {
		if err := p.Reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.markerExitLink != nil {
		if err := p.markerExitLink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.markerEntryLink != nil {
		if err := p.markerEntryLink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	closeAll(p.perfEventFDs)
	if p.schedLink != nil {
		if err := p.schedLink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.objs.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing bpf probes: %v", errs)
	}
	return nil
}

// warmupDelay is a settle time for a just-attached uprobe, kept for
// parity with the teacher's attach-race handling. Nothing in this file
// references it: Load does not sleep after attaching, and retry.Do in the
// caller wraps the whole Load call.
const warmupDelay = 10 * time.Millisecond
