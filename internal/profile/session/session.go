// Package session wires C2–C12 together into one live profiling run:
// kernel probe attachment, worker discovery/registration, stack
// resolution, and the drain loop, following the setup/run/teardown shape
// of internal/agent/debug/session.go's DebugSessionManager, generalized
// from a multi-session gRPC-driven manager to the single in-process run
// this CLI drives.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/taskscope/taskscope/internal/config"
	tserrors "github.com/taskscope/taskscope/internal/errors"
	"github.com/taskscope/taskscope/internal/procfs"
	"github.com/taskscope/taskscope/internal/profile/blocking"
	"github.com/taskscope/taskscope/internal/profile/bpf"
	"github.com/taskscope/taskscope/internal/profile/discovery"
	"github.com/taskscope/taskscope/internal/profile/drain"
	"github.com/taskscope/taskscope/internal/profile/hotspot"
	"github.com/taskscope/taskscope/internal/profile/livebus"
	"github.com/taskscope/taskscope/internal/profile/memrange"
	"github.com/taskscope/taskscope/internal/profile/registry"
	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/profile/stackresolve"
	"github.com/taskscope/taskscope/internal/profile/symbolize"
	"github.com/taskscope/taskscope/internal/profile/trace"
	"github.com/taskscope/taskscope/internal/retry"
	"github.com/taskscope/taskscope/internal/safe"
)

// bootstrapWindow bounds the stack-shape fallback's sampling window
// (spec.md §4.2.2's "brief sampling window (≈ seconds)").
const bootstrapWindow = 3 * time.Second

// attachRetry governs the bounded backoff around the initial probe
// attach, covering the race window right after a target process exec's
// before its text segment is fully mapped (spec.md §9 notes this is the
// one place this repo dials something with retry, matching the
// teacher's own retry.Do usage for transient attach failures).
var attachRetry = retry.Config{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

// Session owns every collaborator wired together for one live profiling
// run.
type Session struct {
	cfg        config.Config
	logger     zerolog.Logger
	probes     *bpf.Probes
	symbolizer symbolize.Symbolizer
	registry   *registry.Registry
	drainer    *drain.Session
}

// Setup performs the fatal-at-setup sequence of spec.md §7: kernel
// version gate, process-existence preflight, probe load/attach, worker
// discovery/registration, and resolver construction. Every returned
// error is fatal and carries a *tserrors.ProfileError for an actionable
// hint.
func Setup(cfg config.Config, marker bpf.MarkerSpec, logger zerolog.Logger) (*Session, error) {
	if err := procfs.CheckKernelVersion(); err != nil {
		return nil, tserrors.New(tserrors.KindProbeLoadFailed, err, "upgrade the kernel to >= 5.8")
	}

	pid32, _ := safe.IntToInt32(cfg.PID)
	exists, err := process.PidExists(pid32)
	if err != nil {
		return nil, tserrors.New(tserrors.KindProcessNotFound, err, "check that the pid is readable (permissions, pid namespace)")
	}
	if !exists {
		return nil, tserrors.New(tserrors.KindProcessNotFound, fmt.Errorf("no such pid: %d", cfg.PID), "verify the target process is running")
	}

	if cfg.Target == "" {
		target, err := procfs.BinaryPath(cfg.PID)
		if err != nil {
			return nil, tserrors.New(tserrors.KindNoMemoryRangeFound, err, "pass --target explicitly if /proc/<pid>/exe cannot be read")
		}
		cfg.Target = target
	}

	var probes *bpf.Probes
	attachErr := retry.Do(context.Background(), attachRetry, func() error {
		p, loadErr := bpf.Load(cfg, marker, logger)
		if loadErr != nil {
			return loadErr
		}
		probes = p
		return nil
	}, func(error) bool { return true })
	if attachErr != nil {
		return nil, attachErr
	}

	reg := registry.New()
	workers, err := discoverWorkers(cfg, probes, logger)
	if err != nil {
		_ = probes.Close()
		return nil, tserrors.New(tserrors.KindNoWorkersFound, err, "pass --workers <prefix> to override discovery")
	}
	if err := reg.Install(probes, workers); err != nil {
		_ = probes.Close()
		return nil, tserrors.New(tserrors.KindNoWorkersFound, err, "worker registration into the kernel map failed")
	}

	sym, err := symbolize.New(cfg.Target, logger, nil)
	if err != nil {
		_ = probes.Close()
		return nil, tserrors.New(tserrors.KindSymbolizationFailed, err, "ensure the target binary carries DWARF debug info or a symbol table")
	}

	logger.Info().Str("target", cfg.Target).Str("build_id", sym.BuildID()).Msg("symbolizer attached")

	memRange, err := memrange.Load(cfg.PID, cfg.Target)
	if err != nil {
		_ = probes.Close()
		_ = sym.Close()
		return nil, tserrors.New(tserrors.KindNoMemoryRangeFound, err, "verify --target matches the running binary's mapped path")
	}

	resolver := &stackresolve.Resolver{
		Stacks:     probes.StackTraces(),
		Symbolizer: sym,
		Range:      &memRange,
	}

	bm := blocking.New(logger)
	agg := hotspot.New()
	bus := livebus.New()
	var exporter *trace.Exporter
	if cfg.Export != "" {
		exporter = trace.New()
	}

	d := drain.New(probes.DrainReader(), resolver, bm, agg, bus, exporter, logger)

	return &Session{
		cfg:        cfg,
		logger:     logger,
		probes:     probes,
		symbolizer: sym,
		registry:   reg,
		drainer:    d,
	}, nil
}

// discoverWorkers runs name-based discovery first; if it fails with no
// explicit --workers override, it falls back to a brief stack-shape
// sampling bootstrap (spec.md §4.2's two strategies, "used in order").
func discoverWorkers(cfg config.Config, probes *bpf.Probes, logger zerolog.Logger) ([]schema.WorkerInfo, error) {
	threads, err := procfs.ListThreads(cfg.PID)
	if err != nil {
		return nil, fmt.Errorf("session: list threads of pid %d: %w", cfg.PID, err)
	}

	workers, nameErr := discovery.ByName(threads, cfg.WorkerPrefix, logger)
	if nameErr == nil {
		return workers, nil
	}
	if cfg.WorkerPrefix != "" {
		// An explicit override that matched nothing is a hard failure,
		// not an invitation to fall back to stack-shape sampling.
		return nil, nameErr
	}

	logger.Info().Dur("window", bootstrapWindow).Msg("name-based discovery failed; sampling stacks to classify threads")
	return bootstrapByStackShape(cfg, probes, threads, logger)
}

// bootstrapByStackShape implements spec.md §4.2.2: every target thread
// is temporarily registered so the kernel-gated sampler will emit
// EXEC_START for it, a short window of samples is classified by resolved
// stack shape, and the surviving Worker-classified tids become the final
// registry.
func bootstrapByStackShape(cfg config.Config, probes *bpf.Probes, threads []procfs.Thread, logger zerolog.Logger) ([]schema.WorkerInfo, error) {
	for i, th := range threads {
		if err := probes.Write(uint32(th.TID), uint32(i), uint32(cfg.PID), th.Comm, true); err != nil {
			return nil, fmt.Errorf("session: bootstrap-register tid %d: %w", th.TID, err)
		}
	}

	memRange, err := memrange.Load(cfg.PID, cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("session: bootstrap memory range: %w", err)
	}
	sym, err := symbolize.New(cfg.Target, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("session: bootstrap symbolizer: %w", err)
	}
	defer sym.Close() // nolint:errcheck

	resolver := &stackresolve.Resolver{Stacks: probes.StackTraces(), Symbolizer: sym, Range: &memRange}
	classifier := discovery.NewClassifier()

	reader := probes.DrainReader()
	deadline := time.Now().Add(bootstrapWindow)
	for time.Now().Before(deadline) {
		if err := reader.SetDeadline(time.Now().Add(drain.PollInterval)); err != nil {
			return nil, fmt.Errorf("session: bootstrap set deadline: %w", err)
		}
		rec, err := reader.Read()
		if err != nil {
			continue // timeout or transient miss; keep sampling within the window
		}
		evt, ok := schema.Decode(rec.RawSample)
		if !ok || evt.EventType != schema.EventExecStart {
			continue
		}
		frames, sentinel := resolver.Resolve(evt.StackID)
		if sentinel != "" {
			continue
		}
		classifier.Observe(int(evt.TID), evt.StackID, frames)
	}

	workers, err := classifier.Workers(cfg.PID)
	if err != nil {
		return nil, fmt.Errorf("session: finalize bootstrap classification: %w", err)
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("session: stack-shape bootstrap classified no worker threads")
	}
	return workers, nil
}

// Run drives the drain loop until ctx is canceled or the configured
// duration elapses (spec.md §4.3).
func (s *Session) Run(ctx context.Context) error {
	return s.drainer.Run(ctx, s.cfg.Duration)
}

// Hotspots returns the current hotspot snapshot (C10).
func (s *Session) Hotspots() []schema.FunctionHotspot {
	return s.drainer.Hotspots()
}

// FileHotspots returns the file-grouped hotspot view (C10).
func (s *Session) FileHotspots() []schema.FileHotspot {
	return s.drainer.FileHotspots()
}

// BlockingStats returns the blocking state machine's diagnostic counters
// (C9).
func (s *Session) BlockingStats() blocking.Stats {
	return s.drainer.BlockingStats()
}

// DrainStats returns the drainer's own anomaly counters (C4).
func (s *Session) DrainStats() drain.Stats {
	return s.drainer.Stats
}

// Bus exposes the dashboard data bus (C11); the CLI layer decides
// whether to start a consumer for it (it does not for --headless).
func (s *Session) Bus() *livebus.Bus {
	return s.drainer.Bus()
}

// Exporter exposes the trace exporter, non-nil only when --export was
// set (C12).
func (s *Session) Exporter() *trace.Exporter {
	return s.drainer.Exporter()
}

// SessionID returns the drain loop's session identifier.
func (s *Session) SessionID() string {
	return s.drainer.SessionID
}

// Close tears down every acquired resource in reverse acquisition order
// (spec.md §5).
func (s *Session) Close() error {
	var errs []error
	if err := s.symbolizer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.probes.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("session: teardown errors: %v", errs)
	}
	return nil
}

// Registry exposes the worker registry (for display/export metadata).
func (s *Session) Registry() *registry.Registry {
	return s.registry
}
