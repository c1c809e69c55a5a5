// Package drain implements C4: the cooperative ring-buffer drainer. It
// reads available records, decodes them against the event schema,
// resolves stack-ids via C7, and dispatches enriched events to C9
// (blocking state machine), C10 (hotspot aggregator), C11 (dashboard
// data bus), and optionally C12 (trace exporter) — never blocking on any
// downstream consumer, per spec.md §4.3/§5.
package drain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/profile/blocking"
	"github.com/taskscope/taskscope/internal/profile/hotspot"
	"github.com/taskscope/taskscope/internal/profile/livebus"
	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/profile/stackresolve"
	"github.com/taskscope/taskscope/internal/profile/trace"
)

// PollInterval is the bounded inter-poll wait spec.md §4.3 names ("yield
// for a bounded wait (≈ 100 ms) or until cancellation is signaled").
const PollInterval = 100 * time.Millisecond

// ErrClosed is returned by a Reader once its underlying transport has
// been torn down; Run treats it as a clean shutdown rather than an
// error.
var ErrClosed = errors.New("drain: reader closed")

// Record is the minimal shape a drained ring-buffer sample needs: its
// raw bytes, decoded against the schema.
type Record struct {
	RawSample []byte
}

// Reader is the narrow read surface this package needs from the kernel
// ring buffer (internal/profile/bpf wraps *ringbuf.Reader to satisfy
// this, so drain's core loop has no direct eBPF dependency and is
// testable with a fake on any platform).
type Reader interface {
	// Read blocks until a record is available, the deadline set by
	// SetDeadline elapses (returning a timeout error), or the reader is
	// closed (returning ErrClosed).
	Read() (Record, error)
	// SetDeadline bounds the next Read call, implementing the
	// cooperative loop's inter-poll wait without a dedicated timer
	// goroutine.
	SetDeadline(t time.Time) error
}

// timeoutError is implemented by deadline-exceeded errors; isTimeout uses
// it to tell a Reader's "nothing available this tick" case apart from a
// real I/O failure.
type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// Stats counts drainer-level anomalies (spec.md §7: the hot path never
// returns an error; every anomaly becomes a counter bump and a log
// line).
type Stats struct {
	RecordsRead   uint64
	Malformed     uint64
	DashboardDrop uint64
}

// Session owns one profiling run's drain loop and every collaborator it
// feeds. The SessionID follows the teacher's session-id convention
// (internal/agent/debug/session.go's DebugSession.ID).
type Session struct {
	SessionID string

	reader   Reader
	resolver *stackresolve.Resolver
	blocking *blocking.Machine
	hotspot  *hotspot.Aggregator
	bus      *livebus.Bus
	exporter *trace.Exporter // nil when no --export was requested

	Stats  Stats
	logger zerolog.Logger
}

// New builds a Session wired to every collaborator. exporter may be nil
// if the caller did not request a trace-file export (spec.md §6
// --export).
func New(
	reader Reader,
	resolver *stackresolve.Resolver,
	blockingMachine *blocking.Machine,
	aggregator *hotspot.Aggregator,
	bus *livebus.Bus,
	exporter *trace.Exporter,
	logger zerolog.Logger,
) *Session {
	return &Session{
		SessionID: uuid.NewString(),
		reader:    reader,
		resolver:  resolver,
		blocking:  blockingMachine,
		hotspot:   aggregator,
		bus:       bus,
		exporter:  exporter,
		logger:    logger.With().Str("component", "drain").Logger(),
	}
}

// Run drives the cooperative loop until ctx is canceled or, if
// duration > 0, that much time has elapsed (spec.md §4.3: "Duration-
// limited runs terminate cleanly when elapsed time reaches the limit;
// cancellation terminates immediately with accumulated state intact").
// On return, pending blocking-span state is discarded (spec.md §5).
func (s *Session) Run(ctx context.Context, duration time.Duration) error {
	s.logger.Info().Str("session_id", s.SessionID).Dur("duration", duration).Msg("drain loop starting")

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	defer s.blocking.Reset()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("session_id", s.SessionID).Msg("drain loop canceled")
			return nil
		case <-deadline:
			s.logger.Info().Str("session_id", s.SessionID).Msg("drain loop reached duration limit")
			return nil
		default:
		}

		drained, err := s.drainAvailable()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if drained == 0 {
			// Nothing was available this tick; the bounded wait inside
			// drainAvailable's SetDeadline already consumed up to
			// PollInterval, so loop straight back to the select above.
			continue
		}
	}
}

// drainAvailable reads every currently-available record (bounded by
// PollInterval for the first read of the tick) and dispatches each.
// Returns the count drained, or an error only for a genuine transport
// failure (not a timeout, which is the normal empty-tick case).
func (s *Session) drainAvailable() (int, error) {
	count := 0
	first := true
	for {
		if err := s.reader.SetDeadline(time.Now().Add(PollInterval)); err != nil {
			return count, err
		}
		rec, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return count, ErrClosed
			}
			if isTimeout(err) {
				if first {
					return 0, nil
				}
				return count, nil
			}
			return count, err
		}
		first = false

		evt, ok := schema.Decode(rec.RawSample)
		if !ok {
			s.Stats.Malformed++
			s.logger.Warn().Int("len", len(rec.RawSample)).Msg("malformed event record, dropping")
			continue
		}
		s.Stats.RecordsRead++
		s.dispatch(evt)
		count++
	}
}

// dispatch routes one decoded event to its downstream collaborators per
// spec.md's data-flow table: C9 for markers/scheduler detections, C10/
// C11/C12 for execution samples. Backpressure to C11 never blocks the
// loop (spec.md §4.3).
func (s *Session) dispatch(evt schema.Event) {
	switch evt.EventType {
	case schema.EventBlockStart:
		s.blocking.BlockStart(evt)
	case schema.EventBlockEnd:
		if _, ok := s.blocking.BlockEnd(evt); ok {
			s.logger.Debug().Uint32("tid", evt.TID).Msg("blocking span closed")
		}
	case schema.EventSchedDetected:
		span := s.blocking.SchedulerDetected(evt)
		s.recordHotspotSample(evt, span.StackID)
	case schema.EventExecStart:
		s.recordHotspotSample(evt, evt.StackID)
		s.offerDashboard(evt)
		if s.exporter != nil {
			topFrame, addr, inExecutable := s.topFrame(evt.StackID)
			s.exporter.AddExecStart(evt, topFrame, addr, inExecutable)
		}
	case schema.EventExecEnd:
		if s.exporter != nil {
			s.exporter.AddExecEnd(evt)
		}
	}
}

func (s *Session) recordHotspotSample(evt schema.Event, stackID int64) {
	frames, sentinel := s.resolver.Resolve(stackID)
	if sentinel != "" || len(frames) == 0 {
		s.hotspot.Record(schema.Frame{Function: schema.UnknownFunction}, false, true, evt.WorkerID)
		return
	}
	top := frames[0]
	hadDebugInfo := top.Loc != nil
	inExecutable := top.Function != stackresolve.SharedLibrary
	s.hotspot.RecordStack(top, hadDebugInfo, inExecutable, evt.WorkerID, stackID)
}

func (s *Session) topFrame(stackID int64) (topFrame *schema.Frame, addr uint64, inExecutable bool) {
	addr, ok := s.resolver.TopFrameAddr(stackID)
	if !ok {
		return nil, 0, true
	}
	frames, sentinel := s.resolver.Resolve(stackID)
	if sentinel != "" || len(frames) == 0 {
		return nil, addr, true
	}
	f := frames[0]
	if f.Function == stackresolve.SharedLibrary {
		return nil, addr, false
	}
	return &f, addr, true
}

// Hotspots returns the current hotspot aggregator snapshot (C10).
func (s *Session) Hotspots() []schema.FunctionHotspot {
	return s.hotspot.Snapshot()
}

// FileHotspots returns the file-grouped hotspot view (C10), resolving each
// hotspot's exemplar stacks through the same resolver the drain loop uses
// for live samples.
func (s *Session) FileHotspots() []schema.FileHotspot {
	return s.hotspot.FileSnapshot(s.resolver.Resolve)
}

// BlockingStats returns the blocking state machine's diagnostic counters
// (C9).
func (s *Session) BlockingStats() blocking.Stats {
	return s.blocking.Stats
}

// Exporter exposes the trace exporter, if one was configured, for the
// caller to render on exit.
func (s *Session) Exporter() *trace.Exporter {
	return s.exporter
}

// Bus exposes the dashboard data bus for a consumer to start draining
// before Run begins.
func (s *Session) Bus() *livebus.Bus {
	return s.bus
}

func (s *Session) offerDashboard(evt schema.Event) {
	if s.bus == nil {
		return
	}
	traceEvt := livebus.TraceEvent{
		WorkerID:        evt.WorkerID,
		TID:             evt.TID,
		TimestampSec:    float64(evt.TimestampNS) / 1e9,
		CPUID:           evt.CPUID,
		DetectionMethod: evt.DetectionMethod,
	}
	if frames, sentinel := s.resolver.Resolve(evt.StackID); sentinel == "" && len(frames) > 0 {
		traceEvt.Name = frames[0].Function
		if frames[0].Loc != nil {
			traceEvt.File = frames[0].Loc.File
			traceEvt.Line = frames[0].Loc.Line
		}
	} else {
		traceEvt.Name = schema.UnknownFunction
	}
	if !s.bus.Offer(traceEvt) {
		s.Stats.DashboardDrop++
	}
}
