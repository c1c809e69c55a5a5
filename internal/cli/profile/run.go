package profile

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/taskscope/taskscope/internal/config"
	tserrors "github.com/taskscope/taskscope/internal/errors"
	"github.com/taskscope/taskscope/internal/logging"
	"github.com/taskscope/taskscope/internal/profile/bpf"
	"github.com/taskscope/taskscope/internal/profile/livebus"
	"github.com/taskscope/taskscope/internal/profile/session"
	"github.com/taskscope/taskscope/internal/safe"
)

func newRunCmd() *cobra.Command {
	cfg := config.Default()
	var markerSymbol string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach and profile a running process until duration elapses or canceled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewWithComponent(logging.Config{Level: logLevel, Pretty: !cfg.Headless, Output: os.Stderr}, "cli")

			marker := bpf.MarkerSpec{Symbol: markerSymbol}
			sess, err := session.Setup(cfg, marker, logger)
			if err != nil {
				printSetupError(cmd, err)
				return err
			}
			defer func() {
				if closeErr := sess.Close(); closeErr != nil {
					logger.Warn().Err(closeErr).Msg("error tearing down session")
				}
			}()

			logger.Info().Str("session_id", sess.SessionID()).Msg("profiling session attached")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var acc *livebus.Accumulator
			if !cfg.Headless {
				acc = livebus.NewAccumulator()
				go drainDashboard(ctx, sess.Bus(), acc)
			}

			if err := sess.Run(ctx); err != nil {
				return fmt.Errorf("profiling run failed: %w", err)
			}

			printSummary(cmd, sess, acc)

			if cfg.Export != "" {
				if err := writeExport(cfg.Export, sess, logger); err != nil {
					return tserrors.New(tserrors.KindExportSerializeFailed, err, "the collected in-memory state is otherwise intact")
				}
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.PID, "pid", 0, "target process id (required)")
	flags.StringVar(&cfg.Target, "target", "", "path to the target binary (defaults to /proc/<pid>/exe)")
	durationSecs := flags.Int("duration", 0, "profiling duration in seconds (0 means unlimited)")
	flags.StringVar(&cfg.Export, "export", "", "write the trace exporter's document to this path on exit")
	flags.BoolVar(&cfg.Headless, "headless", false, "disable the dashboard data-bus consumer")
	flags.StringVar(&cfg.WorkerPrefix, "workers", "", "override name-based worker discovery's prefix")
	thresholdMS := flags.Int("threshold-ms", int(config.DefaultThreshold.Milliseconds()), "off-CPU duration past which a span is scheduler-detected")
	flags.IntVar(&cfg.SampleHz, "sample-hz", config.DefaultSampleHz, "CPU sampler frequency in Hz")
	flags.StringVar(&markerSymbol, "marker", "", "exported function symbol to uprobe as a blocking-span marker (optional)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.Duration = time.Duration(*durationSecs) * time.Second
		cfg.Threshold = time.Duration(*thresholdMS) * time.Millisecond
		return nil
	}

	cmd.MarkFlagRequired("pid") //nolint:errcheck

	return cmd
}

func drainDashboard(ctx context.Context, bus *livebus.Bus, acc *livebus.Accumulator) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-bus.Events():
			if !ok {
				return
			}
			acc.Add(evt)
		}
	}
}

func printSetupError(cmd *cobra.Command, err error) {
	if pe, ok := tserrors.As(err); ok {
		cmd.PrintErrf("Error [%s]: %v\n", pe.Kind, pe.Cause)
		if pe.Hint != "" {
			cmd.PrintErrf("Hint: %s\n", pe.Hint)
		}
		return
	}
	cmd.PrintErrf("Error: %v\n", err)
}

func printSummary(cmd *cobra.Command, sess *session.Session, acc *livebus.Accumulator) {
	cmd.Printf("session %s complete\n", sess.SessionID())

	blockStats := sess.BlockingStats()
	cmd.Printf("blocking spans: %d marker-detected, %d scheduler-detected, %d orphan ends\n",
		blockStats.MarkerDetected, blockStats.SchedulerDetected, blockStats.OrphanEnds)

	drainStats := sess.DrainStats()
	cmd.Printf("events: %d read, %d malformed, %d dropped to dashboard\n",
		drainStats.RecordsRead, drainStats.Malformed, drainStats.DashboardDrop)

	hotspots := sess.Hotspots()
	cmd.Printf("top hotspots (%d total):\n", len(hotspots))
	for i, h := range hotspots {
		if i >= 10 {
			break
		}
		cmd.Printf("  %6.2f%%  %8d  %s\n", h.Percentage, h.SampleCount, h.Name)
	}

	fileHotspots := sess.FileHotspots()
	cmd.Printf("top files (%d total):\n", len(fileHotspots))
	for i, f := range fileHotspots {
		if i >= 10 {
			break
		}
		cmd.Printf("  %6.2f%%  %8d  %s\n", f.Percentage, f.SampleCount, f.File)
	}

	if acc != nil {
		snap := acc.Snapshot()
		cmd.Printf("dashboard accumulator: %d events, %d workers observed\n", snap.EventCount, len(snap.Workers))
	}
}

func writeExport(path string, sess *session.Session, logger zerolog.Logger) error {
	exporter := sess.Exporter()
	if exporter == nil {
		return fmt.Errorf("no trace exporter configured for this session")
	}
	f, err := os.Create(path) // #nosec G304 -- path is an operator-supplied CLI flag
	if err != nil {
		return fmt.Errorf("create export file %s: %w", path, err)
	}
	defer safe.Close(f, logger, "error closing export file")
	return exporter.Export(f)
}
