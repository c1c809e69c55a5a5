package profile

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/taskscope/taskscope/internal/config"
	"github.com/taskscope/taskscope/internal/profile/livebus"
	"github.com/taskscope/taskscope/internal/profile/trace"
	"github.com/taskscope/taskscope/internal/safe"
)

// maxReplayDocSize bounds the trace document replay will read into memory,
// guarding against an operator pointing --replay at an arbitrarily large
// or crafted file.
const maxReplayDocSize = 64 << 20

func newReplayCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Read a previously exported trace document and print its summary",
		Long: `Replay reconstructs a dashboard-style summary from a trace file
written by "profile run --export", without re-attaching to any process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			doc, err := loadDocument(cfg.Replay)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			acc := accumulateDocument(doc)
			printReplaySummary(cmd, cfg.Replay, doc, acc)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Replay, "replay", "", "path to a trace document previously written by --export")
	cmd.MarkFlagRequired("replay") //nolint:errcheck

	return cmd
}

func loadDocument(path string) (trace.Document, error) {
	raw, err := safe.ReadFile(path, &safe.ReadFileOptions{MaxSize: maxReplayDocSize})
	if err != nil {
		return trace.Document{}, fmt.Errorf("read %s: %w", path, err)
	}

	var doc trace.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return trace.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// accumulateDocument replays a trace document's "B"-phase (span begin)
// events through a livebus.Accumulator, giving replay the same summary
// shape a live --headless=false run builds incrementally.
func accumulateDocument(doc trace.Document) *livebus.Accumulator {
	acc := livebus.NewAccumulator()
	for _, evt := range doc.TraceEvents {
		if evt.Ph != "B" {
			continue
		}
		acc.Add(livebus.TraceEvent{
			Name:         evt.Name,
			WorkerID:     workerIDFromArgs(evt.Args),
			TID:          evt.TID,
			TimestampSec: evt.TS / 1e6,
		})
	}
	return acc
}

func workerIDFromArgs(args map[string]any) uint32 {
	raw, ok := args["worker_id"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return uint32(v)
	case uint32:
		return v
	default:
		return 0
	}
}

func printReplaySummary(cmd *cobra.Command, path string, doc trace.Document, acc *livebus.Accumulator) {
	cmd.Printf("replayed %s: %d trace events\n", path, len(doc.TraceEvents))

	snap := acc.Snapshot()
	cmd.Printf("exec-start spans: %d\n", snap.EventCount)
	cmd.Printf("time range: %.3fs .. %.3fs\n", snap.FirstTS, snap.LastTS)

	workers := append([]uint32(nil), snap.Workers...)
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
	cmd.Printf("workers observed: %v\n", workers)
}
