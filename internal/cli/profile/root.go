// Package profile implements the "profile" command: attach the kernel
// probes to a running process, discover its worker threads, and drain
// the resulting event stream into the aggregation/export pipeline.
package profile

import (
	"github.com/spf13/cobra"
)

// NewProfileCmd builds the root "profile" command.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Attach to a process and profile its execution and blocking behavior",
		Long: `Attach the kernel probe set to a running process and capture its CPU
hotspots and blocking spans until the configured duration elapses or the
run is canceled.

Examples:
  taskscope profile run --pid 4821 --target /usr/bin/myserver --duration 30
  taskscope profile run --pid 4821 --target /usr/bin/myserver --export trace.json --headless
  taskscope profile replay --replay trace.json`,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReplayCmd())

	return cmd
}
