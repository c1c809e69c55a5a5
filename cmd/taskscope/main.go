// Package main provides the taskscope binary: attach the eBPF probe set
// to a running async-runtime process and profile its CPU hotspots and
// blocking behavior.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskscope/taskscope/internal/cli/profile"
	"github.com/taskscope/taskscope/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "taskscope",
		Short:         "taskscope - eBPF-based profiler for async-runtime worker pools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(profile.NewProfileCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("taskscope version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
