// Package cli implements the lakeflow command tree: the long-running
// service plus one-shot trigger, backfill, and inspection commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "lakeflow",
		Short:         "Dataset ingestion pipelines",
		Long:          "lakeflow moves interval-partitioned datasets into an object store, a query warehouse, and a relational database.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file ('' disables)")

	rootCmd.AddCommand(
		newServeCmd(&envFile),
		newRunCmd(&envFile),
		newBackfillCmd(&envFile),
		newRunsCmd(&envFile),
	)
	return rootCmd
}
