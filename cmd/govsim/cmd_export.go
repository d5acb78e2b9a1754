package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/citykit/govsim/internal/trace"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id> <output-file>",
		Short: "Export a run's attribute time series as an Arrow IPC file",
		Long: `Export a recorded run's agent and environment attribute time series
in Apache Arrow IPC format for analysis tooling (pandas, polars, DuckDB).

The layout is long format: one row per (round, entity, attribute)
observation. Use "latest" as the run ID for the most recent run.

Examples:
  govsim export latest run.arrow
  govsim export <run-id> run.arrow --trace-dir ./results`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			traceDir, _ := cmd.Flags().GetString("trace-dir")
			if traceDir == "" {
				traceDir = ".govsim"
			}

			store, err := trace.OpenStore(filepath.Join(traceDir, "govsim.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()

			runID := args[0]
			if runID == "latest" {
				runID, err = store.LatestRunID(ctx)
				if err != nil {
					return err
				}
			}

			run, err := store.LoadRun(ctx, runID)
			if err != nil {
				return err
			}
			if len(run.Rounds) == 0 {
				return fmt.Errorf("run %s has no rounds to export", runID)
			}

			if err := trace.ExportArrowFile(args[1], run); err != nil {
				return err
			}
			fmt.Printf("Exported %d rounds of run %s to %s\n", len(run.Rounds), runID, args[1])
			return nil
		},
	}
	return cmd
}
