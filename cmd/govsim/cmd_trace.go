package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/citykit/govsim/internal/trace"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Inspect recorded runs",
		Long: `Inspect runs recorded in the trace database. Without arguments,
lists recorded runs. With a run ID, prints that run's trace; --round
narrows to a single round snapshot.

Examples:
  govsim trace                     # list runs
  govsim trace latest              # full trace of the most recent run
  govsim trace <run-id> --round 3  # one round snapshot`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			traceDir, _ := cmd.Flags().GetString("trace-dir")
			round, _ := cmd.Flags().GetInt("round")

			if traceDir == "" {
				traceDir = ".govsim"
			}
			store, err := trace.OpenStore(filepath.Join(traceDir, "govsim.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()

			if len(args) == 0 {
				return listRuns(ctx, store, jsonOut)
			}

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

			if round > 0 {
				if round > len(run.Rounds) {
					return fmt.Errorf("round %d not in trace (run has %d rounds)", round, len(run.Rounds))
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(run.Rounds[round-1])
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(run)
			}
			return trace.WriteJSONL(os.Stdout, run)
		},
	}

	cmd.Flags().Int("round", 0, "Print only this round's snapshot")
	return cmd
}

func listRuns(ctx context.Context, store *trace.Store, jsonOut bool) error {
	metas, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(metas)
	}

	if len(metas) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, m := range metas {
		status := m.Status
		if m.Error != "" {
			status = fmt.Sprintf("%s (%s)", m.Status, m.Error)
		}
		fmt.Printf("%s  seed=%d  rounds=%d  %s  %s\n", m.ID, m.Seed, m.Rounds, m.StartedAt, status)
	}
	return nil
}
