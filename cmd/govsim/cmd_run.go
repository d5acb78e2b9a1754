package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/citykit/govsim/internal/config"
	"github.com/citykit/govsim/internal/logging"
	"github.com/citykit/govsim/internal/runner"
	"github.com/citykit/govsim/internal/trace"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a simulation scenario",
		Long: `Run a simulation scenario end to end and record its trace.

The trace is streamed to <trace-dir>/trace.jsonl while the run is in
progress and persisted to <trace-dir>/govsim.db when enabled in the
scenario. Interrupting the run (Ctrl-C) stops it at the next round
boundary and keeps every committed round.

Examples:
  govsim run scenario.yaml
  govsim run scenario.yaml --rounds 50 --seed 7
  govsim run scenario.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			traceDir, _ := cmd.Flags().GetString("trace-dir")
			rounds, _ := cmd.Flags().GetInt("rounds")
			seedFlag := cmd.Flags().Lookup("seed")

			scn, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			if rounds > 0 {
				scn.Run.Rounds = rounds
			}
			if seedFlag != nil && seedFlag.Changed {
				seed, _ := cmd.Flags().GetInt64("seed")
				scn.Run.Seed = seed
			}
			if traceDir != "" {
				scn.Trace.Dir = traceDir
			}

			log := logging.NewCLILogger(scn.Logging.Level, os.Stderr)

			var store *trace.Store
			if scn.Trace.Database && scn.Trace.Dir != "" {
				store, err = trace.OpenStore(filepath.Join(scn.Trace.Dir, "govsim.db"))
				if err != nil {
					return err
				}
				defer store.Close()
			}

			// Stop at the next round boundary on interrupt.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			run, runErr := runner.Run(ctx, scn, runner.Options{Store: store, Log: log})

			if jsonOut {
				out := map[string]any{
					"run_id": run.ID,
					"status": run.Status,
					"rounds": len(run.Rounds),
					"seed":   run.Seed,
				}
				if runErr != nil {
					out["error"] = runErr.Error()
				}
				json.NewEncoder(os.Stdout).Encode(out)
			} else if runErr == nil {
				fmt.Printf("Run %s completed: %d rounds (seed %d)\n", run.ID, len(run.Rounds), run.Seed)
				if last, ok := lastRound(run); ok {
					printRoundSummary(last)
				}
			}
			return runErr
		},
	}

	cmd.Flags().Int("rounds", 0, "Override the scenario's round count")
	cmd.Flags().Int64("seed", 0, "Override the scenario's random seed")
	return cmd
}

func lastRound(run trace.Run) (trace.RoundSnapshot, bool) {
	if len(run.Rounds) == 0 {
		return trace.RoundSnapshot{}, false
	}
	return run.Rounds[len(run.Rounds)-1], true
}

func printRoundSummary(snap trace.RoundSnapshot) {
	fmt.Printf("Final round %d: %d agents, %d rules fired, %d policies applied\n",
		snap.Round, len(snap.Agents), len(snap.RulesFired), len(snap.PoliciesApplied))
	fmt.Printf("Environment: service_availability=%.2f system_load=%.2f emergency=%v\n",
		snap.Environment.ServiceAvailability, snap.Environment.SystemLoad, snap.Environment.Emergency)
}
