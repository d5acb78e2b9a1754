// Package runner wires a scenario into a full simulation run: building the
// population and catalogs, constructing the decision capability, running
// the loop, and persisting the trace. Shared by the CLI and the MCP server.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/citykit/govsim/internal/config"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/logging"
	"github.com/citykit/govsim/internal/policy"
	"github.com/citykit/govsim/internal/ratelimit"
	"github.com/citykit/govsim/internal/rules"
	"github.com/citykit/govsim/internal/sim"
	"github.com/citykit/govsim/internal/trace"
)

// Options adjusts a run beyond what the scenario specifies.
type Options struct {
	// Store, when set, persists the run and its rounds.
	Store *trace.Store

	// Capability overrides the scenario's decision backend. Used by tests
	// and by callers that manage backend lifecycle themselves.
	Capability decision.Capability

	// Log is the operational logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Run executes one simulation run for the scenario. The returned run is
// complete on success and partial when the run failed; the error carries
// the failure cause.
func Run(ctx context.Context, scn *config.Scenario, opts Options) (trace.Run, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	built, err := scn.Build()
	if err != nil {
		return trace.Run{}, err
	}

	capability := opts.Capability
	if capability == nil {
		capability = decision.New(scn.Decision)
		if c, ok := capability.(decision.Closer); ok {
			defer c.Close()
		}
	}
	if !capability.Available() {
		log.Warn("decision capability unavailable, decisions will be substituted",
			"provider", scn.Decision.Provider)
	}

	ruleEngine, err := rules.NewEngine(built.Rules, built.RNG, log)
	if err != nil {
		return trace.Run{}, &config.ConfigurationError{Field: "rules", Err: err}
	}
	policyEngine, err := policy.NewEngine(built.Policies, log)
	if err != nil {
		return trace.Run{}, &config.ConfigurationError{Field: "policies", Err: err}
	}

	loopOpts := []sim.Option{sim.WithLogger(log)}
	if scn.Run.RatePerSecond > 0 {
		burst := scn.Run.Concurrency
		if burst <= 0 {
			burst = 4
		}
		loopOpts = append(loopOpts, sim.WithLimiter(ratelimit.NewLimiter(scn.Run.RatePerSecond, burst)))
	}

	loop, err := sim.New(built.Sim, scn.Run.Seed, built.Population, built.Env,
		capability, ruleEngine, policyEngine, loopOpts...)
	if err != nil {
		return trace.Run{}, &config.ConfigurationError{Field: "run", Err: err}
	}

	var jsonl *trace.JSONLWriter
	if scn.Trace.JSONL && scn.Trace.Dir != "" {
		path := filepath.Join(scn.Trace.Dir, "trace.jsonl")
		jsonl, err = trace.NewJSONLWriter(path, loop.Trace().Run())
		if err != nil {
			return trace.Run{}, fmt.Errorf("opening trace writer: %w", err)
		}
		defer jsonl.Close()
	}

	// Nil unless the log level is debug or trace.
	var decisionLog *logging.DecisionLogger
	if scn.Trace.Dir != "" {
		decisionLog = logging.NewDecisionLogger(scn.Trace.Dir, scn.Logging.Level)
		defer decisionLog.Close()
	}

	runID := loop.Trace().ID()
	if opts.Store != nil {
		if err := opts.Store.BeginRun(ctx, loop.Trace().Run()); err != nil {
			return trace.Run{}, err
		}
	}

	sinks := sim.WithRoundSink(func(ctx context.Context, snap trace.RoundSnapshot) error {
		for _, d := range snap.Decisions {
			decisionLog.Log(map[string]any{
				"round":       snap.Round,
				"agent_id":    d.AgentID,
				"action":      d.Action,
				"target":      d.Target,
				"reason":      d.Reason,
				"substituted": d.Substituted,
				"error":       d.Err,
			})
		}
		if err := jsonl.WriteRound(snap); err != nil {
			return err
		}
		if opts.Store != nil {
			return opts.Store.AppendRound(ctx, runID, snap)
		}
		return nil
	})
	sinks(loop)

	run, runErr := loop.Run(ctx)

	if opts.Store != nil {
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		if err := opts.Store.FinishRun(ctx, runID, run.Status, errMsg); err != nil {
			log.Error("recording run status", "run_id", runID, "error", err)
		}
	}
	return run, runErr
}
