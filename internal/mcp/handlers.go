package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/citykit/govsim/internal/config"
	"github.com/citykit/govsim/internal/pathutil"
	"github.com/citykit/govsim/internal/ratelimit"
	"github.com/citykit/govsim/internal/runner"
)

// loadScenario validates a client-supplied scenario path against the
// allowed directories before reading it. MCP clients must not be able to
// point the server at arbitrary files.
func loadScenario(path string) (*config.Scenario, error) {
	allowed, err := pathutil.DefaultAllowedScenarioDirs()
	if err != nil {
		return nil, err
	}
	if err := pathutil.ValidatePath(path, allowed); err != nil {
		return nil, err
	}
	return config.LoadFromFile(path)
}

// registerTools registers all govsim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "run_simulation",
		Description: "Run a scenario end to end and record its trace. Returns the run ID for later inspection.",
	}, s.handleRunSimulation)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "list_runs",
		Description: "List recorded simulation runs, most recent first",
	}, s.handleListRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "get_trace",
		Description: "Get a recorded run's trace: all rounds or a single round snapshot",
	}, s.handleGetTrace)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "list_rules",
		Description: "List a scenario's interaction rules and interventions without running it",
	}, s.handleListRules)

	return nil
}

// handleRunSimulation implements the run_simulation tool.
func (s *Server) handleRunSimulation(ctx context.Context, req *sdk.CallToolRequest, args RunSimulationInput) (*sdk.CallToolResult, RunSimulationOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "run_simulation"); err != nil {
		return nil, RunSimulationOutput{}, err
	}
	if args.Scenario == "" {
		return nil, RunSimulationOutput{}, fmt.Errorf("scenario path is required")
	}

	scn, err := loadScenario(args.Scenario)
	if err != nil {
		return nil, RunSimulationOutput{}, err
	}
	if args.Rounds > 0 {
		scn.Run.Rounds = args.Rounds
	}
	if args.Seed != nil {
		scn.Run.Seed = *args.Seed
	}
	// The server owns the run database; the scenario's own trace settings
	// would otherwise open a second store on the same file.
	scn.Trace.Database = false
	scn.Trace.Dir = s.traceDir

	run, runErr := runner.Run(ctx, scn, runner.Options{Store: s.store, Log: s.log})

	out := RunSimulationOutput{
		RunID:  run.ID,
		Status: run.Status,
		Rounds: len(run.Rounds),
		Seed:   run.Seed,
	}
	if runErr != nil {
		out.Error = runErr.Error()
		out.Message = fmt.Sprintf("Run %s failed after %d rounds: %v", run.ID, len(run.Rounds), runErr)
		return nil, out, nil
	}
	out.Message = fmt.Sprintf("Run %s completed: %d rounds", run.ID, len(run.Rounds))
	return nil, out, nil
}

// handleListRuns implements the list_runs tool.
func (s *Server) handleListRuns(ctx context.Context, req *sdk.CallToolRequest, args ListRunsInput) (*sdk.CallToolResult, ListRunsOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "list_runs"); err != nil {
		return nil, ListRunsOutput{}, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	metas, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, ListRunsOutput{}, fmt.Errorf("listing runs: %w", err)
	}
	if len(metas) > limit {
		metas = metas[:limit]
	}

	out := ListRunsOutput{Count: len(metas)}
	for _, m := range metas {
		out.Runs = append(out.Runs, RunListItem{
			RunID:     m.ID,
			Status:    m.Status,
			Rounds:    m.Rounds,
			Seed:      m.Seed,
			StartedAt: m.StartedAt,
		})
	}
	return nil, out, nil
}

// handleGetTrace implements the get_trace tool.
func (s *Server) handleGetTrace(ctx context.Context, req *sdk.CallToolRequest, args GetTraceInput) (*sdk.CallToolResult, GetTraceOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "get_trace"); err != nil {
		return nil, GetTraceOutput{}, err
	}

	runID := args.RunID
	if runID == "" {
		var err error
		runID, err = s.store.LatestRunID(ctx)
		if err != nil {
			return nil, GetTraceOutput{}, err
		}
	}

	run, err := s.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, GetTraceOutput{}, err
	}

	out := GetTraceOutput{RunID: run.ID, Status: run.Status, Rounds: len(run.Rounds)}

	if args.Round > 0 {
		if args.Round > len(run.Rounds) {
			return nil, GetTraceOutput{}, fmt.Errorf("round %d not in trace (run has %d rounds)", args.Round, len(run.Rounds))
		}
		data, err := json.Marshal(run.Rounds[args.Round-1])
		if err != nil {
			return nil, GetTraceOutput{}, fmt.Errorf("encoding snapshot: %w", err)
		}
		out.Trace = string(data)
		return nil, out, nil
	}

	data, err := json.Marshal(run)
	if err != nil {
		return nil, GetTraceOutput{}, fmt.Errorf("encoding trace: %w", err)
	}
	out.Trace = string(data)
	return nil, out, nil
}

// handleListRules implements the list_rules tool.
func (s *Server) handleListRules(ctx context.Context, req *sdk.CallToolRequest, args ListRulesInput) (*sdk.CallToolResult, ListRulesOutput, error) {
	if err := ratelimit.CheckLimit(s.toolLimiters, "list_rules"); err != nil {
		return nil, ListRulesOutput{}, err
	}
	if args.Scenario == "" {
		return nil, ListRulesOutput{}, fmt.Errorf("scenario path is required")
	}

	scn, err := loadScenario(args.Scenario)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}

	out := ListRulesOutput{Count: len(scn.Rules)}
	for _, r := range scn.Rules {
		out.Rules = append(out.Rules, RuleListItem{
			Name:         r.Name,
			Participants: r.Participants,
			Probability:  r.Probability,
			Conditions:   len(r.When),
		})
	}
	for _, p := range scn.Policies {
		agents := "environment"
		if len(p.Selector.Kinds) > 0 {
			agents = strings.Join(p.Selector.Kinds, ",")
		}
		out.Policies = append(out.Policies, PolicyListItem{
			Name:   p.Name,
			Start:  p.Rounds.Start,
			End:    p.Rounds.End,
			Agents: agents,
		})
	}
	return nil, out, nil
}
