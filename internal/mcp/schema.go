package mcp

// Input/output schemas for govsim MCP tools.

// RunSimulationInput is the input schema for the run_simulation tool.
type RunSimulationInput struct {
	Scenario string `json:"scenario" jsonschema:"description=Path to the scenario YAML file,required"`
	Rounds   int    `json:"rounds,omitempty" jsonschema:"description=Override the scenario's round count"`
	Seed     *int64 `json:"seed,omitempty" jsonschema:"description=Override the scenario's random seed"`
}

// RunSimulationOutput is the output schema for the run_simulation tool.
type RunSimulationOutput struct {
	RunID   string `json:"run_id" jsonschema:"description=Identifier of the recorded run"`
	Status  string `json:"status" jsonschema:"description=Final run status: completed or failed"`
	Rounds  int    `json:"rounds" jsonschema:"description=Number of committed rounds"`
	Seed    int64  `json:"seed" jsonschema:"description=Seed the run used"`
	Error   string `json:"error,omitempty" jsonschema:"description=Failure cause for failed runs"`
	Message string `json:"message" jsonschema:"description=Human-readable result message"`
}

// ListRunsInput is the input schema for the list_runs tool.
type ListRunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of runs to return (default: 20)"`
}

// RunListItem summarizes one recorded run.
type RunListItem struct {
	RunID     string `json:"run_id" jsonschema:"description=Run identifier"`
	Status    string `json:"status" jsonschema:"description=Run status"`
	Rounds    int    `json:"rounds" jsonschema:"description=Number of committed rounds"`
	Seed      int64  `json:"seed" jsonschema:"description=Seed the run used"`
	StartedAt string `json:"started_at" jsonschema:"description=Run start time (RFC 3339)"`
}

// ListRunsOutput is the output schema for the list_runs tool.
type ListRunsOutput struct {
	Runs  []RunListItem `json:"runs,omitempty" jsonschema:"description=Recorded runs, most recent first"`
	Count int           `json:"count" jsonschema:"description=Number of runs returned"`
}

// GetTraceInput is the input schema for the get_trace tool.
type GetTraceInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"description=Run to inspect (default: most recent)"`
	Round int    `json:"round,omitempty" jsonschema:"description=Return only this round's snapshot (default: all rounds)"`
}

// GetTraceOutput is the output schema for the get_trace tool.
type GetTraceOutput struct {
	RunID  string `json:"run_id" jsonschema:"description=Run identifier"`
	Status string `json:"status" jsonschema:"description=Run status"`
	Rounds int    `json:"rounds" jsonschema:"description=Number of rounds in the trace"`
	Trace  string `json:"trace" jsonschema:"description=Requested trace content as JSON"`
}

// ListRulesInput is the input schema for the list_rules tool.
type ListRulesInput struct {
	Scenario string `json:"scenario" jsonschema:"description=Path to the scenario YAML file,required"`
}

// RuleListItem summarizes one interaction rule.
type RuleListItem struct {
	Name         string   `json:"name" jsonschema:"description=Rule name"`
	Participants []string `json:"participants" jsonschema:"description=Participant kinds in slot order"`
	Probability  float64  `json:"probability" jsonschema:"description=Firing probability per eligible group"`
	Conditions   int      `json:"conditions" jsonschema:"description=Number of predicate clauses"`
}

// PolicyListItem summarizes one intervention.
type PolicyListItem struct {
	Name   string `json:"name" jsonschema:"description=Intervention name"`
	Start  *int   `json:"start,omitempty" jsonschema:"description=First active round (absent: from round 1)"`
	End    *int   `json:"end,omitempty" jsonschema:"description=Last active round (absent: until the run ends)"`
	Agents string `json:"agents" jsonschema:"description=Targeted kinds, or 'environment' for environment-only"`
}

// ListRulesOutput is the output schema for the list_rules tool.
type ListRulesOutput struct {
	Rules    []RuleListItem   `json:"rules,omitempty" jsonschema:"description=Interaction rules in evaluation order"`
	Policies []PolicyListItem `json:"policies,omitempty" jsonschema:"description=Interventions in application order"`
	Count    int              `json:"count" jsonschema:"description=Number of rules"`
}
