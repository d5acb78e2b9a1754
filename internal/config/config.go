// Package config provides scenario configuration loading for govsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/sim"
)

// ConfigurationError reports an invalid scenario configuration. Raised at
// load or validation time, never during a run.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func confErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// TerminationSignalError reports an unsatisfiable or malformed stop
// condition, detected at configuration time so a run is never started with
// one.
type TerminationSignalError struct {
	Condition string
	Err       error
}

func (e *TerminationSignalError) Error() string {
	return fmt.Sprintf("termination condition %s: %v", e.Condition, e.Err)
}

func (e *TerminationSignalError) Unwrap() error { return e.Err }

// Scenario is the full scenario configuration.
type Scenario struct {
	// Run contains loop settings.
	Run RunConfig `json:"run" yaml:"run"`

	// Population maps kind names to their build specs.
	Population map[string]PopulationSpec `json:"population" yaml:"population"`

	// Environment is the initial environment state.
	Environment EnvironmentSpec `json:"environment" yaml:"environment"`

	// Rules is the interaction rule catalog, in evaluation order.
	Rules []RuleSpec `json:"rules" yaml:"rules"`

	// Policies is the intervention catalog, in application order.
	Policies []PolicySpec `json:"policies,omitempty" yaml:"policies,omitempty"`

	// Decision configures the decision capability backend.
	Decision decision.Config `json:"decision" yaml:"decision"`

	// Logging configures operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Trace configures run persistence.
	Trace TraceConfig `json:"trace" yaml:"trace"`
}

// RunConfig holds loop settings.
type RunConfig struct {
	// Rounds is the number of rounds to simulate.
	Rounds int `json:"rounds" yaml:"rounds"`

	// Seed seeds the random source. Runs with the same scenario and seed
	// produce identical traces.
	Seed int64 `json:"seed" yaml:"seed"`

	// Concurrency caps in-flight decision calls. Zero means 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// HistoryTail is how many history entries accompany decision requests.
	HistoryTail int `json:"history_tail,omitempty" yaml:"history_tail,omitempty"`

	// DecisionCadence maps kind names to how often they decide (every k
	// rounds). Absent kinds decide every round.
	DecisionCadence map[string]int `json:"decision_cadence,omitempty" yaml:"decision_cadence,omitempty"`

	// EmergencyWindows lists inclusive round windows of emergency mode.
	EmergencyWindows []WindowSpec `json:"emergency_windows,omitempty" yaml:"emergency_windows,omitempty"`

	// Stop lists early-termination conditions.
	Stop []sim.StopCondition `json:"stop,omitempty" yaml:"stop,omitempty"`

	// RatePerSecond paces decision calls; zero disables pacing.
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
}

// WindowSpec is an inclusive round window in config form.
type WindowSpec struct {
	Start *int `json:"start,omitempty" yaml:"start,omitempty"`
	End   *int `json:"end,omitempty" yaml:"end,omitempty"`
}

// PopulationSpec describes one kind's agents.
type PopulationSpec struct {
	Count           int                           `json:"count" yaml:"count"`
	Attributes      map[string]float64            `json:"attributes" yaml:"attributes"`
	Bounds          map[string]agent.Bounds       `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Labels          map[string]string             `json:"labels,omitempty" yaml:"labels,omitempty"`
	AreaWeights     map[string]float64            `json:"area_weights,omitempty" yaml:"area_weights,omitempty"`
	AreaAdjustments map[string]map[string]float64 `json:"area_adjustments,omitempty" yaml:"area_adjustments,omitempty"`
}

// EnvironmentSpec is the initial environment state.
type EnvironmentSpec struct {
	DigitalInfrastructure  map[string]float64 `json:"digital_infrastructure" yaml:"digital_infrastructure"`
	PhysicalInfrastructure map[string]float64 `json:"physical_infrastructure" yaml:"physical_infrastructure"`
	ServiceQuality         map[string]float64 `json:"service_quality" yaml:"service_quality"`
	ServiceAvailability    *float64           `json:"service_availability,omitempty" yaml:"service_availability,omitempty"`
	SystemLoad             *float64           `json:"system_load,omitempty" yaml:"system_load,omitempty"`
	PolicyState            map[string]float64 `json:"policy_state,omitempty" yaml:"policy_state,omitempty"`
}

// EffectSpec names an effect type and its parameters.
type EffectSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
}

// RuleSpec is one interaction rule in config form.
type RuleSpec struct {
	Name         string          `json:"name" yaml:"name"`
	Participants []string        `json:"participants" yaml:"participants"`
	When         []ConditionSpec `json:"when,omitempty" yaml:"when,omitempty"`
	Probability  float64         `json:"probability" yaml:"probability"`
	SampleLimit  int             `json:"sample_limit,omitempty" yaml:"sample_limit,omitempty"`
	Effect       EffectSpec      `json:"effect" yaml:"effect"`
}

// ConditionSpec is one predicate clause in config form.
type ConditionSpec struct {
	Scope       string `json:"scope" yaml:"scope"`
	Participant int    `json:"participant,omitempty" yaml:"participant,omitempty"`
	Field       string `json:"field" yaml:"field"`
	Op          string `json:"op" yaml:"op"`
	Value       any    `json:"value" yaml:"value"`
}

// PolicySpec is one intervention in config form.
type PolicySpec struct {
	Name     string       `json:"name" yaml:"name"`
	Rounds   WindowSpec   `json:"rounds,omitempty" yaml:"rounds,omitempty"`
	Selector SelectorSpec `json:"selector,omitempty" yaml:"selector,omitempty"`
	Effect   EffectSpec   `json:"effect" yaml:"effect"`
}

// SelectorSpec narrows an intervention's targets.
type SelectorSpec struct {
	Kinds          []string           `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Area           string             `json:"area,omitempty" yaml:"area,omitempty"`
	AttributeBelow map[string]float64 `json:"attribute_below,omitempty" yaml:"attribute_below,omitempty"`
	AttributeAbove map[string]float64 `json:"attribute_above,omitempty" yaml:"attribute_above,omitempty"`
}

// LoggingConfig configures govsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to the trace directory.
	Level string `json:"level" yaml:"level"`
}

// TraceConfig configures run persistence.
type TraceConfig struct {
	// Dir is the directory for trace artifacts. Defaults to ".govsim".
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// JSONL enables streaming the trace to <dir>/trace.jsonl.
	JSONL bool `json:"jsonl" yaml:"jsonl"`

	// Database enables persisting runs to <dir>/govsim.db.
	Database bool `json:"database" yaml:"database"`
}

// Default returns a Scenario with sensible defaults and no population,
// rules, or policies.
func Default() *Scenario {
	return &Scenario{
		Run: RunConfig{
			Rounds:      10,
			Seed:        1,
			Concurrency: 4,
			HistoryTail: 10,
		},
		Decision: decision.DefaultConfig(),
		Logging:  LoggingConfig{Level: "info"},
		Trace:    TraceConfig{Dir: ".govsim", JSONL: true, Database: true},
	}
}

// LoadFromFile loads a scenario from a YAML file, applies environment
// variable overrides, and validates.
func LoadFromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	scn := Default()
	if err := yaml.Unmarshal(data, scn); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}

	// Expand environment variables in API key
	scn.Decision.APIKey = expandEnvVars(scn.Decision.APIKey)

	applyEnvOverrides(scn)

	if err := scn.Validate(); err != nil {
		return nil, err
	}
	return scn, nil
}

// Validate checks the scenario holds together. Structural rule and policy
// errors surface later in Build, where effects are constructed; this pass
// covers everything checkable without building.
func (s *Scenario) Validate() error {
	if s.Run.Rounds < 1 {
		return confErr("run.rounds", "must be at least 1, got %d", s.Run.Rounds)
	}
	if s.Run.Concurrency < 0 {
		return confErr("run.concurrency", "must be non-negative, got %d", s.Run.Concurrency)
	}
	if s.Run.RatePerSecond < 0 {
		return confErr("run.rate_per_second", "must be non-negative, got %v", s.Run.RatePerSecond)
	}

	for name, cadence := range s.Run.DecisionCadence {
		if !agent.Kind(name).Valid() {
			return confErr("run.decision_cadence", "unknown kind %q", name)
		}
		if cadence < 1 {
			return confErr("run.decision_cadence", "%s cadence must be at least 1, got %d", name, cadence)
		}
	}

	for i, w := range s.Run.EmergencyWindows {
		if w.Start != nil && *w.Start < 1 {
			return confErr("run.emergency_windows", "window %d starts before round 1", i)
		}
		if w.Start != nil && w.End != nil && *w.End < *w.Start {
			return confErr("run.emergency_windows", "window %d ends before it starts", i)
		}
	}

	for i, st := range s.Run.Stop {
		switch st.Op {
		case "lt", "le", "gt", "ge", "eq", "ne":
		default:
			return &TerminationSignalError{
				Condition: fmt.Sprintf("stop[%d]", i),
				Err:       fmt.Errorf("unknown op %q", st.Op),
			}
		}
		if st.Path == "" {
			return &TerminationSignalError{
				Condition: fmt.Sprintf("stop[%d]", i),
				Err:       fmt.Errorf("empty path"),
			}
		}
	}

	if len(s.Population) == 0 {
		return confErr("population", "no agent kinds configured")
	}
	total := 0
	for name, spec := range s.Population {
		if !agent.Kind(name).Valid() {
			return confErr("population", "unknown kind %q", name)
		}
		if spec.Count < 0 {
			return confErr("population", "%s count must be non-negative, got %d", name, spec.Count)
		}
		total += spec.Count
		for area := range spec.AreaWeights {
			if !validArea(area) {
				return confErr("population", "%s has unknown area %q", name, area)
			}
		}
		for area := range spec.AreaAdjustments {
			if !validArea(area) {
				return confErr("population", "%s adjusts unknown area %q", name, area)
			}
		}
	}
	if total == 0 {
		return confErr("population", "no agents configured")
	}

	for _, m := range []struct {
		field string
		v     map[string]float64
	}{
		{"environment.digital_infrastructure", s.Environment.DigitalInfrastructure},
		{"environment.physical_infrastructure", s.Environment.PhysicalInfrastructure},
		{"environment.service_quality", s.Environment.ServiceQuality},
	} {
		for area := range m.v {
			if !validArea(area) {
				return confErr(m.field, "unknown area %q", area)
			}
		}
	}

	validProviders := map[string]bool{"": true, "fallback": true, "anthropic": true, "openai": true, "local": true, "mock": true}
	if !validProviders[s.Decision.Provider] {
		return confErr("decision.provider", "invalid provider %q (valid: anthropic, openai, local, mock, fallback, or empty)", s.Decision.Provider)
	}
	if s.Decision.Timeout < 0 {
		return confErr("decision.timeout", "must be non-negative, got %v", s.Decision.Timeout)
	}

	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[s.Logging.Level] {
		return confErr("logging.level", "invalid level %q (valid: info, debug, trace)", s.Logging.Level)
	}

	return nil
}

func validArea(name string) bool {
	for _, a := range agent.Areas() {
		if string(a) == name {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to the scenario.
func applyEnvOverrides(scn *Scenario) {
	if v := os.Getenv("GOVSIM_DECISION_PROVIDER"); v != "" {
		scn.Decision.Provider = v
	}

	// Ambient provider keys are a fallback only; a key set in the scenario
	// file wins.
	if scn.Decision.APIKey == "" {
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && scn.Decision.Provider == "anthropic" {
			scn.Decision.APIKey = v
		}
		if v := os.Getenv("OPENAI_API_KEY"); v != "" && scn.Decision.Provider == "openai" {
			scn.Decision.APIKey = v
		}
	}

	if v := os.Getenv("GOVSIM_LOCAL_MODEL_PATH"); v != "" {
		scn.Decision.LocalModelPath = v
	}
	if v := os.Getenv("GOVSIM_LOCAL_GPU_LAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			scn.Decision.LocalGPULayers = n
		}
	}

	if v := os.Getenv("GOVSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			scn.Run.Seed = n
		}
	}
	if v := os.Getenv("GOVSIM_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			scn.Run.Rounds = n
		}
	}

	if v := os.Getenv("GOVSIM_LOG_LEVEL"); v != "" {
		scn.Logging.Level = v
	}
	if v := os.Getenv("GOVSIM_TRACE_DIR"); v != "" {
		scn.Trace.Dir = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// DecisionTimeout returns the configured timeout with the default applied.
func (s *Scenario) DecisionTimeout() time.Duration {
	if s.Decision.Timeout > 0 {
		return s.Decision.Timeout
	}
	return 30 * time.Second
}
