// Package sim drives the round-based simulation loop: decision gathering,
// rule evaluation, policy application, and trace capture.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/policy"
	"github.com/citykit/govsim/internal/ratelimit"
	"github.com/citykit/govsim/internal/rules"
	"github.com/citykit/govsim/internal/trace"
	"github.com/citykit/govsim/internal/world"
)

// State is the loop lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// StopCondition ends a run early when an environment path crosses a
// threshold. Evaluated against committed end-of-round snapshots.
type StopCondition struct {
	Path  string  `yaml:"path"`
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

// met tests the condition against the snapshot by resolving the path.
func (s StopCondition) met(env world.Snapshot) (bool, error) {
	e := world.FromSnapshot(env)
	v, err := e.Resolve(s.Path)
	if err != nil {
		return false, err
	}
	switch s.Op {
	case "lt":
		return v < s.Value, nil
	case "le":
		return v <= s.Value, nil
	case "gt":
		return v > s.Value, nil
	case "ge":
		return v >= s.Value, nil
	case "eq":
		return v == s.Value, nil
	case "ne":
		return v != s.Value, nil
	}
	return false, fmt.Errorf("unknown stop condition op %q", s.Op)
}

// Validate checks the condition shape against a reference environment.
func (s StopCondition) Validate(env *world.Environment) error {
	if err := env.ValidatePath(s.Path); err != nil {
		return err
	}
	switch s.Op {
	case "lt", "le", "gt", "ge", "eq", "ne":
		return nil
	}
	return fmt.Errorf("unknown stop condition op %q", s.Op)
}

// Config holds loop settings.
type Config struct {
	// Rounds is the total number of rounds to run.
	Rounds int

	// Concurrency caps in-flight decision calls. Zero means 4.
	Concurrency int

	// HistoryTail is how many history entries accompany each decision
	// request. Zero means 10.
	HistoryTail int

	// DecisionCadence maps agent kinds to how often they decide: a kind
	// with cadence k decides on rounds 1, 1+k, 1+2k, ... Kinds absent from
	// the map decide every round.
	DecisionCadence map[agent.Kind]int

	// EmergencyWindows lists round windows during which the environment
	// runs in emergency mode.
	EmergencyWindows []policy.RoundRange

	// Stop lists early-termination conditions, checked after each
	// committed round. Any one being met ends the run as completed.
	Stop []StopCondition
}

// Loop is one simulation run in progress. Construct with New, run once
// with Run.
type Loop struct {
	cfg        Config
	pop        *agent.Population
	env        *world.Environment
	capability decision.Capability
	rules      *rules.Engine
	policies   *policy.Engine
	limiter    *ratelimit.Limiter
	log        *slog.Logger

	// onRound, when set, is called after each committed round, before the
	// next one starts. An error fails the run.
	onRound func(context.Context, trace.RoundSnapshot) error

	mu    sync.Mutex
	state State
	trace *trace.Trace
}

// Option adjusts optional loop collaborators.
type Option func(*Loop)

// WithRoundSink registers a callback invoked after each committed round.
func WithRoundSink(fn func(context.Context, trace.RoundSnapshot) error) Option {
	return func(l *Loop) { l.onRound = fn }
}

// WithLimiter paces decision calls with the given limiter.
func WithLimiter(lim *ratelimit.Limiter) Option {
	return func(l *Loop) { l.limiter = lim }
}

// WithLogger sets the loop logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// New builds a loop. The population, environment, engines, and capability
// must already be constructed; seed is recorded in the trace for
// reproducibility.
func New(cfg Config, seed int64, pop *agent.Population, env *world.Environment,
	capability decision.Capability, ruleEngine *rules.Engine, policyEngine *policy.Engine,
	opts ...Option) (*Loop, error) {

	if cfg.Rounds < 1 {
		return nil, fmt.Errorf("rounds must be at least 1, got %d", cfg.Rounds)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.HistoryTail <= 0 {
		cfg.HistoryTail = 10
	}
	for kind, cadence := range cfg.DecisionCadence {
		if !kind.Valid() {
			return nil, fmt.Errorf("decision cadence for unknown kind %q", kind)
		}
		if cadence < 1 {
			return nil, fmt.Errorf("decision cadence for %s must be at least 1, got %d", kind, cadence)
		}
	}
	for i, s := range cfg.Stop {
		if err := s.Validate(env); err != nil {
			return nil, fmt.Errorf("stop condition %d: %w", i, err)
		}
	}
	if capability == nil {
		return nil, fmt.Errorf("decision capability is required")
	}

	l := &Loop{
		cfg:        cfg,
		pop:        pop,
		env:        env,
		capability: capability,
		rules:      ruleEngine,
		policies:   policyEngine,
		log:        slog.Default(),
		state:      StateInitializing,
		trace:      trace.New(seed),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Trace returns the run trace. Valid during and after Run; rounds recorded
// so far are visible while the run is in progress.
func (l *Loop) Trace() *trace.Trace { return l.trace }

// Run executes the configured number of rounds and returns the completed
// (or partial, on failure) run. Cancellation is honored at round
// boundaries: the round in progress finishes, then the run fails with the
// context error and the trace keeps every committed round.
func (l *Loop) Run(ctx context.Context) (trace.Run, error) {
	l.setState(StateRunning)
	l.log.Info("run starting",
		"run_id", l.trace.ID(),
		"rounds", l.cfg.Rounds,
		"agents", l.pop.Len())

	for round := 1; round <= l.cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return l.fail(fmt.Errorf("run cancelled before round %d: %w", round, err))
		}

		snap, err := l.runRound(ctx, round)
		if err != nil {
			return l.fail(fmt.Errorf("round %d: %w", round, err))
		}

		l.trace.Append(snap)
		if l.onRound != nil {
			if err := l.onRound(ctx, snap); err != nil {
				return l.fail(fmt.Errorf("persisting round %d: %w", round, err))
			}
		}

		stop, err := l.shouldStop(snap)
		if err != nil {
			return l.fail(fmt.Errorf("round %d: %w", round, err))
		}
		if stop {
			l.log.Info("stop condition met", "round", round)
			break
		}
	}

	l.setState(StateCompleted)
	l.trace.Finish(trace.StatusCompleted, nil)
	run := l.trace.Run()
	l.log.Info("run completed", "run_id", run.ID, "rounds", len(run.Rounds))
	return run, nil
}

func (l *Loop) fail(err error) (trace.Run, error) {
	l.setState(StateFailed)
	l.trace.Finish(trace.StatusFailed, err)
	l.log.Error("run failed", "run_id", l.trace.ID(), "error", err)
	return l.trace.Run(), err
}

// runRound executes one round: decisions against a frozen snapshot, then
// rules, then policies, all against live state.
func (l *Loop) runRound(ctx context.Context, round int) (trace.RoundSnapshot, error) {
	l.env.Round = round
	l.env.Emergency = l.emergencyActive(round)

	records, decisions := l.gatherDecisions(ctx, round)
	for _, rec := range records {
		if a := l.pop.Get(rec.AgentID); a != nil && !rec.Substituted {
			a.RecordDecision(round, rec.Action)
		}
	}

	firings, err := l.rules.RunRound(round, l.pop, l.env, decisions)
	if err != nil {
		return trace.RoundSnapshot{}, err
	}

	applied, err := l.policies.RunRound(round, l.pop, l.env)
	if err != nil {
		return trace.RoundSnapshot{}, err
	}

	return trace.RoundSnapshot{
		Round:           round,
		Agents:          l.pop.Snapshots(),
		Environment:     l.env.Snapshot(),
		Decisions:       records,
		RulesFired:      firings,
		PoliciesApplied: applied,
	}, nil
}

// gatherDecisions issues per-agent decision requests concurrently against a
// frozen environment snapshot. All results are collected before any state
// mutation. Capability failures substitute the no-op decision and mark the
// record; they never abort the round.
func (l *Loop) gatherDecisions(ctx context.Context, round int) ([]trace.DecisionRecord, map[string]decision.Decision) {
	frozen := l.env.Snapshot()

	var deciders []*agent.Agent
	for _, a := range l.pop.All() {
		if l.decidesThisRound(a.Kind, round) {
			deciders = append(deciders, a)
		}
	}
	if len(deciders) == 0 {
		return nil, map[string]decision.Decision{}
	}

	type result struct {
		d   decision.Decision
		err error
	}
	results := make([]result, len(deciders))
	sem := make(chan struct{}, l.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, a := range deciders {
		req := decision.Request{
			Agent:       a.Snapshot(),
			History:     a.HistoryTail(l.cfg.HistoryTail),
			Environment: frozen,
		}
		wg.Add(1)
		go func(i int, req decision.Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := l.limiter.Wait(ctx, "decision"); err != nil {
				results[i] = result{err: err}
				return
			}
			d, err := l.capability.Decide(ctx, req)
			results[i] = result{d: d, err: err}
		}(i, req)
	}
	wg.Wait()

	records := make([]trace.DecisionRecord, 0, len(deciders))
	decisions := make(map[string]decision.Decision, len(deciders))
	for i, a := range deciders {
		res := results[i]
		if res.err != nil {
			sub := decision.NoOp()
			records = append(records, trace.DecisionRecord{
				AgentID:     a.ID,
				Action:      sub.Action,
				Target:      sub.Target,
				Substituted: true,
				Err:         res.err.Error(),
			})
			decisions[a.ID] = sub
			l.log.Warn("decision substituted", "round", round, "agent", a.ID, "error", res.err)
			continue
		}
		records = append(records, trace.DecisionRecord{
			AgentID: a.ID,
			Action:  res.d.Action,
			Target:  res.d.Target,
			Reason:  res.d.Reason,
		})
		decisions[a.ID] = res.d
	}
	return records, decisions
}

func (l *Loop) decidesThisRound(kind agent.Kind, round int) bool {
	cadence, ok := l.cfg.DecisionCadence[kind]
	if !ok || cadence <= 1 {
		return true
	}
	return (round-1)%cadence == 0
}

func (l *Loop) emergencyActive(round int) bool {
	for _, w := range l.cfg.EmergencyWindows {
		if w.Contains(round) {
			return true
		}
	}
	return false
}

func (l *Loop) shouldStop(snap trace.RoundSnapshot) (bool, error) {
	for _, s := range l.cfg.Stop {
		met, err := s.met(snap.Environment)
		if err != nil {
			return false, err
		}
		if met {
			return true, nil
		}
	}
	return false, nil
}
