package rules

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/effect"
	"github.com/citykit/govsim/internal/world"
)

// Firing records one rule application for the trace.
type Firing struct {
	Rule   string   `json:"rule"`
	Agents []string `json:"agents"`
}

// EffectError reports a failed effect application. It is fatal to the
// round: state may be half-mutated and the run must not continue from it.
type EffectError struct {
	Rule   string
	Agents []string
	Err    error
}

func (e *EffectError) Error() string {
	return fmt.Sprintf("rule %s effect failed for [%s]: %v", e.Rule, strings.Join(e.Agents, " "), e.Err)
}

func (e *EffectError) Unwrap() error { return e.Err }

// Engine evaluates the rule catalog. It owns the only consumer of the
// seeded random source during a round, one draw per eligible group, in a
// fixed enumeration order, which is what makes runs reproducible.
type Engine struct {
	rules []Rule
	rng   *rand.Rand
	log   *slog.Logger
}

// NewEngine validates the catalog and builds an engine. Rule names must be
// unique.
func NewEngine(catalog []Rule, rng *rand.Rand, log *slog.Logger) (*Engine, error) {
	if rng == nil {
		return nil, fmt.Errorf("rule engine requires a random source")
	}
	if log == nil {
		log = slog.Default()
	}
	seen := map[string]bool{}
	for _, r := range catalog {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return &Engine{rules: catalog, rng: rng, log: log}, nil
}

// Rules returns the catalog in evaluation order.
func (e *Engine) Rules() []Rule { return e.rules }

// RunRound evaluates every rule in catalog order against the population,
// environment, and the round's decisions. Effects apply immediately. The
// returned firings are in application order. An effect failure aborts the
// round with an EffectError; firings up to that point are returned with it.
func (e *Engine) RunRound(round int, pop *agent.Population, env *world.Environment, decisions map[string]decision.Decision) ([]Firing, error) {
	var firings []Firing
	for _, rule := range e.rules {
		if rule.Probability <= 0 {
			continue
		}
		fired, err := e.runRule(round, rule, pop, env, decisions, &firings)
		if err != nil {
			return firings, err
		}
		if fired > 0 {
			e.log.Debug("rule fired", "round", round, "rule", rule.Name, "count", fired)
		}
	}
	return firings, nil
}

func (e *Engine) runRule(round int, rule Rule, pop *agent.Population, env *world.Environment, decisions map[string]decision.Decision, firings *[]Firing) (int, error) {
	eligible := 0
	fired := 0

	err := forGroups(pop, rule.Participants, func(group []*agent.Agent) (bool, error) {
		ok, err := eligibleGroup(rule, group, env, decisions)
		if err != nil {
			return true, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		if !ok {
			return false, nil
		}
		eligible++

		if rule.Probability < 1 && e.rng.Float64() >= rule.Probability {
			return rule.SampleLimit > 0 && eligible >= rule.SampleLimit, nil
		}

		ids := make([]string, len(group))
		for i, a := range group {
			ids[i] = a.ID
		}
		ec := effect.Context{
			Round:        round,
			Source:       "rule:" + rule.Name,
			Participants: group,
			Env:          env,
		}
		if err := rule.Effect.Apply(ec); err != nil {
			return true, &EffectError{Rule: rule.Name, Agents: ids, Err: err}
		}
		*firings = append(*firings, Firing{Rule: rule.Name, Agents: ids})
		fired++

		return rule.SampleLimit > 0 && eligible >= rule.SampleLimit, nil
	})
	return fired, err
}

func eligibleGroup(rule Rule, group []*agent.Agent, env *world.Environment, decisions map[string]decision.Decision) (bool, error) {
	for _, cond := range rule.When {
		ok, err := cond.eval(group, env, decisions)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// forGroups enumerates candidate groups in a stable order: the cartesian
// product over participant slots with indices ascending per slot, and for
// slots sharing a kind, strictly increasing indices so the same pair is
// visited once. The callback returns stop=true to end enumeration early.
func forGroups(pop *agent.Population, kinds []agent.Kind, fn func(group []*agent.Agent) (bool, error)) error {
	group := make([]*agent.Agent, len(kinds))
	idx := make([]int, len(kinds))

	var rec func(slot int) (bool, error)
	rec = func(slot int) (bool, error) {
		if slot == len(kinds) {
			return fn(group)
		}
		agents := pop.OfKind(kinds[slot])
		start := 0
		for s := 0; s < slot; s++ {
			if kinds[s] == kinds[slot] && idx[s] >= start {
				start = idx[s] + 1
			}
		}
		for i := start; i < len(agents); i++ {
			idx[slot] = i
			group[slot] = agents[i]
			stop, err := rec(slot + 1)
			if stop || err != nil {
				return stop, err
			}
		}
		return false, nil
	}

	_, err := rec(0)
	return err
}
