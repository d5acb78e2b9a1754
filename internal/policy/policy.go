// Package policy implements scheduled interventions. Policies run after the
// rule phase of each round, in catalog order, with no randomness: the same
// catalog against the same state always produces the same applications.
package policy

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/effect"
	"github.com/citykit/govsim/internal/world"
)

// RoundRange is an inclusive activation window. A nil bound is open on
// that side.
type RoundRange struct {
	Start *int `yaml:"start,omitempty"`
	End   *int `yaml:"end,omitempty"`
}

// Contains reports whether round falls inside the window.
func (r RoundRange) Contains(round int) bool {
	if r.Start != nil && round < *r.Start {
		return false
	}
	if r.End != nil && round > *r.End {
		return false
	}
	return true
}

// Validate rejects inverted windows.
func (r RoundRange) Validate() error {
	if r.Start != nil && *r.Start < 1 {
		return fmt.Errorf("window start %d before round 1", *r.Start)
	}
	if r.Start != nil && r.End != nil && *r.End < *r.Start {
		return fmt.Errorf("window end %d before start %d", *r.End, *r.Start)
	}
	return nil
}

// Selector narrows which agents an intervention targets. Empty fields do
// not constrain. An intervention with no kinds targets the environment
// only and its effect is applied once per active round.
type Selector struct {
	// Kinds limits to the listed agent kinds.
	Kinds []agent.Kind `yaml:"kinds,omitempty"`

	// Area limits to residents of the given area.
	Area agent.Area `yaml:"area,omitempty"`

	// AttributeBelow keeps agents whose named attributes are all strictly
	// below the thresholds.
	AttributeBelow map[string]float64 `yaml:"attribute_below,omitempty"`

	// AttributeAbove keeps agents whose named attributes are all strictly
	// above the thresholds.
	AttributeAbove map[string]float64 `yaml:"attribute_above,omitempty"`
}

// Matches reports whether the agent satisfies every constraint.
func (s Selector) Matches(a *agent.Agent) bool {
	if len(s.Kinds) > 0 {
		found := false
		for _, k := range s.Kinds {
			if a.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Area != "" && a.Area != s.Area {
		return false
	}
	for _, name := range sortedKeys(s.AttributeBelow) {
		if v, ok := a.Attributes[name]; !ok || v >= s.AttributeBelow[name] {
			return false
		}
	}
	for _, name := range sortedKeys(s.AttributeAbove) {
		if v, ok := a.Attributes[name]; !ok || v <= s.AttributeAbove[name] {
			return false
		}
	}
	return true
}

// Intervention is one scheduled policy of the catalog.
type Intervention struct {
	Name     string
	Rounds   RoundRange
	Selector Selector
	Effect   effect.Effect
}

// Validate checks intervention shape at configuration time.
func (p Intervention) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("intervention has no name")
	}
	if err := p.Rounds.Validate(); err != nil {
		return fmt.Errorf("intervention %s: %w", p.Name, err)
	}
	for _, k := range p.Selector.Kinds {
		if !k.Valid() {
			return fmt.Errorf("intervention %s: unknown kind %q", p.Name, k)
		}
	}
	if p.Effect == nil {
		return fmt.Errorf("intervention %s: no effect", p.Name)
	}
	return nil
}

// Applied records one intervention application for the trace. Agents is
// empty for environment-only interventions.
type Applied struct {
	Policy string   `json:"policy"`
	Agents []string `json:"agents,omitempty"`
}

// Engine applies the intervention catalog.
type Engine struct {
	catalog []Intervention
	log     *slog.Logger
}

// NewEngine validates the catalog. Intervention names must be unique.
func NewEngine(catalog []Intervention, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	seen := map[string]bool{}
	for _, p := range catalog {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate intervention name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &Engine{catalog: catalog, log: log}, nil
}

// Catalog returns the interventions in application order.
func (e *Engine) Catalog() []Intervention { return e.catalog }

// RunRound applies every intervention active in the round, in catalog
// order. Agent-targeted interventions apply their effect once per matching
// agent, in population order. Environment-only interventions apply once.
// An effect failure aborts the round.
func (e *Engine) RunRound(round int, pop *agent.Population, env *world.Environment) ([]Applied, error) {
	var applied []Applied
	for _, p := range e.catalog {
		if !p.Rounds.Contains(round) {
			continue
		}

		if len(p.Selector.Kinds) == 0 {
			ec := effect.Context{Round: round, Source: "policy:" + p.Name, Env: env}
			if err := p.Effect.Apply(ec); err != nil {
				return applied, fmt.Errorf("intervention %s: %w", p.Name, err)
			}
			applied = append(applied, Applied{Policy: p.Name})
			e.log.Debug("policy applied", "round", round, "policy", p.Name)
			continue
		}

		var ids []string
		for _, a := range pop.All() {
			if !p.Selector.Matches(a) {
				continue
			}
			ec := effect.Context{
				Round:        round,
				Source:       "policy:" + p.Name,
				Participants: []*agent.Agent{a},
				Env:          env,
			}
			if err := p.Effect.Apply(ec); err != nil {
				return applied, fmt.Errorf("intervention %s agent %s: %w", p.Name, a.ID, err)
			}
			ids = append(ids, a.ID)
		}
		if len(ids) > 0 {
			applied = append(applied, Applied{Policy: p.Name, Agents: ids})
			e.log.Debug("policy applied", "round", round, "policy", p.Name, "agents", len(ids))
		}
	}
	return applied, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
