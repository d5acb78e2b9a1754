// Package rules implements the probabilistic interaction rule engine. Rules
// are evaluated in catalog order each round; candidate groups are enumerated
// in a stable order, predicates are checked against current state, and one
// seeded random draw per eligible group decides whether the rule fires.
// Effects apply immediately, so later rules in the same round observe
// earlier mutations.
package rules

import (
	"fmt"
	"strings"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/effect"
	"github.com/citykit/govsim/internal/world"
)

// Condition scopes.
const (
	// ScopeParticipant tests an attribute of the agent in a participant slot.
	ScopeParticipant = "participant"
	// ScopeEnvironment tests an environment path.
	ScopeEnvironment = "environment"
	// ScopeDecision tests the round decision of the agent in a slot; Field
	// is "action" or "target".
	ScopeDecision = "decision"
)

// Condition is one predicate clause. All clauses of a rule must hold for a
// group to be eligible.
type Condition struct {
	Scope       string `yaml:"scope"`
	Participant int    `yaml:"participant,omitempty"`
	Field       string `yaml:"field"`
	Op          string `yaml:"op"`
	Value       any    `yaml:"value"`
}

// Validate checks the clause shape against the rule's participant count.
func (c Condition) Validate(participants int) error {
	switch c.Scope {
	case ScopeParticipant, ScopeDecision:
		if c.Participant < 0 || c.Participant >= participants {
			return fmt.Errorf("participant index %d out of range [0,%d)", c.Participant, participants)
		}
	case ScopeEnvironment:
	default:
		return fmt.Errorf("unknown condition scope %q", c.Scope)
	}
	if c.Field == "" {
		return fmt.Errorf("condition field is empty")
	}
	switch c.Op {
	case "lt", "le", "gt", "ge", "eq", "ne":
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
	return nil
}

// eval tests the clause against a bound group.
func (c Condition) eval(group []*agent.Agent, env *world.Environment, decisions map[string]decision.Decision) (bool, error) {
	switch c.Scope {
	case ScopeParticipant:
		a := group[c.Participant]
		v, ok := a.Attributes[c.Field]
		if !ok {
			return false, nil
		}
		return compareNumber(v, c.Op, c.Value)

	case ScopeEnvironment:
		if c.Field == "emergency" {
			want, _ := c.Value.(bool)
			got := env.Emergency
			switch c.Op {
			case "eq":
				return got == want, nil
			case "ne":
				return got != want, nil
			default:
				return false, fmt.Errorf("emergency supports eq/ne only, got %q", c.Op)
			}
		}
		v, err := env.Resolve(c.Field)
		if err != nil {
			return false, err
		}
		return compareNumber(v, c.Op, c.Value)

	case ScopeDecision:
		d, ok := decisions[group[c.Participant].ID]
		if !ok {
			return false, nil
		}
		var got string
		switch c.Field {
		case "action":
			got = d.Action
		case "target":
			got = d.Target
		default:
			return false, fmt.Errorf("decision scope supports action or target, got %q", c.Field)
		}
		want := fmt.Sprintf("%v", c.Value)
		switch c.Op {
		case "eq":
			return got == want, nil
		case "ne":
			return got != want, nil
		default:
			return false, fmt.Errorf("decision conditions support eq/ne only, got %q", c.Op)
		}
	}
	return false, fmt.Errorf("unknown condition scope %q", c.Scope)
}

func compareNumber(got float64, op string, value any) (bool, error) {
	var want float64
	switch x := value.(type) {
	case int:
		want = float64(x)
	case int64:
		want = float64(x)
	case float64:
		want = x
	default:
		return false, fmt.Errorf("expected numeric value, got %v (%T)", value, value)
	}
	switch op {
	case "lt":
		return got < want, nil
	case "le":
		return got <= want, nil
	case "gt":
		return got > want, nil
	case "ge":
		return got >= want, nil
	case "eq":
		return got == want, nil
	case "ne":
		return got != want, nil
	}
	return false, fmt.Errorf("unknown op %q", op)
}

// Rule is one interaction rule of the catalog.
type Rule struct {
	// Name identifies the rule in traces and errors. Unique per catalog.
	Name string

	// Participants lists the agent kinds bound to slots, in slot order.
	Participants []agent.Kind

	// When are predicate clauses; all must hold for a group to be eligible.
	When []Condition

	// Probability in [0,1] decides firing per eligible group. Exactly 0
	// never fires and 1 always fires, neither consuming a random draw.
	Probability float64

	// SampleLimit caps eligible groups per round; 0 means unlimited.
	SampleLimit int

	// Effect is applied to each firing group.
	Effect effect.Effect
}

// Validate checks rule shape at configuration time.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if len(r.Participants) == 0 {
		return fmt.Errorf("rule %s: no participant kinds", r.Name)
	}
	for i, k := range r.Participants {
		if !k.Valid() {
			return fmt.Errorf("rule %s: participant %d has unknown kind %q", r.Name, i, k)
		}
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("rule %s: probability %v outside [0,1]", r.Name, r.Probability)
	}
	if r.SampleLimit < 0 {
		return fmt.Errorf("rule %s: negative sample limit", r.Name)
	}
	if r.Effect == nil {
		return fmt.Errorf("rule %s: no effect", r.Name)
	}
	for i, c := range r.When {
		if err := c.Validate(len(r.Participants)); err != nil {
			return fmt.Errorf("rule %s condition %d: %w", r.Name, i, err)
		}
	}
	return nil
}

// String renders a short rule summary for logs.
func (r Rule) String() string {
	kinds := make([]string, len(r.Participants))
	for i, k := range r.Participants {
		kinds[i] = string(k)
	}
	return fmt.Sprintf("%s(%s p=%.2f)", r.Name, strings.Join(kinds, ","), r.Probability)
}
