package config

import (
	"math/rand"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/effect"
	"github.com/citykit/govsim/internal/policy"
	"github.com/citykit/govsim/internal/rules"
	"github.com/citykit/govsim/internal/sim"
	"github.com/citykit/govsim/internal/world"
)

// Built holds the runtime objects constructed from a scenario. The RNG is
// the run's single seeded source: population area assignment has already
// consumed from it, and the rule engine takes it over for firing draws.
type Built struct {
	Population *agent.Population
	Env        *world.Environment
	Rules      []rules.Rule
	Policies   []policy.Intervention
	Sim        sim.Config
	RNG        *rand.Rand
}

// Build constructs the population, environment, and catalogs. Effect
// construction errors surface here as configuration errors.
func (s *Scenario) Build() (*Built, error) {
	rng := rand.New(rand.NewSource(s.Run.Seed))

	specs := make(map[agent.Kind]agent.KindSpec, len(s.Population))
	for name, p := range s.Population {
		specs[agent.Kind(name)] = agent.KindSpec{
			Count:           p.Count,
			Attributes:      p.Attributes,
			Bounds:          p.Bounds,
			Labels:          p.Labels,
			AreaWeights:     areaMap(p.AreaWeights),
			AreaAdjustments: areaAdjustments(p.AreaAdjustments),
		}
	}
	pop, err := agent.BuildPopulation(specs, rng)
	if err != nil {
		return nil, &ConfigurationError{Field: "population", Err: err}
	}

	env := world.New(
		areaMap(s.Environment.DigitalInfrastructure),
		areaMap(s.Environment.PhysicalInfrastructure),
		areaMap(s.Environment.ServiceQuality),
		s.Environment.PolicyState,
	)
	if s.Environment.ServiceAvailability != nil {
		env.ServiceAvailability = *s.Environment.ServiceAvailability
	}
	if s.Environment.SystemLoad != nil {
		env.SystemLoad = *s.Environment.SystemLoad
	}

	catalog := make([]rules.Rule, 0, len(s.Rules))
	ruleNames := make(map[string]bool, len(s.Rules))
	for _, rs := range s.Rules {
		if ruleNames[rs.Name] {
			return nil, confErr("rules."+rs.Name, "duplicate rule name")
		}
		ruleNames[rs.Name] = true
		eff, err := effect.Build(rs.Effect.Type, rs.Effect.Params)
		if err != nil {
			return nil, &ConfigurationError{Field: "rules." + rs.Name, Err: err}
		}
		kinds := make([]agent.Kind, len(rs.Participants))
		for i, k := range rs.Participants {
			kinds[i] = agent.Kind(k)
		}
		conds := make([]rules.Condition, len(rs.When))
		for i, c := range rs.When {
			conds[i] = rules.Condition{
				Scope:       c.Scope,
				Participant: c.Participant,
				Field:       c.Field,
				Op:          c.Op,
				Value:       c.Value,
			}
		}
		r := rules.Rule{
			Name:         rs.Name,
			Participants: kinds,
			When:         conds,
			Probability:  rs.Probability,
			SampleLimit:  rs.SampleLimit,
			Effect:       eff,
		}
		if err := r.Validate(); err != nil {
			return nil, &ConfigurationError{Field: "rules." + rs.Name, Err: err}
		}
		catalog = append(catalog, r)
	}

	interventions := make([]policy.Intervention, 0, len(s.Policies))
	policyNames := make(map[string]bool, len(s.Policies))
	for _, ps := range s.Policies {
		if policyNames[ps.Name] {
			return nil, confErr("policies."+ps.Name, "duplicate intervention name")
		}
		policyNames[ps.Name] = true
		eff, err := effect.Build(ps.Effect.Type, ps.Effect.Params)
		if err != nil {
			return nil, &ConfigurationError{Field: "policies." + ps.Name, Err: err}
		}
		kinds := make([]agent.Kind, len(ps.Selector.Kinds))
		for i, k := range ps.Selector.Kinds {
			kinds[i] = agent.Kind(k)
		}
		iv := policy.Intervention{
			Name:   ps.Name,
			Rounds: policy.RoundRange{Start: ps.Rounds.Start, End: ps.Rounds.End},
			Selector: policy.Selector{
				Kinds:          kinds,
				Area:           agent.Area(ps.Selector.Area),
				AttributeBelow: ps.Selector.AttributeBelow,
				AttributeAbove: ps.Selector.AttributeAbove,
			},
			Effect: eff,
		}
		if err := iv.Validate(); err != nil {
			return nil, &ConfigurationError{Field: "policies." + ps.Name, Err: err}
		}
		interventions = append(interventions, iv)
	}

	cadence := make(map[agent.Kind]int, len(s.Run.DecisionCadence))
	for name, k := range s.Run.DecisionCadence {
		cadence[agent.Kind(name)] = k
	}
	windows := make([]policy.RoundRange, len(s.Run.EmergencyWindows))
	for i, w := range s.Run.EmergencyWindows {
		windows[i] = policy.RoundRange{Start: w.Start, End: w.End}
	}

	return &Built{
		Population: pop,
		Env:        env,
		Rules:      catalog,
		Policies:   interventions,
		Sim: sim.Config{
			Rounds:           s.Run.Rounds,
			Concurrency:      s.Run.Concurrency,
			HistoryTail:      s.Run.HistoryTail,
			DecisionCadence:  cadence,
			EmergencyWindows: windows,
			Stop:             s.Run.Stop,
		},
		RNG: rng,
	}, nil
}

func areaMap(m map[string]float64) map[agent.Area]float64 {
	if m == nil {
		return nil
	}
	out := make(map[agent.Area]float64, len(m))
	for k, v := range m {
		out[agent.Area(k)] = v
	}
	return out
}

func areaAdjustments(m map[string]map[string]float64) map[agent.Area]map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[agent.Area]map[string]float64, len(m))
	for k, v := range m {
		out[agent.Area(k)] = v
	}
	return out
}
