package agent

import (
	"fmt"
	"math/rand"
	"sort"
)

// KindSpec describes how to build the agents of one kind: how many, their
// initial attributes, declared bounds, and fixed labels.
type KindSpec struct {
	Count      int
	Attributes map[string]float64
	Bounds     map[string]Bounds
	Labels     map[string]string

	// AreaWeights assigns resident areas probabilistically at build time.
	// Ignored for non-resident kinds. Empty means every agent gets AreaCore.
	AreaWeights map[Area]float64

	// AreaAdjustments shifts initial attributes per assigned area
	// (e.g., lower digital_literacy in rural areas). Results are clamped.
	AreaAdjustments map[Area]map[string]float64
}

// Population holds all agents for a run in a stable order: kinds in
// canonical order, agents within a kind by ascending ID. The order is part
// of the run's reproducible configuration.
type Population struct {
	agents []*Agent
	byKind map[Kind][]*Agent
	byID   map[string]*Agent
}

// BuildPopulation creates the agent population from per-kind specs.
// Area assignment for residents draws from rng, so a fixed seed yields an
// identical population.
func BuildPopulation(specs map[Kind]KindSpec, rng *rand.Rand) (*Population, error) {
	p := &Population{
		byKind: make(map[Kind][]*Agent),
		byID:   make(map[string]*Agent),
	}
	for _, kind := range Kinds {
		spec, ok := specs[kind]
		if !ok {
			continue
		}
		if spec.Count < 0 {
			return nil, fmt.Errorf("population: %s count must be non-negative, got %d", kind, spec.Count)
		}
		for i := 0; i < spec.Count; i++ {
			id := fmt.Sprintf("%s_%d", kind, i)
			a := New(id, kind, spec.Attributes, spec.Bounds)
			for k, v := range spec.Labels {
				if a.Labels == nil {
					a.Labels = make(map[string]string, len(spec.Labels))
				}
				a.Labels[k] = v
			}
			if kind == KindResident {
				area := drawArea(spec.AreaWeights, rng)
				a.Area = area
				if adj, ok := spec.AreaAdjustments[area]; ok {
					for name, d := range adj {
						v := a.Attributes[name] + d
						if b, ok := a.Bounds[name]; ok {
							v = b.Clamp(v)
						}
						a.Attributes[name] = v
					}
				}
			}
			if _, dup := p.byID[a.ID]; dup {
				return nil, fmt.Errorf("population: duplicate agent id %q", a.ID)
			}
			p.agents = append(p.agents, a)
			p.byKind[kind] = append(p.byKind[kind], a)
			p.byID[a.ID] = a
		}
	}
	return p, nil
}

// drawArea picks a resident area from the weight table using rng.
// Areas are iterated in a fixed order so the draw sequence is reproducible.
func drawArea(weights map[Area]float64, rng *rand.Rand) Area {
	if len(weights) == 0 {
		return AreaCore
	}
	areas := make([]Area, 0, len(weights))
	for a := range weights {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i] < areas[j] })

	total := 0.0
	for _, a := range areas {
		total += weights[a]
	}
	if total <= 0 {
		return AreaCore
	}
	r := rng.Float64() * total
	for _, a := range areas {
		r -= weights[a]
		if r < 0 {
			return a
		}
	}
	return areas[len(areas)-1]
}

// All returns every agent in stable order. Callers must not reorder the slice.
func (p *Population) All() []*Agent {
	return p.agents
}

// OfKind returns the agents of one kind in stable order.
func (p *Population) OfKind(kind Kind) []*Agent {
	return p.byKind[kind]
}

// Get returns the agent with the given ID, or nil.
func (p *Population) Get(id string) *Agent {
	return p.byID[id]
}

// Len returns the total number of agents.
func (p *Population) Len() int {
	return len(p.agents)
}

// Snapshots returns deep copies of every agent's state in stable order.
func (p *Population) Snapshots() []Snapshot {
	out := make([]Snapshot, len(p.agents))
	for i, a := range p.agents {
		out[i] = a.Snapshot()
	}
	return out
}
