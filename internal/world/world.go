// Package world holds the shared environment state visible to all agents:
// per-area infrastructure levels, service quality, system load, and policy
// context. Environment fields are mutated only through effect application,
// never directly by agents.
package world

import (
	"fmt"
	"sort"
	"strings"

	"github.com/citykit/govsim/internal/agent"
)

// Field bounds. Infrastructure levels run 0-100; ratios run 0-1.
var (
	boundsLevel = agent.Bounds{Min: 0, Max: 100}
	boundsRatio = agent.Bounds{Min: 0, Max: 1}
)

// Environment is the shared city state. All mutation goes through
// ApplyEffect / SetEmergency under the loop's single-writer sequencing.
type Environment struct {
	// DigitalInfrastructure and PhysicalInfrastructure are per-area levels
	// in [0,100].
	DigitalInfrastructure  map[agent.Area]float64
	PhysicalInfrastructure map[agent.Area]float64

	// ServiceQuality is the per-area quality ratio in [0,1].
	ServiceQuality map[agent.Area]float64

	// ServiceAvailability and SystemLoad are city-wide ratios in [0,1].
	ServiceAvailability float64
	SystemLoad          float64

	// Emergency marks a degraded-operations episode.
	Emergency bool

	// PolicyState holds named scalar policy context values (e.g.,
	// regulation_intensity). Bounds are [0,1] unless the name ends in
	// "_level", which uses [0,100].
	PolicyState map[string]float64

	// Round is the current round index, monotonically increasing. Advanced
	// only by the simulation loop.
	Round int
}

// New creates an environment with copies of the provided maps and sensible
// defaults for dynamic fields.
func New(digital, physical, quality map[agent.Area]float64, policyState map[string]float64) *Environment {
	e := &Environment{
		DigitalInfrastructure:  make(map[agent.Area]float64, len(digital)),
		PhysicalInfrastructure: make(map[agent.Area]float64, len(physical)),
		ServiceQuality:         make(map[agent.Area]float64, len(quality)),
		PolicyState:            make(map[string]float64, len(policyState)),
		ServiceAvailability:    1.0,
		SystemLoad:             0.5,
	}
	for k, v := range digital {
		e.DigitalInfrastructure[k] = boundsLevel.Clamp(v)
	}
	for k, v := range physical {
		e.PhysicalInfrastructure[k] = boundsLevel.Clamp(v)
	}
	for k, v := range quality {
		e.ServiceQuality[k] = boundsRatio.Clamp(v)
	}
	for k, v := range policyState {
		e.PolicyState[k] = policyBounds(k).Clamp(v)
	}
	return e
}

func policyBounds(name string) agent.Bounds {
	if strings.HasSuffix(name, "_level") {
		return boundsLevel
	}
	return boundsRatio
}

// Resolve returns the current value of a field addressed by path, e.g.
// "system_load", "digital_infrastructure.core_area", "policy_state.openness".
func (e *Environment) Resolve(path string) (float64, error) {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "service_availability":
		return e.ServiceAvailability, nil
	case "system_load":
		return e.SystemLoad, nil
	case "emergency":
		if e.Emergency {
			return 1, nil
		}
		return 0, nil
	case "digital_infrastructure":
		return lookupArea(e.DigitalInfrastructure, rest, path)
	case "physical_infrastructure":
		return lookupArea(e.PhysicalInfrastructure, rest, path)
	case "service_quality":
		return lookupArea(e.ServiceQuality, rest, path)
	case "policy_state":
		if rest == "" {
			return 0, fmt.Errorf("environment: path %q missing policy name", path)
		}
		return e.PolicyState[rest], nil
	}
	return 0, fmt.Errorf("environment: unknown field %q", path)
}

func lookupArea(m map[agent.Area]float64, area, path string) (float64, error) {
	if area == "" {
		return 0, fmt.Errorf("environment: path %q missing area", path)
	}
	v, ok := m[agent.Area(area)]
	if !ok {
		return 0, fmt.Errorf("environment: unknown area in path %q", path)
	}
	return v, nil
}

// ApplyEffect merges additive deltas into environment fields addressed by
// path, clamping each result to the field's bounds. Unknown paths are an
// error; catalogs are validated against the environment at load time.
func (e *Environment) ApplyEffect(delta map[string]float64) error {
	// Deterministic application order.
	paths := make([]string, 0, len(delta))
	for p := range delta {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := e.applyOne(path, delta[path], false); err != nil {
			return err
		}
	}
	return nil
}

// ApplyScale multiplies environment fields by per-path factors, clamping the
// results. Used by emergency-style effects that degrade proportionally.
func (e *Environment) ApplyScale(factors map[string]float64) error {
	paths := make([]string, 0, len(factors))
	for p := range factors {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := e.applyOne(path, factors[path], true); err != nil {
			return err
		}
	}
	return nil
}

func (e *Environment) applyOne(path string, x float64, scale bool) error {
	upd := func(cur float64, b agent.Bounds) float64 {
		if scale {
			return b.Clamp(cur * x)
		}
		return b.Clamp(cur + x)
	}

	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "service_availability":
		e.ServiceAvailability = upd(e.ServiceAvailability, boundsRatio)
		return nil
	case "system_load":
		e.SystemLoad = upd(e.SystemLoad, boundsRatio)
		return nil
	case "emergency":
		// Any positive delta raises the flag, zero or negative clears it.
		e.Emergency = x > 0
		return nil
	case "digital_infrastructure":
		return updateArea(e.DigitalInfrastructure, rest, path, boundsLevel, upd)
	case "physical_infrastructure":
		return updateArea(e.PhysicalInfrastructure, rest, path, boundsLevel, upd)
	case "service_quality":
		return updateArea(e.ServiceQuality, rest, path, boundsRatio, upd)
	case "policy_state":
		if rest == "" {
			return fmt.Errorf("environment: path %q missing policy name", path)
		}
		e.PolicyState[rest] = upd(e.PolicyState[rest], policyBounds(rest))
		return nil
	}
	return fmt.Errorf("environment: unknown field %q", path)
}

func updateArea(m map[agent.Area]float64, area, path string, b agent.Bounds, upd func(float64, agent.Bounds) float64) error {
	if area == "" {
		return fmt.Errorf("environment: path %q missing area", path)
	}
	key := agent.Area(area)
	if _, ok := m[key]; !ok {
		return fmt.Errorf("environment: unknown area in path %q", path)
	}
	m[key] = upd(m[key], b)
	return nil
}

// ValidatePath reports whether path addresses a known environment field.
// The emergency flag counts as addressable for predicates and effects.
func (e *Environment) ValidatePath(path string) error {
	_, err := e.Resolve(path)
	return err
}

// InfrastructureLevel returns the combined infrastructure level for an area,
// weighting digital infrastructure more heavily.
func (e *Environment) InfrastructureLevel(area agent.Area) float64 {
	return 0.6*e.DigitalInfrastructure[area] + 0.4*e.PhysicalInfrastructure[area]
}

// Snapshot is an immutable copy of the environment for decision requests
// and trace recording.
type Snapshot struct {
	DigitalInfrastructure  map[agent.Area]float64 `json:"digital_infrastructure"`
	PhysicalInfrastructure map[agent.Area]float64 `json:"physical_infrastructure"`
	ServiceQuality         map[agent.Area]float64 `json:"service_quality"`
	ServiceAvailability    float64                `json:"service_availability"`
	SystemLoad             float64                `json:"system_load"`
	Emergency              bool                   `json:"emergency"`
	PolicyState            map[string]float64     `json:"policy_state,omitempty"`
	Round                  int                    `json:"round"`
}

// Snapshot returns a deep copy of the current environment state.
func (e *Environment) Snapshot() Snapshot {
	s := Snapshot{
		DigitalInfrastructure:  copyAreaMap(e.DigitalInfrastructure),
		PhysicalInfrastructure: copyAreaMap(e.PhysicalInfrastructure),
		ServiceQuality:         copyAreaMap(e.ServiceQuality),
		ServiceAvailability:    e.ServiceAvailability,
		SystemLoad:             e.SystemLoad,
		Emergency:              e.Emergency,
		Round:                  e.Round,
	}
	if len(e.PolicyState) > 0 {
		s.PolicyState = make(map[string]float64, len(e.PolicyState))
		for k, v := range e.PolicyState {
			s.PolicyState[k] = v
		}
	}
	return s
}

// FromSnapshot rebuilds an Environment from a snapshot, deep-copying so the
// snapshot stays immutable. Used to resolve paths against recorded state.
func FromSnapshot(s Snapshot) *Environment {
	e := &Environment{
		DigitalInfrastructure:  copyAreaMap(s.DigitalInfrastructure),
		PhysicalInfrastructure: copyAreaMap(s.PhysicalInfrastructure),
		ServiceQuality:         copyAreaMap(s.ServiceQuality),
		ServiceAvailability:    s.ServiceAvailability,
		SystemLoad:             s.SystemLoad,
		Emergency:              s.Emergency,
		Round:                  s.Round,
	}
	if len(s.PolicyState) > 0 {
		e.PolicyState = make(map[string]float64, len(s.PolicyState))
		for k, v := range s.PolicyState {
			e.PolicyState[k] = v
		}
	}
	return e
}

func copyAreaMap(m map[agent.Area]float64) map[agent.Area]float64 {
	out := make(map[agent.Area]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
