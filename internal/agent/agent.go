// Package agent defines the participant state model for the simulation:
// typed agents with bounded numeric attributes and an append-only history
// of decisions and applied effects.
package agent

import (
	"fmt"
	"sort"
)

// Kind identifies the participant category. It is fixed for an agent's lifetime.
type Kind string

const (
	KindGovernment Kind = "government"
	KindEnterprise Kind = "enterprise"
	KindResident   Kind = "resident"
)

// Kinds lists all known agent kinds in canonical order.
var Kinds = []Kind{KindGovernment, KindEnterprise, KindResident}

// Valid reports whether k is a known agent kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGovernment, KindEnterprise, KindResident:
		return true
	}
	return false
}

// Area identifies a resident's location category. Non-resident agents have
// an empty area.
type Area string

const (
	AreaCore   Area = "core_area"
	AreaFringe Area = "urban_rural_fringe"
	AreaRural  Area = "rural"
)

// Areas returns all areas in canonical order.
func Areas() []Area {
	return []Area{AreaCore, AreaFringe, AreaRural}
}

// Bounds declares the inclusive range an attribute value may take.
// Mutations outside the range are clamped, never wrapped.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp returns v limited to the bounds.
func (b Bounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// HistoryEntry records one decision or effect applied to an agent.
// History is append-only; entries are never mutated after recording.
type HistoryEntry struct {
	Round  int    `json:"round"`
	Type   string `json:"type"` // "decision" or "effect"
	Action string `json:"action,omitempty"`
	Source string `json:"source,omitempty"` // rule or policy name for effects

	// Delta holds the attribute changes for effect entries.
	Delta map[string]float64 `json:"delta,omitempty"`
}

// Agent is one simulation participant. Attributes are mutated only through
// ApplyEffect; Kind and ID never change after construction.
type Agent struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Area Area   `json:"area,omitempty"`

	// Attributes maps attribute names to current numeric values.
	// Keys are stable within a kind for the run's duration.
	Attributes map[string]float64 `json:"attributes"`

	// Labels holds fixed categorical attributes (e.g., governance_preference).
	Labels map[string]string `json:"labels,omitempty"`

	// Bounds declares the valid range per attribute.
	Bounds map[string]Bounds `json:"-"`

	History []HistoryEntry `json:"-"`
}

// New creates an agent with copies of the provided attribute and bounds maps.
func New(id string, kind Kind, attrs map[string]float64, bounds map[string]Bounds) *Agent {
	a := &Agent{
		ID:         id,
		Kind:       kind,
		Attributes: make(map[string]float64, len(attrs)),
		Bounds:     make(map[string]Bounds, len(bounds)),
	}
	for k, v := range attrs {
		a.Attributes[k] = v
	}
	for k, b := range bounds {
		a.Bounds[k] = b
	}
	// Initial values respect declared bounds too.
	for k, v := range a.Attributes {
		if b, ok := a.Bounds[k]; ok {
			a.Attributes[k] = b.Clamp(v)
		}
	}
	return a
}

// ApplyEffect merges delta into the agent's attributes, clamping each result
// to its declared bounds, and appends an effect entry to the history.
// Attributes without declared bounds are left unclamped. Unknown attribute
// names are created; schema validation happens at configuration time.
func (a *Agent) ApplyEffect(round int, source string, delta map[string]float64) {
	if len(delta) == 0 {
		return
	}
	applied := make(map[string]float64, len(delta))
	for name, d := range delta {
		v := a.Attributes[name] + d
		if b, ok := a.Bounds[name]; ok {
			v = b.Clamp(v)
		}
		a.Attributes[name] = v
		applied[name] = d
	}
	a.History = append(a.History, HistoryEntry{
		Round:  round,
		Type:   "effect",
		Source: source,
		Delta:  applied,
	})
}

// RecordDecision appends a decision entry to the agent's history.
func (a *Agent) RecordDecision(round int, action string) {
	a.History = append(a.History, HistoryEntry{
		Round:  round,
		Type:   "decision",
		Action: action,
	})
}

// HistoryTail returns up to n most recent history entries, oldest first.
// The returned slice aliases the history; callers must not mutate entries.
func (a *Agent) HistoryTail(n int) []HistoryEntry {
	if n <= 0 || len(a.History) == 0 {
		return nil
	}
	if len(a.History) <= n {
		return a.History
	}
	return a.History[len(a.History)-n:]
}

// Snapshot is an immutable copy of an agent's externally visible state,
// used for decision requests and trace recording.
type Snapshot struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	Area       Area               `json:"area,omitempty"`
	Attributes map[string]float64 `json:"attributes"`
	Labels     map[string]string  `json:"labels,omitempty"`
}

// Snapshot returns a deep copy of the agent's current state.
func (a *Agent) Snapshot() Snapshot {
	s := Snapshot{
		ID:         a.ID,
		Kind:       a.Kind,
		Area:       a.Area,
		Attributes: make(map[string]float64, len(a.Attributes)),
	}
	for k, v := range a.Attributes {
		s.Attributes[k] = v
	}
	if len(a.Labels) > 0 {
		s.Labels = make(map[string]string, len(a.Labels))
		for k, v := range a.Labels {
			s.Labels[k] = v
		}
	}
	return s
}

// SortedAttributeNames returns the agent's attribute names in lexical order.
// Used wherever deterministic iteration over attributes is required.
func (a *Agent) SortedAttributeNames() []string {
	names := make([]string, 0, len(a.Attributes))
	for k := range a.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s(%s)", a.ID, a.Kind)
}
