// Package effect defines state mutations applied when interaction rules
// fire or policy interventions match. Effects are built from declarative
// config through a registry and applied immediately and sequentially, so a
// later rule in the same round observes the mutations of an earlier one.
package effect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/world"
)

// Context carries everything an effect may mutate for one firing. The
// participant slice is positional: index i is the agent bound to the rule's
// i-th participant slot.
type Context struct {
	Round        int
	Source       string
	Participants []*agent.Agent
	Env          *world.Environment
}

// Effect mutates agent and environment state for one firing. Apply errors
// are fatal to the round: the engine aborts rather than continue from a
// half-applied state.
type Effect interface {
	Apply(ec Context) error
}

// Builder constructs an Effect from its config parameters.
type Builder func(params map[string]any) (Effect, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register installs a named effect builder. Later registrations with the
// same name replace earlier ones.
func Register(name string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = b
}

// Build constructs the effect named by typ from params. Unknown types are
// configuration errors and list the registered types.
func Build(typ string, params map[string]any) (Effect, error) {
	registryMu.RLock()
	b, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown effect type %q (registered: %v)", typ, Registered())
	}
	eff, err := b(params)
	if err != nil {
		return nil, fmt.Errorf("building %s effect: %w", typ, err)
	}
	return eff, nil
}

// Registered returns the registered effect type names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function to the Effect interface.
type Func func(ec Context) error

func (f Func) Apply(ec Context) error { return f(ec) }

func init() {
	Register("delta", buildDelta)
	Register("lua", buildLua)
	Register("load_smoothing", buildLoadSmoothing)
	Register("availability_response", buildAvailabilityResponse)
	Register("infrastructure_drift", buildInfrastructureDrift)
}
