package effect

import (
	"fmt"
	"sync"

	lua "github.com/Shopify/go-lua"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/utils"
)

// LuaEffect runs a user-supplied Lua script to compute state deltas. The
// script must define a global function
//
//	function apply(participants, env)
//	  ...
//	  return participant_deltas, env_deltas
//	end
//
// where participants is an array of {id, kind, area, attributes} tables and
// env mirrors the environment snapshot. participant_deltas is an array
// (positional, matching participants) of attribute->number tables and
// env_deltas maps environment paths to numbers. Either return value may be
// nil. Deltas are additive and pass through the same clamped apply paths as
// declarative effects, so a script cannot bypass bounds.
type LuaEffect struct {
	mu sync.Mutex
	l  *lua.State
}

// NewLuaEffect compiles the script and verifies it defines apply().
func NewLuaEffect(script string) (*LuaEffect, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.DoString(l, script); err != nil {
		return nil, fmt.Errorf("loading lua script: %w", err)
	}
	l.Global("apply")
	if !l.IsFunction(-1) {
		return nil, fmt.Errorf("lua script does not define function apply(participants, env)")
	}
	l.Pop(1)
	return &LuaEffect{l: l}, nil
}

// Apply pushes the firing context into the Lua state, calls apply(), and
// applies the returned deltas.
func (e *LuaEffect) Apply(ec Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.l
	l.SetTop(0)

	l.Global("apply")
	e.pushParticipants(ec.Participants)
	e.pushEnv(ec)

	if err := l.ProtectedCall(2, 2, 0); err != nil {
		l.SetTop(0)
		return fmt.Errorf("lua apply(): %w", err)
	}

	// Stack: [participant_deltas, env_deltas]
	pDeltas, err := e.readParticipantDeltas(-2, len(ec.Participants))
	if err != nil {
		l.SetTop(0)
		return err
	}
	envDelta, err := e.readNumberTable(-1)
	if err != nil {
		l.SetTop(0)
		return err
	}
	l.SetTop(0)

	for i, delta := range pDeltas {
		if len(delta) == 0 {
			continue
		}
		ec.Participants[i].ApplyEffect(ec.Round, ec.Source, delta)
	}
	if len(envDelta) > 0 {
		if err := ec.Env.ApplyEffect(envDelta); err != nil {
			return err
		}
	}
	return nil
}

func (e *LuaEffect) pushParticipants(participants []*agent.Agent) {
	l := e.l
	l.NewTable()
	for i, a := range participants {
		l.PushInteger(i + 1)

		l.NewTable()
		l.PushString(a.ID)
		l.SetField(-2, "id")
		l.PushString(string(a.Kind))
		l.SetField(-2, "kind")
		l.PushString(string(a.Area))
		l.SetField(-2, "area")

		l.NewTable()
		for _, name := range a.SortedAttributeNames() {
			l.PushNumber(a.Attributes[name])
			l.SetField(-2, name)
		}
		l.SetField(-2, "attributes")

		l.SetTable(-3)
	}
}

func (e *LuaEffect) pushEnv(ec Context) {
	l := e.l
	snap := ec.Env.Snapshot()

	l.NewTable()
	l.PushInteger(snap.Round)
	l.SetField(-2, "round")
	l.PushNumber(snap.SystemLoad)
	l.SetField(-2, "system_load")
	l.PushNumber(snap.ServiceAvailability)
	l.SetField(-2, "service_availability")
	l.PushBoolean(snap.Emergency)
	l.SetField(-2, "emergency")

	pushAreaTable(l, snap.DigitalInfrastructure)
	l.SetField(-2, "digital_infrastructure")
	pushAreaTable(l, snap.PhysicalInfrastructure)
	l.SetField(-2, "physical_infrastructure")
	pushAreaTable(l, snap.ServiceQuality)
	l.SetField(-2, "service_quality")

	l.NewTable()
	for _, name := range sortedKeys(snap.PolicyState) {
		l.PushNumber(snap.PolicyState[name])
		l.SetField(-2, name)
	}
	l.SetField(-2, "policy_state")
}

func pushAreaTable(l *lua.State, m map[agent.Area]float64) {
	l.NewTable()
	for _, area := range agent.Areas() {
		if v, ok := m[area]; ok {
			l.PushNumber(v)
			l.SetField(-2, string(area))
		}
	}
}

// readParticipantDeltas reads the positional deltas table at index. A nil
// return value yields no deltas.
func (e *LuaEffect) readParticipantDeltas(index, n int) ([]map[string]float64, error) {
	l := e.l
	deltas := make([]map[string]float64, n)
	if l.IsNil(index) {
		return deltas, nil
	}
	if !l.IsTable(index) {
		return nil, fmt.Errorf("lua apply(): first return value must be a table or nil")
	}

	abs := l.AbsIndex(index)
	l.PushNil()
	for l.Next(abs) {
		// Stack: [... key value]
		if l.TypeOf(-2) != lua.TypeNumber {
			l.Pop(2)
			return nil, fmt.Errorf("lua apply(): participant delta keys must be integers")
		}
		pos, ok := l.ToInteger(-2)
		if !ok {
			l.Pop(2)
			return nil, fmt.Errorf("lua apply(): participant delta keys must be integers")
		}
		if pos < 1 || pos > n {
			l.Pop(2)
			return nil, fmt.Errorf("lua apply(): participant index %d out of range [1,%d]", pos, n)
		}
		delta, err := e.readNumberTable(-1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		deltas[pos-1] = delta
		l.Pop(1)
	}
	return deltas, nil
}

// readNumberTable reads a string->number table at index. Nil yields an
// empty map.
func (e *LuaEffect) readNumberTable(index int) (map[string]float64, error) {
	l := e.l
	out := map[string]float64{}
	if l.IsNil(index) {
		return out, nil
	}
	if !l.IsTable(index) {
		return nil, fmt.Errorf("lua apply(): expected a table of numbers or nil")
	}

	abs := l.AbsIndex(index)
	l.PushNil()
	for l.Next(abs) {
		// Converting a non-string key in place would corrupt the Next
		// traversal, so type-check before reading it.
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(2)
			return nil, fmt.Errorf("lua apply(): delta keys must be strings")
		}
		key, _ := l.ToString(-2)
		val, ok := l.ToNumber(-1)
		if !ok {
			l.Pop(2)
			return nil, fmt.Errorf("lua apply(): delta %q is not a number", key)
		}
		out[key] = val
		l.Pop(1)
	}
	return out, nil
}

// buildLua parses the "lua" effect params, which carry the script inline:
//
//	script: |
//	  function apply(participants, env)
//	    return {[1] = {satisfaction = 0.05}}, {system_load = -0.01}
//	  end
func buildLua(params map[string]any) (Effect, error) {
	script := utils.GetString(params, "script", "")
	if script == "" {
		return nil, fmt.Errorf("lua effect requires a non-empty script parameter")
	}
	return NewLuaEffect(script)
}
