package effect

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChangeOp distinguishes how a Change combines with the current value.
type ChangeOp int

const (
	// OpAdd adds the value to the current one.
	OpAdd ChangeOp = iota
	// OpMul multiplies the current value.
	OpMul
	// OpSet replaces the current value.
	OpSet
)

// Change is one parsed attribute or environment mutation.
type Change struct {
	Op    ChangeOp
	Value float64
}

// ParseChange parses a config change value. Bare numbers add. Strings with
// a "+" or "-" prefix add, "*" multiplies, "=" sets the absolute value.
//
//	0.05   -> add 0.05
//	"+20"  -> add 20
//	"-0.2" -> add -0.2
//	"*1.1" -> multiply by 1.1
//	"=50"  -> set to 50
func ParseChange(v any) (Change, error) {
	switch x := v.(type) {
	case int:
		return Change{Op: OpAdd, Value: float64(x)}, nil
	case int64:
		return Change{Op: OpAdd, Value: float64(x)}, nil
	case float64:
		return Change{Op: OpAdd, Value: x}, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return Change{}, fmt.Errorf("empty change string")
		}
		op := OpAdd
		switch s[0] {
		case '*':
			op = OpMul
			s = s[1:]
		case '=':
			op = OpSet
			s = s[1:]
		case '+':
			s = s[1:]
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Change{}, fmt.Errorf("parsing change %q: %w", x, err)
		}
		return Change{Op: op, Value: f}, nil
	default:
		return Change{}, fmt.Errorf("unsupported change value %v (%T)", v, v)
	}
}

// Apply resolves the change against a current value.
func (c Change) Apply(current float64) float64 {
	switch c.Op {
	case OpMul:
		return current * c.Value
	case OpSet:
		return c.Value
	default:
		return current + c.Value
	}
}

// DeltaEffect applies parsed changes to participants by position and to the
// environment by path. All mutations route through the clamped apply paths
// so agent history and bounds stay consistent.
type DeltaEffect struct {
	// Participants holds per-slot attribute changes; index i targets the
	// agent bound to participant slot i. A nil entry skips the slot.
	Participants []map[string]Change

	// Environment maps environment paths to changes.
	Environment map[string]Change
}

// Apply mutates participants then the environment. Participant slots without
// a bound agent are an error: the rule matched fewer agents than the effect
// expects.
func (d *DeltaEffect) Apply(ec Context) error {
	for i, changes := range d.Participants {
		if len(changes) == 0 {
			continue
		}
		if i >= len(ec.Participants) {
			return fmt.Errorf("effect targets participant %d but only %d bound", i, len(ec.Participants))
		}
		a := ec.Participants[i]
		delta := make(map[string]float64, len(changes))
		for name, ch := range changes {
			cur := a.Attributes[name]
			delta[name] = ch.Apply(cur) - cur
		}
		a.ApplyEffect(ec.Round, ec.Source, delta)
	}

	if len(d.Environment) > 0 {
		delta := make(map[string]float64, len(d.Environment))
		for path, ch := range d.Environment {
			cur, err := ec.Env.Resolve(path)
			if err != nil {
				return fmt.Errorf("resolving %q: %w", path, err)
			}
			delta[path] = ch.Apply(cur) - cur
		}
		if err := ec.Env.ApplyEffect(delta); err != nil {
			return err
		}
	}
	return nil
}

// buildDelta parses the "delta" effect params:
//
//	participants:
//	  - trust_in_government: "+0.05"
//	  - reputation: -2
//	environment:
//	  system_load: "*1.1"
func buildDelta(params map[string]any) (Effect, error) {
	d := &DeltaEffect{Environment: map[string]Change{}}

	if raw, ok := params["participants"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("participants must be a list, got %T", raw)
		}
		for i, entry := range list {
			if entry == nil {
				d.Participants = append(d.Participants, nil)
				continue
			}
			m, err := toStringMap(entry)
			if err != nil {
				return nil, fmt.Errorf("participant %d: %w", i, err)
			}
			changes := make(map[string]Change, len(m))
			for name, v := range m {
				ch, err := ParseChange(v)
				if err != nil {
					return nil, fmt.Errorf("participant %d attribute %q: %w", i, name, err)
				}
				changes[name] = ch
			}
			d.Participants = append(d.Participants, changes)
		}
	}

	if raw, ok := params["environment"]; ok {
		m, err := toStringMap(raw)
		if err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
		for path, v := range m {
			ch, err := ParseChange(v)
			if err != nil {
				return nil, fmt.Errorf("environment path %q: %w", path, err)
			}
			d.Environment[path] = ch
		}
	}

	if len(d.Participants) == 0 && len(d.Environment) == 0 {
		return nil, fmt.Errorf("delta effect has no participant or environment changes")
	}
	return d, nil
}

// toStringMap normalizes yaml decoding variants into map[string]any.
func toStringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a map, got %T", v)
	}
}

// sortedKeys is used wherever map iteration order must be stable.
func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
