package effect

import (
	"fmt"
	"sort"
)

// Built-in environment dynamics. These run as environment-only rules or
// policies and keep the shared state moving between interactions: the
// system load relaxes toward a demand level, service availability responds
// to sustained load, and infrastructure decays or grows per round. All
// mutations route through the clamped environment apply paths.

// loadSmoothing nudges system_load toward target by an exponential
// smoothing step: load' = (1-weight)*load + weight*target.
type loadSmoothing struct {
	target float64
	weight float64
}

func (s *loadSmoothing) Apply(ec Context) error {
	cur, err := ec.Env.Resolve("system_load")
	if err != nil {
		return err
	}
	next := (1-s.weight)*cur + s.weight*s.target
	return ec.Env.ApplyEffect(map[string]float64{"system_load": next - cur})
}

func buildLoadSmoothing(params map[string]any) (Effect, error) {
	target, ok, err := floatParam(params, "target")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("load_smoothing effect requires a target parameter")
	}
	if target < 0 || target > 1 {
		return nil, fmt.Errorf("load_smoothing target %v outside [0,1]", target)
	}
	weight := 0.3
	if w, ok, err := floatParam(params, "weight"); err != nil {
		return nil, err
	} else if ok {
		if w <= 0 || w > 1 {
			return nil, fmt.Errorf("load_smoothing weight %v outside (0,1]", w)
		}
		weight = w
	}
	return &loadSmoothing{target: target, weight: weight}, nil
}

// availabilityResponse adjusts service_availability based on the current
// system load: sustained high load degrades it, low load lets it recover.
type availabilityResponse struct {
	high    float64
	low     float64
	degrade float64
	recover float64
}

func (a *availabilityResponse) Apply(ec Context) error {
	load, err := ec.Env.Resolve("system_load")
	if err != nil {
		return err
	}
	var change float64
	switch {
	case load > a.high:
		change = a.degrade
	case load < a.low:
		change = a.recover
	default:
		return nil
	}
	return ec.Env.ApplyEffect(map[string]float64{"service_availability": change})
}

func buildAvailabilityResponse(params map[string]any) (Effect, error) {
	a := &availabilityResponse{high: 0.8, low: 0.3, degrade: -0.05, recover: 0.02}
	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"high", &a.high},
		{"low", &a.low},
		{"degrade", &a.degrade},
		{"recover", &a.recover},
	} {
		if v, ok, err := floatParam(params, p.key); err != nil {
			return nil, err
		} else if ok {
			*p.dst = v
		}
	}
	if a.low > a.high {
		return nil, fmt.Errorf("availability_response low %v above high %v", a.low, a.high)
	}
	return a, nil
}

// infrastructureDrift scales and shifts an infrastructure layer across all
// its areas each time it fires. A scale below 1 models decay, an add above
// 0 models investment. With emergencyOnly set it is a no-op outside
// emergency rounds, matching degradation that only bites during outages.
type infrastructureDrift struct {
	field         string
	scale         float64
	add           float64
	emergencyOnly bool
}

func (d *infrastructureDrift) Apply(ec Context) error {
	if d.emergencyOnly {
		v, err := ec.Env.Resolve("emergency")
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}

	areas := infrastructureAreas(ec, d.field)
	if d.scale != 1 {
		factors := make(map[string]float64, len(areas))
		for _, area := range areas {
			factors[d.field+"."+area] = d.scale
		}
		if err := ec.Env.ApplyScale(factors); err != nil {
			return err
		}
	}
	if d.add != 0 {
		deltas := make(map[string]float64, len(areas))
		for _, area := range areas {
			deltas[d.field+"."+area] = d.add
		}
		if err := ec.Env.ApplyEffect(deltas); err != nil {
			return err
		}
	}
	return nil
}

func infrastructureAreas(ec Context, field string) []string {
	snap := ec.Env.Snapshot()
	m := snap.DigitalInfrastructure
	if field == "physical_infrastructure" {
		m = snap.PhysicalInfrastructure
	}
	areas := make([]string, 0, len(m))
	for area := range m {
		areas = append(areas, string(area))
	}
	sort.Strings(areas)
	return areas
}

func buildInfrastructureDrift(params map[string]any) (Effect, error) {
	d := &infrastructureDrift{field: "digital_infrastructure", scale: 1}
	if f, ok := params["field"].(string); ok {
		if f != "digital_infrastructure" && f != "physical_infrastructure" {
			return nil, fmt.Errorf("infrastructure_drift field %q is not an infrastructure layer", f)
		}
		d.field = f
	}
	if v, ok, err := floatParam(params, "scale"); err != nil {
		return nil, err
	} else if ok {
		if v <= 0 {
			return nil, fmt.Errorf("infrastructure_drift scale %v must be positive", v)
		}
		d.scale = v
	}
	if v, ok, err := floatParam(params, "add"); err != nil {
		return nil, err
	} else if ok {
		d.add = v
	}
	if b, ok := params["emergency_only"].(bool); ok {
		d.emergencyOnly = b
	}
	if d.scale == 1 && d.add == 0 {
		return nil, fmt.Errorf("infrastructure_drift needs a scale or add parameter")
	}
	return d, nil
}

// floatParam reads a numeric parameter; decoded YAML numbers arrive as
// int or float64 depending on their spelling.
func floatParam(params map[string]any, key string) (float64, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	}
	return 0, false, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
}
