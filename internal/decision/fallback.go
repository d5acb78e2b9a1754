package decision

import (
	"context"

	"github.com/citykit/govsim/internal/agent"
)

// candidateActions lists the plausible actions per agent kind. The first
// entry is the kind's deterministic default. Shared with the local backend,
// which scores the same candidates by embedding similarity.
var candidateActions = map[agent.Kind][]Decision{
	agent.KindGovernment: {
		{Action: "service_provision", Target: "residents", Reason: "maintain service coverage"},
		{Action: "policy_adjustment", Target: "enterprises", Reason: "steer market behavior"},
		{Action: "regulation", Target: "enterprises", Reason: "enforce compliance"},
		{Action: "data_sharing", Target: "enterprises", Reason: "open public data"},
	},
	agent.KindEnterprise: {
		{Action: "service_development", Target: "residents", Reason: "grow service offering"},
		{Action: "market_expansion", Target: "residents", Reason: "reach new users"},
		{Action: "innovation", Target: "none", Reason: "invest in capability"},
		{Action: "project_bidding", Target: "government", Reason: "compete for contracts"},
		{Action: "data_request", Target: "government", Reason: "access public data"},
	},
	agent.KindResident: {
		{Action: "use_service", Target: "enterprises", Reason: "meet daily needs"},
		{Action: "provide_feedback", Target: "government", Reason: "report service quality"},
		{Action: "seek_information", Target: "none", Reason: "improve digital literacy"},
	},
}

// FallbackCapability is a deterministic rule-based backend used when no
// model provider is configured, and as the substituted behavior model in
// tests. For a given agent state it always returns the same decision, so
// runs using it are fully reproducible.
type FallbackCapability struct{}

// NewFallbackCapability creates the rule-based capability.
func NewFallbackCapability() *FallbackCapability {
	return &FallbackCapability{}
}

// Decide picks a kind-appropriate action from simple state thresholds.
// Unknown kinds get the no-op decision.
func (f *FallbackCapability) Decide(_ context.Context, req Request) (Decision, error) {
	candidates := candidateActions[req.Agent.Kind]
	if len(candidates) == 0 {
		return NoOp(), nil
	}

	switch req.Agent.Kind {
	case agent.KindGovernment:
		// Under load or emergency, fall back to provisioning services.
		if req.Environment.Emergency || req.Environment.SystemLoad > 0.8 {
			return candidates[0], nil
		}
		if req.Environment.PolicyState["regulation_intensity"] > 0.7 {
			return pick(candidates, "regulation"), nil
		}
		return candidates[0], nil

	case agent.KindEnterprise:
		if req.Agent.Attributes["innovation_level"] < 40 {
			return pick(candidates, "innovation"), nil
		}
		if req.Agent.Attributes["market_share"] < 0.1 {
			return pick(candidates, "market_expansion"), nil
		}
		return candidates[0], nil

	case agent.KindResident:
		if req.Agent.Attributes["satisfaction"] < 0.4 {
			return pick(candidates, "provide_feedback"), nil
		}
		if req.Agent.Attributes["digital_literacy"] < 0.3 {
			return pick(candidates, "seek_information"), nil
		}
		return candidates[0], nil
	}
	return NoOp(), nil
}

func pick(candidates []Decision, action string) Decision {
	for _, c := range candidates {
		if c.Action == action {
			return c
		}
	}
	return candidates[0]
}

// Available always reports true; the fallback needs no external resources.
func (f *FallbackCapability) Available() bool {
	return true
}
