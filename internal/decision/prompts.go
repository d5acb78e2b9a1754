package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DecisionPrompt generates the structured prompt sent to model backends.
// It describes the agent's role, current state, recent history, and the
// environment snapshot, and constrains the response to a JSON object.
func DecisionPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are the %s agent %q in a city digital-governance simulation.\n\n", req.Agent.Kind, req.Agent.ID)

	sb.WriteString("## Your current state\n")
	for _, name := range sortedKeys(req.Agent.Attributes) {
		fmt.Fprintf(&sb, "%s: %.3f\n", name, req.Agent.Attributes[name])
	}
	for _, name := range sortedStringKeys(req.Agent.Labels) {
		fmt.Fprintf(&sb, "%s: %s\n", name, req.Agent.Labels[name])
	}
	if req.Agent.Area != "" {
		fmt.Fprintf(&sb, "area: %s\n", req.Agent.Area)
	}

	sb.WriteString("\n## Environment\n")
	fmt.Fprintf(&sb, "round: %d\n", req.Environment.Round)
	fmt.Fprintf(&sb, "service_availability: %.2f\n", req.Environment.ServiceAvailability)
	fmt.Fprintf(&sb, "system_load: %.2f\n", req.Environment.SystemLoad)
	fmt.Fprintf(&sb, "emergency: %t\n", req.Environment.Emergency)
	if req.Agent.Area != "" {
		fmt.Fprintf(&sb, "digital_infrastructure: %.1f\n", req.Environment.DigitalInfrastructure[req.Agent.Area])
		fmt.Fprintf(&sb, "service_quality: %.2f\n", req.Environment.ServiceQuality[req.Agent.Area])
	}

	if len(req.History) > 0 {
		sb.WriteString("\n## Recent history\n")
		for _, h := range req.History {
			switch h.Type {
			case "decision":
				fmt.Fprintf(&sb, "round %d: decided %s\n", h.Round, h.Action)
			case "effect":
				fmt.Fprintf(&sb, "round %d: affected by %s\n", h.Round, h.Source)
			}
		}
	}

	fmt.Fprintf(&sb, `
## Task
Choose your next action. Valid actions for your role: %s.

## Response Format
Respond with ONLY a JSON object (no markdown code blocks, no additional text):
{
  "action": "<one of the valid actions>",
  "target": "<government|enterprises|residents|none>",
  "reason": "<brief rationale>"
}`, strings.Join(actionNames(req), ", "))

	return sb.String()
}

// actionNames lists the valid action names for the requesting agent's kind.
func actionNames(req Request) []string {
	candidates := candidateActions[req.Agent.Kind]
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Action
	}
	return names
}

// ParseDecisionResponse parses a model response into a Decision. It handles
// both raw JSON and JSON wrapped in markdown code blocks; anything beyond
// that minimal extraction is the backend's problem, not the engine's.
func ParseDecisionResponse(response string) (Decision, error) {
	jsonStr := ExtractJSON(response)
	if jsonStr == "" {
		return Decision{}, fmt.Errorf("no JSON found in response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return Decision{}, fmt.Errorf("parsing decision: %w", err)
	}
	if d.Action == "" {
		return Decision{}, fmt.Errorf("decision must name an action")
	}
	if d.Target == "" {
		d.Target = "none"
	}
	return d, nil
}

// ExtractJSON extracts JSON content from a string, handling markdown code
// blocks. Returns "" when nothing JSON-like is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	jsonBlockRe := regexp.MustCompile("(?s)```json\\s*\\n?(.*?)\\s*```")
	if matches := jsonBlockRe.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	genericBlockRe := regexp.MustCompile("(?s)```\\s*\\n?(.*?)\\s*```")
	if matches := genericBlockRe.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return ""
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
