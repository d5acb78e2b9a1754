package decision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/world"
)

func testRequest(kind agent.Kind) Request {
	return Request{
		Agent: agent.Snapshot{
			ID:         string(kind) + "_0",
			Kind:       kind,
			Attributes: map[string]float64{"satisfaction": 0.5},
		},
		Environment: world.Snapshot{
			ServiceAvailability: 1.0,
			SystemLoad:          0.5,
			Round:               1,
		},
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	providers := []string{"fallback", "", "anthropic", "openai", "mock"}
	for _, provider := range providers {
		name := provider
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Provider = provider
			cfg.APIKey = "test-key"
			if c := New(cfg); c == nil {
				t.Fatalf("New(%q) returned nil capability", provider)
			}
		})
	}
}

func TestNew_MockProviderDecides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "mock"
	c := New(cfg)
	d, err := c.Decide(context.Background(), testRequest(agent.KindResident))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action == "" {
		t.Error("mock provider returned an empty action")
	}
}

func TestNoOp(t *testing.T) {
	d := NoOp()
	if d.Action != "no_action" || d.Target != "none" {
		t.Errorf("NoOp = %+v", d)
	}
}

func TestFallback_GovernmentThresholds(t *testing.T) {
	f := &FallbackCapability{}

	req := testRequest(agent.KindGovernment)
	req.Environment.Emergency = true
	d, err := f.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != "service_provision" {
		t.Errorf("emergency action = %q, want service_provision", d.Action)
	}

	req = testRequest(agent.KindGovernment)
	req.Environment.SystemLoad = 0.9
	d, _ = f.Decide(context.Background(), req)
	if d.Action != "service_provision" {
		t.Errorf("high-load action = %q, want service_provision", d.Action)
	}

	req = testRequest(agent.KindGovernment)
	req.Agent.Attributes["regulation_intensity"] = 0.8
	d, _ = f.Decide(context.Background(), req)
	if d.Action != "regulation" {
		t.Errorf("high-regulation action = %q, want regulation", d.Action)
	}
}

func TestFallback_ResidentThresholds(t *testing.T) {
	f := &FallbackCapability{}

	req := testRequest(agent.KindResident)
	req.Agent.Attributes["satisfaction"] = 0.2
	d, err := f.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != "provide_feedback" {
		t.Errorf("low-satisfaction action = %q, want provide_feedback", d.Action)
	}

	req = testRequest(agent.KindResident)
	req.Agent.Attributes["digital_literacy"] = 0.1
	d, _ = f.Decide(context.Background(), req)
	if d.Action != "seek_information" {
		t.Errorf("low-literacy action = %q, want seek_information", d.Action)
	}
}

func TestFallback_Deterministic(t *testing.T) {
	f := &FallbackCapability{}
	req := testRequest(agent.KindEnterprise)

	first, err := f.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	for i := 0; i < 5; i++ {
		d, _ := f.Decide(context.Background(), req)
		if d.Action != first.Action {
			t.Errorf("call %d action = %q, want stable %q", i, d.Action, first.Action)
		}
	}
}

func TestFallback_Available(t *testing.T) {
	f := &FallbackCapability{}
	if !f.Available() {
		t.Error("fallback should always be available")
	}
}

func TestWithRetry_SucceedsWithinAttempts(t *testing.T) {
	calls := 0
	flaky := &funcCapability{decide: func(ctx context.Context, req Request) (Decision, error) {
		calls++
		if calls < 3 {
			return Decision{}, errors.New("transient")
		}
		return Decision{Action: "use_service", Target: "platform"}, nil
	}}

	c := WithRetry(flaky, Config{MaxAttempts: 3, Backoff: time.Millisecond})
	d, err := c.Decide(context.Background(), testRequest(agent.KindResident))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if d.Action != "use_service" {
		t.Errorf("action = %q", d.Action)
	}
}

func TestWithRetry_ExhaustionWrapsUnavailable(t *testing.T) {
	calls := 0
	down := &funcCapability{decide: func(ctx context.Context, req Request) (Decision, error) {
		calls++
		return Decision{}, errors.New("backend down")
	}}

	c := WithRetry(down, Config{MaxAttempts: 3, Backoff: time.Millisecond})
	_, err := c.Decide(context.Background(), testRequest(agent.KindResident))
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error should wrap ErrUnavailable: %v", err)
	}
}

func TestWithRetry_CancelledContextStopsRetries(t *testing.T) {
	calls := 0
	down := &funcCapability{decide: func(ctx context.Context, req Request) (Decision, error) {
		calls++
		return Decision{}, errors.New("down")
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := WithRetry(down, Config{MaxAttempts: 5, Backoff: time.Millisecond})
	_, err := c.Decide(ctx, testRequest(agent.KindResident))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 on pre-cancelled context", calls)
	}
}

func TestWithRetry_NilCapability(t *testing.T) {
	if c := WithRetry(nil, DefaultConfig()); c != nil {
		t.Error("WithRetry(nil) should return nil")
	}
}

// funcCapability adapts a function to the Capability interface for tests.
type funcCapability struct {
	decide func(context.Context, Request) (Decision, error)
}

func (f *funcCapability) Decide(ctx context.Context, req Request) (Decision, error) {
	return f.decide(ctx, req)
}

func (f *funcCapability) Available() bool { return true }

func TestDecisionPrompt(t *testing.T) {
	req := testRequest(agent.KindResident)
	req.Agent.Area = agent.AreaRural
	req.History = []agent.HistoryEntry{
		{Round: 1, Type: "decision", Action: "use_service"},
		{Round: 1, Type: "effect", Source: "rule:uptake"},
	}
	req.Environment.DigitalInfrastructure = map[agent.Area]float64{agent.AreaRural: 30}
	req.Environment.ServiceQuality = map[agent.Area]float64{agent.AreaRural: 0.6}

	prompt := DecisionPrompt(req)

	for _, want := range []string{
		"resident agent",
		"satisfaction: 0.500",
		"area: rural",
		"round: 1",
		"decided use_service",
		"affected by rule:uptake",
		"use_service",
		"provide_feedback",
		"seek_information",
		"JSON object",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestParseDecisionResponse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantAction string
		wantTarget string
		wantErr    bool
	}{
		{
			"raw json",
			`{"action":"use_service","target":"government","reason":"need the portal"}`,
			"use_service", "government", false,
		},
		{
			"json code block",
			"```json\n{\"action\":\"regulation\",\"target\":\"enterprises\"}\n```",
			"regulation", "enterprises", false,
		},
		{
			"generic code block",
			"```\n{\"action\":\"innovation\",\"target\":\"none\"}\n```",
			"innovation", "none", false,
		},
		{
			"json embedded in prose",
			`Here is my choice: {"action":"provide_feedback","target":"government"} as requested.`,
			"provide_feedback", "government", false,
		},
		{
			"missing target defaults to none",
			`{"action":"use_service"}`,
			"use_service", "none", false,
		},
		{"no json", "I cannot decide.", "", "", true},
		{"empty action", `{"action":"","target":"none"}`, "", "", true},
		{"invalid json", `{"action":`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecisionResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecisionResponse: %v", err)
			}
			if d.Action != tt.wantAction || d.Target != tt.wantTarget {
				t.Errorf("got %s/%s, want %s/%s", d.Action, d.Target, tt.wantAction, tt.wantTarget)
			}
		})
	}
}

func TestRedactedAPIKey(t *testing.T) {
	cfg := Config{APIKey: "sk-abcdefghijklmnop"}
	red := cfg.RedactedAPIKey()
	if strings.Contains(red, "cdefghijklm") {
		t.Errorf("redacted key leaks content: %q", red)
	}
	if red == "" {
		t.Error("redacted key should not be empty for a set key")
	}

	empty := Config{}
	if got := empty.RedactedAPIKey(); got != "" && !strings.Contains(got, "unset") {
		t.Logf("empty key redaction = %q", got)
	}
}

func TestMockCapability(t *testing.T) {
	m := NewMockCapability().
		WithDecision(Decision{Action: "default_action"}).
		WithAgentDecision("resident_1", Decision{Action: "special"})

	d, err := m.Decide(context.Background(), testRequest(agent.KindResident))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != "default_action" {
		t.Errorf("action = %q, want default_action", d.Action)
	}

	req := testRequest(agent.KindResident)
	req.Agent.ID = "resident_1"
	d, _ = m.Decide(context.Background(), req)
	if d.Action != "special" {
		t.Errorf("per-agent action = %q, want special", d.Action)
	}

	if m.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", m.CallCount())
	}

	m.Reset()
	if m.CallCount() != 0 {
		t.Error("Reset should clear call tracking")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	if v[0] < 0.599 || v[0] > 0.601 || v[1] < 0.799 || v[1] > 0.801 {
		t.Errorf("normalize = %v, want [0.6 0.8]", v)
	}

	zero := []float32{0, 0}
	normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should stay zero, got %v", zero)
	}
}
