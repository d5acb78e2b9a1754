package decision

import (
	"context"
	"sync"
)

// MockCapability implements Capability for testing. It allows configuring
// per-agent decisions, simulating errors, and tracking calls for
// verification.
type MockCapability struct {
	mu sync.Mutex

	// Configured responses
	decision  *Decision
	byAgent   map[string]Decision
	err       error
	available bool

	// Calls records every request received, in order.
	Calls []Request
}

// NewMockCapability creates a MockCapability that is available and returns
// the no-op decision by default.
func NewMockCapability() *MockCapability {
	return &MockCapability{
		available: true,
		byAgent:   make(map[string]Decision),
	}
}

// WithDecision configures the decision returned for every agent.
func (m *MockCapability) WithDecision(d Decision) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decision = &d
	return m
}

// WithAgentDecision configures the decision returned for one agent ID,
// overriding WithDecision for that agent.
func (m *MockCapability) WithAgentDecision(agentID string, d Decision) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAgent[agentID] = d
	return m
}

// WithError configures the error returned by Decide.
func (m *MockCapability) WithError(err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithAvailable configures the Available() result.
func (m *MockCapability) WithAvailable(available bool) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// Decide implements Capability. It records the call and returns the
// configured decision or error.
func (m *MockCapability) Decide(_ context.Context, req Request) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.err != nil {
		return Decision{}, m.err
	}
	if d, ok := m.byAgent[req.Agent.ID]; ok {
		return d, nil
	}
	if m.decision != nil {
		return *m.decision, nil
	}
	return NoOp(), nil
}

// Available implements Capability.
func (m *MockCapability) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// CallCount returns the number of Decide calls received.
func (m *MockCapability) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears call tracking and configured responses.
func (m *MockCapability) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decision = nil
	m.byAgent = make(map[string]Decision)
	m.err = nil
	m.available = true
	m.Calls = nil
}
