// Package trace records the full history of a simulation run: one snapshot
// per completed round plus run metadata. The trace is append-only and is
// the sole source for inspection, persistence, and export.
package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/policy"
	"github.com/citykit/govsim/internal/rules"
	"github.com/citykit/govsim/internal/world"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DecisionRecord is one agent's decision outcome in a round, including
// substitutions when the capability was unavailable.
type DecisionRecord struct {
	AgentID     string `json:"agent_id"`
	Action      string `json:"action"`
	Target      string `json:"target"`
	Reason      string `json:"reason,omitempty"`
	Substituted bool   `json:"substituted,omitempty"`
	Err         string `json:"error,omitempty"`
}

// RoundSnapshot captures the state at the end of one round, after rule and
// policy effects have been applied.
type RoundSnapshot struct {
	Round           int              `json:"round"`
	Agents          []agent.Snapshot `json:"agents"`
	Environment     world.Snapshot   `json:"environment"`
	Decisions       []DecisionRecord `json:"decisions,omitempty"`
	RulesFired      []rules.Firing   `json:"rules_fired,omitempty"`
	PoliciesApplied []policy.Applied `json:"policies_applied,omitempty"`
}

// Run is a complete (or failed partway) simulation run.
type Run struct {
	ID         string          `json:"id"`
	Seed       int64           `json:"seed"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	Rounds     []RoundSnapshot `json:"rounds"`
}

// Trace accumulates round snapshots for one run. Safe for concurrent reads
// during a run; appends come only from the simulation loop.
type Trace struct {
	mu  sync.RWMutex
	run Run
}

// New starts a trace for a fresh run with a generated run ID.
func New(seed int64) *Trace {
	return &Trace{run: Run{
		ID:        uuid.NewString(),
		Seed:      seed,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}}
}

// ID returns the run identifier.
func (t *Trace) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.run.ID
}

// Append records a completed round. Snapshots arrive in round order.
func (t *Trace) Append(s RoundSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Rounds = append(t.run.Rounds, s)
}

// Len returns the number of recorded rounds.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.run.Rounds)
}

// Finish marks the run completed or failed. err may be nil.
func (t *Trace) Finish(status string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run.Status = status
	t.run.FinishedAt = time.Now().UTC()
	if err != nil {
		t.run.Error = err.Error()
	}
}

// Run returns a shallow copy of the run with its recorded rounds. The
// snapshots themselves are immutable once appended.
func (t *Trace) Run() Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run := t.run
	run.Rounds = make([]RoundSnapshot, len(t.run.Rounds))
	copy(run.Rounds, t.run.Rounds)
	return run
}

// Last returns the most recent snapshot, or false if none recorded yet.
func (t *Trace) Last() (RoundSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.run.Rounds) == 0 {
		return RoundSnapshot{}, false
	}
	return t.run.Rounds[len(t.run.Rounds)-1], true
}
