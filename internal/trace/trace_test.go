package trace

import (
	"testing"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/world"
)

func sampleSnapshot(round int) RoundSnapshot {
	return RoundSnapshot{
		Round: round,
		Agents: []agent.Snapshot{
			{
				ID:         "resident_0",
				Kind:       agent.KindResident,
				Area:       agent.AreaCore,
				Attributes: map[string]float64{"satisfaction": 0.5, "digital_literacy": 0.3},
			},
			{
				ID:         "government_0",
				Kind:       agent.KindGovernment,
				Attributes: map[string]float64{"regulation_intensity": 0.4},
			},
		},
		Environment: world.Snapshot{
			DigitalInfrastructure: map[agent.Area]float64{agent.AreaCore: 80},
			ServiceAvailability:   1.0,
			SystemLoad:            0.5,
			PolicyState:           map[string]float64{"openness": 0.5},
			Round:                 round,
		},
		Decisions: []DecisionRecord{
			{AgentID: "resident_0", Action: "use_service", Target: "platform"},
		},
	}
}

func TestTrace_AppendAndFinish(t *testing.T) {
	tr := New(42)

	if tr.ID() == "" {
		t.Error("expected a generated run ID")
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
	if _, ok := tr.Last(); ok {
		t.Error("Last should report no rounds yet")
	}

	tr.Append(sampleSnapshot(1))
	tr.Append(sampleSnapshot(2))

	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
	last, ok := tr.Last()
	if !ok || last.Round != 2 {
		t.Errorf("Last = %+v (%v), want round 2", last, ok)
	}

	tr.Finish(StatusCompleted, nil)
	run := tr.Run()
	if run.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.Seed != 42 {
		t.Errorf("Seed = %d, want 42", run.Seed)
	}
	if run.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set after Finish")
	}
	if len(run.Rounds) != 2 {
		t.Errorf("rounds = %d, want 2", len(run.Rounds))
	}
}

func TestTrace_FinishWithError(t *testing.T) {
	tr := New(1)
	tr.Append(sampleSnapshot(1))
	tr.Finish(StatusFailed, errTest)

	run := tr.Run()
	if run.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if run.Error != "test failure" {
		t.Errorf("Error = %q", run.Error)
	}
	// Partial rounds are kept
	if len(run.Rounds) != 1 {
		t.Errorf("rounds = %d, want 1 partial round", len(run.Rounds))
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test failure" }

func TestTrace_RunCopyIsIndependent(t *testing.T) {
	tr := New(1)
	tr.Append(sampleSnapshot(1))

	run := tr.Run()
	run.Rounds = append(run.Rounds, sampleSnapshot(99))

	if tr.Len() != 1 {
		t.Error("appending to the returned run should not affect the trace")
	}
}
