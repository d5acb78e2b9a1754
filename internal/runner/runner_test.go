package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/citykit/govsim/internal/config"
	"github.com/citykit/govsim/internal/decision"
	"github.com/citykit/govsim/internal/logging"
	"github.com/citykit/govsim/internal/rules"
	"github.com/citykit/govsim/internal/trace"
)

func testLogger() *slog.Logger {
	return logging.NewLogger("info", io.Discard)
}

func testScenario(t *testing.T, rounds int) *config.Scenario {
	t.Helper()
	scn := config.Default()
	scn.Run.Rounds = rounds
	scn.Run.Seed = 42
	scn.Trace.Dir = t.TempDir()
	scn.Population = map[string]config.PopulationSpec{
		"government": {
			Count:      1,
			Attributes: map[string]float64{"regulation_intensity": 0.4},
		},
		"resident": {
			Count:       3,
			Attributes:  map[string]float64{"satisfaction": 0.5},
			AreaWeights: map[string]float64{"core_area": 1},
		},
	}
	scn.Environment = config.EnvironmentSpec{
		DigitalInfrastructure:  map[string]float64{"core_area": 80, "urban_rural_fringe": 50, "rural": 30},
		PhysicalInfrastructure: map[string]float64{"core_area": 70, "urban_rural_fringe": 50, "rural": 40},
		ServiceQuality:         map[string]float64{"core_area": 0.8, "urban_rural_fringe": 0.6, "rural": 0.4},
	}
	scn.Rules = []config.RuleSpec{
		{
			Name:         "service_use",
			Participants: []string{"resident"},
			Probability:  1.0,
			Effect: config.EffectSpec{
				Type: "delta",
				Params: map[string]any{
					"participants": []any{
						map[string]any{"satisfaction": "+0.01"},
					},
				},
			},
		},
	}
	if err := scn.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return scn
}

func TestRun_Completes(t *testing.T) {
	scn := testScenario(t, 5)
	run, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != trace.StatusCompleted {
		t.Errorf("status = %q, want %q", run.Status, trace.StatusCompleted)
	}
	if len(run.Rounds) != 5 {
		t.Fatalf("rounds = %d, want 5", len(run.Rounds))
	}
	for i, rs := range run.Rounds {
		if rs.Round != i+1 {
			t.Errorf("round %d numbered %d", i, rs.Round)
		}
		if len(rs.Agents) != 4 {
			t.Errorf("round %d has %d agents, want 4", rs.Round, len(rs.Agents))
		}
	}
}

func TestRun_WritesJSONL(t *testing.T) {
	scn := testScenario(t, 3)
	run, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	path := filepath.Join(scn.Trace.Dir, "trace.jsonl")
	loaded, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if loaded.ID != run.ID {
		t.Errorf("file run ID = %q, want %q", loaded.ID, run.ID)
	}
	if len(loaded.Rounds) != 3 {
		t.Errorf("file rounds = %d, want 3", len(loaded.Rounds))
	}
}

func TestRun_CreatesTraceDir(t *testing.T) {
	scn := testScenario(t, 2)
	scn.Trace.Dir = filepath.Join(t.TempDir(), "nested", ".govsim")
	scn.Trace.Database = false

	_, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(scn.Trace.Dir, "trace.jsonl")); err != nil {
		t.Errorf("trace.jsonl missing: %v", err)
	}
}

func TestRun_JSONLDisabled(t *testing.T) {
	scn := testScenario(t, 1)
	scn.Trace.JSONL = false
	_, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(scn.Trace.Dir, "trace.jsonl")); !os.IsNotExist(err) {
		t.Errorf("trace.jsonl should not exist, stat err = %v", err)
	}
}

func TestRun_DebugLevelWritesDecisionLog(t *testing.T) {
	scn := testScenario(t, 2)
	scn.Logging.Level = "debug"

	_, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(scn.Trace.Dir, "decisions.jsonl"))
	if err != nil {
		t.Fatalf("reading decision log: %v", err)
	}
	// 2 rounds, 4 agents deciding every round
	lines := strings.Count(string(data), "\n")
	if lines != 8 {
		t.Errorf("decision log lines = %d, want 8", lines)
	}
	if !strings.Contains(string(data), `"agent_id":"resident_0"`) {
		t.Error("decision log missing resident_0 entries")
	}
}

func TestRun_InfoLevelSkipsDecisionLog(t *testing.T) {
	scn := testScenario(t, 1)

	_, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(scn.Trace.Dir, "decisions.jsonl")); !os.IsNotExist(err) {
		t.Errorf("decisions.jsonl should not exist at info level, stat err = %v", err)
	}
}

func TestRun_PersistsToStore(t *testing.T) {
	scn := testScenario(t, 4)
	store, err := trace.OpenStore(filepath.Join(t.TempDir(), "govsim.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	run, err := Run(context.Background(), scn, Options{
		Store:      store,
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored, err := store.LoadRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if stored.Status != trace.StatusCompleted {
		t.Errorf("stored status = %q", stored.Status)
	}
	if len(stored.Rounds) != 4 {
		t.Errorf("stored rounds = %d, want 4", len(stored.Rounds))
	}
}

func TestRun_EffectFailureRecordsFailedRun(t *testing.T) {
	scn := testScenario(t, 5)
	scn.Rules = append(scn.Rules, config.RuleSpec{
		Name:         "broken",
		Participants: []string{"resident"},
		Probability:  1.0,
		Effect: config.EffectSpec{
			Type: "delta",
			Params: map[string]any{
				"environment": map[string]any{"no_such_path": "+1"},
			},
		},
	})

	store, err := trace.OpenStore(filepath.Join(t.TempDir(), "govsim.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	run, runErr := Run(context.Background(), scn, Options{
		Store:      store,
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if runErr == nil {
		t.Fatal("expected run error")
	}
	var effErr *rules.EffectError
	if !errors.As(runErr, &effErr) {
		t.Errorf("error %v is not an EffectError", runErr)
	}
	if run.Status != trace.StatusFailed {
		t.Errorf("status = %q, want %q", run.Status, trace.StatusFailed)
	}

	stored, err := store.LoadRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if stored.Status != trace.StatusFailed {
		t.Errorf("stored status = %q", stored.Status)
	}
	if stored.Error == "" {
		t.Error("stored run should carry the failure message")
	}
}

func TestRun_InvalidRuleConfig(t *testing.T) {
	scn := testScenario(t, 2)
	scn.Rules = append(scn.Rules, scn.Rules[0])
	_, err := Run(context.Background(), scn, Options{
		Capability: decision.NewMockCapability(),
		Log:        testLogger(),
	})
	if err == nil {
		t.Fatal("expected error for duplicate rule names")
	}
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("error %v is not a ConfigurationError", err)
	}
}

func TestRun_DefaultCapability(t *testing.T) {
	scn := testScenario(t, 2)
	scn.Decision.Provider = "fallback"
	run, err := Run(context.Background(), scn, Options{Log: testLogger()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != trace.StatusCompleted {
		t.Errorf("status = %q", run.Status)
	}
}
