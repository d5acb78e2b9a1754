package agent

import (
	"math/rand"
	"testing"
)

func TestKindValid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindGovernment, true},
		{KindEnterprise, true},
		{KindResident, true},
		{Kind("alien"), false},
		{Kind(""), false},
	}
	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("Kind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestBoundsClamp(t *testing.T) {
	b := Bounds{Min: 0, Max: 1}

	tests := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{-0.1, 0},
		{1.5, 1},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		if got := b.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_ClampsInitialValues(t *testing.T) {
	a := New("resident_0", KindResident,
		map[string]float64{"satisfaction": 1.5, "income": 120},
		map[string]Bounds{"satisfaction": {Min: 0, Max: 1}})

	if a.Attributes["satisfaction"] != 1.0 {
		t.Errorf("satisfaction = %v, want clamped to 1.0", a.Attributes["satisfaction"])
	}
	// No bounds declared for income, so left as given
	if a.Attributes["income"] != 120 {
		t.Errorf("income = %v, want 120 unclamped", a.Attributes["income"])
	}
}

func TestNew_CopiesMaps(t *testing.T) {
	attrs := map[string]float64{"satisfaction": 0.5}
	a := New("resident_0", KindResident, attrs, nil)

	attrs["satisfaction"] = 0.9
	if a.Attributes["satisfaction"] != 0.5 {
		t.Error("New should copy the attribute map, not alias it")
	}
}

func TestApplyEffect(t *testing.T) {
	a := New("resident_0", KindResident,
		map[string]float64{"satisfaction": 0.5},
		map[string]Bounds{"satisfaction": {Min: 0, Max: 1}})

	a.ApplyEffect(1, "rule:uptake", map[string]float64{"satisfaction": 0.3})
	if a.Attributes["satisfaction"] != 0.8 {
		t.Errorf("satisfaction = %v, want 0.8", a.Attributes["satisfaction"])
	}

	// Clamped at the upper bound
	a.ApplyEffect(2, "rule:uptake", map[string]float64{"satisfaction": 0.5})
	if a.Attributes["satisfaction"] != 1.0 {
		t.Errorf("satisfaction = %v, want clamped to 1.0", a.Attributes["satisfaction"])
	}

	// Clamped at the lower bound
	a.ApplyEffect(3, "rule:outage", map[string]float64{"satisfaction": -5})
	if a.Attributes["satisfaction"] != 0.0 {
		t.Errorf("satisfaction = %v, want clamped to 0.0", a.Attributes["satisfaction"])
	}

	if len(a.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(a.History))
	}
	if a.History[0].Type != "effect" || a.History[0].Source != "rule:uptake" {
		t.Errorf("history[0] = %+v", a.History[0])
	}
}

func TestApplyEffect_EmptyDelta(t *testing.T) {
	a := New("resident_0", KindResident, map[string]float64{"satisfaction": 0.5}, nil)
	a.ApplyEffect(1, "rule:noop", nil)
	if len(a.History) != 0 {
		t.Error("empty delta should not record a history entry")
	}
}

func TestApplyEffect_CreatesUnknownAttribute(t *testing.T) {
	a := New("resident_0", KindResident, map[string]float64{}, nil)
	a.ApplyEffect(1, "policy:stimulus", map[string]float64{"trust": 0.2})
	if a.Attributes["trust"] != 0.2 {
		t.Errorf("trust = %v, want 0.2", a.Attributes["trust"])
	}
}

func TestRecordDecision(t *testing.T) {
	a := New("government_0", KindGovernment, nil, nil)
	a.RecordDecision(1, "service_provision")
	a.RecordDecision(2, "regulation")

	if len(a.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(a.History))
	}
	if a.History[1].Type != "decision" || a.History[1].Action != "regulation" || a.History[1].Round != 2 {
		t.Errorf("history[1] = %+v", a.History[1])
	}
}

func TestHistoryTail(t *testing.T) {
	a := New("resident_0", KindResident, nil, nil)
	for i := 1; i <= 5; i++ {
		a.RecordDecision(i, "use_service")
	}

	tail := a.HistoryTail(3)
	if len(tail) != 3 {
		t.Fatalf("tail length = %d, want 3", len(tail))
	}
	if tail[0].Round != 3 || tail[2].Round != 5 {
		t.Errorf("tail rounds = %d..%d, want 3..5", tail[0].Round, tail[2].Round)
	}

	if got := a.HistoryTail(10); len(got) != 5 {
		t.Errorf("tail longer than history should return all %d entries, got %d", 5, len(got))
	}
	if got := a.HistoryTail(0); got != nil {
		t.Errorf("HistoryTail(0) = %v, want nil", got)
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	a := New("resident_0", KindResident, map[string]float64{"satisfaction": 0.5}, nil)
	a.Labels = map[string]string{"governance_preference": "digital"}

	s := a.Snapshot()
	s.Attributes["satisfaction"] = 0.9
	s.Labels["governance_preference"] = "traditional"

	if a.Attributes["satisfaction"] != 0.5 {
		t.Error("snapshot attribute mutation leaked into agent")
	}
	if a.Labels["governance_preference"] != "digital" {
		t.Error("snapshot label mutation leaked into agent")
	}
}

func TestSortedAttributeNames(t *testing.T) {
	a := New("resident_0", KindResident, map[string]float64{
		"satisfaction":     0.5,
		"digital_literacy": 0.3,
		"income":           50,
	}, nil)

	names := a.SortedAttributeNames()
	want := []string{"digital_literacy", "income", "satisfaction"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBuildPopulation_StableOrder(t *testing.T) {
	specs := map[Kind]KindSpec{
		KindResident:   {Count: 3, Attributes: map[string]float64{"satisfaction": 0.5}},
		KindGovernment: {Count: 1},
		KindEnterprise: {Count: 2},
	}
	pop, err := BuildPopulation(specs, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("BuildPopulation: %v", err)
	}

	wantIDs := []string{
		"government_0",
		"enterprise_0", "enterprise_1",
		"resident_0", "resident_1", "resident_2",
	}
	all := pop.All()
	if len(all) != len(wantIDs) {
		t.Fatalf("population size = %d, want %d", len(all), len(wantIDs))
	}
	for i, want := range wantIDs {
		if all[i].ID != want {
			t.Errorf("agent[%d] = %q, want %q", i, all[i].ID, want)
		}
	}
}

func TestBuildPopulation_AreaAssignmentDeterministic(t *testing.T) {
	specs := map[Kind]KindSpec{
		KindResident: {
			Count:      20,
			Attributes: map[string]float64{"digital_literacy": 0.5},
			AreaWeights: map[Area]float64{
				AreaCore:   0.5,
				AreaFringe: 0.3,
				AreaRural:  0.2,
			},
		},
	}

	a, err := BuildPopulation(specs, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	b, err := BuildPopulation(specs, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	for i, ag := range a.All() {
		if other := b.All()[i]; other.Area != ag.Area {
			t.Errorf("agent %s area differs across same-seed builds: %s vs %s", ag.ID, ag.Area, other.Area)
		}
	}
}

func TestBuildPopulation_AreaAdjustments(t *testing.T) {
	specs := map[Kind]KindSpec{
		KindResident: {
			Count:      5,
			Attributes: map[string]float64{"digital_literacy": 0.5},
			Bounds:     map[string]Bounds{"digital_literacy": {Min: 0, Max: 1}},
			AreaWeights: map[Area]float64{
				AreaRural: 1.0, // everyone rural
			},
			AreaAdjustments: map[Area]map[string]float64{
				AreaRural: {"digital_literacy": -0.8},
			},
		},
	}
	pop, err := BuildPopulation(specs, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("BuildPopulation: %v", err)
	}

	for _, a := range pop.All() {
		if a.Area != AreaRural {
			t.Errorf("agent %s area = %s, want rural", a.ID, a.Area)
		}
		// 0.5 - 0.8 clamps to 0
		if a.Attributes["digital_literacy"] != 0 {
			t.Errorf("agent %s digital_literacy = %v, want 0", a.ID, a.Attributes["digital_literacy"])
		}
	}
}

func TestBuildPopulation_NonResidentsHaveNoArea(t *testing.T) {
	specs := map[Kind]KindSpec{
		KindGovernment: {Count: 1, AreaWeights: map[Area]float64{AreaRural: 1}},
	}
	pop, err := BuildPopulation(specs, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("BuildPopulation: %v", err)
	}
	if got := pop.Get("government_0").Area; got != "" {
		t.Errorf("government area = %q, want empty", got)
	}
}

func TestBuildPopulation_NegativeCount(t *testing.T) {
	specs := map[Kind]KindSpec{KindResident: {Count: -1}}
	if _, err := BuildPopulation(specs, rand.New(rand.NewSource(1))); err == nil {
		t.Error("expected error for negative count")
	}
}

func TestDrawArea_EmptyWeightsDefaultsToCore(t *testing.T) {
	if got := drawArea(nil, rand.New(rand.NewSource(1))); got != AreaCore {
		t.Errorf("drawArea(nil) = %s, want core", got)
	}
}

func TestPopulationLookups(t *testing.T) {
	specs := map[Kind]KindSpec{
		KindResident:   {Count: 2},
		KindGovernment: {Count: 1},
	}
	pop, err := BuildPopulation(specs, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("BuildPopulation: %v", err)
	}

	if pop.Len() != 3 {
		t.Errorf("Len = %d, want 3", pop.Len())
	}
	if got := len(pop.OfKind(KindResident)); got != 2 {
		t.Errorf("OfKind(resident) = %d agents, want 2", got)
	}
	if pop.Get("resident_1") == nil {
		t.Error("Get(resident_1) = nil")
	}
	if pop.Get("resident_9") != nil {
		t.Error("Get of unknown ID should return nil")
	}
	if snaps := pop.Snapshots(); len(snaps) != 3 || snaps[0].ID != "government_0" {
		t.Errorf("Snapshots = %d entries first %q", len(snaps), snaps[0].ID)
	}
}
