package diagnose

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/feasia/internal/bounds"
	"github.com/ppiankov/feasia/internal/gap"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/reach"
	"github.com/ppiankov/feasia/internal/witness"
)

func ptr(v float64) *float64 { return &v }

func fixedClock(t *testing.T) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { nowFunc = prev })
}

func TestRarityCategoryForRate_Boundaries(t *testing.T) {
	const eps = 1e-12
	tests := []struct {
		rate float64
		want RarityCategory
	}{
		{0, RarityImpossible},
		{1e-5 - eps, RarityExtremelyRare},
		{1e-5, RarityRare},
		{5e-4 - eps, RarityRare},
		{5e-4, RarityNormal},
		{2e-2 - eps, RarityNormal},
		{2e-2, RarityFrequent},
		{0.5, RarityFrequent},
	}
	for _, tt := range tests {
		got := RarityCategoryForRate(tt.rate)
		if got != tt.want {
			t.Errorf("RarityCategoryForRate(%g) = %s, want %s", tt.rate, got, tt.want)
		}

		d, err := NewDiagnosticResult("expr")
		require.NoError(t, err)
		mc, err := NewMonteCarloResult(tt.rate, 1000, "uniform", nil, nil)
		require.NoError(t, err)
		d.SetMonteCarloResults(mc)
		if d.RarityCategory() != got {
			t.Errorf("instance category %s disagrees with %s for rate %g", d.RarityCategory(), got, tt.rate)
		}
	}
	if RarityCategoryForRate(math.NaN()) != RarityUnknown {
		t.Error("Expected NaN to be unknown")
	}
}

func TestIndicators(t *testing.T) {
	tests := []struct {
		cat   RarityCategory
		color string
		emoji string
		label string
	}{
		{RarityImpossible, "red", "🔴", "Impossible"},
		{RarityExtremelyRare, "orange", "🟠", "Extremely Rare"},
		{RarityRare, "yellow", "🟡", "Rare"},
		{RarityNormal, "green", "🟢", "Normal"},
		{RarityFrequent, "blue", "🔵", "Frequent"},
		{RarityUnknown, "gray", "⚪", "Unknown"},
	}
	for _, tt := range tests {
		ind := tt.cat.Indicator()
		if ind.Color != tt.color || ind.Emoji != tt.emoji || ind.Label != tt.label {
			t.Errorf("%s indicator = %+v", tt.cat, ind)
		}
	}
	if RarityCategory("bogus").Indicator().Color != "gray" {
		t.Error("Expected unrecognized category to render as unknown")
	}
	if _, err := ParseRarityCategory("bogus"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestNewDiagnosticResult_RequiresID(t *testing.T) {
	if _, err := NewDiagnosticResult("  "); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestDiagnosticResult_UnknownWithoutData(t *testing.T) {
	d, _ := NewDiagnosticResult("expr")
	assert.Equal(t, RarityUnknown, d.RarityCategory())
	assert.Equal(t, "gray", d.StatusIndicator().Color)
	assert.Nil(t, d.TriggerRate())
}

func TestDiagnosticResult_ImpossibleLatches(t *testing.T) {
	d, _ := NewDiagnosticResult("expr")
	d.SetSMTResult(SMTResult{Solver: "z3", Status: SMTUnsat, UnsatCore: []string{"clause_1"}})
	require.True(t, d.IsImpossible())
	assert.Contains(t, d.ImpossibilityReason(), "clause_1")

	mc, _ := NewMonteCarloResult(0.05, 1000, "", nil, nil)
	d.SetMonteCarloResults(mc).
		SetSMTResult(SMTResult{Status: SMTSat}).
		SetStaticAnalysis(&reach.PathSensitiveResult{})

	assert.True(t, d.IsImpossible(), "impossibility must never be cleared")
	assert.Equal(t, RarityImpossible, d.RarityCategory())
	assert.Contains(t, d.ImpossibilityReason(), "SMT")
}

func TestDiagnosticResult_StaticImpossibility(t *testing.T) {
	static := &reach.PathSensitiveResult{
		Branches: []reach.AnalysisBranch{{
			BranchID:  "0",
			Conflicts: []bounds.GateConflict{{Axis: "valence", RequiredMin: 0.2, RequiredMax: -0.5}},
		}},
		ReachabilityByBranch: map[string][]reach.BranchReachability{},
	}
	d, _ := NewDiagnosticResult("expr")
	d.SetStaticAnalysis(static)

	assert.True(t, d.IsImpossible())
	assert.True(t, strings.HasPrefix(d.ImpossibilityReason(), "static analysis:"))
	require.Len(t, d.GateConflicts(), 1)
}

func TestDiagnosticResult_GettersClone(t *testing.T) {
	d, _ := NewDiagnosticResult("expr")
	d.SetSuggestions([]Suggestion{{Kind: SuggestTuneThreshold, Target: "c1"}})

	got := d.Suggestions()
	got[0].Target = "mutated"
	assert.Equal(t, "c1", d.Suggestions()[0].Target)

	core := []string{"a"}
	d.SetSMTResult(SMTResult{Status: SMTUnsat, UnsatCore: core})
	core[0] = "mutated"
	assert.Equal(t, []string{"a"}, d.SMT().UnsatCore)
}

func TestDiagnosticResult_GettersDeepClone(t *testing.T) {
	d, _ := NewDiagnosticResult("expr")
	state := model.WitnessState{Mood: map[string]int{"valence": 40}, Sexual: map[string]int{}, Traits: map[string]int{}, Fitness: 1, IsExact: true}
	d.SetWitnessResult(witness.Result{Found: true, Witness: &state})

	state.Mood["valence"] = -10
	assert.Equal(t, 40, d.Witness().Witness.Mood["valence"])

	w := d.Witness()
	w.Witness.Mood["valence"] = 99
	assert.Equal(t, 40, d.Witness().Witness.Mood["valence"])

	d.SetStaticAnalysis(&reach.PathSensitiveResult{
		Branches: []reach.AnalysisBranch{{
			BranchID: "0",
			Conflicts: []bounds.GateConflict{{
				Axis: "valence", RequiredMin: 0.2, RequiredMax: -0.5,
				Prototypes: []string{"joy"}, Gates: []string{"valence >= 0.2"},
			}},
		}},
		ReachabilityByBranch: map[string][]reach.BranchReachability{},
	})

	conflicts := d.GateConflicts()
	require.Len(t, conflicts, 1)
	conflicts[0].Prototypes[0] = "mutated"
	conflicts[0].Gates[0] = "mutated"
	assert.Equal(t, []string{"joy"}, d.GateConflicts()[0].Prototypes)
	assert.Equal(t, []string{"valence >= 0.2"}, d.GateConflicts()[0].Gates)

	static := d.Static()
	static.GateConflicts[0].Prototypes[0] = "mutated"
	assert.Equal(t, "joy", d.Static().GateConflicts[0].Prototypes[0])

	d.SetSuggestions([]Suggestion{{Kind: SuggestAddPrototype, Prototype: &gap.SuggestedPrototype{ID: "new", Weights: map[string]float64{"valence": 1}}}})
	d.Suggestions()[0].Prototype.Weights["valence"] = -1
	assert.Equal(t, 1.0, d.Suggestions()[0].Prototype.Weights["valence"])
}

func TestDiagnosticResult_JSON(t *testing.T) {
	fixedClock(t)
	d, _ := NewDiagnosticResult("bittersweet")
	mc, err := NewMonteCarloResult(0.0003, 100000, "uniform", &ConfidenceInterval{Low: 0.0002, High: 0.0004},
		[]ClauseFailure{{ClauseID: "c1", FailureRate: 0.4}})
	require.NoError(t, err)
	state := model.WitnessState{Mood: map[string]int{"valence": 40}, Sexual: map[string]int{}, Traits: map[string]int{}, Fitness: 1, IsExact: true}
	d.SetMonteCarloResults(mc).
		SetWitnessResult(witness.Result{Found: true, Witness: &state, IterationsUsed: 12, ViolatedClauses: []string{}}).
		SetSMTResult(SMTResult{Solver: "z3", Status: SMTSat})

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"expressionId", "timestamp", "rarityCategory", "statusIndicator", "staticAnalysis", "monteCarlo", "witness", "smt", "suggestions"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in output", key)
		}
	}
	assert.Equal(t, "2026-03-01T12:00:00Z", raw["timestamp"])
	assert.Equal(t, "rare", raw["rarityCategory"])
	assert.Equal(t, true, raw["smt"].(map[string]any)["satisfiable"])
	assert.Equal(t, true, raw["witness"].(map[string]any)["found"])

	var back DiagnosticResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.ExpressionID(), back.ExpressionID())
	assert.True(t, d.Timestamp().Equal(back.Timestamp()))
	assert.Equal(t, d.RarityCategory(), back.RarityCategory())
	if diff := cmp.Diff(d.MonteCarlo(), back.MonteCarlo()); diff != "" {
		t.Errorf("monte carlo round trip mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, back.Witness())
	assert.Equal(t, 40, back.Witness().Witness.Mood["valence"])

	again, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestMonteCarloResult_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		n     int
		ci    *ConfidenceInterval
		field string
	}{
		{"nan rate", math.NaN(), 10, nil, "triggerRate"},
		{"rate above one", 1.5, 10, nil, "triggerRate"},
		{"negative samples", 0.1, -1, nil, "sampleCount"},
		{"inverted interval", 0.1, 10, &ConfidenceInterval{Low: 0.2, High: 0.1}, "confidenceInterval.low"},
	}
	for _, tt := range tests {
		_, err := NewMonteCarloResult(tt.rate, tt.n, "", tt.ci, nil)
		if !errors.Is(err, ErrInvalidValue) || !strings.Contains(err.Error(), tt.field) {
			t.Errorf("%s: expected error naming %s, got %v", tt.name, tt.field, err)
		}
	}
}

func TestClauseStats_Validate(t *testing.T) {
	ok := ClauseStats{ClauseID: "c1", FailureRate: 0.5, NearMissRate: ptr(0.1)}
	assert.NoError(t, ok.Validate())

	bad := ClauseStats{ClauseID: "c1", FailureRate: 0.5, LastMileFailRate: ptr(2)}
	err := bad.Validate()
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "c1.lastMileFailRate")

	assert.ErrorIs(t, ClauseStats{FailureRate: 0.1}.Validate(), ErrInvalidValue)
}

func TestPriorityScore(t *testing.T) {
	s := ClauseStats{ClauseID: "c1", FailureRate: 0.5, LastMileFailRate: ptr(0.8), NearMissRate: ptr(0.1)}
	assert.InDelta(t, 0.49, PriorityScore(s), 1e-9)

	s.CeilingGap = ptr(0.05)
	assert.InDelta(t, 0.245, PriorityScore(s), 1e-9)

	// near miss at or below the floor does not count; no last mile falls back to failure rate
	s = ClauseStats{ClauseID: "c2", FailureRate: 0.2, NearMissRate: ptr(0.05)}
	assert.InDelta(t, 0.4*0.2+0.3*0.2, PriorityScore(s), 1e-9)
}

func TestExplainClause_Classification(t *testing.T) {
	e := NewFailureExplainer()
	tests := []struct {
		name  string
		stats ClauseStats
		shape PercentileShape
		tune  Tunability
		ceil  Ceiling
		last  LastMile
		rec   Recommendation
	}{
		{
			name:  "no data",
			stats: ClauseStats{ClauseID: "a", FailureRate: 0.3},
			shape: ShapeNoData, tune: TunabilityNoData, ceil: CeilingAchievable, last: LastMileNoData, rec: RecommendLowerPriority,
		},
		{
			name: "heavy tail with ceiling",
			stats: ClauseStats{ClauseID: "b", FailureRate: 0.3, AverageViolation: 0.2,
				Percentiles: &Percentiles{P50: 0.05, P90: 0.3}, CeilingGap: ptr(0.1), NearMissRate: ptr(0.2)},
			shape: ShapeHeavyTail, tune: TunabilityHigh, ceil: CeilingDetected, last: LastMileNoData, rec: RecommendRedesign,
		},
		{
			name: "some severe, decisive",
			stats: ClauseStats{ClauseID: "c", FailureRate: 0.2, AverageViolation: 0.1,
				Percentiles: &Percentiles{P50: 0.08, P90: 0.25}, LastMileFailRate: ptr(0.4), NearMissRate: ptr(0.03)},
			shape: ShapeSomeSevere, tune: TunabilityModerate, ceil: CeilingAchievable, last: LastMileDecisiveBlocker, rec: RecommendTuneThreshold,
		},
		{
			name: "normal, rarely decisive",
			stats: ClauseStats{ClauseID: "d", FailureRate: 0.6, AverageViolation: 0.1,
				Percentiles: &Percentiles{P50: 0.1, P90: 0.15}, LastMileFailRate: ptr(0.005), NearMissRate: ptr(0.01)},
			shape: ShapeNormal, tune: TunabilityLow, ceil: CeilingAchievable, last: LastMileRarelyDecisive, rec: RecommendAdjustUpstream,
		},
		{
			name:  "single clause",
			stats: ClauseStats{ClauseID: "e", FailureRate: 0.9, IsSingleClause: true, LastMileFailRate: ptr(0.9)},
			shape: ShapeNoData, tune: TunabilityNoData, ceil: CeilingAchievable, last: LastMileSingleClause, rec: RecommendTuneThreshold,
		},
		{
			name:  "moderate last mile",
			stats: ClauseStats{ClauseID: "f", FailureRate: 0.4, LastMileFailRate: ptr(0.4)},
			shape: ShapeNoData, tune: TunabilityNoData, ceil: CeilingAchievable, last: LastMileModerate, rec: RecommendLowerPriority,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExplainClause(tt.stats)
			assert.Equal(t, tt.shape, got.Shape)
			assert.Equal(t, tt.tune, got.Tunability)
			assert.Equal(t, tt.ceil, got.Ceiling)
			assert.Equal(t, tt.last, got.LastMile)
			assert.Equal(t, tt.rec, got.Recommendation)
			assert.Len(t, got.Signals, 4)
		})
	}
}

func TestExplain_RanksByScoreNotFailureRate(t *testing.T) {
	e := NewFailureExplainer()
	upstream := ClauseStats{ClauseID: "upstream", FailureRate: 0.7, LastMileFailRate: ptr(0.001)}
	decisive := ClauseStats{ClauseID: "decisive", FailureRate: 0.3, LastMileFailRate: ptr(0.9)}

	got := e.Explain([]ClauseStats{upstream, decisive})
	require.Len(t, got, 2)
	// decisive: 0.36 + 0.09 = 0.45; upstream: 0.0004 + 0.21 = 0.2104
	assert.Equal(t, "decisive", got[0].ClauseID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "upstream", got[1].ClauseID)
	assert.Equal(t, 2, got[1].Rank)
}

func TestBuildSuggestions(t *testing.T) {
	static := &reach.PathSensitiveResult{
		Branches: []reach.AnalysisBranch{
			{BranchID: "0.0", Conflicts: []bounds.GateConflict{{Axis: "valence", RequiredMin: 0.2, RequiredMax: -0.5, Prototypes: []string{"joy"}, Gates: []string{"valence >= 0.2"}}}},
			{BranchID: "0.1"},
		},
		ReachabilityByBranch: map[string][]reach.BranchReachability{
			"0.1": {{BranchID: "0.1", PrototypeID: "joy", Type: model.CategoryEmotion, Op: model.OpGTE, Threshold: 0.9, Direction: reach.DirectionHigh, MaxPossible: 0.6}},
		},
		Gaps: []gap.Result{{BranchID: "0.0", GapDetected: true, Suggested: &gap.SuggestedPrototype{ID: "gap_candidate_0_0", Rationale: "blended from joy"}}},
	}
	explanations := NewFailureExplainer().Explain([]ClauseStats{
		{ClauseID: "c1", FailureRate: 0.5, LastMileFailRate: ptr(0.8), NearMissRate: ptr(0.1)},
	})

	got := BuildSuggestions(static, explanations)
	require.Len(t, got, 4)
	assert.Equal(t, SuggestResolveConflict, got[0].Kind)
	assert.Equal(t, SuggestRelaxThreshold, got[1].Kind)
	assert.Contains(t, got[1].Message, "0.600")
	assert.Equal(t, SuggestAddPrototype, got[2].Kind)
	require.NotNil(t, got[2].Prototype)
	assert.Equal(t, SuggestTuneThreshold, got[3].Kind)
	assert.InDelta(t, 0.49, got[3].Priority, 1e-9)

	assert.Empty(t, BuildSuggestions(nil, nil))
}
