package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/feasia/internal/cache"
	"github.com/ppiankov/feasia/internal/diagnose"
	"github.com/ppiankov/feasia/internal/llm"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/registry"
	"github.com/ppiankov/feasia/internal/smt"
)

type fakeSolver struct {
	available bool
	result    smt.Result
	err       error
	checks    int
	lastText  string
}

func (f *fakeSolver) Name() string                       { return "fake" }
func (f *fakeSolver) Available(ctx context.Context) bool { return f.available }

func (f *fakeSolver) Check(ctx context.Context, script smt.Script) (smt.Result, error) {
	f.checks++
	f.lastText = script.Text
	return f.result, f.err
}

type recordingPacer struct {
	keys []string
}

func (p *recordingPacer) Wait(ctx context.Context, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

type stubProvider struct {
	text string
}

func (s *stubProvider) Name() string                       { return "stub" }
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return true }

func (s *stubProvider) Summarize(ctx context.Context, req llm.SummarizeRequest) (*llm.SummarizeResponse, error) {
	return &llm.SummarizeResponse{Summary: s.text, CitedClauses: llm.ExtractCitations(s.text), Model: "stub-1"}, nil
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Witness.Enabled = false
	cfg.SMT.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	return cfg
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	g, err := model.ParseGate("valence >= 0.2")
	require.NoError(t, err)
	joy, err := model.NewPrototype("joy", model.CategoryEmotion, map[string]float64{"valence": 1}, []model.Gate{g}, model.DefaultCatalog())
	require.NoError(t, err)
	reg, err := registry.FromPrototypes(joy)
	require.NoError(t, err)
	return reg
}

func expression(t *testing.T, id string, logics ...string) model.Expression {
	t.Helper()
	expr := model.Expression{ID: id}
	for _, s := range logics {
		var v any
		require.NoError(t, json.Unmarshal([]byte(s), &v))
		expr.Prerequisites = append(expr.Prerequisites, model.Prerequisite{Logic: v})
	}
	return expr
}

func happy(t *testing.T) model.Expression {
	return expression(t, "happy", `{">=": [{"var": "emotions.joy"}, 0.5]}`)
}

func sadJoy(t *testing.T) model.Expression {
	return expression(t, "sad_joy",
		`{"<=": [{"var": "moodAxes.valence"}, -50]}`,
		`{">=": [{"var": "emotions.joy"}, 0.5]}`,
	)
}

const happyStats = `
happy:
  monte_carlo:
    trigger_rate: 0.01
    sample_count: 10000
    clause_failures:
      - clause_id: clause_1
        failure_rate: 0.3
  clauses:
    - clause_id: clause_1
      failure_rate: 0.3
      average_violation: 0.1
`

func newDiagnoser(t *testing.T, cfg *model.Config) *Diagnoser {
	t.Helper()
	d, err := NewDiagnoser(cfg, testRegistry(t), nil)
	require.NoError(t, err)
	return d
}

func TestNewDiagnoser_RequiresPrototypes(t *testing.T) {
	_, err := NewDiagnoser(testConfig(), nil, nil)
	if !errors.Is(err, registry.ErrMissingSource) {
		t.Errorf("Expected ErrMissingSource, got %v", err)
	}
}

func TestDiagnose_ReachableWithStats(t *testing.T) {
	stats, err := ParseStats([]byte(happyStats))
	require.NoError(t, err)
	d := newDiagnoser(t, testConfig()).WithStats(stats)

	res, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	assert.False(t, res.IsImpossible())
	assert.Equal(t, diagnose.RarityNormal, res.RarityCategory())
	require.NotNil(t, res.TriggerRate())
	assert.InDelta(t, 0.01, *res.TriggerRate(), 1e-12)
	require.Len(t, res.Explanations(), 1)
	assert.Equal(t, "clause_1", res.Explanations()[0].ClauseID)
	assert.Nil(t, res.Witness())
	assert.Nil(t, res.SMT())
	require.NotNil(t, res.Static())
	assert.Equal(t, 1, res.Static().BranchCount)
}

func TestDiagnose_UnknownWithoutStats(t *testing.T) {
	d := newDiagnoser(t, testConfig())

	res, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)
	assert.Equal(t, diagnose.RarityUnknown, res.RarityCategory())
	assert.Empty(t, res.Explanations())
}

func TestDiagnose_GateConflictSkipsSolver(t *testing.T) {
	solver := &fakeSolver{available: true, result: smt.Result{Status: smt.StatusSat}}
	d := newDiagnoser(t, testConfig()).WithSolver(solver)

	res, err := d.Diagnose(context.Background(), sadJoy(t))
	require.NoError(t, err)

	assert.True(t, res.IsImpossible())
	assert.Contains(t, res.ImpossibilityReason(), "gate conflicts")
	assert.Equal(t, 0, solver.checks, "solver must not run once static analysis proved impossibility")
	assert.NotEmpty(t, res.Suggestions())
}

func TestDiagnose_SolverUnsatLatches(t *testing.T) {
	solver := &fakeSolver{
		available: true,
		result:    smt.Result{Solver: "fake", Status: smt.StatusUnsat, UnsatCore: []string{"clause_1: emotion.joy >= 0.5"}},
	}
	pacer := &recordingPacer{}
	d := newDiagnoser(t, testConfig()).WithSolver(solver).WithPacer(pacer)

	res, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	assert.Equal(t, 1, solver.checks)
	assert.Contains(t, solver.lastText, ":named clause_1")
	assert.Equal(t, []string{"smt:fake"}, pacer.keys)
	require.NotNil(t, res.SMT())
	assert.Equal(t, diagnose.SMTUnsat, res.SMT().Status)
	assert.True(t, res.IsImpossible())
	assert.Equal(t, diagnose.RarityImpossible, res.RarityCategory())
}

func TestDiagnose_SolverFailureDegrades(t *testing.T) {
	for name, solver := range map[string]*fakeSolver{
		"unavailable": {available: false},
		"error":       {available: true, err: errors.New("boom")},
		"not found":   {available: true, err: smt.ErrUnavailable},
	} {
		t.Run(name, func(t *testing.T) {
			d := newDiagnoser(t, testConfig()).WithSolver(solver)
			res, err := d.Diagnose(context.Background(), happy(t))
			require.NoError(t, err)
			assert.Nil(t, res.SMT())
			assert.False(t, res.IsImpossible())
		})
	}
}

func TestDiagnose_CacheHit(t *testing.T) {
	solver := &fakeSolver{available: true, result: smt.Result{Solver: "fake", Status: smt.StatusSat}}
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	d := newDiagnoser(t, testConfig()).WithSolver(solver).WithCache(mem)

	first, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)
	second, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	assert.Equal(t, 1, solver.checks, "second diagnosis should come from the cache")
	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, first.ExpressionID(), second.ExpressionID())
	assert.Equal(t, first.RarityCategory(), second.RarityCategory())
	require.NotNil(t, second.SMT())
	assert.Equal(t, diagnose.SMTSat, second.SMT().Status)
}

func TestDiagnose_CacheKeyCoversStats(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	d := newDiagnoser(t, testConfig()).WithCache(mem)

	_, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	stats, err := ParseStats([]byte(happyStats))
	require.NoError(t, err)
	res, err := d.WithStats(stats).Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, diagnose.RarityNormal, res.RarityCategory())
}

func TestDiagnose_Cancelled(t *testing.T) {
	d := newDiagnoser(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Diagnose(ctx, happy(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiagnose_InvalidExpression(t *testing.T) {
	d := newDiagnoser(t, testConfig())
	_, err := d.Diagnose(context.Background(), model.Expression{})
	assert.ErrorIs(t, err, diagnose.ErrInvalidValue)
}

func TestDiagnose_WitnessSearch(t *testing.T) {
	cfg := testConfig()
	cfg.Witness.Enabled = true
	cfg.Witness.MaxIterations = 500
	cfg.Witness.Seed = 7
	d := newDiagnoser(t, cfg)

	res, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)
	require.NotNil(t, res.Witness())
	assert.NotNil(t, res.Witness().State())
}

func TestDiagnose_NarrativeKeptApart(t *testing.T) {
	stats, err := ParseStats([]byte(happyStats))
	require.NoError(t, err)
	summarizer := llm.NewSummarizerWithProvider(&stubProvider{text: "Blocked by [[clause_1]]."}, llm.Config{StrictClauses: true})
	d := newDiagnoser(t, testConfig()).WithStats(stats).WithSummarizer(summarizer)

	res, err := d.Diagnose(context.Background(), happy(t))
	require.NoError(t, err)

	n := d.Narrative("happy")
	require.NotNil(t, n)
	assert.True(t, n.Enabled)
	assert.Equal(t, []string{"clause_1"}, n.CitedClauses)
	assert.Equal(t, diagnose.RarityNormal, res.RarityCategory())
	assert.Nil(t, d.Narrative("other"))
}

func TestParseStats_Invalid(t *testing.T) {
	_, err := ParseStats([]byte(`
broken:
  monte_carlo:
    trigger_rate: 2
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, diagnose.ErrInvalidValue)
	assert.Contains(t, err.Error(), "broken")

	_, err = ParseStats([]byte(`
broken:
  clauses:
    - failure_rate: 0.2
`))
	assert.ErrorIs(t, err, diagnose.ErrInvalidValue)
}

func TestLoadStats_MissingFile(t *testing.T) {
	_, err := LoadStats("/nonexistent/stats.yaml")
	assert.Error(t, err)
}
