package smt

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/feasia/internal/model"
)

type fakePrototypes map[string]*model.Prototype

func (f fakePrototypes) Prototype(category, id string) (*model.Prototype, bool) {
	p, ok := f[category+"/"+id]
	return p, ok
}

func testPrototypes(t *testing.T) fakePrototypes {
	t.Helper()
	joy, err := model.NewPrototype("joy", model.CategoryEmotion,
		map[string]float64{"valence": 1, "arousal": 0.5},
		[]model.Gate{{Axis: "valence", Op: model.OpGTE, Threshold: 0.2}}, nil)
	require.NoError(t, err)
	return fakePrototypes{"emotion/joy": joy}
}

func cond(op, path string, v float64) map[string]any {
	return map[string]any{op: []any{map[string]any{"var": path}, v}}
}

func TestEncode_Script(t *testing.T) {
	expr := model.Expression{
		ID: "smile",
		Prerequisites: []model.Prerequisite{
			{Logic: cond(">=", "emotions.joy", 0.5), FailureMessage: "not happy"},
			{Logic: cond("<", "moodAxes.threat", -20)},
			{Logic: cond(">=", "sexualArousal", 0.3)},
		},
	}
	script, err := Encode(expr, testPrototypes(t), nil)
	require.NoError(t, err)

	text := script.Text
	assert.True(t, strings.HasPrefix(text, "(set-option :produce-unsat-cores true)\n(set-logic QF_LRA)\n"))
	assert.Contains(t, text, "(declare-const |axis.valence| Real)")
	assert.Contains(t, text, "(assert (and (>= |axis.valence| (- 1.0)) (<= |axis.valence| 1.0)))")
	assert.Contains(t, text, "(declare-const |axis.sex_excitation| Real)")
	assert.Contains(t, text, "(define-fun |axis.sexual_arousal| () Real")
	assert.Contains(t, text, "(define-fun |emotion.joy| () Real (ite (>= |axis.valence| 0.2)")
	assert.Contains(t, text, "(assert (! (>= |emotion.joy| 0.5) :named clause_1))")
	assert.Contains(t, text, "(assert (! (< (* 100.0 |axis.threat|) (- 20.0)) :named clause_2))")
	assert.Contains(t, text, "(assert (! (>= |axis.sexual_arousal| 0.3) :named clause_3))")
	assert.True(t, strings.HasSuffix(text, "(check-sat)\n(get-unsat-core)\n"))
	assert.NotContains(t, text, "declare-const |axis.sexual_arousal|")

	assert.Equal(t, "emotions.joy >= 0.5: not happy", script.Clauses["clause_1"])
	assert.Len(t, script.Clauses, 3)
}

func TestEncode_UnresolvedAndMalformedAreFalse(t *testing.T) {
	expr := model.Expression{
		ID: "odd",
		Prerequisites: []model.Prerequisite{
			{Logic: cond(">=", "emotions.missing", 0.5)},
			{Logic: map[string]any{"frobnicate": []any{1, 2}}},
			{Logic: map[string]any{"or": []any{}}},
			{Logic: map[string]any{"and": []any{}}},
		},
	}
	script, err := Encode(expr, testPrototypes(t), nil)
	require.NoError(t, err)
	assert.Contains(t, script.Text, "(assert (! false :named clause_1))")
	assert.Contains(t, script.Text, "(assert (! false :named clause_2))")
	assert.Contains(t, script.Text, "(assert (! false :named clause_3))")
	assert.Contains(t, script.Text, "(assert (! true :named clause_4))")
	assert.NotContains(t, script.Text, "declare-const")
}

func TestEncode_RequiresPrototypes(t *testing.T) {
	_, err := Encode(model.Expression{ID: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestDecimal(t *testing.T) {
	tests := map[float64]string{0: "0.0", 1: "1.0", 0.25: "0.25", -0.5: "(- 0.5)", 100: "100.0"}
	for in, want := range tests {
		if got := decimal(in); got != want {
			t.Errorf("decimal(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestParseOutput(t *testing.T) {
	clauses := map[string]string{"clause_1": "emotions.joy >= 0.5", "clause_2": "moodAxes.valence < -50"}

	res, err := ParseOutput([]byte("sat\n(error \"line 9 column 10: unsat core is not available\")\n"), clauses)
	require.NoError(t, err)
	assert.Equal(t, StatusSat, res.Status)
	assert.Empty(t, res.UnsatCore)

	res, err = ParseOutput([]byte("\nunsat\n(clause_2 clause_1)\n"), clauses)
	require.NoError(t, err)
	assert.Equal(t, StatusUnsat, res.Status)
	assert.Equal(t, []string{"clause_1: emotions.joy >= 0.5", "clause_2: moodAxes.valence < -50"}, res.UnsatCore)

	res, err = ParseOutput([]byte("unknown\n"), clauses)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.Status)

	_, err = ParseOutput([]byte(""), clauses)
	assert.ErrorContains(t, err, "no verdict")

	_, err = ParseOutput([]byte("(error \"bad\")\n"), clauses)
	assert.ErrorContains(t, err, "unexpected line")
}

func TestExecSolver_Check(t *testing.T) {
	s := NewExecSolver("", nil, time.Second)
	var gotBinary string
	var gotArgs []string
	var gotStdin string
	s.run = func(ctx context.Context, binary string, args []string, stdin string) ([]byte, error) {
		gotBinary, gotArgs, gotStdin = binary, args, stdin
		return []byte("unsat\n(clause_1)\n"), nil
	}

	res, err := s.Check(context.Background(), Script{Text: "(check-sat)\n", Clauses: map[string]string{"clause_1": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "z3", gotBinary)
	assert.Equal(t, []string{"-in", "-smt2"}, gotArgs)
	assert.Equal(t, "(check-sat)\n", gotStdin)
	assert.Equal(t, StatusUnsat, res.Status)
	assert.Equal(t, "z3", res.Solver)
	assert.Equal(t, []string{"clause_1: a"}, res.UnsatCore)
}

func TestExecSolver_TimeoutIsUnknown(t *testing.T) {
	s := NewExecSolver("z3", nil, 10*time.Millisecond)
	s.run = func(ctx context.Context, _ string, _ []string, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	res, err := s.Check(context.Background(), Script{})
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, res.Status)
}

func TestExecSolver_Errors(t *testing.T) {
	s := NewExecSolver("z3", nil, 0)
	s.run = func(context.Context, string, []string, string) ([]byte, error) {
		return nil, &exec.Error{Name: "z3", Err: exec.ErrNotFound}
	}
	_, err := s.Check(context.Background(), Script{})
	assert.ErrorIs(t, err, ErrUnavailable)

	s.run = func(context.Context, string, []string, string) ([]byte, error) {
		return nil, errors.New("boom")
	}
	_, err = s.Check(context.Background(), Script{})
	assert.ErrorContains(t, err, "run solver z3: boom")
}

func TestHealthCache(t *testing.T) {
	h := NewHealthCache(time.Minute)
	calls := 0
	h.lookup = func(binary string) (string, error) {
		calls++
		if binary == "z3" {
			return "/usr/bin/z3", nil
		}
		return "", exec.ErrNotFound
	}

	assert.True(t, h.Available("z3"))
	assert.True(t, h.Available("z3"))
	assert.False(t, h.Available("cvc5"))
	assert.Equal(t, 2, calls)

	h.Invalidate("z3")
	assert.True(t, h.Available("z3"))
	assert.Equal(t, 3, calls)

	s := NewExecSolver("cvc5", nil, 0).WithHealthCache(h)
	assert.False(t, s.Available(context.Background()))
	assert.Equal(t, 3, calls, "Expected the shared cache to answer")
}
