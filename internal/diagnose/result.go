package diagnose

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/feasia/internal/bounds"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/reach"
	"github.com/ppiankov/feasia/internal/witness"
)

// nowFunc is overridable in tests
var nowFunc = time.Now

// SMTStatus is the verdict of an external solver
type SMTStatus string

const (
	SMTSat     SMTStatus = "sat"
	SMTUnsat   SMTStatus = "unsat"
	SMTUnknown SMTStatus = "unknown"
)

// SMTResult is the outcome of an SMT confirmation run
type SMTResult struct {
	Solver    string    `json:"solver,omitempty"`
	Status    SMTStatus `json:"status"`
	UnsatCore []string  `json:"unsatCore"`
}

// Satisfiable returns nil when the solver could not decide
func (r SMTResult) Satisfiable() *bool {
	var v bool
	switch r.Status {
	case SMTSat:
		v = true
	case SMTUnsat:
		v = false
	default:
		return nil
	}
	return &v
}

// StaticSummary is the part of a static analysis a diagnosis keeps
type StaticSummary struct {
	Status                reach.Status               `json:"status,omitempty"`
	BranchCount           int                        `json:"branchCount"`
	FeasibleBranchCount   int                        `json:"feasibleBranchCount"`
	FeasibilityVolume     *float64                   `json:"feasibilityVolume,omitempty"`
	GateConflicts         []bounds.GateConflict      `json:"gateConflicts"`
	UnreachableThresholds []reach.BranchReachability `json:"unreachableThresholds"`
	KnifeEdges            []reach.KnifeEdge          `json:"knifeEdges"`
	Warnings              []string                   `json:"warnings,omitempty"`
}

// DiagnosticResult accumulates every verdict for one expression. Setters may
// be called in any order and any number of times; once impossible, a result
// stays impossible.
type DiagnosticResult struct {
	expressionID        string
	timestamp           time.Time
	isImpossible        bool
	impossibilityReason string

	static       *StaticSummary
	monteCarlo   *MonteCarloResult
	witness      *witness.Result
	smt          *SMTResult
	explanations []Explanation
	suggestions  []Suggestion
}

// NewDiagnosticResult creates an empty result for an expression
func NewDiagnosticResult(expressionID string) (*DiagnosticResult, error) {
	if strings.TrimSpace(expressionID) == "" {
		return nil, fmt.Errorf("%w: expressionId is required", ErrInvalidValue)
	}
	return &DiagnosticResult{expressionID: expressionID, timestamp: nowFunc().UTC()}, nil
}

func (d *DiagnosticResult) markImpossible(reason string) {
	if !d.isImpossible {
		d.isImpossible = true
		d.impossibilityReason = reason
	}
}

// SetStaticAnalysis records the static verdict. A static proof of
// impossibility latches the result.
func (d *DiagnosticResult) SetStaticAnalysis(res *reach.PathSensitiveResult) *DiagnosticResult {
	if res == nil {
		return d
	}
	d.static = &StaticSummary{
		Status:                res.OverallStatus(),
		BranchCount:           res.BranchCount(),
		FeasibleBranchCount:   res.FeasibleBranchCount(),
		GateConflicts:         cloneConflicts(res.Conflicts()),
		UnreachableThresholds: cloneSlice(res.UnreachableThresholds()),
		KnifeEdges:            cloneKnifeEdges(res.AllKnifeEdges()),
		Warnings:              cloneSlice(res.Warnings),
	}
	if res.FeasibilityVolume != nil {
		v := *res.FeasibilityVolume
		d.static.FeasibilityVolume = &v
	}
	if impossible, reason := res.StaticallyImpossible(); impossible {
		d.markImpossible("static analysis: " + reason)
	}
	return d
}

// SetMonteCarloResults records externally computed sampling statistics
func (d *DiagnosticResult) SetMonteCarloResults(mc MonteCarloResult) *DiagnosticResult {
	c := mc
	c.ClauseFailures = cloneSlice(mc.ClauseFailures)
	if mc.ConfidenceInterval != nil {
		ci := *mc.ConfidenceInterval
		c.ConfidenceInterval = &ci
	}
	d.monteCarlo = &c
	return d
}

// SetWitnessResult records the outcome of a witness search
func (d *DiagnosticResult) SetWitnessResult(w witness.Result) *DiagnosticResult {
	d.witness = cloneWitness(&w)
	return d
}

// SetSMTResult records a solver verdict. An unsat verdict latches the result.
func (d *DiagnosticResult) SetSMTResult(r SMTResult) *DiagnosticResult {
	c := r
	c.UnsatCore = cloneSlice(r.UnsatCore)
	d.smt = &c
	if r.Status == SMTUnsat {
		reason := "SMT solver proved the prerequisites unsatisfiable"
		if len(r.UnsatCore) > 0 {
			reason += " (core: " + strings.Join(r.UnsatCore, ", ") + ")"
		}
		d.markImpossible(reason)
	}
	return d
}

// SetExplanations records ranked clause explanations
func (d *DiagnosticResult) SetExplanations(e []Explanation) *DiagnosticResult {
	d.explanations = cloneExplanations(e)
	return d
}

// SetSuggestions records fix suggestions
func (d *DiagnosticResult) SetSuggestions(s []Suggestion) *DiagnosticResult {
	d.suggestions = cloneSuggestions(s)
	return d
}

// ExpressionID returns the diagnosed expression's id
func (d *DiagnosticResult) ExpressionID() string { return d.expressionID }

// Timestamp returns the creation time
func (d *DiagnosticResult) Timestamp() time.Time { return d.timestamp }

// IsImpossible reports whether static analysis or SMT proved impossibility
func (d *DiagnosticResult) IsImpossible() bool { return d.isImpossible }

// ImpossibilityReason explains IsImpossible
func (d *DiagnosticResult) ImpossibilityReason() string { return d.impossibilityReason }

// GateConflicts returns a copy of the static gate conflicts
func (d *DiagnosticResult) GateConflicts() []bounds.GateConflict {
	if d.static == nil {
		return nil
	}
	return cloneConflicts(d.static.GateConflicts)
}

// UnreachableThresholds returns a copy of the static unreachable thresholds
func (d *DiagnosticResult) UnreachableThresholds() []reach.BranchReachability {
	if d.static == nil {
		return nil
	}
	return cloneSlice(d.static.UnreachableThresholds)
}

// Static returns a copy of the static summary, or nil
func (d *DiagnosticResult) Static() *StaticSummary {
	if d.static == nil {
		return nil
	}
	c := *d.static
	c.GateConflicts = cloneConflicts(c.GateConflicts)
	c.UnreachableThresholds = cloneSlice(c.UnreachableThresholds)
	c.KnifeEdges = cloneKnifeEdges(c.KnifeEdges)
	c.Warnings = cloneSlice(c.Warnings)
	return &c
}

// MonteCarlo returns a copy of the sampling statistics, or nil
func (d *DiagnosticResult) MonteCarlo() *MonteCarloResult {
	if d.monteCarlo == nil {
		return nil
	}
	c := *d.monteCarlo
	c.ClauseFailures = cloneSlice(c.ClauseFailures)
	return &c
}

// Witness returns a copy of the witness search result, or nil
func (d *DiagnosticResult) Witness() *witness.Result {
	if d.witness == nil {
		return nil
	}
	return cloneWitness(d.witness)
}

// SMT returns a copy of the solver verdict, or nil
func (d *DiagnosticResult) SMT() *SMTResult {
	if d.smt == nil {
		return nil
	}
	c := *d.smt
	c.UnsatCore = cloneSlice(c.UnsatCore)
	return &c
}

// Explanations returns a copy of the ranked clause explanations
func (d *DiagnosticResult) Explanations() []Explanation { return cloneExplanations(d.explanations) }

// Suggestions returns a copy of the fix suggestions
func (d *DiagnosticResult) Suggestions() []Suggestion { return cloneSuggestions(d.suggestions) }

// TriggerRate returns the sampled trigger rate, or nil without sampling data
func (d *DiagnosticResult) TriggerRate() *float64 {
	if d.monteCarlo == nil {
		return nil
	}
	r := d.monteCarlo.TriggerRate
	return &r
}

// RarityCategory classifies the expression. A proof of impossibility wins;
// without sampling data the category is unknown.
func (d *DiagnosticResult) RarityCategory() RarityCategory {
	if d.isImpossible {
		return RarityImpossible
	}
	if d.monteCarlo == nil {
		return RarityUnknown
	}
	return RarityCategoryForRate(d.monteCarlo.TriggerRate)
}

// StatusIndicator returns the display triple of the rarity category
func (d *DiagnosticResult) StatusIndicator() StatusIndicator {
	return d.RarityCategory().Indicator()
}

type witnessJSON struct {
	Found           bool                `json:"found"`
	State           *model.WitnessState `json:"state"`
	IterationsUsed  int                 `json:"iterationsUsed"`
	Restarts        int                 `json:"restarts"`
	ViolatedClauses []string            `json:"violatedClauses"`
}

type smtJSON struct {
	Solver      string    `json:"solver,omitempty"`
	Status      SMTStatus `json:"status"`
	Satisfiable *bool     `json:"satisfiable"`
	UnsatCore   []string  `json:"unsatCore"`
}

type resultJSON struct {
	ExpressionID        string            `json:"expressionId"`
	Timestamp           string            `json:"timestamp"`
	RarityCategory      RarityCategory    `json:"rarityCategory"`
	StatusIndicator     StatusIndicator   `json:"statusIndicator"`
	IsImpossible        bool              `json:"isImpossible"`
	ImpossibilityReason string            `json:"impossibilityReason,omitempty"`
	StaticAnalysis      *StaticSummary    `json:"staticAnalysis"`
	MonteCarlo          *MonteCarloResult `json:"monteCarlo"`
	Witness             *witnessJSON      `json:"witness"`
	SMT                 *smtJSON          `json:"smt"`
	Explanations        []Explanation     `json:"explanations"`
	Suggestions         []Suggestion      `json:"suggestions"`
}

// MarshalJSON renders the plain output record
func (d *DiagnosticResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		ExpressionID:        d.expressionID,
		Timestamp:           d.timestamp.Format(time.RFC3339),
		RarityCategory:      d.RarityCategory(),
		StatusIndicator:     d.StatusIndicator(),
		IsImpossible:        d.isImpossible,
		ImpossibilityReason: d.impossibilityReason,
		StaticAnalysis:      d.Static(),
		MonteCarlo:          d.MonteCarlo(),
		Explanations:        nonNilSlice(d.explanations),
		Suggestions:         nonNilSlice(d.suggestions),
	}
	if out.StaticAnalysis == nil {
		out.StaticAnalysis = &StaticSummary{}
	}
	out.StaticAnalysis.GateConflicts = nonNilSlice(out.StaticAnalysis.GateConflicts)
	out.StaticAnalysis.UnreachableThresholds = nonNilSlice(out.StaticAnalysis.UnreachableThresholds)
	out.StaticAnalysis.KnifeEdges = nonNilSlice(out.StaticAnalysis.KnifeEdges)
	if out.MonteCarlo != nil {
		out.MonteCarlo.ClauseFailures = nonNilSlice(out.MonteCarlo.ClauseFailures)
	}
	if w := d.witness; w != nil {
		out.Witness = &witnessJSON{
			Found:           w.Found,
			State:           w.State(),
			IterationsUsed:  w.IterationsUsed,
			Restarts:        w.Restarts,
			ViolatedClauses: nonNilSlice(w.ViolatedClauses),
		}
	}
	if s := d.smt; s != nil {
		out.SMT = &smtJSON{
			Solver:      s.Solver,
			Status:      s.Status,
			Satisfiable: s.Satisfiable(),
			UnsatCore:   nonNilSlice(s.UnsatCore),
		}
	}
	return json.Marshal(out)
}

// ToJSON is MarshalJSON with indentation
func (d *DiagnosticResult) ToJSON() ([]byte, error) {
	raw, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(v, "", "  ")
}

// UnmarshalJSON restores a result written by MarshalJSON. Derived fields are
// recomputed rather than read back.
func (d *DiagnosticResult) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode diagnostic result: %w", err)
	}
	if strings.TrimSpace(in.ExpressionID) == "" {
		return fmt.Errorf("%w: expressionId is required", ErrInvalidValue)
	}
	ts, err := time.Parse(time.RFC3339, in.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q: %v", ErrInvalidValue, in.Timestamp, err)
	}

	*d = DiagnosticResult{
		expressionID:        in.ExpressionID,
		timestamp:           ts,
		isImpossible:        in.IsImpossible,
		impossibilityReason: in.ImpossibilityReason,
		static:              in.StaticAnalysis,
		monteCarlo:          in.MonteCarlo,
		explanations:        in.Explanations,
		suggestions:         in.Suggestions,
	}
	if w := in.Witness; w != nil {
		res := &witness.Result{
			Found:           w.Found,
			IterationsUsed:  w.IterationsUsed,
			Restarts:        w.Restarts,
			ViolatedClauses: w.ViolatedClauses,
		}
		if w.State != nil && w.State.IsExact {
			res.Witness = w.State
		} else {
			res.NearestMiss = w.State
		}
		d.witness = res
	}
	if s := in.SMT; s != nil {
		d.smt = &SMTResult{Solver: s.Solver, Status: s.Status, UnsatCore: s.UnsatCore}
	}
	return nil
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneConflicts(s []bounds.GateConflict) []bounds.GateConflict {
	out := cloneSlice(s)
	for i := range out {
		out[i].Prototypes = cloneSlice(out[i].Prototypes)
		out[i].Gates = cloneSlice(out[i].Gates)
	}
	return out
}

func cloneKnifeEdges(s []reach.KnifeEdge) []reach.KnifeEdge {
	out := cloneSlice(s)
	for i := range out {
		out[i].ContributingPrototypes = cloneSlice(out[i].ContributingPrototypes)
		out[i].ContributingGates = cloneSlice(out[i].ContributingGates)
	}
	return out
}

func cloneWitness(w *witness.Result) *witness.Result {
	c := *w
	c.ViolatedClauses = cloneSlice(w.ViolatedClauses)
	if w.Witness != nil {
		s := w.Witness.Clone()
		c.Witness = &s
	}
	if w.NearestMiss != nil {
		s := w.NearestMiss.Clone()
		c.NearestMiss = &s
	}
	return &c
}

func cloneExplanations(s []Explanation) []Explanation {
	out := cloneSlice(s)
	for i := range out {
		signals := cloneSlice(out[i].Signals)
		for j := range signals {
			if signals[j].Data != nil {
				data := make(map[string]interface{}, len(signals[j].Data))
				for k, v := range signals[j].Data {
					data[k] = v
				}
				signals[j].Data = data
			}
		}
		out[i].Signals = signals
	}
	return out
}

func cloneSuggestions(s []Suggestion) []Suggestion {
	out := cloneSlice(s)
	for i := range out {
		if p := out[i].Prototype; p != nil {
			c := *p
			if p.Weights != nil {
				c.Weights = make(map[string]float64, len(p.Weights))
				for k, v := range p.Weights {
					c.Weights[k] = v
				}
			}
			c.Gates = cloneSlice(p.Gates)
			c.Neighbors = cloneSlice(p.Neighbors)
			out[i].Prototype = &c
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
