package bounds

import (
	"math"
	"sort"

	"github.com/ppiankov/feasia/internal/model"
)

// SourceExpression marks a constraint that comes from an expression clause
// rather than a prototype gate
const SourceExpression = "expression"

// Constraint is one "axis op threshold" condition with its provenance
type Constraint struct {
	Axis      string         `json:"axis"`
	Op        model.Operator `json:"op"`
	Threshold float64        `json:"threshold"`
	Source    string         `json:"source"` // prototype id or SourceExpression
	Label     string         `json:"label"`  // human-readable form
}

// FromGate wraps a prototype gate as a constraint
func FromGate(prototypeID string, g model.Gate) Constraint {
	return Constraint{Axis: g.Axis, Op: g.Op, Threshold: g.Threshold, Source: prototypeID, Label: g.String()}
}

// GateConflict records an axis whose constraints cannot be satisfied together
type GateConflict struct {
	Axis        string   `json:"axis"`
	RequiredMin float64  `json:"requiredMin"`
	RequiredMax float64  `json:"requiredMax"`
	Prototypes  []string `json:"prototypes"`
	Gates       []string `json:"gates"`
}

// AxisBounds is the folded result for one axis
type AxisBounds struct {
	Interval   Interval
	Default    Interval
	Prototypes []string // prototype sources, sorted, excluding SourceExpression
	Gates      []string // constraint labels in input order
}

// Narrowed reports whether any constraint tightened the default range
func (b AxisBounds) Narrowed() bool {
	return b.Interval != b.Default
}

// GateResult holds the per-axis folds of one conjunction
type GateResult struct {
	Axes      map[string]AxisBounds
	Conflicts []GateConflict
}

// Interval returns the effective interval for an axis, or its default range if
// nothing constrained it
func (r GateResult) Interval(axis string, catalog *model.Catalog) Interval {
	if b, ok := r.Axes[axis]; ok {
		return b.Interval
	}
	return DefaultRange(axis, catalog)
}

// HasConflicts reports whether any axis is unsatisfiable
func (r GateResult) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// GateAnalyzer derives the tightest interval per axis from a conjunction of constraints
type GateAnalyzer struct {
	catalog *model.Catalog
}

// NewGateAnalyzer creates an analyzer over the given catalog. A nil catalog
// uses the default one.
func NewGateAnalyzer(catalog *model.Catalog) *GateAnalyzer {
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	return &GateAnalyzer{catalog: catalog}
}

// Catalog returns the analyzer's axis catalog
func (a *GateAnalyzer) Catalog() *model.Catalog {
	return a.catalog
}

// DefaultRange returns the normalized range of a known axis, or [-1, 1] for
// axes the catalog does not know
func DefaultRange(axis string, catalog *model.Catalog) Interval {
	if catalog != nil {
		if ax, ok := catalog.Get(axis); ok {
			return AxisRange(ax)
		}
	}
	return Interval{Min: -1, Max: 1}
}

// Analyze folds ApplyConstraint over each axis's default range. Constraints
// with an unsupported operator are skipped.
func (a *GateAnalyzer) Analyze(constraints []Constraint) GateResult {
	type fold struct {
		bounds     AxisBounds
		lower      float64
		upper      float64
		prototypes map[string]bool
	}

	folds := make(map[string]*fold)
	var order []string

	for _, c := range constraints {
		f, ok := folds[c.Axis]
		if !ok {
			def := DefaultRange(c.Axis, a.catalog)
			f = &fold{
				bounds:     AxisBounds{Interval: def, Default: def},
				lower:      def.Min,
				upper:      def.Max,
				prototypes: make(map[string]bool),
			}
			folds[c.Axis] = f
			order = append(order, c.Axis)
		}

		next, err := f.bounds.Interval.ApplyConstraint(c.Op, c.Threshold)
		if err != nil {
			continue
		}
		f.bounds.Interval = next
		f.bounds.Gates = append(f.bounds.Gates, c.Label)
		if c.Source != "" && c.Source != SourceExpression {
			f.prototypes[c.Source] = true
		}

		switch c.Op {
		case model.OpGTE, model.OpGT:
			f.lower = math.Max(f.lower, c.Threshold)
		case model.OpLTE, model.OpLT:
			f.upper = math.Min(f.upper, c.Threshold)
		case model.OpEQ:
			f.lower = math.Max(f.lower, c.Threshold)
			f.upper = math.Min(f.upper, c.Threshold)
		}
	}

	result := GateResult{Axes: make(map[string]AxisBounds, len(folds))}
	for _, axis := range order {
		f := folds[axis]
		f.bounds.Prototypes = model.SortedNames(f.prototypes)
		result.Axes[axis] = f.bounds
		if f.bounds.Interval.IsEmpty() {
			result.Conflicts = append(result.Conflicts, GateConflict{
				Axis:        axis,
				RequiredMin: f.lower,
				RequiredMax: f.upper,
				Prototypes:  f.bounds.Prototypes,
				Gates:       append([]string(nil), f.bounds.Gates...),
			})
		}
	}

	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].Axis < result.Conflicts[j].Axis
	})
	return result
}
