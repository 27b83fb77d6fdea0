package reach

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/feasia/internal/bounds"
	"github.com/ppiankov/feasia/internal/gap"
	"github.com/ppiankov/feasia/internal/logic"
	"github.com/ppiankov/feasia/internal/model"
)

// ErrMissingPrototypes is returned when the analyzer is built without a
// prototype source
var ErrMissingPrototypes = errors.New("reach: prototype source is required")

// Prototypes is the read-only prototype lookup the analyzer consumes
type Prototypes interface {
	Prototype(category, id string) (*model.Prototype, bool)
	All() []*model.Prototype
}

// Config tunes the analyzer
type Config struct {
	MaxBranches        int     `yaml:"max_branches" mapstructure:"max_branches"`
	KnifeEdgeThreshold float64 `yaml:"knife_edge_threshold" mapstructure:"knife_edge_threshold"`
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{MaxBranches: DefaultMaxBranches, KnifeEdgeThreshold: DefaultKnifeEdgeThreshold}
}

// Analyzer runs the static reachability analysis
type Analyzer struct {
	cfg        Config
	catalog    *model.Catalog
	gates      *bounds.GateAnalyzer
	prototypes Prototypes
	gaps       *gap.Synthesizer
}

// NewAnalyzer creates an analyzer. A nil catalog uses the default one; a nil
// synthesizer disables gap analysis.
func NewAnalyzer(prototypes Prototypes, catalog *model.Catalog, cfg Config, synth *gap.Synthesizer) (*Analyzer, error) {
	if prototypes == nil {
		return nil, ErrMissingPrototypes
	}
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	def := DefaultConfig()
	if cfg.MaxBranches <= 0 {
		cfg.MaxBranches = def.MaxBranches
	}
	if cfg.KnifeEdgeThreshold <= 0 {
		cfg.KnifeEdgeThreshold = def.KnifeEdgeThreshold
	}
	return &Analyzer{
		cfg:        cfg,
		catalog:    catalog,
		gates:      bounds.NewGateAnalyzer(catalog),
		prototypes: prototypes,
		gaps:       synth,
	}, nil
}

// requirement is a prototype intensity condition on a branch
type requirement struct {
	category  string
	id        string
	op        model.Operator
	threshold float64
	direction Direction
}

// gatesRequired reports whether the requirement can only hold with the
// prototype's gates passing, i.e. a zero intensity does not satisfy it
func (r requirement) gatesRequired() bool {
	return !r.op.Holds(0, r.threshold)
}

// Analyze enumerates the expression's branches and computes per-branch axis
// bounds, conflicts, knife edges and prototype reachability
func (a *Analyzer) Analyze(expr *model.Expression) *PathSensitiveResult {
	res := &PathSensitiveResult{ReachabilityByBranch: make(map[string][]BranchReachability)}
	if expr == nil {
		return res
	}
	res.ExpressionID = expr.ID

	// 1. Enumerate conjunctive paths; prerequisites are an implicit AND
	nodes := make([]logic.Node, 0, len(expr.Prerequisites))
	for _, p := range expr.Prerequisites {
		nodes = append(nodes, logic.Parse(p.Logic))
	}
	en := &enumerator{max: a.cfg.MaxBranches}
	paths := en.conjunction(nodes, false)
	res.Truncated = en.truncated
	res.Warnings = append(append([]string(nil), expr.Warnings...), en.warnings...)

	// 2. Analyze each branch independently
	bestVolume := -1.0
	for _, p := range paths {
		branch, entries, volume, target := a.analyzeBranch(p, res)
		res.Branches = append(res.Branches, branch)
		if !branch.IsInfeasible() {
			res.ReachabilityByBranch[branch.BranchID] = entries
			bestVolume = math.Max(bestVolume, volume)
		}

		// 3. Hand blocked branches to the gap synthesizer
		if a.gaps != nil && len(target) > 0 && (branch.IsInfeasible() || !allReachable(entries)) {
			g := a.gaps.Analyze(branch.BranchID, target, a.prototypes.All())
			if g.GapDetected {
				res.Gaps = append(res.Gaps, g)
			}
		}
	}
	if bestVolume >= 0 {
		res.FeasibilityVolume = &bestVolume
	}
	if res.Truncated {
		res.Warnings = append(res.Warnings, "branch enumeration truncated")
	}
	return res
}

func (a *Analyzer) analyzeBranch(p path, res *PathSensitiveResult) (AnalysisBranch, []BranchReachability, float64, map[string]bounds.Interval) {
	branch := AnalysisBranch{BranchID: p.id()}

	// 1. Split leaves into axis constraints and prototype requirements
	var exprConstraints []bounds.Constraint
	var reqs []requirement
	labels := make([]string, 0, len(p.leaves))
	for _, leaf := range p.leaves {
		labels = append(labels, leaf.Label)
		switch leaf.Ref.Kind {
		case logic.RefAxis:
			if !a.catalog.Has(leaf.Ref.Key) {
				res.Warnings = appendUnique(res.Warnings, "ignored comparison on unknown axis: "+leaf.Label)
				continue
			}
			exprConstraints = append(exprConstraints, bounds.Constraint{
				Axis:      leaf.Ref.Key,
				Op:        leaf.Op,
				Threshold: leaf.Normalized(),
				Source:    bounds.SourceExpression,
				Label:     leaf.Label,
			})
		case logic.RefPrototype:
			reqs = append(reqs, requirementsFor(leaf)...)
		default:
			res.Warnings = appendUnique(res.Warnings, "ignored unresolved variable: "+leaf.Label)
		}
	}
	if len(labels) == 0 {
		branch.Description = "unconstrained"
	} else {
		branch.Description = strings.Join(labels, " AND ")
	}

	// 2. Resolve prototypes and fold in every gate a requirement depends on
	resolved := make(map[string]*model.Prototype)
	required := make(map[string]bool)
	constraints := append([]bounds.Constraint(nil), exprConstraints...)
	for _, r := range reqs {
		key := r.category + "/" + r.id
		if _, seen := resolved[key]; !seen {
			proto, ok := a.prototypes.Prototype(r.category, r.id)
			if !ok {
				res.Warnings = appendUnique(res.Warnings, "unknown prototype "+r.category+" "+r.id)
			}
			resolved[key] = proto
		}
		required[r.id] = true
		proto := resolved[key]
		if proto == nil || !r.gatesRequired() {
			continue
		}
		for _, g := range proto.Gates {
			constraints = append(constraints, bounds.FromGate(proto.ID, g))
		}
	}
	branch.RequiredPrototypes = model.SortedNames(required)

	target := a.targetRegion(exprConstraints)

	// 3. Intersect; conflicts short-circuit the intensity computation
	gr := a.gates.Analyze(constraints)
	branch.Axes = make(map[string]bounds.Interval, len(gr.Axes))
	for axis, b := range gr.Axes {
		branch.Axes[axis] = b.Interval
	}
	if gr.HasConflicts() {
		branch.Conflicts = gr.Conflicts
		return branch, nil, 0, target
	}

	// 4. Knife edges and feasibility volume over constrained axes
	volume := 1.0
	axes := make([]string, 0, len(gr.Axes))
	for axis := range gr.Axes {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		b := gr.Axes[axis]
		if !b.Narrowed() {
			continue
		}
		if w := b.Default.Width(); w > 0 {
			volume *= b.Interval.Width() / w
		}
		if b.Interval.Width() <= a.cfg.KnifeEdgeThreshold {
			branch.KnifeEdges = append(branch.KnifeEdges, KnifeEdge{
				Axis:                   axis,
				Min:                    b.Interval.Min,
				Max:                    b.Interval.Max,
				ContributingPrototypes: b.Prototypes,
				ContributingGates:      b.Gates,
			})
		}
	}

	// 5. Intensity bounds per requirement
	box := func(axis string) bounds.Interval { return gr.Interval(axis, a.catalog) }
	entries := make([]BranchReachability, 0, len(reqs))
	for _, r := range reqs {
		proto := resolved[r.category+"/"+r.id]
		entry := BranchReachability{
			BranchID:          branch.BranchID,
			BranchDescription: branch.Description,
			PrototypeID:       r.id,
			Type:              r.category,
			Op:                r.op,
			Threshold:         r.threshold,
			Direction:         r.direction,
		}
		if proto == nil {
			entry.Missing = true
		} else {
			entry.MinPossible, entry.MaxPossible = intensityBounds(proto, r.gatesRequired(), box)
		}
		entries = append(entries, entry)
	}
	return branch, entries, volume, target
}

// intensityBounds returns the achievable intensity range of a prototype over a
// branch box. When the gates were not folded into the box, intensity is the
// gated range plus 0 wherever some gate can fail.
func intensityBounds(p *model.Prototype, gatesFolded bool, box bounds.Box) (float64, float64) {
	if gatesFolded {
		return bounds.IntensityRange(p, box)
	}
	gated, ok := bounds.WithGates(p.Gates, box)
	if !ok {
		return 0, 0
	}
	lo, hi := bounds.IntensityRange(p, gated)
	if bounds.GatesCanFail(p.Gates, box) {
		lo, hi = math.Min(lo, 0), math.Max(hi, 0)
	}
	return lo, hi
}

// targetRegion returns the axis intervals the expression itself asks for
func (a *Analyzer) targetRegion(exprConstraints []bounds.Constraint) map[string]bounds.Interval {
	if len(exprConstraints) == 0 {
		return nil
	}
	gr := a.gates.Analyze(exprConstraints)
	target := make(map[string]bounds.Interval, len(gr.Axes))
	for axis, b := range gr.Axes {
		if !b.Interval.IsEmpty() {
			target[axis] = b.Interval
		}
	}
	return target
}

func requirementsFor(leaf logic.Leaf) []requirement {
	base := requirement{category: leaf.Ref.Category, id: leaf.Ref.Key, op: leaf.Op, threshold: leaf.Threshold}
	switch leaf.Op {
	case model.OpGTE, model.OpGT:
		base.direction = DirectionHigh
		return []requirement{base}
	case model.OpLTE, model.OpLT:
		base.direction = DirectionLow
		return []requirement{base}
	case model.OpEQ:
		high, low := base, base
		high.op, high.direction = model.OpGTE, DirectionHigh
		low.op, low.direction = model.OpLTE, DirectionLow
		return []requirement{high, low}
	}
	return nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
