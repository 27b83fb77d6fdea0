// Package reach implements path-sensitive static reachability analysis over an
// expression's AND/OR prerequisite structure.
package reach

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/feasia/internal/bounds"
	"github.com/ppiankov/feasia/internal/gap"
	"github.com/ppiankov/feasia/internal/model"
)

// DefaultKnifeEdgeThreshold is the width at or below which an effective axis
// interval is reported as brittle
const DefaultKnifeEdgeThreshold = 0.02

// warningWidth separates warning from info severity
const warningWidth = 0.01

// Direction is which side of a threshold a requirement needs
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Severity grades a knife edge
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Status is the overall reachability verdict of an expression
type Status string

const (
	StatusFullyReachable     Status = "fully_reachable"
	StatusPartiallyReachable Status = "partially_reachable"
	StatusUnreachable        Status = "unreachable"
)

// KnifeEdge is a brittle, near-unachievable axis window
type KnifeEdge struct {
	Axis                   string
	Min                    float64
	Max                    float64
	ContributingPrototypes []string
	ContributingGates      []string
}

// Width returns Max - Min
func (k KnifeEdge) Width() float64 {
	return k.Max - k.Min
}

// IsPoint reports whether the window is a single value
func (k KnifeEdge) IsPoint() bool {
	return k.Width() == 0
}

// Severity grades the edge: critical at width 0, warning up to 0.01, info above
func (k KnifeEdge) Severity() Severity {
	switch w := k.Width(); {
	case w == 0:
		return SeverityCritical
	case w <= warningWidth:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// IsBelowThreshold reports whether the width is at or below t
func (k KnifeEdge) IsBelowThreshold(t float64) bool {
	return k.Width() <= t
}

// RawMin returns Min on the display scale
func (k KnifeEdge) RawMin() int { return int(math.Round(k.Min * model.RawScale)) }

// RawMax returns Max on the display scale
func (k KnifeEdge) RawMax() int { return int(math.Round(k.Max * model.RawScale)) }

// RawWidth returns Width on the display scale
func (k KnifeEdge) RawWidth() int { return int(math.Round(k.Width() * model.RawScale)) }

func (k KnifeEdge) String() string {
	return fmt.Sprintf("%s in [%d, %d] (%s)", k.Axis, k.RawMin(), k.RawMax(), k.Severity())
}

type knifeEdgeJSON struct {
	Axis                   string   `json:"axis"`
	Min                    float64  `json:"min"`
	Max                    float64  `json:"max"`
	Width                  float64  `json:"width"`
	Severity               Severity `json:"severity"`
	ContributingPrototypes []string `json:"contributingPrototypes"`
	ContributingGates      []string `json:"contributingGates"`
}

// MarshalJSON includes the derived width and severity
func (k KnifeEdge) MarshalJSON() ([]byte, error) {
	return json.Marshal(knifeEdgeJSON{
		Axis:                   k.Axis,
		Min:                    k.Min,
		Max:                    k.Max,
		Width:                  k.Width(),
		Severity:               k.Severity(),
		ContributingPrototypes: nonNil(k.ContributingPrototypes),
		ContributingGates:      nonNil(k.ContributingGates),
	})
}

// UnmarshalJSON restores the stored fields; width and severity are derived
func (k *KnifeEdge) UnmarshalJSON(data []byte) error {
	var raw knifeEdgeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*k = KnifeEdge{
		Axis:                   raw.Axis,
		Min:                    raw.Min,
		Max:                    raw.Max,
		ContributingPrototypes: nonNil(raw.ContributingPrototypes),
		ContributingGates:      nonNil(raw.ContributingGates),
	}
	return nil
}

// ToJSON serializes the knife edge
func (k KnifeEdge) ToJSON() ([]byte, error) {
	return json.Marshal(k)
}

// KnifeEdgeFromJSON restores a knife edge serialized by ToJSON
func KnifeEdgeFromJSON(data []byte) (KnifeEdge, error) {
	var k KnifeEdge
	if err := json.Unmarshal(data, &k); err != nil {
		return KnifeEdge{}, fmt.Errorf("decode knife edge: %w", err)
	}
	return k, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// AnalysisBranch is one conjunctive path through the prerequisite tree
type AnalysisBranch struct {
	BranchID           string                     `json:"branchId"`
	Description        string                     `json:"description"`
	RequiredPrototypes []string                   `json:"requiredPrototypes"`
	Conflicts          []bounds.GateConflict      `json:"conflicts"`
	KnifeEdges         []KnifeEdge                `json:"knifeEdges"`
	Axes               map[string]bounds.Interval `json:"axes,omitempty"` // effective intervals of constrained axes
}

// IsInfeasible reports whether the branch has gate conflicts
func (b AnalysisBranch) IsInfeasible() bool {
	return len(b.Conflicts) > 0
}

// BranchReachability is the intensity range of one prototype requirement on
// one branch
type BranchReachability struct {
	BranchID          string         `json:"branchId"`
	BranchDescription string         `json:"branchDescription"`
	PrototypeID       string         `json:"prototypeId"`
	Type              string         `json:"type"` // prototype category
	Op                model.Operator `json:"op,omitempty"`
	Threshold         float64        `json:"threshold"`
	Direction         Direction      `json:"direction"`
	MinPossible       float64        `json:"minPossible"`
	MaxPossible       float64        `json:"maxPossible"`
	Missing           bool           `json:"missing,omitempty"` // prototype not in the registry
}

// IsReachable reports whether the relevant bound clears the threshold. A
// strict operator needs a strict clearance; without an operator, high uses
// >= and low uses <.
func (r BranchReachability) IsReachable() bool {
	switch r.Direction {
	case DirectionHigh:
		if r.Op == model.OpGT {
			return r.MaxPossible > r.Threshold
		}
		return r.MaxPossible >= r.Threshold
	case DirectionLow:
		if r.Op == model.OpLTE {
			return r.MinPossible <= r.Threshold
		}
		return r.MinPossible < r.Threshold
	}
	return false
}

// Gap returns the shortfall when the threshold is unreachable, 0 otherwise
func (r BranchReachability) Gap() float64 {
	if r.IsReachable() {
		return 0
	}
	if r.Direction == DirectionHigh {
		return math.Max(0, r.Threshold-r.MaxPossible)
	}
	return math.Max(0, r.MinPossible-r.Threshold)
}

// Label renders the requirement as "kind.id op threshold"
func (r BranchReachability) Label() string {
	op := r.Op
	if op == "" {
		op = model.OpGTE
		if r.Direction == DirectionLow {
			op = model.OpLT
		}
	}
	return fmt.Sprintf("%s %s %g", r.PrototypeID, op, r.Threshold)
}

// PathSensitiveResult aggregates the analysis of every branch of an expression
type PathSensitiveResult struct {
	ExpressionID         string                          `json:"expressionId"`
	Branches             []AnalysisBranch                `json:"branches"`
	ReachabilityByBranch map[string][]BranchReachability `json:"reachabilityByBranch"`
	FeasibilityVolume    *float64                        `json:"feasibilityVolume,omitempty"`
	Truncated            bool                            `json:"truncated,omitempty"`
	Gaps                 []gap.Result                    `json:"gaps,omitempty"`
	Warnings             []string                        `json:"warnings,omitempty"`
}

// BranchCount returns the number of enumerated branches
func (r *PathSensitiveResult) BranchCount() int {
	return len(r.Branches)
}

// FeasibleBranchCount returns the number of branches without conflicts
func (r *PathSensitiveResult) FeasibleBranchCount() int {
	n := 0
	for _, b := range r.Branches {
		if !b.IsInfeasible() {
			n++
		}
	}
	return n
}

// InfeasibleBranchCount returns the number of branches with conflicts
func (r *PathSensitiveResult) InfeasibleBranchCount() int {
	return len(r.Branches) - r.FeasibleBranchCount()
}

// HasFullyReachableBranch reports whether some feasible branch has reachability
// data and every entry of it is reachable. A branch with no prototype
// requirements has an empty, fully reachable entry list.
func (r *PathSensitiveResult) HasFullyReachableBranch() bool {
	for _, b := range r.Branches {
		if b.IsInfeasible() {
			continue
		}
		entries, ok := r.ReachabilityByBranch[b.BranchID]
		if !ok {
			continue
		}
		if allReachable(entries) {
			return true
		}
	}
	return false
}

func allReachable(entries []BranchReachability) bool {
	for _, e := range entries {
		if !e.IsReachable() {
			return false
		}
	}
	return true
}

// AllKnifeEdges returns the knife edges of every branch
func (r *PathSensitiveResult) AllKnifeEdges() []KnifeEdge {
	var out []KnifeEdge
	for _, b := range r.Branches {
		out = append(out, b.KnifeEdges...)
	}
	return out
}

// OverallStatus is unreachable only when there are branches and all of them
// are infeasible, fully reachable when some feasible branch clears all its
// thresholds, and partially reachable otherwise
func (r *PathSensitiveResult) OverallStatus() Status {
	if len(r.Branches) > 0 && r.FeasibleBranchCount() == 0 {
		return StatusUnreachable
	}
	if r.HasFullyReachableBranch() {
		return StatusFullyReachable
	}
	return StatusPartiallyReachable
}

// UnreachableThresholds returns every unreachable entry of a feasible branch,
// ordered by branch id then prototype id
func (r *PathSensitiveResult) UnreachableThresholds() []BranchReachability {
	var out []BranchReachability
	for _, b := range r.Branches {
		if b.IsInfeasible() {
			continue
		}
		for _, e := range r.ReachabilityByBranch[b.BranchID] {
			if !e.IsReachable() {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].PrototypeID < out[j].PrototypeID
	})
	return out
}

// Conflicts returns the gate conflicts of every branch
func (r *PathSensitiveResult) Conflicts() []bounds.GateConflict {
	var out []bounds.GateConflict
	for _, b := range r.Branches {
		out = append(out, b.Conflicts...)
	}
	return out
}

// StaticallyImpossible reports whether no branch can fire: every branch is
// infeasible or has an unreachable threshold, and enumeration was complete.
// The second value explains the verdict.
func (r *PathSensitiveResult) StaticallyImpossible() (bool, string) {
	if r.Truncated || len(r.Branches) == 0 {
		return false, ""
	}
	infeasible, unreachable := 0, 0
	for _, b := range r.Branches {
		if b.IsInfeasible() {
			infeasible++
			continue
		}
		entries, ok := r.ReachabilityByBranch[b.BranchID]
		if !ok || allReachable(entries) {
			return false, ""
		}
		unreachable++
	}
	switch {
	case unreachable == 0:
		return true, fmt.Sprintf("all %d branch(es) have gate conflicts", infeasible)
	case infeasible == 0:
		return true, fmt.Sprintf("every branch has an unreachable prototype threshold (%d branch(es))", unreachable)
	default:
		return true, fmt.Sprintf("%d branch(es) have gate conflicts and %d have unreachable prototype thresholds", infeasible, unreachable)
	}
}
