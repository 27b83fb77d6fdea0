package diagnose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/feasia/internal/gap"
	"github.com/ppiankov/feasia/internal/reach"
)

// SuggestionKind names the kind of fix proposed
type SuggestionKind string

const (
	SuggestResolveConflict SuggestionKind = "resolve_conflict"
	SuggestRelaxThreshold  SuggestionKind = "relax_threshold"
	SuggestAddPrototype    SuggestionKind = "add_prototype"
	SuggestRedesign        SuggestionKind = "redesign"
	SuggestTuneThreshold   SuggestionKind = "tune_threshold"
	SuggestAdjustUpstream  SuggestionKind = "adjust_upstream"
	SuggestLowerPriority   SuggestionKind = "lower_priority"
)

// Fixed priorities for structural findings; clause suggestions use their
// priority score
const (
	priorityConflict    = 1.0
	priorityUnreachable = 0.9
	priorityGap         = 0.8
)

// Suggestion is one proposed fix
type Suggestion struct {
	Kind      SuggestionKind          `json:"kind"`
	Target    string                  `json:"target"`
	Message   string                  `json:"message"`
	Priority  float64                 `json:"priority"`
	Prototype *gap.SuggestedPrototype `json:"prototype,omitempty"`
}

// BuildSuggestions merges gate conflicts, unreachable thresholds, gap
// prototypes and clause explanations into one list ordered by priority.
// Either input may be nil.
func BuildSuggestions(static *reach.PathSensitiveResult, explanations []Explanation) []Suggestion {
	var out []Suggestion
	seen := make(map[string]bool)
	add := func(s Suggestion) {
		key := string(s.Kind) + "|" + s.Target + "|" + s.Message
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	if static != nil {
		// 1. Gate conflicts
		for _, c := range static.Conflicts() {
			who := "the expression"
			if len(c.Prototypes) > 0 {
				who = strings.Join(c.Prototypes, ", ")
			}
			add(Suggestion{
				Kind:     SuggestResolveConflict,
				Target:   c.Axis,
				Priority: priorityConflict,
				Message: fmt.Sprintf("Axis %s needs to be >= %.2f and <= %.2f at once (gates from %s: %s); relax one side",
					c.Axis, c.RequiredMin, c.RequiredMax, who, strings.Join(c.Gates, "; ")),
			})
		}

		// 2. Unreachable thresholds
		for _, r := range static.UnreachableThresholds() {
			msg := ""
			switch {
			case r.Missing:
				msg = fmt.Sprintf("Prototype %s is not registered; %s can never hold", r.PrototypeID, r.Label())
			case r.Direction == reach.DirectionHigh:
				msg = fmt.Sprintf("%s cannot be reached on branch %s: max possible is %.3f (short by %.3f); lower the threshold to at most %.3f",
					r.Label(), r.BranchID, r.MaxPossible, r.Gap(), r.MaxPossible)
			default:
				msg = fmt.Sprintf("%s cannot be reached on branch %s: min possible is %.3f (over by %.3f); raise the threshold above %.3f",
					r.Label(), r.BranchID, r.MinPossible, r.Gap(), r.MinPossible)
			}
			add(Suggestion{Kind: SuggestRelaxThreshold, Target: r.PrototypeID, Priority: priorityUnreachable, Message: msg})
		}

		// 3. Gap prototypes
		for _, g := range static.Gaps {
			if !g.GapDetected || g.Suggested == nil {
				continue
			}
			add(Suggestion{
				Kind:      SuggestAddPrototype,
				Target:    g.Suggested.ID,
				Priority:  priorityGap,
				Message:   g.Suggested.Rationale,
				Prototype: g.Suggested,
			})
		}
	}

	// 4. Clause explanations
	for _, e := range explanations {
		add(Suggestion{
			Kind:     SuggestionKind(e.Recommendation),
			Target:   e.ClauseID,
			Priority: e.PriorityScore,
			Message:  clauseMessage(e),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func clauseMessage(e Explanation) string {
	name := e.ClauseID
	if e.Description != "" {
		name += " (" + e.Description + ")"
	}
	rate := fmt.Sprintf("fails %.1f%% of samples", e.FailureRate*100)
	switch e.Recommendation {
	case RecommendRedesign:
		return fmt.Sprintf("Clause %s %s and its threshold was never reached; redesign the clause or the prototype behind it", name, rate)
	case RecommendTuneThreshold:
		return fmt.Sprintf("Clause %s %s and is the practical bottleneck; tune its threshold", name, rate)
	case RecommendAdjustUpstream:
		return fmt.Sprintf("Clause %s %s but is rarely decisive; adjust the clauses upstream of it", name, rate)
	default:
		return fmt.Sprintf("Clause %s %s; low priority", name, rate)
	}
}
