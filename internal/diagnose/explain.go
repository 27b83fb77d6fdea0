package diagnose

import (
	"fmt"
	"sort"
)

// PercentileShape describes how violation magnitudes are distributed
type PercentileShape string

const (
	ShapeHeavyTail  PercentileShape = "heavy_tail"
	ShapeSomeSevere PercentileShape = "some_severe"
	ShapeNormal     PercentileShape = "normal"
	ShapeNoData     PercentileShape = "no_data"
)

// Tunability describes how often a clause barely misses
type Tunability string

const (
	TunabilityHigh     Tunability = "high"
	TunabilityModerate Tunability = "moderate"
	TunabilityLow      Tunability = "low"
	TunabilityNoData   Tunability = "no_data"
)

// Ceiling describes whether the clause's threshold is attainable at all
type Ceiling string

const (
	CeilingDetected   Ceiling = "ceiling_detected"
	CeilingAchievable Ceiling = "achievable"
)

// LastMile describes how decisive a clause is when everything else passes
type LastMile string

const (
	LastMileSingleClause    LastMile = "single_clause"
	LastMileDecisiveBlocker LastMile = "decisive_blocker"
	LastMileRarelyDecisive  LastMile = "rarely_decisive"
	LastMileModerate        LastMile = "moderate"
	LastMileNoData          LastMile = "no_data"
)

// Recommendation is the single action suggested for a clause
type Recommendation string

const (
	RecommendRedesign       Recommendation = "redesign"
	RecommendTuneThreshold  Recommendation = "tune_threshold"
	RecommendAdjustUpstream Recommendation = "adjust_upstream"
	RecommendLowerPriority  Recommendation = "lower_priority"
)

// Classification thresholds
const (
	NearMissHigh     = 0.10
	NearMissModerate = 0.02

	DecisiveRatio       = 1.5
	RarelyDecisiveRate  = 0.01
	nearMissScoreFloor  = 0.05
	heavyTailMedianFrac = 0.5
	severeP90Multiple   = 2.0
)

// Priority weights
const (
	weightLastMile = 0.4
	weightFailure  = 0.3
	weightNearMiss = 0.2
)

// Signal is one transparent classification step with its inputs
type Signal struct {
	Type        string                 `json:"type"`
	Value       string                 `json:"value"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Explanation is the diagnosis of one clause
type Explanation struct {
	ClauseID       string          `json:"clauseId"`
	Description    string          `json:"description,omitempty"`
	FailureRate    float64         `json:"failureRate"`
	Shape          PercentileShape `json:"percentileShape"`
	Tunability     Tunability      `json:"nearMissTunability"`
	Ceiling        Ceiling         `json:"ceiling"`
	LastMile       LastMile        `json:"lastMile"`
	Recommendation Recommendation  `json:"recommendation"`
	PriorityScore  float64         `json:"priorityScore"`
	Rank           int             `json:"rank"`
	Signals        []Signal        `json:"signals"`
}

// FailureExplainer classifies and ranks clause failures
type FailureExplainer struct{}

// NewFailureExplainer creates a new explainer
func NewFailureExplainer() *FailureExplainer {
	return &FailureExplainer{}
}

// Explain classifies each clause and ranks them by priority score, highest
// first. Ties fall back to failure rate, then clause id.
func (e *FailureExplainer) Explain(stats []ClauseStats) []Explanation {
	out := make([]Explanation, 0, len(stats))
	for _, s := range stats {
		out = append(out, e.ExplainClause(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		if out[i].FailureRate != out[j].FailureRate {
			return out[i].FailureRate > out[j].FailureRate
		}
		return out[i].ClauseID < out[j].ClauseID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ExplainClause classifies one clause without ranking it
func (e *FailureExplainer) ExplainClause(s ClauseStats) Explanation {
	exp := Explanation{
		ClauseID:    s.ClauseID,
		Description: s.Description,
		FailureRate: s.FailureRate,
	}

	// 1. Percentile shape
	var sig Signal
	exp.Shape, sig = classifyShape(s)
	exp.Signals = append(exp.Signals, sig)

	// 2. Near-miss tunability
	exp.Tunability, sig = classifyNearMiss(s)
	exp.Signals = append(exp.Signals, sig)

	// 3. Ceiling
	exp.Ceiling, sig = classifyCeiling(s)
	exp.Signals = append(exp.Signals, sig)

	// 4. Last-mile decisiveness
	exp.LastMile, sig = classifyLastMile(s)
	exp.Signals = append(exp.Signals, sig)

	exp.Recommendation = recommend(exp)
	exp.PriorityScore = PriorityScore(s)
	return exp
}

// PriorityScore is 0.4*lastMile (or failureRate) + 0.3*failureRate +
// 0.2*nearMiss (when above 0.05), halved when a ceiling is detected
func PriorityScore(s ClauseStats) float64 {
	decisive := s.FailureRate
	if s.LastMileFailRate != nil {
		decisive = *s.LastMileFailRate
	}
	score := weightLastMile*decisive + weightFailure*s.FailureRate
	if s.NearMissRate != nil && *s.NearMissRate > nearMissScoreFloor {
		score += weightNearMiss * *s.NearMissRate
	}
	if s.CeilingGap != nil && *s.CeilingGap > 0 {
		score /= 2
	}
	return score
}

func classifyShape(s ClauseStats) (PercentileShape, Signal) {
	sig := Signal{Type: "percentile_shape"}
	p := s.Percentiles
	switch {
	case p == nil:
		sig.Value = string(ShapeNoData)
		sig.Description = "No violation percentiles reported"
		return ShapeNoData, sig
	case p.P50 < heavyTailMedianFrac*s.AverageViolation:
		sig.Value = string(ShapeHeavyTail)
		sig.Description = fmt.Sprintf("Median violation %.3f is well below the mean %.3f: a few samples miss badly", p.P50, s.AverageViolation)
	case p.P90 > severeP90Multiple*s.AverageViolation:
		sig.Value = string(ShapeSomeSevere)
		sig.Description = fmt.Sprintf("p90 violation %.3f exceeds twice the mean %.3f", p.P90, s.AverageViolation)
	default:
		sig.Value = string(ShapeNormal)
		sig.Description = "Violations are evenly spread"
	}
	sig.Data = map[string]interface{}{
		"p50":               p.P50,
		"p90":               p.P90,
		"average_violation": s.AverageViolation,
		"formula":           "heavy_tail if p50 < 0.5*avg; some_severe if p90 > 2*avg",
	}
	return PercentileShape(sig.Value), sig
}

func classifyNearMiss(s ClauseStats) (Tunability, Signal) {
	sig := Signal{Type: "near_miss"}
	if s.NearMissRate == nil {
		sig.Value = string(TunabilityNoData)
		sig.Description = "No near-miss rate reported"
		return TunabilityNoData, sig
	}
	rate := *s.NearMissRate
	t := TunabilityLow
	switch {
	case rate >= NearMissHigh:
		t = TunabilityHigh
	case rate >= NearMissModerate:
		t = TunabilityModerate
	}
	sig.Value = string(t)
	sig.Description = fmt.Sprintf("%.1f%% of samples miss the threshold narrowly", rate*100)
	sig.Data = map[string]interface{}{
		"near_miss_rate": rate,
		"formula":        "high if rate >= 0.10; moderate if rate >= 0.02",
	}
	return t, sig
}

func classifyCeiling(s ClauseStats) (Ceiling, Signal) {
	sig := Signal{Type: "ceiling"}
	if s.CeilingGap != nil && *s.CeilingGap > 0 {
		sig.Value = string(CeilingDetected)
		sig.Description = fmt.Sprintf("Best observed value stays %.3f short of the threshold", *s.CeilingGap)
		sig.Data = map[string]interface{}{"ceiling_gap": *s.CeilingGap}
		return CeilingDetected, sig
	}
	sig.Value = string(CeilingAchievable)
	sig.Description = "Threshold was reached in at least one sample"
	return CeilingAchievable, sig
}

func classifyLastMile(s ClauseStats) (LastMile, Signal) {
	sig := Signal{Type: "last_mile"}
	if s.IsSingleClause {
		sig.Value = string(LastMileSingleClause)
		sig.Description = "The expression has only this clause"
		return LastMileSingleClause, sig
	}
	if s.LastMileFailRate == nil {
		sig.Value = string(LastMileNoData)
		sig.Description = "No last-mile failure rate reported"
		return LastMileNoData, sig
	}
	lm := *s.LastMileFailRate
	ratio := 0.0
	if s.FailureRate > 0 {
		ratio = lm / s.FailureRate
	}
	result := LastMileModerate
	switch {
	case s.FailureRate > 0 && ratio > DecisiveRatio:
		result = LastMileDecisiveBlocker
		sig.Description = fmt.Sprintf("Fails %.1fx more often when every other clause passes", ratio)
	case lm < RarelyDecisiveRate:
		result = LastMileRarelyDecisive
		sig.Description = "Rarely the deciding clause; failures come from upstream"
	default:
		sig.Description = fmt.Sprintf("Last-mile failure rate %.1f%%", lm*100)
	}
	sig.Value = string(result)
	sig.Data = map[string]interface{}{
		"last_mile_fail_rate": lm,
		"failure_rate":        s.FailureRate,
		"ratio":               ratio,
		"formula":             "decisive if last_mile/failure > 1.5; rarely_decisive if last_mile < 0.01",
	}
	return result, sig
}

func recommend(e Explanation) Recommendation {
	switch {
	case e.Ceiling == CeilingDetected:
		return RecommendRedesign
	case e.Tunability == TunabilityHigh,
		e.LastMile == LastMileDecisiveBlocker,
		e.LastMile == LastMileSingleClause:
		return RecommendTuneThreshold
	case e.LastMile == LastMileRarelyDecisive:
		return RecommendAdjustUpstream
	default:
		return RecommendLowerPriority
	}
}
