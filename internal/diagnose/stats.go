package diagnose

import (
	"fmt"
	"math"
	"strings"
)

// ConfidenceInterval bounds an estimated trigger rate
type ConfidenceInterval struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// ClauseFailure is the per-clause failure rate reported by the sampler
type ClauseFailure struct {
	ClauseID    string  `json:"clauseId" yaml:"clause_id"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	FailureRate float64 `json:"failureRate" yaml:"failure_rate"`
}

// MonteCarloResult is the output of an external sampling run
type MonteCarloResult struct {
	TriggerRate        float64             `json:"triggerRate" yaml:"trigger_rate"`
	SampleCount        int                 `json:"sampleCount" yaml:"sample_count"`
	Distribution       string              `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	ConfidenceInterval *ConfidenceInterval `json:"confidenceInterval,omitempty" yaml:"confidence_interval,omitempty"`
	ClauseFailures     []ClauseFailure     `json:"clauseFailures" yaml:"clause_failures"`
}

// NewMonteCarloResult validates and builds a sampling result
func NewMonteCarloResult(rate float64, samples int, distribution string, ci *ConfidenceInterval, failures []ClauseFailure) (MonteCarloResult, error) {
	mc := MonteCarloResult{
		TriggerRate:        rate,
		SampleCount:        samples,
		Distribution:       distribution,
		ConfidenceInterval: ci,
		ClauseFailures:     append([]ClauseFailure(nil), failures...),
	}
	if err := mc.Validate(); err != nil {
		return MonteCarloResult{}, err
	}
	return mc, nil
}

// Validate checks every field and names the first offending one
func (m MonteCarloResult) Validate() error {
	if err := checkRate("triggerRate", m.TriggerRate); err != nil {
		return err
	}
	if m.SampleCount < 0 {
		return fmt.Errorf("%w: sampleCount must be >= 0, got %d", ErrInvalidValue, m.SampleCount)
	}
	if ci := m.ConfidenceInterval; ci != nil {
		if err := checkRate("confidenceInterval.low", ci.Low); err != nil {
			return err
		}
		if err := checkRate("confidenceInterval.high", ci.High); err != nil {
			return err
		}
		if ci.Low > ci.High {
			return fmt.Errorf("%w: confidenceInterval.low %v exceeds high %v", ErrInvalidValue, ci.Low, ci.High)
		}
	}
	for i, f := range m.ClauseFailures {
		if strings.TrimSpace(f.ClauseID) == "" {
			return fmt.Errorf("%w: clauseFailures[%d].clauseId is required", ErrInvalidValue, i)
		}
		if err := checkRate(fmt.Sprintf("clauseFailures[%d].failureRate", i), f.FailureRate); err != nil {
			return err
		}
	}
	return nil
}

// Percentiles are violation-magnitude percentiles among failing samples
type Percentiles struct {
	P50 float64 `json:"p50" yaml:"p50"`
	P90 float64 `json:"p90" yaml:"p90"`
	P95 float64 `json:"p95,omitempty" yaml:"p95,omitempty"`
}

// ClauseStats are the externally computed failure statistics of one clause.
// Optional signals are pointers; nil means the sampler did not report them.
type ClauseStats struct {
	ClauseID         string       `json:"clauseId" yaml:"clause_id"`
	Description      string       `json:"description,omitempty" yaml:"description,omitempty"`
	FailureRate      float64      `json:"failureRate" yaml:"failure_rate"`
	AverageViolation float64      `json:"averageViolation" yaml:"average_violation"`
	Percentiles      *Percentiles `json:"percentiles,omitempty" yaml:"percentiles,omitempty"`
	NearMissRate     *float64     `json:"nearMissRate,omitempty" yaml:"near_miss_rate,omitempty"`
	CeilingGap       *float64     `json:"ceilingGap,omitempty" yaml:"ceiling_gap,omitempty"`
	LastMileFailRate *float64     `json:"lastMileFailRate,omitempty" yaml:"last_mile_fail_rate,omitempty"`
	IsSingleClause   bool         `json:"isSingleClause,omitempty" yaml:"is_single_clause,omitempty"`
}

// Validate checks every field and names the first offending one
func (s ClauseStats) Validate() error {
	if strings.TrimSpace(s.ClauseID) == "" {
		return fmt.Errorf("%w: clauseId is required", ErrInvalidValue)
	}
	if err := checkRate(s.ClauseID+".failureRate", s.FailureRate); err != nil {
		return err
	}
	if err := checkFinite(s.ClauseID+".averageViolation", s.AverageViolation); err != nil {
		return err
	}
	if p := s.Percentiles; p != nil {
		names := []string{"p50", "p90", "p95"}
		for i, v := range []float64{p.P50, p.P90, p.P95} {
			if err := checkFinite(s.ClauseID+".percentiles."+names[i], v); err != nil {
				return err
			}
		}
	}
	if s.NearMissRate != nil {
		if err := checkRate(s.ClauseID+".nearMissRate", *s.NearMissRate); err != nil {
			return err
		}
	}
	if s.CeilingGap != nil {
		if err := checkFinite(s.ClauseID+".ceilingGap", *s.CeilingGap); err != nil {
			return err
		}
	}
	if s.LastMileFailRate != nil {
		if err := checkRate(s.ClauseID+".lastMileFailRate", *s.LastMileFailRate); err != nil {
			return err
		}
	}
	return nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %v", ErrInvalidValue, field, v)
	}
	return nil
}

func checkRate(field string, v float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s must be within [0, 1], got %v", ErrInvalidValue, field, v)
	}
	return nil
}
