package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/feasia/internal/diagnose"
)

// ExpressionStats are the sampling statistics an external simulator computed
// for one expression. Clause ids follow the clause_N naming of prerequisites.
type ExpressionStats struct {
	MonteCarlo *diagnose.MonteCarloResult `yaml:"monte_carlo,omitempty"`
	Clauses    []diagnose.ClauseStats     `yaml:"clauses,omitempty"`
}

// StatsTable maps expression ids to their statistics
type StatsTable map[string]ExpressionStats

// LoadStats reads a stats table from a YAML or JSON file
func LoadStats(path string) (StatsTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	table, err := ParseStats(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return table, nil
}

// ParseStats decodes and validates a stats table
func ParseStats(data []byte) (StatsTable, error) {
	var table StatsTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	for id, st := range table {
		if st.MonteCarlo != nil {
			if err := st.MonteCarlo.Validate(); err != nil {
				return nil, fmt.Errorf("%s: monte carlo: %w", id, err)
			}
		}
		for _, c := range st.Clauses {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", id, err)
			}
		}
	}
	return table, nil
}
