package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete feasia configuration
type Config struct {
	Analysis     AnalysisConfig     `yaml:"analysis" mapstructure:"analysis"`
	Gap          GapConfig          `yaml:"gap" mapstructure:"gap"`
	Witness      WitnessConfig      `yaml:"witness" mapstructure:"witness"`
	Registry     RegistryConfig     `yaml:"registry" mapstructure:"registry"`
	SMT          SMTConfig          `yaml:"smt" mapstructure:"smt"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	History      HistoryConfig      `yaml:"history" mapstructure:"history"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// AnalysisConfig tunes the static reachability analysis
type AnalysisConfig struct {
	KnifeEdgeThreshold float64 `yaml:"knife_edge_threshold" mapstructure:"knife_edge_threshold" validate:"gte=0,lte=2"`
	MaxBranches        int     `yaml:"max_branches" mapstructure:"max_branches" validate:"gte=1,lte=4096"`
}

// GapConfig tunes prototype gap detection
type GapConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	Neighbors          int     `yaml:"neighbors" mapstructure:"neighbors" validate:"gte=1,lte=50"`
	DistanceThreshold  float64 `yaml:"distance_threshold" mapstructure:"distance_threshold" validate:"gt=0"`
	IntensityThreshold float64 `yaml:"intensity_threshold" mapstructure:"intensity_threshold" validate:"gte=0,lte=1"`
}

// WitnessConfig tunes the simulated annealing search
type WitnessConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxIterations      int     `yaml:"max_iterations" mapstructure:"max_iterations" validate:"gte=1"`
	InitialTemperature float64 `yaml:"initial_temperature" mapstructure:"initial_temperature" validate:"gt=0"`
	CoolingRate        float64 `yaml:"cooling_rate" mapstructure:"cooling_rate" validate:"gt=0,lt=1"`
	RestartThreshold   int     `yaml:"restart_threshold" mapstructure:"restart_threshold" validate:"gte=1"`
	StepScale          float64 `yaml:"step_scale" mapstructure:"step_scale" validate:"gt=0,lte=1"`
	Seed               int64   `yaml:"seed" mapstructure:"seed"` // 0 = time-seeded
}

// RegistryConfig locates prototype data
type RegistryConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// SMTConfig configures the optional external solver
type SMTConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Binary    string        `yaml:"binary" mapstructure:"binary"`
	Args      []string      `yaml:"args" mapstructure:"args"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	HealthTTL time.Duration `yaml:"health_ttl" mapstructure:"health_ttl" validate:"gte=0"`
}

// CacheConfig configures result caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// HistoryConfig configures the SQLite run history
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ConcurrencyConfig configures batch workers
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=256"`
}

// RateLimitingConfig paces calls to external collaborators
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size" validate:"gte=0"`
}

// LLMConfig configures the optional narrative summary
type LLMConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=openai"`
	Model         string `yaml:"model" mapstructure:"model"`
	APIKey        string `yaml:"-" mapstructure:"api_key"`
	BaseURL       string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout       int    `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	StrictClauses bool   `yaml:"strict_clauses" mapstructure:"strict_clauses"`
	MaxTokens     int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose       bool   `yaml:"verbose" mapstructure:"verbose"`
	LogFormat     string `yaml:"log_format" mapstructure:"log_format" validate:"oneof=console json"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".feasia")

	return &Config{
		Analysis: AnalysisConfig{
			KnifeEdgeThreshold: 0.02,
			MaxBranches:        64,
		},
		Gap: GapConfig{
			Enabled:            true,
			Neighbors:          5,
			DistanceThreshold:  0.5,
			IntensityThreshold: 0.3,
		},
		Witness: WitnessConfig{
			Enabled:            true,
			MaxIterations:      10000,
			InitialTemperature: 1.0,
			CoolingRate:        0.995,
			RestartThreshold:   1000,
			StepScale:          0.25,
		},
		Registry: RegistryConfig{
			Dir: "./data/prototypes",
		},
		SMT: SMTConfig{
			Enabled:   false,
			Binary:    "z3",
			Args:      []string{"-in", "-smt2"},
			Timeout:   10 * time.Second,
			HealthTTL: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       filepath.Join(base, "cache"),
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(base, "history.db"),
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         2,
		},
		LLM: LLMConfig{
			Timeout:       30,
			StrictClauses: true,
			MaxTokens:     800,
		},
		Output: OutputConfig{
			LogFormat:     "console",
			IncludeFooter: true,
		},
	}
}

var configValidator = validator.New()

// Validate checks all field constraints and names the first offending fields
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
