// Package witness searches the state space for a concrete point that satisfies
// an expression, independent of the static analysis.
package witness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ppiankov/feasia/internal/logic"
	"github.com/ppiankov/feasia/internal/model"
)

// ErrMissingPrototypes is returned when the engine is built without a
// prototype source
var ErrMissingPrototypes = errors.New("witness: prototype source is required")

const (
	DefaultMaxIterations      = 10000
	DefaultInitialTemperature = 1.0
	DefaultCoolingRate        = 0.995
	DefaultRestartThreshold   = 1000
	DefaultStepScale          = 0.25

	// minStepTemperature keeps perturbations at least about one raw unit wide
	// once the temperature has cooled
	minStepTemperature = 0.02

	// cancelCheckInterval is how often the loop polls the context
	cancelCheckInterval = 64
)

// Prototypes supplies every prototype whose intensity a state exposes
type Prototypes interface {
	All() []*model.Prototype
}

// Config tunes the annealing schedule
type Config struct {
	MaxIterations      int     `yaml:"max_iterations" mapstructure:"max_iterations" validate:"gt=0"`
	InitialTemperature float64 `yaml:"initial_temperature" mapstructure:"initial_temperature" validate:"gt=0"`
	CoolingRate        float64 `yaml:"cooling_rate" mapstructure:"cooling_rate" validate:"gt=0,lt=1"`
	RestartThreshold   int     `yaml:"restart_threshold" mapstructure:"restart_threshold" validate:"gt=0"`
	StepScale          float64 `yaml:"step_scale" mapstructure:"step_scale" validate:"gt=0,lte=1"`
	Seed               int64   `yaml:"seed" mapstructure:"seed"` // 0 seeds from the clock
}

// DefaultConfig returns the standard schedule
func DefaultConfig() Config {
	return Config{
		MaxIterations:      DefaultMaxIterations,
		InitialTemperature: DefaultInitialTemperature,
		CoolingRate:        DefaultCoolingRate,
		RestartThreshold:   DefaultRestartThreshold,
		StepScale:          DefaultStepScale,
	}
}

// Result is the outcome of one search
type Result struct {
	Found           bool                `json:"found"`
	Witness         *model.WitnessState `json:"witness,omitempty"`
	NearestMiss     *model.WitnessState `json:"nearestMiss,omitempty"`
	IterationsUsed  int                 `json:"iterationsUsed"`
	Restarts        int                 `json:"restarts"`
	BestPenalty     float64             `json:"bestPenalty"`
	ViolatedClauses []string            `json:"violatedClauses"`
}

// State returns the witness when found, otherwise the nearest miss
func (r Result) State() *model.WitnessState {
	if r.Witness != nil {
		return r.Witness
	}
	return r.NearestMiss
}

// Engine runs simulated annealing over the stored axes of a catalog
type Engine struct {
	cfg        Config
	catalog    *model.Catalog
	axes       []model.Axis
	prototypes []*model.Prototype
}

// NewEngine creates an engine. Zero config fields fall back to the defaults;
// a nil catalog uses the default one.
func NewEngine(prototypes Prototypes, catalog *model.Catalog, cfg Config) (*Engine, error) {
	if prototypes == nil {
		return nil, ErrMissingPrototypes
	}
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.InitialTemperature <= 0 {
		cfg.InitialTemperature = def.InitialTemperature
	}
	if cfg.CoolingRate <= 0 || cfg.CoolingRate >= 1 {
		cfg.CoolingRate = def.CoolingRate
	}
	if cfg.RestartThreshold <= 0 {
		cfg.RestartThreshold = def.RestartThreshold
	}
	if cfg.StepScale <= 0 {
		cfg.StepScale = def.StepScale
	}
	return &Engine{
		cfg:        cfg,
		catalog:    catalog,
		axes:       catalog.Stored(),
		prototypes: prototypes.All(),
	}, nil
}

// point holds one raw integer value per stored axis, in e.axes order
type point []int

type score struct {
	penalty   float64
	satisfied int
	outcomes  []logic.Outcome
}

func (s score) betterThan(o score) bool {
	if s.satisfied != o.satisfied {
		return s.satisfied > o.satisfied
	}
	return s.penalty < o.penalty
}

// Search looks for a state that satisfies every top-level prerequisite. A
// cancelled context stops the search and returns the best state so far.
func (e *Engine) Search(ctx context.Context, expr *model.Expression) Result {
	var prereqs []model.Prerequisite
	if expr != nil {
		prereqs = expr.Prerequisites
	}

	// 1. Trivial case
	if len(prereqs) == 0 {
		w := e.toState(e.neutral())
		w.Fitness, w.IsExact = 1, true
		return Result{Found: true, Witness: &w, ViolatedClauses: []string{}}
	}

	nodes := make([]logic.Node, len(prereqs))
	for i, p := range prereqs {
		nodes[i] = logic.Parse(p.Logic)
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// 2. Anneal
	current := e.random(rng)
	curScore := e.evaluate(nodes, current)
	best, bestScore := current, curScore
	temperature := e.cfg.InitialTemperature
	stale := 0
	res := Result{}

	for i := 0; i < e.cfg.MaxIterations && bestScore.satisfied < len(nodes); i++ {
		if i%cancelCheckInterval == 0 && ctx.Err() != nil {
			break
		}
		res.IterationsUsed = i + 1

		cand := e.neighbor(rng, current, temperature)
		candScore := e.evaluate(nodes, cand)

		delta := candScore.penalty - curScore.penalty
		if delta < 0 || rng.Float64() < math.Exp(-delta/math.Max(temperature, 1e-12)) {
			current, curScore = cand, candScore
		}

		if candScore.betterThan(bestScore) {
			best, bestScore = cand, candScore
			stale = 0
		} else {
			stale++
		}

		temperature *= e.cfg.CoolingRate
		if stale >= e.cfg.RestartThreshold {
			current = e.random(rng)
			curScore = e.evaluate(nodes, current)
			temperature = e.cfg.InitialTemperature
			stale = 0
			res.Restarts++
			if curScore.betterThan(bestScore) {
				best, bestScore = current, curScore
			}
		}
	}

	// 3. Report
	res.BestPenalty = bestScore.penalty
	state := e.toState(best)
	if bestScore.satisfied == len(nodes) {
		state.Fitness, state.IsExact = 1, true
		res.Found = true
		res.Witness = &state
		res.ViolatedClauses = []string{}
		return res
	}
	state.Fitness = 1 / (1 + bestScore.penalty)
	res.NearestMiss = &state
	res.ViolatedClauses = violations(nodes, prereqs, bestScore.outcomes)
	return res
}

func violations(nodes []logic.Node, prereqs []model.Prerequisite, outcomes []logic.Outcome) []string {
	out := []string{}
	for i, o := range outcomes {
		if o.Satisfied {
			continue
		}
		detail := o.Detail
		if detail == "" {
			detail = logic.Describe(nodes[i])
		}
		if msg := prereqs[i].FailureMessage; msg != "" {
			detail += ": " + msg
		}
		out = append(out, fmt.Sprintf("Clause %d: %s", i+1, detail))
	}
	return out
}

func (e *Engine) evaluate(nodes []logic.Node, p point) score {
	env := e.env(p)
	s := score{outcomes: make([]logic.Outcome, len(nodes))}
	for i, n := range nodes {
		o := logic.Evaluate(n, env)
		s.outcomes[i] = o
		s.penalty += o.Penalty
		if o.Satisfied {
			s.satisfied++
		}
	}
	return s
}

// env derives prototype intensities and the raw sections from a point
func (e *Engine) env(p point) *logic.Env {
	env := &logic.Env{
		Emotions:     make(map[string]float64),
		SexualStates: make(map[string]float64),
		Mood:         make(map[string]float64),
		Sexual:       make(map[string]float64),
		Traits:       make(map[string]float64),
	}
	norm := make(map[string]float64, len(e.axes)+1)
	sexual := make(map[string]int)
	for i, ax := range e.axes {
		raw := float64(p[i])
		norm[ax.Name] = raw / model.RawScale
		switch ax.Family {
		case model.FamilyMood:
			env.Mood[ax.Name] = raw
		case model.FamilySexual:
			env.Sexual[ax.Name] = raw
			sexual[ax.Name] = p[i]
		case model.FamilyTrait:
			env.Traits[ax.Name] = raw
		}
	}
	env.SexualArousal = model.SexualArousal(sexual)
	norm[model.AxisSexualArousal] = env.SexualArousal

	for _, proto := range e.prototypes {
		v := proto.Intensity(norm)
		switch proto.Category {
		case model.CategorySexual:
			env.SexualStates[proto.ID] = v
		default:
			env.Emotions[proto.ID] = v
		}
	}
	return env
}

func (e *Engine) neutral() point {
	p := make(point, len(e.axes))
	for i, ax := range e.axes {
		p[i] = clampInt(0, ax.RawMin, ax.RawMax)
	}
	return p
}

func (e *Engine) random(rng *rand.Rand) point {
	p := make(point, len(e.axes))
	for i, ax := range e.axes {
		p[i] = ax.RawMin + rng.Intn(ax.RawMax-ax.RawMin+1)
	}
	return p
}

// neighbor perturbs every axis by a temperature-scaled fraction of its range
func (e *Engine) neighbor(rng *rand.Rand, p point, temperature float64) point {
	scale := e.cfg.StepScale * math.Max(temperature, minStepTemperature)
	out := make(point, len(p))
	for i, ax := range e.axes {
		span := float64(ax.RawMax - ax.RawMin)
		delta := (rng.Float64()*2 - 1) * scale * span
		out[i] = clampInt(int(math.Round(float64(p[i])+delta)), ax.RawMin, ax.RawMax)
	}
	return out
}

func (e *Engine) toState(p point) model.WitnessState {
	s := model.WitnessState{
		Mood:   make(map[string]int),
		Sexual: make(map[string]int),
		Traits: make(map[string]int),
	}
	for i, ax := range e.axes {
		switch ax.Family {
		case model.FamilyMood:
			s.Mood[ax.Name] = p[i]
		case model.FamilySexual:
			s.Sexual[ax.Name] = p[i]
		case model.FamilyTrait:
			s.Traits[ax.Name] = p[i]
		}
	}
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
