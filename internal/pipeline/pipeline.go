// Package pipeline runs every analysis stage over one expression and renders
// the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ppiankov/feasia/internal/cache"
	"github.com/ppiankov/feasia/internal/diagnose"
	"github.com/ppiankov/feasia/internal/gap"
	"github.com/ppiankov/feasia/internal/llm"
	"github.com/ppiankov/feasia/internal/logging"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/reach"
	"github.com/ppiankov/feasia/internal/registry"
	"github.com/ppiankov/feasia/internal/smt"
	"github.com/ppiankov/feasia/internal/witness"
	"github.com/ppiankov/feasia/internal/worker"
)

// Pacer throttles calls to external collaborators by key
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Diagnoser orchestrates the analysis of one expression. It is safe for
// concurrent use: analyses share no mutable state.
type Diagnoser struct {
	config     *model.Config
	catalog    *model.Catalog
	prototypes *registry.Registry
	analyzer   *reach.Analyzer
	witness    *witness.Engine // nil when disabled
	explainer  *diagnose.FailureExplainer
	solver     smt.Solver // nil when disabled
	stats      StatsTable
	results    *cache.ResultStore // nil when disabled
	summarizer *llm.Summarizer    // nil when disabled
	pacer      Pacer
	logger     *logging.Logger

	// fingerprint covers everything besides the expression that shapes a result
	fingerprint []any

	mu         sync.RWMutex
	narratives map[string]*llm.Narrative
}

// NewDiagnoser builds a diagnoser from configuration. The solver, cache and
// summarizer are created only when their sections enable them.
func NewDiagnoser(cfg *model.Config, prototypes *registry.Registry, logger *logging.Logger) (*Diagnoser, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if prototypes == nil {
		return nil, fmt.Errorf("create diagnoser: %w", registry.ErrMissingSource)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	catalog := model.DefaultCatalog()

	d := &Diagnoser{
		config:     cfg,
		catalog:    catalog,
		prototypes: prototypes,
		explainer:  diagnose.NewFailureExplainer(),
		logger:     logger,
		narratives: make(map[string]*llm.Narrative),
	}

	// 1. Static analysis, with gap synthesis when enabled
	var synth *gap.Synthesizer
	if cfg.Gap.Enabled {
		synth = gap.NewSynthesizer(gap.Config{
			K:                  cfg.Gap.Neighbors,
			DistanceThreshold:  cfg.Gap.DistanceThreshold,
			IntensityThreshold: cfg.Gap.IntensityThreshold,
		}, catalog)
	}
	analyzer, err := reach.NewAnalyzer(prototypes, catalog, reach.Config{
		MaxBranches:        cfg.Analysis.MaxBranches,
		KnifeEdgeThreshold: cfg.Analysis.KnifeEdgeThreshold,
	}, synth)
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	d.analyzer = analyzer

	// 2. Witness search
	if cfg.Witness.Enabled {
		engine, err := witness.NewEngine(prototypes, catalog, witness.Config{
			MaxIterations:      cfg.Witness.MaxIterations,
			InitialTemperature: cfg.Witness.InitialTemperature,
			CoolingRate:        cfg.Witness.CoolingRate,
			RestartThreshold:   cfg.Witness.RestartThreshold,
			StepScale:          cfg.Witness.StepScale,
			Seed:               cfg.Witness.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("create witness engine: %w", err)
		}
		d.witness = engine
	}

	// 3. External collaborators
	if cfg.SMT.Enabled {
		d.solver = smt.NewExecSolver(cfg.SMT.Binary, cfg.SMT.Args, cfg.SMT.Timeout).
			WithHealthCache(smt.NewHealthCache(cfg.SMT.HealthTTL))
	}
	if cfg.Cache.Enabled {
		d.results = cache.NewResultStore(cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL), 0)
	}
	if cfg.LLM.Provider != "" {
		s, err := llm.NewSummarizer(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			logger.Warn("LLM narrative disabled", "provider", cfg.LLM.Provider, "error", err)
		} else {
			d.summarizer = s
		}
	}
	if cfg.RateLimiting.RequestsPerSecond > 0 {
		d.pacer = worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	}
	if d.summarizer != nil && d.pacer != nil {
		d.summarizer.WithPacer(d.pacer)
	}

	d.fingerprint = []any{prototypes.All(), cfg.Analysis, cfg.Gap, cfg.Witness, cfg.SMT.Enabled}
	return d, nil
}

// WithStats supplies sampling statistics keyed by expression id
func (d *Diagnoser) WithStats(stats StatsTable) *Diagnoser {
	d.stats = stats
	return d
}

// WithSolver replaces the SMT solver; nil disables confirmation
func (d *Diagnoser) WithSolver(s smt.Solver) *Diagnoser {
	d.solver = s
	d.fingerprint = []any{d.prototypes.All(), d.config.Analysis, d.config.Gap, d.config.Witness, s != nil}
	return d
}

// WithCache replaces the result cache; nil disables caching
func (d *Diagnoser) WithCache(c cache.Cache) *Diagnoser {
	if c == nil {
		d.results = nil
		return d
	}
	d.results = cache.NewResultStore(c, 0)
	return d
}

// WithSummarizer replaces the narrative summarizer; nil disables narratives
func (d *Diagnoser) WithSummarizer(s *llm.Summarizer) *Diagnoser {
	d.summarizer = s
	if s != nil && d.pacer != nil {
		s.WithPacer(d.pacer)
	}
	return d
}

// WithPacer replaces the collaborator pacer
func (d *Diagnoser) WithPacer(p Pacer) *Diagnoser {
	d.pacer = p
	if d.summarizer != nil && p != nil {
		d.summarizer.WithPacer(p)
	}
	return d
}

// Narrative returns the narrative generated for an expression, if any
func (d *Diagnoser) Narrative(expressionID string) *llm.Narrative {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.narratives[expressionID]
}

// Diagnose runs every stage over one expression. Only invalid input and
// cancellation are errors; collaborator failures degrade to warnings.
func (d *Diagnoser) Diagnose(ctx context.Context, expr model.Expression) (*diagnose.DiagnosticResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := d.logger.With("expression", expr.ID)

	stats, hasStats := d.stats[expr.ID]
	key, keyErr := cache.Key(expr, stats, d.fingerprint)
	if keyErr != nil {
		log.Warn("result cache disabled for expression", "error", keyErr)
	}

	res, cached := d.load(key, keyErr)
	if cached {
		log.Debug("result cache hit")
	} else {
		var err error
		res, err = d.analyze(ctx, log, expr, stats, hasStats)
		if err != nil {
			return nil, err
		}
		d.store(log, key, keyErr, res)
	}

	// The narrative runs after classification and never feeds back into it
	d.narrate(ctx, log, res)
	return res, nil
}

func (d *Diagnoser) load(key string, keyErr error) (*diagnose.DiagnosticResult, bool) {
	if d.results == nil || keyErr != nil {
		return nil, false
	}
	return d.results.Load(key)
}

func (d *Diagnoser) store(log *logging.Logger, key string, keyErr error, res *diagnose.DiagnosticResult) {
	if d.results == nil || keyErr != nil {
		return
	}
	if err := d.results.Store(key, res); err != nil {
		log.Warn("cache result", "error", err)
	}
}

func (d *Diagnoser) analyze(ctx context.Context, log *logging.Logger, expr model.Expression, stats ExpressionStats, hasStats bool) (*diagnose.DiagnosticResult, error) {
	res, err := diagnose.NewDiagnosticResult(expr.ID)
	if err != nil {
		return nil, err
	}

	// 1. Static analysis
	static := d.analyzer.Analyze(&expr)
	res.SetStaticAnalysis(static)
	log.Debug("static analysis done",
		"status", static.OverallStatus(),
		"branches", static.BranchCount(),
		"feasible", static.FeasibleBranchCount())

	// 2. Sampling statistics and clause explanations
	var explanations []diagnose.Explanation
	if hasStats {
		if stats.MonteCarlo != nil {
			res.SetMonteCarloResults(*stats.MonteCarlo)
		}
		explanations = d.explainer.Explain(stats.Clauses)
		res.SetExplanations(explanations)
	}

	// 3. Witness search
	if d.witness != nil {
		w := d.witness.Search(ctx, &expr)
		res.SetWitnessResult(w)
		log.Debug("witness search done", "found", w.Found, "iterations", w.IterationsUsed, "restarts", w.Restarts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. SMT confirmation, skipped once impossibility is already proven
	if d.solver != nil && !res.IsImpossible() {
		if r, ok := d.confirm(ctx, log, expr); ok {
			res.SetSMTResult(r)
		}
	}

	// 5. Suggestions
	res.SetSuggestions(diagnose.BuildSuggestions(static, explanations))

	log.Info("diagnosed", "rarity", res.RarityCategory(), "impossible", res.IsImpossible())
	return res, nil
}

// confirm asks the solver for a verdict. Every failure is logged and reported
// as no verdict.
func (d *Diagnoser) confirm(ctx context.Context, log *logging.Logger, expr model.Expression) (diagnose.SMTResult, bool) {
	if !d.solver.Available(ctx) {
		log.Debug("SMT solver not available", "solver", d.solver.Name())
		return diagnose.SMTResult{}, false
	}
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx, "smt:"+d.solver.Name()); err != nil {
			log.Warn("wait for solver", "error", err)
			return diagnose.SMTResult{}, false
		}
	}

	script, err := smt.Encode(expr, d.prototypes, d.catalog)
	if err != nil {
		log.Warn("encode SMT problem", "error", err)
		return diagnose.SMTResult{}, false
	}
	r, err := d.solver.Check(ctx, script)
	if err != nil {
		if errors.Is(err, smt.ErrUnavailable) {
			log.Debug("SMT solver not available", "solver", d.solver.Name(), "error", err)
		} else {
			log.Warn("SMT check failed", "solver", d.solver.Name(), "error", err)
		}
		return diagnose.SMTResult{}, false
	}
	log.Debug("SMT check done", "status", r.Status, "elapsed", r.Elapsed)
	return toDiagnose(r), true
}

func toDiagnose(r smt.Result) diagnose.SMTResult {
	status := diagnose.SMTUnknown
	switch r.Status {
	case smt.StatusSat:
		status = diagnose.SMTSat
	case smt.StatusUnsat:
		status = diagnose.SMTUnsat
	}
	return diagnose.SMTResult{Solver: r.Solver, Status: status, UnsatCore: r.UnsatCore}
}

func (d *Diagnoser) narrate(ctx context.Context, log *logging.Logger, res *diagnose.DiagnosticResult) {
	if !d.summarizer.IsEnabled() {
		return
	}
	n, err := d.summarizer.Narrate(ctx, res)
	if err != nil {
		log.Warn("LLM narrative failed", "provider", d.summarizer.ProviderName(), "error", err)
		return
	}
	if n == nil {
		return
	}
	for _, w := range n.Warnings {
		if strings.Contains(w, "not available") {
			log.Warn(w)
		}
	}
	d.mu.Lock()
	d.narratives[res.ExpressionID()] = n
	d.mu.Unlock()
}
