package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feasia/internal/history"
	"github.com/ppiankov/feasia/internal/logging"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/pipeline"
	"github.com/ppiankov/feasia/internal/registry"
)

var (
	prototypesDir string
	statsFile     string
	outJSON       string
	outMD         string
	noWitness     bool
	smtEnabled    bool
	seed          int64
	noCache       bool
	noFooter      bool
	timeout       time.Duration
	llmEnabled    bool
	llmModel      string
)

// diagnoseCmd represents the diagnose command
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <expressions-file>",
	Short: "Diagnose the expressions of one file",
	Long: `Diagnose runs every analysis over the expressions of a YAML or JSON file:
- Static reachability: gate conflicts, unreachable thresholds, knife edges
- Prototype gap detection for uncovered target regions
- Witness search for a concrete satisfying state
- Optional SMT confirmation with an external solver
- Clause explanations and suggestions from sampling statistics

Example:
  feasia diagnose expressions/joy.yaml
  feasia diagnose joy.yaml --prototypes ./data/prototypes --stats mc.yaml --md joy.md
  feasia diagnose joy.yaml --smt --seed 42 --json joy.json`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnose,
}

func addAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&prototypesDir, "prototypes", "", "prototype table directory (default: registry.dir from config)")
	cmd.Flags().StringVar(&statsFile, "stats", "", "sampling statistics file (YAML or JSON)")
	cmd.Flags().BoolVar(&noWitness, "no-witness", false, "skip the witness search")
	cmd.Flags().BoolVar(&smtEnabled, "smt", false, "confirm with the configured SMT solver")
	cmd.Flags().Int64Var(&seed, "seed", 0, "witness search seed (0 = time-seeded)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the result cache")
	cmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")

	// LLM flags
	cmd.Flags().BoolVar(&llmEnabled, "llm", false, "enable LLM narrative generation")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name (default gpt-4o-mini)")
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	// Output flags
	diagnoseCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path")
	diagnoseCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path")
	addAnalysisFlags(diagnoseCmd)
}

// session is the wiring shared by diagnose and batch
type session struct {
	cfg       *model.Config
	logger    *logging.Logger
	diagnoser *pipeline.Diagnoser
	renderer  *pipeline.Renderer
	history   *history.Store // nil when disabled
	runID     string
}

func (s *session) close() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("close history", "error", err)
		}
	}
	s.logger.Sync()
}

// newSession applies the analysis flags on top of the layered config
func newSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("no-witness") {
		cfg.Witness.Enabled = !noWitness
	}
	if cmd.Flags().Changed("smt") {
		cfg.SMT.Enabled = smtEnabled
	}
	if cmd.Flags().Changed("seed") {
		cfg.Witness.Seed = seed
	}
	if cmd.Flags().Changed("no-cache") {
		cfg.Cache.Enabled = !noCache
	}
	if cmd.Flags().Changed("no-footer") {
		cfg.Output.IncludeFooter = !noFooter
	}
	if prototypesDir != "" {
		cfg.Registry.Dir = prototypesDir
	}
	if llmEnabled {
		if err := enableLLM(cfg, llmModel); err != nil {
			return nil, err
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	reg, err := loadRegistry(ctx, cfg.Registry.Dir)
	if err != nil {
		return nil, err
	}
	logger.Debug("prototypes loaded", "dir", cfg.Registry.Dir, "count", reg.Len())

	d, err := pipeline.NewDiagnoser(cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	if statsFile != "" {
		stats, err := pipeline.LoadStats(statsFile)
		if err != nil {
			return nil, err
		}
		d.WithStats(stats)
		logger.Debug("stats loaded", "file", statsFile, "expressions", len(stats))
	}

	s := &session{
		cfg:       cfg,
		logger:    logger,
		diagnoser: d,
		renderer:  pipeline.NewRenderer(cfg.Output.IncludeFooter).WithOutput(cmd.OutOrStdout()),
		runID:     history.NewRunID(),
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		s.history = store
		logger.Debug("history enabled", "path", cfg.History.Path, "run", s.runID)
	}
	return s, nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	exprs, err := registry.LoadExpressions(args[0])
	if err != nil {
		return err
	}
	if len(exprs) == 0 {
		return fmt.Errorf("no expressions in %s", args[0])
	}

	failures := 0
	multi := len(exprs) > 1
	for _, expr := range exprs {
		res, err := s.diagnoser.Diagnose(ctx, expr)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("diagnose %s: %w", expr.ID, err)
			}
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", expr.ID, err)
			continue
		}

		if s.history != nil {
			if err := s.history.Save(ctx, s.runID, res); err != nil {
				s.logger.Warn("save history", "expression", expr.ID, "error", err)
			}
		}

		jsonPath := outputPath(outJSON, expr.ID, multi)
		mdPath := outputPath(outMD, expr.ID, multi)
		if err := s.renderer.RenderReport(res, s.diagnoser.Narrative(expr.ID), jsonPath, mdPath); err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d expressions failed", failures, len(exprs))
	}
	return nil
}
