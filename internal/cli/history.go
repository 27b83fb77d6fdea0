package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feasia/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
	historyRun   string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [expression-id]",
	Short: "Show past diagnoses of an expression or a run",
	Long: `History lists stored diagnoses. With an expression id it shows that
expression's runs, newest first. With --run it shows every result of one
diagnose or batch run, optionally narrowed to one expression.
Runs are recorded when history.enabled is true in the configuration.

Example:
  feasia history joy_burst
  feasia history joy_burst --limit 5 --json
  feasia history --run 3f2b8c1e-6d0a-4c59-9a51-0f7f4d2e9b10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultLimit, "maximum number of runs")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print full results as JSON")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "list the results of one run id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	expressionID := ""
	if len(args) == 1 {
		expressionID = args[0]
	}
	if expressionID == "" && historyRun == "" {
		return fmt.Errorf("an expression id or --run is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := selectRuns(cmd.Context(), store, expressionID, historyRun, historyLimit)
	if err != nil {
		return err
	}
	return writeHistory(cmd.OutOrStdout(), runs, historyJSON)
}

// selectRuns lists by run when runID is set, narrowed to expressionID if given;
// otherwise it lists the newest runs of expressionID
func selectRuns(ctx context.Context, store *history.Store, expressionID, runID string, limit int) ([]history.Run, error) {
	if runID == "" {
		return store.ListByExpression(ctx, expressionID, limit)
	}
	runs, err := store.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if expressionID == "" {
		return runs, nil
	}
	out := runs[:0]
	for _, r := range runs {
		if r.ExpressionID == expressionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func writeHistory(out io.Writer, runs []history.Run, asJSON bool) error {
	if asJSON {
		results := make([]json.RawMessage, 0, len(runs))
		for _, r := range runs {
			data, err := json.Marshal(r.Result)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			results = append(results, data)
		}
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No recorded diagnoses")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tRUN\tEXPRESSION\tRARITY\tIMPOSSIBLE\tTRIGGER RATE")
	for _, r := range runs {
		rate := "-"
		if r.TriggerRate != nil {
			rate = fmt.Sprintf("%.6f", *r.TriggerRate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			r.RecordedAt.Format("2006-01-02 15:04:05"), r.RunID, r.ExpressionID, r.Rarity.Indicator().Label, r.Impossible, rate)
	}
	return w.Flush()
}
