package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/feasia/internal/diagnose"
	"github.com/ppiankov/feasia/internal/llm"
)

// Renderer writes diagnostic results as JSON, Markdown and summary lines
type Renderer struct {
	includeFooter bool
	out           io.Writer
}

// NewRenderer creates a renderer printing summaries to stdout
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter, out: os.Stdout}
}

// WithOutput redirects summary lines
func (r *Renderer) WithOutput(w io.Writer) *Renderer {
	r.out = w
	return r
}

// RenderJSON writes the indented JSON record
func (r *Renderer) RenderJSON(res *diagnose.DiagnosticResult, path string) error {
	data, err := res.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the Markdown report
func (r *Renderer) RenderMarkdown(res *diagnose.DiagnosticResult, path string) error {
	return writeFile(path, []byte(r.Markdown(res)))
}

// RenderLLMMarkdown writes a pre-rendered narrative
func (r *Renderer) RenderLLMMarkdown(content, path string) error {
	return writeFile(path, []byte(content))
}

// RenderReport writes every requested output and prints the summary line. A
// narrative goes to "<md>.llm.md" next to the Markdown report.
func (r *Renderer) RenderReport(res *diagnose.DiagnosticResult, narrative *llm.Narrative, jsonPath, mdPath string) error {
	if jsonPath != "" {
		if err := r.RenderJSON(res, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
	}
	if mdPath != "" {
		if err := r.RenderMarkdown(res, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if narrative != nil && narrative.Enabled {
			llmPath := strings.TrimSuffix(mdPath, ".md") + ".llm.md"
			if err := r.RenderLLMMarkdown(llm.RenderSeparateMarkdown(narrative), llmPath); err != nil {
				return fmt.Errorf("render narrative: %w", err)
			}
		}
	}
	r.RenderSummary(res)
	return nil
}

// RenderSummary prints one line for the result
func (r *Renderer) RenderSummary(res *diagnose.DiagnosticResult) {
	fmt.Fprintln(r.out, SummaryLine(res))
}

// SummaryLine renders "<emoji> <id>: <label>" followed by the rate or the
// impossibility reason
func SummaryLine(res *diagnose.DiagnosticResult) string {
	ind := res.StatusIndicator()
	line := fmt.Sprintf("%s %s: %s", ind.Emoji, res.ExpressionID(), ind.Label)
	switch {
	case res.IsImpossible():
		line += " (" + res.ImpossibilityReason() + ")"
	case res.TriggerRate() != nil:
		line += fmt.Sprintf(" (trigger rate %s)", formatRate(*res.TriggerRate()))
	}
	if n := len(res.Suggestions()); n > 0 {
		line += fmt.Sprintf(", %d suggestion(s)", n)
	}
	return line
}

// Markdown renders the full report
func (r *Renderer) Markdown(res *diagnose.DiagnosticResult) string {
	var b strings.Builder
	ind := res.StatusIndicator()

	fmt.Fprintf(&b, "# Feasibility Diagnosis: %s\n\n", res.ExpressionID())
	fmt.Fprintf(&b, "**Status**: %s %s\n\n", ind.Emoji, ind.Label)
	fmt.Fprintf(&b, "- **Rarity**: %s\n", res.RarityCategory())
	if rate := res.TriggerRate(); rate != nil {
		fmt.Fprintf(&b, "- **Trigger Rate**: %s\n", formatRate(*rate))
	}
	fmt.Fprintf(&b, "- **Impossible**: %t\n", res.IsImpossible())
	if res.IsImpossible() {
		fmt.Fprintf(&b, "- **Reason**: %s\n", res.ImpossibilityReason())
	}
	fmt.Fprintf(&b, "- **Diagnosed At**: %s\n\n", res.Timestamp().Format("2006-01-02 15:04:05 UTC"))

	if st := res.Static(); st != nil {
		writeStatic(&b, st)
	}
	if mc := res.MonteCarlo(); mc != nil {
		writeMonteCarlo(&b, mc)
	}
	if w := res.Witness(); w != nil {
		b.WriteString("## Witness Search\n\n")
		if w.Found {
			b.WriteString("A satisfying state was found.\n\n")
		} else {
			b.WriteString("No satisfying state was found.\n\n")
		}
		fmt.Fprintf(&b, "- **Iterations**: %d\n", w.IterationsUsed)
		fmt.Fprintf(&b, "- **Restarts**: %d\n", w.Restarts)
		if s := w.State(); s != nil {
			fmt.Fprintf(&b, "- **Fitness**: %.4f\n", s.Fitness)
			writeState(&b, "Mood", s.Mood)
			writeState(&b, "Sexual", s.Sexual)
			writeState(&b, "Affect Traits", s.Traits)
		}
		for _, v := range w.ViolatedClauses {
			fmt.Fprintf(&b, "- Violated: %s\n", v)
		}
		b.WriteString("\n")
	}
	if s := res.SMT(); s != nil {
		b.WriteString("## SMT Confirmation\n\n")
		fmt.Fprintf(&b, "- **Solver**: %s\n", s.Solver)
		fmt.Fprintf(&b, "- **Verdict**: %s\n", s.Status)
		for _, c := range s.UnsatCore {
			fmt.Fprintf(&b, "- Core: %s\n", c)
		}
		b.WriteString("\n")
	}

	if ex := res.Explanations(); len(ex) > 0 {
		b.WriteString("## Clause Explanations\n\n")
		b.WriteString("| Rank | Clause | Failure | Shape | Near Miss | Ceiling | Last Mile | Recommendation |\n")
		b.WriteString("|------|--------|---------|-------|-----------|---------|-----------|----------------|\n")
		for _, e := range ex {
			fmt.Fprintf(&b, "| %d | %s | %.1f%% | %s | %s | %s | %s | %s |\n",
				e.Rank, e.ClauseID, e.FailureRate*100, e.Shape, e.Tunability, e.Ceiling, e.LastMile, e.Recommendation)
		}
		b.WriteString("\n")
	}

	if sugg := res.Suggestions(); len(sugg) > 0 {
		b.WriteString("## Suggestions\n\n")
		for i, s := range sugg {
			fmt.Fprintf(&b, "%d. **%s** (%s): %s\n", i+1, s.Kind, s.Target, s.Message)
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		b.WriteString("---\n\n")
		b.WriteString("_Generated by feasia. Static verdicts are proofs over the declared axis ranges; rarity comes from the supplied sampling statistics._\n")
	}
	return b.String()
}

func writeStatic(b *strings.Builder, st *diagnose.StaticSummary) {
	b.WriteString("## Static Analysis\n\n")
	fmt.Fprintf(b, "- **Status**: %s\n", st.Status)
	fmt.Fprintf(b, "- **Branches**: %d (%d feasible)\n", st.BranchCount, st.FeasibleBranchCount)
	if st.FeasibilityVolume != nil {
		fmt.Fprintf(b, "- **Feasibility Volume**: %.4f\n", *st.FeasibilityVolume)
	}
	b.WriteString("\n")

	if len(st.GateConflicts) > 0 {
		b.WriteString("### Gate Conflicts\n\n")
		for _, c := range st.GateConflicts {
			fmt.Fprintf(b, "- `%s` needs [%.2f, %.2f] from %s\n",
				c.Axis, c.RequiredMin, c.RequiredMax, strings.Join(c.Prototypes, ", "))
		}
		b.WriteString("\n")
	}
	if len(st.UnreachableThresholds) > 0 {
		b.WriteString("### Unreachable Thresholds\n\n")
		for _, u := range st.UnreachableThresholds {
			if u.Missing {
				fmt.Fprintf(b, "- `%s`: prototype not found\n", u.Label())
				continue
			}
			fmt.Fprintf(b, "- `%s`: reachable range [%.3f, %.3f], gap %.3f\n", u.Label(), u.MinPossible, u.MaxPossible, u.Gap())
		}
		b.WriteString("\n")
	}
	if len(st.KnifeEdges) > 0 {
		b.WriteString("### Knife Edges\n\n")
		for _, k := range st.KnifeEdges {
			fmt.Fprintf(b, "- %s\n", k.String())
		}
		b.WriteString("\n")
	}
	if len(st.Warnings) > 0 {
		b.WriteString("### Warnings\n\n")
		for _, w := range st.Warnings {
			fmt.Fprintf(b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
}

func writeMonteCarlo(b *strings.Builder, mc *diagnose.MonteCarloResult) {
	b.WriteString("## Sampling\n\n")
	fmt.Fprintf(b, "- **Trigger Rate**: %s\n", formatRate(mc.TriggerRate))
	fmt.Fprintf(b, "- **Samples**: %d\n", mc.SampleCount)
	if mc.Distribution != "" {
		fmt.Fprintf(b, "- **Distribution**: %s\n", mc.Distribution)
	}
	if ci := mc.ConfidenceInterval; ci != nil {
		fmt.Fprintf(b, "- **Confidence Interval**: [%s, %s]\n", formatRate(ci.Low), formatRate(ci.High))
	}
	b.WriteString("\n")
}

func writeState(b *strings.Builder, label string, values map[string]int) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, values[k])
	}
	fmt.Fprintf(b, "- **%s**: %s\n", label, strings.Join(parts, ", "))
}

func formatRate(r float64) string {
	if r > 0 && r < 0.001 {
		return fmt.Sprintf("%.2e", r)
	}
	return fmt.Sprintf("%.2f%%", r*100)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
