// Package llm writes an optional prose narrative for a diagnostic result.
// The narrative is kept apart from the result and never changes it.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/feasia/internal/diagnose"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Summarize generates a narrative under the clause allowlist
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)

	// IsAvailable checks if the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// SummarizeRequest contains the input for a narrative
type SummarizeRequest struct {
	// Prompt is the full user prompt
	Prompt string

	// ClauseIDs is the allowlist of clause ids the narrative may cite
	ClauseIDs []string

	// Model is the provider-specific model; empty uses the configured one
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// SummarizeResponse contains the provider output
type SummarizeResponse struct {
	Summary      string
	CitedClauses []string
	Model        string
	TokensUsed   int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai" or "" (disabled)
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// Timeout in seconds
	Timeout int
	// StrictClauses rejects narratives citing clause ids outside the allowlist
	StrictClauses bool
	MaxTokens     int
}

// DefaultConfig returns the defaults: disabled, strict
func DefaultConfig() Config {
	return Config{
		Timeout:       30,
		StrictClauses: true,
		MaxTokens:     800,
	}
}

// citationPattern matches clause citations written as [[clause-id]]
var citationPattern = regexp.MustCompile(`\[\[([^\[\]\s]+)\]\]`)

// ExtractCitations returns the distinct clause ids cited in text, in order of
// first appearance
func ExtractCitations(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// CheckCitations returns an error naming the first cited id outside allowed
func CheckCitations(cited, allowed []string) error {
	ok := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		ok[id] = true
	}
	for _, id := range cited {
		if !ok[id] {
			return fmt.Errorf("CLAUSE LEAK: narrative cited unknown clause %q", id)
		}
	}
	return nil
}

// ClauseAllowlist collects every clause id a result knows about, sorted
func ClauseAllowlist(res *diagnose.DiagnosticResult) []string {
	seen := make(map[string]bool)
	for _, e := range res.Explanations() {
		seen[e.ClauseID] = true
	}
	if mc := res.MonteCarlo(); mc != nil {
		for _, f := range mc.ClauseFailures {
			seen[f.ClauseID] = true
		}
	}
	if s := res.SMT(); s != nil {
		for _, core := range s.UnsatCore {
			id, _, _ := strings.Cut(core, ":")
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// BuildPrompt constructs the narrative prompt for a result
func BuildPrompt(res *diagnose.DiagnosticResult, clauseIDs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are explaining a feasibility diagnosis of a game expression trigger. The diagnosis is final; you only describe it.

CRITICAL RULES:
1. Cite clauses ONLY as [[clause-id]] and ONLY from this list:
%s

2. Do not invent clauses, thresholds or prototypes that are not listed below.
3. Do not contradict the rarity category or the impossibility verdict.
4. Prefer concrete fixes that appear in the suggestions.

Diagnosis:
- Expression: %s
- Rarity: %s
- Impossible: %t
`, joinClauses(clauseIDs), res.ExpressionID(), res.RarityCategory(), res.IsImpossible())

	if res.IsImpossible() {
		fmt.Fprintf(&b, "- Reason: %s\n", res.ImpossibilityReason())
	}
	if rate := res.TriggerRate(); rate != nil {
		fmt.Fprintf(&b, "- Trigger rate: %.6f\n", *rate)
	}
	if st := res.Static(); st != nil {
		fmt.Fprintf(&b, "- Static analysis: %s, %d of %d branches feasible\n", st.Status, st.FeasibleBranchCount, st.BranchCount)
	}

	b.WriteString("\nTop clause findings:\n")
	for i, e := range res.Explanations() {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "- [[%s]] fails %.1f%%, recommendation %s\n", e.ClauseID, e.FailureRate*100, e.Recommendation)
	}

	b.WriteString("\nSuggestions:\n")
	for i, s := range res.Suggestions() {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Kind, s.Message)
	}

	b.WriteString("\nWrite 3-4 sentences for a content designer.")
	return b.String()
}

func joinClauses(ids []string) string {
	if len(ids) == 0 {
		return "(no clause ids available: cite none)"
	}
	var b strings.Builder
	for i, id := range ids {
		if i >= 30 {
			fmt.Fprintf(&b, "\n... and %d more", len(ids)-30)
			break
		}
		b.WriteString("\n- " + id)
	}
	return b.String()
}
