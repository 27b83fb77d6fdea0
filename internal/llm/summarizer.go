package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/feasia/internal/diagnose"
)

// Pacer throttles provider calls by key
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Narrative is the prose companion of a diagnostic result
type Narrative struct {
	ExpressionID  string   `json:"expressionId"`
	Enabled       bool     `json:"enabled"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	StrictClauses bool     `json:"strictClauses"`
	Text          string   `json:"text,omitempty"`
	CitedClauses  []string `json:"citedClauses,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Summarizer produces narratives through a provider
type Summarizer struct {
	provider Provider
	config   Config
	pacer    Pacer
}

// NewSummarizer creates a summarizer; an empty provider yields a disabled one
func NewSummarizer(config Config) (*Summarizer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	return &Summarizer{provider: provider, config: config}, nil
}

// NewSummarizerWithProvider wraps an existing provider
func NewSummarizerWithProvider(provider Provider, config Config) *Summarizer {
	return &Summarizer{provider: provider, config: config}
}

// WithPacer throttles provider calls under key "llm:<provider>"
func (s *Summarizer) WithPacer(p Pacer) *Summarizer {
	s.pacer = p
	return s
}

// IsEnabled reports whether a provider is configured
func (s *Summarizer) IsEnabled() bool {
	return s != nil && s.provider != nil
}

// ProviderName returns the provider name, or "" when disabled
func (s *Summarizer) ProviderName() string {
	if !s.IsEnabled() {
		return ""
	}
	return s.provider.Name()
}

// Narrate writes a narrative for res. It returns nil when disabled. An
// unavailable provider yields a disabled narrative carrying a warning.
func (s *Summarizer) Narrate(ctx context.Context, res *diagnose.DiagnosticResult) (*Narrative, error) {
	if !s.IsEnabled() || res == nil {
		return nil, nil
	}

	n := &Narrative{
		ExpressionID:  res.ExpressionID(),
		Provider:      s.provider.Name(),
		Model:         s.config.Model,
		StrictClauses: s.config.StrictClauses,
	}

	if !s.provider.IsAvailable(ctx) {
		n.Warnings = append(n.Warnings, fmt.Sprintf("LLM provider %s is not available", s.provider.Name()))
		return n, nil
	}

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, "llm:"+s.provider.Name()); err != nil {
			return nil, fmt.Errorf("wait for provider: %w", err)
		}
	}

	clauses := ClauseAllowlist(res)
	resp, err := s.provider.Summarize(ctx, SummarizeRequest{
		Prompt:    BuildPrompt(res, clauses),
		ClauseIDs: clauses,
		Model:     s.config.Model,
		MaxTokens: s.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate narrative: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("generate narrative: empty response")
	}

	n.Enabled = true
	n.Model = resp.Model
	n.Text = resp.Summary
	n.CitedClauses = resp.CitedClauses
	if resp.TokensUsed > 0 {
		n.Warnings = append(n.Warnings, fmt.Sprintf("Tokens used: %d", resp.TokensUsed))
	}
	if len(resp.CitedClauses) > 0 {
		n.Warnings = append(n.Warnings, fmt.Sprintf("Verified %d clause citations", len(resp.CitedClauses)))
	}
	return n, nil
}

// RenderSeparateMarkdown renders a narrative for its own file
func RenderSeparateMarkdown(n *Narrative) string {
	if n == nil || !n.Enabled {
		return ""
	}

	var b strings.Builder
	b.WriteString("# LLM Narrative\n\n")
	b.WriteString("> **GENERATED CONTENT**: written by a language model from the diagnostic result.\n")
	b.WriteString("> Rarity, impossibility and suggestions were determined independently and are not affected by this text.\n\n")
	fmt.Fprintf(&b, "- **Expression**: %s\n", n.ExpressionID)
	fmt.Fprintf(&b, "- **Provider**: %s\n", n.Provider)
	if n.Model != "" {
		fmt.Fprintf(&b, "- **Model**: %s\n", n.Model)
	}
	fmt.Fprintf(&b, "- **Strict Clause Mode**: %t\n\n", n.StrictClauses)

	b.WriteString("## Narrative\n\n")
	if strings.TrimSpace(n.Text) == "" {
		b.WriteString("_No narrative generated._\n")
	} else {
		b.WriteString(n.Text + "\n")
	}

	if len(n.Warnings) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, w := range n.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	return b.String()
}
