package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/feasia/internal/model"
)

// NewProvider creates a provider from configuration. An empty provider name
// returns nil: narratives are disabled.
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:      c.Provider,
		Model:         c.Model,
		APIKey:        c.APIKey,
		BaseURL:       c.BaseURL,
		Timeout:       c.Timeout,
		StrictClauses: c.StrictClauses,
		MaxTokens:     c.MaxTokens,
	}
}
