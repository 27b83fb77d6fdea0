package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/feasia/internal/logging"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/registry"
)

// registerDefaults teaches viper every config key so env variables can
// override keys that no config file mentions
func registerDefaults(v *viper.Viper) {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults(v, "", tree)
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig layers defaults, config file, env and bound flags, then validates
func loadConfig() (*model.Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *model.Config) (*logging.Logger, error) {
	return logging.New(cfg.Output.LogFormat, cfg.Output.Verbose)
}

// loadRegistry reads the prototype tables of dir
func loadRegistry(ctx context.Context, dir string) (*registry.Registry, error) {
	source := registry.NewFileSource(dir)
	if err := source.Load(ctx); err != nil {
		return nil, fmt.Errorf("load prototypes: %w", err)
	}
	reg, err := registry.NewRegistry(source, nil)
	if err != nil {
		return nil, fmt.Errorf("load prototypes: %w", err)
	}
	return reg, nil
}

// enableLLM switches the narrative on. The API key comes from the config
// file, FEASIA_LLM_API_KEY or OPENAI_API_KEY.
func enableLLM(cfg *model.Config, modelName string) error {
	cfg.LLM.Provider = "openai"
	if modelName != "" {
		cfg.LLM.Model = modelName
	}
	cfg.LLM.StrictClauses = true // Always enforce
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return nil
}

// outputPath derives a per-expression path when a file holds several expressions:
// report.json becomes report.<id>.json
func outputPath(path, expressionID string, multi bool) string {
	if path == "" || !multi {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + sanitizeFilename(expressionID) + ext
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename sanitizes a string for use as a filename
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		s = "expression"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
