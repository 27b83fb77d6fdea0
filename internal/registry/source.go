package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/feasia/internal/model"
)

// dataExtensions are tried in order for each lookup table
var dataExtensions = []string{".yaml", ".yml", ".json"}

// maxConcurrentReads bounds parallel file reads
const maxConcurrentReads = 8

// MapSource is an in-memory LookupSource keyed by category then key
type MapSource map[string]map[string]any

// Lookup implements LookupSource
func (m MapSource) Lookup(category, key string) (any, bool) {
	v, ok := m[category][key]
	return v, ok
}

// FileSource serves lookup tables from a directory. The key
// "core:emotion_prototypes" maps to emotion_prototypes.yaml (or .yml,
// .json) in the directory; the namespace prefix is not part of the name.
type FileSource struct {
	dir string

	mu     sync.RWMutex
	tables map[string]any
}

// NewFileSource creates a source over a directory. Call Load before use.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir, tables: make(map[string]any)}
}

// Load reads every known lookup table concurrently. A missing table is not
// an error; an unreadable or malformed one is.
func (s *FileSource) Load(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("open prototype dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("open prototype dir: %s is not a directory", s.dir)
	}

	keys := make([]string, 0, len(lookupKeys))
	for _, k := range lookupKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	results := make([]any, len(keys))
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := s.readTable(key)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, key := range keys {
		if results[i] != nil {
			s.tables[key] = results[i]
		}
	}
	return nil
}

func (s *FileSource) readTable(key string) (any, error) {
	name := key
	if idx := strings.LastIndex(key, ":"); idx >= 0 {
		name = key[idx+1:]
	}
	for _, ext := range dataExtensions {
		path := filepath.Join(s.dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return v, nil
	}
	return nil, nil
}

// Lookup implements LookupSource
func (s *FileSource) Lookup(category, key string) (any, bool) {
	if category != CategoryLookups {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[key]
	return v, ok
}

// LoadExpressions reads expressions from one YAML or JSON file. The file may
// hold a single expression, a list, or an object with an "expressions" list.
func LoadExpressions(path string) ([]model.Expression, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expressions: %w", err)
	}
	exprs, err := ParseExpressions(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return exprs, nil
}

// ParseExpressions decodes expressions from YAML or JSON bytes
func ParseExpressions(data []byte) ([]model.Expression, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	var exprs []model.Expression
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&exprs); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var wrapped struct {
			Expressions []model.Expression `yaml:"expressions"`
		}
		if err := root.Decode(&wrapped); err == nil && wrapped.Expressions != nil {
			exprs = wrapped.Expressions
			break
		}
		var one model.Expression
		if err := root.Decode(&one); err != nil {
			return nil, err
		}
		exprs = []model.Expression{one}
	default:
		return nil, fmt.Errorf("expected an expression object or list")
	}

	for i, e := range exprs {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("expression %d: id is required", i)
		}
	}
	return exprs, nil
}

// LoadExpressionDir reads every expression file in a directory concurrently.
// Results are ordered by file name, then by position within the file.
func LoadExpressionDir(ctx context.Context, dir string) ([]model.Expression, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read expression dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, known := range dataExtensions {
			if ext == known {
				files = append(files, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(files)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	perFile := make([][]model.Expression, len(files))
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			exprs, err := LoadExpressions(path)
			if err != nil {
				return err
			}
			perFile[i] = exprs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Expression
	for _, exprs := range perFile {
		out = append(out, exprs...)
	}
	return out, nil
}
