// Package registry loads prototype and expression definitions from an
// external lookup source.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/feasia/internal/model"
)

// ErrMissingSource is returned when a registry is built without a lookup source
var ErrMissingSource = errors.New("registry: lookup source is required")

// CategoryLookups is the source category prototype tables live under
const CategoryLookups = "lookups"

// Lookup keys of the prototype tables, per prototype category
var lookupKeys = map[string]string{
	model.CategoryEmotion: "core:emotion_prototypes",
	model.CategorySexual:  "core:sexual_prototypes",
}

// LookupKey returns the lookup key for a prototype category
func LookupKey(category string) (string, bool) {
	k, ok := lookupKeys[category]
	return k, ok
}

// LookupSource is the external data collaborator
type LookupSource interface {
	Lookup(category, key string) (any, bool)
}

// Registry is a read-only prototype table, keyed by category then id
type Registry struct {
	byCategory map[string]map[string]*model.Prototype
	all        []*model.Prototype
}

// NewRegistry loads every known prototype category from the source. A
// category the source does not have yields no prototypes; a malformed
// definition is an error naming it.
func NewRegistry(source LookupSource, catalog *model.Catalog) (*Registry, error) {
	if source == nil {
		return nil, ErrMissingSource
	}
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}

	r := &Registry{byCategory: make(map[string]map[string]*model.Prototype)}
	categories := make([]string, 0, len(lookupKeys))
	for c := range lookupKeys {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		raw, ok := source.Lookup(CategoryLookups, lookupKeys[category])
		if !ok || raw == nil {
			continue
		}
		protos, err := decodeTable(category, raw, catalog)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", lookupKeys[category], err)
		}
		if err := r.add(category, protos); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FromPrototypes builds a registry from already validated prototypes
func FromPrototypes(protos ...*model.Prototype) (*Registry, error) {
	r := &Registry{byCategory: make(map[string]map[string]*model.Prototype)}
	grouped := make(map[string][]*model.Prototype)
	for _, p := range protos {
		if p == nil {
			continue
		}
		category := p.Category
		if category == "" {
			category = model.CategoryEmotion
		}
		grouped[category] = append(grouped[category], p)
	}
	for category, list := range grouped {
		if err := r.add(category, list); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(category string, protos []*model.Prototype) error {
	table, ok := r.byCategory[category]
	if !ok {
		table = make(map[string]*model.Prototype, len(protos))
		r.byCategory[category] = table
	}
	for _, p := range protos {
		if _, dup := table[p.ID]; dup {
			return fmt.Errorf("%w: duplicate %s prototype %q", model.ErrInvalidPrototype, category, p.ID)
		}
		table[p.ID] = p
		r.all = append(r.all, p)
	}
	sort.Slice(r.all, func(i, j int) bool {
		if r.all[i].Category != r.all[j].Category {
			return r.all[i].Category < r.all[j].Category
		}
		return r.all[i].ID < r.all[j].ID
	})
	return nil
}

// Prototype returns a prototype by category and id
func (r *Registry) Prototype(category, id string) (*model.Prototype, bool) {
	p, ok := r.byCategory[category][id]
	return p, ok
}

// All returns every prototype ordered by category then id
func (r *Registry) All() []*model.Prototype {
	return append([]*model.Prototype(nil), r.all...)
}

// Category returns the prototypes of one category ordered by id
func (r *Registry) Category(category string) []*model.Prototype {
	var out []*model.Prototype
	for _, p := range r.all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of prototypes
func (r *Registry) Len() int {
	return len(r.all)
}

// definition is the on-disk shape of one prototype
type definition struct {
	ID      string             `yaml:"id"`
	Weights map[string]float64 `yaml:"weights"`
	Gates   []gateSpec         `yaml:"gates"`
	Scale   string             `yaml:"scale"`
}

// gateSpec accepts either "axis op value" or {axis, op, threshold}
type gateSpec struct {
	model.Gate
}

func (g *gateSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := model.ParseGate(node.Value)
		if err != nil {
			return err
		}
		g.Gate = parsed
		return nil
	}
	var obj struct {
		Axis      string  `yaml:"axis"`
		Op        string  `yaml:"op"`
		Threshold float64 `yaml:"threshold"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	op, err := model.ParseOperator(obj.Op)
	if err != nil {
		return err
	}
	g.Gate = model.Gate{Axis: obj.Axis, Op: op, Threshold: obj.Threshold}
	return nil
}

// decodeTable accepts either a map of id to definition or a list of
// definitions carrying their own ids
func decodeTable(category string, raw any, catalog *model.Catalog) ([]*model.Prototype, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode lookup value: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode prototype table: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	var defs []definition
	switch root.Kind {
	case yaml.MappingNode:
		var asMap map[string]definition
		if err := root.Decode(&asMap); err != nil {
			return nil, fmt.Errorf("decode prototype table: %w", err)
		}
		ids := make([]string, 0, len(asMap))
		for id := range asMap {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			d := asMap[id]
			if d.ID == "" {
				d.ID = id
			}
			defs = append(defs, d)
		}
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("decode prototype table: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: prototype table must be a map or a list", model.ErrInvalidPrototype)
	}

	out := make([]*model.Prototype, 0, len(defs))
	for _, d := range defs {
		gates := make([]model.Gate, len(d.Gates))
		for i, g := range d.Gates {
			gates[i] = g.Gate
		}
		p, err := model.NewPrototype(d.ID, category, d.Weights, gates, catalog)
		if err != nil {
			return nil, err
		}
		switch model.Scale(strings.ToLower(d.Scale)) {
		case "", model.ScaleUnipolar:
		case model.ScaleBipolar:
			p.Scale = model.ScaleBipolar
		default:
			return nil, fmt.Errorf("%w: %s: unknown scale %q", model.ErrInvalidPrototype, d.ID, d.Scale)
		}
		out = append(out, p)
	}
	return out, nil
}
