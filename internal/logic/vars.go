package logic

import (
	"strings"

	"github.com/ppiankov/feasia/internal/model"
)

// RefKind classifies what a variable path points at
type RefKind int

const (
	RefUnknown   RefKind = iota // unregistered root or missing key
	RefPrototype                // an emotion or sexual-state intensity
	RefAxis                     // a raw state axis
)

// Ref is a classified variable path
type Ref struct {
	Kind     RefKind
	Root     string
	Key      string  // prototype id or axis name
	Category string  // prototype category for RefPrototype
	Scale    float64 // divide by this to reach the normalized scale
}

// Env is the resolved state a tree is evaluated against. Intensities are
// normalized; axis sections are on the raw scale.
type Env struct {
	Emotions      map[string]float64
	SexualStates  map[string]float64
	SexualArousal float64
	Mood          map[string]float64
	Sexual        map[string]float64
	Traits        map[string]float64
}

type resolver struct {
	kind     RefKind
	category string
	scale    float64
	keyless  bool
	lookup   func(env *Env, key string) (float64, bool)
}

func fromMap(section func(env *Env) map[string]float64) func(*Env, string) (float64, bool) {
	return func(env *Env, key string) (float64, bool) {
		m := section(env)
		if m == nil {
			return 0, false
		}
		v, ok := m[key]
		return v, ok
	}
}

// resolvers maps a path root to its lookup. Registration is by stable string
// key; anything else lands on unresolved.
var resolvers = map[string]resolver{
	"emotions": {
		kind: RefPrototype, category: model.CategoryEmotion, scale: 1,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.Emotions }),
	},
	"sexualStates": {
		kind: RefPrototype, category: model.CategorySexual, scale: 1,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.SexualStates }),
	},
	"sexualArousal": {
		kind: RefAxis, scale: 1, keyless: true,
		lookup: func(e *Env, _ string) (float64, bool) { return e.SexualArousal, true },
	},
	"moodAxes": {
		kind: RefAxis, scale: model.RawScale,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.Mood }),
	},
	"mood": {
		kind: RefAxis, scale: model.RawScale,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.Mood }),
	},
	"affectTraits": {
		kind: RefAxis, scale: model.RawScale,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.Traits }),
	},
	"sexualAxes": {
		kind: RefAxis, scale: model.RawScale,
		lookup: fromMap(func(e *Env) map[string]float64 { return e.Sexual }),
	},
}

var unresolved = resolver{
	kind:   RefUnknown,
	scale:  1,
	lookup: func(*Env, string) (float64, bool) { return 0, false },
}

func resolverFor(path string) (resolver, string, string) {
	root, key, _ := strings.Cut(path, ".")
	r, ok := resolvers[root]
	if !ok {
		return unresolved, root, key
	}
	if r.keyless != (key == "") {
		return unresolved, root, key
	}
	return r, root, key
}

// Classify resolves a path to its kind without touching any state
func Classify(path string) Ref {
	r, root, key := resolverFor(path)
	ref := Ref{Kind: r.kind, Root: root, Key: key, Category: r.category, Scale: r.scale}
	if root == "sexualArousal" && r.kind == RefAxis {
		ref.Key = model.AxisSexualArousal
	}
	return ref
}

// Resolve looks a path up in the environment
func (e *Env) Resolve(path string) (float64, bool) {
	r, _, key := resolverFor(path)
	return r.lookup(e, key)
}
