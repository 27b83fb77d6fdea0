package model

import "sort"

// AxisFamily groups axes that share a state-record section
type AxisFamily string

const (
	FamilyMood    AxisFamily = "mood"    // moodAxes.<axis>
	FamilySexual  AxisFamily = "sexual"  // sexualAxes.<axis>
	FamilyTrait   AxisFamily = "trait"   // affectTraits.<axis>
	FamilyDerived AxisFamily = "derived" // computed from other axes, never stored
)

// RawScale converts normalized axis values to the display scale
const RawScale = 100.0

// Axis describes one continuous state axis
type Axis struct {
	Name   string     `json:"name" yaml:"name"`
	Family AxisFamily `json:"family" yaml:"family"`
	RawMin int        `json:"raw_min" yaml:"raw_min"`
	RawMax int        `json:"raw_max" yaml:"raw_max"`
}

// NormMin returns the lower bound on the normalized scale
func (a Axis) NormMin() float64 { return float64(a.RawMin) / RawScale }

// NormMax returns the upper bound on the normalized scale
func (a Axis) NormMax() float64 { return float64(a.RawMax) / RawScale }

// Axis names
const (
	AxisValence          = "valence"
	AxisArousal          = "arousal"
	AxisAgencyControl    = "agency_control"
	AxisThreat           = "threat"
	AxisEngagement       = "engagement"
	AxisFutureExpectancy = "future_expectancy"
	AxisSelfEvaluation   = "self_evaluation"
	AxisAffiliation      = "affiliation"

	AxisSexExcitation  = "sex_excitation"
	AxisSexInhibition  = "sex_inhibition"
	AxisBaselineLibido = "baseline_libido"

	AxisAffectiveEmpathy = "affective_empathy"
	AxisCognitiveEmpathy = "cognitive_empathy"
	AxisHarmAversion     = "harm_aversion"

	AxisSexualArousal = "sexual_arousal"
)

// Catalog is the set of known axes, keyed by name
type Catalog struct {
	axes  map[string]Axis
	order []string
}

// NewCatalog builds a catalog from the given axes, preserving order
func NewCatalog(axes ...Axis) *Catalog {
	c := &Catalog{axes: make(map[string]Axis, len(axes))}
	for _, a := range axes {
		if _, dup := c.axes[a.Name]; !dup {
			c.order = append(c.order, a.Name)
		}
		c.axes[a.Name] = a
	}
	return c
}

// DefaultCatalog returns the standard mood, sexual, trait and derived axes
func DefaultCatalog() *Catalog {
	var axes []Axis
	for _, name := range []string{
		AxisValence, AxisArousal, AxisAgencyControl, AxisThreat,
		AxisEngagement, AxisFutureExpectancy, AxisSelfEvaluation, AxisAffiliation,
	} {
		axes = append(axes, Axis{Name: name, Family: FamilyMood, RawMin: -100, RawMax: 100})
	}
	axes = append(axes,
		Axis{Name: AxisSexExcitation, Family: FamilySexual, RawMin: 0, RawMax: 100},
		Axis{Name: AxisSexInhibition, Family: FamilySexual, RawMin: 0, RawMax: 100},
		Axis{Name: AxisBaselineLibido, Family: FamilySexual, RawMin: -50, RawMax: 50},
	)
	for _, name := range []string{AxisAffectiveEmpathy, AxisCognitiveEmpathy, AxisHarmAversion} {
		axes = append(axes, Axis{Name: name, Family: FamilyTrait, RawMin: 0, RawMax: 100})
	}
	axes = append(axes, Axis{Name: AxisSexualArousal, Family: FamilyDerived, RawMin: 0, RawMax: 100})
	return NewCatalog(axes...)
}

// Get returns the axis with the given name
func (c *Catalog) Get(name string) (Axis, bool) {
	a, ok := c.axes[name]
	return a, ok
}

// Has reports whether the axis is known
func (c *Catalog) Has(name string) bool {
	_, ok := c.axes[name]
	return ok
}

// Names returns all axis names in catalog order
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Family returns the names of axes in one family, in catalog order
func (c *Catalog) Family(f AxisFamily) []string {
	var out []string
	for _, name := range c.order {
		if c.axes[name].Family == f {
			out = append(out, name)
		}
	}
	return out
}

// Stored returns every non-derived axis, the ones a state record carries
func (c *Catalog) Stored() []Axis {
	var out []Axis
	for _, name := range c.order {
		if a := c.axes[name]; a.Family != FamilyDerived {
			out = append(out, a)
		}
	}
	return out
}

// SortedNames returns a sorted copy of an axis-name set
func SortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
