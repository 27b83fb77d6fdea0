package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidPrototype is returned when a prototype definition fails validation
var ErrInvalidPrototype = errors.New("invalid prototype")

// ErrUnknownOperator is returned for comparison operators outside >=, <=, >, <, ==
var ErrUnknownOperator = errors.New("unknown operator")

// Operator is a gate or clause comparison operator
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
)

// ParseOperator validates an operator string
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpGTE, OpLTE, OpGT, OpLT, OpEQ:
		return op, nil
	case "===":
		return OpEQ, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// Holds evaluates "value op threshold"
func (op Operator) Holds(value, threshold float64) bool {
	switch op {
	case OpGTE:
		return value >= threshold
	case OpLTE:
		return value <= threshold
	case OpGT:
		return value > threshold
	case OpLT:
		return value < threshold
	case OpEQ:
		return value == threshold
	}
	return false
}

// Flip mirrors the operator so that "c op x" becomes "x op' c"
func (op Operator) Flip() Operator {
	switch op {
	case OpGTE:
		return OpLTE
	case OpLTE:
		return OpGTE
	case OpGT:
		return OpLT
	case OpLT:
		return OpGT
	}
	return op
}

// Gate is a threshold condition on one normalized axis
type Gate struct {
	Axis      string   `json:"axis" yaml:"axis"`
	Op        Operator `json:"op" yaml:"op"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
}

func (g Gate) String() string {
	return fmt.Sprintf("%s %s %s", g.Axis, g.Op, strconv.FormatFloat(g.Threshold, 'f', -1, 64))
}

// Passes reports whether the gate holds for a normalized axis value
func (g Gate) Passes(value float64) bool {
	return g.Op.Holds(value, g.Threshold)
}

var gatePattern = regexp.MustCompile(`^\s*([a-z_][a-z0-9_]*)\s*(>=|<=|==|>|<)\s*(-?[0-9]*\.?[0-9]+)\s*$`)

// ParseGate parses the string form "axis op value"
func ParseGate(s string) (Gate, error) {
	m := gatePattern.FindStringSubmatch(s)
	if m == nil {
		return Gate{}, fmt.Errorf("%w: malformed gate %q", ErrInvalidPrototype, s)
	}
	op, err := ParseOperator(m[2])
	if err != nil {
		return Gate{}, err
	}
	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Gate{}, fmt.Errorf("%w: gate threshold %q: %v", ErrInvalidPrototype, m[3], err)
	}
	return Gate{Axis: m[1], Op: op, Threshold: v}, nil
}

// Scale is the legal intensity range of a prototype
type Scale string

const (
	ScaleUnipolar Scale = "unipolar" // [0,1]
	ScaleBipolar  Scale = "bipolar"  // [-1,1]
)

// Range returns the legal intensity bounds for the scale
func (s Scale) Range() (float64, float64) {
	if s == ScaleBipolar {
		return -1, 1
	}
	return 0, 1
}

// Prototype categories
const (
	CategoryEmotion = "emotion"
	CategorySexual  = "sexual"
)

// Prototype is a weighted linear combination of axes gated by threshold conditions
type Prototype struct {
	ID       string             `json:"id" yaml:"id"`
	Category string             `json:"category" yaml:"category"`
	Weights  map[string]float64 `json:"weights" yaml:"weights"`
	Gates    []Gate             `json:"gates,omitempty" yaml:"gates,omitempty"`
	Scale    Scale              `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// NewPrototype validates and builds a prototype. Weights are copied.
func NewPrototype(id, category string, weights map[string]float64, gates []Gate, catalog *Catalog) (*Prototype, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidPrototype)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: %s: weights are required", ErrInvalidPrototype, id)
	}
	p := &Prototype{
		ID:       id,
		Category: category,
		Weights:  make(map[string]float64, len(weights)),
		Gates:    append([]Gate(nil), gates...),
		Scale:    ScaleUnipolar,
	}
	for axis, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: %s: weight for %q is not a finite number", ErrInvalidPrototype, id, axis)
		}
		if catalog != nil && !catalog.Has(axis) {
			return nil, fmt.Errorf("%w: %s: unknown axis %q in weights", ErrInvalidPrototype, id, axis)
		}
		p.Weights[axis] = w
	}
	for _, g := range p.Gates {
		if catalog != nil && !catalog.Has(g.Axis) {
			return nil, fmt.Errorf("%w: %s: unknown axis %q in gates", ErrInvalidPrototype, id, g.Axis)
		}
		if _, err := ParseOperator(string(g.Op)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPrototype, id, err)
		}
		if math.IsNaN(g.Threshold) || math.IsInf(g.Threshold, 0) {
			return nil, fmt.Errorf("%w: %s: gate threshold on %q is not a finite number", ErrInvalidPrototype, id, g.Axis)
		}
	}
	return p, nil
}

// AbsWeightSum returns Σ|w|
func (p *Prototype) AbsWeightSum() float64 {
	sum := 0.0
	for _, w := range p.Weights {
		sum += math.Abs(w)
	}
	return sum
}

// Axes returns the weighted axes in sorted order
func (p *Prototype) Axes() []string {
	out := make([]string, 0, len(p.Weights))
	for axis := range p.Weights {
		out = append(out, axis)
	}
	sort.Strings(out)
	return out
}

// GatedAxes returns the set of axes this prototype gates on
func (p *Prototype) GatedAxes() map[string]bool {
	out := make(map[string]bool, len(p.Gates))
	for _, g := range p.Gates {
		out[g.Axis] = true
	}
	return out
}

// LegalRange returns the clamp bounds for intensity
func (p *Prototype) LegalRange() (float64, float64) {
	return p.Scale.Range()
}

// Intensity evaluates the prototype at a normalized axis assignment.
// A failed gate yields zero intensity. Missing axes read as zero.
func (p *Prototype) Intensity(axes map[string]float64) float64 {
	for _, g := range p.Gates {
		if !g.Passes(axes[g.Axis]) {
			return 0
		}
	}
	denom := p.AbsWeightSum()
	if denom == 0 {
		return 0
	}
	// sorted order keeps seeded searches reproducible
	sum := 0.0
	for _, axis := range p.Axes() {
		sum += p.Weights[axis] * axes[axis]
	}
	lo, hi := p.LegalRange()
	return Clamp(sum/denom, lo, hi)
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
