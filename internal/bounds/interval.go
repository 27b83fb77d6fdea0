// Package bounds implements closed numeric intervals and the per-axis gate
// constraint analysis built on them.
package bounds

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ppiankov/feasia/internal/model"
)

// StrictEpsilon is the nudge applied for strict > and < constraints
const StrictEpsilon = 1e-6

// ErrInvalidBounds is returned for NaN or infinite interval bounds
var ErrInvalidBounds = errors.New("invalid interval bounds")

// ErrUnknownOperator is returned when a constraint uses an unsupported operator
var ErrUnknownOperator = model.ErrUnknownOperator

// Interval is an immutable closed range. Min > Max denotes the empty interval.
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NewInterval validates and builds an interval. min > max is accepted and
// yields the empty interval.
func NewInterval(min, max float64) (Interval, error) {
	if math.IsNaN(min) || math.IsInf(min, 0) {
		return Interval{}, fmt.Errorf("%w: min is %v", ErrInvalidBounds, min)
	}
	if math.IsNaN(max) || math.IsInf(max, 0) {
		return Interval{}, fmt.Errorf("%w: max is %v", ErrInvalidBounds, max)
	}
	return Interval{Min: min, Max: max}, nil
}

// Point returns the degenerate interval [v, v]
func Point(v float64) Interval {
	return Interval{Min: v, Max: v}
}

// Empty returns the canonical empty interval
func Empty() Interval {
	return Interval{Min: 1, Max: 0}
}

// IsEmpty reports whether the interval contains no values
func (i Interval) IsEmpty() bool {
	return i.Min > i.Max
}

// IsPoint reports whether the interval is a single value
func (i Interval) IsPoint() bool {
	return i.Min == i.Max
}

// Width returns Max - Min, or 0 for the empty interval
func (i Interval) Width() float64 {
	if i.IsEmpty() {
		return 0
	}
	return i.Max - i.Min
}

// Mid returns the midpoint
func (i Interval) Mid() float64 {
	return (i.Min + i.Max) / 2
}

// Contains reports whether x lies within the interval
func (i Interval) Contains(x float64) bool {
	return x >= i.Min && x <= i.Max
}

// Intersect returns the overlap of two intervals. Disjoint inputs yield an
// empty interval.
func (i Interval) Intersect(o Interval) Interval {
	if i.IsEmpty() || o.IsEmpty() {
		return Empty()
	}
	out := Interval{Min: math.Max(i.Min, o.Min), Max: math.Min(i.Max, o.Max)}
	if out.IsEmpty() {
		return Empty()
	}
	return out
}

// ApplyConstraint narrows the interval to the values satisfying "x op v"
func (i Interval) ApplyConstraint(op model.Operator, v float64) (Interval, error) {
	if math.IsNaN(v) {
		return Interval{}, fmt.Errorf("%w: threshold is NaN", ErrInvalidBounds)
	}
	out := i
	switch op {
	case model.OpGTE:
		out.Min = math.Max(i.Min, v)
	case model.OpLTE:
		out.Max = math.Min(i.Max, v)
	case model.OpGT:
		out.Min = math.Max(i.Min, v+StrictEpsilon)
	case model.OpLT:
		out.Max = math.Min(i.Max, v-StrictEpsilon)
	case model.OpEQ:
		if !i.Contains(v) {
			return Empty(), nil
		}
		return Point(v), nil
	default:
		return Interval{}, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
	if out.IsEmpty() {
		return Empty(), nil
	}
	return out, nil
}

// Raw returns the interval on the display scale (x100), rounded
func (i Interval) Raw() (int, int) {
	return int(math.Round(i.Min * model.RawScale)), int(math.Round(i.Max * model.RawScale))
}

func (i Interval) String() string {
	if i.IsEmpty() {
		return "∅"
	}
	return "[" + strconv.FormatFloat(i.Min, 'f', -1, 64) + ", " + strconv.FormatFloat(i.Max, 'f', -1, 64) + "]"
}

// AxisRange returns the default normalized interval for an axis
func AxisRange(a model.Axis) Interval {
	return Interval{Min: a.NormMin(), Max: a.NormMax()}
}
