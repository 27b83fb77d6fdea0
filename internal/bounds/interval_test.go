package bounds

import (
	"errors"
	"math"
	"testing"

	"github.com/ppiankov/feasia/internal/model"
)

func TestNewInterval_RejectsNonFinite(t *testing.T) {
	for _, tc := range []struct{ min, max float64 }{
		{math.NaN(), 1},
		{0, math.NaN()},
		{math.Inf(-1), 0},
		{0, math.Inf(1)},
	} {
		if _, err := NewInterval(tc.min, tc.max); !errors.Is(err, ErrInvalidBounds) {
			t.Errorf("NewInterval(%v, %v): expected ErrInvalidBounds, got %v", tc.min, tc.max, err)
		}
	}

	iv, err := NewInterval(1, 0)
	if err != nil {
		t.Fatalf("Expected min > max to be accepted, got %v", err)
	}
	if !iv.IsEmpty() {
		t.Error("Expected min > max to be empty")
	}
}

func TestInterval_IntersectCommutative(t *testing.T) {
	pairs := [][2]Interval{
		{{Min: -1, Max: 0.5}, {Min: 0, Max: 1}},
		{{Min: 0.2, Max: 0.3}, {Min: -1, Max: 1}},
		{{Min: 0, Max: 0.1}, {Min: 0.5, Max: 1}},
		{{Min: 0.4, Max: 0.4}, {Min: 0.4, Max: 0.9}},
	}
	for _, p := range pairs {
		ab := p[0].Intersect(p[1])
		ba := p[1].Intersect(p[0])
		if ab != ba {
			t.Errorf("Intersect not commutative for %v, %v: %v vs %v", p[0], p[1], ab, ba)
		}
	}
}

func TestInterval_IntersectSelf(t *testing.T) {
	iv := Interval{Min: -0.3, Max: 0.7}
	if got := iv.Intersect(iv); got != iv {
		t.Errorf("Expected self-intersection %v, got %v", iv, got)
	}
}

func TestInterval_IntersectDisjointIsEmpty(t *testing.T) {
	a := Interval{Min: 0, Max: 0.1}
	b := Interval{Min: 0.5, Max: 1}
	got := a.Intersect(b)
	if !got.IsEmpty() {
		t.Errorf("Expected empty interval, got %v", got)
	}
	if got.Width() != 0 {
		t.Errorf("Expected empty width 0, got %v", got.Width())
	}
}

func TestInterval_ApplyConstraint(t *testing.T) {
	base := Interval{Min: -1, Max: 1}

	tests := []struct {
		op   model.Operator
		v    float64
		want Interval
	}{
		{model.OpGTE, 0.2, Interval{Min: 0.2, Max: 1}},
		{model.OpLTE, 0.2, Interval{Min: -1, Max: 0.2}},
		{model.OpGT, 0.2, Interval{Min: 0.2 + StrictEpsilon, Max: 1}},
		{model.OpLT, 0.2, Interval{Min: -1, Max: 0.2 - StrictEpsilon}},
		{model.OpEQ, 0.2, Point(0.2)},
		{model.OpGTE, -5, base},
	}
	for _, tt := range tests {
		got, err := base.ApplyConstraint(tt.op, tt.v)
		if err != nil {
			t.Errorf("ApplyConstraint(%s, %v): unexpected error %v", tt.op, tt.v, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ApplyConstraint(%s, %v) = %v, want %v", tt.op, tt.v, got, tt.want)
		}
	}

	if base != (Interval{Min: -1, Max: 1}) {
		t.Error("Expected ApplyConstraint to leave the receiver unchanged")
	}
}

func TestInterval_ApplyConstraint_GTEThenLTEIsPoint(t *testing.T) {
	for _, v := range []float64{-0.75, 0, 0.33, 1} {
		iv, err := Interval{Min: -1, Max: 1}.ApplyConstraint(model.OpGTE, v)
		if err != nil {
			t.Fatal(err)
		}
		iv, err = iv.ApplyConstraint(model.OpLTE, v)
		if err != nil {
			t.Fatal(err)
		}
		if iv != Point(v) {
			t.Errorf("Expected point [%v,%v], got %v", v, v, iv)
		}
		if !iv.IsPoint() {
			t.Errorf("Expected IsPoint for %v", iv)
		}
	}
}

func TestInterval_ApplyConstraint_EqualityOutsideRange(t *testing.T) {
	got, err := Interval{Min: 0, Max: 1}.ApplyConstraint(model.OpEQ, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsEmpty() {
		t.Errorf("Expected empty interval, got %v", got)
	}
}

func TestInterval_ApplyConstraint_UnknownOperator(t *testing.T) {
	_, err := Interval{Min: 0, Max: 1}.ApplyConstraint("!=", 0.5)
	if !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("Expected ErrUnknownOperator, got %v", err)
	}
}

func TestInterval_Raw(t *testing.T) {
	lo, hi := Interval{Min: -0.356, Max: 0.204}.Raw()
	if lo != -36 || hi != 20 {
		t.Errorf("Expected raw (-36, 20), got (%d, %d)", lo, hi)
	}
}
