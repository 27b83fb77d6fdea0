package model

import (
	"errors"
	"math"
	"testing"
)

func TestParseGate(t *testing.T) {
	tests := []struct {
		in      string
		want    Gate
		wantErr bool
	}{
		{in: "valence >= 0.35", want: Gate{Axis: "valence", Op: OpGTE, Threshold: 0.35}},
		{in: "threat<-0.2", want: Gate{Axis: "threat", Op: OpLT, Threshold: -0.2}},
		{in: "  arousal == 0  ", want: Gate{Axis: "arousal", Op: OpEQ, Threshold: 0}},
		{in: "valence => 0.3", wantErr: true},
		{in: "valence >=", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseGate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseGate(%q): expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseGate(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGate(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseOperator_Unknown(t *testing.T) {
	_, err := ParseOperator("!=")
	if !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("Expected ErrUnknownOperator, got %v", err)
	}
}

func TestNewPrototype_Validation(t *testing.T) {
	catalog := DefaultCatalog()

	if _, err := NewPrototype("", CategoryEmotion, map[string]float64{"valence": 1}, nil, catalog); err == nil {
		t.Error("Expected error for empty id")
	}
	if _, err := NewPrototype("joy", CategoryEmotion, nil, nil, catalog); err == nil {
		t.Error("Expected error for empty weights")
	}
	if _, err := NewPrototype("joy", CategoryEmotion, map[string]float64{"nonsense": 1}, nil, catalog); err == nil {
		t.Error("Expected error for unknown axis")
	}
	gates := []Gate{{Axis: "valence", Op: "~", Threshold: 0.1}}
	if _, err := NewPrototype("joy", CategoryEmotion, map[string]float64{"valence": 1}, gates, catalog); err == nil {
		t.Error("Expected error for unknown gate operator")
	}
}

func TestNewPrototype_NonFiniteGate(t *testing.T) {
	catalog := DefaultCatalog()
	for _, threshold := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		gates := []Gate{{Axis: "valence", Op: OpGTE, Threshold: threshold}}
		_, err := NewPrototype("joy", CategoryEmotion, map[string]float64{"valence": 1}, gates, catalog)
		if !errors.Is(err, ErrInvalidPrototype) {
			t.Errorf("Expected ErrInvalidPrototype for threshold %v, got %v", threshold, err)
		}
	}
}

func TestPrototype_Intensity(t *testing.T) {
	p, err := NewPrototype("joy", CategoryEmotion,
		map[string]float64{"valence": 1.0, "arousal": 0.5, "threat": -0.5},
		[]Gate{{Axis: "valence", Op: OpGTE, Threshold: 0.2}},
		DefaultCatalog())
	if err != nil {
		t.Fatalf("NewPrototype failed: %v", err)
	}

	// (1*0.8 + 0.5*0.4 - 0.5*-0.2) / 2 = 0.55
	got := p.Intensity(map[string]float64{"valence": 0.8, "arousal": 0.4, "threat": -0.2})
	if diff := got - 0.55; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected intensity 0.55, got %v", got)
	}

	if got := p.Intensity(map[string]float64{"valence": 0.1, "arousal": 1}); got != 0 {
		t.Errorf("Expected zero intensity when gate fails, got %v", got)
	}

	// Negative sums clamp to zero on the unipolar scale
	if got := p.Intensity(map[string]float64{"valence": 0.2, "arousal": -1, "threat": 1}); got != 0 {
		t.Errorf("Expected clamp to 0, got %v", got)
	}
}

func TestWitnessState_NormalizedDerivesArousal(t *testing.T) {
	s := WitnessState{
		Mood:   map[string]int{"valence": 50},
		Sexual: map[string]int{AxisSexExcitation: 80, AxisSexInhibition: 20, AxisBaselineLibido: 10},
		Traits: map[string]int{AxisHarmAversion: 30},
	}
	n := s.Normalized()
	if n["valence"] != 0.5 {
		t.Errorf("Expected valence 0.5, got %v", n["valence"])
	}
	if got := n[AxisSexualArousal]; got < 0.6999 || got > 0.7001 {
		t.Errorf("Expected sexual_arousal 0.7, got %v", got)
	}
	if n[AxisHarmAversion] != 0.3 {
		t.Errorf("Expected harm_aversion 0.3, got %v", n[AxisHarmAversion])
	}
}
