package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Expression is a designer-authored trigger condition
type Expression struct {
	ID            string         `json:"id" yaml:"id"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Prerequisites []Prerequisite `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Warnings      []string       `json:"warnings,omitempty" yaml:"-"` // load-time anomalies
}

// Prerequisite wraps one JSON-logic tree. Logic stays untyped so that
// malformed trees survive loading and are judged at analysis time.
type Prerequisite struct {
	Logic          any    `json:"logic" yaml:"logic"`
	FailureMessage string `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
}

// UnmarshalYAML decodes an expression without failing on its prerequisites.
// A prerequisites value that is not a list means no prerequisites; a list
// element that is not a {logic: ...} object is kept as raw logic.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID            string    `yaml:"id"`
		Description   string    `yaml:"description"`
		Prerequisites yaml.Node `yaml:"prerequisites"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*e = Expression{ID: raw.ID, Description: raw.Description}

	pre := &raw.Prerequisites
	switch {
	case pre.Kind == 0, pre.Kind == yaml.ScalarNode && pre.Tag == "!!null":
	case pre.Kind == yaml.SequenceNode:
		for _, item := range pre.Content {
			e.Prerequisites = append(e.Prerequisites, decodePrerequisite(item))
		}
	default:
		e.Warnings = append(e.Warnings,
			fmt.Sprintf("prerequisites is %s, not a list; treated as none", pre.ShortTag()))
	}
	return nil
}

func decodePrerequisite(item *yaml.Node) Prerequisite {
	var value any
	if err := item.Decode(&value); err != nil {
		return Prerequisite{Logic: item.Value}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return Prerequisite{Logic: value}
	}
	logic, ok := obj["logic"]
	if !ok {
		return Prerequisite{Logic: value}
	}
	p := Prerequisite{Logic: logic}
	if msg, ok := obj["failure_message"].(string); ok {
		p.FailureMessage = msg
	}
	return p
}

// WitnessState is a concrete point in the state space, on the raw integer scale
type WitnessState struct {
	Mood    map[string]int `json:"mood"`
	Sexual  map[string]int `json:"sexual"`
	Traits  map[string]int `json:"affectTraits"`
	Fitness float64        `json:"fitness"`
	IsExact bool           `json:"isExact"`
}

// Normalized returns every stored axis on the normalized scale plus the derived
// sexual_arousal axis
func (s WitnessState) Normalized() map[string]float64 {
	out := make(map[string]float64, len(s.Mood)+len(s.Sexual)+len(s.Traits)+1)
	for _, section := range []map[string]int{s.Mood, s.Sexual, s.Traits} {
		for axis, v := range section {
			out[axis] = float64(v) / RawScale
		}
	}
	out[AxisSexualArousal] = SexualArousal(s.Sexual)
	return out
}

// SexualArousal derives arousal from raw sexual axes
func SexualArousal(sexual map[string]int) float64 {
	raw := float64(sexual[AxisSexExcitation]-sexual[AxisSexInhibition]+sexual[AxisBaselineLibido]) / RawScale
	return Clamp(raw, 0, 1)
}

// Clone returns a deep copy
func (s WitnessState) Clone() WitnessState {
	c := s
	c.Mood = cloneInts(s.Mood)
	c.Sexual = cloneInts(s.Sexual)
	c.Traits = cloneInts(s.Traits)
	return c
}

func cloneInts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
