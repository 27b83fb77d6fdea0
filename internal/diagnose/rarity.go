// Package diagnose merges static analysis, witness search and externally
// supplied sampling statistics into one ranked, explained diagnosis.
package diagnose

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidValue is returned for out-of-range inputs and unknown enum values
var ErrInvalidValue = errors.New("invalid value")

// RarityCategory buckets an expression by how often it fires
type RarityCategory string

const (
	RarityImpossible    RarityCategory = "impossible"
	RarityExtremelyRare RarityCategory = "extremely_rare"
	RarityRare          RarityCategory = "rare"
	RarityNormal        RarityCategory = "normal"
	RarityFrequent      RarityCategory = "frequent"
	RarityUnknown       RarityCategory = "unknown"
)

// Trigger-rate thresholds. A rate equal to a threshold falls in the bucket
// above it: 1e-5 is rare, not extremely rare.
const (
	ThresholdExtremelyRare = 1e-5
	ThresholdRare          = 5e-4
	ThresholdNormal        = 2e-2
)

// RarityCategoryForRate classifies a trigger rate. Zero is impossible; NaN
// carries no information.
func RarityCategoryForRate(r float64) RarityCategory {
	switch {
	case math.IsNaN(r):
		return RarityUnknown
	case r <= 0:
		return RarityImpossible
	case r < ThresholdExtremelyRare:
		return RarityExtremelyRare
	case r < ThresholdRare:
		return RarityRare
	case r < ThresholdNormal:
		return RarityNormal
	default:
		return RarityFrequent
	}
}

// ParseRarityCategory validates a category name
func ParseRarityCategory(s string) (RarityCategory, error) {
	switch c := RarityCategory(s); c {
	case RarityImpossible, RarityExtremelyRare, RarityRare, RarityNormal, RarityFrequent, RarityUnknown:
		return c, nil
	}
	return "", fmt.Errorf("%w: rarity category %q", ErrInvalidValue, s)
}

// StatusIndicator is the display triple for a category
type StatusIndicator struct {
	Color string `json:"color"`
	Emoji string `json:"emoji"`
	Label string `json:"label"`
}

var indicators = map[RarityCategory]StatusIndicator{
	RarityImpossible:    {Color: "red", Emoji: "🔴", Label: "Impossible"},
	RarityExtremelyRare: {Color: "orange", Emoji: "🟠", Label: "Extremely Rare"},
	RarityRare:          {Color: "yellow", Emoji: "🟡", Label: "Rare"},
	RarityNormal:        {Color: "green", Emoji: "🟢", Label: "Normal"},
	RarityFrequent:      {Color: "blue", Emoji: "🔵", Label: "Frequent"},
	RarityUnknown:       {Color: "gray", Emoji: "⚪", Label: "Unknown"},
}

// Indicator returns the display triple; unrecognized categories render as unknown
func (c RarityCategory) Indicator() StatusIndicator {
	if ind, ok := indicators[c]; ok {
		return ind
	}
	return indicators[RarityUnknown]
}
