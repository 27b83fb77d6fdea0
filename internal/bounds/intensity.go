package bounds

import "github.com/ppiankov/feasia/internal/model"

// Box maps an axis to its effective interval
type Box func(axis string) Interval

// IntensityRange returns the lowest and highest achievable intensity of a
// prototype when every weighted axis may take any value in its box interval.
// Gates are not consulted; callers fold them into the box first.
//
// Each axis contributes independently: a positive weight peaks at the interval
// top and bottoms out at its floor, a negative weight the other way round. The
// sum is normalized by Σ|w| and clamped to the prototype's legal range.
func IntensityRange(p *model.Prototype, box Box) (float64, float64) {
	denom := p.AbsWeightSum()
	lo, hi := p.LegalRange()
	if denom == 0 {
		return model.Clamp(0, lo, hi), model.Clamp(0, lo, hi)
	}

	var minSum, maxSum float64
	for axis, w := range p.Weights {
		iv := box(axis)
		if w >= 0 {
			maxSum += w * iv.Max
			minSum += w * iv.Min
		} else {
			maxSum += w * iv.Min
			minSum += w * iv.Max
		}
	}
	return model.Clamp(minSum/denom, lo, hi), model.Clamp(maxSum/denom, lo, hi)
}

// GatesCanFail reports whether some point of the box violates at least one gate
func GatesCanFail(gates []model.Gate, box Box) bool {
	for _, g := range gates {
		iv := box(g.Axis)
		narrowed, err := iv.ApplyConstraint(g.Op, g.Threshold)
		if err != nil {
			continue
		}
		if narrowed != iv {
			return true
		}
	}
	return false
}

// WithGates returns the box narrowed by the given gates. The boolean is false
// when some axis becomes empty.
func WithGates(gates []model.Gate, box Box) (Box, bool) {
	narrowed := make(map[string]Interval)
	for _, g := range gates {
		iv, ok := narrowed[g.Axis]
		if !ok {
			iv = box(g.Axis)
		}
		next, err := iv.ApplyConstraint(g.Op, g.Threshold)
		if err != nil {
			continue
		}
		if next.IsEmpty() {
			return box, false
		}
		narrowed[g.Axis] = next
	}
	return func(axis string) Interval {
		if iv, ok := narrowed[axis]; ok {
			return iv
		}
		return box(axis)
	}, true
}
