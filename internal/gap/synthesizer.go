// Package gap detects regions of axis space that no existing prototype can
// reach and synthesizes a candidate prototype for them.
package gap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/feasia/internal/bounds"
	"github.com/ppiankov/feasia/internal/model"
)

const (
	// DistanceThreshold is the nearest-neighbor distance above which a branch
	// may be a gap
	DistanceThreshold = 0.5

	// IntensityThreshold is the best achievable intensity below which a
	// branch may be a gap
	IntensityThreshold = 0.3

	// GateAxisWeight scales the gated-axis component of the distance
	GateAxisWeight = 0.5

	// DefaultK is the number of nearest neighbors considered
	DefaultK = 5

	// blendEpsilon keeps inverse-distance weights finite at distance 0
	blendEpsilon = 0.01
)

// Config tunes the synthesizer
type Config struct {
	K                  int     `yaml:"k" mapstructure:"k"`
	DistanceThreshold  float64 `yaml:"distance_threshold" mapstructure:"distance_threshold"`
	IntensityThreshold float64 `yaml:"intensity_threshold" mapstructure:"intensity_threshold"`
	GateAxisWeight     float64 `yaml:"gate_axis_weight" mapstructure:"gate_axis_weight"`
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		K:                  DefaultK,
		DistanceThreshold:  DistanceThreshold,
		IntensityThreshold: IntensityThreshold,
		GateAxisWeight:     GateAxisWeight,
	}
}

// Neighbor is one candidate prototype ranked by distance to the target
type Neighbor struct {
	PrototypeID   string  `json:"prototypeId"`
	Distance      float64 `json:"distance"`
	BestIntensity float64 `json:"bestIntensity"`
}

// SuggestedPrototype is a synthesized candidate for an uncovered region
type SuggestedPrototype struct {
	ID        string             `json:"id"`
	Weights   map[string]float64 `json:"weights"`
	Gates     []model.Gate       `json:"gates"`
	Rationale string             `json:"rationale"`
	Neighbors []Neighbor         `json:"neighbors"`
}

// Result is the gap verdict for one branch
type Result struct {
	BranchID        string              `json:"branchId"`
	GapDetected     bool                `json:"gapDetected"`
	Target          map[string]float64  `json:"targetSignature"`
	Nearest         []Neighbor          `json:"nearest"`
	NearestDistance float64             `json:"nearestDistance"`
	BestIntensity   float64             `json:"bestIntensity"`
	Suggested       *SuggestedPrototype `json:"suggestedPrototype"`
}

// Synthesizer compares a branch's target region with existing prototypes
type Synthesizer struct {
	cfg     Config
	catalog *model.Catalog
}

// NewSynthesizer creates a synthesizer. Zero config fields fall back to the
// defaults; a nil catalog uses the default one.
func NewSynthesizer(cfg Config, catalog *model.Catalog) *Synthesizer {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = def.DistanceThreshold
	}
	if cfg.IntensityThreshold <= 0 {
		cfg.IntensityThreshold = def.IntensityThreshold
	}
	if cfg.GateAxisWeight <= 0 {
		cfg.GateAxisWeight = def.GateAxisWeight
	}
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	return &Synthesizer{cfg: cfg, catalog: catalog}
}

// TargetSignature converts per-axis intervals into a desired weight vector:
// direction is the sign of the midpoint, importance is max(0, 1 - width/2).
// Empty intervals are skipped.
func TargetSignature(target map[string]bounds.Interval) map[string]float64 {
	sig := make(map[string]float64, len(target))
	for axis, iv := range target {
		if iv.IsEmpty() {
			continue
		}
		importance := math.Max(0, 1-iv.Width()/2)
		sig[axis] = sign(iv.Mid()) * importance
	}
	return sig
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Distance is the Euclidean distance in joint weight and gated-axis space.
// The gated-axis component is GateAxisWeight times the Jaccard distance
// between the axes the target constrains and the axes the prototype gates.
func (s *Synthesizer) Distance(signature map[string]float64, p *model.Prototype) float64 {
	axes := make(map[string]bool, len(signature)+len(p.Weights))
	for a := range signature {
		axes[a] = true
	}
	for a := range p.Weights {
		axes[a] = true
	}

	sum := 0.0
	for a := range axes {
		d := signature[a] - p.Weights[a]
		sum += d * d
	}

	gated := p.GatedAxes()
	union, mismatch := 0, 0
	seen := make(map[string]bool, len(signature)+len(gated))
	for a := range signature {
		seen[a] = true
	}
	for a := range gated {
		seen[a] = true
	}
	for a := range seen {
		union++
		_, inTarget := signature[a]
		if inTarget != gated[a] {
			mismatch++
		}
	}
	if union > 0 {
		g := s.cfg.GateAxisWeight * float64(mismatch) / float64(union)
		sum += g * g
	}
	return math.Sqrt(sum)
}

// Analyze ranks candidates against the target region and synthesizes a
// prototype when none is close enough and none can reach the region with
// sufficient intensity
func (s *Synthesizer) Analyze(branchID string, target map[string]bounds.Interval, candidates []*model.Prototype) Result {
	signature := TargetSignature(target)
	res := Result{BranchID: branchID, Target: signature}

	// 1. Rank every candidate by distance
	neighbors := make([]Neighbor, 0, len(candidates))
	byID := make(map[string]*model.Prototype, len(candidates))
	box := s.targetBox(target)
	for _, p := range candidates {
		if p == nil {
			continue
		}
		byID[p.ID] = p
		neighbors = append(neighbors, Neighbor{
			PrototypeID:   p.ID,
			Distance:      s.Distance(signature, p),
			BestIntensity: bestIntensity(p, box),
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].PrototypeID < neighbors[j].PrototypeID
	})
	if len(neighbors) > s.cfg.K {
		neighbors = neighbors[:s.cfg.K]
	}
	res.Nearest = neighbors

	// 2. Gap test
	if len(neighbors) == 0 {
		res.GapDetected = len(signature) > 0
	} else {
		res.NearestDistance = neighbors[0].Distance
		for _, n := range neighbors {
			res.BestIntensity = math.Max(res.BestIntensity, n.BestIntensity)
		}
		res.GapDetected = res.NearestDistance > s.cfg.DistanceThreshold &&
			res.BestIntensity < s.cfg.IntensityThreshold
	}
	if !res.GapDetected {
		return res
	}

	// 3. Synthesize
	res.Suggested = s.synthesize(branchID, target, signature, neighbors, byID, res)
	return res
}

func (s *Synthesizer) targetBox(target map[string]bounds.Interval) bounds.Box {
	return func(axis string) bounds.Interval {
		if iv, ok := target[axis]; ok && !iv.IsEmpty() {
			return iv
		}
		return bounds.DefaultRange(axis, s.catalog)
	}
}

func bestIntensity(p *model.Prototype, box bounds.Box) float64 {
	gated, ok := bounds.WithGates(p.Gates, box)
	if !ok {
		return 0
	}
	_, hi := bounds.IntensityRange(p, gated)
	return hi
}

func (s *Synthesizer) synthesize(branchID string, target map[string]bounds.Interval, signature map[string]float64,
	neighbors []Neighbor, byID map[string]*model.Prototype, res Result) *SuggestedPrototype {

	weights := make(map[string]float64)
	if len(neighbors) == 0 {
		for a, w := range signature {
			weights[a] = w
		}
	} else {
		total := 0.0
		for _, n := range neighbors {
			wi := 1 / (n.Distance + blendEpsilon)
			total += wi
			for a, w := range byID[n.PrototypeID].Weights {
				weights[a] += wi * w
			}
		}
		for a := range weights {
			weights[a] = round3(weights[a] / total)
		}
	}

	return &SuggestedPrototype{
		ID:        "gap_candidate_" + strings.ReplaceAll(branchID, ".", "_"),
		Weights:   weights,
		Gates:     s.deriveGates(target),
		Rationale: rationale(res, neighbors),
		Neighbors: neighbors,
	}
}

// deriveGates turns every target bound that tightens an axis's default range
// into a gate
func (s *Synthesizer) deriveGates(target map[string]bounds.Interval) []model.Gate {
	axes := make([]string, 0, len(target))
	for a := range target {
		axes = append(axes, a)
	}
	sort.Strings(axes)

	var gates []model.Gate
	for _, a := range axes {
		iv := target[a]
		if iv.IsEmpty() {
			continue
		}
		def := bounds.DefaultRange(a, s.catalog)
		if iv.Min > def.Min {
			gates = append(gates, model.Gate{Axis: a, Op: model.OpGTE, Threshold: round3(iv.Min)})
		}
		if iv.Max < def.Max {
			gates = append(gates, model.Gate{Axis: a, Op: model.OpLTE, Threshold: round3(iv.Max)})
		}
	}
	return gates
}

func rationale(res Result, neighbors []Neighbor) string {
	if len(neighbors) == 0 {
		return "No prototypes are registered; the candidate mirrors the target signature directly."
	}
	parts := make([]string, len(neighbors))
	for i, n := range neighbors {
		parts[i] = fmt.Sprintf("%s (distance %.3f)", n.PrototypeID, n.Distance)
	}
	return fmt.Sprintf("No existing prototype covers the target region: nearest distance %.3f, best achievable intensity %.3f. Blended from neighbors %s.",
		res.NearestDistance, res.BestIntensity, strings.Join(parts, ", "))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
