package logic

import (
	"fmt"
	"math"

	"github.com/ppiankov/feasia/internal/model"
)

const (
	// MalformedPenalty is charged for clauses that cannot be evaluated
	MalformedPenalty = 10.0

	// StrictMargin is added to the shortfall of a failed strict comparison
	StrictMargin = 1e-4

	// negationPenalty is charged when a negated clause still holds
	negationPenalty = 1.0
)

// Outcome is the result of evaluating a node
type Outcome struct {
	Satisfied bool
	Penalty   float64 // normalized shortfall, 0 when satisfied
	Malformed bool
	Detail    string // set for failing leaves
}

// Evaluate computes satisfaction and penalty. AND sums child penalties, OR
// takes the minimum.
func Evaluate(n Node, env *Env) Outcome {
	switch node := n.(type) {
	case And:
		out := Outcome{Satisfied: true}
		for _, c := range node.Children {
			co := Evaluate(c, env)
			out.Penalty += co.Penalty
			out.Satisfied = out.Satisfied && co.Satisfied
			out.Malformed = out.Malformed || co.Malformed
			if !co.Satisfied && out.Detail == "" {
				out.Detail = co.Detail
			}
		}
		return out

	case Or:
		if len(node.Children) == 0 {
			return Outcome{Penalty: negationPenalty, Detail: "empty disjunction"}
		}
		best := Outcome{Penalty: math.Inf(1)}
		allMalformed := true
		for _, c := range node.Children {
			co := Evaluate(c, env)
			if co.Satisfied {
				return Outcome{Satisfied: true}
			}
			allMalformed = allMalformed && co.Malformed
			if co.Penalty < best.Penalty {
				best = co
			}
		}
		best.Malformed = allMalformed
		return best

	case Not:
		co := Evaluate(node.Child, env)
		if co.Malformed {
			return Outcome{Penalty: MalformedPenalty, Malformed: true, Detail: co.Detail}
		}
		if co.Satisfied {
			return Outcome{Penalty: negationPenalty, Detail: "negated clause holds: " + Describe(node.Child)}
		}
		return Outcome{Satisfied: true}

	case Compare:
		return evaluateCompare(node, env)

	case Malformed:
		return Outcome{Penalty: MalformedPenalty, Malformed: true, Detail: Describe(node)}
	}
	return Outcome{Penalty: MalformedPenalty, Malformed: true, Detail: "unknown node"}
}

func evaluateCompare(c Compare, env *Env) Outcome {
	left, lscale, lok := operandValue(c.Left, env)
	right, rscale, rok := operandValue(c.Right, env)
	if !lok || !rok {
		missing := c.Left.Path
		if lok {
			missing = c.Right.Path
		}
		return Outcome{
			Penalty:   MalformedPenalty,
			Malformed: true,
			Detail:    fmt.Sprintf("%s (unresolved variable %q)", Describe(c), missing),
		}
	}

	scale := math.Max(lscale, rscale)
	if c.Op.Holds(left, right) {
		return Outcome{Satisfied: true}
	}

	var shortfall float64
	switch c.Op {
	case model.OpGTE:
		shortfall = (right - left) / scale
	case model.OpGT:
		shortfall = (right-left)/scale + StrictMargin
	case model.OpLTE:
		shortfall = (left - right) / scale
	case model.OpLT:
		shortfall = (left-right)/scale + StrictMargin
	default:
		shortfall = math.Abs(left-right) / scale
	}
	if shortfall <= 0 {
		shortfall = StrictMargin
	}

	return Outcome{
		Penalty: shortfall,
		Detail:  fmt.Sprintf("%s (actual %s)", Describe(c), formatActual(c, left, right)),
	}
}

func operandValue(o Operand, env *Env) (float64, float64, bool) {
	if !o.IsVar {
		return o.Value, 1, true
	}
	v, ok := env.Resolve(o.Path)
	return v, Classify(o.Path).Scale, ok
}

func formatActual(c Compare, left, right float64) string {
	if c.Left.IsVar {
		return trimFloat(left)
	}
	return trimFloat(right)
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
