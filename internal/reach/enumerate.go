package reach

import (
	"strconv"
	"strings"

	"github.com/ppiankov/feasia/internal/logic"
	"github.com/ppiankov/feasia/internal/model"
)

// DefaultMaxBranches bounds branch enumeration
const DefaultMaxBranches = 64

// path is one conjunctive path: the OR choices taken and the leaves collected
type path struct {
	choices []int
	leaves  []logic.Leaf
}

func (p path) id() string {
	var b strings.Builder
	b.WriteString("0")
	for _, c := range p.choices {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

// enumerator expands a tree into its conjunctive paths. Negations are pushed
// to the leaves; leaves the static analysis cannot use contribute nothing.
type enumerator struct {
	max       int
	truncated bool
	warnings  []string
}

func (e *enumerator) warn(msg string) {
	for _, w := range e.warnings {
		if w == msg {
			return
		}
	}
	e.warnings = append(e.warnings, msg)
}

func (e *enumerator) walk(n logic.Node, negated bool) []path {
	switch node := n.(type) {
	case logic.And:
		if negated {
			return e.disjunction(node.Children, true)
		}
		return e.conjunction(node.Children, false)

	case logic.Or:
		if negated {
			return e.conjunction(node.Children, true)
		}
		return e.disjunction(node.Children, false)

	case logic.Not:
		return e.walk(node.Child, !negated)

	case logic.Compare:
		leaf, ok := logic.AsLeaf(node)
		if !ok {
			e.warn("ignored non-constant comparison: " + logic.Describe(node))
			return []path{{}}
		}
		if !negated {
			return []path{{leaves: []logic.Leaf{leaf}}}
		}
		if leaf.Op == model.OpEQ {
			// x != v splits into x < v or x > v
			below, above := leaf, leaf
			below.Op, above.Op = model.OpLT, model.OpGT
			below.Label, above.Label = "NOT "+leaf.Label, "NOT "+leaf.Label
			return []path{
				{choices: []int{0}, leaves: []logic.Leaf{below}},
				{choices: []int{1}, leaves: []logic.Leaf{above}},
			}
		}
		leaf.Op = complement(leaf.Op)
		leaf.Label = "NOT " + leaf.Label
		return []path{{leaves: []logic.Leaf{leaf}}}

	case logic.Malformed:
		e.warn("ignored " + logic.Describe(node))
	}
	return []path{{}}
}

// conjunction is the cross product of the children's path sets
func (e *enumerator) conjunction(children []logic.Node, negated bool) []path {
	acc := []path{{}}
	for _, child := range children {
		set := e.walk(child, negated)
		next := make([]path, 0, len(acc)*len(set))
	cross:
		for _, a := range acc {
			for _, b := range set {
				if len(next) >= e.max {
					e.truncated = true
					break cross
				}
				next = append(next, path{
					choices: concatInts(a.choices, b.choices),
					leaves:  concatLeaves(a.leaves, b.leaves),
				})
			}
		}
		acc = next
	}
	return acc
}

// disjunction yields one sibling path per disjunct
func (e *enumerator) disjunction(children []logic.Node, negated bool) []path {
	if len(children) == 0 {
		e.warn("ignored empty disjunction")
		return []path{{}}
	}
	var out []path
	for k, child := range children {
		for _, p := range e.walk(child, negated) {
			if len(out) >= e.max {
				e.truncated = true
				return out
			}
			out = append(out, path{
				choices: concatInts([]int{k}, p.choices),
				leaves:  p.leaves,
			})
		}
	}
	return out
}

// complement returns the operator of the negated comparison
func complement(op model.Operator) model.Operator {
	switch op {
	case model.OpGTE:
		return model.OpLT
	case model.OpGT:
		return model.OpLTE
	case model.OpLTE:
		return model.OpGT
	case model.OpLT:
		return model.OpGTE
	}
	return op
}

func concatInts(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func concatLeaves(a, b []logic.Leaf) []logic.Leaf {
	out := make([]logic.Leaf, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}
