// Package logic parses JSON-logic prerequisite trees into a typed form and
// evaluates them against a resolved state.
package logic

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/feasia/internal/model"
)

// Node is one element of a parsed prerequisite tree
type Node interface {
	isNode()
}

// And holds when every child holds. An empty And holds vacuously.
type And struct {
	Children []Node
}

// Or holds when any child holds. An empty Or never holds.
type Or struct {
	Children []Node
}

// Not negates its child
type Not struct {
	Child Node
}

// Compare is a binary comparison between two operands
type Compare struct {
	Op    model.Operator
	Left  Operand
	Right Operand
}

// Malformed stands in for anything that could not be parsed. It never holds.
type Malformed struct {
	Reason string
}

func (And) isNode()       {}
func (Or) isNode()        {}
func (Not) isNode()       {}
func (Compare) isNode()   {}
func (Malformed) isNode() {}

// Operand is either a variable path or a numeric constant
type Operand struct {
	Path  string
	Value float64
	IsVar bool
}

func (o Operand) String() string {
	if o.IsVar {
		return o.Path
	}
	return strconv.FormatFloat(o.Value, 'f', -1, 64)
}

// Parse converts a decoded JSON-logic value into a Node. It never fails:
// anything it cannot understand becomes a Malformed node.
func Parse(raw any) Node {
	obj, ok := asObject(raw)
	if !ok {
		if b, isBool := raw.(bool); isBool {
			if b {
				return And{}
			}
			return Or{}
		}
		return Malformed{Reason: fmt.Sprintf("expected an object, got %T", raw)}
	}
	if len(obj) != 1 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Malformed{Reason: fmt.Sprintf("expected exactly one operator, got %v", keys)}
	}

	for op, args := range obj {
		switch op {
		case "and", "or":
			list, ok := args.([]any)
			if !ok {
				return Malformed{Reason: fmt.Sprintf("%q expects a list", op)}
			}
			children := make([]Node, 0, len(list))
			for _, item := range list {
				children = append(children, Parse(item))
			}
			if op == "and" {
				return And{Children: children}
			}
			return Or{Children: children}

		case "!", "not":
			if list, ok := args.([]any); ok {
				if len(list) != 1 {
					return Malformed{Reason: fmt.Sprintf("%q expects one argument", op)}
				}
				return Not{Child: Parse(list[0])}
			}
			return Not{Child: Parse(args)}

		default:
			cmp, err := model.ParseOperator(op)
			if err != nil {
				return Malformed{Reason: fmt.Sprintf("unknown operator %q", op)}
			}
			return parseComparison(cmp, args)
		}
	}
	return Malformed{Reason: "empty object"}
}

func parseComparison(op model.Operator, args any) Node {
	list, ok := args.([]any)
	if !ok {
		return Malformed{Reason: fmt.Sprintf("%q expects a list of operands", op)}
	}

	operands := make([]Operand, 0, len(list))
	for _, item := range list {
		o, err := parseOperand(item)
		if err != nil {
			return Malformed{Reason: fmt.Sprintf("%q: %v", op, err)}
		}
		operands = append(operands, o)
	}

	switch {
	case len(operands) == 2:
		return Compare{Op: op, Left: operands[0], Right: operands[1]}
	case len(operands) == 3 && (op == model.OpLTE || op == model.OpLT):
		// between form: {"<=": [lo, x, hi]}
		return And{Children: []Node{
			Compare{Op: op, Left: operands[0], Right: operands[1]},
			Compare{Op: op, Left: operands[1], Right: operands[2]},
		}}
	default:
		return Malformed{Reason: fmt.Sprintf("%q expects 2 operands, got %d", op, len(operands))}
	}
}

func parseOperand(raw any) (Operand, error) {
	if v, ok := toFloat(raw); ok {
		return Operand{Value: v}, nil
	}
	obj, ok := asObject(raw)
	if !ok {
		return Operand{}, fmt.Errorf("unsupported operand %v", raw)
	}
	v, ok := obj["var"]
	if !ok || len(obj) != 1 {
		return Operand{}, fmt.Errorf("unsupported operand object %v", raw)
	}
	switch path := v.(type) {
	case string:
		if strings.TrimSpace(path) == "" {
			return Operand{}, fmt.Errorf("empty variable path")
		}
		return Operand{Path: path, IsVar: true}, nil
	case []any:
		if len(path) == 0 {
			return Operand{}, fmt.Errorf("empty variable path")
		}
		if s, ok := path[0].(string); ok && s != "" {
			return Operand{Path: s, IsVar: true}, nil
		}
	}
	return Operand{}, fmt.Errorf("unsupported variable reference %v", v)
}

func asObject(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	}
	return nil, false
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case int32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Describe renders a node as readable text
func Describe(n Node) string {
	switch node := n.(type) {
	case And:
		return joinChildren(node.Children, " AND ", "true")
	case Or:
		return joinChildren(node.Children, " OR ", "false")
	case Not:
		return "NOT " + Describe(node.Child)
	case Compare:
		return fmt.Sprintf("%s %s %s", node.Left, node.Op, node.Right)
	case Malformed:
		return "malformed clause (" + node.Reason + ")"
	}
	return "unknown node"
}

func joinChildren(children []Node, sep, empty string) string {
	if len(children) == 0 {
		return empty
	}
	if len(children) == 1 {
		return Describe(children[0])
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = Describe(c)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Leaf is a comparison between one variable and a constant, oriented as
// "path op threshold" with the threshold in the path's own units
type Leaf struct {
	Ref       Ref
	Path      string
	Op        model.Operator
	Threshold float64
	Label     string
}

// Normalized returns the threshold on the normalized scale
func (l Leaf) Normalized() float64 {
	if l.Ref.Scale == 0 {
		return l.Threshold
	}
	return l.Threshold / l.Ref.Scale
}

// AsLeaf orients a variable-versus-constant comparison. Comparisons between two
// variables or two constants are not leaves.
func AsLeaf(c Compare) (Leaf, bool) {
	switch {
	case c.Left.IsVar && !c.Right.IsVar:
		return Leaf{Ref: Classify(c.Left.Path), Path: c.Left.Path, Op: c.Op, Threshold: c.Right.Value, Label: Describe(c)}, true
	case !c.Left.IsVar && c.Right.IsVar:
		return Leaf{Ref: Classify(c.Right.Path), Path: c.Right.Path, Op: c.Op.Flip(), Threshold: c.Left.Value, Label: Describe(c)}, true
	}
	return Leaf{}, false
}
