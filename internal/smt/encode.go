// Package smt encodes expressions as SMT-LIB2 scripts and runs them through
// an external solver for an exact satisfiability answer.
package smt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/feasia/internal/logic"
	"github.com/ppiankov/feasia/internal/model"
)

// Prototypes is the registry view the encoder needs
type Prototypes interface {
	Prototype(category, id string) (*model.Prototype, bool)
}

// Script is an encoded expression ready for a solver
type Script struct {
	Text string
	// Clauses maps assertion names to the prerequisite they encode
	Clauses map[string]string
}

// ClauseName returns the assertion name of the i-th prerequisite
func ClauseName(i int) string {
	return "clause_" + strconv.Itoa(i+1)
}

type encoder struct {
	prototypes Prototypes
	catalog    *model.Catalog

	axes   map[string]bool
	protos map[string]*model.Prototype
}

// Encode builds a script for an expression. Axis variables are reals on the
// normalized scale, so the answer relaxes the integer raw grid; unresolved
// variables and malformed nodes encode as false, matching the evaluator.
func Encode(expr model.Expression, prototypes Prototypes, catalog *model.Catalog) (Script, error) {
	if prototypes == nil {
		return Script{}, fmt.Errorf("encode %s: prototypes are required", expr.ID)
	}
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	e := &encoder{
		prototypes: prototypes,
		catalog:    catalog,
		axes:       make(map[string]bool),
		protos:     make(map[string]*model.Prototype),
	}

	asserts := make([]string, len(expr.Prerequisites))
	clauses := make(map[string]string, len(expr.Prerequisites))
	for i, pre := range expr.Prerequisites {
		node := logic.Parse(pre.Logic)
		name := ClauseName(i)
		asserts[i] = fmt.Sprintf("(assert (! %s :named %s))", e.node(node), name)
		label := logic.Describe(node)
		if pre.FailureMessage != "" {
			label += ": " + pre.FailureMessage
		}
		clauses[name] = label
	}

	var b strings.Builder
	b.WriteString("(set-option :produce-unsat-cores true)\n")
	b.WriteString("(set-logic QF_LRA)\n")
	e.writeDeclarations(&b)
	for _, a := range asserts {
		b.WriteString(a)
		b.WriteByte('\n')
	}
	b.WriteString("(check-sat)\n")
	b.WriteString("(get-unsat-core)\n")
	return Script{Text: b.String(), Clauses: clauses}, nil
}

func (e *encoder) writeDeclarations(b *strings.Builder) {
	// Intensities reference their weighted and gated axes
	protoKeys := make([]string, 0, len(e.protos))
	for k, p := range e.protos {
		protoKeys = append(protoKeys, k)
		for axis := range p.Weights {
			e.useAxis(axis)
		}
		for _, g := range p.Gates {
			e.useAxis(g.Axis)
		}
	}
	sort.Strings(protoKeys)

	derived := e.axes[model.AxisSexualArousal]
	if derived {
		e.axes[model.AxisSexExcitation] = true
		e.axes[model.AxisSexInhibition] = true
		e.axes[model.AxisBaselineLibido] = true
	}

	for _, name := range model.SortedNames(e.axes) {
		if name == model.AxisSexualArousal {
			continue
		}
		ax, ok := e.catalog.Get(name)
		if !ok {
			continue
		}
		sym := axisSymbol(name)
		fmt.Fprintf(b, "(declare-const %s Real)\n", sym)
		fmt.Fprintf(b, "(assert (and (>= %s %s) (<= %s %s)))\n", sym, decimal(ax.NormMin()), sym, decimal(ax.NormMax()))
	}
	if derived {
		sum := fmt.Sprintf("(+ (- %s %s) %s)",
			axisSymbol(model.AxisSexExcitation), axisSymbol(model.AxisSexInhibition), axisSymbol(model.AxisBaselineLibido))
		fmt.Fprintf(b, "(define-fun %s () Real %s)\n", axisSymbol(model.AxisSexualArousal), clamp(sum, 0, 1))
	}

	for _, k := range protoKeys {
		p := e.protos[k]
		fmt.Fprintf(b, "(define-fun %s () Real %s)\n", protoSymbol(p.Category, p.ID), intensity(p))
	}
}

func (e *encoder) useAxis(name string) {
	e.axes[name] = true
}

func (e *encoder) node(n logic.Node) string {
	switch v := n.(type) {
	case logic.And:
		if len(v.Children) == 0 {
			return "true"
		}
		return "(and " + e.children(v.Children) + ")"
	case logic.Or:
		if len(v.Children) == 0 {
			return "false"
		}
		return "(or " + e.children(v.Children) + ")"
	case logic.Not:
		return "(not " + e.node(v.Child) + ")"
	case logic.Compare:
		left, okL := e.operand(v.Left)
		right, okR := e.operand(v.Right)
		if !okL || !okR {
			return "false"
		}
		return comparison(v.Op, left, right)
	default:
		return "false"
	}
}

func (e *encoder) children(nodes []logic.Node) string {
	parts := make([]string, len(nodes))
	for i, c := range nodes {
		parts[i] = e.node(c)
	}
	return strings.Join(parts, " ")
}

// operand returns the term for an operand in the operand's own units
func (e *encoder) operand(o logic.Operand) (string, bool) {
	if !o.IsVar {
		return decimal(o.Value), true
	}
	ref := logic.Classify(o.Path)
	switch ref.Kind {
	case logic.RefAxis:
		if !e.catalog.Has(ref.Key) {
			return "", false
		}
		e.useAxis(ref.Key)
		sym := axisSymbol(ref.Key)
		if ref.Scale == 1 {
			return sym, true
		}
		return fmt.Sprintf("(* %s %s)", decimal(ref.Scale), sym), true
	case logic.RefPrototype:
		p, ok := e.prototypes.Prototype(ref.Category, ref.Key)
		if !ok {
			return "", false
		}
		e.protos[p.Category+"/"+p.ID] = p
		return protoSymbol(p.Category, p.ID), true
	}
	return "", false
}

func comparison(op model.Operator, left, right string) string {
	switch op {
	case model.OpEQ:
		return fmt.Sprintf("(= %s %s)", left, right)
	case model.OpGTE, model.OpLTE, model.OpGT, model.OpLT:
		return fmt.Sprintf("(%s %s %s)", op, left, right)
	}
	return "false"
}

// intensity gates then clamps the normalized weighted sum
func intensity(p *model.Prototype) string {
	denom := p.AbsWeightSum()
	lo, hi := p.LegalRange()
	if denom == 0 {
		return decimal(0)
	}
	terms := make([]string, 0, len(p.Weights))
	for _, axis := range p.Axes() {
		terms = append(terms, fmt.Sprintf("(* %s %s)", decimal(p.Weights[axis]/denom), axisSymbol(axis)))
	}
	sum := terms[0]
	if len(terms) > 1 {
		sum = "(+ " + strings.Join(terms, " ") + ")"
	}
	value := clamp(sum, lo, hi)
	if len(p.Gates) == 0 {
		return value
	}
	gates := make([]string, len(p.Gates))
	for i, g := range p.Gates {
		gates[i] = comparison(g.Op, axisSymbol(g.Axis), decimal(g.Threshold))
	}
	cond := gates[0]
	if len(gates) > 1 {
		cond = "(and " + strings.Join(gates, " ") + ")"
	}
	return fmt.Sprintf("(ite %s %s %s)", cond, value, decimal(0))
}

func clamp(term string, lo, hi float64) string {
	return fmt.Sprintf("(ite (< %s %s) %s (ite (> %s %s) %s %s))",
		term, decimal(lo), decimal(lo), term, decimal(hi), decimal(hi), term)
}

func axisSymbol(name string) string {
	return "|axis." + name + "|"
}

func protoSymbol(category, id string) string {
	return "|" + category + "." + strings.ReplaceAll(id, "|", "_") + "|"
}

// decimal formats a decimal literal; SMT-LIB has no negative literals
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	if strings.HasPrefix(s, "-") {
		return "(- " + s[1:] + ")"
	}
	return s
}
