// Package scan compiles scan catalogs into predicates and ranks snapshot
// rows against them.
package scan

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/models"
)

// Expr is a node in a scan predicate. The node types are closed: Column,
// Number, Param, Arith, Compare, And and Or.
type Expr interface {
	String() string
	precedence() int
}

// ArithOp is a binary arithmetic operator.
type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpSub ArithOp = "-"
	OpMul ArithOp = "*"
	OpDiv ArithOp = "/"
)

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
)

const (
	precOr = iota + 1
	precAnd
	precCompare
	precAdd
	precMul
	precAtom
)

// Column reads a named snapshot column.
type Column struct {
	Name string
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Param is a named scale factor such as @price, bound to a Number before
// evaluation.
type Param struct {
	Name string
}

// Arith combines two numeric expressions.
type Arith struct {
	Op          ArithOp
	Left, Right Expr
}

// Compare tests two numeric expressions.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

// And is true when every term is true.
type And struct {
	Terms []Expr
}

// Or is true when any term is true.
type Or struct {
	Terms []Expr
}

func (Column) precedence() int  { return precAtom }
func (Number) precedence() int  { return precAtom }
func (Param) precedence() int   { return precAtom }
func (Compare) precedence() int { return precCompare }
func (And) precedence() int     { return precAnd }
func (Or) precedence() int      { return precOr }

func (a Arith) precedence() int {
	if a.Op == OpMul || a.Op == OpDiv {
		return precMul
	}
	return precAdd
}

func (c Column) String() string { return c.Name }
func (p Param) String() string  { return "@" + p.Name }

func (n Number) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func (a Arith) String() string {
	p := a.precedence()
	return wrap(a.Left, p, false) + " " + string(a.Op) + " " + wrap(a.Right, p, true)
}

func (c Compare) String() string {
	return wrap(c.Left, precCompare, true) + " " + string(c.Op) + " " + wrap(c.Right, precCompare, true)
}

func (a And) String() string { return joinTerms(a.Terms, " AND ", precAnd) }
func (o Or) String() string  { return joinTerms(o.Terms, " OR ", precOr) }

// wrap renders e, adding parentheses when it binds looser than the parent.
// strict also wraps equal precedence, keeping right operands and nested
// comparisons intact through a reparse.
func wrap(e Expr, parent int, strict bool) string {
	p := e.precedence()
	if p < parent || (strict && p == parent) {
		return "(" + e.String() + ")"
	}
	return e.String()
}

func joinTerms(terms []Expr, sep string, prec int) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = wrap(t, prec, true)
	}
	return strings.Join(parts, sep)
}

// Walk calls fn for e and every node below it, depth first.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case Arith:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case And:
		for _, t := range n.Terms {
			Walk(t, fn)
		}
	case Or:
		for _, t := range n.Terms {
			Walk(t, fn)
		}
	}
}

// Columns returns the distinct column names referenced by e, sorted.
func Columns(e Expr) []string {
	seen := make(map[string]bool)
	Walk(e, func(n Expr) {
		if c, ok := n.(Column); ok {
			seen[c.Name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type kind int

const (
	kindNumber kind = iota
	kindBool
)

// check reports the kind of e, rejecting mixed boolean and numeric operands.
func check(e Expr) (kind, error) {
	switch n := e.(type) {
	case Column, Number, Param:
		return kindNumber, nil
	case Arith:
		if err := expectKind(n.Left, kindNumber, string(n.Op)); err != nil {
			return 0, err
		}
		if err := expectKind(n.Right, kindNumber, string(n.Op)); err != nil {
			return 0, err
		}
		return kindNumber, nil
	case Compare:
		if err := expectKind(n.Left, kindNumber, string(n.Op)); err != nil {
			return 0, err
		}
		if err := expectKind(n.Right, kindNumber, string(n.Op)); err != nil {
			return 0, err
		}
		return kindBool, nil
	case And:
		return checkTerms(n.Terms, "AND")
	case Or:
		return checkTerms(n.Terms, "OR")
	case nil:
		return 0, errors.New("empty expression")
	default:
		return 0, fmt.Errorf("unsupported expression node %T", e)
	}
}

func checkTerms(terms []Expr, op string) (kind, error) {
	if len(terms) == 0 {
		return 0, fmt.Errorf("%s needs at least one term", op)
	}
	for _, t := range terms {
		if err := expectKind(t, kindBool, op); err != nil {
			return 0, err
		}
	}
	return kindBool, nil
}

func expectKind(e Expr, want kind, op string) error {
	got, err := check(e)
	if err != nil {
		return err
	}
	if got != want {
		if want == kindBool {
			return fmt.Errorf("operand of %s must be a condition, got %q", op, e.String())
		}
		return fmt.Errorf("operand of %s must be numeric, got condition %q", op, e.String())
	}
	return nil
}

// Row is anything that can supply column values.
type Row interface {
	Get(column string) models.Value
}

func evalNumber(e Expr, row Row) models.Value {
	switch n := e.(type) {
	case Column:
		return row.Get(n.Name)
	case Number:
		return models.Defined(n.Value)
	case Arith:
		return evalArith(n, row)
	default:
		// unbound params and conditions have no numeric value
		return models.Undefined()
	}
}

func evalArith(a Arith, row Row) models.Value {
	x, ok := evalNumber(a.Left, row).Float()
	if !ok {
		return models.Undefined()
	}
	y, ok := evalNumber(a.Right, row).Float()
	if !ok {
		return models.Undefined()
	}

	var r float64
	switch a.Op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		if y == 0 {
			return models.Undefined()
		}
		r = x / y
	default:
		return models.Undefined()
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return models.Undefined()
	}
	return models.Defined(r)
}

func evalBool(e Expr, row Row) bool {
	switch n := e.(type) {
	case Compare:
		x, ok := evalNumber(n.Left, row).Float()
		if !ok {
			return false
		}
		y, ok := evalNumber(n.Right, row).Float()
		if !ok {
			return false
		}
		switch n.Op {
		case OpGT:
			return x > y
		case OpGE:
			return x >= y
		case OpLT:
			return x < y
		case OpLE:
			return x <= y
		case OpEQ:
			return x == y
		case OpNE:
			return x != y
		}
		return false
	case And:
		for _, t := range n.Terms {
			if !evalBool(t, row) {
				return false
			}
		}
		return true
	case Or:
		for _, t := range n.Terms {
			if evalBool(t, row) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Bind resolves column aliases against schema and replaces params with their
// values. Every unknown column or param is reported.
func Bind(e Expr, schema *indicators.Schema, params map[string]float64) (Expr, error) {
	var errs []error
	bound := bind(e, schema, params, &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return bound, nil
}

func bind(e Expr, schema *indicators.Schema, params map[string]float64, errs *[]error) Expr {
	switch n := e.(type) {
	case Column:
		name, ok := schema.Resolve(n.Name)
		if !ok {
			*errs = append(*errs, fmt.Errorf("unknown column %q", n.Name))
			return n
		}
		return Column{Name: name}
	case Param:
		v, ok := params[n.Name]
		if !ok {
			*errs = append(*errs, fmt.Errorf("unknown parameter @%s", n.Name))
			return n
		}
		return Number{Value: v}
	case Arith:
		return Arith{Op: n.Op, Left: bind(n.Left, schema, params, errs), Right: bind(n.Right, schema, params, errs)}
	case Compare:
		return Compare{Op: n.Op, Left: bind(n.Left, schema, params, errs), Right: bind(n.Right, schema, params, errs)}
	case And:
		return And{Terms: bindTerms(n.Terms, schema, params, errs)}
	case Or:
		return Or{Terms: bindTerms(n.Terms, schema, params, errs)}
	default:
		return e
	}
}

func bindTerms(terms []Expr, schema *indicators.Schema, params map[string]float64, errs *[]error) []Expr {
	out := make([]Expr, len(terms))
	for i, t := range terms {
		out[i] = bind(t, schema, params, errs)
	}
	return out
}

// Predicate is a checked boolean expression ready to evaluate.
type Predicate struct {
	expr    Expr
	columns []string
}

// NewPredicate type-checks e, which must be a bound condition.
func NewPredicate(e Expr) (*Predicate, error) {
	k, err := check(e)
	if err != nil {
		return nil, err
	}
	if k != kindBool {
		return nil, fmt.Errorf("expression %q is not a condition", e.String())
	}
	var params []string
	Walk(e, func(n Expr) {
		if p, ok := n.(Param); ok {
			params = append(params, p.String())
		}
	})
	if len(params) > 0 {
		return nil, fmt.Errorf("unbound parameters: %s", strings.Join(params, ", "))
	}
	return &Predicate{expr: e, columns: Columns(e)}, nil
}

// Match reports whether row satisfies the predicate. A row with any
// referenced column undefined never matches.
func (p *Predicate) Match(row Row) bool {
	for _, c := range p.columns {
		if !row.Get(c).IsDefined() {
			return false
		}
	}
	return evalBool(p.expr, row)
}

// Columns returns the referenced column names, sorted.
func (p *Predicate) Columns() []string {
	return p.columns
}

// Expr returns the underlying expression tree.
func (p *Predicate) Expr() Expr {
	return p.expr
}

func (p *Predicate) String() string {
	return p.expr.String()
}
