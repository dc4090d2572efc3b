package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
)

// Operator is the comparison a Predicate performs.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpIsNull     Operator = "null"
	OpNotNull    Operator = "notnull"
)

// IsUnary reports whether the operator takes no operand.
func (o Operator) IsUnary() bool { return o == OpIsNull || o == OpNotNull }

// IsList reports whether the operand is a list or a subquery.
func (o Operator) IsList() bool { return o == OpIn || o == OpNotIn }

// IsText reports whether the operator is a pattern match on text.
func (o Operator) IsText() bool { return o == OpContains || o == OpStartsWith }

// Filter is a boolean expression tree. A nil Filter matches every row.
type Filter interface {
	fmt.Stringer
	filter()
}

// Predicate is a single comparison of a target expression, usually a column,
// against an operand. It is immutable once built.
type Predicate struct {
	target  Expr
	op      Operator
	operand Expr
}

func (*Predicate) filter() {}

// Target returns the left-hand side.
func (p *Predicate) Target() Expr { return p.target }

// Operator returns the comparison.
func (p *Predicate) Operator() Operator { return p.op }

// Operand returns the right-hand side: a literal, a column or a subquery. It
// is nil for null checks.
func (p *Predicate) Operand() Expr { return p.operand }

// Value returns the literal operand, or nil when the operand is not a literal.
func (p *Predicate) Value() any {
	if l, ok := p.operand.(*Literal); ok {
		return l.value
	}
	return nil
}

func (p *Predicate) String() string {
	if p.op.IsUnary() {
		return fmt.Sprintf("%s %s", p.target, p.op)
	}
	return fmt.Sprintf("%s %s %s", p.target, p.op, p.operand)
}

// FilterGroup joins child filters with a logical operator.
type FilterGroup struct {
	op       schema.LogicalOperator
	children []Filter
}

func (*FilterGroup) filter() {}

func (g *FilterGroup) Operator() schema.LogicalOperator { return g.op }

// Filters returns a copy of the children.
func (g *FilterGroup) Filters() []Filter { return append([]Filter(nil), g.children...) }

func (g *FilterGroup) String() string {
	parts := make([]string, len(g.children))
	for i, c := range g.children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+string(g.op)+" ") + ")"
}

// Negation inverts a filter.
type Negation struct {
	inner Filter
}

func (*Negation) filter() {}

func (n *Negation) Inner() Filter  { return n.inner }
func (n *Negation) String() string { return fmt.Sprintf("not %s", n.inner) }

// IsEmpty reports whether f is nil, including typed nil pointers.
func IsEmpty(f Filter) bool {
	switch x := f.(type) {
	case nil:
		return true
	case *Predicate:
		return x == nil
	case *FilterGroup:
		return x == nil || len(x.children) == 0
	case *Negation:
		return x == nil || IsEmpty(x.inner)
	}
	return false
}

// Compose folds filters with op. Empty filters are skipped, no filters yield
// nil and a single filter is returned unchanged. Nested groups with the same
// operator are flattened.
func Compose(op schema.LogicalOperator, filters ...Filter) Filter {
	var children []Filter
	for _, f := range filters {
		if IsEmpty(f) {
			continue
		}
		if g, ok := f.(*FilterGroup); ok && g.op == op {
			children = append(children, g.children...)
			continue
		}
		children = append(children, f)
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return &FilterGroup{op: op, children: children}
}

// And requires every non-empty filter to hold.
func And(filters ...Filter) Filter { return Compose(schema.LogicalAnd, filters...) }

// Or requires at least one non-empty filter to hold.
func Or(filters ...Filter) Filter { return Compose(schema.LogicalOr, filters...) }

// Not negates f. Not(nil) is nil.
func Not(f Filter) Filter {
	if IsEmpty(f) {
		return nil
	}
	if n, ok := f.(*Negation); ok {
		return n.inner
	}
	return &Negation{inner: f}
}

// Compare builds a predicate over target. operand may be an Expr or a plain
// value. A nil value, or a nil pointer, yields a nil Filter so optional
// criteria can be passed straight through. List operators accept slices;
// an empty slice also yields nil.
func Compare(target Expr, op Operator, operand any) Filter {
	if target == nil {
		return nil
	}
	if op.IsUnary() {
		return &Predicate{target: target, op: op}
	}
	if e, ok := operand.(Expr); ok {
		if l, isLit := e.(*Literal); isLit && (l == nil || l.value == nil) {
			return nil
		}
		return &Predicate{target: target, op: op, operand: e}
	}
	v := indirect(operand)
	if v == nil {
		return nil
	}
	if op.IsList() {
		values, ok := toSlice(v)
		if !ok {
			values = []any{v}
		}
		if len(values) == 0 {
			return nil
		}
		v = values
	}
	return &Predicate{target: target, op: op, operand: Val(v)}
}

// Eq matches rows where path equals v.
func Eq(path string, v any) Filter { return Compare(Col(path), OpEq, v) }

// Neq matches rows where path differs from v.
func Neq(path string, v any) Filter { return Compare(Col(path), OpNeq, v) }

// Gt matches rows where path is greater than v.
func Gt(path string, v any) Filter { return Compare(Col(path), OpGt, v) }

// Gte matches rows where path is greater than or equal to v.
func Gte(path string, v any) Filter { return Compare(Col(path), OpGte, v) }

// Lt matches rows where path is less than v.
func Lt(path string, v any) Filter { return Compare(Col(path), OpLt, v) }

// Lte matches rows where path is less than or equal to v.
func Lte(path string, v any) Filter { return Compare(Col(path), OpLte, v) }

// Between matches lower <= path <= upper. Either bound may be nil.
func Between(path string, lower, upper any) Filter {
	return And(Gte(path, lower), Lte(path, upper))
}

// In matches rows where path is one of values. values may be a slice or a
// subquery.
func In(path string, values any) Filter { return Compare(Col(path), OpIn, values) }

// NotIn matches rows where path is none of values.
func NotIn(path string, values any) Filter { return Compare(Col(path), OpNotIn, values) }

// Contains matches rows where path contains s.
func Contains(path string, s any) Filter { return Compare(Col(path), OpContains, s) }

// StartsWith matches rows where path starts with s.
func StartsWith(path string, s any) Filter { return Compare(Col(path), OpStartsWith, s) }

// IsNull matches rows where path holds no value.
func IsNull(path string) Filter { return Compare(Col(path), OpIsNull, nil) }

// NotNull matches rows where path holds a value.
func NotNull(path string) Filter { return Compare(Col(path), OpNotNull, nil) }

// EqCol compares two columns, as in a theta join.
func EqCol(left, right string) Filter { return Compare(Col(left), OpEq, Col(right)) }

func filterHasAggregate(f Filter) bool {
	switch x := f.(type) {
	case *Predicate:
		if x == nil {
			return false
		}
		return IsAggregate(x.target) || (x.operand != nil && IsAggregate(x.operand))
	case *FilterGroup:
		if x == nil {
			return false
		}
		for _, c := range x.children {
			if filterHasAggregate(c) {
				return true
			}
		}
	case *Negation:
		return x != nil && filterHasAggregate(x.inner)
	}
	return false
}
