package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
)

// Expr is a value-producing node of a query: a column reference, a literal,
// an aggregate, arithmetic, a CASE expression, a scalar subquery or an alias
// over one of those. Expressions are immutable. The assembler produces bound
// copies that carry their resolved result type.
type Expr interface {
	fmt.Stringer
	expr()
}

// Column references a field through an alias in scope: "member.age". A bare
// "age" is bound to the plan's source alias at assembly.
type Column struct {
	alias    string
	field    string
	column   string
	typ      schema.FieldType
	nullable bool
}

// Col returns a reference to "alias.field" or, without a dot, to a field of
// the source entity.
func Col(path string) *Column {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return &Column{alias: path[:i], field: path[i+1:]}
	}
	return &Column{field: path}
}

func (*Column) expr() {}

// Alias returns the alias the column is read through.
func (c *Column) Alias() string { return c.alias }

// Field returns the descriptor field name.
func (c *Column) Field() string { return c.field }

// ColumnName returns the storage column once bound, else the field name.
func (c *Column) ColumnName() string {
	if c.column != "" {
		return c.column
	}
	return c.field
}

// Type returns the field type. It is empty until the column is bound.
func (c *Column) Type() schema.FieldType { return c.typ }

// Nullable reports whether the bound field may hold NULL.
func (c *Column) Nullable() bool { return c.nullable }

func (c *Column) String() string {
	if c.alias == "" {
		return c.field
	}
	return c.alias + "." + c.field
}

// Literal is a constant operand. It is always sent to the store as a bound
// parameter, never inlined.
type Literal struct {
	value any
	typ   schema.FieldType
}

// Val wraps v as a literal. Pointers are dereferenced.
func Val(v any) *Literal {
	v = indirect(v)
	return &Literal{value: v, typ: literalType(v)}
}

func (*Literal) expr() {}

// Value returns the wrapped constant.
func (l *Literal) Value() any { return l.value }

// Type returns the field type inferred from the Go value.
func (l *Literal) Type() schema.FieldType { return l.typ }

func (l *Literal) String() string {
	switch v := l.value.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = Val(item).String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func literalType(v any) schema.FieldType {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return schema.FieldTypeString
	case bool:
		return schema.FieldTypeBoolean
	case float32, float64:
		return schema.FieldTypeNumber
	case []any:
		if len(val) > 0 {
			return literalType(val[0])
		}
		return ""
	}
	if _, ok := ToInt64(v); ok {
		return schema.FieldTypeInteger
	}
	if values, ok := toSlice(v); ok && len(values) > 0 {
		return literalType(values[0])
	}
	return ""
}

// AggregateFunc names a SQL aggregate.
type AggregateFunc string

const (
	AggregateCount AggregateFunc = "count"
	AggregateSum   AggregateFunc = "sum"
	AggregateAvg   AggregateFunc = "avg"
	AggregateMin   AggregateFunc = "min"
	AggregateMax   AggregateFunc = "max"
)

// Aggregate applies an aggregate function over a group of rows.
type Aggregate struct {
	fn       AggregateFunc
	arg      Expr
	distinct bool
	typ      schema.FieldType
}

// Count counts the non-null values of e.
func Count(e Expr) *Aggregate { return &Aggregate{fn: AggregateCount, arg: e} }

// CountDistinct counts the distinct non-null values of e.
func CountDistinct(e Expr) *Aggregate {
	return &Aggregate{fn: AggregateCount, arg: e, distinct: true}
}

// CountAll counts rows.
func CountAll() *Aggregate { return &Aggregate{fn: AggregateCount} }

// Sum adds the values of e.
func Sum(e Expr) *Aggregate { return &Aggregate{fn: AggregateSum, arg: e} }

// Avg averages the values of e.
func Avg(e Expr) *Aggregate { return &Aggregate{fn: AggregateAvg, arg: e} }

// Min returns the smallest value of e.
func Min(e Expr) *Aggregate { return &Aggregate{fn: AggregateMin, arg: e} }

// Max returns the largest value of e.
func Max(e Expr) *Aggregate { return &Aggregate{fn: AggregateMax, arg: e} }

func (*Aggregate) expr() {}

func (a *Aggregate) Func() AggregateFunc    { return a.fn }
func (a *Aggregate) Arg() Expr              { return a.arg }
func (a *Aggregate) Distinct() bool         { return a.distinct }
func (a *Aggregate) Type() schema.FieldType { return a.typ }

func (a *Aggregate) String() string {
	if a.arg == nil {
		return string(a.fn) + "(*)"
	}
	if a.distinct {
		return fmt.Sprintf("%s(distinct %s)", a.fn, a.arg)
	}
	return fmt.Sprintf("%s(%s)", a.fn, a.arg)
}

// ArithmeticOp is a binary arithmetic operator.
type ArithmeticOp string

const (
	OpAdd ArithmeticOp = "+"
	OpSub ArithmeticOp = "-"
	OpMul ArithmeticOp = "*"
)

// Arithmetic combines two numeric operands.
type Arithmetic struct {
	op          ArithmeticOp
	left, right Expr
	typ         schema.FieldType
}

// Add returns left + right. Operands that are not expressions become literals.
func Add(left, right any) *Arithmetic {
	return &Arithmetic{op: OpAdd, left: toExpr(left), right: toExpr(right)}
}

// Sub returns left - right.
func Sub(left, right any) *Arithmetic {
	return &Arithmetic{op: OpSub, left: toExpr(left), right: toExpr(right)}
}

// Mul returns left * right.
func Mul(left, right any) *Arithmetic {
	return &Arithmetic{op: OpMul, left: toExpr(left), right: toExpr(right)}
}

func (*Arithmetic) expr() {}

func (a *Arithmetic) Op() ArithmeticOp       { return a.op }
func (a *Arithmetic) Left() Expr             { return a.left }
func (a *Arithmetic) Right() Expr            { return a.right }
func (a *Arithmetic) Type() schema.FieldType { return a.typ }

func (a *Arithmetic) String() string {
	return fmt.Sprintf("(%s %s %s)", a.left, a.op, a.right)
}

// When is one branch of a CASE expression.
type When struct {
	cond Filter
	then Expr
}

func (w When) Cond() Filter { return w.cond }
func (w When) Then() Expr   { return w.then }

// CaseExpr is a searched CASE expression. Each call to When or Else returns a
// new expression.
type CaseExpr struct {
	whens     []When
	otherwise Expr
	typ       schema.FieldType
}

// Case starts an empty CASE expression.
func Case() *CaseExpr { return &CaseExpr{} }

// When appends a branch taken when cond holds.
func (c *CaseExpr) When(cond Filter, then any) *CaseExpr {
	next := &CaseExpr{otherwise: c.otherwise}
	next.whens = append(append([]When(nil), c.whens...), When{cond: cond, then: toExpr(then)})
	return next
}

// Else sets the value used when no branch matches.
func (c *CaseExpr) Else(v any) *CaseExpr {
	return &CaseExpr{whens: append([]When(nil), c.whens...), otherwise: toExpr(v)}
}

func (*CaseExpr) expr() {}

// Whens returns the branches in declaration order.
func (c *CaseExpr) Whens() []When { return append([]When(nil), c.whens...) }

// Otherwise returns the ELSE value, or nil.
func (c *CaseExpr) Otherwise() Expr { return c.otherwise }

func (c *CaseExpr) Type() schema.FieldType { return c.typ }

func (c *CaseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("case")
	for _, w := range c.whens {
		sb.WriteString(fmt.Sprintf(" when %s then %s", w.cond, w.then))
	}
	if c.otherwise != nil {
		sb.WriteString(fmt.Sprintf(" else %s", c.otherwise))
	}
	sb.WriteString(" end")
	return sb.String()
}

// SubqueryExpr embeds an assembled plan as a scalar value or as the right
// hand side of an IN predicate. The plan must select exactly one column.
type SubqueryExpr struct {
	plan *QueryPlan
}

// Subquery wraps plan. The plan keeps its own alias scope.
func Subquery(plan *QueryPlan) *SubqueryExpr { return &SubqueryExpr{plan: plan} }

func (*SubqueryExpr) expr() {}

func (s *SubqueryExpr) Plan() *QueryPlan { return s.plan }

// Type returns the type of the single selected column.
func (s *SubqueryExpr) Type() schema.FieldType {
	if s.plan == nil || len(s.plan.columns) != 1 {
		return ""
	}
	return s.plan.columns[0].Type
}

func (s *SubqueryExpr) String() string {
	if s.plan == nil {
		return "(<nil>)"
	}
	return "(" + s.plan.String() + ")"
}

// AliasedExpr names an expression in the select list.
type AliasedExpr struct {
	inner Expr
	name  string
}

// As names e. Field projections match struct fields against this name.
func As(e Expr, name string) *AliasedExpr { return &AliasedExpr{inner: e, name: name} }

func (*AliasedExpr) expr() {}

func (a *AliasedExpr) Inner() Expr    { return a.inner }
func (a *AliasedExpr) Name() string   { return a.name }
func (a *AliasedExpr) String() string { return fmt.Sprintf("%s as %s", a.inner, a.name) }

func toExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Val(v)
}

// ExprName returns the output name of e: the alias of an AliasedExpr or the
// field of a Column. Other expressions are unnamed.
func ExprName(e Expr) string {
	switch x := e.(type) {
	case *AliasedExpr:
		return x.name
	case *Column:
		return x.field
	}
	return ""
}

// ExprType returns the resolved type of a bound expression.
func ExprType(e Expr) schema.FieldType {
	switch x := e.(type) {
	case *Column:
		return x.typ
	case *Literal:
		return x.typ
	case *Aggregate:
		return x.typ
	case *Arithmetic:
		return x.typ
	case *CaseExpr:
		return x.typ
	case *SubqueryExpr:
		return x.Type()
	case *AliasedExpr:
		return ExprType(x.inner)
	}
	return ""
}

// IsAggregate reports whether e contains an aggregate outside of a subquery.
func IsAggregate(e Expr) bool {
	switch x := e.(type) {
	case *Aggregate:
		return true
	case *Arithmetic:
		return IsAggregate(x.left) || IsAggregate(x.right)
	case *CaseExpr:
		for _, w := range x.whens {
			if IsAggregate(w.then) || filterHasAggregate(w.cond) {
				return true
			}
		}
		return x.otherwise != nil && IsAggregate(x.otherwise)
	case *AliasedExpr:
		return IsAggregate(x.inner)
	}
	return false
}

// unalias strips AliasedExpr wrappers.
func unalias(e Expr) Expr {
	for {
		a, ok := e.(*AliasedExpr)
		if !ok {
			return e
		}
		e = a.inner
	}
}
