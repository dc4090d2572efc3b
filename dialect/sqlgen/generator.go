// Package sqlgen renders assembled query plans and mutation statements as
// SQL text plus positional parameters for a dialect. Rendering is a single
// left-to-right pass, so parameters are numbered in the order they appear in
// the text. Every literal becomes a parameter; LIMIT and OFFSET are integers
// and are written inline.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/dialect"
)

// Generator renders SQL for one dialect. It is stateless and safe for
// concurrent use.
type Generator struct {
	dialect dialect.Dialect
}

// New returns a generator for d.
func New(d dialect.Dialect) *Generator {
	return &Generator{dialect: d}
}

// Dialect returns the dialect the generator renders for.
func (g *Generator) Dialect() dialect.Dialect { return g.dialect }

// writer accumulates SQL text and parameters for one statement.
type writer struct {
	g       *Generator
	sb      strings.Builder
	params  *[]any
	qualify bool
}

func (g *Generator) newWriter(qualify bool) *writer {
	return &writer{g: g, params: &[]any{}, qualify: qualify}
}

func (w *writer) nested() *writer {
	return &writer{g: w.g, params: w.params, qualify: true}
}

func (w *writer) write(parts ...string) {
	for _, p := range parts {
		w.sb.WriteString(p)
	}
}

func (w *writer) param(v any) {
	*w.params = append(*w.params, w.g.dialect.PrepareValue(v))
	w.sb.WriteString(w.g.dialect.Placeholder(len(*w.params)))
}

func (w *writer) quote(name string) string { return w.g.dialect.QuoteIdentifier(name) }

// Select renders the plan, including its window.
func (g *Generator) Select(plan *query.QueryPlan) (string, []any, error) {
	if plan == nil {
		return "", nil, fmt.Errorf("QueryPlan cannot be nil")
	}
	w := g.newWriter(true)
	if err := w.selectStatement(plan, false, true); err != nil {
		return "", nil, err
	}
	return w.sb.String() + ";", *w.params, nil
}

// Count renders a query counting the rows plan matches, ignoring its order
// and window. Grouped and distinct plans are counted through a derived table.
func (g *Generator) Count(plan *query.QueryPlan) (string, []any, error) {
	if plan == nil {
		return "", nil, fmt.Errorf("QueryPlan cannot be nil")
	}
	w := g.newWriter(true)
	if plan.Grouped() || plan.Distinct() {
		w.write("SELECT COUNT(*) FROM (")
		if err := w.selectStatement(plan, true, false); err != nil {
			return "", nil, err
		}
		w.write(") AS ", w.quote("q"), ";")
		return w.sb.String(), *w.params, nil
	}
	w.write("SELECT COUNT(*)")
	if err := w.fromWhere(plan); err != nil {
		return "", nil, err
	}
	return w.sb.String() + ";", *w.params, nil
}

// selectStatement writes SELECT ... [ORDER BY ...] [LIMIT ...]. Derived
// tables alias every column positionally so that duplicate names from
// different aliases cannot clash.
func (w *writer) selectStatement(plan *query.QueryPlan, derived, ordered bool) error {
	w.write("SELECT ")
	if plan.Distinct() {
		w.write("DISTINCT ")
	}
	for i, e := range plan.Select() {
		if i > 0 {
			w.write(", ")
		}
		if err := w.expr(e); err != nil {
			return err
		}
		switch {
		case derived:
			w.write(" AS ", w.quote(fmt.Sprintf("c%d", i+1)))
		default:
			if a, ok := e.(*query.AliasedExpr); ok {
				w.write(" AS ", w.quote(a.Name()))
			}
		}
	}

	if err := w.fromWhere(plan); err != nil {
		return err
	}

	if groupBy := plan.GroupBy(); len(groupBy) > 0 {
		w.write(" GROUP BY ")
		for i, e := range groupBy {
			if i > 0 {
				w.write(", ")
			}
			if err := w.expr(e); err != nil {
				return err
			}
		}
	}
	if having := plan.Having(); having != nil {
		w.write(" HAVING ")
		if err := w.filter(having); err != nil {
			return err
		}
	}

	if !ordered {
		return nil
	}
	if orderBy := plan.OrderBy(); len(orderBy) > 0 {
		w.write(" ORDER BY ")
		for i, k := range orderBy {
			if i > 0 {
				w.write(", ")
			}
			if err := w.expr(k.Expr()); err != nil {
				return err
			}
			w.write(" ", strings.ToUpper(string(k.Direction())))
			w.write(" NULLS ", strings.ToUpper(string(k.Nulls())))
		}
	}
	w.write(w.g.dialect.LimitClause(plan.Limit(), plan.Offset()))
	return nil
}

func (w *writer) fromWhere(plan *query.QueryPlan) error {
	w.write(" FROM ", w.table(plan.Source(), plan.Alias()))
	for _, j := range plan.Joins() {
		if err := w.join(j); err != nil {
			return err
		}
	}
	if where := plan.Where(); where != nil {
		w.write(" WHERE ")
		if err := w.filter(where); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) table(entity *schema.EntityDefinition, alias string) string {
	table := w.quote(entity.TableName())
	if alias == "" || alias == entity.TableName() {
		return table
	}
	return table + " AS " + w.quote(alias)
}

func (w *writer) join(j *query.Join) error {
	switch j.Type() {
	case query.JoinLeft:
		w.write(" LEFT JOIN ")
	default:
		w.write(" INNER JOIN ")
	}
	w.write(w.table(j.Entity(), j.Alias()), " ON ")

	parentKey, targetKey := j.Keys()
	on := j.On()
	if parentKey != nil {
		if err := w.expr(parentKey); err != nil {
			return err
		}
		w.write(" = ")
		if err := w.expr(targetKey); err != nil {
			return err
		}
		if on != nil {
			w.write(" AND ")
		}
	}
	if on != nil {
		return w.filter(on)
	}
	return nil
}

func (w *writer) expr(e query.Expr) error {
	switch x := e.(type) {
	case *query.Column:
		if w.qualify && x.Alias() != "" {
			w.write(w.quote(x.Alias()), ".")
		}
		w.write(w.quote(x.ColumnName()))
	case *query.Literal:
		if x.Value() == nil {
			w.write("NULL")
			return nil
		}
		w.param(x.Value())
	case *query.Aggregate:
		w.write(strings.ToUpper(string(x.Func())), "(")
		if x.Arg() == nil {
			w.write("*")
		} else {
			if x.Distinct() {
				w.write("DISTINCT ")
			}
			if err := w.expr(x.Arg()); err != nil {
				return err
			}
		}
		w.write(")")
	case *query.Arithmetic:
		w.write("(")
		if err := w.expr(x.Left()); err != nil {
			return err
		}
		w.write(" ", string(x.Op()), " ")
		if err := w.expr(x.Right()); err != nil {
			return err
		}
		w.write(")")
	case *query.CaseExpr:
		w.write("CASE")
		for _, when := range x.Whens() {
			w.write(" WHEN ")
			if err := w.filter(when.Cond()); err != nil {
				return err
			}
			w.write(" THEN ")
			if err := w.expr(when.Then()); err != nil {
				return err
			}
		}
		if x.Otherwise() != nil {
			w.write(" ELSE ")
			if err := w.expr(x.Otherwise()); err != nil {
				return err
			}
		}
		w.write(" END")
	case *query.SubqueryExpr:
		inner := w.nested()
		if err := inner.selectStatement(x.Plan(), false, true); err != nil {
			return err
		}
		w.write("(", inner.sb.String(), ")")
	case *query.AliasedExpr:
		return w.expr(x.Inner())
	default:
		return fmt.Errorf("unsupported expression for SQL: %T", e)
	}
	return nil
}

func (w *writer) filter(f query.Filter) error {
	switch x := f.(type) {
	case *query.Predicate:
		return w.predicate(x)
	case *query.FilterGroup:
		children := x.Filters()
		if len(children) == 0 {
			return fmt.Errorf("empty filter group")
		}
		op := " " + strings.ToUpper(string(x.Operator())) + " "
		w.write("(")
		for i, c := range children {
			if i > 0 {
				w.write(op)
			}
			if err := w.filter(c); err != nil {
				return err
			}
		}
		w.write(")")
		return nil
	case *query.Negation:
		w.write("NOT (")
		if err := w.filter(x.Inner()); err != nil {
			return err
		}
		w.write(")")
		return nil
	}
	return fmt.Errorf("invalid filter structure: %T", f)
}

var comparisonSQL = map[query.Operator]string{
	query.OpEq:  "=",
	query.OpNeq: "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func (w *writer) predicate(p *query.Predicate) error {
	if err := w.expr(p.Target()); err != nil {
		return err
	}

	switch op := p.Operator(); op {
	case query.OpIsNull:
		w.write(" IS NULL")
		return nil
	case query.OpNotNull:
		w.write(" IS NOT NULL")
		return nil
	case query.OpIn, query.OpNotIn:
		if op == query.OpIn {
			w.write(" IN ")
		} else {
			w.write(" NOT IN ")
		}
		if sub, ok := p.Operand().(*query.SubqueryExpr); ok {
			return w.expr(sub)
		}
		values, ok := p.Value().([]any)
		if !ok || len(values) == 0 {
			return fmt.Errorf("%s requires a non-empty list", op)
		}
		w.write("(")
		for i, v := range values {
			if i > 0 {
				w.write(", ")
			}
			w.param(v)
		}
		w.write(")")
		return nil
	case query.OpContains, query.OpStartsWith:
		s, ok := p.Value().(string)
		if !ok {
			return fmt.Errorf("%s requires a string value", op)
		}
		pattern := escapeLike(s) + "%"
		if op == query.OpContains {
			pattern = "%" + pattern
		}
		w.write(" LIKE ")
		w.param(pattern)
		w.write(` ESCAPE '\'`)
		return nil
	default:
		sqlOp, ok := comparisonSQL[op]
		if !ok {
			return fmt.Errorf("unsupported comparison operator for direct SQL: %s", op)
		}
		w.write(" ", sqlOp, " ")
		return w.expr(p.Operand())
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Update renders a set-based UPDATE. Columns are unqualified because the
// statement touches a single table.
func (g *Generator) Update(stmt *query.UpdateStatement) (string, []any, error) {
	if stmt == nil {
		return "", nil, fmt.Errorf("UpdateStatement cannot be nil")
	}
	sets := stmt.Sets()
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("no fields provided for update")
	}
	w := g.newWriter(false)
	w.write("UPDATE ", w.quote(stmt.Entity().TableName()), " SET ")
	for i, s := range sets {
		if i > 0 {
			w.write(", ")
		}
		w.write(w.quote(s.Column.ColumnName()), " = ")
		if err := w.expr(s.Value); err != nil {
			return "", nil, fmt.Errorf("update set clause error for field '%s': %w", s.Column.Field(), err)
		}
	}
	if where := stmt.Where(); where != nil {
		w.write(" WHERE ")
		if err := w.filter(where); err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for update: %w", err)
		}
	}
	return w.sb.String() + ";", *w.params, nil
}

// Delete renders a set-based DELETE.
func (g *Generator) Delete(stmt *query.DeleteStatement) (string, []any, error) {
	if stmt == nil {
		return "", nil, fmt.Errorf("DeleteStatement cannot be nil")
	}
	w := g.newWriter(false)
	w.write("DELETE FROM ", w.quote(stmt.Entity().TableName()))
	if where := stmt.Where(); where != nil {
		w.write(" WHERE ")
		if err := w.filter(where); err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for delete: %w", err)
		}
	}
	return w.sb.String() + ";", *w.params, nil
}

// Insert renders a single-row INSERT. Columns follow the entity's field
// order; fields missing from values are left to the column default.
func (g *Generator) Insert(entity *schema.EntityDefinition, values map[string]any) (string, []any, error) {
	if entity == nil {
		return "", nil, fmt.Errorf("EntityDefinition cannot be nil")
	}
	for name := range values {
		if entity.FindField(name) == nil {
			return "", nil, fmt.Errorf("field '%s' not found in entity %s", name, entity.Name)
		}
	}

	w := g.newWriter(false)
	var columns []string
	for _, f := range entity.Fields {
		if _, ok := values[f.Name]; ok {
			columns = append(columns, w.quote(f.ColumnName()))
		}
	}
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("no valid fields found in record")
	}

	w.write("INSERT INTO ", w.quote(entity.TableName()), " (", strings.Join(columns, ", "), ") VALUES (")
	i := 0
	for _, f := range entity.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if i > 0 {
			w.write(", ")
		}
		if v == nil {
			w.write("NULL")
		} else {
			w.param(v)
		}
		i++
	}
	w.write(")")
	return w.sb.String() + ";", *w.params, nil
}
