package query

import (
	"strings"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema"
)

// Assemble validates spec against the descriptor and returns an immutable
// plan. Every column must be read through an alias that the plan introduces
// explicitly; nothing is joined implicitly.
//
// Errors:
//   - SchemaError for unknown entities, relations, fields or aliases, and for
//     join targets that are not reachable from the source entity;
//   - ProjectionMismatchError when the projection's shape disagrees with its
//     expressions, when a projected expression is neither aggregated nor
//     grouped, or when a filter outside HAVING uses an aggregate;
//   - ValidationError when a predicate value does not fit its column.
func Assemble(d *schema.Descriptor, spec PlanSpec) (*QueryPlan, error) {
	if spec.Projection == nil {
		return nil, core.NewProjectionMismatch("", "a projection is required")
	}
	source, err := d.Entity(spec.Source)
	if err != nil {
		return nil, err
	}
	alias := spec.Alias
	if alias == "" {
		alias = source.Name
	}

	s := &scope{
		descriptor: d,
		source:     alias,
		aliases:    map[string]*schema.EntityDefinition{alias: source},
	}
	plan := &QueryPlan{source: source, alias: alias, distinct: spec.Distinct}

	for _, js := range spec.Joins {
		j, err := s.join(source, js)
		if err != nil {
			return nil, err
		}
		plan.joins = append(plan.joins, j)
	}

	if plan.where, err = s.resolveFilter(spec.Where); err != nil {
		return nil, err
	}
	if filterHasAggregate(plan.where) {
		return nil, core.NewProjectionMismatch("", "aggregate used in where clause, use having")
	}

	for _, g := range spec.GroupBy {
		bound, err := s.resolve(g)
		if err != nil {
			return nil, err
		}
		if IsAggregate(bound) {
			return nil, core.NewProjectionMismatch("", "cannot group by aggregate %s", g)
		}
		plan.groupBy = append(plan.groupBy, unalias(bound))
	}

	b, err := spec.Projection.bind(s)
	if err != nil {
		return nil, err
	}
	plan.binding = b
	plan.selects = b.exprs

	plan.grouped = len(plan.groupBy) > 0
	for _, e := range plan.selects {
		if IsAggregate(e) {
			plan.grouped = true
		}
	}
	if plan.grouped {
		for _, e := range plan.selects {
			if err := plan.checkGrouped(e); err != nil {
				return nil, err
			}
		}
	}

	if !IsEmpty(spec.Having) {
		if !plan.grouped {
			return nil, core.NewProjectionMismatch("", "having requires an aggregate or group by")
		}
		if plan.having, err = s.resolveFilter(spec.Having); err != nil {
			return nil, err
		}
	}

	for _, k := range spec.OrderBy {
		bound, err := s.resolve(k.expr)
		if err != nil {
			return nil, err
		}
		if plan.grouped {
			if err := plan.checkGrouped(bound); err != nil {
				return nil, err
			}
		}
		if plan.distinct && !selected(plan.selects, bound) {
			return nil, core.NewProjectionMismatch("", "order key %s must be selected in a distinct query", unalias(bound))
		}
		k.expr = unalias(bound)
		plan.orderBy = append(plan.orderBy, k.resolved())
	}

	plan.columns = make([]ColumnInfo, len(plan.selects))
	for i, e := range plan.selects {
		name := ExprName(e)
		if c, ok := e.(*Column); ok {
			name = c.String()
		}
		if name == "" {
			name = e.String()
		}
		nullable := true
		if c, ok := unalias(e).(*Column); ok {
			nullable = c.nullable || s.outer[c.alias]
		}
		plan.columns[i] = ColumnInfo{Name: name, Type: ExprType(e), Nullable: nullable}
	}
	return plan, nil
}

// selected reports whether e appears in the select list, ignoring aliases.
func selected(selects []Expr, e Expr) bool {
	inner := unalias(e)
	if _, ok := inner.(*Literal); ok {
		return true
	}
	for _, s := range selects {
		if unalias(s).String() == inner.String() {
			return true
		}
	}
	return false
}

// checkGrouped requires e to be an aggregate, a constant or a group key.
func (p *QueryPlan) checkGrouped(e Expr) error {
	inner := unalias(e)
	switch inner.(type) {
	case *Literal, *SubqueryExpr:
		return nil
	}
	if IsAggregate(inner) {
		return nil
	}
	for _, g := range p.groupBy {
		if g.String() == inner.String() {
			return nil
		}
	}
	return core.NewProjectionMismatch("", "%s must appear in group by or be aggregated", inner)
}

// scope tracks the aliases a plan has introduced.
type scope struct {
	descriptor *schema.Descriptor
	source     string
	aliases    map[string]*schema.EntityDefinition
	outer      map[string]bool
	fetch      []string
}

func (s *scope) join(source *schema.EntityDefinition, js JoinSpec) (*Join, error) {
	typ := js.Type
	if typ == "" {
		typ = JoinInner
	}
	if typ != JoinInner && typ != JoinLeft {
		return nil, core.NewValidationError("join", "unsupported join type %q", typ)
	}
	if (js.Relation == "") == (js.Entity == "") {
		return nil, core.NewSchemaError(source.Name, js.Relation+js.Entity, "a join names either a relation or an entity")
	}

	j := &Join{typ: typ, fetch: js.Fetch}
	if js.Relation != "" {
		parent, relName := s.source, js.Relation
		if i := strings.LastIndexByte(js.Relation, '.'); i >= 0 {
			parent, relName = js.Relation[:i], js.Relation[i+1:]
		}
		parentEntity, ok := s.aliases[parent]
		if !ok {
			return nil, core.NewSchemaError(source.Name, parent, "join parent alias is not in scope")
		}
		rel, target, err := s.descriptor.Relation(parentEntity.Name, relName)
		if err != nil {
			return nil, err
		}
		j.entity, j.parent, j.relation = target, parent, rel
		j.alias = js.Alias
		if j.alias == "" {
			j.alias = rel.Name
		}
	} else {
		target, err := s.descriptor.Entity(js.Entity)
		if err != nil {
			return nil, err
		}
		if !s.descriptor.Reachable(source.Name, target.Name) {
			return nil, core.NewSchemaError(source.Name, target.Name, "join target is not reachable from the source entity")
		}
		if IsEmpty(js.On) {
			return nil, core.NewSchemaError(source.Name, target.Name, "an entity join needs an on condition")
		}
		j.entity = target
		j.alias = js.Alias
		if j.alias == "" {
			j.alias = target.Name
		}
	}

	if _, dup := s.aliases[j.alias]; dup {
		return nil, core.NewSchemaError(source.Name, j.alias, "duplicate alias")
	}
	s.aliases[j.alias] = j.entity
	if typ == JoinLeft || s.outer[j.parent] {
		if s.outer == nil {
			s.outer = map[string]bool{}
		}
		s.outer[j.alias] = true
	}
	if j.fetch {
		s.fetch = append(s.fetch, j.alias)
	}

	if j.relation != nil {
		parentKey, err := s.resolve(&Column{alias: j.parent, field: j.relation.LocalField})
		if err != nil {
			return nil, err
		}
		targetKey, err := s.resolve(&Column{alias: j.alias, field: j.relation.TargetField})
		if err != nil {
			return nil, err
		}
		j.keys = [2]*Column{parentKey.(*Column), targetKey.(*Column)}
	}

	on, err := s.resolveFilter(js.On)
	if err != nil {
		return nil, err
	}
	if filterHasAggregate(on) {
		return nil, core.NewProjectionMismatch("", "aggregate used in join condition")
	}
	j.on = on
	return j, nil
}

func (s *scope) resolveAll(exprs []Expr) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		bound, err := s.resolve(e)
		if err != nil {
			return nil, err
		}
		out[i] = bound
	}
	return out, nil
}

// resolve binds e to the scope and computes its result type.
func (s *scope) resolve(e Expr) (Expr, error) {
	switch x := e.(type) {
	case nil:
		return nil, core.NewProjectionMismatch("", "nil expression")
	case *Column:
		if x == nil {
			return nil, core.NewProjectionMismatch("", "nil column")
		}
		alias := x.alias
		if alias == "" {
			alias = s.source
		}
		entity, ok := s.aliases[alias]
		if !ok {
			return nil, core.NewSchemaError("", x.String(), "alias "+alias+" is not in scope, join it explicitly")
		}
		field := entity.FindField(x.field)
		if field == nil {
			return nil, core.NewSchemaError(entity.Name, x.field, "unknown field")
		}
		return &Column{alias: alias, field: field.Name, column: field.ColumnName(), typ: field.Type, nullable: field.Nullable}, nil
	case *Literal:
		return x, nil
	case *Aggregate:
		return s.resolveAggregate(x)
	case *Arithmetic:
		left, err := s.resolve(x.left)
		if err != nil {
			return nil, err
		}
		right, err := s.resolve(x.right)
		if err != nil {
			return nil, err
		}
		lt, rt := ExprType(left), ExprType(right)
		if (lt != "" && !lt.IsNumeric()) || (rt != "" && !rt.IsNumeric()) {
			return nil, core.NewProjectionMismatch("", "arithmetic on non-numeric operands in %s", x)
		}
		typ := schema.FieldTypeNumber
		if (lt == schema.FieldTypeInteger || lt == "") && (rt == schema.FieldTypeInteger || rt == "") {
			typ = schema.FieldTypeInteger
		}
		return &Arithmetic{op: x.op, left: left, right: right, typ: typ}, nil
	case *CaseExpr:
		return s.resolveCase(x)
	case *SubqueryExpr:
		if x.plan == nil || len(x.plan.columns) != 1 {
			return nil, core.NewProjectionMismatch("", "a subquery must select exactly one column")
		}
		return x, nil
	case *AliasedExpr:
		if x.name == "" {
			return nil, core.NewProjectionMismatch("", "empty alias for %s", x.inner)
		}
		inner, err := s.resolve(x.inner)
		if err != nil {
			return nil, err
		}
		return &AliasedExpr{inner: inner, name: x.name}, nil
	}
	return nil, core.NewProjectionMismatch("", "unsupported expression %T", e)
}

func (s *scope) resolveAggregate(a *Aggregate) (Expr, error) {
	out := &Aggregate{fn: a.fn, distinct: a.distinct}
	if a.arg == nil {
		if a.fn != AggregateCount {
			return nil, core.NewProjectionMismatch("", "%s needs an argument", a.fn)
		}
		out.typ = schema.FieldTypeInteger
		return out, nil
	}
	arg, err := s.resolve(a.arg)
	if err != nil {
		return nil, err
	}
	if IsAggregate(arg) {
		return nil, core.NewProjectionMismatch("", "nested aggregate in %s", a)
	}
	out.arg = unalias(arg)
	argType := ExprType(arg)
	switch a.fn {
	case AggregateCount:
		out.typ = schema.FieldTypeInteger
	case AggregateSum:
		if argType != "" && !argType.IsNumeric() {
			return nil, core.NewProjectionMismatch("", "%s needs a numeric argument", a)
		}
		out.typ = schema.FieldTypeNumber
		if argType == schema.FieldTypeInteger {
			out.typ = schema.FieldTypeInteger
		}
	case AggregateAvg:
		if argType != "" && !argType.IsNumeric() {
			return nil, core.NewProjectionMismatch("", "%s needs a numeric argument", a)
		}
		out.typ = schema.FieldTypeNumber
	case AggregateMin, AggregateMax:
		out.typ = argType
	default:
		return nil, core.NewProjectionMismatch("", "unsupported aggregate %q", a.fn)
	}
	return out, nil
}

func (s *scope) resolveCase(c *CaseExpr) (Expr, error) {
	if len(c.whens) == 0 {
		return nil, core.NewProjectionMismatch("", "case expression without branches")
	}
	out := &CaseExpr{}
	for _, w := range c.whens {
		cond, err := s.resolveFilter(w.cond)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			return nil, core.NewValidationError("case", "branch condition is empty")
		}
		then, err := s.resolve(w.then)
		if err != nil {
			return nil, err
		}
		out.whens = append(out.whens, When{cond: cond, then: then})
	}
	if c.otherwise != nil {
		otherwise, err := s.resolve(c.otherwise)
		if err != nil {
			return nil, err
		}
		out.otherwise = otherwise
	}

	branches := make([]Expr, 0, len(out.whens)+1)
	for _, w := range out.whens {
		branches = append(branches, w.then)
	}
	if out.otherwise != nil {
		branches = append(branches, out.otherwise)
	}
	for _, b := range branches {
		t := ExprType(b)
		if t == "" {
			continue
		}
		if out.typ == "" {
			out.typ = t
			continue
		}
		if !compatible(out.typ, t) {
			return nil, core.NewProjectionMismatch("", "case branches disagree: %s and %s", out.typ, t)
		}
		if out.typ == schema.FieldTypeInteger && t != schema.FieldTypeInteger && t.IsNumeric() {
			out.typ = schema.FieldTypeNumber
		}
	}
	return out, nil
}

// resolveFilter binds every expression in f and checks that literal operands
// fit the type of their target.
func (s *scope) resolveFilter(f Filter) (Filter, error) {
	if IsEmpty(f) {
		return nil, nil
	}
	switch x := f.(type) {
	case *Predicate:
		return s.resolvePredicate(x)
	case *FilterGroup:
		children := make([]Filter, 0, len(x.children))
		for _, c := range x.children {
			bound, err := s.resolveFilter(c)
			if err != nil {
				return nil, err
			}
			if bound != nil {
				children = append(children, bound)
			}
		}
		return Compose(x.op, children...), nil
	case *Negation:
		inner, err := s.resolveFilter(x.inner)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	}
	return nil, core.NewValidationError("", "unsupported filter %T", f)
}

func (s *scope) resolvePredicate(p *Predicate) (Filter, error) {
	target, err := s.resolve(p.target)
	if err != nil {
		return nil, err
	}
	out := &Predicate{target: unalias(target), op: p.op}
	targetType := ExprType(target)
	ref := target.String()

	if p.op.IsText() && targetType != "" && !targetType.IsText() {
		return nil, core.NewValidationError(ref, "%s requires a text column, got %s", p.op, targetType)
	}
	if p.op.IsUnary() {
		return out, nil
	}
	if p.operand == nil {
		return nil, core.NewValidationError(ref, "%s requires a value", p.op)
	}

	switch operand := p.operand.(type) {
	case *Literal:
		v, err := checkLiteral(p.op, targetType, operand.value)
		if err != nil {
			return nil, core.NewValidationError(ref, "%v", err)
		}
		out.operand = &Literal{value: v, typ: literalType(v)}
	case *SubqueryExpr:
		bound, err := s.resolve(operand)
		if err != nil {
			return nil, err
		}
		if !compatible(targetType, ExprType(bound)) {
			return nil, core.NewValidationError(ref, "subquery returns %s, column is %s", ExprType(bound), targetType)
		}
		out.operand = bound
	default:
		if p.op.IsList() {
			return nil, core.NewValidationError(ref, "%s requires a list or a subquery", p.op)
		}
		bound, err := s.resolve(operand)
		if err != nil {
			return nil, err
		}
		if !compatible(targetType, ExprType(bound)) {
			return nil, core.NewValidationError(ref, "cannot compare %s with %s", targetType, ExprType(bound))
		}
		out.operand = unalias(bound)
	}
	return out, nil
}

func checkLiteral(op Operator, t schema.FieldType, v any) (any, error) {
	if v == nil {
		return nil, errNilOperand
	}
	if op.IsList() {
		values, ok := v.([]any)
		if !ok {
			if values, ok = toSlice(v); !ok {
				values = []any{v}
			}
		}
		if len(values) == 0 {
			return nil, errEmptyList
		}
		out := make([]any, len(values))
		for i, item := range values {
			if item == nil {
				return nil, errNilOperand
			}
			cv, err := coerceType(t, item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}
	if _, isList := toSlice(v); isList {
		return nil, errUnexpectedList
	}
	if op.IsText() {
		if _, ok := v.(string); !ok {
			return nil, errTextOperand
		}
		return v, nil
	}
	return coerceType(t, v)
}
