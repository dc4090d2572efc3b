package query

import (
	"github.com/asaidimu/go-querykit/core/schema"
)

// PlanBuilder provides a fluent API for building a PlanSpec. Nothing is
// checked until Build, which runs Assemble.
//
//	plan, err := query.Select(query.Entity()).
//		From("member").
//		LeftJoin("member.team", "team").On(query.Eq("team.name", "teamA")).End().
//		Where(query.Gte("member.age", 20)).
//		OrderBy(query.Desc(query.Col("member.age"))).
//		Build(descriptor)
type PlanBuilder struct {
	spec PlanSpec
}

// Select starts a plan with the given projection.
func Select(p Projection) *PlanBuilder {
	return &PlanBuilder{spec: PlanSpec{Projection: p}}
}

// SelectFrom starts a plan that reads whole records of entity.
func SelectFrom(entity string) *PlanBuilder {
	return Select(Entity()).From(entity)
}

// From sets the source entity. It is read through its own name unless As
// gives it another alias.
func (b *PlanBuilder) From(entity string) *PlanBuilder {
	b.spec.Source = entity
	return b
}

// As aliases the source entity.
func (b *PlanBuilder) As(alias string) *PlanBuilder {
	b.spec.Alias = alias
	return b
}

// JoinBuilder configures the join most recently added to a PlanBuilder.
type JoinBuilder struct {
	parent *PlanBuilder
	spec   JoinSpec
}

// Join adds an inner join over a relation path such as "member.team".
func (b *PlanBuilder) Join(relation, alias string) *JoinBuilder {
	return &JoinBuilder{parent: b, spec: JoinSpec{Type: JoinInner, Relation: relation, Alias: alias}}
}

// LeftJoin adds a left outer join over a relation path.
func (b *PlanBuilder) LeftJoin(relation, alias string) *JoinBuilder {
	return &JoinBuilder{parent: b, spec: JoinSpec{Type: JoinLeft, Relation: relation, Alias: alias}}
}

// JoinEntity adds an inner join to an entity with no declared relation from
// the current scope. It needs On.
func (b *PlanBuilder) JoinEntity(entity, alias string) *JoinBuilder {
	return &JoinBuilder{parent: b, spec: JoinSpec{Type: JoinInner, Entity: entity, Alias: alias}}
}

// LeftJoinEntity adds a left outer join to an entity. It needs On.
func (b *PlanBuilder) LeftJoinEntity(entity, alias string) *JoinBuilder {
	return &JoinBuilder{parent: b, spec: JoinSpec{Type: JoinLeft, Entity: entity, Alias: alias}}
}

// On adds join-time conditions, combined with AND.
func (jb *JoinBuilder) On(filters ...Filter) *JoinBuilder {
	jb.spec.On = And(append([]Filter{jb.spec.On}, filters...)...)
	return jb
}

// Fetch loads the joined entity together with the source records.
func (jb *JoinBuilder) Fetch() *JoinBuilder {
	jb.spec.Fetch = true
	return jb
}

// End finalizes the join and returns to the plan builder.
func (jb *JoinBuilder) End() *PlanBuilder {
	jb.parent.spec.Joins = append(jb.parent.spec.Joins, jb.spec)
	return jb.parent
}

// Where adds filters combined with AND. Nil filters are ignored, so optional
// criteria can be passed directly.
func (b *PlanBuilder) Where(filters ...Filter) *PlanBuilder {
	b.spec.Where = And(append([]Filter{b.spec.Where}, filters...)...)
	return b
}

// WhereAny adds one group of filters combined with OR.
func (b *PlanBuilder) WhereAny(filters ...Filter) *PlanBuilder {
	return b.Where(Compose(schema.LogicalOr, filters...))
}

// GroupBy appends grouping keys.
func (b *PlanBuilder) GroupBy(exprs ...Expr) *PlanBuilder {
	b.spec.GroupBy = append(b.spec.GroupBy, exprs...)
	return b
}

// Having adds group filters combined with AND.
func (b *PlanBuilder) Having(filters ...Filter) *PlanBuilder {
	b.spec.Having = And(append([]Filter{b.spec.Having}, filters...)...)
	return b
}

// OrderBy appends order keys. Earlier keys take priority.
func (b *PlanBuilder) OrderBy(keys ...OrderKey) *PlanBuilder {
	b.spec.OrderBy = append(b.spec.OrderBy, keys...)
	return b
}

// Distinct removes duplicate result rows.
func (b *PlanBuilder) Distinct() *PlanBuilder {
	b.spec.Distinct = true
	return b
}

// Spec returns a copy of the collected spec.
func (b *PlanBuilder) Spec() PlanSpec {
	spec := b.spec
	spec.Joins = append([]JoinSpec(nil), b.spec.Joins...)
	spec.GroupBy = append([]Expr(nil), b.spec.GroupBy...)
	spec.OrderBy = append([]OrderKey(nil), b.spec.OrderBy...)
	return spec
}

// Build assembles the plan.
func (b *PlanBuilder) Build(d *schema.Descriptor) (*QueryPlan, error) {
	return Assemble(d, b.Spec())
}
