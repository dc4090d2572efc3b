package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema"
)

// JoinType selects inner or left outer join semantics.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
)

// JoinSpec requests a join. Relation is "alias.relation" (or a bare relation
// of the source entity) and follows a declared foreign key. Entity requests
// an ad-hoc join to an entity reachable in the relationship graph and needs
// On. On on a left join restricts which related rows attach; it never removes
// source rows. Fetch selects the joined entity along with an Entity
// projection.
type JoinSpec struct {
	Type     JoinType
	Relation string
	Entity   string
	Alias    string
	On       Filter
	Fetch    bool
}

// PlanSpec is the raw input of Assemble.
type PlanSpec struct {
	Projection Projection
	Source     string
	Alias      string
	Joins      []JoinSpec
	Where      Filter
	GroupBy    []Expr
	Having     Filter
	OrderBy    []OrderKey
	Distinct   bool
}

// Join is a join bound to the descriptor.
type Join struct {
	typ      JoinType
	entity   *schema.EntityDefinition
	alias    string
	parent   string
	relation *schema.RelationDefinition
	keys     [2]*Column
	on       Filter
	fetch    bool
}

func (j *Join) Type() JoinType                       { return j.typ }
func (j *Join) Entity() *schema.EntityDefinition     { return j.entity }
func (j *Join) Alias() string                        { return j.alias }
func (j *Join) Parent() string                       { return j.parent }
func (j *Join) Relation() *schema.RelationDefinition { return j.relation }
func (j *Join) On() Filter                           { return j.on }
func (j *Join) Fetch() bool                          { return j.fetch }

// Keys returns the parent and target key columns of a relation join. Both
// are nil for ad-hoc joins.
func (j *Join) Keys() (parent, target *Column) { return j.keys[0], j.keys[1] }

func (j *Join) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s join ", j.typ))
	if j.relation != nil {
		sb.WriteString(j.parent + "." + j.relation.Name)
	} else {
		sb.WriteString(j.entity.Name)
	}
	sb.WriteString(" as " + j.alias)
	if j.fetch {
		sb.WriteString(" fetch")
	}
	if j.on != nil {
		sb.WriteString(" on " + j.on.String())
	}
	return sb.String()
}

// ColumnInfo describes one column of a plan's result rows.
type ColumnInfo struct {
	Name     string
	Type     schema.FieldType
	Nullable bool
}

// QueryPlan is a fully assembled, immutable query. Only Assemble creates
// plans, so a plan that exists has passed every schema and shape check.
type QueryPlan struct {
	source   *schema.EntityDefinition
	alias    string
	joins    []*Join
	selects  []Expr
	columns  []ColumnInfo
	where    Filter
	groupBy  []Expr
	having   Filter
	orderBy  []OrderKey
	distinct bool
	grouped  bool
	binding  *binding
	offset   int
	limit    int
}

func (p *QueryPlan) Source() *schema.EntityDefinition { return p.source }
func (p *QueryPlan) Alias() string                    { return p.alias }
func (p *QueryPlan) Joins() []*Join                   { return append([]*Join(nil), p.joins...) }
func (p *QueryPlan) Select() []Expr                   { return append([]Expr(nil), p.selects...) }
func (p *QueryPlan) Columns() []ColumnInfo            { return append([]ColumnInfo(nil), p.columns...) }
func (p *QueryPlan) Where() Filter                    { return p.where }
func (p *QueryPlan) GroupBy() []Expr                  { return append([]Expr(nil), p.groupBy...) }
func (p *QueryPlan) Having() Filter                   { return p.having }
func (p *QueryPlan) OrderBy() []OrderKey              { return append([]OrderKey(nil), p.orderBy...) }
func (p *QueryPlan) Distinct() bool                   { return p.distinct }

// Grouped reports whether the plan aggregates rows.
func (p *QueryPlan) Grouped() bool { return p.grouped }

// Offset returns the number of rows to skip.
func (p *QueryPlan) Offset() int { return p.offset }

// Limit returns the maximum number of rows, or 0 for no limit.
func (p *QueryPlan) Limit() int { return p.limit }

// Projection returns the projection strategy.
func (p *QueryPlan) Projection() ProjectionKind { return p.binding.kind }

// ResultType returns the Go type Project produces.
func (p *QueryPlan) ResultType() reflect.Type { return p.binding.resultType }

// WithWindow returns a copy of p that reads limit rows starting at offset.
// A limit of 0 removes the limit.
func (p *QueryPlan) WithWindow(offset, limit int) *QueryPlan {
	cp := *p
	cp.offset = offset
	cp.limit = limit
	return &cp
}

// Project maps one result row through the projection.
func (p *QueryPlan) Project(row Row) (any, error) {
	if len(row) != len(p.columns) {
		return nil, core.NewProjectionMismatch(p.binding.resultType.String(), "row has %d values, plan selects %d", len(row), len(p.columns))
	}
	return p.binding.mapRow(row)
}

// HasUniqueOrder reports whether the order keys fully determine row order:
// either the source primary key is an order key, or the plan is grouped and
// every group key is an order key. Without that, rows that tie on every key
// may come back in any order, including across pages.
func (p *QueryPlan) HasUniqueOrder() bool {
	keys := make(map[string]struct{}, len(p.orderBy))
	for _, k := range p.orderBy {
		keys[unalias(k.expr).String()] = struct{}{}
	}
	if p.grouped {
		if len(p.groupBy) == 0 {
			return true
		}
		for _, g := range p.groupBy {
			if _, ok := keys[g.String()]; !ok {
				return false
			}
		}
		return true
	}
	_, ok := keys[p.alias+"."+p.source.PrimaryKey]
	return ok
}

// String renders the plan in a stable, dialect-neutral form. Equal plans
// render equally, so the result can be used as a fingerprint in logs.
func (p *QueryPlan) String() string {
	var sb strings.Builder
	sb.WriteString("select ")
	if p.distinct {
		sb.WriteString("distinct ")
	}
	sb.WriteString(joinStrings(p.selects))
	sb.WriteString(fmt.Sprintf(" from %s as %s", p.source.Name, p.alias))
	for _, j := range p.joins {
		sb.WriteString(" " + j.String())
	}
	if p.where != nil {
		sb.WriteString(" where " + p.where.String())
	}
	if len(p.groupBy) > 0 {
		sb.WriteString(" group by " + joinStrings(p.groupBy))
	}
	if p.having != nil {
		sb.WriteString(" having " + p.having.String())
	}
	if len(p.orderBy) > 0 {
		keys := make([]string, len(p.orderBy))
		for i, k := range p.orderBy {
			keys[i] = k.String()
		}
		sb.WriteString(" order by " + strings.Join(keys, ", "))
	}
	if p.limit > 0 {
		sb.WriteString(fmt.Sprintf(" limit %d", p.limit))
	}
	if p.offset > 0 {
		sb.WriteString(fmt.Sprintf(" offset %d", p.offset))
	}
	return sb.String()
}

func joinStrings(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
