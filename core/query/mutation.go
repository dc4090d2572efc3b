package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema"
)

// Assignment sets one field in a bulk update, either to a constant or to an
// expression evaluated by the store against the row's current values.
type Assignment struct {
	field string
	value any
	expr  Expr
}

// Set assigns a constant. nil assigns NULL.
func Set(field string, v any) Assignment { return Assignment{field: field, value: indirect(v)} }

// SetExpr assigns an expression such as Add(Col("age"), 1).
func SetExpr(field string, e Expr) Assignment { return Assignment{field: field, expr: e} }

// SetClause is a bound assignment.
type SetClause struct {
	Column *Column
	Value  Expr
}

func (c SetClause) String() string { return fmt.Sprintf("%s = %s", c.Column.field, c.Value) }

// UpdateStatement is a validated set-based update of one entity.
type UpdateStatement struct {
	entity *schema.EntityDefinition
	sets   []SetClause
	where  Filter
}

// DeleteStatement is a validated set-based delete of one entity. A nil
// filter deletes every row.
type DeleteStatement struct {
	entity *schema.EntityDefinition
	where  Filter
}

// NewUpdate validates an update of entity. Columns in where and in
// assignment expressions are written as "field" or "entity.field"; the
// statement touches a single table, so joins are not available.
func NewUpdate(d *schema.Descriptor, entity string, where Filter, assignments ...Assignment) (*UpdateStatement, error) {
	s, def, err := mutationScope(d, entity)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, core.NewValidationError(entity, "an update needs at least one assignment")
	}

	stmt := &UpdateStatement{entity: def}
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		field := def.FindField(a.field)
		if field == nil {
			return nil, core.NewSchemaError(def.Name, a.field, "unknown field")
		}
		if _, dup := seen[field.Name]; dup {
			return nil, core.NewValidationError(field.Name, "assigned more than once")
		}
		seen[field.Name] = struct{}{}

		col := &Column{alias: def.Name, field: field.Name, column: field.ColumnName(), typ: field.Type, nullable: field.Nullable}
		value, err := bindAssignment(s, field, a)
		if err != nil {
			return nil, err
		}
		stmt.sets = append(stmt.sets, SetClause{Column: col, Value: value})
	}

	if stmt.where, err = s.resolveFilter(where); err != nil {
		return nil, err
	}
	if filterHasAggregate(stmt.where) {
		return nil, core.NewProjectionMismatch("", "aggregate used in update filter")
	}
	return stmt, nil
}

// NewDelete validates a delete of entity.
func NewDelete(d *schema.Descriptor, entity string, where Filter) (*DeleteStatement, error) {
	s, def, err := mutationScope(d, entity)
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{entity: def}
	if stmt.where, err = s.resolveFilter(where); err != nil {
		return nil, err
	}
	if filterHasAggregate(stmt.where) {
		return nil, core.NewProjectionMismatch("", "aggregate used in delete filter")
	}
	return stmt, nil
}

func mutationScope(d *schema.Descriptor, entity string) (*scope, *schema.EntityDefinition, error) {
	def, err := d.Entity(entity)
	if err != nil {
		return nil, nil, err
	}
	return &scope{
		descriptor: d,
		source:     def.Name,
		aliases:    map[string]*schema.EntityDefinition{def.Name: def},
	}, def, nil
}

func bindAssignment(s *scope, field *schema.FieldDefinition, a Assignment) (Expr, error) {
	if a.expr == nil {
		if a.value == nil {
			if !field.Nullable {
				return nil, core.NewValidationError(field.Name, "field is not nullable")
			}
			return &Literal{}, nil
		}
		v, err := coerceValue(field, a.value)
		if err != nil {
			return nil, core.NewValidationError(field.Name, "%v", err)
		}
		return &Literal{value: v, typ: field.Type}, nil
	}

	bound, err := s.resolve(a.expr)
	if err != nil {
		return nil, err
	}
	if IsAggregate(bound) {
		return nil, core.NewValidationError(field.Name, "aggregates cannot be assigned")
	}
	if !compatible(field.Type, ExprType(bound)) {
		return nil, core.NewValidationError(field.Name, "cannot assign %s to a %s field", ExprType(bound), field.Type)
	}
	if l, ok := bound.(*Literal); ok {
		if l.value == nil {
			return bindAssignment(s, field, Assignment{field: a.field})
		}
		return bindAssignment(s, field, Assignment{field: a.field, value: l.value})
	}
	return unalias(bound), nil
}

func (u *UpdateStatement) Entity() *schema.EntityDefinition { return u.entity }
func (u *UpdateStatement) Sets() []SetClause                { return append([]SetClause(nil), u.sets...) }
func (u *UpdateStatement) Where() Filter                    { return u.where }

func (u *UpdateStatement) String() string {
	parts := make([]string, len(u.sets))
	for i, s := range u.sets {
		parts[i] = s.String()
	}
	out := fmt.Sprintf("update %s set %s", u.entity.Name, strings.Join(parts, ", "))
	if u.where != nil {
		out += " where " + u.where.String()
	}
	return out
}

func (d *DeleteStatement) Entity() *schema.EntityDefinition { return d.entity }
func (d *DeleteStatement) Where() Filter                    { return d.where }

// All reports whether the statement deletes every row.
func (d *DeleteStatement) All() bool { return d.where == nil }

func (d *DeleteStatement) String() string {
	if d.where == nil {
		return "delete from " + d.entity.Name
	}
	return fmt.Sprintf("delete from %s where %s", d.entity.Name, d.where)
}
