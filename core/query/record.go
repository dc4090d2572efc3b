package query

import (
	"fmt"
	"maps"
	"slices"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/utils"
)

// Row is one result row as returned by an execution context: values in
// select-list order, already normalized to the column types of the plan.
type Row []any

// Tuple is the output of an expression-list projection. Values are read by
// output name, by expression or by position.
type Tuple struct {
	paths  []string
	names  []string
	values []any
}

// Get returns the value selected under name. name may be the full
// "alias.field" path, an alias given with As, or a bare field name.
func (t *Tuple) Get(name string) any {
	if i := slices.Index(t.paths, name); i >= 0 {
		return t.values[i]
	}
	if i := slices.Index(t.names, name); i >= 0 {
		return t.values[i]
	}
	return nil
}

// Value returns the value selected for e.
func (t *Tuple) Value(e Expr) any {
	if e == nil {
		return nil
	}
	if i := slices.Index(t.paths, e.String()); i >= 0 {
		return t.values[i]
	}
	if name := ExprName(e); name != "" {
		return t.Get(name)
	}
	return nil
}

// At returns the value at position i.
func (t *Tuple) At(i int) any { return t.values[i] }

// Values returns a copy of all values in select order.
func (t *Tuple) Values() []any { return append([]any(nil), t.values...) }

// Len returns the number of selected values.
func (t *Tuple) Len() int { return len(t.values) }

func (t *Tuple) String() string { return fmt.Sprintf("%v", t.values) }

// Record is a whole entity row. Related records are present only for
// relations that the query fetch-joined.
type Record struct {
	entity  string
	values  map[string]any
	related map[string]*Record
}

// NewRecord returns a record of entity holding values keyed by field name.
func NewRecord(entity string, values map[string]any) *Record {
	return &Record{entity: entity, values: maps.Clone(values), related: map[string]*Record{}}
}

// Entity returns the entity name.
func (r *Record) Entity() string { return r.entity }

// Get returns the value of field.
func (r *Record) Get(field string) any { return r.values[field] }

// Values returns a copy of the field values.
func (r *Record) Values() map[string]any { return maps.Clone(r.values) }

// Related returns the record attached through the fetch join named alias.
// It is nil when a left join found no match. Accessing a relation that was
// not fetch-joined fails with core.ErrRelationNotFetched; no query is issued.
func (r *Record) Related(alias string) (*Record, error) {
	rel, ok := r.related[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", core.ErrRelationNotFetched, alias, r.entity)
	}
	return rel, nil
}

// Loaded reports whether alias was fetch-joined.
func (r *Record) Loaded(alias string) bool {
	_, ok := r.related[alias]
	return ok
}

func (r *Record) attach(alias string, rel *Record) { r.related[alias] = rel }

// DecodeRecord copies the field values of r into a new T using T's json tags.
func DecodeRecord[T any](r *Record) (T, error) {
	return utils.MapToStruct[T](r.values)
}
