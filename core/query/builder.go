package query

import (
	"sort"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema"
)

// PredicateBuilder turns a search Condition into predicates over one entity.
// The operator of every predicate comes from the entity's search field
// definitions; callers cannot pick operators per request. A builder holds no
// per-call state and is safe for concurrent use.
type PredicateBuilder struct {
	descriptor *schema.Descriptor
	entity     *schema.EntityDefinition
	alias      string
	relations  map[string]string
	combinator schema.LogicalOperator
}

// BuilderOption configures a PredicateBuilder.
type BuilderOption func(*PredicateBuilder)

// WithCombinator sets the operator Compose folds predicates with. The default
// is LogicalAnd.
func WithCombinator(op schema.LogicalOperator) BuilderOption {
	return func(b *PredicateBuilder) { b.combinator = op }
}

// WithAlias sets the alias that own-field predicates reference. Defaults to
// the entity name.
func WithAlias(alias string) BuilderOption {
	return func(b *PredicateBuilder) { b.alias = alias }
}

// WithRelationAlias sets the alias used for predicates on relation paths.
// Defaults to the relation name.
func WithRelationAlias(relation, alias string) BuilderOption {
	return func(b *PredicateBuilder) { b.relations[relation] = alias }
}

// NewPredicateBuilder returns a builder for the search fields of entity.
func NewPredicateBuilder(d *schema.Descriptor, entity string, opts ...BuilderOption) (*PredicateBuilder, error) {
	def, err := d.Entity(entity)
	if err != nil {
		return nil, err
	}
	b := &PredicateBuilder{
		descriptor: d,
		entity:     def,
		alias:      def.Name,
		relations:  make(map[string]string),
		combinator: schema.LogicalAnd,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.combinator != schema.LogicalAnd && b.combinator != schema.LogicalOr {
		return nil, core.NewValidationError("combinator", "unsupported logical operator %q", b.combinator)
	}
	return b, nil
}

// boundSearch is one present search key after validation.
type boundSearch struct {
	def   *schema.SearchFieldDefinition
	field *schema.FieldDefinition
	value any
}

// Build emits exactly one predicate per present search key, in the order the
// search fields are declared. Absent keys emit nothing. Every key is
// validated before any predicate is built: an unknown key is a SchemaError,
// a value of the wrong type or an inverted range is a ValidationError.
func (b *PredicateBuilder) Build(c Condition) ([]*Predicate, error) {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if b.entity.FindSearchField(key) == nil {
			return nil, core.NewSchemaError(b.entity.Name, key, "unknown search field")
		}
	}

	bound := make([]boundSearch, 0, len(c))
	for _, def := range b.entity.Search {
		raw, ok := c[def.Name]
		if !ok || isAbsent(raw) {
			continue
		}
		field, err := b.descriptor.ResolvePath(b.entity.Name, def.Path)
		if err != nil {
			return nil, err
		}
		value, err := b.validate(def, field, raw)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		bound = append(bound, boundSearch{def: def, field: field, value: value})
	}

	if err := checkRanges(bound); err != nil {
		return nil, err
	}

	predicates := make([]*Predicate, 0, len(bound))
	for _, s := range bound {
		predicates = append(predicates, b.predicate(s))
	}
	return predicates, nil
}

// Compose folds predicates with the configured combinator. No predicates
// compose to nil, which matches every row.
func (b *PredicateBuilder) Compose(predicates []*Predicate) Filter {
	filters := make([]Filter, 0, len(predicates))
	for _, p := range predicates {
		if p != nil {
			filters = append(filters, p)
		}
	}
	return Compose(b.combinator, filters...)
}

// Filter is Build followed by Compose.
func (b *PredicateBuilder) Filter(c Condition) (Filter, error) {
	predicates, err := b.Build(c)
	if err != nil {
		return nil, err
	}
	return b.Compose(predicates), nil
}

// Search accepts a Condition, a map or a struct with `search` tags.
func (b *PredicateBuilder) Search(v any) (Filter, error) {
	c, err := ConditionOf(v)
	if err != nil {
		return nil, core.NewValidationError("condition", "%v", err)
	}
	return b.Filter(c)
}

func (b *PredicateBuilder) validate(def *schema.SearchFieldDefinition, field *schema.FieldDefinition, raw any) (any, error) {
	if def.Operator == schema.SearchIn {
		values, ok := toSlice(indirect(raw))
		if !ok {
			values = []any{raw}
		}
		out := make([]any, 0, len(values))
		for _, v := range values {
			if isAbsent(v) {
				continue
			}
			cv, err := coerceValue(field, v)
			if err != nil {
				return nil, core.NewValidationError(def.Name, "%v", err)
			}
			out = append(out, cv)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}

	if _, isList := toSlice(indirect(raw)); isList {
		return nil, core.NewValidationError(def.Name, "expected a single value, got %T", raw)
	}
	cv, err := coerceValue(field, raw)
	if err != nil {
		return nil, core.NewValidationError(def.Name, "%v", err)
	}
	return cv, nil
}

// checkRanges rejects a lower bound above the upper bound on the same path.
func checkRanges(bound []boundSearch) error {
	lower := make(map[string]boundSearch)
	upper := make(map[string]boundSearch)
	for _, s := range bound {
		switch {
		case s.def.Operator.IsLowerBound():
			if prev, ok := lower[s.def.Path]; !ok || tighter(s.value, prev.value, 1) {
				lower[s.def.Path] = s
			}
		case s.def.Operator.IsUpperBound():
			if prev, ok := upper[s.def.Path]; !ok || tighter(s.value, prev.value, -1) {
				upper[s.def.Path] = s
			}
		}
	}
	for path, lo := range lower {
		hi, ok := upper[path]
		if !ok {
			continue
		}
		if cmp, ok := compareValues(lo.value, hi.value); ok && cmp > 0 {
			return core.NewValidationError(lo.def.Name, "lower bound %v is greater than upper bound %v set by %s", lo.value, hi.value, hi.def.Name)
		}
	}
	return nil
}

func tighter(candidate, current any, direction int) bool {
	cmp, ok := compareValues(candidate, current)
	return ok && cmp == direction
}

func (b *PredicateBuilder) predicate(s boundSearch) *Predicate {
	alias := b.alias
	if rel := s.def.Relation(); rel != "" {
		alias = rel
		if a, ok := b.relations[rel]; ok {
			alias = a
		}
	}
	target := &Column{alias: alias, field: s.field.Name}
	return &Predicate{target: target, op: searchOperator(s.def.Operator), operand: Val(s.value)}
}

func searchOperator(op schema.SearchOperator) Operator {
	switch op {
	case schema.SearchGt:
		return OpGt
	case schema.SearchGte:
		return OpGte
	case schema.SearchLt:
		return OpLt
	case schema.SearchLte:
		return OpLte
	case schema.SearchContains:
		return OpContains
	case schema.SearchStartsWith:
		return OpStartsWith
	case schema.SearchIn:
		return OpIn
	default:
		return OpEq
	}
}
