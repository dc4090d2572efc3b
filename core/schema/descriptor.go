// Package schema provides the Schema Descriptor: the static, read-only
// description of every entity's fields, relationships and search fields that
// the query layer uses to build safe references.
package schema

import (
	"fmt"

	"github.com/asaidimu/go-querykit/core"
)

// Descriptor is the validated entity graph. It is built once at startup and
// never modified afterwards, so it is safe for concurrent use.
type Descriptor struct {
	entities map[string]*EntityDefinition
	order    []string
}

// NewDescriptor validates the supplied entities as a whole and returns the
// descriptor. Every relation target, relation key and search path must
// resolve, otherwise a SchemaError is returned.
func NewDescriptor(entities ...*EntityDefinition) (*Descriptor, error) {
	d := &Descriptor{entities: make(map[string]*EntityDefinition, len(entities))}
	for _, e := range entities {
		if e == nil {
			return nil, core.NewSchemaError("", "", "nil entity definition")
		}
		if e.Name == "" {
			return nil, core.NewSchemaError("", "", "entity name cannot be empty")
		}
		if _, dup := d.entities[e.Name]; dup {
			return nil, core.NewSchemaError(e.Name, "", "duplicate entity")
		}
		d.entities[e.Name] = e
		d.order = append(d.order, e.Name)
	}

	for _, name := range d.order {
		if err := d.validateEntity(d.entities[name]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Descriptor) validateEntity(e *EntityDefinition) error {
	if len(e.Fields) == 0 {
		return core.NewSchemaError(e.Name, "", "entity must declare at least one field")
	}

	seen := make(map[string]struct{}, len(e.Fields)+len(e.Relations))
	for _, f := range e.Fields {
		if f == nil || f.Name == "" {
			return core.NewSchemaError(e.Name, "", "field name cannot be empty")
		}
		if _, dup := seen[f.Name]; dup {
			return core.NewSchemaError(e.Name, f.Name, "duplicate field")
		}
		if !f.Type.Valid() {
			return core.NewSchemaError(e.Name, f.Name, fmt.Sprintf("unsupported field type %q", f.Type))
		}
		seen[f.Name] = struct{}{}
	}

	if e.PrimaryKey == "" || e.FindField(e.PrimaryKey) == nil {
		return core.NewSchemaError(e.Name, e.PrimaryKey, "primary key must name a declared field")
	}

	for _, rel := range e.Relations {
		if rel == nil || rel.Name == "" {
			return core.NewSchemaError(e.Name, "", "relation name cannot be empty")
		}
		if _, dup := seen[rel.Name]; dup {
			return core.NewSchemaError(e.Name, rel.Name, "relation name collides with a field or relation")
		}
		seen[rel.Name] = struct{}{}

		target, ok := d.entities[rel.Target]
		if !ok {
			return core.NewSchemaError(e.Name, rel.Name, fmt.Sprintf("relation target %q is not a known entity", rel.Target))
		}
		if e.FindField(rel.LocalField) == nil {
			return core.NewSchemaError(e.Name, rel.Name, fmt.Sprintf("local field %q not found", rel.LocalField))
		}
		if target.FindField(rel.TargetField) == nil {
			return core.NewSchemaError(e.Name, rel.Name, fmt.Sprintf("target field %q not found on %s", rel.TargetField, target.Name))
		}
	}

	searchNames := make(map[string]struct{}, len(e.Search))
	for _, sf := range e.Search {
		if sf == nil || sf.Name == "" {
			return core.NewSchemaError(e.Name, "", "search field name cannot be empty")
		}
		if _, dup := searchNames[sf.Name]; dup {
			return core.NewSchemaError(e.Name, sf.Name, "duplicate search field")
		}
		searchNames[sf.Name] = struct{}{}

		field, err := d.ResolvePath(e.Name, sf.Path)
		if err != nil {
			return err
		}
		if err := checkSearchOperator(e.Name, sf, field); err != nil {
			return err
		}
	}
	return nil
}

func checkSearchOperator(entity string, sf *SearchFieldDefinition, field *FieldDefinition) error {
	switch sf.Operator {
	case SearchEq, SearchIn:
		return nil
	case SearchGt, SearchGte, SearchLt, SearchLte:
		if field.Type == FieldTypeBoolean {
			return core.NewSchemaError(entity, sf.Name, "range search is not supported on boolean fields")
		}
		return nil
	case SearchContains, SearchStartsWith:
		if !field.Type.IsText() {
			return core.NewSchemaError(entity, sf.Name, "text search requires a string field")
		}
		return nil
	default:
		return core.NewSchemaError(entity, sf.Name, fmt.Sprintf("unsupported search operator %q", sf.Operator))
	}
}

// Entity returns the definition of the named entity.
func (d *Descriptor) Entity(name string) (*EntityDefinition, error) {
	e, ok := d.entities[name]
	if !ok {
		return nil, core.NewSchemaError(name, "", "unknown entity")
	}
	return e, nil
}

// Entities returns the entity names in declaration order.
func (d *Descriptor) Entities() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Field returns the named field of entity.
func (d *Descriptor) Field(entity, field string) (*FieldDefinition, error) {
	e, err := d.Entity(entity)
	if err != nil {
		return nil, err
	}
	f := e.FindField(field)
	if f == nil {
		return nil, core.NewSchemaError(entity, field, "unknown field")
	}
	return f, nil
}

// Relation returns the named relation of entity together with its target.
func (d *Descriptor) Relation(entity, relation string) (*RelationDefinition, *EntityDefinition, error) {
	e, err := d.Entity(entity)
	if err != nil {
		return nil, nil, err
	}
	rel := e.FindRelation(relation)
	if rel == nil {
		return nil, nil, core.NewSchemaError(entity, relation, "unknown relation")
	}
	return rel, d.entities[rel.Target], nil
}

// ResolvePath resolves "field" or "relation.field" relative to entity.
func (d *Descriptor) ResolvePath(entity, path string) (*FieldDefinition, error) {
	sf := SearchFieldDefinition{Path: path}
	if rel := sf.Relation(); rel != "" {
		_, target, err := d.Relation(entity, rel)
		if err != nil {
			return nil, err
		}
		return d.Field(target.Name, sf.Field())
	}
	return d.Field(entity, path)
}

// Reachable reports whether target can be reached from source by following
// relations in either direction.
func (d *Descriptor) Reachable(source, target string) bool {
	if _, ok := d.entities[source]; !ok {
		return false
	}
	if _, ok := d.entities[target]; !ok {
		return false
	}
	if source == target {
		return true
	}

	adjacent := make(map[string][]string, len(d.entities))
	for _, name := range d.order {
		for _, rel := range d.entities[name].Relations {
			adjacent[name] = append(adjacent[name], rel.Target)
			adjacent[rel.Target] = append(adjacent[rel.Target], name)
		}
	}

	visited := map[string]bool{source: true}
	queue := []string{source}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[current] {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
