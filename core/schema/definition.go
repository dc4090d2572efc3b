package schema

import (
	"strings"
)

// LogicalOperator for combining conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and" // All conditions must be true
	LogicalOr  LogicalOperator = "or"  // At least one condition must be true
)

// FieldType represents the basic field types supported by the schema system.
type FieldType string

const (
	FieldTypeString  FieldType = "string"  // Text data
	FieldTypeNumber  FieldType = "number"  // Floating point data
	FieldTypeInteger FieldType = "integer" // Whole numbers
	FieldTypeDecimal FieldType = "decimal" // Numeric data stored with fixed precision
	FieldTypeBoolean FieldType = "boolean" // True/false values
	FieldTypeEnum    FieldType = "enum"    // One out of a set of pre-defined text values
)

// IsNumeric reports whether values of the type take part in arithmetic.
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeNumber, FieldTypeInteger, FieldTypeDecimal:
		return true
	}
	return false
}

// IsText reports whether values of the type are stored as text.
func (t FieldType) IsText() bool {
	return t == FieldTypeString || t == FieldTypeEnum
}

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeInteger, FieldTypeDecimal, FieldTypeBoolean, FieldTypeEnum:
		return true
	}
	return false
}

// SearchOperator fixes the comparison a search field is allowed to perform.
type SearchOperator string

const (
	SearchEq         SearchOperator = "eq"
	SearchGt         SearchOperator = "gt"
	SearchGte        SearchOperator = "gte"
	SearchLt         SearchOperator = "lt"
	SearchLte        SearchOperator = "lte"
	SearchContains   SearchOperator = "contains"
	SearchStartsWith SearchOperator = "startswith"
	SearchIn         SearchOperator = "in"
)

// IsLowerBound reports whether the operator bounds a range from below.
func (o SearchOperator) IsLowerBound() bool { return o == SearchGt || o == SearchGte }

// IsUpperBound reports whether the operator bounds a range from above.
func (o SearchOperator) IsUpperBound() bool { return o == SearchLt || o == SearchLte }

// FieldDefinition defines a stored field of an entity.
type FieldDefinition struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
	// Column is the storage column name. Defaults to Name.
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
	// Nullable marks fields that may hold no value.
	Nullable bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	// Values lists the allowed values of an enum field.
	Values      []string `json:"values,omitempty" yaml:"values,omitempty"`
	Description *string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// ColumnName returns the storage column of the field.
func (f *FieldDefinition) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// RelationDefinition describes a foreign key traversal from the owning entity
// to Target. LocalField lives on the owner, TargetField on Target.
type RelationDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Target      string `json:"target" yaml:"target"`
	LocalField  string `json:"localField" yaml:"localField"`
	TargetField string `json:"targetField" yaml:"targetField"`
}

// SearchFieldDefinition binds a search key to a field path and a fixed
// comparison. Path is either "field" or "relation.field".
type SearchFieldDefinition struct {
	Name     string         `json:"name" yaml:"name"`
	Path     string         `json:"path" yaml:"path"`
	Operator SearchOperator `json:"operator" yaml:"operator"`
}

// Relation returns the relation segment of the path, or "" for own fields.
func (s *SearchFieldDefinition) Relation() string {
	if i := strings.IndexByte(s.Path, '.'); i >= 0 {
		return s.Path[:i]
	}
	return ""
}

// Field returns the field segment of the path.
func (s *SearchFieldDefinition) Field() string {
	if i := strings.IndexByte(s.Path, '.'); i >= 0 {
		return s.Path[i+1:]
	}
	return s.Path
}

// EntityDefinition is the static description of one stored entity.
type EntityDefinition struct {
	Name        string                   `json:"name" yaml:"name"`
	Table       string                   `json:"table,omitempty" yaml:"table,omitempty"`
	PrimaryKey  string                   `json:"primaryKey" yaml:"primaryKey"`
	Description *string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []*FieldDefinition       `json:"fields" yaml:"fields"`
	Relations   []*RelationDefinition    `json:"relations,omitempty" yaml:"relations,omitempty"`
	Search      []*SearchFieldDefinition `json:"search,omitempty" yaml:"search,omitempty"`
}

// TableName returns the storage table of the entity. Defaults to Name.
func (e *EntityDefinition) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

// FindField returns the field called name, or nil.
func (e *EntityDefinition) FindField(name string) *FieldDefinition {
	for _, field := range e.Fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

// FindRelation returns the relation called name, or nil.
func (e *EntityDefinition) FindRelation(name string) *RelationDefinition {
	for _, rel := range e.Relations {
		if rel.Name == name {
			return rel
		}
	}
	return nil
}

// FindSearchField returns the search field called name, or nil.
func (e *EntityDefinition) FindSearchField(name string) *SearchFieldDefinition {
	for _, sf := range e.Search {
		if sf.Name == name {
			return sf
		}
	}
	return nil
}
