package sqlgen

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
)

// CreateTable renders CREATE TABLE for one entity. Many-to-one relations
// become foreign keys; enum fields get a CHECK constraint.
func (g *Generator) CreateTable(d *schema.Descriptor, entity string, ifNotExists bool) (string, error) {
	def, err := d.Entity(entity)
	if err != nil {
		return "", err
	}
	q := g.dialect.QuoteIdentifier

	var parts []string
	for _, f := range def.Fields {
		col, err := g.columnDefinition(def, f)
		if err != nil {
			return "", err
		}
		parts = append(parts, col)
	}
	for _, rel := range def.Relations {
		_, target, err := d.Relation(def.Name, rel.Name)
		if err != nil {
			return "", err
		}
		if !ownsForeignKey(def, rel, target) {
			continue
		}
		local := def.FindField(rel.LocalField)
		remote := target.FindField(rel.TargetField)
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			q(local.ColumnName()), q(target.TableName()), q(remote.ColumnName())))
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(q(def.TableName()))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(");")
	return sb.String(), nil
}

// CreateSchema renders CREATE TABLE statements for every entity, referenced
// tables first.
func (g *Generator) CreateSchema(d *schema.Descriptor, ifNotExists bool) ([]string, error) {
	var (
		ordered  []string
		visiting = map[string]bool{}
		done     = map[string]bool{}
		visit    func(name string) error
	)
	visit = func(name string) error {
		if done[name] || visiting[name] {
			return nil
		}
		visiting[name] = true
		def, err := d.Entity(name)
		if err != nil {
			return err
		}
		for _, rel := range def.Relations {
			_, target, err := d.Relation(name, rel.Name)
			if err != nil {
				return err
			}
			if ownsForeignKey(def, rel, target) {
				if err := visit(target.Name); err != nil {
					return err
				}
			}
		}
		visiting[name] = false
		done[name] = true
		ordered = append(ordered, name)
		return nil
	}
	for _, name := range d.Entities() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	statements := make([]string, 0, len(ordered))
	for _, name := range ordered {
		stmt, err := g.CreateTable(d, name, ifNotExists)
		if err != nil {
			return nil, fmt.Errorf("failed to generate SQL for table %s: %w", name, err)
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func (g *Generator) columnDefinition(def *schema.EntityDefinition, f *schema.FieldDefinition) (string, error) {
	q := g.dialect.QuoteIdentifier
	colType := g.dialect.ColumnType(f.Type)
	if colType == "" {
		return "", fmt.Errorf("unsupported column type %s for field %s", f.Type, f.Name)
	}
	parts := []string{q(f.ColumnName()), colType}
	if f.Name == def.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if !f.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if f.Type == schema.FieldTypeEnum && len(f.Values) > 0 {
		values := make([]string, len(f.Values))
		for i, v := range f.Values {
			values[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))", q(f.ColumnName()), strings.Join(values, ", ")))
	}
	return strings.Join(parts, " "), nil
}

// ownsForeignKey reports whether rel is many-to-one: the owner stores the
// key of the target's primary key.
func ownsForeignKey(owner *schema.EntityDefinition, rel *schema.RelationDefinition, target *schema.EntityDefinition) bool {
	return rel.TargetField == target.PrimaryKey && rel.LocalField != owner.PrimaryKey
}
