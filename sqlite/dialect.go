package sqlite

import (
	"errors"

	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/dialect"
	"github.com/mattn/go-sqlite3"
)

// Dialect renders SQLite SQL.
type Dialect struct{}

var _ dialect.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) QuoteIdentifier(name string) string { return dialect.QuoteDouble(name) }

func (Dialect) Placeholder(int) string { return "?" }

// PrepareValue stores booleans as 0 and 1.
func (Dialect) PrepareValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// ColumnType maps a field type to its SQLite storage class.
func (Dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "TEXT"
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return "REAL"
	case schema.FieldTypeInteger, schema.FieldTypeBoolean:
		return "INTEGER"
	default:
		return ""
	}
}

// LimitClause renders LIMIT/OFFSET. SQLite only accepts OFFSET after a
// LIMIT, so an unlimited window with an offset uses LIMIT -1.
func (Dialect) LimitClause(limit, offset int) string {
	if limit <= 0 && offset > 0 {
		return " LIMIT -1" + dialect.StandardLimit(0, offset)
	}
	return dialect.StandardLimit(limit, offset)
}

// IsTransient reports SQLITE_BUSY and SQLITE_LOCKED.
func (Dialect) IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
