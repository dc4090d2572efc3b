package postgres

import (
	"errors"
	"strconv"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/dialect"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes a retry may resolve.
const (
	ErrCodeSerializationFailure = "40001"
	ErrCodeDeadlockDetected     = "40P01"
	// Class 08 covers connection exceptions.
	errClassConnection = "08"
)

// Dialect renders PostgreSQL SQL.
type Dialect struct{}

var _ dialect.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) QuoteIdentifier(name string) string { return dialect.QuoteDouble(name) }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) PrepareValue(v any) any { return v }

// ColumnType maps a field type to a PostgreSQL column type.
func (Dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "TEXT"
	case schema.FieldTypeNumber:
		return "DOUBLE PRECISION"
	case schema.FieldTypeDecimal:
		return "NUMERIC"
	case schema.FieldTypeInteger:
		return "BIGINT"
	case schema.FieldTypeBoolean:
		return "BOOLEAN"
	default:
		return ""
	}
}

func (Dialect) LimitClause(limit, offset int) string { return dialect.StandardLimit(limit, offset) }

// IsTransient reports serialization failures, deadlocks, connection
// exceptions and errors pgconn marks safe to retry.
func (Dialect) IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == ErrCodeSerializationFailure ||
			pgErr.Code == ErrCodeDeadlockDetected ||
			strings.HasPrefix(pgErr.Code, errClassConnection)
	}
	return pgconn.SafeToRetry(err)
}
