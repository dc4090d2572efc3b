// Package dialect describes the SQL differences between the stores querykit
// runs on. Concrete dialects live next to their execution contexts, in the
// sqlite and postgres packages.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asaidimu/go-querykit/core/schema"
)

// Dialect renders store-specific SQL fragments and classifies store errors.
type Dialect interface {
	// Name returns the dialect name, such as "sqlite" or "postgres".
	Name() string

	// QuoteIdentifier quotes a table, column or alias name.
	QuoteIdentifier(name string) string

	// Placeholder returns the parameter marker for the n-th parameter,
	// counting from 1.
	Placeholder(n int) string

	// PrepareValue converts a Go value into the form the driver stores.
	PrepareValue(v any) any

	// ColumnType maps a field type to a column type for DDL.
	ColumnType(t schema.FieldType) string

	// LimitClause renders LIMIT/OFFSET. A limit of 0 means no limit.
	LimitClause(limit, offset int) string

	// IsTransient reports whether err may succeed on retry.
	IsTransient(err error) bool
}

// QuoteDouble quotes an identifier with double quotes, doubling any embedded
// quote. Both SQLite and PostgreSQL accept it.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// StandardLimit renders " LIMIT n OFFSET m", omitting either part when zero.
func StandardLimit(limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return sb.String()
}

// Normalize converts a scanned column value to the canonical Go type of t:
// string for text, int64 for integers, float64 for numbers and decimals,
// bool for booleans. NULL stays nil. Values that cannot be converted are
// returned unchanged.
func Normalize(v any, t schema.FieldType) any {
	if v == nil {
		return nil
	}
	switch t {
	case schema.FieldTypeBoolean:
		switch val := v.(type) {
		case bool:
			return val
		case int64:
			return val != 0
		case int32:
			return val != 0
		case []byte:
			b, err := strconv.ParseBool(string(val))
			if err == nil {
				return b
			}
		}
	case schema.FieldTypeString, schema.FieldTypeEnum:
		switch val := v.(type) {
		case string:
			return val
		case []byte:
			return string(val)
		}
	case schema.FieldTypeInteger:
		switch val := v.(type) {
		case int64:
			return val
		case int32:
			return int64(val)
		case int16:
			return int64(val)
		case int:
			return int64(val)
		case float64:
			return int64(val)
		case []byte:
			if i, err := strconv.ParseInt(string(val), 10, 64); err == nil {
				return i
			}
		case string:
			if i, err := strconv.ParseInt(val, 10, 64); err == nil {
				return i
			}
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		switch val := v.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int64:
			return float64(val)
		case int32:
			return float64(val)
		case int:
			return float64(val)
		case []byte:
			if f, err := strconv.ParseFloat(string(val), 64); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
	case "":
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}
	return v
}

// NormalizeRow applies Normalize to every value of a scanned row.
func NormalizeRow(values []any, types []schema.FieldType) ([]any, error) {
	if len(values) != len(types) {
		return nil, fmt.Errorf("row has %d values, expected %d", len(values), len(types))
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v, types[i])
	}
	return out, nil
}
