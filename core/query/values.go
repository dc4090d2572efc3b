package query

import (
	"fmt"
	"slices"

	"github.com/asaidimu/go-querykit/core/schema"
)

// coerceValue normalizes v to the canonical Go type of field: string for
// text, int64 for integers, float64 for numbers and decimals, bool for
// booleans. It reports why v does not fit.
func coerceValue(field *schema.FieldDefinition, v any) (any, error) {
	v = indirect(v)
	if v == nil {
		return nil, fmt.Errorf("value is required")
	}
	out, err := coerceType(field.Type, v)
	if err != nil {
		return nil, err
	}
	if field.Type == schema.FieldTypeEnum && len(field.Values) > 0 {
		if !slices.Contains(field.Values, out.(string)) {
			return nil, fmt.Errorf("%q is not one of %v", out, field.Values)
		}
	}
	return out, nil
}

func coerceType(t schema.FieldType, v any) (any, error) {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.FieldTypeInteger:
		if i, ok := ToInt64(v); ok {
			return i, nil
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		if _, isString := v.(string); !isString {
			if f, ok := ToFloat64(v); ok {
				return f, nil
			}
		}
	case schema.FieldTypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("expected a %s value, got %T", t, v)
}

// compatible reports whether values of type got can be compared with, or
// stored into, a field of type want.
func compatible(want, got schema.FieldType) bool {
	if want == "" || got == "" || want == got {
		return true
	}
	if want.IsNumeric() && got.IsNumeric() {
		return true
	}
	return want.IsText() && got.IsText()
}

// compareValues orders two coerced values of the same field. ok is false
// when the values cannot be ordered.
func compareValues(a, b any) (cmp int, ok bool) {
	if as, isString := a.(string); isString {
		bs, isString := b.(string)
		if !isString {
			return 0, false
		}
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	af, okA := ToFloat64(a)
	bf, okB := ToFloat64(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}
