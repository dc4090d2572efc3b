package query

import (
	"fmt"

	"github.com/asaidimu/go-querykit/utils"
)

// ConditionTag is the struct tag read by ConditionOf.
const ConditionTag = "search"

// Condition is a search request keyed by search field name. Missing keys,
// nil values, nil pointers and blank strings all count as absent.
type Condition map[string]any

// ConditionOf builds a Condition from a struct whose fields carry
// `search:"key"` tags. Nil pointer fields are left out.
func ConditionOf(v any) (Condition, error) {
	if c, ok := v.(Condition); ok {
		return c, nil
	}
	if m, ok := v.(map[string]any); ok {
		return Condition(m), nil
	}
	fields, err := utils.StructToMap(v, ConditionTag)
	if err != nil {
		return nil, fmt.Errorf("failed to read search condition: %w", err)
	}
	return Condition(fields), nil
}

// Present reports whether key carries a usable value.
func (c Condition) Present(key string) bool {
	v, ok := c[key]
	return ok && !isAbsent(v)
}
