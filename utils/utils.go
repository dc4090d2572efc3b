package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// StructToMap converts a struct into a map keyed by the given struct tag.
//
// Fields without the tag are keyed by their Go name, fields tagged "-" and
// unexported fields are skipped, and embedded structs are flattened into the
// parent. Nil pointer fields are omitted so that the map only carries values
// the caller actually supplied. Non-nil pointers are dereferenced.
//
// The input must be a struct or a non-nil pointer to a struct.
//
// Example:
//
//	type MemberSearch struct {
//		Username *string `search:"username"`
//		AgeGoe   *int    `search:"ageGoe"`
//	}
//	m, err := StructToMap(MemberSearch{AgeGoe: &age}, "search")
//	// m == map[string]any{"ageGoe": 35}
func StructToMap(record any, tag string) (map[string]any, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	result := make(map[string]any, val.NumField())
	collectFields(val, tag, result)
	return result, nil
}

func collectFields(val reflect.Value, tag string, out map[string]any) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fv := val.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectFields(fv, tag, out)
			continue
		}
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tagValue, ok := field.Tag.Lookup(tag); ok {
			tagName := strings.Split(tagValue, ",")[0]
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}

		for fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				break
			}
			fv = fv.Elem()
		}
		if (fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface) && fv.IsNil() {
			continue
		}
		out[name] = fv.Interface()
	}
}

// MapToStruct is a generic function that converts a `map[string]any` into
// a new instance of the specified generic struct type `T`, using the `json`
// tags of T.
//
// If `T` is specified as a pointer type (e.g., `*MyStruct`), the function will
// unmarshal into the dereferenced struct and return a pointer to it.
func MapToStruct[T any](input map[string]any) (T, error) {
	var zero T

	if input == nil {
		return zero, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ == nil {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct)")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to marshal input map to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}
