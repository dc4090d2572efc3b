package dialect

import (
	"testing"

	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteDouble(t *testing.T) {
	assert.Equal(t, `"member"`, QuoteDouble("member"))
	assert.Equal(t, `"odd""name"`, QuoteDouble(`odd"name`))
}

func TestStandardLimit(t *testing.T) {
	assert.Equal(t, "", StandardLimit(0, 0))
	assert.Equal(t, " LIMIT 5", StandardLimit(5, 0))
	assert.Equal(t, " OFFSET 10", StandardLimit(0, 10))
	assert.Equal(t, " LIMIT 5 OFFSET 10", StandardLimit(5, 10))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typ      schema.FieldType
		expected any
	}{
		{"null", nil, schema.FieldTypeInteger, nil},
		{"bool from integer", int64(1), schema.FieldTypeBoolean, true},
		{"bool from zero", int64(0), schema.FieldTypeBoolean, false},
		{"bool from bytes", []byte("true"), schema.FieldTypeBoolean, true},
		{"string from bytes", []byte("member1"), schema.FieldTypeString, "member1"},
		{"enum", "active", schema.FieldTypeEnum, "active"},
		{"integer widening", int32(7), schema.FieldTypeInteger, int64(7)},
		{"integer from float", float64(40), schema.FieldTypeInteger, int64(40)},
		{"integer from text", "12", schema.FieldTypeInteger, int64(12)},
		{"number from integer", int64(25), schema.FieldTypeNumber, 25.0},
		{"decimal from bytes", []byte("3.5"), schema.FieldTypeDecimal, 3.5},
		{"untyped bytes", []byte("x"), "", "x"},
		{"unconvertible stays", "abc", schema.FieldTypeInteger, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.value, tt.typ))
		})
	}
}

func TestNormalizeRow(t *testing.T) {
	row, err := NormalizeRow([]any{int64(1), []byte("a")}, []schema.FieldType{schema.FieldTypeNumber, schema.FieldTypeString})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, "a"}, row)

	_, err = NormalizeRow([]any{1}, nil)
	assert.Error(t, err)
}
