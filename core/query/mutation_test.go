package query

import (
	"testing"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpdate(t *testing.T) {
	d := schematest.Descriptor()

	t.Run("constant and expression assignments", func(t *testing.T) {
		stmt, err := NewUpdate(d, "member", Lt("member.age", 28),
			Set("username", "nonMember"),
			SetExpr("age", Add(Col("age"), 1)),
			Set("teamId", nil),
		)
		require.NoError(t, err)
		assert.Equal(t, "member", stmt.Entity().Name)

		sets := stmt.Sets()
		require.Len(t, sets, 3)
		assert.Equal(t, "team_id", sets[2].Column.ColumnName())
		assert.Equal(t, `update member set username = "nonMember", age = (member.age + 1), teamId = null where member.age lt 28`, stmt.String())
	})

	t.Run("constants are coerced", func(t *testing.T) {
		stmt, err := NewUpdate(d, "member", nil, Set("age", 30.0))
		require.NoError(t, err)
		assert.Equal(t, int64(30), stmt.Sets()[0].Value.(*Literal).Value())
		assert.Nil(t, stmt.Where())
	})

	t.Run("literal expressions become constants", func(t *testing.T) {
		stmt, err := NewUpdate(d, "member", nil, SetExpr("age", Val(int32(5))))
		require.NoError(t, err)
		assert.Equal(t, int64(5), stmt.Sets()[0].Value.(*Literal).Value())
	})

	tests := []struct {
		name        string
		entity      string
		filter      Filter
		assignments []Assignment
		check       func(error) bool
	}{
		{"unknown entity", "league", nil, []Assignment{Set("name", "x")}, core.IsSchemaError},
		{"unknown field", "member", nil, []Assignment{Set("nickname", "x")}, core.IsSchemaError},
		{"no assignments", "member", nil, nil, core.IsValidationError},
		{"duplicate assignment", "member", nil, []Assignment{Set("age", 1), Set("age", 2)}, core.IsValidationError},
		{"null into required field", "member", nil, []Assignment{Set("username", nil)}, core.IsValidationError},
		{"wrong constant type", "member", nil, []Assignment{Set("age", "old")}, core.IsValidationError},
		{"wrong expression type", "member", nil, []Assignment{SetExpr("age", Col("username"))}, core.IsValidationError},
		{"aggregate assignment", "member", nil, []Assignment{SetExpr("age", Max(Col("age")))}, core.IsValidationError},
		{"joined alias in filter", "member", Eq("team.name", "teamA"), []Assignment{Set("age", 1)}, core.IsSchemaError},
		{"aggregate in filter", "member", Compare(Max(Col("age")), OpGt, 1), []Assignment{Set("age", 1)}, core.IsProjectionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUpdate(d, tt.entity, tt.filter, tt.assignments...)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestNewDelete(t *testing.T) {
	d := schematest.Descriptor()

	stmt, err := NewDelete(d, "member", Eq("member.username", "member4"))
	require.NoError(t, err)
	assert.False(t, stmt.All())
	assert.Equal(t, `delete from member where member.username eq "member4"`, stmt.String())

	stmt, err = NewDelete(d, "member", nil)
	require.NoError(t, err)
	assert.True(t, stmt.All())
	assert.Equal(t, "delete from member", stmt.String())

	_, err = NewDelete(d, "member", Eq("member.age", "ten"))
	assert.True(t, core.IsValidationError(err))
	_, err = NewDelete(d, "member", Compare(CountAll(), OpGt, 1))
	assert.True(t, core.IsProjectionMismatch(err))
}
