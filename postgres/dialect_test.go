package postgres

import (
	"errors"
	"math/big"
	"testing"

	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
	"github.com/asaidimu/go-querykit/dialect/sqlgen"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "postgres", d.Name())
	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$12", d.Placeholder(12))
	assert.Equal(t, true, d.PrepareValue(true))
	assert.Equal(t, "BIGINT", d.ColumnType(schema.FieldTypeInteger))
	assert.Equal(t, "NUMERIC", d.ColumnType(schema.FieldTypeDecimal))
	assert.Equal(t, "BOOLEAN", d.ColumnType(schema.FieldTypeBoolean))
	assert.Equal(t, " OFFSET 20", d.LimitClause(0, 20))
	assert.Equal(t, " LIMIT 5 OFFSET 20", d.LimitClause(5, 20))
}

func TestDialect_IsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"serialization failure", &pgconn.PgError{Code: ErrCodeSerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: ErrCodeDeadlockDetected}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Dialect{}.IsTransient(tt.err))
		})
	}
}

func TestGenerator_Placeholders(t *testing.T) {
	d := schematest.Descriptor()
	plan, err := query.Select(query.Scalar[string](query.Col("member.username"))).
		From("member").
		Join("member.team", "team").End().
		Where(query.Eq("team.name", "teamB"), query.Gte("member.age", 35)).
		OrderBy(query.Asc(query.Col("member.id"))).
		Build(d)
	require.NoError(t, err)

	sql, params, err := sqlgen.New(Dialect{}).Select(plan.WithWindow(10, 5))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "member"."username" FROM "member" INNER JOIN "team" ON "member"."team_id" = "team"."id" `+
		`WHERE ("team"."name" = $1 AND "member"."age" >= $2) ORDER BY "member"."id" ASC NULLS LAST LIMIT 5 OFFSET 10;`, sql)
	assert.Equal(t, []any{"teamB", int64(35)}, params)
}

func TestFromPG(t *testing.T) {
	assert.Equal(t, 25.5, fromPG(pgtype.Numeric{Int: big.NewInt(255), Exp: -1, Valid: true}))
	assert.Nil(t, fromPG(pgtype.Numeric{}))
	assert.Equal(t, int64(7), fromPG(int32(7)))
	assert.Equal(t, "x", fromPG("x"))
}
