package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	pgx.Rows
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return append([]any(nil), r.rows[r.i-1]...), nil }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

type fakeRow struct {
	count int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.count
	return nil
}

type statement struct {
	sql  string
	args []any
}

// fakeDB records statements and answers them with canned results.
type fakeDB struct {
	queries []statement
	execs   []statement
	rows    [][]any
	count   int64
	tag     string
	err     error
	tx      *fakeTx
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.queries = append(f.queries, statement{sql, args})
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, statement{sql, args})
	return fakeRow{count: f.count, err: f.err}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, statement{sql, args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag(f.tag), nil
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{db: f}
	return f.tx, nil
}

type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

func newTestContext(t *testing.T) (*Context, *fakeDB, *persistence.Executor) {
	t.Helper()
	d := schematest.Descriptor()
	e, err := persistence.NewExecutor(d, nil, nil)
	require.NoError(t, err)
	db := &fakeDB{}
	return newContext(db, d, nil, nil), db, e
}

func TestContext_RunQuery(t *testing.T) {
	ctx := context.Background()
	c, db, e := newTestContext(t)

	t.Run("rows are normalized to column types", func(t *testing.T) {
		db.rows = [][]any{
			{int32(1), "member1", int32(10), int64(1)},
			{int64(2), "member2", nil, nil},
		}
		plan, err := query.SelectFrom("member").OrderBy(query.Asc(query.Col("member.id"))).Build(e.Descriptor())
		require.NoError(t, err)

		records, err := persistence.Fetch[*query.Record](ctx, e, c, plan)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(1), records[0].Get("id"))
		assert.Equal(t, int64(10), records[0].Get("age"))
		assert.Nil(t, records[1].Get("age"))
		assert.Contains(t, db.queries[len(db.queries)-1].sql, `FROM "member"`)
	})

	t.Run("numeric aggregates become floats", func(t *testing.T) {
		db.rows = [][]any{{pgtype.Numeric{Int: big.NewInt(255), Exp: -1, Valid: true}}}
		plan, err := query.Select(query.Scalar[float64](query.Avg(query.Col("member.age")))).From("member").Build(e.Descriptor())
		require.NoError(t, err)

		avg, err := persistence.FetchOne[float64](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, 25.5, avg)
	})

	t.Run("count", func(t *testing.T) {
		db.count = 4
		plan, err := query.SelectFrom("member").Where(query.Gte("member.age", 20)).Build(e.Descriptor())
		require.NoError(t, err)

		n, err := persistence.Count(ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		last := db.queries[len(db.queries)-1]
		assert.Contains(t, last.sql, "COUNT(*)")
		assert.Equal(t, []any{int64(20)}, last.args)
	})

	t.Run("cancelled context passes through", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		plan, err := query.SelectFrom("member").Build(e.Descriptor())
		require.NoError(t, err)
		_, err = c.RunQuery(cctx, plan)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestContext_StoreErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"serialization failure", &pgconn.PgError{Code: ErrCodeSerializationFailure}, true},
		{"connection lost", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, db, e := newTestContext(t)
			db.err = tt.err

			_, err := e.UpdateWhere(ctx, c, "member", query.Lt("member.age", 28), query.Set("username", "x"))
			assert.ErrorIs(t, err, core.ErrStore)
			assert.Equal(t, tt.transient, core.IsTransient(err))

			plan, err := query.SelectFrom("member").Build(e.Descriptor())
			require.NoError(t, err)
			_, err = persistence.Count(ctx, e, c, plan)
			assert.ErrorIs(t, err, core.ErrStore)
			assert.Equal(t, tt.transient, core.IsTransient(err))
		})
	}
}

func TestContext_BulkMutation(t *testing.T) {
	ctx := context.Background()

	t.Run("update and delete report affected rows", func(t *testing.T) {
		c, db, e := newTestContext(t)
		db.tag = "UPDATE 2"
		n, err := e.UpdateWhere(ctx, c, "member", query.Lt("member.age", 28), query.Set("username", "nonMember"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, statement{`UPDATE "member" SET "username" = $1 WHERE "age" < $2;`, []any{"nonMember", int64(28)}}, db.execs[0])

		db.tag = "DELETE 1"
		n, err = e.DeleteWhere(ctx, c, "member", query.Eq("member.username", "member4"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Contains(t, db.execs[1].sql, `DELETE FROM "member"`)
	})

	t.Run("update evicts records loaded through find", func(t *testing.T) {
		c, db, e := newTestContext(t)
		db.rows = [][]any{{int64(1), "member1", int64(10), int64(1)}}

		before, err := c.Find(ctx, "member", 1)
		require.NoError(t, err)
		assert.Equal(t, "member1", before.Get("username"))
		_, err = c.Find(ctx, "member", 1)
		require.NoError(t, err)
		assert.Len(t, db.queries, 1)
		assert.Equal(t, 1, c.Cache().Len("member"))

		db.tag = "UPDATE 2"
		_, err = e.UpdateWhere(ctx, c, "member", query.Lt("member.age", 28), query.Set("username", "nonMember"))
		require.NoError(t, err)
		assert.Equal(t, 0, c.Cache().Len("member"))

		db.rows = [][]any{{int64(1), "nonMember", int64(10), int64(1)}}
		after, err := c.Find(ctx, "member", 1)
		require.NoError(t, err)
		assert.Len(t, db.queries, 2)
		assert.Equal(t, "nonMember", after.Get("username"))
	})

	t.Run("find misses", func(t *testing.T) {
		c, _, _ := newTestContext(t)
		_, err := c.Find(ctx, "member", 99)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = c.Find(ctx, "ghost", 1)
		assert.True(t, core.IsSchemaError(err))
	})
}

func TestContext_Transaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		c, db, e := newTestContext(t)
		tx, err := c.Begin(ctx)
		require.NoError(t, err)
		assert.False(t, tx.SafeForConcurrentUse())
		assert.NotEqual(t, c.ID(), tx.ID())

		_, err = tx.Begin(ctx)
		assert.Error(t, err)

		db.tag = "DELETE 4"
		n, err := e.DeleteAll(ctx, tx, "member")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
		require.NoError(t, tx.Commit(ctx))
		assert.True(t, db.tx.committed)
	})

	t.Run("rollback clears the cache", func(t *testing.T) {
		c, db, _ := newTestContext(t)
		db.rows = [][]any{{int64(1), "member1", int64(10), int64(1)}}
		tx, err := c.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Find(ctx, "member", 1)
		require.NoError(t, err)

		require.NoError(t, tx.Rollback(ctx))
		assert.True(t, db.tx.rolledBack)
		assert.Equal(t, 0, tx.Cache().Len("member"))
	})

	t.Run("commit with a cancelled context rolls back", func(t *testing.T) {
		c, db, _ := newTestContext(t)
		tx, err := c.Begin(ctx)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.True(t, core.IsCancelled(tx.Commit(cctx)))
		assert.False(t, db.tx.committed)
		assert.True(t, db.tx.rolledBack)
	})

	t.Run("outside a transaction", func(t *testing.T) {
		c, _, _ := newTestContext(t)
		assert.True(t, c.SafeForConcurrentUse())
		assert.Error(t, c.Commit(ctx))
		assert.Error(t, c.Rollback(ctx))
	})
}
