package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MemberTeamDto struct {
	MemberID int64  `query:"memberId"`
	Username string
	Age      int
	TeamID   *int64 `query:"teamId"`
	TeamName string `query:"teamName"`
}

type MemberDto struct {
	Username string
	Age      int
}

func setupTestDB(t *testing.T) (*Context, *persistence.Executor) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	d := schematest.Descriptor()
	c := NewContext(db, d, nil, nil)
	require.NoError(t, c.CreateTables(ctx))

	for _, team := range []map[string]any{
		{"id": 1, "name": "teamA"},
		{"id": 2, "name": "teamB"},
	} {
		require.NoError(t, c.Insert(ctx, "team", team))
	}
	for i, age := range []int{10, 20, 30, 40} {
		require.NoError(t, c.Insert(ctx, "member", map[string]any{
			"id":       i + 1,
			"username": "member" + string(rune('1'+i)),
			"age":      age,
			"teamId":   i/2 + 1,
		}))
	}

	e, err := persistence.NewExecutor(d, nil, nil)
	require.NoError(t, err)
	return c, e
}

func build(t *testing.T, c *Context, b *query.PlanBuilder) *query.QueryPlan {
	t.Helper()
	plan, err := b.Build(c.descriptor)
	require.NoError(t, err)
	return plan
}

func TestContext_CreateTables(t *testing.T) {
	c, _ := setupTestDB(t)
	ctx := context.Background()

	exists, err := c.TableExists(ctx, "member")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.DropTables(ctx))
	exists, err = c.TableExists(ctx, "member")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestContext_DynamicSearch(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()

	builder, err := query.NewPredicateBuilder(c.descriptor, "member")
	require.NoError(t, err)

	dtoPlan := func(filter query.Filter) *query.QueryPlan {
		return build(t, c, query.Select(query.Fields[MemberTeamDto](
			query.As(query.Col("member.id"), "memberId"),
			query.Col("member.username"),
			query.Col("member.age"),
			query.As(query.Col("team.id"), "teamId"),
			query.As(query.Col("team.name"), "teamName"),
		)).From("member").
			LeftJoin("member.team", "team").End().
			Where(filter).
			OrderBy(query.Asc(query.Col("member.id"))))
	}

	t.Run("typed condition", func(t *testing.T) {
		filter, err := builder.Search(schematest.MemberSearch{
			AgeGoe:   query.IntPtr(35),
			AgeLoe:   query.IntPtr(40),
			TeamName: query.StringPtr("teamB"),
		})
		require.NoError(t, err)

		result, err := persistence.Fetch[MemberTeamDto](ctx, e, c, dtoPlan(filter))
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, "member4", result[0].Username)
		assert.Equal(t, 40, result[0].Age)
		assert.Equal(t, "teamB", result[0].TeamName)
		require.NotNil(t, result[0].TeamID)
		assert.Equal(t, int64(2), *result[0].TeamID)
	})

	t.Run("map condition", func(t *testing.T) {
		filter, err := builder.Filter(query.Condition{"teamName": "teamA", "ageGoe": 15, "username": ""})
		require.NoError(t, err)

		result, err := persistence.Fetch[MemberTeamDto](ctx, e, c, dtoPlan(filter))
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, "member2", result[0].Username)
	})

	t.Run("empty condition matches every row", func(t *testing.T) {
		filter, err := builder.Search(schematest.MemberSearch{})
		require.NoError(t, err)
		assert.Nil(t, filter)

		result, err := persistence.Fetch[MemberTeamDto](ctx, e, c, dtoPlan(filter))
		require.NoError(t, err)
		assert.Len(t, result, 4)
	})

	t.Run("single key equals single predicate", func(t *testing.T) {
		filter, err := builder.Filter(query.Condition{"ageGoe": 25})
		require.NoError(t, err)
		direct, err := persistence.Fetch[MemberTeamDto](ctx, e, c, dtoPlan(query.Gte("member.age", 25)))
		require.NoError(t, err)
		composed, err := persistence.Fetch[MemberTeamDto](ctx, e, c, dtoPlan(filter))
		require.NoError(t, err)
		assert.Equal(t, direct, composed)
	})

	t.Run("inverted range is rejected", func(t *testing.T) {
		_, err := builder.Filter(query.Condition{"ageGoe": 40, "ageLoe": 35})
		assert.True(t, core.IsValidationError(err))
	})
}

func TestContext_Paginate(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()
	plan := build(t, c, query.SelectFrom("member").OrderBy(query.Desc(query.Col("member.username"))))

	page, err := persistence.Paginate[*query.Record](ctx, e, c, plan, persistence.Page{Offset: 0, Limit: 2}, persistence.CountExact)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "member4", page.Items[0].Get("username"))
	assert.Equal(t, "member3", page.Items[1].Get("username"))
	assert.Equal(t, int64(4), *page.Total)
	assert.True(t, page.HasNext())

	page, err = persistence.Paginate[*query.Record](ctx, e, c, plan, persistence.Page{Offset: 0, Limit: 4}, persistence.CountExact)
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, int64(4), *page.Total)

	page, err = persistence.Paginate[*query.Record](ctx, e, c, plan, persistence.Page{Offset: 10, Limit: 2}, persistence.CountExact)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(4), *page.Total)

	again, err := persistence.Fetch[*query.Record](ctx, e, c, plan.WithWindow(1, 2))
	require.NoError(t, err)
	repeat, err := persistence.Fetch[*query.Record](ctx, e, c, plan.WithWindow(1, 2))
	require.NoError(t, err)
	assert.Equal(t, again, repeat)
}

func TestContext_ParallelCount(t *testing.T) {
	c, _ := setupTestDB(t)
	opts := persistence.DefaultOptions()
	opts.ParallelCount = true
	e, err := persistence.NewExecutor(c.descriptor, nil, opts)
	require.NoError(t, err)

	plan := build(t, c, query.Select(query.Scalar[string](query.Col("member.username"))).
		From("member").
		OrderBy(query.Asc(query.Col("member.id"))))
	page, err := persistence.Paginate[string](context.Background(), e, c, plan, persistence.Page{Offset: 1, Limit: 2}, persistence.CountExact)
	require.NoError(t, err)
	assert.Equal(t, []string{"member2", "member3"}, page.Items)
	assert.Equal(t, int64(4), *page.Total)
}

func TestContext_Sorting(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, "member", map[string]any{"id": 5, "username": "member5", "age": nil}))
	require.NoError(t, c.Insert(ctx, "member", map[string]any{"id": 6, "username": "member6", "age": 100}))

	names := func(b *query.PlanBuilder) []string {
		out, err := persistence.Fetch[string](ctx, e, c, build(t, c, b))
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, []string{"member6", "member4", "member3", "member2", "member1", "member5"},
		names(query.Select(query.Scalar[string](query.Col("member.username"))).From("member").
			OrderBy(query.Desc(query.Col("member.age")).NullsLast(), query.Asc(query.Col("member.username")))))

	assert.Equal(t, []string{"member5", "member1", "member2", "member3", "member4", "member6"},
		names(query.Select(query.Scalar[string](query.Col("member.username"))).From("member").
			OrderBy(query.Asc(query.Col("member.age")).NullsFirst())))

	assert.Equal(t, []string{"member1", "member2", "member3", "member4", "member6", "member5"},
		names(query.Select(query.Scalar[string](query.Col("member.username"))).From("member").
			OrderBy(query.Asc(query.Col("member.age")))))
}

func TestContext_Projections(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()

	t.Run("constructor", func(t *testing.T) {
		plan := build(t, c, query.Select(query.Constructor[MemberDto](
			func(username string, age int) MemberDto { return MemberDto{Username: username, Age: age} },
			query.Col("member.username"), query.Col("member.age"),
		)).From("member").OrderBy(query.Asc(query.Col("member.id"))))

		result, err := persistence.Fetch[MemberDto](ctx, e, c, plan)
		require.NoError(t, err)
		require.Len(t, result, 4)
		assert.Equal(t, MemberDto{Username: "member1", Age: 10}, result[0])
	})

	t.Run("fields into pointer target", func(t *testing.T) {
		plan := build(t, c, query.Select(query.Fields[*MemberDto](
			query.Col("member.username"),
			query.As(query.Col("member.age"), "age"),
			query.As(query.Col("member.id"), "ignored"),
		)).From("member").Where(query.Eq("member.username", "member2")))

		dto, err := persistence.FetchOne[*MemberDto](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, &MemberDto{Username: "member2", Age: 20}, dto)
		assert.Len(t, plan.Columns(), 2)
	})

	t.Run("aggregates", func(t *testing.T) {
		plan := build(t, c, query.Select(query.TupleOf(
			query.CountAll(),
			query.Sum(query.Col("member.age")),
			query.Avg(query.Col("member.age")),
			query.Max(query.Col("member.age")),
			query.Min(query.Col("member.age")),
		)).From("member"))

		tuple, err := persistence.FetchOne[*query.Tuple](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(4), int64(100), float64(25), int64(40), int64(10)}, tuple.Values())
	})

	t.Run("group by joined relation", func(t *testing.T) {
		avg := query.Avg(query.Col("member.age"))
		plan := build(t, c, query.Select(query.TupleOf(query.Col("team.name"), avg)).
			From("member").
			Join("member.team", "team").End().
			GroupBy(query.Col("team.name")).
			OrderBy(query.Asc(query.Col("team.name"))))

		result, err := persistence.Fetch[*query.Tuple](ctx, e, c, plan)
		require.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, "teamA", result[0].Get("team.name"))
		assert.Equal(t, float64(15), result[0].Value(avg))
		assert.Equal(t, "teamB", result[1].Get("name"))
		assert.Equal(t, float64(35), result[1].At(1))

		page, err := persistence.Paginate[*query.Tuple](ctx, e, c, plan, persistence.Page{Offset: 0, Limit: 1}, persistence.CountExact)
		require.NoError(t, err)
		assert.Equal(t, int64(2), *page.Total)
	})

	t.Run("case expression", func(t *testing.T) {
		group := query.As(query.Case().
			When(query.Lte("member.age", 20), "young").
			When(query.Lte("member.age", 30), "adult").
			Else("senior"), "ageGroup")
		plan := build(t, c, query.Select(query.TupleOf(query.Col("member.username"), group)).
			From("member").
			OrderBy(query.Asc(query.Col("member.id"))))

		result, err := persistence.Fetch[*query.Tuple](ctx, e, c, plan)
		require.NoError(t, err)
		var groups []any
		for _, r := range result {
			groups = append(groups, r.Get("ageGroup"))
		}
		assert.Equal(t, []any{"young", "young", "adult", "senior"}, groups)
	})

	t.Run("distinct", func(t *testing.T) {
		plan := build(t, c, query.Select(query.Scalar[int64](query.Col("member.teamId"))).
			From("member").
			Distinct().
			OrderBy(query.Asc(query.Col("member.teamId"))))

		page, err := persistence.Paginate[int64](ctx, e, c, plan, persistence.Page{Offset: 0, Limit: 1}, persistence.CountExact)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, page.Items)
		assert.Equal(t, int64(2), *page.Total)
	})
}

func TestContext_Joins(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()
	pair := query.TupleOf(query.Col("member.username"), query.Col("team.name"))

	t.Run("left join on keeps every member", func(t *testing.T) {
		plan := build(t, c, query.Select(pair).From("member").
			LeftJoin("member.team", "team").On(query.Eq("team.name", "teamA")).End().
			OrderBy(query.Asc(query.Col("member.id"))))

		result, err := persistence.Fetch[*query.Tuple](ctx, e, c, plan)
		require.NoError(t, err)
		require.Len(t, result, 4)
		assert.Equal(t, "teamA", result[0].Get("team.name"))
		assert.Nil(t, result[3].Get("team.name"))
	})

	t.Run("where filter drops members", func(t *testing.T) {
		plan := build(t, c, query.Select(pair).From("member").
			Join("member.team", "team").End().
			Where(query.Eq("team.name", "teamA")))

		result, err := persistence.Fetch[*query.Tuple](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Len(t, result, 2)
	})

	t.Run("join without relation", func(t *testing.T) {
		require.NoError(t, c.Insert(ctx, "member", map[string]any{"id": 7, "username": "teamA", "age": 7}))
		plan := build(t, c, query.Select(query.Scalar[string](query.Col("member.username"))).From("member").
			JoinEntity("team", "t").On(query.EqCol("member.username", "t.name")).End())

		result, err := persistence.Fetch[string](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, []string{"teamA"}, result)
	})

	t.Run("fetch join loads the relation", func(t *testing.T) {
		plan := build(t, c, query.SelectFrom("member").
			Join("member.team", "team").Fetch().End().
			Where(query.Eq("member.username", "member1")))

		member, err := persistence.FetchOne[*query.Record](ctx, e, c, plan)
		require.NoError(t, err)
		assert.True(t, member.Loaded("team"))
		team, err := member.Related("team")
		require.NoError(t, err)
		assert.Equal(t, "teamA", team.Get("name"))
	})

	t.Run("relation not fetched fails fast", func(t *testing.T) {
		plan := build(t, c, query.SelectFrom("member").
			Where(query.Eq("member.username", "member1")))

		member, err := persistence.FetchOne[*query.Record](ctx, e, c, plan)
		require.NoError(t, err)
		_, err = member.Related("team")
		assert.ErrorIs(t, err, core.ErrRelationNotFetched)
	})

	t.Run("unjoined alias is a schema error", func(t *testing.T) {
		_, err := query.SelectFrom("member").Where(query.Eq("team.name", "teamA")).Build(c.descriptor)
		assert.True(t, core.IsSchemaError(err))
	})
}

func TestContext_Subqueries(t *testing.T) {
	c, e := setupTestDB(t)
	ctx := context.Background()

	ages := func(filter query.Filter) []int64 {
		out, err := persistence.Fetch[int64](ctx, e, c, build(t, c, query.Select(query.Scalar[int64](query.Col("member.age"))).
			From("member").
			Where(filter).
			OrderBy(query.Asc(query.Col("member.age")))))
		require.NoError(t, err)
		return out
	}
	sub := func(p query.Projection, where query.Filter) *query.SubqueryExpr {
		return query.Subquery(build(t, c, query.Select(p).From("member").As("sub").Where(where)))
	}

	assert.Equal(t, []int64{40}, ages(query.Compare(query.Col("member.age"), query.OpEq,
		sub(query.Scalar[int64](query.Max(query.Col("sub.age"))), nil))))
	assert.Equal(t, []int64{30, 40}, ages(query.Compare(query.Col("member.age"), query.OpGte,
		sub(query.Scalar[float64](query.Avg(query.Col("sub.age"))), nil))))
	assert.Equal(t, []int64{20, 30, 40}, ages(query.Compare(query.Col("member.age"), query.OpIn,
		sub(query.Scalar[int64](query.Col("sub.age")), query.Gt("sub.age", 10)))))
}

func TestContext_BulkMutation(t *testing.T) {
	ctx := context.Background()

	t.Run("update is visible to later reads", func(t *testing.T) {
		c, e := setupTestDB(t)
		before, err := c.Find(ctx, "member", 1)
		require.NoError(t, err)
		assert.Equal(t, "member1", before.Get("username"))

		n, err := e.UpdateWhere(ctx, c, "member", query.Lt("member.age", 28), query.Set("username", "nonMember"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		after, err := c.Find(ctx, "member", 1)
		require.NoError(t, err)
		assert.Equal(t, "nonMember", after.Get("username"))

		plan := build(t, c, query.Select(query.Scalar[string](query.Col("member.username"))).
			From("member").
			Where(query.In("member.id", []int{1, 2})))
		names, err := persistence.Fetch[string](ctx, e, c, plan)
		require.NoError(t, err)
		assert.Equal(t, []string{"nonMember", "nonMember"}, names)
	})

	t.Run("increment every age", func(t *testing.T) {
		c, e := setupTestDB(t)
		n, err := e.UpdateWhere(ctx, c, "member", nil, query.SetExpr("age", query.Add(query.Col("age"), 1)))
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		total, err := persistence.FetchOne[int64](ctx, e, c, build(t, c,
			query.Select(query.Scalar[int64](query.Sum(query.Col("member.age")))).From("member")))
		require.NoError(t, err)
		assert.Equal(t, int64(104), total)
	})

	t.Run("delete inside a transaction", func(t *testing.T) {
		c, e := setupTestDB(t)
		tx, err := c.Begin(ctx)
		require.NoError(t, err)

		n, err := e.DeleteWhere(ctx, tx, "member", query.Gt("member.age", 18))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		require.NoError(t, tx.Rollback(ctx))

		count, err := persistence.Count(ctx, e, c, build(t, c, query.SelectFrom("member")))
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("commit with a cancelled context rolls back", func(t *testing.T) {
		c, e := setupTestDB(t)
		tx, err := c.Begin(ctx)
		require.NoError(t, err)
		_, err = e.DeleteAll(ctx, tx, "member")
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.True(t, core.IsCancelled(tx.Commit(cctx)))

		count, err := persistence.Count(ctx, e, c, build(t, c, query.SelectFrom("member")))
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})

	t.Run("commit outside a transaction", func(t *testing.T) {
		c, _ := setupTestDB(t)
		assert.Error(t, c.Commit(ctx))
		assert.Error(t, c.Rollback(ctx))
	})
}

func TestContext_Cancelled(t *testing.T) {
	c, e := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := persistence.Fetch[*query.Record](ctx, e, c, build(t, c, query.SelectFrom("member")))
	assert.True(t, core.IsCancelled(err))

	_, err = c.RunQuery(ctx, build(t, c, query.SelectFrom("member")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContext_FindNotFound(t *testing.T) {
	c, _ := setupTestDB(t)
	_, err := c.Find(context.Background(), "member", 99)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = c.Find(context.Background(), "ghost", 1)
	assert.True(t, core.IsSchemaError(err))
}
