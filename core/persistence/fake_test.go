package persistence

import (
	"context"
	"sync"

	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema/schematest"
)

// fakeUnit serves a fixed row set and records the statements it receives.
type fakeUnit struct {
	mu         sync.Mutex
	rows       []query.Row
	err        error
	affected   int64
	concurrent bool
	queries    int
	counts     int
	updates    []*query.UpdateStatement
	deletes    []*query.DeleteStatement
	cache      *RecordCache
}

func newFakeUnit(rows ...query.Row) *fakeUnit {
	return &fakeUnit{
		rows:  rows,
		cache: NewRecordCache(schematest.Descriptor(), nil),
	}
}

func (f *fakeUnit) ID() string { return "fake" }

func (f *fakeUnit) SafeForConcurrentUse() bool { return f.concurrent }

func (f *fakeUnit) RunQuery(ctx context.Context, plan *query.QueryPlan) ([]query.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	start := min(plan.Offset(), len(f.rows))
	end := len(f.rows)
	if plan.Limit() > 0 {
		end = min(start+plan.Limit(), end)
	}
	return f.rows[start:end], nil
}

func (f *fakeUnit) RunCount(ctx context.Context, plan *query.QueryPlan) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.rows)), nil
}

func (f *fakeUnit) RunUpdate(ctx context.Context, stmt *query.UpdateStatement) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, stmt)
	if f.err != nil {
		return 0, f.err
	}
	return f.affected, nil
}

func (f *fakeUnit) RunDelete(ctx context.Context, stmt *query.DeleteStatement) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, stmt)
	if f.err != nil {
		return 0, f.err
	}
	return f.affected, nil
}

func (f *fakeUnit) Invalidate(entity string, filter query.Filter) int {
	return f.cache.Invalidate(entity, filter)
}

func idRows(n int) []query.Row {
	rows := make([]query.Row, n)
	for i := range rows {
		rows[i] = query.Row{int64(i + 1)}
	}
	return rows
}
