// Package persistence runs assembled plans and bulk mutations against an
// execution context: pagination with a decoupled count query, typed result
// fetching, set-based updates and deletes, and record cache invalidation.
package persistence

import (
	"context"

	"github.com/asaidimu/go-querykit/core/query"
)

// ExecutionContext is the store boundary. Implementations translate plans and
// statements into the store's language and run them; they normalize every
// row value to the column types reported by QueryPlan.Columns.
//
// Errors should be returned as *core.StoreError with Transient set when a
// retry may succeed. Context errors are returned unchanged.
type ExecutionContext interface {
	// RunQuery returns the rows of plan, honouring its window.
	RunQuery(ctx context.Context, plan *query.QueryPlan) ([]query.Row, error)

	// RunCount returns the number of rows plan matches, ignoring its order
	// and window.
	RunCount(ctx context.Context, plan *query.QueryPlan) (int64, error)

	// RunUpdate applies stmt as one statement and returns the affected rows.
	RunUpdate(ctx context.Context, stmt *query.UpdateStatement) (int64, error)

	// RunDelete applies stmt as one statement and returns the affected rows.
	RunDelete(ctx context.Context, stmt *query.DeleteStatement) (int64, error)
}

// UnitOfWork is an execution context that keeps records it has loaded. The
// caller owns its lifecycle, including the transaction around it.
type UnitOfWork interface {
	ExecutionContext

	// ID identifies the unit of work in logs and events.
	ID() string

	// Invalidate discards cached records of entity that filter matches, or
	// every cached record of entity when the filter cannot be evaluated in
	// memory. It returns the number of records discarded.
	Invalidate(entity string, filter query.Filter) int
}

// Transaction is a unit of work bound to a store transaction.
type Transaction interface {
	UnitOfWork

	// Find returns the record of entity with primary key id, loading it into
	// the unit of work's cache on first access.
	Find(ctx context.Context, entity string, id any) (*query.Record, error)

	Commit(ctx context.Context) error

	// Rollback aborts the transaction and discards cached records.
	Rollback(ctx context.Context) error
}

// ConcurrentSafe is implemented by execution contexts that can run
// independent statements at the same time, for example on separate pooled
// connections. Contexts bound to a single transaction are not.
type ConcurrentSafe interface {
	SafeForConcurrentUse() bool
}

// Options configures an Executor.
type Options struct {
	// ParallelCount runs the items and count queries of an exact page at the
	// same time when the execution context reports it is safe to do so.
	ParallelCount bool

	// MaxLimit rejects pages larger than this. Zero disables the check.
	MaxLimit int

	// WarnUnstableOrder logs pagination over plans whose order keys do not
	// include a unique tiebreaker.
	WarnUnstableOrder bool
}

// DefaultOptions returns sequential execution with no page size cap.
func DefaultOptions() *Options {
	return &Options{
		ParallelCount:     false,
		MaxLimit:          0,
		WarnUnstableOrder: true,
	}
}

func isConcurrentSafe(ec ExecutionContext) bool {
	cs, ok := ec.(ConcurrentSafe)
	return ok && cs.SafeForConcurrentUse()
}
