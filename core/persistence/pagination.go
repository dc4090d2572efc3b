package persistence

import (
	"context"
	"fmt"
	"reflect"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/query"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Page is a window over a result: skip Offset rows, return at most Limit.
type Page struct {
	Offset int `json:"offset" yaml:"offset"`
	Limit  int `json:"limit" yaml:"limit"`
}

// Validate rejects negative offsets and non-positive limits.
func (p Page) Validate() error {
	if p.Offset < 0 {
		return core.NewValidationError("offset", "must not be negative, got %d", p.Offset)
	}
	if p.Limit <= 0 {
		return core.NewValidationError("limit", "must be positive, got %d", p.Limit)
	}
	return nil
}

// CountStrategy controls how Paginate computes the total.
type CountStrategy int

const (
	// CountExact always reports the total. The count query is skipped when
	// the total follows from the page itself.
	CountExact CountStrategy = iota
	// CountLazy skips the count query when the page is full.
	CountLazy
	// CountNone never reports a total.
	CountNone
)

func (s CountStrategy) String() string {
	switch s {
	case CountExact:
		return "exact"
	case CountLazy:
		return "lazy"
	case CountNone:
		return "none"
	}
	return fmt.Sprintf("CountStrategy(%d)", int(s))
}

// PageResult is one page of projected results. Total is nil when it was not
// computed.
type PageResult[T any] struct {
	Items  []T    `json:"items"`
	Total  *int64 `json:"total,omitempty"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// HasNext reports whether rows may follow this page. Without a total, a full
// page is assumed to have a successor.
func (r *PageResult[T]) HasNext() bool {
	if r.Total != nil {
		return int64(r.Offset+len(r.Items)) < *r.Total
	}
	return len(r.Items) == r.Limit
}

// Paginate runs plan over the window of page and projects every row into T.
// T must be the plan's projection result type; the check runs before any
// statement is issued.
//
// The items query keeps the plan's order and window. The count query keeps
// its filters, joins, grouping and distinctness but drops order and window.
func Paginate[T any](ctx context.Context, e *Executor, ec ExecutionContext, plan *query.QueryPlan, page Page, strategy CountStrategy) (*PageResult[T], error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if e.options.MaxLimit > 0 && page.Limit > e.options.MaxLimit {
		return nil, core.NewValidationError("limit", "must not exceed %d, got %d", e.options.MaxLimit, page.Limit)
	}
	if err := checkResultType[T](plan); err != nil {
		return nil, err
	}
	if e.options.WarnUnstableOrder && !plan.HasUniqueOrder() {
		e.logger.Debug("Paginating without a unique order, rows that tie may shift between pages",
			zap.String("plan", plan.String()))
	}

	windowed := plan.WithWindow(page.Offset, page.Limit)
	var (
		rows  []query.Row
		total *int64
		err   error
	)
	if strategy == CountExact && e.options.ParallelCount && isConcurrentSafe(ec) {
		rows, total, err = e.pageParallel(ctx, ec, windowed)
	} else {
		rows, total, err = e.pageSequential(ctx, ec, windowed, page, strategy)
	}
	if err != nil {
		return nil, err
	}

	items, err := projectRows[T](plan, rows)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Fetched page",
		zap.String("entity", plan.Source().Name),
		zap.Int("offset", page.Offset),
		zap.Int("limit", page.Limit),
		zap.Int("count", len(items)),
		zap.Stringer("strategy", strategy))

	return &PageResult[T]{
		Items:  items,
		Total:  total,
		Offset: page.Offset,
		Limit:  page.Limit,
	}, nil
}

func (e *Executor) pageSequential(ctx context.Context, ec ExecutionContext, plan *query.QueryPlan, page Page, strategy CountStrategy) ([]query.Row, *int64, error) {
	rows, err := e.runQuery(ctx, ec, plan)
	if err != nil {
		return nil, nil, err
	}
	n := len(rows)
	switch strategy {
	case CountNone:
		return rows, nil, nil
	case CountLazy:
		if n == page.Limit {
			return rows, nil, nil
		}
	}

	// A non-empty partial page is the last one, and an empty first page
	// means nothing matched.
	if (n > 0 && n < page.Limit) || (n == 0 && page.Offset == 0) {
		total := int64(page.Offset + n)
		return rows, &total, nil
	}
	total, err := e.runCount(ctx, ec, plan)
	if err != nil {
		return nil, nil, err
	}
	return rows, &total, nil
}

func (e *Executor) pageParallel(ctx context.Context, ec ExecutionContext, plan *query.QueryPlan) ([]query.Row, *int64, error) {
	var (
		rows  []query.Row
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.runQuery(gctx, ec, plan)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.runCount(gctx, ec, plan)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return rows, &total, nil
}

// Fetch runs plan with its own window, if any, and projects every row.
func Fetch[T any](ctx context.Context, e *Executor, ec ExecutionContext, plan *query.QueryPlan) ([]T, error) {
	if err := checkResultType[T](plan); err != nil {
		return nil, err
	}
	rows, err := e.runQuery(ctx, ec, plan)
	if err != nil {
		return nil, err
	}
	return projectRows[T](plan, rows)
}

// FetchOne returns the single result of plan. It fails with NotFoundError
// when nothing matches and NotSingularError when more than one row does.
func FetchOne[T any](ctx context.Context, e *Executor, ec ExecutionContext, plan *query.QueryPlan) (T, error) {
	var zero T
	items, err := Fetch[T](ctx, e, ec, plan.WithWindow(plan.Offset(), 2))
	if err != nil {
		return zero, err
	}
	switch len(items) {
	case 0:
		return zero, &core.NotFoundError{Label: plan.Source().Name}
	case 1:
		return items[0], nil
	}
	return zero, &core.NotSingularError{Label: plan.Source().Name, Count: -1}
}

// FetchFirst returns the first result of plan in its order, failing with
// NotFoundError when nothing matches.
func FetchFirst[T any](ctx context.Context, e *Executor, ec ExecutionContext, plan *query.QueryPlan) (T, error) {
	var zero T
	items, err := Fetch[T](ctx, e, ec, plan.WithWindow(plan.Offset(), 1))
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, &core.NotFoundError{Label: plan.Source().Name}
	}
	return items[0], nil
}

// Count returns the number of rows plan matches.
func Count(ctx context.Context, e *Executor, ec ExecutionContext, plan *query.QueryPlan) (int64, error) {
	return e.runCount(ctx, ec, plan)
}

func (e *Executor) runQuery(ctx context.Context, ec ExecutionContext, plan *query.QueryPlan) ([]query.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.CancelledError{Op: "query", Err: err}
	}
	rows, err := ec.RunQuery(ctx, plan)
	if err != nil {
		err = e.wrap(ctx, "query", err)
		e.logger.Error("Failed to run query", zap.Error(err), zap.String("entity", plan.Source().Name))
		return nil, err
	}
	return rows, nil
}

func (e *Executor) runCount(ctx context.Context, ec ExecutionContext, plan *query.QueryPlan) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &core.CancelledError{Op: "count", Err: err}
	}
	n, err := ec.RunCount(ctx, plan)
	if err != nil {
		err = e.wrap(ctx, "count", err)
		e.logger.Error("Failed to run count", zap.Error(err), zap.String("entity", plan.Source().Name))
		return 0, err
	}
	return n, nil
}

func checkResultType[T any](plan *query.QueryPlan) error {
	want := reflect.TypeFor[T]()
	got := plan.ResultType()
	if got == want {
		return nil
	}
	if want.Kind() == reflect.Interface && got != nil && got.Implements(want) {
		return nil
	}
	return core.NewProjectionMismatch(want.String(), "plan projects into %v", got)
}

func projectRows[T any](plan *query.QueryPlan, rows []query.Row) ([]T, error) {
	items := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := plan.Project(row)
		if err != nil {
			return nil, fmt.Errorf("failed to project row %d: %w", i, err)
		}
		item, ok := v.(T)
		if !ok && v != nil {
			return nil, core.NewProjectionMismatch(reflect.TypeFor[T]().String(), "row %d projected into %T", i, v)
		}
		items = append(items, item)
	}
	return items, nil
}
