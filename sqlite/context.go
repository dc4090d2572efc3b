// Package sqlite runs querykit plans and bulk mutations on SQLite through
// database/sql and mattn/go-sqlite3. A Context is a unit of work: it can be
// bound to a transaction and keeps the records it loads in a cache that bulk
// mutations invalidate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/dialect"
	"github.com/asaidimu/go-querykit/dialect/sqlgen"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dbRunner abstracts the methods shared by *sql.DB and *sql.Tx, so the same
// code runs inside and outside a transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Context is a persistence.UnitOfWork over a SQLite database.
type Context struct {
	id         string
	db         *sql.DB
	tx         *sql.Tx
	descriptor *schema.Descriptor
	generator  *sqlgen.Generator
	cache      *persistence.RecordCache
	logger     *zap.Logger
	options    *Options
}

var (
	_ persistence.Transaction    = (*Context)(nil)
	_ persistence.ConcurrentSafe = (*Context)(nil)
)

// NewContext creates a non-transactional context over db. Call Begin for a
// transactional one.
func NewContext(db *sql.DB, d *schema.Descriptor, logger *zap.Logger, options *Options) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	return &Context{
		id:         uuid.New().String(),
		db:         db,
		descriptor: d,
		generator:  sqlgen.New(Dialect{}),
		cache:      persistence.NewRecordCache(d, logger),
		logger:     logger,
		options:    options,
	}
}

// ID returns the unit of work id.
func (c *Context) ID() string { return c.id }

// Cache returns the records loaded by this context.
func (c *Context) Cache() *persistence.RecordCache { return c.cache }

// SafeForConcurrentUse reports false inside a transaction, which is bound to
// a single connection.
func (c *Context) SafeForConcurrentUse() bool { return c.tx == nil }

func (c *Context) runner() dbRunner {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// RunQuery executes the plan's SELECT and returns normalized rows.
func (c *Context) RunQuery(ctx context.Context, plan *query.QueryPlan) ([]query.Row, error) {
	sqlQuery, params, err := c.generator.Select(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}

	c.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))

	rows, err := c.runner().QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		c.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, c.storeError("query", err)
	}
	defer rows.Close()

	result, err := readRows(rows, plan.Columns())
	if err != nil {
		return nil, c.storeError("query", err)
	}
	return result, nil
}

// RunCount executes the plan's count query.
func (c *Context) RunCount(ctx context.Context, plan *query.QueryPlan) (int64, error) {
	sqlQuery, params, err := c.generator.Count(plan)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL COUNT query: %w", err)
	}

	c.logger.Debug("Executing SQL COUNT", zap.String("sql", sqlQuery), zap.Any("params", params))

	var n int64
	if err := c.runner().QueryRowContext(ctx, sqlQuery, params...).Scan(&n); err != nil {
		c.logger.Error("Failed to execute COUNT query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, c.storeError("count", err)
	}
	return n, nil
}

// RunUpdate executes a set-based UPDATE.
func (c *Context) RunUpdate(ctx context.Context, stmt *query.UpdateStatement) (int64, error) {
	sqlQuery, params, err := c.generator.Update(stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL UPDATE query: %w", err)
	}
	return c.exec(ctx, "update", sqlQuery, params)
}

// RunDelete executes a set-based DELETE.
func (c *Context) RunDelete(ctx context.Context, stmt *query.DeleteStatement) (int64, error) {
	sqlQuery, params, err := c.generator.Delete(stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL DELETE query: %w", err)
	}
	return c.exec(ctx, "delete", sqlQuery, params)
}

func (c *Context) exec(ctx context.Context, op, sqlQuery string, params []any) (int64, error) {
	c.logger.Debug("Executing SQL "+op, zap.String("sql", sqlQuery), zap.Any("params", params))

	result, err := c.runner().ExecContext(ctx, sqlQuery, params...)
	if err != nil {
		c.logger.Error("Failed to execute "+op+" statement", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, c.storeError(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, c.storeError(op, err)
	}
	return n, nil
}

// Invalidate evicts cached records of entity matched by filter.
func (c *Context) Invalidate(entity string, filter query.Filter) int {
	return c.cache.Invalidate(entity, filter)
}

// Find returns the record of entity with the given primary key, from the
// cache when this context already loaded it.
func (c *Context) Find(ctx context.Context, entity string, id any) (*query.Record, error) {
	return c.cache.Load(ctx, c, entity, id)
}

// Insert writes one row of entity. values are keyed by field name.
func (c *Context) Insert(ctx context.Context, entity string, values map[string]any) error {
	def, err := c.descriptor.Entity(entity)
	if err != nil {
		return err
	}
	sqlQuery, params, err := c.generator.Insert(def, values)
	if err != nil {
		return fmt.Errorf("failed to generate INSERT SQL: %w", err)
	}
	_, err = c.exec(ctx, "insert", sqlQuery, params)
	return err
}

// Begin starts a transaction and returns a context scoped to it. The new
// context has its own id and cache.
func (c *Context) Begin(ctx context.Context) (*Context, error) {
	if c.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional context")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.logger.Debug("Transaction initiated, returning new transactional context")
	txc := NewContext(c.db, c.descriptor, c.logger, c.options)
	txc.tx = tx
	return txc, nil
}

// Commit commits the current transaction. A cancelled ctx rolls it back.
func (c *Context) Commit(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	if err := ctx.Err(); err != nil {
		c.cache.Clear()
		_ = c.tx.Rollback()
		return &core.CancelledError{Op: "commit", Err: err}
	}
	c.logger.Debug("Committing transaction", zap.String("unitOfWork", c.id))
	if err := c.tx.Commit(); err != nil {
		return c.storeError("commit", err)
	}
	return nil
}

// Rollback rolls back the current transaction and clears the cache.
func (c *Context) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	c.logger.Debug("Rolling back transaction", zap.String("unitOfWork", c.id))
	c.cache.Clear()
	return c.tx.Rollback()
}

// storeError classifies a driver error. Context errors pass through.
func (c *Context) storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.StoreError{Op: op, Transient: Dialect{}.IsTransient(err), Err: err}
}

// readRows scans every row and normalizes each value to its column type.
func readRows(rows *sql.Rows, columns []query.ColumnInfo) ([]query.Row, error) {
	types := make([]schema.FieldType, len(columns))
	for i, col := range columns {
		types[i] = col.Type
	}

	var results []query.Row
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row, err := dialect.NormalizeRow(values, types)
		if err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}
