// Package postgres runs querykit plans and bulk mutations on PostgreSQL
// through jackc/pgx. A Context reads through a connection pool, or through a
// transaction started with Begin.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/persistence"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/asaidimu/go-querykit/dialect"
	"github.com/asaidimu/go-querykit/dialect/sqlgen"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgRunner abstracts the methods shared by *pgxpool.Pool and pgx.Tx.
type pgRunner interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgBeginner is a runner that can start a transaction.
type pgBeginner interface {
	pgRunner
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Options configures table management of a Context.
type Options struct {
	// IfNotExists adds IF NOT EXISTS to CREATE TABLE statements.
	IfNotExists bool
}

// DefaultOptions returns options that create missing tables only.
func DefaultOptions() *Options {
	return &Options{IfNotExists: true}
}

// Context is a persistence.UnitOfWork over a PostgreSQL database.
type Context struct {
	id         string
	pool       *pgxpool.Pool
	db         pgBeginner
	tx         pgx.Tx
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

// NewContext creates a non-transactional context over pool.
func NewContext(pool *pgxpool.Pool, d *schema.Descriptor, logger *zap.Logger, options *Options) *Context {
	c := newContext(pool, d, logger, options)
	c.pool = pool
	return c
}

func newContext(db pgBeginner, d *schema.Descriptor, logger *zap.Logger, options *Options) *Context {
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

// Connect opens a pool for dsn and returns a context over it.
func Connect(ctx context.Context, dsn string, d *schema.Descriptor, logger *zap.Logger, options *Options) (*Context, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewContext(pool, d, logger, options), nil
}

// Close closes the pool. Contexts derived with Begin share it.
func (c *Context) Close() {
	if c.tx == nil && c.pool != nil {
		c.pool.Close()
	}
}

// ID returns the unit of work id.
func (c *Context) ID() string { return c.id }

// Cache returns the records loaded by this context.
func (c *Context) Cache() *persistence.RecordCache { return c.cache }

// SafeForConcurrentUse reports true for pooled contexts.
func (c *Context) SafeForConcurrentUse() bool { return c.tx == nil }

func (c *Context) runner() pgRunner {
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

	rows, err := c.runner().Query(ctx, sqlQuery, params...)
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
	if err := c.runner().QueryRow(ctx, sqlQuery, params...).Scan(&n); err != nil {
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

	tag, err := c.runner().Exec(ctx, sqlQuery, params...)
	if err != nil {
		c.logger.Error("Failed to execute "+op+" statement", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, c.storeError(op, err)
	}
	return tag.RowsAffected(), nil
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

// CreateTables creates a table for every entity, referenced tables first.
func (c *Context) CreateTables(ctx context.Context) error {
	statements, err := c.generator.CreateSchema(c.descriptor, c.options.IfNotExists)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		c.logger.Debug("Executing SQL DDL", zap.String("sql", stmt))
		if _, err := c.runner().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// Begin starts a transaction and returns a context scoped to it.
func (c *Context) Begin(ctx context.Context) (*Context, error) {
	if c.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional context")
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	txc := newContext(c.db, c.descriptor, c.logger, c.options)
	txc.pool = c.pool
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
		_ = c.tx.Rollback(context.Background())
		return &core.CancelledError{Op: "commit", Err: err}
	}
	c.logger.Debug("Committing transaction", zap.String("unitOfWork", c.id))
	if err := c.tx.Commit(ctx); err != nil {
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
	return c.tx.Rollback(ctx)
}

// storeError classifies a driver error. Context errors pass through.
func (c *Context) storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.StoreError{Op: op, Transient: Dialect{}.IsTransient(err), Err: err}
}

// readRows collects every row and normalizes each value to its column type.
func readRows(rows pgx.Rows, columns []query.ColumnInfo) ([]query.Row, error) {
	types := make([]schema.FieldType, len(columns))
	for i, col := range columns {
		types[i] = col.Type
	}

	var results []query.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = fromPG(v)
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

// fromPG converts pgx values the shared normalization does not know.
// NUMERIC, returned by SUM and AVG, becomes float64.
func fromPG(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return v
		}
		return f.Float64
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	}
	return v
}
