package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// Options configures table management of a Context.
type Options struct {
	// IfNotExists adds IF NOT EXISTS to CREATE TABLE statements.
	IfNotExists bool

	// DropIfExists drops every table before CreateTables recreates it.
	DropIfExists bool
}

// DefaultOptions returns options that create missing tables and keep
// existing ones.
func DefaultOptions() *Options {
	return &Options{
		IfNotExists:  true,
		DropIfExists: false,
	}
}

// CreateTables creates a table for every entity of the descriptor,
// referenced tables first.
func (c *Context) CreateTables(ctx context.Context) error {
	statements, err := c.generator.CreateSchema(c.descriptor, c.options.IfNotExists)
	if err != nil {
		return err
	}
	if c.options.DropIfExists {
		if err := c.DropTables(ctx); err != nil {
			return err
		}
	}
	for _, stmt := range statements {
		c.logger.Debug("Executing SQL DDL", zap.String("sql", stmt))
		if _, err := c.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// DropTables drops the table of every entity, referencing tables first.
func (c *Context) DropTables(ctx context.Context) error {
	names := c.descriptor.Entities()
	slices.Reverse(names)
	for _, name := range names {
		def, err := c.descriptor.Entity(name)
		if err != nil {
			return err
		}
		table := Dialect{}.QuoteIdentifier(def.TableName())
		if _, err := c.runner().ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}

// TableExists reports whether the table of entity exists.
func (c *Context) TableExists(ctx context.Context, entity string) (bool, error) {
	def, err := c.descriptor.Entity(entity)
	if err != nil {
		return false, err
	}
	var name string
	err = c.runner().QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name = ?;", def.TableName()).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, c.storeError("query", err)
	}
	return true, nil
}
