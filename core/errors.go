// Package core holds the error taxonomy shared by every layer of querykit.
// Each error kind has a sentinel that can be matched with errors.Is and a
// typed error that carries the details.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below.
var (
	// ErrSchema is returned for references to unknown entities, fields or
	// relations. It is never retryable.
	ErrSchema = errors.New("querykit: schema error")

	// ErrProjectionMismatch is returned when a projection's declared shape
	// disagrees with the expressions supplied for it.
	ErrProjectionMismatch = errors.New("querykit: projection mismatch")

	// ErrValidation is returned for malformed search conditions, pages and
	// mutation requests.
	ErrValidation = errors.New("querykit: validation error")

	// ErrStore is returned for failures reported by the execution context.
	ErrStore = errors.New("querykit: store error")

	// ErrCancelled is returned when the caller's context was cancelled or
	// its deadline expired.
	ErrCancelled = errors.New("querykit: cancelled")

	// ErrNotFound is returned by single-result fetches that matched nothing.
	ErrNotFound = errors.New("querykit: not found")

	// ErrNotSingular is returned by single-result fetches that matched more
	// than one row.
	ErrNotSingular = errors.New("querykit: not singular")

	// ErrRelationNotFetched is returned when a relation is accessed on a
	// record whose query did not fetch-join it.
	ErrRelationNotFetched = errors.New("querykit: relation not fetched")
)

// SchemaError reports an unknown entity, field, relation or alias.
type SchemaError struct {
	Entity string
	Ref    string
	Reason string
}

// NewSchemaError returns a SchemaError for ref on entity.
func NewSchemaError(entity, ref, reason string) *SchemaError {
	return &SchemaError{Entity: entity, Ref: ref, Reason: reason}
}

func (e *SchemaError) Error() string {
	var sb strings.Builder
	sb.WriteString("querykit: schema error")
	if e.Entity != "" {
		sb.WriteString(" in " + e.Entity)
	}
	if e.Ref != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Ref))
	}
	if e.Reason != "" {
		sb.WriteString(": " + e.Reason)
	}
	return sb.String()
}

// Is reports whether target is ErrSchema.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// ProjectionMismatchError reports a disagreement between a projection's
// target shape and its source expressions.
type ProjectionMismatchError struct {
	Target string
	Reason string
}

// NewProjectionMismatch returns a ProjectionMismatchError.
func NewProjectionMismatch(target, format string, args ...any) *ProjectionMismatchError {
	return &ProjectionMismatchError{Target: target, Reason: fmt.Sprintf(format, args...)}
}

func (e *ProjectionMismatchError) Error() string {
	if e.Target == "" {
		return "querykit: projection mismatch: " + e.Reason
	}
	return fmt.Sprintf("querykit: projection mismatch for %s: %s", e.Target, e.Reason)
}

// Is reports whether target is ErrProjectionMismatch.
func (e *ProjectionMismatchError) Is(target error) bool { return target == ErrProjectionMismatch }

// ValidationError reports a malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "querykit: validation error: " + e.Message
	}
	return fmt.Sprintf("querykit: validation error in %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StoreError wraps a failure reported by an execution context. Transient is
// set by the execution context when a retry may succeed.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("querykit: store error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the store-provided error.
func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// CancelledError reports that an operation stopped because its context ended.
type CancelledError struct {
	Op  string
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("querykit: %s cancelled: %v", e.Op, e.Err)
}

// Unwrap returns the context error.
func (e *CancelledError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// NotFoundError is returned when a single-result fetch matched no rows.
type NotFoundError struct {
	Label string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("querykit: %s not found", e.Label) }

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotSingularError is returned when a single-result fetch matched more than
// one row. Count is -1 when unknown.
type NotSingularError struct {
	Label string
	Count int
}

func (e *NotSingularError) Error() string {
	if e.Count >= 0 {
		return fmt.Sprintf("querykit: %s not singular (got %d results, expected 1)", e.Label, e.Count)
	}
	return fmt.Sprintf("querykit: %s not singular", e.Label)
}

// Is reports whether target is ErrNotSingular.
func (e *NotSingularError) Is(target error) bool { return target == ErrNotSingular }

// IsSchemaError reports whether err is or wraps a SchemaError.
func IsSchemaError(err error) bool { return errors.Is(err, ErrSchema) }

// IsProjectionMismatch reports whether err is or wraps a ProjectionMismatchError.
func IsProjectionMismatch(err error) bool { return errors.Is(err, ErrProjectionMismatch) }

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool { return errors.Is(err, ErrValidation) }

// IsCancelled reports whether err is or wraps a CancelledError.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsTransient reports whether err wraps a StoreError classified as transient.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}
