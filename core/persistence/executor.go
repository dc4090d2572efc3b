package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor runs plans and bulk mutations over an execution context supplied
// per call. It holds no connection state and is safe for concurrent use.
type Executor struct {
	descriptor    *schema.Descriptor
	options       *Options
	logger        *zap.Logger
	bus           *events.TypedEventBus[MutationEvent]
	subscriptions map[string]func()
	subMu         sync.RWMutex
}

// NewExecutor creates an executor for the entities of d. A nil logger
// disables logging; nil options select DefaultOptions.
func NewExecutor(d *schema.Descriptor, logger *zap.Logger, options *Options) (*Executor, error) {
	if d == nil {
		return nil, errors.New("descriptor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	bus, err := events.NewTypedEventBus[MutationEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	return &Executor{
		descriptor:    d,
		options:       options,
		logger:        logger,
		bus:           bus,
		subscriptions: make(map[string]func()),
	}, nil
}

// Descriptor returns the schema the executor validates against.
func (e *Executor) Descriptor() *schema.Descriptor { return e.descriptor }

// Options returns the executor options.
func (e *Executor) Options() *Options { return e.options }

// Assemble validates spec against the executor's descriptor.
func (e *Executor) Assemble(spec query.PlanSpec) (*query.QueryPlan, error) {
	return query.Assemble(e.descriptor, spec)
}

// UpdateWhere applies assignments to every row of entity that filter matches
// as a single statement, then invalidates the matching records cached by
// uow. A nil filter updates every row.
func (e *Executor) UpdateWhere(ctx context.Context, uow UnitOfWork, entity string, filter query.Filter, assignments ...query.Assignment) (int64, error) {
	start := time.Now()
	stmt, err := query.NewUpdate(e.descriptor, entity, filter, assignments...)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, &core.CancelledError{Op: "update", Err: err}
	}

	e.logger.Debug("Executing bulk update",
		zap.String("entity", entity),
		zap.String("unitOfWork", uow.ID()),
		zap.Stringer("statement", stmt))

	affected, err := uow.RunUpdate(ctx, stmt)
	if err != nil {
		err = e.wrap(ctx, "update", err)
		e.logger.Error("Failed to execute bulk update", zap.Error(err), zap.String("entity", entity))
		e.emit(createEvent(MutationUpdateFailed, uow, entity, stmt.String(), 0, 0, err, start))
		return 0, err
	}

	evicted := uow.Invalidate(entity, stmt.Where())
	e.logger.Debug("Bulk update applied",
		zap.String("entity", entity),
		zap.Int64("affected", affected),
		zap.Int("evicted", evicted))
	e.emit(createEvent(MutationUpdateSuccess, uow, entity, stmt.String(), affected, evicted, nil, start))
	return affected, nil
}

// DeleteWhere removes every row of entity that filter matches as a single
// statement. A nil or empty filter is rejected; use DeleteAll to clear an
// entity.
func (e *Executor) DeleteWhere(ctx context.Context, uow UnitOfWork, entity string, filter query.Filter) (int64, error) {
	if query.IsEmpty(filter) {
		return 0, core.NewValidationError("", "delete on %s requires a filter, use DeleteAll to remove every row", entity)
	}
	return e.delete(ctx, uow, entity, filter)
}

// DeleteAll removes every row of entity.
func (e *Executor) DeleteAll(ctx context.Context, uow UnitOfWork, entity string) (int64, error) {
	return e.delete(ctx, uow, entity, nil)
}

func (e *Executor) delete(ctx context.Context, uow UnitOfWork, entity string, filter query.Filter) (int64, error) {
	start := time.Now()
	stmt, err := query.NewDelete(e.descriptor, entity, filter)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, &core.CancelledError{Op: "delete", Err: err}
	}

	e.logger.Debug("Executing bulk delete",
		zap.String("entity", entity),
		zap.String("unitOfWork", uow.ID()),
		zap.Stringer("statement", stmt))

	affected, err := uow.RunDelete(ctx, stmt)
	if err != nil {
		err = e.wrap(ctx, "delete", err)
		e.logger.Error("Failed to execute bulk delete", zap.Error(err), zap.String("entity", entity))
		e.emit(createEvent(MutationDeleteFailed, uow, entity, stmt.String(), 0, 0, err, start))
		return 0, err
	}

	evicted := uow.Invalidate(entity, stmt.Where())
	e.emit(createEvent(MutationDeleteSuccess, uow, entity, stmt.String(), affected, evicted, nil, start))
	return affected, nil
}

// Subscribe registers fn for events of the given type and returns an id for
// Unsubscribe.
func (e *Executor) Subscribe(event MutationEventType, fn MutationCallback) string {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	unsubscribe := e.bus.Subscribe(string(event), fn)
	id := uuid.New().String()
	e.subscriptions[id] = unsubscribe
	return id
}

// Unsubscribe removes a subscription by id.
func (e *Executor) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	if unsubscribe, ok := e.subscriptions[id]; ok {
		unsubscribe()
		delete(e.subscriptions, id)
	}
}

func (e *Executor) emit(event MutationEvent) {
	e.bus.Emit(string(event.Type), event)
}

// wrap classifies an execution context error. Context errors become
// CancelledError; errors already classified by the context pass through.
func (e *Executor) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(err, core.ErrCancelled) || errors.Is(err, core.ErrStore) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &core.CancelledError{Op: op, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &core.CancelledError{Op: op, Err: ctxErr}
	}
	return &core.StoreError{Op: op, Err: err}
}
