package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MutationEventType names the events emitted by the Executor.
type MutationEventType string

const (
	MutationUpdateSuccess MutationEventType = "update:success"
	MutationUpdateFailed  MutationEventType = "update:failed"
	MutationDeleteSuccess MutationEventType = "delete:success"
	MutationDeleteFailed  MutationEventType = "delete:failed"
)

// MutationEvent describes a finished bulk mutation.
type MutationEvent struct {
	ID         string            `json:"id"`
	Type       MutationEventType `json:"type"`
	UnitOfWork string            `json:"unitOfWork"`
	Entity     string            `json:"entity"`
	Statement  string            `json:"statement"`
	Affected   int64             `json:"affected"`
	Evicted    int               `json:"evicted"`
	Error      *string           `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   time.Duration     `json:"duration"`
}

// MutationCallback receives mutation events.
type MutationCallback func(ctx context.Context, event MutationEvent) error

func createEvent(eventType MutationEventType, uow UnitOfWork, entity, statement string, affected int64, evicted int, err error, start time.Time) MutationEvent {
	event := MutationEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		UnitOfWork: uow.ID(),
		Entity:     entity,
		Statement:  statement,
		Affected:   affected,
		Evicted:    evicted,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
	if err != nil {
		errStr := err.Error()
		event.Error = &errStr
	}
	return event
}
