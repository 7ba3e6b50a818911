package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/relica"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// EventRepository implements hookrelay.EventRepository using Relica.
type EventRepository struct {
	db *relica.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(sqlDB *sql.DB, driverName string) *EventRepository {
	return &EventRepository{db: relica.WrapDB(sqlDB, driverName)}
}

// Load retrieves an event by ID.
func (r *EventRepository) Load(ctx context.Context, id string) (model.Event, error) {
	var event model.Event

	err := r.db.WithContext(ctx).Select("*").
		From(eventsTable).
		Where("id = ?", id).
		One(&event)

	if errors.Is(err, sql.ErrNoRows) {
		return event, hookrelay.ErrNoData
	}
	if err != nil {
		return event, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to load event", err)
	}

	return event, nil
}

// FindByIdempotencyKey retrieves the event stored under (source, key).
func (r *EventRepository) FindByIdempotencyKey(ctx context.Context, source, key string) (model.Event, error) {
	var event model.Event

	err := r.db.WithContext(ctx).Select("*").
		From(eventsTable).
		Where("source = ? AND idempotency_key = ?", source, key).
		One(&event)

	if errors.Is(err, sql.ErrNoRows) {
		return event, hookrelay.ErrNoData
	}
	if err != nil {
		return event, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to find event by idempotency key", err)
	}

	return event, nil
}

// Insert stores a new event.
func (r *EventRepository) Insert(ctx context.Context, e *model.Event) error {
	err := r.db.WithContext(ctx).Model(e).Table(eventsTable).Insert()
	if isUniqueViolation(err) {
		return hookrelay.ErrDuplicate
	}
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to insert event", err)
	}
	return nil
}

// List retrieves events matching the query, newest first.
func (r *EventRepository) List(ctx context.Context, q model.EventQuery) ([]model.Event, error) {
	var events []model.Event

	query := r.db.WithContext(ctx).Select("*").From(eventsTable)
	if q.Source != "" {
		query = query.Where("source = ?", q.Source)
	}
	if q.EventType != "" {
		query = query.Where("event_type = ?", q.EventType)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	query = query.OrderBy("created_at DESC")
	if q.Limit > 0 {
		query = query.Limit(int64(q.Limit))
	}

	err := query.All(&events)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to list events", err)
	}

	return events, nil
}

// FindStaleAccepted finds events still in status=accepted that were created before the threshold.
func (r *EventRepository) FindStaleAccepted(ctx context.Context, before time.Time, limit int) ([]model.Event, error) {
	var events []model.Event

	err := r.db.WithContext(ctx).Select("*").
		From(eventsTable).
		Where("status = ? AND created_at < ?", model.EventStatusAccepted, before).
		OrderBy("created_at ASC").
		Limit(int64(limit)).
		All(&events)

	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to find stale events", err)
	}

	return events, nil
}
