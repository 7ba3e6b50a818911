package hookrelay

import (
	"context"
	"time"

	"github.com/coregx/hookrelay/model"
)

// EventRepository defines the persistence interface for accepted events.
// Event content is immutable; only status and delivery count change, and only
// through FanOutStore and DeliveryQueue.
type EventRepository interface {
	// Load retrieves an event by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Event, error)

	// FindByIdempotencyKey retrieves the event stored under (source, key).
	// Returns ErrNoData if not found.
	FindByIdempotencyKey(ctx context.Context, source, key string) (model.Event, error)

	// Insert stores a new event.
	// Returns ErrDuplicate when (source, idempotency_key) is already taken.
	Insert(ctx context.Context, e *model.Event) error

	// List retrieves events matching the query, newest first.
	// Returns empty slice if none found.
	List(ctx context.Context, q model.EventQuery) ([]model.Event, error)

	// FindStaleAccepted finds events still in status=accepted that were created before the threshold.
	// Results are ordered by created_at ASC.
	FindStaleAccepted(ctx context.Context, before time.Time, limit int) ([]model.Event, error)
}

// SubscriptionRepository defines the persistence interface for webhook subscriptions.
type SubscriptionRepository interface {
	// Load retrieves a subscription by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Subscription, error)

	// Insert stores a new subscription.
	Insert(ctx context.Context, s *model.Subscription) error

	// Update overwrites a stored subscription.
	// Returns ErrNoData if it no longer exists.
	Update(ctx context.Context, s *model.Subscription) error

	// Delete removes a subscription. Deliveries already created keep their snapshot.
	// Returns ErrNoData if not found.
	Delete(ctx context.Context, id string) error

	// List retrieves subscriptions matching the query, oldest first.
	List(ctx context.Context, q model.SubscriptionQuery) ([]model.Subscription, error)
}

// FanOutPlanner chooses the deliveries to create for an event given the
// subscriptions that were active when the fan-out transaction started.
type FanOutPlanner func(event model.Event, active []model.Subscription) []model.Delivery

// FanOutResult reports what a fan-out transaction did.
type FanOutResult struct {
	Event             model.Event
	Deliveries        []model.Delivery
	AlreadyDispatched bool // the event had left status=accepted before this call
}

// FanOutStore runs the fan-out of one event atomically: the deliveries are
// inserted and the event leaves status=accepted in the same transaction, so a
// concurrent or repeated dispatch can never create a second set of deliveries.
type FanOutStore interface {
	// FanOut locks the event, and if it is still accepted, inserts the deliveries
	// returned by plan and moves the event to matched (or exhausted when plan
	// returns nothing). Returns ErrNoData if the event does not exist.
	FanOut(ctx context.Context, eventID string, now time.Time, plan FanOutPlanner) (FanOutResult, error)
}

// DeliveryQueue defines the lease-based work queue of deliveries.
//
// Every ack is fenced on the lease token handed out by Lease: an ack for a
// lease that expired and was reclaimed returns ErrLeaseLost and changes nothing.
// Each ack records the attempt and, when the delivery is the last open one of
// its event, moves the event to exhausted in the same transaction.
type DeliveryQueue interface {
	// Enqueue stores a new pending delivery.
	Enqueue(ctx context.Context, d *model.Delivery) error

	// Lease claims up to limit deliveries with status=pending and next_attempt_at <= now,
	// ordered by next_attempt_at. No delivery is handed to two callers at once.
	Lease(ctx context.Context, workerID string, now time.Time, leaseDuration time.Duration, limit int) ([]model.Delivery, error)

	// AckSuccess marks a leased delivery as succeeded.
	AckSuccess(ctx context.Context, d model.Delivery, attempt model.Attempt) error

	// AckRetry returns a leased delivery to pending, counting the failed attempt.
	AckRetry(ctx context.Context, d model.Delivery, nextAttemptAt time.Time, f model.Failure, attempt model.Attempt) error

	// AckDeadLetter moves a leased delivery to the dead-letter queue.
	// attempts_exhausted counts the final attempt; permanent_failure does not.
	AckDeadLetter(ctx context.Context, d model.Delivery, f model.Failure, reason model.DeadLetterReason, attempt model.Attempt) error

	// ReclaimExpired returns leased deliveries whose lease expired before now to pending.
	// attempt_count is left unchanged. Returns the number of reclaimed deliveries.
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// Load retrieves a delivery by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Delivery, error)

	// FindByEvent retrieves all deliveries of an event.
	FindByEvent(ctx context.Context, eventID string) ([]model.Delivery, error)

	// ListAttempts retrieves the attempt history of a delivery, oldest first.
	ListAttempts(ctx context.Context, deliveryID string) ([]model.Attempt, error)
}

// DLQRepository defines the read and replay interface over dead-lettered deliveries.
type DLQRepository interface {
	// List retrieves dead-lettered deliveries matching the filter, newest first.
	List(ctx context.Context, f model.DLQFilter) ([]model.Delivery, error)

	// Stats aggregates the dead-letter queue.
	Stats(ctx context.Context) (model.DLQStats, error)

	// Replay resets a dead-lettered delivery to pending with attempt_count=0, takes a
	// fresh target URL and retry strategy snapshot from sub, and moves its event back to matched.
	// Returns ErrNoData if the delivery does not exist or is not dead-lettered.
	Replay(ctx context.Context, id string, sub model.Subscription, now time.Time) (model.Delivery, error)
}

// IdempotencyCache is an optional fast path in front of the unique index on
// (source, idempotency_key). It may forget entries at any time.
type IdempotencyCache interface {
	// Get returns the event ID remembered for (source, key).
	Get(ctx context.Context, source, key string) (eventID string, found bool, err error)

	// Set remembers the event ID for (source, key).
	Set(ctx context.Context, source, key, eventID string) error
}
