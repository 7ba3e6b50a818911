package hookrelay

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/hookrelay/metrics"
	"github.com/coregx/hookrelay/model"
)

// DLQManager exposes dead-lettered deliveries to operators.
//
// Dead-lettered deliveries are never deleted. Replay puts a delivery back into
// the queue with a fresh attempt budget taken from its subscription's current
// strategy; the previous attempts stay in its history.
type DLQManager struct {
	dlqRepo          DLQRepository
	deliveryRepo     DeliveryQueue
	subscriptionRepo SubscriptionRepository
	logger           Logger
	clock            Clock
}

// DLQManagerOption configures a DLQManager.
type DLQManagerOption func(*DLQManager) error

// NewDLQManager creates a new DLQManager with the provided options.
//
// Required options:
//   - WithDLQRepositories: DLQ, delivery and subscription repositories
//   - WithDLQLogger: logger instance
func NewDLQManager(opts ...DLQManagerOption) (*DLQManager, error) {
	m := &DLQManager{clock: SystemClock}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply DLQ manager option", err)
		}
	}

	if m.dlqRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "DLQRepository is required (use WithDLQRepositories)")
	}
	if m.deliveryRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryQueue is required (use WithDLQRepositories)")
	}
	if m.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithDLQRepositories)")
	}
	if m.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithDLQLogger)")
	}

	return m, nil
}

// WithDLQRepositories sets the required repository dependencies.
func WithDLQRepositories(dlqRepo DLQRepository, deliveryRepo DeliveryQueue, subscriptionRepo SubscriptionRepository) DLQManagerOption {
	return func(m *DLQManager) error {
		if dlqRepo == nil {
			return fmt.Errorf("dlqRepo cannot be nil")
		}
		if deliveryRepo == nil {
			return fmt.Errorf("deliveryRepo cannot be nil")
		}
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		m.dlqRepo = dlqRepo
		m.deliveryRepo = deliveryRepo
		m.subscriptionRepo = subscriptionRepo
		return nil
	}
}

// WithDLQLogger sets the logger instance.
func WithDLQLogger(logger Logger) DLQManagerOption {
	return func(m *DLQManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithDLQClock overrides the time source.
func WithDLQClock(clock Clock) DLQManagerOption {
	return func(m *DLQManager) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		m.clock = clock
		return nil
	}
}

// List returns dead-lettered deliveries matching the filter, newest first.
func (m *DLQManager) List(ctx context.Context, f model.DLQFilter) ([]model.Delivery, error) {
	f = f.Normalized()
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Until.After(f.Since) {
		return nil, NewValidationError(validation.Errors{"until": errors.New("must be after since")})
	}
	if f.Reason != "" && f.Reason != model.DeadLetterPermanentFailure && f.Reason != model.DeadLetterAttemptsExhausted {
		return nil, NewValidationError(validation.Errors{"reason": fmt.Errorf("unknown reason %q", f.Reason)})
	}

	items, err := m.dlqRepo.List(ctx, f)
	if err != nil {
		if IsNoData(err) {
			return []model.Delivery{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list dead letters", err)
	}
	return items, nil
}

// Get returns a dead-lettered delivery. Deliveries in any other state are
// reported as not found.
func (m *DLQManager) Get(ctx context.Context, id string) (model.Delivery, error) {
	d, err := m.deliveryRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return model.Delivery{}, &NotFoundError{Resource: "dead letter", ID: id}
		}
		return model.Delivery{}, NewErrorWithCause(ErrCodeDatabase, "failed to load delivery", err)
	}
	if d.Status != model.DeliveryStatusDeadLetter {
		return model.Delivery{}, &NotFoundError{Resource: "dead letter", ID: id}
	}
	return d, nil
}

// Stats aggregates the dead-letter queue for monitoring.
func (m *DLQManager) Stats(ctx context.Context) (model.DLQStats, error) {
	stats, err := m.dlqRepo.Stats(ctx)
	if err != nil {
		return model.DLQStats{}, NewErrorWithCause(ErrCodeDatabase, "failed to compute DLQ stats", err)
	}
	return stats, nil
}

// Replay returns a dead-lettered delivery to the queue, ready immediately, with
// attempt_count reset to zero and the subscription's current target URL and
// retry strategy. Its event moves back to matched.
//
// Returns NotFoundError when the delivery is not dead-lettered or its
// subscription no longer exists.
func (m *DLQManager) Replay(ctx context.Context, id string) (model.Delivery, error) {
	d, err := m.Get(ctx, id)
	if err != nil {
		return model.Delivery{}, err
	}

	sub, err := m.subscriptionRepo.Load(ctx, d.SubscriptionID)
	if err != nil {
		if IsNoData(err) {
			return model.Delivery{}, &NotFoundError{Resource: "subscription", ID: d.SubscriptionID}
		}
		return model.Delivery{}, NewErrorWithCause(ErrCodeDatabase, "failed to load subscription", err)
	}

	replayed, err := m.dlqRepo.Replay(ctx, id, sub, m.clock())
	if err != nil {
		if IsNoData(err) {
			// Replayed concurrently.
			return model.Delivery{}, &NotFoundError{Resource: "dead letter", ID: id}
		}
		return model.Delivery{}, NewErrorWithCause(ErrCodeDatabase, "failed to replay delivery", err)
	}

	metrics.DLQReplays.Inc()
	m.logger.Infof("Dead letter replayed: delivery_id=%s, event_id=%s, subscription_id=%s, replay=%d",
		replayed.ID, replayed.EventID, replayed.SubscriptionID, replayed.ReplayCount)

	return replayed, nil
}

// ReplayResult is the outcome of one ID of ReplayBatch.
type ReplayResult struct {
	ID       string
	Delivery model.Delivery
	Err      error
}

// ReplayBatch replays each ID independently and reports per-ID results.
func (m *DLQManager) ReplayBatch(ctx context.Context, ids []string) ([]ReplayResult, error) {
	if len(ids) == 0 {
		return nil, NewValidationError(validation.Errors{"ids": errors.New("cannot be blank")})
	}
	if len(ids) > MaxBatchSize {
		return nil, NewValidationError(validation.Errors{"ids": fmt.Errorf("must contain at most %d items", MaxBatchSize)})
	}

	results := make([]ReplayResult, 0, len(ids))
	replayed := 0
	for _, id := range ids {
		d, err := m.Replay(ctx, id)
		results = append(results, ReplayResult{ID: id, Delivery: d, Err: err})
		if err == nil {
			replayed++
		}
	}

	m.logger.Infof("Replay batch finished: requested=%d, replayed=%d", len(ids), replayed)
	return results, nil
}
