package hookrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/hookrelay/metrics"
	"github.com/coregx/hookrelay/model"
)

// Matcher fans accepted events out to the subscriptions whose filter matches
// their type, creating one pending delivery per match.
//
// Fan-out happens at most once per event: the event leaves status=accepted in the
// same transaction that inserts its deliveries, so concurrent or repeated
// dispatches of the same event are harmless.
type Matcher struct {
	events EventRepository
	store  FanOutStore
	logger Logger
	clock  Clock
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher) error

// NewMatcher creates a new Matcher with the provided options.
//
// Required options:
//   - WithMatcherRepositories: event repository and fan-out store
//   - WithMatcherLogger: logger instance
//
// Example:
//
//	matcher, err := hookrelay.NewMatcher(
//	    hookrelay.WithMatcherRepositories(repos.Events, repos.Deliveries),
//	    hookrelay.WithMatcherLogger(logger),
//	)
func NewMatcher(opts ...MatcherOption) (*Matcher, error) {
	m := &Matcher{clock: SystemClock}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply matcher option", err)
		}
	}

	if m.events == nil {
		return nil, NewError(ErrCodeConfiguration, "EventRepository is required (use WithMatcherRepositories)")
	}
	if m.store == nil {
		return nil, NewError(ErrCodeConfiguration, "FanOutStore is required (use WithMatcherRepositories)")
	}
	if m.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithMatcherLogger)")
	}

	return m, nil
}

// WithMatcherRepositories sets the required repository dependencies.
func WithMatcherRepositories(events EventRepository, store FanOutStore) MatcherOption {
	return func(m *Matcher) error {
		if events == nil {
			return fmt.Errorf("events cannot be nil")
		}
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		m.events = events
		m.store = store
		return nil
	}
}

// WithMatcherLogger sets the logger instance.
func WithMatcherLogger(logger Logger) MatcherOption {
	return func(m *Matcher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithMatcherClock overrides the time source.
func WithMatcherClock(clock Clock) MatcherOption {
	return func(m *Matcher) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		m.clock = clock
		return nil
	}
}

// DispatchResult represents the result of a fan-out.
type DispatchResult struct {
	EventID           string            // Dispatched event ID
	Status            model.EventStatus // Event status after the fan-out
	DeliveriesCreated int               // Number of deliveries created
	SubscriptionIDs   []string          // Subscriptions that received a delivery
	AlreadyDispatched bool              // The event had been fanned out before
}

// Plan returns a planner that creates a delivery, ready at now, for every active
// subscription matching the event type.
func (m *Matcher) Plan(now time.Time) FanOutPlanner {
	return func(event model.Event, active []model.Subscription) []model.Delivery {
		deliveries := make([]model.Delivery, 0, len(active))
		for _, sub := range active {
			if !sub.Matches(event.EventType) {
				continue
			}
			deliveries = append(deliveries, model.NewDelivery(event, sub, now))
		}
		return deliveries
	}
}

// Dispatch fans out an accepted event.
//
// Dispatching an event that already left status=accepted creates nothing and
// reports AlreadyDispatched. Returns NotFoundError for an unknown event.
func (m *Matcher) Dispatch(ctx context.Context, eventID string) (DispatchResult, error) {
	now := m.clock()
	res, err := m.store.FanOut(ctx, eventID, now, m.Plan(now))
	if err != nil {
		if IsNoData(err) {
			return DispatchResult{}, &NotFoundError{Resource: "event", ID: eventID}
		}
		metrics.FanOutErrors.Inc()
		return DispatchResult{}, NewErrorWithCause(ErrCodeDatabase, "failed to fan out event", err)
	}

	result := DispatchResult{
		EventID:           eventID,
		Status:            res.Event.Status,
		DeliveriesCreated: len(res.Deliveries),
		SubscriptionIDs:   make([]string, 0, len(res.Deliveries)),
		AlreadyDispatched: res.AlreadyDispatched,
	}
	for _, d := range res.Deliveries {
		result.SubscriptionIDs = append(result.SubscriptionIDs, d.SubscriptionID)
	}

	if res.AlreadyDispatched {
		m.logger.Debugf("Event %s already dispatched (status=%s)", eventID, res.Event.Status)
		return result, nil
	}

	metrics.FanOutDeliveries.Add(float64(result.DeliveriesCreated))
	m.logger.Infof("Event dispatched: id=%s, type=%s, deliveries=%d",
		eventID, res.Event.EventType, result.DeliveriesCreated)

	return result, nil
}

// Recover dispatches events left in status=accepted for longer than olderThan,
// such as events whose synchronous fan-out failed after ingestion.
// Returns the number of events fanned out.
func (m *Matcher) Recover(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := m.events.FindStaleAccepted(ctx, m.clock().Add(-olderThan), limit)
	if err != nil {
		if IsNoData(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find stale events: %w", err)
	}

	recovered := 0
	for _, event := range stale {
		res, err := m.Dispatch(ctx, event.ID)
		if err != nil {
			m.logger.Errorf("Failed to recover event %s: %v", event.ID, err)
			continue
		}
		if !res.AlreadyDispatched {
			recovered++
		}
	}

	if recovered > 0 {
		m.logger.Infof("Recovered %d stale events", recovered)
	}
	return recovered, nil
}
