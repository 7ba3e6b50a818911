package hookrelay

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/hookrelay/model"
)

// memStore is an in-memory implementation of every storage interface, with the
// same state transitions as the SQL adapters.
type memStore struct {
	mu            sync.Mutex
	events        map[string]model.Event
	subscriptions map[string]model.Subscription
	deliveries    map[string]model.Delivery
	attempts      map[string][]model.Attempt

	insertErr error // returned by the next event Insert
	beforeInsert func()
}

func newMemStore() *memStore {
	return &memStore{
		events:        map[string]model.Event{},
		subscriptions: map[string]model.Subscription{},
		deliveries:    map[string]model.Delivery{},
		attempts:      map[string][]model.Attempt{},
	}
}

type memEvents struct{ *memStore }
type memSubscriptions struct{ *memStore }
type memQueue struct{ *memStore }
type memDLQ struct{ *memStore }

func (s *memStore) eventRepo() memEvents               { return memEvents{s} }
func (s *memStore) subscriptionRepo() memSubscriptions { return memSubscriptions{s} }
func (s *memStore) queue() memQueue                    { return memQueue{s} }
func (s *memStore) dlq() memDLQ                        { return memDLQ{s} }

// Events

func (r memEvents) Load(_ context.Context, id string) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return model.Event{}, ErrNoData
	}
	return e, nil
}

func (r memEvents) FindByIdempotencyKey(_ context.Context, source, key string) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Source == source && e.IdempotencyKey.Valid && e.IdempotencyKey.String == key {
			return e, nil
		}
	}
	return model.Event{}, ErrNoData
}

func (r memEvents) Insert(_ context.Context, e *model.Event) error {
	if r.beforeInsert != nil {
		hook := r.beforeInsert
		r.beforeInsert = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		err := r.insertErr
		r.insertErr = nil
		return err
	}
	if e.IdempotencyKey.Valid {
		for _, other := range r.events {
			if other.Source == e.Source && other.IdempotencyKey == e.IdempotencyKey {
				return ErrDuplicate
			}
		}
	}
	r.events[e.ID] = *e
	return nil
}

func (r memEvents) List(_ context.Context, q model.EventQuery) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Event{}
	for _, e := range r.events {
		if (q.Source == "" || e.Source == q.Source) &&
			(q.EventType == "" || e.EventType == q.EventType) &&
			(q.Status == "" || e.Status == q.Status) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r memEvents) FindStaleAccepted(_ context.Context, before time.Time, limit int) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Status == model.EventStatusAccepted && e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscriptions

func (r memSubscriptions) Load(_ context.Context, id string) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return model.Subscription{}, ErrNoData
	}
	return sub, nil
}

func (r memSubscriptions) Insert(_ context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[sub.ID] = *sub
	return nil
}

func (r memSubscriptions) Update(_ context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscriptions[sub.ID]; !ok {
		return ErrNoData
	}
	r.subscriptions[sub.ID] = *sub
	return nil
}

func (r memSubscriptions) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscriptions[id]; !ok {
		return ErrNoData
	}
	delete(r.subscriptions, id)
	return nil
}

func (r memSubscriptions) List(_ context.Context, q model.SubscriptionQuery) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Subscription
	for _, sub := range r.subscriptions {
		if q.Status == "" || sub.Status == q.Status {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Fan-out

func (r memQueue) FanOut(_ context.Context, eventID string, now time.Time, plan FanOutPlanner) (FanOutResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[eventID]
	if !ok {
		return FanOutResult{}, ErrNoData
	}
	if event.Status != model.EventStatusAccepted {
		return FanOutResult{Event: event, AlreadyDispatched: true}, nil
	}

	var active []model.Subscription
	for _, sub := range r.subscriptions {
		if sub.IsActive() {
			active = append(active, sub)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	deliveries := plan(event, active)
	for _, d := range deliveries {
		r.deliveries[d.ID] = d
	}

	event.Status = model.EventStatusMatched
	if len(deliveries) == 0 {
		event.Status = model.EventStatusExhausted
	}
	event.DeliveryCount = len(deliveries)
	event.UpdatedAt = now
	r.events[eventID] = event

	return FanOutResult{Event: event, Deliveries: deliveries}, nil
}

// Queue

func (r memQueue) Enqueue(_ context.Context, d *model.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = *d
	return nil
}

func (r memQueue) Lease(_ context.Context, workerID string, now time.Time, leaseDuration time.Duration, limit int) ([]model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []model.Delivery
	for _, d := range r.deliveries {
		if d.IsReady(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].Status = model.DeliveryStatusLeased
		due[i].LeaseExpiry = sqlTime(now.Add(leaseDuration))
		due[i].LeasedBy = sqlString(workerID)
		due[i].LeaseToken = sqlString(uuid.NewString())
		due[i].UpdatedAt = now
		r.deliveries[due[i].ID] = due[i]
	}
	return due, nil
}

// fenced applies fn to the stored delivery if d still holds its lease.
func (r memQueue) fenced(d model.Delivery, attempt model.Attempt, fn func(stored *model.Delivery)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.deliveries[d.ID]
	if !ok || stored.Status != model.DeliveryStatusLeased || stored.LeaseToken != d.LeaseToken {
		return ErrLeaseLost
	}

	fn(&stored)
	stored.LeaseExpiry = sql.NullTime{}
	stored.LeasedBy = sql.NullString{}
	stored.LeaseToken = sql.NullString{}
	stored.UpdatedAt = attempt.FinishedAt
	r.deliveries[d.ID] = stored
	r.attempts[d.ID] = append(r.attempts[d.ID], attempt)

	if stored.IsTerminal() {
		r.settle(stored.EventID, attempt.FinishedAt)
	}
	return nil
}

func (r memQueue) settle(eventID string, now time.Time) {
	event, ok := r.events[eventID]
	if !ok || event.Status != model.EventStatusMatched {
		return
	}
	for _, d := range r.deliveries {
		if d.EventID == eventID && !d.IsTerminal() {
			return
		}
	}
	event.Status = model.EventStatusExhausted
	event.UpdatedAt = now
	r.events[eventID] = event
}

func recordFailure(d *model.Delivery, f model.Failure) {
	d.LastErrorCategory = sqlString(string(f.Category))
	d.LastErrorCode = sqlString(f.Code)
	d.LastErrorMessage = sqlString(f.Message)
	if f.StatusCode > 0 {
		d.ResponseCode.Int64, d.ResponseCode.Valid = int64(f.StatusCode), true
	}
}

func (r memQueue) AckSuccess(_ context.Context, d model.Delivery, attempt model.Attempt) error {
	return r.fenced(d, attempt, func(stored *model.Delivery) {
		stored.Status = model.DeliveryStatusSucceeded
		stored.LastAttemptAt = sqlTime(attempt.FinishedAt)
		stored.CompletedAt = sqlTime(attempt.FinishedAt)
		stored.ResponseCode = attempt.StatusCode
	})
}

func (r memQueue) AckRetry(_ context.Context, d model.Delivery, next time.Time, f model.Failure, attempt model.Attempt) error {
	return r.fenced(d, attempt, func(stored *model.Delivery) {
		stored.Status = model.DeliveryStatusPending
		stored.AttemptCount++
		stored.LastAttemptAt = sqlTime(attempt.FinishedAt)
		stored.NextAttemptAt = next
		recordFailure(stored, f)
	})
}

func (r memQueue) AckDeadLetter(_ context.Context, d model.Delivery, f model.Failure, reason model.DeadLetterReason, attempt model.Attempt) error {
	return r.fenced(d, attempt, func(stored *model.Delivery) {
		stored.Status = model.DeliveryStatusDeadLetter
		if reason == model.DeadLetterAttemptsExhausted {
			stored.AttemptCount++
		}
		stored.LastAttemptAt = sqlTime(attempt.FinishedAt)
		stored.DeadLetterReason = sqlString(string(reason))
		stored.DeadLetteredAt = sqlTime(attempt.FinishedAt)
		stored.CompletedAt = sqlTime(attempt.FinishedAt)
		recordFailure(stored, f)
	})
}

func (r memQueue) ReclaimExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, d := range r.deliveries {
		if d.Status == model.DeliveryStatusLeased && d.LeaseExpiry.Valid && d.LeaseExpiry.Time.Before(now) {
			d.Status = model.DeliveryStatusPending
			d.NextAttemptAt = now
			d.LeaseExpiry = sql.NullTime{}
			d.LeasedBy = sql.NullString{}
			d.LeaseToken = sql.NullString{}
			d.UpdatedAt = now
			r.deliveries[id] = d
			n++
		}
	}
	return n, nil
}

func (r memQueue) Load(_ context.Context, id string) (model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, ErrNoData
	}
	return d, nil
}

func (r memQueue) FindByEvent(_ context.Context, eventID string) ([]model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Delivery
	for _, d := range r.deliveries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memQueue) ListAttempts(_ context.Context, deliveryID string) ([]model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Attempt(nil), r.attempts[deliveryID]...), nil
}

// DLQ

func (r memDLQ) List(_ context.Context, f model.DLQFilter) ([]model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Delivery{}
	for _, d := range r.deliveries {
		if d.Status != model.DeliveryStatusDeadLetter {
			continue
		}
		if f.SubscriptionID != "" && d.SubscriptionID != f.SubscriptionID {
			continue
		}
		if f.EventType != "" && d.EventType != f.EventType {
			continue
		}
		if f.Reason != "" && d.DeadLetterReason.String != string(f.Reason) {
			continue
		}
		if !f.Since.IsZero() && d.DeadLetteredAt.Time.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !d.DeadLetteredAt.Time.Before(f.Until) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadLetteredAt.Time.After(out[j].DeadLetteredAt.Time) })

	if f.Offset >= len(out) {
		return []model.Delivery{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memDLQ) Stats(_ context.Context) (model.DLQStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := model.NewDLQStats()
	for _, d := range r.deliveries {
		if d.Status != model.DeliveryStatusDeadLetter {
			continue
		}
		stats.Total++
		stats.BySubscription[d.SubscriptionID]++
		stats.ByErrorCategory[d.LastErrorCategory.String]++
		stats.ByReason[d.DeadLetterReason.String]++

		at := d.DeadLetteredAt.Time
		if stats.Oldest == nil || at.Before(*stats.Oldest) {
			stats.Oldest = &at
		}
		if stats.Newest == nil || at.After(*stats.Newest) {
			newest := at
			stats.Newest = &newest
		}
	}
	return stats, nil
}

func (r memDLQ) Replay(_ context.Context, id string, sub model.Subscription, now time.Time) (model.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.Status != model.DeliveryStatusDeadLetter {
		return model.Delivery{}, ErrNoData
	}

	replayed := model.Delivery{
		ID:             d.ID,
		EventID:        d.EventID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		TargetURL:      sub.TargetURL,
		Status:         model.DeliveryStatusPending,
		NextAttemptAt:  now,
		LastAttemptAt:  d.LastAttemptAt,
		ReplayCount:    d.ReplayCount + 1,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      now,
	}
	replayed.SetRetryStrategy(sub.RetryStrategy())
	r.deliveries[id] = replayed

	if event, ok := r.events[d.EventID]; ok && event.Status == model.EventStatusExhausted {
		event.Status = model.EventStatusMatched
		event.UpdatedAt = now
		r.events[d.EventID] = event
	}
	return replayed, nil
}

func sqlTime(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: true} }

func sqlString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

// fixedClock is a manually advanced Clock.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
