package hookrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/hookrelay/metrics"
	"github.com/coregx/hookrelay/model"
)

// Ingestion limits.
const (
	MaxPayloadSize   = 1 << 20 // 1 MiB of JSON
	MaxFieldLength   = 255
	MaxBatchSize     = 100
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Ingestion results reported to metrics.
const (
	resultCreated  = "created"
	resultReplayed = "replayed"
	resultConflict = "conflict"
	resultInvalid  = "invalid"
)

// EventDispatcher fans out a newly accepted event. *Matcher implements it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventID string) (DispatchResult, error)
}

// Ingestor accepts events from producers and guards against duplicates.
//
// A submission with an idempotency key that was already used returns the stored
// event unchanged when type and payload are byte-equal, and a ConflictError
// otherwise. The unique index on (source, idempotency_key) is the source of
// truth; the optional IdempotencyCache only saves a round trip.
type Ingestor struct {
	events     EventRepository
	deliveries DeliveryQueue
	cache      IdempotencyCache
	dispatcher EventDispatcher
	logger     Logger
	clock      Clock
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor) error

// NewIngestor creates a new Ingestor with the provided options.
//
// Required options:
//   - WithIngestorRepositories: event repository and delivery queue
//   - WithIngestorLogger: logger instance
//
// Optional options:
//   - WithDispatcher: fan out each new event synchronously (recommended)
//   - WithIdempotencyCache: cache (source, key) lookups
func NewIngestor(opts ...IngestorOption) (*Ingestor, error) {
	in := &Ingestor{clock: SystemClock}

	for _, opt := range opts {
		if err := opt(in); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply ingestor option", err)
		}
	}

	if in.events == nil {
		return nil, NewError(ErrCodeConfiguration, "EventRepository is required (use WithIngestorRepositories)")
	}
	if in.deliveries == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryQueue is required (use WithIngestorRepositories)")
	}
	if in.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithIngestorLogger)")
	}

	return in, nil
}

// WithIngestorRepositories sets the required repository dependencies.
func WithIngestorRepositories(events EventRepository, deliveries DeliveryQueue) IngestorOption {
	return func(in *Ingestor) error {
		if events == nil {
			return fmt.Errorf("events cannot be nil")
		}
		if deliveries == nil {
			return fmt.Errorf("deliveries cannot be nil")
		}
		in.events = events
		in.deliveries = deliveries
		return nil
	}
}

// WithIngestorLogger sets the logger instance.
func WithIngestorLogger(logger Logger) IngestorOption {
	return func(in *Ingestor) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		in.logger = logger
		return nil
	}
}

// WithDispatcher fans out every newly created event before Submit returns.
// Without it, events stay accepted until a Matcher recovery sweep picks them up.
func WithDispatcher(dispatcher EventDispatcher) IngestorOption {
	return func(in *Ingestor) error {
		if dispatcher == nil {
			return fmt.Errorf("dispatcher cannot be nil")
		}
		in.dispatcher = dispatcher
		return nil
	}
}

// WithIdempotencyCache sets the optional (source, key) lookup cache.
func WithIdempotencyCache(cache IdempotencyCache) IngestorOption {
	return func(in *Ingestor) error {
		if cache == nil {
			return fmt.Errorf("cache cannot be nil")
		}
		in.cache = cache
		return nil
	}
}

// WithIngestorClock overrides the time source.
func WithIngestorClock(clock Clock) IngestorOption {
	return func(in *Ingestor) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		in.clock = clock
		return nil
	}
}

// SubmitRequest represents an event submitted by a producer.
type SubmitRequest struct {
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
}

// Validate checks the request shape.
func (r SubmitRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Source, validation.Required, validation.RuneLength(1, MaxFieldLength)),
		validation.Field(&r.EventType, validation.Required, validation.RuneLength(1, MaxFieldLength), validation.By(eventTypeRule)),
		validation.Field(&r.IdempotencyKey, validation.RuneLength(0, MaxFieldLength)),
		validation.Field(&r.Payload, validation.Required, validation.Length(1, MaxPayloadSize), validation.By(jsonRule)),
	)
}

func eventTypeRule(value interface{}) error {
	s, _ := value.(string)
	if s != "" && !model.ValidEventType(s) {
		return errors.New("must be dot-separated segments of letters, digits, '_' or '-'")
	}
	return nil
}

func jsonRule(value interface{}) error {
	raw, _ := value.(json.RawMessage)
	if len(raw) > 0 && !json.Valid(raw) {
		return errors.New("must be valid JSON")
	}
	return nil
}

// SubmitResult represents the result of a submission.
type SubmitResult struct {
	Event    model.Event
	Replayed bool // the idempotency key matched an existing event with the same content
}

// Submit accepts an event.
//
// Without an idempotency key every call creates a new event. With a key, the
// first call creates the event and later calls with the same type and payload
// return it with Replayed=true; a differing type or payload returns ConflictError
// and leaves the stored event untouched.
//
// A newly created event is fanned out before Submit returns when a dispatcher is
// configured. Fan-out failures are logged, not returned: the event is stored and
// the recovery sweep will dispatch it.
func (in *Ingestor) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		metrics.EventsIngested.WithLabelValues(resultInvalid).Inc()
		return SubmitResult{}, NewValidationError(err)
	}

	payload, err := compactPayload(req.Payload)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(resultInvalid).Inc()
		return SubmitResult{}, NewValidationError(validation.Errors{"payload": err})
	}

	if req.IdempotencyKey != "" {
		existing, found, err := in.lookup(ctx, req.Source, req.IdempotencyKey)
		if err != nil {
			return SubmitResult{}, err
		}
		if found {
			return in.replay(existing, req, payload)
		}
	}

	event := model.NewEvent(req.Source, req.IdempotencyKey, req.EventType, payload, in.clock())
	if err := in.events.Insert(ctx, &event); err != nil {
		if !IsDuplicate(err) || req.IdempotencyKey == "" {
			return SubmitResult{}, NewErrorWithCause(ErrCodeDatabase, "failed to store event", err)
		}

		// Lost the race against a concurrent submission with the same key.
		existing, err := in.events.FindByIdempotencyKey(ctx, req.Source, req.IdempotencyKey)
		if err != nil {
			return SubmitResult{}, NewErrorWithCause(ErrCodeDatabase, "failed to load event after duplicate key", err)
		}
		return in.replay(existing, req, payload)
	}

	metrics.EventsIngested.WithLabelValues(resultCreated).Inc()
	in.remember(ctx, event)
	in.logger.Debugf("Event accepted: id=%s, source=%s, type=%s", event.ID, event.Source, event.EventType)

	if in.dispatcher != nil {
		res, err := in.dispatcher.Dispatch(ctx, event.ID)
		if err != nil {
			in.logger.Warnf("Fan-out of event %s failed, leaving it for recovery: %v", event.ID, err)
		} else {
			event.Status = res.Status
			event.DeliveryCount = res.DeliveriesCreated
		}
	}

	return SubmitResult{Event: event}, nil
}

// lookup finds the event stored under (source, key), consulting the cache first.
func (in *Ingestor) lookup(ctx context.Context, source, key string) (model.Event, bool, error) {
	if in.cache != nil {
		id, found, err := in.cache.Get(ctx, source, key)
		if err != nil {
			in.logger.Warnf("Idempotency cache lookup failed: %v", err)
		}
		if found {
			event, err := in.events.Load(ctx, id)
			if err == nil {
				return event, true, nil
			}
			if !IsNoData(err) {
				return model.Event{}, false, NewErrorWithCause(ErrCodeDatabase, "failed to load event", err)
			}
		}
	}

	event, err := in.events.FindByIdempotencyKey(ctx, source, key)
	if err != nil {
		if IsNoData(err) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, NewErrorWithCause(ErrCodeDatabase, "failed to look up idempotency key", err)
	}

	in.remember(ctx, event)
	return event, true, nil
}

func (in *Ingestor) remember(ctx context.Context, event model.Event) {
	if in.cache == nil || !event.IdempotencyKey.Valid {
		return
	}
	if err := in.cache.Set(ctx, event.Source, event.IdempotencyKey.String, event.ID); err != nil {
		in.logger.Warnf("Idempotency cache write failed: %v", err)
	}
}

func (in *Ingestor) replay(existing model.Event, req SubmitRequest, payload []byte) (SubmitResult, error) {
	if !existing.SameContent(req.EventType, payload) {
		metrics.EventsIngested.WithLabelValues(resultConflict).Inc()
		in.logger.Warnf("Idempotency conflict: source=%s, key=%s, existing_event=%s",
			req.Source, req.IdempotencyKey, existing.ID)
		return SubmitResult{}, &ConflictError{
			Source:          req.Source,
			IdempotencyKey:  req.IdempotencyKey,
			ExistingEventID: existing.ID,
		}
	}

	metrics.EventsIngested.WithLabelValues(resultReplayed).Inc()
	return SubmitResult{Event: existing, Replayed: true}, nil
}

// compactPayload strips insignificant whitespace so that equal documents
// submitted with different formatting compare equal.
func compactPayload(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BatchItemResult is the outcome of one item of SubmitBatch.
type BatchItemResult struct {
	Index  int
	Result SubmitResult
	Err    error
}

// SubmitBatch submits each request independently. A failing item does not stop
// the others; its error is reported in its result.
func (in *Ingestor) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]BatchItemResult, error) {
	if len(reqs) == 0 {
		return nil, NewValidationError(validation.Errors{"events": errors.New("cannot be blank")})
	}
	if len(reqs) > MaxBatchSize {
		return nil, NewValidationError(validation.Errors{
			"events": fmt.Errorf("must contain at most %d items", MaxBatchSize),
		})
	}

	results := make([]BatchItemResult, len(reqs))
	for i, req := range reqs {
		res, err := in.Submit(ctx, req)
		results[i] = BatchItemResult{Index: i, Result: res, Err: err}
	}
	return results, nil
}

// EventDetails is an event together with its deliveries.
type EventDetails struct {
	Event      model.Event      `json:"event"`
	Deliveries []model.Delivery `json:"deliveries"`
}

// GetEvent returns an event and the state of each of its deliveries.
func (in *Ingestor) GetEvent(ctx context.Context, id string) (EventDetails, error) {
	event, err := in.events.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return EventDetails{}, &NotFoundError{Resource: "event", ID: id}
		}
		return EventDetails{}, NewErrorWithCause(ErrCodeDatabase, "failed to load event", err)
	}

	deliveries, err := in.deliveries.FindByEvent(ctx, id)
	if err != nil && !IsNoData(err) {
		return EventDetails{}, NewErrorWithCause(ErrCodeDatabase, "failed to load deliveries", err)
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	return EventDetails{Event: event, Deliveries: deliveries}, nil
}

// ListEvents returns events matching the query, newest first.
func (in *Ingestor) ListEvents(ctx context.Context, q model.EventQuery) ([]model.Event, error) {
	q.Limit = clampLimit(q.Limit)

	events, err := in.events.List(ctx, q)
	if err != nil {
		if IsNoData(err) {
			return []model.Event{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list events", err)
	}
	return events, nil
}

// GetDelivery returns a delivery with its attempt history.
func (in *Ingestor) GetDelivery(ctx context.Context, id string) (model.Delivery, []model.Attempt, error) {
	d, err := in.deliveries.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return model.Delivery{}, nil, &NotFoundError{Resource: "delivery", ID: id}
		}
		return model.Delivery{}, nil, NewErrorWithCause(ErrCodeDatabase, "failed to load delivery", err)
	}

	attempts, err := in.deliveries.ListAttempts(ctx, id)
	if err != nil && !IsNoData(err) {
		return model.Delivery{}, nil, NewErrorWithCause(ErrCodeDatabase, "failed to load attempts", err)
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return d, attempts, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
