package api

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
	"github.com/coregx/hookrelay/retry"
)

// SubmitBatchRequest is used for POST /events/batch
type SubmitBatchRequest struct {
	Events []hookrelay.SubmitRequest `json:"events"`
}

// RetryStrategyDTO is the wire form of a retry strategy, in milliseconds.
type RetryStrategyDTO struct {
	MaxAttempts   int   `json:"max_attempts"`
	BaseBackoffMs int64 `json:"base_backoff_ms"`
	MaxBackoffMs  int64 `json:"max_backoff_ms"`
	Jitter        bool  `json:"jitter"`
}

func (r *RetryStrategyDTO) strategy() *retry.Strategy {
	if r == nil {
		return nil
	}
	return &retry.Strategy{
		MaxAttempts: r.MaxAttempts,
		BaseBackoff: time.Duration(r.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Jitter:      r.Jitter,
	}
}

func fromStrategy(s retry.Strategy) RetryStrategyDTO {
	return RetryStrategyDTO{
		MaxAttempts:   s.MaxAttempts,
		BaseBackoffMs: s.BaseBackoff.Milliseconds(),
		MaxBackoffMs:  s.MaxBackoff.Milliseconds(),
		Jitter:        s.Jitter,
	}
}

// CreateSubscriptionRequest is used for POST /subscriptions
type CreateSubscriptionRequest struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	TargetURL     string            `json:"target_url"`
	EventFilter   string            `json:"event_filter"`
	RetryStrategy *RetryStrategyDTO `json:"retry_strategy,omitempty"`
	TimeoutMs     int64             `json:"timeout_ms,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	SigningSecret string            `json:"signing_secret,omitempty"`
}

func (r CreateSubscriptionRequest) toService() hookrelay.CreateSubscriptionRequest {
	return hookrelay.CreateSubscriptionRequest{
		Name:          r.Name,
		Description:   r.Description,
		TargetURL:     r.TargetURL,
		EventFilter:   r.EventFilter,
		Strategy:      r.RetryStrategy.strategy(),
		Timeout:       time.Duration(r.TimeoutMs) * time.Millisecond,
		CustomHeaders: r.CustomHeaders,
		SigningSecret: r.SigningSecret,
	}
}

// UpdateSubscriptionRequest is used for PATCH /subscriptions/:id. Omitted fields are unchanged.
type UpdateSubscriptionRequest struct {
	Name          *string           `json:"name,omitempty"`
	Description   *string           `json:"description,omitempty"`
	TargetURL     *string           `json:"target_url,omitempty"`
	EventFilter   *string           `json:"event_filter,omitempty"`
	RetryStrategy *RetryStrategyDTO `json:"retry_strategy,omitempty"`
	TimeoutMs     *int64            `json:"timeout_ms,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

func (r UpdateSubscriptionRequest) toService() hookrelay.UpdateSubscriptionRequest {
	req := hookrelay.UpdateSubscriptionRequest{
		Name:          r.Name,
		Description:   r.Description,
		TargetURL:     r.TargetURL,
		EventFilter:   r.EventFilter,
		Strategy:      r.RetryStrategy.strategy(),
		CustomHeaders: r.CustomHeaders,
	}
	if r.TimeoutMs != nil {
		timeout := time.Duration(*r.TimeoutMs) * time.Millisecond
		req.Timeout = &timeout
	}
	return req
}

// ReplayBatchRequest is used for POST /dlq/retry
type ReplayBatchRequest struct {
	IDs []string `json:"ids"`
}

// EventDTO represents an event in API responses
type EventDTO struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	DeliveryCount  int             `json:"delivery_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SubmitResponse is returned for an accepted event
type SubmitResponse struct {
	Event    EventDTO `json:"event"`
	Replayed bool     `json:"replayed"`
}

// BatchItemDTO is one item of a batch submission result
type BatchItemDTO struct {
	Index    int       `json:"index"`
	Event    *EventDTO `json:"event,omitempty"`
	Replayed bool      `json:"replayed,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
}

// EventDetailsResponse is returned for GET /events/:id
type EventDetailsResponse struct {
	Event      EventDTO      `json:"event"`
	Deliveries []DeliveryDTO `json:"deliveries"`
}

// SubscriptionDTO represents a subscription in API responses. The signing
// secret is only included when it was just created or rotated.
type SubscriptionDTO struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	TargetURL     string            `json:"target_url"`
	EventFilter   string            `json:"event_filter"`
	Status        string            `json:"status"`
	RetryStrategy RetryStrategyDTO  `json:"retry_strategy"`
	TimeoutMs     int64             `json:"timeout_ms"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	SigningSecret string            `json:"signing_secret,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DeliveryDTO represents a delivery in API responses
type DeliveryDTO struct {
	ID                string           `json:"id"`
	EventID           string           `json:"event_id"`
	SubscriptionID    string           `json:"subscription_id"`
	EventType         string           `json:"event_type"`
	TargetURL         string           `json:"target_url"`
	Status            string           `json:"status"`
	AttemptCount      int              `json:"attempt_count"`
	RetryStrategy     RetryStrategyDTO `json:"retry_strategy"`
	NextAttemptAt     time.Time        `json:"next_attempt_at"`
	LastAttemptAt     *time.Time       `json:"last_attempt_at,omitempty"`
	LastErrorCategory string           `json:"last_error_category,omitempty"`
	LastErrorCode     string           `json:"last_error_code,omitempty"`
	LastErrorMessage  string           `json:"last_error_message,omitempty"`
	ResponseCode      *int64           `json:"response_code,omitempty"`
	DeadLetterReason  string           `json:"dead_letter_reason,omitempty"`
	DeadLetteredAt    *time.Time       `json:"dead_lettered_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	ReplayCount       int              `json:"replay_count"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// AttemptDTO represents one recorded delivery attempt
type AttemptDTO struct {
	AttemptNumber int       `json:"attempt_number"`
	WorkerID      string    `json:"worker_id"`
	Outcome       string    `json:"outcome"`
	StatusCode    *int64    `json:"status_code,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// DeliveryDetailsResponse is returned for GET /deliveries/:id
type DeliveryDetailsResponse struct {
	Delivery DeliveryDTO  `json:"delivery"`
	Attempts []AttemptDTO `json:"attempts"`
}

// ReplayItemDTO is one item of a batch replay result
type ReplayItemDTO struct {
	ID       string       `json:"id"`
	Delivery *DeliveryDTO `json:"delivery,omitempty"`
	Error    string       `json:"error,omitempty"`
	Code     string       `json:"code,omitempty"`
}

// DLQStatsDTO is returned for GET /dlq/stats
type DLQStatsDTO struct {
	Total           int            `json:"total"`
	BySubscription  map[string]int `json:"by_subscription"`
	ByErrorCategory map[string]int `json:"by_error_category"`
	ByReason        map[string]int `json:"by_reason"`
	Oldest          *time.Time     `json:"oldest,omitempty"`
	Newest          *time.Time     `json:"newest,omitempty"`
}

// FromEvent converts a domain event to EventDTO
func FromEvent(e model.Event) EventDTO {
	return EventDTO{
		ID:             e.ID,
		Source:         e.Source,
		EventType:      e.EventType,
		IdempotencyKey: e.IdempotencyKey.String,
		Payload:        json.RawMessage(e.Payload),
		Status:         string(e.Status),
		DeliveryCount:  e.DeliveryCount,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// FromEventSlice converts a slice of domain events to EventDTO slice
func FromEventSlice(events []model.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = FromEvent(e)
	}
	return dtos
}

// FromSubscription converts a domain subscription to SubscriptionDTO without its secret
func FromSubscription(s model.Subscription) SubscriptionDTO {
	var headers map[string]string
	if len(s.CustomHeaders) > 0 {
		headers = make(map[string]string, len(s.CustomHeaders))
		for k, v := range s.CustomHeaders {
			headers[k] = v
		}
	}
	return SubscriptionDTO{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		TargetURL:     s.TargetURL,
		EventFilter:   s.EventFilter,
		Status:        string(s.Status),
		RetryStrategy: fromStrategy(s.RetryStrategy()),
		TimeoutMs:     s.TimeoutMs,
		CustomHeaders: headers,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// withSecret converts s including its signing secret
func withSecret(s model.Subscription) SubscriptionDTO {
	dto := FromSubscription(s)
	dto.SigningSecret = s.SigningSecret
	return dto
}

// FromSubscriptionSlice converts a slice of domain subscriptions to SubscriptionDTO slice
func FromSubscriptionSlice(subs []model.Subscription) []SubscriptionDTO {
	dtos := make([]SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = FromSubscription(s)
	}
	return dtos
}

// FromDelivery converts a domain delivery to DeliveryDTO
func FromDelivery(d model.Delivery) DeliveryDTO {
	return DeliveryDTO{
		ID:                d.ID,
		EventID:           d.EventID,
		SubscriptionID:    d.SubscriptionID,
		EventType:         d.EventType,
		TargetURL:         d.TargetURL,
		Status:            string(d.Status),
		AttemptCount:      d.AttemptCount,
		RetryStrategy:     fromStrategy(d.RetryStrategy()),
		NextAttemptAt:     d.NextAttemptAt,
		LastAttemptAt:     timePtr(d.LastAttemptAt),
		LastErrorCategory: d.LastErrorCategory.String,
		LastErrorCode:     d.LastErrorCode.String,
		LastErrorMessage:  d.LastErrorMessage.String,
		ResponseCode:      intPtr(d.ResponseCode),
		DeadLetterReason:  d.DeadLetterReason.String,
		DeadLetteredAt:    timePtr(d.DeadLetteredAt),
		CompletedAt:       timePtr(d.CompletedAt),
		ReplayCount:       d.ReplayCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// FromDeliverySlice converts a slice of domain deliveries to DeliveryDTO slice
func FromDeliverySlice(deliveries []model.Delivery) []DeliveryDTO {
	dtos := make([]DeliveryDTO, len(deliveries))
	for i, d := range deliveries {
		dtos[i] = FromDelivery(d)
	}
	return dtos
}

// FromAttempt converts a domain attempt to AttemptDTO
func FromAttempt(a model.Attempt) AttemptDTO {
	return AttemptDTO{
		AttemptNumber: a.AttemptNumber,
		WorkerID:      a.WorkerID,
		Outcome:       string(a.Outcome),
		StatusCode:    intPtr(a.StatusCode),
		ErrorCode:     a.ErrorCode.String,
		ErrorMessage:  a.ErrorMessage.String,
		ResponseBody:  a.ResponseBody.String,
		DurationMs:    a.DurationMs,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
	}
}

// FromDLQStats converts aggregate DLQ stats to DLQStatsDTO
func FromDLQStats(s model.DLQStats) DLQStatsDTO {
	return DLQStatsDTO{
		Total:           s.Total,
		BySubscription:  s.BySubscription,
		ByErrorCategory: s.ByErrorCategory,
		ByReason:        s.ByReason,
		Oldest:          s.Oldest,
		Newest:          s.Newest,
	}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
