package model

import (
	"database/sql"
	"time"

	"github.com/coregx/hookrelay/retry"
)

// DeliveryStatus represents the lifecycle state of a delivery task.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates the delivery waits for next_attempt_at.
	DeliveryStatusPending DeliveryStatus = "pending"

	// DeliveryStatusLeased indicates a worker holds the delivery until lease_expiry.
	DeliveryStatusLeased DeliveryStatus = "leased"

	// DeliveryStatusSucceeded indicates the target accepted the webhook.
	DeliveryStatusSucceeded DeliveryStatus = "succeeded"

	// DeliveryStatusDeadLetter indicates the delivery gave up and waits in the DLQ.
	DeliveryStatusDeadLetter DeliveryStatus = "dead_letter"
)

// ErrorCategory classifies the last failure of a delivery.
type ErrorCategory string

const (
	// ErrorCategoryRetryable covers transport errors, timeouts, 429 and 5xx.
	ErrorCategoryRetryable ErrorCategory = "retryable"

	// ErrorCategoryPermanent covers 4xx rejections and undeliverable tasks.
	ErrorCategoryPermanent ErrorCategory = "permanent"
)

// DeadLetterReason records why a delivery was dead-lettered.
type DeadLetterReason string

const (
	// DeadLetterPermanentFailure means the target rejected the request.
	DeadLetterPermanentFailure DeadLetterReason = "permanent_failure"

	// DeadLetterAttemptsExhausted means every allowed attempt failed.
	DeadLetterAttemptsExhausted DeadLetterReason = "attempts_exhausted"
)

// Delivery is one event on its way to one subscription, and the unit of work of the queue.
//
// Lifecycle:
//  1. Created by fan-out with status=pending, attempt_count=0, next_attempt_at=now
//  2. Leased by a worker → status=leased until lease_expiry
//  3. Outcome: succeeded | pending (retry, attempt_count+1) | dead_letter
//  4. Expired leases return to pending without counting the stalled attempt
//  5. DLQ replay resets attempt_count and returns the row to pending
//
// The retry strategy and target URL are snapshotted at creation so later
// subscription edits do not change a schedule already in progress.
type Delivery struct {
	ID                string         `json:"id" db:"id"`
	EventID           string         `json:"eventId" db:"event_id"`
	SubscriptionID    string         `json:"subscriptionId" db:"subscription_id"`
	EventType         string         `json:"eventType" db:"event_type"`
	TargetURL         string         `json:"targetUrl" db:"target_url"`
	Status            DeliveryStatus `json:"status" db:"status"`
	AttemptCount      int            `json:"attemptCount" db:"attempt_count"`
	MaxAttempts       int            `json:"maxAttempts" db:"max_attempts"`
	BaseBackoffMs     int64          `json:"baseBackoffMs" db:"base_backoff_ms"`
	MaxBackoffMs      int64          `json:"maxBackoffMs" db:"max_backoff_ms"`
	Jitter            bool           `json:"jitter" db:"jitter"`
	LastAttemptAt     sql.NullTime   `json:"lastAttemptAt" db:"last_attempt_at"`
	NextAttemptAt     time.Time      `json:"nextAttemptAt" db:"next_attempt_at"`
	LeaseExpiry       sql.NullTime   `json:"leaseExpiry" db:"lease_expiry"`
	LeasedBy          sql.NullString `json:"leasedBy" db:"leased_by"`
	LeaseToken        sql.NullString `json:"-" db:"lease_token"`
	LastErrorCategory sql.NullString `json:"lastErrorCategory" db:"last_error_category"`
	LastErrorCode     sql.NullString `json:"lastErrorCode" db:"last_error_code"`
	LastErrorMessage  sql.NullString `json:"lastErrorMessage" db:"last_error_message"`
	ResponseCode      sql.NullInt64  `json:"responseCode" db:"response_code"`
	DeadLetterReason  sql.NullString `json:"deadLetterReason" db:"dead_letter_reason"`
	DeadLetteredAt    sql.NullTime   `json:"deadLetteredAt" db:"dead_lettered_at"`
	CompletedAt       sql.NullTime   `json:"completedAt" db:"completed_at"`
	ReplayCount       int            `json:"replayCount" db:"replay_count"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time      `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Delivery.
func (d Delivery) TableName() string {
	return tablePrefix + "deliveries"
}

// NewDelivery creates a pending delivery of event to sub, ready immediately.
func NewDelivery(event Event, sub Subscription, now time.Time) Delivery {
	d := Delivery{
		ID:             NewID(DeliveryIDPrefix),
		EventID:        event.ID,
		SubscriptionID: sub.ID,
		EventType:      event.EventType,
		TargetURL:      sub.TargetURL,
		Status:         DeliveryStatusPending,
		AttemptCount:   0,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.SetRetryStrategy(sub.RetryStrategy())
	return d
}

// RetryStrategy returns the strategy snapshotted on the delivery.
func (d Delivery) RetryStrategy() retry.Strategy {
	return retry.Strategy{
		MaxAttempts: d.MaxAttempts,
		BaseBackoff: time.Duration(d.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(d.MaxBackoffMs) * time.Millisecond,
		Jitter:      d.Jitter,
	}
}

// SetRetryStrategy replaces the snapshotted strategy.
func (d *Delivery) SetRetryStrategy(strategy retry.Strategy) {
	d.MaxAttempts = strategy.MaxAttempts
	d.BaseBackoffMs = strategy.BaseBackoff.Milliseconds()
	d.MaxBackoffMs = strategy.MaxBackoff.Milliseconds()
	d.Jitter = strategy.Jitter
}

// IsTerminal reports whether the delivery reached succeeded or dead_letter.
func (d Delivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSucceeded || d.Status == DeliveryStatusDeadLetter
}

// IsLeaseActive reports whether a worker holds an unexpired lease at now.
func (d Delivery) IsLeaseActive(now time.Time) bool {
	return d.Status == DeliveryStatusLeased && d.LeaseExpiry.Valid && now.Before(d.LeaseExpiry.Time)
}

// IsReady reports whether the delivery can be leased at now.
func (d Delivery) IsReady(now time.Time) bool {
	return d.Status == DeliveryStatusPending && !d.NextAttemptAt.After(now)
}

// Failure describes one failed delivery attempt.
type Failure struct {
	Category   ErrorCategory
	Code       string // e.g. "http_503", "timeout", "connection_error"
	Message    string
	StatusCode int // 0 when no response was received
}

// DeliveryQuery filters delivery listings. Zero values are ignored.
type DeliveryQuery struct {
	EventID        string
	SubscriptionID string
	Status         DeliveryStatus
	Limit          int
}
