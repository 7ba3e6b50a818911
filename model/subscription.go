package model

import (
	"time"

	"github.com/coregx/hookrelay/retry"
)

// SubscriptionStatus represents whether a subscription receives new deliveries.
type SubscriptionStatus string

const (
	// SubscriptionStatusActive subscriptions are matched by fan-out.
	SubscriptionStatusActive SubscriptionStatus = "active"

	// SubscriptionStatusPaused subscriptions are skipped by fan-out until resumed.
	SubscriptionStatusPaused SubscriptionStatus = "paused"

	// SubscriptionStatusDisabled subscriptions were switched off by an operator.
	SubscriptionStatusDisabled SubscriptionStatus = "disabled"
)

// Subscription errors.
var (
	ErrSubscriptionDisabled = DomainError{Code: "SUBSCRIPTION_DISABLED", Message: "subscription is disabled"}
)

// Subscription is a webhook target registered for a set of event types.
//
// Each subscription:
//   - Filters events by type (exact or dot-prefix wildcard)
//   - Carries its own retry strategy
//   - Signs every delivery with its secret
//
// Edits apply to deliveries created afterwards. Deliveries already queued keep the
// target URL and retry strategy they were created with.
type Subscription struct {
	ID            string             `json:"id" db:"id"`
	Name          string             `json:"name" db:"name"`
	Description   string             `json:"description" db:"description"`
	TargetURL     string             `json:"targetUrl" db:"target_url"`
	EventFilter   string             `json:"eventFilter" db:"event_filter"`
	FilterKind    FilterKind         `json:"filterKind" db:"filter_kind"`
	FilterValue   string             `json:"-" db:"filter_value"`
	Status        SubscriptionStatus `json:"status" db:"status"`
	MaxAttempts   int                `json:"maxAttempts" db:"max_attempts"`
	BaseBackoffMs int64              `json:"baseBackoffMs" db:"base_backoff_ms"`
	MaxBackoffMs  int64              `json:"maxBackoffMs" db:"max_backoff_ms"`
	Jitter        bool               `json:"jitter" db:"jitter"`
	TimeoutMs     int64              `json:"timeoutMs" db:"timeout_ms"`
	SigningSecret string             `json:"-" db:"signing_secret"`
	CustomHeaders Headers            `json:"customHeaders" db:"custom_headers"`
	CreatedAt     time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time          `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (s Subscription) TableName() string {
	return tablePrefix + "subscriptions"
}

// NewSubscription creates an active subscription.
func NewSubscription(name, targetURL string, filter EventFilter, strategy retry.Strategy, secret string, now time.Time) Subscription {
	s := Subscription{
		ID:            NewID(SubscriptionIDPrefix),
		Name:          name,
		TargetURL:     targetURL,
		Status:        SubscriptionStatusActive,
		SigningSecret: secret,
		CustomHeaders: Headers{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.SetFilter(filter)
	s.SetRetryStrategy(strategy)
	return s
}

// Filter returns the resolved event filter.
func (s Subscription) Filter() EventFilter {
	return EventFilter{Kind: s.FilterKind, Value: s.FilterValue}
}

// SetFilter stores the resolved filter and its pattern form.
func (s *Subscription) SetFilter(f EventFilter) {
	s.FilterKind = f.Kind
	s.FilterValue = f.Value
	s.EventFilter = f.String()
}

// IsActive reports whether fan-out should consider the subscription.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// Matches reports whether an event of eventType should be delivered to this subscription.
func (s Subscription) Matches(eventType string) bool {
	return s.IsActive() && s.Filter().Matches(eventType)
}

// RetryStrategy returns the subscription's current retry strategy.
func (s Subscription) RetryStrategy() retry.Strategy {
	return retry.Strategy{
		MaxAttempts: s.MaxAttempts,
		BaseBackoff: time.Duration(s.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(s.MaxBackoffMs) * time.Millisecond,
		Jitter:      s.Jitter,
	}
}

// SetRetryStrategy replaces the retry strategy.
func (s *Subscription) SetRetryStrategy(strategy retry.Strategy) {
	s.MaxAttempts = strategy.MaxAttempts
	s.BaseBackoffMs = strategy.BaseBackoff.Milliseconds()
	s.MaxBackoffMs = strategy.MaxBackoff.Milliseconds()
	s.Jitter = strategy.Jitter
}

// Timeout returns the per-call timeout, or zero to use the pool default.
func (s Subscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Pause stops new fan-outs to the subscription.
func (s *Subscription) Pause(now time.Time) error {
	if s.Status == SubscriptionStatusDisabled {
		return ErrSubscriptionDisabled
	}
	s.Status = SubscriptionStatusPaused
	s.UpdatedAt = now
	return nil
}

// Resume re-activates a paused or disabled subscription.
func (s *Subscription) Resume(now time.Time) {
	s.Status = SubscriptionStatusActive
	s.UpdatedAt = now
}

// Disable switches the subscription off.
func (s *Subscription) Disable(now time.Time) {
	s.Status = SubscriptionStatusDisabled
	s.UpdatedAt = now
}

// RotateSecret replaces the signing secret.
func (s *Subscription) RotateSecret(secret string, now time.Time) {
	s.SigningSecret = secret
	s.UpdatedAt = now
}

// SubscriptionQuery filters subscription listings. Zero values are ignored.
type SubscriptionQuery struct {
	Status SubscriptionStatus
	Limit  int
}
