package hookrelay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/coregx/hookrelay/model"
	"github.com/coregx/hookrelay/retry"
)

// SecretPrefix prefixes generated signing secrets.
const SecretPrefix = "whsec_"

// MaxCallTimeout bounds the per-subscription call timeout.
const MaxCallTimeout = 5 * time.Minute

// reservedHeaders are set by the delivery transport and cannot be overridden.
var reservedHeaders = []string{
	"Content-Type",
	"User-Agent",
	"X-Webhook-Id",
	"X-Webhook-Event",
	"X-Webhook-Timestamp",
	"X-Webhook-Signature",
}

// SubscriptionManager handles the lifecycle of webhook subscriptions.
//
// Key operations:
//   - Create: Register a target with an event filter and retry strategy
//   - Update: Change any field; only deliveries created afterwards see the change
//   - Pause / Resume / Disable: Stop or restart fan-out to the target
//   - RotateSecret: Issue a new signing secret
//   - Delete: Remove the subscription; queued deliveries are dead-lettered by workers
//
// Thread safety: Safe for concurrent use.
type SubscriptionManager struct {
	subscriptionRepo    SubscriptionRepository
	logger              Logger
	notificationService NotificationService
	clock               Clock
}

// SubscriptionManagerOption is a function that configures a SubscriptionManager.
// Used with the Options Pattern for flexible service construction.
type SubscriptionManagerOption func(*SubscriptionManager) error

// NewSubscriptionManager creates a new SubscriptionManager with the provided options.
//
// Required options:
//   - WithSubscriptionManagerRepository: subscription repository
//   - WithSubscriptionManagerLogger: logger instance
//
// Example:
//
//	manager, err := hookrelay.NewSubscriptionManager(
//	    hookrelay.WithSubscriptionManagerRepository(repos.Subscriptions),
//	    hookrelay.WithSubscriptionManagerLogger(logger),
//	)
func NewSubscriptionManager(opts ...SubscriptionManagerOption) (*SubscriptionManager, error) {
	sm := &SubscriptionManager{
		notificationService: &NoOpNotificationService{},
		clock:               SystemClock,
	}

	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply subscription manager option", err)
		}
	}

	if sm.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required")
	}
	if sm.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required")
	}

	return sm, nil
}

// WithSubscriptionManagerRepository sets the required subscription repository.
//
// This is a required option for NewSubscriptionManager.
func WithSubscriptionManagerRepository(subscriptionRepo SubscriptionRepository) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		sm.subscriptionRepo = subscriptionRepo
		return nil
	}
}

// WithSubscriptionManagerLogger sets the logger instance for the subscription manager.
// Logger is required and must not be nil.
//
// This is a required option for NewSubscriptionManager.
func WithSubscriptionManagerLogger(logger Logger) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		sm.logger = logger
		return nil
	}
}

// WithSubscriptionManagerNotifications sets the notification service.
func WithSubscriptionManagerNotifications(service NotificationService) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		sm.notificationService = service
		return nil
	}
}

// WithSubscriptionManagerClock overrides the time source.
func WithSubscriptionManagerClock(clock Clock) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		sm.clock = clock
		return nil
	}
}

// CreateSubscriptionRequest represents a request to create a new subscription.
// Name, TargetURL and EventFilter are required.
type CreateSubscriptionRequest struct {
	Name          string            // Display name (required)
	Description   string            // Free text
	TargetURL     string            // http(s) endpoint receiving POSTs (required)
	EventFilter   string            // "user.created", "user.*" or "*" (required)
	Strategy      *retry.Strategy   // nil = retry.DefaultStrategy()
	Timeout       time.Duration     // 0 = worker pool default
	CustomHeaders map[string]string // Extra request headers
	SigningSecret string            // Empty = generated
}

// Validate checks the request shape.
func (r CreateSubscriptionRequest) Validate() error {
	errs := validation.Errors{
		"name":           validation.Validate(r.Name, validation.Required, validation.RuneLength(1, MaxFieldLength)),
		"description":    validation.Validate(r.Description, validation.RuneLength(0, 1000)),
		"target_url":     validation.Validate(r.TargetURL, validation.Required, is.URL, validation.By(httpURLRule)),
		"event_filter":   validation.Validate(r.EventFilter, validation.Required, validation.By(eventFilterRule)),
		"timeout":        validation.Validate(r.Timeout, validation.Min(time.Duration(0)), validation.Max(MaxCallTimeout)),
		"custom_headers": validation.Validate(r.CustomHeaders, validation.By(customHeadersRule)),
	}
	if r.Strategy != nil {
		errs["retry_strategy"] = r.Strategy.Validate()
	}
	return errs.Filter()
}

// UpdateSubscriptionRequest represents a partial update. Nil fields are left unchanged.
type UpdateSubscriptionRequest struct {
	Name          *string
	Description   *string
	TargetURL     *string
	EventFilter   *string
	Strategy      *retry.Strategy
	Timeout       *time.Duration
	CustomHeaders map[string]string
}

func httpURLRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func eventFilterRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := model.ParseEventFilter(s); err != nil {
		return err
	}
	return nil
}

func customHeadersRule(value interface{}) error {
	var headers map[string]string
	switch v := value.(type) {
	case map[string]string:
		headers = v
	case model.Headers:
		headers = v
	}
	for name := range headers {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if canonical == "" {
			return errors.New("header names cannot be blank")
		}
		for _, reserved := range reservedHeaders {
			if strings.EqualFold(canonical, reserved) {
				return fmt.Errorf("header %q is set by the delivery transport", reserved)
			}
		}
	}
	return nil
}

// GenerateSecret returns a new random signing secret such as "whsec_3f1c...".
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

// Create registers a new active subscription.
func (sm *SubscriptionManager) Create(ctx context.Context, req CreateSubscriptionRequest) (model.Subscription, error) {
	if err := req.Validate(); err != nil {
		return model.Subscription{}, NewValidationError(err)
	}

	filter, _ := model.ParseEventFilter(req.EventFilter)

	strategy := retry.DefaultStrategy()
	if req.Strategy != nil {
		strategy = *req.Strategy
	}

	secret := req.SigningSecret
	if secret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return model.Subscription{}, NewErrorWithCause(ErrCodeConfiguration, "failed to create subscription", err)
		}
		secret = generated
	}

	sub := model.NewSubscription(strings.TrimSpace(req.Name), req.TargetURL, filter, strategy, secret, sm.clock())
	sub.Description = req.Description
	sub.TimeoutMs = req.Timeout.Milliseconds()
	for k, v := range req.CustomHeaders {
		sub.CustomHeaders[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
	}

	if err := sm.subscriptionRepo.Insert(ctx, &sub); err != nil {
		return model.Subscription{}, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}

	sm.logger.Infof("Subscription created: id=%s, name=%s, filter=%s, target=%s",
		sub.ID, sub.Name, sub.EventFilter, sub.TargetURL)

	if err := sm.notificationService.NotifySubscriptionCreated(ctx, sub); err != nil {
		sm.logger.Warnf("Failed to send subscription created notification: %v", err)
	}

	return sub, nil
}

// Get retrieves a subscription by ID.
func (sm *SubscriptionManager) Get(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := sm.subscriptionRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return model.Subscription{}, &NotFoundError{Resource: "subscription", ID: id}
		}
		return model.Subscription{}, NewErrorWithCause(ErrCodeDatabase, "failed to load subscription", err)
	}
	return sub, nil
}

// List returns subscriptions matching the query, oldest first.
// Returns empty slice if none found (not an error).
func (sm *SubscriptionManager) List(ctx context.Context, q model.SubscriptionQuery) ([]model.Subscription, error) {
	q.Limit = clampLimit(q.Limit)

	subs, err := sm.subscriptionRepo.List(ctx, q)
	if err != nil {
		if IsNoData(err) {
			return []model.Subscription{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list subscriptions", err)
	}
	return subs, nil
}

// Update applies a partial update. Deliveries already queued keep the target URL
// and retry strategy they were created with.
func (sm *SubscriptionManager) Update(ctx context.Context, id string, req UpdateSubscriptionRequest) (model.Subscription, error) {
	sub, err := sm.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}

	// Validate the resulting subscription as a whole.
	merged := CreateSubscriptionRequest{
		Name:          sub.Name,
		Description:   sub.Description,
		TargetURL:     sub.TargetURL,
		EventFilter:   sub.EventFilter,
		Timeout:       sub.Timeout(),
		CustomHeaders: sub.CustomHeaders,
		SigningSecret: sub.SigningSecret,
	}
	strategy := sub.RetryStrategy()
	merged.Strategy = &strategy

	if req.Name != nil {
		merged.Name = *req.Name
	}
	if req.Description != nil {
		merged.Description = *req.Description
	}
	if req.TargetURL != nil {
		merged.TargetURL = *req.TargetURL
	}
	if req.EventFilter != nil {
		merged.EventFilter = *req.EventFilter
	}
	if req.Strategy != nil {
		merged.Strategy = req.Strategy
	}
	if req.Timeout != nil {
		merged.Timeout = *req.Timeout
	}
	if req.CustomHeaders != nil {
		merged.CustomHeaders = req.CustomHeaders
	}

	if err := merged.Validate(); err != nil {
		return model.Subscription{}, NewValidationError(err)
	}

	filter, _ := model.ParseEventFilter(merged.EventFilter)
	sub.Name = strings.TrimSpace(merged.Name)
	sub.Description = merged.Description
	sub.TargetURL = merged.TargetURL
	sub.SetFilter(filter)
	sub.SetRetryStrategy(*merged.Strategy)
	sub.TimeoutMs = merged.Timeout.Milliseconds()
	if req.CustomHeaders != nil {
		sub.CustomHeaders = model.Headers{}
		for k, v := range req.CustomHeaders {
			sub.CustomHeaders[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
		}
	}
	sub.UpdatedAt = sm.clock()

	if err := sm.save(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}

	sm.logger.Infof("Subscription updated: id=%s", sub.ID)
	return sub, nil
}

// Delete removes a subscription. Its pending deliveries are dead-lettered with
// subscription_not_found when workers pick them up.
func (sm *SubscriptionManager) Delete(ctx context.Context, id string) error {
	if err := sm.subscriptionRepo.Delete(ctx, id); err != nil {
		if IsNoData(err) {
			return &NotFoundError{Resource: "subscription", ID: id}
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to delete subscription", err)
	}

	sm.logger.Infof("Subscription deleted: id=%s", id)
	return nil
}

// Pause stops fan-out to the subscription. Deliveries already queued still run.
// Pausing a paused subscription is a no-op; pausing a disabled one fails.
func (sm *SubscriptionManager) Pause(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := sm.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}

	if sub.Status == model.SubscriptionStatusPaused {
		sm.logger.Warnf("Subscription already paused: id=%s", id)
		return sub, nil
	}

	if err := sub.Pause(sm.clock()); err != nil {
		return model.Subscription{}, NewValidationError(validation.Errors{"status": err})
	}
	if err := sm.save(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}

	sm.logger.Infof("Subscription paused: id=%s", id)
	if err := sm.notificationService.NotifySubscriptionPaused(ctx, sub); err != nil {
		sm.logger.Warnf("Failed to send subscription paused notification: %v", err)
	}
	return sub, nil
}

// Resume re-activates a paused or disabled subscription.
// Events accepted while it was inactive are not delivered retroactively.
func (sm *SubscriptionManager) Resume(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := sm.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}

	if sub.IsActive() {
		sm.logger.Warnf("Subscription already active: id=%s", id)
		return sub, nil
	}

	sub.Resume(sm.clock())
	if err := sm.save(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}

	sm.logger.Infof("Subscription resumed: id=%s", id)
	return sub, nil
}

// Disable switches the subscription off until it is resumed.
func (sm *SubscriptionManager) Disable(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := sm.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}

	if sub.Status == model.SubscriptionStatusDisabled {
		return sub, nil
	}

	sub.Disable(sm.clock())
	if err := sm.save(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}

	sm.logger.Infof("Subscription disabled: id=%s", id)
	if err := sm.notificationService.NotifySubscriptionDisabled(ctx, sub); err != nil {
		sm.logger.Warnf("Failed to send subscription disabled notification: %v", err)
	}
	return sub, nil
}

// RotateSecret issues a new signing secret. The next attempt of every queued
// delivery is signed with it.
func (sm *SubscriptionManager) RotateSecret(ctx context.Context, id string) (model.Subscription, error) {
	sub, err := sm.Get(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return model.Subscription{}, NewErrorWithCause(ErrCodeConfiguration, "failed to rotate secret", err)
	}

	sub.RotateSecret(secret, sm.clock())
	if err := sm.save(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}

	sm.logger.Infof("Subscription secret rotated: id=%s", id)
	return sub, nil
}

func (sm *SubscriptionManager) save(ctx context.Context, sub *model.Subscription) error {
	if err := sm.subscriptionRepo.Update(ctx, sub); err != nil {
		if IsNoData(err) {
			return &NotFoundError{Resource: "subscription", ID: sub.ID}
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}
	return nil
}
