package hookrelay

import (
	"context"

	"github.com/coregx/hookrelay/model"
)

// NotificationService defines an optional interface for sending notifications
// about pipeline events (dead letters, failed attempts, subscription changes).
//
// Implementations might publish to a message bus, page an operator, or log to monitoring systems.
// Errors are logged by the caller and never affect delivery state.
type NotificationService interface {
	// NotifyDeadLettered is called after a delivery was moved to the dead-letter queue.
	NotifyDeadLettered(ctx context.Context, d model.Delivery, reason model.DeadLetterReason, err error) error

	// NotifyDeliveryFailure is called after a failed attempt that will be retried.
	NotifyDeliveryFailure(ctx context.Context, d model.Delivery, err error) error

	// NotifySubscriptionCreated is called when a new subscription is created.
	NotifySubscriptionCreated(ctx context.Context, s model.Subscription) error

	// NotifySubscriptionPaused is called when a subscription is paused.
	NotifySubscriptionPaused(ctx context.Context, s model.Subscription) error

	// NotifySubscriptionDisabled is called when a subscription is disabled.
	NotifySubscriptionDisabled(ctx context.Context, s model.Subscription) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyDeadLettered does nothing.
func (n *NoOpNotificationService) NotifyDeadLettered(_ context.Context, _ model.Delivery, _ model.DeadLetterReason, _ error) error {
	return nil
}

// NotifyDeliveryFailure does nothing.
func (n *NoOpNotificationService) NotifyDeliveryFailure(_ context.Context, _ model.Delivery, _ error) error {
	return nil
}

// NotifySubscriptionCreated does nothing.
func (n *NoOpNotificationService) NotifySubscriptionCreated(_ context.Context, _ model.Subscription) error {
	return nil
}

// NotifySubscriptionPaused does nothing.
func (n *NoOpNotificationService) NotifySubscriptionPaused(_ context.Context, _ model.Subscription) error {
	return nil
}

// NotifySubscriptionDisabled does nothing.
func (n *NoOpNotificationService) NotifySubscriptionDisabled(_ context.Context, _ model.Subscription) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyDeadLettered logs the dead letter.
func (n *LoggingNotificationService) NotifyDeadLettered(_ context.Context, d model.Delivery, reason model.DeadLetterReason, err error) error {
	n.logger.Warnf("Delivery dead-lettered: delivery_id=%s, event_id=%s, subscription_id=%s, reason=%s, error=%v",
		d.ID, d.EventID, d.SubscriptionID, reason, err)
	return nil
}

// NotifyDeliveryFailure logs the failed attempt.
func (n *LoggingNotificationService) NotifyDeliveryFailure(_ context.Context, d model.Delivery, err error) error {
	n.logger.Warnf("Delivery failed: delivery_id=%s, event_id=%s, attempt=%d, error=%v",
		d.ID, d.EventID, d.AttemptCount+1, err)
	return nil
}

// NotifySubscriptionCreated logs subscription creation.
func (n *LoggingNotificationService) NotifySubscriptionCreated(_ context.Context, s model.Subscription) error {
	n.logger.Infof("Subscription created: id=%s, name=%s, filter=%s, target=%s",
		s.ID, s.Name, s.EventFilter, s.TargetURL)
	return nil
}

// NotifySubscriptionPaused logs the pause.
func (n *LoggingNotificationService) NotifySubscriptionPaused(_ context.Context, s model.Subscription) error {
	n.logger.Infof("Subscription paused: id=%s, name=%s", s.ID, s.Name)
	return nil
}

// NotifySubscriptionDisabled logs the disable.
func (n *LoggingNotificationService) NotifySubscriptionDisabled(_ context.Context, s model.Subscription) error {
	n.logger.Infof("Subscription disabled: id=%s, name=%s", s.ID, s.Name)
	return nil
}
