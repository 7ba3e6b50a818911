// Package nats publishes hookrelay notifications to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/coregx/hookrelay/model"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "hookrelay"

// Subject suffixes, appended to the prefix.
const (
	SubjectDeadLettered         = "delivery.dead_lettered"
	SubjectDeliveryFailed       = "delivery.failed"
	SubjectSubscriptionCreated  = "subscription.created"
	SubjectSubscriptionPaused   = "subscription.paused"
	SubjectSubscriptionDisabled = "subscription.disabled"
)

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notice is the JSON document published for every notification.
type Notice struct {
	Kind           string    `json:"kind"`
	DeliveryID     string    `json:"delivery_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	SubscriptionID string    `json:"subscription_id"`
	EventType      string    `json:"event_type,omitempty"`
	AttemptCount   int       `json:"attempt_count,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	Status         string    `json:"status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier implements hookrelay.NotificationService over NATS.
type Notifier struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

// NewNotifier creates a notifier publishing under prefix.
func NewNotifier(pub Publisher, prefix string) *Notifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Notifier{pub: pub, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Connect dials url and returns the connection for use with NewNotifier.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func (n *Notifier) publish(ctx context.Context, suffix string, notice Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	notice.Kind = suffix
	notice.OccurredAt = n.now()

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	return n.pub.Publish(n.prefix+"."+suffix, data)
}

func deliveryNotice(d model.Delivery, err error) Notice {
	notice := Notice{
		DeliveryID:     d.ID,
		EventID:        d.EventID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		AttemptCount:   d.AttemptCount,
	}
	if err != nil {
		notice.Error = err.Error()
	}
	return notice
}

func subscriptionNotice(s model.Subscription) Notice {
	return Notice{SubscriptionID: s.ID, Status: string(s.Status)}
}

// NotifyDeadLettered publishes to <prefix>.delivery.dead_lettered.
func (n *Notifier) NotifyDeadLettered(ctx context.Context, d model.Delivery, reason model.DeadLetterReason, err error) error {
	notice := deliveryNotice(d, err)
	notice.Reason = string(reason)
	return n.publish(ctx, SubjectDeadLettered, notice)
}

// NotifyDeliveryFailure publishes to <prefix>.delivery.failed.
func (n *Notifier) NotifyDeliveryFailure(ctx context.Context, d model.Delivery, err error) error {
	return n.publish(ctx, SubjectDeliveryFailed, deliveryNotice(d, err))
}

// NotifySubscriptionCreated publishes to <prefix>.subscription.created.
func (n *Notifier) NotifySubscriptionCreated(ctx context.Context, s model.Subscription) error {
	return n.publish(ctx, SubjectSubscriptionCreated, subscriptionNotice(s))
}

// NotifySubscriptionPaused publishes to <prefix>.subscription.paused.
func (n *Notifier) NotifySubscriptionPaused(ctx context.Context, s model.Subscription) error {
	return n.publish(ctx, SubjectSubscriptionPaused, subscriptionNotice(s))
}

// NotifySubscriptionDisabled publishes to <prefix>.subscription.disabled.
func (n *Notifier) NotifySubscriptionDisabled(ctx context.Context, s model.Subscription) error {
	return n.publish(ctx, SubjectSubscriptionDisabled, subscriptionNotice(s))
}
