package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
	"github.com/coregx/hookrelay/retry"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

var _ hookrelay.NotificationService = (*Notifier)(nil)

func newTestNotifier(pub Publisher) *Notifier {
	n := NewNotifier(pub, "test")
	n.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func testDelivery() model.Delivery {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	event := model.NewEvent("billing", "", "invoice.paid", []byte(`{}`), now)
	sub := model.NewSubscription("billing", "https://example.com/hook", model.Exact("invoice.paid"), retry.DefaultStrategy(), "whsec_x", now)
	d := model.NewDelivery(event, sub, now)
	d.AttemptCount = 3
	return d
}

func TestNotifier_NotifyDeadLettered(t *testing.T) {
	pub := &fakePublisher{}
	n := newTestNotifier(pub)
	d := testDelivery()

	err := n.NotifyDeadLettered(context.Background(), d, model.DeadLetterAttemptsExhausted, errors.New("http_503"))
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "test.delivery.dead_lettered", pub.msgs[0].subject)

	var notice Notice
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &notice))
	assert.Equal(t, SubjectDeadLettered, notice.Kind)
	assert.Equal(t, d.ID, notice.DeliveryID)
	assert.Equal(t, d.EventID, notice.EventID)
	assert.Equal(t, d.SubscriptionID, notice.SubscriptionID)
	assert.Equal(t, "invoice.paid", notice.EventType)
	assert.Equal(t, 3, notice.AttemptCount)
	assert.Equal(t, "attempts_exhausted", notice.Reason)
	assert.Equal(t, "http_503", notice.Error)
}

func TestNotifier_Subjects(t *testing.T) {
	d := testDelivery()
	sub := model.Subscription{ID: "sub_1", Status: model.SubscriptionStatusPaused}

	tests := []struct {
		name    string
		notify  func(n *Notifier) error
		subject string
	}{
		{
			name:    "delivery failure",
			notify:  func(n *Notifier) error { return n.NotifyDeliveryFailure(context.Background(), d, errors.New("timeout")) },
			subject: "test.delivery.failed",
		},
		{
			name:    "subscription created",
			notify:  func(n *Notifier) error { return n.NotifySubscriptionCreated(context.Background(), sub) },
			subject: "test.subscription.created",
		},
		{
			name:    "subscription paused",
			notify:  func(n *Notifier) error { return n.NotifySubscriptionPaused(context.Background(), sub) },
			subject: "test.subscription.paused",
		},
		{
			name:    "subscription disabled",
			notify:  func(n *Notifier) error { return n.NotifySubscriptionDisabled(context.Background(), sub) },
			subject: "test.subscription.disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			require.NoError(t, tt.notify(newTestNotifier(pub)))
			require.Len(t, pub.msgs, 1)
			assert.Equal(t, tt.subject, pub.msgs[0].subject)
		})
	}
}

func TestNotifier_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n := newTestNotifier(pub)

	err := n.NotifyDeliveryFailure(context.Background(), testDelivery(), nil)
	assert.EqualError(t, err, "nats: connection closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.NotifySubscriptionCreated(ctx, model.Subscription{}), context.Canceled)
}

func TestNewNotifier_DefaultPrefix(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "")

	require.NoError(t, n.NotifySubscriptionCreated(context.Background(), model.Subscription{ID: "sub_1"}))
	assert.Equal(t, "hookrelay.subscription.created", pub.msgs[0].subject)
}
