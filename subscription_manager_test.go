package hookrelay

import (
	"context"
	"strings"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/hookrelay/model"
	"github.com/coregx/hookrelay/retry"
)

func newTestSubscriptionManager(t *testing.T, store *memStore, notifier NotificationService) *SubscriptionManager {
	t.Helper()
	sm, err := NewSubscriptionManager(
		WithSubscriptionManagerRepository(store.subscriptionRepo()),
		WithSubscriptionManagerLogger(&NoopLogger{}),
		WithSubscriptionManagerNotifications(notifier),
		WithSubscriptionManagerClock(newFixedClock(t0).Now),
	)
	require.NoError(t, err)
	return sm
}

func createRequest() CreateSubscriptionRequest {
	return CreateSubscriptionRequest{
		Name:        "Billing",
		TargetURL:   "https://billing.example.com/webhooks",
		EventFilter: "invoice.*",
	}
}

func TestCreateSubscriptionRequest_Validate(t *testing.T) {
	badStrategy := retry.Strategy{MaxAttempts: 0, BaseBackoff: time.Second, MaxBackoff: time.Minute}

	tests := []struct {
		name      string
		mutate    func(r *CreateSubscriptionRequest)
		wantField string
	}{
		{name: "missing name", mutate: func(r *CreateSubscriptionRequest) { r.Name = "" }, wantField: "name"},
		{name: "missing url", mutate: func(r *CreateSubscriptionRequest) { r.TargetURL = "" }, wantField: "target_url"},
		{name: "non-http url", mutate: func(r *CreateSubscriptionRequest) { r.TargetURL = "ftp://example.com/x" }, wantField: "target_url"},
		{name: "missing filter", mutate: func(r *CreateSubscriptionRequest) { r.EventFilter = "" }, wantField: "event_filter"},
		{name: "wildcard in the middle", mutate: func(r *CreateSubscriptionRequest) { r.EventFilter = "invoice.*.paid" }, wantField: "event_filter"},
		{name: "timeout too long", mutate: func(r *CreateSubscriptionRequest) { r.Timeout = MaxCallTimeout + time.Second }, wantField: "timeout"},
		{name: "reserved header", mutate: func(r *CreateSubscriptionRequest) {
			r.CustomHeaders = map[string]string{"x-webhook-signature": "forged"}
		}, wantField: "custom_headers"},
		{name: "invalid strategy", mutate: func(r *CreateSubscriptionRequest) { r.Strategy = &badStrategy }, wantField: "retry_strategy"},
		{name: "name too long", mutate: func(r *CreateSubscriptionRequest) { r.Name = strings.Repeat("n", MaxFieldLength+1) }, wantField: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest()
			tt.mutate(&req)

			var errs validation.Errors
			require.ErrorAs(t, req.Validate(), &errs)
			assert.Contains(t, errs, tt.wantField)
		})
	}

	assert.NoError(t, createRequest().Validate())
}

func TestSubscriptionManager_Create(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	sm := newTestSubscriptionManager(t, store, notifier)

	req := createRequest()
	req.Timeout = 5 * time.Second
	req.CustomHeaders = map[string]string{"x-tenant": "acme"}

	sub, err := sm.Create(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sub.ID, model.SubscriptionIDPrefix))
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "invoice.*", sub.EventFilter)
	assert.Equal(t, model.PrefixWildcard("invoice."), sub.Filter())
	assert.Equal(t, retry.DefaultStrategy(), sub.RetryStrategy())
	assert.Equal(t, 5*time.Second, sub.Timeout())
	assert.Equal(t, model.Headers{"X-Tenant": "acme"}, sub.CustomHeaders)
	assert.True(t, strings.HasPrefix(sub.SigningSecret, SecretPrefix))
	assert.Len(t, sub.SigningSecret, len(SecretPrefix)+64)
	assert.Equal(t, t0, sub.CreatedAt)

	assert.Contains(t, store.subscriptions, sub.ID)
	assert.Equal(t, []string{sub.ID}, notifier.created)

	t.Run("explicit secret and strategy", func(t *testing.T) {
		strategy := retry.Strategy{MaxAttempts: 3, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
		req := createRequest()
		req.SigningSecret = "whsec_given"
		req.Strategy = &strategy

		sub, err := sm.Create(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "whsec_given", sub.SigningSecret)
		assert.Equal(t, strategy, sub.RetryStrategy())
	})

	t.Run("invalid request", func(t *testing.T) {
		req := createRequest()
		req.TargetURL = "not a url"

		_, err := sm.Create(context.Background(), req)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestSubscriptionManager_Update(t *testing.T) {
	store := newMemStore()
	sm := newTestSubscriptionManager(t, store, &recordingNotifier{})
	ctx := context.Background()

	sub, err := sm.Create(ctx, createRequest())
	require.NoError(t, err)

	newURL := "https://billing.example.com/v2/webhooks"
	newFilter := "invoice.paid"
	strategy := retry.Strategy{MaxAttempts: 2, BaseBackoff: time.Second, MaxBackoff: time.Second}

	updated, err := sm.Update(ctx, sub.ID, UpdateSubscriptionRequest{
		TargetURL:     &newURL,
		EventFilter:   &newFilter,
		Strategy:      &strategy,
		CustomHeaders: map[string]string{"x-version": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, newURL, updated.TargetURL)
	assert.Equal(t, model.Exact("invoice.paid"), updated.Filter())
	assert.Equal(t, strategy, updated.RetryStrategy())
	assert.Equal(t, model.Headers{"X-Version": "2"}, updated.CustomHeaders)
	assert.Equal(t, sub.Name, updated.Name, "fields left nil are unchanged")
	assert.Equal(t, sub.SigningSecret, updated.SigningSecret)

	assert.Equal(t, updated, store.subscriptions[sub.ID])

	bad := "*.paid"
	_, err = sm.Update(ctx, sub.ID, UpdateSubscriptionRequest{EventFilter: &bad})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "invoice.paid", store.subscriptions[sub.ID].EventFilter)

	_, err = sm.Update(ctx, "sub_missing", UpdateSubscriptionRequest{})
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSubscriptionManager_StatusTransitions(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	sm := newTestSubscriptionManager(t, store, notifier)
	ctx := context.Background()

	sub, err := sm.Create(ctx, createRequest())
	require.NoError(t, err)

	paused, err := sm.Pause(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusPaused, paused.Status)

	// Pausing twice is a no-op.
	_, err = sm.Pause(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{sub.ID}, notifier.paused)

	resumed, err := sm.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, resumed.Status)

	// A failing notification does not fail the transition.
	disabled, err := sm.Disable(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusDisabled, disabled.Status)
	assert.Equal(t, []string{sub.ID}, notifier.disabled)

	_, err = sm.Pause(ctx, sub.ID)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, model.SubscriptionStatusDisabled, store.subscriptions[sub.ID].Status)

	resumed, err = sm.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive())

	_, err = sm.Resume(ctx, "sub_missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSubscriptionManager_RotateSecret(t *testing.T) {
	store := newMemStore()
	sm := newTestSubscriptionManager(t, store, &recordingNotifier{})
	ctx := context.Background()

	sub, err := sm.Create(ctx, createRequest())
	require.NoError(t, err)

	rotated, err := sm.RotateSecret(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sub.SigningSecret, rotated.SigningSecret)
	assert.True(t, strings.HasPrefix(rotated.SigningSecret, SecretPrefix))
	assert.Equal(t, rotated.SigningSecret, store.subscriptions[sub.ID].SigningSecret)
}

func TestSubscriptionManager_GetListDelete(t *testing.T) {
	store := newMemStore()
	sm := newTestSubscriptionManager(t, store, &recordingNotifier{})
	ctx := context.Background()

	first, err := sm.Create(ctx, createRequest())
	require.NoError(t, err)
	second, err := sm.Create(ctx, createRequest())
	require.NoError(t, err)
	_, err = sm.Pause(ctx, second.ID)
	require.NoError(t, err)

	got, err := sm.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	all, err := sm.List(ctx, model.SubscriptionQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := sm.List(ctx, model.SubscriptionQuery{Status: model.SubscriptionStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	require.NoError(t, sm.Delete(ctx, first.ID))

	var nf *NotFoundError
	_, err = sm.Get(ctx, first.ID)
	assert.ErrorAs(t, err, &nf)
	assert.ErrorAs(t, sm.Delete(ctx, first.ID), &nf)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, SecretPrefix))
}

func TestNewSubscriptionManager_Validation(t *testing.T) {
	_, err := NewSubscriptionManager(WithSubscriptionManagerLogger(&NoopLogger{}))
	assert.Error(t, err)

	_, err = NewSubscriptionManager(WithSubscriptionManagerRepository(newMemStore().subscriptionRepo()))
	assert.Error(t, err)

	_, err = NewSubscriptionManager(WithSubscriptionManagerNotifications(nil))
	assert.Error(t, err)
}
