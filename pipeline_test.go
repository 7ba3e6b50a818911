package hookrelay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/hookrelay/model"
	"github.com/coregx/hookrelay/retry"
)

// pipeline wires every service over one in-memory store and clock.
type pipeline struct {
	clock         *fixedClock
	subscriptions *SubscriptionManager
	ingestor      *Ingestor
	pool          *WorkerPool
}

func newPipeline(t *testing.T, gateway DeliveryGateway) *pipeline {
	t.Helper()

	store := newMemStore()
	clock := newFixedClock(t0)

	subscriptions, err := NewSubscriptionManager(
		WithSubscriptionManagerRepository(store.subscriptionRepo()),
		WithSubscriptionManagerLogger(&NoopLogger{}),
		WithSubscriptionManagerClock(clock.Now),
	)
	require.NoError(t, err)

	matcher, err := NewMatcher(
		WithMatcherRepositories(store.eventRepo(), store.queue()),
		WithMatcherLogger(&NoopLogger{}),
		WithMatcherClock(clock.Now),
	)
	require.NoError(t, err)

	ingestor, err := NewIngestor(
		WithIngestorRepositories(store.eventRepo(), store.queue()),
		WithIngestorLogger(&NoopLogger{}),
		WithIngestorClock(clock.Now),
		WithDispatcher(matcher),
	)
	require.NoError(t, err)

	pool, err := NewWorkerPool(
		WithRepositories(store.queue(), store.eventRepo(), store.subscriptionRepo()),
		WithGateway(gateway),
		WithLogger(&NoopLogger{}),
		WithClock(clock.Now),
		WithMatcher(matcher),
	)
	require.NoError(t, err)

	return &pipeline{clock: clock, subscriptions: subscriptions, ingestor: ingestor, pool: pool}
}

func TestPipeline_UserCreatedScenarios(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantStatus   model.DeliveryStatus
		wantCount    int
		wantCategory model.ErrorCategory
		wantAttempts int
	}{
		{
			name:         "two 503s then 200",
			statuses:     []int{503, 503, 200},
			wantStatus:   model.DeliveryStatusSucceeded,
			wantCount:    2,
			wantAttempts: 3,
		},
		{
			name:         "503 on every attempt",
			statuses:     []int{503, 503, 503},
			wantStatus:   model.DeliveryStatusDeadLetter,
			wantCount:    3,
			wantCategory: model.ErrorCategoryRetryable,
			wantAttempts: 3,
		},
		{
			name:         "400 on the first attempt",
			statuses:     []int{400},
			wantStatus:   model.DeliveryStatusDeadLetter,
			wantCount:    0,
			wantCategory: model.ErrorCategoryPermanent,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := replies(tt.statuses...)
			p := newPipeline(t, gw)
			ctx := context.Background()

			_, err := p.subscriptions.Create(ctx, CreateSubscriptionRequest{
				Name:        "users",
				TargetURL:   "https://example.com/users",
				EventFilter: "user.*",
				Strategy:    &retry.Strategy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute},
			})
			require.NoError(t, err)

			res, err := p.ingestor.Submit(ctx, SubmitRequest{
				Source:         "accounts",
				IdempotencyKey: "user-7-created",
				EventType:      "user.created",
				Payload:        json.RawMessage(`{"user_id":7}`),
			})
			require.NoError(t, err)
			require.False(t, res.Replayed)

			// Run the pool until nothing is due, following the backoff schedule.
			for i := 0; i < 10; i++ {
				n, err := p.pool.RunOnce(ctx, "worker-1")
				require.NoError(t, err)
				if n == 0 && gw.callCount() >= len(tt.statuses) {
					break
				}
				p.clock.Advance(time.Minute)
			}

			details, err := p.ingestor.GetEvent(ctx, res.Event.ID)
			require.NoError(t, err)
			require.Len(t, details.Deliveries, 1)

			d := details.Deliveries[0]
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantCount, d.AttemptCount)
			if tt.wantCategory != "" {
				assert.Equal(t, string(tt.wantCategory), d.LastErrorCategory.String)
			}
			assert.Equal(t, tt.wantAttempts, gw.callCount())
			assert.Equal(t, model.EventStatusExhausted, details.Event.Status)
		})
	}
}
