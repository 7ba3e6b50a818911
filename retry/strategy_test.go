package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStrategy(t *testing.T) {
	strategy := DefaultStrategy()

	assert.Equal(t, 5, strategy.MaxAttempts)
	assert.Equal(t, time.Second, strategy.BaseBackoff)
	assert.Equal(t, time.Hour, strategy.MaxBackoff)
	assert.True(t, strategy.Jitter)
	assert.NoError(t, strategy.Validate())
}

func TestStrategy_Backoff(t *testing.T) {
	strategy := Strategy{MaxAttempts: 10, BaseBackoff: time.Second, MaxBackoff: time.Minute}

	tests := []struct {
		name          string
		attemptCount  int
		expectedDelay time.Duration
	}{
		{name: "No failures yet - base delay", attemptCount: 0, expectedDelay: time.Second},
		{name: "One failure", attemptCount: 1, expectedDelay: 2 * time.Second},
		{name: "Two failures", attemptCount: 2, expectedDelay: 4 * time.Second},
		{name: "Five failures", attemptCount: 5, expectedDelay: 32 * time.Second},
		{name: "Six failures - capped", attemptCount: 6, expectedDelay: time.Minute},
		{name: "Huge attempt count - still capped", attemptCount: 10_000, expectedDelay: time.Minute},
		{name: "Negative attempt count treated as zero", attemptCount: -3, expectedDelay: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedDelay, strategy.Backoff(tt.attemptCount))
		})
	}
}

func TestStrategy_BackoffMonotonic(t *testing.T) {
	strategies := []Strategy{
		DefaultStrategy(),
		{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Second},
		{MaxAttempts: 50, BaseBackoff: 7 * time.Millisecond, MaxBackoff: 24 * time.Hour},
		{MaxAttempts: 80, BaseBackoff: time.Hour, MaxBackoff: time.Duration(1<<62 - 1)},
	}

	for _, s := range strategies {
		previous := time.Duration(0)
		for attempt := 0; attempt < 100; attempt++ {
			delay := s.Backoff(attempt)
			assert.GreaterOrEqual(t, delay, previous, "attempt %d of %+v", attempt, s)
			assert.LessOrEqual(t, delay, s.MaxBackoff)
			previous = delay
		}
	}
}

func TestStrategy_DelayJitter(t *testing.T) {
	strategy := Strategy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Minute, Jitter: true}
	rng := rand.New(rand.NewSource(42))

	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < 50; i++ {
			delay := strategy.Delay(attempt, rng)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
			assert.LessOrEqual(t, delay, strategy.Backoff(attempt))
		}
	}

	// Nil source falls back to the global generator.
	assert.LessOrEqual(t, strategy.Delay(2, nil), 4*time.Second)
}

func TestStrategy_DelayWithoutJitter(t *testing.T) {
	strategy := Strategy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Minute}

	assert.Equal(t, 4*time.Second, strategy.Delay(2, rand.New(rand.NewSource(1))))
	assert.Equal(t, time.Second, strategy.Delay(0, nil))
}

func TestStrategy_Exhausted(t *testing.T) {
	strategy := Strategy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}

	tests := []struct {
		name         string
		attemptCount int
		expected     bool
	}{
		{name: "First failure", attemptCount: 0, expected: false},
		{name: "Second failure", attemptCount: 1, expected: false},
		{name: "Third failure uses the last attempt", attemptCount: 2, expected: true},
		{name: "Beyond max", attemptCount: 7, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, strategy.Exhausted(tt.attemptCount))
		})
	}

	single := Strategy{MaxAttempts: 1, BaseBackoff: time.Second, MaxBackoff: time.Second}
	assert.True(t, single.Exhausted(0), "one attempt means no retries")
}

func TestStrategy_Schedule(t *testing.T) {
	strategy := Strategy{MaxAttempts: 5, BaseBackoff: 10 * time.Second, MaxBackoff: time.Minute}

	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		time.Minute,
	}, strategy.Schedule())
	assert.Equal(t, "5 attempts: 10s → 20s → 40s → 1m0s → DLQ", strategy.String())

	assert.Nil(t, Strategy{MaxAttempts: 1, BaseBackoff: time.Second, MaxBackoff: time.Second}.Schedule())
}

func TestStrategy_Validate(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		wantErr  bool
	}{
		{name: "Valid", strategy: Strategy{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute}},
		{name: "Zero attempts", strategy: Strategy{MaxAttempts: 0, BaseBackoff: time.Second, MaxBackoff: time.Minute}, wantErr: true},
		{name: "Too many attempts", strategy: Strategy{MaxAttempts: 101, BaseBackoff: time.Second, MaxBackoff: time.Minute}, wantErr: true},
		{name: "Missing base", strategy: Strategy{MaxAttempts: 3, MaxBackoff: time.Minute}, wantErr: true},
		{name: "Max below base", strategy: Strategy{MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.strategy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func BenchmarkBackoff(b *testing.B) {
	strategy := DefaultStrategy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = strategy.Backoff(i % 20)
	}
}
