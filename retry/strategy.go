// Package retry provides the exponential backoff policy used for webhook delivery.
// Every function here is pure: the delay depends only on the attempt count and the
// strategy, plus an optional random source for jitter.
package retry

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Strategy defines the retry behavior for one subscription.
//
// The delay before retry n (0-based count of failures so far) is:
//
//	delay = min(MaxBackoff, BaseBackoff * 2^n)
//
// With Jitter enabled the actual wait is drawn uniformly from [0, delay].
//
// Example with defaults (1s base, 1h max, 5 attempts):
//
//	Failure 1: 1s
//	Failure 2: 2s
//	Failure 3: 4s
//	Failure 4: 8s
//	Failure 5: → dead letter
type Strategy struct {
	MaxAttempts int           // Total attempts before the delivery is dead-lettered
	BaseBackoff time.Duration // Delay after the first failure
	MaxBackoff  time.Duration // Upper bound for any single delay
	Jitter      bool          // Apply full jitter
}

// DefaultStrategy returns the strategy assigned to subscriptions that do not set one.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Hour,
		Jitter:      true,
	}
}

// Validate checks that the strategy can drive a retry schedule.
func (s Strategy) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxAttempts, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&s.BaseBackoff, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.MaxBackoff, validation.Required, validation.Min(s.BaseBackoff)),
	)
}

// Backoff returns the un-jittered delay after attemptCount recorded failures.
// It never overflows: large attempt counts return MaxBackoff.
func (s Strategy) Backoff(attemptCount int) time.Duration {
	if s.BaseBackoff <= 0 {
		return 0
	}
	if attemptCount < 0 {
		attemptCount = 0
	}

	delay := s.BaseBackoff
	for i := 0; i < attemptCount; i++ {
		if delay >= s.MaxBackoff || delay > s.MaxBackoff/2 {
			return s.MaxBackoff
		}
		delay *= 2
	}

	if delay > s.MaxBackoff {
		return s.MaxBackoff
	}
	return delay
}

// Delay returns the wait before the next attempt. With Jitter enabled it draws from
// [0, Backoff(attemptCount)] using rng; a nil rng uses the global source.
func (s Strategy) Delay(attemptCount int, rng *rand.Rand) time.Duration {
	backoff := s.Backoff(attemptCount)
	if !s.Jitter || backoff <= 0 {
		return backoff
	}
	if rng == nil {
		return time.Duration(rand.Int63n(int64(backoff) + 1))
	}
	return time.Duration(rng.Int63n(int64(backoff) + 1))
}

// Exhausted reports whether a retryable failure observed with attemptCount prior
// failures used up the final attempt.
func (s Strategy) Exhausted(attemptCount int) bool {
	return attemptCount+1 >= s.MaxAttempts
}

// Schedule returns the un-jittered delays between consecutive attempts.
// Its length is MaxAttempts-1.
func (s Strategy) Schedule() []time.Duration {
	if s.MaxAttempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, 0, s.MaxAttempts-1)
	for i := 0; i < s.MaxAttempts-1; i++ {
		delays = append(delays, s.Backoff(i))
	}
	return delays
}

// String renders the schedule, e.g. "1s → 2s → 4s → 8s → DLQ".
func (s Strategy) String() string {
	parts := make([]string, 0, s.MaxAttempts)
	for _, d := range s.Schedule() {
		parts = append(parts, d.String())
	}
	parts = append(parts, "DLQ")
	return fmt.Sprintf("%d attempts: %s", s.MaxAttempts, strings.Join(parts, " → "))
}
