package hookrelay

import (
	"fmt"
	"math/rand"
	"time"
)

// Clock returns the current time. Services default to SystemClock; tests inject
// a fixed or stepped clock.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Option is a function that configures a WorkerPool.
//
// Example:
//
//	pool, err := hookrelay.NewWorkerPool(
//	    hookrelay.WithRepositories(repos.Deliveries, repos.Events, repos.Subscriptions),
//	    hookrelay.WithGateway(webhook.NewClient()),
//	    hookrelay.WithLogger(logger),
//	    hookrelay.WithBatchSize(100), // optional
//	)
type Option func(*WorkerPool) error

// WithRepositories sets the required repository dependencies for the worker pool.
// All three repositories are required and must not be nil.
//
// This is a required option for NewWorkerPool.
//
// Parameters:
//   - queue: Delivery leasing and acks
//   - events: Event payload lookup
//   - subscriptions: Signing secret and headers lookup
func WithRepositories(
	queue DeliveryQueue,
	events EventRepository,
	subscriptions SubscriptionRepository,
) Option {
	return func(p *WorkerPool) error {
		if queue == nil {
			return fmt.Errorf("queue cannot be nil")
		}
		if events == nil {
			return fmt.Errorf("events cannot be nil")
		}
		if subscriptions == nil {
			return fmt.Errorf("subscriptions cannot be nil")
		}

		p.queue = queue
		p.events = events
		p.subscriptions = subscriptions
		return nil
	}
}

// WithGateway sets the transport that performs webhook calls.
//
// This is a required option for NewWorkerPool.
func WithGateway(gateway DeliveryGateway) Option {
	return func(p *WorkerPool) error {
		if gateway == nil {
			return fmt.Errorf("gateway cannot be nil")
		}
		p.gateway = gateway
		return nil
	}
}

// WithLogger sets the logger instance for the worker pool.
// Logger is required and must not be nil.
//
// This is a required option for NewWorkerPool.
func WithLogger(logger Logger) Option {
	return func(p *WorkerPool) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithPoolConfig replaces the whole pool configuration.
// The configuration is validated; see DefaultPoolConfig for the defaults.
func WithPoolConfig(cfg PoolConfig) Option {
	return func(p *WorkerPool) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.config = cfg
		return nil
	}
}

// WithBatchSize caps the number of deliveries one worker leases per poll.
// This is an optional configuration - default is 50. The effective batch is
// further limited by PoolConfig.LeaseBatch.
//
// Must be > 0.
func WithBatchSize(size int) Option {
	return func(p *WorkerPool) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		p.config.BatchSize = size
		return nil
	}
}

// WithWorkers sets the number of worker loops, i.e. concurrent webhook calls.
// This is an optional configuration - default is 10.
func WithWorkers(n int) Option {
	return func(p *WorkerPool) error {
		if n <= 0 {
			return fmt.Errorf("workers must be > 0, got %d", n)
		}
		p.config.Workers = n
		return nil
	}
}

// WithNotifications sets an optional notification service for the worker pool.
// This is an optional configuration - if not provided, NoOpNotificationService will be used (no notifications).
//
// The notification service receives callbacks for:
//   - Delivery failures (every attempt that will be retried)
//   - Dead letters (permanent failures and exhausted retries)
func WithNotifications(service NotificationService) Option {
	return func(p *WorkerPool) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		p.notificationService = service
		return nil
	}
}

// WithMatcher enables the recovery sweep for events whose fan-out did not complete.
func WithMatcher(matcher *Matcher) Option {
	return func(p *WorkerPool) error {
		if matcher == nil {
			return fmt.Errorf("matcher cannot be nil")
		}
		p.matcher = matcher
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(p *WorkerPool) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		p.clock = clock
		return nil
	}
}

// WithRand sets the random source used for retry jitter.
func WithRand(rng *rand.Rand) Option {
	return func(p *WorkerPool) error {
		if rng == nil {
			return fmt.Errorf("rng cannot be nil")
		}
		p.rng = rng
		return nil
	}
}
