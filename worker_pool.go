package hookrelay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/hookrelay/metrics"
	"github.com/coregx/hookrelay/model"
)

// DeliveryRequest is everything a gateway needs to perform one webhook call.
// The target URL comes from the delivery snapshot; the signing secret and custom
// headers are read from the subscription at call time.
type DeliveryRequest struct {
	Delivery     model.Delivery
	Event        model.Event
	Subscription model.Subscription
}

// DeliveryResponse is what the target answered.
type DeliveryResponse struct {
	StatusCode int
	Body       string // truncated to model.MaxResponseBodySize
}

// DeliveryGateway defines the interface for delivering events to subscription targets.
//
// Deliver returns a response for every HTTP answer, including non-2xx ones, and an
// error only when no answer was received (connection failure, timeout). The caller
// classifies the outcome.
type DeliveryGateway interface {
	Deliver(ctx context.Context, req DeliveryRequest) (DeliveryResponse, error)
}

// PoolConfig controls the worker pool.
type PoolConfig struct {
	Workers         int           `mapstructure:"workers"`          // Independent poll loops, one call in flight each
	BatchSize       int           `mapstructure:"batch_size"`       // Upper bound on deliveries one worker leases per poll
	PollInterval    time.Duration `mapstructure:"poll_interval"`    // Wait after a poll that found less than a full batch
	LeaseDuration   time.Duration `mapstructure:"lease_duration"`   // How long a worker owns a leased delivery
	CallTimeout     time.Duration `mapstructure:"call_timeout"`     // Per-call timeout unless the subscription sets one
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"` // Period of the maintenance loop
	RecoverAfter    time.Duration `mapstructure:"recover_after"`    // Age after which accepted events are re-dispatched
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`    // Upper bound for Drain
	WorkerIDPrefix  string        `mapstructure:"worker_id_prefix"` // Recorded in leased_by and on attempts
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	prefix, err := os.Hostname()
	if err != nil || prefix == "" {
		prefix = "hookrelay"
	}
	return PoolConfig{
		Workers:         10,
		BatchSize:       50,
		PollInterval:    time.Second,
		LeaseDuration:   2 * time.Minute,
		CallTimeout:     30 * time.Second,
		ReclaimInterval: 15 * time.Second,
		RecoverAfter:    time.Minute,
		DrainTimeout:    30 * time.Second,
		WorkerIDPrefix:  prefix,
	}
}

// Validate checks the configuration. The lease must outlive the call timeout,
// otherwise a slow call would always be reclaimed and delivered twice.
func (c PoolConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CallTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.LeaseDuration, validation.Required, validation.Min(c.CallTimeout+time.Millisecond).
			Error("must be longer than the call timeout")),
		validation.Field(&c.ReclaimInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RecoverAfter, validation.Required),
		validation.Field(&c.DrainTimeout, validation.Required),
		validation.Field(&c.WorkerIDPrefix, validation.Required),
	)
}

// LeaseBatch returns how many deliveries one worker leases per poll: BatchSize,
// lowered so that every leased delivery can run back to back at CallTimeout
// before the lease expires. It is at least 1.
func (c PoolConfig) LeaseBatch() int {
	n := c.BatchSize
	if c.CallTimeout > 0 && c.LeaseDuration > c.CallTimeout {
		if fit := int((c.LeaseDuration - 1) / c.CallTimeout); fit < n {
			n = fit
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

const ackTimeout = 10 * time.Second

// WorkerPool leases due deliveries, calls their targets and records the outcome.
//
// Each worker runs its own poll loop: it leases a small batch under its own id
// (PoolConfig.LeaseBatch) and calls the targets one after another. A call never
// outlives the lease it runs under. A maintenance loop returns expired leases to
// the queue and re-dispatches events whose fan-out did not complete.
//
// Delivery outcomes:
//   - 2xx: succeeded
//   - transport error, timeout, 429, 5xx: retried after backoff, dead-lettered once
//     the snapshotted strategy is exhausted
//   - any other status, or a deleted subscription: dead-lettered immediately
//
// Thread safety: Safe for concurrent use. Start may be called once per pool.
type WorkerPool struct {
	queue               DeliveryQueue
	events              EventRepository
	subscriptions       SubscriptionRepository
	gateway             DeliveryGateway
	matcher             *Matcher
	logger              Logger
	notificationService NotificationService
	config              PoolConfig
	clock               Clock

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool with the provided options.
//
// Required options:
//   - WithRepositories: delivery queue, event and subscription repositories
//   - WithGateway: webhook transport
//   - WithLogger: logger instance
//
// Optional options:
//   - WithPoolConfig, WithBatchSize, WithWorkers: tuning (default: DefaultPoolConfig())
//   - WithMatcher: recovery sweep for events stuck in accepted
//   - WithNotifications: dead-letter and failure callbacks
//
// Example:
//
//	pool, err := hookrelay.NewWorkerPool(
//	    hookrelay.WithRepositories(repos.Deliveries, repos.Events, repos.Subscriptions),
//	    hookrelay.WithGateway(webhook.NewClient()),
//	    hookrelay.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pool.Start(ctx)
//	defer pool.Drain(context.Background())
func NewWorkerPool(opts ...Option) (*WorkerPool, error) {
	p := &WorkerPool{
		config:              DefaultPoolConfig(),
		clock:               SystemClock,
		notificationService: &NoOpNotificationService{}, // Default: no notifications
		stop:                make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if p.queue == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryQueue is required (use WithRepositories)")
	}
	if p.events == nil {
		return nil, NewError(ErrCodeConfiguration, "EventRepository is required (use WithRepositories)")
	}
	if p.subscriptions == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithRepositories)")
	}
	if p.gateway == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryGateway is required (use WithGateway)")
	}
	if p.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	return p, nil
}

// Config returns the effective configuration.
func (p *WorkerPool) Config() PoolConfig {
	return p.config
}

// Start launches the worker loops and the maintenance loop, and returns.
// Cancelling ctx has the same effect as Stop.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return NewError(ErrCodeConfiguration, "worker pool already started")
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 1; i <= p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx, p.workerID(i))
	}

	p.wg.Add(1)
	go p.maintain(runCtx)

	p.logger.Infof("Worker pool started: workers=%d, batch=%d, poll=%v, lease=%v",
		p.config.Workers, p.config.LeaseBatch(), p.config.PollInterval, p.config.LeaseDuration)
	return nil
}

// Drain stops leasing and waits for in-flight calls to finish and be recorded.
// If ctx ends or DrainTimeout passes first, the remaining calls are cancelled
// without being recorded; their leases expire and the deliveries are retried.
func (p *WorkerPool) Drain(ctx context.Context) error {
	p.signalStop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		p.abort()
		<-done
		return ctx.Err()
	case <-timer.C:
		p.abort()
		<-done
		return NewError(ErrCodeDelivery, fmt.Sprintf("drain timed out after %v, in-flight calls cancelled", p.config.DrainTimeout))
	}
}

// Stop cancels in-flight calls and waits for every goroutine to exit.
// Cancelled calls are not recorded.
func (p *WorkerPool) Stop() {
	p.signalStop()
	p.abort()
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) signalStop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *WorkerPool) abort() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *WorkerPool) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) workerID(n int) string {
	return fmt.Sprintf("%s-%d", p.config.WorkerIDPrefix, n)
}

// run is one worker: lease as workerID, process the batch, repeat until stopped.
func (p *WorkerPool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	limit := p.config.LeaseBatch()
	for {
		if p.stopping() || ctx.Err() != nil {
			return
		}

		batch, err := p.queue.Lease(ctx, workerID, p.clock(), p.config.LeaseDuration, limit)
		if err != nil && !IsNoData(err) && ctx.Err() == nil {
			p.logger.Errorf("Worker %s failed to lease deliveries: %v", workerID, err)
		}
		metrics.Leases.Add(float64(len(batch)))

		for _, d := range batch {
			if p.stopping() {
				// Unstarted leases expire and are reclaimed.
				return
			}
			p.process(ctx, workerID, d)
		}

		if len(batch) == limit {
			continue
		}

		select {
		case <-time.After(p.config.PollInterval):
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// maintain reclaims expired leases and recovers stuck fan-outs.
func (p *WorkerPool) maintain(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Maintain(ctx)
		}
	}
}

// Maintain runs one maintenance pass: expired leases go back to pending and, when
// a matcher is configured, events stuck in accepted are dispatched.
func (p *WorkerPool) Maintain(ctx context.Context) {
	reclaimed, err := p.queue.ReclaimExpired(ctx, p.clock())
	if err != nil {
		p.logger.Errorf("Failed to reclaim expired leases: %v", err)
	} else if reclaimed > 0 {
		metrics.LeasesReclaimed.Add(float64(reclaimed))
		p.logger.Warnf("Reclaimed %d expired leases", reclaimed)
	}

	if p.matcher == nil {
		return
	}
	if _, err := p.matcher.Recover(ctx, p.config.RecoverAfter, p.config.BatchSize); err != nil {
		p.logger.Errorf("Failed to recover stale events: %v", err)
	}
}

// RunOnce performs one iteration of a worker loop: it leases up to LeaseBatch
// deliveries as workerID and processes them sequentially.
// Returns the number of deliveries leased.
func (p *WorkerPool) RunOnce(ctx context.Context, workerID string) (int, error) {
	batch, err := p.queue.Lease(ctx, workerID, p.clock(), p.config.LeaseDuration, p.config.LeaseBatch())
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to lease deliveries: %w", err)
	}
	metrics.Leases.Add(float64(len(batch)))

	for _, d := range batch {
		p.process(ctx, workerID, d)
	}
	return len(batch), nil
}

// process performs one attempt on a leased delivery and acks the outcome.
func (p *WorkerPool) process(ctx context.Context, workerID string, d model.Delivery) {
	if !d.IsLeaseActive(p.clock()) {
		p.logger.Debugf("Skipping delivery %s: lease expired before processing", d.ID)
		return
	}

	attempt := model.NewAttempt(d, workerID, p.clock())

	event, err := p.events.Load(ctx, d.EventID)
	if err != nil {
		if IsNoData(err) {
			p.deadLetter(ctx, d, attempt, model.DeadLetterPermanentFailure, &PermanentDeliveryError{
				Code: FailureCodeEventNotFound,
				Err:  fmt.Errorf("event %s not found", d.EventID),
			}, "")
			return
		}
		p.logger.Errorf("Failed to load event %s for delivery %s: %v", d.EventID, d.ID, err)
		return
	}

	sub, err := p.subscriptions.Load(ctx, d.SubscriptionID)
	if err != nil {
		if IsNoData(err) {
			p.deadLetter(ctx, d, attempt, model.DeadLetterPermanentFailure, &PermanentDeliveryError{
				Code: FailureCodeSubscriptionNotFound,
				Err:  fmt.Errorf("subscription %s not found", d.SubscriptionID),
			}, "")
			return
		}
		p.logger.Errorf("Failed to load subscription %s for delivery %s: %v", d.SubscriptionID, d.ID, err)
		return
	}

	timeout := sub.Timeout()
	if timeout <= 0 {
		timeout = p.config.CallTimeout
	}
	remaining := d.LeaseExpiry.Time.Sub(p.clock())
	if remaining <= 0 {
		p.logger.Debugf("Skipping delivery %s: lease expired before the call", d.ID)
		return
	}
	if remaining < timeout {
		// The call must end while the lease is held.
		timeout = remaining
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	metrics.DeliveriesInFlight.Inc()
	started := time.Now()
	resp, callErr := p.gateway.Deliver(callCtx, DeliveryRequest{Delivery: d, Event: event, Subscription: sub})
	metrics.DeliveryDuration.Observe(time.Since(started).Seconds())
	metrics.DeliveriesInFlight.Dec()
	cancel()

	if ctx.Err() != nil {
		p.logger.Warnf("Delivery %s interrupted by shutdown; it will be retried after its lease expires", d.ID)
		return
	}

	outcome := ClassifyOutcome(resp, callErr)
	var (
		retryable *RetryableDeliveryError
		permanent *PermanentDeliveryError
	)

	switch {
	case outcome == nil:
		p.succeed(ctx, d, attempt, resp)

	case errors.As(outcome, &permanent):
		p.deadLetter(ctx, d, attempt, model.DeadLetterPermanentFailure, permanent, resp.Body)

	case errors.As(outcome, &retryable):
		strategy := d.RetryStrategy()
		if strategy.Exhausted(d.AttemptCount) {
			exhausted := &AttemptsExhaustedError{Attempts: d.AttemptCount + 1, Last: retryable}
			p.deadLetter(ctx, d, attempt, model.DeadLetterAttemptsExhausted, exhausted, resp.Body)
			return
		}
		p.retry(ctx, d, attempt, retryable, resp.Body)
	}
}

func (p *WorkerPool) ackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Acks must land even when the pool is being stopped.
	return context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
}

func (p *WorkerPool) succeed(ctx context.Context, d model.Delivery, attempt model.Attempt, resp DeliveryResponse) {
	attempt.Succeed(resp.StatusCode, resp.Body, p.clock())

	ackCtx, cancel := p.ackContext(ctx)
	defer cancel()

	if err := p.queue.AckSuccess(ackCtx, d, attempt); err != nil {
		p.ackFailed(d, err)
		return
	}

	metrics.Deliveries.WithLabelValues(string(model.AttemptSuccess)).Inc()
	p.logger.Infof("Delivered %s to subscription %s (event=%s, attempt=%d, status=%d)",
		d.ID, d.SubscriptionID, d.EventID, attempt.AttemptNumber, resp.StatusCode)
}

func (p *WorkerPool) retry(ctx context.Context, d model.Delivery, attempt model.Attempt, cause error, body string) {
	f := failureOf(cause)
	attempt.Fail(f, body, p.clock())

	delay := p.delay(d)
	next := attempt.FinishedAt.Add(delay)

	ackCtx, cancel := p.ackContext(ctx)
	defer cancel()

	if err := p.queue.AckRetry(ackCtx, d, next, f, attempt); err != nil {
		p.ackFailed(d, err)
		return
	}

	metrics.Deliveries.WithLabelValues(string(model.AttemptRetryable)).Inc()
	p.logger.Warnf("Delivery %s failed (attempt=%d/%d, code=%s), retrying in %v",
		d.ID, attempt.AttemptNumber, d.MaxAttempts, f.Code, delay)

	if err := p.notificationService.NotifyDeliveryFailure(ackCtx, d, cause); err != nil {
		p.logger.Warnf("Failed to send delivery failure notification: %v", err)
	}
}

func (p *WorkerPool) deadLetter(ctx context.Context, d model.Delivery, attempt model.Attempt, reason model.DeadLetterReason, cause error, body string) {
	f := failureOf(cause)
	attempt.Fail(f, body, p.clock())

	ackCtx, cancel := p.ackContext(ctx)
	defer cancel()

	if err := p.queue.AckDeadLetter(ackCtx, d, f, reason, attempt); err != nil {
		p.ackFailed(d, err)
		return
	}

	metrics.Deliveries.WithLabelValues("dead_letter").Inc()
	p.logger.Warnf("Delivery %s dead-lettered (reason=%s, code=%s): %v", d.ID, reason, f.Code, cause)

	if err := p.notificationService.NotifyDeadLettered(ackCtx, d, reason, cause); err != nil {
		p.logger.Warnf("Failed to send dead-letter notification: %v", err)
	}
}

func (p *WorkerPool) ackFailed(d model.Delivery, err error) {
	if IsLeaseLost(err) {
		metrics.LeasesLost.Inc()
		p.logger.Warnf("Lease on delivery %s was lost before the outcome was recorded", d.ID)
		return
	}
	p.logger.Errorf("Failed to record outcome of delivery %s: %v", d.ID, err)
}

func (p *WorkerPool) delay(d model.Delivery) time.Duration {
	strategy := d.RetryStrategy()
	if p.rng == nil {
		return strategy.Delay(d.AttemptCount, nil)
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return strategy.Delay(d.AttemptCount, p.rng)
}

// RetrySchedule returns a human-readable description of a delivery's retry schedule.
//
// Example output: "5 attempts: 1s → 2s → 4s → 8s → DLQ".
func (p *WorkerPool) RetrySchedule(d model.Delivery) string {
	return d.RetryStrategy().String()
}
