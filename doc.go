// Package hookrelay provides a webhook event relay for Go: producers submit
// events once, and hookrelay fans them out to every matching subscription and
// delivers them over HTTP with retries, leases and a Dead Letter Queue (DLQ).
//
// It works both as a library embedded in your application and as a standalone
// service (cmd/hookrelay-server) with a REST API.
//
// # Features
//
//   - Idempotent ingestion: one event per (source, idempotency key), with conflict detection
//   - Fan-out to subscriptions filtered by exact event type or "prefix.*" wildcard
//   - At-least-once delivery through a lease-based queue shared by any number of workers
//   - Exponential backoff with optional full jitter, configured per subscription
//   - Dead Letter Queue with filtering, statistics and replay
//   - Signed requests (HMAC-SHA256) so receivers can verify the sender
//   - Multi-database support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded migrations applied with golang-migrate
//   - Prometheus metrics, pluggable Logger and NotificationService
//
// # Quick Start
//
// Apply the migrations and create the repositories:
//
//	db, _ := sql.Open("sqlite3", "hookrelay.db?_busy_timeout=5000&_txlock=immediate")
//	if err := hookrelay.Migrate(db, hookrelay.DriverSQLite3); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, hookrelay.DriverSQLite3)
//
// Create the services with the Options Pattern:
//
//	matcher, _ := hookrelay.NewMatcher(
//	    hookrelay.WithMatcherRepositories(repos.Events, repos.Deliveries),
//	    hookrelay.WithMatcherLogger(logger),
//	)
//	ingestor, _ := hookrelay.NewIngestor(
//	    hookrelay.WithIngestorRepositories(repos.Events, repos.Deliveries),
//	    hookrelay.WithIngestorLogger(logger),
//	    hookrelay.WithDispatcher(matcher),
//	)
//	pool, _ := hookrelay.NewWorkerPool(
//	    hookrelay.WithRepositories(repos.Deliveries, repos.Events, repos.Subscriptions),
//	    hookrelay.WithGateway(webhook.NewClient()),
//	    hookrelay.WithLogger(logger),
//	    hookrelay.WithMatcher(matcher),
//	)
//	pool.Start(ctx)
//	defer pool.Drain(context.Background())
//
// Submit an event:
//
//	res, err := ingestor.Submit(ctx, hookrelay.SubmitRequest{
//	    Source:         "billing",
//	    IdempotencyKey: "invoice-1001-paid",
//	    EventType:      "invoice.paid",
//	    Payload:        json.RawMessage(`{"invoice_id":1001}`),
//	})
//
// # Event Flow
//
//  1. INGEST
//     Ingestor → validate → idempotency check → store event (accepted)
//
//  2. FAN-OUT
//     Matcher → active subscriptions whose filter matches → one delivery each
//     → event matched (or exhausted when nothing matched)
//
//  3. DELIVERY (Background)
//     WorkerPool → lease due deliveries → signed POST to the target
//     → 2xx: succeeded
//     → timeout, connection error, 429, 5xx: retried after backoff
//     → other status: dead-lettered immediately
//     → strategy exhausted: dead-lettered
//
//  4. DLQ
//     DLQManager → list, stats → replay with the subscription's current URL and strategy
//
// # Retry Strategy
//
// The delay after the n-th failure is min(MaxBackoff, BaseBackoff * 2^(n-1)),
// drawn uniformly from [0, delay] when Jitter is set. The un-jittered schedule
// of the default strategy (5 attempts, 1s base, 1h cap):
//
//	Attempt 1: immediate
//	Attempt 2: +1s
//	Attempt 3: +2s
//	Attempt 4: +4s
//	Attempt 5: +8s (dead-lettered if it fails)
//
// Each delivery snapshots the strategy when it is created, so editing a
// subscription never changes the schedule of deliveries already queued.
//
// # Database Schema
//
// The embedded migrations create 4 tables:
//
//	hookrelay_events             - Accepted events, unique per (source, idempotency_key)
//	hookrelay_subscriptions      - Targets, filters and retry strategies
//	hookrelay_deliveries         - One row per (event, subscription) with lease and retry state
//	hookrelay_delivery_attempts  - History of every completed HTTP attempt
//
// Dead-lettered deliveries stay in hookrelay_deliveries with status dead_letter.
package hookrelay
