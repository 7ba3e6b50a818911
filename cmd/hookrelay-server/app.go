package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coregx/hookrelay"
	natsadapter "github.com/coregx/hookrelay/adapters/nats"
	redisadapter "github.com/coregx/hookrelay/adapters/redis"
	"github.com/coregx/hookrelay/adapters/relica"
	zapadapter "github.com/coregx/hookrelay/adapters/zap"
	"github.com/coregx/hookrelay/cmd/hookrelay-server/internal/config"
	"github.com/coregx/hookrelay/webhook"
)

// app wires the services of one server process.
type app struct {
	cfg    *config.Config
	logger *zapadapter.Logger
	db     *sql.DB
	repos  *relica.Repositories

	redis *goredis.Client
	nats  *nats.Conn

	notifications hookrelay.NotificationService
	matcher       *hookrelay.Matcher
	ingestor      *hookrelay.Ingestor
	subscriptions *hookrelay.SubscriptionManager
	dlq           *hookrelay.DLQManager
	pool          *hookrelay.WorkerPool
}

func newLogger(cfg *config.Config) (*zapadapter.Logger, error) {
	logger, err := zapadapter.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newApp connects to the database and the optional Redis and NATS servers and
// builds every service. The worker pool is only built when withPool is set.
func newApp(ctx context.Context, cfg *config.Config, withPool bool) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx, withPool); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, withPool bool) error {
	cfg := a.cfg
	logger := a.logger

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	a.db = db
	logger.Infof("Database connection established: driver=%s", cfg.Database.Driver)

	if cfg.Database.MigrateOnStart {
		if err := hookrelay.Migrate(db, cfg.Database.Driver); err != nil {
			return err
		}
		logger.Info("Database migrations applied")
	}

	a.repos = relica.NewRepositories(db, cfg.Database.Driver)

	a.notifications = hookrelay.NewLoggingNotificationService(logger)
	if cfg.NATS.Enabled {
		conn, err := natsadapter.Connect(cfg.NATS.URL, "hookrelay-server")
		if err != nil {
			return err
		}
		a.nats = conn
		a.notifications = natsadapter.NewNotifier(conn, cfg.NATS.SubjectPrefix)
		logger.Infof("Publishing notifications to NATS: url=%s, prefix=%s", cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	}

	a.matcher, err = hookrelay.NewMatcher(
		hookrelay.WithMatcherRepositories(a.repos.Events, a.repos.Deliveries),
		hookrelay.WithMatcherLogger(logger),
	)
	if err != nil {
		return err
	}

	ingestorOpts := []hookrelay.IngestorOption{
		hookrelay.WithIngestorRepositories(a.repos.Events, a.repos.Deliveries),
		hookrelay.WithIngestorLogger(logger),
		hookrelay.WithDispatcher(a.matcher),
	}
	if cfg.Redis.Enabled {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The unique index still rejects duplicates; the cache only saves a lookup.
			logger.Warnf("Redis unavailable at %s, idempotency cache disabled: %v", cfg.Redis.Addr, err)
		} else {
			ingestorOpts = append(ingestorOpts,
				hookrelay.WithIdempotencyCache(redisadapter.NewIdempotencyCache(a.redis, cfg.Redis.TTL)))
			logger.Infof("Idempotency cache enabled: redis=%s, ttl=%v", cfg.Redis.Addr, cfg.Redis.TTL)
		}
	}

	a.ingestor, err = hookrelay.NewIngestor(ingestorOpts...)
	if err != nil {
		return err
	}

	a.subscriptions, err = hookrelay.NewSubscriptionManager(
		hookrelay.WithSubscriptionManagerRepository(a.repos.Subscriptions),
		hookrelay.WithSubscriptionManagerLogger(logger),
		hookrelay.WithSubscriptionManagerNotifications(a.notifications),
	)
	if err != nil {
		return err
	}

	a.dlq, err = hookrelay.NewDLQManager(
		hookrelay.WithDLQRepositories(a.repos.DLQ, a.repos.Deliveries, a.repos.Subscriptions),
		hookrelay.WithDLQLogger(logger),
	)
	if err != nil {
		return err
	}

	if !withPool {
		return nil
	}
	a.pool, err = hookrelay.NewWorkerPool(
		hookrelay.WithRepositories(a.repos.Deliveries, a.repos.Events, a.repos.Subscriptions),
		hookrelay.WithGateway(webhook.NewClient(webhook.WithUserAgent("hookrelay/"+version))),
		hookrelay.WithLogger(logger),
		hookrelay.WithPoolConfig(cfg.Worker.PoolConfig),
		hookrelay.WithNotifications(a.notifications),
		hookrelay.WithMatcher(a.matcher),
	)
	return err
}

func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.logger.Warnf("Failed to drain NATS connection: %v", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnf("Failed to close Redis client: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warnf("Failed to close database: %v", err)
		}
	}
	_ = a.logger.Sync()
}

// drainPool stops leasing and waits for in-flight deliveries to be recorded.
func (a *app) drainPool() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Worker.DrainTimeout)
	defer cancel()
	if err := a.pool.Drain(ctx); err != nil {
		a.logger.Warnf("Worker pool drain incomplete: %v", err)
	}
}
