// Package app wires the billing reconciler's dependencies for the server
// and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/creditd/internal/billing/application"
	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/billing/infrastructure/catalog"
	"github.com/felixgeelhaar/creditd/internal/billing/infrastructure/gateway"
	billingPersistence "github.com/felixgeelhaar/creditd/internal/billing/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/creditd/internal/shared/application"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/felixgeelhaar/creditd/internal/shared/infrastructure/persistence"
	"github.com/felixgeelhaar/creditd/pkg/config"
	"github.com/felixgeelhaar/creditd/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Database (one of the two is set, per DatabaseDriver)
	DB       *pgxpool.Pool
	SQLiteDB *sql.DB

	// Redis (postgres mode only)
	RedisClient *redis.Client

	// Repositories
	UserRepo         domain.UserRepository
	CustomerRepo     domain.CustomerRepository
	SubscriptionRepo domain.SubscriptionRepository
	LedgerRepo       domain.LedgerRepository
	OutboxRepo       outbox.Repository

	// Eventing
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor

	// Unit of Work
	UnitOfWork sharedApplication.UnitOfWork

	// Billing services
	Catalog      domain.Catalog
	Verifier     *gateway.Verifier
	Reconciler   *application.Reconciler
	BonusService *application.BonusService
	MonthlyReset *application.MonthlyReset

	// Health
	Health *observability.HealthRegistry
}

// NewContainer creates a fully wired container for the configured database
// driver. "postgres" runs the full stack; "sqlite" runs a zero-dependency
// local mode without Redis or RabbitMQ.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return newPostgresContainer(ctx, cfg, logger)
	case "sqlite":
		return newSQLiteContainer(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func newPostgresContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	c.DB = pool

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c.RedisClient = redis.NewClient(redisOpts)

	c.UserRepo = billingPersistence.NewPostgresUserRepository(pool)
	c.CustomerRepo = billingPersistence.NewPostgresCustomerRepository(pool)
	c.SubscriptionRepo = billingPersistence.NewPostgresSubscriptionRepository(pool)
	c.LedgerRepo = billingPersistence.NewPostgresLedgerRepository(pool)
	c.OutboxRepo = outbox.NewPostgresRepository(pool)
	c.UnitOfWork = sharedPersistence.NewPostgresUnitOfWork(pool)

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.EventPublisher = publisher

	var priceCatalog domain.Catalog
	if cfg.StripeAPIKey != "" {
		priceCatalog = catalog.NewStripeCatalog(cfg.StripeAPIKey, logger)
	} else {
		logger.Warn("no gateway API key configured, using the static plan catalog")
		priceCatalog = catalog.NewStaticCatalog(catalog.DefaultPlans())
	}
	c.Catalog = catalog.NewCachedCatalog(priceCatalog, c.RedisClient, cfg.CatalogCacheTTL, logger)

	c.registerHealthChecks()
	c.wireServices()
	return c, nil
}

func newSQLiteContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers, which the reconciler's
	// per-user locking relies on in this mode.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	c.SQLiteDB = db

	c.UserRepo = billingPersistence.NewSQLiteUserRepository(db)
	c.CustomerRepo = billingPersistence.NewSQLiteCustomerRepository(db)
	c.SubscriptionRepo = billingPersistence.NewSQLiteSubscriptionRepository(db)
	c.LedgerRepo = billingPersistence.NewSQLiteLedgerRepository(db)
	c.OutboxRepo = outbox.NewSQLiteRepository(db)
	c.UnitOfWork = sharedPersistence.NewSQLiteUnitOfWork(db)

	c.EventPublisher = eventbus.NewNoopPublisher(logger)

	if cfg.StripeAPIKey != "" {
		c.Catalog = catalog.NewStripeCatalog(cfg.StripeAPIKey, logger)
	} else {
		c.Catalog = catalog.NewStaticCatalog(catalog.DefaultPlans())
	}

	c.registerHealthChecks()
	c.wireServices()
	return c, nil
}

func (c *Container) wireServices() {
	recorder := outbox.NewRecorder(c.OutboxRepo)
	engine := application.NewEngine(c.Catalog, c.Logger)

	c.Verifier = gateway.NewVerifier(c.Config.StripeWebhookSecret)
	c.Reconciler = application.NewReconciler(c.UnitOfWork,
		c.UserRepo, c.CustomerRepo, c.SubscriptionRepo, c.LedgerRepo,
		engine, recorder, c.Logger)
	c.BonusService = application.NewBonusService(c.UnitOfWork,
		c.UserRepo, c.LedgerRepo, recorder,
		int64(c.Config.RegistrationBonus), c.Logger)
	c.MonthlyReset = application.NewMonthlyReset(c.UnitOfWork, c.Catalog,
		c.UserRepo, c.CustomerRepo, c.SubscriptionRepo, c.LedgerRepo,
		recorder, c.Logger)

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher,
		outbox.ProcessorConfig{
			PollInterval:     c.Config.OutboxPollInterval,
			BatchSize:        c.Config.OutboxBatchSize,
			MaxRetries:       c.Config.OutboxMaxRetries,
			RetryBackoffBase: time.Second,
			RetryBackoffMax:  5 * time.Minute,
		}, c.Logger)
}

func (c *Container) registerHealthChecks() {
	if c.DB != nil {
		c.Health.Register("postgres", pingCheck(func(ctx context.Context) error {
			return c.DB.Ping(ctx)
		}))
	}
	if c.SQLiteDB != nil {
		c.Health.Register("sqlite", pingCheck(func(ctx context.Context) error {
			return c.SQLiteDB.PingContext(ctx)
		}))
	}
	if c.RedisClient != nil {
		c.Health.Register("redis", pingCheck(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
	}
}

func pingCheck(ping func(ctx context.Context) error) observability.HealthChecker {
	return func(ctx context.Context) observability.HealthCheckResult {
		start := time.Now()
		result := observability.HealthCheckResult{
			Status:    observability.HealthStatusHealthy,
			Timestamp: start,
		}
		if err := ping(ctx); err != nil {
			result.Status = observability.HealthStatusUnhealthy
			result.Message = err.Error()
		}
		result.Duration = time.Since(start)
		return result
	}
}

// Close releases all container resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil && c.OutboxProcessor.IsRunning() {
		c.OutboxProcessor.Stop()
	}
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			c.Logger.Warn("failed to close sqlite database", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
