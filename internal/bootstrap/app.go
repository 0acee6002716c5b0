package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/domain/commission"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/infrastructure/kafka"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
	infraRedis "github.com/taskerhub/marketplace/internal/infrastructure/redis"
	"github.com/taskerhub/marketplace/internal/repository/postgres"
	"github.com/taskerhub/marketplace/internal/service"
	"github.com/taskerhub/marketplace/pkg/retry"
)

// App holds the process-wide infrastructure every binary shares.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	closers []func() error
}

type options struct {
	logOutput io.Writer
	logFormat string
}

type Option func(*options)

// WithLogOutput sends logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithLogFormat overrides observability.log_format.
func WithLogFormat(format string) Option {
	return func(o *options) { o.logFormat = format }
}

func New(ctx context.Context, serviceName string, metricsNamespace string, opts ...Option) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	o := options{logOutput: os.Stdout, logFormat: cfg.Observability.LogFormat}
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, o.logFormat, o.logOutput).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	zerolog.DefaultContextLogger = &logger
	logger.Info().Str("environment", cfg.Environment).Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.closers = append(app.closers, func() error { return observability.Shutdown(context.Background(), tp) })
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Registry = prometheus.NewRegistry()
	app.Metrics = observability.NewMetrics(metricsNamespace, app.Registry)

	pool, err := postgres.NewPool(ctx, &cfg.Database, serviceName)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.Pool = pool
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	app.Redis = redisClient
	logger.Info().Msg("Connected to Redis")

	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Repositories groups the PostgreSQL adapters.
type Repositories struct {
	Requests     *postgres.RequestRepository
	Transactions *postgres.TransactionRepository
	Users        *postgres.UserRepository
	Outbox       *postgres.OutboxRepository
	Idempotency  *postgres.IdempotencyRepository
	TxManager    *postgres.TxManager
}

func (a *App) Repositories() *Repositories {
	return &Repositories{
		Requests:     postgres.NewRequestRepository(a.Pool),
		Transactions: postgres.NewTransactionRepository(a.Pool),
		Users:        postgres.NewUserRepository(a.Pool),
		Outbox:       postgres.NewOutboxRepository(a.Pool),
		Idempotency:  postgres.NewIdempotencyRepository(a.Pool),
		TxManager:    postgres.NewTxManager(a.Pool),
	}
}

// Services are the business services built over the repositories.
type Services struct {
	Repos     *Repositories
	Notifier  *service.Notifier
	Engine    *service.CompletionEngine
	Lifecycle *service.LifecycleService
	Payments  *service.PaymentService
}

func (a *App) Services() (*Services, error) {
	cfg := a.Config
	repos := a.Repositories()

	calc, err := commission.NewCalculator(cfg.Payment.Rate())
	if err != nil {
		return nil, fmt.Errorf("commission: %w", err)
	}
	policy, err := service.NewPolicy(cfg.Payment.ReconciliationPolicy)
	if err != nil {
		return nil, err
	}
	gw, err := a.Gateway()
	if err != nil {
		return nil, err
	}
	locker := infraRedis.NewLocker(a.Redis, cfg.Payment.LockTTL, cfg.Payment.LockRetries, cfg.Payment.LockRetryDelay)

	notifier := service.NewNotifier(repos.Outbox, nil, a.Logger)
	engine := service.NewCompletionEngine(repos.Requests, repos.Transactions, repos.TxManager, locker, calc, notifier,
		service.CompletionConfig{
			AutoComplete: cfg.Payment.AutoCompleteOnPayment,
			Metrics:      a.Metrics,
		}, a.Logger)
	lifecycle := service.NewLifecycleService(repos.Requests, repos.Transactions, repos.Users, repos.TxManager,
		notifier, nil, a.Logger, a.Metrics)
	payments := service.NewPaymentService(repos.Requests, repos.Transactions, repos.Users, repos.TxManager, locker,
		gw, engine, policy, notifier, service.PaymentConfig{
			Currency:        cfg.Payment.Currency,
			CallbackBaseURL: cfg.Payment.PublicBaseURL,
			PendingExpiry:   cfg.Payment.PendingExpiry,
			Metrics:         a.Metrics,
		}, a.Logger)

	a.Logger.Info().
		Str("gateway", gw.Name()).
		Str("policy", policy.Name()).
		Str("commission_rate", cfg.Payment.Rate().String()).
		Bool("auto_complete", cfg.Payment.AutoCompleteOnPayment).
		Msg("Services wired")

	return &Services{
		Repos:     repos,
		Notifier:  notifier,
		Engine:    engine,
		Lifecycle: lifecycle,
		Payments:  payments,
	}, nil
}

// Gateway builds the configured gateway behind circuit breakers.
func (a *App) Gateway() (gateway.Gateway, error) {
	cfg := a.Config.Gateway
	settings := gateway.DefaultBreakerSettings()
	if cfg.CircuitBreakerThreshold > 0 {
		settings.Threshold = uint32(cfg.CircuitBreakerThreshold)
	}
	if cfg.CircuitBreakerTimeout > 0 {
		settings.Timeout = cfg.CircuitBreakerTimeout
	}
	settings.OnStateChange = a.Metrics.RecordBreakerState

	var inner gateway.Gateway
	switch cfg.Driver {
	case "hosted":
		inner = gateway.NewHostedCheckout(gateway.HostedConfig{
			Name:          "hosted",
			BaseURL:       cfg.BaseURL,
			StoreID:       cfg.StoreID,
			StorePassword: cfg.StorePassword,
			Timeout:       cfg.Timeout,
			Retry: retry.Config{
				MaxAttempts:  uint(max(cfg.MaxRetries, 1)),
				InitialDelay: cfg.RetryDelay,
				MaxDelay:     cfg.Timeout,
			},
		}, nil)
	case "sandbox":
		inner = gateway.NewSandbox("sandbox")
	default:
		return nil, fmt.Errorf("unknown gateway driver %q", cfg.Driver)
	}

	return gateway.NewFactory(settings, inner).Get(inner.Name())
}

// Publisher builds the notification sink the outbox relay delivers to.
func (a *App) Publisher() (service.Publisher, error) {
	cfg := a.Config.Notifications
	switch cfg.Driver {
	case "redis":
		return infraRedis.NewStreamProducer(a.Redis, cfg.Stream, cfg.StreamMaxLen), nil
	case "kafka":
		p, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case "log":
		return service.NewLogPublisher(a.Logger), nil
	default:
		return nil, errors.New("unknown notifications driver " + cfg.Driver)
	}
}
