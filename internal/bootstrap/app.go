package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	"github.com/cassiomorais/paymentcore/internal/controller"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/kafka"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/memory"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/postgres"
	infraRedis "github.com/cassiomorais/paymentcore/internal/infrastructure/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Options tune what New connects to.
type Options struct {
	ServiceName      string
	MetricsNamespace string
	// RequireRedis connects to Redis even when no configured component needs it.
	RequireRedis bool
}

type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     payment.Store
	Pool      *pgxpool.Pool // nil with the memory store
	Redis     *redis.Client // nil when not required
	Metrics   *observability.Metrics
	Publisher paymentApp.EventPublisher
	tracer    *sdktrace.TracerProvider
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		With().Str("service", opts.ServiceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(opts.MetricsNamespace, nil),
	}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(opts.ServiceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracer = tp
			logger.Info().Msg("Tracing enabled")
		}
	}

	if err := app.connect(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) connect(ctx context.Context, opts Options) error {
	cfg := a.Config

	switch cfg.Store.Driver {
	case "memory":
		a.Store = memory.NewPaymentStore()
		a.Logger.Warn().Msg("Using in-memory payment store; state is lost on restart")
	case "postgres":
		pool, err := postgres.NewPool(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.Pool = pool
		a.Store = postgres.NewPaymentStore(pool)
		a.Logger.Info().Msg("Connected to PostgreSQL")
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if opts.RequireRedis || cfg.Events.Sink == "redis" {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.Redis = client
		a.Logger.Info().Msg("Connected to Redis")
	}

	switch cfg.Events.Sink {
	case "redis":
		a.Publisher = infraRedis.NewEventPublisher(a.Redis, cfg.Events.StreamMaxLen)
	case "kafka":
		a.Publisher = kafka.NewEventPublisher(cfg.Events.Kafka, observability.WithComponent(a.Logger, "kafka"))
	default:
		a.Publisher = paymentApp.NoopPublisher{}
	}
	a.Logger.Info().Str("sink", a.Publisher.Name()).Msg("Event publisher ready")
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.tracer != nil {
		errs = append(errs, observability.Shutdown(context.Background(), a.tracer))
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Error().Err(err).Msg("Error during shutdown")
	}
}

// HealthChecks returns readiness checks for the connected dependencies.
func (a *App) HealthChecks() []controller.HealthCheck {
	var checks []controller.HealthCheck
	if a.Pool != nil {
		checks = append(checks, controller.HealthCheck{Name: "database", Check: a.Pool.Ping})
	}
	if a.Redis != nil {
		checks = append(checks, controller.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}
