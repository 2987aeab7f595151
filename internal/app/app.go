package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/cartstore/internal/blob"
	"github.com/utafrali/cartstore/internal/blob/memory"
	pgblob "github.com/utafrali/cartstore/internal/blob/postgres"
	redisblob "github.com/utafrali/cartstore/internal/blob/redis"
	"github.com/utafrali/cartstore/internal/config"
	"github.com/utafrali/cartstore/internal/event"
	handler "github.com/utafrali/cartstore/internal/handler/http"
	"github.com/utafrali/cartstore/internal/service"
	"github.com/utafrali/cartstore/pkg/database"
	"github.com/utafrali/cartstore/pkg/health"
	pkgkafka "github.com/utafrali/cartstore/pkg/kafka"
	"github.com/utafrali/cartstore/pkg/tracing"
)

const serviceName = "cart-service"

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 10 * time.Second

// App wires together all dependencies and runs the cart server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	blobs          *blob.Breaker
	closeBackend   func() error
	producer       *pkgkafka.Producer
	cartService    *service.CartService
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Open the blob backend the carts are persisted to.
	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}
	blobs := blob.NewBreaker(backend, cfg.Breaker(), logger)

	// Cart events are best effort; a missing broker does not block startup.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher = event.Nop{}
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := producer.Ping(ctx); err != nil {
			logger.Warn("kafka unreachable, cart events will be retried per publish",
				slog.Any("brokers", cfg.KafkaBrokers),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = event.NewProducer(producer, logger)
	}

	cartService := service.NewCartService(blobs, publisher, logger, service.Config{
		KeyPrefix: cfg.StorageKey,
		IdleTTL:   cfg.SessionIdleTTL(),
		Capacity:  cfg.SessionCapacity,
	})

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("blob_"+cfg.Backend, blobs.Ping)

	router := handler.NewRouter(cartService, healthHandler, logger, handler.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		blobs:          blobs,
		closeBackend:   closeBackend,
		producer:       producer,
		cartService:    cartService,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// openBackend connects the blob store selected by CART_BACKEND. The returned
// func releases its connections.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory cart storage, carts are lost on restart")
		return memory.New(), func() error { return nil }, nil

	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		unregister := registerPoolMetrics(database.SystemRedis, database.RedisPoolStats(rdb), logger)
		return redisblob.NewStore(rdb, cfg.CartTTLDuration()), func() error {
			unregister()
			return rdb.Close()
		}, nil

	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)

		if err := database.RunMigrations(ctx, pool, pgblob.Migrations(), logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		unregister := registerPoolMetrics(database.SystemPostgres, database.PgxPoolStats(pool), logger)
		return pgblob.NewStore(pool), func() error {
			unregister()
			pool.Close()
			return nil
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown cart backend %q", cfg.Backend)
	}
}

// registerPoolMetrics exports connection pool gauges on /metrics. A failed
// registration only costs the metrics.
func registerPoolMetrics(system string, stats func() database.PoolStats, logger *slog.Logger) func() {
	unregister, err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, database.NewPoolCollector(system, stats))
	if err != nil {
		logger.Warn("failed to register connection pool metrics",
			slog.String("system", system),
			slog.String("error", err.Error()),
		)
	}
	return unregister
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the session expiry loop, then blocks until
// ctx is canceled or the server fails. Either way the app is shut down
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.cartService.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in order: HTTP server first so
// in-flight cart writes finish, then the tracer, Kafka producer and backend.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.cartService.Stop()

	if err := a.tracerShutdown(ctx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.closeBackend(); err != nil {
		a.logger.Error("cart backend close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
