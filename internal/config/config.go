package config

import (
	"fmt"
	"time"

	"github.com/utafrali/cartstore/internal/blob"
	pkgconfig "github.com/utafrali/cartstore/pkg/config"
	"github.com/utafrali/cartstore/pkg/database"
)

// Storage backends selectable with CART_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the cart server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort    int      `env:"CART_HTTP_PORT" envDefault:"8003"`
	CORSOrigins []string `env:"CART_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// PprofAllowedCIDRs may reach /debug/pprof. Empty disables the endpoints.
	PprofAllowedCIDRs []string `env:"CART_PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Cart storage
	StorageKey string `env:"CART_STORAGE_KEY" envDefault:"cart-storage"`
	Backend    string `env:"CART_BACKEND" envDefault:"redis"`

	// Session registry
	SessionIdleMinutes int    `env:"CART_SESSION_IDLE_MINUTES" envDefault:"30"`
	SessionCapacity    uint64 `env:"CART_SESSION_CAPACITY" envDefault:"10000"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart TTL in hours (default: 7 days). Applies to the Redis backend.
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"CART_DB_NAME" envDefault:"cart_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Blob store circuit breaker
	BreakerTimeoutSeconds int     `env:"CART_BREAKER_TIMEOUT_SECONDS" envDefault:"15"`
	BreakerFailureRatio   float64 `env:"CART_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests    uint32  `env:"CART_BREAKER_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("CART_STORAGE_KEY is required")
	}
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("CART_BACKEND must be one of memory, redis, postgres, got %q", c.Backend)
	}
	if c.Backend == BackendPostgres && c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.SessionIdleMinutes <= 0 {
		return fmt.Errorf("CART_SESSION_IDLE_MINUTES must be > 0, got %d", c.SessionIdleMinutes)
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL_HOURS must be >= 0, got %d", c.CartTTL)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1.0 {
		return fmt.Errorf("CART_BREAKER_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.BreakerFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// SessionIdleTTL is how long an untouched cart stays in memory.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// CartTTLDuration is the expiry refreshed on every Redis write.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// Postgres returns the connection settings for the Postgres backend.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the connection settings for the Redis backend.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPass, DB: c.RedisDB}
}

// Breaker returns the blob store circuit breaker settings.
func (c *Config) Breaker() blob.BreakerConfig {
	cfg := blob.DefaultBreakerConfig()
	cfg.Timeout = time.Duration(c.BreakerTimeoutSeconds) * time.Second
	cfg.FailureRatio = c.BreakerFailureRatio
	cfg.MinRequests = c.BreakerMinRequests
	return cfg
}
