package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Immediate-success policies for a provider that reports SUCCESS synchronously.
const (
	PolicyAuthoritative = "authoritative"
	PolicyCorroborate   = "corroborate"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Events        EventsConfig        `mapstructure:"events"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StoreConfig selects the payment store backend: "memory" or "postgres".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type PaymentConfig struct {
	DefaultCurrency        string        `mapstructure:"default_currency"`
	ImmediateSuccessPolicy string        `mapstructure:"immediate_success_policy"`
	ProcessingTimeout      time.Duration `mapstructure:"processing_timeout"`
	AwaitTimeout           time.Duration `mapstructure:"await_timeout"`
	AwaitPollInterval      time.Duration `mapstructure:"await_poll_interval"`
	ConflictRetries        uint          `mapstructure:"conflict_retries"`
	ReservationTTL         time.Duration `mapstructure:"reservation_ttl"`
	RetryableTTL           time.Duration `mapstructure:"retryable_ttl"`
}

type ProviderConfig struct {
	Kind        string        `mapstructure:"kind"` // "simulated" or "http"
	Name        string        `mapstructure:"name"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Latency     time.Duration `mapstructure:"latency"`
	PendingRate float64       `mapstructure:"pending_rate"`
	FailureRate float64       `mapstructure:"failure_rate"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type WorkerConfig struct {
	BatchSize      int64         `mapstructure:"batch_size"`
	BlockDuration  time.Duration `mapstructure:"block_duration"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	ClaimMinIdle   time.Duration `mapstructure:"claim_min_idle"`
}

// EventsConfig selects where lifecycle events go: "none", "redis" or "kafka".
type EventsConfig struct {
	Sink         string      `mapstructure:"sink"`
	StreamMaxLen int64       `mapstructure:"stream_max_len"`
	Kafka        KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_window must be positive when server.rate_limit is set"))
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory or postgres, got %q", c.Store.Driver))
	}

	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	if len(c.Payment.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("payment.default_currency must be a 3-letter code"))
	}
	if c.Payment.ImmediateSuccessPolicy != PolicyAuthoritative && c.Payment.ImmediateSuccessPolicy != PolicyCorroborate {
		errs = append(errs, fmt.Errorf("payment.immediate_success_policy must be %s or %s", PolicyAuthoritative, PolicyCorroborate))
	}
	if c.Payment.ProcessingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.processing_timeout must be positive"))
	}
	if c.Payment.AwaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.await_timeout must be positive"))
	}
	if c.Payment.AwaitPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("payment.await_poll_interval must be positive"))
	}
	if c.Payment.ReservationTTL <= c.Payment.ProcessingTimeout {
		errs = append(errs, fmt.Errorf("payment.reservation_ttl must exceed payment.processing_timeout"))
	}

	switch c.Provider.Kind {
	case "simulated":
	case "http":
		if c.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider.base_url is required for http providers"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be simulated or http, got %q", c.Provider.Kind))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive"))
	} else if c.Provider.Timeout >= c.Payment.ProcessingTimeout {
		errs = append(errs, fmt.Errorf("provider.timeout must be shorter than payment.processing_timeout"))
	}
	if c.Provider.PendingRate < 0 || c.Provider.PendingRate > 1 || c.Provider.FailureRate < 0 || c.Provider.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("provider rates must be between 0 and 1"))
	}

	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("worker.lock_ttl must be positive"))
	}

	switch c.Events.Sink {
	case "none", "redis":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			errs = append(errs, fmt.Errorf("events.kafka.brokers and events.kafka.topic are required for the kafka sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.sink must be none, redis or kafka, got %q", c.Events.Sink))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Store.Driver == "postgres" && c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_limit_window", "1m")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	v.SetDefault("store.driver", "postgres")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Payment defaults
	v.SetDefault("payment.default_currency", "USD")
	v.SetDefault("payment.immediate_success_policy", PolicyAuthoritative)
	v.SetDefault("payment.processing_timeout", "20s")
	v.SetDefault("payment.await_timeout", "10s")
	v.SetDefault("payment.await_poll_interval", "50ms")
	v.SetDefault("payment.conflict_retries", 5)
	v.SetDefault("payment.reservation_ttl", "5m")
	v.SetDefault("payment.retryable_ttl", "24h")

	// Provider defaults
	v.SetDefault("provider.kind", "simulated")
	v.SetDefault("provider.name", "simulated")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.latency", "200ms")
	v.SetDefault("provider.pending_rate", 0.5)
	v.SetDefault("provider.failure_rate", 0.33)
	v.SetDefault("provider.breaker.max_requests", 10)
	v.SetDefault("provider.breaker.interval", "60s")
	v.SetDefault("provider.breaker.timeout", "30s")
	v.SetDefault("provider.breaker.min_requests", 10)
	v.SetDefault("provider.breaker.failure_ratio", 0.6)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "payment-reconcilers")
	v.SetDefault("worker.sweep_interval", "30s")
	v.SetDefault("worker.sweep_batch_size", 100)
	v.SetDefault("worker.lock_ttl", "30s")
	v.SetDefault("worker.claim_min_idle", "1m")

	// Events defaults
	v.SetDefault("events.sink", "redis")
	v.SetDefault("events.stream_max_len", 100000)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "payment-events")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "payments-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the URL form used by golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
