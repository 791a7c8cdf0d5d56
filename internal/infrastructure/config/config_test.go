package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{Driver: "postgres"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Payment: PaymentConfig{
			DefaultCurrency:        "USD",
			ImmediateSuccessPolicy: PolicyAuthoritative,
			ProcessingTimeout:      20 * time.Second,
			AwaitTimeout:           10 * time.Second,
			AwaitPollInterval:      50 * time.Millisecond,
			ReservationTTL:         5 * time.Minute,
		},
		Provider: ProviderConfig{Kind: "simulated", Timeout: 10 * time.Second},
		Worker: WorkerConfig{
			BatchSize: 10,
			LockTTL:   30 * time.Second,
		},
		Events: EventsConfig{Sink: "none"},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 99999 }, "server.port"},
		{"read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read_timeout"},
		{"write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }, "write_timeout"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"redis port", func(c *Config) { c.Redis.Port = 0 }, "redis.port"},
		{"currency", func(c *Config) { c.Payment.DefaultCurrency = "US" }, "default_currency"},
		{"policy", func(c *Config) { c.Payment.ImmediateSuccessPolicy = "optimistic" }, "immediate_success_policy"},
		{"await timeout", func(c *Config) { c.Payment.AwaitTimeout = 0 }, "await_timeout"},
		{"reservation ttl", func(c *Config) { c.Payment.ReservationTTL = time.Second }, "reservation_ttl"},
		{"provider kind", func(c *Config) { c.Provider.Kind = "grpc" }, "provider.kind"},
		{"http without url", func(c *Config) { c.Provider.Kind = "http" }, "provider.base_url"},
		{"provider timeout", func(c *Config) { c.Provider.Timeout = 0 }, "provider.timeout"},
		{"provider timeout exceeds processing", func(c *Config) { c.Provider.Timeout = c.Payment.ProcessingTimeout }, "shorter than payment.processing_timeout"},
		{"rate limit without window", func(c *Config) { c.Server.RateLimit = 10 }, "server.rate_limit_window"},
		{"rates", func(c *Config) { c.Provider.FailureRate = 1.5 }, "rates"},
		{"batch size", func(c *Config) { c.Worker.BatchSize = 0 }, "worker.batch_size"},
		{"kafka without brokers", func(c *Config) { c.Events.Sink = "kafka" }, "events.kafka"},
		{"unknown sink", func(c *Config) { c.Events.Sink = "sns" }, "events.sink"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_Validate_MemoryStoreSkipsDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "memory"
	cfg.Database = DatabaseConfig{}

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Worker.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "worker.batch_size")
}

func TestConfig_Validate_Production(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	cfg.Database.Password = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password")
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "USD", cfg.Payment.DefaultCurrency)
	assert.Equal(t, PolicyAuthoritative, cfg.Payment.ImmediateSuccessPolicy)
	assert.Equal(t, 10*time.Second, cfg.Payment.AwaitTimeout)
	assert.Equal(t, "simulated", cfg.Provider.Kind)
	assert.Equal(t, uint32(10), cfg.Provider.Breaker.MaxRequests)
	assert.Equal(t, "redis", cfg.Events.Sink)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAYMENTS_STORE_DRIVER", "memory")
	t.Setenv("PAYMENTS_PAYMENT_IMMEDIATE_SUCCESS_POLICY", PolicyCorroborate)
	t.Setenv("PAYMENTS_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, PolicyCorroborate, cfg.Payment.ImmediateSuccessPolicy)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAYMENTS_PAYMENT_IMMEDIATE_SUCCESS_POLICY", "whatever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "pay", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=pay sslmode=disable", c.DatabaseDSN())
	assert.Equal(t, "postgres://u:p@db:5432/pay?sslmode=disable", c.DatabaseURL())
}

func TestRedisConfig_Addr(t *testing.T) {
	c := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", c.RedisAddr())
}
