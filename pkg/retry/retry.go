package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Fixed keeps the delay at InitialDelay instead of backing off.
	Fixed bool
	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called before each new attempt.
	OnRetry func(attempt uint, err error)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Polling returns a fixed-delay config that retries only errors matching retryIf.
// MaxAttempts is zero, so the context deadline bounds the loop.
func Polling(interval time.Duration, retryIf func(error) bool) Config {
	return Config{
		InitialDelay: interval,
		Fixed:        true,
		RetryIf:      retryIf,
	}
}

// Do executes a function with retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	delayType := retry.BackOffDelay
	if cfg.Fixed {
		delayType = retry.FixedDelay
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialDelay),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
	}
	if cfg.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(cfg.MaxDelay))
	}
	if cfg.RetryIf != nil {
		opts = append(opts, retry.RetryIf(cfg.RetryIf))
	}
	if cfg.OnRetry != nil {
		opts = append(opts, retry.OnRetry(cfg.OnRetry))
	}

	return retry.Do(fn, opts...)
}

// DoWithResult executes a function with retry and returns a result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
