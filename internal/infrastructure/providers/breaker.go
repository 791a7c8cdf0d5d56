package providers

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// BreakerProvider guards a provider with a circuit breaker. Rejected calls
// surface as ErrProviderUnavailable like any other outage.
type BreakerProvider struct {
	next    Provider
	cb      *gobreaker.CircuitBreaker[*Result]
	metrics *observability.Metrics
}

// NewBreakerProvider wraps next. metrics may be nil.
func NewBreakerProvider(next Provider, cfg config.BreakerConfig, metrics *observability.Metrics) *BreakerProvider {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	b := &BreakerProvider{next: next, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			if b.metrics != nil {
				b.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return b
}

func (b *BreakerProvider) Name() string { return b.next.Name() }

// State exposes the breaker state for health reporting.
func (b *BreakerProvider) State() gobreaker.State { return b.cb.State() }

func (b *BreakerProvider) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	start := time.Now()
	result, err := b.cb.Execute(func() (*Result, error) {
		return b.next.Initiate(ctx, req)
	})
	b.observe(start, err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, Unavailable(b.Name(), err)
		}
		return nil, err
	}
	return result, nil
}

func (b *BreakerProvider) observe(start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
	case err != nil:
		outcome = "failure"
	}
	b.metrics.CircuitBreakerRequests.WithLabelValues(b.Name(), outcome).Inc()
	b.metrics.ProviderCalls.WithLabelValues(b.Name(), outcome).Inc()
	b.metrics.ProviderDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
}
