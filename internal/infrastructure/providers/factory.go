package providers

import (
	"fmt"

	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
)

// New builds the configured provider wrapped in a circuit breaker.
func New(cfg config.ProviderConfig, metrics *observability.Metrics) (*BreakerProvider, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Kind
	}

	var p Provider
	switch cfg.Kind {
	case "simulated":
		p = NewSimulatedProvider(name,
			WithLatency(cfg.Latency),
			WithFailureRate(cfg.FailureRate),
			WithPendingRate(cfg.PendingRate),
		)
	case "http":
		p = NewHTTPProvider(name, cfg.BaseURL, cfg.Timeout, nil)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	return NewBreakerProvider(p, cfg.Breaker, metrics), nil
}
