package providers

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/google/uuid"
)

var errSimulatedOutage = errors.New("simulated outage")

// SimulatedProvider stands in for a real processor. Each call independently
// fails, answers PENDING, or answers SUCCESS according to the configured rates.
type SimulatedProvider struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	pendingRate float64 // 0.0 to 1.0, of the calls that did not fail
	latency     time.Duration
	rand        func() float64
}

type SimulatedOption func(*SimulatedProvider)

func WithFailureRate(rate float64) SimulatedOption {
	return func(p *SimulatedProvider) { p.failureRate = rate }
}

func WithPendingRate(rate float64) SimulatedOption {
	return func(p *SimulatedProvider) { p.pendingRate = rate }
}

func WithLatency(d time.Duration) SimulatedOption {
	return func(p *SimulatedProvider) { p.latency = d }
}

// WithRandom replaces the random source, mainly for deterministic tests.
func WithRandom(fn func() float64) SimulatedOption {
	return func(p *SimulatedProvider) { p.rand = fn }
}

func NewSimulatedProvider(name string, opts ...SimulatedOption) *SimulatedProvider {
	p := &SimulatedProvider{
		name:    name,
		latency: 100 * time.Millisecond,
		rand:    rand.Float64,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *SimulatedProvider) Name() string { return p.name }

func (p *SimulatedProvider) Initiate(ctx context.Context, _ InitiateRequest) (*Result, error) {
	// Simulate latency
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, Unavailable(p.name, domainErrors.ErrProviderTimeout)
		}
	}

	if p.rand() < p.failureRate {
		return nil, Unavailable(p.name, errSimulatedOutage)
	}

	result := &Result{ExternalReference: "EXT-" + uuid.New().String(), Outcome: OutcomeSuccess}
	if p.rand() < p.pendingRate {
		result.Outcome = OutcomePending
	}
	return result, nil
}
