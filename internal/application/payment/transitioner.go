package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/cassiomorais/paymentcore/pkg/retry"
	"github.com/rs/zerolog"
)

// mutation inspects the latest copy of a payment and either changes it
// (returning true) or decides nothing needs to happen.
type mutation func(p *payment.Payment) (changed bool, err error)

// transitioner persists state changes with compare-and-swap saves. On a
// version conflict it reloads the payment and re-runs the mutation, so each
// decision is always made against the latest stored state.
type transitioner struct {
	store     payment.Store
	publisher EventPublisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
	retries   uint
}

func newTransitioner(store payment.Store, publisher EventPublisher, metrics *observability.Metrics, logger zerolog.Logger, retries uint) *transitioner {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if retries == 0 {
		retries = 5
	}
	return &transitioner{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		retries:   retries,
	}
}

// apply runs mutate against p and saves the result. It returns the stored
// payment and whether a change was persisted.
func (t *transitioner) apply(ctx context.Context, p *payment.Payment, mutate mutation) (*payment.Payment, bool, error) {
	current := p
	var changed bool

	cfg := retry.Config{
		MaxAttempts:  t.retries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		RetryIf: func(err error) bool {
			return errors.Is(err, domainErrors.ErrOptimisticLockFailed)
		},
	}

	saved, err := retry.DoWithResult(ctx, cfg, func() (*payment.Payment, error) {
		working := current.Clone()
		from := working.Status

		ok, err := mutate(working)
		if err != nil {
			return nil, err
		}
		if !ok {
			changed = false
			return current, nil
		}

		stored, err := t.store.Save(ctx, working)
		if errors.Is(err, domainErrors.ErrOptimisticLockFailed) {
			reloaded, findErr := t.store.FindByID(ctx, working.ID)
			if findErr != nil {
				return nil, fmt.Errorf("reload after conflict: %w", findErr)
			}
			current = reloaded
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		changed = true
		if from != stored.Status {
			t.transitioned(ctx, from, stored)
		}
		return stored, nil
	})
	if err != nil {
		return nil, false, err
	}
	return saved, changed, nil
}

// transitioned records metrics and publishes the lifecycle event for a
// persisted change. from is empty for a freshly created payment.
func (t *transitioner) transitioned(ctx context.Context, from payment.PaymentStatus, p *payment.Payment) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	if t.metrics != nil {
		t.metrics.StateTransitions.WithLabelValues(fromLabel, string(p.Status)).Inc()
	}

	result := "ok"
	if err := t.publisher.Publish(ctx, payment.NewEvent(p)); err != nil {
		result = "error"
		t.logger.Warn().Err(err).
			Str("payment_id", p.ID.String()).
			Str("status", string(p.Status)).
			Str("sink", t.publisher.Name()).
			Msg("Failed to publish payment event")
	}
	if t.metrics != nil {
		t.metrics.EventsPublished.WithLabelValues(t.publisher.Name(), result).Inc()
	}
}
