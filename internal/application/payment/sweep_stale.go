package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// SweepOptions controls which payments count as stale.
type SweepOptions struct {
	// ReservationTTL is how long a payment may sit in INITIATED before it is
	// assumed orphaned by a crashed or timed-out process.
	ReservationTTL time.Duration
	// RetryableTTL is how long a RETRYABLE payment waits for a late outcome
	// before it is failed.
	RetryableTTL time.Duration
	BatchSize    int
}

// SweepReport counts what a sweep changed.
type SweepReport struct {
	Orphaned int // INITIATED -> RETRYABLE
	Expired  int // RETRYABLE -> FAILED
}

// SweepStaleUseCase settles payments abandoned mid-flight. It never calls the
// provider, so it cannot cause a second provider call for a key.
type SweepStaleUseCase struct {
	store       payment.Store
	transitions *transitioner
	opts        SweepOptions
	now         func() time.Time
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewSweepStaleUseCase creates a new SweepStaleUseCase.
func NewSweepStaleUseCase(
	store payment.Store,
	publisher EventPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts SweepOptions,
) *SweepStaleUseCase {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger = observability.WithComponent(logger, "sweeper")
	return &SweepStaleUseCase{
		store:       store,
		transitions: newTransitioner(store, publisher, metrics, logger, 3),
		opts:        opts,
		now:         time.Now,
		metrics:     metrics,
		logger:      logger,
	}
}

// SetClock replaces the time source.
func (uc *SweepStaleUseCase) SetClock(now func() time.Time) {
	uc.now = now
}

// Execute runs one sweep pass.
func (uc *SweepStaleUseCase) Execute(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := uc.now()

	orphaned, err := uc.sweep(ctx, payment.StatusInitiated, now.Add(-uc.opts.ReservationTTL), func(p *payment.Payment) error {
		return p.MarkRetryable("no provider outcome recorded before the reservation expired")
	})
	report.Orphaned = orphaned
	if err != nil {
		return report, err
	}

	if uc.opts.RetryableTTL > 0 {
		expired, err := uc.sweep(ctx, payment.StatusRetryable, now.Add(-uc.opts.RetryableTTL), func(p *payment.Payment) error {
			return p.MarkFailed("provider unavailable for the whole retry window")
		})
		report.Expired = expired
		if err != nil {
			return report, err
		}
	}

	return report, nil
}

func (uc *SweepStaleUseCase) sweep(ctx context.Context, from payment.PaymentStatus, olderThan time.Time, move func(*payment.Payment) error) (int, error) {
	stale, err := uc.store.ListStale(ctx, from, olderThan, uc.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale %s payments: %w", from, err)
	}

	var (
		moved int
		errs  []error
	)
	for _, p := range stale {
		saved, changed, err := uc.transitions.apply(ctx, p, func(cur *payment.Payment) (bool, error) {
			// Someone else settled it since the listing.
			if cur.Status != from {
				return false, nil
			}
			return true, move(cur)
		})
		if err != nil {
			uc.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("Failed to sweep payment")
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		moved++
		if uc.metrics != nil {
			uc.metrics.PaymentsSwept.WithLabelValues(string(from), string(saved.Status)).Inc()
		}
		uc.logger.Info().
			Str("payment_id", saved.ID.String()).
			Str("from", string(from)).
			Str("to", string(saved.Status)).
			Msg("Swept stale payment")
	}
	return moved, errors.Join(errs...)
}
