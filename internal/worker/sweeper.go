package worker

import (
	"context"
	"time"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const sweepLockKey = "payments:sweeper"

// ExclusiveRunner runs fn while holding a cluster-wide lease.
type ExclusiveRunner interface {
	RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

// Sweep is one pass over stale payments.
type Sweep interface {
	Execute(ctx context.Context) (paymentApp.SweepReport, error)
}

// Sweeper runs the stale-payment sweep on an interval. With a lock, only
// one instance sweeps per tick.
type Sweeper struct {
	sweep    Sweep
	lock     ExclusiveRunner
	interval time.Duration
	lockTTL  time.Duration
	logger   zerolog.Logger
}

func NewSweeper(sweep Sweep, lock ExclusiveRunner, interval, lockTTL time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		sweep:    sweep,
		lock:     lock,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   observability.WithComponent(logger, "sweeper"),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Sweep failed")
		}
	}
}

// RunOnce performs a single sweep, skipping it if another instance holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	sweep := func(ctx context.Context) error {
		report, err := s.sweep.Execute(ctx)
		if report.Orphaned > 0 || report.Expired > 0 {
			s.logger.Info().
				Int("orphaned", report.Orphaned).
				Int("expired", report.Expired).
				Msg("Sweep finished")
		}
		return err
	}

	if s.lock == nil {
		return sweep(ctx)
	}
	ran, err := s.lock.RunExclusive(ctx, sweepLockKey, s.lockTTL, sweep)
	if !ran && err == nil {
		s.logger.Debug().Msg("Sweep skipped, lock held elsewhere")
	}
	return err
}
