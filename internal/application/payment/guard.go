package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/pkg/retry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ProcessFunc performs the one-time work for a freshly reserved payment and
// returns its settled state.
type ProcessFunc func(ctx context.Context, reserved *payment.Payment) (*payment.Payment, error)

// GuardConfig bounds how long work and waiting may take.
type GuardConfig struct {
	// ProcessingTimeout caps the work done for a new key, independent of the caller.
	ProcessingTimeout time.Duration
	// AwaitTimeout caps how long a duplicate waits for an in-flight payment to settle.
	AwaitTimeout time.Duration
	// PollInterval is how often a duplicate re-reads the store while waiting.
	PollInterval time.Duration
}

// Guard makes initiation idempotent per key. Duplicates inside this process
// share the leader's call; across processes the store's Reserve decides who
// does the work and everyone else waits for the stored result.
type Guard struct {
	store  payment.Store
	group  singleflight.Group
	cfg    GuardConfig
	logger zerolog.Logger
}

type guardResult struct {
	payment  *payment.Payment
	replayed bool
}

func NewGuard(store payment.Store, cfg GuardConfig, logger zerolog.Logger) *Guard {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 20 * time.Second
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &Guard{store: store, cfg: cfg, logger: logger}
}

// Execute reserves candidate's idempotency key and runs process exactly once
// for it. replayed is true when the caller did not trigger the work.
//
// The work is detached from the caller's cancellation: a caller that gives up
// gets ctx.Err() while the reservation and provider call carry on.
func (g *Guard) Execute(ctx context.Context, candidate *payment.Payment, process ProcessFunc) (*payment.Payment, bool, error) {
	leader := false
	ch := g.group.DoChan(candidate.IdempotencyKey, func() (any, error) {
		leader = true
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ProcessingTimeout)
		defer cancel()
		res, err := g.run(workCtx, candidate, process)
		return res, err
	})

	select {
	case r := <-ch:
		res, _ := r.Val.(*guardResult)
		if res == nil || res.payment == nil {
			return nil, !leader, r.Err
		}
		return res.payment.Clone(), res.replayed || !leader, r.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (g *Guard) run(ctx context.Context, candidate *payment.Payment, process ProcessFunc) (*guardResult, error) {
	stored, created, err := g.store.Reserve(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	if created {
		g.logger.Debug().
			Str("payment_id", stored.ID.String()).
			Str("idempotency_key", stored.IdempotencyKey).
			Msg("Idempotency key reserved")
		settled, err := process(ctx, stored)
		return &guardResult{payment: settled}, err
	}

	if stored.Status != payment.StatusInitiated {
		return &guardResult{payment: stored, replayed: true}, nil
	}

	settled, err := g.awaitSettled(ctx, stored)
	return &guardResult{payment: settled, replayed: true}, err
}

// awaitSettled polls until the payment leaves INITIATED. If it does not do so
// within AwaitTimeout, the in-flight record is returned with ErrPaymentInProgress.
func (g *Guard) awaitSettled(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.AwaitTimeout)
	defer cancel()

	latest := p
	err := retry.Do(waitCtx, retry.Polling(g.cfg.PollInterval, isInProgress), func() error {
		current, err := g.store.FindByID(waitCtx, p.ID)
		if err != nil {
			return err
		}
		latest = current
		if current.Status == payment.StatusInitiated {
			return domainErrors.ErrPaymentInProgress
		}
		return nil
	})

	if err == nil {
		return latest, nil
	}
	waitedOut := isInProgress(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if waitedOut && latest.Status == payment.StatusInitiated {
		g.logger.Warn().
			Str("payment_id", p.ID.String()).
			Str("idempotency_key", p.IdempotencyKey).
			Dur("waited", g.cfg.AwaitTimeout).
			Msg("Duplicate request gave up waiting for in-flight payment")
		return latest, fmt.Errorf("idempotency key %q: %w", p.IdempotencyKey, domainErrors.ErrPaymentInProgress)
	}
	return nil, fmt.Errorf("await payment %s: %w", p.ID, err)
}

func isInProgress(err error) bool {
	return errors.Is(err, domainErrors.ErrPaymentInProgress)
}
