package bootstrap

import (
	"fmt"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/providers"
)

// UseCases holds the wired payment operations.
type UseCases struct {
	Provider  *providers.BreakerProvider
	Initiate  *paymentApp.InitiatePaymentUseCase
	Reconcile *paymentApp.ReconcileCallbackUseCase
	Get       *paymentApp.GetPaymentUseCase
	Sweep     *paymentApp.SweepStaleUseCase
}

func (a *App) UseCases() (*UseCases, error) {
	cfg := a.Config

	provider, err := providers.New(cfg.Provider, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}

	guard := paymentApp.NewGuard(a.Store, paymentApp.GuardConfig{
		ProcessingTimeout: cfg.Payment.ProcessingTimeout,
		AwaitTimeout:      cfg.Payment.AwaitTimeout,
		PollInterval:      cfg.Payment.AwaitPollInterval,
	}, a.Logger)

	return &UseCases{
		Provider: provider,
		Initiate: paymentApp.NewInitiatePaymentUseCase(a.Store, guard, provider, a.Publisher, a.Metrics, a.Logger,
			paymentApp.InitiatePaymentOptions{
				DefaultCurrency:        cfg.Payment.DefaultCurrency,
				ImmediateSuccessPolicy: cfg.Payment.ImmediateSuccessPolicy,
				ConflictRetries:        cfg.Payment.ConflictRetries,
				ProviderTimeout:        cfg.Provider.Timeout,
			}),
		Reconcile: paymentApp.NewReconcileCallbackUseCase(a.Store, a.Publisher, a.Metrics, a.Logger, cfg.Payment.ConflictRetries),
		Get:       paymentApp.NewGetPaymentUseCase(a.Store),
		Sweep: paymentApp.NewSweepStaleUseCase(a.Store, a.Publisher, a.Metrics, a.Logger, paymentApp.SweepOptions{
			ReservationTTL: cfg.Payment.ReservationTTL,
			RetryableTTL:   cfg.Payment.RetryableTTL,
			BatchSize:      cfg.Worker.SweepBatchSize,
		}),
	}, nil
}
