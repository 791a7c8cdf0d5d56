package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/providers"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InitiatePaymentRequest holds the input for initiating a payment.
type InitiatePaymentRequest struct {
	OrderID        string
	IdempotencyKey string
	AmountCents    int64
	Currency       string // defaults to the configured currency
}

// InitiatePaymentResponse holds the settled payment.
type InitiatePaymentResponse struct {
	Payment *payment.Payment
	// Replayed is true when an earlier request with the same key produced the payment.
	Replayed bool
}

// InitiatePaymentOptions tunes the use case.
type InitiatePaymentOptions struct {
	DefaultCurrency string
	// ImmediateSuccessPolicy is config.PolicyAuthoritative or config.PolicyCorroborate.
	ImmediateSuccessPolicy string
	ConflictRetries        uint
	// ProviderTimeout bounds the provider call. It must leave part of the
	// guard's processing budget for recording the outcome.
	ProviderTimeout time.Duration
}

// outcomeSaveTimeout bounds recording the provider's answer once the call returned.
const outcomeSaveTimeout = 5 * time.Second

// InitiatePaymentUseCase creates a payment and asks the provider to collect
// it, calling the provider exactly once per idempotency key.
type InitiatePaymentUseCase struct {
	guard       *Guard
	provider    providers.Provider
	transitions *transitioner
	opts        InitiatePaymentOptions
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewInitiatePaymentUseCase creates a new InitiatePaymentUseCase.
func NewInitiatePaymentUseCase(
	store payment.Store,
	guard *Guard,
	provider providers.Provider,
	publisher EventPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts InitiatePaymentOptions,
) *InitiatePaymentUseCase {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.ImmediateSuccessPolicy == "" {
		opts.ImmediateSuccessPolicy = config.PolicyAuthoritative
	}
	logger = observability.WithComponent(logger, "initiate")
	return &InitiatePaymentUseCase{
		guard:       guard,
		provider:    provider,
		transitions: newTransitioner(store, publisher, metrics, logger, opts.ConflictRetries),
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute validates the request, reserves its idempotency key and drives the
// payment to the state implied by the provider's answer. Replays return the
// stored payment without touching the provider.
func (uc *InitiatePaymentUseCase) Execute(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	ctx, span := observability.Tracer().Start(ctx, "payment.initiate", trace.WithAttributes(
		attribute.String("payment.idempotency_key", req.IdempotencyKey),
		attribute.String("payment.order_id", req.OrderID),
	))
	defer span.End()

	currency := req.Currency
	if currency == "" {
		currency = uc.opts.DefaultCurrency
	}

	candidate, err := payment.NewPayment(req.OrderID, req.IdempotencyKey, payment.Amount{
		ValueCents: req.AmountCents,
		Currency:   currency,
	})
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	p, replayed, err := uc.guard.Execute(ctx, candidate, uc.process)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p != nil {
			return &InitiatePaymentResponse{Payment: p, Replayed: replayed}, err
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("payment.id", p.ID.String()),
		attribute.String("payment.status", string(p.Status)),
		attribute.Bool("payment.replayed", replayed),
	)
	if uc.metrics != nil {
		if replayed {
			uc.metrics.IdempotentReplays.Inc()
		} else {
			uc.metrics.PaymentsInitiated.WithLabelValues(string(p.Status)).Inc()
		}
	}

	return &InitiatePaymentResponse{Payment: p, Replayed: replayed}, nil
}

// process runs once per idempotency key, on the reserved INITIATED record.
func (uc *InitiatePaymentUseCase) process(ctx context.Context, reserved *payment.Payment) (*payment.Payment, error) {
	log := uc.logger.With().
		Str("payment_id", reserved.ID.String()).
		Str("idempotency_key", reserved.IdempotencyKey).
		Logger()

	uc.transitions.transitioned(ctx, "", reserved)

	providerCtx, cancelProvider := uc.providerContext(ctx)
	result, callErr := uc.provider.Initiate(providerCtx, providers.InitiateRequest{
		PaymentID:      reserved.ID.String(),
		OrderID:        reserved.OrderID,
		IdempotencyKey: reserved.IdempotencyKey,
		AmountCents:    reserved.Amount.ValueCents,
		Currency:       reserved.Amount.Currency,
	})
	cancelProvider()
	if callErr == nil && result.Outcome != providers.OutcomeSuccess && result.Outcome != providers.OutcomePending {
		callErr = providers.Unavailable(uc.provider.Name(), fmt.Errorf("unexpected outcome %q", result.Outcome))
	}

	if callErr != nil {
		log.Warn().Err(callErr).Msg("Provider unavailable, payment marked retryable")
	} else {
		log = log.With().Str("external_reference", result.ExternalReference).Logger()
	}

	// The call may have used up the processing budget; its outcome is recorded regardless.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), outcomeSaveTimeout)
	defer cancelSave()

	settled, _, err := uc.transitions.apply(saveCtx, reserved, func(p *payment.Payment) (bool, error) {
		return true, uc.applyOutcome(p, result, callErr)
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidStateTransition) {
			log.Error().Err(err).Msg("Provider outcome conflicts with stored payment state")
		} else {
			log.Error().Err(err).Msg("Failed to record provider outcome")
		}
		return nil, fmt.Errorf("record provider outcome: %w", err)
	}

	log.Info().Str("status", string(settled.Status)).Msg("Payment initiated")
	return settled, nil
}

func (uc *InitiatePaymentUseCase) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if uc.opts.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, uc.opts.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

// applyOutcome maps the provider's answer onto the state machine.
func (uc *InitiatePaymentUseCase) applyOutcome(p *payment.Payment, result *providers.Result, callErr error) error {
	if callErr != nil {
		if p.Status == payment.StatusRetryable {
			// Already swept to RETRYABLE; only refresh the error.
			msg := callErr.Error()
			p.LastError = &msg
			return nil
		}
		return p.MarkRetryable(callErr.Error())
	}

	if result.Outcome == providers.OutcomeSuccess && uc.opts.ImmediateSuccessPolicy == config.PolicyAuthoritative {
		return p.MarkSucceeded(result.ExternalReference)
	}
	return p.MarkPending(result.ExternalReference)
}
