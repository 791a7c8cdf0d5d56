package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReconcileCallbackRequest is an asynchronous status notification from the provider.
type ReconcileCallbackRequest struct {
	ExternalReference string
	Status            string
}

// ReconcileCallbackUseCase applies provider callbacks to stored payments.
// Callbacks are idempotent: once a payment is terminal, later callbacks
// return it unchanged, so the first terminal status wins.
type ReconcileCallbackUseCase struct {
	store       payment.Store
	transitions *transitioner
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewReconcileCallbackUseCase creates a new ReconcileCallbackUseCase.
func NewReconcileCallbackUseCase(
	store payment.Store,
	publisher EventPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	conflictRetries uint,
) *ReconcileCallbackUseCase {
	logger = observability.WithComponent(logger, "reconcile")
	return &ReconcileCallbackUseCase{
		store:       store,
		transitions: newTransitioner(store, publisher, metrics, logger, conflictRetries),
		metrics:     metrics,
		logger:      logger,
	}
}

// Execute looks the payment up by external reference and moves it to the
// reported status if that is a legal transition from its current state.
func (uc *ReconcileCallbackUseCase) Execute(ctx context.Context, req ReconcileCallbackRequest) (*payment.Payment, error) {
	ctx, span := observability.Tracer().Start(ctx, "payment.reconcile", trace.WithAttributes(
		attribute.String("payment.external_reference", req.ExternalReference),
		attribute.String("payment.reported_status", req.Status),
	))
	defer span.End()

	p, result, err := uc.reconcile(ctx, req)
	uc.count(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.status", string(p.Status)), attribute.String("callback.result", result))
	return p, nil
}

func (uc *ReconcileCallbackUseCase) reconcile(ctx context.Context, req ReconcileCallbackRequest) (*payment.Payment, string, error) {
	ref := strings.TrimSpace(req.ExternalReference)
	if ref == "" {
		return nil, "invalid", domainErrors.NewValidationError("external_reference", "cannot be empty")
	}
	reported, err := payment.ParseStatus(req.Status)
	if err != nil {
		return nil, "invalid", err
	}
	switch reported {
	case payment.StatusSuccess, payment.StatusFailed, payment.StatusPending:
	default:
		return nil, "invalid", domainErrors.NewValidationError("status", "callbacks may only report SUCCESS, FAILED or PENDING")
	}

	p, err := uc.store.FindByExternalReference(ctx, ref)
	if errors.Is(err, domainErrors.ErrPaymentNotFound) {
		uc.logger.Warn().Str("external_reference", ref).Str("status", string(reported)).Msg("Callback for unknown reference")
		return nil, "unknown", fmt.Errorf("%w: %s", domainErrors.ErrUnknownReference, ref)
	}
	if err != nil {
		return nil, "error", fmt.Errorf("find payment by reference: %w", err)
	}

	log := uc.logger.With().
		Str("payment_id", p.ID.String()).
		Str("external_reference", ref).
		Str("reported", string(reported)).
		Logger()

	saved, changed, err := uc.transitions.apply(ctx, p, func(cur *payment.Payment) (bool, error) {
		if cur.IsTerminal() || cur.Status == reported {
			return false, nil
		}
		switch reported {
		case payment.StatusSuccess:
			return true, cur.MarkSucceeded("")
		case payment.StatusFailed:
			return true, cur.MarkFailed("")
		default:
			return true, cur.MarkPending("")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply callback")
		return nil, "error", fmt.Errorf("apply callback: %w", err)
	}

	if !changed {
		log.Info().Str("status", string(saved.Status)).Msg("Callback ignored, payment already settled")
		return saved, "duplicate", nil
	}
	log.Info().Str("status", string(saved.Status)).Msg("Callback applied")
	return saved, "applied", nil
}

func (uc *ReconcileCallbackUseCase) count(result string) {
	if uc.metrics != nil {
		uc.metrics.CallbacksProcessed.WithLabelValues(result).Inc()
	}
}
