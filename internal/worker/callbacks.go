package worker

import (
	"context"
	"errors"
	"time"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/paymentcore/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CallbackStream is the consumer side of the callbacks stream.
type CallbackStream interface {
	Stream() string
	Read(ctx context.Context) ([]redis.XMessage, error)
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

// DeadLetters parks messages that can never be applied.
type DeadLetters interface {
	PublishToDLQ(ctx context.Context, source string, msg redis.XMessage, reason string) error
}

// Reconciler applies one provider notification.
type Reconciler interface {
	Execute(ctx context.Context, req paymentApp.ReconcileCallbackRequest) (*payment.Payment, error)
}

// CallbackProcessor feeds stream-delivered callbacks into the reconciler.
// Messages that fail transiently stay unacked and are reclaimed later.
type CallbackProcessor struct {
	stream       CallbackStream
	dlq          DeadLetters
	reconciler   Reconciler
	metrics      *observability.Metrics
	logger       zerolog.Logger
	claimMinIdle time.Duration
	errorBackoff time.Duration
}

func NewCallbackProcessor(
	stream CallbackStream,
	dlq DeadLetters,
	reconciler Reconciler,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	claimMinIdle time.Duration,
) *CallbackProcessor {
	return &CallbackProcessor{
		stream:       stream,
		dlq:          dlq,
		reconciler:   reconciler,
		metrics:      metrics,
		logger:       observability.WithComponent(logger, "callback-processor"),
		claimMinIdle: claimMinIdle,
		errorBackoff: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (p *CallbackProcessor) Run(ctx context.Context) error {
	lastClaim := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if p.claimMinIdle > 0 && time.Since(lastClaim) >= p.claimMinIdle {
			lastClaim = time.Now()
			claimed, err := p.stream.ClaimStale(ctx, p.claimMinIdle)
			if err != nil {
				p.logger.Error().Err(err).Msg("Failed to claim stale callbacks")
			}
			p.ProcessBatch(ctx, claimed)
		}

		messages, err := p.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.errorBackoff):
			}
			continue
		}
		p.ProcessBatch(ctx, messages)
	}
}

// ProcessBatch handles messages in order.
func (p *CallbackProcessor) ProcessBatch(ctx context.Context, messages []redis.XMessage) {
	for _, msg := range messages {
		p.handle(ctx, msg)
	}
}

func (p *CallbackProcessor) handle(ctx context.Context, msg redis.XMessage) {
	start := time.Now()
	status := p.apply(ctx, msg)
	if p.metrics != nil {
		p.metrics.WorkerMessagesProcessed.WithLabelValues(p.stream.Stream(), status).Inc()
		p.metrics.WorkerProcessingDuration.WithLabelValues(p.stream.Stream()).Observe(time.Since(start).Seconds())
	}
}

func (p *CallbackProcessor) apply(ctx context.Context, msg redis.XMessage) string {
	logger := p.logger.With().Str("message_id", msg.ID).Logger()

	cb, err := infraRedis.DecodeCallback(msg.Values)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed callback message")
		return p.deadLetter(ctx, msg, "malformed: "+err.Error())
	}

	logger = logger.With().Str("external_reference", cb.ExternalReference).Str("status", cb.Status).Logger()
	_, err = p.reconciler.Execute(ctx, paymentApp.ReconcileCallbackRequest{
		ExternalReference: cb.ExternalReference,
		Status:            cb.Status,
	})
	switch {
	case err == nil:
		p.ack(ctx, msg)
		return "success"
	case errors.Is(err, domainErrors.ErrUnknownReference), errors.Is(err, domainErrors.ErrValidationFailed):
		logger.Warn().Err(err).Msg("Callback cannot be applied")
		return p.deadLetter(ctx, msg, err.Error())
	default:
		// Left pending; ClaimStale redelivers it.
		logger.Error().Err(err).Msg("Failed to reconcile callback")
		return "error"
	}
}

func (p *CallbackProcessor) deadLetter(ctx context.Context, msg redis.XMessage, reason string) string {
	if err := p.dlq.PublishToDLQ(ctx, p.stream.Stream(), msg, reason); err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter callback")
		return "error"
	}
	p.ack(ctx, msg)
	return "dead_lettered"
}

func (p *CallbackProcessor) ack(ctx context.Context, msg redis.XMessage) {
	if err := p.stream.Ack(ctx, msg.ID); err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
	}
}
