package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

// EventPublisher appends lifecycle events to a capped Redis stream.
type EventPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewEventPublisher(client redis.UniversalClient, maxLen int64) *EventPublisher {
	return &EventPublisher{client: client, stream: EventStream, maxLen: maxLen}
}

func (p *EventPublisher) Name() string {
	return "redis"
}

func (p *EventPublisher) Publish(ctx context.Context, event payment.Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: EventValues(event),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *EventPublisher) Close() error {
	return nil
}

// EventValues flattens an event into stream fields.
func EventValues(event payment.Event) map[string]any {
	return map[string]any{
		"event_id":           event.ID.String(),
		"event_type":         event.Type,
		"payment_id":         event.PaymentID.String(),
		"order_id":           event.OrderID,
		"status":             string(event.Status),
		"external_reference": event.ExternalReference,
		"amount_cents":       event.AmountCents,
		"currency":           event.Currency,
		"occurred_at":        event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
