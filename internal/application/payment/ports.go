package payment

import (
	"context"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
)

// EventPublisher delivers lifecycle events to downstream consumers.
// Delivery is best effort: the store stays the source of truth.
type EventPublisher interface {
	Name() string
	Publish(ctx context.Context, event payment.Event) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Name() string                               { return "none" }
func (NoopPublisher) Publish(context.Context, payment.Event) error { return nil }
func (NoopPublisher) Close() error                               { return nil }
