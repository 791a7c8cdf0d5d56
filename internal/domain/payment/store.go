package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for payment persistence.
// Implementations return copies; a record is visible together with its
// idempotency-key and external-reference indexes or not at all.
type Store interface {
	// Save inserts a payment without an ID or updates an existing one.
	// Updates compare the stored Version with the caller's and fail with
	// ErrOptimisticLockFailed on mismatch.
	Save(ctx context.Context, payment *Payment) (*Payment, error)

	// Reserve inserts the candidate unless a payment with the same
	// idempotency key exists. created reports which case happened.
	Reserve(ctx context.Context, candidate *Payment) (stored *Payment, created bool, err error)

	// FindByID retrieves a payment by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// FindByIdempotencyKey retrieves a payment by idempotency key
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)

	// FindByExternalReference retrieves a payment by the provider's reference
	FindByExternalReference(ctx context.Context, ref string) (*Payment, error)

	// ListStale returns up to limit payments in status last updated before olderThan.
	ListStale(ctx context.Context, status PaymentStatus, olderThan time.Time, limit int) ([]*Payment, error)
}

// Event describes a lifecycle change published to downstream consumers.
type Event struct {
	ID                uuid.UUID
	Type              string
	PaymentID         uuid.UUID
	OrderID           string
	Status            PaymentStatus
	ExternalReference string
	AmountCents       int64
	Currency          string
	OccurredAt        time.Time
}

// NewEvent builds the event for the payment's current status.
func NewEvent(p *Payment) Event {
	return Event{
		ID:                uuid.New(),
		Type:              "payment." + strings.ToLower(string(p.Status)),
		PaymentID:         p.ID,
		OrderID:           p.OrderID,
		Status:            p.Status,
		ExternalReference: p.Reference(),
		AmountCents:       p.Amount.ValueCents,
		Currency:          p.Amount.Currency,
		OccurredAt:        p.UpdatedAt,
	}
}
