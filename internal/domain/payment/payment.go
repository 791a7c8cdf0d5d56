package payment

import (
	"fmt"
	"time"

	"github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/google/uuid"
)

// Payment represents a single attempt to collect an amount for an order.
type Payment struct {
	ID                uuid.UUID
	OrderID           string
	IdempotencyKey    string
	Amount            Amount
	Status            PaymentStatus
	ExternalReference *string
	LastError         *string
	Version           int // Optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// NewPayment builds an unsaved payment in the INITIATED state.
// The store assigns the ID and timestamps on first save.
func NewPayment(orderID, idempotencyKey string, amount Amount) (*Payment, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, errors.NewValidationError("idempotency_key", "cannot be empty")
	}
	if orderID == "" {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}

	return &Payment{
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey,
		Amount:         amount,
		Status:         StatusInitiated,
	}, nil
}

// Clone returns a deep copy so stored records are never shared with callers.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.ExternalReference != nil {
		ref := *p.ExternalReference
		c.ExternalReference = &ref
	}
	if p.LastError != nil {
		msg := *p.LastError
		c.LastError = &msg
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Reference returns the external reference or an empty string.
func (p *Payment) Reference() string {
	if p.ExternalReference == nil {
		return ""
	}
	return *p.ExternalReference
}

// AttachReference records the provider's reference. Once set it cannot change.
func (p *Payment) AttachReference(ref string) error {
	if ref == "" {
		return errors.NewValidationError("external_reference", "cannot be empty")
	}
	if p.ExternalReference != nil && *p.ExternalReference != ref {
		return errors.NewDomainError(
			"reference_mismatch",
			"payment "+p.ID.String()+" already has external reference "+*p.ExternalReference,
			errors.ErrInvalidInput,
		)
	}
	p.ExternalReference = &ref
	return nil
}

// MarkPending moves the payment to PENDING with the provider's reference.
func (p *Payment) MarkPending(ref string) error {
	if err := p.TransitionTo(StatusPending); err != nil {
		return err
	}
	if ref != "" {
		return p.AttachReference(ref)
	}
	return nil
}

// MarkSucceeded moves the payment to SUCCESS. ref may be empty when the
// reference was attached earlier.
func (p *Payment) MarkSucceeded(ref string) error {
	if err := p.TransitionTo(StatusSuccess); err != nil {
		return err
	}
	p.LastError = nil
	if ref != "" {
		return p.AttachReference(ref)
	}
	return nil
}

// MarkRetryable records that the provider could not be reached.
func (p *Payment) MarkRetryable(errorMsg string) error {
	if err := p.TransitionTo(StatusRetryable); err != nil {
		return err
	}
	p.LastError = &errorMsg
	return nil
}

// MarkFailed transitions the payment to failed status
func (p *Payment) MarkFailed(reason string) error {
	if err := p.TransitionTo(StatusFailed); err != nil {
		return err
	}
	if reason != "" {
		p.LastError = &reason
	}
	return nil
}

// IsTerminal checks if the payment is in a terminal state
func (p *Payment) IsTerminal() bool {
	return p.Status.IsTerminal()
}

func validateAmount(amount Amount) error {
	if amount.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	// Simple currency validation (3-letter code)
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
