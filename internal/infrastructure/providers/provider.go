package providers

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
)

// Outcome is the provider's synchronous verdict on an initiation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePending Outcome = "PENDING"
)

// Result holds the result of an external provider call.
type Result struct {
	ExternalReference string
	Outcome           Outcome
}

// InitiateRequest contains the data needed to start a payment.
type InitiateRequest struct {
	PaymentID      string
	OrderID        string
	IdempotencyKey string
	AmountCents    int64 // in cents
	Currency       string
}

// Provider is the interface that external payment processors implement.
// Initiate either returns a Result or an error wrapping ErrProviderUnavailable,
// never both, and never retries internally.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// Initiate asks the processor to start collecting the payment.
	Initiate(ctx context.Context, req InitiateRequest) (*Result, error)
}

// Unavailable wraps cause so callers can match ErrProviderUnavailable.
func Unavailable(provider string, cause error) error {
	return fmt.Errorf("%s: %w: %w", provider, domainErrors.ErrProviderUnavailable, cause)
}
