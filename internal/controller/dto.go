package controller

import (
	"math"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts travel as decimals in major units ("12.34" or 12.34) and are
// converted to minor units before reaching the use cases.

// InitiatePaymentRequest holds the input for initiating a payment.
type InitiatePaymentRequest struct {
	OrderID string          `json:"order_id" validate:"required,max=255"`
	Amount  decimal.Decimal `json:"amount"`
	// Currency defaults to the configured currency when empty.
	Currency string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	// IdempotencyKey is a fallback for clients that cannot set the header.
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
}

// CallbackRequest is a provider status notification.
type CallbackRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=255"`
	Status            string `json:"status" validate:"required"`
}

// --- Response DTOs ---

// PaymentView represents a payment in API responses.
type PaymentView struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	IdempotencyKey    string     `json:"idempotency_key"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	ExternalReference *string    `json:"external_reference,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Payment is set when the request is still being processed elsewhere.
	Payment *PaymentView `json:"payment,omitempty"`
}

// --- Conversion helpers ---

// FromPayment converts a domain payment to API response.
func FromPayment(p *payment.Payment) *PaymentView {
	return &PaymentView{
		ID:                p.ID.String(),
		OrderID:           p.OrderID,
		IdempotencyKey:    p.IdempotencyKey,
		Amount:            centsToDecimal(p.Amount.ValueCents).StringFixed(2),
		Currency:          p.Amount.Currency,
		Status:            string(p.Status),
		ExternalReference: p.ExternalReference,
		LastError:         p.LastError,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

// amountToCents converts a major-unit amount to minor units. Fractions of a
// cent are rejected rather than rounded.
func amountToCents(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, domainErrors.NewValidationError("amount", "must be greater than zero")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, domainErrors.NewValidationError("amount", "must have at most two decimal places")
	}
	if cents.GreaterThan(maxCents) {
		return 0, domainErrors.NewValidationError("amount", "is too large")
	}
	return cents.IntPart(), nil
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
