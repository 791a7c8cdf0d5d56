package payment

import (
	"slices"
	"strings"
	"time"

	"github.com/cassiomorais/paymentcore/internal/domain/errors"
)

// PaymentStatus represents the payment status in the state machine
type PaymentStatus string

const (
	StatusInitiated PaymentStatus = "INITIATED"
	StatusPending   PaymentStatus = "PENDING"
	StatusRetryable PaymentStatus = "RETRYABLE"
	StatusSuccess   PaymentStatus = "SUCCESS"
	StatusFailed    PaymentStatus = "FAILED"
)

// allowedFrom lists, for every target status, the statuses it may be entered from.
var allowedFrom = map[PaymentStatus][]PaymentStatus{
	StatusInitiated: {},
	StatusPending:   {StatusInitiated, StatusRetryable},
	StatusRetryable: {StatusInitiated},
	StatusSuccess:   {StatusInitiated, StatusRetryable, StatusPending},
	StatusFailed:    {StatusRetryable, StatusPending},
}

// ParseStatus converts a wire value into a known status.
func ParseStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := allowedFrom[st]; !ok {
		return "", errors.NewValidationError("status", "unknown payment status "+s)
	}
	return st, nil
}

// IsTerminal reports whether no transition leaves this status.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s PaymentStatus) String() string {
	return string(s)
}

// CanTransitionTo checks if the payment can transition to the given status
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	predecessors, exists := allowedFrom[newStatus]
	if !exists {
		return false
	}
	return slices.Contains(predecessors, p.Status)
}

// TransitionTo transitions the payment to a new status
func (p *Payment) TransitionTo(newStatus PaymentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	p.Status = newStatus
	p.UpdatedAt = time.Now()

	if newStatus.IsTerminal() {
		now := time.Now()
		p.CompletedAt = &now
	}

	return nil
}
