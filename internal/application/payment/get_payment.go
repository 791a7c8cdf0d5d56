package payment

import (
	"context"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/google/uuid"
)

// GetPaymentUseCase reads a single payment.
type GetPaymentUseCase struct {
	store payment.Store
}

func NewGetPaymentUseCase(store payment.Store) *GetPaymentUseCase {
	return &GetPaymentUseCase{store: store}
}

func (uc *GetPaymentUseCase) Execute(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return uc.store.FindByID(ctx, id)
}
