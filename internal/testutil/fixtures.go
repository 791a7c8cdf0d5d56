package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// NewTestMetrics registers metrics on a throwaway registry.
func NewTestMetrics() *observability.Metrics {
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

// NopLogger discards everything.
func NopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// NewTestPayment builds an unsaved INITIATED payment with a random key.
func NewTestPayment(amountCents int64, currency string) *payment.Payment {
	return &payment.Payment{
		OrderID:        "order-" + uuid.New().String()[:8],
		IdempotencyKey: uuid.New().String(),
		Amount:         payment.Amount{ValueCents: amountCents, Currency: currency},
		Status:         payment.StatusInitiated,
	}
}

// SeedPayment stores a payment in the given status with an optional external
// reference, walking the state machine so the record is reachable legitimately.
func SeedPayment(t *testing.T, store payment.Store, status payment.PaymentStatus, ref string) *payment.Payment {
	t.Helper()
	ctx := context.Background()

	p, err := store.Save(ctx, NewTestPayment(10_00, "USD"))
	require.NoError(t, err)

	switch status {
	case payment.StatusInitiated:
		return p
	case payment.StatusPending:
		require.NoError(t, p.MarkPending(ref))
	case payment.StatusRetryable:
		require.NoError(t, p.MarkRetryable("provider unavailable"))
	case payment.StatusSuccess:
		require.NoError(t, p.MarkPending(ref))
		p, err = store.Save(ctx, p)
		require.NoError(t, err)
		require.NoError(t, p.MarkSucceeded(""))
	case payment.StatusFailed:
		require.NoError(t, p.MarkPending(ref))
		p, err = store.Save(ctx, p)
		require.NoError(t, err)
		require.NoError(t, p.MarkFailed("declined"))
	}

	p, err = store.Save(ctx, p)
	require.NoError(t, err)
	return p
}
