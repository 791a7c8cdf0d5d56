package bootstrap

import (
	"context"
	"testing"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MemoryStoreWithoutRedis(t *testing.T) {
	t.Setenv("PAYMENTS_STORE_DRIVER", "memory")
	t.Setenv("PAYMENTS_EVENTS_SINK", "none")
	t.Setenv("PAYMENTS_PROVIDER_LATENCY", "0s")
	t.Setenv("PAYMENTS_PROVIDER_FAILURE_RATE", "0")
	t.Setenv("PAYMENTS_PROVIDER_PENDING_RATE", "0")

	ctx := context.Background()
	app, err := New(ctx, Options{ServiceName: "payments-test", MetricsNamespace: "bootstrap_test"})
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &memory.PaymentStore{}, app.Store)
	assert.Nil(t, app.Pool)
	assert.Nil(t, app.Redis)
	assert.Equal(t, paymentApp.NoopPublisher{}, app.Publisher)
	assert.Empty(t, app.HealthChecks())

	uc, err := app.UseCases()
	require.NoError(t, err)

	resp, err := uc.Initiate.Execute(ctx, paymentApp.InitiatePaymentRequest{
		OrderID:        "order-1",
		IdempotencyKey: "bootstrap-key",
		AmountCents:    1500,
	})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", string(resp.Payment.Status))
	assert.Equal(t, "USD", resp.Payment.Amount.Currency)

	got, err := uc.Get.Execute(ctx, resp.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, got.ID)
}
