package payment_test

import (
	"context"
	"sync"
	"testing"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(store payment.Store) (*paymentApp.ReconcileCallbackUseCase, *testutil.MockPublisher) {
	publisher := testutil.NewMockPublisher()
	uc := paymentApp.NewReconcileCallbackUseCase(store, publisher, testutil.NewTestMetrics(), testutil.NopLogger(), 10)
	return uc, publisher
}

// A callback for a reference nobody issued.
func TestReconcile_UnknownReference(t *testing.T) {
	store := testutil.NewMockStore()
	uc, publisher := newReconciler(store)

	_, err := uc.Execute(context.Background(), paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-nope", Status: "SUCCESS"})
	assert.ErrorIs(t, err, domainErrors.ErrUnknownReference)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, publisher.Types())
}

// The same callback delivered twice.
func TestReconcile_DuplicateCallbackIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	seeded := testutil.SeedPayment(t, store, payment.StatusPending, "EXT-1")
	uc, publisher := newReconciler(store)

	first, err := uc.Execute(ctx, paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-1", Status: "SUCCESS"})
	require.NoError(t, err)
	second, err := uc.Execute(ctx, paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-1", Status: "SUCCESS"})
	require.NoError(t, err)

	assert.Equal(t, seeded.ID, first.ID)
	assert.Equal(t, payment.StatusSuccess, second.Status)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, []string{"payment.success"}, publisher.Types())
}

func TestReconcile_TerminalStatesNeverChange(t *testing.T) {
	for _, terminal := range []payment.PaymentStatus{payment.StatusSuccess, payment.StatusFailed} {
		for _, reported := range []string{"SUCCESS", "FAILED", "PENDING"} {
			t.Run(string(terminal)+"<-"+reported, func(t *testing.T) {
				store := testutil.NewMockStore()
				seeded := testutil.SeedPayment(t, store, terminal, "EXT-T")
				uc, _ := newReconciler(store)

				got, err := uc.Execute(context.Background(), paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-T", Status: reported})
				require.NoError(t, err)
				assert.Equal(t, terminal, got.Status)
				assert.Equal(t, seeded.Version, got.Version)
			})
		}
	}
}

func TestReconcile_PendingReportOnPendingIsNoOp(t *testing.T) {
	store := testutil.NewMockStore()
	seeded := testutil.SeedPayment(t, store, payment.StatusPending, "EXT-P")
	uc, _ := newReconciler(store)

	got, err := uc.Execute(context.Background(), paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-P", Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
	assert.Equal(t, seeded.Version, got.Version)
}

func TestReconcile_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  paymentApp.ReconcileCallbackRequest
	}{
		{"empty reference", paymentApp.ReconcileCallbackRequest{Status: "SUCCESS"}},
		{"unknown status", paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-1", Status: "CHARGEBACK"}},
		{"initiated is not reportable", paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-1", Status: "INITIATED"}},
		{"retryable is not reportable", paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-1", Status: "RETRYABLE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStore()
			testutil.SeedPayment(t, store, payment.StatusPending, "EXT-1")
			uc, _ := newReconciler(store)

			_, err := uc.Execute(context.Background(), tt.req)
			assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
		})
	}
}

func TestReconcile_ConflictingCallbacksRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := testutil.NewMockStore()
		testutil.SeedPayment(t, store, payment.StatusPending, "EXT-R")
		uc, publisher := newReconciler(store)

		var wg sync.WaitGroup
		results := make([]*payment.Payment, 2)
		for j, status := range []string{"SUCCESS", "FAILED"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := uc.Execute(context.Background(), paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-R", Status: status})
				assert.NoError(t, err)
				results[j] = p
			}()
		}
		wg.Wait()

		final, err := store.FindByExternalReference(context.Background(), "EXT-R")
		require.NoError(t, err)
		assert.True(t, final.IsTerminal())
		// Exactly one mutation: both callers observe the same terminal state.
		assert.Equal(t, final.Status, results[0].Status)
		assert.Equal(t, final.Status, results[1].Status)
		assert.Len(t, publisher.Types(), 1)
	}
}

func TestReconcile_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	seeded := testutil.SeedPayment(t, store, payment.StatusPending, "EXT-C")

	// The first save races with a concurrent FAILED callback that wins.
	raced := false
	store.SaveFunc = func(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
		if !raced {
			raced = true
			winner, err := store.PaymentStore.FindByID(ctx, seeded.ID)
			require.NoError(t, err)
			require.NoError(t, winner.MarkFailed("declined"))
			_, err = store.PaymentStore.Save(ctx, winner)
			require.NoError(t, err)
		}
		return store.PaymentStore.Save(ctx, p)
	}

	uc, _ := newReconciler(store)
	got, err := uc.Execute(ctx, paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-C", Status: "SUCCESS"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
}

func TestReconcile_RetryableLateOutcome(t *testing.T) {
	store := testutil.NewMockStore()
	seeded := testutil.SeedPayment(t, store, payment.StatusRetryable, "")

	// A reference learned out of band is attached before the callback arrives.
	require.NoError(t, seeded.AttachReference("EXT-late"))
	_, err := store.Save(context.Background(), seeded)
	require.NoError(t, err)

	metrics := testutil.NewTestMetrics()
	uc := paymentApp.NewReconcileCallbackUseCase(store, nil, metrics, testutil.NopLogger(), 3)

	got, err := uc.Execute(context.Background(), paymentApp.ReconcileCallbackRequest{ExternalReference: "EXT-late", Status: "SUCCESS"})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, got.Status)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.CallbacksProcessed.WithLabelValues("applied")))
}
