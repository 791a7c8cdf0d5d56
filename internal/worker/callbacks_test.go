package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/testutil"
	"github.com/cassiomorais/paymentcore/internal/worker"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu      sync.Mutex
	batches [][]redis.XMessage
	claimed []redis.XMessage
	acked   []string
}

func (s *fakeStream) Stream() string { return "payments:callbacks" }

func (s *fakeStream) Read(ctx context.Context) ([]redis.XMessage, error) {
	s.mu.Lock()
	if len(s.batches) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	s.mu.Unlock()
	return next, nil
}

func (s *fakeStream) ClaimStale(context.Context, time.Duration) ([]redis.XMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claimed := s.claimed
	s.claimed = nil
	return claimed, nil
}

func (s *fakeStream) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return nil
}

func (s *fakeStream) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

type fakeDLQ struct {
	mu      sync.Mutex
	reasons map[string]string
	err     error
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, _ string, msg redis.XMessage, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.reasons == nil {
		d.reasons = map[string]string{}
	}
	d.reasons[msg.ID] = reason
	return nil
}

type failingReconciler struct{ err error }

func (r failingReconciler) Execute(context.Context, paymentApp.ReconcileCallbackRequest) (*payment.Payment, error) {
	return nil, r.err
}

func callback(id, ref, status string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]any{"external_reference": ref, "status": status}}
}

func TestCallbackProcessor_AppliesAndDeadLetters(t *testing.T) {
	store := testutil.NewMockStore()
	testutil.SeedPayment(t, store, payment.StatusPending, "EXT-1")

	metrics := testutil.NewTestMetrics()
	reconciler := paymentApp.NewReconcileCallbackUseCase(store, nil, metrics, testutil.NopLogger(), 3)
	stream := &fakeStream{}
	dlq := &fakeDLQ{}
	p := worker.NewCallbackProcessor(stream, dlq, reconciler, metrics, testutil.NopLogger(), 0)

	p.ProcessBatch(context.Background(), []redis.XMessage{
		callback("1-0", "EXT-1", "SUCCESS"),
		callback("2-0", "EXT-1", "SUCCESS"),
		callback("3-0", "EXT-unknown", "FAILED"),
		callback("4-0", "EXT-1", "REFUNDED"),
		{ID: "5-0", Values: map[string]any{"status": "SUCCESS"}},
	})

	got, err := store.FindByExternalReference(context.Background(), "EXT-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, got.Status)

	assert.Equal(t, []string{"1-0", "2-0", "3-0", "4-0", "5-0"}, stream.Acked())
	assert.Len(t, dlq.reasons, 3)
	assert.Contains(t, dlq.reasons["3-0"], "unknown external reference")
	assert.Contains(t, dlq.reasons["5-0"], "malformed")

	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("payments:callbacks", "success")))
	assert.Equal(t, float64(3), promtest.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("payments:callbacks", "dead_lettered")))
}

func TestCallbackProcessor_TransientErrorLeavesMessagePending(t *testing.T) {
	stream := &fakeStream{}
	dlq := &fakeDLQ{}
	p := worker.NewCallbackProcessor(stream, dlq, failingReconciler{err: errors.New("connection refused")}, nil, testutil.NopLogger(), 0)

	p.ProcessBatch(context.Background(), []redis.XMessage{callback("1-0", "EXT-1", "SUCCESS")})

	assert.Empty(t, stream.Acked())
	assert.Empty(t, dlq.reasons)
}

func TestCallbackProcessor_DLQFailureLeavesMessagePending(t *testing.T) {
	stream := &fakeStream{}
	dlq := &fakeDLQ{err: errors.New("redis down")}
	p := worker.NewCallbackProcessor(stream, dlq, failingReconciler{}, nil, testutil.NopLogger(), 0)

	p.ProcessBatch(context.Background(), []redis.XMessage{{ID: "1-0", Values: map[string]any{}}})

	assert.Empty(t, stream.Acked())
}

func TestCallbackProcessor_RunReclaimsThenReads(t *testing.T) {
	store := testutil.NewMockStore()
	testutil.SeedPayment(t, store, payment.StatusPending, "EXT-A")
	testutil.SeedPayment(t, store, payment.StatusPending, "EXT-B")
	reconciler := paymentApp.NewReconcileCallbackUseCase(store, nil, nil, testutil.NopLogger(), 3)

	stream := &fakeStream{
		claimed: []redis.XMessage{callback("1-0", "EXT-A", "FAILED")},
		batches: [][]redis.XMessage{{callback("2-0", "EXT-B", "SUCCESS")}},
	}
	p := worker.NewCallbackProcessor(stream, &fakeDLQ{}, reconciler, nil, testutil.NopLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(stream.Acked()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	a, err := store.FindByExternalReference(context.Background(), "EXT-A")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, a.Status)
	b, err := store.FindByExternalReference(context.Background(), "EXT-B")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, b.Status)
}
