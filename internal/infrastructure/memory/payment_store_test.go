package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCandidate(t *testing.T, key string) *payment.Payment {
	t.Helper()
	p, err := payment.NewPayment("order-1", key, payment.Amount{ValueCents: 1000, Currency: "USD"})
	require.NoError(t, err)
	return p
}

func TestSave_AssignsIDAndTimestamps(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)
	assert.Equal(t, 1, saved.Version)

	found, err := store.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
}

func TestSave_UpdatedAtStrictlyIncreases(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewPaymentStore(memory.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	saved, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)

	require.NoError(t, saved.MarkPending("EXT-1"))
	updated, err := store.Save(ctx, saved)
	require.NoError(t, err)

	assert.True(t, updated.UpdatedAt.After(saved.CreatedAt))
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 2, updated.Version)
}

func TestSave_IndexesExternalReference(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)

	_, err = store.FindByExternalReference(ctx, "EXT-1")
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)

	require.NoError(t, saved.MarkPending("EXT-1"))
	_, err = store.Save(ctx, saved)
	require.NoError(t, err)

	found, err := store.FindByExternalReference(ctx, "EXT-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, payment.StatusPending, found.Status)
}

func TestSave_RejectsStaleVersion(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)

	first := saved.Clone()
	second := saved.Clone()

	require.NoError(t, first.MarkPending("EXT-1"))
	_, err = store.Save(ctx, first)
	require.NoError(t, err)

	require.NoError(t, second.MarkRetryable("timeout"))
	_, err = store.Save(ctx, second)
	assert.ErrorIs(t, err, domainErrors.ErrOptimisticLockFailed)

	current, err := store.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, current.Status)
}

func TestSave_DuplicateExternalReference(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	a, err := store.Save(ctx, newCandidate(t, "key-a"))
	require.NoError(t, err)
	b, err := store.Save(ctx, newCandidate(t, "key-b"))
	require.NoError(t, err)

	require.NoError(t, a.MarkPending("EXT-1"))
	_, err = store.Save(ctx, a)
	require.NoError(t, err)

	require.NoError(t, b.MarkPending("EXT-1"))
	_, err = store.Save(ctx, b)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateExternalReference)
}

func TestSave_DuplicateIdempotencyKey(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	_, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)

	_, err = store.Save(ctx, newCandidate(t, "key-1"))
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateIdempotencyKey)
	assert.Equal(t, 1, store.Len())
}

func TestFind_ReturnsCopies(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newCandidate(t, "key-1"))
	require.NoError(t, err)

	found, err := store.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	found.Status = payment.StatusFailed

	again, err := store.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusInitiated, again.Status)
}

func TestFind_NotFound(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	_, err := store.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
	_, err = store.FindByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
	_, err = store.FindByExternalReference(ctx, "missing")
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
}

func TestReserve_ConcurrentSameKey(t *testing.T) {
	store := memory.NewPaymentStore()
	ctx := context.Background()

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[uuid.UUID]struct{})
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, ok, err := store.Reserve(ctx, newCandidate(t, "same-key"))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[stored.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, store.Len())
}

func TestListStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := memory.NewPaymentStore(memory.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	old, err := store.Save(ctx, newCandidate(t, "old"))
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	_, err = store.Save(ctx, newCandidate(t, "fresh"))
	require.NoError(t, err)

	stale, err := store.ListStale(ctx, payment.StatusInitiated, now.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	none, err := store.ListStale(ctx, payment.StatusPending, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
