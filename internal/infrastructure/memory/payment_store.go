package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/google/uuid"
)

// PaymentStore keeps payments in process memory. A single mutex guards the
// records and both indexes so every write is published as a whole.
type PaymentStore struct {
	mu                 sync.RWMutex
	payments           map[uuid.UUID]*payment.Payment
	idempotencyKeys    map[string]uuid.UUID
	externalReferences map[string]uuid.UUID
	now                func() time.Time
}

// Option configures a PaymentStore.
type Option func(*PaymentStore)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentStore) {
		s.now = now
	}
}

// NewPaymentStore creates an empty in-memory store.
func NewPaymentStore(opts ...Option) *PaymentStore {
	s := &PaymentStore{
		payments:           make(map[uuid.UUID]*payment.Payment),
		idempotencyKeys:    make(map[string]uuid.UUID),
		externalReferences: make(map[string]uuid.UUID),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PaymentStore) Save(_ context.Context, p *payment.Payment) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		return s.insertLocked(p)
	}

	current, ok := s.payments[p.ID]
	if !ok {
		// Caller-assigned ID that has never been stored.
		return s.insertLocked(p)
	}
	if current.Version != p.Version {
		return nil, domainErrors.ErrOptimisticLockFailed
	}
	if err := s.checkIndexesLocked(p); err != nil {
		return nil, err
	}

	stored := p.Clone()
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = s.nextTimestamp(current.UpdatedAt)
	stored.Version = current.Version + 1

	if current.ExternalReference != nil && stored.Reference() != *current.ExternalReference {
		delete(s.externalReferences, *current.ExternalReference)
	}
	if current.IdempotencyKey != stored.IdempotencyKey {
		delete(s.idempotencyKeys, current.IdempotencyKey)
	}
	s.publishLocked(stored)

	return stored.Clone(), nil
}

func (s *PaymentStore) Reserve(_ context.Context, candidate *payment.Payment) (*payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.idempotencyKeys[candidate.IdempotencyKey]; exists {
		return s.payments[id].Clone(), false, nil
	}

	stored, err := s.insertLocked(candidate)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (s *PaymentStore) FindByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

func (s *PaymentStore) FindByIdempotencyKey(_ context.Context, key string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idempotencyKeys[key]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return s.payments[id].Clone(), nil
}

func (s *PaymentStore) FindByExternalReference(_ context.Context, ref string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.externalReferences[ref]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return s.payments[id].Clone(), nil
}

func (s *PaymentStore) ListStale(_ context.Context, status payment.PaymentStatus, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*payment.Payment
	for _, p := range s.payments {
		if p.Status == status && p.UpdatedAt.Before(olderThan) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored payments.
func (s *PaymentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}

func (s *PaymentStore) insertLocked(p *payment.Payment) (*payment.Payment, error) {
	stored := p.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if err := s.checkIndexesLocked(stored); err != nil {
		return nil, err
	}

	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1
	s.publishLocked(stored)

	return stored.Clone(), nil
}

// checkIndexesLocked rejects keys or references owned by a different payment.
func (s *PaymentStore) checkIndexesLocked(p *payment.Payment) error {
	if owner, ok := s.idempotencyKeys[p.IdempotencyKey]; ok && owner != p.ID {
		return domainErrors.ErrDuplicateIdempotencyKey
	}
	if p.ExternalReference != nil {
		if owner, ok := s.externalReferences[*p.ExternalReference]; ok && owner != p.ID {
			return domainErrors.ErrDuplicateExternalReference
		}
	}
	return nil
}

func (s *PaymentStore) publishLocked(p *payment.Payment) {
	s.payments[p.ID] = p
	s.idempotencyKeys[p.IdempotencyKey] = p.ID
	if p.ExternalReference != nil {
		s.externalReferences[*p.ExternalReference] = p.ID
	}
}

// nextTimestamp returns the current time, nudged forward so that
// UpdatedAt strictly increases even on coarse clocks.
func (s *PaymentStore) nextTimestamp(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
