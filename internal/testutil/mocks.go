package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/memory"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/providers"
	"github.com/google/uuid"
)

// --- Provider Mock ---

// MockProvider is a scripted providers.Provider that counts calls.
type MockProvider struct {
	calls atomic.Int32

	// Gate, when set, blocks every call until it is closed.
	Gate chan struct{}
	// Started receives one value per call before the gate is awaited.
	Started chan struct{}

	InitiateFunc func(ctx context.Context, req providers.InitiateRequest) (*providers.Result, error)
}

// NewMockProvider returns a provider answering with the given outcome.
func NewMockProvider(outcome providers.Outcome) *MockProvider {
	return &MockProvider{
		InitiateFunc: func(context.Context, providers.InitiateRequest) (*providers.Result, error) {
			return &providers.Result{ExternalReference: "EXT-" + uuid.New().String(), Outcome: outcome}, nil
		},
	}
}

// NewUnavailableProvider returns a provider that always fails.
func NewUnavailableProvider(cause error) *MockProvider {
	return &MockProvider{
		InitiateFunc: func(context.Context, providers.InitiateRequest) (*providers.Result, error) {
			return nil, providers.Unavailable("mock", cause)
		},
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Initiate(ctx context.Context, req providers.InitiateRequest) (*providers.Result, error) {
	m.calls.Add(1)
	if m.Started != nil {
		m.Started <- struct{}{}
	}
	if m.Gate != nil {
		<-m.Gate
	}
	return m.InitiateFunc(ctx, req)
}

// Calls returns how many times Initiate ran.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

// --- Store Mock ---

// MockStore delegates to an in-memory store unless a Func override is set.
type MockStore struct {
	*memory.PaymentStore

	SaveFunc                    func(ctx context.Context, p *payment.Payment) (*payment.Payment, error)
	ReserveFunc                 func(ctx context.Context, p *payment.Payment) (*payment.Payment, bool, error)
	FindByExternalReferenceFunc func(ctx context.Context, ref string) (*payment.Payment, error)
}

func NewMockStore() *MockStore {
	return &MockStore{PaymentStore: memory.NewPaymentStore()}
}

func (m *MockStore) Save(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, p)
	}
	return m.PaymentStore.Save(ctx, p)
}

func (m *MockStore) Reserve(ctx context.Context, p *payment.Payment) (*payment.Payment, bool, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, p)
	}
	return m.PaymentStore.Reserve(ctx, p)
}

func (m *MockStore) FindByExternalReference(ctx context.Context, ref string) (*payment.Payment, error) {
	if m.FindByExternalReferenceFunc != nil {
		return m.FindByExternalReferenceFunc(ctx, ref)
	}
	return m.PaymentStore.FindByExternalReference(ctx, ref)
}

// --- Event Publisher Mock ---

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []payment.Event

	PublishFunc func(ctx context.Context, event payment.Event) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Name() string { return "mock" }

func (m *MockPublisher) Publish(ctx context.Context, event payment.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Types returns the published event types in order.
func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
