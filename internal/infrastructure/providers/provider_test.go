package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v float64) func() float64 { return func() float64 { return v } }

func testRequest() InitiateRequest {
	return InitiateRequest{
		PaymentID:      "pay-1",
		OrderID:        "order-1",
		IdempotencyKey: "key-1",
		AmountCents:    10000,
		Currency:       "USD",
	}
}

func TestSimulatedProvider_Success(t *testing.T) {
	p := NewSimulatedProvider("sim", WithLatency(0), WithRandom(constant(0.9)), WithFailureRate(0.5), WithPendingRate(0.5))

	result, err := p.Initiate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.True(t, strings.HasPrefix(result.ExternalReference, "EXT-"))
}

func TestSimulatedProvider_Pending(t *testing.T) {
	p := NewSimulatedProvider("sim", WithLatency(0), WithRandom(constant(0.4)), WithFailureRate(0.1), WithPendingRate(0.5))

	result, err := p.Initiate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)
}

func TestSimulatedProvider_Unavailable(t *testing.T) {
	p := NewSimulatedProvider("sim", WithLatency(0), WithFailureRate(1.0))

	result, err := p.Initiate(context.Background(), testRequest())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestSimulatedProvider_ContextTimeout(t *testing.T) {
	p := NewSimulatedProvider("sim", WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Initiate(ctx, testRequest())
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestSimulatedProvider_UniqueReferences(t *testing.T) {
	p := NewSimulatedProvider("sim", WithLatency(0))
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		result, err := p.Initiate(context.Background(), testRequest())
		require.NoError(t, err)
		seen[result.ExternalReference] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

type failingProvider struct {
	calls atomic.Int32
}

func (f *failingProvider) Name() string { return "flaky" }

func (f *failingProvider) Initiate(context.Context, InitiateRequest) (*Result, error) {
	f.calls.Add(1)
	return nil, Unavailable("flaky", errors.New("connection refused"))
}

func TestBreakerProvider_OpensAndRejects(t *testing.T) {
	inner := &failingProvider{}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	b := NewBreakerProvider(inner, config.BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	}, metrics)

	for i := 0; i < 3; i++ {
		_, err := b.Initiate(context.Background(), testRequest())
		assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Initiate(context.Background(), testRequest())
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), inner.calls.Load(), "open breaker must not reach the provider")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("flaky")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ProviderCalls.WithLabelValues("flaky", "rejected")))
}

func TestBreakerProvider_PassesThroughResult(t *testing.T) {
	b := NewBreakerProvider(NewSimulatedProvider("sim", WithLatency(0)), config.BreakerConfig{}, nil)

	result, err := b.Initiate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "sim", b.Name())
}

func TestHTTPProvider(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantResult Outcome
	}{
		{"success", http.StatusOK, `{"reference":"EXT-1","status":"success"}`, false, OutcomeSuccess},
		{"pending", http.StatusAccepted, `{"reference":"EXT-1","status":"PENDING"}`, false, OutcomePending},
		{"server error", http.StatusBadGateway, `upstream down`, true, ""},
		{"missing reference", http.StatusOK, `{"status":"SUCCESS"}`, true, ""},
		{"unknown status", http.StatusOK, `{"reference":"EXT-1","status":"REVIEW"}`, true, ""},
		{"garbage", http.StatusOK, `not json`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payments", r.URL.Path)
				assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))

				var body httpInitiateRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, int64(10000), body.AmountCents)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider("acme", srv.URL+"/", time.Second, srv.Client())
			result, err := p.Initiate(context.Background(), testRequest())

			if tt.wantErr {
				assert.Nil(t, result)
				assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "EXT-1", result.ExternalReference)
			assert.Equal(t, tt.wantResult, result.Outcome)
		})
	}
}

func TestHTTPProvider_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPProvider("acme", url, 100*time.Millisecond, nil)
	_, err := p.Initiate(context.Background(), testRequest())
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestNew(t *testing.T) {
	p, err := New(config.ProviderConfig{Kind: "simulated", Name: "sim"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sim", p.Name())

	p, err = New(config.ProviderConfig{Kind: "http", BaseURL: "http://localhost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http", p.Name())

	_, err = New(config.ProviderConfig{Kind: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
