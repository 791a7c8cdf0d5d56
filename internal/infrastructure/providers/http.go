package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPProvider talks JSON to a processor exposing POST {base}/payments.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

type httpInitiateRequest struct {
	PaymentID      string `json:"payment_id"`
	OrderID        string `json:"order_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

type httpInitiateResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// NewHTTPProvider creates a provider client. A nil client gets a traced
// default with the given timeout.
func NewHTTPProvider(name, baseURL string, timeout time.Duration, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	body, err := json.Marshal(httpInitiateRequest{
		PaymentID:      req.PaymentID,
		OrderID:        req.OrderID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, Unavailable(p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, Unavailable(p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Lets a well-behaved processor deduplicate on its side too.
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, Unavailable(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, Unavailable(p.name, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out httpInitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Unavailable(p.name, fmt.Errorf("decode response: %w", err))
	}
	if out.Reference == "" {
		return nil, Unavailable(p.name, fmt.Errorf("response without reference"))
	}

	switch Outcome(strings.ToUpper(out.Status)) {
	case OutcomeSuccess:
		return &Result{ExternalReference: out.Reference, Outcome: OutcomeSuccess}, nil
	case OutcomePending:
		return &Result{ExternalReference: out.Reference, Outcome: OutcomePending}, nil
	default:
		return nil, Unavailable(p.name, fmt.Errorf("unexpected provider status %q", out.Status))
	}
}
