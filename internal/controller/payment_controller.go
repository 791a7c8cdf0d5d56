package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	paymentApp "github.com/cassiomorais/paymentcore/internal/application/payment"
	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "X-Idempotency-Replayed"
)

// CallbackQueue hands a provider notification to the worker.
type CallbackQueue interface {
	EnqueueCallback(ctx context.Context, externalReference, status string) (string, error)
}

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	initiate  *paymentApp.InitiatePaymentUseCase
	reconcile *paymentApp.ReconcileCallbackUseCase
	get       *paymentApp.GetPaymentUseCase
	queue     CallbackQueue
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(
	initiate *paymentApp.InitiatePaymentUseCase,
	reconcile *paymentApp.ReconcileCallbackUseCase,
	get *paymentApp.GetPaymentUseCase,
) *PaymentController {
	return &PaymentController{
		initiate:  initiate,
		reconcile: reconcile,
		get:       get,
	}
}

// InitiatePayment handles POST /api/v1/payments.
// 201 for a new payment, 200 with X-Idempotency-Replayed for a replay.
func (h *PaymentController) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		writeError(w, domainErrors.NewValidationError("Idempotency-Key", "header is required"))
		return
	}

	cents, err := amountToCents(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.initiate.Execute(r.Context(), paymentApp.InitiatePaymentRequest{
		OrderID:        req.OrderID,
		IdempotencyKey: key,
		AmountCents:    cents,
		Currency:       strings.ToUpper(req.Currency),
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrPaymentInProgress) && resp != nil {
			status, body := errorResponse(err)
			body.Payment = FromPayment(resp.Payment)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, status, body)
			return
		}
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
		w.Header().Set(replayedHeader, "true")
	}
	writeJSON(w, status, FromPayment(resp.Payment))
}

// Callback handles POST /api/v1/payments/callback.
func (h *PaymentController) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.reconcile.Execute(r.Context(), paymentApp.ReconcileCallbackRequest{
		ExternalReference: req.ExternalReference,
		Status:            req.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// WithCallbackQueue enables POST /api/v1/payments/callback/async.
func (h *PaymentController) WithCallbackQueue(q CallbackQueue) *PaymentController {
	h.queue = q
	return h
}

// EnqueueCallback handles POST /api/v1/payments/callback/async. The callback
// is only validated for shape here; the worker applies it.
func (h *PaymentController) EnqueueCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.queue.EnqueueCallback(r.Context(), req.ExternalReference, strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id, "status": "queued"})
}

// GetPayment handles GET /api/v1/payments/{id}.
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	p, err := h.get.Execute(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}
