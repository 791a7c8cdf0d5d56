package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/paymentcore/internal/infrastructure/config"
	"github.com/cassiomorais/paymentcore/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/paymentcore/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Payments      *PaymentController
	HealthChecks  []HealthCheck
	Metrics       *observability.Metrics // nil disables request metrics and /metrics
	Gatherer      prometheus.Gatherer    // backs /metrics; nil uses the default registry
	Server        config.ServerConfig
	JWTSecret     string
	EnableTracing bool
	Logger        zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if deps.EnableTracing {
		r.Use(customMW.Tracing())
	}
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyKeyHeader},
		ExposedHeaders:   []string{replayedHeader, "Retry-After"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.HealthChecks...)
	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	if deps.Metrics != nil {
		var metricsHandler http.Handler = promhttp.Handler()
		if deps.Gatherer != nil {
			metricsHandler = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
		}
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}
		if deps.Server.RateLimit > 0 {
			r.Use(customMW.RateLimit(deps.Server.RateLimit, deps.Server.RateLimitWindow))
		}

		r.Post("/payments", deps.Payments.InitiatePayment)
		r.Post("/payments/callback", deps.Payments.Callback)
		if deps.Payments.queue != nil {
			r.Post("/payments/callback/async", deps.Payments.EnqueueCallback)
		}
		r.Get("/payments/{id}", deps.Payments.GetPayment)
	})

	return r
}
