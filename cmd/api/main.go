package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paymentcore/internal/bootstrap"
	"github.com/cassiomorais/paymentcore/internal/controller"
	infraRedis "github.com/cassiomorais/paymentcore/internal/infrastructure/redis"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, bootstrap.Options{ServiceName: "payments-api", MetricsNamespace: "payments"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	uc, err := app.UseCases()
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to wire use cases")
		return
	}

	cfg := app.Config
	payments := controller.NewPaymentController(uc.Initiate, uc.Reconcile, uc.Get)
	if app.Redis != nil {
		payments.WithCallbackQueue(infraRedis.NewStreamProducer(app.Redis))
	}

	deps := controller.RouterDeps{
		Payments:      payments,
		HealthChecks:  app.HealthChecks(),
		Server:        cfg.Server,
		JWTSecret:     cfg.Auth.JWTSecret,
		EnableTracing: cfg.Observability.EnableTracing,
		Logger:        app.Logger,
	}
	if cfg.Observability.EnableMetrics {
		deps.Metrics = app.Metrics
	}
	router := controller.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().
			Int("port", cfg.Server.Port).
			Str("provider", uc.Provider.Name()).
			Str("store", cfg.Store.Driver).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
