package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paymentcore/internal/bootstrap"
	infraRedis "github.com/cassiomorais/paymentcore/internal/infrastructure/redis"
	"github.com/cassiomorais/paymentcore/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, bootstrap.Options{
		ServiceName:      "payments-worker",
		MetricsNamespace: "payments_worker",
		RequireRedis:     true,
	})
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

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.CallbackStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		return
	}

	callbacks := worker.NewCallbackProcessor(
		consumer,
		infraRedis.NewStreamProducer(app.Redis),
		uc.Reconcile,
		app.Metrics,
		app.Logger,
		workerCfg.ClaimMinIdle,
	)
	sweeper := worker.NewSweeper(uc.Sweep, infraRedis.NewLocker(app.Redis), workerCfg.SweepInterval, workerCfg.LockTTL, app.Logger)

	app.Logger.Info().
		Str("stream", infraRedis.CallbackStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Dur("sweep_interval", workerCfg.SweepInterval).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return callbacks.Run(gCtx) })
	g.Go(func() error { return sweeper.Run(gCtx) })
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
