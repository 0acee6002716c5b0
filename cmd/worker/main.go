package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskerhub/marketplace/internal/bootstrap"
	"github.com/taskerhub/marketplace/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "marketplace-worker", "marketplace_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	services, err := app.Services()
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to wire services")
		return
	}
	publisher, err := app.Publisher()
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to build notification publisher")
		return
	}

	workerCfg := app.Config.Worker
	relay := service.NewOutboxRelay(services.Repos.Outbox, services.Repos.TxManager, publisher,
		workerCfg.BatchSize, app.Logger, app.Metrics)
	sweeper := service.NewSweeper(services.Payments, workerCfg.PendingMaxAge, workerCfg.BatchSize,
		app.Logger, app.Metrics)

	app.Logger.Info().
		Str("publisher", publisher.Name()).
		Dur("outbox_poll_interval", workerCfg.OutboxPollInterval).
		Dur("sweep_interval", workerCfg.SweepInterval).
		Dur("pending_max_age", workerCfg.PendingMaxAge).
		Msg("Worker started")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox relay: delivers committed notifications.
	g.Go(func() error {
		return relay.Run(gCtx, workerCfg.OutboxPollInterval)
	})

	// 2. Pending sweeper: resolves charges whose callback never arrived.
	g.Go(func() error {
		return sweeper.Run(gCtx, workerCfg.SweepInterval)
	})

	// 3. Housekeeping: expired idempotency keys and delivered notifications.
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				n, err := services.Repos.Idempotency.Cleanup(gCtx)
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Idempotency cleanup failed")
				} else if n > 0 {
					app.Logger.Info().Int64("deleted", n).Msg("Expired idempotency keys removed")
				}
				if _, err := relay.Purge(gCtx, workerCfg.NotificationRetention); err != nil {
					app.Logger.Warn().Err(err).Msg("Notification purge failed")
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
