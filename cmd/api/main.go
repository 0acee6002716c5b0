package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskerhub/marketplace/internal/bootstrap"
	"github.com/taskerhub/marketplace/internal/controller"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "marketplace-api", "marketplace")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Config.Auth.JWTSecret == "" {
		app.Logger.Error().Msg("auth.jwt_secret is required to serve the API")
		return
	}

	services, err := app.Services()
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to wire services")
		return
	}

	router := controller.NewRouter(controller.RouterDeps{
		Lifecycle:      services.Lifecycle,
		Payments:       services.Payments,
		Idempotency:    services.Repos.Idempotency,
		IdempotencyTTL: app.Config.Worker.IdempotencyTTL,
		HealthChecks: map[string]controller.Pinger{
			"database": app.Pool,
			"redis":    controller.PingFunc(func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }),
		},
		Metrics:     app.Metrics,
		Gatherer:    app.Registry,
		JWTSecret:   app.Config.Auth.JWTSecret,
		CallbackRPM: app.Config.Server.CallbackRPM,
		CORSConfig:  app.Config.Server.CORS,
		Logger:      app.Logger,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		app.Logger.Error().Err(err).Msg("HTTP server failed")
	}

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
