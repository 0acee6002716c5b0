package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
	customMW "github.com/taskerhub/marketplace/internal/middleware"
	"github.com/taskerhub/marketplace/internal/service"
)

type RouterDeps struct {
	Lifecycle      *service.LifecycleService
	Payments       *service.PaymentService
	Idempotency    customMW.IdempotencyStore
	IdempotencyTTL time.Duration
	HealthChecks   map[string]Pinger
	Metrics        *observability.Metrics
	// Gatherer serves /metrics; nil means the default registry.
	Gatherer    prometheus.Gatherer
	JWTSecret   string
	CallbackRPM int
	CORSConfig  config.CORSConfig
	Logger      zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.HealthChecks)
	requestH := NewRequestController(deps.Lifecycle)
	paymentH := NewPaymentController(deps.Payments)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	callbackRPM := deps.CallbackRPM
	if callbackRPM <= 0 {
		callbackRPM = 120
	}

	r.Route("/api/v1", func(r chi.Router) {
		// The gateway cannot authenticate; evidence is verified server to server instead.
		r.Group(func(r chi.Router) {
			r.Use(customMW.RateLimit(callbackRPM))
			r.Get("/payments/callback", paymentH.Callback)
			r.Post("/payments/callback", paymentH.Callback)
		})

		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
			idempotencyMW := func(next http.Handler) http.Handler { return next }
			if deps.Idempotency != nil {
				idempotencyMW = customMW.Idempotency(deps.Idempotency, deps.IdempotencyTTL, deps.Logger)
			}

			// Requests
			r.With(idempotencyMW).Post("/requests", requestH.Create)
			r.Get("/requests/{id}", requestH.Get)
			r.Get("/requests/{id}/completion-status", requestH.CompletionStatus)
			r.Get("/requests/{id}/transactions", requestH.Transactions)
			r.Post("/requests/{id}/accept", requestH.Accept)
			r.Post("/requests/{id}/mark-in-progress", requestH.MarkInProgress)
			r.Post("/requests/{id}/request-completion", requestH.RequestCompletion)
			r.Post("/requests/{id}/approve-completion", requestH.ApproveCompletion)
			r.Post("/requests/{id}/reject-completion", requestH.RejectCompletion)
			r.Post("/requests/{id}/mark-completed", requestH.MarkCompleted)
			r.Post("/requests/{id}/cancel", requestH.Cancel)

			// Payments
			r.With(idempotencyMW).Post("/payments/sessions", paymentH.CreateSession)
			r.With(idempotencyMW).Post("/payments/{id}/refund", paymentH.Refund)
		})
	})

	return r
}
