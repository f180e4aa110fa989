package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/infra/observability"
	"github.com/agentpay/guard-go/internal/infra/resilience"
	"github.com/agentpay/guard-go/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// Admin and settlement routes sit behind JWT auth; the authorize route is
// additionally bounded by a bulkhead.
func NewRouter(svc *service.GuardService, metrics *observability.Metrics, jwtSecret string, bulkhead *resilience.Bulkhead, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(svc, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	auth := JWTAuthMiddleware(jwtSecret, logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Authorization (agent-facing hot path)
		r.Group(func(r chi.Router) {
			r.Use(bulkheadMiddleware(bulkhead))
			r.Post("/payments/authorize", authorizeHandler(svc, logger))
		})

		// Receipts
		r.Get("/payments/receipts", getReceiptByExternalHandler(svc, logger))
		r.Get("/payments/receipts/{receiptId}", getReceiptHandler(svc, logger))
		r.Get("/agents/{agentId}/receipts", listAgentReceiptsHandler(svc, logger))

		// Limits & counters
		r.Get("/agents/{agentId}/limits", getAgentLimitsHandler(svc, logger))
		r.Get("/agents/{agentId}/counters", getAgentCountersHandler(svc, logger))
		r.With(auth).Put("/agents/{agentId}/limits", setAgentLimitsHandler(svc, logger))

		// Settlement events (settlement watcher only)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/settlement/confirm", confirmHandler(svc, logger))
			r.Post("/settlement/fail", failHandler(svc, logger))
			r.Post("/settlement/refund", refundHandler(svc, logger))
		})

		// Wallet status
		r.Get("/wallets/{walletId}/status", getWalletStatusHandler(svc, logger))
		r.Get("/wallets/{walletId}/status/history", getWalletHistoryHandler(svc, logger))
		r.With(auth).Post("/wallets/{walletId}/status", updateWalletStatusHandler(svc, logger))

		// Metrics snapshot
		r.Get("/metrics/guard", guardMetricsHandler(metrics))
	})

	return r
}

// bulkheadMiddleware caps concurrent in-flight requests on the wrapped routes.
func bulkheadMiddleware(b *resilience.Bulkhead) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := b.Acquire(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "server is at capacity")
				return
			}
			defer b.Release()
			next.ServeHTTP(w, r)
		})
	}
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler reports readiness, including backing store reachability.
func readyzHandler(svc *service.GuardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// GET /v1/metrics/guard
func guardMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetGuardSnapshot())
	}
}
