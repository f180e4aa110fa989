package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/agentpay/guard-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the guardrail service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	authorizationsTotal *prometheus.CounterVec
	limitRejections     *prometheus.CounterVec
	settlementEvents    *prometheus.CounterVec
	walletTransitions   *prometheus.CounterVec
	storageErrors       *prometheus.CounterVec
	externalErrors      *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payguard_request_duration_seconds",
				Help:    "Duration of guardrail operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		authorizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_authorizations_total",
				Help: "Authorization decisions by outcome.",
			},
			[]string{"outcome"},
		),
		limitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_limit_rejections_total",
				Help: "Limit rejections by violated scope.",
			},
			[]string{"scope"},
		),
		settlementEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_settlement_events_total",
				Help: "Receipt settlement transitions by target status.",
			},
			[]string{"event"},
		),
		walletTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_wallet_transitions_total",
				Help: "Wallet status transitions by target status.",
			},
			[]string{"to_status"},
		),
		storageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_storage_errors_total",
				Help: "Storage failures by operation.",
			},
			[]string{"op"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAuthorization counts an authorization decision.
// Outcome is "approved", "replayed", or the rejection code.
func (m *Metrics) RecordAuthorization(outcome string) {
	m.authorizationsTotal.WithLabelValues(outcome).Inc()
}

// RecordLimitRejection counts one violated scope in a rejected authorization.
func (m *Metrics) RecordLimitRejection(scope string) {
	m.limitRejections.WithLabelValues(scope).Inc()
}

// RecordSettlementEvent counts a receipt transition ("confirmed", "failed",
// "refunded").
func (m *Metrics) RecordSettlementEvent(event string) {
	m.settlementEvents.WithLabelValues(event).Inc()
}

// RecordWalletTransition counts a wallet status change.
func (m *Metrics) RecordWalletTransition(toStatus string) {
	m.walletTransitions.WithLabelValues(toStatus).Inc()
}

// IncrStorageError increments the storage failure counter.
func (m *Metrics) IncrStorageError(op string) {
	m.storageErrors.WithLabelValues(op).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetGuardSnapshot returns a snapshot of guardrail metrics suitable for the
// GET /v1/metrics/guard endpoint.
func (m *Metrics) GetGuardSnapshot() *domain.GuardMetricsSnapshot {
	// Prometheus counters expose cumulative values; read them back directly.
	approved := getCounterValue(m.authorizationsTotal, "approved")
	replayed := getCounterValue(m.authorizationsTotal, "replayed")
	rejected := getCounterValue(m.authorizationsTotal, domain.CodeSpendingLimitExceeded) +
		getCounterValue(m.authorizationsTotal, domain.CodeWalletNotActive) +
		getCounterValue(m.authorizationsTotal, domain.CodeInvalidAmount)

	daily := getCounterValue(m.limitRejections, string(domain.GranularityDaily))
	monthly := getCounterValue(m.limitRejections, string(domain.GranularityMonthly))

	hits := getCounterValue(m.cacheHits, "limits")
	misses := getCounterValue(m.cacheMisses, "limits")

	approvalRate := float64(0)
	if approved+rejected > 0 {
		approvalRate = approved / (approved + rejected)
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.GuardMetricsSnapshot{
		AuthorizationsApproved: approved,
		AuthorizationsRejected: rejected,
		AuthorizationsReplayed: replayed,
		LimitRejectionsDaily:   daily,
		LimitRejectionsMonthly: monthly,
		SettlementsConfirmed:   getCounterValue(m.settlementEvents, "confirmed"),
		SettlementsFailed:      getCounterValue(m.settlementEvents, "failed"),
		SettlementsRefunded:    getCounterValue(m.settlementEvents, "refunded"),
		ApprovalRate:           approvalRate,
		CacheHitRate:           cacheHitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
