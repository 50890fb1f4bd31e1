package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)

	slotPurchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_slot_purchases_total",
			Help: "Slot purchase attempts by outcome code",
		},
		[]string{"outcome"},
	)

	publishDowngrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lead_publish_downgrades_total",
			Help: "Publish requests downgraded because price or max slots was zero",
		},
	)

	marketplaceChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_marketplace_changes_total",
			Help: "Marketplace configuration changes by resulting outcome",
		},
		[]string{"outcome"},
	)

	entitlementChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_changes_total",
			Help: "Entitlement grants, revocations and extensions",
		},
		[]string{"action"},
	)

	entitlementsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_expired_total",
			Help: "Entitlements moved to expired by the sweeper",
		},
	)

	sweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_sweep_failures_total",
			Help: "Entitlements the sweeper failed to expire",
		},
	)

	outboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_relayed_total",
			Help: "Outbox events handed to the broker by outcome",
		},
		[]string{"topic", "outcome"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeConnections.Inc()
		defer activeConnections.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern keeps IDs out of metric labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func RecordPurchase(outcome string) {
	slotPurchases.WithLabelValues(outcome).Inc()
}

func RecordDowngrade() {
	publishDowngrades.Inc()
}

func RecordMarketplaceChange(outcome string) {
	marketplaceChanges.WithLabelValues(outcome).Inc()
}

func RecordEntitlementChange(action string) {
	entitlementChanges.WithLabelValues(action).Inc()
}

func RecordEntitlementsExpired(n int) {
	entitlementsExpired.Add(float64(n))
}

func RecordSweepFailures(n int) {
	sweepFailures.Add(float64(n))
}

func RecordOutboxRelay(topic, outcome string) {
	outboxRelayed.WithLabelValues(topic, outcome).Inc()
}
