// Package metrics provides Prometheus instrumentation for the ledger.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BalanceChangesTotal counts committed ledger entries by change type.
	BalanceChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_changes_total",
		Help: "Total number of committed balance changes",
	}, []string{"change_type"})

	BalanceChangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_balance_change_latency_seconds",
		Help:    "Balance change latency in seconds, retries included",
		Buckets: prometheus.DefBuckets,
	}, []string{"change_type"})

	// BalanceChangeRejections counts changes refused by an invariant.
	BalanceChangeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_change_rejections_total",
		Help: "Balance changes rejected, by reason",
	}, []string{"reason"})

	TxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tx_retries_total",
		Help: "Transactions retried after a transient storage failure",
	}, []string{"operation"})

	BetsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bets_created_total",
		Help: "Total number of bets created",
	}, []string{"sport"})

	// BetsSettledTotal counts outcomes recorded on placed bets.
	BetsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bets_settled_total",
		Help: "Bets settled, by outcome",
	}, []string{"outcome"})

	AnalyticsCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_analytics_cache_total",
		Help: "Analytics cache lookups, by result",
	}, []string{"result"})

	// AuditEntriesTotal counts audit entries written, by table and operation.
	AuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_entries_total",
		Help: "Audit log entries written inside committed or pending transactions",
	}, []string{"table", "operation"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_publish_failures_total",
		Help: "Ledger events that could not be delivered",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
