package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the ledger.
// It satisfies the metrics ports of the inventory and trade services.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ledgerEntries   *prometheus.CounterVec
	stockRejected   *prometheus.CounterVec
	recomputes      *prometheus.CounterVec
	transactions    *prometheus.CounterVec
	txRetries       prometheus.Counter
}

// NewMetrics initialises the registry with HTTP, ledger and runtime collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_ledger_entries_total",
		Help: "Stock ledger entries appended by direction.",
	}, []string{"direction"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_stock_rejections_total",
		Help: "Movements rejected before reaching the ledger.",
	}, []string{"reason"})
	recomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_inventory_recompute_total",
		Help: "Projection rebuilds, split by whether drift was corrected.",
	}, []string{"drifted"})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_transactions_total",
		Help: "Transaction commits by type and outcome.",
	}, []string{"type", "outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "backoffice_db_tx_retries_total",
		Help: "Units of work retried after lock contention.",
	})
	registry.MustRegister(
		requests, duration, entries, rejected, recomputes, transactions, retries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ledgerEntries:   entries,
		stockRejected:   rejected,
		recomputes:      recomputes,
		transactions:    transactions,
		txRetries:       retries,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// LedgerAppended counts an appended ledger entry.
func (m *Metrics) LedgerAppended(direction string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(direction).Inc()
}

// StockRejected counts a movement refused by validation or availability.
func (m *Metrics) StockRejected(reason string) {
	if m == nil {
		return
	}
	m.stockRejected.WithLabelValues(reason).Inc()
}

// Recomputed counts a projection rebuild.
func (m *Metrics) Recomputed(drifted bool) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(strconv.FormatBool(drifted)).Inc()
}

// TransactionRecorded counts a commit attempt.
func (m *Metrics) TransactionRecorded(txType, outcome string) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.transactions.WithLabelValues(txType, outcome).Inc()
}

// TxRetried counts a retried unit of work; use it as a db.WithRetryHook.
func (m *Metrics) TxRetried() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
