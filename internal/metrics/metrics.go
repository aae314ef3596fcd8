// Package metrics provides Prometheus instrumentation for the vault engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DepositsTotal counts deposits executed, partitioned by asset.
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_deposits_total",
		Help: "Total number of deposits executed",
	}, []string{"asset"})

	// WithdrawalsTotal counts withdrawals executed, partitioned by asset.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_withdrawals_total",
		Help: "Total number of withdrawals executed",
	}, []string{"asset"})

	// ProfitDistributionsTotal counts agent profit returns.
	ProfitDistributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_profit_distributions_total",
		Help: "Total number of profit distributions",
	})

	// StalePriceRejections counts operations aborted by oracle staleness.
	StalePriceRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_stale_price_rejections_total",
		Help: "Operations rejected because the oracle price was stale",
	})

	// NavPerShare tracks the cached NAV per share (share precision units).
	NavPerShare = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_nav_per_share",
		Help: "Cached NAV per share in 18-decimal base units",
	})

	// TotalValue tracks the vault's USD value (6-decimal base units).
	TotalValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_total_value",
		Help: "Total vault value in 6-decimal USD base units",
	})

	// OraclePrice tracks the cached volatile-asset price.
	OraclePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_oracle_price",
		Help: "Cached oracle price in 6-decimal USD base units",
	})

	// ActiveUsers tracks accounts holding a nonzero share balance.
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_active_users",
		Help: "Accounts with a nonzero share balance",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
