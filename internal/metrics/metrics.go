// Package metrics provides Prometheus instrumentation for the battle engine.
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
	// BattlesCreated counts battles created, partitioned by battle type.
	BattlesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_battles_created_total",
		Help: "Total number of battles created",
	}, []string{"type"})

	// BattlesCompleted counts battles driven to completed, by battle type.
	BattlesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_battles_completed_total",
		Help: "Total number of battles completed",
	}, []string{"type"})

	// BattlesCancelled counts battles cancelled before expiry.
	BattlesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_battles_cancelled_total",
		Help: "Total number of battles cancelled",
	})

	// Settlements counts point settlements applied to the ledger.
	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_settlements_total",
		Help: "Total number of battle settlements applied",
	})

	// DuplicateCompletions counts completions that lost the status
	// compare-and-swap to a concurrent scan.
	DuplicateCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_duplicate_completions_total",
		Help: "Completions skipped because another scan already won",
	})

	// ScoringDegraded counts participants completed with a zero score
	// because their score computation failed.
	ScoringDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_scoring_degraded_total",
		Help: "Participants scored as zero due to a scoring failure",
	})

	// ScanDuration tracks how long one expiry scan takes.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_scan_duration_seconds",
		Help:    "Duration of one expired-battle scan in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveBattles tracks the number of currently active battles.
	ActiveBattles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battle_active_battles",
		Help: "Number of currently active battles",
	})

	// TradesIngested counts PNL records accepted for storage.
	TradesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_trades_ingested_total",
		Help: "Total number of PNL records ingested",
	})

	// RateLookupFailures counts currency-rate lookups that failed,
	// partitioned by currency.
	RateLookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_rate_lookup_failures_total",
		Help: "Currency rate lookups that returned no usable rate",
	}, []string{"currency"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "battle_http_request_duration_seconds",
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
