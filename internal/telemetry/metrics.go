// Package telemetry provides application-level observability for the portal.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<SPARK_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not mounted on the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Data-room panel fetch outcomes and signed document counts
//   - Receipt and statement cache hits and misses
//   - Reconciliation runs
//   - Square webhook outcomes
//   - Redis connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /reviewer/:org/data-room)
// rather than the raw request URL, so organization names and donation ids never
// become label values.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Data-room metrics.
//
// DataRoomFetchesTotal counts settled panel fetches by outcome:
// "success", "empty", "network_error" or "response_error". Fetches discarded
// because a newer org superseded them, or because the panel was unmounted,
// are counted as "discarded".
//
// DataRoomFetchDuration observes the wall time of each panel fetch.
//
// DataRoomDocumentsSignedTotal counts signed URLs minted by the documents
// endpoint, by storage backend. DataRoomSigningErrorsTotal counts documents
// omitted from a listing because signing failed.
//
// Example PromQL queries:
//   - Panel failure ratio:  sum(rate(dataroom_fetches_total{outcome=~".*_error"}[15m])) / sum(rate(dataroom_fetches_total[15m]))
//   - Signing failures:     increase(dataroom_signing_errors_total[1h]) > 0
var (
	DataRoomFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataroom_fetches_total",
			Help: "Total number of data-room panel fetches, by outcome.",
		},
		[]string{"outcome"},
	)

	DataRoomFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataroom_fetch_duration_seconds",
			Help:    "Duration of a single data-room panel fetch.",
			Buckets: prometheus.DefBuckets,
		},
	)

	DataRoomDocumentsSignedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataroom_documents_signed_total",
			Help: "Total number of signed document URLs issued, by storage backend.",
		},
		[]string{"backend"},
	)

	DataRoomSigningErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataroom_signing_errors_total",
			Help: "Total number of documents omitted from a listing because signing failed.",
		},
	)
)

// PDFCacheRequestsTotal counts receipt and statement PDF lookups by kind
// ("receipt", "statement") and result: "hit", "miss" or "error" (redis
// unavailable; the request still falls through to storage).
//
// Example PromQL queries:
//   - Receipt hit ratio:  sum(rate(pdf_cache_requests_total{kind="receipt",result="hit"}[1h])) / sum(rate(pdf_cache_requests_total{kind="receipt"}[1h]))
var PDFCacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdf_cache_requests_total",
		Help: "Total number of receipt and statement PDF cache lookups, by kind and result.",
	},
	[]string{"kind", "result"},
)

// ReconciliationRunsTotal counts donation ledger reconciliation runs by
// outcome: "success", "invalid_ledger" or "error".
var ReconciliationRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reconciliation_runs_total",
		Help: "Total number of donation reconciliation runs, by outcome.",
	},
	[]string{"outcome"},
)

// SquareWebhookEventsTotal counts inbound Square webhook deliveries by
// outcome: "processed", "duplicate", "locked", "invalid_signature",
// "stale", "rate_limited" or "bad_request".
var SquareWebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "square_webhook_events_total",
		Help: "Total number of Square webhook deliveries, by outcome.",
	},
	[]string{"outcome"},
)

// CacheOpenConnections tracks the total connections held by the redis pool.
// It is sampled every 30 seconds by StartCacheStatsCollector.
var CacheOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "cache_open_connections",
		Help: "Current number of open redis connections in the pool.",
	},
)

// StartCacheStatsCollector samples the redis pool every 30 seconds until ctx
// is cancelled.
func StartCacheStatsCollector(ctx context.Context, client *redis.Client) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("cache stats collector stopped")
				return
			case <-ticker.C:
				CacheOpenConnections.Set(float64(client.PoolStats().TotalConns))
			}
		}
	}()
}
