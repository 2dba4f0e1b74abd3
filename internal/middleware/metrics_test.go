package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// findMetric returns the first collected series whose labels include all of
// labels, or nil.
func findMetric(c prometheus.Collector, labels prometheus.Labels) *dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		matched := 0
		for _, lp := range dm.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return &dm
		}
	}
	return nil
}

func counterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	if m := findMetric(cv, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func histogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	if m := findMetric(hv, labels); m != nil {
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func newMetricsRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/reviewer/:org/data-room", func(c *gin.Context) { c.Status(status) })
	return r
}

func serveMetrics(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/reviewer/:org/data-room", "status": "200"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	serveMetrics(newMetricsRouter(http.StatusOK), "/reviewer/acme/data-room")

	if got := counterValue(telemetry.HTTPRequestsTotal, labels); got-before != 1 {
		t.Errorf("http_requests_total delta = %.0f, want 1", got-before)
	}
	if m := findMetric(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "/reviewer/acme/data-room"}); m != nil {
		t.Error("raw URL used as path label; want route template")
	}
}

func TestMetricsMiddleware_ObservesDuration(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/reviewer/:org/data-room"}
	before := histogramCount(telemetry.HTTPRequestDuration, labels)

	serveMetrics(newMetricsRouter(http.StatusOK), "/reviewer/spark/data-room")

	if after := histogramCount(telemetry.HTTPRequestDuration, labels); after <= before {
		t.Errorf("http_request_duration_seconds count did not increase: before=%d after=%d", before, after)
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/reviewer/:org/data-room", "status": "502"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	serveMetrics(newMetricsRouter(http.StatusBadGateway), "/reviewer/spark/data-room")

	if got := counterValue(telemetry.HTTPRequestsTotal, labels); got-before != 1 {
		t.Errorf("http_requests_total{status=502} delta = %.0f, want 1", got-before)
	}
}

func TestMetricsMiddleware_NoRouteLabel(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": noRoute, "status": "404"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)

	r := gin.New()
	r.Use(MetricsMiddleware())
	serveMetrics(r, "/does-not-exist")

	if got := counterValue(telemetry.HTTPRequestsTotal, labels); got-before != 1 {
		t.Errorf("<no-route> delta = %.0f, want 1", got-before)
	}
}
