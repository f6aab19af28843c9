// Package observability exposes Prometheus metrics for the HTTP surface
// and the realtime hub.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liaotian_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liaotian_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liaotian_ws_connections",
		Help: "Open websocket connections.",
	})

	policyDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liaotian_policy_denials_total",
		Help: "Requests rejected by row-level security.",
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WSConnOpened / WSConnClosed track the websocket gauge.
func WSConnOpened() { wsConnections.Inc() }
func WSConnClosed() { wsConnections.Dec() }

// PolicyDenied counts an RLS rejection.
func PolicyDenied() { policyDenials.Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler, recording count and latency under the
// given route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
