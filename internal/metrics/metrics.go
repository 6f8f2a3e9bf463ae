// Package metrics provides Prometheus instrumentation for the credence engine.
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
	// SessionsCreated counts bootstrapped sessions, partitioned by treatment.
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_sessions_created_total",
		Help: "Total number of sessions created",
	}, []string{"treatment"})

	// ActiveSessions tracks sessions that have not finished.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credence_active_sessions",
		Help: "Number of sessions not yet finished",
	})

	// DecisionsTotal counts accepted submissions by step.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_decisions_total",
		Help: "Accepted participant decisions",
	}, []string{"step"})

	// RejectedDecisions counts submissions rejected by validation or step guards.
	RejectedDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_rejected_decisions_total",
		Help: "Participant decisions rejected",
	}, []string{"step", "reason"})

	// IntegrityFaults counts fatal invariant violations.
	IntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credence_integrity_faults_total",
		Help: "Fatal integrity faults raised while serving participants",
	})

	// BarriersReleased counts released whole-session barriers by kind.
	BarriersReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_barriers_released_total",
		Help: "Whole-session barriers released",
	}, []string{"kind"})

	// SellerTypes counts drawn seller types.
	SellerTypes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_seller_types_total",
		Help: "Seller types drawn on interaction",
	}, []string{"type"})

	// DecisionLatency tracks the time to apply a submission.
	DecisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credence_decision_latency_seconds",
		Help:    "Decision handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credence_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credence_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credence_http_request_duration_seconds",
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

		path := routeLabel(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routeLabel returns the matched route pattern. Participant IDs are in the
// path, so requests that matched no route share one label.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
