// Package telemetry holds the Prometheus collectors for the service and the
// HTTP middleware feeding them.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts ingested events by endpoint (track, signal) and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_events_total",
			Help: "Events received by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	ScorePointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadscore_score_points_total",
			Help: "Engagement points applied to leads",
		},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_status_transitions_total",
			Help: "Lead status changes by target status",
		},
		[]string{"to"},
	)

	LeadsCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_leads_captured_total",
			Help: "Lead form submissions by result (created, existing)",
		},
		[]string{"result"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by target and result",
		},
		[]string{"target", "result"},
	)

	ReportCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_report_cache_total",
			Help: "Report cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	IngestRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_ingest_rows_total",
			Help: "Rows upserted by the spend/CRM ingest",
		},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscore_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadscore_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// Middleware records request count and latency labeled by the chi route
// pattern, so ids in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
