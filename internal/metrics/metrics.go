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
	// Sessions started per variant
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindwell_sessions_started_total",
			Help: "Total number of assessment sessions started",
		},
		[]string{"variant"},
	)

	// Submissions per variant and outcome: created, rejected, failed
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindwell_submissions_total",
			Help: "Total number of assessment submissions by outcome",
		},
		[]string{"variant", "outcome"},
	)

	// Reports created per variant and category
	ReportsByCategory = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindwell_reports_total",
			Help: "Total number of reports created by category",
		},
		[]string{"variant", "category"},
	)

	// Autosave writes by result: written, superseded, failed
	AutosaveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindwell_autosave_writes_total",
			Help: "Total number of queued progress writes by result",
		},
		[]string{"result"},
	)

	HistoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindwell_history_cache_lookups_total",
			Help: "History cache lookups by result",
		},
		[]string{"result"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindwell_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveRequest records one served request.
func ObserveRequest(method string, status int, elapsed time.Duration) {
	RequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
