package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors shared by the listener and the image builder.
var (
	// HTTPRequestsTotal counts requests by route template and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_listener_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks response time distribution per route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goal_listener_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RestartsTotal counts tracker restarts by outcome (success, failed).
	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_listener_restarts_total",
			Help: "Total number of tracker restarts",
		},
		[]string{"outcome"},
	)

	// AlertsTotal counts light and speaker activations by target and outcome.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_listener_alerts_total",
			Help: "Total number of goal light and speaker activations",
		},
		[]string{"target", "outcome"},
	)

	// BuildsTotal counts image builds by outcome.
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_listener_image_builds_total",
			Help: "Total number of image builds",
		},
		[]string{"outcome"},
	)

	// BuildInfo is always 1; the label carries the version.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goal_listener_info",
			Help: "Build information (always 1)",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(BuildInfo)
}

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
