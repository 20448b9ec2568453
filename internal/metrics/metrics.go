// Package metrics provides Prometheus instrumentation for the CTO-Player
// server, exposed at GET /metrics.
//
// Standard Go runtime and process metrics come free with
// prometheus/client_golang; the ctoplayer_* series below cover the relay
// and session subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActiveSessions is the number of sessions currently in the memory tier.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ctoplayer_active_sessions",
	Help: "Sessions resident in the in-memory tier.",
})

// ProxyRequests counts relay requests by outcome (ok, blocked, upstream_error,
// timeout, rate_limited).
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ctoplayer_proxy_requests_total",
	Help: "Stream relay requests by outcome.",
}, []string{"outcome"})

// ProxyDuration tracks time to first byte on relayed responses.
var ProxyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ctoplayer_proxy_duration_seconds",
	Help:    "Time from relay request to upstream response headers.",
	Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
})

// StreamErrors counts relay stream errors by type (connect, timeout,
// redirect_blocked, manifest_too_large, copy).
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ctoplayer_stream_errors_total",
	Help: "Stream relay errors by type.",
}, []string{"type"})

// RateLimitRejections counts throttled requests by operation class.
var RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ctoplayer_ratelimit_rejections_total",
	Help: "Requests rejected by the rate limiter, by class.",
}, []string{"class"})

// IngestLoads counts playlist ingestions by source and result.
var IngestLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ctoplayer_ingest_loads_total",
	Help: "Playlist load/refresh operations by source and result.",
}, []string{"source", "result"})

// Handler returns the Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
