// Package metrics holds the prometheus collectors the feed service reports to.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upstream service labels.
const (
	ServiceFollowers = "followers"
	ServicePosts     = "posts"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics is the set of collectors for one process. A nil *Metrics records
// nothing, which keeps tests that don't care about metrics short.
type Metrics struct {
	requests         *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	resultSize       prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Feed requests served, by ranking strategy and outcome kind.",
		}, []string{"strategy", "outcome"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_upstream_requests_total",
			Help: "Calls made to the followers and posts services.",
		}, []string{"service", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feed_upstream_request_duration_seconds",
			Help:    "Latency of calls to the followers and posts services.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		resultSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_result_size",
			Help:    "Number of posts returned per feed.",
			Buckets: []float64{0, 1, 5, 10, 15, 20},
		}),
	}
	reg.MustRegister(m.requests, m.upstreamRequests, m.upstreamDuration, m.resultSize)

	return m
}

// ObserveUpstream records one call to an upstream service.
func (m *Metrics) ObserveUpstream(service string, took time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.upstreamRequests.WithLabelValues(service, outcome).Inc()
	m.upstreamDuration.WithLabelValues(service).Observe(took.Seconds())
}

// ObserveFeed records a finished feed request. The outcome is the error kind,
// or OutcomeOK.
func (m *Metrics) ObserveFeed(strategy, outcome string, size int) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(strategy, outcome).Inc()
	if outcome == OutcomeOK {
		m.resultSize.Observe(float64(size))
	}
}
