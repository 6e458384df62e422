// Package metrics exposes Prometheus collectors for the interview
// coordinator: connectivity, submissions, the offline queue and
// candidate activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric on a private registry, so several
// collectors can coexist in one process and in tests. All methods are
// safe on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	online            prometheus.Gauge
	probeLatency      prometheus.Histogram
	reconnectAttempts prometheus.Counter
	reconnectFailures prometheus.Counter
	submissions       *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	drained           *prometheus.CounterVec
	activity          *prometheus.CounterVec
	draftSaves        prometheus.Counter
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interview_connection_online",
			Help: "1 when the interview service is reachable",
		}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "interview_probe_latency_seconds",
			Help:    "Health probe round-trip latency",
			Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1, 2.5, 5},
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interview_reconnect_attempts_total",
			Help: "Socket reconnection attempts",
		}),
		reconnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interview_reconnect_exhausted_total",
			Help: "Reconnect loops that gave up after the attempt budget",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_submissions_total",
			Help: "Answer submissions by delivery path (live, remote, queue)",
		}, []string{"via"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "interview_queue_depth",
			Help: "Submissions waiting in the offline queue",
		}),
		drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_queue_drained_total",
			Help: "Queued submissions replayed, by outcome",
		}, []string{"outcome"}),
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_activity_events_total",
			Help: "Suspicious activity events by type",
		}, []string{"type"}),
		draftSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interview_draft_saves_total",
			Help: "Draft snapshots written",
		}),
	}
	c.registry.MustRegister(
		c.online,
		c.probeLatency,
		c.reconnectAttempts,
		c.reconnectFailures,
		c.submissions,
		c.queueDepth,
		c.drained,
		c.activity,
		c.draftSaves,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordProbe records one probe outcome.
func (c *Collector) RecordProbe(online bool, latency time.Duration) {
	if c == nil {
		return
	}
	if online {
		c.online.Set(1)
		c.probeLatency.Observe(latency.Seconds())
	} else {
		c.online.Set(0)
	}
}

// RecordReconnectAttempt counts one reconnect attempt.
func (c *Collector) RecordReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

// RecordReconnectExhausted counts a reconnect loop that gave up.
func (c *Collector) RecordReconnectExhausted() {
	if c == nil {
		return
	}
	c.reconnectFailures.Inc()
}

// RecordSubmission counts a submission by the path that accepted it.
func (c *Collector) RecordSubmission(via string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(via).Inc()
}

// SetQueueDepth sets the offline queue gauge.
func (c *Collector) SetQueueDepth(n int64) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// RecordDrain counts replayed submissions.
func (c *Collector) RecordDrain(delivered, failed int) {
	if c == nil {
		return
	}
	c.drained.WithLabelValues("delivered").Add(float64(delivered))
	c.drained.WithLabelValues("failed").Add(float64(failed))
}

// RecordActivity counts one suspicious activity event.
func (c *Collector) RecordActivity(activityType string) {
	if c == nil {
		return
	}
	c.activity.WithLabelValues(activityType).Inc()
}

// RecordDraftSave counts one draft write.
func (c *Collector) RecordDraftSave() {
	if c == nil {
		return
	}
	c.draftSaves.Inc()
}
