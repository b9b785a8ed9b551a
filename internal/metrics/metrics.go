// Package metrics provides Prometheus instrumentation for the worker and
// API: node latency, retries, revision-loop depth, queue wait, queue
// depth, subscriber count, and job outcomes — the metrics this
// sequential-per-job pipeline actually produces.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the pipeline records.
type Metrics struct {
	nodeLatency   *prometheus.HistogramVec
	nodeRetries   *prometheus.CounterVec
	jobsTotal     *prometheus.CounterVec
	revisionLoops prometheus.Histogram
	claimWait     prometheus.Histogram
	queueDepth    prometheus.Gauge
	subscribers   prometheus.Gauge
}

// New registers every metric with registry (pass prometheus.DefaultRegisterer
// for the global registry, or a fresh prometheus.NewRegistry() for test
// isolation).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		nodeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qaflow",
			Name:      "node_latency_ms",
			Help:      "Graph node execution duration in milliseconds",
			Buckets:   []float64{5, 10, 50, 100, 500, 1000, 5000, 15000, 60000, 180000},
		}, []string{"node", "status"}),
		nodeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaflow",
			Name:      "node_retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"node", "reason"}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaflow",
			Name:      "jobs_total",
			Help:      "Completed jobs by terminal outcome",
		}, []string{"outcome"}), // complete, error
		revisionLoops: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qaflow",
			Name:      "revision_loop_count",
			Help:      "Number of generator<->critic revisions per completed job",
			Buckets:   []float64{0, 1, 2},
		}),
		claimWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qaflow",
			Name:      "claim_wait_ms",
			Help:      "Time a worker spent blocked in Claim before receiving a job",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "qaflow",
			Name:      "queue_depth",
			Help:      "Jobs currently waiting to be claimed",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "qaflow",
			Name:      "stream_subscribers",
			Help:      "Currently connected SSE subscribers across all requests",
		}),
	}
}

func (m *Metrics) RecordNodeLatency(node string, d time.Duration, status string) {
	m.nodeLatency.WithLabelValues(node, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncrementNodeRetry(node, reason string) {
	m.nodeRetries.WithLabelValues(node, reason).Inc()
}

func (m *Metrics) RecordJobOutcome(outcome string) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRevisionLoops(count int) {
	m.revisionLoops.Observe(float64(count))
}

func (m *Metrics) RecordClaimWait(d time.Duration) {
	m.claimWait.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}
