package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsNamespace = "tss"
)

// Metrics holds the scheduler's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	shardsDispatched *prometheus.CounterVec
	shardRetries     prometheus.Counter
	shardFailures    *prometheus.CounterVec
	testResults      *prometheus.CounterVec
	shardDuration    *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	runnerHealth     *prometheus.GaugeVec
	runnerLoad       *prometheus.GaugeVec
	runCost          prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		shardsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "shards_dispatched_total",
			Help:      "Count of shard execution attempts",
		}, []string{"runner"}),
		shardRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "shard_retries_total",
			Help:      "Count of shards re-queued after an execution fault",
		}),
		shardFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "shard_failures_total",
			Help:      "Count of shards that ended failed",
		}, []string{"cause"}),
		testResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "test_results_total",
			Help:      "Count of terminal test results",
		}, []string{"status"}),
		shardDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "shard_duration_seconds",
			Help:      "Elapsed time of shard execution attempts",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"runner"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "shards_in_flight",
			Help:      "Shards currently executing",
		}),
		runnerHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "runner_health_score",
			Help:      "Latest health score per runner",
		}, []string{"runner"}),
		runnerLoad: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "runner_load",
			Help:      "Shards currently assigned per runner",
		}, []string{"runner"}),
		runCost: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_cost",
			Help:      "Accumulated cost of the current run",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordDispatch(runnerID string, load int) {
	if m == nil {
		return
	}
	m.shardsDispatched.WithLabelValues(runnerID).Inc()
	m.runnerLoad.WithLabelValues(runnerID).Set(float64(load))
	m.inFlight.Inc()
}

// RecordAttempt closes out a dispatch recorded by RecordDispatch.
func (m *Metrics) RecordAttempt(runnerID string, load int, elapsed time.Duration, totalCost float64) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.runnerLoad.WithLabelValues(runnerID).Set(float64(load))
	m.shardDuration.WithLabelValues(runnerID).Observe(elapsed.Seconds())
	m.runCost.Set(totalCost)
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.shardRetries.Inc()
}

func (m *Metrics) RecordShardFailure(cause string) {
	if m == nil {
		return
	}
	m.shardFailures.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordTestResult(status string) {
	if m == nil {
		return
	}
	m.testResults.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordHealth(runnerID string, score float64) {
	if m == nil {
		return
	}
	m.runnerHealth.WithLabelValues(runnerID).Set(score)
}
