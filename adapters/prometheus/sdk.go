package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/clstr-go/core/metrics"
)

// sdkMetrics implements metrics.SDKMetrics using Prometheus.
type sdkMetrics struct {
	queryDuration    *prometheus.HistogramVec
	queriesTotal     *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	batchesTotal     *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	reconnectsTotal  prometheus.Counter
	heartbeatsMissed prometheus.Counter
}

// NewSDKMetrics creates a new Prometheus implementation of metrics.SDKMetrics.
func NewSDKMetrics(reg prometheus.Registerer) metrics.SDKMetrics {
	m := &sdkMetrics{
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clstr_sdk_query_duration_seconds",
			Help:    "Query request/response latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"name"}),

		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_sdk_queries_total",
			Help: "Total number of queries issued",
		}, []string{"name", "success"}),

		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clstr_sdk_batch_duration_seconds",
			Help:    "Batch dispatch latency in seconds",
			Buckets: defaultBuckets,
		}),

		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_sdk_batches_total",
			Help: "Total number of batches dispatched",
		}, []string{"success"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clstr_sdk_connection_state",
			Help: "Current connection lifecycle state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clstr_sdk_reconnects_total",
			Help: "Total number of reconnect attempts",
		}),

		heartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clstr_sdk_heartbeats_missed_total",
			Help: "Total number of observed liveness window expiries",
		}),
	}

	reg.MustRegister(
		m.queryDuration,
		m.queriesTotal,
		m.batchDuration,
		m.batchesTotal,
		m.connectionState,
		m.reconnectsTotal,
		m.heartbeatsMissed,
	)

	return m
}

func (m *sdkMetrics) QueryDuration(name string) metrics.Timer {
	return newTimer(m.queryDuration.WithLabelValues(name))
}

func (m *sdkMetrics) QueryCompleted(name string, ok bool) {
	m.queriesTotal.WithLabelValues(name, boolToStr(ok)).Inc()
}

func (m *sdkMetrics) BatchDuration() metrics.Timer {
	return newTimer(m.batchDuration)
}

func (m *sdkMetrics) BatchCompleted(ok bool) {
	m.batchesTotal.WithLabelValues(boolToStr(ok)).Inc()
}

// ConnectionState removes every previously observed state label series and
// sets state's gauge to 1, so only the active state is exported at any time
// without a separate "previous state" bookkeeping.
func (m *sdkMetrics) ConnectionState(state string) {
	m.connectionState.Reset()
	m.connectionState.WithLabelValues(state).Set(1)
}

func (m *sdkMetrics) ReconnectAttempt() {
	m.reconnectsTotal.Inc()
}

func (m *sdkMetrics) HeartbeatMissed() {
	m.heartbeatsMissed.Inc()
}

var _ metrics.SDKMetrics = (*sdkMetrics)(nil)
