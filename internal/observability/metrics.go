package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions       prometheus.Gauge
	stateWriteTotal      *prometheus.CounterVec
	conversationAppend   prometheus.Histogram
	conversationLoad     prometheus.Histogram
	nodeIterationTotal   *prometheus.CounterVec
	nodeRunDuration      *prometheus.HistogramVec
	providerRetryTotal   *prometheus.CounterVec
	providerFailureTotal *prometheus.CounterVec
	triggerTotal         *prometheus.CounterVec
	dispatchQueueDepth   *prometheus.GaugeVec
	dispatchTotal        *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			stateWriteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "state_write_total",
					Help: "Total session state writes by status.",
				},
				[]string{"status"},
			),
			conversationAppend: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_append_duration_seconds",
					Help:    "Conversation append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			conversationLoad: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_load_duration_seconds",
					Help:    "Conversation load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			nodeIterationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "node_iteration_total",
					Help: "Total judge-loop iterations by node.",
				},
				[]string{"node"},
			),
			nodeRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "node_run_duration_seconds",
					Help:    "Node execution duration in seconds by node and status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"node", "status"},
			),
			providerRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_retry_total",
					Help: "Total provider call retries by provider and error kind.",
				},
				[]string{"provider", "kind"},
			),
			providerFailureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_failure_total",
					Help: "Total provider call failures by provider and error kind.",
				},
				[]string{"provider", "kind"},
			),
			triggerTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "trigger_total",
					Help: "Total entry point triggers by entry point and status.",
				},
				[]string{"entry_point", "status"},
			),
			dispatchQueueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dispatch_queue_depth",
					Help: "Current dispatch queue depth by executor.",
				},
				[]string{"executor"},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Total dispatched events by route.",
				},
				[]string{"route"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.stateWriteTotal,
			m.conversationAppend,
			m.conversationLoad,
			m.nodeIterationTotal,
			m.nodeRunDuration,
			m.providerRetryTotal,
			m.providerFailureTotal,
			m.triggerTotal,
			m.dispatchQueueDepth,
			m.dispatchTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordStateWrite(status string) {
	m := getMetrics()
	m.stateWriteTotal.WithLabelValues(status).Inc()
}

func RecordConversationAppend(duration time.Duration) {
	m := getMetrics()
	m.conversationAppend.Observe(duration.Seconds())
}

func RecordConversationLoad(duration time.Duration) {
	m := getMetrics()
	m.conversationLoad.Observe(duration.Seconds())
}

func RecordNodeIteration(node string) {
	m := getMetrics()
	m.nodeIterationTotal.WithLabelValues(node).Inc()
}

func RecordNodeRun(node string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.nodeRunDuration.WithLabelValues(node, status).Observe(duration.Seconds())
}

func RecordProviderRetry(provider, kind string) {
	m := getMetrics()
	m.providerRetryTotal.WithLabelValues(provider, kind).Inc()
}

func RecordProviderFailure(provider, kind string) {
	m := getMetrics()
	m.providerFailureTotal.WithLabelValues(provider, kind).Inc()
}

func RecordTrigger(entryPoint string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.triggerTotal.WithLabelValues(entryPoint, status).Inc()
}

func SetDispatchQueueDepth(executor string, depth int) {
	m := getMetrics()
	m.dispatchQueueDepth.WithLabelValues(executor).Set(float64(depth))
}

// RecordDispatch counts a routed event. route is "inline" when the event
// ran on the calling executor and "queued" when it crossed executors.
func RecordDispatch(route string) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(route).Inc()
}
