package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Tool metrics
	ToolCallsTotal       *prometheus.CounterVec
	ToolCallDuration     *prometheus.HistogramVec
	ToolCallErrorsTotal  *prometheus.CounterVec
	RegisteredToolsGauge prometheus.Gauge

	// Lane queue metrics
	QueueDepth *prometheus.GaugeVec
	QueueWait  *prometheus.HistogramVec

	// Databricks API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Front-end metrics
	RPCRequestsTotal *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultInst *Metrics
)

// Default returns the process-wide metrics instance
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultInst = NewMetrics()
	})
	return defaultInst
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_errors_total",
				Help: "Total number of failed tool calls by tool and error kind",
			},
			[]string{"tool", "kind"},
		),
		RegisteredToolsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "registered_tools",
				Help: "Number of tools exposed by the registry",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tool_queue_depth",
				Help: "Number of tool calls waiting for a free slot by lane",
			},
			[]string{"lane"},
		),
		QueueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_queue_wait_seconds",
				Help:    "Time tool calls spent queued before running by lane",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"lane"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of Databricks API requests by method and status code",
			},
			[]string{"method", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "Duration of Databricks API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Total number of JSON-RPC requests by transport and method",
			},
			[]string{"transport", "method"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolCallErrorsTotal)
	m.registry.MustRegister(m.RegisteredToolsGauge)
	m.registry.MustRegister(m.QueueDepth)
	m.registry.MustRegister(m.QueueWait)

	m.registry.MustRegister(m.APIRequestsTotal)
	m.registry.MustRegister(m.APIRequestDuration)

	m.registry.MustRegister(m.RPCRequestsTotal)
}

// RecordToolCall records one dispatched tool call. An empty kind means success.
func (m *Metrics) RecordToolCall(tool string, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if kind != "" {
		status = "error"
		m.ToolCallErrorsTotal.WithLabelValues(tool, kind).Inc()
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// SetRegisteredTools sets the registered tool gauge
func (m *Metrics) SetRegisteredTools(count int) {
	if m == nil {
		return
	}
	m.RegisteredToolsGauge.Set(float64(count))
}

// SetQueueDepth sets the number of queued calls in a lane
func (m *Metrics) SetQueueDepth(lane string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordQueueWait records how long a call waited before it started
func (m *Metrics) RecordQueueWait(lane string, wait time.Duration) {
	if m == nil {
		return
	}
	m.QueueWait.WithLabelValues(lane).Observe(wait.Seconds())
}

// RecordAPIRequest records one outbound request. Status 0 means the request
// never got a response.
func (m *Metrics) RecordAPIRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(method, label).Inc()
	m.APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRPCRequest records one inbound JSON-RPC request
func (m *Metrics) RecordRPCRequest(transport, method string) {
	if m == nil {
		return
	}
	m.RPCRequestsTotal.WithLabelValues(transport, method).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
