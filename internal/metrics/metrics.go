// Package metrics exposes Prometheus collectors for policy decisions, gateway
// calls and tool calls.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datadog_mcp"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	upstream    *prometheus.HistogramVec
	toolCalls   *prometheus.CounterVec
	executions  *prometheus.CounterVec
	catalogSize prometheus.Gauge

	openExecutions atomic.Pointer[func() int]
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Request-time policy decisions by method and class.",
		}, []string{"method", "class"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of Datadog API calls issued by the gateway.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool and result.",
		}, []string{"tool", "result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Code executions by outcome.",
		}, []string{"outcome"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_operations",
			Help:      "Operations in the loaded catalog.",
		}),
	}

	open := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_executions",
		Help:      "Code executions holding a gateway session.",
	}, func() float64 {
		if count := m.openExecutions.Load(); count != nil {
			return float64((*count)())
		}
		return 0
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.upstream,
		m.toolCalls,
		m.executions,
		m.catalogSize,
		open,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts one policy decision. Nil receivers are no-ops.
func (m *Metrics) ObserveDecision(method, class string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(methodLabel(method), class).Inc()
}

// ObserveUpstream records one Datadog API round trip.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(methodLabel(method), strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ObserveToolCall counts one MCP tool call.
func (m *Metrics) ObserveToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, result).Inc()
}

// ObserveExecution counts one snippet execution.
func (m *Metrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}

// SetCatalogSize records the number of catalog operations.
func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogSize.Set(float64(n))
}

// TrackOpenExecutions reports count() as the open executions gauge.
func (m *Metrics) TrackOpenExecutions(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.openExecutions.Store(&count)
}

// methodLabel keeps the method label bounded: callers choose the method
// string, so anything but the standard verbs is OTHER.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return method
	default:
		return "OTHER"
	}
}
