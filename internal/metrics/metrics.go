// Package metrics holds the prometheus collectors of the chat service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sippy_chat"

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	messagesReceived *prometheus.CounterVec
	responseDuration *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	cancelled        *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsStarted  prometheus.Counter
	messageSize      *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	truncatedTurns   prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		messagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Chat messages received, by endpoint.",
		}, []string{"endpoint"}),
		responseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Time to produce a final response, by endpoint.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"endpoint"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors, by type.",
		}, []string{"error_type"}),
		cancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancelled_requests_total",
			Help:      "Turns cancelled by the client, by endpoint.",
		}, []string{"endpoint"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open websocket sessions.",
		}),
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Websocket sessions opened.",
		}),
		messageSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_size_bytes",
			Help:      "Size of request and response messages.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"direction"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		truncatedTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_turns_total",
			Help:      "Turns stopped at the iteration ceiling.",
		}),
	}
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageReceived(endpoint string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveResponse(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.responseDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) Error(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}

func (m *Metrics) Cancelled(endpoint string) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(endpoint).Inc()
}

// SessionOpened counts a new websocket session. The returned func marks it
// closed.
func (m *Metrics) SessionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
	return func() { m.activeSessions.Dec() }
}

func (m *Metrics) MessageSize(direction string, n int) {
	if m == nil {
		return
	}
	m.messageSize.WithLabelValues(direction).Observe(float64(n))
}

// ToolCall counts one finished tool invocation.
func (m *Metrics) ToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) TruncatedTurn() {
	if m == nil {
		return
	}
	m.truncatedTurns.Inc()
}
