package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a Prometheus registry and the agentbridge collectors.
//
// It satisfies agent.Metrics and bridge.Metrics, and ToolInvoked matches
// the agent.WithToolObserver callback.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts finished turns.
	// Labels: outcome (done|error|cancelled|no_agent|max_iterations)
	TurnsTotal *prometheus.CounterVec

	// BusyRejections counts messages refused while a turn was running.
	BusyRejections prometheus.Counter

	// ToolInvocations counts tool calls.
	// Labels: tool, outcome (ok|error|not_found|invalid|panic)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolDuration *prometheus.HistogramVec

	// StreamDecodeErrors counts stream lines that could not be decoded.
	// Labels: dialect
	StreamDecodeErrors *prometheus.CounterVec

	// ChannelMessages counts messages by adapter and direction.
	// Labels: channel (telegram|discord|slack|console), direction (inbound|outbound)
	ChannelMessages *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		BusyRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentbridge_busy_rejections_total",
				Help: "Total number of messages rejected because the session was busy",
			},
		),
		ToolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_tool_invocations_total",
				Help: "Total number of tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbridge_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		StreamDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_stream_decode_errors_total",
				Help: "Total number of undecodable provider stream lines by dialect",
			},
			[]string{"dialect"},
		),
		ChannelMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbridge_channel_messages_total",
				Help: "Total number of channel messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),
	}
	reg.MustRegister(
		m.TurnsTotal,
		m.BusyRejections,
		m.ToolInvocations,
		m.ToolDuration,
		m.StreamDecodeErrors,
		m.ChannelMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TurnCompleted(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BusyRejected() {
	m.BusyRejections.Inc()
}

func (m *Metrics) StreamDecodeError(dialect string) {
	m.StreamDecodeErrors.WithLabelValues(dialect).Inc()
}

// ToolInvoked records one tool invocation.
func (m *Metrics) ToolInvoked(tool, outcome string, elapsed time.Duration) {
	m.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) ChannelMessage(channel, direction string) {
	m.ChannelMessages.WithLabelValues(channel, direction).Inc()
}
