package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// Every method is safe to call on a nil *Metrics so components can run unmetered.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections      prometheus.Gauge
	WSMessages         *prometheus.CounterVec
	WSDeliveryFailures prometheus.Counter

	// Terminal metrics
	TerminalsActive *prometheus.GaugeVec
	TerminalStarts  *prometheus.CounterVec

	// Assistant metrics
	AssistantStreams  *prometheus.CounterVec
	AssistantChunks   prometheus.Counter
	AssistantDuration *prometheus.HistogramVec
	BreakerState      *prometheus.GaugeVec

	// gRPC metrics
	GRPCCalls    *prometheus.CounterVec
	GRPCDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics registers all collectors on reg.
// A nil reg gets a fresh registry with Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webterm_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_ws_messages_total",
				Help: "Total number of WebSocket envelopes",
			},
			[]string{"direction", "type"},
		),
		WSDeliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_ws_delivery_failures_total",
				Help: "Envelopes dropped because a connection queue was full or closed",
			},
		),

		// Terminal metrics
		TerminalsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webterm_terminals_active",
				Help: "Number of running terminal processes",
			},
			[]string{"kind"},
		),
		TerminalStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_terminal_starts_total",
				Help: "Terminal start attempts",
			},
			[]string{"kind", "status"},
		),

		// Assistant metrics
		AssistantStreams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_assistant_responses_total",
				Help: "Assistant responses by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		AssistantChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_assistant_chunks_total",
				Help: "Partial assistant chunks broadcast",
			},
		),
		AssistantDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_assistant_duration_seconds",
				Help:    "Assistant response duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webterm_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		// gRPC metrics
		GRPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_grpc_calls_total",
				Help: "Total number of gRPC calls served",
			},
			[]string{"method", "status"},
		),
		GRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_grpc_duration_seconds",
				Help:    "gRPC call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webterm_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordWSMessage records an envelope crossing the transport
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSDeliveryFailures counts an envelope that could not be queued
func (m *Metrics) IncWSDeliveryFailures() {
	if m == nil {
		return
	}
	m.WSDeliveryFailures.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordTerminalStart records a start attempt for a terminal kind
func (m *Metrics) RecordTerminalStart(kind, status string) {
	if m == nil {
		return
	}
	m.TerminalStarts.WithLabelValues(kind, status).Inc()
}

// SetTerminalsActive sets the number of running terminals of a kind
func (m *Metrics) SetTerminalsActive(kind string, count int) {
	if m == nil {
		return
	}
	m.TerminalsActive.WithLabelValues(kind).Set(float64(count))
}

// RecordAssistantResponse records one completed assistant response
func (m *Metrics) RecordAssistantResponse(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AssistantStreams.WithLabelValues(mode, outcome).Inc()
	m.AssistantDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncAssistantChunks counts one partial chunk
func (m *Metrics) IncAssistantChunks() {
	if m == nil {
		return
	}
	m.AssistantChunks.Inc()
}

// SetBreakerState exports a circuit breaker state
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordGRPCCall records a served gRPC call
func (m *Metrics) RecordGRPCCall(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GRPCCalls.WithLabelValues(method, status).Inc()
	m.GRPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}
