package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Graph node transitions and their latency
//   - Tool execution patterns and latencies
//   - Route intent distribution
//   - Response fallback reasons
//   - LLM request performance and response times
//   - Error rates categorized by graph node and error kind
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.GraphNodeDuration("intent_router").Observe(time.Since(start).Seconds())
type Metrics struct {
	// GraphNodeCounter counts graph node executions by outcome.
	// Labels: node, outcome (ok|error)
	GraphNodeCounter *prometheus.CounterVec

	// GraphNodeDuration measures graph node execution latency in seconds.
	// Labels: node
	GraphNodeDuration *prometheus.HistogramVec

	// RouteIntentCounter counts requests by resolved route intent.
	// Labels: intent
	RouteIntentCounter *prometheus.CounterVec

	// ResponseFallbackCounter counts responses that fell back to the
	// facts_only_compact renderer, by reason code.
	// Labels: reason
	ResponseFallbackCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: endpoint (intent_extraction|answer_synthesis), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by endpoint, model, and status.
	// Labels: endpoint, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: endpoint, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (ok|timeout|client_error|server_error|validation_error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRetryCounter counts tool call retries.
	// Labels: tool_name
	ToolRetryCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by graph node and error kind.
	// Labels: node, error_kind
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures inbound HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts inbound HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		GraphNodeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_graph_node_total",
				Help: "Total number of graph node executions by node and outcome",
			},
			[]string{"node", "outcome"},
		),

		GraphNodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_graph_node_duration_seconds",
				Help:    "Duration of graph node execution in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"node"},
		),

		RouteIntentCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_route_intent_total",
				Help: "Total number of requests by resolved route intent",
			},
			[]string{"intent"},
		),

		ResponseFallbackCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_response_fallback_total",
				Help: "Total number of responses that fell back to facts_only_compact, by reason",
			},
			[]string{"reason"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_llm_requests_total",
				Help: "Total number of LLM requests by endpoint, model, and status",
			},
			[]string{"endpoint", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_llm_tokens_total",
				Help: "Total number of tokens used by endpoint, model, and type",
			},
			[]string{"endpoint", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ToolRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_tool_retries_total",
				Help: "Total number of tool call retries by tool name",
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_errors_total",
				Help: "Total number of errors by graph node and error kind",
			},
			[]string{"node", "error_kind"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordGraphNode records the outcome and duration of one graph node
// execution.
func (m *Metrics) RecordGraphNode(node, outcome string, durationSeconds float64) {
	m.GraphNodeCounter.WithLabelValues(node, outcome).Inc()
	m.GraphNodeDuration.WithLabelValues(node).Observe(durationSeconds)
}

// RecordRouteIntent increments the route intent counter.
func (m *Metrics) RecordRouteIntent(intent string) {
	m.RouteIntentCounter.WithLabelValues(intent).Inc()
}

// RecordResponseFallback increments the fallback counter for a reason code.
func (m *Metrics) RecordResponseFallback(reason string) {
	m.ResponseFallbackCounter.WithLabelValues(reason).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(endpoint, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(endpoint, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(endpoint, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(endpoint, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(endpoint, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordToolRetry increments the tool retry counter.
func (m *Metrics) RecordToolRetry(toolName string) {
	m.ToolRetryCounter.WithLabelValues(toolName).Inc()
}

// RecordError increments the error counter for a given graph node and error kind.
func (m *Metrics) RecordError(node, errorKind string) {
	m.ErrorCounter.WithLabelValues(node, errorKind).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
