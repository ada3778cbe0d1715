package observability

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a Metrics instance registered against a fresh
// registry so tests don't collide with the global default registry.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()

	m := &Metrics{
		GraphNodeCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_graph_node_total", Help: "x"},
			[]string{"node", "outcome"},
		),
		GraphNodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "advisor_graph_node_duration_seconds", Help: "x"},
			[]string{"node"},
		),
		RouteIntentCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_route_intent_total", Help: "x"},
			[]string{"intent"},
		),
		ResponseFallbackCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_response_fallback_total", Help: "x"},
			[]string{"reason"},
		),
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "advisor_llm_request_duration_seconds", Help: "x"},
			[]string{"endpoint", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_llm_requests_total", Help: "x"},
			[]string{"endpoint", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_llm_tokens_total", Help: "x"},
			[]string{"endpoint", "model", "type"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_tool_executions_total", Help: "x"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "advisor_tool_execution_duration_seconds", Help: "x"},
			[]string{"tool_name"},
		),
		ToolRetryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_tool_retries_total", Help: "x"},
			[]string{"tool_name"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_errors_total", Help: "x"},
			[]string{"node", "error_kind"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "advisor_http_request_duration_seconds", Help: "x"},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "advisor_http_requests_total", Help: "x"},
			[]string{"method", "path", "status_code"},
		),
	}

	reg.MustRegister(
		m.GraphNodeCounter, m.GraphNodeDuration, m.RouteIntentCounter, m.ResponseFallbackCounter,
		m.LLMRequestDuration, m.LLMRequestCounter, m.LLMTokensUsed,
		m.ToolExecutionCounter, m.ToolExecutionDuration, m.ToolRetryCounter,
		m.ErrorCounter, m.HTTPRequestDuration, m.HTTPRequestCounter,
	)
	return m
}

func TestNewMetrics(t *testing.T) {
	// NewMetrics registers against the default registry; just verify it
	// doesn't panic and returns a populated struct.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NewMetrics() panicked: %v", r)
		}
	}()
	m := NewMetrics()
	if m.GraphNodeCounter == nil || m.ToolExecutionCounter == nil || m.LLMRequestCounter == nil {
		t.Fatal("expected metrics to be initialized")
	}
}

func TestRecordGraphNode(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordGraphNode("intent_router", "ok", 0.02)
	m.RecordGraphNode("intent_router", "error", 0.5)
	m.RecordGraphNode("decision_engine", "ok", 0.1)

	if count := testutil.CollectAndCount(m.GraphNodeCounter); count != 3 {
		t.Errorf("expected 3 label combinations, got %d", count)
	}

	expected := `
		# HELP advisor_graph_node_total x
		# TYPE advisor_graph_node_total counter
		advisor_graph_node_total{node="decision_engine",outcome="ok"} 1
		advisor_graph_node_total{node="intent_router",outcome="error"} 1
		advisor_graph_node_total{node="intent_router",outcome="ok"} 1
	`
	if err := testutil.CollectAndCompare(m.GraphNodeCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordRouteIntent(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRouteIntent("invest")
	m.RecordRouteIntent("invest")
	m.RecordRouteIntent("out_of_scope")

	expected := `
		# HELP advisor_route_intent_total x
		# TYPE advisor_route_intent_total counter
		advisor_route_intent_total{intent="invest"} 2
		advisor_route_intent_total{intent="out_of_scope"} 1
	`
	if err := testutil.CollectAndCompare(m.RouteIntentCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordResponseFallback(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordResponseFallback("synthesis_validation_failed")
	m.RecordResponseFallback("synthesis_validation_failed")

	expected := `
		# HELP advisor_response_fallback_total x
		# TYPE advisor_response_fallback_total counter
		advisor_response_fallback_total{reason="synthesis_validation_failed"} 2
	`
	if err := testutil.CollectAndCompare(m.ResponseFallbackCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMRequest("answer_synthesis", "claude-sonnet-4-5", "success", 1.2, 500, 120)
	m.RecordLLMRequest("intent_extraction", "claude-haiku-4-5", "error", 0.1, 50, 0)

	if count := testutil.CollectAndCount(m.LLMRequestCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 3 {
		t.Errorf("expected 3 token label combinations (prompt+completion for success, prompt for error), got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolExecution("get_portfolio_positions", "ok", 0.05)
	m.RecordToolExecution("get_portfolio_positions", "ok", 0.08)
	m.RecordToolExecution("get_market_quote", "timeout", 10.0)

	count := testutil.CollectAndCount(m.ToolExecutionCounter)
	if count < 2 {
		t.Errorf("expected at least 2 tool execution label combinations, got %d", count)
	}
}

func TestRecordToolRetry(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolRetry("get_market_quote")
	m.RecordToolRetry("get_market_quote")

	expected := `
		# HELP advisor_tool_retries_total x
		# TYPE advisor_tool_retries_total counter
		advisor_tool_retries_total{tool_name="get_market_quote"} 2
	`
	if err := testutil.CollectAndCompare(m.ToolRetryCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordError(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError("encoding_gate", "fail_fast")
	m.RecordError("reasoning", "synthesis_validation_failed")
	m.RecordError("reasoning", "synthesis_validation_failed")

	count := testutil.CollectAndCount(m.ErrorCounter)
	if count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordHTTPRequest("POST", "/invoke", "200", 0.8)
	m.RecordHTTPRequest("POST", "/invoke", "500", 1.5)

	if count := testutil.CollectAndCount(m.HTTPRequestCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
}

func TestConcurrentMetrics(t *testing.T) {
	m := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		node := "intent_router"
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordGraphNode(node, "ok", 0.01)
			}
		}()
	}
	wg.Wait()

	count := testutil.ToFloat64(m.GraphNodeCounter.WithLabelValues("intent_router", "ok"))
	if count != 200 {
		t.Errorf("expected 200 recorded, got %v", count)
	}
}
