package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/meridianfin/advisor-agent/internal/router"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

type fakeExtractor struct {
	extraction router.Extraction
	err        error
	calls      int
}

func (f *fakeExtractor) Extract(ctx context.Context, prompt string) (router.Extraction, error) {
	f.calls++
	return f.extraction, f.err
}

type passValidator struct{}

func (passValidator) Validate(baseName string, args json.RawMessage) error { return nil }
func (passValidator) Resolve(baseName string) (string, bool)               { return baseName, true }

type routedInvoker struct {
	mu       sync.Mutex
	payloads map[string]string
	errs     map[string]error
	calls    []string
}

func (f *routedInvoker) Invoke(ctx context.Context, call models.ToolCall) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call.BaseName)
	f.mu.Unlock()
	if err, ok := f.errs[call.BaseName]; ok {
		return nil, err
	}
	if p, ok := f.payloads[call.BaseName]; ok {
		return json.RawMessage(p), nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *routedInvoker) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newTestDriver(extractor *fakeExtractor, invoker *routedInvoker) *Driver {
	cfg := DefaultConfig()
	cfg.ResponseMode = ResponseModeTemplate
	return New(cfg, extractor, passValidator{}, invoker, nil, nil, nil, nil, nil, nil)
}

func confidentSummary() router.Extraction {
	return router.Extraction{
		Intent:     models.IntentSummary,
		Confidence: 0.95,
		Top2Gap:    0.5,
		Slots:      map[string]string{},
	}
}

func TestHandleSummaryHappyPath(t *testing.T) {
	invoker := &routedInvoker{payloads: map[string]string{
		"suitability_guard":      `{"decision": "allow"}`,
		"spend_analytics":        `{"net_cashflow": -1200000.0, "total_spend": 5400000.0, "sql_snapshot_ts": "2026-08-01T10:00:00Z"}`,
		"cashflow_forecast":      `{"runway_months": 6.0}`,
		"jar_allocation_suggest": `{"necessities_pct": 55.0, "savings_pct": 25.0, "play_pct": 20.0}`,
	}}
	d := newTestDriver(&fakeExtractor{extraction: confidentSummary()}, invoker)

	env, err := d.Handle(context.Background(), "trace-1", models.Request{
		Prompt: "summarize my spending over the last 30 days",
		UserID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if env.TraceID != "trace-1" {
		t.Errorf("trace id = %q", env.TraceID)
	}
	if env.RoutingMeta.Intent != models.IntentSummary {
		t.Errorf("routed intent = %s", env.RoutingMeta.Intent)
	}
	if env.ResponseMeta.Mode != models.ResponseModeTemplate {
		t.Errorf("mode = %s", env.ResponseMeta.Mode)
	}
	if env.Disclaimer == "" {
		t.Error("disclaimer must always be present")
	}

	wantTools := []string{"suitability_guard", "spend_analytics", "cashflow_forecast", "jar_allocation_suggest"}
	if len(env.ToolsInvoked) != len(wantTools) {
		t.Fatalf("tools invoked = %v, want %v", env.ToolsInvoked, wantTools)
	}
	for i, w := range wantTools {
		if env.ToolsInvoked[i] != w {
			t.Errorf("tools invoked[%d] = %q, want %q", i, env.ToolsInvoked[i], w)
		}
	}

	if env.EvidencePack == nil {
		t.Fatal("evidence pack missing from envelope")
	}
	if _, ok := env.EvidencePack.Fact("spend.total.30d"); !ok {
		t.Errorf("timeframed fact missing; pack has %d facts", len(env.EvidencePack.Facts))
	}
	if _, ok := env.EvidencePack.Fact("forecast.runway.months"); !ok {
		t.Error("runway fact missing")
	}
}

func TestHandleFailFastSkipsRouterAndTools(t *testing.T) {
	extractor := &fakeExtractor{extraction: confidentSummary()}
	invoker := &routedInvoker{}
	d := newTestDriver(extractor, invoker)

	env, err := d.Handle(context.Background(), "trace-2", models.Request{
		Prompt: strings.Repeat("Ã", 12),
		UserID: "u2",
	})
	if err != nil {
		t.Fatal(err)
	}

	if extractor.calls != 0 {
		t.Error("router must not run on fail_fast")
	}
	if len(invoker.calls) != 0 {
		t.Errorf("no tool calls expected, got %v", invoker.calls)
	}
	found := false
	for _, rc := range env.ResponseMeta.ReasonCodes {
		if rc == "encoding_fail_fast" {
			found = true
		}
	}
	if !found {
		t.Errorf("reason codes = %v", env.ResponseMeta.ReasonCodes)
	}
	if env.Body == "" {
		t.Error("canned retry prompt must be returned")
	}
}

func TestHandleClarifyStopsBeforeSuitability(t *testing.T) {
	extractor := &fakeExtractor{extraction: router.Extraction{
		Intent:     models.IntentSummary,
		Confidence: 0.30,
		Top2Gap:    0.05,
		Slots:      map[string]string{},
	}}
	invoker := &routedInvoker{}
	d := newTestDriver(extractor, invoker)

	env, err := d.Handle(context.Background(), "trace-3", models.Request{Prompt: "help", UserID: "u3"})
	if err != nil {
		t.Fatal(err)
	}

	if env.ResponseMeta.Fallback != "clarify" {
		t.Errorf("fallback = %q, want clarify", env.ResponseMeta.Fallback)
	}
	if len(invoker.calls) != 0 {
		t.Errorf("clarify must issue no tool calls, got %v", invoker.calls)
	}
	if !strings.Contains(env.Body, "?") {
		t.Errorf("clarify body has no question:\n%s", env.Body)
	}
}

func TestHandleSuitabilityDenyShortCircuits(t *testing.T) {
	invoker := &routedInvoker{payloads: map[string]string{
		"suitability_guard": `{"decision": "deny_execution", "reason": "payment execution requested"}`,
	}}
	d := newTestDriver(&fakeExtractor{extraction: confidentSummary()}, invoker)

	env, err := d.Handle(context.Background(), "trace-4", models.Request{
		Prompt: "summarize my month",
		UserID: "u4",
	})
	if err != nil {
		t.Fatal(err)
	}

	if env.ResponseMeta.Fallback != "suitability_denied" {
		t.Errorf("fallback = %q", env.ResponseMeta.Fallback)
	}
	if got := invoker.called("suitability_guard"); got != 1 {
		t.Errorf("suitability calls = %d, want 1", got)
	}
	if got := invoker.called("spend_analytics"); got != 0 {
		t.Errorf("decision engine must not run after deny, spend_analytics called %d times", got)
	}
	if env.Disclaimer == "" {
		t.Error("refusal still carries the disclaimer")
	}
}

func TestHandleEducationOnlyProceeds(t *testing.T) {
	invoker := &routedInvoker{
		payloads: map[string]string{
			"suitability_guard":           `{"decision": "education_only"}`,
			"risk_profile_non_investment": `{"risk_score": 42.0, "risk_band": "moderate"}`,
		},
	}
	d := newTestDriver(&fakeExtractor{extraction: router.Extraction{
		Intent:     models.IntentInvest,
		Confidence: 0.9,
		Top2Gap:    0.4,
		Slots:      map[string]string{},
	}}, invoker)

	env, err := d.Handle(context.Background(), "trace-5", models.Request{
		Prompt: "Tôi có nên mua cổ phiếu X không?",
		UserID: "u5",
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := invoker.called("risk_profile_non_investment"); got != 1 {
		t.Errorf("education bundle must still execute, risk profile called %d times", got)
	}
	if _, ok := env.EvidencePack.Fact("risk_profile.score"); !ok {
		t.Error("risk score fact missing")
	}
}

func TestHandleAllToolsDownFallsBackWithReasonCode(t *testing.T) {
	toolErr := errors.New("gateway 503")
	invoker := &routedInvoker{
		payloads: map[string]string{"suitability_guard": `{"decision": "allow"}`},
		errs: map[string]error{
			"spend_analytics":        toolErr,
			"cashflow_forecast":      toolErr,
			"jar_allocation_suggest": toolErr,
		},
	}
	d := newTestDriver(&fakeExtractor{extraction: confidentSummary()}, invoker)

	env, err := d.Handle(context.Background(), "trace-6", models.Request{
		Prompt: "summarize my spending",
		UserID: "u6",
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, rc := range env.ResponseMeta.ReasonCodes {
		if rc == "tool_plane_unavailable" {
			found = true
		}
	}
	if !found {
		t.Errorf("reason codes = %v", env.ResponseMeta.ReasonCodes)
	}
	if !strings.Contains(env.Body, "No tool data was available") {
		t.Errorf("data-gap notice missing:\n%s", env.Body)
	}
	if env.ResponseMeta.Mode != models.ResponseModeTemplate {
		t.Errorf("mode = %s", env.ResponseMeta.Mode)
	}
}

func TestHandleRouterExtractionErrorDegradesToClarify(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("llm unavailable")}
	invoker := &routedInvoker{}
	d := newTestDriver(extractor, invoker)

	env, err := d.Handle(context.Background(), "trace-7", models.Request{Prompt: "hmm", UserID: "u7"})
	if err != nil {
		t.Fatal(err)
	}
	if env.ResponseMeta.Fallback != "clarify" {
		t.Errorf("fallback = %q, want clarify when extraction fails and rules are unsure", env.ResponseMeta.Fallback)
	}
}
