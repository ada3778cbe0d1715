// Package graph implements the orchestration graph runtime: the
// state-machine driver that sequences encoding_gate, intent_router,
// suitability_guard, decision_engine, reasoning (evidence, synthesis,
// render), and memory_update, with the early-exit transitions the graph's
// table names.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianfin/advisor-agent/internal/audit"
	"github.com/meridianfin/advisor-agent/internal/encoding"
	"github.com/meridianfin/advisor-agent/internal/evidence"
	"github.com/meridianfin/advisor-agent/internal/llm"
	"github.com/meridianfin/advisor-agent/internal/observability"
	"github.com/meridianfin/advisor-agent/internal/registry"
	"github.com/meridianfin/advisor-agent/internal/render"
	"github.com/meridianfin/advisor-agent/internal/router"
	"github.com/meridianfin/advisor-agent/internal/scheduler"
	"github.com/meridianfin/advisor-agent/internal/suitability"
	"github.com/meridianfin/advisor-agent/internal/synth"
	"github.com/meridianfin/advisor-agent/pkg/models"

	"go.opentelemetry.io/otel/trace"
)

// suitabilityToolName mirrors internal/suitability's unexported constant so
// the driver can exclude it from the scheduler's fan-out bundle: the guard
// already called it once, always first, outside the bundled fan-out.
const suitabilityToolName = "suitability_guard"

// kbToolBaseName is the well-known retrieval tool base name resolved through
// the registry's longest-suffix tie-break; when present in a bundle
// its chunks become citations rather than facts.
const kbToolBaseName = "retrieve_from_aws_kb"

// ResponseMode controls whether/how the LLM synthesizer participates,
// mirroring config.ResponseConfig.Mode.
type ResponseMode string

const (
	ResponseModeTemplate   ResponseMode = "template"
	ResponseModeLLMShadow  ResponseMode = "llm_shadow"
	ResponseModeLLMEnforce ResponseMode = "llm_enforce"
)

// Disclaimer is the fixed disclaimer text stamped on every response, per
// locale. The synthesizer must echo this back verbatim as
// disclaimer_reference; the renderer does not reformat it.
var disclaimerByLocale = map[string]string{
	"en-US": "This is educational information, not personalized financial or investment advice. Consult a licensed professional before acting on it.",
	"vi-VN": "Đây là thông tin mang tính giáo dục, không phải tư vấn tài chính hoặc đầu tư cá nhân hóa. Hãy tham khảo ý kiến chuyên gia được cấp phép trước khi hành động.",
}

func disclaimerFor(locale string) string {
	if d, ok := disclaimerByLocale[locale]; ok {
		return d
	}
	return disclaimerByLocale["en-US"]
}

// Config bundles the graph driver's tunables, sourced from config.Config.
type Config struct {
	Encoding            encoding.Config
	Router              router.Config
	PerToolTimeout      time.Duration
	ResponseMode        ResponseMode
	SynthMaxRetries     int
	IntentModel         string
	SynthModel          string
	RequestBudget       time.Duration // request-wide deadline ceiling
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Encoding:        encoding.DefaultConfig(),
		Router:          router.DefaultConfig(),
		PerToolTimeout:  scheduler.DefaultPerToolTimeout,
		ResponseMode:    ResponseModeLLMEnforce,
		SynthMaxRetries: 1,
		RequestBudget:   120 * time.Second,
	}
}

// Driver wires every node of the orchestration graph into a single
// per-request Handle call.
type Driver struct {
	config Config

	router      *router.Policy
	guard       *suitability.Guard
	scheduler   *scheduler.Scheduler
	registry    *registry.Registry
	llmClient   *llm.Client
	auditLogger *audit.Logger
	tracer      *observability.Tracer
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// New builds a Driver from its already-constructed collaborators. Callers
// (cmd/) are responsible for wiring the tool-plane client, registry,
// validator, and LLM client before constructing the driver.
func New(
	config Config,
	extractor router.Extractor,
	validator scheduler.Validator,
	invoker scheduler.Invoker,
	reg *registry.Registry,
	llmClient *llm.Client,
	auditLogger *audit.Logger,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *Driver {
	schedCfg := scheduler.DefaultConfig()
	if config.PerToolTimeout > 0 {
		schedCfg.PerToolTimeout = config.PerToolTimeout
	}
	return &Driver{
		config:      config,
		router:      router.New(extractor, config.Router),
		guard:       suitability.New(validator, invoker),
		scheduler:   scheduler.New(validator, invoker, schedCfg),
		registry:    reg,
		llmClient:   llmClient,
		auditLogger: auditLogger,
		tracer:      tracer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handle runs req through the full orchestration graph and returns the
// response envelope to stream back to the client.
func (d *Driver) Handle(ctx context.Context, traceID string, req models.Request) (models.ResponseEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, d.budget())
	defer cancel()

	state := models.NewGraphState(traceID, req)
	start := time.Now()

	if d.logger != nil {
		d.logger.Info(ctx, "handling request", "trace_id", traceID, "locale", req.EffectiveLocale())
	}

	spanCtx, span := d.startSpan(ctx, models.NodeEncodingGate, traceID)
	d.enter(ctx, traceID, models.NodeEncodingGate, "")
	state.Encoding = encoding.Gate(req.Prompt, d.config.Encoding)
	span.End()
	d.exit(ctx, traceID, models.NodeEncodingGate, string(state.Encoding.Decision), time.Since(start), "")

	if state.Encoding.Decision == models.EncodingFailFast {
		return d.emitRetryPrompt(state), nil
	}

	routerStart := time.Now()
	spanCtx, span = d.startSpan(ctx, models.NodeIntentRouter, traceID)
	d.enter(ctx, traceID, models.NodeIntentRouter, "")
	state.Route = d.router.Route(spanCtx, state.Encoding.NormalizedPrompt)
	span.End()
	d.exit(ctx, traceID, models.NodeIntentRouter, string(state.Route.Intent), time.Since(routerStart), "")
	if d.metrics != nil {
		d.metrics.RecordRouteIntent(string(state.Route.Intent))
	}

	if state.Route.Clarify {
		return d.emitClarify(state), nil
	}

	if ctx.Err() != nil {
		return d.emitDeadlineExceeded(state), nil
	}

	suitStart := time.Now()
	spanCtx, span = d.startSpan(ctx, models.NodeSuitabilityGuard, traceID)
	d.enter(ctx, traceID, models.NodeSuitabilityGuard, string(state.Route.Intent))
	decision, guardResult := d.guard.Check(spanCtx, traceID, state.Route, state.Encoding.NormalizedPrompt)
	span.End()
	state.Suitability = decision
	state.ToolResults = append(state.ToolResults, guardResult)
	d.exit(ctx, traceID, models.NodeSuitabilityGuard, string(decision), time.Since(suitStart), "")

	if decision == models.SuitabilityDenyExecution {
		if d.auditLogger != nil {
			d.auditLogger.LogToolDenied(ctx, traceID, suitabilityToolName, guardResult.Err)
		}
		return d.emitRefusal(state), nil
	}

	if ctx.Err() != nil {
		return d.emitDeadlineExceeded(state), nil
	}

	bundle := withoutSuitability(state.Route.ToolBundle)
	if d.registry != nil && !d.registry.Empty() && !d.registry.Subset(bundle) {
		state.ReasonCodes = append(state.ReasonCodes, "registry_empty")
		if d.logger != nil {
			d.logger.Warn(ctx, "bundle references tools missing from registry", "trace_id", traceID, "bundle", bundle)
		}
	}

	decisionStart := time.Now()
	spanCtx, span = d.startSpan(ctx, models.NodeDecisionEngine, traceID)
	d.enter(ctx, traceID, models.NodeDecisionEngine, string(state.Route.Intent))
	args := buildToolArgs(req, state.Route, bundle)
	if d.auditLogger != nil {
		for _, tool := range bundle {
			d.auditLogger.LogToolInvocation(ctx, traceID, tool, "", args[tool], 1)
		}
	}
	results := d.scheduler.Execute(spanCtx, traceID, bundle, args)
	span.End()
	for _, r := range results {
		if d.auditLogger != nil {
			d.auditLogger.LogToolCompletion(ctx, traceID, r.BaseName, r.CallID, !r.Unavailable(), string(r.Status), time.Duration(r.ElapsedMS)*time.Millisecond)
		}
		if d.metrics != nil {
			d.metrics.RecordToolExecution(r.BaseName, string(r.Status), float64(r.ElapsedMS)/1000.0)
		}
	}
	state.ToolResults = append(state.ToolResults, results...)
	d.exit(ctx, traceID, models.NodeDecisionEngine, fmt.Sprintf("%d tools", len(results)), time.Since(decisionStart), "")

	allFailed := len(bundle) > 0 && allUnavailable(results)
	if allFailed {
		state.ReasonCodes = append(state.ReasonCodes, "tool_plane_unavailable")
	}

	if ctx.Err() != nil {
		return d.emitDeadlineExceeded(state), nil
	}

	reasoningStart := time.Now()
	spanCtx, span = d.startSpan(ctx, models.NodeReasoning, traceID)
	d.enter(ctx, traceID, models.NodeReasoning, string(state.Route.Intent))
	d.reason(spanCtx, traceID, state)
	span.End()
	d.exit(ctx, traceID, models.NodeReasoning, string(state.ResponseMode), time.Since(reasoningStart), "")

	d.enter(ctx, traceID, models.NodeMemoryUpdate, "")
	envelope := d.assemble(state)
	d.exit(ctx, traceID, models.NodeMemoryUpdate, "", time.Since(start), "")

	if d.auditLogger != nil {
		d.auditLogger.LogResponseEmitted(ctx, traceID, string(state.ResponseMode), state.FallbackReason != "", state.ReasonCodes, envelope.ToolsInvoked, time.Since(start))
	}
	if d.metrics != nil {
		outcome := "ok"
		if state.FallbackReason != "" {
			d.metrics.RecordResponseFallback(state.FallbackReason)
			outcome = "fallback"
		}
		d.metrics.RecordGraphNode("request", outcome, time.Since(start).Seconds())
	}

	return envelope, nil
}

// reason runs the evidence/advisory/synthesis/render sub-stages in place on
// state: evidence -> advisory_context -> synthesize ->
// validate -> render, with the facts_only_compact fallback on failure.
func (d *Driver) reason(ctx context.Context, traceID string, state *models.GraphState) {
	state.Evidence = evidence.Build(state.ToolResults, state.Route.Timeframes)
	state.AdvisoryContext = evidence.BuildAdvisoryContext(state.Evidence)
	state.Disclaimer = disclaimerFor(state.Request.EffectiveLocale())
	state.Citations = buildCitations(state.ToolResults)

	wantsSynthesis := d.config.ResponseMode != ResponseModeTemplate && d.llmClient != nil
	if wantsSynthesis {
		input := llm.SynthesisInput{
			Question:         state.Encoding.NormalizedPrompt,
			Locale:           state.Request.EffectiveLocale(),
			Intent:           state.Route.Intent,
			PolicyVersion:    state.Route.PolicyVersion,
			DisclaimerText:   state.Disclaimer,
			Facts:            factSlice(state.Evidence),
			Insights:         state.AdvisoryContext.Insights,
			ActionCandidates: state.AdvisoryContext.ActionCandidates,
		}
		actionIDs := synth.ActionIDSet(state.AdvisoryContext.ActionCandidates)

		result, err := synth.Run(ctx, d.llmClient, d.config.SynthModel, input, state.Evidence, actionIDs, d.config.SynthMaxRetries)
		state.SynthRetries = result.Attempts - 1
		if err == nil && result.Validated {
			plan := result.Plan
			state.AnswerPlan = &plan
			if d.config.ResponseMode == ResponseModeLLMEnforce {
				out, renderErr := render.RenderOrSentinelError(plan, state.Evidence, state.AdvisoryContext.ActionCandidates, state.Request.EffectiveLocale())
				state.RenderedBody = out.Body
				if renderErr != nil {
					if d.auditLogger != nil {
						d.auditLogger.LogError(ctx, traceID, "graph.invariant_violation", "render", renderErr.Error(), nil)
					}
					if d.logger != nil {
						d.logger.Error(ctx, "answer plan failed to render", "trace_id", traceID, "error", renderErr.Error())
					}
					state.FallbackReason = "internal_invariant_violation"
					state.RenderedBody = render.Fallback(state.Evidence, state.Disclaimer, traceID)
					state.ResponseMode = models.ResponseModeTemplate
					return
				}
				state.ResponseMode = models.ResponseModeLLMEnforce
				return
			}
			// llm_shadow: synthesis ran and validated for audit, but the
			// shipped body still comes from the deterministic template.
			state.RenderedBody = render.Fallback(state.Evidence, state.Disclaimer, traceID)
			state.ResponseMode = models.ResponseModeLLMShadow
			return
		}

		state.SynthFailed = true
		if len(result.LastErrors) > 0 {
			state.FallbackReason = "synthesis_validation_failed"
		} else if err != nil {
			state.FallbackReason = "synthesis_unavailable"
		}
	}

	state.RenderedBody = render.Fallback(state.Evidence, state.Disclaimer, traceID)
	state.ResponseMode = models.ResponseModeTemplate
}

func (d *Driver) assemble(state *models.GraphState) models.ResponseEnvelope {
	return models.ResponseEnvelope{
		Body:            state.RenderedBody,
		Citations:       state.Citations,
		Disclaimer:      state.Disclaimer,
		TraceID:         state.TraceID,
		RoutingMeta:     state.Route.Meta(),
		ResponseMeta: models.ResponseMeta{
			Mode:        state.ResponseMode,
			Fallback:    state.FallbackReason,
			ReasonCodes: state.ReasonCodes,
		},
		EvidencePack:    &state.Evidence,
		AdvisoryContext: &state.AdvisoryContext,
		AnswerPlan:      state.AnswerPlan,
		ToolsInvoked:    toolsInvoked(state.ToolResults),
	}
}

func (d *Driver) budget() time.Duration {
	if d.config.RequestBudget > 0 {
		return d.config.RequestBudget
	}
	return 120 * time.Second
}

func (d *Driver) enter(ctx context.Context, traceID string, node models.GraphNode, intent string) {
	if d.auditLogger != nil {
		d.auditLogger.LogGraphNodeEnter(ctx, traceID, string(node), intent)
	}
}

func (d *Driver) exit(ctx context.Context, traceID string, node models.GraphNode, next string, dur time.Duration, errMsg string) {
	if d.auditLogger != nil {
		d.auditLogger.LogGraphNodeExit(ctx, traceID, string(node), next, dur, errMsg)
	}
	if d.metrics != nil {
		outcome := "ok"
		if errMsg != "" {
			outcome = "error"
		}
		d.metrics.RecordGraphNode(string(node), outcome, dur.Seconds())
	}
}

// startSpan opens a span for one graph node. With no tracer wired it
// returns ctx unchanged and the ambient (no-op) span, so callers can End()
// unconditionally.
func (d *Driver) startSpan(ctx context.Context, node models.GraphNode, traceID string) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return d.tracer.TraceGraphNode(ctx, string(node), traceID)
}

// emitRetryPrompt builds the canned response for an unrecoverably garbled
// prompt: no router or tool calls are made.
func (d *Driver) emitRetryPrompt(state *models.GraphState) models.ResponseEnvelope {
	disclaimer := disclaimerFor(state.Request.EffectiveLocale())
	body := "Your message didn't come through cleanly (it looks garbled). Could you resend it?"
	if state.Request.EffectiveLocale() == "vi-VN" {
		body = "Tin nhắn của bạn có vẻ bị lỗi ký tự. Bạn có thể gửi lại được không?"
	}
	return models.ResponseEnvelope{
		Body:       body,
		Disclaimer: disclaimer,
		TraceID:    state.TraceID,
		ResponseMeta: models.ResponseMeta{
			Mode:        models.ResponseModeTemplate,
			ReasonCodes: []string{"encoding_fail_fast"},
		},
	}
}

// emitClarify builds the clarify-bounded response:
// up to MAX_CLARIFY questions, zero key-number facts.
func (d *Driver) emitClarify(state *models.GraphState) models.ResponseEnvelope {
	return models.ResponseEnvelope{
		Body:         clarifyBody(state.Route.ClarifyQuestions),
		Disclaimer:   disclaimerFor(state.Request.EffectiveLocale()),
		TraceID:      state.TraceID,
		RoutingMeta:  state.Route.Meta(),
		ResponseMeta: models.ResponseMeta{Mode: models.ResponseModeTemplate, Fallback: "clarify"},
	}
}

// emitRefusal builds the suitability-denied terminal response.
func (d *Driver) emitRefusal(state *models.GraphState) models.ResponseEnvelope {
	body := "I can't help execute that request, but I can share general educational information if you'd like."
	return models.ResponseEnvelope{
		Body:         body,
		Disclaimer:   disclaimerFor(state.Request.EffectiveLocale()),
		TraceID:      state.TraceID,
		RoutingMeta:  state.Route.Meta(),
		ResponseMeta: models.ResponseMeta{Mode: models.ResponseModeTemplate, Fallback: "suitability_denied"},
	}
}

// emitDeadlineExceeded builds the request-wide-budget-breach fallback.
func (d *Driver) emitDeadlineExceeded(state *models.GraphState) models.ResponseEnvelope {
	state.Evidence = evidence.Build(state.ToolResults, state.Route.Timeframes)
	disclaimer := disclaimerFor(state.Request.EffectiveLocale())
	body := render.Fallback(state.Evidence, disclaimer, state.TraceID)
	return models.ResponseEnvelope{
		Body:        body,
		Disclaimer:  disclaimer,
		TraceID:     state.TraceID,
		RoutingMeta: state.Route.Meta(),
		ResponseMeta: models.ResponseMeta{
			Mode:        models.ResponseModeTemplate,
			Fallback:    "deadline_exceeded",
			ReasonCodes: append(append([]string{}, state.ReasonCodes...), "deadline_exceeded"),
		},
		EvidencePack: &state.Evidence,
	}
}

func clarifyBody(questions []models.ClarifyQuestion) string {
	s := "I'd like to make sure I answer the right question:\n"
	for _, q := range questions {
		s += fmt.Sprintf("- %s", q.Text)
		if len(q.Choices) > 0 {
			s += " (" + joinChoices(q.Choices) + ")"
		}
		s += "\n"
	}
	return s
}

func joinChoices(choices []string) string {
	out := ""
	for i, c := range choices {
		if i > 0 {
			out += " / "
		}
		out += c
	}
	return out
}

func withoutSuitability(bundle []string) []string {
	out := make([]string, 0, len(bundle))
	for _, t := range bundle {
		if t == suitabilityToolName {
			continue
		}
		out = append(out, t)
	}
	return out
}

func allUnavailable(results []models.ToolResult) bool {
	for _, r := range results {
		if !r.Unavailable() {
			return false
		}
	}
	return true
}

func toolsInvoked(results []models.ToolResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.BaseName)
	}
	return out
}

func factSlice(pack models.EvidencePack) []models.Fact {
	out := make([]models.Fact, 0, len(pack.Facts))
	for _, f := range pack.Facts {
		out = append(out, f)
	}
	return out
}

// buildCitations extracts KB chunk citations from any tool result the
// bundle happened to include under the well-known retrieval base name.
// Most bundles never include it; this is then a no-op.
func buildCitations(results []models.ToolResult) []models.Citation {
	var out []models.Citation
	for _, r := range results {
		if r.Unavailable() || !isKBResult(r.BaseName) {
			continue
		}
		var doc struct {
			Chunks []struct {
				ID      string  `json:"id"`
				Source  string  `json:"source"`
				Snippet string  `json:"snippet"`
				Score   float64 `json:"score"`
			} `json:"chunks"`
		}
		if err := json.Unmarshal(r.PayloadJSON, &doc); err != nil {
			continue
		}
		for _, c := range doc.Chunks {
			out = append(out, models.Citation{ID: c.ID, Source: c.Source, Snippet: c.Snippet, Score: c.Score})
		}
	}
	return out
}

func isKBResult(baseName string) bool {
	return baseName == kbToolBaseName || len(baseName) > len(kbToolBaseName) &&
		baseName[len(baseName)-len(kbToolBaseName):] == kbToolBaseName
}

// buildToolArgs constructs each bundled tool's sanitized argument payload:
// the user id plus, where the tool accepts one, its effective lookback
// window from route.Timeframes. Unknown-tool args default to {"user_id":...}
// only; the tool plane falls back to its own defaults for the rest.
func buildToolArgs(req models.Request, route models.RouteDecision, bundle []string) map[string]json.RawMessage {
	args := make(map[string]json.RawMessage, len(bundle))
	for _, tool := range bundle {
		payload := map[string]any{"user_id": req.UserID}
		if days, ok := route.Timeframes[tool]; ok {
			payload["lookback_days"] = days
		}
		if tool == "what_if_scenario" && route.ScenarioSlots != nil {
			payload["horizon"] = route.ScenarioSlots.Horizon
			payload["delta"] = route.ScenarioSlots.Delta
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			raw = []byte(`{}`)
		}
		args[tool] = raw
	}
	return args
}
