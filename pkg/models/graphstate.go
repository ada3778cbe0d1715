package models

import "time"

// EncodingDecision is the outcome of the encoding gate.
type EncodingDecision string

const (
	EncodingPass     EncodingDecision = "pass"
	EncodingRepaired EncodingDecision = "repaired"
	EncodingFailFast EncodingDecision = "fail_fast"
)

// EncodingReport is the encoding gate's verdict on a raw prompt.
type EncodingReport struct {
	NormalizedPrompt string           `json:"normalized_prompt"`
	Decision         EncodingDecision `json:"decision"`
	Score            float64          `json:"score"`
	RepairDelta      float64          `json:"repair_delta,omitempty"`
}

// SuitabilityDecision is the verdict from the always-first compliance call.
type SuitabilityDecision string

const (
	SuitabilityAllow          SuitabilityDecision = "allow"
	SuitabilityEducationOnly  SuitabilityDecision = "education_only"
	SuitabilityDenyExecution  SuitabilityDecision = "deny_execution"
)

// GraphNode names a state in the orchestration graph's state machine.
type GraphNode string

const (
	NodeStart             GraphNode = "start"
	NodeEncodingGate       GraphNode = "encoding_gate"
	NodeIntentRouter       GraphNode = "intent_router"
	NodeSuitabilityGuard   GraphNode = "suitability_guard"
	NodeDecisionEngine     GraphNode = "decision_engine"
	NodeReasoning          GraphNode = "reasoning"
	NodeRender             GraphNode = "render"
	NodeMemoryUpdate       GraphNode = "memory_update"
	NodeEnd                GraphNode = "end"
)

// GraphState is the mutable per-request record threaded through the graph
// driver. It is created at node entry and owned exclusively by the driver
// until response emission; tool execution workers only ever write into
// their own ToolResults slot.
type GraphState struct {
	TraceID string
	Request Request

	Encoding EncodingReport
	Route    RouteDecision

	Suitability SuitabilityDecision

	ToolResults []ToolResult

	Evidence        EvidencePack
	AdvisoryContext AdvisoryContext

	AnswerPlan     *AnswerPlan
	SynthRetries   int
	SynthFailed    bool

	RenderedBody string
	Citations    []Citation
	Disclaimer   string

	ResponseMode   ResponseMode
	FallbackReason string
	ReasonCodes    []string

	StartedAt time.Time
	Node      GraphNode
}

// NewGraphState seeds a fresh per-request state with its trace id.
func NewGraphState(traceID string, req Request) *GraphState {
	return &GraphState{
		TraceID:   traceID,
		Request:   req,
		StartedAt: time.Now(),
		Node:      NodeStart,
	}
}
