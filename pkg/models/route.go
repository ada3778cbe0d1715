package models

// Intent is the classified purpose of a request.
type Intent string

const (
	IntentSummary     Intent = "summary"
	IntentRisk        Intent = "risk"
	IntentPlanning    Intent = "planning"
	IntentScenario    Intent = "scenario"
	IntentInvest      Intent = "invest"
	IntentOutOfScope  Intent = "out_of_scope"
	IntentUnspecified Intent = ""
)

// Confidences carries the extractor's reported confidence values.
type Confidences struct {
	Intent   float64  `json:"intent"`
	Top2Gap  float64  `json:"top2_gap"`
	Scenario *float64 `json:"scenario,omitempty"`
}

// ClarifyQuestion is one multiple-choice clarification prompt.
type ClarifyQuestion struct {
	Slot    string   `json:"slot"`
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// ScenarioSlots holds what-if scenario parameters extracted from the prompt.
type ScenarioSlots struct {
	Horizon string `json:"horizon,omitempty"`
	Delta   string `json:"delta,omitempty"`
}

// RouteDecision is the output of the intent router: what to do next.
type RouteDecision struct {
	Intent           Intent            `json:"intent"`
	ToolBundle       []string          `json:"tool_bundle"`
	Clarify          bool              `json:"clarify"`
	ClarifyQuestions []ClarifyQuestion `json:"clarify_questions,omitempty"`
	ScenarioSlots    *ScenarioSlots    `json:"scenario_slots,omitempty"`
	FallbackReason   string            `json:"fallback_reason,omitempty"`
	Confidences      Confidences       `json:"confidences"`

	// Timeframes maps each tool's effective lookback window, in days,
	// as parsed and clamped by the router. Populated only for tools
	// whose schema accepts a range/lookback argument.
	Timeframes map[string]int `json:"timeframes,omitempty"`

	// PolicyVersion and OverrideReasons feed routing_meta.
	PolicyVersion   string   `json:"policy_version"`
	OverrideReasons []string `json:"override_reasons,omitempty"`
}

// RoutingMeta is the subset of RouteDecision surfaced to the client/audit log.
type RoutingMeta struct {
	Intent          Intent      `json:"intent"`
	Confidences     Confidences `json:"confidences"`
	PolicyVersion   string      `json:"policy_version"`
	OverrideReasons []string    `json:"override_reasons,omitempty"`
	Timeframes      map[string]int `json:"timeframes,omitempty"`
}

func (d RouteDecision) Meta() RoutingMeta {
	return RoutingMeta{
		Intent:          d.Intent,
		Confidences:     d.Confidences,
		PolicyVersion:   d.PolicyVersion,
		OverrideReasons: d.OverrideReasons,
		Timeframes:      d.Timeframes,
	}
}
