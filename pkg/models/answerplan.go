package models

// KeyNumber cites a single fact as a labeled, plan-level data point.
type KeyNumber struct {
	Label     string `json:"label"`
	FactPlace string `json:"fact_placeholder"` // "[F:<fact_id>]"
}

// RecommendedAction cites an action candidate or the facts backing it.
type RecommendedAction struct {
	Text            string   `json:"text"` // may contain [F:...] and [A:...] placeholders
	ActionPlaceholder string `json:"action_placeholder,omitempty"`
	FactRefs        []string `json:"fact_refs,omitempty"`
}

// AnswerPlan is the strict-schema JSON document the synthesizer must produce.
// Every textual field may reference facts only through [F:<fact_id>]
// placeholders and actions only through [A:<action_id>] placeholders; no
// free-form numeric literal is permitted outside a placeholder.
type AnswerPlan struct {
	SchemaVersion       string              `json:"schema_version"`
	SummaryBullets      []string            `json:"summary_bullets"`
	KeyNumbers          []KeyNumber         `json:"key_numbers"`
	RecommendedActions  []RecommendedAction `json:"recommended_actions"`
	AssumptionsLimits   []string            `json:"assumptions_limits"`
	DisclaimerReference string              `json:"disclaimer_reference"`
}

// AnswerPlanSchemaVersion is the schema_version stamped on synthesized plans.
const AnswerPlanSchemaVersion = "answer_plan_v2"
