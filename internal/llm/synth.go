package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// AnswerSynthesisPromptVersion is stamped on every synthesis call.
const AnswerSynthesisPromptVersion = "answer_synth_v2"

const answerSynthesisSystemPrompt = `You are the answer synthesizer for a personal finance advisory assistant.
Call the emit_answer_plan tool exactly once with a JSON answer plan.
You may cite a numeric fact only by writing its placeholder "[F:<fact_id>]" — never write the number itself.
You may cite a recommended action only by writing its placeholder "[A:<action_id>]".
Do not write any other digit anywhere in summary_bullets, recommended_actions text, or assumptions_limits.
Only reference fact_ids and action_ids that appear in the evidence you were given; never invent one.
If the intent is invest or out_of_scope, do not give imperative buy/sell guidance; the recommended_actions must stay educational and disclaimer_reference must be set.
disclaimer_reference must always be set to the disclaimer text you were given, verbatim.`

var answerPlanSchema = json.RawMessage(`{
	"type": "object",
	"required": ["schema_version", "summary_bullets", "key_numbers", "recommended_actions", "assumptions_limits", "disclaimer_reference"],
	"properties": {
		"schema_version": {"type": "string"},
		"summary_bullets": {"type": "array", "items": {"type": "string"}},
		"key_numbers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["label", "fact_placeholder"],
				"properties": {
					"label": {"type": "string"},
					"fact_placeholder": {"type": "string"}
				}
			}
		},
		"recommended_actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text"],
				"properties": {
					"text": {"type": "string"},
					"action_placeholder": {"type": "string"},
					"fact_refs": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"assumptions_limits": {"type": "array", "items": {"type": "string"}},
		"disclaimer_reference": {"type": "string"}
	}
}`)

// SynthesisInput is the business-level content handed to the synthesizer:
// the normalized question, the evidence pack's facts and derived insights
// and action candidates (never raw tool payloads), plus the policy version,
// locale, and disclaimer text every reply must carry.
type SynthesisInput struct {
	Question         string
	Locale            string
	Intent            models.Intent
	PolicyVersion     string
	DisclaimerText    string
	Facts             []models.Fact
	Insights          []models.Insight
	ActionCandidates  []models.ActionCandidate

	// PriorErrors carries the previous attempt's validator error report,
	// appended to the prompt on the single permitted retry.
	PriorErrors []string
}

// SynthesizeAnswer issues the answer_synth_v2 call and decodes its forced
// tool reply into an AnswerPlan. The caller (internal/synth) owns schema and
// placeholder-closure validation and the one-retry/fallback policy; this
// method only performs the transport call and a plain JSON decode.
func (c *Client) SynthesizeAnswer(ctx context.Context, model string, input SynthesisInput) (models.AnswerPlan, error) {
	callID := uuid.New().String()
	user, err := renderSynthesisUserPrompt(input)
	if err != nil {
		return models.AnswerPlan{}, fmt.Errorf("llm: answer synthesis: build prompt: %w", err)
	}

	payload, err := c.call(ctx, callRequest{
		Model:     model,
		ToolName:  "emit_answer_plan",
		System:    answerSynthesisSystemPrompt,
		User:      user,
		Schema:    answerPlanSchema,
		CallID:    callID,
		MaxTokens: 4096,
	})
	if err != nil {
		return models.AnswerPlan{}, fmt.Errorf("llm: answer synthesis: %w", err)
	}

	var plan models.AnswerPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return models.AnswerPlan{}, fmt.Errorf("llm: answer synthesis: decode reply: %w", err)
	}
	if plan.SchemaVersion == "" {
		plan.SchemaVersion = models.AnswerPlanSchemaVersion
	}
	return plan, nil
}

// synthesisPromptBody is the JSON document rendered into the user message:
// question plus facts-only evidence, never raw tool payloads.
type synthesisPromptBody struct {
	Question         string                   `json:"question"`
	Locale           string                   `json:"locale"`
	Intent           models.Intent            `json:"intent"`
	PolicyVersion    string                   `json:"policy_version"`
	DisclaimerText   string                   `json:"disclaimer_text"`
	Facts            []models.Fact            `json:"facts"`
	Insights         []models.Insight         `json:"insights"`
	ActionCandidates []models.ActionCandidate `json:"action_candidates"`
	PriorErrors      []string                 `json:"prior_validation_errors,omitempty"`
}

func renderSynthesisUserPrompt(input SynthesisInput) (string, error) {
	facts := append([]models.Fact(nil), input.Facts...)
	sort.Slice(facts, func(i, j int) bool { return facts[i].ID < facts[j].ID })

	body := synthesisPromptBody{
		Question:         input.Question,
		Locale:           input.Locale,
		Intent:           input.Intent,
		PolicyVersion:    input.PolicyVersion,
		DisclaimerText:   input.DisclaimerText,
		Facts:            facts,
		Insights:         input.Insights,
		ActionCandidates: input.ActionCandidates,
		PriorErrors:      input.PriorErrors,
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
