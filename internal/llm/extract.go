package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/internal/router"
)

// IntentExtractionPromptVersion is stamped on every extraction call.
const IntentExtractionPromptVersion = "intent_extraction_v1"

// IntentExtractionSchemaVersion identifies the forced tool's input schema.
const IntentExtractionSchemaVersion = "intent_extraction_schema_v1"

const intentExtractionSystemPrompt = `You are the intent classifier for a personal finance advisory assistant.
Read the user's question and call the emit_intent_extraction tool exactly once with your classification.
Never answer the question directly. Never invent numeric facts.
intent must be one of: summary, risk, planning, scenario, invest, out_of_scope.
confidence and top2_gap are your calibrated probabilities in [0,1] for the chosen intent versus the runner-up.
slots captures any explicit timeframe, goal_amount, horizon, or delta mentioned in the question, as strings, omitted when absent.
risk_markers lists any risk-relevant terms you noticed (e.g. "large withdrawal", "new merchant", "anomalous").`

var intentExtractionSchema = json.RawMessage(`{
	"type": "object",
	"required": ["intent", "confidence", "top2_gap"],
	"properties": {
		"intent": {"type": "string", "enum": ["summary", "risk", "planning", "scenario", "invest", "out_of_scope"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"top2_gap": {"type": "number", "minimum": 0, "maximum": 1},
		"slots": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"risk_markers": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`)

// IntentExtractor implements router.Extractor over a Client, issuing the
// intent_extraction_v1 call and decoding its forced tool reply.
type IntentExtractor struct {
	client *Client
	model  string
}

// NewIntentExtractor builds an IntentExtractor bound to model.
func NewIntentExtractor(client *Client, model string) *IntentExtractor {
	return &IntentExtractor{client: client, model: model}
}

var _ router.Extractor = (*IntentExtractor)(nil)

// Extract calls the LLM with the normalized prompt and returns its
// structured classification. Any transport or decode failure is returned
// unwrapped so Policy.Route can degrade to rule-only classification.
func (e *IntentExtractor) Extract(ctx context.Context, normalizedPrompt string) (router.Extraction, error) {
	callID := uuid.New().String()
	payload, err := e.client.call(ctx, callRequest{
		Model:    e.model,
		ToolName: "emit_intent_extraction",
		System:   intentExtractionSystemPrompt,
		User:     normalizedPrompt,
		Schema:   intentExtractionSchema,
		CallID:   callID,
	})
	if err != nil {
		return router.Extraction{}, fmt.Errorf("llm: intent extraction: %w", err)
	}

	var extraction router.Extraction
	if err := json.Unmarshal(payload, &extraction); err != nil {
		return router.Extraction{}, fmt.Errorf("llm: intent extraction: decode reply: %w", err)
	}
	if extraction.Slots == nil {
		extraction.Slots = map[string]string{}
	}
	return extraction, nil
}
