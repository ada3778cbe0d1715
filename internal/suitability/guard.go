// Package suitability wraps the always-first suitability_guard tool call
// that gates whether the decision engine may run at all.
package suitability

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/internal/scheduler"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

const toolName = "suitability_guard"

// Input is marshaled as the suitability_guard tool's arguments.
type Input struct {
	Intent          models.Intent `json:"intent"`
	RequestedAction string        `json:"requested_action"`
	RawPrompt       string        `json:"raw_prompt"`
}

// Output is the suitability_guard tool's expected JSON payload shape.
type Output struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// Guard invokes the suitability_guard tool directly, bypassing the bundle
// scheduler since it always runs alone and first.
type Guard struct {
	validator scheduler.Validator
	invoker   scheduler.Invoker
}

// New builds a Guard over the same validator/invoker pair the decision
// engine scheduler uses.
func New(validator scheduler.Validator, invoker scheduler.Invoker) *Guard {
	return &Guard{validator: validator, invoker: invoker}
}

// Check calls suitability_guard and returns the decision. Any error
// (transport, validation, unparseable payload) degrades to deny_execution:
// when the guard itself cannot be reached, the safest default is to refuse
// rather than silently allow.
func (g *Guard) Check(ctx context.Context, traceID string, route models.RouteDecision, rawPrompt string) (models.SuitabilityDecision, models.ToolResult) {
	requestedAction := requestedActionFor(route.Intent)

	argsJSON, err := json.Marshal(Input{
		Intent:          route.Intent,
		RequestedAction: requestedAction,
		RawPrompt:       rawPrompt,
	})
	if err != nil {
		return models.SuitabilityDenyExecution, failedResult(toolName, err)
	}

	sanitized, err := scheduler.Sanitize(argsJSON)
	if err != nil {
		return models.SuitabilityDenyExecution, failedResult(toolName, err)
	}

	if err := g.validator.Validate(toolName, sanitized); err != nil {
		return models.SuitabilityDenyExecution, failedResult(toolName, err)
	}
	resolved, _ := g.validator.Resolve(toolName)
	if resolved == "" {
		resolved = toolName
	}

	call := models.ToolCall{
		BaseName:     toolName,
		ResolvedName: resolved,
		Arguments:    sanitized,
		CallID:       uuid.New().String(),
		TraceID:      traceID,
	}

	payload, err := g.invoker.Invoke(ctx, call)
	if err != nil {
		return models.SuitabilityDenyExecution, failedResult(toolName, err)
	}

	var out Output
	if err := json.Unmarshal(payload, &out); err != nil {
		return models.SuitabilityDenyExecution, failedResult(toolName, err)
	}

	decision := models.SuitabilityDecision(out.Decision)
	switch decision {
	case models.SuitabilityAllow, models.SuitabilityEducationOnly, models.SuitabilityDenyExecution:
	default:
		decision = models.SuitabilityDenyExecution
	}

	return decision, models.ToolResult{
		CallID:      call.CallID,
		BaseName:    toolName,
		Status:      models.ToolStatusOK,
		PayloadJSON: payload,
	}
}

func requestedActionFor(intent models.Intent) string {
	switch intent {
	case models.IntentInvest:
		return "investment_recommendation"
	case models.IntentOutOfScope:
		return "out_of_scope_request"
	default:
		return "advisory_read"
	}
}

func failedResult(baseName string, err error) models.ToolResult {
	return models.ToolResult{
		BaseName: baseName,
		Status:   models.ToolStatusServerError,
		Err:      err.Error(),
	}
}
