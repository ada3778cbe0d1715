package synth

import (
	"context"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/internal/llm"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

// Synthesizer issues the answer_synth_v2 call. Implemented by *llm.Client.
type Synthesizer interface {
	SynthesizeAnswer(ctx context.Context, model string, input llm.SynthesisInput) (models.AnswerPlan, error)
}

// SynthesisInput is llm.SynthesisInput, re-exported so callers only need to
// import this package to build the synthesis request.
type SynthesisInput = llm.SynthesisInput

// Result is the outcome of Run: either a validated plan ready to render, or
// a terminal failure after the retry budget is exhausted.
type Result struct {
	Plan       models.AnswerPlan
	Validated  bool
	Attempts   int
	LastErrors []string
}

// Run calls synthesizer, validates the reply against pack, and on failure
// retries with the validator's error report appended to the prompt.
// maxRetries is config.Response.MaxRetries (default 1, i.e. two total
// attempts). On exhausting the retries, Result.Validated is false and the
// caller (the reasoning node) must fall back to facts_only_compact.
func Run(ctx context.Context, synthesizer Synthesizer, model string, input SynthesisInput, pack models.EvidencePack, actionIDs map[string]bool, maxRetries int) (Result, error) {
	if maxRetries < 0 {
		maxRetries = 1
	}
	var lastErrors []string
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		input.PriorErrors = lastErrors

		plan, err := synthesizer.SynthesizeAnswer(ctx, model, input)
		if err != nil {
			lastErrors = []string{err.Error()}
			if !errs.IsRetryableToolError(err) {
				return Result{Attempts: attempts, LastErrors: lastErrors}, err
			}
			continue
		}

		violations := Validate(plan, pack, actionIDs, input.Intent, input.DisclaimerText)
		if len(violations) == 0 {
			return Result{Plan: plan, Validated: true, Attempts: attempts}, nil
		}
		lastErrors = violations
	}

	return Result{Attempts: attempts, LastErrors: lastErrors}, &errs.SynthesisValidationError{Violations: lastErrors, Attempt: attempts}
}
