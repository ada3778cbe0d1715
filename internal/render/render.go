// Package render binds a validated AnswerPlan's [F:fact_id]/[A:action_id]
// placeholders to locale-formatted values and assembles the final body in
// the fixed section order, plus the deterministic facts_only_compact
// fallback template used when synthesis fails.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

var placeholderRe = regexp.MustCompile(`\[([FA]):([A-Za-z0-9_.\-]+)\]`)

// sentinel substitutes for a placeholder that cannot be bound. Its
// appearance anywhere in a rendered body is itself the invariant-violation
// signal (InternalInvariantViolationError) describes.
const sentinel = "[unavailable]"

// Output is what Render produces: the assembled body plus whether any
// placeholder failed to bind (forcing the caller to flag the response as
// fallback).
type Output struct {
	Body               string
	InvariantViolated  bool
	ViolationDetail    string
}

// Render walks plan section by section — summary bullets, key numbers,
// recommended actions, assumptions & limits, disclaimer — replacing every
// placeholder with its locale-formatted evidence value or action
// description. It never reorders or drops a section.
func Render(plan models.AnswerPlan, pack models.EvidencePack, actions []models.ActionCandidate, locale string) Output {
	actionByID := make(map[string]models.ActionCandidate, len(actions))
	for _, a := range actions {
		actionByID[a.ID] = a
	}

	out := Output{}
	bind := func(text string) string {
		return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
			m := placeholderRe.FindStringSubmatch(token)
			kind, id := m[1], m[2]
			switch kind {
			case "F":
				if f, ok := pack.Fact(id); ok {
					return FormatFact(f, locale)
				}
				out.InvariantViolated = true
				out.ViolationDetail = fmt.Sprintf("fact placeholder %q could not be bound", id)
				return sentinel
			case "A":
				if a, ok := actionByID[id]; ok {
					return describeAction(a)
				}
				out.InvariantViolated = true
				out.ViolationDetail = fmt.Sprintf("action placeholder %q could not be bound", id)
				return sentinel
			}
			return token
		})
	}

	var b strings.Builder
	fmt.Fprintln(&b, "Summary")
	for _, bullet := range plan.SummaryBullets {
		fmt.Fprintf(&b, "- %s\n", bind(bullet))
	}

	if len(plan.KeyNumbers) > 0 {
		fmt.Fprintln(&b, "\nKey numbers")
		for _, kn := range plan.KeyNumbers {
			fmt.Fprintf(&b, "- %s: %s\n", kn.Label, bind(kn.FactPlace))
		}
	}

	if len(plan.RecommendedActions) > 0 {
		fmt.Fprintln(&b, "\nRecommended actions")
		for _, ra := range plan.RecommendedActions {
			fmt.Fprintf(&b, "- %s\n", bind(ra.Text))
		}
	}

	if len(plan.AssumptionsLimits) > 0 {
		fmt.Fprintln(&b, "\nAssumptions & limits")
		for _, a := range plan.AssumptionsLimits {
			fmt.Fprintf(&b, "- %s\n", bind(a))
		}
	}

	fmt.Fprintln(&b, "\nDisclaimer")
	fmt.Fprintln(&b, bind(plan.DisclaimerReference))

	out.Body = strings.TrimRight(b.String(), "\n")
	return out
}

// RenderOrSentinelError runs Render and, if any placeholder failed to bind,
// also returns the InternalInvariantViolationError for the caller to log
// at error severity while still emitting the sentinel-substituted body.
func RenderOrSentinelError(plan models.AnswerPlan, pack models.EvidencePack, actions []models.ActionCandidate, locale string) (Output, error) {
	out := Render(plan, pack, actions, locale)
	if out.InvariantViolated {
		return out, &errs.InternalInvariantViolationError{Detail: out.ViolationDetail}
	}
	return out, nil
}

// actionDescriptions maps a tool_hint to a short human-readable action
// description, since ActionCandidate itself carries no free text (only the
// deterministic evidence rule that produced it, ).
var actionDescriptions = map[string]string{
	"recurring_cashflow_detect": "set a monthly cap on this recurring category",
	"goal_feasibility":          "adjust the monthly savings rate toward the stated goal",
	"jar_allocation_suggest":    "rebalance jar allocations toward the suggested split",
}

func describeAction(a models.ActionCandidate) string {
	if desc, ok := actionDescriptions[a.ToolHint]; ok {
		return desc
	}
	return "review the suggested action"
}
