// Package synth owns the answer-plan validator and the single-retry
// synthesis policy. It never calls the LLM itself (that is internal/llm's
// job); it decides whether a returned AnswerPlan is safe to render, and if
// not, whether a retry or a fallback is next.
package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// MaxSummaryBullets and friends bound section lengths so the rendered body
// stays within a chat-sized reply.
const (
	MaxSummaryBullets    = 8
	MaxKeyNumbers        = 10
	MaxRecommendedAction = 6
	MaxAssumptions       = 6
)

var (
	placeholderRe = regexp.MustCompile(`\[([FA]):([A-Za-z0-9_.\-]+)\]`)
	freeDigitRe   = regexp.MustCompile(`\d`)
)

// buySellVerbs mirror the router's override vocabulary (internal/router):
// imperative execution language the synthesizer must never emit for
// invest/out_of_scope intents.
var imperativeBuySell = []string{
	"buy ", "sell ", "mua ", "bán ", "should buy", "should sell", "nên mua", "nên bán",
}

// Validate checks plan against the evidence pack and policy constraints,
// returning every violation found, never just the first, so the retry
// prompt can report all of them at once.
func Validate(plan models.AnswerPlan, pack models.EvidencePack, actionIDs map[string]bool, intent models.Intent, disclaimerText string) []string {
	var violations []string

	if plan.SchemaVersion != models.AnswerPlanSchemaVersion {
		violations = append(violations, fmt.Sprintf("schema_version must be %q, got %q", models.AnswerPlanSchemaVersion, plan.SchemaVersion))
	}
	if len(plan.SummaryBullets) == 0 {
		violations = append(violations, "summary_bullets must not be empty")
	}
	if len(plan.SummaryBullets) > MaxSummaryBullets {
		violations = append(violations, fmt.Sprintf("summary_bullets exceeds max of %d", MaxSummaryBullets))
	}
	if len(plan.KeyNumbers) > MaxKeyNumbers {
		violations = append(violations, fmt.Sprintf("key_numbers exceeds max of %d", MaxKeyNumbers))
	}
	if len(plan.RecommendedActions) > MaxRecommendedAction {
		violations = append(violations, fmt.Sprintf("recommended_actions exceeds max of %d", MaxRecommendedAction))
	}
	if len(plan.AssumptionsLimits) > MaxAssumptions {
		violations = append(violations, fmt.Sprintf("assumptions_limits exceeds max of %d", MaxAssumptions))
	}
	if strings.TrimSpace(plan.DisclaimerReference) == "" {
		violations = append(violations, "disclaimer_reference must be set")
	} else if disclaimerText != "" && plan.DisclaimerReference != disclaimerText {
		violations = append(violations, "disclaimer_reference must match the disclaimer text verbatim")
	}

	checkText := func(field, text string) {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			kind, id := m[1], m[2]
			switch kind {
			case "F":
				if _, ok := pack.Fact(id); !ok {
					violations = append(violations, fmt.Sprintf("%s references unknown fact %q", field, id))
				}
			case "A":
				if !actionIDs[id] {
					violations = append(violations, fmt.Sprintf("%s references unknown action %q", field, id))
				}
			}
		}
		stripped := placeholderRe.ReplaceAllString(text, "")
		if freeDigitRe.MatchString(stripped) {
			violations = append(violations, fmt.Sprintf("%s contains a free-form digit outside a [F:...] placeholder", field))
		}
	}

	for i, b := range plan.SummaryBullets {
		checkText(fmt.Sprintf("summary_bullets[%d]", i), b)
	}
	for i, kn := range plan.KeyNumbers {
		if kn.FactPlace == "" {
			violations = append(violations, fmt.Sprintf("key_numbers[%d] must set fact_placeholder", i))
			continue
		}
		m := placeholderRe.FindStringSubmatch(kn.FactPlace)
		if m == nil || m[1] != "F" {
			violations = append(violations, fmt.Sprintf("key_numbers[%d].fact_placeholder must be a [F:...] placeholder", i))
			continue
		}
		if _, ok := pack.Fact(m[2]); !ok {
			violations = append(violations, fmt.Sprintf("key_numbers[%d] references unknown fact %q", i, m[2]))
		}
	}
	for i, ra := range plan.RecommendedActions {
		checkText(fmt.Sprintf("recommended_actions[%d].text", i), ra.Text)
		for _, ref := range ra.FactRefs {
			if _, ok := pack.Fact(ref); !ok {
				violations = append(violations, fmt.Sprintf("recommended_actions[%d] fact_refs references unknown fact %q", i, ref))
			}
		}
	}
	for i, a := range plan.AssumptionsLimits {
		checkText(fmt.Sprintf("assumptions_limits[%d]", i), a)
	}

	if intent == models.IntentInvest || intent == models.IntentOutOfScope {
		violations = append(violations, complianceViolations(plan)...)
	}

	return violations
}

// complianceViolations flags imperative buy/sell language anywhere in the
// plan's free text.
func complianceViolations(plan models.AnswerPlan) []string {
	var violations []string
	all := append([]string{}, plan.SummaryBullets...)
	all = append(all, plan.AssumptionsLimits...)
	for _, ra := range plan.RecommendedActions {
		all = append(all, ra.Text)
	}
	lower := strings.ToLower(strings.Join(all, "\n"))
	for _, verb := range imperativeBuySell {
		if strings.Contains(lower, verb) {
			violations = append(violations, fmt.Sprintf("imperative buy/sell language %q is not permitted for intent that requires education-only phrasing", strings.TrimSpace(verb)))
			break
		}
	}
	return violations
}

// ActionIDSet builds the lookup Validate needs from an AdvisoryContext's
// action candidates.
func ActionIDSet(candidates []models.ActionCandidate) map[string]bool {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c.ID] = true
	}
	return set
}
