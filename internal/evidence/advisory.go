package evidence

import (
	"strings"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// BuildAdvisoryContext derives insights and action candidates from an
// already-built EvidencePack. Every rule here is a pure function of facts —
// no I/O, no LLM call — so the synthesizer can only ever cite what these
// rules actually found.
func BuildAdvisoryContext(pack models.EvidencePack) models.AdvisoryContext {
	ctx := models.AdvisoryContext{}

	if len(pack.Facts) == 0 {
		ctx.Insights = append(ctx.Insights, models.Insight{
			ID:                  "insight.data_gap.no_facts",
			Category:            models.InsightDataGap,
			Severity:            models.SeverityWarn,
			DescriptionTemplate: "No tool data was available to ground this answer.",
		})
		return ctx
	}

	if runway, ok := numericFact(pack, "forecast.runway.months"); ok && runway < 3 {
		ctx.Insights = append(ctx.Insights, models.Insight{
			ID:                  "insight.risk.low_runway",
			Category:            models.InsightRisk,
			FactRefs:            []string{"forecast.runway.months"},
			Severity:            models.SeverityCritical,
			DescriptionTemplate: "Cash runway is under three months.",
		})
	}

	for _, id := range sortedFactIDs(pack) {
		if !strings.HasPrefix(id, "anomaly.count") {
			continue
		}
		if count, ok := numericFact(pack, id); ok && count > 0 {
			changePointID := strings.Replace(id, "count", "latest_change_point", 1)
			refs := []string{id}
			if _, ok := pack.Fact(changePointID); ok {
				refs = append(refs, changePointID)
			}
			ctx.Insights = append(ctx.Insights, models.Insight{
				ID:                  "insight.risk.anomaly_detected",
				Category:            models.InsightRisk,
				FactRefs:            refs,
				Severity:            models.SeverityWarn,
				DescriptionTemplate: "Unusual transaction activity was detected.",
			})
		}
	}

	for _, id := range sortedFactIDs(pack) {
		if !strings.HasPrefix(id, "spend.net_cashflow") {
			continue
		}
		if v, ok := numericFact(pack, id); ok && v < 0 {
			ctx.Insights = append(ctx.Insights, models.Insight{
				ID:                  "insight.trend.negative_cashflow",
				Category:            models.InsightTrend,
				FactRefs:            []string{id},
				Severity:            models.SeverityWarn,
				DescriptionTemplate: "Net cash flow was negative over the analyzed window.",
			})
		}
	}

	if feasible, ok := boolFact(pack, "goal.feasible"); ok && !feasible {
		refs := []string{"goal.feasible"}
		for _, extra := range []string{"goal.gap_amount", "goal.required_monthly_saving"} {
			if _, ok := pack.Fact(extra); ok {
				refs = append(refs, extra)
			}
		}
		ctx.Insights = append(ctx.Insights, models.Insight{
			ID:                  "insight.opportunity.goal_at_risk",
			Category:            models.InsightOpportunity,
			FactRefs:            refs,
			Severity:            models.SeverityWarn,
			DescriptionTemplate: "The stated goal is not on track at the current savings rate.",
		})
		ctx.ActionCandidates = append(ctx.ActionCandidates, models.ActionCandidate{
			ID:            "action.goal.adjust_saving_rate",
			ToolHint:      "goal_feasibility",
			RationaleRefs: refs,
			HITLBand:      models.HITLConfirm,
		})
	}

	for _, id := range sortedFactIDs(pack) {
		if !strings.HasPrefix(id, "recurring.top_category.monthly_amount") {
			continue
		}
		amount, ok := numericFact(pack, id)
		if !ok || amount <= 0 {
			continue
		}
		categoryID := strings.Replace(id, "monthly_amount", "id", 1)
		refs := []string{id}
		if _, ok := pack.Fact(categoryID); ok {
			refs = append(refs, categoryID)
		}
		ctx.ActionCandidates = append(ctx.ActionCandidates, models.ActionCandidate{
			ID:            "action.recurring_cap." + factSlug(categoryID),
			ToolHint:      "recurring_cashflow_detect",
			RationaleRefs: refs,
			HITLBand:      models.HITLConfirm,
		})
	}

	return ctx
}

func numericFact(pack models.EvidencePack, id string) (float64, bool) {
	f, ok := pack.Fact(id)
	if !ok {
		return 0, false
	}
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func boolFact(pack models.EvidencePack, id string) (bool, bool) {
	f, ok := pack.Fact(id)
	if !ok {
		return false, false
	}
	b, ok := f.Value.(bool)
	return b, ok
}

func factSlug(id string) string {
	return strings.NewReplacer(".", "_", " ", "_").Replace(id)
}
