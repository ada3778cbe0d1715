package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// bundleSpec is one row of the intent -> tool bundle data table. New intents
// extend this table, not the control flow around it.
type bundleSpec struct {
	Tools         []string
	EducationOnly bool
}

var bundleTable = map[models.Intent]bundleSpec{
	models.IntentSummary: {
		Tools: []string{"spend_analytics", "cashflow_forecast", "jar_allocation_suggest"},
	},
	models.IntentRisk: {
		Tools: []string{"spend_analytics", "anomaly_signals", "risk_profile_non_investment"},
	},
	models.IntentPlanning: {
		Tools: []string{"spend_analytics", "cashflow_forecast", "recurring_cashflow_detect", "goal_feasibility", "jar_allocation_suggest"},
	},
	models.IntentScenario: {
		Tools: []string{"what_if_scenario"},
	},
	models.IntentInvest: {
		Tools:         []string{"suitability_guard", "risk_profile_non_investment"},
		EducationOnly: true,
	},
	models.IntentOutOfScope: {
		Tools: []string{"suitability_guard"},
	},
}

func bundleFor(intent models.Intent) bundleSpec {
	if spec, ok := bundleTable[intent]; ok {
		return spec
	}
	return bundleSpec{Tools: []string{"suitability_guard"}}
}

// toolTimeframeBounds lists, per tool, the clamp bounds (in days) for the
// lookback window it accepts. Tools absent here take no timeframe argument.
var toolTimeframeBounds = map[string][2]int{
	"spend_analytics":             {1, 365},
	"cashflow_forecast":           {1, 365},
	"anomaly_signals":             {1, 365},
	"recurring_cashflow_detect":   {7, 365},
	"jar_allocation_suggest":      {1, 365},
}

const defaultTimeframeDays = 30

var (
	reDays      = regexp.MustCompile(`(?i)(\d+)\s*(?:ngày|day|days)`)
	reMonths    = regexp.MustCompile(`(?i)(\d+)\s*(?:tháng|month|months)`)
	reThisMonth = regexp.MustCompile(`(?i)tháng này|this month`)
	reLastMonth = regexp.MustCompile(`(?i)tháng trước|last month`)
	reRecent    = regexp.MustCompile(`(?i)gần đây|recent(?:ly)?`)
)

// parseTimeframes extracts an explicit window from the prompt and applies it,
// clamped, to every tool in bundle that accepts a lookback argument. Returns
// the per-tool effective day count and whether parsing fell back to defaults.
// now anchors the calendar-relative windows ("this month", "last month") to
// the request's wall-clock date.
func parseTimeframes(prompt string, bundle []string, now func() time.Time) (map[string]int, bool) {
	days, parsed := extractDays(prompt, now)
	result := make(map[string]int, len(bundle))
	for _, tool := range bundle {
		bounds, ok := toolTimeframeBounds[tool]
		if !ok {
			continue
		}
		effective := days
		if !parsed {
			effective = defaultTimeframeDays
		}
		result[tool] = clamp(effective, bounds[0], bounds[1])
	}
	return result, !parsed
}

func extractDays(prompt string, now func() time.Time) (int, bool) {
	if m := reDays.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	if m := reMonths.FindStringSubmatch(prompt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n * 30, true
		}
	}
	if reThisMonth.MatchString(prompt) {
		// Days elapsed in the calendar month containing the request.
		return now().Day(), true
	}
	if reLastMonth.MatchString(prompt) {
		return daysInPreviousMonth(now()), true
	}
	if reRecent.MatchString(prompt) {
		return 14, true
	}
	return 0, false
}

func daysInPreviousMonth(t time.Time) int {
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return firstOfMonth.AddDate(0, 0, -1).Day()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	anomalyTerms = []string{"giao dịch lạ", "bất thường", "anomaly", "unusual", "suspicious"}
	investAssetNouns = []string{"cổ phiếu", "stock", "shares", "etf", "trái phiếu", "bond", "quỹ", "fund", "crypto", "bitcoin"}
	lifeGoalTerms    = []string{"mua nhà", "home", "nhà ở", "học phí", "tuition", "quỹ khẩn cấp", "emergency fund"}
	recurringTerms   = []string{"định kỳ", "recurring", "hàng tháng cố định", "subscription"}
	buySellVerbs     = []string{"mua", "bán", "buy", "sell"}
)

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// applyOverrides guards against extractor mistakes with deterministic
// pattern rules, mutating extraction.Intent in place and returning the
// reasons applied (for routing_meta).
func applyOverrides(prompt string, extraction *Extraction) []string {
	var reasons []string

	hasAnomaly := containsAny(prompt, anomalyTerms)
	hasInvestNoun := containsAny(prompt, investAssetNouns)
	hasLifeGoal := containsAny(prompt, lifeGoalTerms)
	hasRecurring := containsAny(prompt, recurringTerms)
	hasBuySell := containsAny(prompt, buySellVerbs) && hasInvestNoun

	if hasAnomaly && !hasInvestNoun && extraction.Intent != models.IntentRisk {
		extraction.Intent = models.IntentRisk
		reasons = append(reasons, "override:anomaly_terms_force_risk")
	}
	if hasLifeGoal && extraction.Intent != models.IntentPlanning {
		extraction.Intent = models.IntentPlanning
		reasons = append(reasons, "override:life_goal_terms_force_planning")
	}
	if hasBuySell && extraction.Intent != models.IntentInvest {
		extraction.Intent = models.IntentInvest
		reasons = append(reasons, "override:buy_sell_investment_noun_force_invest")
	}
	if hasRecurring {
		if extraction.Slots == nil {
			extraction.Slots = map[string]string{}
		}
		extraction.Slots["require_recurring_detect"] = "true"
		reasons = append(reasons, "override:recurring_wording_requires_recurring_detect")
	}

	return reasons
}

// withRecurringDetect appends recurring_cashflow_detect to the bundle when
// the prompt used explicit recurring-cost wording and the base intent's
// table entry does not already include it.
func withRecurringDetect(tools []string, extraction Extraction) []string {
	if extraction.Slots["require_recurring_detect"] != "true" {
		return tools
	}
	for _, t := range tools {
		if t == "recurring_cashflow_detect" {
			return tools
		}
	}
	out := make([]string, len(tools), len(tools)+1)
	copy(out, tools)
	return append(out, "recurring_cashflow_detect")
}

// clarifyQuestionBank is a fixed bank of multiple-choice questions keyed by
// the missing slot.
var clarifyQuestionBank = map[string]models.ClarifyQuestion{
	"intent": {
		Slot:    "intent",
		Text:    "What would you like help with?",
		Choices: []string{"Spending summary", "Risk check", "Savings/goal planning", "What-if scenario"},
	},
	"horizon": {
		Slot:    "horizon",
		Text:    "Over what time horizon should I run this scenario?",
		Choices: []string{"6 months", "1 year", "3 years", "5 years"},
	},
	"delta": {
		Slot:    "delta",
		Text:    "What change should I model?",
		Choices: []string{"Spend less", "Spend more", "Save more each month", "One-time expense"},
	},
}

func clarifyQuestions(e Extraction, max int) []models.ClarifyQuestion {
	var slots []string
	if e.Intent == models.IntentScenario {
		if e.Slots["horizon"] == "" {
			slots = append(slots, "horizon")
		}
		if e.Slots["delta"] == "" {
			slots = append(slots, "delta")
		}
	}
	if len(slots) == 0 {
		slots = append(slots, "intent")
	}

	questions := make([]models.ClarifyQuestion, 0, max)
	for _, slot := range slots {
		if len(questions) >= max {
			break
		}
		if q, ok := clarifyQuestionBank[slot]; ok {
			questions = append(questions, q)
		}
	}
	return questions
}
