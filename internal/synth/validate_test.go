package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/internal/llm"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

func testPack() models.EvidencePack {
	return models.EvidencePack{Facts: map[string]models.Fact{
		"spend.total.24d":        {ID: "spend.total.24d", Value: 5400000.0, Unit: "currency"},
		"forecast.runway.months": {ID: "forecast.runway.months", Value: 4.0, Unit: "months"},
	}}
}

func validPlan() models.AnswerPlan {
	return models.AnswerPlan{
		SchemaVersion:  models.AnswerPlanSchemaVersion,
		SummaryBullets: []string{"Spending this month totaled [F:spend.total.24d]."},
		KeyNumbers: []models.KeyNumber{
			{Label: "Runway", FactPlace: "[F:forecast.runway.months]"},
		},
		RecommendedActions: []models.RecommendedAction{
			{Text: "Consider the recurring cap: [A:action.recurring_cap.subs]"},
		},
		AssumptionsLimits:   []string{"Based on the most recent tool snapshot."},
		DisclaimerReference: "Educational information only.",
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	violations := Validate(validPlan(), testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentSummary, "Educational information only.")
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
}

func TestValidateRejectsUnknownFact(t *testing.T) {
	plan := validPlan()
	plan.SummaryBullets = []string{"Total was [F:spend.total.999d]."}
	violations := Validate(plan, testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentSummary, "Educational information only.")
	if !containsViolation(violations, "unknown fact") {
		t.Fatalf("expected unknown-fact violation, got %v", violations)
	}
}

func TestValidateRejectsFreeFormDigits(t *testing.T) {
	plan := validPlan()
	plan.SummaryBullets = []string{"You spent 5400000 this month."}
	violations := Validate(plan, testPack(), nil, models.IntentSummary, "Educational information only.")
	if !containsViolation(violations, "free-form digit") {
		t.Fatalf("expected free-digit violation, got %v", violations)
	}
}

func TestValidateAllowsDigitsInsidePlaceholderIDs(t *testing.T) {
	plan := validPlan()
	plan.RecommendedActions = nil
	violations := Validate(plan, testPack(), nil, models.IntentSummary, "Educational information only.")
	if len(violations) != 0 {
		t.Fatalf("placeholder ids carry digits legally, got %v", violations)
	}
}

func TestValidateRejectsWrongSchemaVersion(t *testing.T) {
	plan := validPlan()
	plan.SchemaVersion = "answer_plan_v1"
	violations := Validate(plan, testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentSummary, "Educational information only.")
	if !containsViolation(violations, "schema_version") {
		t.Fatalf("expected schema_version violation, got %v", violations)
	}
}

func TestValidateRejectsDisclaimerMismatch(t *testing.T) {
	plan := validPlan()
	plan.DisclaimerReference = "something else"
	violations := Validate(plan, testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentSummary, "Educational information only.")
	if !containsViolation(violations, "disclaimer_reference") {
		t.Fatalf("expected disclaimer violation, got %v", violations)
	}
}

func TestValidateComplianceForInvestIntent(t *testing.T) {
	plan := validPlan()
	plan.RecommendedActions = []models.RecommendedAction{{Text: "You should buy the stock now."}}
	violations := Validate(plan, testPack(), nil, models.IntentInvest, "Educational information only.")
	if !containsViolation(violations, "buy/sell") {
		t.Fatalf("expected compliance violation, got %v", violations)
	}

	// The identical plan is fine under a non-restricted intent.
	violations = Validate(plan, testPack(), nil, models.IntentSummary, "Educational information only.")
	if containsViolation(violations, "buy/sell") {
		t.Fatalf("buy/sell check must only apply to invest/out_of_scope, got %v", violations)
	}
}

func TestValidateComplianceVietnameseVerbs(t *testing.T) {
	plan := validPlan()
	plan.SummaryBullets = []string{"Bạn nên mua cổ phiếu này."}
	violations := Validate(plan, testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentInvest, "Educational information only.")
	if !containsViolation(violations, "buy/sell") {
		t.Fatalf("expected compliance violation for Vietnamese imperative, got %v", violations)
	}
}

func TestValidateKeyNumberMustBePlaceholder(t *testing.T) {
	plan := validPlan()
	plan.KeyNumbers = []models.KeyNumber{{Label: "Runway", FactPlace: "4 months"}}
	violations := Validate(plan, testPack(), map[string]bool{"action.recurring_cap.subs": true}, models.IntentSummary, "Educational information only.")
	if !containsViolation(violations, "fact_placeholder") {
		t.Fatalf("expected placeholder violation, got %v", violations)
	}
}

type scriptedSynthesizer struct {
	plans []models.AnswerPlan
	errs  []error
	calls int
	last  llm.SynthesisInput
}

func (s *scriptedSynthesizer) SynthesizeAnswer(ctx context.Context, model string, input llm.SynthesisInput) (models.AnswerPlan, error) {
	i := s.calls
	s.calls++
	s.last = input
	if i < len(s.errs) && s.errs[i] != nil {
		return models.AnswerPlan{}, s.errs[i]
	}
	if i < len(s.plans) {
		return s.plans[i], nil
	}
	return models.AnswerPlan{}, errors.New("no scripted reply")
}

func TestRunValidatesFirstAttempt(t *testing.T) {
	synth := &scriptedSynthesizer{plans: []models.AnswerPlan{validPlan()}}
	result, err := Run(context.Background(), synth, "model-x", llm.SynthesisInput{
		Intent:         models.IntentSummary,
		DisclaimerText: "Educational information only.",
	}, testPack(), map[string]bool{"action.recurring_cap.subs": true}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Validated || result.Attempts != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunRetriesOnceWithErrorReport(t *testing.T) {
	bad := validPlan()
	bad.SummaryBullets = []string{"spent 12345 last month"}
	synth := &scriptedSynthesizer{plans: []models.AnswerPlan{bad, validPlan()}}

	result, err := Run(context.Background(), synth, "model-x", llm.SynthesisInput{
		Intent:         models.IntentSummary,
		DisclaimerText: "Educational information only.",
	}, testPack(), map[string]bool{"action.recurring_cap.subs": true}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}
	if len(synth.last.PriorErrors) == 0 {
		t.Error("second attempt must carry the validator's error report")
	}
}

func TestRunFallsBackAfterRetryBudget(t *testing.T) {
	bad := validPlan()
	bad.SummaryBullets = []string{"spent 12345 last month"}
	synth := &scriptedSynthesizer{plans: []models.AnswerPlan{bad, bad}}

	result, err := Run(context.Background(), synth, "model-x", llm.SynthesisInput{
		Intent:         models.IntentSummary,
		DisclaimerText: "Educational information only.",
	}, testPack(), nil, 1)
	if err == nil {
		t.Fatal("expected terminal synthesis error")
	}
	var synthErr *errs.SynthesisValidationError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error type = %T", err)
	}
	if result.Validated {
		t.Error("result must not be validated")
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
}

func TestRunStopsOnPermanentLLMError(t *testing.T) {
	permanent := &errs.ToolInvocationError{Kind: errs.ToolErrClient4xx, ToolName: "emit_answer_plan"}
	synth := &scriptedSynthesizer{errs: []error{permanent}}

	_, err := Run(context.Background(), synth, "model-x", llm.SynthesisInput{}, testPack(), nil, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if synth.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent error)", synth.calls)
	}
}

func containsViolation(violations []string, needle string) bool {
	for _, v := range violations {
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}
