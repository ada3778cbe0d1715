// Package router implements the two-stage intent router: an LLM-backed
// structured extraction call followed by a deterministic planner policy that
// turns extraction output into a RouteDecision.
package router

import (
	"context"
	"time"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// PolicyVersion is stamped into every RouteDecision's routing_meta.
const PolicyVersion = "router_policy_v1"

// Extraction is the structured output of the intent_extraction_v1 LLM call.
type Extraction struct {
	Intent      models.Intent     `json:"intent"`
	Confidence  float64           `json:"confidence"`
	Top2Gap     float64           `json:"top2_gap"`
	Slots       map[string]string `json:"slots"`
	RiskMarkers []string          `json:"risk_markers"`
}

// Extractor performs the LLM-backed structured intent extraction call.
type Extractor interface {
	Extract(ctx context.Context, normalizedPrompt string) (Extraction, error)
}

// Config holds the planner policy's tunable thresholds set by the ROUTER_* environment variables.
type Config struct {
	IntentConfidenceMin  float64
	Top2GapMin           float64
	ScenarioConfidenceMin float64
	MaxClarifyQuestions  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		IntentConfidenceMin:   0.70,
		Top2GapMin:            0.15,
		ScenarioConfidenceMin: 0.75,
		MaxClarifyQuestions:   2,
	}
}

// Policy is the deterministic planner: (intent, slots, confidences, markers)
// -> RouteDecision.
type Policy struct {
	extractor Extractor
	config    Config

	// now anchors calendar-relative timeframe parsing ("this month") to the
	// request's date. Tests substitute a fixed clock.
	now func() time.Time
}

// New builds a Policy.
func New(extractor Extractor, config Config) *Policy {
	if config.MaxClarifyQuestions <= 0 {
		config.MaxClarifyQuestions = 2
	}
	return &Policy{extractor: extractor, config: config, now: time.Now}
}

// Route extracts intent from the normalized prompt and applies the planner
// policy to produce a RouteDecision. On extraction failure it degrades to
// rule-only classification; if rules cannot reach a confident intent it
// emits clarify.
func (p *Policy) Route(ctx context.Context, normalizedPrompt string) models.RouteDecision {
	extraction, err := p.extractor.Extract(ctx, normalizedPrompt)
	degraded := err != nil
	if degraded {
		extraction = ruleOnlyClassify(normalizedPrompt)
	}

	overrideReasons := applyOverrides(normalizedPrompt, &extraction)
	if degraded {
		overrideReasons = append(overrideReasons, "router_extraction_error:degraded_to_rules")
	}

	decision := models.RouteDecision{
		Intent: extraction.Intent,
		Confidences: models.Confidences{
			Intent:  extraction.Confidence,
			Top2Gap: extraction.Top2Gap,
		},
		PolicyVersion:   PolicyVersion,
		OverrideReasons: overrideReasons,
	}

	if needsClarify(extraction, p.config) {
		decision.Clarify = true
		decision.ClarifyQuestions = clarifyQuestions(extraction, p.config.MaxClarifyQuestions)
		decision.FallbackReason = "low_confidence"
		return decision
	}

	spec := bundleFor(extraction.Intent)
	decision.ToolBundle = withRecurringDetect(spec.Tools, extraction)

	timeframes, parseFailed := parseTimeframes(normalizedPrompt, spec.Tools, p.now)
	decision.Timeframes = timeframes
	if parseFailed {
		decision.OverrideReasons = append(decision.OverrideReasons, "timeframe_parse_failed:using_tool_defaults")
	}

	if extraction.Intent == models.IntentScenario {
		decision.ScenarioSlots = &models.ScenarioSlots{
			Horizon: extraction.Slots["horizon"],
			Delta:   extraction.Slots["delta"],
		}
	}

	return decision
}

func needsClarify(e Extraction, cfg Config) bool {
	if e.Confidence < cfg.IntentConfidenceMin || e.Top2Gap < cfg.Top2GapMin {
		return true
	}
	if e.Intent == models.IntentScenario {
		if e.Confidence < cfg.ScenarioConfidenceMin {
			return true
		}
		if e.Slots["horizon"] == "" || e.Slots["delta"] == "" {
			return true
		}
	}
	return false
}

// ruleOnlyClassify is the degraded-path classifier used when the LLM
// extraction call fails. It never claims high confidence, forcing a
// downstream clarify unless the overrides below recognize a clear pattern.
func ruleOnlyClassify(prompt string) Extraction {
	return Extraction{
		Intent:     models.IntentUnspecified,
		Confidence: 0,
		Top2Gap:    0,
		Slots:      map[string]string{},
	}
}
