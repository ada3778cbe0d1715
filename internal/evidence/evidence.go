// Package evidence builds the evidence pack — the sole source of numeric
// truth handed to the answer-plan synthesizer — by projecting each tool's
// JSON payload through a static per-tool path map into typed, content
// addressed Facts, then derives the deterministic insights and action
// candidates layered on top of those facts.
package evidence

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// fieldProjection describes one scalar a tool payload exposes: where to find
// it (a flat key path into the decoded payload map) and what metric/unit
// name to stamp on the resulting fact.
type fieldProjection struct {
	Path   []string
	Metric string
	Unit   string
	// Timeframed marks facts whose id embeds the tool's effective lookback
	// window (e.g. "anomaly.latest_change_point.45d"); others are
	// point-in-time and never carry a timeframe suffix.
	Timeframed bool
}

// toolProjection names a tool's fact-id prefix and the scalars worth
// promoting to facts.
type toolProjection struct {
	// IDPrefix is the abbreviated vocabulary fact ids are built from
	// (spend.total.24d, forecast.runway.months, anomaly.latest_change_point.45d),
	// decoupled from the longer remote tool names.
	IDPrefix string
	Fields   []fieldProjection
}

// toolProjections is the static path map: one row per tool this system
// calls. Extending a tool's evidence surface means adding a row here, not a
// branch in code.
var toolProjections = map[string]toolProjection{
	"spend_analytics": {IDPrefix: "spend", Fields: []fieldProjection{
		{Path: []string{"net_cashflow"}, Metric: "net_cashflow", Unit: "currency", Timeframed: true},
		{Path: []string{"total_spend"}, Metric: "total", Unit: "currency", Timeframed: true},
		{Path: []string{"total_income"}, Metric: "total_income", Unit: "currency", Timeframed: true},
		{Path: []string{"top_category", "name"}, Metric: "top_category.name", Timeframed: true},
		{Path: []string{"top_category", "amount"}, Metric: "top_category.amount", Unit: "currency", Timeframed: true},
	}},
	"cashflow_forecast": {IDPrefix: "forecast", Fields: []fieldProjection{
		{Path: []string{"runway_months"}, Metric: "runway.months", Unit: "months"},
		{Path: []string{"projected_balance"}, Metric: "projected_balance", Unit: "currency", Timeframed: true},
	}},
	"jar_allocation_suggest": {IDPrefix: "jar", Fields: []fieldProjection{
		{Path: []string{"necessities_pct"}, Metric: "necessities_pct", Unit: "pct"},
		{Path: []string{"savings_pct"}, Metric: "savings_pct", Unit: "pct"},
		{Path: []string{"play_pct"}, Metric: "play_pct", Unit: "pct"},
	}},
	"anomaly_signals": {IDPrefix: "anomaly", Fields: []fieldProjection{
		{Path: []string{"latest_change_point_days_ago"}, Metric: "latest_change_point", Unit: "days", Timeframed: true},
		{Path: []string{"anomaly_count"}, Metric: "count", Timeframed: true},
		{Path: []string{"max_severity"}, Metric: "max_severity", Timeframed: true},
	}},
	"risk_profile_non_investment": {IDPrefix: "risk_profile", Fields: []fieldProjection{
		{Path: []string{"risk_score"}, Metric: "score"},
		{Path: []string{"risk_band"}, Metric: "band"},
	}},
	"recurring_cashflow_detect": {IDPrefix: "recurring", Fields: []fieldProjection{
		{Path: []string{"top_category", "id"}, Metric: "top_category.id", Timeframed: true},
		{Path: []string{"top_category", "monthly_amount"}, Metric: "top_category.monthly_amount", Unit: "currency", Timeframed: true},
	}},
	"goal_feasibility": {IDPrefix: "goal", Fields: []fieldProjection{
		{Path: []string{"feasible"}, Metric: "feasible"},
		{Path: []string{"gap_amount"}, Metric: "gap_amount", Unit: "currency"},
		{Path: []string{"required_monthly_saving"}, Metric: "required_monthly_saving", Unit: "currency"},
		{Path: []string{"goal_amount"}, Metric: "amount", Unit: "currency"},
	}},
	"what_if_scenario": {IDPrefix: "scenario", Fields: []fieldProjection{
		{Path: []string{"projected_delta"}, Metric: "projected_delta", Unit: "currency"},
		{Path: []string{"projected_balance_horizon"}, Metric: "projected_balance_horizon", Unit: "currency"},
	}},
}

// toolEnvelope is the common wrapper every tool reply carries: a
// trace/version/freshness header around the tool-specific payload.
type toolEnvelope struct {
	TraceID        string          `json:"trace_id"`
	Version        string          `json:"version"`
	ParamsHash     string          `json:"params_hash"`
	SQLSnapshotTS  string          `json:"sql_snapshot_ts"`
	Audit          json.RawMessage `json:"audit,omitempty"`
}

// Build traverses every result in results (in bundle order) and projects it
// into an EvidencePack. Results that failed (Unavailable) contribute no
// facts; they leave the tool_error trace for the caller to surface as a
// data-gap insight.
func Build(results []models.ToolResult, timeframes map[string]int) models.EvidencePack {
	pack := models.EvidencePack{Facts: make(map[string]models.Fact)}

	for _, result := range results {
		if result.Unavailable() || len(result.PayloadJSON) == 0 {
			continue
		}
		var env toolEnvelope
		_ = json.Unmarshal(result.PayloadJSON, &env) // best-effort; missing envelope fields degrade gracefully

		var doc map[string]any
		if err := json.Unmarshal(result.PayloadJSON, &doc); err != nil {
			continue
		}

		timeframeDays, hasTimeframe := timeframes[result.BaseName]
		projection := toolProjections[result.BaseName]
		for _, field := range projection.Fields {
			value, ok := lookup(doc, field.Path)
			if !ok || value == nil {
				continue
			}
			id := factID(projection.IDPrefix, field, timeframeDays, hasTimeframe)
			pack.Facts[id] = models.Fact{
				ID:         id,
				Value:      value,
				Unit:       field.Unit,
				Timeframe:  timeframeLabel(field, timeframeDays, hasTimeframe),
				SourceTool: result.BaseName,
				SourcePath: joinPath(field.Path),
			}
		}

		if env.SQLSnapshotTS != "" {
			if pack.OldestSnapshot == "" || env.SQLSnapshotTS < pack.OldestSnapshot {
				pack.OldestSnapshot = env.SQLSnapshotTS
			}
			if pack.FreshestSnapshot == "" || env.SQLSnapshotTS > pack.FreshestSnapshot {
				pack.FreshestSnapshot = env.SQLSnapshotTS
			}
		}
	}

	return pack
}

func factID(prefix string, field fieldProjection, timeframeDays int, hasTimeframe bool) string {
	if field.Timeframed && hasTimeframe {
		return fmt.Sprintf("%s.%s.%dd", prefix, field.Metric, timeframeDays)
	}
	return fmt.Sprintf("%s.%s", prefix, field.Metric)
}

func timeframeLabel(field fieldProjection, timeframeDays int, hasTimeframe bool) string {
	if field.Timeframed && hasTimeframe {
		return fmt.Sprintf("%dd", timeframeDays)
	}
	return ""
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

// sortedFactIDs returns a pack's fact ids in stable order, for deterministic
// insight/action generation and test fixtures.
func sortedFactIDs(pack models.EvidencePack) []string {
	ids := make([]string, 0, len(pack.Facts))
	for id := range pack.Facts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
