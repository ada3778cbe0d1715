// Package models defines the core entities threaded through the advisory
// agent's orchestration graph: the inbound request, the route decision,
// tool calls and results, facts, insights, action candidates, the answer
// plan, and the final response envelope.
package models

// Request is the inbound user turn. It is immutable after ingestion.
type Request struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"user_id"`
	Locale    string `json:"locale,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

// EffectiveLocale returns Locale, defaulting to en-US when unset.
func (r Request) EffectiveLocale() string {
	if r.Locale == "" {
		return "en-US"
	}
	return r.Locale
}
