package models

import (
	"encoding/json"
	"time"
)

// ToolStatus is the outcome of a single tool invocation.
type ToolStatus string

const (
	ToolStatusOK              ToolStatus = "ok"
	ToolStatusTimeout         ToolStatus = "timeout"
	ToolStatusClientError     ToolStatus = "client_error"
	ToolStatusServerError     ToolStatus = "server_error"
	ToolStatusValidationError ToolStatus = "validation_error"
)

// ToolCall is a one-shot request to the tool plane. It is discarded after
// completion; nothing downstream holds a reference to it.
type ToolCall struct {
	BaseName     string          `json:"base_name"`
	ResolvedName string          `json:"resolved_name"`
	Arguments    json.RawMessage `json:"arguments"`
	CallID       string          `json:"call_id"`
	TraceID      string          `json:"trace_id"`
	TimeoutMS    int             `json:"timeout_ms"`
}

// ToolResult is what a tool call produced, or the graceful failure placeholder
// that replaces it when the call could not complete.
type ToolResult struct {
	CallID      string          `json:"call_id"`
	BaseName    string          `json:"base_name"`
	Status      ToolStatus      `json:"status"`
	PayloadJSON json.RawMessage `json:"payload_json,omitempty"`
	EnginesMeta json.RawMessage `json:"engines_meta,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	StartedAt   time.Time       `json:"started_at"`
	SQLSnapshot time.Time       `json:"sql_snapshot_ts,omitempty"`
	Err         string          `json:"error,omitempty"`
}

// Unavailable reports whether the tool produced no usable facts.
func (r ToolResult) Unavailable() bool {
	return r.Status != ToolStatusOK
}
