// Package errs defines the orchestration graph's error taxonomy: one type
// per recoverable failure kind, each carrying enough context for the graph
// driver to choose the right terminal response without inspecting strings.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// EncodingFailFastError means the prompt is unrecoverably garbled; the
// router is skipped entirely and a canned retry prompt is returned.
type EncodingFailFastError struct {
	Score float64
}

func (e *EncodingFailFastError) Error() string {
	return fmt.Sprintf("encoding: fail-fast (score=%.3f)", e.Score)
}

// RouterExtractionError means the LLM extraction call failed; the planner
// policy degrades to rule-only classification.
type RouterExtractionError struct {
	Cause error
}

func (e *RouterExtractionError) Error() string {
	return fmt.Sprintf("router: extraction failed: %v", e.Cause)
}

func (e *RouterExtractionError) Unwrap() error { return e.Cause }

// SuitabilityDeniedError is terminal for the request: a refusal body is
// emitted and the decision engine is never reached.
type SuitabilityDeniedError struct {
	Reason string
}

func (e *SuitabilityDeniedError) Error() string {
	return fmt.Sprintf("suitability: denied (%s)", e.Reason)
}

// ToolInvocationErrorKind subdivides ToolInvocationError by cause.
type ToolInvocationErrorKind string

const (
	ToolErrTimeout          ToolInvocationErrorKind = "timeout"
	ToolErrNetwork          ToolInvocationErrorKind = "network"
	ToolErrAuth             ToolInvocationErrorKind = "auth"
	ToolErrClient4xx        ToolInvocationErrorKind = "client_4xx"
	ToolErrServer5xx        ToolInvocationErrorKind = "server_5xx"
	ToolErrSchemaValidation ToolInvocationErrorKind = "schema_validation"
)

// Retryable reports whether the transport layer should retry a call that
// failed with this kind. Only network-class failures and 5xx responses are
// retryable; 4xx, auth, and schema-validation failures are not.
func (k ToolInvocationErrorKind) Retryable() bool {
	switch k {
	case ToolErrTimeout, ToolErrNetwork, ToolErrServer5xx:
		return true
	default:
		return false
	}
}

// ToolInvocationError is recovered locally by the scheduler: the failing
// tool is recorded as unavailable and the graph continues.
type ToolInvocationError struct {
	Kind       ToolInvocationErrorKind
	ToolName   string
	ToolCallID string
	Cause      error
	Attempts   int
}

func (e *ToolInvocationError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// Retryable reports whether the transport should attempt this call again.
func (e *ToolInvocationError) Retryable() bool { return e.Kind.Retryable() }

// ClassifyToolInvocationError infers a ToolInvocationErrorKind from a raw
// transport error when the caller has not already tagged one.
func ClassifyToolInvocationError(err error) ToolInvocationErrorKind {
	if err == nil {
		return ToolErrClient4xx
	}
	var tagged *ToolInvocationError
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return ToolErrTimeout
	case strings.Contains(s, "connection") || strings.Contains(s, "network") ||
		strings.Contains(s, "refused") || strings.Contains(s, "unreachable") || strings.Contains(s, "dns"):
		return ToolErrNetwork
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "forbidden"):
		return ToolErrAuth
	case strings.Contains(s, "schema") || strings.Contains(s, "validation"):
		return ToolErrSchemaValidation
	case strings.Contains(s, "5"):
		return ToolErrServer5xx
	default:
		return ToolErrClient4xx
	}
}

// SynthesisValidationError means the synthesizer's JSON reply failed the
// answer-plan validator. Retried once by the caller; on a second failure the
// caller must fall back to facts_only_compact.
type SynthesisValidationError struct {
	Violations []string
	Attempt    int
}

func (e *SynthesisValidationError) Error() string {
	return fmt.Sprintf("synthesis: validation failed (attempt=%d): %s", e.Attempt, strings.Join(e.Violations, "; "))
}

// DeadlineExceededError is request-wide: the per-request budget elapsed.
type DeadlineExceededError struct {
	BudgetMS int64
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("request deadline exceeded (budget=%dms)", e.BudgetMS)
}

// ClientCanceledError records a cooperative cancellation triggered by the
// caller disconnecting. Never surfaced to a client; audit only.
type ClientCanceledError struct{}

func (e *ClientCanceledError) Error() string { return "client canceled" }

// InternalInvariantViolationError is raised only when a rendered fact
// placeholder cannot be bound to evidence. The renderer substitutes a
// sentinel and flags the response as fallback; this is logged at error
// severity since it should never happen if upstream stages held their
// invariants.
type InternalInvariantViolationError struct {
	Detail string
}

func (e *InternalInvariantViolationError) Error() string {
	return fmt.Sprintf("internal invariant violation: %s", e.Detail)
}

// IsRetryableToolError reports whether err, if a ToolInvocationError,
// permits another transport attempt.
func IsRetryableToolError(err error) bool {
	var tagged *ToolInvocationError
	if errors.As(err, &tagged) {
		return tagged.Retryable()
	}
	return false
}
