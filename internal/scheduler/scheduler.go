// Package scheduler implements the decision engine's bounded-parallel
// tool-execution fan-out: sibling tool calls run concurrently, each with its
// own timeout ceiling, argument sanitization, and schema validation. Retries
// belong to the transport layer beneath Invoker, not here — the scheduler
// issues each call once per sibling slot so it never races its own retry
// loop against the per-tool timeout.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

// MaxBundleConcurrency is the hard ceiling on sibling tool calls in flight
// for a single request (bundles top out around 9 siblings).
const MaxBundleConcurrency = 9

// DefaultPerToolTimeout is the per-tool timeout ceiling (documented default
// TOOL_EXECUTION_TIMEOUT).
const DefaultPerToolTimeout = 120 * time.Second

// Validator checks tool arguments against the registry's cached schema.
type Validator interface {
	Validate(baseName string, args json.RawMessage) error
	Resolve(baseName string) (string, bool)
}

// Invoker issues one tool call to the tool plane and returns its result.
// Implementations own retry policy for transient failures; Invoker.Invoke
// is expected to return at most once per call, either a result or a tagged
// *errs.ToolInvocationError.
type Invoker interface {
	Invoke(ctx context.Context, call models.ToolCall) (json.RawMessage, error)
}

// Config configures the decision engine.
type Config struct {
	PerToolTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{PerToolTimeout: DefaultPerToolTimeout}
}

// Scheduler executes a tool bundle with bounded parallelism.
type Scheduler struct {
	validator Validator
	invoker   Invoker
	config    Config
}

// New builds a Scheduler.
func New(validator Validator, invoker Invoker, config Config) *Scheduler {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = DefaultPerToolTimeout
	}
	return &Scheduler{validator: validator, invoker: invoker, config: config}
}

// Execute runs every tool in bundle concurrently, each sanitized and
// schema-validated before dispatch, and returns results in bundle order
// (the evidence pack's ordering guarantee). A tool that fails to validate,
// times out, or errors yields a graceful placeholder ToolResult; it never
// aborts its siblings.
//
// The returned slice is always len(bundle) long and in the same order as
// bundle, regardless of completion order, so downstream stages can zip
// bundle[i] with results[i].
func (s *Scheduler) Execute(ctx context.Context, traceID string, bundle []string, args map[string]json.RawMessage) []models.ToolResult {
	results := make([]models.ToolResult, len(bundle))

	concurrency := len(bundle)
	if concurrency > MaxBundleConcurrency {
		concurrency = MaxBundleConcurrency
	}
	if concurrency <= 0 {
		return results
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, baseName := range bundle {
		i, baseName := i, baseName
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = canceledResult(baseName)
				return
			}
			results[i] = s.executeOne(ctx, traceID, baseName, args[baseName])
		}()
	}

	wg.Wait()
	return results
}

func (s *Scheduler) executeOne(ctx context.Context, traceID, baseName string, rawArgs json.RawMessage) models.ToolResult {
	start := time.Now()
	callID := uuid.New().String()

	sanitized, err := Sanitize(rawArgs)
	if err != nil {
		return models.ToolResult{
			CallID: callID, BaseName: baseName, Status: models.ToolStatusValidationError,
			StartedAt: start, ElapsedMS: time.Since(start).Milliseconds(),
			Err: err.Error(),
		}
	}

	if s.validator != nil {
		if err := s.validator.Validate(baseName, sanitized); err != nil {
			return models.ToolResult{
				CallID: callID, BaseName: baseName, Status: models.ToolStatusValidationError,
				StartedAt: start, ElapsedMS: time.Since(start).Milliseconds(),
				Err: err.Error(),
			}
		}
	}

	resolved := baseName
	if s.validator != nil {
		if r, ok := s.validator.Resolve(baseName); ok {
			resolved = r
		}
	}

	toolCtx, cancel := context.WithTimeout(ctx, s.config.PerToolTimeout)
	defer cancel()

	call := models.ToolCall{
		BaseName:     baseName,
		ResolvedName: resolved,
		Arguments:    sanitized,
		CallID:       callID,
		TraceID:      traceID,
		TimeoutMS:    int(s.config.PerToolTimeout.Milliseconds()),
	}

	payload, err := s.invoker.Invoke(toolCtx, call)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return models.ToolResult{
			CallID: callID, BaseName: baseName, Status: statusFromErr(err),
			StartedAt: start, ElapsedMS: elapsed, Err: err.Error(),
		}
	}
	return models.ToolResult{
		CallID: callID, BaseName: baseName, Status: models.ToolStatusOK,
		PayloadJSON: payload, StartedAt: start, ElapsedMS: elapsed,
	}
}

func statusFromErr(err error) models.ToolStatus {
	kind := errs.ClassifyToolInvocationError(err)
	switch kind {
	case errs.ToolErrTimeout:
		return models.ToolStatusTimeout
	case errs.ToolErrServer5xx, errs.ToolErrNetwork:
		return models.ToolStatusServerError
	case errs.ToolErrSchemaValidation:
		return models.ToolStatusValidationError
	default:
		return models.ToolStatusClientError
	}
}

func canceledResult(baseName string) models.ToolResult {
	return models.ToolResult{
		BaseName:  baseName,
		Status:    models.ToolStatusClientError,
		StartedAt: time.Now(),
		Err:       (&errs.ClientCanceledError{}).Error(),
	}
}
