// Package llm implements the two structured-JSON LLM endpoints the graph
// depends on: intent extraction (intent_extraction_v1) and answer synthesis
// (answer_synth_v2). Both are treated as black-box calls with a defined
// request/response contract — {prompt_version, schema_version, system, user,
// constraints} in, strict JSON out — backed by a single Anthropic Messages
// client that forces schema-conformant replies via tool-call mode rather
// than free-form text completion.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/internal/retry"
)

// Config configures the Anthropic-backed LLM client.
type Config struct {
	APIKey         string
	BaseURL        string // optional override, empty uses the SDK default
	IntentModel    string
	SynthModel     string
	ConnectTimeout time.Duration // BEDROCK_CONNECT_TIMEOUT
	ReadTimeout    time.Duration // BEDROCK_READ_TIMEOUT
	MaxAttempts    int
}

// DefaultConfig returns the documented transport defaults; model identifiers are
// left blank and must be set from config.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    120 * time.Second,
		MaxAttempts:    3,
	}
}

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// uses, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client issues non-streaming, tool-forced Messages calls against Anthropic
// Claude and classifies failures into the same tagged error kinds the tool
// plane uses, so the graph driver never special-cases LLM errors.
type Client struct {
	msg         MessagesClient
	config      Config
	maxAttempts int
}

// New builds a Client from msg, a MessagesClient (real or fake).
func New(msg MessagesClient, config Config) (*Client, error) {
	if msg == nil {
		return nil, errors.New("llm: messages client is required")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Client{msg: msg, config: config, maxAttempts: config.MaxAttempts}, nil
}

// NewFromConfig constructs a Client from an API key using the SDK's own HTTP
// transport, tuned to the configured connect/read timeouts.
func NewFromConfig(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	httpClient := &http.Client{
		Timeout: config.ConnectTimeout + config.ReadTimeout,
	}
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retries are handled uniformly by internal/retry below
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	ac := sdk.NewClient(opts...)
	return New(&ac.Messages, config)
}

// callRequest is one structured-JSON LLM call: a system prompt, a user
// prompt, and a JSON schema the reply must conform to, forced via a single
// named tool with ToolChoice pinned to that tool.
type callRequest struct {
	Model      string
	ToolName   string
	System     string
	User       string
	Schema     json.RawMessage
	MaxTokens  int64
	CallID     string
	TraceID    string
}

// call issues req and returns the forced tool's input payload as raw JSON.
// Failures are tagged as *errs.ToolInvocationError so callers (router,
// synth) can treat an LLM outage exactly like a failed tool call.
func (c *Client) call(ctx context.Context, req callRequest) (json.RawMessage, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 4096
	}

	schema, err := toolInputSchema(req.Schema)
	if err != nil {
		return nil, &errs.ToolInvocationError{
			Kind: errs.ToolErrSchemaValidation, ToolName: req.ToolName, ToolCallID: req.CallID, Cause: err,
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: req.System}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
		Tools: []sdk.ToolUnionParam{
			sdk.ToolUnionParamOfTool(schema, req.ToolName),
		},
		ToolChoice: sdk.ToolChoiceParamOfTool(req.ToolName),
	}

	rc := retry.Config{
		MaxAttempts:  c.maxAttempts,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Factor:       2.0,
	}

	attempt := 0
	msg, rr := retry.DoWithValue(ctx, rc, func() (*sdk.Message, error) {
		attempt++
		m, err := c.msg.New(ctx, params)
		if err == nil {
			return m, nil
		}
		kind := classify(err)
		tagged := &errs.ToolInvocationError{Kind: kind, ToolName: req.ToolName, ToolCallID: req.CallID, Cause: err, Attempts: attempt}
		if !kind.Retryable() {
			return nil, retry.Permanent(tagged)
		}
		return nil, tagged
	})
	if rr.Err != nil {
		return nil, unwrapTagged(rr.Err, req.ToolName, req.CallID, rr.Attempts)
	}

	return extractToolInput(msg, req.ToolName)
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, errors.New("llm: schema is required")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, fmt.Errorf("llm: decode schema: %w", err)
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func extractToolInput(msg *sdk.Message, toolName string) (json.RawMessage, error) {
	if msg == nil {
		return nil, errors.New("llm: empty response")
	}
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		if block.Name != toolName {
			continue
		}
		return json.RawMessage(block.Input), nil
	}
	return nil, fmt.Errorf("llm: response did not include a %q tool call", toolName)
}

func unwrapTagged(err error, toolName, callID string, attempts int) error {
	var permanent *retry.PermanentError
	if errors.As(err, &permanent) {
		if tagged, ok := permanent.Err.(*errs.ToolInvocationError); ok {
			tagged.Attempts = attempts
			return tagged
		}
	}
	var tagged *errs.ToolInvocationError
	if errors.As(err, &tagged) {
		tagged.Attempts = attempts
		return tagged
	}
	return &errs.ToolInvocationError{Kind: errs.ToolErrNetwork, ToolName: toolName, ToolCallID: callID, Cause: err, Attempts: attempts}
}
