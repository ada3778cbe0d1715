package toolplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/internal/registry"
	xtransport "github.com/meridianfin/advisor-agent/internal/transport"
)

const protocolVersion = "2024-11-05"

// ClientConfig configures a Client's connection to the tool plane.
type ClientConfig struct {
	Endpoint string
	Timeout  xtransport.PoolConfig
	Name     string
	Version  string
}

// Client is a JSON-RPC 2.0-over-HTTPS client for the tool plane, speaking
// exactly the methods the orchestration graph needs: initialize, tools/list,
// tools/call.
type Client struct {
	pool     *xtransport.Pool
	logger   *slog.Logger
	name     string
	version  string
	server   ServerInfo
}

// NewClient builds a Client bound to a connection pool for the configured
// tool plane endpoint.
func NewClient(pool *xtransport.Pool, name, version string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pool: pool, logger: logger.With("component", "toolplane_client"), name: name, version: version}
}

// Initialize performs the MCP-style handshake: sends initialize, records the
// server's declared info.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		ClientInfo:      ClientInfo{Name: c.name, Version: c.version},
	}
	raw, err := c.call(ctx, "initialize", params, "")
	if err != nil {
		return nil, err
	}
	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}
	c.server = res.ServerInfo
	c.logger.Info("tool plane initialized", "server", res.ServerInfo.Name, "version", res.ServerInfo.Version)
	return &res, nil
}

// ListTools calls tools/list and adapts the reply to registry.RemoteTool.
func (c *Client) ListTools(ctx context.Context) ([]registry.RemoteTool, error) {
	raw, err := c.call(ctx, "tools/list", nil, "")
	if err != nil {
		return nil, err
	}
	var res ListToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	out := make([]registry.RemoteTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, registry.RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}

// CallTool issues tools/call and returns the inner JSON payload unwrapped
// from the tool plane's {content:[{type:"text",text:"<json>"}]} envelope.
func (c *Client) CallTool(ctx context.Context, traceID, callID, name string, arguments json.RawMessage) (json.RawMessage, error) {
	params := CallToolParams{Name: name, Arguments: arguments}
	raw, err := c.call(ctx, "tools/call", params, traceID)
	if err != nil {
		return nil, err
	}
	var res CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %q returned an error result", name)
	}
	for _, content := range res.Content {
		if content.Type == "text" {
			return json.RawMessage(content.Text), nil
		}
	}
	return nil, fmt.Errorf("tool %q returned no text content", name)
}

func (c *Client) call(ctx context.Context, method string, params any, traceID string) (json.RawMessage, error) {
	callID := uuid.New().String()
	rpcReq := JSONRPCRequest{JSONRPC: "2.0", ID: callID, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		rpcReq.Params = b
	}

	result, err := c.pool.Do(ctx, xtransport.Request{
		Path:    "",
		Body:    rpcReq,
		CallID:  callID,
		TraceID: traceID,
	})
	if err != nil {
		return nil, err
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(result.Body, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode JSON-RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("tool plane error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
