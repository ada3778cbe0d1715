package toolplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xtransport "github.com/meridianfin/advisor-agent/internal/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := xtransport.DefaultPoolConfig("tool_plane", srv.URL)
	cfg.MaxAttempts = 1
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	pool := xtransport.NewPool(cfg)
	return NewClient(pool, "advisor-agent", "test", nil), srv
}

func TestInitializeParsesServerInfo(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		result, _ := json.Marshal(InitializeResult{ProtocolVersion: protocolVersion, ServerInfo: ServerInfo{Name: "tools-gw", Version: "1.0"}})
		resp.Result = result
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	res, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.ServerInfo.Name != "tools-gw" {
		t.Fatalf("expected server name tools-gw, got %s", res.ServerInfo.Name)
	}
}

func TestListToolsAdaptsToRegistryShape(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		result, _ := json.Marshal(ListToolsResult{Tools: []Tool{
			{Name: "spend_analytics", InputSchema: json.RawMessage(`{"type":"object"}`)},
		}})
		resp.Result = result
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "spend_analytics" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestCallToolUnwrapsTextEnvelope(t *testing.T) {
	inner := `{"trace_id":"t1","version":"v1","net_cashflow":123.4}`
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		result, _ := json.Marshal(CallToolResult{Content: []ToolResultContent{{Type: "text", Text: inner}}})
		resp.Result = result
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	payload, err := client.CallTool(context.Background(), "trace-1", "call-1", "spend_analytics", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if string(payload) != inner {
		t.Fatalf("expected unwrapped payload %s, got %s", inner, payload)
	}
}

func TestCallToolSurfacesJSONRPCError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "unknown tool"}}
		json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	_, err := client.CallTool(context.Background(), "trace-1", "call-1", "unknown_tool", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
}
