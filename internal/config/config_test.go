package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfigYAML() string {
	return `
server:
  host: 0.0.0.0
  port: 8080
identity:
  default_user_token: tok-1
  gateway_endpoint: https://gateway.internal
llm:
  api_key: sk-test
`
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
identity:
  gateway_endpoint: https://gateway.internal
llm:
  api_key: sk-test
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesResponseMode(t *testing.T) {
	path := writeConfig(t, validConfigYAML()+`
response:
  mode: not_a_real_mode
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "response.mode") {
		t.Fatalf("expected response.mode error, got %v", err)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
identity:
  gateway_endpoint: https://gateway.internal
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected llm.api_key error, got %v", err)
	}
}

func TestLoadRequiresGatewayEndpoint(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
llm:
  api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "identity.gateway_endpoint") {
		t.Fatalf("expected identity.gateway_endpoint error, got %v", err)
	}
}

func TestLoadValidConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Fatalf("expected default metrics port 9090, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Router.IntentConfidenceMin != 0.70 {
		t.Fatalf("expected default intent confidence 0.70, got %v", cfg.Router.IntentConfidenceMin)
	}
	if cfg.Response.Mode != ResponseModeLLMEnforce {
		t.Fatalf("expected default response mode llm_enforce, got %v", cfg.Response.Mode)
	}
	if cfg.Transport.ToolExecutionTimeout != 120 {
		t.Fatalf("expected default tool execution timeout 120, got %d", cfg.Transport.ToolExecutionTimeout)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("ROUTER_INTENT_CONF_MIN", "0.9")
	t.Setenv("GATEWAY_ENDPOINT", "https://override.internal")
	t.Setenv("ANTHROPIC_API_KEY", "sk-override")

	path := writeConfig(t, validConfigYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Router.IntentConfidenceMin != 0.9 {
		t.Fatalf("expected router override, got %v", cfg.Router.IntentConfidenceMin)
	}
	if cfg.Identity.GatewayEndpoint != "https://override.internal" {
		t.Fatalf("expected gateway endpoint override, got %q", cfg.Identity.GatewayEndpoint)
	}
	if cfg.LLM.APIKey != "sk-override" {
		t.Fatalf("expected api key override, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	if err := os.WriteFile(basePath, []byte("llm:\n  api_key: sk-test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nidentity:\n  gateway_endpoint: https://gateway.internal\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected included api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Identity.GatewayEndpoint != "https://gateway.internal" {
		t.Fatalf("expected gateway endpoint from main file, got %q", cfg.Identity.GatewayEndpoint)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
