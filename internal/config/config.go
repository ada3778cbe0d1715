package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/meridianfin/advisor-agent/internal/audit"
	"github.com/meridianfin/advisor-agent/internal/ratelimit"
)

// Config is the main configuration structure for the advisory agent.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Router        RouterConfig        `yaml:"router"`
	Response      ResponseConfig      `yaml:"response"`
	Encoding      EncodingConfig      `yaml:"encoding"`
	Transport     TransportConfig     `yaml:"transport"`
	Identity      IdentityConfig      `yaml:"identity"`
	LLM           LLMConfig           `yaml:"llm"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         audit.Config        `yaml:"audit"`
	RateLimit     ratelimit.Config    `yaml:"rate_limit"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RouterConfig configures the intent router's confidence thresholds.
type RouterConfig struct {
	IntentConfidenceMin   float64 `yaml:"intent_conf_min"`
	Top2GapMin            float64 `yaml:"top2_gap_min"`
	ScenarioConfidenceMin float64 `yaml:"scenario_conf_min"`
	MaxClarifyQuestions   int     `yaml:"max_clarify_questions"`
}

// ResponseMode selects how the answer is produced.
type ResponseMode string

const (
	ResponseModeTemplate   ResponseMode = "template"
	ResponseModeLLMShadow  ResponseMode = "llm_shadow"
	ResponseModeLLMEnforce ResponseMode = "llm_enforce"
)

// ResponseConfig configures the answer-plan synthesizer and its retry policy.
type ResponseConfig struct {
	Mode          ResponseMode `yaml:"mode"`
	PromptVersion string       `yaml:"prompt_version"`
	SchemaVersion string       `yaml:"schema_version"`
	MaxRetries    int          `yaml:"max_retries"`
}

// EncodingConfig configures the mojibake/encoding gate.
type EncodingConfig struct {
	RepairScoreMin    float64 `yaml:"repair_score_min"`
	FailFastScoreMin  float64 `yaml:"failfast_score_min"`
	RepairMinDelta    float64 `yaml:"repair_min_delta"`
	NormalizationForm string  `yaml:"normalization_form"`
}

// TransportConfig configures outbound HTTP timeouts and connection pooling.
type TransportConfig struct {
	GatewayTimeoutSeconds int `yaml:"gateway_timeout_seconds"`
	BackendTimeoutSeconds int `yaml:"backend_timeout_seconds"`
	BedrockConnectTimeout int `yaml:"bedrock_connect_timeout"`
	BedrockReadTimeout    int `yaml:"bedrock_read_timeout"`
	ToolExecutionTimeout  int `yaml:"tool_execution_timeout"`
	HTTPPoolConnections   int `yaml:"http_pool_connections"`
	HTTPPoolMaxSize       int `yaml:"http_pool_maxsize"`
}

// IdentityConfig configures the default identity and tool-plane endpoint.
type IdentityConfig struct {
	DefaultUserToken string `yaml:"default_user_token"`
	GatewayEndpoint  string `yaml:"gateway_endpoint"`
}

// LLMConfig configures the single Anthropic-backed LLM provider used for
// both intent extraction and answer synthesis. The agent calls exactly one
// provider for two fixed logical endpoints, so there is no multi-provider
// routing section.
type LLMConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	IntentModel string `yaml:"intent_model"`
	SynthModel  string `yaml:"synth_model"`
}

// LoggingConfig configures structured application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// Load reads, resolves $include directives in, and decodes the configuration
// file at path, applying environment overrides and defaults before
// validating the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(cfg)
	applyRouterDefaults(cfg)
	applyResponseDefaults(cfg)
	applyEncodingDefaults(cfg)
	applyTransportDefaults(cfg)
	applyLLMDefaults(cfg)
	applyLoggingDefaults(cfg)
	applyObservabilityDefaults(cfg)
	applyAuditDefaults(cfg)
	applyRateLimitDefaults(cfg)
}

func applyServerDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
}

func applyRouterDefaults(cfg *Config) {
	if cfg.Router.IntentConfidenceMin == 0 {
		cfg.Router.IntentConfidenceMin = 0.70
	}
	if cfg.Router.Top2GapMin == 0 {
		cfg.Router.Top2GapMin = 0.15
	}
	if cfg.Router.ScenarioConfidenceMin == 0 {
		cfg.Router.ScenarioConfidenceMin = 0.75
	}
	if cfg.Router.MaxClarifyQuestions == 0 {
		cfg.Router.MaxClarifyQuestions = 2
	}
}

func applyResponseDefaults(cfg *Config) {
	if cfg.Response.Mode == "" {
		cfg.Response.Mode = ResponseModeLLMEnforce
	}
	if cfg.Response.PromptVersion == "" {
		cfg.Response.PromptVersion = "answer_synth_v2"
	}
	if cfg.Response.SchemaVersion == "" {
		cfg.Response.SchemaVersion = "answer_plan_v2"
	}
	if cfg.Response.MaxRetries == 0 {
		cfg.Response.MaxRetries = 1
	}
}

func applyEncodingDefaults(cfg *Config) {
	if cfg.Encoding.RepairScoreMin == 0 {
		cfg.Encoding.RepairScoreMin = 0.15
	}
	if cfg.Encoding.FailFastScoreMin == 0 {
		cfg.Encoding.FailFastScoreMin = 0.55
	}
	if cfg.Encoding.RepairMinDelta == 0 {
		cfg.Encoding.RepairMinDelta = 0.05
	}
	if cfg.Encoding.NormalizationForm == "" {
		cfg.Encoding.NormalizationForm = "NFC"
	}
}

func applyTransportDefaults(cfg *Config) {
	if cfg.Transport.GatewayTimeoutSeconds == 0 {
		cfg.Transport.GatewayTimeoutSeconds = 25
	}
	if cfg.Transport.BackendTimeoutSeconds == 0 {
		cfg.Transport.BackendTimeoutSeconds = 20
	}
	if cfg.Transport.BedrockConnectTimeout == 0 {
		cfg.Transport.BedrockConnectTimeout = 10
	}
	if cfg.Transport.BedrockReadTimeout == 0 {
		cfg.Transport.BedrockReadTimeout = 120
	}
	if cfg.Transport.ToolExecutionTimeout == 0 {
		cfg.Transport.ToolExecutionTimeout = 120
	}
	if cfg.Transport.HTTPPoolConnections == 0 {
		cfg.Transport.HTTPPoolConnections = 10
	}
	if cfg.Transport.HTTPPoolMaxSize == 0 {
		cfg.Transport.HTTPPoolMaxSize = 20
	}
}

func applyLLMDefaults(cfg *Config) {
	if cfg.LLM.IntentModel == "" {
		cfg.LLM.IntentModel = "claude-haiku-4-5"
	}
	if cfg.LLM.SynthModel == "" {
		cfg.LLM.SynthModel = "claude-sonnet-4-5"
	}
}

func applyLoggingDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *Config) {
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "advisor-agent"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

func applyAuditDefaults(cfg *Config) {
	if cfg.Audit.SampleRate == 0 {
		cfg.Audit.SampleRate = 1.0
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1000
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 5 * time.Second
	}
	if cfg.Audit.MaxFieldSize == 0 {
		cfg.Audit.MaxFieldSize = 1024
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = audit.FormatJSON
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = audit.LevelInfo
	}
}

func applyRateLimitDefaults(cfg *Config) {
	defaults := ratelimit.DefaultConfig()
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = defaults.BurstSize
	}
}

// applyEnvOverrides applies the documented environment variable surface on
// top of whatever the file set; environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROUTER_INTENT_CONF_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.IntentConfidenceMin = f
		}
	}
	if v := os.Getenv("ROUTER_TOP2_GAP_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.Top2GapMin = f
		}
	}
	if v := os.Getenv("ROUTER_SCENARIO_CONF_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.ScenarioConfidenceMin = f
		}
	}
	if v := os.Getenv("ROUTER_MAX_CLARIFY_QUESTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.MaxClarifyQuestions = n
		}
	}
	if v := os.Getenv("RESPONSE_MODE"); v != "" {
		cfg.Response.Mode = ResponseMode(v)
	}
	if v := os.Getenv("RESPONSE_PROMPT_VERSION"); v != "" {
		cfg.Response.PromptVersion = v
	}
	if v := os.Getenv("RESPONSE_SCHEMA_VERSION"); v != "" {
		cfg.Response.SchemaVersion = v
	}
	if v := os.Getenv("RESPONSE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Response.MaxRetries = n
		}
	}
	if v := os.Getenv("ENCODING_REPAIR_SCORE_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Encoding.RepairScoreMin = f
		}
	}
	if v := os.Getenv("ENCODING_FAILFAST_SCORE_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Encoding.FailFastScoreMin = f
		}
	}
	if v := os.Getenv("ENCODING_REPAIR_MIN_DELTA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Encoding.RepairMinDelta = f
		}
	}
	if v := os.Getenv("ENCODING_NORMALIZATION_FORM"); v != "" {
		cfg.Encoding.NormalizationForm = v
	}
	if v := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.GatewayTimeoutSeconds = n
		}
	}
	if v := os.Getenv("BACKEND_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.BackendTimeoutSeconds = n
		}
	}
	if v := os.Getenv("BEDROCK_CONNECT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.BedrockConnectTimeout = n
		}
	}
	if v := os.Getenv("BEDROCK_READ_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.BedrockReadTimeout = n
		}
	}
	if v := os.Getenv("TOOL_EXECUTION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.ToolExecutionTimeout = n
		}
	}
	if v := os.Getenv("HTTP_POOL_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.HTTPPoolConnections = n
		}
	}
	if v := os.Getenv("HTTP_POOL_MAXSIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.HTTPPoolMaxSize = n
		}
	}
	if v := os.Getenv("DEFAULT_USER_TOKEN"); v != "" {
		cfg.Identity.DefaultUserToken = v
	}
	if v := os.Getenv("GATEWAY_ENDPOINT"); v != "" {
		cfg.Identity.GatewayEndpoint = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
}

// ConfigValidationError describes a single configuration field that failed
// validation.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	if !validResponseMode(cfg.Response.Mode) {
		return &ConfigValidationError{Field: "response.mode", Reason: fmt.Sprintf("invalid mode %q", cfg.Response.Mode)}
	}
	if cfg.LLM.APIKey == "" {
		return &ConfigValidationError{Field: "llm.api_key", Reason: "must be set via config or ANTHROPIC_API_KEY"}
	}
	if cfg.Identity.GatewayEndpoint == "" {
		return &ConfigValidationError{Field: "identity.gateway_endpoint", Reason: "must be set"}
	}
	if cfg.Router.IntentConfidenceMin < 0 || cfg.Router.IntentConfidenceMin > 1 {
		return &ConfigValidationError{Field: "router.intent_conf_min", Reason: "must be in [0,1]"}
	}
	return nil
}

func validResponseMode(m ResponseMode) bool {
	switch m {
	case ResponseModeTemplate, ResponseModeLLMShadow, ResponseModeLLMEnforce:
		return true
	default:
		return false
	}
}
