package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianfin/advisor-agent/internal/audit"
	"github.com/meridianfin/advisor-agent/internal/config"
	"github.com/meridianfin/advisor-agent/internal/encoding"
	"github.com/meridianfin/advisor-agent/internal/graph"
	"github.com/meridianfin/advisor-agent/internal/llm"
	"github.com/meridianfin/advisor-agent/internal/observability"
	"github.com/meridianfin/advisor-agent/internal/ratelimit"
	"github.com/meridianfin/advisor-agent/internal/registry"
	"github.com/meridianfin/advisor-agent/internal/router"
	"github.com/meridianfin/advisor-agent/internal/schema"
	"github.com/meridianfin/advisor-agent/internal/server"
	"github.com/meridianfin/advisor-agent/internal/toolplane"
	"github.com/meridianfin/advisor-agent/internal/transport"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
	})
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: observability.LogLevelFromString(logLevel),
	}))

	tracingEndpoint := ""
	if cfg.Observability.Tracing.Enabled {
		tracingEndpoint = cfg.Observability.Tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       tracingEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	metrics := observability.NewMetrics()

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logger.Warn(ctx, "audit logger close failed", "error", err)
		}
	}()

	gatewayPool := transport.NewPool(transport.PoolConfig{
		Name:                "toolplane",
		BaseURL:             cfg.Identity.GatewayEndpoint,
		MaxConnsPerHost:     cfg.Transport.HTTPPoolMaxSize,
		MaxIdleConnsPerHost: cfg.Transport.HTTPPoolConnections,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         time.Duration(cfg.Transport.GatewayTimeoutSeconds) * time.Second,
		MaxAttempts:         3,
		InitialBackoff:      1 * time.Second,
		MaxBackoff:          4 * time.Second,
		AuthToken:           cfg.Identity.DefaultUserToken,
	})

	planeClient := toolplane.NewClient(gatewayPool, "advisor-agent", version, slogLogger)
	reg := registry.New(planeClient, slogLogger)

	// Startup is best-effort: a tool plane that is down at boot must not
	// prevent the process from serving; the registry falls back to lazy
	// per-call discovery.
	if _, err := planeClient.Initialize(ctx); err != nil {
		logger.Warn(ctx, "tool plane initialize failed, continuing with lazy discovery", "error", err)
	} else if n, err := reg.Initialize(ctx); err != nil {
		logger.Warn(ctx, "tool registry discovery failed, continuing with lazy discovery", "error", err)
	} else {
		logger.Info(ctx, "tool registry initialized", "tools", n)
	}

	llmClient, err := llm.NewFromConfig(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		IntentModel:    cfg.LLM.IntentModel,
		SynthModel:     cfg.LLM.SynthModel,
		ConnectTimeout: time.Duration(cfg.Transport.BedrockConnectTimeout) * time.Second,
		ReadTimeout:    time.Duration(cfg.Transport.BedrockReadTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	extractor := llm.NewIntentExtractor(llmClient, cfg.LLM.IntentModel)

	driver := graph.New(
		graph.Config{
			Encoding: encoding.Config{
				RepairScoreMin:    cfg.Encoding.RepairScoreMin,
				FailFastScoreMin:  cfg.Encoding.FailFastScoreMin,
				RepairMinDelta:    cfg.Encoding.RepairMinDelta,
				NormalizationForm: cfg.Encoding.NormalizationForm,
			},
			Router: router.Config{
				IntentConfidenceMin:   cfg.Router.IntentConfidenceMin,
				Top2GapMin:            cfg.Router.Top2GapMin,
				ScenarioConfidenceMin: cfg.Router.ScenarioConfidenceMin,
				MaxClarifyQuestions:   cfg.Router.MaxClarifyQuestions,
			},
			PerToolTimeout:  time.Duration(cfg.Transport.ToolExecutionTimeout) * time.Second,
			ResponseMode:    graph.ResponseMode(cfg.Response.Mode),
			SynthMaxRetries: cfg.Response.MaxRetries,
			IntentModel:     cfg.LLM.IntentModel,
			SynthModel:      cfg.LLM.SynthModel,
			RequestBudget:   time.Duration(cfg.Transport.ToolExecutionTimeout) * time.Second,
		},
		extractor,
		reg,
		planeClient,
		reg,
		llmClient,
		auditLogger,
		tracer,
		metrics,
		logger,
	)

	limiter := ratelimit.NewLimiter(cfg.RateLimit)

	srv := server.New(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MetricsPort: cfg.Server.MetricsPort,
	}, driver, limiter, logger, metrics)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	raw, err := config.LoadRaw(configPath)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: encode for schema check: %w", err)
	}
	schemaRaw, err := config.JSONSchema()
	if err != nil {
		return err
	}
	if err := schema.New().ValidateJSON("config", schemaRaw, doc); err != nil {
		return fmt.Errorf("config: schema check: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (response mode %s, gateway %s)\n",
		configPath, cfg.Response.Mode, cfg.Identity.GatewayEndpoint)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}
