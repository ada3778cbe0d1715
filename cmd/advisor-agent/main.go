// Package main provides the CLI entry point for the advisor-agent service.
//
// The agent accepts a natural-language personal finance question, routes it
// through the orchestration graph (encoding gate, intent router, suitability
// guard, tool fan-out, grounded synthesis), and streams the answer back over
// Server-Sent Events.
//
// # Basic Usage
//
// Start the server:
//
//	advisor-agent serve --config advisor.yaml
//
// Validate a configuration file without serving:
//
//	advisor-agent config validate --config advisor.yaml
//
// # Environment Variables
//
// Configuration can be overridden via environment variables, including:
//
//   - GATEWAY_ENDPOINT: tool plane JSON-RPC endpoint
//   - ANTHROPIC_API_KEY: API key for the intent/synthesis LLM calls
//   - RESPONSE_MODE: template, llm_shadow, or llm_enforce
//   - ROUTER_INTENT_CONF_MIN, ROUTER_TOP2_GAP_MIN: router thresholds
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "advisor-agent",
		Short:         "Financial advisory agent",
		Long:          "advisor-agent runs the fintech advisory orchestration graph behind a streaming HTTP endpoint.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildConfigCmd(), buildVersionCmd())
	return root
}
