// Package main is the CLI entry point for the Nexus Core agent runtime.
//
// Nexus Core hosts multi-tenant AI agents: per-project provider
// configuration with failover, layered prompts, long-term memory, cost
// guard, tool execution with approval gating, scheduled tasks, and
// proactive outbound messaging, all behind a REST + WebSocket gateway.
//
// # Basic Usage
//
// Start the server:
//
//	nexus-core serve --config project.json
//
// Validate a project configuration without starting anything:
//
//	nexus-core validate-config --config project.json
//
// # Environment Variables
//
//   - DATABASE_URL: sqlite DSN (default: file:nexus-core.db)
//   - NEXUS_HTTP_ADDR: gateway listen address (default: :8080)
//   - SECRETS_ENCRYPTION_KEY: 64 hex characters, the secret store master key
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider credentials, referenced
//     by name from project configuration
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus-core",
		Short: "Nexus Core - multi-tenant AI agent runtime",
		Long: `Nexus Core runs AI agents for multiple projects on one server.

Each project brings its own provider configuration, prompt layers, memory
policy, budgets, and tool allowlist. The server exposes a REST API for
provisioning and operations plus a WebSocket endpoint for streaming chat.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateConfigCmd(),
	)

	return rootCmd
}
