package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the agent runtime.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Nexus Core server",
		Long: `Start the agent runtime and its HTTP gateway.

The server will:
1. Load the project configuration (if --config is given) and register it
2. Open the sqlite database and create any missing tables
3. Start the proactive message worker and the scheduled task executor
4. Serve the REST API and the /chat/stream WebSocket

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with a seeded project
  nexus-core serve --config project.json

  # Start empty; provision projects over the API
  nexus-core serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to a project configuration file to register at startup")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	return cmd
}

// buildValidateConfigCmd creates the "validate-config" command.
func buildValidateConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a project configuration file",
		Long: `Parse and validate a project configuration file, including environment
variable substitution, without starting the server or touching the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the configuration file to validate")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
