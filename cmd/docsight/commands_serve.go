package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the docsight server.
// This is the primary command for running docsight in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docsight server",
		Long: `Start the docsight HTTP server.

The server will:
1. Load configuration from the specified file (or docsight.yaml)
2. Connect to Postgres and apply pending migrations
3. Open the object store and the evidence render cache
4. Initialize the LLM client and the prompt resolver
5. Start the deletion worker and the request queue
6. Serve the chat API and SSE streams until SIGINT/SIGTERM`,
		Example: `  # Start with default config
  docsight serve

  # Start with custom config
  docsight serve --config /etc/docsight/production.yaml

  # Start with debug logging
  docsight serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
