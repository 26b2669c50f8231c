// Package main provides the CLI entry point for the docsight server.
//
// Docsight answers questions about parsed documents: a request picks an
// analysis profile (simple, complex, or compare), collects evidence from
// the document layout, renders the cited regions, and streams the answer
// back over SSE.
//
// # Basic Usage
//
// Start the server:
//
//	docsight serve --config docsight.yaml
//
// Manage database migrations:
//
//	docsight migrate up
//	docsight migrate status
//
// Print the configuration JSON Schema:
//
//	docsight config schema
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

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

const defaultConfigName = "docsight.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docsight",
		Short: "Docsight - conversational document analysis server",
		Long: `Docsight serves chat-based document analysis over parsed documents.

Profiles: simple (single-pass), complex (per-document extraction), compare (two-sided diff)
Answers stream over SSE with rendered page crops as visual evidence.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// resolveConfigPath falls back to DOCSIGHT_CONFIG, then the default name.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("DOCSIGHT_CONFIG")); env != "" {
		return env
	}
	return defaultConfigName
}
