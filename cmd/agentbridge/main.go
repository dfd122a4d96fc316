// Package main provides the agentbridge CLI.
//
// agentbridge connects messaging platforms (Telegram, Discord, Slack, or a
// local console) to streaming model providers (OpenAI compatible endpoints,
// Anthropic) with per-conversation sessions and tool calling.
//
// # Basic Usage
//
// Start every enabled channel:
//
//	agentbridge serve --config agentbridge.yaml
//
// Chat with the configured agents from a terminal:
//
//	agentbridge chat
//
// # Environment Variables
//
//   - AGENTBRIDGE_CONFIG: Path to configuration file (default: agentbridge.yaml)
//
// Configuration values may reference other variables as ${NAME}.
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
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "agentbridge.yaml"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentbridge",
		Short: "agentbridge - chat channels to streaming model agents",
		Long: `agentbridge maps chat conversations onto agent sessions and streams model
replies, including tool calls, back to the conversation.

Supported channels: Telegram, Discord, Slack, console
Supported providers: OpenAI compatible chat completions, Anthropic Messages`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildConfigCmd(),
		buildSessionsCmd(),
		buildAgentsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then AGENTBRIDGE_CONFIG.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("AGENTBRIDGE_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

func addConfigFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
}
