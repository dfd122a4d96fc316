package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs every enabled channel.
func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridges for all enabled channels",
		Long: `Run one bridge per enabled channel until SIGINT or SIGTERM.

The server will:
1. Load and validate the configuration
2. Open the session store and apply migrations
3. Build the providers, tools, and conversation engine
4. Start each enabled channel adapter
5. Serve /metrics and /healthz when server.metrics_addr is set`,
		Example: `  agentbridge serve --config /etc/agentbridge/agentbridge.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

// buildChatCmd creates the "chat" command that bridges the terminal.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the configured agents from the terminal",
		Long: `Read messages from standard input and print replies to standard output.

Lines starting with / are commands, for example /agents or /change-agent coder.
The session survives restarts when the database is persistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath(configPath), user)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&user, "user", "local", "User id attached to console messages")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	addConfigFlag(validate, &configPath)

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigSchema,
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsShowCmd(), buildSessionsDeleteCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, resolveConfigPath(configPath), agentID, limit)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&agentID, "agent", "", "Only list sessions using this agent")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of sessions to return")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session and its message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session, its history, and its bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

// buildAgentsCmd creates the "agents" command group.
func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect configured agents",
	}
	var configPath string
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd, resolveConfigPath(configPath))
		},
	}
	addConfigFlag(list, &configPath)
	cmd.AddCommand(list)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentbridge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
