package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentbridge/internal/config"
	"github.com/haasonsaas/agentbridge/internal/sessions"
)

// openConfiguredStore loads the configuration and opens only its store.
func openConfiguredStore(cmd *cobra.Command, configPath string) (sessions.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == config.DriverMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: database.driver is memory; no sessions are persisted")
	}
	return openStore(cmd.Context(), cfg.Database)
}

func runSessionsList(cmd *cobra.Command, configPath, agentID string, limit int) error {
	store, err := openConfiguredStore(cmd, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListSessions(cmd.Context(), sessions.ListOptions{AgentID: agentID, Limit: limit})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tCREATED\tTITLE")
	for _, s := range list {
		agent := s.AgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, agent, s.CreatedAt.UTC().Format(time.RFC3339), s.Title)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	store, err := openConfiguredStore(cmd, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	history, err := store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s\n", session.ID)
	fmt.Fprintf(out, "  agent:   %s\n", session.AgentID)
	fmt.Fprintf(out, "  created: %s\n", session.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  messages: %d\n", len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if msg.ToolCallID != "" {
			content = fmt.Sprintf("[%s] %s", msg.ToolCallID, content)
		}
		fmt.Fprintf(out, "\n#%d %s\n%s\n", msg.Seq, msg.Role, content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, configPath, sessionID string) error {
	store, err := openConfiguredStore(cmd, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteSession(cmd.Context(), sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
	return nil
}
