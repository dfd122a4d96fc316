package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
)

func (b *Bridge) buildCommands() (*commands.Registry, error) {
	registry := commands.NewRegistry(b.logger)
	table := []*commands.Command{
		{
			Name:        "start",
			Description: "Start a new conversation with the AI assistant.",
			Handler:     b.cmdStart,
		},
		{
			Name:        "help",
			Description: "Show the available commands.",
			Handler:     b.cmdHelp,
		},
		{
			Name:        "agents",
			Description: "List all available agents.",
			Handler:     b.cmdAgents,
		},
		{
			Name:        "new",
			Description: "Create a new conversation session.",
			Handler:     b.cmdNew,
		},
		{
			Name:        "change-agent",
			Description: "Select an agent to use for the current conversation session. Usage: /change-agent <agent_id>",
			Usage:       "agent_id",
			AcceptsArgs: true,
			Handler:     b.cmdChangeAgent,
		},
		{
			Name:        "stop",
			Description: "Stop the reply in progress.",
			Handler:     b.cmdStop,
		},
	}
	for _, cmd := range table {
		if err := registry.Register(cmd); err != nil {
			return nil, fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	return registry, nil
}

func (b *Bridge) handleCommand(ctx context.Context, ev *channels.CommandEvent) {
	inv := &commands.Invocation{
		Name:           strings.ToLower(ev.Command),
		Args:           strings.TrimSpace(ev.Args),
		Channel:        string(b.adapter.Name()),
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		UserID:         ev.UserID,
	}
	b.logger.Debug("command received", "conversation_id", ev.ConversationID, "command", inv.Name)

	result, err := b.commands.Execute(ctx, inv)
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		result = &commands.Result{Text: fmt.Sprintf("Unknown command /%s. Send /help for the list of commands.", inv.Name)}
	case err != nil:
		b.logger.Error("command failed", "command", inv.Name, "conversation_id", ev.ConversationID, "error", err)
		result = &commands.Result{Text: "Command failed: " + err.Error()}
	}
	if result == nil || result.Suppress || strings.TrimSpace(result.Text) == "" {
		return
	}
	b.reply(ctx, ev.ConversationID, ev.MessageID, result.Text)
}

func (b *Bridge) cmdStart(context.Context, *commands.Invocation) (*commands.Result, error) {
	return &commands.Result{Text: "Welcome! I am your AI assistant. How can I help you today?"}, nil
}

func (b *Bridge) cmdHelp(context.Context, *commands.Invocation) (*commands.Result, error) {
	return &commands.Result{Text: b.commands.HelpText()}, nil
}

func (b *Bridge) cmdAgents(context.Context, *commands.Invocation) (*commands.Result, error) {
	agents := b.agents.List()
	if len(agents) == 0 {
		return &commands.Result{Text: "No agents are configured."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Available agents:")
	for _, a := range agents {
		fmt.Fprintf(&sb, "\n- %s (%s): %s", a.DisplayName(), a.ID, a.Description)
	}
	return &commands.Result{Text: sb.String()}, nil
}

func (b *Bridge) cmdNew(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()

	session, _, err := b.newSession(ctx, inv.ConversationID)
	if err != nil {
		return nil, err
	}
	return &commands.Result{Text: "New session created with ID: " + session.ID}, nil
}

func (b *Bridge) cmdChangeAgent(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
	agentID := strings.TrimSpace(inv.Args)
	if agentID == "" {
		return &commands.Result{Text: "Please specify an agent ID. Usage: /change-agent <agent_id>"}, nil
	}
	sessionID, ok := b.bindings.Lookup(inv.ConversationID)
	if !ok {
		return &commands.Result{Text: "No active session found. Please start a new session first."}, nil
	}
	if _, ok := b.agents.Get(agentID); !ok {
		return &commands.Result{Text: fmt.Sprintf("Failed to select agent %s: agent not found", agentID)}, nil
	}
	if err := b.engine.CanSwitch(ctx, sessionID, agentID); err != nil {
		if errors.Is(err, agent.ErrIncompatibleAgent) {
			b.logger.Info("refused agent switch", "session_id", sessionID, "agent_id", agentID, "error", err)
			return &commands.Result{Text: fmt.Sprintf("Agent %s uses a different provider; start /new first.", agentID)}, nil
		}
		return &commands.Result{Text: fmt.Sprintf("Failed to select agent %s: %v", agentID, err)}, nil
	}
	if err := b.store.SetAgent(ctx, sessionID, agentID); err != nil {
		return &commands.Result{Text: fmt.Sprintf("Failed to select agent %s: %v", agentID, err)}, nil
	}
	b.logger.Info("agent selected", "session_id", sessionID, "agent_id", agentID)
	return &commands.Result{Text: fmt.Sprintf("Agent %s selected for current session %s", agentID, sessionID)}, nil
}

func (b *Bridge) cmdStop(_ context.Context, inv *commands.Invocation) (*commands.Result, error) {
	sessionID, ok := b.bindings.Lookup(inv.ConversationID)
	if !ok {
		return &commands.Result{Text: "Nothing to stop."}, nil
	}
	// Marked before cancelling so the turn's renderer sees it.
	b.stopped.Store(sessionID, struct{}{})
	if !b.engine.Cancel(sessionID) {
		b.stopped.Delete(sessionID)
		return &commands.Result{Text: "Nothing to stop."}, nil
	}
	return &commands.Result{Text: "Stopped the current reply."}, nil
}
