package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

func TestAdapter_ReadsLines(t *testing.T) {
	in := strings.NewReader("hello\n\n/help\n/change-agent coder\n")
	var out bytes.Buffer
	adapter := NewAdapter(Config{In: in, Out: &out, User: "tester"})

	if adapter.Name() != models.ChannelConsole {
		t.Fatalf("Name() = %s", adapter.Name())
	}
	ctx := context.Background()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var events []channels.Event
	for ev := range adapter.Events() {
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	msg, ok := events[0].(*channels.MessageEvent)
	if !ok || msg.Text != "hello" || msg.ConversationID != ConversationID || msg.UserID != "tester" || msg.MessageID != "1" {
		t.Fatalf("events[0] = %#v", events[0])
	}
	if cmd, ok := events[1].(*channels.CommandEvent); !ok || cmd.Command != "help" {
		t.Fatalf("events[1] = %#v", events[1])
	}
	if cmd, ok := events[2].(*channels.CommandEvent); !ok || cmd.Command != "change-agent" || cmd.Args != "coder" {
		t.Fatalf("events[2] = %#v", events[2])
	}

	if err := adapter.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestAdapter_SendAndCommands(t *testing.T) {
	var out bytes.Buffer
	adapter := NewAdapter(Config{In: strings.NewReader(""), Out: &out, Prompt: "> "})
	ctx := context.Background()

	defs := []commands.Definition{
		{Command: "new", Description: "Start a new session"},
		{Command: "change-agent", Description: "Switch agent", Usage: "agent_id", AcceptsArgs: true},
	}
	if err := adapter.SetCommands(ctx, defs); err != nil {
		t.Fatalf("SetCommands() error = %v", err)
	}
	if err := adapter.Reply(ctx, ConversationID, "1", "hi there"); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}

	want := "Commands:\n  /new - Start a new session\n  /change-agent <agent_id> - Switch agent\nhi there\n> "
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}

	if err := adapter.Send(ctx, "other", "x"); channels.GetErrorCode(err) != channels.ErrCodeInvalidInput {
		t.Fatalf("Send() err = %v, want invalid input", err)
	}
	if err := adapter.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
