package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoHandler(ctx context.Context, inv *Invocation) (*Result, error) {
	return &Result{Text: inv.Name + ":" + inv.Args}, nil
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil command")
	}
	if err := r.Register(&Command{Name: "", Handler: echoHandler}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(&Command{Name: "test"}); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := r.Register(&Command{Name: "new", Aliases: []string{"reset"}, Handler: echoHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&Command{Name: "NEW", Handler: echoHandler}); err == nil {
		t.Error("expected duplicate name error")
	}
	if err := r.Register(&Command{Name: "reset", Handler: echoHandler}); err == nil {
		t.Error("expected name/alias conflict error")
	}
}

func TestRegistryGetIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Command{Name: "change-agent", Aliases: []string{"agent"}, Handler: echoHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{"change-agent", "Change-Agent", " AGENT "} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("Get(%q) not found", name)
		}
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Command{Name: "change-agent", AcceptsArgs: true, Handler: echoHandler})
	_ = r.Register(&Command{Name: "stop", Handler: echoHandler})

	res, err := r.Execute(context.Background(), &Invocation{Name: "change-agent", Args: "coder"})
	if err != nil || res.Text != "change-agent:coder" {
		t.Fatalf("Execute = %+v, %v", res, err)
	}

	// Commands without arguments ignore trailing text.
	res, err = r.Execute(context.Background(), &Invocation{Name: "stop", Args: "now"})
	if err != nil || res.Text != "stop:" {
		t.Fatalf("Execute(stop) = %+v, %v", res, err)
	}

	if _, err := r.Execute(context.Background(), &Invocation{Name: "missing"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Execute(missing) err = %v", err)
	}
	if _, err := r.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil invocation")
	}
}

func TestRegistryHelpAndDefinitions(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Command{Name: "start", Description: "Start the bot", Handler: echoHandler})
	_ = r.Register(&Command{Name: "agents", Description: "List agents", Handler: echoHandler})
	_ = r.Register(&Command{Name: "debug", Hidden: true, Handler: echoHandler})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Command != "agents" || defs[1].Description != "Start the bot" {
		t.Fatalf("Definitions = %+v", defs)
	}

	help := r.HelpText()
	want := "Available commands:\n/agents - List agents\n/start - Start the bot"
	if help != want {
		t.Fatalf("HelpText = %q, want %q", help, want)
	}
	if strings.Contains(help, "debug") {
		t.Fatal("hidden command listed in help")
	}
}
