package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownCommand is returned by Execute for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// Registry resolves command names and aliases, case-insensitively, to
// registered commands.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
	// index maps every registered name and alias to its command.
	index  map[string]*Command
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Command),
		index:  make(map[string]*Command),
		logger: logger.With("component", "commands"),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds cmd. Its name must not collide with a registered name or
// alias; colliding aliases are skipped with a warning.
func (r *Registry) Register(cmd *Command) error {
	switch {
	case cmd == nil:
		return errors.New("command is nil")
	case normalizeName(cmd.Name) == "":
		return errors.New("command name is required")
	case cmd.Handler == nil:
		return fmt.Errorf("command %s: handler is required", cmd.Name)
	}
	name := normalizeName(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, taken := r.index[name]; taken {
		return fmt.Errorf("command %q conflicts with registered command %q", name, owner.Name)
	}
	r.byName[name] = cmd
	r.index[name] = cmd

	for _, alias := range cmd.Aliases {
		alias = normalizeName(alias)
		if alias == "" || alias == name {
			continue
		}
		if owner, taken := r.index[alias]; taken {
			r.logger.Warn("skipping alias already in use", "alias", alias, "command", name, "owner", owner.Name)
			continue
		}
		r.index[alias] = cmd
	}
	return nil
}

// Get finds a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.index[normalizeName(name)]
	return cmd, ok
}

// List returns the registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	out := make([]*Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		out = append(out, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return normalizeName(out[i].Name) < normalizeName(out[j].Name) })
	return out
}

// ListVisible returns commands that should be shown in help.
func (r *Registry) ListVisible() []*Command {
	all := r.List()
	visible := make([]*Command, 0, len(all))
	for _, cmd := range all {
		if !cmd.Hidden {
			visible = append(visible, cmd)
		}
	}
	return visible
}

// Definitions returns the visible commands as channel menu entries.
func (r *Registry) Definitions() []Definition {
	visible := r.ListVisible()
	defs := make([]Definition, len(visible))
	for i, cmd := range visible {
		defs[i] = Definition{
			Command:     cmd.Name,
			Description: cmd.Description,
			Usage:       cmd.Usage,
			AcceptsArgs: cmd.AcceptsArgs,
		}
	}
	return defs
}

// HelpText renders the visible commands, one "/name - description" per line.
func (r *Registry) HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, cmd := range r.ListVisible() {
		b.WriteString("\n/")
		b.WriteString(cmd.Name)
		if cmd.Description != "" {
			b.WriteString(" - ")
			b.WriteString(cmd.Description)
		}
	}
	return b.String()
}

// Execute runs the command named by inv.Name.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil {
		return nil, errors.New("invocation is nil")
	}
	cmd, ok := r.Get(inv.Name)
	if !ok {
		return nil, fmt.Errorf("command %q: %w", inv.Name, ErrUnknownCommand)
	}
	if !cmd.AcceptsArgs {
		inv.Args = ""
	}

	inv.Command = cmd
	return cmd.Handler(ctx, inv)
}
