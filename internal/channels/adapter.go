// Package channels defines the messaging front-end contract the bridge
// drives, the inbound event types, and helpers shared by adapters.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Adapter is implemented by every messaging platform integration.
//
// Events is closed after Stop returns. Send and Reply address a
// conversation by the platform's own id (chat id, channel id).
type Adapter interface {
	// Name identifies the platform; it is also the channel key of bindings.
	Name() models.ChannelType

	// Start connects to the platform and begins delivering Events.
	Start(ctx context.Context) error

	// Stop disconnects and closes Events.
	Stop(ctx context.Context) error

	// Send posts text to a conversation.
	Send(ctx context.Context, conversationID, text string) error

	// Reply posts text as a reply to messageID, falling back to a plain
	// post where the platform has no reply threading.
	Reply(ctx context.Context, conversationID, messageID, text string) error

	// SetCommands advertises the command table to the platform, where supported.
	SetCommands(ctx context.Context, defs []commands.Definition) error

	Events() <-chan Event
}

// Event is an inbound MessageEvent or CommandEvent.
type Event interface {
	Conversation() string
}

// MessageEvent is free text from a user.
type MessageEvent struct {
	ConversationID string
	MessageID      string
	UserID         string
	Text           string
}

// Conversation returns the conversation the message arrived in.
func (e *MessageEvent) Conversation() string { return e.ConversationID }

// CommandEvent is a command invocation such as "/new" or a platform slash command.
type CommandEvent struct {
	ConversationID string
	MessageID      string
	UserID         string
	Command        string
	Args           string
}

// Conversation returns the conversation the command arrived in.
func (e *CommandEvent) Conversation() string { return e.ConversationID }

// ParseText turns raw text into a CommandEvent when parser recognizes a
// command prefix, and into a MessageEvent otherwise.
func ParseText(parser *commands.Parser, conversationID, messageID, userID, text string) Event {
	if parser != nil {
		if parsed := parser.ParseCommand(text); parsed != nil {
			return &CommandEvent{
				ConversationID: conversationID,
				MessageID:      messageID,
				UserID:         userID,
				Command:        parsed.Name,
				Args:           parsed.Args,
			}
		}
	}
	return &MessageEvent{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		Text:           text,
	}
}

// Registry holds the adapters enabled for a process.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// All returns the registered adapters sorted by name.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
