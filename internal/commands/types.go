// Package commands provides slash command detection and routing for the
// messaging bridge.
package commands

import (
	"context"
)

// Command represents a registered slash command.
type Command struct {
	// Name is the command name without the leading slash (e.g., "help")
	Name string `json:"name"`

	// Aliases are alternative names for the command
	Aliases []string `json:"aliases,omitempty"`

	// Description is a short description shown in help and channel menus
	Description string `json:"description,omitempty"`

	// Usage shows how to use the command
	Usage string `json:"usage,omitempty"`

	// AcceptsArgs indicates if the command accepts arguments
	AcceptsArgs bool `json:"accepts_args"`

	// Hidden hides the command from help listings and channel menus
	Hidden bool `json:"hidden,omitempty"`

	// Handler is the function that executes the command
	Handler Handler `json:"-"`
}

// Handler processes a command invocation.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation represents a parsed command invocation.
type Invocation struct {
	// Command is the matched command definition
	Command *Command

	// Name is the actual name/alias used to invoke
	Name string

	// Args is the text after the command name
	Args string

	// Channel is the adapter name the command arrived on
	Channel string

	// ConversationID identifies the chat on the channel
	ConversationID string

	// MessageID identifies the inbound message, if any
	MessageID string

	// UserID identifies the user who invoked the command
	UserID string
}

// Result is the output of a command execution.
type Result struct {
	// Text is the response message to send
	Text string `json:"text,omitempty"`

	// Suppress indicates no response should be sent
	Suppress bool `json:"suppress,omitempty"`
}

// Definition is the name and description pair a channel shows in its
// command menu.
type Definition struct {
	Command     string `json:"command"`
	Description string `json:"description"`

	// Usage names the argument, for channels with typed command options.
	Usage       string `json:"usage,omitempty"`
	AcceptsArgs bool   `json:"accepts_args,omitempty"`
}

// ParsedCommand represents a command detected at the start of a message.
type ParsedCommand struct {
	// Name is the command name (without prefix or @bot suffix)
	Name string

	// Args is the argument text
	Args string

	// Prefix is the command prefix used (/, !)
	Prefix string
}
