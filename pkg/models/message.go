package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelConsole  ChannelType = "console"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown message role %q", s)
	}
	return r, nil
}

// Message is one entry in a session's ordered history.
//
// Content is the display text and may be empty for assistant messages that
// only carry tool calls. Raw holds the provider-native payload replayed to the
// model on every request; the engine never interprets it.
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Seq        int64           `json:"seq"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	Raw        json.RawMessage `json:"raw"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Raw != nil {
		out.Raw = append(json.RawMessage(nil), m.Raw...)
	}
	return &out
}

// ToolCall is a model request to execute a tool. It only lives for one turn:
// it is folded into the announcing assistant message and the answering tool
// message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Session is one ongoing conversation with a configured agent.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// ChannelBinding associates a channel conversation with a session.
type ChannelBinding struct {
	Channel        ChannelType `json:"channel"`
	ConversationID string      `json:"conversation_id"`
	SessionID      string      `json:"session_id"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
