// Package sessions persists sessions, their ordered message history, and the
// channel conversation bindings that map front-end chats onto sessions.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

var (
	// ErrSessionNotFound is returned for unknown session ids. It is the
	// engine's sentinel so errors.Is works across packages.
	ErrSessionNotFound = agent.ErrSessionNotFound

	// ErrMessageNotFound is returned by UpdateMessage for unknown message ids.
	ErrMessageNotFound = errors.New("message not found")

	// ErrBindingNotFound is returned by DeleteBinding for unknown bindings.
	ErrBindingNotFound = errors.New("binding not found")
)

// Store is the interface for session persistence.
type Store interface {
	// Session lifecycle
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
	SetAgent(ctx context.Context, sessionID, agentID string) error
	DeleteSession(ctx context.Context, id string) error

	// Message history. AppendMessage assigns the next Seq of the session;
	// History returns messages in Seq order.
	AppendMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
	History(ctx context.Context, sessionID string) ([]*models.Message, error)

	BindingStore

	Close() error
}

// BindingStore persists channel conversation bindings.
type BindingStore interface {
	SaveBinding(ctx context.Context, binding *models.ChannelBinding) error
	ListBindings(ctx context.Context, channel models.ChannelType) ([]*models.ChannelBinding, error)
	DeleteBinding(ctx context.Context, channel models.ChannelType, conversationID string) error
}

// ListOptions configures session listing. Sessions are returned newest first.
type ListOptions struct {
	AgentID string
	Limit   int
	Offset  int
}

var _ agent.Store = Store(nil)
