package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/agentbridge/internal/sessions"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// BindingRegistry maps the conversations of one channel onto sessions.
//
// Lookups are served from memory. When a store is configured every change
// is written through, and Rebuild reloads the map after a restart; without
// a store the registry starts empty and each conversation gets a fresh
// session.
type BindingRegistry struct {
	channel models.ChannelType
	store   sessions.BindingStore
	now     func() time.Time

	mu     sync.RWMutex
	byConv map[string]models.ChannelBinding
}

// NewBindingRegistry creates a registry for channel. store may be nil.
func NewBindingRegistry(channel models.ChannelType, store sessions.BindingStore) *BindingRegistry {
	return &BindingRegistry{
		channel: channel,
		store:   store,
		now:     time.Now,
		byConv:  make(map[string]models.ChannelBinding),
	}
}

// Lookup returns the session bound to conversationID.
func (r *BindingRegistry) Lookup(conversationID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConv[conversationID]
	return b.SessionID, ok
}

// Bind points conversationID at sessionID, replacing any previous binding.
func (r *BindingRegistry) Bind(ctx context.Context, conversationID, sessionID string) error {
	binding := models.ChannelBinding{
		Channel:        r.channel,
		ConversationID: conversationID,
		SessionID:      sessionID,
		UpdatedAt:      r.now().UTC(),
	}
	if r.store != nil {
		if err := r.store.SaveBinding(ctx, &binding); err != nil {
			return fmt.Errorf("save binding: %w", err)
		}
	}
	r.mu.Lock()
	r.byConv[conversationID] = binding
	r.mu.Unlock()
	return nil
}

// Unbind removes the binding of conversationID.
func (r *BindingRegistry) Unbind(ctx context.Context, conversationID string) error {
	if r.store != nil {
		err := r.store.DeleteBinding(ctx, r.channel, conversationID)
		if err != nil && !errors.Is(err, sessions.ErrBindingNotFound) {
			return fmt.Errorf("delete binding: %w", err)
		}
	}
	r.mu.Lock()
	delete(r.byConv, conversationID)
	r.mu.Unlock()
	return nil
}

// Rebuild replaces the in-memory map with the stored bindings of the
// channel and returns how many were loaded.
func (r *BindingRegistry) Rebuild(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	stored, err := r.store.ListBindings(ctx, r.channel)
	if err != nil {
		return 0, fmt.Errorf("list bindings: %w", err)
	}
	byConv := make(map[string]models.ChannelBinding, len(stored))
	for _, b := range stored {
		byConv[b.ConversationID] = *b
	}
	r.mu.Lock()
	r.byConv = byConv
	r.mu.Unlock()
	return len(byConv), nil
}

// Len returns the number of bound conversations.
func (r *BindingRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConv)
}
