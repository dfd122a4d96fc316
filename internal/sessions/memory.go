package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// single-process runs. Values are cloned on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	seq      map[string]int64
	bindings map[bindingKey]*models.ChannelBinding
}

type bindingKey struct {
	channel        models.ChannelType
	conversationID string
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		messages: map[string][]*models.Message{},
		seq:      map[string]int64{},
		bindings: map[bindingKey]*models.ChannelBinding{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareSession(session)
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	return session.Clone(), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if opts.AgentID != "" && session.AgentID != opts.AgentID {
			continue
		}
		out = append(out, session.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func (m *MemoryStore) SetAgent(ctx context.Context, sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("set agent on %s: %w", sessionID, ErrSessionNotFound)
	}
	session.AgentID = agentID
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.seq, id)
	for key, binding := range m.bindings {
		if binding.SessionID == id {
			delete(m.bindings, key)
		}
	}
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("append to %s: %w", msg.SessionID, ErrSessionNotFound)
	}
	prepareMessage(msg)
	m.seq[msg.SessionID]++
	msg.Seq = m.seq[msg.SessionID]
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg.Clone())
	return nil
}

func (m *MemoryStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.messages[msg.SessionID] {
		if existing.ID != msg.ID {
			continue
		}
		updated := msg.Clone()
		updated.Seq = existing.Seq
		updated.CreatedAt = existing.CreatedAt
		m.messages[msg.SessionID][i] = updated
		return nil
	}
	return fmt.Errorf("update message %s: %w", msg.ID, ErrMessageNotFound)
}

func (m *MemoryStore) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("history of %s: %w", sessionID, ErrSessionNotFound)
	}
	history := m.messages[sessionID]
	out := make([]*models.Message, len(history))
	for i, msg := range history {
		out[i] = msg.Clone()
	}
	return out, nil
}

func (m *MemoryStore) SaveBinding(ctx context.Context, binding *models.ChannelBinding) error {
	if binding == nil {
		return errors.New("binding is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *binding
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now().UTC()
	}
	m.bindings[bindingKey{clone.Channel, clone.ConversationID}] = &clone
	return nil
}

func (m *MemoryStore) ListBindings(ctx context.Context, channel models.ChannelType) ([]*models.ChannelBinding, error) {
	m.mu.RLock()
	out := make([]*models.ChannelBinding, 0, len(m.bindings))
	for key, binding := range m.bindings {
		if key.channel != channel {
			continue
		}
		clone := *binding
		out = append(out, &clone)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (m *MemoryStore) DeleteBinding(ctx context.Context, channel models.ChannelType, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bindingKey{channel, conversationID}
	if _, ok := m.bindings[key]; !ok {
		return fmt.Errorf("delete binding %s/%s: %w", channel, conversationID, ErrBindingNotFound)
	}
	delete(m.bindings, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func prepareSession(session *models.Session) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.CreatedAt = session.CreatedAt.UTC()
}

func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
}

func paginate(sessions []*models.Session, opts ListOptions) []*models.Session {
	if opts.Offset > 0 {
		if opts.Offset >= len(sessions) {
			return []*models.Session{}
		}
		sessions = sessions[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(sessions) {
		sessions = sessions[:opts.Limit]
	}
	return sessions
}
