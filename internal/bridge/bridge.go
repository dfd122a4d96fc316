// Package bridge connects a messaging channel to the conversation engine.
//
// A Bridge reads inbound events from one channels.Adapter, maps each
// channel conversation onto a session, runs turns through the engine, and
// renders the resulting chunks back to the conversation. Commands such as
// /new and /change-agent manage the conversation's session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/internal/sessions"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// User-facing texts.
const (
	msgNoAgent        = "No available agent found. Please contact the administrator."
	msgSelectAgent    = "No agent selected for this session. Use /agents and /change-agent <agent_id>."
	msgBusy           = "A reply is still in progress for this conversation. Please wait for it to finish."
	msgNoResponse     = "No response received."
	msgProcessingFail = "Sorry, I encountered an error processing your message: "
)

// Directions reported to Metrics.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Engine runs conversation turns.
type Engine interface {
	Continue(ctx context.Context, sessionID, userText string) (<-chan agent.Chunk, error)
	Cancel(sessionID string) bool

	// SessionAgent fails with agent.ErrNoAgent when the session cannot run a turn.
	SessionAgent(ctx context.Context, sessionID string) (*models.Agent, error)
	// CanSwitch fails with agent.ErrIncompatibleAgent when agentID cannot
	// read the session's stored history.
	CanSwitch(ctx context.Context, sessionID, agentID string) error
}

// Store is the session persistence the bridge needs.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	SetAgent(ctx context.Context, sessionID, agentID string) error
	sessions.BindingStore
}

// AgentCatalog lists the configured agents.
type AgentCatalog interface {
	Get(id string) (*models.Agent, bool)
	Default() (*models.Agent, bool)
	List() []models.Agent
}

// Metrics receives bridge measurements. A nil Metrics is valid.
type Metrics interface {
	ChannelMessage(channel, direction string)
}

// Config wires a Bridge.
type Config struct {
	Adapter channels.Adapter
	Engine  Engine
	Store   Store
	Agents  AgentCatalog

	// Bindings defaults to a registry persisted in Store.
	Bindings *BindingRegistry

	Logger  *slog.Logger
	Metrics Metrics
}

// Bridge serves one channel adapter.
type Bridge struct {
	adapter  channels.Adapter
	engine   Engine
	store    Store
	agents   AgentCatalog
	bindings *BindingRegistry
	commands *commands.Registry
	logger   *slog.Logger
	metrics  Metrics

	// sessionMu serializes session creation so concurrent first messages
	// of a conversation share one session.
	sessionMu sync.Mutex

	// stopped holds sessions whose running turn was cancelled by command.
	stopped sync.Map

	wg sync.WaitGroup
}

// New validates cfg and builds the command table.
func New(cfg Config) (*Bridge, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("bridge: adapter is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("bridge: engine is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("bridge: store is required")
	}
	if cfg.Agents == nil {
		return nil, errors.New("bridge: agent catalog is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bindings == nil {
		cfg.Bindings = NewBindingRegistry(cfg.Adapter.Name(), cfg.Store)
	}

	b := &Bridge{
		adapter:  cfg.Adapter,
		engine:   cfg.Engine,
		store:    cfg.Store,
		agents:   cfg.Agents,
		bindings: cfg.Bindings,
		logger:   cfg.Logger.With("component", "bridge", "channel", string(cfg.Adapter.Name())),
		metrics:  cfg.Metrics,
	}
	registry, err := b.buildCommands()
	if err != nil {
		return nil, err
	}
	b.commands = registry
	return b, nil
}

// Bindings returns the conversation registry.
func (b *Bridge) Bindings() *BindingRegistry {
	return b.bindings
}

// Start publishes the command table, starts the adapter, and rebuilds the
// conversation bindings from the store.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.adapter.SetCommands(ctx, b.commands.Definitions()); err != nil {
		b.logger.Warn("failed to set channel commands", "error", err)
	}
	if err := b.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start %s adapter: %w", b.adapter.Name(), err)
	}
	n, err := b.bindings.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild bindings: %w", err)
	}
	b.logger.Info("bridge started", "bindings", n)
	return nil
}

// Run dispatches inbound events until the adapter closes Events or ctx is
// done. Each event is handled in its own goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	events := b.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleEvent(ctx, ev)
			}()
		}
	}
}

// Stop stops the adapter and waits for in-flight handlers.
func (b *Bridge) Stop(ctx context.Context) error {
	stopErr := b.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for handlers: %w", ctx.Err())
	}
	if stopErr != nil {
		return fmt.Errorf("stop %s adapter: %w", b.adapter.Name(), stopErr)
	}
	b.logger.Info("bridge stopped")
	return nil
}

// HandleEvent processes one inbound event to completion.
func (b *Bridge) HandleEvent(ctx context.Context, ev channels.Event) {
	b.observe(DirectionInbound)
	switch e := ev.(type) {
	case *channels.MessageEvent:
		b.handleMessage(ctx, e)
	case *channels.CommandEvent:
		b.handleCommand(ctx, e)
	default:
		b.logger.Warn("ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (b *Bridge) handleMessage(ctx context.Context, ev *channels.MessageEvent) {
	logger := b.logger.With("conversation_id", ev.ConversationID)

	sessionID, ready := b.ensureSession(ctx, ev)
	if !ready {
		return
	}
	logger = logger.With("session_id", sessionID)

	if _, err := b.engine.SessionAgent(ctx, sessionID); errors.Is(err, agent.ErrNoAgent) {
		logger.Info("message for session without agent", "error", err)
		b.reply(ctx, ev.ConversationID, ev.MessageID, msgSelectAgent)
		return
	}

	chunks, err := b.engine.Continue(ctx, sessionID, ev.Text)
	if errors.Is(err, agent.ErrSessionBusy) {
		logger.Info("rejected message while a turn is running")
		b.reply(ctx, ev.ConversationID, ev.MessageID, msgBusy)
		return
	}
	if err != nil {
		logger.Error("failed to continue session", "error", err)
		b.send(ctx, ev.ConversationID, msgProcessingFail+err.Error())
		return
	}
	b.render(ctx, ev.ConversationID, sessionID, chunks)
}

// ensureSession returns the conversation's session, creating and binding a
// new one on first contact. It reports false when the message should not
// be passed to the engine. Notices are sent after sessionMu is released.
func (b *Bridge) ensureSession(ctx context.Context, ev *channels.MessageEvent) (string, bool) {
	b.sessionMu.Lock()
	id, bound := b.bindings.Lookup(ev.ConversationID)
	var (
		session  *models.Session
		selected *models.Agent
		err      error
	)
	if !bound {
		session, selected, err = b.newSession(ctx, ev.ConversationID)
	}
	b.sessionMu.Unlock()

	if bound {
		return id, true
	}
	if err != nil {
		b.logger.Error("failed to create session", "conversation_id", ev.ConversationID, "error", err)
		b.send(ctx, ev.ConversationID, msgProcessingFail+err.Error())
		return "", false
	}
	if selected == nil {
		b.reply(ctx, ev.ConversationID, ev.MessageID, msgNoAgent)
		return "", false
	}
	b.reply(ctx, ev.ConversationID, ev.MessageID,
		fmt.Sprintf("Session %s created. Auto-selected agent %s", session.ID, selected.DisplayName()))
	return session.ID, true
}

// newSession creates a session, binds it to conversationID, and selects
// the first catalog agent. The returned agent is nil when none is
// configured; the session is bound either way.
func (b *Bridge) newSession(ctx context.Context, conversationID string) (*models.Session, *models.Agent, error) {
	session := &models.Session{}
	if err := b.store.CreateSession(ctx, session); err != nil {
		return nil, nil, err
	}
	if err := b.bindings.Bind(ctx, conversationID, session.ID); err != nil {
		return nil, nil, err
	}
	b.logger.Info("session created", "conversation_id", conversationID, "session_id", session.ID)

	selected, ok := b.agents.Default()
	if !ok {
		return session, nil, nil
	}
	if err := b.store.SetAgent(ctx, session.ID, selected.ID); err != nil {
		return nil, nil, fmt.Errorf("select agent %s: %w", selected.ID, err)
	}
	session.AgentID = selected.ID
	return session, selected, nil
}

// reply answers messageID, or sends plainly when the event had none.
func (b *Bridge) reply(ctx context.Context, conversationID, messageID, text string) {
	var err error
	if messageID == "" {
		err = b.adapter.Send(ctx, conversationID, text)
	} else {
		err = b.adapter.Reply(ctx, conversationID, messageID, text)
	}
	b.delivered(conversationID, err)
}

func (b *Bridge) send(ctx context.Context, conversationID, text string) {
	b.delivered(conversationID, b.adapter.Send(ctx, conversationID, text))
}

func (b *Bridge) delivered(conversationID string, err error) {
	if err != nil {
		b.logger.Error("failed to deliver message",
			"conversation_id", conversationID,
			"code", channels.GetErrorCode(err),
			"error", err)
		return
	}
	b.observe(DirectionOutbound)
}

func (b *Bridge) observe(direction string) {
	if b.metrics != nil {
		b.metrics.ChannelMessage(string(b.adapter.Name()), direction)
	}
}
