package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// DefaultMaxIterations bounds the model requests of one Continue call.
const DefaultMaxIterations = 10

// ErrProviderStream wraps errors the provider reported mid-stream.
var ErrProviderStream = errors.New("provider stream error")

// Turn outcomes reported to Metrics.
const (
	OutcomeDone          = "done"
	OutcomeError         = "error"
	OutcomeCancelled     = "cancelled"
	OutcomeNoAgent       = "no_agent"
	OutcomeMaxIterations = "max_iterations"
)

// Store is the persistence the engine needs. AppendMessage assigns Seq;
// History returns messages in Seq order. GetSession returns an error
// wrapping ErrSessionNotFound for unknown ids.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
	History(ctx context.Context, sessionID string) ([]*models.Message, error)
}

// Metrics receives engine measurements. A nil Metrics is valid.
type Metrics interface {
	TurnCompleted(outcome string)
	BusyRejected()
	StreamDecodeError(dialect string)
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store     Store
	Tools     *ToolRegistry
	Providers ProviderSet
	Agents    *Catalog

	// Guard defaults to a LocalGuard.
	Guard TurnGuard

	// MaxIterations limits model requests per Continue. Default: 10
	MaxIterations int

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics Metrics
	OnPhase PhaseObserver

	Now   func() time.Time
	NewID func() string
}

// Engine drives conversation turns.
//
// One Continue call runs the turn state machine as an explicit loop: each
// iteration sends the full history to the model, folds the normalized
// stream into messages, and, when the model asked for tools, runs them in
// order and goes around again with no new user text.
type Engine struct {
	cfg EngineConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine validates cfg and applies defaults.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = NewToolRegistry()
	}
	if cfg.Guard == nil {
		cfg.Guard = NewLocalGuard()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "engine")
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/agentbridge/internal/agent")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{cfg: cfg, cancels: make(map[string]context.CancelFunc)}, nil
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.cfg.Tools
}

// Continue runs one turn for sessionID, optionally starting with new user
// text, and returns the turn's chunks. The channel is unbuffered and is
// closed when the turn ends; cancelling ctx aborts the provider request and
// closes the channel without further chunks.
//
// It returns ErrSessionBusy if a turn is already running for the session.
// A session without a usable agent yields a closed, empty channel and
// nothing is persisted; callers that want to tell the user check
// SessionAgent first.
func (e *Engine) Continue(ctx context.Context, sessionID, userText string) (<-chan Chunk, error) {
	session, err := e.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	release, err := e.cfg.Guard.TryAcquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) && e.cfg.Metrics != nil {
			e.cfg.Metrics.BusyRejected()
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[sessionID] = cancel
	e.mu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer release()
		defer func() {
			e.mu.Lock()
			delete(e.cancels, sessionID)
			e.mu.Unlock()
			cancel()
		}()

		t := &turn{
			engine:  e,
			session: session,
			out:     out,
			phase:   PhaseIdle,
			logger:  e.cfg.Logger.With("session_id", sessionID),
		}
		outcome := t.run(runCtx, userText)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.TurnCompleted(outcome)
		}
	}()
	return out, nil
}

// Cancel aborts the active turn of sessionID. It reports whether a turn was running.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// SessionAgent returns the agent serving sessionID. The error wraps
// ErrNoAgent when the session has no agent or its agent or provider is no
// longer configured.
func (e *Engine) SessionAgent(ctx context.Context, sessionID string) (*models.Agent, error) {
	session, err := e.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ag, _, err := e.resolve(session)
	return ag, err
}

// CanSwitch reports whether agentID may take over sessionID. Stored
// payloads are in the current provider's wire format, so a session with
// history cannot move to a provider of another dialect; that case returns
// an error wrapping ErrIncompatibleAgent. A target that does not resolve
// returns an error wrapping ErrNoAgent.
func (e *Engine) CanSwitch(ctx context.Context, sessionID, agentID string) error {
	session, err := e.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	target, next, err := e.resolve(&models.Session{ID: sessionID, AgentID: agentID})
	if err != nil {
		return err
	}
	_, current, err := e.resolve(session)
	if err != nil || current.Dialect() == next.Dialect() {
		return nil
	}
	history, err := e.cfg.Store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) > 0 {
		return fmt.Errorf("%w: agent %q speaks %s, session history is %s",
			ErrIncompatibleAgent, target.ID, next.Dialect(), current.Dialect())
	}
	return nil
}

// resolve returns the agent and provider serving the session.
func (e *Engine) resolve(session *models.Session) (*models.Agent, Provider, error) {
	if session.AgentID == "" {
		return nil, nil, ErrNoAgent
	}
	ag, ok := e.cfg.Agents.Get(session.AgentID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown agent %q", ErrNoAgent, session.AgentID)
	}
	provider, ok := e.cfg.Providers.Get(ag.Provider)
	if !ok {
		return nil, nil, fmt.Errorf("%w: agent %q references unknown provider %q", ErrNoAgent, ag.ID, ag.Provider)
	}
	return ag, provider, nil
}

// turn is the state of one Continue call.
type turn struct {
	engine   *Engine
	session  *models.Session
	agent    *models.Agent
	provider Provider
	out      chan<- Chunk
	phase    Phase
	logger   *slog.Logger

	iteration int
}

func (t *turn) run(ctx context.Context, userText string) string {
	ag, provider, err := t.engine.resolve(t.session)
	if err != nil {
		t.logger.Info("no agent for session", "error", err)
		t.transition(PhaseDone)
		return OutcomeNoAgent
	}
	t.agent, t.provider = ag, provider
	t.logger = t.logger.With("agent_id", ag.ID, "provider", provider.Name())

	ctx, span := t.engine.cfg.Tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.id", t.session.ID),
		attribute.String("agent.id", ag.ID),
		attribute.String("provider", provider.Name()),
	))
	defer span.End()

	outcome := t.loop(ctx, userText)
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("iterations", t.iteration))
	if outcome == OutcomeError || outcome == OutcomeMaxIterations {
		span.SetStatus(codes.Error, outcome)
	}
	return outcome
}

func (t *turn) loop(ctx context.Context, userText string) string {
	if userText != "" {
		raw, err := t.provider.Codec().EncodeUser(userText)
		if err == nil {
			err = t.append(ctx, models.RoleUser, userText, raw, "")
		}
		if err != nil {
			return t.fail(ctx, PhaseIdle, err)
		}
	}

	for t.iteration = 1; ; t.iteration++ {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		if t.iteration > t.engine.cfg.MaxIterations {
			last := t.phase
			t.transition(PhaseDone)
			t.send(ctx, errorChunk(&LoopError{Phase: last, Iteration: t.iteration - 1, Cause: ErrMaxIterations}))
			return OutcomeMaxIterations
		}

		history, err := t.engine.cfg.Store.History(ctx, t.session.ID)
		if err != nil {
			return t.fail(ctx, t.phase, fmt.Errorf("load history: %w", err))
		}
		if !awaitsModel(history) {
			t.transition(PhaseDone)
			return OutcomeDone
		}

		t.transition(PhaseAwaitingModel)
		body, err := t.provider.Stream(ctx, t.request(history))
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			return t.fail(ctx, PhaseAwaitingModel, err)
		}

		t.transition(PhaseStreaming)
		res := t.consume(ctx, body)
		if cerr := body.Close(); cerr != nil {
			t.logger.Debug("close provider stream", "error", cerr)
		}
		switch {
		case res.cancelled:
			return OutcomeCancelled
		case res.err != nil:
			return t.fail(ctx, PhaseStreaming, res.err)
		case res.streamFailed:
			t.transition(PhaseDone)
			return OutcomeError
		case len(res.calls) == 0:
			t.transition(PhaseDone)
			return OutcomeDone
		}

		if err := t.finalizeToolCalls(ctx, res); err != nil {
			return t.fail(ctx, PhaseStreaming, err)
		}
		t.transition(PhaseExecutingTools)
		if cancelled, err := t.executeTools(ctx, res.calls); cancelled {
			return OutcomeCancelled
		} else if err != nil {
			return t.fail(ctx, PhaseExecutingTools, err)
		}
	}
}

// awaitsModel reports whether the history ends with something the model has
// not answered yet.
func awaitsModel(history []*models.Message) bool {
	if len(history) == 0 {
		return false
	}
	switch history[len(history)-1].Role {
	case models.RoleUser, models.RoleTool:
		return true
	default:
		return false
	}
}

func (t *turn) request(history []*models.Message) *Request {
	req := &Request{
		Model:     t.agent.Model,
		System:    t.agent.SystemPrompt,
		MaxTokens: t.agent.MaxTokens,
		Messages:  make([]json.RawMessage, 0, len(history)),
		Tools:     t.engine.cfg.Tools.Specs(t.agent.Permissions),
	}
	for _, m := range history {
		if len(m.Raw) == 0 {
			continue
		}
		req.Messages = append(req.Messages, m.Raw)
	}
	return req
}

type consumeResult struct {
	text         string
	assistant    *models.Message
	calls        []models.ToolCall
	streamFailed bool
	cancelled    bool
	err          error
}

// consume folds the model stream into the in-progress assistant message and
// the pending tool calls.
func (t *turn) consume(ctx context.Context, body io.Reader) consumeResult {
	var (
		res   consumeResult
		text  strings.Builder
		calls = newCallAccumulator()
	)
	opts := []stream.Option{stream.WithLogger(t.logger)}
	if m := t.engine.cfg.Metrics; m != nil {
		opts = append(opts, stream.WithDecodeErrorHook(func(d stream.Dialect, _ error) {
			m.StreamDecodeError(string(d))
		}))
	}
	dec := stream.NewDecoder(body, t.provider.Dialect(), opts...)

events:
	for dec.Next(ctx) {
		ev := dec.Event()
		switch ev.Kind {
		case stream.KindTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := t.persistText(ctx, &res, text.String()); err != nil {
				res.err = err
				return res
			}
			if !t.send(ctx, textChunk(ev.Text)) {
				res.cancelled = true
				return res
			}
		case stream.KindToolCallDelta:
			calls.add(ev)
		case stream.KindStreamError:
			t.logger.Warn("provider reported stream error", "detail", ev.Detail)
			res.streamFailed = true
			t.send(ctx, errorChunk(fmt.Errorf("%w: %s", ErrProviderStream, ev.Detail)))
			return res
		case stream.KindTurnFinished:
			t.logger.Debug("model turn finished", "reason", ev.Reason, "iteration", t.iteration)
			break events
		}
	}
	if ctx.Err() != nil {
		res.cancelled = true
		return res
	}
	if err := dec.Err(); err != nil {
		res.err = err
		return res
	}
	res.text = text.String()
	res.calls = calls.list()
	return res
}

// persistText creates the assistant message on the first delta of the turn
// and updates it in place afterwards.
func (t *turn) persistText(ctx context.Context, res *consumeResult, text string) error {
	raw, err := t.provider.Codec().EncodeAssistant(text, nil)
	if err != nil {
		return fmt.Errorf("encode assistant message: %w", err)
	}
	if res.assistant == nil {
		msg := t.newMessage(models.RoleAssistant, text, raw, "")
		if err := t.engine.cfg.Store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append assistant message: %w", err)
		}
		res.assistant = msg
		return nil
	}
	res.assistant.Content = text
	res.assistant.Raw = raw
	if err := t.engine.cfg.Store.UpdateMessage(ctx, res.assistant); err != nil {
		return fmt.Errorf("update assistant message: %w", err)
	}
	return nil
}

// finalizeToolCalls records every pending call on one assistant message.
func (t *turn) finalizeToolCalls(ctx context.Context, res consumeResult) error {
	raw, err := t.provider.Codec().EncodeAssistant(res.text, res.calls)
	if err != nil {
		return fmt.Errorf("encode assistant tool calls: %w", err)
	}
	if res.assistant != nil {
		res.assistant.Raw = raw
		if err := t.engine.cfg.Store.UpdateMessage(ctx, res.assistant); err != nil {
			return fmt.Errorf("update assistant message: %w", err)
		}
		return nil
	}
	if err := t.append(ctx, models.RoleAssistant, "", raw, ""); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	return nil
}

// executeTools runs the calls sequentially in emission order. If the turn
// is cancelled part way, the calls not yet answered get a cancellation
// result so the stored history stays replayable.
func (t *turn) executeTools(ctx context.Context, calls []models.ToolCall) (cancelled bool, err error) {
	toolCtx := WithSessionID(ctx, t.session.ID)
	for i, call := range calls {
		if !t.send(ctx, toolCallChunk(call)) {
			return true, t.answerCancelled(ctx, calls[i:])
		}

		result := t.invoke(toolCtx, call)
		if err := t.appendToolResult(context.WithoutCancel(ctx), call, result); err != nil {
			return false, err
		}

		if !t.send(ctx, toolResultChunk(call, result)) {
			return true, t.answerCancelled(ctx, calls[i+1:])
		}
	}
	return false, nil
}

const cancelledToolResult = "Tool call cancelled."

func (t *turn) answerCancelled(ctx context.Context, calls []models.ToolCall) error {
	persistCtx := context.WithoutCancel(ctx)
	for _, call := range calls {
		if err := t.appendToolResult(persistCtx, call, cancelledToolResult); err != nil {
			t.logger.Warn("record cancelled tool call", "tool", call.Name, "call_id", call.ID, "error", err)
			return err
		}
	}
	return nil
}

func (t *turn) invoke(ctx context.Context, call models.ToolCall) string {
	ctx, span := t.engine.cfg.Tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	result := t.engine.cfg.Tools.Invoke(ctx, call.Name, call.Arguments)
	t.logger.Debug("tool invoked", "tool", call.Name, "call_id", call.ID, "result_len", len(result))
	return result
}

func (t *turn) appendToolResult(ctx context.Context, call models.ToolCall, result string) error {
	raw, err := t.provider.Codec().EncodeToolResult(call, result)
	if err != nil {
		return fmt.Errorf("encode tool result: %w", err)
	}
	if err := t.append(ctx, models.RoleTool, result, raw, call.ID); err != nil {
		return fmt.Errorf("append tool message: %w", err)
	}
	return nil
}

func (t *turn) newMessage(role models.Role, content string, raw json.RawMessage, toolCallID string) *models.Message {
	return &models.Message{
		ID:         t.engine.cfg.NewID(),
		SessionID:  t.session.ID,
		Role:       role,
		Content:    content,
		Raw:        raw,
		ToolCallID: toolCallID,
		CreatedAt:  t.engine.cfg.Now(),
	}
}

func (t *turn) append(ctx context.Context, role models.Role, content string, raw json.RawMessage, toolCallID string) error {
	return t.engine.cfg.Store.AppendMessage(ctx, t.newMessage(role, content, raw, toolCallID))
}

// send delivers a chunk unless the turn was cancelled.
func (t *turn) send(ctx context.Context, c Chunk) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case t.out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail reports err as the final chunk of the turn.
func (t *turn) fail(ctx context.Context, phase Phase, err error) string {
	if ctx.Err() != nil {
		return OutcomeCancelled
	}
	t.logger.Warn("turn failed", "phase", phase.String(), "iteration", t.iteration, "error", err)
	t.transition(PhaseDone)
	t.send(ctx, errorChunk(&LoopError{Phase: phase, Iteration: t.iteration, Cause: err}))
	return OutcomeError
}

func (t *turn) transition(to Phase) {
	from := t.phase
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		t.logger.Warn("unexpected phase transition", "from", from.String(), "to", to.String())
	}
	t.phase = to
	if obs := t.engine.cfg.OnPhase; obs != nil {
		obs(t.session.ID, from, to)
	}
}
