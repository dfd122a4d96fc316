package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// stubStore is a minimal ordered message store.
type stubStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
	seq      int64
	appendFn func(*models.Message) error
}

func newStubStore() *stubStore {
	return &stubStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func (s *stubStore) addSession(id, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &models.Session{ID: id, AgentID: agentID, CreatedAt: time.Now()}
}

func (s *stubStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

func (s *stubStore) AppendMessage(_ context.Context, msg *models.Message) error {
	if s.appendFn != nil {
		if err := s.appendFn(msg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.Seq = s.seq
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg.Clone())
	return nil
}

func (s *stubStore) UpdateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages[msg.SessionID] {
		if m.ID == msg.ID {
			s.messages[msg.SessionID][i] = msg.Clone()
			return nil
		}
	}
	return fmt.Errorf("message %s not found", msg.ID)
}

func (s *stubStore) History(_ context.Context, sessionID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Message, 0, len(s.messages[sessionID]))
	for _, m := range s.messages[sessionID] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *stubStore) history(t *testing.T, sessionID string) []*models.Message {
	t.Helper()
	h, _ := s.History(context.Background(), sessionID)
	return h
}

// testCodec encodes messages in a compact chat-completions-like shape.
type testCodec struct{}

func (testCodec) EncodeUser(text string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"role": "user", "content": text})
}

func (testCodec) EncodeAssistant(text string, calls []models.ToolCall) (json.RawMessage, error) {
	msg := map[string]any{"role": "assistant", "content": text}
	if len(calls) > 0 {
		msg["tool_calls"] = calls
	}
	return json.Marshal(msg)
}

func (testCodec) EncodeToolResult(call models.ToolCall, result string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"role": "tool", "tool_call_id": call.ID, "content": result})
}

// scriptedProvider replays one SSE body per request.
type scriptedProvider struct {
	mu       sync.Mutex
	bodies   []string
	errs     []error
	requests []*Request
	streamFn func(ctx context.Context, req *Request) (io.ReadCloser, error)
	dialect  stream.Dialect
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Dialect() stream.Dialect {
	if p.dialect == "" {
		return stream.DialectOpenAI
	}
	return p.dialect
}
func (p *scriptedProvider) Codec() PayloadCodec { return testCodec{} }

func (p *scriptedProvider) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	fn := p.streamFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if n <= len(p.errs) && p.errs[n-1] != nil {
		return nil, p.errs[n-1]
	}
	if n > len(p.bodies) {
		return nil, fmt.Errorf("unexpected request %d", n)
	}
	return io.NopCloser(strings.NewReader(p.bodies[n-1])), nil
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func sseText(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		payload, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": part}}},
		})
		fmt.Fprintf(&b, "data: %s\n\n", payload)
	}
	return b.String()
}

func sseToolCall(index int, id, name, args string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{
			"tool_calls": []any{map[string]any{
				"index":    index,
				"id":       id,
				"type":     "function",
				"function": map[string]any{"name": name, "arguments": args},
			}},
		}}},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func sseFinish(reason string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":%q}]}\n\ndata: [DONE]\n\n", reason)
}

type engineFixture struct {
	engine   *Engine
	store    *stubStore
	provider *scriptedProvider
	tools    *ToolRegistry
	phases   []Phase
	phaseMu  sync.Mutex
}

func newEngineFixture(t *testing.T, opts ...func(*EngineConfig)) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    newStubStore(),
		provider: &scriptedProvider{},
		tools:    NewToolRegistry(),
	}
	catalog, err := NewCatalog([]models.Agent{{ID: "helper", Name: "Helper", Provider: "scripted", Model: "test-model"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	cfg := EngineConfig{
		Store:     f.store,
		Tools:     f.tools,
		Providers: ProviderSet{"scripted": f.provider},
		Agents:    catalog,
		OnPhase: func(_ string, _, to Phase) {
			f.phaseMu.Lock()
			f.phases = append(f.phases, to)
			f.phaseMu.Unlock()
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.engine, err = NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.store.addSession("s1", "helper")
	return f
}

func drain(ch <-chan Chunk) []Chunk {
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func mustRegister(t *testing.T, r *ToolRegistry, d ToolDescriptor) {
	t.Helper()
	if err := r.Register(d); err != nil {
		t.Fatalf("Register(%s): %v", d.Name, err)
	}
}
