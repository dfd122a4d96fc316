package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/agentbridge/pkg/models"
)

// storeFactories lists every Store implementation the contract runs against.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openSQLite(t) },
	}
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "agentbridge.db")
	store, err := Open(context.Background(), DefaultSQLConfig(DriverSQLite, dsn))
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, factory(t)) })
			t.Run("AppendOrdering", func(t *testing.T) { testAppendOrdering(t, factory(t)) })
			t.Run("UpdateMessage", func(t *testing.T) { testUpdateMessage(t, factory(t)) })
			t.Run("Bindings", func(t *testing.T) { testBindings(t, factory(t)) })
			t.Run("ListSessions", func(t *testing.T) { testListSessions(t, factory(t)) })
		})
	}
}

func testSessionLifecycle(t *testing.T, store Store) {
	ctx := context.Background()
	session := &models.Session{AgentID: "helper", Title: "first"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID == "" || session.CreatedAt.IsZero() {
		t.Fatalf("generated fields not reflected: %+v", session)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AgentID != "helper" || got.Title != "first" {
		t.Fatalf("GetSession = %+v", got)
	}

	if err := store.SetAgent(ctx, session.ID, "coder"); err != nil {
		t.Fatalf("SetAgent: %v", err)
	}
	got, _ = store.GetSession(ctx, session.ID)
	if got.AgentID != "coder" {
		t.Fatalf("AgentID = %s, want coder", got.AgentID)
	}

	if err := store.SetAgent(ctx, "missing", "coder"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("SetAgent(missing) err = %v", err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSession(missing) err = %v", err)
	}

	if err := store.AppendMessage(ctx, &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.SaveBinding(ctx, &models.ChannelBinding{Channel: models.ChannelTelegram, ConversationID: "42", SessionID: session.ID}); err != nil {
		t.Fatalf("SaveBinding: %v", err)
	}
	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.History(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("History after delete err = %v", err)
	}
	bindings, _ := store.ListBindings(ctx, models.ChannelTelegram)
	if len(bindings) != 0 {
		t.Fatalf("bindings after delete = %d", len(bindings))
	}
	if err := store.DeleteSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second DeleteSession err = %v", err)
	}
}

func testAppendOrdering(t *testing.T, store Store) {
	ctx := context.Background()
	session := &models.Session{AgentID: "helper"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	roles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}
	for i, role := range roles {
		msg := &models.Message{
			SessionID: session.ID,
			Role:      role,
			Content:   string(role),
			Raw:       json.RawMessage(`{"role":"` + string(role) + `"}`),
		}
		if role == models.RoleTool {
			msg.ToolCallID = "call_1"
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if msg.Seq != int64(i+1) {
			t.Fatalf("message %d Seq = %d", i, msg.Seq)
		}
	}

	history, err := store.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != len(roles) {
		t.Fatalf("History len = %d", len(history))
	}
	for i, msg := range history {
		if msg.Role != roles[i] || msg.Seq != int64(i+1) {
			t.Fatalf("history[%d] = %s seq %d", i, msg.Role, msg.Seq)
		}
	}
	if history[2].ToolCallID != "call_1" {
		t.Fatalf("ToolCallID = %q", history[2].ToolCallID)
	}
	if string(history[0].Raw) != `{"role":"user"}` {
		t.Fatalf("Raw = %s", history[0].Raw)
	}

	// Mutating a returned message must not reach the store.
	history[0].Raw[2] = 'X'
	again, _ := store.History(ctx, session.ID)
	if string(again[0].Raw) != `{"role":"user"}` {
		t.Fatalf("store shares Raw with callers: %s", again[0].Raw)
	}

	if err := store.AppendMessage(ctx, &models.Message{SessionID: "missing", Role: models.RoleUser}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AppendMessage(missing) err = %v", err)
	}
}

func testUpdateMessage(t *testing.T, store Store) {
	ctx := context.Background()
	session := &models.Session{}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	msg := &models.Message{SessionID: session.ID, Role: models.RoleAssistant, Content: "Hel"}
	if err := store.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	msg.Content = "Hello"
	msg.Raw = json.RawMessage(`{"content":"Hello"}`)
	if err := store.UpdateMessage(ctx, msg); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	history, _ := store.History(ctx, session.ID)
	if len(history) != 1 || history[0].Content != "Hello" || history[0].Seq != 1 {
		t.Fatalf("history = %+v", history)
	}

	if err := store.UpdateMessage(ctx, &models.Message{ID: "nope", SessionID: session.ID}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("UpdateMessage(nope) err = %v", err)
	}
}

func testBindings(t *testing.T, store Store) {
	ctx := context.Background()
	for _, b := range []*models.ChannelBinding{
		{Channel: models.ChannelTelegram, ConversationID: "b", SessionID: "s1"},
		{Channel: models.ChannelTelegram, ConversationID: "a", SessionID: "s2"},
		{Channel: models.ChannelDiscord, ConversationID: "a", SessionID: "s3"},
	} {
		if err := store.SaveBinding(ctx, b); err != nil {
			t.Fatalf("SaveBinding: %v", err)
		}
	}
	// Rebinding replaces the session.
	if err := store.SaveBinding(ctx, &models.ChannelBinding{Channel: models.ChannelTelegram, ConversationID: "b", SessionID: "s4"}); err != nil {
		t.Fatalf("SaveBinding rebind: %v", err)
	}

	bindings, err := store.ListBindings(ctx, models.ChannelTelegram)
	if err != nil {
		t.Fatalf("ListBindings: %v", err)
	}
	if len(bindings) != 2 || bindings[0].ConversationID != "a" || bindings[1].SessionID != "s4" {
		t.Fatalf("bindings = %+v", bindings)
	}

	if err := store.DeleteBinding(ctx, models.ChannelTelegram, "a"); err != nil {
		t.Fatalf("DeleteBinding: %v", err)
	}
	if err := store.DeleteBinding(ctx, models.ChannelTelegram, "a"); !errors.Is(err, ErrBindingNotFound) {
		t.Fatalf("second DeleteBinding err = %v", err)
	}
	discord, _ := store.ListBindings(ctx, models.ChannelDiscord)
	if len(discord) != 1 {
		t.Fatalf("discord bindings = %d", len(discord))
	}
}

func testListSessions(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, agentID := range []string{"a", "b", "a"} {
		s := &models.Session{ID: string(rune('x' + i)), AgentID: agentID, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	all, err := store.ListSessions(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 || all[0].ID != "z" || all[2].ID != "x" {
		t.Fatalf("ListSessions order = %v", ids(all))
	}

	onlyA, _ := store.ListSessions(ctx, ListOptions{AgentID: "a"})
	if len(onlyA) != 2 {
		t.Fatalf("ListSessions(agent a) = %v", ids(onlyA))
	}

	page, _ := store.ListSessions(ctx, ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "y" {
		t.Fatalf("ListSessions page = %v", ids(page))
	}
}

func ids(sessions []*models.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestMemoryStoreRejectsDuplicateSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateSession(ctx, &models.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, &models.Session{ID: "s1"}); err == nil {
		t.Fatal("expected duplicate session error")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), SQLConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(context.Background(), SQLConfig{Driver: DriverSQLite}); err == nil {
		t.Fatal("expected missing dsn error")
	}
}
