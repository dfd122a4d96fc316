package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	bridgemodels "github.com/haasonsaas/agentbridge/pkg/models"
)

// mockBotClient records outbound calls and exposes the registered handler.
type mockBotClient struct {
	mu       sync.Mutex
	sent     []*bot.SendMessageParams
	commands *bot.SetMyCommandsParams
	handler  bot.HandlerFunc
	started  chan struct{}
	sendErr  error
}

func newMockBotClient() *mockBotClient {
	return &mockBotClient{started: make(chan struct{})}
}

func (m *mockBotClient) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, params)
	return &models.Message{ID: len(m.sent)}, nil
}

func (m *mockBotClient) SetMyCommands(_ context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = params
	return true, nil
}

func (m *mockBotClient) RegisterHandler(_ bot.HandlerType, _ string, _ bot.MatchType, handler bot.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *mockBotClient) Start(ctx context.Context) {
	close(m.started)
	<-ctx.Done()
}

func (m *mockBotClient) deliver(ctx context.Context, update *models.Update) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(ctx, nil, update)
}

func newTestAdapter(t *testing.T) (*Adapter, *mockBotClient) {
	t.Helper()
	client := newMockBotClient()
	adapter, err := NewAdapter(Config{Client: client, RateLimit: 1000, RateBurst: 100})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	return adapter, client
}

func textUpdate(chatID int64, messageID int, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   messageID,
		Chat: models.Chat{ID: chatID},
		From: &models.User{ID: 7},
		Text: text,
	}}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); channels.GetErrorCode(err) != channels.ErrCodeConfig {
		t.Fatalf("Validate() err = %v, want config error", err)
	}
	cfg = Config{Token: "test-token"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.RateLimit != 30 || cfg.RateBurst != 20 || cfg.Logger == nil {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	adapter, client := newTestAdapter(t)
	if adapter.Name() != bridgemodels.ChannelTelegram {
		t.Fatalf("Name() = %s", adapter.Name())
	}

	ctx := context.Background()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-client.started
	if err := adapter.Start(ctx); err == nil {
		t.Fatal("second Start() should fail")
	}

	client.deliver(ctx, textUpdate(42, 5, "hello"))
	ev := <-adapter.Events()
	msg, ok := ev.(*channels.MessageEvent)
	if !ok || msg.ConversationID != "42" || msg.MessageID != "5" || msg.UserID != "7" || msg.Text != "hello" {
		t.Fatalf("event = %#v", ev)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := adapter.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := <-adapter.Events(); ok {
		t.Fatal("Events() should be closed after Stop")
	}
}

func TestAdapter_CommandAliases(t *testing.T) {
	adapter, client := newTestAdapter(t)
	ctx := context.Background()

	defs := []commands.Definition{
		{Command: "new", Description: "Start a new session"},
		{Command: "change-agent", Description: "Switch agent"},
		{Command: "Bad Name!", Description: "skipped"},
	}
	if err := adapter.SetCommands(ctx, defs); err != nil {
		t.Fatalf("SetCommands() error = %v", err)
	}
	if got := client.commands.Commands; len(got) != 2 || got[1].Command != "change_agent" {
		t.Fatalf("registered commands = %+v", got)
	}

	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer adapter.Stop(ctx)

	client.deliver(ctx, textUpdate(42, 6, "/change_agent@agentbridge_bot coder"))
	ev := <-adapter.Events()
	cmd, ok := ev.(*channels.CommandEvent)
	if !ok || cmd.Command != "change-agent" || cmd.Args != "coder" {
		t.Fatalf("event = %#v", ev)
	}
}

func TestAdapter_SendSplitsAndReplies(t *testing.T) {
	adapter, client := newTestAdapter(t)
	ctx := context.Background()

	long := strings.Repeat("a", channels.TelegramMaxMessageLength) + " tail"
	if err := adapter.Reply(ctx, "42", "9", long); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if len(client.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(client.sent))
	}
	if client.sent[0].ReplyParameters == nil || client.sent[0].ReplyParameters.MessageID != 9 {
		t.Fatalf("first chunk reply params = %+v", client.sent[0].ReplyParameters)
	}
	if client.sent[1].ReplyParameters != nil {
		t.Fatal("only the first chunk should reply")
	}
	if client.sent[0].ChatID != int64(42) {
		t.Fatalf("ChatID = %v", client.sent[0].ChatID)
	}
}

func TestAdapter_SendErrors(t *testing.T) {
	adapter, client := newTestAdapter(t)
	ctx := context.Background()

	if err := adapter.Send(ctx, "not-a-chat", "hi"); channels.GetErrorCode(err) != channels.ErrCodeInvalidInput {
		t.Fatalf("Send() err = %v, want invalid input", err)
	}

	client.sendErr = errors.New("Too Many Requests: retry after 3")
	err := adapter.Send(ctx, "42", "hi")
	if channels.GetErrorCode(err) != channels.ErrCodeRateLimit || !channels.IsRetryable(err) {
		t.Fatalf("Send() err = %v, want retryable rate limit", err)
	}

	client.sendErr = errors.New("Unauthorized")
	if err := adapter.Send(ctx, "42", "hi"); channels.GetErrorCode(err) != channels.ErrCodeAuthentication {
		t.Fatalf("Send() err = %v, want authentication", err)
	}
}
