package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

type sentMessage struct {
	channelID string
	content   string
	replyTo   string
}

// mockDiscordSession is a mock implementation for testing
type mockDiscordSession struct {
	mu            sync.Mutex
	openCalled    bool
	closeCalled   bool
	handlers      int
	sent          []sentMessage
	responses     []*discordgo.InteractionResponse
	overwriteApp  string
	overwriteCmds []*discordgo.ApplicationCommand
	sendErr       error
}

func (m *mockDiscordSession) Open() error {
	m.openCalled = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.closeCalled = true
	return nil
}

func (m *mockDiscordSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ID: "test-msg-id", ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendReply(channelID string, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content, replyTo: ref.MessageID})
	return &discordgo.Message{ID: "test-msg-id", ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(appID, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overwriteApp = appID
	m.overwriteCmds = cmds
	return cmds, nil
}

func (m *mockDiscordSession) AddHandler(_ interface{}) func() {
	m.handlers++
	return func() {}
}

func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *mockDiscordSession) {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	cfg.RateLimit = 1000
	cfg.RateBurst = 100
	session := &mockDiscordSession{}
	adapter, err := newAdapterWithSession(cfg, session)
	if err != nil {
		t.Fatalf("newAdapterWithSession() error = %v", err)
	}
	return adapter, session
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); channels.GetErrorCode(err) != channels.ErrCodeConfig {
		t.Fatalf("Validate() err = %v, want config error", err)
	}
	cfg = Config{Token: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.MaxReconnectAttempts != 5 || cfg.RateLimit != 5 || cfg.RateBurst != 10 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	adapter, session := newTestAdapter(t, Config{})
	ctx := context.Background()

	if adapter.Name() != models.ChannelDiscord {
		t.Fatalf("Name() = %s", adapter.Name())
	}
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !session.openCalled || session.handlers != 3 {
		t.Fatalf("open=%v handlers=%d", session.openCalled, session.handlers)
	}
	if err := adapter.Start(ctx); err == nil {
		t.Fatal("second Start() should fail")
	}

	adapter.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m1", ChannelID: "c1", Content: "hello", Author: &discordgo.User{ID: "u1"},
	}})
	adapter.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m2", ChannelID: "c1", Content: "from a bot", Author: &discordgo.User{ID: "b1", Bot: true},
	}})
	adapter.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "m3", ChannelID: "c1", Content: "/agents", Author: &discordgo.User{ID: "u1"},
	}})

	first := <-adapter.Events()
	if msg, ok := first.(*channels.MessageEvent); !ok || msg.Text != "hello" || msg.MessageID != "m1" {
		t.Fatalf("first event = %#v", first)
	}
	second := <-adapter.Events()
	if cmd, ok := second.(*channels.CommandEvent); !ok || cmd.Command != "agents" {
		t.Fatalf("second event = %#v", second)
	}

	if err := adapter.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !session.closeCalled {
		t.Fatal("session not closed")
	}
	if _, ok := <-adapter.Events(); ok {
		t.Fatal("Events() should be closed after Stop")
	}
}

func TestAdapter_SlashCommands(t *testing.T) {
	adapter, session := newTestAdapter(t, Config{})
	ctx := context.Background()

	defs := []commands.Definition{
		{Command: "new", Description: "Start a new session"},
		{Command: "change-agent", Description: "Switch agent", Usage: "agent id", AcceptsArgs: true},
	}
	if err := adapter.SetCommands(ctx, defs); err != nil {
		t.Fatalf("SetCommands() error = %v", err)
	}
	if session.overwriteCmds != nil {
		t.Fatal("commands registered before the gateway was ready")
	}
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer adapter.Stop(ctx)

	adapter.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app-1", Username: "bridge"}})
	if session.overwriteApp != "app-1" || len(session.overwriteCmds) != 2 {
		t.Fatalf("overwrite app=%q cmds=%d", session.overwriteApp, len(session.overwriteCmds))
	}
	opts := session.overwriteCmds[1].Options
	if len(opts) != 1 || opts[0].Name != "args" || opts[0].Required {
		t.Fatalf("change-agent options = %+v", opts)
	}

	adapter.handleInteractionCreate(nil, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "c9",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u2"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "change-agent",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "args", Type: discordgo.ApplicationCommandOptionString, Value: "coder"},
			},
		},
	}})

	ev := <-adapter.Events()
	cmd, ok := ev.(*channels.CommandEvent)
	if !ok || cmd.Command != "change-agent" || cmd.Args != "coder" || cmd.ConversationID != "c9" || cmd.UserID != "u2" || cmd.MessageID != "" {
		t.Fatalf("event = %#v", ev)
	}
	if len(session.responses) != 1 || session.responses[0].Data.Content != "/change-agent coder" {
		t.Fatalf("interaction responses = %+v", session.responses)
	}
}

func TestAdapter_SendAndReply(t *testing.T) {
	adapter, session := newTestAdapter(t, Config{})
	ctx := context.Background()

	long := strings.Repeat("word ", 500)
	if err := adapter.Reply(ctx, "c1", "m1", long); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if len(session.sent) < 2 {
		t.Fatalf("sent %d messages, want a split reply", len(session.sent))
	}
	if session.sent[0].replyTo != "m1" || session.sent[1].replyTo != "" {
		t.Fatalf("reply references = %q, %q", session.sent[0].replyTo, session.sent[1].replyTo)
	}
	for _, m := range session.sent {
		if len(m.content) > channels.DiscordMaxMessageLength {
			t.Fatalf("chunk too long: %d", len(m.content))
		}
	}

	if err := adapter.Send(ctx, "", "hi"); channels.GetErrorCode(err) != channels.ErrCodeInvalidInput {
		t.Fatalf("Send() err = %v, want invalid input", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		status int
		want   channels.ErrorCode
	}{
		{http.StatusTooManyRequests, channels.ErrCodeRateLimit},
		{http.StatusForbidden, channels.ErrCodeAuthentication},
		{http.StatusNotFound, channels.ErrCodeInvalidInput},
		{http.StatusBadGateway, channels.ErrCodeConnection},
	}
	for _, tt := range tests {
		err := &discordgo.RESTError{Response: &http.Response{StatusCode: tt.status}}
		if got := channels.GetErrorCode(classifyError(err)); got != tt.want {
			t.Errorf("status %d: code = %s, want %s", tt.status, got, tt.want)
		}
	}
	if got := channels.GetErrorCode(classifyError(errors.New("eof"))); got != channels.ErrCodeConnection {
		t.Errorf("plain error code = %s", got)
	}
}
