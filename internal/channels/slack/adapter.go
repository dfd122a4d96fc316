// Package slack connects the bridge to Slack over Socket Mode.
//
// Direct messages, mentions of the bot, and replies in threads are
// delivered. Slash commands configured in the Slack app arrive as command
// events; "!name" text works where slash commands are not set up.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Config holds the configuration for the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode

	// RateLimit is outbound messages per second. Default: 1
	RateLimit float64

	// RateBurst is the outbound burst capacity. Default: 3
	RateBurst int

	QueueSize int
	Logger    *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return channels.ErrConfig("bot_token is required", nil)
	}
	if c.AppToken == "" {
		return channels.ErrConfig("app_token is required", nil)
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return channels.ErrConfig("app_token must be an app-level token (xapp-)", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1
	}
	if c.RateBurst == 0 {
		c.RateBurst = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	cfg     Config
	api     APIClient
	socket  SocketModeClient
	queue   *channels.EventQueue
	parser  *commands.Parser
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu        sync.RWMutex
	botUserID string
	defs      []commands.Definition
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ channels.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter with real Slack clients.
func NewAdapter(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client, socketmode.OptionDebug(false))
	return newAdapter(cfg, client, realSocketClient{socket}), nil
}

// NewAdapterWithClients creates an adapter over injected clients.
func NewAdapterWithClients(cfg Config, api APIClient, socket SocketModeClient) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if api == nil || socket == nil {
		return nil, channels.ErrConfig("api and socket clients are required", nil)
	}
	return newAdapter(cfg, api, socket), nil
}

func newAdapter(cfg Config, api APIClient, socket SocketModeClient) *Adapter {
	return &Adapter{
		cfg:     cfg,
		api:     api,
		socket:  socket,
		queue:   channels.NewEventQueue(cfg.QueueSize),
		parser:  commands.NewParser("!"),
		limiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  cfg.Logger.With("adapter", "slack"),
	}
}

// Name returns the channel type.
func (a *Adapter) Name() models.ChannelType {
	return models.ChannelSlack
}

// Start authenticates and opens the Socket Mode connection.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return channels.ErrAuthentication("failed to authenticate with Slack", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return channels.ErrInternal("adapter already started", nil)
	}
	a.botUserID = auth.UserID
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.handleEvents(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("socket mode stopped", "error", err)
		}
	}()

	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

// Stop closes the connection and Events.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	defer a.queue.Close()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("slack adapter stopped")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Events returns inbound messages and commands.
func (a *Adapter) Events() <-chan channels.Event {
	return a.queue.Events()
}

// Send posts text to a channel.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	return a.post(ctx, conversationID, "", text)
}

// Reply posts text in the thread of messageID.
func (a *Adapter) Reply(ctx context.Context, conversationID, messageID, text string) error {
	return a.post(ctx, conversationID, messageID, text)
}

func (a *Adapter) post(ctx context.Context, channelID, threadTS, text string) error {
	if channelID == "" {
		return channels.ErrInvalidInput("channel id is required", nil)
	}
	for _, chunk := range channels.SplitMessage(text, channels.SlackMaxMessageLength) {
		if err := a.limiter.Wait(ctx); err != nil {
			return channels.ErrTimeout("rate limit wait cancelled", err)
		}
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := a.api.PostMessageContext(ctx, channelID, opts...); err != nil {
			a.logger.Error("failed to post message", "channel_id", channelID, "error", err)
			return classifyError(err)
		}
	}
	return nil
}

// SetCommands records the command table. Slack slash commands are
// declared in the app manifest, so nothing is registered remotely.
func (a *Adapter) SetCommands(_ context.Context, defs []commands.Definition) error {
	a.mu.Lock()
	a.defs = append([]commands.Definition(nil), defs...)
	a.mu.Unlock()
	a.logger.Debug("slash commands must be declared in the Slack app manifest", "count", len(defs))
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events():
			if !ok {
				return
			}
			a.handleEvent(ctx, event)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, event socketmode.Event) {
	switch event.Type {
	case socketmode.EventTypeConnecting:
		a.logger.Debug("connecting to socket mode")
	case socketmode.EventTypeConnectionError:
		a.logger.Warn("socket mode connection error", "error", event.Data)
	case socketmode.EventTypeConnected:
		a.logger.Info("connected to socket mode")

	case socketmode.EventTypeEventsAPI:
		a.ack(event)
		apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		switch ev := apiEvent.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			a.handleMessage(ctx, &slackevents.MessageEvent{
				User:            ev.User,
				Text:            ev.Text,
				Channel:         ev.Channel,
				TimeStamp:       ev.TimeStamp,
				ThreadTimeStamp: ev.ThreadTimeStamp,
				BotID:           ev.BotID,
			}, true)
		case *slackevents.MessageEvent:
			a.handleMessage(ctx, ev, false)
		}

	case socketmode.EventTypeSlashCommand:
		a.ack(event)
		cmd, ok := event.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		a.push(ctx, &channels.CommandEvent{
			ConversationID: cmd.ChannelID,
			UserID:         cmd.UserID,
			Command:        strings.ToLower(strings.TrimPrefix(cmd.Command, "/")),
			Args:           strings.TrimSpace(cmd.Text),
		})

	case socketmode.EventTypeInteractive:
		a.ack(event)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, ev *slackevents.MessageEvent, mentioned bool) {
	a.mu.RLock()
	botUserID := a.botUserID
	a.mu.RUnlock()

	if ev.BotID != "" || ev.User == "" || ev.User == botUserID || ev.SubType != "" {
		return
	}
	mention := fmt.Sprintf("<@%s>", botUserID)
	isDM := strings.HasPrefix(ev.Channel, "D")
	if !mentioned && !isDM && ev.ThreadTimeStamp == "" {
		return
	}
	// Mentions also arrive as plain message events; the app_mention copy is used.
	if !mentioned && !isDM && strings.Contains(ev.Text, mention) {
		return
	}

	text := strings.TrimSpace(strings.ReplaceAll(ev.Text, mention, ""))
	if text == "" {
		return
	}
	a.push(ctx, channels.ParseText(a.parser, ev.Channel, ev.TimeStamp, ev.User, text))
}

func (a *Adapter) push(ctx context.Context, ev channels.Event) {
	if !a.queue.Push(ctx, ev) {
		a.logger.Warn("dropping event after shutdown", "conversation_id", ev.Conversation())
	}
}

func (a *Adapter) ack(event socketmode.Event) {
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
}

// classifyError maps Web API failures onto channel error codes.
func classifyError(err error) error {
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return channels.ErrRateLimit("slack rate limit exceeded", err)
	}
	switch text := err.Error(); {
	case strings.Contains(text, "invalid_auth") || strings.Contains(text, "not_authed") || strings.Contains(text, "token_revoked"):
		return channels.ErrAuthentication("slack rejected the token", err)
	case strings.Contains(text, "channel_not_found") || strings.Contains(text, "not_in_channel") || strings.Contains(text, "msg_too_long"):
		return channels.ErrInvalidInput("slack rejected the message", err)
	default:
		return channels.ErrConnection("slack request failed", err)
	}
}
