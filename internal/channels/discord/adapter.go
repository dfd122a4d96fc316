// Package discord connects the bridge to Discord over the gateway, with
// commands exposed both as slash commands and as "/name" message text.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// discordSession is the subset of *discordgo.Session the adapter uses.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	AddHandler(handler interface{}) func()
}

// Config holds configuration for the Discord adapter.
type Config struct {
	// Token is the bot token from Discord Developer Portal (required)
	Token string

	// ApplicationID registers slash commands before the gateway is ready.
	// When empty it is learned from the Ready event.
	ApplicationID string

	// GuildID scopes slash commands to one guild; empty registers them globally.
	GuildID string

	// MaxReconnectAttempts bounds the initial connection attempts. Default: 5
	MaxReconnectAttempts int

	// ReconnectBackoff caps the delay between attempts. Default: 60s
	ReconnectBackoff time.Duration

	// RateLimit is outbound messages per second. Default: 5
	RateLimit float64

	// RateBurst is the outbound burst capacity. Default: 10
	RateBurst int

	QueueSize int
	Logger    *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	config  Config
	session discordSession
	queue   *channels.EventQueue
	parser  *commands.Parser
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu         sync.RWMutex
	appID      string
	defs       []commands.Definition
	ctx        context.Context
	cancel     context.CancelFunc
	removers   []func()
	connected  bool
	registered bool
}

var _ channels.Adapter = (*Adapter)(nil)

// NewAdapter validates config and creates an adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:  config,
		queue:   channels.NewEventQueue(config.QueueSize),
		parser:  commands.NewParser("/"),
		limiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:  config.Logger.With("adapter", "discord"),
		appID:   config.ApplicationID,
		ctx:     context.Background(),
	}, nil
}

// newAdapterWithSession injects a session, for tests.
func newAdapterWithSession(config Config, session discordSession) (*Adapter, error) {
	a, err := NewAdapter(config)
	if err != nil {
		return nil, err
	}
	a.session = session
	return a, nil
}

// Name returns the channel type.
func (a *Adapter) Name() models.ChannelType {
	return models.ChannelDiscord
}

// Start opens the gateway connection.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return channels.ErrInternal("adapter already started", nil)
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return channels.ErrAuthentication("failed to create Discord session", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentMessageContent
		a.session = dg
	}

	a.removers = append(a.removers,
		a.session.AddHandler(a.handleMessageCreate),
		a.session.AddHandler(a.handleInteractionCreate),
		a.session.AddHandler(a.handleReady),
	)

	if err := a.connectWithRetry(ctx); err != nil {
		return err
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.connected = true
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection and Events.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.queue.Close()
	if !a.connected {
		return nil
	}
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.session.Close(); err != nil {
		return channels.ErrConnection("failed to close Discord session", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

// Events returns inbound messages and commands.
func (a *Adapter) Events() <-chan channels.Event {
	return a.queue.Events()
}

// Send posts text to a channel, split to Discord's size limit.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	return a.send(ctx, conversationID, "", text)
}

// Reply posts text referencing messageID. An empty messageID (slash
// command interactions) posts plainly.
func (a *Adapter) Reply(ctx context.Context, conversationID, messageID, text string) error {
	return a.send(ctx, conversationID, messageID, text)
}

func (a *Adapter) send(ctx context.Context, channelID, replyTo, text string) error {
	if channelID == "" {
		return channels.ErrInvalidInput("channel id is required", nil)
	}
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return channels.ErrInternal("session not initialized", nil)
	}

	for i, chunk := range channels.SplitMessage(text, channels.DiscordMaxMessageLength) {
		if err := a.limiter.Wait(ctx); err != nil {
			return channels.ErrTimeout("rate limit wait cancelled", err)
		}
		var err error
		if replyTo != "" && i == 0 {
			_, err = session.ChannelMessageSendReply(channelID, chunk, &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: channelID,
			}, discordgo.WithContext(ctx))
		} else {
			_, err = session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			a.logger.Error("failed to send message", "channel_id", channelID, "error", err)
			return classifyError(err)
		}
	}
	return nil
}

// SetCommands registers slash commands once the gateway is connected and
// the application id is known.
func (a *Adapter) SetCommands(ctx context.Context, defs []commands.Definition) error {
	a.mu.Lock()
	a.defs = append([]commands.Definition(nil), defs...)
	a.registered = false
	appID := a.appID
	session := a.session
	ready := a.connected
	a.mu.Unlock()

	if appID == "" || !ready {
		return nil
	}
	return a.registerCommands(ctx, session, appID)
}

func (a *Adapter) registerCommands(ctx context.Context, session discordSession, appID string) error {
	a.mu.RLock()
	defs := a.defs
	a.mu.RUnlock()

	_, err := session.ApplicationCommandBulkOverwrite(appID, a.config.GuildID, applicationCommands(defs), discordgo.WithContext(ctx))
	if err != nil {
		return classifyError(err)
	}
	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()
	a.logger.Info("registered slash commands", "count", len(defs), "guild_id", a.config.GuildID)
	return nil
}

// applicationCommands converts definitions; commands taking arguments get
// one optional string option.
func applicationCommands(defs []commands.Definition) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, def := range defs {
		desc := def.Description
		if desc == "" {
			desc = def.Command
		}
		if len(desc) > 100 {
			desc = desc[:100]
		}
		cmd := &discordgo.ApplicationCommand{
			Name:        strings.ToLower(def.Command),
			Description: desc,
		}
		if def.AcceptsArgs {
			optDesc := def.Usage
			if optDesc == "" || len(optDesc) > 100 {
				optDesc = "arguments"
			}
			cmd.Options = []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "args",
				Description: optDesc,
			}}
		}
		out = append(out, cmd)
	}
	return out
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot || strings.TrimSpace(m.Content) == "" {
		return
	}
	a.logger.Debug("received message", "channel_id", m.ChannelID, "message_id", m.ID)
	ev := channels.ParseText(a.parser, m.ChannelID, m.ID, m.Author.ID, m.Content)
	a.push(ev)
}

func (a *Adapter) handleInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	var args []string
	for _, opt := range data.Options {
		args = append(args, fmt.Sprint(opt.Value))
	}
	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	echo := "/" + data.Name
	if len(args) > 0 {
		echo += " " + strings.Join(args, " ")
	}
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if err := session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: echo},
	}); err != nil {
		a.logger.Warn("failed to acknowledge interaction", "interaction_id", i.ID, "error", err)
	}

	a.push(&channels.CommandEvent{
		ConversationID: i.ChannelID,
		UserID:         userID,
		Command:        strings.ToLower(data.Name),
		Args:           strings.Join(args, " "),
	})
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	a.mu.Lock()
	if a.appID == "" {
		a.appID = r.User.ID
	}
	appID := a.appID
	session := a.session
	pending := len(a.defs) > 0 && !a.registered
	ctx := a.ctx
	a.mu.Unlock()

	a.logger.Info("discord connection ready", "user", r.User.Username, "guilds", len(r.Guilds))
	if pending {
		if err := a.registerCommands(ctx, session, appID); err != nil {
			a.logger.Error("failed to register slash commands", "error", err)
		}
	}
}

func (a *Adapter) push(ev channels.Event) {
	a.mu.RLock()
	ctx := a.ctx
	a.mu.RUnlock()
	if !a.queue.Push(ctx, ev) {
		a.logger.Warn("dropping event after shutdown", "conversation_id", ev.Conversation())
	}
}

// connectWithRetry must be called with mu held.
func (a *Adapter) connectWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < a.config.MaxReconnectAttempts; attempt++ {
		if err = a.session.Open(); err == nil {
			return nil
		}
		backoff := calculateBackoff(attempt, a.config.ReconnectBackoff)
		a.logger.Warn("connection failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"backoff_ms", backoff.Milliseconds())

		select {
		case <-ctx.Done():
			return channels.ErrTimeout("connect cancelled", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return channels.ErrConnection("failed to connect after retries", err)
}

func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}

// classifyError maps REST failures onto channel error codes.
func classifyError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch code := restErr.Response.StatusCode; {
		case code == 429:
			return channels.ErrRateLimit("discord rate limit exceeded", err)
		case code == 401 || code == 403:
			return channels.ErrAuthentication("discord refused the request", err)
		case code >= 400 && code < 500:
			return channels.ErrInvalidInput("discord rejected the request", err)
		}
	}
	return channels.ErrConnection("discord request failed", err)
}
