// Package telegram connects the bridge to Telegram bots via long polling.
package telegram

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	bridgemodels "github.com/haasonsaas/agentbridge/pkg/models"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required unless Client is set)
	Token string

	// Client replaces the real bot, for tests.
	Client BotClient

	// RateLimit is outbound messages per second. Default: 30
	RateLimit float64

	// RateBurst is the outbound burst capacity. Default: 20
	RateBurst int

	QueueSize int
	Logger    *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" && c.Client == nil {
		return channels.ErrConfig("token is required", nil)
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Telegram command names allow only lowercase letters, digits and underscores.
var commandNameRe = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	config  Config
	client  BotClient
	queue   *channels.EventQueue
	parser  *commands.Parser
	limiter *channels.RateLimiter
	logger  *slog.Logger

	mu      sync.RWMutex
	aliases map[string]string // telegram command name -> command name
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ channels.Adapter = (*Adapter)(nil)

// NewAdapter validates config and creates an adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:  config,
		client:  config.Client,
		queue:   channels.NewEventQueue(config.QueueSize),
		parser:  commands.NewParser("/"),
		limiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:  config.Logger.With("adapter", "telegram"),
		aliases: make(map[string]string),
	}, nil
}

// Name returns the channel type.
func (a *Adapter) Name() bridgemodels.ChannelType {
	return bridgemodels.ChannelTelegram
}

// Start connects the bot and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	client, err := a.ensureClient()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return channels.ErrInternal("adapter already started", nil)
	}

	client.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		a.handleUpdate(ctx, update)
	})

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		client.Start(runCtx)
	}()

	a.logger.Info("telegram adapter started")
	return nil
}

// Stop ends polling and closes Events.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		a.queue.Close()
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	defer a.queue.Close()

	select {
	case <-done:
		a.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Events returns inbound messages and commands.
func (a *Adapter) Events() <-chan channels.Event {
	return a.queue.Events()
}

// Send posts text to a chat, split to Telegram's size limit.
func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	return a.send(ctx, conversationID, 0, text)
}

// Reply posts text as a reply to messageID.
func (a *Adapter) Reply(ctx context.Context, conversationID, messageID, text string) error {
	replyTo, err := strconv.Atoi(messageID)
	if err != nil {
		return channels.ErrInvalidInput("invalid message id", err)
	}
	return a.send(ctx, conversationID, replyTo, text)
}

func (a *Adapter) send(ctx context.Context, conversationID string, replyTo int, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return channels.ErrInvalidInput("invalid chat id", err)
	}
	client, err := a.ensureClient()
	if err != nil {
		return err
	}

	for i, chunk := range channels.SplitMessage(text, channels.TelegramMaxMessageLength) {
		if err := a.limiter.Wait(ctx); err != nil {
			return channels.ErrTimeout("rate limit wait cancelled", err)
		}
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		if replyTo != 0 && i == 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
		}
		if _, err := client.SendMessage(ctx, params); err != nil {
			a.logger.Error("failed to send message", "chat_id", chatID, "error", err)
			return classifyError(err)
		}
	}
	return nil
}

// SetCommands registers the bot menu. Names Telegram rejects are mapped
// by replacing '-' with '_' and translated back on receipt.
func (a *Adapter) SetCommands(ctx context.Context, defs []commands.Definition) error {
	client, err := a.ensureClient()
	if err != nil {
		return err
	}

	aliases := make(map[string]string, len(defs))
	botCommands := make([]models.BotCommand, 0, len(defs))
	for _, def := range defs {
		name := strings.ReplaceAll(strings.ToLower(def.Command), "-", "_")
		if !commandNameRe.MatchString(name) {
			a.logger.Warn("skipping command telegram cannot register", "command", def.Command)
			continue
		}
		desc := def.Description
		if desc == "" {
			desc = def.Command
		}
		aliases[name] = def.Command
		botCommands = append(botCommands, models.BotCommand{Command: name, Description: desc})
	}

	a.mu.Lock()
	a.aliases = aliases
	a.mu.Unlock()

	if _, err := client.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: botCommands}); err != nil {
		return classifyError(err)
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	conversationID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}

	ev := channels.ParseText(a.parser, conversationID, strconv.Itoa(msg.ID), userID, msg.Text)
	if cmd, ok := ev.(*channels.CommandEvent); ok {
		a.mu.RLock()
		if name, ok := a.aliases[cmd.Command]; ok {
			cmd.Command = name
		}
		a.mu.RUnlock()
	}

	a.logger.Debug("received update", "chat_id", msg.Chat.ID, "message_id", msg.ID)
	if !a.queue.Push(ctx, ev) {
		a.logger.Warn("dropping update after shutdown", "chat_id", msg.Chat.ID)
	}
}

// ensureClient creates the bot on first use; SetCommands may run before Start.
func (a *Adapter) ensureClient() (BotClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	b, err := bot.New(a.config.Token)
	if err != nil {
		return nil, channels.ErrAuthentication("failed to create bot", err)
	}
	a.client = newRealBotClient(b)
	return a.client, nil
}

// classifyError maps Bot API failures onto channel error codes.
func classifyError(err error) error {
	text := err.Error()
	switch {
	case strings.Contains(text, "Too Many Requests") || strings.Contains(text, "429"):
		return channels.ErrRateLimit("telegram rate limit exceeded", err)
	case strings.Contains(text, "Unauthorized") || strings.Contains(text, "401"):
		return channels.ErrAuthentication("telegram rejected the bot token", err)
	case strings.Contains(text, "Bad Request") || strings.Contains(text, "400"):
		return channels.ErrInvalidInput("telegram rejected the request", err)
	default:
		return channels.ErrConnection("telegram request failed", err)
	}
}
