// Package console is a channel adapter over a line-oriented terminal,
// used by "agentbridge chat".
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/commands"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// ConversationID is the single conversation a console adapter carries.
const ConversationID = "console"

// Config configures the console adapter.
type Config struct {
	In     io.Reader
	Out    io.Writer
	User   string
	Prompt string
	Logger *slog.Logger
}

// Adapter implements channels.Adapter for stdin/stdout.
type Adapter struct {
	in     io.Reader
	out    io.Writer
	user   string
	prompt string
	parser *commands.Parser
	queue  *channels.EventQueue
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	seq     int
}

var _ channels.Adapter = (*Adapter)(nil)

// NewAdapter creates a console adapter. In and Out default to the process
// stdin and stdout.
func NewAdapter(cfg Config) *Adapter {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.User == "" {
		cfg.User = "local"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		in:     cfg.In,
		out:    cfg.Out,
		user:   cfg.User,
		prompt: cfg.Prompt,
		parser: commands.NewParser("/"),
		queue:  channels.NewEventQueue(0),
		logger: cfg.Logger.With("adapter", "console"),
	}
}

// Name returns the channel type.
func (a *Adapter) Name() models.ChannelType {
	return models.ChannelConsole
}

// Start begins reading lines. Each non-blank line becomes one event; the
// Events channel closes at end of input or on Stop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return channels.ErrInternal("adapter already started", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.read(runCtx)
	a.printPrompt()
	return nil
}

func (a *Adapter) read(ctx context.Context) {
	defer close(a.done)
	defer a.queue.Close()

	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			a.printPrompt()
			continue
		}
		a.mu.Lock()
		a.seq++
		msgID := strconv.Itoa(a.seq)
		a.mu.Unlock()

		if !a.queue.Push(ctx, channels.ParseText(a.parser, ConversationID, msgID, a.user, line)) {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		a.logger.Error("failed to read input", "error", err)
	}
}

// Stop ends the session. A reader blocked on input is abandoned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		a.queue.Close()
		return nil
	}
	cancel()
	a.queue.Close()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// Events returns inbound lines as events.
func (a *Adapter) Events() <-chan channels.Event {
	return a.queue.Events()
}

// Send writes text followed by the prompt.
func (a *Adapter) Send(_ context.Context, conversationID, text string) error {
	if conversationID != ConversationID {
		return channels.ErrInvalidInput(fmt.Sprintf("unknown conversation %q", conversationID), nil)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := fmt.Fprintln(a.out, text); err != nil {
		return channels.ErrConnection("failed to write output", err)
	}
	a.printPromptLocked()
	return nil
}

// Reply is Send; the terminal has no threads.
func (a *Adapter) Reply(ctx context.Context, conversationID, _ string, text string) error {
	return a.Send(ctx, conversationID, text)
}

// SetCommands prints the command list once.
func (a *Adapter) SetCommands(_ context.Context, defs []commands.Definition) error {
	if len(defs) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("Commands:")
	for _, def := range defs {
		b.WriteString("\n  /")
		b.WriteString(def.Command)
		if def.AcceptsArgs && def.Usage != "" {
			b.WriteString(" <" + def.Usage + ">")
		}
		if def.Description != "" {
			b.WriteString(" - " + def.Description)
		}
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := fmt.Fprintln(a.out, b.String()); err != nil {
		return channels.ErrConnection("failed to write output", err)
	}
	return nil
}

func (a *Adapter) printPrompt() {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.printPromptLocked()
}

func (a *Adapter) printPromptLocked() {
	if a.prompt != "" {
		fmt.Fprint(a.out, a.prompt)
	}
}
