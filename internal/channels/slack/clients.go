package slack

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// APIClient is the subset of *slack.Client the adapter uses.
type APIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SocketModeClient receives events over a Socket Mode connection.
type SocketModeClient interface {
	// RunContext connects and blocks until ctx is done.
	RunContext(ctx context.Context) error

	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

var _ APIClient = (*slack.Client)(nil)

type realSocketClient struct {
	*socketmode.Client
}

func (c realSocketClient) Events() <-chan socketmode.Event {
	return c.Client.Events
}
