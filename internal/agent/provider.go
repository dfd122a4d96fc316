package agent

import (
	"context"
	"encoding/json"
	"io"

	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Provider is a model-provider transport. Stream issues one streaming
// completion request and returns the raw response body for the Decoder
// named by Dialect. Cancelling ctx must abort the request.
type Provider interface {
	Name() string
	Dialect() stream.Dialect
	Codec() PayloadCodec
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// PayloadCodec builds the provider-native raw payloads stored with each
// message. The engine replays them verbatim and never inspects them.
type PayloadCodec interface {
	EncodeUser(text string) (json.RawMessage, error)
	EncodeAssistant(text string, calls []models.ToolCall) (json.RawMessage, error)
	EncodeToolResult(call models.ToolCall, result string) (json.RawMessage, error)
}

// Request is one streaming completion request.
type Request struct {
	Model     string
	System    string
	MaxTokens int

	// Messages is the full ordered history in raw payload form.
	Messages []json.RawMessage

	Tools []ToolSpec
}

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ProviderSet resolves providers by configured name.
type ProviderSet map[string]Provider

// Get returns the provider registered under name.
func (s ProviderSet) Get(name string) (Provider, bool) {
	p, ok := s[name]
	return p, ok && p != nil
}
