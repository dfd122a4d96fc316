package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	defaultAnthropicTokens  = 4096
)

// AnthropicConfig configures the Anthropic Messages transport.
type AnthropicConfig struct {
	// Name is the configured provider name. Defaults to "anthropic".
	Name    string
	BaseURL string
	APIKey  string
	Version string
	Timeout time.Duration

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// AnthropicProvider streams Messages API responses.
//
// Differences from the chat completions transport:
//   - the system prompt is a top-level parameter, not a message
//   - tool results are tool_result blocks inside user messages
//   - max_tokens is mandatory
type AnthropicProvider struct {
	name    string
	baseURL string
	apiKey  string
	version string
	client  *http.Client
}

var _ agent.Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic transport.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "anthropic"
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultAnthropicVersion
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &AnthropicProvider{
		name:    name,
		baseURL: trimBaseURL(cfg.BaseURL, defaultAnthropicBaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		version: version,
		client:  client,
	}, nil
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Dialect() stream.Dialect { return stream.DialectAnthropic }

func (p *AnthropicProvider) Codec() agent.PayloadCodec { return AnthropicCodec{} }

type anthropicMessagesRequest struct {
	Model     string                     `json:"model"`
	MaxTokens int                        `json:"max_tokens"`
	System    string                     `json:"system,omitempty"`
	Messages  []json.RawMessage          `json:"messages"`
	Tools     []anthropic.ToolUnionParam `json:"tools,omitempty"`
	Stream    bool                       `json:"stream"`
}

// Stream sends one streaming Messages request.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.Request) (io.ReadCloser, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, NewProviderError(p.name, req.Model, errors.New("model is required"))
	}

	messages, err := mergeConsecutiveRoles(req.Messages)
	if err != nil {
		return nil, NewProviderError(p.name, model, fmt.Errorf("invalid request history: %w", err))
	}
	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return nil, NewProviderError(p.name, model, fmt.Errorf("invalid request tools: %w", err))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicTokens
	}
	payload := anthropicMessagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  messages,
		Tools:     tools,
		Stream:    true,
	}

	headers := http.Header{}
	headers.Set("x-api-key", p.apiKey)
	headers.Set("anthropic-version", p.version)
	return postStream(ctx, p.client, p.name, model, p.baseURL+"/v1/messages", headers, payload)
}

func toAnthropicTools(specs []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if len(spec.Parameters) > 0 {
			if err := json.Unmarshal(spec.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		if spec.Description != "" {
			toolParam.OfTool.Description = anthropic.String(spec.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

type rawTurn struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

// mergeConsecutiveRoles folds adjacent messages with the same role into one,
// so that several tool results answer a single tool_use turn.
func mergeConsecutiveRoles(messages []json.RawMessage) ([]json.RawMessage, error) {
	turns := make([]rawTurn, 0, len(messages))
	for i, raw := range messages {
		var turn rawTurn
		if err := json.Unmarshal(raw, &turn); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		if n := len(turns); n > 0 && turns[n-1].Role == turn.Role {
			turns[n-1].Content = append(turns[n-1].Content, turn.Content...)
			continue
		}
		turns = append(turns, turn)
	}
	out := make([]json.RawMessage, len(turns))
	for i, turn := range turns {
		raw, err := json.Marshal(turn)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

// AnthropicCodec encodes messages as Messages API message params.
type AnthropicCodec struct{}

func (AnthropicCodec) EncodeUser(text string) (json.RawMessage, error) {
	return json.Marshal(anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
}

func (AnthropicCodec) EncodeAssistant(text string, calls []models.ToolCall) (json.RawMessage, error) {
	var content []anthropic.ContentBlockParamUnion
	if text != "" || len(calls) == 0 {
		content = append(content, anthropic.NewTextBlock(text))
	}
	for _, call := range calls {
		input := map[string]any{}
		if strings.TrimSpace(call.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
				// The model produced broken arguments; keep the turn replayable.
				input = map[string]any{}
			}
		}
		content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
	}
	return json.Marshal(anthropic.NewAssistantMessage(content...))
}

func (AnthropicCodec) EncodeToolResult(call models.ToolCall, result string) (json.RawMessage, error) {
	isError := strings.HasPrefix(result, "Error: ")
	return json.Marshal(anthropic.NewUserMessage(anthropic.NewToolResultBlock(call.ID, result, isError)))
}
