package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible chat completions transport.
// Any server speaking the chat completions streaming protocol works
// (OpenAI, OpenRouter, Ollama, vLLM).
type OpenAIConfig struct {
	// Name is the configured provider name. Defaults to "openai".
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// OpenAIProvider streams chat completions. System prompts travel as a
// leading system message; tool results are separate tool-role messages.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ agent.Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible transport.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: trimBaseURL(cfg.BaseURL, defaultOpenAIBaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Dialect() stream.Dialect { return stream.DialectOpenAI }

func (p *OpenAIProvider) Codec() agent.PayloadCodec { return OpenAICodec{} }

type openaiChatRequest struct {
	Model     string            `json:"model"`
	Stream    bool              `json:"stream"`
	Messages  []json.RawMessage `json:"messages"`
	Tools     []openai.Tool     `json:"tools,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

// Stream sends one streaming chat completion request.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.Request) (io.ReadCloser, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, NewProviderError(p.name, req.Model, errors.New("model is required"))
	}

	messages := make([]json.RawMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		sys, err := json.Marshal(openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
		if err != nil {
			return nil, NewProviderError(p.name, model, err)
		}
		messages = append(messages, sys)
	}
	messages = append(messages, req.Messages...)

	payload := openaiChatRequest{
		Model:     model,
		Stream:    true,
		Messages:  messages,
		Tools:     toOpenAITools(req.Tools),
		MaxTokens: req.MaxTokens,
	}

	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}
	return postStream(ctx, p.client, p.name, model, p.baseURL+"/chat/completions", headers, payload)
}

func toOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var params any = spec.Parameters
		if len(spec.Parameters) == 0 {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// OpenAICodec encodes messages as chat completions messages.
type OpenAICodec struct{}

func (OpenAICodec) EncodeUser(text string) (json.RawMessage, error) {
	return json.Marshal(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
}

func (OpenAICodec) EncodeAssistant(text string, calls []models.ToolCall) (json.RawMessage, error) {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: text,
	}
	for _, call := range calls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return json.Marshal(msg)
}

func (OpenAICodec) EncodeToolResult(call models.ToolCall, result string) (json.RawMessage, error) {
	return json.Marshal(openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    result,
		ToolCallID: call.ID,
	})
}
