package stream

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openAIParser decodes chat.completion.chunk payloads. Continuation fragments
// of a tool call carry only their index, so ids are remembered per index.
type openAIParser struct {
	ids map[int]string
}

func newOpenAIParser() *openAIParser {
	return &openAIParser{ids: make(map[int]string)}
}

type openAIErrorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *openAIParser) parse(payload []byte) ([]Event, error) {
	var envelope openAIErrorEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode openai chunk: %w", err)
	}
	if envelope.Error != nil {
		detail := envelope.Error.Message
		if envelope.Error.Type != "" {
			detail = envelope.Error.Type + ": " + detail
		}
		return []Event{StreamError(detail)}, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("decode openai chunk: %w", err)
	}

	var events []Event
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != "" {
			events = append(events, TextDelta(choice.Delta.Content))
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			if tc.ID != "" {
				p.ids[idx] = tc.ID
			}
			id, ok := p.ids[idx]
			if !ok {
				id = fmt.Sprintf("call_%d", idx)
				p.ids[idx] = id
			}
			events = append(events, ToolCallDelta(id, tc.Function.Name, tc.Function.Arguments))
		}
		if reason := normalizeOpenAIReason(choice.FinishReason); reason != "" {
			events = append(events, TurnFinished(reason))
		}
	}
	return events, nil
}

func normalizeOpenAIReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonNull:
		return ""
	default:
		return string(r)
	}
}
