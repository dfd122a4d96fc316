package stream

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// anthropicParser decodes Messages API stream events. Content blocks arrive
// one at a time, so input_json_delta fragments belong to the most recently
// opened tool_use block.
type anthropicParser struct {
	currentTool string
	finished    bool
}

func newAnthropicParser() *anthropicParser {
	return &anthropicParser{}
}

type anthropicEnvelope struct {
	Type  string `json:"type"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicParser) parse(payload []byte) ([]Event, error) {
	var envelope anthropicEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode anthropic event: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("decode anthropic event: missing type")
	}
	if envelope.Type == "error" {
		detail := "anthropic stream error"
		if envelope.Error != nil {
			detail = envelope.Error.Type + ": " + envelope.Error.Message
		}
		return []Event{StreamError(detail)}, nil
	}

	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode anthropic event: %w", err)
	}

	switch event.Type {
	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		if block.Type != "tool_use" {
			p.currentTool = ""
			return nil, nil
		}
		toolUse := block.AsToolUse()
		p.currentTool = toolUse.ID
		return []Event{ToolCallDelta(toolUse.ID, toolUse.Name, "")}, nil

	case "content_block_delta":
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text == "" {
				return nil, nil
			}
			return []Event{TextDelta(delta.Text)}, nil
		case "input_json_delta":
			if p.currentTool == "" || delta.PartialJSON == "" {
				return nil, nil
			}
			return []Event{ToolCallDelta(p.currentTool, "", delta.PartialJSON)}, nil
		}

	case "content_block_stop":
		p.currentTool = ""

	case "message_delta":
		reason := string(event.AsMessageDelta().Delta.StopReason)
		if reason == "" {
			return nil, nil
		}
		p.finished = true
		return []Event{TurnFinished(normalizeAnthropicReason(reason))}, nil

	case "message_stop":
		if !p.finished {
			p.finished = true
			return []Event{TurnFinished(FinishStop)}, nil
		}
	}
	return nil, nil
}

func normalizeAnthropicReason(reason string) string {
	switch reason {
	case "tool_use":
		return FinishToolCalls
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return reason
	}
}
