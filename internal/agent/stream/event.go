// Package stream normalizes provider streaming responses into one canonical
// event sequence.
//
// Providers deliver server-sent events: newline-delimited lines where the
// interesting ones carry a "data: " prefix followed by a JSON payload. A
// Decoder frames those lines out of an arbitrary byte stream and hands each
// payload to the dialect parser for the provider that produced it.
package stream

import "fmt"

// Kind identifies the variant of an Event.
type Kind int

const (
	// KindTextDelta carries a fragment of assistant text.
	KindTextDelta Kind = iota + 1
	// KindToolCallDelta carries a fragment of a tool call request.
	KindToolCallDelta
	// KindTurnFinished signals the model finished its turn.
	KindTurnFinished
	// KindStreamError signals the provider reported an error mid-stream.
	KindStreamError
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindToolCallDelta:
		return "tool_call_delta"
	case KindTurnFinished:
		return "turn_finished"
	case KindStreamError:
		return "stream_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Finish reasons shared by all dialects.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Event is one normalized unit of provider output. Only the fields belonging
// to Kind are meaningful.
type Event struct {
	Kind Kind

	// TextDelta
	Text string

	// ToolCallDelta. Name is usually set only on the first fragment of a call.
	ToolCallID   string
	ToolName     string
	ArgsFragment string

	// TurnFinished
	Reason string

	// StreamError
	Detail string
}

// TextDelta builds a text fragment event.
func TextDelta(text string) Event {
	return Event{Kind: KindTextDelta, Text: text}
}

// ToolCallDelta builds a tool call fragment event.
func ToolCallDelta(id, name, args string) Event {
	return Event{Kind: KindToolCallDelta, ToolCallID: id, ToolName: name, ArgsFragment: args}
}

// TurnFinished builds a completion event.
func TurnFinished(reason string) Event {
	return Event{Kind: KindTurnFinished, Reason: reason}
}

// StreamError builds an error event.
func StreamError(detail string) Event {
	return Event{Kind: KindStreamError, Detail: detail}
}
