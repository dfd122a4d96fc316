package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader delivers its data in fixed-size pieces to exercise line
// buffering across arbitrary transport chunk boundaries.
type chunkedReader struct {
	data string
	size int
	err  error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collect(t *testing.T, dec *Decoder) []Event {
	t.Helper()
	var out []Event
	for dec.Next(context.Background()) {
		out = append(out, dec.Event())
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("decoder error: %v", err)
	}
	return out
}

func textOf(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == KindTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

const openAIHello = "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hi\"}}]}\n\n" +
	"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" there\"}}]}\n\n" +
	"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: [DONE]\n\n"

func TestDecoderBuffersAcrossChunkBoundaries(t *testing.T) {
	for _, size := range []int{1, 3, 7, 64, 4096} {
		dec := NewDecoder(&chunkedReader{data: openAIHello, size: size}, DialectOpenAI)
		events := collect(t, dec)
		if got := textOf(events); got != "Hi there" {
			t.Fatalf("chunk size %d: text = %q, want %q", size, got, "Hi there")
		}
		last := events[len(events)-1]
		if last.Kind != KindTurnFinished || last.Reason != FinishStop {
			t.Fatalf("chunk size %d: last event = %+v, want turn finished stop", size, last)
		}
	}
}

func TestDecoderSkipsMalformedLines(t *testing.T) {
	input := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {not json\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n"

	var skipped int
	dec := NewDecoder(strings.NewReader(input), DialectOpenAI, WithDecodeErrorHook(func(d Dialect, err error) {
		if d != DialectOpenAI {
			t.Errorf("hook dialect = %q", d)
		}
		skipped++
	}))
	events := collect(t, dec)
	if got := textOf(events); got != "ab" {
		t.Fatalf("text = %q, want ab", got)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"id: 4\n" +
		"\n" +
		"data:{\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\r\n" +
		"retry: 100\n"

	events := collect(t, NewDecoder(strings.NewReader(input), DialectOpenAI))
	if len(events) != 1 || events[0].Text != "x" {
		t.Fatalf("events = %+v, want single text delta x", events)
	}
}

func TestDecoderHandlesTrailingLineWithoutNewline(t *testing.T) {
	input := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"tail\"}}]}"
	events := collect(t, NewDecoder(strings.NewReader(input), DialectOpenAI))
	if got := textOf(events); got != "tail" {
		t.Fatalf("text = %q, want tail", got)
	}
}

func TestDecoderSkipsOverlongLines(t *testing.T) {
	long := "data: " + strings.Repeat("x", 256) + "\n"
	good := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n"
	var skipped int
	dec := NewDecoder(strings.NewReader(long+good), DialectOpenAI,
		WithMaxLineSize(128),
		WithDecodeErrorHook(func(Dialect, error) { skipped++ }),
	)
	events := collect(t, dec)
	if got := textOf(events); got != "ok" {
		t.Fatalf("text = %q, want ok", got)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
}

func TestDecoderReadFailureBecomesStreamError(t *testing.T) {
	r := &chunkedReader{
		data: "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"}}]}\n",
		size: 16,
		err:  errors.New("connection reset"),
	}
	events := collect(t, NewDecoder(r, DialectOpenAI))
	if len(events) != 2 {
		t.Fatalf("events = %+v, want text then error", events)
	}
	if events[1].Kind != KindStreamError || !strings.Contains(events[1].Detail, "connection reset") {
		t.Fatalf("last event = %+v, want stream error", events[1])
	}
}

func TestDecoderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dec := NewDecoder(strings.NewReader(openAIHello), DialectOpenAI)
	if !dec.Next(ctx) {
		t.Fatal("expected first event")
	}
	cancel()
	for dec.Next(ctx) {
		// Events already decoded from the current line may drain.
	}
	if !errors.Is(dec.Err(), context.Canceled) {
		t.Fatalf("Err() = %v, want context.Canceled", dec.Err())
	}
}

func TestDecoderUnknownDialect(t *testing.T) {
	dec := NewDecoder(strings.NewReader(openAIHello), Dialect("gopher"))
	if dec.Next(context.Background()) {
		t.Fatal("expected no events for unknown dialect")
	}
	if dec.Err() == nil {
		t.Fatal("expected setup error")
	}
}

func TestOpenAIToolCallFragments(t *testing.T) {
	input := "data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_a\",\"type\":\"function\",\"function\":{\"name\":\"add-memory\",\"arguments\":\"\"}}]}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"content\\\":\"}}]}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":1,\"id\":\"call_b\",\"type\":\"function\",\"function\":{\"name\":\"read-file\",\"arguments\":\"{}\"}}]}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"x\\\"}\"}}]}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n"

	events := collect(t, NewDecoder(strings.NewReader(input), DialectOpenAI))
	args := map[string]string{}
	names := map[string]string{}
	for _, ev := range events {
		if ev.Kind != KindToolCallDelta {
			continue
		}
		args[ev.ToolCallID] += ev.ArgsFragment
		if ev.ToolName != "" {
			names[ev.ToolCallID] = ev.ToolName
		}
	}
	if args["call_a"] != `{"content":"x"}` || names["call_a"] != "add-memory" {
		t.Fatalf("call_a = %q %q", names["call_a"], args["call_a"])
	}
	if args["call_b"] != "{}" || names["call_b"] != "read-file" {
		t.Fatalf("call_b = %q %q", names["call_b"], args["call_b"])
	}
	last := events[len(events)-1]
	if last.Kind != KindTurnFinished || last.Reason != FinishToolCalls {
		t.Fatalf("last = %+v, want tool_calls finish", last)
	}
}

func TestOpenAIErrorPayload(t *testing.T) {
	input := "data: {\"error\":{\"message\":\"overloaded\",\"type\":\"server_error\"}}\n"
	events := collect(t, NewDecoder(strings.NewReader(input), DialectOpenAI))
	if len(events) != 1 || events[0].Kind != KindStreamError {
		t.Fatalf("events = %+v, want one stream error", events)
	}
	if events[0].Detail != "server_error: overloaded" {
		t.Fatalf("detail = %q", events[0].Detail)
	}
}

func TestAnthropicStream(t *testing.T) {
	input := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude\",\"usage\":{\"input_tokens\":3,\"output_tokens\":0}}}\n\n" +
		"event: content_block_start\n" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Saving\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"data: {\"type\":\"ping\"}\n\n" +
		"data: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"add-memory\",\"input\":{}}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"content\\\":\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"x\\\"}\"}}\n\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":1}\n\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\",\"stop_sequence\":null},\"usage\":{\"output_tokens\":9}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	events := collect(t, NewDecoder(&chunkedReader{data: input, size: 5}, DialectAnthropic))
	if got := textOf(events); got != "Saving" {
		t.Fatalf("text = %q, want Saving", got)
	}
	var args, name string
	for _, ev := range events {
		if ev.Kind == KindToolCallDelta {
			if ev.ToolCallID != "toolu_1" {
				t.Fatalf("tool call id = %q", ev.ToolCallID)
			}
			args += ev.ArgsFragment
			if ev.ToolName != "" {
				name = ev.ToolName
			}
		}
	}
	if name != "add-memory" || args != `{"content":"x"}` {
		t.Fatalf("tool call = %q %q", name, args)
	}
	var finishes int
	for _, ev := range events {
		if ev.Kind == KindTurnFinished {
			finishes++
			if ev.Reason != FinishToolCalls {
				t.Fatalf("finish reason = %q", ev.Reason)
			}
		}
	}
	if finishes != 1 {
		t.Fatalf("finishes = %d, want 1", finishes)
	}
}

func TestAnthropicErrorEvent(t *testing.T) {
	input := "event: error\n" +
		"data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"
	events := collect(t, NewDecoder(strings.NewReader(input), DialectAnthropic))
	if len(events) != 1 || events[0].Kind != KindStreamError {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Detail != "overloaded_error: Overloaded" {
		t.Fatalf("detail = %q", events[0].Detail)
	}
}

func TestAnthropicMissingTypeIsSkipped(t *testing.T) {
	input := "data: {\"foo\":1}\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"ok\"}}\n"
	var skipped int
	dec := NewDecoder(strings.NewReader(input), DialectAnthropic, WithDecodeErrorHook(func(Dialect, error) { skipped++ }))
	events := collect(t, dec)
	if textOf(events) != "ok" || skipped != 1 {
		t.Fatalf("events = %+v skipped = %d", events, skipped)
	}
}
