package bridge

import (
	"context"
	"strings"

	"github.com/haasonsaas/agentbridge/internal/agent"
)

// render drains a turn's chunks into the conversation. Text is buffered and
// sent once when the turn ends; tool activity and errors are sent as they
// arrive. A turn that produced neither text nor an error gets a fallback
// notice, unless it was stopped by command.
func (b *Bridge) render(ctx context.Context, conversationID, sessionID string, chunks <-chan agent.Chunk) {
	var text strings.Builder
	failed := false

	for chunk := range chunks {
		switch chunk.Kind {
		case agent.ChunkText:
			text.WriteString(chunk.Text)
		case agent.ChunkToolCall:
			b.send(ctx, conversationID, "Tool call requested: "+toolName(chunk))
		case agent.ChunkToolResult:
			b.send(ctx, conversationID, "Tool "+toolName(chunk)+" finished.")
		case agent.ChunkError:
			b.send(ctx, conversationID, "Error: "+errorDetail(chunk))
			failed = true
		}
	}

	_, stopped := b.stopped.LoadAndDelete(sessionID)
	if ctx.Err() != nil {
		return
	}
	switch {
	case strings.TrimSpace(text.String()) != "":
		b.send(ctx, conversationID, text.String())
	case !failed && !stopped:
		b.send(ctx, conversationID, msgNoResponse)
	}
}

func toolName(chunk agent.Chunk) string {
	if chunk.ToolCall == nil {
		return ""
	}
	return chunk.ToolCall.Name
}

func errorDetail(chunk agent.Chunk) string {
	if chunk.Err == nil {
		return "unknown error"
	}
	return chunk.Err.Error()
}
