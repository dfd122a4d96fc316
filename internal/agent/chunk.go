package agent

import "github.com/haasonsaas/agentbridge/pkg/models"

// ChunkKind identifies the variant of a Chunk.
type ChunkKind string

const (
	ChunkText       ChunkKind = "text"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_call_result"
	ChunkError      ChunkKind = "error"
)

// Chunk is one unit of turn output delivered to the caller of Continue.
type Chunk struct {
	Kind ChunkKind

	// Text is set for ChunkText.
	Text string

	// ToolCall is set for ChunkToolCall and ChunkToolResult.
	ToolCall *models.ToolCall

	// Result is the tool output for ChunkToolResult.
	Result string

	// Err is set for ChunkError.
	Err error
}

func textChunk(text string) Chunk {
	return Chunk{Kind: ChunkText, Text: text}
}

func toolCallChunk(call models.ToolCall) Chunk {
	return Chunk{Kind: ChunkToolCall, ToolCall: &call}
}

func toolResultChunk(call models.ToolCall, result string) Chunk {
	return Chunk{Kind: ChunkToolResult, ToolCall: &call, Result: result}
}

func errorChunk(err error) Chunk {
	return Chunk{Kind: ChunkError, Err: err}
}
