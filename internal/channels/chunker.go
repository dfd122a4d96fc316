package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Platform message size limits in bytes.
const (
	TelegramMaxMessageLength = 4096
	DiscordMaxMessageLength  = 2000
	SlackMaxMessageLength    = 40000
)

// MessageChunker splits long replies into pieces a platform accepts.
// Breaks prefer paragraphs, then lines, then sentence ends, then spaces.
// A fenced code block that has to be split is closed at the end of one
// piece and reopened at the start of the next.
type MessageChunker struct {
	MaxSize int
}

// NewMessageChunker creates a chunker; maxSize <= 0 selects the Discord limit.
func NewMessageChunker(maxSize int) *MessageChunker {
	if maxSize <= 0 {
		maxSize = DiscordMaxMessageLength
	}
	return &MessageChunker{MaxSize: maxSize}
}

// Chunk splits text. It returns nil for empty text.
func (c *MessageChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > c.MaxSize {
		limit := c.MaxSize
		if window := remaining[:limit]; limit > 8 && (strings.Contains(window, "```") || strings.Contains(window, "~~~")) {
			// Leave room for a closing fence.
			limit -= 4
		}
		cut := breakPoint(remaining, limit)
		piece := strings.TrimRightFunc(remaining[:cut], unicode.IsSpace)
		rest := strings.TrimLeftFunc(remaining[cut:], unicode.IsSpace)

		if fence, open := openFence(piece); open && rest != "" {
			piece += "\n" + fence
			rest = fence + "\n" + rest
		}
		if len(rest) >= len(remaining) {
			// No progress; fall back to a hard split.
			cut = runeBoundary(remaining, c.MaxSize)
			piece, rest = remaining[:cut], remaining[cut:]
		}
		if piece != "" {
			chunks = append(chunks, piece)
		}
		remaining = rest
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// SplitMessage splits text for a platform with the given limit.
func SplitMessage(text string, maxLength int) []string {
	return NewMessageChunker(maxLength).Chunk(text)
}

func breakPoint(text string, limit int) int {
	if limit <= 0 {
		limit = 1
	}
	if len(text) <= limit {
		return len(text)
	}
	window := text[:runeBoundary(text, limit)]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > best {
			best = idx
		}
	}
	if best > 0 {
		return best + 1
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return len(window)
}

// runeBoundary returns the largest index <= limit that does not split a rune.
func runeBoundary(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return limit
}

// openFence reports whether text ends inside a fenced code block, and the
// opening fence line's marker.
func openFence(text string) (string, bool) {
	var fence string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if fence == "" {
			if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
				fence = trimmed[:3]
			}
			continue
		}
		if strings.HasPrefix(trimmed, fence) {
			fence = ""
		}
	}
	return fence, fence != ""
}
