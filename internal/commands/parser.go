package commands

import (
	"regexp"
	"strings"
)

// DefaultPrefixes are the default command prefixes.
var DefaultPrefixes = []string{"/", "!"}

// Parser detects commands at the start of message text. Text-only channels
// (console, Slack messages) use it to turn "/new" into a command event.
type Parser struct {
	prefixes  []string
	controlRe *regexp.Regexp
}

// NewParser creates a new command parser.
func NewParser(prefixes ...string) *Parser {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}

	escapedPrefixes := make([]string, len(prefixes))
	for i, p := range prefixes {
		escapedPrefixes[i] = regexp.QuoteMeta(p)
	}
	prefixPattern := strings.Join(escapedPrefixes, "|")

	return &Parser{
		prefixes: prefixes,
		// "/name", "/name args", or "/name@botname args".
		controlRe: regexp.MustCompile(`^(` + prefixPattern + `)([a-zA-Z][a-zA-Z0-9_-]*)(?:@[A-Za-z0-9_]+)?(?:\s+((?s:.*)))?$`),
	}
}

// ParseCommand parses a command invocation from text.
// Returns nil if the text is not a command.
func (p *Parser) ParseCommand(text string) *ParsedCommand {
	text = strings.TrimSpace(text)
	if !p.IsCommand(text) {
		return nil
	}

	match := p.controlRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	return &ParsedCommand{
		Name:   strings.ToLower(match[2]),
		Args:   strings.TrimSpace(match[3]),
		Prefix: match[1],
	}
}

// IsCommand checks if text starts with a command prefix followed by a letter.
func (p *Parser) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(text, prefix) && len(text) > len(prefix) {
			next := text[len(prefix)]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') {
				return true
			}
		}
	}
	return false
}

// SplitCommandArgs splits command text into name and args.
func SplitCommandArgs(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	parts := strings.SplitN(text, " ", 2)
	name = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}
