package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Tool names.
const (
	AddToolName    = "add-memory"
	SearchToolName = "search-memory"
)

var errNoSession = errors.New("no session in context")

// AddArgs are the add-memory arguments.
type AddArgs struct {
	Content string `json:"content" jsonschema:"description=The fact to remember"`
}

// SearchArgs are the search-memory arguments.
type SearchArgs struct {
	Keywords []string `json:"keywords" jsonschema:"description=Entries containing any of these keywords are returned"`
}

// Config configures the memory tools.
type Config struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

// Tools returns the add-memory and search-memory descriptors. Both operate
// on the session carried by the invocation context.
func Tools(cfg Config) ([]agent.ToolDescriptor, error) {
	if cfg.Store == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	add, err := agent.DefineTool(AddToolName, "Remember a fact for later in this conversation.", "",
		func(ctx context.Context, args AddArgs) (string, error) {
			sessionID := agent.SessionIDFromContext(ctx)
			if sessionID == "" {
				return "", errNoSession
			}
			if strings.TrimSpace(args.Content) == "" {
				return "", errors.New("content is required")
			}
			entry := &models.MemoryEntry{
				ID:        cfg.NewID(),
				SessionID: sessionID,
				Content:   args.Content,
				CreatedAt: cfg.Now(),
			}
			if err := cfg.Store.Add(ctx, entry); err != nil {
				return "", err
			}
			return "Done", nil
		})
	if err != nil {
		return nil, err
	}

	search, err := agent.DefineTool(SearchToolName, "Search remembered facts by keyword.", "",
		func(ctx context.Context, args SearchArgs) (string, error) {
			sessionID := agent.SessionIDFromContext(ctx)
			if sessionID == "" {
				return "", errNoSession
			}
			entries, err := cfg.Store.Search(ctx, sessionID, args.Keywords)
			if err != nil {
				return "", err
			}
			lines := make([]string, len(entries))
			for i, e := range entries {
				lines[i] = e.String()
			}
			return strings.Join(lines, "\n\n"), nil
		})
	if err != nil {
		return nil, err
	}

	return []agent.ToolDescriptor{add, search}, nil
}
