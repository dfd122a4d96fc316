// Package memory provides the add-memory and search-memory tools and the
// stores behind them.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Store persists memory entries.
type Store interface {
	Add(ctx context.Context, entry *models.MemoryEntry) error

	// Search returns the session's entries containing any keyword, oldest first.
	Search(ctx context.Context, sessionID string, keywords []string) ([]models.MemoryEntry, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]models.MemoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]models.MemoryEntry)}
}

// Add stores entry.
func (m *MemoryStore) Add(_ context.Context, entry *models.MemoryEntry) error {
	if entry == nil || entry.SessionID == "" {
		return errors.New("memory entry requires a session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.SessionID] = append(m.entries[entry.SessionID], *entry)
	return nil
}

// Search returns matching entries for sessionID.
func (m *MemoryStore) Search(_ context.Context, sessionID string, keywords []string) ([]models.MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MemoryEntry
	for _, entry := range m.entries[sessionID] {
		if matchesAny(entry.Content, keywords) {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func matchesAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

// SQLStore keeps entries in the memories table created by the session
// store migrations.
type SQLStore struct {
	db         *sql.DB
	positional bool
}

// NewSQLStore wraps db. driver selects the placeholder style ("sqlite" or
// "postgres").
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	switch driver {
	case "sqlite":
		return &SQLStore{db: db}, nil
	case "postgres":
		return &SQLStore{db: db, positional: true}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *SQLStore) placeholder(n int) string {
	if s.positional {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Add inserts entry.
func (s *SQLStore) Add(ctx context.Context, entry *models.MemoryEntry) error {
	if entry == nil || entry.SessionID == "" {
		return errors.New("memory entry requires a session id")
	}
	query := fmt.Sprintf("INSERT INTO memories (id, session_id, content, created_at) VALUES (%s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := s.db.ExecContext(ctx, query, entry.ID, entry.SessionID, entry.Content, entry.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// Search selects entries whose content contains any keyword.
func (s *SQLStore) Search(ctx context.Context, sessionID string, keywords []string) ([]models.MemoryEntry, error) {
	args := []any{sessionID}
	var conds []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		args = append(args, "%"+escapeLike(kw)+"%")
		conds = append(conds, fmt.Sprintf("content LIKE %s ESCAPE '\\'", s.placeholder(len(args))))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT id, session_id, content, created_at FROM memories WHERE session_id = %s AND (%s) ORDER BY created_at",
		s.placeholder(1), strings.Join(conds, " OR "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var entry models.MemoryEntry
		var created time.Time
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		entry.CreatedAt = created
		out = append(out, entry)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
